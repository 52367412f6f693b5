package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/agent-orchestrator/internal/core/cognition"
	"github.com/kirillkom/agent-orchestrator/internal/core/usecase"
)

// Policy holds the domain tunables read from POLICY_FILE. Fields left out of
// the file keep their defaults.
type Policy struct {
	Loop  LoopPolicy  `yaml:"loop"`
	Tools ToolsPolicy `yaml:"tools"`
}

type LoopPolicy struct {
	Window               int            `yaml:"window"`
	FingerprintThreshold int            `yaml:"fingerprint_threshold"`
	NameThreshold        int            `yaml:"name_threshold"`
	NameThresholds       map[string]int `yaml:"name_thresholds"`
	StallSteps           int            `yaml:"stall_steps"`
	FailureSpiral        int            `yaml:"failure_spiral"`
	Overthinking         int            `yaml:"overthinking"`
	NoReportSteps        int            `yaml:"no_report_steps"`
	ForceBreakAnalyses   int            `yaml:"force_break_analyses"`
	EscalateBelow        float64        `yaml:"escalate_below"`
}

type ToolsPolicy struct {
	ParallelSafe     []string            `yaml:"parallel_safe"`
	Dependent        []string            `yaml:"dependent"`
	Core             []string            `yaml:"core"`
	DomainGroups     map[string][]string `yaml:"domain_groups"`
	Phases           map[string]string   `yaml:"phases"`
	Delivery         []string            `yaml:"delivery"`
	Verification     []string            `yaml:"verification"`
	Report           []string            `yaml:"report"`
	Search           []string            `yaml:"search"`
	ReasoningTool    string              `yaml:"reasoning_tool"`
	CommandTool      string              `yaml:"command_tool"`
	CompilationTool  string              `yaml:"compilation_tool"`
	DelegationPrefix string              `yaml:"delegation_prefix"`
}

// LoadPolicy reads the YAML policy at path. An empty path or a missing file
// yields the zero Policy, which maps to the built-in defaults.
func LoadPolicy(path string) (Policy, error) {
	var p Policy
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return p, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) validate() error {
	l := p.Loop
	for name, v := range map[string]int{
		"window":                l.Window,
		"fingerprint_threshold": l.FingerprintThreshold,
		"name_threshold":        l.NameThreshold,
		"stall_steps":           l.StallSteps,
	} {
		if v < 0 {
			return fmt.Errorf("loop.%s must not be negative", name)
		}
	}
	for tool, v := range l.NameThresholds {
		if v <= 0 {
			return fmt.Errorf("loop.name_thresholds.%s must be positive", tool)
		}
	}
	if l.EscalateBelow < 0 || l.EscalateBelow > 100 {
		return fmt.Errorf("loop.escalate_below must be within 0..100")
	}
	for tool, phase := range p.Tools.Phases {
		switch phase {
		case cognition.PhaseResearch, cognition.PhaseAction, cognition.PhaseCompilation, cognition.PhaseDelivery:
		default:
			return fmt.Errorf("tools.phases.%s: unknown phase %q", tool, phase)
		}
	}
	return nil
}

// Cognition overlays the file onto the default monitor policy. Maps are
// merged key by key.
func (p Policy) Cognition() cognition.Policy {
	out := cognition.DefaultPolicy()
	l := p.Loop
	overrideInt(&out.Window, l.Window)
	overrideInt(&out.FingerprintThreshold, l.FingerprintThreshold)
	overrideInt(&out.NameThreshold, l.NameThreshold)
	overrideInt(&out.StallSteps, l.StallSteps)
	overrideInt(&out.FailureSpiral, l.FailureSpiral)
	overrideInt(&out.Overthinking, l.Overthinking)
	overrideInt(&out.NoReportSteps, l.NoReportSteps)
	overrideInt(&out.ForceBreakAnalyses, l.ForceBreakAnalyses)
	if l.EscalateBelow > 0 {
		out.EscalateBelow = l.EscalateBelow
	}
	out.NameThresholds = mergeMap(out.NameThresholds, l.NameThresholds)

	t := p.Tools
	out.Phases = mergeMap(out.Phases, t.Phases)
	overrideSlice(&out.VerificationTools, t.Verification)
	overrideSlice(&out.ReportTools, t.Report)
	overrideString(&out.ReasoningTool, t.ReasoningTool)
	overrideString(&out.CommandTool, t.CommandTool)
	overrideString(&out.DelegationPrefix, t.DelegationPrefix)
	if len(t.Delivery) > 0 {
		out.DeliveryTool = t.Delivery[0]
	}
	if t.ReasoningTool != "" {
		out.ExcludedTools = []string{t.ReasoningTool}
	}
	return out
}

// ToolPolicy overlays the file onto the default tool-selection policy.
func (p Policy) ToolPolicy() usecase.ToolPolicy {
	out := usecase.DefaultToolPolicy()
	t := p.Tools
	overrideSlice(&out.CoreTools, t.Core)
	overrideSlice(&out.DependentTools, t.Dependent)
	overrideSlice(&out.DeliveryTools, t.Delivery)
	overrideSlice(&out.SearchTools, t.Search)
	out.DomainGroups = mergeMap(out.DomainGroups, t.DomainGroups)
	overrideString(&out.ThinkTool, t.ReasoningTool)
	overrideString(&out.CompilationTool, t.CompilationTool)
	overrideString(&out.DelegationPrefix, t.DelegationPrefix)
	if len(t.Verification) > 0 {
		out.VerificationTool = t.Verification[0]
	}
	return out
}

// ParallelSafeTools lists tools the file declares safe to run concurrently.
func (p Policy) ParallelSafeTools() []string {
	return append([]string(nil), p.Tools.ParallelSafe...)
}

func overrideInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func overrideString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func overrideSlice(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = append([]string(nil), v...)
	}
}

func mergeMap[V any](base, over map[string]V) map[string]V {
	out := make(map[string]V, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
