package usecase

import (
	"sort"
	"strings"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

// ToolPolicy names the tool families the loop treats specially. Tool names
// are whatever the registered executor exposes; zero values fall back to
// DefaultToolPolicy.
type ToolPolicy struct {
	CoreTools    []string
	DomainGroups map[string][]string
	// DependentTools always force sequential dispatch.
	DependentTools   []string
	VerificationTool string
	ThinkTool        string
	CompilationTool  string
	DeliveryTools    []string
	DelegationPrefix string
	// SearchTools produce bulky output that compaction keeps last.
	SearchTools []string
}

func DefaultToolPolicy() ToolPolicy {
	return ToolPolicy{
		CoreTools: []string{
			"think", "send_message", "wait_for_reply", "recall_memory",
			"save_memory", "scan_environment", "checkpoint",
		},
		DomainGroups: map[string][]string{
			"dev":      {"run_command", "run_quick_command", "write_file", "quick_read_file", "verify_result"},
			"browser":  {"web_search", "browse_url", "browse_page"},
			"research": {"web_search", "browse_url", "browse_page", "quick_read_file", "generate_report"},
			"files":    {"write_file", "quick_read_file", "verify_result", "run_quick_command"},
			"system":   {"run_command", "run_quick_command", "scan_environment"},
			"email":    {"send_email", "send_message", "wait_for_reply"},
			"flights":  {"web_search", "browse_url", "generate_report"},
			"finance":  {"web_search", "quick_read_file", "generate_report"},
			"report":   {"generate_report", "write_file", "quick_read_file"},
		},
		DependentTools:   []string{"verify_result", "send_message", "send_file", "wait_for_reply", "checkpoint"},
		VerificationTool: "verify_result",
		ThinkTool:        "think",
		CompilationTool:  "generate_report",
		DeliveryTools:    []string{"send_message", "send_file"},
		DelegationPrefix: "deploy_",
		SearchTools:      []string{"web_search", "recall_memory", "scan_environment"},
	}
}

func (p ToolPolicy) normalize() ToolPolicy {
	def := DefaultToolPolicy()
	if len(p.CoreTools) == 0 {
		p.CoreTools = def.CoreTools
	}
	if len(p.DomainGroups) == 0 {
		p.DomainGroups = def.DomainGroups
	}
	if len(p.DependentTools) == 0 {
		p.DependentTools = def.DependentTools
	}
	if p.VerificationTool == "" {
		p.VerificationTool = def.VerificationTool
	}
	if p.ThinkTool == "" {
		p.ThinkTool = def.ThinkTool
	}
	if p.CompilationTool == "" {
		p.CompilationTool = def.CompilationTool
	}
	if len(p.DeliveryTools) == 0 {
		p.DeliveryTools = def.DeliveryTools
	}
	if p.DelegationPrefix == "" {
		p.DelegationPrefix = def.DelegationPrefix
	}
	if len(p.SearchTools) == 0 {
		p.SearchTools = def.SearchTools
	}
	return p
}

func (p ToolPolicy) isDelegation(name string) bool {
	return strings.HasPrefix(name, p.DelegationPrefix)
}

func (p ToolPolicy) isDelivery(name string) bool {
	return containsString(p.DeliveryTools, name)
}

func (p ToolPolicy) isDependent(name string) bool {
	return containsString(p.DependentTools, name)
}

// SelectTools prunes specs by intent. Conversational intents get the core
// set. Actionable intents get core plus the groups matching their domains
// and the verification tool, unless that leaves fewer than minTools.
// Everything else gets the full set.
func (p ToolPolicy) SelectTools(in domain.Intent, specs []domain.ToolSpec, minTools int) []domain.ToolSpec {
	if in.IsConversational() {
		return filterSpecs(specs, toSet(p.CoreTools))
	}
	if !in.IsActionable() {
		return specs
	}

	needed := toSet(p.CoreTools)
	grouped := false
	for _, hint := range in.Domains {
		hint = strings.ToLower(hint)
		for _, name := range sortedKeys(p.DomainGroups) {
			if strings.Contains(hint, name) || strings.Contains(name, hint) {
				for _, tool := range p.DomainGroups[name] {
					needed[tool] = struct{}{}
				}
				grouped = true
			}
		}
	}
	if !grouped {
		return specs
	}
	needed[p.VerificationTool] = struct{}{}

	filtered := filterSpecs(specs, needed)
	if len(filtered) < minTools {
		return specs
	}
	return filtered
}

func filterSpecs(specs []domain.ToolSpec, names map[string]struct{}) []domain.ToolSpec {
	out := make([]domain.ToolSpec, 0, len(names))
	for _, spec := range specs {
		if _, ok := names[spec.Name]; ok {
			out = append(out, spec)
		}
	}
	return out
}

func toSet(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, s := range list {
		out[s] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
