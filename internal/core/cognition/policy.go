package cognition

const (
	PhaseStart       = "start"
	PhaseResearch    = "research"
	PhaseAction      = "action"
	PhaseCompilation = "compilation"
	PhaseDelivery    = "delivery"
)

// Policy holds the tunables of the monitor. Tool names are whatever the
// registered tool set uses; zero values fall back to DefaultPolicy.
type Policy struct {
	Window               int
	HistorySize          int
	FingerprintThreshold int
	NameThreshold        int
	// NameThresholds relaxes or tightens the name-only loop check per tool.
	NameThresholds map[string]int

	ReasoningTool     string
	ExcludedTools     []string
	VerificationTools []string
	ReportTools       []string
	// DeliveryTool loops force a break on the first detection.
	DeliveryTool     string
	CommandTool      string
	DelegationPrefix string
	// Phases maps tool names to the phase they indicate. Delegated tools
	// not listed here count as action.
	Phases map[string]string

	StallSteps          int
	FailureSpiral       int
	Overthinking        int
	NoReportSteps       int
	PhaseImbalanceSteps int
	LowDiversitySteps   int
	LowDiversityTools   int
	ForceBreakAnalyses  int
	ConfidenceHistory   int
	ConfidenceWindow    int
	TrendBand           float64
	EscalateBelow       float64
}

func DefaultPolicy() Policy {
	return Policy{
		Window:               10,
		HistorySize:          50,
		FingerprintThreshold: 3,
		NameThreshold:        4,
		NameThresholds: map[string]int{
			"scan_environment": 6,
			"web_search":       6,
			"recall_memory":    6,
			"quick_read_file":  8,
			"send_message":     4,
		},
		ReasoningTool:     "think",
		ExcludedTools:     []string{"think"},
		VerificationTools: []string{"verify_result"},
		ReportTools:       []string{"send_message", "send_file"},
		DeliveryTool:      "send_message",
		CommandTool:       "run_quick_command",
		DelegationPrefix:  "deploy_",
		Phases: map[string]string{
			"web_search":        PhaseResearch,
			"recall_memory":     PhaseResearch,
			"scan_environment":  PhaseResearch,
			"quick_read_file":   PhaseResearch,
			"run_quick_command": PhaseAction,
			"generate_report":   PhaseCompilation,
			"save_memory":       PhaseCompilation,
			"verify_result":     PhaseCompilation,
			"send_message":      PhaseDelivery,
			"send_file":         PhaseDelivery,
		},
		StallSteps:          10,
		FailureSpiral:       3,
		Overthinking:        5,
		NoReportSteps:       15,
		PhaseImbalanceSteps: 15,
		LowDiversitySteps:   8,
		LowDiversityTools:   2,
		ForceBreakAnalyses:  3,
		ConfidenceHistory:   20,
		ConfidenceWindow:    5,
		TrendBand:           10,
		EscalateBelow:       50,
	}
}

// normalize fills every zero field from DefaultPolicy.
func (p Policy) normalize() Policy {
	d := DefaultPolicy()
	setInt(&p.Window, d.Window)
	setInt(&p.HistorySize, d.HistorySize)
	setInt(&p.FingerprintThreshold, d.FingerprintThreshold)
	setInt(&p.NameThreshold, d.NameThreshold)
	setInt(&p.StallSteps, d.StallSteps)
	setInt(&p.FailureSpiral, d.FailureSpiral)
	setInt(&p.Overthinking, d.Overthinking)
	setInt(&p.NoReportSteps, d.NoReportSteps)
	setInt(&p.PhaseImbalanceSteps, d.PhaseImbalanceSteps)
	setInt(&p.LowDiversitySteps, d.LowDiversitySteps)
	setInt(&p.LowDiversityTools, d.LowDiversityTools)
	setInt(&p.ForceBreakAnalyses, d.ForceBreakAnalyses)
	setInt(&p.ConfidenceHistory, d.ConfidenceHistory)
	setInt(&p.ConfidenceWindow, d.ConfidenceWindow)
	if p.TrendBand <= 0 {
		p.TrendBand = d.TrendBand
	}
	if p.EscalateBelow <= 0 {
		p.EscalateBelow = d.EscalateBelow
	}
	if p.NameThresholds == nil {
		p.NameThresholds = d.NameThresholds
	}
	if p.ReasoningTool == "" {
		p.ReasoningTool = d.ReasoningTool
	}
	if p.ExcludedTools == nil {
		p.ExcludedTools = d.ExcludedTools
	}
	if p.VerificationTools == nil {
		p.VerificationTools = d.VerificationTools
	}
	if p.ReportTools == nil {
		p.ReportTools = d.ReportTools
	}
	if p.DeliveryTool == "" {
		p.DeliveryTool = d.DeliveryTool
	}
	if p.CommandTool == "" {
		p.CommandTool = d.CommandTool
	}
	if p.DelegationPrefix == "" {
		p.DelegationPrefix = d.DelegationPrefix
	}
	if p.Phases == nil {
		p.Phases = d.Phases
	}
	return p
}

func (p Policy) nameThreshold(tool string) int {
	if n, ok := p.NameThresholds[tool]; ok && n > 0 {
		return n
	}
	return p.NameThreshold
}

func setInt(v *int, fallback int) {
	if *v <= 0 {
		*v = fallback
	}
}

func in(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
