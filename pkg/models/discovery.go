package models

// DiscoveryRequest is the input to the Smart Discovery Engine: a free-form
// request plus optional hints.
type DiscoveryRequest struct {
	RequestID           string                 `json:"request_id"`
	Text                string                 `json:"text"`
	PreferredTool       string                 `json:"preferred_tool,omitempty"`
	Context             map[string]interface{} `json:"context,omitempty"`
	ConfidenceThreshold float64                `json:"confidence_threshold,omitempty"`
}

// SelectedTool is the discovery engine's pick: a tool name, synthesised
// arguments, and a confidence score.
type SelectedTool struct {
	Name       string                 `json:"name"`
	Arguments  map[string]interface{} `json:"arguments"`
	Confidence float64                `json:"confidence"`
}

// DiscoveryResult is the discovery engine's full decision, including the
// strategy that produced it and the reasoning trail captured for audit.
type DiscoveryResult struct {
	Tool           *SelectedTool `json:"tool,omitempty"`
	Candidates     []ScoredTool  `json:"candidates,omitempty"` // top-3 on NoConfidentMatch
	ReasoningSteps []string      `json:"reasoning_steps,omitempty"`
	StrategyUsed   string        `json:"strategy_used"`
}

// ScoredTool pairs a tool name with a similarity/confidence score, used both
// by the Semantic Search Service's query results and by discovery's
// disambiguation candidate list.
type ScoredTool struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// ToolSelectionMode selects which Smart Discovery strategies run (§6).
type ToolSelectionMode string

const (
	ModeRuleOnly     ToolSelectionMode = "rule_only"
	ModeSemanticOnly ToolSelectionMode = "semantic_only"
	ModeLLMOnly      ToolSelectionMode = "llm_only"
	ModeHybrid       ToolSelectionMode = "hybrid"
)
