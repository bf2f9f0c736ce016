package models

// Tier is a budget/model band used by the provider router. Elite is used
// for orchestration and architecture, specialist for implementation, and
// utility for classification and quick tasks.
type Tier string

const (
	TierElite      Tier = "elite"
	TierSpecialist Tier = "specialist"
	TierUtility    Tier = "utility"
)

// TierPolicy carries the budget/behavior attached to a Tier.
type TierPolicy struct {
	Model            string  `json:"model"`
	TokenBudget      int     `json:"token_budget"`
	Temperature      float64 `json:"temperature"`
	MaxIterations    int     `json:"max_iterations"`
}

// ProviderDescriptor is the registered shape of an LLM provider backend.
type ProviderDescriptor struct {
	ID          string                `json:"id"`
	DefaultModel string               `json:"default_model"`
	TierMap     map[Tier]TierPolicy   `json:"tier_map"`
	Configured  bool                  `json:"configured"`
	ToolCapable bool                  `json:"tool_capable"`
	ContextWindow int                 `json:"context_window"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
