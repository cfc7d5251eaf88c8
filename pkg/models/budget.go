package models

// BudgetPolicy caps estimated spend for a session. Agent may be "*" to
// match every agent; an empty Model matches every model.
type BudgetPolicy struct {
	Agent      string  `json:"agent" yaml:"agent"`
	Model      string  `json:"model,omitempty" yaml:"model,omitempty"`
	MaxCostUSD float64 `json:"max_cost_usd" yaml:"max_cost_usd"`
}

// BudgetStatus shows current spend against a policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	UsedUSD   float64      `json:"used_usd"`
	Remaining float64      `json:"remaining_usd"`
}
