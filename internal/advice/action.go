package advice

// ActionKind identifies what a proposed action does.
type ActionKind string

const (
	ActionPortfolioUpdate   ActionKind = "portfolio_update"
	ActionPortfolioAnalysis ActionKind = "portfolio_analysis"
	ActionMarketData        ActionKind = "market_data"
)

// ResourceType returns the policy resource this action kind is checked
// against: portfolio operations map to "portfolio", market data lookups to
// "external_api". Unknown kinds map to "" and are denied by the authorizer.
func (k ActionKind) ResourceType() string {
	switch k {
	case ActionPortfolioUpdate, ActionPortfolioAnalysis:
		return "portfolio"
	case ActionMarketData:
		return "external_api"
	default:
		return ""
	}
}

// ProposedAction is a side-effecting operation the agent wants to perform.
// Consumed exactly once by the action authorizer; executed only after an
// allow decision has been returned.
type ProposedAction struct {
	Kind     ActionKind `json:"kind"`
	TargetID string     `json:"target_id,omitempty"`
	ValueEUR float64    `json:"value_eur,omitempty"`
}
