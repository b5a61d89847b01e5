package advice

// RiskLevel grades how risky the content of a response is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DraftResponse is the agent's raw output. It is never returned to a caller
// directly; the response enforcer derives a FinalResponse from it or
// discards it entirely.
type DraftResponse struct {
	Body string `json:"body"`
}

// FinalResponse is the post-enforcement output. When AdviceDetected is true
// the body is guaranteed to carry every entry in Disclosures.
type FinalResponse struct {
	Body           string    `json:"body"`
	AdviceDetected bool      `json:"advice_detected"`
	Disclosures    []string  `json:"disclosures,omitempty"`
	Risk           RiskLevel `json:"risk"`
}
