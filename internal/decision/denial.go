package decision

// Family categorizes which perimeter produced a terminal denial.
type Family string

const (
	FamilyQuery     Family = "query_denied"
	FamilyKnowledge Family = "knowledge_denied"
	FamilyAction    Family = "action_denied"
	FamilyResponse  Family = "response_denied"
)

// Denial is the structured refusal returned to callers when a perimeter
// terminates a pipeline run. Knowledge filtering narrows results instead of
// denying, so FamilyKnowledge appears only in per-document audit entries,
// never as a run outcome.
type Denial struct {
	Family   Family    `json:"family"`
	Decision *Decision `json:"decision"`
}

// Message returns the caller-facing explanation for the denial. Transport
// failures collapse to a generic message so no internal detail leaks.
func (d *Denial) Message() string {
	if d.Decision != nil && d.Decision.Reason == ReasonPolicyUnavailable {
		return "access could not be verified"
	}
	return string(d.Family)
}
