// Package audit provides an HMAC-signed trail of pipeline runs.
//
// Every run that reaches at least the first perimeter produces a Record,
// whether it completed, was denied, or failed. Records carry one Step per
// perimeter that actually executed, are signed (HMAC-SHA256) and persisted
// in SQLite.
package audit

import (
	"time"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/decision"
)

// Outcome is the terminal state of an audited run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDenied    Outcome = "denied"
	OutcomeFailed    Outcome = "failed"
)

// Record is the full audit entry for a single pipeline run.
type Record struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	Timestamp   time.Time       `json:"timestamp"`
	UserID      string          `json:"user_id"`
	Tier        advice.Tier     `json:"tier"`
	Outcome     Outcome         `json:"outcome"`
	DeniedBy    decision.Family `json:"denied_by,omitempty"`
	DenyReason  string          `json:"deny_reason,omitempty"`
	Steps       []Step          `json:"steps"`
	QueryLength int             `json:"query_length"`
	DurationMS  int64           `json:"duration_ms"`
	Signature   string          `json:"signature,omitempty"`
}

// Step captures one perimeter's contribution to a run.
type Step struct {
	Perimeter string             `json:"perimeter"`
	Decision  *decision.Decision `json:"decision,omitempty"`
	Counts    map[string]int     `json:"counts,omitempty"`
	Note      string             `json:"note,omitempty"`
}

// Perimeter names used in audit steps.
const (
	StepQueryValidation  = "query_validation"
	StepKnowledgeFilter  = "knowledge_filter"
	StepAgentInvocation  = "agent_invocation"
	StepActionAuthorizer = "action_authorization"
	StepResponseEnforcer = "response_enforcement"
)
