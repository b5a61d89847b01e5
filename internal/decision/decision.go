// Package decision defines the normalized result of a single authorization
// check plus the typed attribute payloads each resource kind sends to the
// policy authority. Decisions are immutable: every check constructs a new
// value, nothing patches an existing one.
package decision

import "time"

// Reason codes surfaced to callers. These are user-safe: they never carry
// internal policy rule detail or raw transport errors.
const (
	ReasonEmptyQuery          = "empty_query"
	ReasonQueryLengthExceeded = "query_length_exceeded"
	ReasonPolicyUnavailable   = "policy_unavailable"
	ReasonNotPermitted        = "not_permitted"
	ReasonInsufficientTier    = "insufficient_tier"
	ReasonValueLimitExceeded  = "value_limit_exceeded"
	ReasonResourceNotOwned    = "resource_not_owned"
	ReasonUnknownActionKind   = "unknown_action_kind"
	ReasonComplianceViolation = "compliance_violation"
)

// Source records which authority produced a decision.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Decision is the allow/deny result of one check.
type Decision struct {
	Allow     bool      `json:"allow"`
	Reason    string    `json:"reason,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Source    Source    `json:"source"`
	CheckedAt time.Time `json:"checked_at"`
}

// Allowed constructs an allow decision from the given source.
func Allowed(src Source) *Decision {
	return &Decision{Allow: true, Source: src, CheckedAt: time.Now().UTC()}
}

// Denied constructs a deny decision with a reason code.
func Denied(src Source, reason string) *Decision {
	return &Decision{Allow: false, Reason: reason, Source: src, CheckedAt: time.Now().UTC()}
}

// DeniedDetail constructs a deny decision with a reason code and detail text.
// Detail is logged and audited but never leaves the process boundary.
func DeniedDetail(src Source, reason, detail string) *Decision {
	d := Denied(src, reason)
	d.Detail = detail
	return d
}

// Unavailable constructs the fail-closed decision used when the policy
// authority cannot be consulted.
func Unavailable() *Decision {
	return Denied(SourceRemote, ReasonPolicyUnavailable)
}
