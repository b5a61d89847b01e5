// Package policy evaluates the gateway's local checks (per-tier query
// length bounds, action value limits, disclosure requirements) using
// embedded OPA Rego. Remote checks against the external policy authority
// live in internal/pdp; this package never makes network calls.
package policy

import (
	"fmt"

	"github.com/cordon-io/cordon/internal/advice"
)

// Thresholds holds the per-tier limits evaluated by the local engine.
type Thresholds struct {
	QueryLimits       map[advice.Tier]int     `json:"query_limits"`
	ActionValueLimits map[advice.Tier]float64 `json:"action_value_limits"`
}

// Validate checks that the restricted tier is configured (it is the
// fail-safe fallback for unknown tiers, so it must exist) and that every
// configured limit is usable. A bad limit refuses startup rather than
// producing an engine that denies or allows everything.
func (t *Thresholds) Validate() error {
	if t == nil {
		return fmt.Errorf("thresholds are required")
	}
	if _, ok := t.QueryLimits[advice.TierRestricted]; !ok {
		return fmt.Errorf("query limit for restricted tier is required")
	}
	if _, ok := t.ActionValueLimits[advice.TierRestricted]; !ok {
		return fmt.Errorf("action value limit for restricted tier is required")
	}
	for tier, limit := range t.QueryLimits {
		if limit <= 0 {
			return fmt.Errorf("query limit for tier %s must be positive, got %d", tier, limit)
		}
	}
	for tier, limit := range t.ActionValueLimits {
		if limit < 0 {
			return fmt.Errorf("action value limit for tier %s must not be negative, got %.2f", tier, limit)
		}
	}
	return nil
}

// data converts thresholds into the OPA data document shape.
func (t *Thresholds) data() map[string]interface{} {
	queryLimits := make(map[string]interface{}, len(t.QueryLimits))
	for tier, limit := range t.QueryLimits {
		queryLimits[string(tier)] = limit
	}
	valueLimits := make(map[string]interface{}, len(t.ActionValueLimits))
	for tier, limit := range t.ActionValueLimits {
		valueLimits[string(tier)] = limit
	}
	return map[string]interface{}{
		"query_limits":        queryLimits,
		"action_value_limits": valueLimits,
	}
}
