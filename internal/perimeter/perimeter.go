// Package perimeter implements the four authorization checkpoints wrapped
// around agent invocation: query validation, knowledge filtering, action
// authorization, and response enforcement. Perimeters always return a
// Decision; underlying transport or evaluation failures convert to denies
// inside the perimeter and never escape as errors.
package perimeter

import (
	"context"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/decision"
	cordonotel "github.com/cordon-io/cordon/internal/otel"
	"github.com/cordon-io/cordon/internal/pdp"
)

var tracer = cordonotel.Tracer("github.com/cordon-io/cordon/internal/perimeter")

// Checker is the policy client surface the perimeters share. *pdp.Client
// satisfies it.
type Checker interface {
	Evaluate(ctx context.Context, req pdp.CheckRequest) *decision.Decision
}

// Policy actions sent to the decision point per resource.
const (
	actionReceiveQuery     = "receive"
	actionReadDocument     = "read"
	actionUpdatePortfolio  = "update"
	actionAnalyzePortfolio = "analyze"
	actionReadMarketData   = "read"
	actionReceiveResponse  = "receive"
)

// userAttributes is the identity attribute payload sent with every check.
func userAttributes(id advice.Identity) map[string]any {
	return map[string]any{
		"tier":                string(id.Tier),
		"ai_advice_opted_in":  id.OptIn,
		"certification_level": string(id.Certification),
	}
}
