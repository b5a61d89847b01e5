package perimeter

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/classifier"
	"github.com/cordon-io/cordon/internal/decision"
	cordonotel "github.com/cordon-io/cordon/internal/otel"
	"github.com/cordon-io/cordon/internal/pdp"
	"github.com/cordon-io/cordon/internal/policy"
)

// QueryValidator is perimeter 1. It gates whether the identity may submit
// the query at all: a local tier length bound, then a remote consent and
// certification check.
type QueryValidator struct {
	engine  *policy.Engine
	checker Checker
	scanner *classifier.Scanner
}

// NewQueryValidator wires the validator's local engine, remote checker and
// intent classifier.
func NewQueryValidator(engine *policy.Engine, checker Checker, scanner *classifier.Scanner) *QueryValidator {
	return &QueryValidator{engine: engine, checker: checker, scanner: scanner}
}

// Validate classifies and authorizes a query. The returned query carries the
// inferred classification used by downstream perimeters. Empty queries deny
// immediately without a remote call.
func (v *QueryValidator) Validate(ctx context.Context, id advice.Identity, q advice.Query) (advice.Query, *decision.Decision) {
	ctx, span := tracer.Start(ctx, "perimeter.query_validation", trace.WithAttributes(
		attribute.String("identity.tier", string(id.Tier)),
		attribute.Int("query.length", q.Length()),
	))
	defer span.End()

	d := v.validate(ctx, id, &q)
	span.SetAttributes(attribute.Bool("decision.allow", d.Allow))
	cordonotel.RecordDecision(ctx, "query_validation", d.Allow, d.Reason)
	return q, d
}

func (v *QueryValidator) validate(ctx context.Context, id advice.Identity, q *advice.Query) *decision.Decision {
	if q.Empty() {
		return decision.Denied(decision.SourceLocal, decision.ReasonEmptyQuery)
	}

	*q = q.WithClassification(v.scanner.ClassifyQuery(q.Text))

	local, err := v.engine.EvaluateQueryLength(ctx, id.Tier, q.Length())
	if err != nil {
		log.Error().Err(err).Msg("query_length_evaluation_failed")
		return decision.Denied(decision.SourceLocal, decision.ReasonPolicyUnavailable)
	}
	if !local.Allow {
		return local
	}

	attrs, err := decision.NewQueryAttributes(id, *q)
	if err != nil {
		log.Warn().Err(err).Msg("query_attributes_invalid")
		return decision.Denied(decision.SourceLocal, decision.ReasonNotPermitted)
	}

	return v.checker.Evaluate(ctx, pdp.CheckRequest{
		UserKey:        id.ID,
		UserAttributes: userAttributes(id),
		Action:         actionReceiveQuery,
		Resource:       pdp.Resource{Type: decision.ResourceQuery, Attributes: attrs},
	})
}
