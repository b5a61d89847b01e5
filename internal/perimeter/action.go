package perimeter

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/decision"
	cordonotel "github.com/cordon-io/cordon/internal/otel"
	"github.com/cordon-io/cordon/internal/pdp"
	"github.com/cordon-io/cordon/internal/policy"
)

// ActionAuthorizer is perimeter 3. Every agent-proposed action passes
// through Authorize before execution; callers must not execute unless the
// returned decision allows.
type ActionAuthorizer struct {
	engine  *policy.Engine
	checker Checker
}

// NewActionAuthorizer wires the authorizer's local engine and remote checker.
func NewActionAuthorizer(engine *policy.Engine, checker Checker) *ActionAuthorizer {
	return &ActionAuthorizer{engine: engine, checker: checker}
}

// Authorize decides one proposed action. Ownership and value bounds are
// checked locally before the remote tier check.
func (a *ActionAuthorizer) Authorize(ctx context.Context, id advice.Identity, action advice.ProposedAction) *decision.Decision {
	ctx, span := tracer.Start(ctx, "perimeter.action_authorization", trace.WithAttributes(
		attribute.String("action.kind", string(action.Kind)),
		attribute.Float64("action.value_eur", action.ValueEUR),
	))
	defer span.End()

	d := a.authorize(ctx, id, action)
	span.SetAttributes(attribute.Bool("decision.allow", d.Allow))
	cordonotel.RecordDecision(ctx, "action_authorization", d.Allow, d.Reason)
	return d
}

func (a *ActionAuthorizer) authorize(ctx context.Context, id advice.Identity, action advice.ProposedAction) *decision.Decision {
	resourceType := action.Kind.ResourceType()
	if resourceType == "" {
		return decision.DeniedDetail(decision.SourceLocal, decision.ReasonUnknownActionKind, string(action.Kind))
	}

	if resourceType == "portfolio" && !id.OwnsPortfolio(action.TargetID) {
		return decision.DeniedDetail(decision.SourceLocal, decision.ReasonResourceNotOwned, action.TargetID)
	}

	if action.Kind == advice.ActionPortfolioUpdate {
		local, err := a.engine.EvaluateActionValue(ctx, id.Tier, action.ValueEUR)
		if err != nil {
			log.Error().Err(err).Msg("action_value_evaluation_failed")
			return decision.Denied(decision.SourceLocal, decision.ReasonPolicyUnavailable)
		}
		if !local.Allow {
			return local
		}
	}

	attrs, err := decision.NewActionAttributes(id, action)
	if err != nil {
		log.Warn().Err(err).Msg("action_attributes_invalid")
		return decision.Denied(decision.SourceLocal, decision.ReasonUnknownActionKind)
	}

	remote := a.checker.Evaluate(ctx, pdp.CheckRequest{
		UserKey:        id.ID,
		UserAttributes: userAttributes(id),
		Action:         actionName(action.Kind),
		Resource:       pdp.Resource{Type: resourceType, Key: action.TargetID, Attributes: attrs},
	})
	if !remote.Allow && remote.Reason == decision.ReasonNotPermitted {
		// The decision point denied on subject attributes; surface the
		// tier-specific code callers can act on.
		return decision.Denied(decision.SourceRemote, decision.ReasonInsufficientTier)
	}
	return remote
}

func actionName(kind advice.ActionKind) string {
	switch kind {
	case advice.ActionPortfolioUpdate:
		return actionUpdatePortfolio
	case advice.ActionPortfolioAnalysis:
		return actionAnalyzePortfolio
	default:
		return actionReadMarketData
	}
}
