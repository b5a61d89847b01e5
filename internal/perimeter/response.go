package perimeter

import (
	"context"
	"strings"

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

// Disclosure is the mandated text appended to any response that carries
// regulated advice.
const Disclosure = "IMPORTANT DISCLAIMER: This is AI-generated financial advice. " +
	"This information is for educational purposes only and should not be " +
	"considered as professional financial advice. Always consult with a " +
	"qualified financial advisor before making investment decisions."

// ResponseEnforcer is perimeter 4. It classifies the draft, injects the
// mandated disclosure and runs the final compliance check. A denied draft is
// discarded whole; no partial content reaches the caller.
type ResponseEnforcer struct {
	engine  *policy.Engine
	checker Checker
	scanner *classifier.Scanner
}

// NewResponseEnforcer wires the enforcer's local engine, remote checker and
// content classifier.
func NewResponseEnforcer(engine *policy.Engine, checker Checker, scanner *classifier.Scanner) *ResponseEnforcer {
	return &ResponseEnforcer{engine: engine, checker: checker, scanner: scanner}
}

// Enforce derives the caller-facing response from the draft, or denies. On
// deny the returned response is nil; the draft body is never surfaced.
func (e *ResponseEnforcer) Enforce(ctx context.Context, id advice.Identity, draft advice.DraftResponse) (*advice.FinalResponse, *decision.Decision) {
	ctx, span := tracer.Start(ctx, "perimeter.response_enforcement")
	defer span.End()

	final, d := e.enforce(ctx, id, draft)
	span.SetAttributes(attribute.Bool("decision.allow", d.Allow))
	cordonotel.RecordDecision(ctx, "response_enforcement", d.Allow, d.Reason)
	return final, d
}

func (e *ResponseEnforcer) enforce(ctx context.Context, id advice.Identity, draft advice.DraftResponse) (*advice.FinalResponse, *decision.Decision) {
	scan := e.scanner.ClassifyResponse(draft.Body)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Bool("response.advice_detected", scan.AdviceDetected),
		attribute.String("response.risk", string(scan.Risk)),
	)

	attrs, err := decision.NewResponseAttributes(id, scan.AdviceDetected, scan.Risk)
	if err != nil {
		log.Warn().Err(err).Msg("response_attributes_invalid")
		return nil, decision.Denied(decision.SourceLocal, decision.ReasonComplianceViolation)
	}

	remote := e.checker.Evaluate(ctx, pdp.CheckRequest{
		UserKey:        id.ID,
		UserAttributes: userAttributes(id),
		Action:         actionReceiveResponse,
		Resource:       pdp.Resource{Type: decision.ResourceResponse, Attributes: attrs},
	})
	if !remote.Allow {
		if remote.Reason == decision.ReasonNotPermitted {
			return nil, decision.Denied(decision.SourceRemote, decision.ReasonComplianceViolation)
		}
		return nil, remote
	}

	required, err := e.engine.RequiresDisclosure(ctx, scan.AdviceDetected, scan.Risk)
	if err != nil {
		log.Error().Err(err).Msg("disclosure_evaluation_failed")
		required = true
	}

	final := &advice.FinalResponse{
		Body:           draft.Body,
		AdviceDetected: scan.AdviceDetected,
		Risk:           scan.Risk,
	}
	if required {
		final.Disclosures = []string{Disclosure}
		if !strings.Contains(final.Body, Disclosure) {
			final.Body = final.Body + "\n\n" + Disclosure
		}
	}
	return final, remote
}
