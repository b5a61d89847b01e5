package policy

import (
	"context"
	"embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/decision"
	cordonotel "github.com/cordon-io/cordon/internal/otel"
)

var tracer = cordonotel.Tracer("github.com/cordon-io/cordon/internal/policy")

//go:embed rego/*.rego
var embeddedPolicies embed.FS

// regoPolicy maps a Rego file to the OPA query used to extract its result.
type regoPolicy struct {
	file  string
	query string
}

var allPolicies = []regoPolicy{
	{file: "rego/query_limits.rego", query: "data.cordon.policy.query_limits.deny"},
	{file: "rego/action_limits.rego", query: "data.cordon.policy.action_limits.deny"},
	{file: "rego/response_compliance.rego", query: "data.cordon.policy.response_compliance.require_disclosure"},
}

// Engine evaluates the local checks using embedded OPA. Immutable after
// construction and safe for concurrent use across pipeline runs.
type Engine struct {
	thresholds *Thresholds
	prepared   map[string]rego.PreparedEvalQuery
}

// NewEngine creates a local policy engine with precompiled Rego policies.
// The thresholds are serialized and loaded as OPA data.
func NewEngine(ctx context.Context, th *Thresholds) (*Engine, error) {
	ctx, span := tracer.Start(ctx, "policy.engine.new")
	defer span.End()

	if err := th.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("validating thresholds: %w", err)
	}

	opaData := map[string]interface{}{"thresholds": th.data()}
	prepared := make(map[string]rego.PreparedEvalQuery, len(allPolicies))

	for _, rp := range allPolicies {
		content, err := embeddedPolicies.ReadFile(rp.file)
		if err != nil {
			return nil, fmt.Errorf("reading embedded policy %s: %w", rp.file, err)
		}

		store := inmem.NewFromObject(opaData)
		r := rego.New(
			rego.Query(rp.query),
			rego.Module(rp.file, string(content)),
			rego.Store(store),
		)

		pq, err := r.PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("preparing Rego policy %s: %w", rp.file, err)
		}
		prepared[rp.file] = pq
	}

	span.SetAttributes(attribute.Int("policy.prepared_count", len(prepared)))

	return &Engine{thresholds: th, prepared: prepared}, nil
}

// EvaluateQueryLength checks a query's length against the tier limit.
func (e *Engine) EvaluateQueryLength(ctx context.Context, tier advice.Tier, length int) (*decision.Decision, error) {
	ctx, span := tracer.Start(ctx, "policy.evaluate_query_length",
		trace.WithAttributes(
			attribute.String("identity.tier", string(tier)),
			attribute.Int("query.length", length),
		))
	defer span.End()

	input := map[string]interface{}{
		"tier":   string(tier),
		"length": length,
	}
	reasons, err := e.evaluateDenyReasons(ctx, "rego/query_limits.rego", input)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(reasons) > 0 {
		span.SetAttributes(attribute.Bool("policy.allowed", false))
		return decision.DeniedDetail(decision.SourceLocal, decision.ReasonQueryLengthExceeded, reasons[0]), nil
	}
	span.SetAttributes(attribute.Bool("policy.allowed", true))
	return decision.Allowed(decision.SourceLocal), nil
}

// EvaluateActionValue checks a monetary action value against the tier limit.
func (e *Engine) EvaluateActionValue(ctx context.Context, tier advice.Tier, valueEUR float64) (*decision.Decision, error) {
	ctx, span := tracer.Start(ctx, "policy.evaluate_action_value",
		trace.WithAttributes(
			attribute.String("identity.tier", string(tier)),
			attribute.Float64("action.value_eur", valueEUR),
		))
	defer span.End()

	input := map[string]interface{}{
		"tier":      string(tier),
		"value_eur": valueEUR,
	}
	reasons, err := e.evaluateDenyReasons(ctx, "rego/action_limits.rego", input)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(reasons) > 0 {
		span.SetAttributes(attribute.Bool("policy.allowed", false))
		return decision.DeniedDetail(decision.SourceLocal, decision.ReasonValueLimitExceeded, reasons[0]), nil
	}
	span.SetAttributes(attribute.Bool("policy.allowed", true))
	return decision.Allowed(decision.SourceLocal), nil
}

// RequiresDisclosure reports whether a response with the given advice flag
// and risk level must carry the mandated disclosure. Evaluation failures
// return true: when in doubt, disclose.
func (e *Engine) RequiresDisclosure(ctx context.Context, adviceDetected bool, risk advice.RiskLevel) (bool, error) {
	ctx, span := tracer.Start(ctx, "policy.requires_disclosure",
		trace.WithAttributes(
			attribute.Bool("response.advice_detected", adviceDetected),
			attribute.String("response.risk_level", string(risk)),
		))
	defer span.End()

	pq, ok := e.prepared["rego/response_compliance.rego"]
	if !ok {
		return true, fmt.Errorf("response compliance policy not prepared")
	}

	input := map[string]interface{}{
		"advice_detected": adviceDetected,
		"risk_level":      string(risk),
	}
	results, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		span.RecordError(err)
		return true, fmt.Errorf("evaluating response compliance: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return true, nil
	}
	required, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return true, nil
	}
	span.SetAttributes(attribute.Bool("policy.require_disclosure", required))
	return required, nil
}

// evaluateDenyReasons runs a prepared Rego policy that produces a set of
// deny reason strings. OPA returns the set as []interface{} or, occasionally,
// map[string]interface{}.
func (e *Engine) evaluateDenyReasons(ctx context.Context, pkg string, input map[string]interface{}) ([]string, error) {
	pq, ok := e.prepared[pkg]
	if !ok {
		return nil, fmt.Errorf("policy package %s not prepared", pkg)
	}

	results, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", pkg, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, msg := range v {
			if s, ok := msg.(string); ok {
				reasons = append(reasons, s)
			}
		}
	case map[string]interface{}:
		for _, msg := range v {
			if s, ok := msg.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	return reasons, nil
}
