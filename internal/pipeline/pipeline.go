// Package pipeline sequences the four perimeters around one agent
// invocation. Data flows strictly forward: query validation, knowledge
// filtering, invocation, action authorization, response enforcement. A
// denial at any step is terminal for the run; no later perimeter executes.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/advisor"
	"github.com/cordon-io/cordon/internal/audit"
	"github.com/cordon-io/cordon/internal/decision"
	cordonotel "github.com/cordon-io/cordon/internal/otel"
	"github.com/cordon-io/cordon/internal/perimeter"
)

var tracer = cordonotel.Tracer("github.com/cordon-io/cordon/internal/pipeline")

// State tracks a run through the perimeter sequence.
type State string

const (
	StateIdle              State = "idle"
	StateQueryValidated    State = "query_validated"
	StateKnowledgeFiltered State = "knowledge_filtered"
	StateActionsAuthorized State = "actions_authorized"
	StateResponseEnforced  State = "response_enforced"
	StateDone              State = "done"
	StateDenied            State = "denied"
)

// KnowledgeLister supplies candidate documents for a validated query.
// *knowledge.Store satisfies it.
type KnowledgeLister interface {
	ListCandidates(ctx context.Context, class advice.Classification, limit int) ([]advice.DocumentRef, error)
}

// ActionExecutor carries out an authorized action. Implementations are only
// ever called after an allow decision for that exact action.
type ActionExecutor interface {
	Execute(ctx context.Context, id advice.Identity, action advice.ProposedAction) error
}

// Result is the caller-facing outcome of one run. Exactly one of Final and
// Denial is set.
type Result struct {
	RunID           string                  `json:"run_id"`
	State           State                   `json:"state"`
	Final           *advice.FinalResponse   `json:"final,omitempty"`
	Denial          *decision.Denial        `json:"denial,omitempty"`
	AuditID         string                  `json:"audit_id"`
	ExecutedActions []advice.ProposedAction `json:"executed_actions,omitempty"`
}

// Orchestrator owns one configured pipeline. Safe for concurrent runs: all
// per-run state lives on the stack.
type Orchestrator struct {
	validator  *perimeter.QueryValidator
	filter     *perimeter.KnowledgeFilter
	authorizer *perimeter.ActionAuthorizer
	enforcer   *perimeter.ResponseEnforcer
	capability advisor.Capability
	knowledge  KnowledgeLister
	executor   ActionExecutor
	auditor    *audit.Store

	candidateLimit int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExecutor attaches an action executor. Without one, authorized actions
// are reported but not carried out.
func WithExecutor(ex ActionExecutor) Option {
	return func(o *Orchestrator) { o.executor = ex }
}

// WithCandidateLimit bounds how many documents are offered per run.
func WithCandidateLimit(n int) Option {
	return func(o *Orchestrator) { o.candidateLimit = n }
}

// New assembles an orchestrator from its perimeters and collaborators.
func New(
	validator *perimeter.QueryValidator,
	filter *perimeter.KnowledgeFilter,
	authorizer *perimeter.ActionAuthorizer,
	enforcer *perimeter.ResponseEnforcer,
	capability advisor.Capability,
	knowledge KnowledgeLister,
	auditor *audit.Store,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		validator:      validator,
		filter:         filter,
		authorizer:     authorizer,
		enforcer:       enforcer,
		capability:     capability,
		knowledge:      knowledge,
		auditor:        auditor,
		candidateLimit: 20,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one pipeline pass for the identity and query text. Denials
// come back in the Result, not as errors; the error return is reserved for
// faults of the run itself (agent failure, audit write failure).
func (o *Orchestrator) Run(ctx context.Context, id advice.Identity, queryText string) (*Result, error) {
	runID := "run_" + uuid.New().String()[:12]
	started := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("identity.tier", string(id.Tier)),
	))
	defer span.End()

	log.Info().Str("run_id", runID).Str("user_id", id.ID).Msg("pipeline_run_started")

	rec := &audit.Record{
		ID:        "aud_" + uuid.New().String()[:12],
		RunID:     runID,
		Timestamp: started.UTC(),
		UserID:    id.ID,
		Tier:      id.Tier,
	}
	result := &Result{RunID: runID, State: StateIdle, AuditID: rec.ID}

	defer func() {
		rec.DurationMS = time.Since(started).Milliseconds()
		// The audit write must survive a cancelled run context.
		actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.auditor.Append(actx, rec); err != nil {
			log.Error().Err(err).Str("run_id", runID).Msg("audit_append_failed")
		}
		span.SetAttributes(attribute.String("run.state", string(result.State)))
	}()

	// Perimeter 1: query validation.
	query, d := o.validator.Validate(ctx, id, advice.Query{Text: queryText})
	rec.QueryLength = query.Length()
	rec.Steps = append(rec.Steps, audit.Step{Perimeter: audit.StepQueryValidation, Decision: d})
	if !d.Allow {
		return o.deny(rec, result, decision.FamilyQuery, d), nil
	}
	result.State = StateQueryValidated

	// Perimeter 2: knowledge filtering. A listing failure narrows to no
	// documents; it does not halt the run.
	var accessible []advice.DocumentRef
	candidates, err := o.knowledge.ListCandidates(ctx, query.Classification, o.candidateLimit)
	if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("knowledge_listing_failed")
		rec.Steps = append(rec.Steps, audit.Step{Perimeter: audit.StepKnowledgeFilter, Note: "listing failed, proceeding without knowledge"})
	} else {
		filtered := o.filter.Filter(ctx, id, candidates)
		accessible = filtered.Allowed
		rec.Steps = append(rec.Steps, audit.Step{
			Perimeter: audit.StepKnowledgeFilter,
			Counts:    map[string]int{"candidates": len(candidates), "allowed": len(accessible)},
		})
	}
	result.State = StateKnowledgeFiltered

	// Agent invocation with the filtered knowledge only.
	draft, proposed, err := o.capability.Invoke(ctx, advisor.SystemContext{
		UserID: id.ID, Tier: id.Tier, Certification: id.Certification,
	}, query, accessible)
	if err != nil {
		rec.Outcome = audit.OutcomeFailed
		rec.Steps = append(rec.Steps, audit.Step{Perimeter: audit.StepAgentInvocation, Note: "invocation failed"})
		return nil, fmt.Errorf("agent invocation: %w", err)
	}
	rec.Steps = append(rec.Steps, audit.Step{
		Perimeter: audit.StepAgentInvocation,
		Counts:    map[string]int{"proposed_actions": len(proposed)},
	})

	// Perimeter 3: actions, one at a time in emission order. A denial is
	// terminal before any further action executes.
	for _, action := range proposed {
		d := o.authorizer.Authorize(ctx, id, action)
		rec.Steps = append(rec.Steps, audit.Step{Perimeter: audit.StepActionAuthorizer, Decision: d, Note: string(action.Kind)})
		if !d.Allow {
			return o.deny(rec, result, decision.FamilyAction, d), nil
		}
		if o.executor != nil {
			if err := o.executor.Execute(ctx, id, action); err != nil {
				rec.Outcome = audit.OutcomeFailed
				return nil, fmt.Errorf("executing %s: %w", action.Kind, err)
			}
		}
		result.ExecutedActions = append(result.ExecutedActions, action)
	}
	if len(proposed) > 0 {
		result.State = StateActionsAuthorized
	}

	// Perimeter 4: response enforcement.
	final, d := o.enforcer.Enforce(ctx, id, *draft)
	rec.Steps = append(rec.Steps, audit.Step{Perimeter: audit.StepResponseEnforcer, Decision: d})
	if !d.Allow {
		return o.deny(rec, result, decision.FamilyResponse, d), nil
	}
	result.State = StateDone
	result.Final = final
	rec.Outcome = audit.OutcomeCompleted

	log.Info().Str("run_id", runID).Int64("duration_ms", time.Since(started).Milliseconds()).Msg("pipeline_run_completed")
	return result, nil
}

func (o *Orchestrator) deny(rec *audit.Record, result *Result, family decision.Family, d *decision.Decision) *Result {
	rec.Outcome = audit.OutcomeDenied
	rec.DeniedBy = family
	rec.DenyReason = d.Reason
	result.State = StateDenied
	result.Denial = &decision.Denial{Family: family, Decision: d}
	log.Info().
		Str("run_id", result.RunID).
		Str("family", string(family)).
		Str("reason", d.Reason).
		Msg("pipeline_run_denied")
	return result
}
