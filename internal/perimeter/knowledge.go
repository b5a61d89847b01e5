package perimeter

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/decision"
	cordonotel "github.com/cordon-io/cordon/internal/otel"
	"github.com/cordon-io/cordon/internal/pdp"
)

// KnowledgeFilter is perimeter 2. It narrows the candidate document set to
// what the identity's certification may see. Narrowing is soft: a denied
// document is dropped, never a run failure, and an empty result is a normal
// outcome.
type KnowledgeFilter struct {
	checker Checker
}

// NewKnowledgeFilter wires the filter's remote checker.
func NewKnowledgeFilter(checker Checker) *KnowledgeFilter {
	return &KnowledgeFilter{checker: checker}
}

// FilterResult pairs the surviving documents with the per-document decisions
// for auditing.
type FilterResult struct {
	Allowed   []advice.DocumentRef
	Decisions []DocumentDecision
}

// DocumentDecision is one per-candidate outcome.
type DocumentDecision struct {
	DocumentID string             `json:"document_id"`
	Decision   *decision.Decision `json:"decision"`
}

// Filter checks each candidate against the decision point. Checks for
// independent documents run concurrently; the output preserves the input
// order of the survivors and never duplicates.
func (f *KnowledgeFilter) Filter(ctx context.Context, id advice.Identity, candidates []advice.DocumentRef) FilterResult {
	ctx, span := tracer.Start(ctx, "perimeter.knowledge_filter", trace.WithAttributes(
		attribute.Int("knowledge.candidates", len(candidates)),
	))
	defer span.End()

	decisions := make([]DocumentDecision, len(candidates))
	var wg sync.WaitGroup
	for i, doc := range candidates {
		wg.Add(1)
		go func(i int, doc advice.DocumentRef) {
			defer wg.Done()
			decisions[i] = DocumentDecision{DocumentID: doc.ID, Decision: f.check(ctx, id, doc)}
		}(i, doc)
	}
	wg.Wait()

	allowed := make([]advice.DocumentRef, 0, len(candidates))
	for i, doc := range candidates {
		d := decisions[i].Decision
		cordonotel.RecordDecision(ctx, "knowledge_filter", d.Allow, d.Reason)
		if d.Allow {
			allowed = append(allowed, doc)
		}
	}

	span.SetAttributes(attribute.Int("knowledge.allowed", len(allowed)))
	return FilterResult{Allowed: allowed, Decisions: decisions}
}

func (f *KnowledgeFilter) check(ctx context.Context, id advice.Identity, doc advice.DocumentRef) *decision.Decision {
	attrs, err := decision.NewDocumentAttributes(id, doc)
	if err != nil {
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("document_attributes_invalid")
		return decision.Denied(decision.SourceLocal, decision.ReasonNotPermitted)
	}
	return f.checker.Evaluate(ctx, pdp.CheckRequest{
		UserKey:        id.ID,
		UserAttributes: userAttributes(id),
		Action:         actionReadDocument,
		Resource:       pdp.Resource{Type: decision.ResourceDocument, Key: doc.ID, Attributes: attrs},
	})
}
