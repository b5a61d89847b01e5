// Package testutil provides shared fixtures for pipeline-level tests: a
// scriptable policy checker, a canned agent capability and a prebuilt
// orchestrator wired from real perimeters.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/advisor"
	"github.com/cordon-io/cordon/internal/audit"
	"github.com/cordon-io/cordon/internal/classifier"
	"github.com/cordon-io/cordon/internal/decision"
	"github.com/cordon-io/cordon/internal/pdp"
	"github.com/cordon-io/cordon/internal/perimeter"
	"github.com/cordon-io/cordon/internal/pipeline"
	"github.com/cordon-io/cordon/internal/policy"
)

// SigningKey is a throwaway HMAC key for test audit stores.
const SigningKey = "0123456789abcdef0123456789abcdef"

// Checker is a scriptable perimeter.Checker that allows everything unless a
// decision is scripted for a resource type.
type Checker struct {
	mu     sync.Mutex
	ByType map[string]*decision.Decision
	Calls  int
}

// NewChecker builds an allow-all checker.
func NewChecker() *Checker {
	return &Checker{ByType: map[string]*decision.Decision{}}
}

// Evaluate implements perimeter.Checker.
func (c *Checker) Evaluate(_ context.Context, req pdp.CheckRequest) *decision.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if d, ok := c.ByType[req.Resource.Type]; ok {
		return d
	}
	return decision.Allowed(decision.SourceRemote)
}

// Capability returns a fixed draft and action list.
type Capability struct {
	Draft   string
	Actions []advice.ProposedAction
	Err     error
}

// Invoke implements advisor.Capability.
func (c *Capability) Invoke(_ context.Context, _ advisor.SystemContext, _ advice.Query, _ []advice.DocumentRef) (*advice.DraftResponse, []advice.ProposedAction, error) {
	if c.Err != nil {
		return nil, nil, c.Err
	}
	return &advice.DraftResponse{Body: c.Draft}, c.Actions, nil
}

// Lister serves a fixed candidate document list.
type Lister struct {
	Docs []advice.DocumentRef
	Err  error
}

// ListCandidates implements pipeline.KnowledgeLister.
func (l *Lister) ListCandidates(_ context.Context, _ advice.Classification, _ int) ([]advice.DocumentRef, error) {
	return l.Docs, l.Err
}

// NewEngine builds a policy engine with the standard test thresholds
// (restricted 100 chars / 10k EUR, premium 1000 chars / 250k EUR).
func NewEngine(t *testing.T) *policy.Engine {
	t.Helper()
	e, err := policy.NewEngine(context.Background(), &policy.Thresholds{
		QueryLimits:       map[advice.Tier]int{advice.TierRestricted: 100, advice.TierPremium: 1000},
		ActionValueLimits: map[advice.Tier]float64{advice.TierRestricted: 10_000, advice.TierPremium: 250_000},
	})
	require.NoError(t, err)
	return e
}

// NewAuditStore builds a temp-file audit store cleaned up with the test.
func NewAuditStore(t *testing.T) *audit.Store {
	t.Helper()
	s, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.db"), SigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// NewOrchestrator wires real perimeters around the given fakes.
func NewOrchestrator(t *testing.T, checker *Checker, capability *Capability, lister *Lister, auditor *audit.Store) *pipeline.Orchestrator {
	t.Helper()
	engine := NewEngine(t)
	scanner, err := classifier.NewScanner()
	require.NoError(t, err)
	return pipeline.New(
		perimeter.NewQueryValidator(engine, checker, scanner),
		perimeter.NewKnowledgeFilter(checker),
		perimeter.NewActionAuthorizer(engine, checker),
		perimeter.NewResponseEnforcer(engine, checker, scanner),
		capability,
		lister,
		auditor,
	)
}

// OptedInIdentity is a premium identity with consent and one portfolio.
func OptedInIdentity() advice.Identity {
	return advice.Identity{
		ID:            "user-premium",
		Tier:          advice.TierPremium,
		OptIn:         true,
		Certification: advice.CertProfessional,
		Portfolios:    []string{"pf-1"},
	}
}
