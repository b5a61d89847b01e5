package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/advisor"
	"github.com/cordon-io/cordon/internal/audit"
	"github.com/cordon-io/cordon/internal/classifier"
	"github.com/cordon-io/cordon/internal/decision"
	"github.com/cordon-io/cordon/internal/pdp"
	"github.com/cordon-io/cordon/internal/perimeter"
	"github.com/cordon-io/cordon/internal/policy"
)

// consentChecker mimics the decision point's consent rules: queries require
// opt-in, documents require sufficient certification, everything else is
// scriptable per resource type.
type consentChecker struct {
	mu     sync.Mutex
	byType map[string]*decision.Decision
	calls  int
}

func newConsentChecker() *consentChecker {
	return &consentChecker{byType: map[string]*decision.Decision{}}
}

func (c *consentChecker) Evaluate(_ context.Context, req pdp.CheckRequest) *decision.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if d, ok := c.byType[req.Resource.Type]; ok {
		return d
	}
	switch req.Resource.Type {
	case decision.ResourceQuery:
		attrs := req.Resource.Attributes.(decision.QueryAttributes)
		if !attrs.OptIn {
			return decision.Denied(decision.SourceRemote, decision.ReasonNotPermitted)
		}
	case decision.ResourceDocument:
		attrs := req.Resource.Attributes.(decision.DocumentAttributes)
		if attrs.Classification == advice.DocConfidential && attrs.CertificationLevel != advice.CertExpert {
			return decision.Denied(decision.SourceRemote, decision.ReasonNotPermitted)
		}
		if attrs.Classification == advice.DocRestricted && attrs.CertificationLevel == advice.CertGeneral {
			return decision.Denied(decision.SourceRemote, decision.ReasonNotPermitted)
		}
	}
	return decision.Allowed(decision.SourceRemote)
}

// scriptedCapability returns a fixed draft and actions, counting invocations.
type scriptedCapability struct {
	mu      sync.Mutex
	draft   string
	actions []advice.ProposedAction
	err     error
	calls   int
	gotDocs []advice.DocumentRef
}

func (s *scriptedCapability) Invoke(_ context.Context, _ advisor.SystemContext, _ advice.Query, docs []advice.DocumentRef) (*advice.DraftResponse, []advice.ProposedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.gotDocs = docs
	if s.err != nil {
		return nil, nil, s.err
	}
	return &advice.DraftResponse{Body: s.draft}, s.actions, nil
}

// staticLister serves a fixed candidate list, counting calls.
type staticLister struct {
	mu    sync.Mutex
	docs  []advice.DocumentRef
	err   error
	calls int
}

func (l *staticLister) ListCandidates(_ context.Context, _ advice.Classification, _ int) ([]advice.DocumentRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.docs, l.err
}

// recordingExecutor records executed actions.
type recordingExecutor struct {
	mu       sync.Mutex
	executed []advice.ProposedAction
	err      error
}

func (e *recordingExecutor) Execute(_ context.Context, _ advice.Identity, a advice.ProposedAction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.executed = append(e.executed, a)
	return nil
}

type fixture struct {
	orch       *Orchestrator
	checker    *consentChecker
	capability *scriptedCapability
	lister     *staticLister
	executor   *recordingExecutor
	auditor    *audit.Store
}

func newFixture(t *testing.T, capability *scriptedCapability, lister *staticLister) *fixture {
	t.Helper()

	engine, err := policy.NewEngine(context.Background(), &policy.Thresholds{
		QueryLimits:       map[advice.Tier]int{advice.TierRestricted: 100, advice.TierPremium: 1000},
		ActionValueLimits: map[advice.Tier]float64{advice.TierRestricted: 10_000, advice.TierPremium: 250_000},
	})
	require.NoError(t, err)

	scanner, err := classifier.NewScanner()
	require.NoError(t, err)

	auditor, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.db"), "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	t.Cleanup(func() { auditor.Close() })

	checker := newConsentChecker()
	executor := &recordingExecutor{}
	orch := New(
		perimeter.NewQueryValidator(engine, checker, scanner),
		perimeter.NewKnowledgeFilter(checker),
		perimeter.NewActionAuthorizer(engine, checker),
		perimeter.NewResponseEnforcer(engine, checker, scanner),
		capability,
		lister,
		auditor,
		WithExecutor(executor),
	)
	return &fixture{orch: orch, checker: checker, capability: capability, lister: lister, executor: executor, auditor: auditor}
}

func optedInPremium() advice.Identity {
	return advice.Identity{
		ID:            "user-premium",
		Tier:          advice.TierPremium,
		OptIn:         true,
		Certification: advice.CertProfessional,
		Portfolios:    []string{"pf-1"},
	}
}

func TestRun_CompletedWithAdviceDisclosure(t *testing.T) {
	capability := &scriptedCapability{draft: "I recommend a 60/40 split."}
	fx := newFixture(t, capability, &staticLister{docs: []advice.DocumentRef{
		{ID: "doc-1", Title: "Guide", Classification: advice.DocPublic},
	}})

	res, err := fx.orch.Run(context.Background(), optedInPremium(), "Should I rebalance my portfolio?")
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	require.NotNil(t, res.Final)
	assert.Nil(t, res.Denial)
	assert.True(t, res.Final.AdviceDetected)
	assert.Contains(t, res.Final.Body, perimeter.Disclosure)

	rec, err := fx.auditor.Get(context.Background(), res.AuditID)
	require.NoError(t, err)
	assert.Equal(t, audit.OutcomeCompleted, rec.Outcome)
	assert.Equal(t, res.RunID, rec.RunID)

	ok, err := fx.auditor.Verify(context.Background(), res.AuditID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_OptOutShortCircuits(t *testing.T) {
	capability := &scriptedCapability{draft: "unused"}
	lister := &staticLister{docs: []advice.DocumentRef{{ID: "doc-1", Classification: advice.DocPublic}}}
	fx := newFixture(t, capability, lister)

	id := optedInPremium()
	id.OptIn = false

	res, err := fx.orch.Run(context.Background(), id, "Should I buy gold?")
	require.NoError(t, err)

	assert.Equal(t, StateDenied, res.State)
	require.NotNil(t, res.Denial)
	assert.Equal(t, decision.FamilyQuery, res.Denial.Family)
	assert.Nil(t, res.Final)

	assert.Zero(t, lister.calls, "knowledge store never consulted")
	assert.Zero(t, capability.calls, "agent never invoked")
	assert.Empty(t, fx.executor.executed)
}

func TestRun_EmptyKnowledgeProceeds(t *testing.T) {
	capability := &scriptedCapability{draft: "No accessible information on this topic."}
	lister := &staticLister{docs: []advice.DocumentRef{
		{ID: "doc-conf", Classification: advice.DocConfidential, RequiredCertification: advice.CertExpert},
	}}
	fx := newFixture(t, capability, lister)

	res, err := fx.orch.Run(context.Background(), optedInPremium(), "What are structured products?")
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	require.NotNil(t, res.Final)
	assert.Equal(t, 1, capability.calls)
	assert.Empty(t, capability.gotDocs, "agent invoked with empty knowledge, not halted")
}

func TestRun_KnowledgeListingFailureProceeds(t *testing.T) {
	capability := &scriptedCapability{draft: "Answer without documents."}
	fx := newFixture(t, capability, &staticLister{err: errors.New("catalog offline")})

	res, err := fx.orch.Run(context.Background(), optedInPremium(), "What is an ETF?")
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Empty(t, capability.gotDocs)
}

func TestRun_FilteredKnowledgeReachesAgent(t *testing.T) {
	capability := &scriptedCapability{draft: "Based on the tax guide."}
	lister := &staticLister{docs: []advice.DocumentRef{
		{ID: "doc-pub", Classification: advice.DocPublic},
		{ID: "doc-conf", Classification: advice.DocConfidential, RequiredCertification: advice.CertExpert},
		{ID: "doc-restricted", Classification: advice.DocRestricted, RequiredCertification: advice.CertProfessional},
	}}
	fx := newFixture(t, capability, lister)

	_, err := fx.orch.Run(context.Background(), optedInPremium(), "Explain capital gains tax")
	require.NoError(t, err)

	require.Len(t, capability.gotDocs, 2)
	assert.Equal(t, "doc-pub", capability.gotDocs[0].ID)
	assert.Equal(t, "doc-restricted", capability.gotDocs[1].ID)
}

func TestRun_ActionDenialHaltsBeforeExecution(t *testing.T) {
	capability := &scriptedCapability{
		draft: "Proposing a large trade.",
		actions: []advice.ProposedAction{
			{Kind: advice.ActionPortfolioUpdate, TargetID: "pf-1", ValueEUR: 1000},
			{Kind: advice.ActionPortfolioUpdate, TargetID: "pf-1", ValueEUR: 999_999},
			{Kind: advice.ActionMarketData, TargetID: "VWCE"},
		},
	}
	fx := newFixture(t, capability, &staticLister{})

	res, err := fx.orch.Run(context.Background(), optedInPremium(), "Execute my plan")
	require.NoError(t, err)

	assert.Equal(t, StateDenied, res.State)
	require.NotNil(t, res.Denial)
	assert.Equal(t, decision.FamilyAction, res.Denial.Family)
	assert.Equal(t, decision.ReasonValueLimitExceeded, res.Denial.Decision.Reason)

	// Emission order: the first action executed, the denied one and
	// everything after it did not.
	require.Len(t, fx.executor.executed, 1)
	assert.Equal(t, 1000.0, fx.executor.executed[0].ValueEUR)
}

func TestRun_DeniedActionNeverExecutes(t *testing.T) {
	for _, action := range []advice.ProposedAction{
		{Kind: advice.ActionPortfolioUpdate, TargetID: "pf-unowned", ValueEUR: 10},
		{Kind: advice.ActionPortfolioUpdate, TargetID: "pf-1", ValueEUR: 500_000},
		{Kind: "unknown_kind"},
	} {
		capability := &scriptedCapability{draft: "d", actions: []advice.ProposedAction{action}}
		fx := newFixture(t, capability, &staticLister{})

		res, err := fx.orch.Run(context.Background(), optedInPremium(), "Run action")
		require.NoError(t, err)
		assert.Equal(t, StateDenied, res.State, "action %+v", action)
		assert.Empty(t, fx.executor.executed, "denied action must have zero side effects")
	}
}

func TestRun_ResponseDenialReturnsRefusal(t *testing.T) {
	capability := &scriptedCapability{draft: "I recommend leverage."}
	fx := newFixture(t, capability, &staticLister{})
	fx.checker.byType[decision.ResourceResponse] = decision.Denied(decision.SourceRemote, decision.ReasonNotPermitted)

	res, err := fx.orch.Run(context.Background(), optedInPremium(), "Should I use leverage?")
	require.NoError(t, err)

	assert.Equal(t, StateDenied, res.State)
	require.NotNil(t, res.Denial)
	assert.Equal(t, decision.FamilyResponse, res.Denial.Family)
	assert.Nil(t, res.Final, "draft content never surfaces on denial")
}

func TestRun_PolicyUnavailableMessageIsGeneric(t *testing.T) {
	capability := &scriptedCapability{draft: "d"}
	fx := newFixture(t, capability, &staticLister{})
	fx.checker.byType[decision.ResourceQuery] = decision.Unavailable()

	res, err := fx.orch.Run(context.Background(), optedInPremium(), "Should I invest?")
	require.NoError(t, err)

	require.NotNil(t, res.Denial)
	assert.Equal(t, "access could not be verified", res.Denial.Message())
}

func TestRun_AgentFailureIsFailedNotDenied(t *testing.T) {
	capability := &scriptedCapability{err: errors.New("model timeout")}
	fx := newFixture(t, capability, &staticLister{})

	_, err := fx.orch.Run(context.Background(), optedInPremium(), "Anything")
	require.Error(t, err)

	recs, err := fx.auditor.List(context.Background(), "user-premium", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.OutcomeFailed, recs[0].Outcome)
}

func TestRun_AuditStepsPerPerimeter(t *testing.T) {
	capability := &scriptedCapability{
		draft:   "I suggest reviewing fees.",
		actions: []advice.ProposedAction{{Kind: advice.ActionMarketData, TargetID: "SPY"}},
	}
	fx := newFixture(t, capability, &staticLister{docs: []advice.DocumentRef{
		{ID: "doc-1", Classification: advice.DocPublic},
	}})

	res, err := fx.orch.Run(context.Background(), optedInPremium(), "Should I check fund fees?")
	require.NoError(t, err)

	rec, err := fx.auditor.Get(context.Background(), res.AuditID)
	require.NoError(t, err)

	var names []string
	for _, s := range rec.Steps {
		names = append(names, s.Perimeter)
	}
	assert.Equal(t, []string{
		audit.StepQueryValidation,
		audit.StepKnowledgeFilter,
		audit.StepAgentInvocation,
		audit.StepActionAuthorizer,
		audit.StepResponseEnforcer,
	}, names)
}

func TestRun_ConcurrentRunsIsolated(t *testing.T) {
	capability := &scriptedCapability{draft: "Concurrent answer."}
	fx := newFixture(t, capability, &staticLister{})

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := fx.orch.Run(context.Background(), optedInPremium(), fmt.Sprintf("Question %d?", i))
			if assert.NoError(t, err) {
				ids[i] = res.RunID
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "run ids are unique")
		seen[id] = true
	}
}
