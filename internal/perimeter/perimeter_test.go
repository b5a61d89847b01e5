package perimeter

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/classifier"
	"github.com/cordon-io/cordon/internal/decision"
	"github.com/cordon-io/cordon/internal/pdp"
	"github.com/cordon-io/cordon/internal/policy"
)

// fakeChecker scripts decisions per resource type and records every request.
type fakeChecker struct {
	mu       sync.Mutex
	byType   map[string]*decision.Decision
	byKey    map[string]*decision.Decision
	fallback *decision.Decision
	requests []pdp.CheckRequest
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{
		byType:   map[string]*decision.Decision{},
		byKey:    map[string]*decision.Decision{},
		fallback: decision.Allowed(decision.SourceRemote),
	}
}

func (f *fakeChecker) Evaluate(_ context.Context, req pdp.CheckRequest) *decision.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if d, ok := f.byKey[req.Resource.Key]; ok && req.Resource.Key != "" {
		return d
	}
	if d, ok := f.byType[req.Resource.Type]; ok {
		return d
	}
	return f.fallback
}

func (f *fakeChecker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func testEngine(t *testing.T) *policy.Engine {
	t.Helper()
	e, err := policy.NewEngine(context.Background(), &policy.Thresholds{
		QueryLimits: map[advice.Tier]int{
			advice.TierRestricted: 100,
			advice.TierPremium:    1000,
		},
		ActionValueLimits: map[advice.Tier]float64{
			advice.TierRestricted: 10_000,
			advice.TierPremium:    250_000,
		},
	})
	require.NoError(t, err)
	return e
}

func testScanner(t *testing.T) *classifier.Scanner {
	t.Helper()
	s, err := classifier.NewScanner()
	require.NoError(t, err)
	return s
}

func premiumIdentity() advice.Identity {
	return advice.Identity{
		ID:            "user-premium",
		Tier:          advice.TierPremium,
		OptIn:         true,
		Certification: advice.CertProfessional,
		Portfolios:    []string{"pf-1"},
	}
}

func restrictedIdentity() advice.Identity {
	return advice.Identity{
		ID:            "user-restricted",
		Tier:          advice.TierRestricted,
		OptIn:         true,
		Certification: advice.CertGeneral,
	}
}
