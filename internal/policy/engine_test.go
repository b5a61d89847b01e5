package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/decision"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), &Thresholds{
		QueryLimits:       map[advice.Tier]int{advice.TierRestricted: 100, advice.TierPremium: 1000},
		ActionValueLimits: map[advice.Tier]float64{advice.TierRestricted: 10_000, advice.TierPremium: 250_000},
	})
	require.NoError(t, err)
	return e
}

func TestNewEngineRejectsInvalidThresholds(t *testing.T) {
	tests := []struct {
		name string
		th   *Thresholds
	}{
		{
			name: "negative query limit",
			th: &Thresholds{
				QueryLimits:       map[advice.Tier]int{advice.TierRestricted: -1},
				ActionValueLimits: map[advice.Tier]float64{advice.TierRestricted: 10_000},
			},
		},
		{
			name: "zero query limit",
			th: &Thresholds{
				QueryLimits:       map[advice.Tier]int{advice.TierRestricted: 100, advice.TierPremium: 0},
				ActionValueLimits: map[advice.Tier]float64{advice.TierRestricted: 10_000},
			},
		},
		{
			name: "negative action value limit",
			th: &Thresholds{
				QueryLimits:       map[advice.Tier]int{advice.TierRestricted: 100},
				ActionValueLimits: map[advice.Tier]float64{advice.TierRestricted: -10_000},
			},
		},
		{
			name: "missing restricted query limit",
			th: &Thresholds{
				QueryLimits:       map[advice.Tier]int{advice.TierPremium: 1000},
				ActionValueLimits: map[advice.Tier]float64{advice.TierRestricted: 10_000},
			},
		},
		{
			name: "missing restricted action value limit",
			th: &Thresholds{
				QueryLimits:       map[advice.Tier]int{advice.TierRestricted: 100},
				ActionValueLimits: map[advice.Tier]float64{advice.TierPremium: 250_000},
			},
		},
		{name: "nil thresholds", th: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(context.Background(), tt.th)
			require.Error(t, err)
		})
	}
}

func TestEvaluateQueryLength(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		tier   advice.Tier
		length int
		allow  bool
	}{
		{name: "restricted at limit", tier: advice.TierRestricted, length: 100, allow: true},
		{name: "restricted over limit", tier: advice.TierRestricted, length: 101, allow: false},
		{name: "premium at limit", tier: advice.TierPremium, length: 1000, allow: true},
		{name: "premium over limit", tier: advice.TierPremium, length: 1001, allow: false},
		{name: "unknown tier uses restricted limit", tier: advice.Tier("platinum"), length: 101, allow: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.EvaluateQueryLength(ctx, tt.tier, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.allow, d.Allow)
			if !tt.allow {
				assert.Equal(t, decision.ReasonQueryLengthExceeded, d.Reason)
				assert.Equal(t, decision.SourceLocal, d.Source)
				assert.NotEmpty(t, d.Detail)
			}
		})
	}
}

func TestEvaluateActionValue(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		tier  advice.Tier
		value float64
		allow bool
	}{
		{name: "restricted under limit", tier: advice.TierRestricted, value: 9_999.99, allow: true},
		{name: "restricted at limit", tier: advice.TierRestricted, value: 10_000, allow: true},
		{name: "restricted over limit", tier: advice.TierRestricted, value: 10_000.01, allow: false},
		{name: "premium over limit", tier: advice.TierPremium, value: 250_001, allow: false},
		{name: "zero value unconstrained", tier: advice.TierRestricted, value: 0, allow: true},
		{name: "unknown tier uses restricted limit", tier: advice.Tier("platinum"), value: 20_000, allow: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.EvaluateActionValue(ctx, tt.tier, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.allow, d.Allow)
			if !tt.allow {
				assert.Equal(t, decision.ReasonValueLimitExceeded, d.Reason)
			}
		})
	}
}

func TestRequiresDisclosure(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		advice   bool
		risk     advice.RiskLevel
		required bool
	}{
		{name: "advice low risk", advice: true, risk: advice.RiskLow, required: true},
		{name: "no advice high risk", advice: false, risk: advice.RiskHigh, required: true},
		{name: "no advice medium risk", advice: false, risk: advice.RiskMedium, required: false},
		{name: "no advice low risk", advice: false, risk: advice.RiskLow, required: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			required, err := e.RequiresDisclosure(ctx, tt.advice, tt.risk)
			require.NoError(t, err)
			assert.Equal(t, tt.required, required)
		})
	}
}
