package perimeter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/decision"
)

func newEnforcer(t *testing.T, checker Checker) *ResponseEnforcer {
	t.Helper()
	return NewResponseEnforcer(testEngine(t), checker, testScanner(t))
}

func TestResponseEnforcer_AdviceGetsDisclosure(t *testing.T) {
	e := newEnforcer(t, newFakeChecker())

	draft := advice.DraftResponse{Body: "I recommend shifting a portion into bonds."}
	final, d := e.Enforce(context.Background(), premiumIdentity(), draft)

	require.True(t, d.Allow)
	require.NotNil(t, final)
	assert.True(t, final.AdviceDetected)
	assert.Contains(t, final.Body, Disclosure)
	require.Len(t, final.Disclosures, 1)
	assert.Equal(t, Disclosure, final.Disclosures[0])
}

func TestResponseEnforcer_InformationalNoDisclosure(t *testing.T) {
	e := newEnforcer(t, newFakeChecker())

	draft := advice.DraftResponse{Body: "The ECB deposit rate is 2.0%."}
	final, d := e.Enforce(context.Background(), premiumIdentity(), draft)

	require.True(t, d.Allow)
	require.NotNil(t, final)
	assert.False(t, final.AdviceDetected)
	assert.NotContains(t, final.Body, "IMPORTANT DISCLAIMER")
	assert.Empty(t, final.Disclosures)
}

func TestResponseEnforcer_HighRiskAlwaysDiscloses(t *testing.T) {
	e := newEnforcer(t, newFakeChecker())

	// No advisory phrasing, but high-risk content.
	draft := advice.DraftResponse{Body: "Trading with leverage can wipe out a deposit quickly."}
	final, d := e.Enforce(context.Background(), premiumIdentity(), draft)

	require.True(t, d.Allow)
	require.NotNil(t, final)
	assert.False(t, final.AdviceDetected)
	assert.Equal(t, advice.RiskHigh, final.Risk)
	assert.Contains(t, final.Body, Disclosure)
}

func TestResponseEnforcer_ExistingDisclosureNotDuplicated(t *testing.T) {
	e := newEnforcer(t, newFakeChecker())

	draft := advice.DraftResponse{Body: "I suggest index funds.\n\n" + Disclosure}
	final, d := e.Enforce(context.Background(), premiumIdentity(), draft)

	require.True(t, d.Allow)
	assert.Equal(t, 1, strings.Count(final.Body, "IMPORTANT DISCLAIMER"))
}

func TestResponseEnforcer_DenyDiscardsDraft(t *testing.T) {
	checker := newFakeChecker()
	checker.byType[decision.ResourceResponse] = decision.Denied(decision.SourceRemote, decision.ReasonNotPermitted)
	e := newEnforcer(t, checker)

	draft := advice.DraftResponse{Body: "I recommend a very aggressive strategy."}
	final, d := e.Enforce(context.Background(), restrictedIdentity(), draft)

	assert.Nil(t, final, "no partial content on denial")
	assert.False(t, d.Allow)
	assert.Equal(t, decision.ReasonComplianceViolation, d.Reason)
}

func TestResponseEnforcer_UnavailableFailsClosed(t *testing.T) {
	checker := newFakeChecker()
	checker.byType[decision.ResourceResponse] = decision.Unavailable()
	e := newEnforcer(t, checker)

	final, d := e.Enforce(context.Background(), premiumIdentity(), advice.DraftResponse{Body: "I recommend bonds."})
	assert.Nil(t, final)
	assert.False(t, d.Allow)
	assert.Equal(t, decision.ReasonPolicyUnavailable, d.Reason)
}

func TestResponseEnforcer_SendsResponseAttributes(t *testing.T) {
	checker := newFakeChecker()
	e := newEnforcer(t, checker)

	_, d := e.Enforce(context.Background(), premiumIdentity(), advice.DraftResponse{Body: "Consider options strategies."})
	require.True(t, d.Allow)
	require.Equal(t, 1, checker.calls())

	req := checker.requests[0]
	assert.Equal(t, actionReceiveResponse, req.Action)
	assert.Equal(t, decision.ResourceResponse, req.Resource.Type)
	attrs, ok := req.Resource.Attributes.(decision.ResponseAttributes)
	require.True(t, ok)
	assert.True(t, attrs.AdviceDetected)
	assert.Equal(t, advice.RiskHigh, attrs.RiskLevel)
}
