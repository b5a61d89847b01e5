package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordon-io/cordon/internal/advice"
)

// mockCompletion serves a canned chat completion response.
func mockCompletion(t *testing.T, body map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
}

func TestOpenAIAdvisor_DraftOnly(t *testing.T) {
	srv := mockCompletion(t, map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": "Index funds track a market index."},
			"finish_reason": "stop",
		}},
	})
	defer srv.Close()

	a := NewOpenAIAdvisorWithBaseURL("test-key", srv.URL, "gpt-4o-mini")
	draft, actions, err := a.Invoke(context.Background(), SystemContext{UserID: "u1", Tier: advice.TierPremium},
		advice.Query{Text: "What is an index fund?"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Index funds track a market index.", draft.Body)
	assert.Empty(t, actions)
}

func TestOpenAIAdvisor_ToolCallsBecomeActions(t *testing.T) {
	srv := mockCompletion(t, map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"role":    "assistant",
				"content": "I propose rebalancing.",
				"tool_calls": []map[string]any{
					{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "propose_portfolio_update",
							"arguments": `{"portfolio_id":"pf-1","value_eur":5000}`,
						},
					},
					{
						"id":   "call_2",
						"type": "function",
						"function": map[string]any{
							"name":      "fetch_market_data",
							"arguments": `{"symbol":"VWCE"}`,
						},
					},
				},
			},
			"finish_reason": "tool_calls",
		}},
	})
	defer srv.Close()

	a := NewOpenAIAdvisorWithBaseURL("test-key", srv.URL, "gpt-4o-mini")
	draft, actions, err := a.Invoke(context.Background(), SystemContext{UserID: "u1"},
		advice.Query{Text: "Rebalance my portfolio"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "I propose rebalancing.", draft.Body)
	require.Len(t, actions, 2)
	assert.Equal(t, advice.ProposedAction{Kind: advice.ActionPortfolioUpdate, TargetID: "pf-1", ValueEUR: 5000}, actions[0])
	assert.Equal(t, advice.ProposedAction{Kind: advice.ActionMarketData, TargetID: "VWCE"}, actions[1])
}

func TestOpenAIAdvisor_MalformedToolCallSkipped(t *testing.T) {
	srv := mockCompletion(t, map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"role":    "assistant",
				"content": "Draft.",
				"tool_calls": []map[string]any{{
					"id":   "call_1",
					"type": "function",
					"function": map[string]any{
						"name":      "propose_portfolio_update",
						"arguments": "not json",
					},
				}},
			},
			"finish_reason": "tool_calls",
		}},
	})
	defer srv.Close()

	a := NewOpenAIAdvisorWithBaseURL("test-key", srv.URL, "gpt-4o-mini")
	draft, actions, err := a.Invoke(context.Background(), SystemContext{}, advice.Query{Text: "q"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Draft.", draft.Body)
	assert.Empty(t, actions, "unparseable proposals are dropped, not executed")
}

func TestOpenAIAdvisor_NoChoices(t *testing.T) {
	srv := mockCompletion(t, map[string]any{"choices": []map[string]any{}})
	defer srv.Close()

	a := NewOpenAIAdvisorWithBaseURL("test-key", srv.URL, "gpt-4o-mini")
	_, _, err := a.Invoke(context.Background(), SystemContext{}, advice.Query{Text: "q"}, nil)
	require.Error(t, err)
}

func TestBuildUserMessage_IncludesDocuments(t *testing.T) {
	msg := buildUserMessage(
		SystemContext{Tier: advice.TierPremium, Certification: advice.CertProfessional},
		advice.Query{Text: "Should I rebalance?"},
		[]advice.DocumentRef{{ID: "doc-1", Title: "Rebalancing Guide", Topic: "investment"}},
	)
	assert.Contains(t, msg, "doc-1")
	assert.Contains(t, msg, "Rebalancing Guide")
	assert.Contains(t, msg, "Should I rebalance?")
	assert.Contains(t, msg, "premium")
}
