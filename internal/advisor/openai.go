package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cordon-io/cordon/internal/advice"
	cordonotel "github.com/cordon-io/cordon/internal/otel"
)

var tracer = cordonotel.Tracer("github.com/cordon-io/cordon/internal/advisor")

// TimeoutInvoke bounds one model call.
const TimeoutInvoke = 60 * time.Second

const systemPrompt = `You are a financial advisor assistant. Answer using only the reference documents provided. When an operation on a portfolio or external market data is needed, propose it through the available tools instead of describing it; every proposal is reviewed before execution. Do not promise execution of anything.`

// Tool names exposed to the model, one per action kind.
const (
	toolPortfolioUpdate   = "propose_portfolio_update"
	toolPortfolioAnalysis = "propose_portfolio_analysis"
	toolMarketData        = "fetch_market_data"
)

// OpenAIAdvisor implements Capability over the OpenAI chat completions API.
type OpenAIAdvisor struct {
	client *openai.Client
	model  string
}

// NewOpenAIAdvisor creates an advisor with the given API key and model.
func NewOpenAIAdvisor(apiKey, model string) *OpenAIAdvisor {
	return &OpenAIAdvisor{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAIAdvisorWithBaseURL creates an advisor pointed at a custom base URL
// (e.g. for tests against a mock server). baseURL is scheme+host without path.
func NewOpenAIAdvisorWithBaseURL(apiKey, baseURL, model string) *OpenAIAdvisor {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"
	return &OpenAIAdvisor{client: openai.NewClientWithConfig(config), model: model}
}

// Invoke sends the query and surviving documents to the model and collects
// the draft plus any tool calls as proposed actions.
func (a *OpenAIAdvisor) Invoke(ctx context.Context, sys SystemContext, q advice.Query, docs []advice.DocumentRef) (*advice.DraftResponse, []advice.ProposedAction, error) {
	ctx, span := tracer.Start(ctx, "advisor.invoke", trace.WithAttributes(
		attribute.String("advisor.model", a.model),
		attribute.Int("advisor.documents", len(docs)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutInvoke)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserMessage(sys, q, docs)},
		},
		Tools: toolDefinitions(),
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("openai api call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("openai api call: no choices returned")
	}

	choice := resp.Choices[0]
	actions := make([]advice.ProposedAction, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		action, err := parseToolCall(tc)
		if err != nil {
			log.Warn().Err(err).Str("tool", tc.Function.Name).Msg("advisor_tool_call_skipped")
			continue
		}
		actions = append(actions, action)
	}

	span.SetAttributes(
		attribute.Int("advisor.proposed_actions", len(actions)),
		attribute.String("advisor.finish_reason", string(choice.FinishReason)),
	)
	return &advice.DraftResponse{Body: choice.Message.Content}, actions, nil
}

func buildUserMessage(sys SystemContext, q advice.Query, docs []advice.DocumentRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User tier: %s. Certification: %s.\n\n", sys.Tier, sys.Certification)
	if len(docs) > 0 {
		b.WriteString("Reference documents:\n")
		for _, d := range docs {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", d.ID, d.Title, d.Topic)
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(q.Text)
	return b.String()
}

func toolDefinitions() []openai.Tool {
	portfolioParams := json.RawMessage(`{
		"type": "object",
		"properties": {
			"portfolio_id": {"type": "string"},
			"value_eur": {"type": "number"}
		},
		"required": ["portfolio_id"]
	}`)
	marketParams := json.RawMessage(`{
		"type": "object",
		"properties": {
			"symbol": {"type": "string"}
		},
		"required": ["symbol"]
	}`)
	return []openai.Tool{
		{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{
			Name:        toolPortfolioUpdate,
			Description: "Propose a change to a portfolio, such as a trade or rebalancing step.",
			Parameters:  portfolioParams,
		}},
		{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{
			Name:        toolPortfolioAnalysis,
			Description: "Propose running an analysis over a portfolio.",
			Parameters:  portfolioParams,
		}},
		{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{
			Name:        toolMarketData,
			Description: "Propose fetching live market data for a symbol.",
			Parameters:  marketParams,
		}},
	}
}

type portfolioArgs struct {
	PortfolioID string  `json:"portfolio_id"`
	ValueEUR    float64 `json:"value_eur"`
}

type marketArgs struct {
	Symbol string `json:"symbol"`
}

func parseToolCall(tc openai.ToolCall) (advice.ProposedAction, error) {
	switch tc.Function.Name {
	case toolPortfolioUpdate, toolPortfolioAnalysis:
		var args portfolioArgs
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return advice.ProposedAction{}, fmt.Errorf("parsing %s arguments: %w", tc.Function.Name, err)
		}
		kind := advice.ActionPortfolioUpdate
		if tc.Function.Name == toolPortfolioAnalysis {
			kind = advice.ActionPortfolioAnalysis
		}
		return advice.ProposedAction{Kind: kind, TargetID: args.PortfolioID, ValueEUR: args.ValueEUR}, nil
	case toolMarketData:
		var args marketArgs
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return advice.ProposedAction{}, fmt.Errorf("parsing %s arguments: %w", tc.Function.Name, err)
		}
		return advice.ProposedAction{Kind: advice.ActionMarketData, TargetID: args.Symbol}, nil
	default:
		return advice.ProposedAction{}, fmt.Errorf("unknown tool %q", tc.Function.Name)
	}
}
