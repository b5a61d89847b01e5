// Package pdp talks to the remote policy decision point. Every perimeter
// funnels its attribute checks through here. The client never surfaces
// transport faults to callers: anything that prevents a definitive answer
// comes back as a deny with reason "policy_unavailable".
package pdp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cordon-io/cordon/internal/decision"
	cordonotel "github.com/cordon-io/cordon/internal/otel"
)

var tracer = cordonotel.Tracer("pdp")

// Resource identifies the object of an authorization check.
type Resource struct {
	Type       string `json:"type"`
	Key        string `json:"key,omitempty"`
	Attributes any    `json:"attributes,omitempty"`
}

// CheckRequest is one authorization question for the decision point.
type CheckRequest struct {
	UserKey        string
	UserAttributes any
	Action         string
	Resource       Resource
	Context        map[string]any
}

type wireRequest struct {
	User     wireUser       `json:"user"`
	Action   string         `json:"action"`
	Resource Resource       `json:"resource"`
	Context  map[string]any `json:"context,omitempty"`
}

type wireUser struct {
	Key        string `json:"key"`
	Attributes any    `json:"attributes,omitempty"`
}

type wireResponse struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// defaultRetryBackoff is the pause before the single retry. Long enough for
// a gateway blip to clear, short enough to stay well inside the perimeter
// deadline.
const defaultRetryBackoff = 150 * time.Millisecond

// Client queries a remote decision point over HTTP.
type Client struct {
	endpoint     string
	credential   string
	httpClient   *http.Client
	cache        Cache
	retryBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCache attaches a decision cache. Cache failures fall through to the
// remote call, never to a skipped check.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithRetryBackoff overrides the pause before the single retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) { c.retryBackoff = d }
}

// NewClient builds a client for the decision point at endpoint. The
// credential is sent as a bearer token on every call.
func NewClient(endpoint, credential string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint:     endpoint,
		credential:   credential,
		httpClient:   &http.Client{Timeout: timeout},
		retryBackoff: defaultRetryBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Evaluate asks the decision point whether the request is allowed. It never
// returns an error: anything short of a parseable answer is a deny with
// reason "policy_unavailable". One retry is made on transport failure or a
// gateway-class status.
func (c *Client) Evaluate(ctx context.Context, req CheckRequest) *decision.Decision {
	ctx, span := tracer.Start(ctx, "pdp.evaluate", trace.WithAttributes(
		attribute.String("pdp.action", req.Action),
		attribute.String("pdp.resource_type", req.Resource.Type),
	))
	defer span.End()

	if c.cache != nil {
		if d, ok := c.cache.Get(ctx, req); ok {
			span.SetAttributes(attribute.Bool("pdp.cache_hit", true))
			return d
		}
	}

	body, err := json.Marshal(wireRequest{
		User:     wireUser{Key: req.UserKey, Attributes: req.UserAttributes},
		Action:   req.Action,
		Resource: req.Resource,
		Context:  req.Context,
	})
	if err != nil {
		log.Error().Err(err).Str("action", req.Action).Msg("pdp_request_encode_failed")
		return decision.Unavailable()
	}

	d, retryable := c.post(ctx, body)
	if d == nil && retryable {
		log.Warn().Str("action", req.Action).Str("resource_type", req.Resource.Type).Msg("pdp_retry")
		timer := time.NewTimer(c.retryBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return decision.Unavailable()
		}
		d, _ = c.post(ctx, body)
	}
	if d == nil {
		return decision.Unavailable()
	}

	span.SetAttributes(attribute.Bool("pdp.allow", d.Allow))
	if c.cache != nil {
		c.cache.Put(ctx, req, d)
	}
	return d
}

// post performs one round trip. A nil decision with retryable=true means the
// failure was transient and worth one more attempt.
func (c *Client) post(ctx context.Context, body []byte) (d *decision.Decision, retryable bool) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/allowed", bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.credential)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("pdp_call_cancelled")
			return nil, false
		}
		log.Warn().Err(err).Msg("pdp_call_failed")
		return nil, true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		log.Warn().Int("status", resp.StatusCode).Msg("pdp_gateway_error")
		return nil, true
	default:
		log.Warn().Int("status", resp.StatusCode).Msg("pdp_unexpected_status")
		return nil, false
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Warn().Err(err).Msg("pdp_read_failed")
		return nil, true
	}
	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		log.Warn().Err(err).Msg("pdp_decode_failed")
		return nil, false
	}

	if wire.Allow {
		return decision.Allowed(decision.SourceRemote), false
	}
	reason := wire.Reason
	if reason == "" {
		reason = decision.ReasonNotPermitted
	}
	return decision.Denied(decision.SourceRemote, reason), false
}

// String implements fmt.Stringer for log context without the credential.
func (c *Client) String() string {
	return fmt.Sprintf("pdp(%s)", c.endpoint)
}
