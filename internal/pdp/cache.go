package pdp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/cordon-io/cordon/internal/decision"
)

// Cache stores recent allow decisions keyed by the full check request.
// Only allows are cached: a deny may be transient (policy_unavailable) and
// must be re-evaluated on the next attempt.
type Cache interface {
	Get(ctx context.Context, req CheckRequest) (*decision.Decision, bool)
	Put(ctx context.Context, req CheckRequest, d *decision.Decision)
}

// RedisCache caches decisions in Redis with a fixed TTL. Any Redis failure
// degrades to a cache miss so the remote decision point is still consulted.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache builds a decision cache over the given Redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "pdp:"}
}

func (c *RedisCache) Get(ctx context.Context, req CheckRequest) (*decision.Decision, bool) {
	raw, err := c.client.Get(ctx, c.key(req)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Msg("pdp_cache_get_failed")
		}
		return nil, false
	}
	var d decision.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false
	}
	return &d, true
}

func (c *RedisCache) Put(ctx context.Context, req CheckRequest, d *decision.Decision) {
	if d == nil || !d.Allow {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(req), raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("pdp_cache_put_failed")
	}
}

// key derives a stable digest of the request. Map iteration order does not
// matter here because encoding/json sorts map keys.
func (c *RedisCache) key(req CheckRequest) string {
	raw, _ := json.Marshal(wireRequest{
		User:     wireUser{Key: req.UserKey, Attributes: req.UserAttributes},
		Action:   req.Action,
		Resource: req.Resource,
		Context:  req.Context,
	})
	sum := sha256.Sum256(raw)
	return c.prefix + hex.EncodeToString(sum[:16])
}
