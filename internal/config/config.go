// Package config holds operator-level configuration for a cordon process.
//
// This is infrastructure config set by whoever deploys cordon, not per-caller
// state. Everything maps to an env var with the CORDON_ prefix
// (e.g. "pdp_endpoint" → CORDON_PDP_ENDPOINT) or a YAML field in
// cordon.config.yaml. The two policy-authority settings (endpoint and
// credential) have no defaults and no fallback: a process without them must
// refuse to start rather than run fail-open.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/cordon-io/cordon/internal/advice"
)

// Viper keys.
const (
	KeyDataDir            = "data_dir"
	KeyPDPEndpoint        = "pdp_endpoint"
	KeyPDPCredential      = "pdp_credential"
	KeyPDPTimeoutMS       = "pdp_timeout_ms"
	KeySigningKey         = "signing_key"
	KeyRedisAddr          = "redis_addr"
	KeyDecisionCacheTTLMS = "decision_cache_ttl_ms"
	KeyListenAddr         = "listen_addr"
	KeyOpenAIAPIKey       = "openai_api_key"
	KeyOpenAIModel        = "openai_model"
	KeyAuditRetentionDays = "audit_retention_days"

	KeyQueryLimitRestricted       = "query_limit_restricted"
	KeyQueryLimitPremium          = "query_limit_premium"
	KeyActionValueLimitRestricted = "action_value_limit_restricted"
	KeyActionValueLimitPremium    = "action_value_limit_premium"
)

// Defaults. The tier length limits come from the advisory compliance rules:
// 100 characters for restricted, 1000 for premium.
const (
	DefaultPDPTimeoutMS       = 3000
	DefaultDecisionCacheTTLMS = 30000
	DefaultListenAddr         = ":8400"
	DefaultOpenAIModel        = "gpt-4o-mini"
	DefaultAuditRetentionDays = 90

	DefaultQueryLimitRestricted       = 100
	DefaultQueryLimitPremium          = 1000
	DefaultActionValueLimitRestricted = 10_000
	DefaultActionValueLimitPremium    = 250_000
)

// Config holds resolved operator-level configuration.
type Config struct {
	DataDir            string
	PDPEndpoint        string
	PDPCredential      string
	PDPTimeout         time.Duration
	SigningKey         string
	RedisAddr          string // empty disables the decision cache
	DecisionCacheTTL   time.Duration
	ListenAddr         string
	OpenAIAPIKey       string
	OpenAIModel        string
	AuditRetentionDays int

	QueryLimits       map[advice.Tier]int
	ActionValueLimits map[advice.Tier]float64

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey returns true if the audit signing key was derived
// rather than set explicitly. Commands should warn when this is the case.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// AuditDBPath returns the full path to the audit SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// KnowledgeDBPath returns the full path to the knowledge catalog database.
func (c *Config) KnowledgeDBPath() string {
	return filepath.Join(c.DataDir, "knowledge.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.SetEnvPrefix("CORDON")
	viper.AutomaticEnv()
	viper.SetDefault(KeyPDPTimeoutMS, DefaultPDPTimeoutMS)
	viper.SetDefault(KeyDecisionCacheTTLMS, DefaultDecisionCacheTTLMS)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyOpenAIModel, DefaultOpenAIModel)
	viper.SetDefault(KeyAuditRetentionDays, DefaultAuditRetentionDays)
	viper.SetDefault(KeyQueryLimitRestricted, DefaultQueryLimitRestricted)
	viper.SetDefault(KeyQueryLimitPremium, DefaultQueryLimitPremium)
	viper.SetDefault(KeyActionValueLimitRestricted, DefaultActionValueLimitRestricted)
	viper.SetDefault(KeyActionValueLimitPremium, DefaultActionValueLimitPremium)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config. A missing PDP endpoint or
// credential is a fatal configuration error.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:            resolveDataDir(),
		PDPEndpoint:        viper.GetString(KeyPDPEndpoint),
		PDPCredential:      viper.GetString(KeyPDPCredential),
		PDPTimeout:         time.Duration(viper.GetInt(KeyPDPTimeoutMS)) * time.Millisecond,
		SigningKey:         viper.GetString(KeySigningKey),
		RedisAddr:          viper.GetString(KeyRedisAddr),
		DecisionCacheTTL:   time.Duration(viper.GetInt(KeyDecisionCacheTTLMS)) * time.Millisecond,
		ListenAddr:         viper.GetString(KeyListenAddr),
		OpenAIAPIKey:       viper.GetString(KeyOpenAIAPIKey),
		OpenAIModel:        viper.GetString(KeyOpenAIModel),
		AuditRetentionDays: viper.GetInt(KeyAuditRetentionDays),
		QueryLimits: map[advice.Tier]int{
			advice.TierRestricted: viper.GetInt(KeyQueryLimitRestricted),
			advice.TierPremium:    viper.GetInt(KeyQueryLimitPremium),
		},
		ActionValueLimits: map[advice.Tier]float64{
			advice.TierRestricted: viper.GetFloat64(KeyActionValueLimitRestricted),
			advice.TierPremium:    viper.GetFloat64(KeyActionValueLimitPremium),
		},
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cordon"
	}
	return filepath.Join(home, ".cordon")
}

// deriveDefaultKey produces a deterministic 32-byte fallback signing key from
// the data directory path and a salt. Not cryptographically strong; it
// exists so exploration works out of the box while audit records are still
// signed with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("cordon:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if c.PDPEndpoint == "" {
		return fmt.Errorf("pdp_endpoint is required; set CORDON_PDP_ENDPOINT")
	}
	if c.PDPCredential == "" {
		return fmt.Errorf("pdp_credential is required; set CORDON_PDP_CREDENTIAL")
	}
	if c.PDPTimeout <= 0 {
		return fmt.Errorf("pdp_timeout_ms must be positive")
	}
	if len(c.SigningKey) < 32 {
		return fmt.Errorf("signing_key must be at least 32 bytes (got %d); set CORDON_SIGNING_KEY", len(c.SigningKey))
	}
	for tier, limit := range c.QueryLimits {
		if limit <= 0 {
			return fmt.Errorf("query limit for tier %s must be positive", tier)
		}
	}
	for tier, limit := range c.ActionValueLimits {
		if limit < 0 {
			return fmt.Errorf("action value limit for tier %s must not be negative", tier)
		}
	}
	if c.AuditRetentionDays <= 0 {
		return fmt.Errorf("audit_retention_days must be positive")
	}
	return nil
}
