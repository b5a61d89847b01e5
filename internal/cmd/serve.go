package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cordon-io/cordon/internal/advisor"
	"github.com/cordon-io/cordon/internal/audit"
	"github.com/cordon-io/cordon/internal/classifier"
	"github.com/cordon-io/cordon/internal/config"
	"github.com/cordon-io/cordon/internal/knowledge"
	"github.com/cordon-io/cordon/internal/pdp"
	"github.com/cordon-io/cordon/internal/perimeter"
	"github.com/cordon-io/cordon/internal/pipeline"
	"github.com/cordon-io/cordon/internal/policy"
	"github.com/cordon-io/cordon/internal/server"
)

var (
	serveAddr      string
	serveGlobalRPM int
	serveCallerRPM int
	serveSeed      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cordon HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8400)")
	serveCmd.Flags().IntVar(&serveGlobalRPM, "global-rpm", 600, "global request rate limit per minute")
	serveCmd.Flags().IntVar(&serveCallerRPM, "caller-rpm", 120, "per-caller request rate limit per minute")
	serveCmd.Flags().BoolVar(&serveSeed, "seed-knowledge", false, "seed the knowledge catalog with the default documents")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> caller name from CORDON_API_KEYS
// (comma-separated; each entry key or key:caller).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		caller := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			caller = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = caller
	}
	return m
}

// components bundles everything a pipeline run needs plus the stores that
// have to be closed on shutdown.
type components struct {
	orch      *pipeline.Orchestrator
	audit     *audit.Store
	knowledge *knowledge.Store
	redis     *redis.Client
}

func (c *components) close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.knowledge != nil {
		_ = c.knowledge.Close()
	}
	if c.audit != nil {
		_ = c.audit.Close()
	}
}

func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}

	engine, err := policy.NewEngine(ctx, &policy.Thresholds{
		QueryLimits:       cfg.QueryLimits,
		ActionValueLimits: cfg.ActionValueLimits,
	})
	if err != nil {
		return nil, fmt.Errorf("policy engine: %w", err)
	}

	scanner, err := classifier.NewScanner()
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	var clientOpts []pdp.Option
	if cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		clientOpts = append(clientOpts, pdp.WithCache(pdp.NewRedisCache(c.redis, cfg.DecisionCacheTTL)))
	}
	checker := pdp.NewClient(cfg.PDPEndpoint, cfg.PDPCredential, cfg.PDPTimeout, clientOpts...)

	c.audit, err = audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("initializing audit store: %w", err)
	}

	c.knowledge, err = knowledge.NewStore(cfg.KnowledgeDBPath())
	if err != nil {
		c.close()
		return nil, fmt.Errorf("initializing knowledge catalog: %w", err)
	}

	capability := advisor.NewOpenAIAdvisor(cfg.OpenAIAPIKey, cfg.OpenAIModel)

	c.orch = pipeline.New(
		perimeter.NewQueryValidator(engine, checker, scanner),
		perimeter.NewKnowledgeFilter(checker),
		perimeter.NewActionAuthorizer(engine, checker),
		perimeter.NewResponseEnforcer(engine, checker, scanner),
		capability,
		c.knowledge,
		c.audit,
	)
	return c, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if cfg.UsingDefaultSigningKey() {
		log.Warn().Msg("CORDON_SIGNING_KEY not set, audit records are signed with a derived key. Set for production.")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("CORDON_OPENAI_API_KEY not set, advice requests will fail at agent invocation")
	}

	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.close()

	if serveSeed {
		n, err := comps.knowledge.Seed(ctx, knowledge.DefaultCatalog)
		if err != nil {
			return fmt.Errorf("seeding knowledge catalog: %w", err)
		}
		log.Info().Int("inserted", n).Msg("knowledge_catalog_seeded")
	}

	retention := audit.NewRetention(comps.audit, cfg.AuditRetentionDays)
	if err := retention.Start(); err != nil {
		return fmt.Errorf("starting retention: %w", err)
	}
	defer retention.Stop()

	apiKeys := parseAPIKeys(os.Getenv("CORDON_API_KEYS"))
	if len(apiKeys) == 0 {
		log.Warn().Msg("CORDON_API_KEYS not set, all API endpoints will return 401. Set for production.")
	}

	srv := server.NewServer(
		comps.orch,
		comps.audit,
		apiKeys,
		server.WithRateLimiter(server.NewRateLimiter(serveGlobalRPM, serveCallerRPM)),
	)

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("pdp_endpoint", cfg.PDPEndpoint).
		Bool("decision_cache", cfg.RedisAddr != "").
		Int("audit_retention_days", cfg.AuditRetentionDays).
		Msg("cordon_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
