// Package server provides the public entry point for initializing the
// recommendation service.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/storefront-ai/recommender/internal/api"
	"github.com/storefront-ai/recommender/internal/api/handlers"
	"github.com/storefront-ai/recommender/internal/config"
	"github.com/storefront-ai/recommender/internal/intent"
	"github.com/storefront-ai/recommender/internal/keypool"
	"github.com/storefront-ai/recommender/internal/llm"
	"github.com/storefront-ai/recommender/internal/recommend"
	"github.com/storefront-ai/recommender/internal/store"
	"github.com/storefront-ai/recommender/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized recommendation service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the catalog and product-request store.
	Store store.Store

	// Pool is the upstream credential pool; nil when none are configured.
	Pool *keypool.Pool

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New loads configuration from the environment and builds the server.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig builds the server from an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}

	pool, err := NewPool(cfg.LLM.APIKeys, cfg.Pool)
	var cfgErr *keypool.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		log.Warn().Err(err).Msg("⚠️  No upstream API keys configured, recommendations disabled")
	case err != nil:
		dataStore.Close()
		shutdown(ctx)
		return nil, err
	default:
		log.Info().Int("keys", pool.Size()).Msg("✅ Credential pool initialized")
	}

	// Interfaces are left nil, not holding a nil pointer, when disabled.
	var (
		intents  recommend.IntentSource
		poolView handlers.CredentialPool
	)
	if pool != nil {
		completer, err := llm.NewCompleter(cfg.LLM)
		if err != nil {
			dataStore.Close()
			shutdown(ctx)
			return nil, fmt.Errorf("init llm: %w", err)
		}
		intents = intent.NewExtractor(pool, completer, cfg.Recommend.IntentTimeout)
		poolView = pool
		log.Info().
			Str("provider", cfg.LLM.Provider).
			Str("model", cfg.LLM.Model).
			Msg("✅ Intent extractor initialized")
	}

	engine := recommend.NewEngine(intents, dataStore, dataStore, cfg.Recommend)
	h := handlers.New(engine, poolView, dataStore, cfg.Version)

	return &Server{
		Handler:      api.NewRouter(cfg, h),
		Store:        dataStore,
		Pool:         pool,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// NewPool builds the credential pool with the configured tuning.
func NewPool(secrets []string, pc config.PoolConfig) (*keypool.Pool, error) {
	return keypool.New(secrets,
		keypool.WithFailureCeiling(pc.FailureCeiling),
		keypool.WithRateLimitBackoff(pc.RateLimitBase, pc.RateLimitMax, pc.RateLimitFactor),
		keypool.WithUnknownCooldown(pc.UnknownCooldown),
		keypool.WithQuarantine(pc.QuarantineDuration),
		keypool.WithRotateEvery(pc.RotateEvery),
	)
}

// openStore uses PostgreSQL when DATABASE_URL is set and reachable, and the
// in-memory store otherwise.
func openStore(ctx context.Context, dc config.DatabaseConfig) (store.Store, error) {
	if dc.URL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pg, err := store.NewPostgresStore(connectCtx, dc)
		cancel()
		if err == nil {
			log.Info().Msg("✅ PostgreSQL store initialized")
			return pg, nil
		}
		log.Warn().Err(err).Msg("⚠️  PostgreSQL unavailable, falling back to in-memory store")
	}

	ms, err := store.NewMemoryStore(dc)
	if err != nil {
		return nil, fmt.Errorf("init memory store: %w", err)
	}
	log.Info().Msg("✅ In-memory store initialized")
	return ms, nil
}
