// Storefront recommender: turns free-text shopper queries into ranked catalog
// products through an upstream language model, rotating a pool of API keys.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storefront-ai/recommender/internal/config"
	"github.com/storefront-ai/recommender/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)

	log.Info().Msg("🛒 Storefront recommender starting...")

	ctx := context.Background()
	srv, err := server.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		// Flushes pending product-request snapshots in memory mode.
		if err := srv.Store.Close(); err != nil {
			log.Warn().Err(err).Msg("Store close failed")
		}
		if err := srv.ShutdownFunc(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Telemetry flush failed")
		}
	}()

	ev := log.Info().
		Int("port", srv.Port).
		Str("version", cfg.Version).
		Str("provider", cfg.LLM.Provider)
	if srv.Pool != nil {
		ev = ev.Int("api_keys", srv.Pool.Size())
	}
	ev.Msg("🚀 Recommender ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
	<-done
}

// setupLogging applies LOG_FORMAT and LOG_LEVEL.
func setupLogging(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown LOG_LEVEL, keeping default")
		return
	}
	if lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
}
