package telemetry_test

import (
	"context"
	"testing"

	"github.com/storefront-ai/recommender/internal/config"
	"github.com/storefront-ai/recommender/internal/telemetry"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	for _, cfg := range []config.TelemetryConfig{
		{Enabled: false, OTLPEndpoint: "localhost:4317"},
		{Enabled: true, OTLPEndpoint: ""},
	} {
		shutdown, err := telemetry.Init(context.Background(), cfg, "test")
		if err != nil {
			t.Fatalf("Init(%+v) error = %v", cfg, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown() error = %v", err)
		}
	}
}
