package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the recommendation service.
type Config struct {
	Port      int
	Version   string
	LogLevel  string
	LogFormat string // "console" or "json"
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	LLM       LLMConfig
	Pool      PoolConfig
	Recommend RecommendConfig
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	DataDir        string // memory-mode snapshot directory; empty disables persistence
	CatalogSeed    string // JSON file with categories and products for memory mode
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Insecure     bool    // plaintext gRPC to the collector
	SampleRatio  float64 // fraction of root traces kept, 0..1
}

type AuthConfig struct {
	// Comma-separated keys guarding the /admin routes.
	AdminAPIKeys []string
}

type LLMConfig struct {
	Provider string // "openai" (any OpenAI-compatible endpoint) or "anthropic"
	BaseURL  string
	Model    string
	APIKeys  []string
}

// PoolConfig tunes the credential pool.
type PoolConfig struct {
	FailureCeiling     int
	RateLimitBase      time.Duration
	RateLimitMax       time.Duration
	RateLimitFactor    float64
	UnknownCooldown    time.Duration
	QuarantineDuration time.Duration
	RotateEvery        int
}

// RecommendConfig tunes intent handling and ranking.
type RecommendConfig struct {
	MaxQueryLength      int
	DefaultMaxResults   int
	MaxResultsCap       int
	CandidateLimit      int
	ConfidenceThreshold float64
	KeywordWeight       float64
	PriceWeight         float64
	FeaturedBoost       float64
	IntentTimeout       time.Duration
	CatalogTimeout      time.Duration
}

// tuning is the shape of the optional YAML tuning file. Fields are pointers
// so an explicit zero (featured_boost: 0) is told apart from an absent key.
type tuning struct {
	Pool *struct {
		FailureCeiling     *int           `yaml:"failure_ceiling"`
		RateLimitBase      *time.Duration `yaml:"rate_limit_base"`
		RateLimitMax       *time.Duration `yaml:"rate_limit_max"`
		RateLimitFactor    *float64       `yaml:"rate_limit_factor"`
		UnknownCooldown    *time.Duration `yaml:"unknown_cooldown"`
		QuarantineDuration *time.Duration `yaml:"quarantine"`
		RotateEvery        *int           `yaml:"rotate_every"`
	} `yaml:"pool"`
	Recommend *struct {
		MaxQueryLength      *int           `yaml:"max_query_length"`
		DefaultMaxResults   *int           `yaml:"default_max_results"`
		MaxResultsCap       *int           `yaml:"max_results_cap"`
		CandidateLimit      *int           `yaml:"candidate_limit"`
		ConfidenceThreshold *float64       `yaml:"confidence_threshold"`
		KeywordWeight       *float64       `yaml:"keyword_weight"`
		PriceWeight         *float64       `yaml:"price_weight"`
		FeaturedBoost       *float64       `yaml:"featured_boost"`
		IntentTimeout       *time.Duration `yaml:"intent_timeout"`
		CatalogTimeout      *time.Duration `yaml:"catalog_timeout"`
	} `yaml:"recommend"`
}

// Load reads configuration from environment variables with sensible defaults.
// If RECOMMENDER_TUNING_FILE names a YAML file, the keys it sets override
// the pool and ranking parameters.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      envInt("RECOMMENDER_PORT", 8080),
		Version:   envStr("RECOMMENDER_VERSION", "0.1.0"),
		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "console"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 10),
			DataDir:        envStr("RECOMMENDER_DATA_DIR", ""),
			CatalogSeed:    envStr("CATALOG_SEED_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "storefront-recommender"),
			Insecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		Auth: AuthConfig{
			AdminAPIKeys: envList("ADMIN_API_KEYS"),
		},
		LLM: LLMConfig{
			Provider: envStr("LLM_PROVIDER", "openai"),
			BaseURL:  envStr("LLM_BASE_URL", ""),
			Model:    envStr("LLM_MODEL", "gpt-4o-mini"),
			APIKeys:  apiKeysFromEnv(),
		},
		Pool: PoolConfig{
			FailureCeiling:     envInt("KEYPOOL_FAILURE_CEILING", 5),
			RateLimitBase:      envDuration("KEYPOOL_RATE_LIMIT_BASE", 30*time.Second),
			RateLimitMax:       envDuration("KEYPOOL_RATE_LIMIT_MAX", 10*time.Minute),
			RateLimitFactor:    envFloat("KEYPOOL_RATE_LIMIT_FACTOR", 2),
			UnknownCooldown:    envDuration("KEYPOOL_UNKNOWN_COOLDOWN", 10*time.Second),
			QuarantineDuration: envDuration("KEYPOOL_QUARANTINE", 5*time.Minute),
			RotateEvery:        envInt("KEYPOOL_ROTATE_EVERY", 0),
		},
		Recommend: RecommendConfig{
			MaxQueryLength:      envInt("RECOMMEND_MAX_QUERY_LENGTH", 1000),
			DefaultMaxResults:   envInt("RECOMMEND_DEFAULT_MAX_RESULTS", 5),
			MaxResultsCap:       envInt("RECOMMEND_MAX_RESULTS_CAP", 5),
			CandidateLimit:      envInt("RECOMMEND_CANDIDATE_LIMIT", 50),
			ConfidenceThreshold: envFloat("RECOMMEND_CONFIDENCE_THRESHOLD", 0.5),
			KeywordWeight:       envFloat("RECOMMEND_KEYWORD_WEIGHT", 0.6),
			PriceWeight:         envFloat("RECOMMEND_PRICE_WEIGHT", 0.3),
			FeaturedBoost:       envFloat("RECOMMEND_FEATURED_BOOST", 0.1),
			IntentTimeout:       envDuration("RECOMMEND_INTENT_TIMEOUT", 15*time.Second),
			CatalogTimeout:      envDuration("RECOMMEND_CATALOG_TIMEOUT", 5*time.Second),
		},
	}

	if path := envStr("RECOMMENDER_TUNING_FILE", ""); path != "" {
		if err := cfg.applyTuningFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyTuningFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tuning file: %w", err)
	}
	var t tuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parse tuning file %s: %w", path, err)
	}

	if p := t.Pool; p != nil {
		set(&c.Pool.FailureCeiling, p.FailureCeiling)
		set(&c.Pool.RateLimitBase, p.RateLimitBase)
		set(&c.Pool.RateLimitMax, p.RateLimitMax)
		set(&c.Pool.RateLimitFactor, p.RateLimitFactor)
		set(&c.Pool.UnknownCooldown, p.UnknownCooldown)
		set(&c.Pool.QuarantineDuration, p.QuarantineDuration)
		set(&c.Pool.RotateEvery, p.RotateEvery)
	}
	if r := t.Recommend; r != nil {
		set(&c.Recommend.MaxQueryLength, r.MaxQueryLength)
		set(&c.Recommend.DefaultMaxResults, r.DefaultMaxResults)
		set(&c.Recommend.MaxResultsCap, r.MaxResultsCap)
		set(&c.Recommend.CandidateLimit, r.CandidateLimit)
		set(&c.Recommend.ConfidenceThreshold, r.ConfidenceThreshold)
		set(&c.Recommend.KeywordWeight, r.KeywordWeight)
		set(&c.Recommend.PriceWeight, r.PriceWeight)
		set(&c.Recommend.FeaturedBoost, r.FeaturedBoost)
		set(&c.Recommend.IntentTimeout, r.IntentTimeout)
		set(&c.Recommend.CatalogTimeout, r.CatalogTimeout)
	}
	return nil
}

// apiKeysFromEnv collects upstream credentials from LLM_API_KEYS (comma
// separated) followed by numbered LLM_API_KEY_1..n variables in numeric order.
func apiKeysFromEnv() []string {
	keys := envList("LLM_API_KEYS")

	type numbered struct {
		n   int
		key string
	}
	var extra []numbered
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, "LLM_API_KEY_") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "LLM_API_KEY_"))
		if err != nil || strings.TrimSpace(value) == "" {
			continue
		}
		extra = append(extra, numbered{n: n, key: strings.TrimSpace(value)})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].n < extra[j].n })

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	for _, e := range extra {
		if !seen[e.key] {
			keys = append(keys, e.key)
			seen[e.key] = true
		}
	}
	return keys
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// set overwrites dst when the tuning file provided a value.
func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
