// Package recommend turns a shopper query into ranked catalog products, and
// logs a product request when the catalog cannot satisfy it.
package recommend

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/storefront-ai/recommender/internal/config"
	"github.com/storefront-ai/recommender/internal/store"
	"github.com/storefront-ai/recommender/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("storefront-recommender/recommend")

// IntentSource extracts a structured intent from a query.
type IntentSource interface {
	Extract(ctx context.Context, query string, conversation []models.ChatMessage) (*models.Intent, error)
}

// Engine runs the recommendation pipeline. It is safe for concurrent use.
type Engine struct {
	intents  IntentSource
	catalog  store.CatalogStore
	requests store.ProductRequestStore
	cfg      config.RecommendConfig
	weights  Weights
}

// NewEngine creates an engine. A nil intents source runs the engine in
// disabled mode: valid requests fail with UPSTREAM_UNAVAILABLE.
func NewEngine(intents IntentSource, catalog store.CatalogStore, requests store.ProductRequestStore, cfg config.RecommendConfig) *Engine {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 1000
	}
	if cfg.MaxResultsCap <= 0 {
		cfg.MaxResultsCap = 5
	}
	if cfg.DefaultMaxResults <= 0 || cfg.DefaultMaxResults > cfg.MaxResultsCap {
		cfg.DefaultMaxResults = cfg.MaxResultsCap
	}
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = 5 * time.Second
	}
	return &Engine{
		intents:  intents,
		catalog:  catalog,
		requests: requests,
		cfg:      cfg,
		weights: Weights{
			Keyword:  cfg.KeywordWeight,
			Price:    cfg.PriceWeight,
			Featured: cfg.FeaturedBoost,
		},
	}
}

// Recommend answers a request. It always returns a well-formed result and
// never panics.
func (e *Engine) Recommend(ctx context.Context, req models.RecommendRequest) (res *models.RecommendationResult) {
	ctx, span := tracer.Start(ctx, "recommend.Recommend")
	span.SetAttributes(attribute.Int("recommend.query_length", utf8.RuneCountInString(req.Query)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recommendation panicked")
			span.SetStatus(codes.Error, "panic")
			res = failure(models.ErrInternal, msgInternal)
		}
	}()

	res, err := e.recommend(ctx, req)
	if err != nil {
		code, msg := classify(err)
		switch code {
		case models.ErrInvalidInput:
			log.Debug().Err(err).Msg("Recommendation rejected")
		case models.ErrUpstreamUnavailable:
			log.Warn().Err(err).Msg("Recommendation degraded: upstream unavailable")
		default:
			log.Error().Err(err).Msg("Recommendation failed")
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, string(code))
		span.SetAttributes(attribute.String("recommend.outcome", string(code)))
		return failure(code, msg)
	}

	span.SetAttributes(
		attribute.String("recommend.outcome", "success"),
		attribute.Int("recommend.results", len(res.Recommendations)),
		attribute.Bool("recommend.product_request", res.ProductRequestID != ""),
	)
	return res
}

// request carries per-call state through the pipeline.
type request struct {
	query string
	ctx   models.RecommendContext
	limit int
}

func (e *Engine) recommend(ctx context.Context, in models.RecommendRequest) (*models.RecommendationResult, error) {
	r, err := e.validate(in)
	if err != nil {
		return nil, err
	}
	if e.intents == nil {
		return nil, ErrDisabled
	}

	it, err := e.intents.Extract(ctx, r.query, r.ctx.Conversation)
	if err != nil {
		return nil, err
	}

	budget := it.Budget
	if budget.Max == nil && r.ctx.Budget != nil {
		b := *r.ctx.Budget
		budget.Max = &b
		if budget.Min != nil && *budget.Min > b {
			budget.Min = nil
		}
	}

	candidates, err := e.retrieve(ctx, store.ProductFilter{
		CategoryID:  r.ctx.CategoryID,
		Category:    it.Category,
		Subcategory: it.Subcategory,
		MinPrice:    budget.Min,
		MaxPrice:    budget.Max,
		Keywords:    it.Requirements,
		Limit:       e.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, err
	}

	ranked := Rank(candidates, it.Requirements, budget, e.weights)
	if len(ranked) > r.limit {
		ranked = ranked[:r.limit]
	}

	confident := it.Confidence == nil || *it.Confidence >= e.cfg.ConfidenceThreshold
	if len(ranked) > 0 && confident {
		return &models.RecommendationResult{
			Success:         true,
			Recommendations: ranked,
			Summary:         foundSummary(len(ranked), e.categoryName(ctx, it, r.ctx.CategoryID)),
		}, nil
	}

	log.Debug().
		Int("candidates", len(candidates)).
		Bool("confident", confident).
		Msg("No suitable match, handling as missing product")
	return e.handleMissingProduct(ctx, r, it), nil
}

func (e *Engine) validate(in models.RecommendRequest) (*request, error) {
	q := strings.TrimSpace(in.Query)
	if q == "" {
		return nil, &ValidationError{Message: "query is required"}
	}
	if utf8.RuneCountInString(q) > e.cfg.MaxQueryLength {
		return nil, &ValidationError{Message: fmt.Sprintf("query must be at most %d characters", e.cfg.MaxQueryLength)}
	}

	var rc models.RecommendContext
	if in.Context != nil {
		rc = *in.Context
	}
	if rc.Budget != nil && (*rc.Budget < 0 || math.IsNaN(*rc.Budget) || math.IsInf(*rc.Budget, 0)) {
		return nil, &ValidationError{Message: "context.budget must be a non-negative number"}
	}
	if in.MaxResults < 0 {
		return nil, &ValidationError{Message: "maxResults must not be negative"}
	}

	limit := in.MaxResults
	if limit == 0 {
		limit = e.cfg.DefaultMaxResults
	}
	if limit > e.cfg.MaxResultsCap {
		limit = e.cfg.MaxResultsCap
	}

	return &request{
		query: q,
		ctx:   rc,
		limit: limit,
	}, nil
}

// retrieve reads the catalog, retrying once. Each attempt has its own timeout.
func (e *Engine) retrieve(ctx context.Context, filter store.ProductFilter) ([]models.Product, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.CatalogTimeout)
		products, err := e.catalog.FindProducts(attemptCtx, filter)
		cancel()
		if err == nil {
			return products, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("Catalog read failed")
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, lastErr)
}

// categoryName names the category for the summary: the intent's category,
// else the name of the category hinted by the caller's context.
func (e *Engine) categoryName(ctx context.Context, it *models.Intent, categoryID string) string {
	if it.Category != "" || categoryID == "" {
		return it.Category
	}
	c, err := e.catalog.GetCategory(ctx, categoryID)
	if err != nil {
		log.Debug().Err(err).Str("category_id", categoryID).Msg("Context category not resolved")
		return ""
	}
	return c.Name
}

func foundSummary(n int, category string) string {
	noun := "products"
	if n == 1 {
		noun = "product"
	}
	if category != "" {
		return fmt.Sprintf("Found %d %s in %s matching your request.", n, noun, category)
	}
	return fmt.Sprintf("Found %d %s matching your request.", n, noun)
}
