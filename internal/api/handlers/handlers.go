// Package handlers implements the HTTP handlers of the recommendation service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/storefront-ai/recommender/internal/api/middleware"
	"github.com/storefront-ai/recommender/internal/store"
	"github.com/storefront-ai/recommender/pkg/models"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Recommender answers recommendation requests.
type Recommender interface {
	Recommend(ctx context.Context, req models.RecommendRequest) *models.RecommendationResult
}

// CredentialPool is the administrative view of the upstream credential pool.
type CredentialPool interface {
	Health() models.PoolHealth
	Reset()
}

// Handlers holds the dependencies for HTTP handlers.
type Handlers struct {
	Engine  Recommender
	Pool    CredentialPool // nil when no credentials are configured
	Store   store.Store
	Version string
}

// New creates a new Handlers instance. pool may be nil.
func New(engine Recommender, pool CredentialPool, s store.Store, version string) *Handlers {
	return &Handlers{
		Engine:  engine,
		Pool:    pool,
		Store:   s,
		Version: version,
	}
}

// ── Recommend ───────────────────────────────────────────────

// Recommend handles POST /recommend.
func (h *Handlers) Recommend(w http.ResponseWriter, r *http.Request) {
	var req models.RecommendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		respondResult(w, r, invalidInput("request body must be a JSON object"))
		return
	}
	respondResult(w, r, h.Engine.Recommend(r.Context(), req))
}

// RecommendQuery handles GET /recommend?q=&budget=&category=.
func (h *Handlers) RecommendQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.RecommendRequest{
		Query:      q.Get("q"),
		MaxResults: 5,
	}

	rc := &models.RecommendContext{CategoryID: strings.TrimSpace(q.Get("category"))}
	if raw := strings.TrimSpace(q.Get("budget")); raw != "" {
		b, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(b) || math.IsInf(b, 0) {
			respondResult(w, r, invalidInput("budget must be a number"))
			return
		}
		rc.Budget = &b
	}
	req.Context = rc

	respondResult(w, r, h.Engine.Recommend(r.Context(), req))
}

func invalidInput(msg string) *models.RecommendationResult {
	return &models.RecommendationResult{
		Success:         false,
		Recommendations: []models.Product{},
		Error:           msg,
		Code:            models.ErrInvalidInput,
	}
}

// respondResult writes a recommendation result: 200 on success, 400 for
// invalid input and 500 otherwise.
func respondResult(w http.ResponseWriter, r *http.Request, res *models.RecommendationResult) {
	code := "OK"
	if res.Code != "" {
		code = string(res.Code)
	}
	middleware.Annotate(r.Context(), "result_code", code)
	middleware.Annotate(r.Context(), "recommendations", strconv.Itoa(len(res.Recommendations)))
	if res.ProductRequestID != "" {
		middleware.Annotate(r.Context(), "product_request_id", res.ProductRequestID)
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
		if res.Code == models.ErrInvalidInput {
			status = http.StatusBadRequest
		}
	}
	respondJSON(w, status, res)
}

// ── Health ──────────────────────────────────────────────────

type apiKeysStatus struct {
	Configured   int                `json:"configured"`
	Healthy      int                `json:"healthy"`
	ActiveIndex  int                `json:"activeIndex"`
	LastRotation *time.Time         `json:"lastRotation"`
	Keys         []models.KeyHealth `json:"keys"`
}

type healthResponse struct {
	Status   string        `json:"status"`
	Service  string        `json:"service"`
	Version  string        `json:"version"`
	APIKeys  apiKeysStatus `json:"apiKeys"`
	Store    string        `json:"store"`
	Warnings []string      `json:"warnings"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Service:  "storefront-recommender",
		Version:  h.Version,
		Store:    "ok",
		APIKeys:  apiKeysStatus{Keys: []models.KeyHealth{}},
		Warnings: []string{},
	}

	if h.Pool != nil {
		ph := h.Pool.Health()
		resp.APIKeys = apiKeysStatus{
			Configured:   ph.TotalKeys,
			Healthy:      ph.HealthyKeys(),
			ActiveIndex:  ph.ActiveKeyIndex,
			LastRotation: ph.LastRotation,
			Keys:         ph.Keys,
		}
	}

	n := resp.APIKeys.Configured
	if n == 0 {
		resp.Status = "degraded"
		resp.Warnings = append(resp.Warnings, "No upstream API keys configured; recommendations are disabled.")
	}
	if n == 1 {
		resp.Warnings = append(resp.Warnings, "Only one upstream API key configured; there is no failover.")
	}
	if n > 0 && resp.APIKeys.Healthy == 0 {
		resp.Status = "degraded"
		resp.Warnings = append(resp.Warnings, "All upstream API keys are currently unhealthy.")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	if err := h.Store.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check: store unreachable")
		resp.Status = "error"
		resp.Store = "unreachable"
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, resp)
}

// VersionInfo handles GET /version.
func (h *Handlers) VersionInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
		"service": "storefront-recommender",
	})
}

// ── Catalog ─────────────────────────────────────────────────

// ListCategories handles GET /categories. The UI offers these as the
// categoryId hint for /recommend.
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Store.ListCategories(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list categories")
		respondError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if cats == nil {
		cats = []models.Category{}
	}
	respondJSON(w, http.StatusOK, cats)
}

// ── Admin ───────────────────────────────────────────────────

// ResetKeys handles POST /admin/keys/reset.
func (h *Handlers) ResetKeys(w http.ResponseWriter, r *http.Request) {
	if h.Pool == nil {
		respondError(w, http.StatusConflict, "no upstream API keys configured")
		return
	}
	h.Pool.Reset()
	log.Info().Str("remote", r.RemoteAddr).Msg("Credential pool reset by admin")
	respondJSON(w, http.StatusOK, h.Pool.Health())
}

// ListProductRequests handles GET /admin/product-requests?status=&limit=.
func (h *Handlers) ListProductRequests(w http.ResponseWriter, r *http.Request) {
	var filter store.ProductRequestFilter

	if s := r.URL.Query().Get("status"); s != "" {
		status := models.ProductRequestStatus(s)
		if !status.Valid() {
			respondError(w, http.StatusBadRequest, "status must be one of pending, reviewed, fulfilled")
			return
		}
		filter.Status = status
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	reqs, err := h.Store.ListProductRequests(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list product requests")
		respondError(w, http.StatusInternalServerError, "failed to list product requests")
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

// UpdateProductRequest handles PATCH /admin/product-requests/{id}.
func (h *Handlers) UpdateProductRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status models.ProductRequestStatus `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !body.Status.Valid() {
		respondError(w, http.StatusBadRequest, "status must be one of pending, reviewed, fulfilled")
		return
	}

	updated, err := h.Store.UpdateProductRequestStatus(r.Context(), id, body.Status)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to update product request")
		respondError(w, http.StatusInternalServerError, "failed to update product request")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
