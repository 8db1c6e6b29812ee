// In-memory Store implementation.
// Used as a fallback when PostgreSQL is not available (local dev, tests).
// Product requests are snapshotted to disk so they survive restarts; the
// catalog is seeded from a JSON file and never written back.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/storefront-ai/recommender/internal/config"
	"github.com/storefront-ai/recommender/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	ProductRequests []*models.ProductRequest `json:"product_requests"`
}

// catalogSeed is the shape of CATALOG_SEED_FILE.
type catalogSeed struct {
	Categories []models.Category `json:"categories"`
	Products   []seedProduct     `json:"products"`
}

// seedProduct lets a seed file omit "active"; products are active unless
// they say otherwise.
type seedProduct struct {
	models.Product
	Active *bool `json:"active"`
}

// MemoryStore implements Store with in-memory slices and maps.
type MemoryStore struct {
	mu         sync.RWMutex
	categories map[string]*models.Category // key: id
	products   []*models.Product           // catalog insertion order
	requests   []*models.ProductRequest    // insertion order
	requestIdx map[string]int              // key: id → index into requests

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
	debounce     time.Duration
}

// NewMemoryStore creates a new in-memory store. If cfg.CatalogSeed names a
// file, the catalog is loaded from it. If cfg.DataDir is set, product
// requests are persisted to product_requests.json in that directory.
func NewMemoryStore(cfg config.DatabaseConfig) (*MemoryStore, error) {
	m := &MemoryStore{
		categories: make(map[string]*models.Category),
		requestIdx: make(map[string]int),
		saveCh:     make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
		debounce:   500 * time.Millisecond,
	}

	if cfg.CatalogSeed != "" {
		if err := m.loadCatalog(cfg.CatalogSeed); err != nil {
			return nil, err
		}
	}

	if cfg.DataDir != "" {
		m.snapshotPath = filepath.Join(cfg.DataDir, "product_requests.json")
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", cfg.DataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().
		Int("categories", len(m.categories)).
		Int("products", len(m.products)).
		Str("snapshot", m.snapshotPath).
		Msg("Memory store configured")

	return m, nil
}

// SeedCatalog appends categories and products to the catalog. Products with
// no ID get one, and products with no creation time are stamped now.
func (m *MemoryStore) SeedCatalog(categories []models.Category, products []models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range categories {
		c := categories[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		m.categories[c.ID] = &c
	}
	now := time.Now().UTC()
	for i := range products {
		p := products[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.Category == "" && p.CategoryID != "" {
			if c, ok := m.categories[p.CategoryID]; ok {
				p.Category = c.Name
			}
		}
		p.Tags = append([]string(nil), p.Tags...)
		m.products = append(m.products, &p)
	}
}

func (m *MemoryStore) loadCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog seed: %w", err)
	}
	var seed catalogSeed
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse catalog seed %s: %w", path, err)
	}

	products := make([]models.Product, 0, len(seed.Products))
	for _, sp := range seed.Products {
		p := sp.Product
		p.Active = sp.Active == nil || *sp.Active
		products = append(products, p)
	}
	m.SeedCatalog(seed.Categories, products)

	log.Info().
		Str("path", path).
		Int("categories", len(seed.Categories)).
		Int("products", len(products)).
		Msg("Catalog seed loaded")
	return nil
}

// ── Catalog ─────────────────────────────────────────────────

func (m *MemoryStore) FindProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := filter.Normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.Product, 0)
	for _, p := range m.products {
		if !matchesProduct(p, f) {
			continue
		}
		cp := *p
		cp.Tags = append([]string(nil), p.Tags...)
		result = append(result, cp)
		if len(result) >= f.Limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) GetCategory(_ context.Context, id string) (*models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.categories[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "category", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListCategories(_ context.Context) ([]models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.Category, 0, len(m.categories))
	for _, c := range m.categories {
		result = append(result, *c)
	}
	sortCategories(result)
	return result, nil
}

func sortCategories(cs []models.Category) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Name != cs[j].Name {
			return cs[i].Name < cs[j].Name
		}
		return cs[i].ID < cs[j].ID
	})
}

// ── Product Requests ────────────────────────────────────────

func (m *MemoryStore) CreateProductRequest(_ context.Context, req *models.ProductRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = models.ProductRequestPending
	}
	if req.Specifications == nil {
		req.Specifications = []string{}
	}

	m.mu.Lock()
	cp := *req
	if i, ok := m.requestIdx[req.ID]; ok {
		m.requests[i] = &cp
	} else {
		m.requestIdx[req.ID] = len(m.requests)
		m.requests = append(m.requests, &cp)
	}
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) GetProductRequest(_ context.Context, id string) (*models.ProductRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.requestIdx[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "product_request", Key: id}
	}
	cp := *m.requests[i]
	return &cp, nil
}

func (m *MemoryStore) ListProductRequests(_ context.Context, filter ProductRequestFilter) ([]models.ProductRequest, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.ProductRequest, 0)
	for _, r := range m.requests {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		result = append(result, *r)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) UpdateProductRequestStatus(_ context.Context, id string, status models.ProductRequestStatus) (*models.ProductRequest, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid product request status %q", status)
	}

	m.mu.Lock()
	i, ok := m.requestIdx[id]
	if !ok {
		m.mu.Unlock()
		return nil, &ErrNotFound{Entity: "product_request", Key: id}
	}
	r := m.requests[i]
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	cp := *r
	m.mu.Unlock()

	m.requestSave()
	return &cp, nil
}

// ── Persistence ─────────────────────────────────────────────

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests to at most one write per interval.
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			select {
			case <-time.After(m.debounce):
			case <-m.doneCh:
				return
			}
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{ProductRequests: m.requests}, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range snap.ProductRequests {
		if r == nil || r.ID == "" {
			continue
		}
		if _, dup := m.requestIdx[r.ID]; dup {
			continue
		}
		m.requestIdx[r.ID] = len(m.requests)
		m.requests = append(m.requests, r)
	}

	log.Info().
		Int("product_requests", len(m.requests)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}
