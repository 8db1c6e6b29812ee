// Package store provides the catalog and product-request storage used by the
// recommendation service. The in-memory store serves local development and
// tests; the PostgreSQL store serves production.
package store

import (
	"context"
	"strings"

	"github.com/storefront-ai/recommender/pkg/models"
)

// Store is the primary storage interface for the service.
// Handler and engine code depend on this interface so the backing
// implementation can be swapped without touching them.
type Store interface {
	CatalogStore
	ProductRequestStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Catalog Store ───────────────────────────────────────────

// ProductFilter narrows a catalog query. Zero values are unconstrained.
type ProductFilter struct {
	CategoryID  string   // exact match on category_id
	Category    string   // case-insensitive match on category name
	Subcategory string   // case-insensitive match on subcategory
	MinPrice    *float64 // inclusive
	MaxPrice    *float64 // inclusive
	Keywords    []string // any keyword found in name, description, brand or tags
	Limit       int      // max results (default 50)
}

// Normalize lower-cases and trims the filter's text fields and applies the
// default limit.
func (f ProductFilter) Normalize() ProductFilter {
	f.CategoryID = strings.TrimSpace(f.CategoryID)
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	f.Subcategory = strings.ToLower(strings.TrimSpace(f.Subcategory))

	kws := make([]string, 0, len(f.Keywords))
	seen := make(map[string]bool, len(f.Keywords))
	for _, k := range f.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		kws = append(kws, k)
	}
	f.Keywords = kws

	if f.Limit <= 0 {
		f.Limit = 50
	}
	return f
}

// CatalogStore is read-only from the service's point of view. Results come
// back in catalog insertion order.
type CatalogStore interface {
	FindProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error)
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
}

// ── Product Request Store ───────────────────────────────────

// ProductRequestFilter narrows a product-request listing.
type ProductRequestFilter struct {
	Status models.ProductRequestStatus // exact match; empty = any
	Limit  int                         // max results (default 100)
}

type ProductRequestStore interface {
	CreateProductRequest(ctx context.Context, req *models.ProductRequest) error
	GetProductRequest(ctx context.Context, id string) (*models.ProductRequest, error)
	ListProductRequests(ctx context.Context, filter ProductRequestFilter) ([]models.ProductRequest, error)
	UpdateProductRequestStatus(ctx context.Context, id string, status models.ProductRequestStatus) (*models.ProductRequest, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ── Matching helpers ────────────────────────────────────────

// matchesProduct reports whether p satisfies a normalized filter. Inactive
// products never match.
func matchesProduct(p *models.Product, f ProductFilter) bool {
	if !p.Active {
		return false
	}
	if f.CategoryID != "" && p.CategoryID != f.CategoryID {
		return false
	}
	if f.Category != "" && strings.ToLower(p.Category) != f.Category {
		return false
	}
	if f.Subcategory != "" && strings.ToLower(p.Subcategory) != f.Subcategory {
		return false
	}
	if f.MinPrice != nil && p.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}
	if len(f.Keywords) == 0 {
		return true
	}
	text := SearchText(p)
	for _, k := range f.Keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// SearchText is the lower-cased text a product is matched against.
func SearchText(p *models.Product) string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteByte(' ')
	b.WriteString(p.Description)
	b.WriteByte(' ')
	b.WriteString(p.Brand)
	b.WriteByte(' ')
	b.WriteString(p.Subcategory)
	for _, t := range p.Tags {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	return strings.ToLower(b.String())
}
