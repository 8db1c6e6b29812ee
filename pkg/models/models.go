package models

import (
	"time"
)

// ── Catalog ──────────────────────────────────────────────────

// Product is a catalog item. The recommendation engine only reads products;
// they are owned by the catalog store.
type Product struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Slug          string    `json:"slug,omitempty" db:"slug"`
	Description   string    `json:"description,omitempty" db:"description"`
	Brand         string    `json:"brand,omitempty" db:"brand"`
	CategoryID    string    `json:"category_id,omitempty" db:"category_id"`
	Category      string    `json:"category,omitempty" db:"category"`
	Subcategory   string    `json:"subcategory,omitempty" db:"subcategory"`
	Tags          []string  `json:"tags,omitempty"`
	Price         float64   `json:"price" db:"price"`
	Currency      string    `json:"currency,omitempty" db:"currency"`
	Featured      bool      `json:"featured" db:"featured"`
	AverageRating float64   `json:"average_rating" db:"average_rating"`
	Stock         int       `json:"stock" db:"stock"`
	Active        bool      `json:"active" db:"active"`
	ImageURL      string    `json:"image_url,omitempty" db:"image_url"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Category groups products in the storefront navigation.
type Category struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Slug     string `json:"slug,omitempty" db:"slug"`
	ParentID string `json:"parent_id,omitempty" db:"parent_id"`
}

// ── Product Requests ─────────────────────────────────────────

// ProductRequestStatus tracks the manual follow-up of a product request.
type ProductRequestStatus string

const (
	ProductRequestPending   ProductRequestStatus = "pending"
	ProductRequestReviewed  ProductRequestStatus = "reviewed"
	ProductRequestFulfilled ProductRequestStatus = "fulfilled"
)

// Valid reports whether s is a known status.
func (s ProductRequestStatus) Valid() bool {
	switch s {
	case ProductRequestPending, ProductRequestReviewed, ProductRequestFulfilled:
		return true
	}
	return false
}

// ProductRequest is logged when the catalog cannot satisfy a shopper.
type ProductRequest struct {
	ID             string               `json:"id" db:"id"`
	ProductName    string               `json:"product_name" db:"product_name"`
	Description    string               `json:"description" db:"description"`
	Category       string               `json:"category,omitempty" db:"category"`
	MaxBudget      *float64             `json:"max_budget,omitempty" db:"max_budget"`
	Specifications []string             `json:"specifications"`
	Status         ProductRequestStatus `json:"status" db:"status"`
	UserContact    string               `json:"user_contact,omitempty" db:"user_contact"`
	SourceQuery    string               `json:"source_query,omitempty" db:"source_query"`
	CreatedAt      time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at" db:"updated_at"`
}

// ── Intent ───────────────────────────────────────────────────

// Budget is the price band a shopper asked for. Nil bounds are unconstrained.
type Budget struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// IsSet reports whether either bound is present.
func (b Budget) IsSet() bool {
	return b.Min != nil || b.Max != nil
}

// ProductRequestData is what the language model extracted about an item the
// shopper wants but the catalog may not carry.
type ProductRequestData struct {
	Name           string   `json:"name"`
	Category       string   `json:"category,omitempty"`
	MaxBudget      *float64 `json:"maxBudget"`
	Specifications []string `json:"specifications"`
}

// Intent is the structured interpretation of a free-text shopper query.
// Confidence is nil when the model gave no confidence signal.
type Intent struct {
	Category           string              `json:"category,omitempty"`
	Subcategory        string              `json:"subcategory,omitempty"`
	Requirements       []string            `json:"requirements"`
	Budget             Budget              `json:"budget"`
	Preferences        []string            `json:"preferences"`
	UseCase            string              `json:"useCase,omitempty"`
	Confidence         *float64            `json:"confidence,omitempty"`
	ProductRequestData *ProductRequestData `json:"productRequestData,omitempty"`
}

// ── Recommendation ───────────────────────────────────────────

// ChatMessage is a single turn of prior conversation passed to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RecommendContext carries optional shopper hints.
type RecommendContext struct {
	Budget       *float64      `json:"budget,omitempty"`
	CategoryID   string        `json:"categoryId,omitempty"`
	UserContact  string        `json:"userContact,omitempty"`
	Conversation []ChatMessage `json:"conversation,omitempty"`
}

// RecommendRequest is the inbound "find me a product like X" request.
type RecommendRequest struct {
	Query      string            `json:"query"`
	Context    *RecommendContext `json:"context,omitempty"`
	MaxResults int               `json:"maxResults,omitempty"`
}

// ErrorCode classifies a failed recommendation.
type ErrorCode string

const (
	ErrInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrPersistenceFailure  ErrorCode = "PERSISTENCE_FAILURE"
	ErrInternal            ErrorCode = "INTERNAL"
)

// RecommendationResult is always well formed, whatever happened upstream.
type RecommendationResult struct {
	Success          bool      `json:"success"`
	Recommendations  []Product `json:"recommendations"`
	Summary          string    `json:"summary"`
	Error            string    `json:"error,omitempty"`
	Code             ErrorCode `json:"code,omitempty"`
	ProductRequestID string    `json:"productRequestId,omitempty"`
}

// ── Credential Pool Health ───────────────────────────────────

// KeyHealth describes one pooled credential. The secret is always masked.
type KeyHealth struct {
	Index             int       `json:"index"`
	MaskedSecret      string    `json:"maskedSecret"`
	CallCount         int       `json:"callCount"`
	ConsecutiveFails  int       `json:"consecutiveFailures"`
	LastUsed          time.Time `json:"lastUsed,omitempty"`
	IsActive          bool      `json:"isActive"`
	IsHealthy         bool      `json:"isHealthy"`
	RateLimited       bool      `json:"rateLimited"`
	AuthFailed        bool      `json:"authFailed"`
	CooldownRemaining int64     `json:"cooldownRemaining"` // seconds
}

// PoolHealth is a read-only view of the credential pool.
type PoolHealth struct {
	TotalKeys      int         `json:"totalKeys"`
	ActiveKeyIndex int         `json:"activeKeyIndex"`
	LastRotation   *time.Time  `json:"lastRotation"`
	Keys           []KeyHealth `json:"keys"`
}

// HealthyKeys counts credentials that can currently be dispensed.
func (h PoolHealth) HealthyKeys() int {
	n := 0
	for _, k := range h.Keys {
		if k.IsHealthy {
			n++
		}
	}
	return n
}
