package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/storefront-ai/recommender/internal/config"
	"github.com/storefront-ai/recommender/pkg/models"
)

func TestBuildProductQuery(t *testing.T) {
	hi := 2000.0
	query, args := buildProductQuery(ProductFilter{
		Category:    " Electronics ",
		Subcategory: "Earbuds",
		MaxPrice:    &hi,
		Keywords:    []string{"Wireless", "wireless", "100%"},
		Limit:       20,
	})

	for _, want := range []string{
		"active = TRUE",
		"lower(category) = $1",
		"lower(subcategory) = $2",
		"price <= $3",
		"LIKE $4 OR ",
		"LIKE $5)",
		"ORDER BY created_at, id LIMIT $6",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}
	if strings.Contains(query, "category_id =") || strings.Contains(query, "price >=") {
		t.Errorf("query has clauses for unset fields:\n%s", query)
	}

	want := []any{"electronics", "earbuds", 2000.0, "%wireless%", `%100\%%`, 20}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestBuildProductQuery_Defaults(t *testing.T) {
	query, args := buildProductQuery(ProductFilter{})
	if !strings.HasSuffix(query, "LIMIT $1") {
		t.Errorf("query = %s", query)
	}
	if len(args) != 1 || args[0] != 50 {
		t.Errorf("args = %v, want [50]", args)
	}
}

// TestPostgresStore runs against a real database when TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := NewPostgresStore(ctx, config.DatabaseConfig{URL: url, MaxConnections: 2})
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer s.Close()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	budget := 1000000.0
	req := &models.ProductRequest{ProductName: "Flying Car", MaxBudget: &budget, Specifications: []string{"red"}}
	if err := s.CreateProductRequest(ctx, req); err != nil {
		t.Fatalf("CreateProductRequest() error = %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(ctx, `DELETE FROM product_requests WHERE id = $1`, req.ID)
	})

	got, err := s.GetProductRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetProductRequest() error = %v", err)
	}
	if got.ProductName != "Flying Car" || got.MaxBudget == nil || *got.MaxBudget != budget {
		t.Errorf("GetProductRequest() = %+v", got)
	}

	updated, err := s.UpdateProductRequestStatus(ctx, req.ID, models.ProductRequestFulfilled)
	if err != nil || updated.Status != models.ProductRequestFulfilled {
		t.Errorf("UpdateProductRequestStatus() = %+v, %v", updated, err)
	}

	var nf *ErrNotFound
	if _, err := s.GetProductRequest(ctx, "does-not-exist"); !errors.As(err, &nf) {
		t.Errorf("GetProductRequest(missing) error = %v, want ErrNotFound", err)
	}

	if _, err := s.FindProducts(ctx, ProductFilter{Category: "nonexistent-category"}); err != nil {
		t.Errorf("FindProducts() error = %v", err)
	}
}
