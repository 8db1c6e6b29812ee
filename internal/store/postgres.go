package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/storefront-ai/recommender/internal/config"
	"github.com/storefront-ai/recommender/pkg/models"
)

// PostgresStore implements Store on PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and migrates. The caller falls back to the
// memory store on error.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("database", poolCfg.ConnConfig.Database).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS categories (
			id        TEXT PRIMARY KEY,
			name      TEXT NOT NULL,
			slug      TEXT NOT NULL DEFAULT '',
			parent_id TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS products (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			slug           TEXT NOT NULL DEFAULT '',
			description    TEXT NOT NULL DEFAULT '',
			brand          TEXT NOT NULL DEFAULT '',
			category_id    TEXT NOT NULL DEFAULT '',
			category       TEXT NOT NULL DEFAULT '',
			subcategory    TEXT NOT NULL DEFAULT '',
			tags           TEXT[] NOT NULL DEFAULT '{}',
			price          DOUBLE PRECISION NOT NULL DEFAULT 0,
			currency       TEXT NOT NULL DEFAULT '',
			featured       BOOLEAN NOT NULL DEFAULT FALSE,
			average_rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			stock          INTEGER NOT NULL DEFAULT 0,
			active         BOOLEAN NOT NULL DEFAULT TRUE,
			image_url      TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_products_category ON products (lower(category));
		CREATE INDEX IF NOT EXISTS idx_products_category_id ON products (category_id);
		CREATE INDEX IF NOT EXISTS idx_products_price ON products (price);

		CREATE TABLE IF NOT EXISTS product_requests (
			id             TEXT PRIMARY KEY,
			product_name   TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			category       TEXT NOT NULL DEFAULT '',
			max_budget     DOUBLE PRECISION,
			specifications TEXT[] NOT NULL DEFAULT '{}',
			status         TEXT NOT NULL DEFAULT 'pending',
			user_contact   TEXT NOT NULL DEFAULT '',
			source_query   TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_product_requests_status ON product_requests (status, created_at);
	`)
	return err
}

// ── Catalog ─────────────────────────────────────────────────

const productColumns = `id, name, slug, description, brand, category_id, category, subcategory,
	tags, price, currency, featured, average_rating, stock, active, image_url, created_at`

// buildProductQuery renders a filter into SQL with positional arguments.
func buildProductQuery(filter ProductFilter) (string, []any) {
	f := filter.Normalize()

	var sb strings.Builder
	sb.WriteString("SELECT " + productColumns + " FROM products WHERE active = TRUE")

	args := make([]any, 0, 6+len(f.Keywords))
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.CategoryID != "" {
		sb.WriteString(" AND category_id = " + next(f.CategoryID))
	}
	if f.Category != "" {
		sb.WriteString(" AND lower(category) = " + next(f.Category))
	}
	if f.Subcategory != "" {
		sb.WriteString(" AND lower(subcategory) = " + next(f.Subcategory))
	}
	if f.MinPrice != nil {
		sb.WriteString(" AND price >= " + next(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		sb.WriteString(" AND price <= " + next(*f.MaxPrice))
	}
	if len(f.Keywords) > 0 {
		text := "lower(name || ' ' || description || ' ' || brand || ' ' || subcategory || ' ' || array_to_string(tags, ' '))"
		clauses := make([]string, 0, len(f.Keywords))
		for _, k := range f.Keywords {
			clauses = append(clauses, text+" LIKE "+next("%"+escapeLike(k)+"%"))
		}
		sb.WriteString(" AND (" + strings.Join(clauses, " OR ") + ")")
	}

	sb.WriteString(" ORDER BY created_at, id LIMIT " + next(f.Limit))
	return sb.String(), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *PostgresStore) FindProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	query, args := buildProductQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	defer rows.Close()

	result := make([]models.Product, 0)
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.Brand, &p.CategoryID,
			&p.Category, &p.Subcategory, &p.Tags, &p.Price, &p.Currency, &p.Featured,
			&p.AverageRating, &p.Stock, &p.Active, &p.ImageURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	var c models.Category
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, slug, parent_id FROM categories WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "category", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, slug, parent_id FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	result := make([]models.Category, 0)
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// ── Product Requests ────────────────────────────────────────

const productRequestColumns = `id, product_name, description, category, max_budget, specifications,
	status, user_contact, source_query, created_at, updated_at`

func scanProductRequest(row pgx.Row) (*models.ProductRequest, error) {
	var r models.ProductRequest
	err := row.Scan(&r.ID, &r.ProductName, &r.Description, &r.Category, &r.MaxBudget,
		&r.Specifications, &r.Status, &r.UserContact, &r.SourceQuery, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateProductRequest(ctx context.Context, req *models.ProductRequest) error {
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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO product_requests (`+productRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.ID, req.ProductName, req.Description, req.Category, req.MaxBudget, req.Specifications,
		string(req.Status), req.UserContact, req.SourceQuery, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create product request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProductRequest(ctx context.Context, id string) (*models.ProductRequest, error) {
	r, err := scanProductRequest(s.pool.QueryRow(ctx,
		`SELECT `+productRequestColumns+` FROM product_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "product_request", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get product request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListProductRequests(ctx context.Context, filter ProductRequestFilter) ([]models.ProductRequest, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + productRequestColumns + ` FROM product_requests`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += " WHERE status = $1"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list product requests: %w", err)
	}
	defer rows.Close()

	result := make([]models.ProductRequest, 0)
	for rows.Next() {
		r, err := scanProductRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product request: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpdateProductRequestStatus(ctx context.Context, id string, status models.ProductRequestStatus) (*models.ProductRequest, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid product request status %q", status)
	}
	r, err := scanProductRequest(s.pool.QueryRow(ctx, `
		UPDATE product_requests SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productRequestColumns, id, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "product_request", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("update product request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	log.Info().Msg("PostgreSQL store closed")
	return nil
}
