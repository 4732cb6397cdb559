package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/logging"
	"github.com/matthewbaird/bidconfig/internal/types"
)

// CreateTableSQL creates the catalog table used by PostgresCatalog.
const CreateTableSQL = `
CREATE TABLE IF NOT EXISTS catalog_items (
	id        BIGINT PRIMARY KEY,
	category  TEXT NOT NULL,
	label     TEXT NOT NULL,
	image_url TEXT NOT NULL DEFAULT '',
	attrs     JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS catalog_items_category_idx ON catalog_items (category);
`

// PostgresCatalog serves reference data from a Postgres table.
type PostgresCatalog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresCatalog connects to dsn.
func NewPostgresCatalog(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresCatalog, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &PostgresCatalog{pool: pool, logger: logging.OrNop(logger)}, nil
}

// Close releases the pool.
func (c *PostgresCatalog) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// Ping checks connectivity.
func (c *PostgresCatalog) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Migrate creates the catalog table if needed.
func (c *PostgresCatalog) Migrate(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, CreateTableSQL); err != nil {
		return fmt.Errorf("failed to create catalog table: %w", err)
	}
	return nil
}

// Count returns the number of catalog rows.
func (c *PostgresCatalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM catalog_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count catalog items: %w", err)
	}
	return n, nil
}

// Insert upserts items in one batch.
func (c *PostgresCatalog) Insert(ctx context.Context, items ...types.Reference) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		attrs := it.Extra
		if attrs == nil {
			attrs = map[string]any{}
		}
		batch.Queue(`
			INSERT INTO catalog_items (id, category, label, image_url, attrs)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET category = EXCLUDED.category, label = EXCLUDED.label,
			    image_url = EXCLUDED.image_url, attrs = EXCLUDED.attrs`,
			it.ID, it.Category, it.Label, it.ImageURL, attrs)
	}
	if err := c.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert catalog items: %w", err)
	}
	return nil
}

// Get implements Catalog.
func (c *PostgresCatalog) Get(ctx context.Context, id int64) (types.Reference, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT id, category, label, image_url, attrs FROM catalog_items WHERE id = $1`, id)
	var ref types.Reference
	if err := row.Scan(&ref.ID, &ref.Category, &ref.Label, &ref.ImageURL, &ref.Extra); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Reference{}, ErrNotFound
		}
		return types.Reference{}, fmt.Errorf("failed to get catalog item: %w", err)
	}
	return ref, nil
}

// Search implements Catalog.
func (c *PostgresCatalog) Search(ctx context.Context, q Query) (Page, error) {
	normalizePage(&q)
	sql, args := buildSearch(q)

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return Page{}, fmt.Errorf("failed to search catalog: %w", err)
	}
	defer rows.Close()

	page := Page{Items: []types.Reference{}}
	for rows.Next() {
		var ref types.Reference
		if err := rows.Scan(&ref.ID, &ref.Category, &ref.Label, &ref.ImageURL, &ref.Extra, &page.Total); err != nil {
			return Page{}, fmt.Errorf("failed to scan catalog item: %w", err)
		}
		page.Items = append(page.Items, ref)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("error iterating catalog items: %w", err)
	}
	c.logger.Debug("catalog search",
		zap.Any("params", q.Params), zap.Int("returned", len(page.Items)), zap.Int("total", page.Total))
	return page, nil
}

// buildSearch renders q as SQL with positional arguments. Parameters are
// applied in key order so identical queries render identically.
func buildSearch(q Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := q.Params[key]
		switch key {
		case ParamCategory:
			where = append(where, "category = "+arg(want))
		case ParamProductType:
			where = append(where, fmt.Sprintf(
				"(NOT attrs ? 'product_types' OR attrs->'product_types' ? %s)", arg(want)))
		case ParamMinWidth:
			if n, ok := types.ToNumber(want); ok {
				where = append(where, "(attrs->>'width')::numeric >= "+arg(n))
			}
		default:
			k := arg(key)
			where = append(where, fmt.Sprintf(
				"(NOT attrs ? %s OR attrs->>%s = %s)", k, k, arg(want)))
		}
	}
	if q.Search != "" {
		where = append(where, "label ILIKE "+arg("%"+q.Search+"%"))
	}

	sql := "SELECT id, category, label, image_url, attrs, COUNT(*) OVER() FROM catalog_items"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY id LIMIT " + arg(q.Limit) + " OFFSET " + arg(q.Offset)
	return sql, args
}
