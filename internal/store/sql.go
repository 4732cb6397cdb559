package store

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	migrate "entgo.io/ent/dialect/sql/schema"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/logging"
	"github.com/matthewbaird/bidconfig/internal/types"

	_ "modernc.org/sqlite"
)

// SQLStore persists transactions through ent's SQL builder.
type SQLStore struct {
	drv     *entsql.Driver
	db      *stdsql.DB
	dialect string
	logger  *zap.Logger
}

// OpenSQLite opens (or creates) a SQLite database at dsn.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := stdsql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return NewSQLStore(entsql.OpenDB(dialect.SQLite, db), logger), nil
}

// NewSQLStore wraps an ent SQL driver.
func NewSQLStore(drv *entsql.Driver, logger *zap.Logger) *SQLStore {
	return &SQLStore{
		drv:     drv,
		db:      drv.DB(),
		dialect: drv.Dialect(),
		logger:  logging.OrNop(logger),
	}
}

// Migrate creates or updates the transactions table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	m, err := migrate.NewMigrate(s.drv, migrate.WithForeignKeys(false))
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Create(ctx, transactionsTable()); err != nil {
		return fmt.Errorf("running schema migration: %w", err)
	}
	s.logger.Info("database migrated", zap.String("table", TransactionsTable))
	return nil
}

// DB returns the underlying database handle.
func (s *SQLStore) DB() *stdsql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.drv.Close()
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, t *Transaction) error {
	data, err := json.Marshal(t.Data)
	if err != nil {
		return fmt.Errorf("encoding transaction data: %w", err)
	}
	now := time.Now().UTC()

	if t.ID != 0 {
		q, args := entsql.Dialect(s.dialect).Update(TransactionsTable).
			Set("bid_id", t.BidID).
			Set("product_type", nullString(t.ProductType)).
			Set("data", string(data)).
			Add("version", 1).
			Set("updated_at", now).
			Set("updated_by", t.UpdatedBy).
			Set("source", t.Source).
			Set("correlation_id", t.CorrelationID).
			Set("session_id", t.SessionID).
			Where(entsql.EQ("id", t.ID)).
			Query()
		res, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("updating transaction %d: %w", t.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return s.reload(ctx, t)
		}
	}

	createdBy := t.CreatedBy
	if createdBy == "" {
		createdBy = t.UpdatedBy
	}
	ins := entsql.Dialect(s.dialect).Insert(TransactionsTable)
	cols := []string{"bid_id", "product_type", "data", "version", "created_at", "updated_at",
		"created_by", "updated_by", "source", "correlation_id", "session_id"}
	vals := []any{t.BidID, nullString(t.ProductType), string(data), 1, now, now,
		createdBy, t.UpdatedBy, t.Source, t.CorrelationID, t.SessionID}
	if t.ID != 0 {
		cols = append([]string{"id"}, cols...)
		vals = append([]any{t.ID}, vals...)
	}
	q, args := ins.Columns(cols...).Values(vals...).Query()
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	if t.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading inserted id: %w", err)
		}
		t.ID = id
	}
	return s.reload(ctx, t)
}

func (s *SQLStore) reload(ctx context.Context, t *Transaction) error {
	saved, err := s.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	*t = *saved
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id int64) (*Transaction, error) {
	q, args := entsql.Dialect(s.dialect).
		Select(columns...).
		From(entsql.Table(TransactionsTable)).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transaction %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanTransaction(rows)
}

// ListByBid implements Store.
func (s *SQLStore) ListByBid(ctx context.Context, bidID string, page Page) ([]*Transaction, int, error) {
	cq, cargs := entsql.Dialect(s.dialect).
		Select().Count().
		From(entsql.Table(TransactionsTable)).
		Where(entsql.EQ("bid_id", bidID)).
		Query()
	var total int
	if err := s.db.QueryRowContext(ctx, cq, cargs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transactions: %w", err)
	}

	sel := entsql.Dialect(s.dialect).
		Select(columns...).
		From(entsql.Table(TransactionsTable)).
		Where(entsql.EQ("bid_id", bidID)).
		OrderBy("id").
		Offset(page.Offset)
	if page.Limit > 0 {
		sel.Limit(page.Limit)
	}
	q, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	out := []*Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating transactions: %w", err)
	}
	return out, total, nil
}

func scanTransaction(rows *stdsql.Rows) (*Transaction, error) {
	var (
		t           Transaction
		productType stdsql.NullString
		data        []byte
		correlation stdsql.NullString
		session     stdsql.NullString
	)
	if err := rows.Scan(
		&t.ID, &t.BidID, &productType, &data, &t.Version,
		&t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.UpdatedBy, &t.Source,
		&correlation, &session,
	); err != nil {
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	t.ProductType = productType.String
	if correlation.Valid {
		t.CorrelationID = &correlation.String
	}
	if session.Valid {
		t.SessionID = &session.String
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &t.Data); err != nil {
			return nil, fmt.Errorf("decoding transaction %d data: %w", t.ID, err)
		}
	}
	if t.Data == nil {
		t.Data = types.Record{}
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
