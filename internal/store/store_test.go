package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entschema "github.com/matthewbaird/bidconfig/ent/schema"
	"github.com/matthewbaird/bidconfig/internal/types"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "bidconfig.db") + "?_pragma=foreign_keys(1)"
	s, err := OpenSQLite(ctx, dsn, nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func newTransaction(bid string) *Transaction {
	session := "3f0c5c1e-7d1b-4a53-9b7e-0e6f1c1d2a10"
	return &Transaction{
		BidID:       bid,
		ProductType: "door",
		Data: types.Record{
			"product_type":       "door",
			"height":             2000.0,
			"framework_front_id": int64(101),
			"width":              nil,
		},
		UpdatedBy: "estimator-1",
		Source:    entschema.SourceEditor,
		SessionID: &session,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tx := newTransaction("bid-1")
			require.NoError(t, s.Save(ctx, tx))
			require.NotZero(t, tx.ID)
			assert.Equal(t, 1, tx.Version)
			assert.Equal(t, "estimator-1", tx.CreatedBy)
			assert.False(t, tx.CreatedAt.IsZero())

			got, err := s.Get(ctx, tx.ID)
			require.NoError(t, err)
			assert.Equal(t, "bid-1", got.BidID)
			assert.Equal(t, "door", got.ProductType)
			assert.Equal(t, "door", got.Data["product_type"])
			assert.EqualValues(t, 2000, got.Data["height"])
			assert.EqualValues(t, 101, got.Data["framework_front_id"])
			assert.Contains(t, got.Data, "width")
			assert.Nil(t, got.Data["width"])
			require.NotNil(t, got.SessionID)
			assert.Equal(t, *tx.SessionID, *got.SessionID)
			assert.Nil(t, got.CorrelationID)
		})
	}
}

func TestStore_UpdateBumpsVersion(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tx := newTransaction("bid-1")
			require.NoError(t, s.Save(ctx, tx))
			created := tx.CreatedAt

			tx.Data["height"] = 2100.0
			tx.UpdatedBy = "estimator-2"
			require.NoError(t, s.Save(ctx, tx))
			assert.Equal(t, 2, tx.Version)

			got, err := s.Get(ctx, tx.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Version)
			assert.EqualValues(t, 2100, got.Data["height"])
			assert.Equal(t, "estimator-1", got.CreatedBy)
			assert.Equal(t, "estimator-2", got.UpdatedBy)
			assert.True(t, got.CreatedAt.Equal(created))
		})
	}
}

func TestStore_SaveWithExplicitID(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tx := newTransaction("bid-9")
			tx.ID = 500
			require.NoError(t, s.Save(ctx, tx))
			assert.Equal(t, int64(500), tx.ID)
			assert.Equal(t, 1, tx.Version)

			next := newTransaction("bid-9")
			require.NoError(t, s.Save(ctx, next))
			assert.Greater(t, next.ID, int64(500))
		})
	}
}

func TestStore_GetNotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), 12345)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListByBid(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var ids []int64
			for i := 0; i < 5; i++ {
				tx := newTransaction("bid-a")
				require.NoError(t, s.Save(ctx, tx))
				ids = append(ids, tx.ID)
			}
			require.NoError(t, s.Save(ctx, newTransaction("bid-b")))

			page, total, err := s.ListByBid(ctx, "bid-a", Page{Limit: 2, Offset: 1})
			require.NoError(t, err)
			assert.Equal(t, 5, total)
			require.Len(t, page, 2)
			assert.Equal(t, ids[1], page[0].ID)
			assert.Equal(t, ids[2], page[1].ID)

			page, total, err = s.ListByBid(ctx, "bid-missing", Page{Limit: 10})
			require.NoError(t, err)
			assert.Zero(t, total)
			assert.Empty(t, page)
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx := newTransaction("bid-1")
	require.NoError(t, s.Save(ctx, tx))

	got, err := s.Get(ctx, tx.ID)
	require.NoError(t, err)
	got.Data["height"] = 1.0

	again, err := s.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, again.Data["height"])
}

func TestTransactionsTable(t *testing.T) {
	table := transactionsTable()
	assert.Equal(t, TransactionsTable, table.Name)
	for _, name := range columns {
		assert.True(t, table.HasColumn(name), "missing column %s", name)
	}
	source, ok := table.Column("source")
	require.True(t, ok)
	assert.Contains(t, source.Enums, entschema.SourceBulk)
	productType, _ := table.Column("product_type")
	assert.True(t, productType.Nullable)
	require.Len(t, table.Indexes, 1)
	assert.Equal(t, "transactions_bid_id", table.Indexes[0].Name)
}
