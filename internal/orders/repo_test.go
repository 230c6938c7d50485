package orders

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against a real database because the reconciliation
// transaction's guarantees (atomicity, row-level contention, the unique
// index backstop) live in SQL, not in Go.

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)
	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	return pool
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, price, stock int) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO products(id, name, price_cents, stock) VALUES ($1, $2, $3, $4)`,
		id, "test-"+id[:8], price, stock)
	require.NoError(t, err)
	return id
}

func productStock(t *testing.T, pool *pgxpool.Pool, id string) int {
	t.Helper()
	var stock int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT stock FROM products WHERE id=$1`, id).Scan(&stock))
	return stock
}

func TestCreateFromPayment(t *testing.T) {
	pool := testPool(t)
	stockRepo := &ProductRepo{DB: pool}
	repo := &Repo{DB: pool, Stock: stockRepo}
	ctx := context.Background()

	t.Run("creates order and debits stock", func(t *testing.T) {
		p1 := seedProduct(t, pool, 1000, 5)
		session := "cs_" + uuid.NewString()
		userID := uuid.NewString()

		order, existed, err := repo.CreateFromPayment(ctx, userID, session,
			[]PricedItem{{ProductID: p1, Qty: 2, PriceCents: 1000}}, 2000)
		require.NoError(t, err)
		assert.False(t, existed)
		assert.Equal(t, StatusPending, order.Status)
		assert.Equal(t, 2000, order.TotalCents)
		require.Len(t, order.Items, 1)
		assert.Equal(t, 3, productStock(t, pool, p1))
	})

	t.Run("replay returns the same order and debits once", func(t *testing.T) {
		p1 := seedProduct(t, pool, 1000, 5)
		session := "cs_" + uuid.NewString()
		userID := uuid.NewString()
		items := []PricedItem{{ProductID: p1, Qty: 2, PriceCents: 1000}}

		first, existed, err := repo.CreateFromPayment(ctx, userID, session, items, 2000)
		require.NoError(t, err)
		require.False(t, existed)

		for i := 0; i < 3; i++ {
			again, existed, err := repo.CreateFromPayment(ctx, userID, session, items, 2000)
			require.NoError(t, err)
			assert.True(t, existed)
			assert.Equal(t, first.ID, again.ID)
		}
		assert.Equal(t, 3, productStock(t, pool, p1))
	})

	t.Run("shortage rolls back the whole attempt", func(t *testing.T) {
		p1 := seedProduct(t, pool, 1000, 5)
		p2 := seedProduct(t, pool, 500, 1)
		session := "cs_" + uuid.NewString()
		userID := uuid.NewString()

		_, _, err := repo.CreateFromPayment(ctx, userID, session, []PricedItem{
			{ProductID: p1, Qty: 2, PriceCents: 1000},
			{ProductID: p2, Qty: 3, PriceCents: 500},
		}, 3500)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsufficientStock)

		var shortage *StockShortage
		require.ErrorAs(t, err, &shortage)
		assert.Equal(t, p2, shortage.ProductID)
		assert.Equal(t, 3, shortage.Required)
		assert.Equal(t, 1, shortage.Available)

		// nothing committed: no order row, p1 untouched
		_, gerr := repo.GetBySessionID(ctx, session)
		assert.ErrorIs(t, gerr, ErrNotFound)
		assert.Equal(t, 5, productStock(t, pool, p1))
		assert.Equal(t, 1, productStock(t, pool, p2))
	})

	t.Run("rejects empty and malformed input", func(t *testing.T) {
		_, _, err := repo.CreateFromPayment(ctx, uuid.NewString(), "cs_x", nil, 0)
		assert.ErrorIs(t, err, ErrValidation)

		_, _, err = repo.CreateFromPayment(ctx, uuid.NewString(), "cs_x",
			[]PricedItem{{ProductID: "", Qty: 1, PriceCents: 1}}, 1)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestCreateFromPaymentContention(t *testing.T) {
	pool := testPool(t)
	repo := &Repo{DB: pool, Stock: &ProductRepo{DB: pool}}
	ctx := context.Background()

	// two different sessions fight over the last unit: exactly one order
	p1 := seedProduct(t, pool, 1000, 1)
	sessions := []string{"cs_" + uuid.NewString(), "cs_" + uuid.NewString()}

	var wg sync.WaitGroup
	errs := make([]error, len(sessions))
	for i, session := range sessions {
		wg.Add(1)
		go func(i int, session string) {
			defer wg.Done()
			_, _, errs[i] = repo.CreateFromPayment(ctx, uuid.NewString(), session,
				[]PricedItem{{ProductID: p1, Qty: 1, PriceCents: 1000}}, 1000)
		}(i, session)
	}
	wg.Wait()

	var won, lost int
	for i, err := range errs {
		if err == nil {
			won++
			continue
		}
		lost++
		assert.ErrorIs(t, err, ErrInsufficientStock)
		_, gerr := repo.GetBySessionID(ctx, sessions[i])
		assert.ErrorIs(t, gerr, ErrNotFound, "loser must leave no partial order")
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 0, productStock(t, pool, p1))
}

func TestCreateFromPaymentDuplicateDelivery(t *testing.T) {
	pool := testPool(t)
	repo := &Repo{DB: pool, Stock: &ProductRepo{DB: pool}}
	ctx := context.Background()

	// the same webhook delivered twice concurrently: one order, one debit
	p1 := seedProduct(t, pool, 1000, 5)
	session := "cs_" + uuid.NewString()
	userID := uuid.NewString()
	items := []PricedItem{{ProductID: p1, Qty: 2, PriceCents: 1000}}

	var wg sync.WaitGroup
	results := make([]*Order, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = repo.CreateFromPayment(ctx, userID, session, items, 2000)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE stripe_session_id=$1`, session).Scan(&count))
	assert.Equal(t, 1, count)
	assert.Equal(t, 3, productStock(t, pool, p1))
}

func TestUpdateStatus(t *testing.T) {
	pool := testPool(t)
	repo := &Repo{DB: pool, Stock: &ProductRepo{DB: pool}}
	ctx := context.Background()

	p1 := seedProduct(t, pool, 1000, 5)
	order, _, err := repo.CreateFromPayment(ctx, uuid.NewString(), "cs_"+uuid.NewString(),
		[]PricedItem{{ProductID: p1, Qty: 1, PriceCents: 1000}}, 1000)
	require.NoError(t, err)

	updated, err := repo.UpdateStatus(ctx, order.ID, StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, updated.Status)

	_, err = repo.UpdateStatus(ctx, order.ID, StatusDelivered)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = repo.UpdateStatus(ctx, uuid.NewString(), StatusPaid)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.UpdateStatus(ctx, order.ID, "BOGUS")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListByStatus(t *testing.T) {
	pool := testPool(t)
	repo := &Repo{DB: pool, Stock: &ProductRepo{DB: pool}}
	ctx := context.Background()

	p1 := seedProduct(t, pool, 1000, 10)
	userID := uuid.NewString()
	order, _, err := repo.CreateFromPayment(ctx, userID, "cs_"+uuid.NewString(),
		[]PricedItem{{ProductID: p1, Qty: 1, PriceCents: 1000}}, 1000)
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, order.ID, StatusPaid)
	require.NoError(t, err)

	paid, err := repo.ListByUser(ctx, userID, StatusPaid)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, order.ID, paid[0].ID)

	pending, err := repo.ListByUser(ctx, userID, StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = repo.ListAll(ctx, "BOGUS")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRestock(t *testing.T) {
	pool := testPool(t)
	stockRepo := &ProductRepo{DB: pool}
	ctx := context.Background()

	p1 := seedProduct(t, pool, 1000, 2)
	p, err := stockRepo.Restock(ctx, p1, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)

	_, err = stockRepo.Restock(ctx, p1, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = stockRepo.Restock(ctx, uuid.NewString(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
