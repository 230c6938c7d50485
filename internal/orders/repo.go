package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

type Repo struct {
	DB    *pgxpool.Pool
	Stock *ProductRepo
}

// CreateFromPayment turns a settled payment session into exactly one order.
//
// The lookup by session id up front is a fast path; the unique index on
// orders.stripe_session_id is what actually guarantees at-most-one order per
// session when duplicate webhook deliveries race past the pre-check. The
// order row, its items and every stock decrement commit as one transaction:
// if any product cannot cover its quantity the whole attempt rolls back and
// a StockShortage is returned.
func (r *Repo) CreateFromPayment(ctx context.Context, userID, sessionID string, items []PricedItem, totalCents int) (order *Order, existed bool, err error) {
	if sessionID == "" || userID == "" || len(items) == 0 {
		return nil, false, fmt.Errorf("%w: missing session, user or items", ErrValidation)
	}
	for _, it := range items {
		if it.ProductID == "" || it.Qty <= 0 {
			return nil, false, fmt.Errorf("%w: bad item %+v", ErrValidation, it)
		}
	}

	if existing, err := r.GetBySessionID(ctx, sessionID); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	order, err = r.createReconciled(ctx, userID, sessionID, items, totalCents)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// lost the race against a duplicate delivery; the winner's
			// order is the order
			existing, gerr := r.GetBySessionID(ctx, sessionID)
			if gerr != nil {
				return nil, false, fmt.Errorf("%w: fetch after duplicate insert: %v", ErrConflict, gerr)
			}
			return existing, true, nil
		}
		return nil, false, err
	}
	return order, false, nil
}

func (r *Repo) createReconciled(ctx context.Context, userID, sessionID string, items []PricedItem, totalCents int) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	orderID := uuid.NewString()
	var createdAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, status, total_cents, stripe_session_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		orderID, userID, StatusPending, totalCents, sessionID,
	).Scan(&createdAt)
	if err != nil {
		return nil, err
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, price_cents)
			VALUES ($1, $2, $3, $4)`,
			orderID, it.ProductID, it.Qty, it.PriceCents,
		); err != nil {
			return nil, err
		}

		affected, err := r.Stock.ConditionalDecrement(ctx, tx, it.ProductID, it.Qty)
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			var available int
			if err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, it.ProductID).Scan(&available); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, fmt.Errorf("%w: product %s", ErrNotFound, it.ProductID)
				}
				return nil, err
			}
			return nil, &StockShortage{ProductID: it.ProductID, Required: it.Qty, Available: available}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	out := &Order{
		ID:              orderID,
		UserID:          userID,
		Status:          StatusPending,
		TotalCents:      totalCents,
		StripeSessionID: sessionID,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	for _, it := range items {
		out.Items = append(out.Items, OrderItem(it))
	}
	return out, nil
}

func (r *Repo) GetByID(ctx context.Context, orderID string) (*Order, error) {
	return r.fetchOne(ctx, `WHERE id=$1`, orderID)
}

func (r *Repo) GetBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	return r.fetchOne(ctx, `WHERE stripe_session_id=$1`, sessionID)
}

func (r *Repo) fetchOne(ctx context.Context, where string, arg any) (*Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, status, total_cents, stripe_session_id, created_at, updated_at
		FROM orders `+where, arg,
	).Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.StripeSessionID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if o.Items, err = r.fetchItems(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) fetchItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, qty, price_cents FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListByUser returns the user's orders, optionally filtered by status.
func (r *Repo) ListByUser(ctx context.Context, userID string, status Status) ([]Order, error) {
	if status != "" {
		if !ValidStatus(status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
		return r.list(ctx, `WHERE user_id=$1 AND status=$2`, userID, status)
	}
	return r.list(ctx, `WHERE user_id=$1`, userID)
}

func (r *Repo) ListAll(ctx context.Context, status Status) ([]Order, error) {
	if status != "" {
		if !ValidStatus(status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
		return r.list(ctx, `WHERE status=$1`, status)
	}
	return r.list(ctx, ``)
}

func (r *Repo) list(ctx context.Context, where string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, user_id, status, total_cents, stripe_session_id, created_at, updated_at
		FROM orders `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &o.StripeSessionID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = r.fetchItems(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repo) GetStatus(ctx context.Context, orderID string) (Status, error) {
	var s Status
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return s, nil
}

// UpdateStatus applies an administrative status change, holding the row lock
// while the transition is validated.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	if !ValidStatus(to) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var from Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&from)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: cannot transition %s -> %s", ErrValidation, from, to)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, to); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, orderID)
}
