package orders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Failure is a durable record of a payment that settled but could not be
// reconciled into an order because stock ran out. Input for manual
// follow-up (refund, restock-and-reorder).
type Failure struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	ProductID  string    `json:"product_id"`
	Required   int       `json:"required"`
	Available  int       `json:"available"`
	TotalCents int       `json:"total_cents"`
	CreatedAt  time.Time `json:"created_at"`
}

type FailureRepo struct{ DB *pgxpool.Pool }

func (r *FailureRepo) Record(ctx context.Context, f Failure) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO reconciliation_failures(stripe_session_id, user_id, product_id, required, available, total_cents)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.SessionID, f.UserID, f.ProductID, f.Required, f.Available, f.TotalCents)
	return err
}

func (r *FailureRepo) List(ctx context.Context) ([]Failure, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, stripe_session_id, user_id, product_id, required, available, total_cents, created_at
		FROM reconciliation_failures ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.SessionID, &f.UserID, &f.ProductID, &f.Required, &f.Available, &f.TotalCents, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
