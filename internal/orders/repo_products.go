package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProductRepo owns the products table. Stock mutates only through
// ConditionalDecrement (order reconciliation) and Restock (administrative).
type ProductRepo struct{ DB *pgxpool.Pool }

// ConditionalDecrement reduces stock by qty only if the live row still holds
// at least qty, atomically relative to concurrent decrements. Zero affected
// rows means the stock was insufficient (or the product is gone).
func (p *ProductRepo) ConditionalDecrement(ctx context.Context, q querier, productID string, qty int) (int64, error) {
	ct, err := q.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// Restock is the administrative increment; not part of the checkout path.
func (p *ProductRepo) Restock(ctx context.Context, productID string, qty int) (*Product, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: restock qty must be positive", ErrValidation)
	}
	ct, err := p.DB.Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, productID, qty)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	return p.GetByID(ctx, productID)
}

func (p *ProductRepo) Create(ctx context.Context, name string, priceCents, stock int) (*Product, error) {
	if name == "" || priceCents < 0 || stock < 0 {
		return nil, fmt.Errorf("%w: bad product fields", ErrValidation)
	}
	id := uuid.NewString()
	if _, err := p.DB.Exec(ctx, `
		INSERT INTO products(id, name, price_cents, stock) VALUES ($1, $2, $3, $4)`,
		id, name, priceCents, stock,
	); err != nil {
		return nil, err
	}
	return p.GetByID(ctx, id)
}

func (p *ProductRepo) GetByID(ctx context.Context, id string) (*Product, error) {
	var pr Product
	err := p.DB.QueryRow(ctx, `
		SELECT id, name, price_cents, stock, created_at, updated_at FROM products WHERE id=$1`, id,
	).Scan(&pr.ID, &pr.Name, &pr.PriceCents, &pr.Stock, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &pr, nil
}

func (p *ProductRepo) List(ctx context.Context) ([]Product, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT id, name, price_cents, stock, created_at, updated_at FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var pr Product
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.PriceCents, &pr.Stock, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// ByIDs returns the referenced products keyed by id. Used by the checkout
// advisory check; missing ids simply stay absent from the map.
func (p *ProductRepo) ByIDs(ctx context.Context, ids []string) (map[string]Product, error) {
	if len(ids) == 0 {
		return map[string]Product{}, nil
	}
	params := ""
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			params += ","
		}
		params += fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	rows, err := p.DB.Query(ctx, `
		SELECT id, name, price_cents, stock, created_at, updated_at
		FROM products WHERE id IN (`+params+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Product{}
	for rows.Next() {
		var pr Product
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.PriceCents, &pr.Stock, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
			return nil, err
		}
		out[pr.ID] = pr
	}
	return out, rows.Err()
}
