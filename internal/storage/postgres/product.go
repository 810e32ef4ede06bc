package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	resolveProductsSQL = `SELECT id, name, price, image FROM products
		WHERE id = ANY($1) AND is_active AND deleted_at IS NULL`

	upsertProductSQL = `INSERT INTO products (id, name, price, image, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price,
			image = EXCLUDED.image, is_active = TRUE, deleted_at = NULL`
)

var _ product.Resolver = (*ProductResolver)(nil)

// ProductResolver reads sellable products from the products table.
type ProductResolver struct {
	pool *pgxpool.Pool
}

// NewProductResolver returns a ProductResolver that uses the given pool.
func NewProductResolver(pool *pgxpool.Pool) *ProductResolver {
	return &ProductResolver{pool: pool}
}

// Resolve returns the active, non-deleted products among ids keyed by id.
// Unknown ids are simply absent from the result.
func (r *ProductResolver) Resolve(ctx context.Context, ids []string) (map[string]product.Snapshot, error) {
	rows, err := r.pool.Query(ctx, resolveProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving products: %w", err)
	}
	defer rows.Close()

	out := make(map[string]product.Snapshot, len(ids))
	for rows.Next() {
		var s product.Snapshot
		if err := rows.Scan(&s.ID, &s.Name, &s.Price, &s.Image); err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		out[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating products: %w", err)
	}
	return out, nil
}

// UpsertProducts writes catalog entries as active products in one batch.
// It is used to seed development databases.
func (r *ProductResolver) UpsertProducts(ctx context.Context, products []product.Snapshot) error {
	if len(products) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProductSQL, p.ID, p.Name, p.Price, p.Image)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting products: %w", err)
	}
	return nil
}
