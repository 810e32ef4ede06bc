package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/order"
)

const orderColumns = `id, order_number, access_token, user_id, items, subtotal,
	shipping_fee, total, amount_due, promotion, customer, payment_method,
	status, status_history, deleted_at, deleted_by, delete_reason,
	created_at, updated_at`

const (
	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET
		status = $3,
		status_history = status_history || $4::jsonb,
		updated_at = $5
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL
		RETURNING ` + orderColumns

	archiveOrderSQL = `UPDATE orders SET
		deleted_at = $2, deleted_by = $3, delete_reason = $4, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + orderColumns
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items, customer, promotion and history are stored as JSONB documents so
// an order stays a single row.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o                         order.Order
		userID, deletedBy, reason *string
		items, customer, history  []byte
		promotion                 []byte
		payment, status           string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.AccessToken, &userID, &items, &o.Subtotal,
		&o.ShippingFee, &o.Total, &o.AmountDue, &promotion, &customer, &payment,
		&status, &history, &o.DeletedAt, &deletedBy, &reason,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.UserID = derefString(userID)
	o.DeletedBy = derefString(deletedBy)
	o.DeleteReason = derefString(reason)
	o.PaymentMethod = order.PaymentMethod(payment)
	o.Status = order.Status(status)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decoding items of order %q: %w", o.ID, err)
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decoding customer of order %q: %w", o.ID, err)
	}
	if len(promotion) > 0 && string(promotion) != "null" {
		o.Promotion = new(order.Promotion)
		if err := json.Unmarshal(promotion, o.Promotion); err != nil {
			return nil, fmt.Errorf("decoding promotion of order %q: %w", o.ID, err)
		}
	}
	if err := json.Unmarshal(history, &o.History); err != nil {
		return nil, fmt.Errorf("decoding history of order %q: %w", o.ID, err)
	}
	return &o, nil
}

// Create inserts the order row. A unique violation on the order number or
// access token is reported as order.ErrDuplicateIdentity.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encoding items: %w", err)
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("encoding customer: %w", err)
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	var promotion []byte
	if o.Promotion != nil {
		if promotion, err = json.Marshal(o.Promotion); err != nil {
			return fmt.Errorf("encoding promotion: %w", err)
		}
	}

	_, err = r.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.AccessToken, optString(o.UserID), items, o.Subtotal,
		o.ShippingFee, o.Total, o.AmountDue, promotion, customer, string(o.PaymentMethod),
		string(o.Status), history, o.DeletedAt, optString(o.DeletedBy), optString(o.DeleteReason),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrDuplicateIdentity
		}
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, getOrderSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

// List runs the page query and the count concurrently.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, int64, error) {
	where, args := orderListWhere(f)
	page := f.Page.Normalize()

	var (
		out   []order.Order
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.pool.QueryRow(gctx, `SELECT count(*) FROM orders`+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("counting orders: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n := len(args)
		sql := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			orderColumns, where, n+1, n+2)
		rows, err := r.pool.Query(gctx, sql, append(args, page.Limit, page.Offset())...)
		if err != nil {
			return fmt.Errorf("listing orders: %w", err)
		}
		defer rows.Close()

		out = []order.Order{}
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return fmt.Errorf("scanning order: %w", err)
			}
			out = append(out, *o)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// UpdateStatus applies the transition only while the stored status is still
// from and the order is not archived.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from order.Status, entry order.HistoryEntry) (*order.Order, error) {
	appended, err := json.Marshal([]order.HistoryEntry{entry})
	if err != nil {
		return nil, fmt.Errorf("encoding history entry: %w", err)
	}
	return r.updateOne(ctx, updateOrderStatusSQL, id, string(from), string(entry.To), appended, entry.At)
}

// Archive sets the deletion fields only on an order that is not archived yet.
func (r *OrderRepository) Archive(ctx context.Context, id string, del order.Deletion) (*order.Order, error) {
	return r.updateOne(ctx, archiveOrderSQL, id, del.At, optString(del.By), del.Reason)
}

func (r *OrderRepository) updateOne(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrPreconditionFailed
		}
		return nil, fmt.Errorf("updating order: %w", err)
	}
	return o, nil
}

func orderListWhere(f order.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !f.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
