package db

import (
	"context"
	"encoding/json"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const orderColumns = `id, vendor_id, product_id, customer, client, amount_cents, currency, payment_method,
	payment_details, gateway_id, status, tracking, test, created_at, paid_at, refunded_at`

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *model.Order) error {
	customer, err := json.Marshal(order.Customer)
	if err != nil {
		return errors.Wrap(err, "marshal customer")
	}
	client, err := json.Marshal(order.Client)
	if err != nil {
		return errors.Wrap(err, "marshal client")
	}
	details, err := model.EncodePaymentDetails(order.Payment)
	if err != nil {
		return err
	}
	var tracking []byte
	if order.Tracking != nil {
		if tracking, err = json.Marshal(order.Tracking); err != nil {
			return errors.Wrap(err, "marshal tracking")
		}
	}
	if order.Status == "" {
		order.Status = model.StatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	query := `INSERT INTO orders (id, vendor_id, product_id, customer, client, amount_cents, currency, payment_method,
	              payment_details, gateway_id, status, tracking, test, created_at, paid_at, refunded_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = r.pool.Exec(ctx, query, order.ID, order.VendorID, order.ProductID, customer, client, order.AmountCents,
		order.Currency, order.PaymentMethod, details, nullString(order.GatewayID), order.Status, tracking, order.Test,
		order.CreatedAt, order.PaidAt, order.RefundedAt)
	return errors.Wrapf(err, "insert order %s", order.ID)
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "order %s", id)
	}
	return order, errors.Wrapf(err, "select order %s", id)
}

// GetOrderByGatewayID finds the order a gateway identifier (charge id or transaction id) points at.
func (r *OrderRepository) GetOrderByGatewayID(ctx context.Context, gatewayID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE gateway_id = $1`, gatewayID)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "order with gateway id %s", gatewayID)
	}
	return order, errors.Wrapf(err, "select order by gateway id %s", gatewayID)
}

// UpdateOrderStatus moves the order to status only if the transition is allowed from its
// current status. It reports false when the order was already past that point.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, id string, status model.Status, at time.Time) (bool, error) {
	sources := lo.Map(model.SourcesOf(status), func(s model.Status, _ int) string { return string(s) })

	query := `UPDATE orders
	          SET status      = $2,
	              paid_at     = CASE WHEN $2 = 'paid' THEN $3 ELSE paid_at END,
	              refunded_at = CASE WHEN $2 = 'refunded' THEN $3 ELSE refunded_at END,
	              updated_at  = now()
	          WHERE id = $1 AND status = ANY($4)`
	tag, err := r.pool.Exec(ctx, query, id, string(status), at, sources)
	if err != nil {
		return false, errors.Wrapf(err, "update order %s status", id)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "check order %s", id)
	}
	if !exists {
		return false, errors.Wrapf(apperr.ErrNotFound, "order %s", id)
	}
	return false, nil
}

// AbandonStale marks pending orders created before cutoff as abandoned. Orders with a PIX
// charge still open at now are left alone.
func (r *OrderRepository) AbandonStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = 'abandoned', updated_at = now()
		WHERE status = 'pending' AND created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM pix_charges c
			WHERE c.order_id = orders.id AND c.status = 'waiting' AND c.expires_at > $2
		  )`, cutoff, now)
	if err != nil {
		return 0, errors.Wrap(err, "abandon stale orders")
	}
	return tag.RowsAffected(), nil
}

func (r *OrderRepository) CreateProduct(ctx context.Context, product *model.Product) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO products (id, vendor_id, name, price_cents) VALUES ($1, $2, $3, $4)`,
		product.ID, product.VendorID, product.Name, product.PriceCents)
	return errors.Wrapf(err, "insert product %s", product.ID)
}

func (r *OrderRepository) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	err := r.pool.QueryRow(ctx, `SELECT id, vendor_id, name, price_cents FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.VendorID, &p.Name, &p.PriceCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "product %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select product %s", id)
	}
	return &p, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                                   model.Order
		customer, client, details, tracking []byte
		gatewayID                           *string
	)
	err := row.Scan(&o.ID, &o.VendorID, &o.ProductID, &customer, &client, &o.AmountCents, &o.Currency,
		&o.PaymentMethod, &details, &gatewayID, &o.Status, &tracking, &o.Test, &o.CreatedAt, &o.PaidAt, &o.RefundedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, errors.Wrap(err, "unmarshal customer")
	}
	if err := json.Unmarshal(client, &o.Client); err != nil {
		return nil, errors.Wrap(err, "unmarshal client")
	}
	if len(tracking) > 0 {
		if err := json.Unmarshal(tracking, &o.Tracking); err != nil {
			return nil, errors.Wrap(err, "unmarshal tracking")
		}
	}
	if o.Payment, err = model.DecodePaymentDetails(details); err != nil {
		return nil, err
	}
	o.GatewayID = lo.FromPtr(gatewayID)

	return &o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
