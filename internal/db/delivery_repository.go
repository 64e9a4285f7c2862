package db

import (
	"context"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const deliveryColumns = `id, subscription_id, order_id, event_type, payload, status, attempts, response_code,
	response_body, error, last_attempt_at, next_attempt_at, created_at, updated_at`

type DeliveryRepository struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

func (r *DeliveryRepository) InsertDelivery(ctx context.Context, d *model.Delivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = model.DeliveryPending
	}

	query := `INSERT INTO webhook_deliveries (id, subscription_id, order_id, event_type, payload, status, attempts,
	              next_attempt_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, query, d.ID, d.SubscriptionID, d.OrderID, string(d.EventType), d.Payload,
		string(d.Status), d.Attempts, d.NextAttemptAt).Scan(&d.CreatedAt, &d.UpdatedAt)
	return errors.Wrapf(err, "insert delivery %s", d.ID)
}

// UpdateDelivery records one attempt. The attempt counter is incremented in SQL so that
// overlapping writers never lower it.
func (r *DeliveryRepository) UpdateDelivery(ctx context.Context, id uuid.UUID, a model.DeliveryAttempt) (*model.Delivery, error) {
	query := `UPDATE webhook_deliveries
	          SET status          = $2,
	              attempts        = attempts + 1,
	              response_code   = $3,
	              response_body   = $4,
	              error           = $5,
	              last_attempt_at = $6,
	              next_attempt_at = $7,
	              updated_at      = now()
	          WHERE id = $1
	          RETURNING ` + deliveryColumns
	row := r.pool.QueryRow(ctx, query, id, string(a.Status), a.ResponseCode, a.ResponseBody, a.Error, a.AttemptedAt,
		a.NextAttemptAt)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "delivery %s", id)
	}
	return d, errors.Wrapf(err, "update delivery %s", id)
}

// CloseDelivery marks a delivery permanently failed without counting an attempt.
func (r *DeliveryRepository) CloseDelivery(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE webhook_deliveries
	                              SET status = 'failed', error = $2, next_attempt_at = NULL, updated_at = now()
	                              WHERE id = $1`, id, reason)
	if err != nil {
		return errors.Wrapf(err, "close delivery %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(apperr.ErrNotFound, "delivery %s", id)
	}
	return nil
}

// ListRetryable returns pending or failed deliveries that are due, oldest first.
func (r *DeliveryRepository) ListRetryable(ctx context.Context, limit, maxAttempts int, now time.Time) ([]*model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
	          WHERE status IN ('pending', 'failed')
	            AND attempts < $2
	            AND next_attempt_at IS NOT NULL
	            AND next_attempt_at <= $3
	          ORDER BY created_at
	          LIMIT $1`
	return r.list(ctx, query, limit, maxAttempts, now)
}

func (r *DeliveryRepository) GetDelivery(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "delivery %s", id)
	}
	return d, errors.Wrapf(err, "select delivery %s", id)
}

func (r *DeliveryRepository) ListDeliveriesByOrder(ctx context.Context, orderID string) ([]*model.Delivery, error) {
	return r.list(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE order_id = $1 ORDER BY created_at`, orderID)
}

func (r *DeliveryRepository) list(ctx context.Context, query string, args ...any) ([]*model.Delivery, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select deliveries")
	}
	defer rows.Close()

	var deliveries []*model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan delivery")
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, errors.Wrap(rows.Err(), "iterate deliveries")
}

func scanDelivery(row pgx.Row) (*model.Delivery, error) {
	var d model.Delivery
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.OrderID, &d.EventType, &d.Payload, &d.Status, &d.Attempts,
		&d.ResponseCode, &d.ResponseBody, &d.Error, &d.LastAttemptAt, &d.NextAttemptAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
