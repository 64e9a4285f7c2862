package db

import (
	"context"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const subscriptionColumns = `id, vendor_id, url, secret, events, product_id, active, created_at`

type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

func (r *SubscriptionRepository) CreateSubscription(ctx context.Context, s *model.Subscription) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	events := lo.Map(s.Events, func(e model.EventType, _ int) string { return string(e) })

	query := `INSERT INTO webhook_subscriptions (id, vendor_id, url, secret, events, product_id, active)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`
	err := r.pool.QueryRow(ctx, query, s.ID, s.VendorID, s.URL, s.Secret, events, s.ProductID, s.Active).
		Scan(&s.CreatedAt)
	return errors.Wrapf(err, "insert subscription %s", s.ID)
}

// GetSubscriptions returns the active subscriptions of a vendor.
func (r *SubscriptionRepository) GetSubscriptions(ctx context.Context, vendorID string) ([]*model.Subscription, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE vendor_id = $1 AND active ORDER BY created_at`,
		vendorID)
	if err != nil {
		return nil, errors.Wrapf(err, "select subscriptions of vendor %s", vendorID)
	}
	defer rows.Close()

	var subscriptions []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan subscription")
		}
		subscriptions = append(subscriptions, s)
	}
	return subscriptions, errors.Wrap(rows.Err(), "iterate subscriptions")
}

func (r *SubscriptionRepository) GetSubscription(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	s, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "subscription %s", id)
	}
	return s, errors.Wrapf(err, "select subscription %s", id)
}

func (r *SubscriptionRepository) SetSubscriptionActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE webhook_subscriptions SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return errors.Wrapf(err, "update subscription %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(apperr.ErrNotFound, "subscription %s", id)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var (
		s      model.Subscription
		events []string
	)
	if err := row.Scan(&s.ID, &s.VendorID, &s.URL, &s.Secret, &events, &s.ProductID, &s.Active, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Events = lo.Map(events, func(e string, _ int) model.EventType { return model.EventType(e) })
	return &s, nil
}
