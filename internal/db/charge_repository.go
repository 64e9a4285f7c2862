package db

import (
	"context"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const chargeColumns = `id, order_id, qr_code, qr_code_base64, value_cents, status, created_at, expires_at`

type ChargeRepository struct {
	pool *pgxpool.Pool
}

func NewChargeRepository(pool *pgxpool.Pool) *ChargeRepository {
	return &ChargeRepository{pool: pool}
}

func (r *ChargeRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

// CreateCharge stores the charge and points the order at it in one transaction.
// Older waiting charges of the same order are superseded.
func (r *ChargeRepository) CreateCharge(ctx context.Context, charge *model.Charge) error {
	details, err := model.EncodePaymentDetails(model.PixDetails{
		ChargeID:  charge.ID,
		QRCode:    charge.QRCode,
		ExpiresAt: charge.ExpiresAt,
	})
	if err != nil {
		return err
	}

	tx, err := r.BeginTx(ctx)
	if err != nil {
		return errors.Wrap(err, "begin charge transaction")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `UPDATE pix_charges SET status = 'expired', updated_at = now()
	                       WHERE order_id = $1 AND status = 'waiting'`, charge.OrderID)
	if err != nil {
		return errors.Wrapf(err, "supersede charges of order %s", charge.OrderID)
	}

	query := `INSERT INTO pix_charges (id, order_id, qr_code, qr_code_base64, value_cents, status, created_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = tx.Exec(ctx, query, charge.ID, charge.OrderID, charge.QRCode, charge.QRCodeBase64, charge.ValueCents,
		string(charge.Status), charge.CreatedAt, charge.ExpiresAt)
	if err != nil {
		return errors.Wrapf(err, "insert charge %s", charge.ID)
	}

	tag, err := tx.Exec(ctx, `UPDATE orders SET gateway_id = $2, payment_details = $3, updated_at = now() WHERE id = $1`,
		charge.OrderID, charge.ID, details)
	if err != nil {
		return errors.Wrapf(err, "link charge %s to order", charge.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(apperr.ErrNotFound, "order %s", charge.OrderID)
	}

	return errors.Wrap(tx.Commit(ctx), "commit charge transaction")
}

func (r *ChargeRepository) GetCharge(ctx context.Context, id string) (*model.Charge, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+chargeColumns+` FROM pix_charges WHERE id = $1`, id)
	charge, err := scanCharge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "charge %s", id)
	}
	return charge, errors.Wrapf(err, "select charge %s", id)
}

// GetCurrentCharge returns the newest charge of the order.
func (r *ChargeRepository) GetCurrentCharge(ctx context.Context, orderID string) (*model.Charge, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+chargeColumns+` FROM pix_charges WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID)
	charge, err := scanCharge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(apperr.ErrNotFound, "charge for order %s", orderID)
	}
	return charge, errors.Wrapf(err, "select charge for order %s", orderID)
}

// UpdateChargeStatus settles a waiting charge. It reports false if the charge was already settled.
func (r *ChargeRepository) UpdateChargeStatus(ctx context.Context, id string, status model.ChargeStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE pix_charges SET status = $2, updated_at = now()
	                              WHERE id = $1 AND status = 'waiting'`, id, string(status))
	if err != nil {
		return false, errors.Wrapf(err, "update charge %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func scanCharge(row pgx.Row) (*model.Charge, error) {
	var c model.Charge
	err := row.Scan(&c.ID, &c.OrderID, &c.QRCode, &c.QRCodeBase64, &c.ValueCents, &c.Status, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
