package db

import (
	"context"

	"checkout-dispatch/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type IntegrationRepository struct {
	pool *pgxpool.Pool
}

func NewIntegrationRepository(pool *pgxpool.Pool) *IntegrationRepository {
	return &IntegrationRepository{pool: pool}
}

func (r *IntegrationRepository) CreateIntegration(ctx context.Context, i *model.Integration) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	config := []byte(i.Config)
	if len(config) == 0 {
		config = []byte("{}")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO vendor_integrations (id, vendor_id, kind, active, config) VALUES ($1, $2, $3, $4, $5)`,
		i.ID, i.VendorID, string(i.Kind), i.Active, config)
	return errors.Wrapf(err, "insert integration %s", i.ID)
}

// GetIntegrations returns the active integrations of a vendor.
func (r *IntegrationRepository) GetIntegrations(ctx context.Context, vendorID string) ([]*model.Integration, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, vendor_id, kind, active, config FROM vendor_integrations WHERE vendor_id = $1 AND active ORDER BY created_at`,
		vendorID)
	if err != nil {
		return nil, errors.Wrapf(err, "select integrations of vendor %s", vendorID)
	}
	defer rows.Close()

	var integrations []*model.Integration
	for rows.Next() {
		var (
			i      model.Integration
			config []byte
		)
		if err := rows.Scan(&i.ID, &i.VendorID, &i.Kind, &i.Active, &config); err != nil {
			return nil, errors.Wrap(err, "scan integration")
		}
		i.Config = config
		integrations = append(integrations, &i)
	}
	return integrations, errors.Wrap(rows.Err(), "iterate integrations")
}
