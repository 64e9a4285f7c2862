package db

import "github.com/jackc/pgx/v5/pgxpool"

// Store bundles the repositories behind one value satisfying the service-side interfaces.
type Store struct {
	*OrderRepository
	*ChargeRepository
	*SubscriptionRepository
	*DeliveryRepository
	*IntegrationRepository
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		OrderRepository:        NewOrderRepository(pool),
		ChargeRepository:       NewChargeRepository(pool),
		SubscriptionRepository: NewSubscriptionRepository(pool),
		DeliveryRepository:     NewDeliveryRepository(pool),
		IntegrationRepository:  NewIntegrationRepository(pool),
	}
}
