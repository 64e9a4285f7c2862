package testhelpers

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/model"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// MemoryStore is an in-memory stand-in for db.Store with the same status guards.
type MemoryStore struct {
	mu            sync.Mutex
	orders        map[string]*model.Order
	products      map[string]*model.Product
	charges       map[string]*model.Charge
	chargeOrder   []string
	subscriptions map[uuid.UUID]*model.Subscription
	integrations  map[uuid.UUID]*model.Integration
	deliveries    map[uuid.UUID]*model.Delivery
	seq           time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:        map[string]*model.Order{},
		products:      map[string]*model.Product{},
		charges:       map[string]*model.Charge{},
		subscriptions: map[uuid.UUID]*model.Subscription{},
		integrations:  map[uuid.UUID]*model.Integration{},
		deliveries:    map[uuid.UUID]*model.Delivery{},
	}
}

// tick keeps creation times strictly increasing within a test.
func (m *MemoryStore) tick() time.Time {
	m.seq++
	return time.Now().Add(m.seq * time.Microsecond)
}

func (m *MemoryStore) CreateOrder(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.Status == "" {
		order.Status = model.StatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	o := *order
	m.orders[order.ID] = &o
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "order %s", id)
	}
	c := *o
	return &c, nil
}

func (m *MemoryStore) GetOrderByGatewayID(_ context.Context, gatewayID string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.GatewayID != "" && o.GatewayID == gatewayID {
			c := *o
			return &c, nil
		}
	}
	return nil, errors.Wrapf(apperr.ErrNotFound, "order with gateway id %s", gatewayID)
}

func (m *MemoryStore) UpdateOrderStatus(_ context.Context, id string, status model.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return false, errors.Wrapf(apperr.ErrNotFound, "order %s", id)
	}
	if !model.CanTransition(o.Status, status) {
		return false, nil
	}
	o.Status = status
	switch status {
	case model.StatusPaid:
		o.PaidAt = &at
	case model.StatusRefunded:
		o.RefundedAt = &at
	}
	return true, nil
}

func (m *MemoryStore) AbandonStale(_ context.Context, cutoff, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	open := map[string]bool{}
	for _, c := range m.charges {
		if c.Status == model.ChargeWaiting && c.ExpiresAt.After(now) {
			open[c.OrderID] = true
		}
	}

	var n int64
	for _, o := range m.orders {
		if o.Status == model.StatusPending && o.CreatedAt.Before(cutoff) && !open[o.ID] {
			o.Status = model.StatusAbandoned
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateProduct(_ context.Context, product *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := *product
	m.products[product.ID] = &p
	return nil
}

func (m *MemoryStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "product %s", id)
	}
	c := *p
	return &c, nil
}

func (m *MemoryStore) CreateCharge(_ context.Context, charge *model.Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[charge.OrderID]
	if !ok {
		return errors.Wrapf(apperr.ErrNotFound, "order %s", charge.OrderID)
	}
	for _, c := range m.charges {
		if c.OrderID == charge.OrderID && c.Status == model.ChargeWaiting {
			c.Status = model.ChargeExpired
		}
	}
	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = m.tick()
	}
	c := *charge
	m.charges[charge.ID] = &c
	m.chargeOrder = append(m.chargeOrder, charge.ID)

	o.GatewayID = charge.ID
	o.Payment = model.PixDetails{ChargeID: charge.ID, QRCode: charge.QRCode, ExpiresAt: charge.ExpiresAt}
	return nil
}

func (m *MemoryStore) GetCharge(_ context.Context, id string) (*model.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.charges[id]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "charge %s", id)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) GetCurrentCharge(_ context.Context, orderID string) (*model.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current *model.Charge
	for _, id := range m.chargeOrder {
		if c := m.charges[id]; c.OrderID == orderID {
			current = c
		}
	}
	if current == nil {
		return nil, errors.Wrapf(apperr.ErrNotFound, "charge for order %s", orderID)
	}
	cp := *current
	return &cp, nil
}

func (m *MemoryStore) UpdateChargeStatus(_ context.Context, id string, status model.ChargeStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.charges[id]
	if !ok || c.Status != model.ChargeWaiting {
		return false, nil
	}
	c.Status = status
	return true, nil
}

func (m *MemoryStore) CreateSubscription(_ context.Context, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = m.tick()
	c := *s
	m.subscriptions[s.ID] = &c
	return nil
}

func (m *MemoryStore) GetSubscriptions(_ context.Context, vendorID string) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := lo.Filter(lo.Values(m.subscriptions), func(s *model.Subscription, _ int) bool {
		return s.VendorID == vendorID && s.Active
	})
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return lo.Map(subs, func(s *model.Subscription, _ int) *model.Subscription {
		c := *s
		return &c
	}), nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, id uuid.UUID) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "subscription %s", id)
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) SetSubscriptionActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok {
		return errors.Wrapf(apperr.ErrNotFound, "subscription %s", id)
	}
	s.Active = active
	return nil
}

func (m *MemoryStore) CreateIntegration(_ context.Context, i *model.Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	c := *i
	m.integrations[i.ID] = &c
	return nil
}

func (m *MemoryStore) GetIntegrations(_ context.Context, vendorID string) ([]*model.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return lo.FilterMap(lo.Values(m.integrations), func(i *model.Integration, _ int) (*model.Integration, bool) {
		c := *i
		return &c, i.VendorID == vendorID && i.Active
	}), nil
}

func (m *MemoryStore) InsertDelivery(_ context.Context, d *model.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = model.DeliveryPending
	}
	d.CreatedAt = m.tick()
	d.UpdatedAt = d.CreatedAt
	c := *d
	c.Payload = append([]byte(nil), d.Payload...)
	m.deliveries[d.ID] = &c
	return nil
}

func (m *MemoryStore) UpdateDelivery(_ context.Context, id uuid.UUID, a model.DeliveryAttempt) (*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deliveries[id]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "delivery %s", id)
	}
	d.Status = a.Status
	d.Attempts++
	d.ResponseCode = a.ResponseCode
	d.ResponseBody = a.ResponseBody
	d.Error = a.Error
	d.LastAttemptAt = &a.AttemptedAt
	d.NextAttemptAt = a.NextAttemptAt
	d.UpdatedAt = time.Now()
	c := *d
	return &c, nil
}

func (m *MemoryStore) CloseDelivery(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deliveries[id]
	if !ok {
		return errors.Wrapf(apperr.ErrNotFound, "delivery %s", id)
	}
	d.Status = model.DeliveryFailed
	d.Error = &reason
	d.NextAttemptAt = nil
	return nil
}

func (m *MemoryStore) ListRetryable(_ context.Context, limit, maxAttempts int, now time.Time) ([]*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := lo.Filter(lo.Values(m.deliveries), func(d *model.Delivery, _ int) bool {
		return d.Status != model.DeliverySuccess && d.Attempts < maxAttempts &&
			d.NextAttemptAt != nil && !d.NextAttemptAt.After(now)
	})
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return lo.Map(due, func(d *model.Delivery, _ int) *model.Delivery {
		c := *d
		return &c
	}), nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, id uuid.UUID) (*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deliveries[id]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "delivery %s", id)
	}
	c := *d
	return &c, nil
}

func (m *MemoryStore) ListDeliveriesByOrder(_ context.Context, orderID string) ([]*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds := lo.Filter(lo.Values(m.deliveries), func(d *model.Delivery, _ int) bool { return d.OrderID == orderID })
	sort.Slice(ds, func(i, j int) bool { return ds[i].CreatedAt.Before(ds[j].CreatedAt) })
	return lo.Map(ds, func(d *model.Delivery, _ int) *model.Delivery {
		c := *d
		return &c
	}), nil
}
