package order

import (
	"context"
	"log/slog"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/gateway"
	"checkout-dispatch/internal/logcontext"
	"checkout-dispatch/internal/message"
	"checkout-dispatch/internal/model"
	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

var (
	transitionAppliedCounter = metrics.GetOrCreateCounter(`order_transitions_total{result="applied"}`)
	transitionIgnoredCounter = metrics.GetOrCreateCounter(`order_transitions_total{result="ignored"}`)

	paymentIgnoredCounter = metrics.GetOrCreateCounter(`order_charge_payments_total{result="ignored"}`)
	paymentAppliedCounter = metrics.GetOrCreateCounter(`order_charge_payments_total{result="applied"}`)

	publishErrorCounter   = metrics.GetOrCreateCounter(`order_events_published_total{result="error"}`)
	publishSuccessCounter = metrics.GetOrCreateCounter(`order_events_published_total{result="success"}`)
)

type Store interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByGatewayID(ctx context.Context, gatewayID string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status model.Status, at time.Time) (bool, error)
	AbandonStale(ctx context.Context, cutoff, now time.Time) (int64, error)
	GetCharge(ctx context.Context, id string) (*model.Charge, error)
	GetCurrentCharge(ctx context.Context, orderID string) (*model.Charge, error)
	UpdateChargeStatus(ctx context.Context, id string, status model.ChargeStatus) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, event message.OrderEvent) error
}

// Callback is the body of a gateway status callback. ID is a charge id or, for non-PIX
// payments, the order's gateway id.
type Callback struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status" validate:"required"`
	Value  int64  `json:"value,omitempty"`
}

// Service is the single place order status changes happen. Every path (callbacks, charge
// sessions, status queries) goes through the same one-directional transition rule.
type Service struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ApplyStatus moves the order to status if allowed and publishes the matching event.
// It reports false when the order was already past that point.
func (s *Service) ApplyStatus(ctx context.Context, orderID string, status model.Status) (bool, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", orderID))

	if !status.Valid() {
		return false, errors.Wrapf(apperr.ErrValidation, "unknown status %q", status)
	}

	changed, err := s.store.UpdateOrderStatus(ctx, orderID, status, s.now())
	if err != nil {
		return false, err
	}
	if !changed {
		s.logger.InfoContext(ctx, "Status transition ignored", "status", status)
		transitionIgnoredCounter.Inc()
		return false, nil
	}

	s.logger.InfoContext(ctx, "Order status changed", "status", status)
	transitionAppliedCounter.Inc()

	if event, ok := model.EventForStatus(status); ok {
		s.publish(ctx, orderID, event)
	}
	return true, nil
}

func (s *Service) ChargeCreated(ctx context.Context, charge *model.Charge) {
	s.publish(ctx, charge.OrderID, model.EventPixGenerated)
}

// SettleCharge applies a terminal charge outcome. Expiry only closes the charge so that a
// new one can be created; payment of a charge that is expired or superseded is ignored.
func (s *Service) SettleCharge(ctx context.Context, charge *model.Charge, status model.ChargeStatus) error {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", charge.OrderID))
	ctx = logcontext.AppendCtx(ctx, slog.String("chargeId", charge.ID))

	switch status {
	case model.ChargeExpired:
		settled, err := s.store.UpdateChargeStatus(ctx, charge.ID, model.ChargeExpired)
		if err != nil {
			return err
		}
		if settled {
			s.logger.InfoContext(ctx, "Charge expired, order stays open for a new charge")
		}
		return nil
	case model.ChargePaid:
		return s.settlePayment(ctx, charge)
	}
	return errors.Wrapf(apperr.ErrValidation, "charge status %q is not terminal", status)
}

func (s *Service) settlePayment(ctx context.Context, charge *model.Charge) error {
	current, err := s.store.GetCurrentCharge(ctx, charge.OrderID)
	if err != nil {
		return err
	}
	if current.ID != charge.ID {
		s.logger.WarnContext(ctx, "Payment for superseded charge ignored", "currentChargeId", current.ID)
		paymentIgnoredCounter.Inc()
		return nil
	}

	stored, err := s.store.GetCharge(ctx, charge.ID)
	if err != nil {
		return err
	}
	if stored.Status == model.ChargeExpired {
		s.logger.WarnContext(ctx, "Payment for expired charge ignored")
		paymentIgnoredCounter.Inc()
		return nil
	}
	if stored.Status == model.ChargeWaiting && stored.ExpiredAt(s.now()) {
		if _, err := s.store.UpdateChargeStatus(ctx, charge.ID, model.ChargeExpired); err != nil {
			return err
		}
		s.logger.WarnContext(ctx, "Payment after charge deadline ignored")
		paymentIgnoredCounter.Inc()
		return nil
	}

	order, err := s.store.GetOrder(ctx, charge.OrderID)
	if err != nil {
		return err
	}
	if !model.CanTransition(order.Status, model.StatusPaid) {
		s.logger.WarnContext(ctx, "Payment for closed order ignored", "orderStatus", order.Status)
		paymentIgnoredCounter.Inc()
		return nil
	}

	settled, err := s.store.UpdateChargeStatus(ctx, charge.ID, model.ChargePaid)
	if err != nil {
		return err
	}
	if !settled {
		s.logger.DebugContext(ctx, "Charge already settled")
		return nil
	}

	paymentAppliedCounter.Inc()
	_, err = s.ApplyStatus(ctx, charge.OrderID, model.StatusPaid)
	return err
}

// HandleCallback applies a verified gateway callback.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) error {
	status, ok := gateway.MapOrderStatus(cb.Status)

	charge, err := s.store.GetCharge(ctx, cb.ID)
	switch {
	case err == nil:
		return s.applyChargeCallback(ctx, charge, status, ok)
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	order, err := s.store.GetOrderByGatewayID(ctx, cb.ID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.DebugContext(ctx, "Callback carries no transition", "orderId", order.ID, "status", cb.Status)
		return nil
	}
	_, err = s.ApplyStatus(ctx, order.ID, status)
	return err
}

func (s *Service) applyChargeCallback(ctx context.Context, charge *model.Charge, status model.Status, ok bool) error {
	if !ok {
		return nil
	}
	switch status {
	case model.StatusPaid:
		return s.SettleCharge(ctx, charge, model.ChargePaid)
	case model.StatusExpired, model.StatusCanceled:
		return s.SettleCharge(ctx, charge, model.ChargeExpired)
	}
	_, err := s.ApplyStatus(ctx, charge.OrderID, status)
	return err
}

// AbandonStale marks pending orders older than age as abandoned. No events are published.
// A non-positive age means DefaultAbandonAge.
func (s *Service) AbandonStale(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		age = DefaultAbandonAge
	}
	now := s.now()
	n, err := s.store.AbandonStale(ctx, now.Add(-age), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "Abandoned stale orders", "count", n)
	}
	return n, nil
}

// publish never fails the caller: a lost event is logged and counted.
func (s *Service) publish(ctx context.Context, orderID string, event model.EventType) {
	ctx = logcontext.AppendCtx(ctx, slog.String("eventType", string(event)))

	if err := s.publisher.Publish(ctx, message.NewOrderEvent(orderID, event, nil)); err != nil {
		s.logger.ErrorContext(ctx, "Error publishing order event", "error", err)
		publishErrorCounter.Inc()
		return
	}
	publishSuccessCounter.Inc()
}
