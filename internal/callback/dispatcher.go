package callback

import (
	"context"
	"log/slog"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/logcontext"
	"checkout-dispatch/internal/model"
	"checkout-dispatch/internal/payload"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 8

var (
	dispatchSuccessCounter  = metrics.GetOrCreateCounter(`callback_dispatch_total{result="success"}`)
	dispatchNotFoundCounter = metrics.GetOrCreateCounter(`callback_dispatch_total{result="order_not_found"}`)
	dispatchErrorCounter    = metrics.GetOrCreateCounter(`callback_dispatch_total{result="error"}`)

	dispatchDurationHistogram = metrics.GetOrCreateHistogram(`callback_dispatch_duration_milliseconds`)
)

type Store interface {
	DeliveryStore
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	GetSubscriptions(ctx context.Context, vendorID string) ([]*model.Subscription, error)
}

// Integrations notifies the vendor's third-party integrations about an order event.
type Integrations interface {
	Notify(ctx context.Context, order *model.Order, product *model.Product, event model.EventType) []model.IntegrationOutcome
}

type DeliveryResult struct {
	DeliveryID     uuid.UUID            `json:"deliveryId"`
	SubscriptionID uuid.UUID            `json:"subscriptionId"`
	Status         model.DeliveryStatus `json:"status"`
	StatusCode     *int                 `json:"statusCode,omitempty"`
	Error          string               `json:"error,omitempty"`
}

type DeliverySummary struct {
	OrderID      string                     `json:"orderId"`
	Event        model.EventType            `json:"event"`
	Deliveries   []DeliveryResult           `json:"deliveries"`
	Integrations []model.IntegrationOutcome `json:"integrations"`
}

func (s *DeliverySummary) Succeeded() int {
	return lo.CountBy(s.Deliveries, func(r DeliveryResult) bool { return r.Status == model.DeliverySuccess })
}

func (s *DeliverySummary) Failed() int {
	return len(s.Deliveries) - s.Succeeded()
}

type Dispatcher struct {
	store        Store
	deliverer    *Deliverer
	integrations Integrations
	parallelism  int
	logger       *slog.Logger
}

func NewDispatcher(store Store, deliverer *Deliverer, integrations Integrations, parallelism int, logger *slog.Logger) *Dispatcher {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Dispatcher{
		store:        store,
		deliverer:    deliverer,
		integrations: integrations,
		parallelism:  parallelism,
		logger:       logger,
	}
}

// Dispatch builds the event payload once and delivers it to every active subscription of the
// order's vendor that accepts the event, then notifies the vendor's integrations. One failed
// destination never prevents the others; every attempt is recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID string, event model.EventType, extra map[string]any) (*DeliverySummary, error) {
	startTime := time.Now()
	defer func() {
		dispatchDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", orderID))
	ctx = logcontext.AppendCtx(ctx, slog.String("event", string(event)))

	if !event.Valid() {
		dispatchErrorCounter.Inc()
		return nil, errors.Wrapf(apperr.ErrValidation, "unknown event %q", event)
	}

	order, err := d.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			d.logger.WarnContext(ctx, "Order not found")
			dispatchNotFoundCounter.Inc()
		} else {
			d.logger.ErrorContext(ctx, "Error loading order", "error", err)
			dispatchErrorCounter.Inc()
		}
		return nil, err
	}

	product, err := d.store.GetProduct(ctx, order.ProductID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		d.logger.ErrorContext(ctx, "Error loading product", "error", err)
		dispatchErrorCounter.Inc()
		return nil, err
	}

	subscriptions, err := d.store.GetSubscriptions(ctx, order.VendorID)
	if err != nil {
		d.logger.ErrorContext(ctx, "Error loading subscriptions", "error", err)
		dispatchErrorCounter.Inc()
		return nil, err
	}
	subscriptions = lo.Filter(subscriptions, func(s *model.Subscription, _ int) bool {
		return s.Matches(order, event)
	})

	body, err := payload.Encode(payload.BuildWebhook(order, product, event, extra))
	if err != nil {
		dispatchErrorCounter.Inc()
		return nil, errors.Wrap(err, "encode payload")
	}

	d.logger.InfoContext(ctx, "Dispatching event", "subscriptions", len(subscriptions))

	// in-flight requests outlive a cancelled caller so that every attempt gets recorded
	sendCtx := context.WithoutCancel(ctx)

	summary := &DeliverySummary{
		OrderID:    orderID,
		Event:      event,
		Deliveries: make([]DeliveryResult, len(subscriptions)),
	}

	g := new(errgroup.Group)
	g.SetLimit(d.parallelism)
	for i, sub := range subscriptions {
		g.Go(func() error {
			summary.Deliveries[i] = d.deliver(sendCtx, order.ID, event, body, sub)
			return nil
		})
	}
	_ = g.Wait()

	if d.integrations != nil {
		summary.Integrations = d.integrations.Notify(sendCtx, order, product, event)
	}

	d.logger.InfoContext(ctx, "Event dispatched", "succeeded", summary.Succeeded(), "failed", summary.Failed())
	dispatchSuccessCounter.Inc()

	return summary, nil
}

func (d *Dispatcher) deliver(ctx context.Context, orderID string, event model.EventType, body []byte, sub *model.Subscription) DeliveryResult {
	ctx = logcontext.AppendCtx(ctx, slog.String("subscriptionId", sub.ID.String()))

	result := DeliveryResult{SubscriptionID: sub.ID, Status: model.DeliveryFailed}

	delivery := &model.Delivery{
		SubscriptionID: sub.ID,
		OrderID:        orderID,
		EventType:      event,
		Payload:        body,
		Status:         model.DeliveryPending,
		NextAttemptAt:  d.deliverer.pendingUntil(time.Now()),
	}
	if err := d.store.InsertDelivery(ctx, delivery); err != nil {
		d.logger.ErrorContext(ctx, "Error creating delivery record", "error", err)
		deliveryRecordFailedCounter.Inc()
		result.Error = err.Error()
		return result
	}
	result.DeliveryID = delivery.ID

	ctx = logcontext.AppendCtx(ctx, slog.String("deliveryId", delivery.ID.String()))

	updated, err := d.deliverer.Attempt(ctx, delivery, sub)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Status = updated.Status
	result.StatusCode = updated.ResponseCode
	result.Error = lo.FromPtr(updated.Error)
	return result
}
