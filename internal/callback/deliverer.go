package callback

import (
	"context"
	"log/slog"
	"time"

	"checkout-dispatch/internal/model"
	"checkout-dispatch/internal/signature"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultSignatureHeader = "X-Webhook-Signature"
	DefaultEventHeader     = "X-Webhook-Event"
	DeliveryHeader         = "X-Webhook-Delivery"
)

var (
	deliverySuccessCounter      = metrics.GetOrCreateCounter(`callback_delivery_total{result="success"}`)
	deliveryFailedCounter       = metrics.GetOrCreateCounter(`callback_delivery_total{result="failed"}`)
	deliveryRecordFailedCounter = metrics.GetOrCreateCounter(`callback_delivery_total{result="record_failed"}`)

	deliveryDurationHistogram = metrics.GetOrCreateHistogram(`callback_delivery_duration_milliseconds`)
)

type DeliveryStore interface {
	InsertDelivery(ctx context.Context, d *model.Delivery) error
	UpdateDelivery(ctx context.Context, id uuid.UUID, a model.DeliveryAttempt) (*model.Delivery, error)
}

type Headers struct {
	Signature string
	Event     string
}

// Deliverer sends a stored delivery's payload to its subscription and records the outcome.
type Deliverer struct {
	store   DeliveryStore
	sender  *Sender
	policy  RetryPolicy
	headers Headers
	logger  *slog.Logger
	now     func() time.Time
}

func NewDeliverer(store DeliveryStore, sender *Sender, policy RetryPolicy, headers Headers, logger *slog.Logger) *Deliverer {
	headers.Signature = lo.Ternary(headers.Signature == "", DefaultSignatureHeader, headers.Signature)
	headers.Event = lo.Ternary(headers.Event == "", DefaultEventHeader, headers.Event)

	return &Deliverer{
		store:   store,
		sender:  sender,
		policy:  policy.withDefaults(),
		headers: headers,
		logger:  logger,
		now:     time.Now,
	}
}

// Attempt POSTs d.Payload unchanged, signed with the subscription secret, and records the result.
// Transport failures end up on the record, never in the returned error; the error only
// reports that the record itself could not be written.
func (d *Deliverer) Attempt(ctx context.Context, delivery *model.Delivery, sub *model.Subscription) (*model.Delivery, error) {
	startTime := d.now()

	resp, sendErr := d.sender.Send(ctx, Request{
		URL:  sub.URL,
		Body: delivery.Payload,
		Headers: map[string]string{
			d.headers.Signature: signature.Sign(sub.Secret, delivery.Payload),
			d.headers.Event:     string(delivery.EventType),
			DeliveryHeader:      delivery.ID.String(),
		},
	})

	attemptedAt := d.now()
	deliveryDurationHistogram.Update(float64(attemptedAt.Sub(startTime).Milliseconds()))

	attempt := model.DeliveryAttempt{
		Status:      model.DeliverySuccess,
		AttemptedAt: attemptedAt,
	}
	if resp != nil {
		attempt.ResponseCode = &resp.StatusCode
		attempt.ResponseBody = &resp.Body
	}
	if sendErr != nil {
		attempt.Status = model.DeliveryFailed
		attempt.Error = lo.ToPtr(sendErr.Error())
		attempt.NextAttemptAt = d.policy.NextAttempt(delivery.Attempts+1, attemptedAt)
	}

	updated, err := d.store.UpdateDelivery(ctx, delivery.ID, attempt)
	if err != nil {
		d.logger.ErrorContext(ctx, "Error recording delivery attempt", "error", err)
		deliveryRecordFailedCounter.Inc()
		return nil, err
	}

	if sendErr != nil {
		d.logger.WarnContext(ctx, "Delivery failed", "attempts", updated.Attempts, "error", sendErr)
		deliveryFailedCounter.Inc()
	} else {
		d.logger.InfoContext(ctx, "Delivery succeeded", "attempts", updated.Attempts)
		deliverySuccessCounter.Inc()
	}
	return updated, nil
}

// pendingUntil is the retry time stamped on a new record, so the sweeper picks it up only
// if the first attempt never got recorded.
func (d *Deliverer) pendingUntil(now time.Time) *time.Time {
	t := now.Add(d.sender.client.Timeout + d.policy.Base)
	return &t
}
