package event

import (
	"context"
	"log/slog"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/callback"
	"checkout-dispatch/internal/logcontext"
	"checkout-dispatch/internal/message"
	"checkout-dispatch/internal/model"
	"github.com/pkg/errors"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, orderID string, event model.EventType, extra map[string]any) (*callback.DeliverySummary, error)
}

// Processor turns order events into dispatches.
type Processor struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewProcessor(dispatcher Dispatcher, logger *slog.Logger) *Processor {
	return &Processor{dispatcher: dispatcher, logger: logger}
}

func (p *Processor) Process(ctx context.Context, event message.OrderEvent) error {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", event.OrderID))
	ctx = logcontext.AppendCtx(ctx, slog.String("eventType", string(event.Event)))

	p.logger.InfoContext(ctx, "Processing order event")

	summary, err := p.dispatcher.Dispatch(ctx, event.OrderID, event.Event, event.Extra)
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrValidation) {
		p.logger.WarnContext(ctx, "Dropping order event", "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Order event processed",
		"deliveries", len(summary.Deliveries), "failed", summary.Failed(), "integrations", len(summary.Integrations))
	return nil
}
