package message

import (
	"time"

	"checkout-dispatch/internal/model"
	"github.com/google/uuid"
)

// OrderEvent announces that an order reached a state downstream consumers care about.
type OrderEvent struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    string          `json:"orderId"`
	Event      model.EventType `json:"event"`
	Extra      map[string]any  `json:"extra,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

func NewOrderEvent(orderID string, event model.EventType, extra map[string]any) OrderEvent {
	return OrderEvent{
		ID:         uuid.New(),
		OrderID:    orderID,
		Event:      event,
		Extra:      extra,
		OccurredAt: time.Now().UTC(),
	}
}
