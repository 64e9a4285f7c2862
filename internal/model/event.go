package model

type EventType string

const (
	EventPixGenerated       EventType = "pix_generated"
	EventPurchaseApproved   EventType = "purchase_approved"
	EventPurchaseRefunded   EventType = "purchase_refunded"
	EventPurchaseChargeback EventType = "purchase_chargeback"
	EventPurchaseCanceled   EventType = "purchase_canceled"
	EventPurchaseExpired    EventType = "purchase_expired"
)

func (e EventType) Valid() bool {
	switch e {
	case EventPixGenerated, EventPurchaseApproved, EventPurchaseRefunded,
		EventPurchaseChargeback, EventPurchaseCanceled, EventPurchaseExpired:
		return true
	}
	return false
}

// EventForStatus names the downstream event emitted when an order enters status.
// Abandoned and pending orders emit nothing.
func EventForStatus(status Status) (EventType, bool) {
	switch status {
	case StatusPaid:
		return EventPurchaseApproved, true
	case StatusRefunded:
		return EventPurchaseRefunded, true
	case StatusChargeback:
		return EventPurchaseChargeback, true
	case StatusCanceled:
		return EventPurchaseCanceled, true
	case StatusExpired:
		return EventPurchaseExpired, true
	}
	return "", false
}
