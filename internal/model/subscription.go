package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Subscription is a merchant-configured webhook target. Secret is used for signing only.
type Subscription struct {
	ID        uuid.UUID
	VendorID  string
	URL       string
	Secret    string
	Events    []EventType
	ProductID *string
	Active    bool
	CreatedAt time.Time
}

// Matches reports whether the subscription should receive event for order.
func (s *Subscription) Matches(order *Order, event EventType) bool {
	if !s.Active || s.VendorID != order.VendorID {
		return false
	}
	if !lo.Contains(s.Events, event) {
		return false
	}
	return s.ProductID == nil || *s.ProductID == order.ProductID
}
