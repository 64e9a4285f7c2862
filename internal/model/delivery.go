package model

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Delivery is one event sent (or to be sent) to one subscription.
// Payload is fixed at creation so resends are byte-identical.
type Delivery struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	OrderID        string
	EventType      EventType
	Payload        []byte
	Status         DeliveryStatus
	Attempts       int
	ResponseCode   *int
	ResponseBody   *string
	Error          *string
	LastAttemptAt  *time.Time
	NextAttemptAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeliveryAttempt is the outcome of one POST of a delivery's payload.
type DeliveryAttempt struct {
	Status        DeliveryStatus
	ResponseCode  *int
	ResponseBody  *string
	Error         *string
	AttemptedAt   time.Time
	NextAttemptAt *time.Time
}
