package model

import "time"

type ChargeStatus string

const (
	ChargeWaiting ChargeStatus = "waiting"
	ChargePaid    ChargeStatus = "paid"
	ChargeExpired ChargeStatus = "expired"
)

func (s ChargeStatus) Terminal() bool {
	return s == ChargePaid || s == ChargeExpired
}

// Charge is one gateway-side PIX payment intent for an order.
type Charge struct {
	ID           string
	OrderID      string
	QRCode       string
	QRCodeBase64 string
	ValueCents   int64
	Status       ChargeStatus
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (c *Charge) ExpiredAt(now time.Time) bool {
	return c.Status == ChargeExpired || !now.Before(c.ExpiresAt)
}
