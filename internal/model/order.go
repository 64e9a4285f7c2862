package model

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusExpired    Status = "expired"
	StatusCanceled   Status = "canceled"
	StatusRefunded   Status = "refunded"
	StatusChargeback Status = "chargeback"
	StatusAbandoned  Status = "abandoned"
)

// transitions lists, for every status, the statuses it may move to.
// Anything not listed is terminal.
var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusExpired, StatusCanceled, StatusRefunded, StatusChargeback, StatusAbandoned},
	StatusPaid:    {StatusRefunded, StatusChargeback},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusExpired, StatusCanceled, StatusRefunded, StatusChargeback, StatusAbandoned:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status from which to is reachable in one step.
func SourcesOf(to Status) []Status {
	var sources []Status
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

type PaymentMethod string

const (
	MethodPix    PaymentMethod = "pix"
	MethodBoleto PaymentMethod = "boleto"
	MethodCard   PaymentMethod = "credit_card"
)

type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Document string `json:"document,omitempty"`
}

// ClientInfo is what the checkout page captured about the payer's browser.
type ClientInfo struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Fbc       string `json:"fbc,omitempty"`
	Fbp       string `json:"fbp,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

type Product struct {
	ID         string
	VendorID   string
	Name       string
	PriceCents int64
}

// Order is one checkout attempt. AmountCents is always in minor units.
type Order struct {
	ID            string
	VendorID      string
	ProductID     string
	Customer      Customer
	Client        ClientInfo
	AmountCents   int64
	Currency      string
	PaymentMethod PaymentMethod
	Payment       PaymentDetails
	GatewayID     string
	Status        Status
	CreatedAt     time.Time
	PaidAt        *time.Time
	RefundedAt    *time.Time
	Tracking      map[string]string
	Test          bool
}
