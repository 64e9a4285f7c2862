package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"checkout-dispatch/internal/model"
)

const (
	utmifyTimeLayout = "2006-01-02 15:04:05"

	UtmifyWaitingPayment = "waiting_payment"
	UtmifyPaid           = "paid"
	UtmifyRefused        = "refused"
	UtmifyRefunded       = "refunded"
	UtmifyChargedback    = "chargedback"
	UtmifyAbandoned      = "abandoned"

	DefaultUtmifyPendingMaxDays  = 7
	DefaultUtmifyRefundedMaxDays = 45
)

type UtmifyOrder struct {
	OrderID            string                   `json:"orderId"`
	Platform           string                   `json:"platform"`
	PaymentMethod      string                   `json:"paymentMethod"`
	Status             string                   `json:"status"`
	CreatedAt          string                   `json:"createdAt"`
	ApprovedDate       *string                  `json:"approvedDate"`
	RefundedAt         *string                  `json:"refundedAt"`
	Customer           UtmifyCustomer           `json:"customer"`
	Products           []UtmifyProduct          `json:"products"`
	TrackingParameters UtmifyTrackingParameters `json:"trackingParameters"`
	Commission         UtmifyCommission         `json:"commission"`
	IsTest             bool                     `json:"isTest"`
}

type UtmifyCustomer struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
	Document *string `json:"document"`
	Country  string  `json:"country"`
	IP       *string `json:"ip"`
}

type UtmifyProduct struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	PlanID       *string `json:"planId"`
	PlanName     *string `json:"planName"`
	Quantity     int     `json:"quantity"`
	PriceInCents int64   `json:"priceInCents"`
}

type UtmifyTrackingParameters struct {
	Src         *string `json:"src"`
	Sck         *string `json:"sck"`
	UtmSource   *string `json:"utm_source"`
	UtmCampaign *string `json:"utm_campaign"`
	UtmMedium   *string `json:"utm_medium"`
	UtmContent  *string `json:"utm_content"`
	UtmTerm     *string `json:"utm_term"`
}

type UtmifyCommission struct {
	TotalPriceInCents     int64  `json:"totalPriceInCents"`
	GatewayFeeInCents     int64  `json:"gatewayFeeInCents"`
	UserCommissionInCents int64  `json:"userCommissionInCents"`
	Currency              string `json:"currency"`
}

// Commission carries optional fee inputs; nil fields fall back to no fee and full commission.
type Commission struct {
	GatewayFeeCents     *int64
	UserCommissionCents *int64
}

type UtmifyOptions struct {
	Platform        string
	PendingMaxDays  int
	RefundedMaxDays int
	Commission      Commission
}

// UtmifyStatus maps the internal or raw gateway status onto UTMify's vocabulary.
func UtmifyStatus(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "pix_pending", "initiated", "authorized", "waiting_payment", "created":
		return UtmifyWaitingPayment, true
	case "paid", "approved":
		return UtmifyPaid, true
	case "declined", "canceled", "cancelled", "refused", "expired":
		return UtmifyRefused, true
	case "refunded":
		return UtmifyRefunded, true
	case "chargeback", "chargedback":
		return UtmifyChargedback, true
	case "abandoned":
		return UtmifyAbandoned, true
	}
	return "", false
}

// BuildUtmify maps order to a UTMify order. The second result is false when nothing
// should be sent: abandoned orders, unknown statuses and orders outside the age windows.
func BuildUtmify(order *model.Order, product *model.Product, now time.Time, opts UtmifyOptions) (*UtmifyOrder, bool) {
	status, ok := UtmifyStatus(string(order.Status))
	if !ok || status == UtmifyAbandoned {
		return nil, false
	}

	if !utmifyEligible(status, order.CreatedAt, now, opts) {
		return nil, false
	}

	currency := order.Currency
	if currency == "" {
		currency = "BRL"
	}

	fee := int64(0)
	if opts.Commission.GatewayFeeCents != nil {
		fee = *opts.Commission.GatewayFeeCents
	}
	userCommission := order.AmountCents
	if opts.Commission.UserCommissionCents != nil {
		userCommission = *opts.Commission.UserCommissionCents
	}

	productName := ""
	if product != nil {
		productName = product.Name
	}

	return &UtmifyOrder{
		OrderID:       order.ID,
		Platform:      opts.Platform,
		PaymentMethod: utmifyPaymentMethod(order.PaymentMethod),
		Status:        status,
		CreatedAt:     order.CreatedAt.UTC().Format(utmifyTimeLayout),
		ApprovedDate:  formatTime(order.PaidAt, utmifyTimeLayout),
		RefundedAt:    formatTime(order.RefundedAt, utmifyTimeLayout),
		Customer: UtmifyCustomer{
			Name:     order.Customer.Name,
			Email:    order.Customer.Email,
			Phone:    optional(order.Customer.Phone),
			Document: optional(order.Customer.Document),
			Country:  "BR",
			IP:       optional(order.Client.IP),
		},
		Products: []UtmifyProduct{{
			ID:           order.ProductID,
			Name:         productName,
			Quantity:     1,
			PriceInCents: order.AmountCents,
		}},
		TrackingParameters: UtmifyTrackingParameters{
			Src:         optional(order.Tracking["src"]),
			Sck:         optional(order.Tracking["sck"]),
			UtmSource:   optional(order.Tracking["utm_source"]),
			UtmCampaign: optional(order.Tracking["utm_campaign"]),
			UtmMedium:   optional(order.Tracking["utm_medium"]),
			UtmContent:  optional(order.Tracking["utm_content"]),
			UtmTerm:     optional(order.Tracking["utm_term"]),
		},
		Commission: UtmifyCommission{
			TotalPriceInCents:     order.AmountCents,
			GatewayFeeInCents:     fee,
			UserCommissionInCents: userCommission,
			Currency:              currency,
		},
		IsTest: order.Test,
	}, true
}

// UtmifyIdempotencyKey derives a stable key from order id, status and approval date.
func UtmifyIdempotencyKey(o *UtmifyOrder) string {
	approved := "null"
	if o.ApprovedDate != nil {
		approved = *o.ApprovedDate
	}
	sum := sha256.Sum256([]byte(o.OrderID + "|" + o.Status + "|" + approved))
	return hex.EncodeToString(sum[:])
}

// days are whole days since creation; a window of 7 keeps day 7 and drops day 8
func utmifyEligible(status string, createdAt, now time.Time, opts UtmifyOptions) bool {
	days := int(now.Sub(createdAt) / (24 * time.Hour))

	pendingMax := opts.PendingMaxDays
	if pendingMax <= 0 {
		pendingMax = DefaultUtmifyPendingMaxDays
	}
	refundedMax := opts.RefundedMaxDays
	if refundedMax <= 0 {
		refundedMax = DefaultUtmifyRefundedMaxDays
	}

	switch status {
	case UtmifyWaitingPayment, UtmifyPaid, UtmifyRefused:
		return days <= pendingMax
	case UtmifyRefunded, UtmifyChargedback:
		return days <= refundedMax
	}
	return true
}

func utmifyPaymentMethod(method model.PaymentMethod) string {
	switch method {
	case model.MethodCard:
		return "credit_card"
	case model.MethodBoleto:
		return "boleto"
	default:
		return "pix"
	}
}
