package payload

import (
	"encoding/json"
	"time"

	"checkout-dispatch/internal/model"
	"github.com/pkg/errors"
)

const timeLayoutRFC3339 = time.RFC3339

type Webhook struct {
	Event      model.EventType `json:"event"`
	OrderID    string          `json:"order_id"`
	Status     model.Status    `json:"status"`
	Test       bool            `json:"test"`
	CreatedAt  string          `json:"created_at"`
	PaidAt     *string         `json:"paid_at"`
	RefundedAt *string         `json:"refunded_at"`
	Customer   WebhookCustomer `json:"customer"`
	Product    WebhookProduct  `json:"product"`
	Payment    WebhookPayment  `json:"payment"`
	UTM        WebhookUTM      `json:"utm"`
	Extra      map[string]any  `json:"extra,omitempty"`
}

type WebhookCustomer struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
	Document *string `json:"document"`
}

type WebhookProduct struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Price      Amount `json:"price"`
}

type WebhookPayment struct {
	Method      model.PaymentMethod `json:"method"`
	Currency    string              `json:"currency"`
	GatewayID   *string             `json:"gateway_id"`
	AmountCents int64               `json:"amount_cents"`
	Amount      Amount              `json:"amount"`
	Pix         *WebhookPix         `json:"pix"`
	Boleto      *WebhookBoleto      `json:"boleto"`
	Card        *WebhookCard        `json:"card"`
}

type WebhookPix struct {
	ChargeID  string `json:"charge_id"`
	QRCode    string `json:"qr_code"`
	ExpiresAt string `json:"expires_at"`
}

type WebhookBoleto struct {
	Barcode       string `json:"barcode"`
	DigitableLine string `json:"digitable_line"`
	URL           string `json:"url"`
	DueDate       string `json:"due_date"`
}

type WebhookCard struct {
	Brand        string `json:"brand"`
	LastDigits   string `json:"last_digits"`
	Installments int    `json:"installments"`
}

type WebhookUTM struct {
	Source   *string `json:"utm_source"`
	Medium   *string `json:"utm_medium"`
	Campaign *string `json:"utm_campaign"`
	Content  *string `json:"utm_content"`
	Term     *string `json:"utm_term"`
	Src      *string `json:"src"`
	Sck      *string `json:"sck"`
}

// BuildWebhook maps an order to the generic webhook envelope. product may be nil.
func BuildWebhook(order *model.Order, product *model.Product, event model.EventType, extra map[string]any) *Webhook {
	w := &Webhook{
		Event:      event,
		OrderID:    order.ID,
		Status:     order.Status,
		Test:       order.Test,
		CreatedAt:  order.CreatedAt.UTC().Format(timeLayoutRFC3339),
		PaidAt:     formatTime(order.PaidAt, timeLayoutRFC3339),
		RefundedAt: formatTime(order.RefundedAt, timeLayoutRFC3339),
		Customer: WebhookCustomer{
			Name:     order.Customer.Name,
			Email:    order.Customer.Email,
			Phone:    optional(order.Customer.Phone),
			Document: optional(order.Customer.Document),
		},
		Product: WebhookProduct{ID: order.ProductID},
		Payment: WebhookPayment{
			Method:      order.PaymentMethod,
			Currency:    order.Currency,
			GatewayID:   optional(order.GatewayID),
			AmountCents: order.AmountCents,
			Amount:      FromCents(order.AmountCents),
		},
		UTM:   buildUTM(order.Tracking),
		Extra: extra,
	}

	if product != nil {
		w.Product.Name = product.Name
		w.Product.PriceCents = product.PriceCents
		w.Product.Price = FromCents(product.PriceCents)
	} else {
		w.Product.Price = FromCents(0)
	}

	switch details := order.Payment.(type) {
	case nil:
	case model.PixDetails:
		w.Payment.Pix = &WebhookPix{
			ChargeID:  details.ChargeID,
			QRCode:    details.QRCode,
			ExpiresAt: details.ExpiresAt.UTC().Format(timeLayoutRFC3339),
		}
	case model.BoletoDetails:
		w.Payment.Boleto = &WebhookBoleto{
			Barcode:       details.Barcode,
			DigitableLine: details.DigitableLine,
			URL:           details.URL,
			DueDate:       details.DueDate.UTC().Format(time.DateOnly),
		}
	case model.CardDetails:
		w.Payment.Card = &WebhookCard{
			Brand:        details.Brand,
			LastDigits:   details.LastDigits,
			Installments: details.Installments,
		}
	}

	return w
}

// Encode is the single serialization used for both signing and sending.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, errors.Wrap(err, "encode payload")
}

func buildUTM(tracking map[string]string) WebhookUTM {
	return WebhookUTM{
		Source:   optional(tracking["utm_source"]),
		Medium:   optional(tracking["utm_medium"]),
		Campaign: optional(tracking["utm_campaign"]),
		Content:  optional(tracking["utm_content"]),
		Term:     optional(tracking["utm_term"]),
		Src:      optional(tracking["src"]),
		Sck:      optional(tracking["sck"]),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatTime(t *time.Time, layout string) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(layout)
	return &s
}
