package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"checkout-dispatch/internal/model"
)

type CapiRequest struct {
	Data          []CapiEvent `json:"data"`
	AccessToken   string      `json:"access_token"`
	TestEventCode string      `json:"test_event_code,omitempty"`
}

type CapiEvent struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id"`
	ActionSource   string         `json:"action_source"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	UserData       CapiUserData   `json:"user_data"`
	CustomData     CapiCustomData `json:"custom_data"`
}

// CapiUserData holds hashed PII next to the pass-through browser identifiers.
type CapiUserData struct {
	Em              []string `json:"em,omitempty"`
	Ph              []string `json:"ph,omitempty"`
	Fn              []string `json:"fn,omitempty"`
	Ln              []string `json:"ln,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	Fbc             string   `json:"fbc,omitempty"`
	Fbp             string   `json:"fbp,omitempty"`
}

// CapiCustomData.Value is in major units, unlike the other adapters.
type CapiCustomData struct {
	Currency    string   `json:"currency"`
	Value       Amount   `json:"value"`
	ContentIDs  []string `json:"content_ids"`
	ContentName string   `json:"content_name,omitempty"`
	ContentType string   `json:"content_type"`
	OrderID     string   `json:"order_id"`
}

// CapiEventName returns the Conversions API event name for event, if it is forwarded at all.
func CapiEventName(event model.EventType) (string, bool) {
	switch event {
	case model.EventPurchaseApproved:
		return "Purchase", true
	case model.EventPixGenerated:
		return "InitiateCheckout", true
	}
	return "", false
}

// BuildCapiEvent maps order to a Conversions API event; false means do not send.
func BuildCapiEvent(order *model.Order, product *model.Product, event model.EventType, now time.Time) (*CapiEvent, bool) {
	name, ok := CapiEventName(event)
	if !ok || order.Status == model.StatusAbandoned {
		return nil, false
	}

	first, last := splitName(order.Customer.Name)
	currency := order.Currency
	if currency == "" {
		currency = "BRL"
	}

	e := &CapiEvent{
		EventName:      name,
		EventTime:      now.Unix(),
		EventID:        order.ID + "_" + string(event),
		ActionSource:   "website",
		EventSourceURL: order.Client.SourceURL,
		UserData: CapiUserData{
			Em:              hashed(order.Customer.Email),
			Ph:              hashed(order.Customer.Phone),
			Fn:              hashed(first),
			Ln:              hashed(last),
			ClientIPAddress: order.Client.IP,
			ClientUserAgent: order.Client.UserAgent,
			Fbc:             order.Client.Fbc,
			Fbp:             order.Client.Fbp,
		},
		CustomData: CapiCustomData{
			Currency:    currency,
			Value:       FromCents(order.AmountCents),
			ContentIDs:  []string{order.ProductID},
			ContentType: "product",
			OrderID:     order.ID,
		},
	}
	if product != nil {
		e.CustomData.ContentName = product.Name
	}
	return e, true
}

// HashPII lowercases and trims value before hashing it with SHA-256.
func HashPII(value string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(value))))
	return hex.EncodeToString(sum[:])
}

func hashed(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return []string{HashPII(value)}
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], parts[len(parts)-1]
	}
}
