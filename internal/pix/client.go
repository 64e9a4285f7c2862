package pix

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"checkout-dispatch/internal/gateway"
	"checkout-dispatch/internal/model"
	"github.com/pkg/errors"
)

// ChargeView is the charge as the checkout page sees it.
type ChargeView struct {
	ID           string    `json:"id"`
	QRCode       string    `json:"qr_code"`
	QRCodeBase64 string    `json:"qr_code_base64"`
	Status       string    `json:"status"`
	Value        int64     `json:"value"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func NewChargeView(c *model.Charge) ChargeView {
	status := gateway.StatusCreated
	switch c.Status {
	case model.ChargePaid:
		status = gateway.StatusPaid
	case model.ChargeExpired:
		status = gateway.StatusExpired
	}
	return ChargeView{
		ID:           c.ID,
		QRCode:       c.QRCode,
		QRCodeBase64: c.QRCodeBase64,
		Status:       status,
		Value:        c.ValueCents,
		ExpiresAt:    c.ExpiresAt,
	}
}

type CreateChargeResponse struct {
	OK    bool       `json:"ok"`
	Pix   ChargeView `json:"pix"`
	Error string     `json:"error,omitempty"`
}

type StatusRequest struct {
	OrderID string `json:"orderId"`
}

// ChargeState is the raw gateway status of an order's current charge.
type ChargeState struct {
	ChargeID string `json:"chargeId,omitempty"`
	Status   string `json:"status"`
}

type StatusResponse struct {
	OK     bool        `json:"ok"`
	Status ChargeState `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// Client talks to the checkout service the way the payment page does.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateCharge(ctx context.Context, req CreateChargeRequest) (*ChargeView, error) {
	var resp CreateChargeResponse
	if err := c.post(ctx, "/pix/charges", req, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, errors.Errorf("create charge: %s", resp.Error)
	}
	return &resp.Pix, nil
}

// Status returns the state of the order's current charge.
func (c *Client) Status(ctx context.Context, orderID string) (ChargeState, error) {
	var resp StatusResponse
	if err := c.post(ctx, "/pix/status", StatusRequest{OrderID: orderID}, &resp); err != nil {
		return ChargeState{}, err
	}
	if !resp.OK {
		return ChargeState{}, errors.Errorf("charge status: %s", resp.Error)
	}
	return resp.Status, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", path)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "post %s: %s: undecodable response", path, resp.Status)
	}
	return nil
}

// OrderStatusSource polls the service's status endpoint for one order's charge.
type OrderStatusSource struct {
	client  *Client
	orderID string
}

func NewOrderStatusSource(client *Client, orderID string) *OrderStatusSource {
	return &OrderStatusSource{client: client, orderID: orderID}
}

// Status reports chargeID as expired once the order has moved on to a newer charge.
func (s *OrderStatusSource) Status(ctx context.Context, chargeID string) (model.ChargeStatus, error) {
	state, err := s.client.Status(ctx, s.orderID)
	if err != nil {
		return "", err
	}
	if state.ChargeID != "" && state.ChargeID != chargeID {
		return model.ChargeExpired, nil
	}
	return gateway.MapStatus(state.Status), nil
}
