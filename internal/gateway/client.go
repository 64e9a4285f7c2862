package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/config"
	"checkout-dispatch/internal/model"
	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

const defaultTimeoutMs = 10_000

// Raw gateway statuses. Anything else means the charge is still open.
const (
	StatusCreated  = "created"
	StatusPaid     = "paid"
	StatusExpired  = "expired"
	StatusCanceled = "canceled"
)

var (
	createSuccessCounter = metrics.GetOrCreateCounter(`gateway_requests_total{op="create_charge",result="success"}`)
	createErrorCounter   = metrics.GetOrCreateCounter(`gateway_requests_total{op="create_charge",result="error"}`)
	statusSuccessCounter = metrics.GetOrCreateCounter(`gateway_requests_total{op="get_status",result="success"}`)
	statusErrorCounter   = metrics.GetOrCreateCounter(`gateway_requests_total{op="get_status",result="error"}`)
)

// Charge is the gateway's view of a PIX charge.
type Charge struct {
	ID           string `json:"id"`
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	Status       string `json:"status"`
	Value        int64  `json:"value"`
}

type createChargeRequest struct {
	Value      int64  `json:"value"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// MapStatus maps a raw gateway status onto the charge state machine.
func MapStatus(raw string) model.ChargeStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case StatusPaid, "approved":
		return model.ChargePaid
	case StatusExpired, StatusCanceled, "cancelled":
		return model.ChargeExpired
	}
	return model.ChargeWaiting
}

// MapOrderStatus maps a raw gateway callback status onto an order status.
// False means the status carries no transition, e.g. a charge that is still open.
func MapOrderStatus(raw string) (model.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case StatusPaid, "approved":
		return model.StatusPaid, true
	case StatusExpired:
		return model.StatusExpired, true
	case StatusCanceled, "cancelled", "refused", "declined":
		return model.StatusCanceled, true
	case "refunded":
		return model.StatusRefunded, true
	case "chargeback", "chargedback":
		return model.StatusChargeback, true
	}
	return "", false
}

type Client struct {
	baseURL    string
	token      string
	webhookURL string
	http       *http.Client
	logger     *slog.Logger
}

func NewClient(cfg config.Gateway, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeoutMs * time.Millisecond
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		token:      cfg.Token,
		webhookURL: cfg.WebhookURL,
		http:       &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) CreateCharge(ctx context.Context, valueCents int64) (*Charge, error) {
	var charge Charge
	err := c.do(ctx, http.MethodPost, "/pix/charges", createChargeRequest{Value: valueCents, WebhookURL: c.webhookURL}, &charge)
	if err != nil {
		createErrorCounter.Inc()
		return nil, errors.Wrap(err, "create charge")
	}
	if charge.ID == "" {
		createErrorCounter.Inc()
		return nil, errors.New("create charge: gateway returned no charge id")
	}
	createSuccessCounter.Inc()
	return &charge, nil
}

// GetCharge queries the gateway for the current state of a charge.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var charge Charge
	if err := c.do(ctx, http.MethodGet, "/pix/charges/"+chargeID, nil, &charge); err != nil {
		statusErrorCounter.Inc()
		return nil, errors.Wrapf(err, "get charge %s", chargeID)
	}
	statusSuccessCounter.Inc()
	return &charge, nil
}

// Status implements the poller's status source.
func (c *Client) Status(ctx context.Context, chargeID string) (model.ChargeStatus, error) {
	charge, err := c.GetCharge(ctx, chargeID)
	if err != nil {
		return "", err
	}
	return MapStatus(charge.Status), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.baseURL == "" || c.token == "" {
		return errors.Wrap(apperr.ErrNotConfigured, "gateway url or token missing")
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Gateway request failed", "path", path, "error", err)
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrap(apperr.ErrNotFound, "gateway")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		c.logger.WarnContext(ctx, "Gateway error response", "path", path, "status", resp.StatusCode)
		return errors.Errorf("gateway responded %s: %s", resp.Status, snippet)
	}

	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}
