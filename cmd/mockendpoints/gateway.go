package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"checkout-dispatch/internal/callback"
	"checkout-dispatch/internal/config"
	"checkout-dispatch/internal/gateway"
	"checkout-dispatch/internal/inbound"
	"checkout-dispatch/internal/order"
	"checkout-dispatch/internal/signature"
	"github.com/google/uuid"
)

type fakeCharge struct {
	gateway.Charge
	webhookURL string
}

// fakeGateway imitates the PIX provider: it issues charges, answers status lookups and,
// when a charge is paid or expired by hand, sends the signed callback.
type fakeGateway struct {
	token   string
	secret  string
	header  string
	sender  *callback.Sender
	logger  *slog.Logger
	mu      sync.Mutex
	charges map[string]*fakeCharge
}

func newFakeGateway(token string, cfg config.Inbound, logger *slog.Logger) *fakeGateway {
	header := cfg.SignatureHeader
	if header == "" {
		header = inbound.DefaultSignatureHeader
	}
	return &fakeGateway{
		token:   token,
		secret:  cfg.Secret,
		header:  header,
		sender:  callback.NewSender(10*time.Second, 0, logger),
		logger:  logger,
		charges: map[string]*fakeCharge{},
	}
}

func (g *fakeGateway) register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("POST "+prefix+"/pix/charges", g.authorized(g.create))
	mux.HandleFunc("GET "+prefix+"/pix/charges/{id}", g.authorized(g.get))
	mux.HandleFunc("POST "+prefix+"/pix/charges/{id}/pay", g.settle(gateway.StatusPaid))
	mux.HandleFunc("POST "+prefix+"/pix/charges/{id}/expire", g.settle(gateway.StatusExpired))
}

func (g *fakeGateway) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.token != "" && r.Header.Get("Authorization") != "Bearer "+g.token {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		next(w, r)
	}
}

func (g *fakeGateway) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value      int64  `json:"value"`
		WebhookURL string `json:"webhook_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid charge"})
		return
	}

	id := "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	qr := fmt.Sprintf("00020126580014br.gov.bcb.pix0136%s5204000053039865404%d", id, req.Value)
	charge := &fakeCharge{
		Charge: gateway.Charge{
			ID:           id,
			QRCode:       qr,
			QRCodeBase64: base64.StdEncoding.EncodeToString([]byte(qr)),
			Status:       gateway.StatusCreated,
			Value:        req.Value,
		},
		webhookURL: req.WebhookURL,
	}

	g.mu.Lock()
	g.charges[id] = charge
	g.mu.Unlock()

	g.logger.Info("Charge created", "chargeId", id, "value", req.Value)
	writeJSON(w, http.StatusCreated, charge.Charge)
}

func (g *fakeGateway) get(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	charge, ok := g.charges[r.PathValue("id")]
	var snapshot gateway.Charge
	if ok {
		snapshot = charge.Charge
	}
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "charge not found"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (g *fakeGateway) settle(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		charge, ok := g.charges[r.PathValue("id")]
		if ok {
			charge.Status = status
		}
		g.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "charge not found"})
			return
		}
		if charge.webhookURL != "" {
			g.notify(r.Context(), charge, status)
		}
		writeJSON(w, http.StatusOK, CallbackResponse{Success: true})
	}
}

func (g *fakeGateway) notify(ctx context.Context, charge *fakeCharge, status string) {
	body, err := json.Marshal(order.Callback{ID: charge.ID, Status: status, Value: charge.Value})
	if err != nil {
		g.logger.Error("Error encoding callback", "error", err)
		return
	}

	resp, err := g.sender.Send(ctx, callback.Request{
		URL:     charge.webhookURL,
		Body:    body,
		Headers: map[string]string{g.header: signature.Sign(g.secret, body)},
	})
	if err != nil {
		g.logger.Warn("Callback not acknowledged", "chargeId", charge.ID, "error", err)
		return
	}
	g.logger.Info("Callback sent", "chargeId", charge.ID, "status", status, "response", resp.StatusCode)
}
