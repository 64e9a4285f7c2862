// Package inbound authenticates gateway callbacks before anything trusts their content.
package inbound

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/cache"
	"checkout-dispatch/internal/config"
	"checkout-dispatch/internal/order"
	"checkout-dispatch/internal/signature"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const (
	DefaultSignatureHeader = "X-Gateway-Signature"
	DefaultReplayWindow    = 24 * time.Hour
)

var (
	verifiedCounter     = metrics.GetOrCreateCounter(`inbound_verify_total{result="verified"}`)
	missingCounter      = metrics.GetOrCreateCounter(`inbound_verify_total{result="missing_signature"}`)
	mismatchCounter     = metrics.GetOrCreateCounter(`inbound_verify_total{result="bad_signature"}`)
	malformedCounter    = metrics.GetOrCreateCounter(`inbound_verify_total{result="malformed"}`)
	replayCounter       = metrics.GetOrCreateCounter(`inbound_replays_total{result="duplicate"}`)
	replayGuardErrCount = metrics.GetOrCreateCounter(`inbound_replays_total{result="guard_error"}`)
)

// Verified is a callback whose signature matched the raw body it arrived with.
type Verified struct {
	Callback order.Callback
	Digest   string
}

type Verifier struct {
	secret   string
	header   string
	window   time.Duration
	guard    cache.Guard
	validate *validator.Validate
	logger   *slog.Logger
}

func NewVerifier(cfg config.Inbound, guard cache.Guard, logger *slog.Logger) *Verifier {
	header := cfg.SignatureHeader
	if header == "" {
		header = DefaultSignatureHeader
	}
	window := time.Duration(cfg.ReplayWindowMs) * time.Millisecond
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &Verifier{
		secret:   cfg.Secret,
		header:   header,
		window:   window,
		guard:    guard,
		validate: validator.New(),
		logger:   logger,
	}
}

func (v *Verifier) Header() string {
	return v.header
}

// Verify checks the signature header against the raw body and decodes the callback.
// It has no side effects.
func (v *Verifier) Verify(headers http.Header, body []byte) (*Verified, error) {
	received := headers.Get(v.header)
	if received == "" {
		missingCounter.Inc()
		return nil, errors.Wrapf(apperr.ErrUnauthorized, "missing %s header", v.header)
	}
	if !signature.Verify(received, v.secret, body) {
		mismatchCounter.Inc()
		return nil, errors.Wrap(apperr.ErrUnauthorized, "signature mismatch")
	}

	var cb order.Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		malformedCounter.Inc()
		return nil, errors.Wrapf(apperr.ErrValidation, "decode callback: %v", err)
	}
	if err := v.validate.Struct(cb); err != nil {
		malformedCounter.Inc()
		return nil, errors.Wrapf(apperr.ErrValidation, "callback: %v", err)
	}

	verifiedCounter.Inc()
	sum := sha256.Sum256(body)
	return &Verified{Callback: cb, Digest: hex.EncodeToString(sum[:])}, nil
}

// FirstDelivery reports whether this exact body has not been processed within the replay
// window. A guard failure lets the callback through; transitions are idempotent anyway.
func (v *Verifier) FirstDelivery(ctx context.Context, verified *Verified) bool {
	if v.guard == nil {
		return true
	}
	first, err := v.guard.Claim(ctx, replayKey(verified), v.window)
	if err != nil {
		v.logger.WarnContext(ctx, "Replay guard unavailable", "error", err)
		replayGuardErrCount.Inc()
		return true
	}
	if !first {
		replayCounter.Inc()
	}
	return first
}

// Forget drops the replay claim so the gateway's retry of a failed callback is processed.
func (v *Verifier) Forget(ctx context.Context, verified *Verified) {
	if v.guard == nil {
		return
	}
	if err := v.guard.Release(ctx, replayKey(verified)); err != nil {
		v.logger.WarnContext(ctx, "Error releasing replay claim", "error", err)
	}
}

func replayKey(verified *Verified) string {
	return "inbound:" + verified.Digest
}
