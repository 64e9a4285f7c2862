package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"checkout-dispatch/internal/payload"
	"checkout-dispatch/internal/signature"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	body   *bytes.Buffer
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.body.Write(b)
	return lrw.ResponseWriter.Write(b)
}

// deliveryTracker remembers every order event seen so that redeliveries can be spotted.
type deliveryTracker struct {
	mu    sync.Mutex
	seen  map[string]int
	calls map[string]int
}

func newDeliveryTracker() *deliveryTracker {
	return &deliveryTracker{seen: map[string]int{}, calls: map[string]int{}}
}

// record returns how many times the key was seen, this delivery included.
func (t *deliveryTracker) record(path, key string) (calls, seen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[path]++
	if key != "" {
		t.seen[key]++
	}
	return t.calls[path], t.seen[key]
}

func loggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error("Error reading request body", "error", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		logger.Info("Request", "method", r.Method, "path", r.URL.Path, "headers", r.Header, "body", string(body))

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK, body: &bytes.Buffer{}}
		next.ServeHTTP(lrw, r)

		logger.Info("Response", "path", r.URL.Path, "status", lrw.status, "body", lrw.body.String())
	})
}

// verifyMiddleware checks the webhook signature the way a subscriber would and flags redeliveries.
func verifyMiddleware(next http.Handler, secret, header string, tracker *deliveryTracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unreadable body"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if secret != "" && !signature.Verify(r.Header.Get(header), secret, body) {
			logger.Warn("Signature mismatch", "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid signature"})
			return
		}

		var webhook payload.Webhook
		key := ""
		if err := json.Unmarshal(body, &webhook); err == nil && webhook.OrderID != "" {
			key = webhook.OrderID + ":" + string(webhook.Event)
		}

		calls, seen := tracker.record(r.URL.Path, key)
		logger.Info("Endpoint called", "path", r.URL.Path, "calls", calls)
		if seen > 1 {
			logger.Warn("Duplicate delivery", "key", key, "times", seen)
		}

		next.ServeHTTP(w, r)
	})
}
