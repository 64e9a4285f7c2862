package callback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"checkout-dispatch/internal/apperr"
	"github.com/pkg/errors"
)

const (
	defaultTimeoutMs        = 10_000
	defaultResponseBodySize = 1024
)

type Request struct {
	URL     string
	Body    []byte
	Headers map[string]string
}

// Response is what the destination answered. Body is truncated.
type Response struct {
	StatusCode int
	Body       string
}

type Sender struct {
	client       *http.Client
	maxBodyBytes int64
	logger       *slog.Logger
}

func NewSender(timeout time.Duration, maxBodyBytes int, logger *slog.Logger) *Sender {
	if timeout <= 0 {
		timeout = defaultTimeoutMs * time.Millisecond
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultResponseBodySize
	}
	return &Sender{
		client:       &http.Client{Timeout: timeout},
		maxBodyBytes: int64(maxBodyBytes),
		logger:       logger,
	}
}

// Send POSTs the body as JSON. Any answer outside 2xx, and any transport error, is
// returned as ErrTransientDelivery; the response, when there is one, is returned as well.
func (s *Sender) Send(ctx context.Context, r Request) (*Response, error) {
	s.logger.DebugContext(ctx, "Sending request", "url", r.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WarnContext(ctx, "Error sending request", "url", r.URL, "error", err)
		return nil, errors.Wrapf(apperr.ErrTransientDelivery, "send: %v", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodyBytes))
	if err != nil {
		s.logger.WarnContext(ctx, "Error reading response body", "url", r.URL, "error", err)
	}
	response := &Response{StatusCode: resp.StatusCode, Body: string(respBody)}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.WarnContext(ctx, "Received error response", "url", r.URL, "status", resp.StatusCode)
		return response, errors.Wrap(apperr.ErrTransientDelivery, fmt.Sprintf("error response: %s", resp.Status))
	}

	s.logger.DebugContext(ctx, "Request delivered", "url", r.URL, "status", resp.StatusCode)
	return response, nil
}
