package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/callback"
	"checkout-dispatch/internal/inbound"
	"checkout-dispatch/internal/logcontext"
	"checkout-dispatch/internal/metrics"
	"checkout-dispatch/internal/model"
	"checkout-dispatch/internal/order"
	"checkout-dispatch/internal/pix"
	"github.com/pkg/errors"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb order.Callback) error
}

type ChargeService interface {
	CreateCharge(ctx context.Context, req pix.CreateChargeRequest) (*model.Charge, error)
	Status(ctx context.Context, orderID string) (pix.ChargeState, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, orderID string, event model.EventType, extra map[string]any) (*callback.DeliverySummary, error)
}

type Deps struct {
	Verifier   *inbound.Verifier
	Callbacks  CallbackHandler
	Charges    ChargeService
	Dispatcher Dispatcher
}

type Server struct {
	deps   Deps
	mux    *http.ServeMux
	logger *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux(), logger: logger}

	s.mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("POST /gateway/callback", s.handleGatewayCallback)
	s.mux.HandleFunc("POST /pix/charges", s.handleCreateCharge)
	s.mux.HandleFunc("POST /pix/status", s.handleChargeStatus)
	s.mux.HandleFunc("POST /orders/{id}/dispatch", s.handleDispatch)

	return s
}

func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.mux, s.logger)
}

// ListenAndServe serves until ctx is done, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.InfoContext(ctx, "Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Server) handleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(ctx, w, errors.Wrapf(apperr.ErrValidation, "read body: %v", err))
		return
	}

	verified, err := s.deps.Verifier.Verify(r.Header, body)
	if err != nil {
		s.logger.WarnContext(ctx, "Rejected gateway callback", "error", err)
		s.writeError(ctx, w, err)
		return
	}
	ctx = logcontext.AppendCtx(ctx, slog.String("chargeId", verified.Callback.ID))

	if !s.deps.Verifier.FirstDelivery(ctx, verified) {
		s.logger.InfoContext(ctx, "Duplicate gateway callback acknowledged")
		writeJSON(w, http.StatusOK, okResponse{OK: true})
		return
	}

	if err := s.deps.Callbacks.HandleCallback(ctx, verified.Callback); err != nil {
		s.deps.Verifier.Forget(ctx, verified)
		s.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleCreateCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pix.CreateChargeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", req.OrderID))

	charge, err := s.deps.Charges.CreateCharge(ctx, req)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, pix.CreateChargeResponse{OK: true, Pix: pix.NewChargeView(charge)})
}

func (s *Server) handleChargeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pix.StatusRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if req.OrderID == "" {
		s.writeError(ctx, w, errors.Wrap(apperr.ErrValidation, "orderId is required"))
		return
	}
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", req.OrderID))

	state, err := s.deps.Charges.Status(ctx, req.OrderID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, pix.StatusResponse{OK: true, Status: state})
}

type dispatchRequest struct {
	Event model.EventType `json:"event"`
	Extra map[string]any  `json:"extra,omitempty"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dispatchRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	summary, err := s.deps.Dispatcher.Dispatch(ctx, r.PathValue("id"), req.Event, req.Extra)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(ctx, "Request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{OK: false, Error: errors.Cause(err).Error()})
}

func decode(w http.ResponseWriter, r *http.Request, out any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(out); err != nil {
		return errors.Wrapf(apperr.ErrValidation, "decode request: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
