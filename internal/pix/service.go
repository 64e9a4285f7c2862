package pix

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/config"
	"checkout-dispatch/internal/gateway"
	"checkout-dispatch/internal/logcontext"
	"checkout-dispatch/internal/model"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const DefaultMinValueInCents = 50

var (
	chargeCreatedCounter       = metrics.GetOrCreateCounter(`pix_charges_total{result="created"}`)
	chargeRejectedCounter      = metrics.GetOrCreateCounter(`pix_charges_total{result="rejected"}`)
	chargeGatewayFailedCounter = metrics.GetOrCreateCounter(`pix_charges_total{result="gateway_failed"}`)
	chargeReconciledCounter    = metrics.GetOrCreateCounter(`pix_status_queries_total{result="reconciled"}`)
)

type Store interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	CreateCharge(ctx context.Context, charge *model.Charge) error
	GetCurrentCharge(ctx context.Context, orderID string) (*model.Charge, error)
}

type Gateway interface {
	CreateCharge(ctx context.Context, valueCents int64) (*gateway.Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*gateway.Charge, error)
}

type Watcher interface {
	Watch(ctx context.Context, charge *model.Charge) bool
}

// Settler applies charge outcomes to orders.
type Settler interface {
	ChargeCreated(ctx context.Context, charge *model.Charge)
	SettleCharge(ctx context.Context, charge *model.Charge, status model.ChargeStatus) error
}

// SettlingHandlers wires session outcomes to settler.
func SettlingHandlers(settler Settler, logger *slog.Logger) Handlers {
	settle := func(ctx context.Context, charge *model.Charge) {
		if err := settler.SettleCharge(ctx, charge, charge.Status); err != nil {
			logger.ErrorContext(ctx, "Error settling charge", "status", charge.Status, "error", err)
		}
	}
	return Handlers{OnPaid: settle, OnExpired: settle}
}

type CreateChargeRequest struct {
	OrderID      string `json:"orderId" validate:"required"`
	ValueInCents int64  `json:"valueInCents" validate:"required"`
}

type Service struct {
	store    Store
	gateway  Gateway
	watcher  Watcher
	settler  Settler
	validate *validator.Validate
	ttl      time.Duration
	minValue int
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Store, gw Gateway, watcher Watcher, settler Settler, cfg config.Pix, logger *slog.Logger) *Service {
	ttl := time.Duration(cfg.ChargeTTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = DefaultChargeTTL
	}
	minValue := cfg.MinValueInCents
	if minValue <= 0 {
		minValue = DefaultMinValueInCents
	}
	return &Service{
		store:    store,
		gateway:  gw,
		watcher:  watcher,
		settler:  settler,
		validate: validator.New(),
		ttl:      ttl,
		minValue: minValue,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateCharge opens a new PIX charge for a pending order, superseding any previous one,
// and starts watching it.
func (s *Service) CreateCharge(ctx context.Context, req CreateChargeRequest) (*model.Charge, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", req.OrderID))

	if err := s.validateRequest(req); err != nil {
		chargeRejectedCounter.Inc()
		return nil, err
	}

	order, err := s.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		chargeRejectedCounter.Inc()
		return nil, err
	}
	if order.PaymentMethod != model.MethodPix {
		chargeRejectedCounter.Inc()
		return nil, errors.Wrapf(apperr.ErrValidation, "order %s is paid by %s", order.ID, order.PaymentMethod)
	}
	if order.Status != model.StatusPending {
		chargeRejectedCounter.Inc()
		return nil, errors.Wrapf(apperr.ErrInvalidTransition, "order %s is %s", order.ID, order.Status)
	}

	gwCharge, err := s.gateway.CreateCharge(ctx, req.ValueInCents)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating gateway charge", "error", err)
		chargeGatewayFailedCounter.Inc()
		return nil, err
	}

	now := s.now()
	charge := &model.Charge{
		ID:           gwCharge.ID,
		OrderID:      order.ID,
		QRCode:       gwCharge.QRCode,
		QRCodeBase64: gwCharge.QRCodeBase64,
		ValueCents:   req.ValueInCents,
		Status:       model.ChargeWaiting,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.store.CreateCharge(ctx, charge); err != nil {
		s.logger.ErrorContext(ctx, "Error storing charge", "chargeId", charge.ID, "error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "Charge created", "chargeId", charge.ID, "expiresAt", charge.ExpiresAt)
	chargeCreatedCounter.Inc()

	s.watcher.Watch(ctx, charge)
	s.settler.ChargeCreated(ctx, charge)

	return charge, nil
}

// Status returns the state of the order's current charge. Terminal answers are
// applied on the way, so a missed callback is reconciled by the next query.
func (s *Service) Status(ctx context.Context, orderID string) (ChargeState, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", orderID))

	charge, err := s.store.GetCurrentCharge(ctx, orderID)
	if err != nil {
		return ChargeState{}, err
	}
	state := ChargeState{ChargeID: charge.ID}
	ctx = logcontext.AppendCtx(ctx, slog.String("chargeId", charge.ID))

	switch charge.Status {
	case model.ChargePaid:
		state.Status = gateway.StatusPaid
		return state, nil
	case model.ChargeExpired:
		state.Status = gateway.StatusExpired
		return state, nil
	}

	if charge.ExpiredAt(s.now()) {
		s.reconcile(ctx, charge, model.ChargeExpired)
		state.Status = gateway.StatusExpired
		return state, nil
	}

	gwCharge, err := s.gateway.GetCharge(ctx, charge.ID)
	if err != nil {
		return ChargeState{}, err
	}

	if status := gateway.MapStatus(gwCharge.Status); status.Terminal() {
		s.reconcile(ctx, charge, status)
	}
	state.Status = gwCharge.Status
	return state, nil
}

func (s *Service) reconcile(ctx context.Context, charge *model.Charge, status model.ChargeStatus) {
	chargeReconciledCounter.Inc()
	if err := s.settler.SettleCharge(ctx, charge, status); err != nil {
		s.logger.ErrorContext(ctx, "Error reconciling charge", "status", status, "error", err)
	}
}

func (s *Service) validateRequest(req CreateChargeRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return errors.Wrap(apperr.ErrValidation, err.Error())
	}
	if err := s.validate.Var(req.ValueInCents, fmt.Sprintf("gte=%d", s.minValue)); err != nil {
		return errors.Wrapf(apperr.ErrValidation, "valueInCents must be at least %d", s.minValue)
	}
	return nil
}
