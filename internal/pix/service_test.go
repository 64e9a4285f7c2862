package pix

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/config"
	"checkout-dispatch/internal/gateway"
	"checkout-dispatch/internal/model"
	"checkout-dispatch/internal/testhelpers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	created int
	status  string
	err     error
}

func (g *fakeGateway) CreateCharge(_ context.Context, valueCents int64) (*gateway.Charge, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.created++
	return &gateway.Charge{ID: "ch_" + string(rune('0'+g.created)), QRCode: "000201", QRCodeBase64: "aW1n", Status: "created", Value: valueCents}, nil
}

func (g *fakeGateway) GetCharge(_ context.Context, chargeID string) (*gateway.Charge, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Charge{ID: chargeID, Status: g.status}, nil
}

type fakeWatcher struct {
	watched []string
}

func (w *fakeWatcher) Watch(_ context.Context, charge *model.Charge) bool {
	w.watched = append(w.watched, charge.ID)
	return true
}

type settled struct {
	chargeID string
	status   model.ChargeStatus
}

type fakeSettler struct {
	mu      sync.Mutex
	created []string
	settled []settled
}

func (s *fakeSettler) ChargeCreated(_ context.Context, charge *model.Charge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, charge.ID)
}

func (s *fakeSettler) SettleCharge(_ context.Context, charge *model.Charge, status model.ChargeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, settled{chargeID: charge.ID, status: status})
	return nil
}

type serviceFixture struct {
	ctx     context.Context
	store   *testhelpers.MemoryStore
	gateway *fakeGateway
	watcher *fakeWatcher
	settler *fakeSettler
	sut     *Service
	now     time.Time
}

func newServiceFixture(t *testing.T, status model.Status) *serviceFixture {
	f := &serviceFixture{
		ctx:     context.Background(),
		store:   testhelpers.NewMemoryStore(),
		gateway: &fakeGateway{status: gateway.StatusCreated},
		watcher: &fakeWatcher{},
		settler: &fakeSettler{},
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.store.CreateOrder(f.ctx, &model.Order{
		ID:            "order-1",
		VendorID:      "vendor-1",
		ProductID:     "product-1",
		AmountCents:   1990,
		PaymentMethod: model.MethodPix,
		Status:        status,
	}))

	f.sut = NewService(f.store, f.gateway, f.watcher, f.settler, config.Pix{ChargeTTLMs: 15 * 60 * 1000, MinValueInCents: 50}, slog.Default())
	f.sut.now = func() time.Time { return f.now }
	return f
}

func TestCreateCharge(t *testing.T) {
	f := newServiceFixture(t, model.StatusPending)

	charge, err := f.sut.CreateCharge(f.ctx, CreateChargeRequest{OrderID: "order-1", ValueInCents: 1990})
	require.NoError(t, err)

	assert.Equal(t, "ch_1", charge.ID)
	assert.Equal(t, model.ChargeWaiting, charge.Status)
	assert.Equal(t, f.now.Add(15*time.Minute), charge.ExpiresAt)
	assert.Equal(t, []string{"ch_1"}, f.watcher.watched)
	assert.Equal(t, []string{"ch_1"}, f.settler.created)

	order, err := f.store.GetOrder(f.ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "ch_1", order.GatewayID)

	view := NewChargeView(charge)
	assert.Equal(t, "created", view.Status)
	assert.Equal(t, int64(1990), view.Value)
}

func TestCreateCharge_NewChargeSupersedesOld(t *testing.T) {
	f := newServiceFixture(t, model.StatusPending)

	first, err := f.sut.CreateCharge(f.ctx, CreateChargeRequest{OrderID: "order-1", ValueInCents: 1990})
	require.NoError(t, err)
	second, err := f.sut.CreateCharge(f.ctx, CreateChargeRequest{OrderID: "order-1", ValueInCents: 1990})
	require.NoError(t, err)

	old, err := f.store.GetCharge(f.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargeExpired, old.Status)

	current, err := f.store.GetCurrentCharge(f.ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestCreateCharge_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		status   model.Status
		req      CreateChargeRequest
		expected error
	}{
		{name: "below minimum", status: model.StatusPending, req: CreateChargeRequest{OrderID: "order-1", ValueInCents: 49}, expected: apperr.ErrValidation},
		{name: "negative", status: model.StatusPending, req: CreateChargeRequest{OrderID: "order-1", ValueInCents: -100}, expected: apperr.ErrValidation},
		{name: "missing order id", status: model.StatusPending, req: CreateChargeRequest{ValueInCents: 100}, expected: apperr.ErrValidation},
		{name: "unknown order", status: model.StatusPending, req: CreateChargeRequest{OrderID: "nope", ValueInCents: 100}, expected: apperr.ErrNotFound},
		{name: "order already paid", status: model.StatusPaid, req: CreateChargeRequest{OrderID: "order-1", ValueInCents: 100}, expected: apperr.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, tt.status)

			_, err := f.sut.CreateCharge(f.ctx, tt.req)

			assert.True(t, errors.Is(err, tt.expected), "got %v", err)
			assert.Zero(t, f.gateway.created)
			assert.Empty(t, f.watcher.watched)
		})
	}
}

func TestCreateCharge_MinimumIsInclusive(t *testing.T) {
	f := newServiceFixture(t, model.StatusPending)

	_, err := f.sut.CreateCharge(f.ctx, CreateChargeRequest{OrderID: "order-1", ValueInCents: 50})
	assert.NoError(t, err)
}

func TestCreateCharge_GatewayFailure(t *testing.T) {
	f := newServiceFixture(t, model.StatusPending)
	f.gateway.err = errors.New("gateway down")

	_, err := f.sut.CreateCharge(f.ctx, CreateChargeRequest{OrderID: "order-1", ValueInCents: 100})

	assert.Error(t, err)
	_, err = f.store.GetCurrentCharge(f.ctx, "order-1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestStatus(t *testing.T) {
	f := newServiceFixture(t, model.StatusPending)
	_, err := f.sut.CreateCharge(f.ctx, CreateChargeRequest{OrderID: "order-1", ValueInCents: 1990})
	require.NoError(t, err)

	state, err := f.sut.Status(f.ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, ChargeState{ChargeID: "ch_1", Status: "created"}, state)
	assert.Empty(t, f.settler.settled)

	f.gateway.status = "paid"
	state, err = f.sut.Status(f.ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "paid", state.Status)
	assert.Equal(t, []settled{{chargeID: "ch_1", status: model.ChargePaid}}, f.settler.settled)
}

func TestStatus_LocalDeadlineWinsWithoutGateway(t *testing.T) {
	f := newServiceFixture(t, model.StatusPending)
	_, err := f.sut.CreateCharge(f.ctx, CreateChargeRequest{OrderID: "order-1", ValueInCents: 1990})
	require.NoError(t, err)

	f.gateway.err = errors.New("must not be called")
	f.now = f.now.Add(15 * time.Minute)

	state, err := f.sut.Status(f.ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "expired", state.Status)
	assert.Equal(t, []settled{{chargeID: "ch_1", status: model.ChargeExpired}}, f.settler.settled)
}

func TestStatus_SettledChargeAnswersLocally(t *testing.T) {
	f := newServiceFixture(t, model.StatusPending)
	charge, err := f.sut.CreateCharge(f.ctx, CreateChargeRequest{OrderID: "order-1", ValueInCents: 1990})
	require.NoError(t, err)

	_, err = f.store.UpdateChargeStatus(f.ctx, charge.ID, model.ChargePaid)
	require.NoError(t, err)
	f.gateway.err = errors.New("must not be called")

	state, err := f.sut.Status(f.ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, ChargeState{ChargeID: charge.ID, Status: "paid"}, state)
}

func TestStatus_NoCharge(t *testing.T) {
	f := newServiceFixture(t, model.StatusPending)

	_, err := f.sut.Status(f.ctx, "order-1")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
