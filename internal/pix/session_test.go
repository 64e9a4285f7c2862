package pix

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checkout-dispatch/internal/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource answers polls from a script and repeats the last entry.
type scriptedSource struct {
	mu     sync.Mutex
	script []scripted
	calls  int
}

type scripted struct {
	status model.ChargeStatus
	err    error
}

func (s *scriptedSource) Status(_ context.Context, _ string) (model.ChargeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.script)-1)
	s.calls++
	return s.script[i].status, s.script[i].err
}

type recorder struct {
	paid    atomic.Int32
	expired atomic.Int32
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnPaid:    func(context.Context, *model.Charge) { r.paid.Add(1) },
		OnExpired: func(context.Context, *model.Charge) { r.expired.Add(1) },
	}
}

func openCharge(ttl time.Duration) *model.Charge {
	now := time.Now()
	return &model.Charge{ID: "ch_1", OrderID: "order-1", Status: model.ChargeWaiting, CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

var fastPolling = Options{PollInterval: 5 * time.Millisecond, MaxAttempts: 30}

func runWithTimeout(t *testing.T, s *Session) model.ChargeStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state := s.Run(ctx)
	require.NoError(t, ctx.Err(), "session did not finish in time")
	return state
}

func TestSession_PaidByGateway(t *testing.T) {
	source := &scriptedSource{script: []scripted{{status: model.ChargeWaiting}, {status: model.ChargeWaiting}, {status: model.ChargePaid}}}
	rec := &recorder{}

	s := NewSession(openCharge(time.Hour), source, fastPolling, rec.handlers(), slog.Default())

	assert.Equal(t, model.ChargePaid, runWithTimeout(t, s))
	assert.Equal(t, int32(1), rec.paid.Load())
	assert.Zero(t, rec.expired.Load())
	assert.Equal(t, 3, s.Attempts())
}

func TestSession_ExpiredByGateway(t *testing.T) {
	source := &scriptedSource{script: []scripted{{status: model.ChargeExpired}}}
	rec := &recorder{}

	s := NewSession(openCharge(time.Hour), source, fastPolling, rec.handlers(), slog.Default())

	assert.Equal(t, model.ChargeExpired, runWithTimeout(t, s))
	assert.Equal(t, int32(1), rec.expired.Load())
	assert.Zero(t, rec.paid.Load())
}

func TestSession_ExpiresLocallyWithoutAnyGatewayAnswer(t *testing.T) {
	source := &scriptedSource{script: []scripted{{err: errors.New("gateway unreachable")}}}
	rec := &recorder{}
	charge := openCharge(80 * time.Millisecond)

	s := NewSession(charge, source, Options{PollInterval: 5 * time.Millisecond, MaxAttempts: 3}, rec.handlers(), slog.Default())

	assert.Equal(t, model.ChargeExpired, runWithTimeout(t, s))
	assert.False(t, time.Now().Before(charge.ExpiresAt))
	assert.Equal(t, int32(1), rec.expired.Load())
	assert.Zero(t, rec.paid.Load())
	assert.Equal(t, 3, s.Attempts(), "polling stops at the attempt ceiling")
	assert.Equal(t, 3, s.Failures())
}

func TestSession_FailureCounterResetsOnSuccess(t *testing.T) {
	source := &scriptedSource{script: []scripted{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{status: model.ChargeWaiting},
		{status: model.ChargePaid},
	}}
	rec := &recorder{}

	s := NewSession(openCharge(time.Hour), source, fastPolling, rec.handlers(), slog.Default())

	assert.Equal(t, model.ChargePaid, runWithTimeout(t, s))
	assert.Equal(t, 4, s.Attempts())
	assert.Zero(t, s.Failures())
}

func TestSession_PaymentAfterDeadlineDoesNotReviveCharge(t *testing.T) {
	source := &scriptedSource{script: []scripted{{status: model.ChargePaid}}}
	rec := &recorder{}

	s := NewSession(openCharge(time.Hour), source, fastPolling, rec.handlers(), slog.Default())
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	assert.Equal(t, model.ChargeExpired, runWithTimeout(t, s))
	assert.Zero(t, rec.paid.Load())
	assert.Equal(t, int32(1), rec.expired.Load())
}

func TestSession_TerminalChargeIsNotPolled(t *testing.T) {
	source := &scriptedSource{script: []scripted{{status: model.ChargeWaiting}}}
	rec := &recorder{}
	charge := openCharge(time.Hour)
	charge.Status = model.ChargeExpired

	s := NewSession(charge, source, fastPolling, rec.handlers(), slog.Default())

	assert.Equal(t, model.ChargeExpired, runWithTimeout(t, s))
	assert.Zero(t, source.calls)
	assert.Zero(t, rec.expired.Load())
}

func TestSession_StopsOnCancel(t *testing.T) {
	source := &scriptedSource{script: []scripted{{status: model.ChargeWaiting}}}
	rec := &recorder{}

	s := NewSession(openCharge(time.Hour), source, fastPolling, rec.handlers(), slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.Equal(t, model.ChargeWaiting, s.Run(ctx))
	assert.Zero(t, rec.paid.Load()+rec.expired.Load())
}

func TestSession_ConcurrentTransitionsNotifyOnce(t *testing.T) {
	rec := &recorder{}
	s := NewSession(openCharge(time.Hour), &scriptedSource{script: []scripted{{}}}, fastPolling, rec.handlers(), slog.Default())

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := model.ChargeExpired
			if i%2 == 0 {
				to = model.ChargePaid
			}
			if s.transition(context.Background(), to, "test") {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), rec.paid.Load()+rec.expired.Load())
	<-s.Done()
}
