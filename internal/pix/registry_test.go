package pix

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"checkout-dispatch/internal/cache"
	"checkout-dispatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

// blockingGuard holds every claim until release is closed.
type blockingGuard struct {
	cache.Guard
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Guard.Claim(ctx, key, ttl)
}

func TestRegistry_SlowClaimDoesNotBlockRegistry(t *testing.T) {
	guard := &blockingGuard{Guard: cache.NewMemoryGuard(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	source := &scriptedSource{script: []scripted{{status: model.ChargeWaiting}}}

	r := NewRegistry(source, fastPolling, guard, Handlers{}, slog.Default())
	defer r.Shutdown()

	charge := openCharge(time.Hour)
	watched := make(chan bool, 1)
	go func() { watched <- r.Watch(context.Background(), charge) }()
	<-guard.entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Zero(t, r.Active())
		_, ok := r.Session(charge.ID)
		assert.False(t, ok)
		assert.False(t, r.Watch(context.Background(), charge), "claim already in flight")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry blocked while a claim was in flight")
	}

	close(guard.release)
	assert.True(t, <-watched)
	assert.Equal(t, 1, r.Active())
}

func TestRegistry_WatchesChargeOnce(t *testing.T) {
	guard := cache.NewMemoryGuard()
	source := &scriptedSource{script: []scripted{{status: model.ChargeWaiting}}}
	rec := &recorder{}

	r := NewRegistry(source, fastPolling, guard, rec.handlers(), slog.Default())
	defer r.Shutdown()

	charge := openCharge(time.Hour)
	assert.True(t, r.Watch(context.Background(), charge))
	assert.False(t, r.Watch(context.Background(), charge))
	assert.Equal(t, 1, r.Active())

	session, ok := r.Session(charge.ID)
	require.True(t, ok)
	assert.Equal(t, charge.ID, session.ChargeID())
}

func TestRegistry_SkipsChargeClaimedElsewhere(t *testing.T) {
	guard := cache.NewMemoryGuard()
	_, err := guard.Claim(context.Background(), sessionKeyPrefix+"ch_1", time.Hour)
	require.NoError(t, err)

	r := NewRegistry(&scriptedSource{script: []scripted{{}}}, fastPolling, guard, Handlers{}, slog.Default())
	defer r.Shutdown()

	assert.False(t, r.Watch(context.Background(), openCharge(time.Hour)))
	assert.Zero(t, r.Active())
}

func TestRegistry_FinishedSessionReleasesClaim(t *testing.T) {
	guard := cache.NewMemoryGuard()
	source := &scriptedSource{script: []scripted{{status: model.ChargePaid}}}
	rec := &recorder{}

	r := NewRegistry(source, fastPolling, guard, rec.handlers(), slog.Default())
	defer r.Shutdown()

	require.True(t, r.Watch(context.Background(), openCharge(time.Hour)))
	waitFor(t, func() bool { return r.Active() == 0 })

	assert.Equal(t, int32(1), rec.paid.Load())
	claimed, err := guard.Claim(context.Background(), sessionKeyPrefix+"ch_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestRegistry_OutlivesRequestContext(t *testing.T) {
	source := &scriptedSource{script: []scripted{{status: model.ChargeWaiting}, {status: model.ChargeWaiting}, {status: model.ChargePaid}}}
	rec := &recorder{}

	r := NewRegistry(source, fastPolling, cache.NewMemoryGuard(), rec.handlers(), slog.Default())
	defer r.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, r.Watch(ctx, openCharge(time.Hour)))
	cancel()

	waitFor(t, func() bool { return rec.paid.Load() == 1 })
}

func TestRegistry_ShutdownStopsSessions(t *testing.T) {
	r := NewRegistry(&scriptedSource{script: []scripted{{status: model.ChargeWaiting}}}, fastPolling,
		cache.NewMemoryGuard(), Handlers{}, slog.Default())

	require.True(t, r.Watch(context.Background(), openCharge(time.Hour)))
	r.Shutdown()

	assert.Zero(t, r.Active())
}

func TestRegistry_IgnoresTerminalCharge(t *testing.T) {
	r := NewRegistry(&scriptedSource{script: []scripted{{}}}, fastPolling, cache.NewMemoryGuard(), Handlers{}, slog.Default())
	defer r.Shutdown()

	charge := openCharge(time.Hour)
	charge.Status = model.ChargePaid

	assert.False(t, r.Watch(context.Background(), charge))
}
