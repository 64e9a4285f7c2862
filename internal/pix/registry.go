package pix

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"checkout-dispatch/internal/cache"
	"checkout-dispatch/internal/logcontext"
	"checkout-dispatch/internal/model"
	"github.com/VictoriaMetrics/metrics"
)

const sessionKeyPrefix = "pix:session:"

var activeSessionsCounter = metrics.GetOrCreateCounter(`pix_sessions_active`)

// Registry runs one server-side session per open charge. Across replicas a session is claimed
// through the guard so that only one process polls a given charge.
type Registry struct {
	source   StatusSource
	opts     Options
	guard    cache.Guard
	handlers Handlers
	logger   *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	// a nil entry reserves the charge while its claim is in flight
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewRegistry(source StatusSource, opts Options, guard cache.Guard, handlers Handlers, logger *slog.Logger) *Registry {
	base, cancel := context.WithCancel(context.Background())
	r := &Registry{
		source:   source,
		opts:     opts.withDefaults(),
		guard:    guard,
		handlers: handlers,
		logger:   logger,
		base:     base,
		cancel:   cancel,
		sessions: map[string]*Session{},
	}
	return r
}

// Watch starts a session for charge unless one is already running here or elsewhere.
// The session outlives ctx; it ends on a terminal state or on Shutdown.
func (r *Registry) Watch(ctx context.Context, charge *model.Charge) bool {
	ctx = logcontext.AppendCtx(ctx, slog.String("chargeId", charge.ID))

	if charge.Status.Terminal() {
		return false
	}

	r.mu.Lock()
	if _, ok := r.sessions[charge.ID]; ok {
		r.mu.Unlock()
		return false
	}
	r.sessions[charge.ID] = nil
	r.mu.Unlock()

	ttl := time.Until(charge.ExpiresAt) + time.Minute
	claimed, err := r.guard.Claim(ctx, sessionKeyPrefix+charge.ID, ttl)
	if err != nil {
		r.logger.WarnContext(ctx, "Could not claim charge session, watching anyway", "error", err)
		claimed = true
	}
	if !claimed {
		r.mu.Lock()
		delete(r.sessions, charge.ID)
		r.mu.Unlock()
		r.logger.InfoContext(ctx, "Charge already watched by another instance")
		return false
	}

	session := NewSession(charge, r.source, r.opts, r.handlers, r.logger)
	r.mu.Lock()
	r.sessions[charge.ID] = session
	r.wg.Add(1)
	r.mu.Unlock()
	activeSessionsCounter.Inc()

	sessionCtx := logcontext.AppendCtx(r.base, slog.String("chargeId", charge.ID))
	go func() {
		defer r.wg.Done()

		state := session.Run(sessionCtx)
		r.logger.InfoContext(sessionCtx, "Charge session finished", "state", state, "attempts", session.Attempts())

		r.mu.Lock()
		delete(r.sessions, charge.ID)
		r.mu.Unlock()
		activeSessionsCounter.Dec()

		if err := r.guard.Release(context.WithoutCancel(sessionCtx), sessionKeyPrefix+charge.ID); err != nil {
			r.logger.WarnContext(sessionCtx, "Could not release charge session", "error", err)
		}
	}()

	r.logger.InfoContext(ctx, "Watching charge", "expiresAt", charge.ExpiresAt)
	return true
}

func (r *Registry) Session(chargeID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[chargeID]
	return s, s != nil
}

func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s != nil {
			n++
		}
	}
	return n
}

// Shutdown stops every session and waits for them to return.
func (r *Registry) Shutdown() {
	r.cancel()
	r.wg.Wait()
}
