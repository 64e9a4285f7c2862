package pix

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"checkout-dispatch/internal/logcontext"
	"checkout-dispatch/internal/model"
	"github.com/VictoriaMetrics/metrics"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 30
	DefaultChargeTTL    = 15 * time.Minute
)

var (
	sessionPaidCounter        = metrics.GetOrCreateCounter(`pix_sessions_total{result="paid"}`)
	sessionExpiredCounter     = metrics.GetOrCreateCounter(`pix_sessions_total{result="expired"}`)
	sessionLatePaymentCounter = metrics.GetOrCreateCounter(`pix_sessions_total{result="late_payment"}`)
	sessionPollCeilingCounter = metrics.GetOrCreateCounter(`pix_sessions_total{result="poll_ceiling"}`)
	sessionPollFailureCounter = metrics.GetOrCreateCounter(`pix_polls_total{result="error"}`)
	sessionPollSuccessCounter = metrics.GetOrCreateCounter(`pix_polls_total{result="success"}`)
)

// StatusSource reports the current state of a charge, already mapped onto the state machine.
type StatusSource interface {
	Status(ctx context.Context, chargeID string) (model.ChargeStatus, error)
}

type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// Handlers are called at most once per session, for the one terminal state it reaches.
type Handlers struct {
	OnPaid    func(ctx context.Context, charge *model.Charge)
	OnExpired func(ctx context.Context, charge *model.Charge)
}

// Session watches one open charge until it is paid or expired. Gateway polling and the local
// expiry countdown run independently; whichever reaches a terminal state first wins.
type Session struct {
	charge   model.Charge
	source   StatusSource
	opts     Options
	handlers Handlers
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    model.ChargeStatus
	attempts int
	failures int
	done     chan struct{}
}

func NewSession(charge *model.Charge, source StatusSource, opts Options, handlers Handlers, logger *slog.Logger) *Session {
	s := &Session{
		charge:   *charge,
		source:   source,
		opts:     opts.withDefaults(),
		handlers: handlers,
		logger:   logger,
		now:      time.Now,
		state:    model.ChargeWaiting,
		done:     make(chan struct{}),
	}
	if charge.Status.Terminal() {
		s.state = charge.Status
		close(s.done)
	}
	return s
}

func (s *Session) ChargeID() string {
	return s.charge.ID
}

func (s *Session) State() model.ChargeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Failures counts consecutive failed polls; a successful poll resets it.
func (s *Session) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run blocks until the session is terminal or ctx is done and returns the state it ended in.
func (s *Session) Run(ctx context.Context) model.ChargeStatus {
	ctx = logcontext.AppendCtx(ctx, slog.String("chargeId", s.charge.ID))

	select {
	case <-s.done:
		return s.State()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.countdown(ctx)
	go s.poll(ctx)

	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.InfoContext(ctx, "Context done, stopping charge session")
	}
	return s.State()
}

func (s *Session) countdown(ctx context.Context) {
	timer := time.NewTimer(s.charge.ExpiresAt.Sub(s.now()))
	defer timer.Stop()

	select {
	case <-timer.C:
		s.transition(ctx, model.ChargeExpired, "countdown")
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *Session) poll(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.pollOnce(ctx) {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// pollOnce reports whether polling should continue.
func (s *Session) pollOnce(ctx context.Context) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	status, err := s.source.Status(ctx, s.charge.ID)

	s.mu.Lock()
	if err != nil {
		s.failures++
	} else {
		s.failures = 0
	}
	failures := s.failures
	s.mu.Unlock()

	if err != nil {
		s.logger.WarnContext(ctx, "Error polling charge status", "attempt", attempt, "failures", failures, "error", err)
		sessionPollFailureCounter.Inc()
	} else {
		sessionPollSuccessCounter.Inc()
		if status.Terminal() {
			s.transition(ctx, status, "gateway")
			return false
		}
	}

	if attempt >= s.opts.MaxAttempts {
		s.logger.InfoContext(ctx, "Poll attempts exhausted, waiting for local expiry", "attempts", attempt)
		sessionPollCeilingCounter.Inc()
		return false
	}
	return true
}

// transition moves the session into a terminal state once. Later calls are no-ops.
// A payment seen after the local deadline does not revive the charge.
func (s *Session) transition(ctx context.Context, to model.ChargeStatus, source string) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	if to == model.ChargePaid && !s.now().Before(s.charge.ExpiresAt) {
		s.logger.WarnContext(ctx, "Payment reported after local expiry, ignoring", "source", source)
		sessionLatePaymentCounter.Inc()
		to = model.ChargeExpired
	}
	s.state = to
	s.mu.Unlock()

	defer close(s.done)

	charge := s.charge
	charge.Status = to

	switch to {
	case model.ChargePaid:
		s.logger.InfoContext(ctx, "Charge paid", "source", source)
		sessionPaidCounter.Inc()
		if s.handlers.OnPaid != nil {
			s.handlers.OnPaid(ctx, &charge)
		}
	case model.ChargeExpired:
		s.logger.InfoContext(ctx, "Charge expired", "source", source)
		sessionExpiredCounter.Inc()
		if s.handlers.OnExpired != nil {
			s.handlers.OnExpired(ctx, &charge)
		}
	}
	return true
}
