package callback

import (
	"context"
	"log/slog"
	"time"

	"checkout-dispatch/internal/apperr"
	"checkout-dispatch/internal/logcontext"
	"checkout-dispatch/internal/model"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const (
	defaultSweepIntervalMs = 30_000
	defaultSweepBatchSize  = 50
)

var (
	sweeperFetchFailedCounter = metrics.GetOrCreateCounter(`callback_sweeper_total{result="fetching_failed"}`)
	sweeperSuccessCounter     = metrics.GetOrCreateCounter(`callback_sweeper_total{result="success"}`)

	sweeperDurationHistogram = metrics.GetOrCreateHistogram(`callback_sweeper_duration_milliseconds`)

	sweeperRetriedCounter = metrics.GetOrCreateCounter(`callback_sweeper_deliveries_total{result="retried"}`)
	sweeperClosedCounter  = metrics.GetOrCreateCounter(`callback_sweeper_deliveries_total{result="closed"}`)
	sweeperErrorCounter   = metrics.GetOrCreateCounter(`callback_sweeper_deliveries_total{result="error"}`)
)

type SweepStore interface {
	DeliveryStore
	ListRetryable(ctx context.Context, limit, maxAttempts int, now time.Time) ([]*model.Delivery, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
	CloseDelivery(ctx context.Context, id uuid.UUID, reason string) error
}

type RetrySummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Closed    int `json:"closed"`
}

// Sweeper resends failed deliveries whose backoff has elapsed. It holds no lock: two
// overlapping sweeps may both resend a delivery, and the attempt counter still counts both.
type Sweeper struct {
	store       SweepStore
	deliverer   *Deliverer
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

func NewSweeper(store SweepStore, deliverer *Deliverer, interval time.Duration, batchSize int, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepIntervalMs * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &Sweeper{
		store:       store,
		deliverer:   deliverer,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: deliverer.policy.MaxAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(ctx, s.batchSize); err != nil {
					s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
				}
			case <-ctx.Done():
				s.logger.InfoContext(ctx, "Context done, stopping sweeper")
				return
			}
		}
	}()
}

// Sweep resends up to limit retryable deliveries, oldest first, with their stored payload.
func (s *Sweeper) Sweep(ctx context.Context, limit int) (*RetrySummary, error) {
	startTime := time.Now()
	defer func() {
		sweeperDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	if limit <= 0 {
		limit = s.batchSize
	}

	// set runId as a correlation id for all logs in scope
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	deliveries, err := s.store.ListRetryable(ctx, limit, s.maxAttempts, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error fetching retryable deliveries", "error", err)
		sweeperFetchFailedCounter.Inc()
		return nil, err
	}

	summary := &RetrySummary{}
	if len(deliveries) == 0 {
		s.logger.DebugContext(ctx, "No retryable deliveries found")
		sweeperSuccessCounter.Inc()
		return summary, nil
	}

	s.logger.InfoContext(ctx, "Retrying deliveries", "count", len(deliveries))

	for _, delivery := range deliveries {
		deliveryCtx := logcontext.AppendCtx(ctx, slog.String("deliveryId", delivery.ID.String()))
		summary.Processed++

		sub, reason, err := s.resolveSubscription(deliveryCtx, delivery)
		if err != nil {
			s.logger.ErrorContext(deliveryCtx, "Error loading subscription", "error", err)
			sweeperErrorCounter.Inc()
			summary.Failed++
			continue
		}

		if sub == nil {
			if err := s.store.CloseDelivery(deliveryCtx, delivery.ID, reason); err != nil {
				s.logger.ErrorContext(deliveryCtx, "Error closing delivery", "error", err)
				sweeperErrorCounter.Inc()
				summary.Failed++
				continue
			}
			s.logger.InfoContext(deliveryCtx, "Delivery closed", "reason", reason)
			sweeperClosedCounter.Inc()
			summary.Closed++
			continue
		}

		updated, err := s.deliverer.Attempt(deliveryCtx, delivery, sub)
		if err != nil {
			sweeperErrorCounter.Inc()
			summary.Failed++
			continue
		}

		sweeperRetriedCounter.Inc()
		if updated.Status == model.DeliverySuccess {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	s.logger.InfoContext(ctx, "Sweep finished",
		"processed", summary.Processed, "succeeded", summary.Succeeded,
		"failed", summary.Failed, "closed", summary.Closed)
	sweeperSuccessCounter.Inc()

	return summary, nil
}

// resolveSubscription returns nil and a reason when the delivery should no longer be retried.
func (s *Sweeper) resolveSubscription(ctx context.Context, delivery *model.Delivery) (*model.Subscription, string, error) {
	sub, err := s.store.GetSubscription(ctx, delivery.SubscriptionID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, "subscription deleted", nil
	}
	if err != nil {
		return nil, "", err
	}
	if !sub.Active {
		return nil, "subscription inactive", nil
	}
	if !lo.Contains(sub.Events, delivery.EventType) {
		return nil, "event no longer subscribed", nil
	}
	return sub, "", nil
}
