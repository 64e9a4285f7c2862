package order

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

const (
	DefaultAbandonInterval = 30 * time.Second
	DefaultAbandonAge      = 24 * time.Hour
)

var (
	abandonErrorCounter   = metrics.GetOrCreateCounter(`order_abandoner_total{result="error"}`)
	abandonSuccessCounter = metrics.GetOrCreateCounter(`order_abandoner_total{result="success"}`)
)

type Abandoner struct {
	service  *Service
	interval time.Duration
	age      time.Duration
	logger   *slog.Logger
}

// NewAbandoner falls back to DefaultAbandonInterval and DefaultAbandonAge for non-positive values.
func NewAbandoner(service *Service, interval, age time.Duration, logger *slog.Logger) *Abandoner {
	if interval <= 0 {
		interval = DefaultAbandonInterval
	}
	if age <= 0 {
		age = DefaultAbandonAge
	}
	return &Abandoner{service: service, interval: interval, age: age, logger: logger}
}

func (a *Abandoner) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := a.service.AbandonStale(ctx, a.age); err != nil {
					a.logger.ErrorContext(ctx, "Error abandoning stale orders", "error", err)
					abandonErrorCounter.Inc()
					continue
				}
				abandonSuccessCounter.Inc()
			case <-ctx.Done():
				a.logger.InfoContext(ctx, "Context done, stopping abandoner")
				return
			}
		}
	}()
}
