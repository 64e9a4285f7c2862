package event

import (
	"context"
	"log/slog"
	"sync"

	"checkout-dispatch/internal/message"
	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

const defaultParallelism = 100

var (
	localProcessedCounter = metrics.GetOrCreateCounter(`local_events_total{result="processed"}`)
	localErrorCounter     = metrics.GetOrCreateCounter(`local_events_total{result="error"}`)
	localRejectedCounter  = metrics.GetOrCreateCounter(`local_events_total{result="rejected"}`)
)

// LocalPublisher processes order events in-process, at most parallelism at a time.
// Used when no kafka broker is configured.
type LocalPublisher struct {
	processor *Processor
	sem       chan struct{}
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func NewLocalPublisher(processor *Processor, parallelism int, logger *slog.Logger) *LocalPublisher {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &LocalPublisher{
		processor: processor,
		sem:       make(chan struct{}, parallelism),
		logger:    logger,
	}
}

// Publish returns once the event is handed to a worker; processing outlives ctx.
// While every worker is busy it waits for a free slot or for ctx to end.
func (p *LocalPublisher) Publish(ctx context.Context, event message.OrderEvent) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		localRejectedCounter.Inc()
		return errors.Wrap(ctx.Err(), "wait for local worker")
	}
	p.wg.Add(1)

	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()

		if err := p.processor.Process(context.WithoutCancel(ctx), event); err != nil {
			p.logger.ErrorContext(ctx, "Error processing order event", "error", err)
			localErrorCounter.Inc()
			return
		}
		localProcessedCounter.Inc()
	}()

	return nil
}

// Wait blocks until every published event has been processed.
func (p *LocalPublisher) Wait() {
	p.wg.Wait()
}
