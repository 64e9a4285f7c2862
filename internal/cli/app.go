package cli

import (
	"context"
	"log/slog"
	"time"

	"checkout-dispatch/internal/callback"
	"checkout-dispatch/internal/config"
	"checkout-dispatch/internal/db"
	"checkout-dispatch/internal/integration"
	"checkout-dispatch/internal/logging"
	"checkout-dispatch/internal/payload"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// app holds the pieces every database-backed command needs.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	store      *db.Store
	sender     *callback.Sender
	deliverer  *callback.Deliverer
	dispatcher *callback.Dispatcher
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	logger := logging.GetLogger(cfg.Logs)

	pool, err := db.GetPool(db.GetConnStr(cfg.Database))
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	store := db.NewStore(pool)

	sender := callback.NewSender(millis(cfg.Dispatch.TimeoutMs), cfg.Dispatch.ResponseBodySize, logger)
	deliverer := callback.NewDeliverer(store, sender, callback.RetryPolicy{
		MaxAttempts: cfg.Sweeper.MaxAttempts,
		Base:        millis(cfg.Sweeper.BackoffBaseMs),
		Max:         millis(cfg.Sweeper.BackoffMaxMs),
	}, callback.Headers{
		Signature: cfg.Dispatch.SignatureHeader,
		Event:     cfg.Dispatch.EventHeader,
	}, logger)

	notifier := integration.NewNotifier(store, sender, integration.Options{
		UtmifyURL: cfg.Utmify.URL,
		Utmify: payload.UtmifyOptions{
			Platform:        cfg.Utmify.Platform,
			PendingMaxDays:  cfg.Utmify.PendingMaxDays,
			RefundedMaxDays: cfg.Utmify.RefundedMaxDays,
		},
		FacebookGraphURL:   cfg.Facebook.GraphURL,
		FacebookAPIVersion: cfg.Facebook.APIVersion,
	}, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		store:      store,
		sender:     sender,
		deliverer:  deliverer,
		dispatcher: callback.NewDispatcher(store, deliverer, notifier, cfg.Dispatch.Parallelism, logger),
	}, nil
}

func (a *app) sweeper() *callback.Sweeper {
	return callback.NewSweeper(a.store, a.deliverer, millis(a.cfg.Sweeper.IntervalMs), a.cfg.Sweeper.BatchSize, a.logger)
}

func (a *app) Close() {
	a.pool.Close()
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
