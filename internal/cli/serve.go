package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-dispatch/internal/cache"
	"checkout-dispatch/internal/db"
	"checkout-dispatch/internal/event"
	"checkout-dispatch/internal/gateway"
	"checkout-dispatch/internal/inbound"
	"checkout-dispatch/internal/kafka"
	"checkout-dispatch/internal/metrics"
	"checkout-dispatch/internal/order"
	"checkout-dispatch/internal/pix"
	"checkout-dispatch/internal/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	serveMigrate       bool
	serveMigrationsDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, charge watchers, event dispatch and background sweeps",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply database migrations before serving")
	serveCmd.Flags().StringVar(&serveMigrationsDir, "migrations", "migrations", "directory holding goose migrations")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	if serveMigrate {
		if err := db.RunMigrations(db.GetConnStr(cfg.Database), serveMigrationsDir); err != nil {
			return err
		}
	}

	metrics.Setup(cfg.Metrics, logger)

	guard := cache.NewGuard(ctx, cfg.Redis, logger)
	if closer, ok := guard.(io.Closer); ok {
		defer closer.Close()
	}

	processor := event.NewProcessor(a.dispatcher, logger)

	var publisher order.Publisher
	var local *event.LocalPublisher
	if cfg.Kafka.Enabled {
		writer := kafka.NewWriter(cfg.Kafka)
		defer writer.Close()
		publisher = kafka.NewPublisher(writer)

		reader := kafka.NewReader(cfg.Kafka)
		defer reader.Close()
		go kafka.ReadOrderEvents(ctx, reader, processor, logger)
	} else {
		local = event.NewLocalPublisher(processor, cfg.Dispatch.LocalWorkers, logger)
		publisher = local
	}

	orders := order.NewService(a.store, publisher, logger)

	gw := gateway.NewClient(cfg.Gateway, logger)
	registry := pix.NewRegistry(gw, pix.Options{
		PollInterval: millis(cfg.Pix.PollIntervalMs),
		MaxAttempts:  cfg.Pix.MaxPollAttempts,
	}, guard, pix.SettlingHandlers(orders, logger), logger)
	charges := pix.NewService(a.store, gw, registry, orders, cfg.Pix, logger)

	a.sweeper().Start(ctx)
	order.NewAbandoner(orders, millis(cfg.Sweeper.IntervalMs), time.Duration(cfg.Sweeper.AbandonAfterHours)*time.Hour, logger).Start(ctx)

	srv := server.New(server.Deps{
		Verifier:   inbound.NewVerifier(cfg.Inbound, guard, logger),
		Callbacks:  orders,
		Charges:    charges,
		Dispatcher: a.dispatcher,
	}, logger)

	err = srv.ListenAndServe(ctx, ":"+cfg.Server.Port)

	registry.Shutdown()
	if local != nil {
		local.Wait()
	}
	logger.InfoContext(context.WithoutCancel(ctx), "Stopped")

	return errors.Wrap(err, "serve")
}
