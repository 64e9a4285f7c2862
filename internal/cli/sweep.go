package cli

import (
	"fmt"
	"time"

	"checkout-dispatch/internal/event"
	"checkout-dispatch/internal/order"
	"github.com/spf13/cobra"
)

var (
	sweepLimit   int
	sweepAbandon bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Retry one batch of pending and failed deliveries",
	Long: `Retry one batch of pending and failed deliveries whose backoff has elapsed.

Examples:
  checkout-dispatch sweep
  checkout-dispatch sweep --limit 200 --abandon`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().IntVar(&sweepLimit, "limit", 0, "maximum deliveries to retry (default sweeper.batch-size)")
	sweepCmd.Flags().BoolVar(&sweepAbandon, "abandon", false, "also mark stale pending orders as abandoned")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.sweeper().Sweep(ctx, sweepLimit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "processed=%d succeeded=%d failed=%d closed=%d\n",
		summary.Processed, summary.Succeeded, summary.Failed, summary.Closed)

	if !sweepAbandon {
		return nil
	}

	local := event.NewLocalPublisher(event.NewProcessor(a.dispatcher, a.logger), a.cfg.Dispatch.LocalWorkers, a.logger)
	orders := order.NewService(a.store, local, a.logger)
	n, err := orders.AbandonStale(ctx, time.Duration(a.cfg.Sweeper.AbandonAfterHours)*time.Hour)
	if err != nil {
		return err
	}
	local.Wait()
	fmt.Fprintf(cmd.OutOrStdout(), "abandoned=%d\n", n)
	return nil
}
