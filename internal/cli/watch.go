package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-dispatch/internal/model"
	"checkout-dispatch/internal/pix"
	"github.com/spf13/cobra"
)

var (
	watchURL          string
	watchOrderID      string
	watchValue        int64
	watchPollInterval time.Duration
	watchMaxAttempts  int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Create a PIX charge for an order and wait until it is paid or expires",
	Long: `Create a PIX charge through the service API, print its copy-and-paste code and poll the
charge status the way the payment page does.

Examples:
  checkout-dispatch watch --order o1 --value 1990
  checkout-dispatch watch --url http://checkout:8080 --order o1 --value 1990 --poll-interval 2s`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "http://localhost:8080", "checkout-dispatch base URL")
	watchCmd.Flags().StringVar(&watchOrderID, "order", "", "order id")
	watchCmd.Flags().Int64Var(&watchValue, "value", 0, "charge value in cents")
	watchCmd.Flags().DurationVar(&watchPollInterval, "poll-interval", pix.DefaultPollInterval, "time between status polls")
	watchCmd.Flags().IntVar(&watchMaxAttempts, "max-attempts", pix.DefaultMaxAttempts, "maximum status polls")
	_ = watchCmd.MarkFlagRequired("order")
	_ = watchCmd.MarkFlagRequired("value")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := pix.NewClient(watchURL, 10*time.Second)
	view, err := client.CreateCharge(ctx, pix.CreateChargeRequest{OrderID: watchOrderID, ValueInCents: watchValue})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Charge %s created, expires at %s\n", view.ID, view.ExpiresAt.Local().Format(time.Kitchen))
	fmt.Fprintf(out, "PIX code: %s\n", view.QRCode)

	state := watchCharge(ctx, client, watchOrderID, view, out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if state == model.ChargeWaiting {
		fmt.Fprintln(out, "Stopped watching before the charge settled")
	}
	return nil
}

func watchCharge(ctx context.Context, client *pix.Client, orderID string, view *pix.ChargeView, out io.Writer, logger *slog.Logger) model.ChargeStatus {
	charge := &model.Charge{
		ID:         view.ID,
		OrderID:    orderID,
		ValueCents: view.Value,
		Status:     model.ChargeWaiting,
		ExpiresAt:  view.ExpiresAt,
	}

	session := pix.NewSession(charge, pix.NewOrderStatusSource(client, orderID), pix.Options{
		PollInterval: watchPollInterval,
		MaxAttempts:  watchMaxAttempts,
	}, pix.Handlers{
		OnPaid: func(context.Context, *model.Charge) {
			fmt.Fprintln(out, "Payment confirmed")
		},
		OnExpired: func(context.Context, *model.Charge) {
			fmt.Fprintln(out, "Charge expired, generate a new code")
		},
	}, logger)

	return session.Run(ctx)
}
