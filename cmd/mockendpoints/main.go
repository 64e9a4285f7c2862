package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"checkout-dispatch/internal/callback"
	"checkout-dispatch/internal/config"
	"checkout-dispatch/internal/logging"
	"github.com/spf13/cobra"
)

type CallbackResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	errorRate   = 0.5
	contentType = "application/json"
)

var (
	addr             string
	configPath       string
	subscriberSecret string
)

func main() {
	cmd := &cobra.Command{
		Use:          "mockendpoints",
		Short:        "Local webhook subscribers and a fake PIX gateway",
		SilenceUsage: true,
		RunE:         run,
	}
	cmd.Flags().StringVar(&addr, "addr", ":8085", "listen address")
	cmd.Flags().StringVar(&configPath, "config", ".", "directory containing config.yaml")
	cmd.Flags().StringVar(&subscriberSecret, "subscriber-secret", "", "secret the subscriber endpoints verify signatures with; empty skips verification")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.GetLogger(cfg.Logs)

	header := cfg.Dispatch.SignatureHeader
	if header == "" {
		header = callback.DefaultSignatureHeader
	}
	tracker := newDeliveryTracker()
	subscriber := func(h http.HandlerFunc) http.Handler {
		return verifyMiddleware(h, subscriberSecret, header, tracker, logger)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /always-success", subscriber(alwaysSuccessHandler))
	mux.Handle("POST /success-delayed", subscriber(successDelayedHandler))
	mux.Handle("POST /always-fail", subscriber(alwaysFailHandler))
	mux.Handle("POST /random-fail", subscriber(randomFailHandler))

	newFakeGateway(cfg.Gateway.Token, cfg.Inbound, logger).register(mux, "/gateway")

	logger.Info("Mock endpoints listening", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: loggingMiddleware(mux, logger), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-cmd.Context().Done()
		_ = srv.Shutdown(context.Background())
	}()
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func alwaysSuccessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CallbackResponse{Success: true})
}

func successDelayedHandler(w http.ResponseWriter, _ *http.Request) {
	delay := time.Duration(3+rand.IntN(6)) * time.Second
	time.Sleep(delay)
	writeJSON(w, http.StatusOK, CallbackResponse{Success: true})
}

func alwaysFailHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error"})
}

func randomFailHandler(w http.ResponseWriter, _ *http.Request) {
	if rand.Float64() < errorRate {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error"})
		return
	}
	writeJSON(w, http.StatusOK, CallbackResponse{Success: true})
}
