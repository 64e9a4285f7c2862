package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"checkout-dispatch/internal/config"
	"github.com/VictoriaMetrics/metrics"
)

// Setup starts pushing the default metrics set when a push URL is configured.
func Setup(cfg config.Metrics, logger *slog.Logger) {
	if cfg.URL == "" {
		return
	}

	err := metrics.InitPush(cfg.URL, time.Duration(cfg.IntervalMs)*time.Millisecond, cfg.CommonLabels, true)
	if err != nil {
		logger.Error("Error initializing metrics push", "error", err)
		return
	}
	logger.Info("Metrics push started", "url", cfg.URL)
}

// Handler exposes the default metrics set in Prometheus text format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		metrics.WritePrometheus(w, true)
	})
}
