package cmdutil

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var metricsListenAddr = "127.0.0.1:9464"

func RegisterMetricsFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(
		&metricsListenAddr,
		"metrics-listen-addr",
		metricsListenAddr,
		"host:port the Prometheus metrics and health endpoints listen on",
	)
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

// RunMetricsServer serves /metrics and /healthz in the background for
// the lifetime of the process.
func RunMetricsServer(logger zerolog.Logger) {
	go func() {
		if err := http.ListenAndServe(metricsListenAddr, metricsHandler()); err != nil {
			logger.Err(err).Msgf("metrics server stopped")
		}
	}()
}
