package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uw-labs/substrate"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// StatusFunc reports the health of the consumer's client.
type StatusFunc func() (*substrate.Status, error)

// NewRouter exposes the metrics gathered by g on /metrics and the client status on /healthz.
func NewRouter(g prometheus.Gatherer, status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st, err := status()
		if err != nil {
			st = &substrate.Status{Problems: []string{err.Error()}}
		}
		w.Header().Set("Content-Type", "application/json")
		if !st.Working {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	})
	return r
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("serving metrics", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return errors.Wrap(err, "failed to serve metrics")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
