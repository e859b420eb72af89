package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports backend liveness; the Redis client and the artifact
// registry both satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler builds the health/metrics mux: /healthz answers 200 when the
// backend pings, 503 otherwise; /metrics serves the gatherer.
func Handler(gatherer prometheus.Gatherer, backend Pinger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if backend != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := backend.Ping(ctx); err != nil {
				http.Error(w, "backend unavailable: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// NewServer builds the HTTP server for the health listener.
func NewServer(addr string, gatherer prometheus.Gatherer, backend Pinger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(gatherer, backend),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
