package obs

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/KarunKarguz/edge-infer-gateway/docs"
)

// ReadyFunc reports whether the gateway is ready to serve inference
// traffic; wired to the acceptor's post-init state.
type ReadyFunc func() bool

// NewMux builds the auxiliary HTTP surface: a tiny admin mux
// completely separate from the TCP inference port, serving /healthz,
// /readyz, /metrics, and a Swagger UI describing that surface.
func NewMux(ready ReadyFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready\n"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ready\n"))
	})
	r.Get("/metrics", metricsHandler)
	r.Handle("/prometheus", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	return r
}

// metricsHandler renders the two plaintext request/error counter
// lines, on top of the richer /prometheus exposition above.
func metricsHandler(w http.ResponseWriter, _ *http.Request) {
	ok, errs := Snapshot()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "eig_requests_total %d\n", ok)
	fmt.Fprintf(w, "eig_errors_total %d\n", errs)
}
