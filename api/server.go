/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counter and latency histogram
  5. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/deposits/*    Deposit records
  /api/payments      Installments
  /api/history       History queries
  /api/refunds/*     Refund entries
  /api/contracts/*   Per-contract views
  /metrics           Prometheus scrape endpoint
  /health            Liveness

SECURITY NOTE:
  No authentication middleware. The actor header is trusted as sent.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/likeweb3125/newapi-dokliplife-sub001/logging"
	"github.com/likeweb3125/newapi-dokliplife-sub001/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", h.ActorHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/deposits", func(r chi.Router) {
			r.Post("/", h.CreateDeposit)
			r.Get("/{id}", h.GetDeposit)
			r.Patch("/{id}", h.UpdateDeposit)
			r.Delete("/{id}", h.DeleteDeposit)
			r.Post("/{id}/returns", h.RecordReturn)
		})

		r.Post("/payments", h.RegisterPayment)
		r.Get("/history", h.ListHistory)

		r.Route("/refunds", func(r chi.Router) {
			r.Post("/", h.RegisterRefund)
			r.Delete("/{id}", h.DeleteRefund)
		})

		r.Get("/contracts/{id}/refunds", h.ListRefunds)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// metricsMiddleware records request count and latency by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
