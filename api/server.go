// Package api wires the HTTP surface: quote, initiate, confirm, and the
// SSE event streams, plus the idempotency and rate-limit middleware
// around the mutating endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/plm/crossbridge/api/events"
	"github.com/plm/crossbridge/api/handlers"
	"github.com/plm/crossbridge/api/middleware"
	"github.com/plm/crossbridge/idempotency"
	"github.com/plm/crossbridge/quote"
	redisstore "github.com/plm/crossbridge/storage/redis"
)

// Deps collects the constructed dependencies the router needs. Built in
// cmd/api/main.go and passed in, so this package stays free of
// connection-string/config concerns.
type Deps struct {
	PaymentStore  handlers.PaymentStore
	Quotes        *quote.Service
	Jobs          handlers.JobQueue
	Idempotency   *idempotency.Store
	RateLimiter   *redisstore.EndpointLimiter
	EventStore    events.Store
	Log           zerolog.Logger
}

const (
	mutatingRateLimit  = int64(30)
	mutatingRateWindow = time.Minute
)

// NewRouter builds the full method+path-pattern mux on the standard
// library's Go 1.22+ ServeMux rather than a third-party router.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	quoteHandler := handlers.NewQuoteHandler(d.Quotes, d.Log)
	paymentHandler := handlers.NewPaymentHandler(d.PaymentStore, d.Quotes, d.Jobs, d.Log)
	eventHandler := events.NewHandler(d.EventStore, d.Log)

	mux.HandleFunc("POST /api/v1/quote", rateLimited(d, quoteHandler.ServeHTTP))

	mux.HandleFunc("POST /api/v1/initiate", rateLimited(d, idempotent(d, "initiate", paymentHandler.Initiate)))
	mux.HandleFunc("POST /api/v1/confirm", rateLimited(d, idempotent(d, "confirm", paymentHandler.Confirm)))

	mux.HandleFunc("GET /api/v1/events/user/{userId}", eventHandler.UserEvents)
	mux.HandleFunc("GET /api/v1/events/{paymentId}", eventHandler.PaymentEvents)

	mux.HandleFunc("GET /healthz", healthz)

	return mux
}

func rateLimited(d Deps, next http.HandlerFunc) http.HandlerFunc {
	return middleware.RateLimit(d.RateLimiter, mutatingRateLimit, mutatingRateWindow, next)
}

func idempotent(d Deps, endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return middleware.Idempotent(d.Idempotency, endpoint, next)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
