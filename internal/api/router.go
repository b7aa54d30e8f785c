package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aimpatfx/backend/internal/api/handlers"
	"github.com/aimpatfx/backend/internal/realtime"
	"github.com/aimpatfx/backend/pkg/logger"
)

// NewRouter creates and configures the HTTP router
func NewRouter(
	requests *handlers.RequestsHandler,
	webhooks *handlers.WebhooksHandler,
	billing *handlers.BillingHandler,
	signals *handlers.SignalsHandler,
	events *handlers.EventsHandler,
	hub *realtime.Hub,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// API v1
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/requests", requests.Create).Methods("POST")
	api.HandleFunc("/requests", requests.List).Methods("GET")
	api.HandleFunc("/requests/{id}", requests.Get).Methods("GET")

	api.HandleFunc("/signals", signals.Recent).Methods("GET")

	api.HandleFunc("/events", events.InRange).Methods("GET")
	api.HandleFunc("/events/analysis", events.Analysis).Methods("POST")
	api.HandleFunc("/news/{asset}", events.News).Methods("GET")

	// Stage triggers and billing callbacks
	hooks := r.PathPrefix("/webhooks").Subrouter()
	hooks.HandleFunc("/storage", webhooks.Storage).Methods("POST")
	hooks.HandleFunc("/requests", webhooks.Requests).Methods("POST")
	hooks.HandleFunc("/paypal", billing.PayPal).Methods("POST")

	// Live subscriptions
	r.HandleFunc("/ws", hub.ServeWS)

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "aimpatfx-api",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
