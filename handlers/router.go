package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"golang.org/x/time/rate"

	"fadedreams/roadassist/domain"
	"fadedreams/roadassist/service"
)

const appName = "roadassist"

type RouterConfig struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires every endpoint with its middleware chain.
func NewRouter(svc *service.Service, store domain.Pinger, cfg RouterConfig, logger *slog.Logger) http.Handler {
	authHandler := NewAuthHandler(svc, logger)
	requestHandler := NewServiceRequestHandler(svc, logger)
	mechanicHandler := NewMechanicHandler(svc, logger)
	paymentHandler := NewPaymentHandler(svc, logger)
	adminHandler := NewAdminHandler(svc, logger)

	r := mux.NewRouter()
	r.Use(otelmux.Middleware(appName))
	r.Use(Recover(logger))
	r.Use(RequestLogging(logger))
	if cfg.RateLimitRPS > 0 {
		r.Use(NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst).Middleware())
	}

	r.HandleFunc("/health", healthCheck(store, logger)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", authHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(Authenticate(svc))

	authed.HandleFunc("/service/create", requestHandler.CreateRequest).Methods(http.MethodPost)
	authed.HandleFunc("/service/my-requests", requestHandler.MyRequests).Methods(http.MethodGet)
	authed.HandleFunc("/service/{id}", requestHandler.GetRequest).Methods(http.MethodGet)
	authed.HandleFunc("/service/{id}/status", requestHandler.UpdateStatus).Methods(http.MethodPatch)
	authed.HandleFunc("/service/{id}/assign", requestHandler.AssignMechanic).Methods(http.MethodPatch)

	authed.HandleFunc("/payment/create-order", paymentHandler.CreateOrder).Methods(http.MethodPost)
	authed.HandleFunc("/payment/verify", paymentHandler.VerifyPayment).Methods(http.MethodPost)

	mechanic := authed.PathPrefix("/mechanic").Subrouter()
	mechanic.Use(RequireRole(domain.RoleMechanic))
	mechanic.HandleFunc("/profile", mechanicHandler.CreateProfile).Methods(http.MethodPost)
	mechanic.HandleFunc("/location", mechanicHandler.UpdateLocation).Methods(http.MethodPatch)
	mechanic.HandleFunc("/availability", mechanicHandler.ToggleAvailability).Methods(http.MethodPatch)
	mechanic.HandleFunc("/my-jobs", mechanicHandler.MyJobs).Methods(http.MethodGet)

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(RequireRole(domain.RoleAdmin))
	admin.HandleFunc("/users", adminHandler.ListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}", adminHandler.DeleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/mechanics", adminHandler.ListMechanics).Methods(http.MethodGet)
	admin.HandleFunc("/requests", adminHandler.ListRequests).Methods(http.MethodGet)
	admin.HandleFunc("/requests/{id}", adminHandler.OverrideRequest).Methods(http.MethodPatch)
	admin.HandleFunc("/payments", adminHandler.ListPayments).Methods(http.MethodGet)
	admin.HandleFunc("/stats", adminHandler.Stats).Methods(http.MethodGet)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return CORS(origins)(r)
}

// healthCheck reports whether the store answers a ping
func healthCheck(store domain.Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			logger.Warn("Health check failed", "error", err, "app", appName)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
