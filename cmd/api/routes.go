package main

import (
	"log"
	"net/http"

	httphandlers "harvestsync/internal/interfaces/http"
	"harvestsync/internal/shared/config"
	"harvestsync/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", httphandlers.HandleHome)
	mux.HandleFunc("GET /health", deps.HealthHandler.HandleHealth)

	// Board-signed routes
	session := middleware.RequireSession(deps.Verifier, deps.UserRepo)

	for path, handler := range deps.ActionHandler.Routes() {
		mux.Handle("POST "+path, session(handler))
	}

	mux.Handle("POST /subscriptions/{slug}/subscribe", session(http.HandlerFunc(deps.SubscriptionHandler.HandleSubscribe)))
	mux.Handle("POST /subscriptions/{slug}/unsubscribe", session(http.HandlerFunc(deps.SubscriptionHandler.HandleUnsubscribe)))

	// Apply global middleware
	handler := middleware.Logging(middleware.Tracing(mux))
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(handler)
	}

	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
		log.Println("TLS security middleware enabled (HSTS)")
	}

	return handler
}
