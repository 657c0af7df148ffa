/**
 * @description
 * This file sets up the HTTP router for the earnings-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// EarningRoutes creates and returns a new router for the earnings service.
func EarningRoutes(h *EarningHandlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// The published rate table is public marketing content.
	r.Get("/rates", h.GetRatesHandler)

	// Group routes that require an authenticated operator.
	r.Group(func(r chi.Router) {
		r.Use(OperatorAuthMiddleware(jwtSecret))

		r.Post("/process", h.ProcessEarningHandler)
		r.Get("/partner/{affiliateCode}", h.ListPartnerEarningsHandler)
		r.Get("/{earningID}", h.GetEarningHandler)
	})

	return r
}
