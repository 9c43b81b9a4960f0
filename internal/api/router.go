/**
 * @description
 * This file sets up the HTTP router for the generation-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and applies
 * the authentication middleware for each route group.
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

// Routes creates and returns the router for the generation service.
func Routes(h *GenerationHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	// Video generation with retries can legitimately take minutes.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require end-user authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Post("/generate/images", h.GenerateImagesHandler)
		r.Post("/generate/videos", h.GenerateVideosHandler)
		r.Post("/generate/copy", h.GenerateAdCopyHandler)

		r.Get("/credits/balance", h.GetBalanceHandler)
		r.Get("/credits/transactions", h.ListTransactionsHandler)
		r.Get("/jobs/{id}", h.GetJobHandler)
	})

	// Operator endpoints guarded by the shared internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/internal/accounts", h.CreateAccountHandler)
		r.Post("/internal/credits/grant", h.GrantCreditsHandler)
		r.Post("/internal/credits/deduct", h.DeductCreditsHandler)
		r.Get("/internal/credits/summary", h.LedgerSummaryHandler)
		r.Get("/internal/credits/transactions", h.ListUserTransactionsHandler)
	})

	return r
}
