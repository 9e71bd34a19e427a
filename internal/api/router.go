/**
 * @description
 * This file sets up the HTTP router for the finance-service. It defines the API
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

// FinanceRoutes creates and returns a new router for the finance service.
func FinanceRoutes(h *FinanceHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require user authentication.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(jwksURL))

		// Payment lifecycle endpoints
		r.Post("/payments", h.CreatePaymentHandler)
		r.Get("/payments/{id}", h.GetPaymentHandler)
		r.Post("/payments/{id}/transition", h.TransitionPaymentHandler)
		r.Post("/payments/{id}/refund", h.RefundPaymentHandler)

		// Payout governance endpoints
		r.Post("/payouts", h.CreatePayoutHandler)
		r.Get("/payouts/{id}", h.GetPayoutHandler)
		r.Post("/payouts/{id}/approve", h.ApprovePayoutHandler)
		r.Post("/payouts/{id}/reject", h.RejectPayoutHandler)
		r.Post("/payouts/{id}/cancel", h.CancelPayoutHandler)
		r.Post("/payouts/{id}/disburse", h.DisbursePayoutHandler)
		r.Post("/payouts/{id}/retry", h.RetryPayoutHandler)
		r.Delete("/payouts/{id}", h.DeletePayoutHandler)
		r.Post("/payouts/{id}/restore", h.RestorePayoutHandler)

		// Artist balance and audit trail
		r.Get("/artists/{artistID}/balance", h.GetArtistBalanceHandler)
		r.Get("/audit/{targetType}/{targetID}", h.GetAuditTrailHandler)
	})

	// Internal service-to-service endpoints guarded by a shared API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/internal/revenues", h.RecordRevenueHandler)
		r.Post("/internal/revenues/{id}/process", h.ProcessRevenueHandler)
		r.Post("/internal/payouts/{id}/process", h.ProcessPayoutHandler)
		r.Post("/internal/payouts/{id}/complete", h.CompletePayoutHandler)
		r.Post("/internal/payouts/{id}/fail", h.FailPayoutHandler)
	})

	return r
}
