/**
 * @description
 * This file sets up the HTTP router for the gateway API. It defines the
 * endpoints, associates them with their corresponding handlers, and applies
 * the merchant authentication middleware.
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

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

// GatewayRoutes creates and returns the router for the gateway API.
func GatewayRoutes(h *GatewayHandlers, repo store.Repository) http.Handler {
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

	// Queue visibility endpoint used by the integration test harness; it
	// carries no merchant data so it stays outside the auth group.
	r.Get("/test/jobs/status", h.JobStatusHandler)

	// Group routes that require merchant authentication.
	r.Group(func(r chi.Router) {
		r.Use(MerchantAuthMiddleware(repo))

		r.Post("/orders", h.CreateOrderHandler)

		r.Post("/payments", h.CreatePaymentHandler)
		r.Get("/payments", h.ListPaymentsHandler)
		r.Get("/payments/{id}", h.GetPaymentHandler)
		r.Post("/payments/{id}/capture", h.CapturePaymentHandler)
		r.Post("/payments/{id}/refunds", h.CreateRefundHandler)

		r.Get("/refunds/{id}", h.GetRefundHandler)

		r.Get("/webhooks", h.ListWebhookLogsHandler)
		r.Post("/webhooks/{id}/retry", h.RetryWebhookHandler)
	})

	return r
}
