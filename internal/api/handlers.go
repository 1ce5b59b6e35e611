/**
 * @description
 * This file contains the HTTP handlers for the gateway's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * Error responses use the `{"error": {"code", "description"}}` envelope the
 * gateway's SDK clients expect.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, and
 *   custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/app"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

// IdempotencyKeyHeader carries the optional client key for payment creation.
const IdempotencyKeyHeader = "Idempotency-Key"

// GatewayHandlers holds the application service that handlers will use.
type GatewayHandlers struct {
	service *app.Service
}

// NewGatewayHandlers creates a new instance of GatewayHandlers.
func NewGatewayHandlers(service *app.Service) *GatewayHandlers {
	return &GatewayHandlers{service: service}
}

type errorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// CreateOrderHandler handles POST /orders.
func (h *GatewayHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	merchant, ok := GetMerchant(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Could not get merchant from context")
		return
	}

	var req domain.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, app.CodeBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), merchant.ID, req)
	if err != nil {
		h.handleServiceError(w, "create_order", err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// CreatePaymentHandler handles POST /payments. The response body is the
// service's serialized snapshot so idempotent replays are byte-identical.
func (h *GatewayHandlers) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	merchant, ok := GetMerchant(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Could not get merchant from context")
		return
	}

	var req domain.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, app.CodeBadRequest, "Invalid request body")
		return
	}

	body, err := h.service.CreatePayment(r.Context(), merchant.ID, req, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		h.handleServiceError(w, "create_payment", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(body)
}

// GetPaymentHandler handles GET /payments/{id}.
func (h *GatewayHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	merchant, ok := GetMerchant(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Could not get merchant from context")
		return
	}

	payment, err := h.service.GetPayment(r.Context(), merchant.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, "get_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, paymentSnapshot(payment))
}

// ListPaymentsHandler handles GET /payments.
func (h *GatewayHandlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	merchant, ok := GetMerchant(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Could not get merchant from context")
		return
	}

	payments, err := h.service.ListPayments(r.Context(), merchant.ID)
	if err != nil {
		h.handleServiceError(w, "list_payments", err)
		return
	}
	items := make([]domain.PaymentResponse, 0, len(payments))
	for i := range payments {
		items = append(items, paymentSnapshot(&payments[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(items),
		"items": items,
	})
}

// CapturePaymentHandler handles POST /payments/{id}/capture.
func (h *GatewayHandlers) CapturePaymentHandler(w http.ResponseWriter, r *http.Request) {
	merchant, ok := GetMerchant(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Could not get merchant from context")
		return
	}

	payment, err := h.service.CapturePayment(r.Context(), merchant.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, "capture_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, paymentSnapshot(payment))
}

// CreateRefundHandler handles POST /payments/{id}/refunds.
func (h *GatewayHandlers) CreateRefundHandler(w http.ResponseWriter, r *http.Request) {
	merchant, ok := GetMerchant(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Could not get merchant from context")
		return
	}

	var req domain.CreateRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, app.CodeBadRequest, "Invalid request body")
		return
	}

	refund, err := h.service.CreateRefund(r.Context(), merchant.ID, chi.URLParam(r, "id"), req)
	if err != nil {
		h.handleServiceError(w, "create_refund", err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.NewRefundResponse(refund))
}

// GetRefundHandler handles GET /refunds/{id}.
func (h *GatewayHandlers) GetRefundHandler(w http.ResponseWriter, r *http.Request) {
	merchant, ok := GetMerchant(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Could not get merchant from context")
		return
	}

	refund, err := h.service.GetRefund(r.Context(), merchant.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, "get_refund", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewRefundResponse(refund))
}

// ListWebhookLogsHandler handles GET /webhooks.
func (h *GatewayHandlers) ListWebhookLogsHandler(w http.ResponseWriter, r *http.Request) {
	merchant, ok := GetMerchant(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Could not get merchant from context")
		return
	}

	limit := parseQueryInt(r, "limit", 10)
	offset := parseQueryInt(r, "offset", 0)

	logs, total, err := h.service.ListWebhookLogs(r.Context(), merchant.ID, limit, offset)
	if err != nil {
		h.handleServiceError(w, "list_webhooks", err)
		return
	}
	if logs == nil {
		logs = []domain.WebhookLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"items":  logs,
	})
}

// RetryWebhookHandler handles POST /webhooks/{id}/retry.
func (h *GatewayHandlers) RetryWebhookHandler(w http.ResponseWriter, r *http.Request) {
	merchant, ok := GetMerchant(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Could not get merchant from context")
		return
	}

	logID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, app.CodeBadRequest, "Invalid webhook log ID")
		return
	}

	if err := h.service.RetryWebhook(r.Context(), merchant.ID, logID); err != nil {
		h.handleServiceError(w, "retry_webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// JobStatusHandler handles GET /test/jobs/status.
func (h *GatewayHandlers) JobStatusHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.JobStats(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=job_status err=%v", err)
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Unable to read queue stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending":       stats.Pending,
		"processing":    stats.Processing,
		"completed":     stats.Completed,
		"failed":        stats.Failed,
		"worker_status": "running",
	})
}

// handleServiceError maps service errors to the API error envelope.
func (h *GatewayHandlers) handleServiceError(w http.ResponseWriter, endpoint string, err error) {
	var vErr *app.ValidationError
	if errors.As(err, &vErr) {
		writeError(w, http.StatusBadRequest, vErr.Code, vErr.Description)
		return
	}

	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, app.CodeNotFound, "Order not found")
	case errors.Is(err, store.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, app.CodeNotFound, "Payment not found")
	case errors.Is(err, store.ErrRefundNotFound):
		writeError(w, http.StatusNotFound, app.CodeNotFound, "Refund not found")
	case errors.Is(err, store.ErrWebhookLogNotFound):
		writeError(w, http.StatusNotFound, app.CodeNotFound, "Webhook log not found")
	default:
		log.Printf("level=error component=api endpoint=%s err=%v", endpoint, err)
		writeError(w, http.StatusInternalServerError, app.CodeInternalError, "Internal server error")
	}
}

// paymentSnapshot builds the full read-side snapshot of a payment, including
// settlement fields the creation response omits.
func paymentSnapshot(p *domain.Payment) domain.PaymentResponse {
	resp := domain.NewPaymentResponse(p)
	captured := p.Captured
	resp.Captured = &captured
	resp.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	if p.ErrorCode != nil {
		resp.ErrorCode = *p.ErrorCode
	}
	if p.ErrorDescription != nil {
		resp.ErrorDescription = *p.ErrorDescription
	}
	return resp
}

func parseQueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses in the gateway's
// error envelope.
func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Description: description}})
}
