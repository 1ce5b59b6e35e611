/**
 * @description
 * This file contains the core business logic of the gateway API surface. The
 * `Service` struct orchestrates order, payment, and refund creation, the
 * idempotency guard around payment creation, webhook log queries and manual
 * retries, and the queue stats endpoint. Settlement itself happens
 * asynchronously in the workers; the service's job is validation, persistence,
 * and enqueueing.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For merchant and webhook log identifiers.
 * - internal/domain, internal/store, internal/queue: Domain models, data
 *   access, and the job queue.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/queue"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

// Error codes surfaced in the API error envelope.
const (
	CodeBadRequest    = "BAD_REQUEST_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInternalError = "INTERNAL_ERROR"
)

// ValidationError is a synchronous business-rule rejection. It is surfaced
// to the caller before any job is enqueued and produces no side effects.
type ValidationError struct {
	Code        string
	Description string
}

func (e *ValidationError) Error() string {
	return e.Description
}

func validationErr(description string) *ValidationError {
	return &ValidationError{Code: CodeBadRequest, Description: description}
}

// Service provides the API-facing use cases of the gateway.
type Service struct {
	repo  store.Repository
	queue queue.Queue
	idem  *IdempotencyGuard
}

// NewService creates a new gateway service instance.
func NewService(repo store.Repository, q queue.Queue, idempotencyTTL time.Duration) *Service {
	return &Service{
		repo:  repo,
		queue: q,
		idem:  NewIdempotencyGuard(repo, idempotencyTTL),
	}
}

// CreateOrder validates and persists a new order.
func (s *Service) CreateOrder(ctx context.Context, merchantID uuid.UUID, req domain.CreateOrderRequest) (*domain.Order, error) {
	if req.Amount <= 0 {
		return nil, validationErr("Order amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	order := &domain.Order{
		ID:         domain.NewOrderID(),
		MerchantID: merchantID,
		Amount:     req.Amount,
		Currency:   currency,
		Status:     "created",
		CreatedAt:  time.Now().UTC(),
	}
	if req.Receipt != "" {
		receipt := req.Receipt
		order.Receipt = &receipt
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// CreatePayment creates a payment against a validated order and enqueues its
// settlement job. When an idempotency key is supplied, a fresh cached
// response short-circuits the whole flow and is returned verbatim; otherwise
// the creation response is cached under the key with the configured TTL.
// The returned bytes are the exact JSON response body for the caller.
func (s *Service) CreatePayment(ctx context.Context, merchantID uuid.UUID, req domain.CreatePaymentRequest, idempotencyKey string) (json.RawMessage, error) {
	if idempotencyKey != "" {
		cached, hit, err := s.idem.Check(ctx, idempotencyKey, merchantID)
		if err != nil {
			return nil, err
		}
		if hit {
			log.Printf("level=info component=service msg=\"idempotent replay served\" merchant_id=%s", merchantID)
			return cached, nil
		}
	}

	if strings.TrimSpace(req.Method) == "" {
		return nil, validationErr("Payment method is required")
	}

	order, err := s.repo.FindOrderForMerchant(ctx, req.OrderID, merchantID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return nil, validationErr("Invalid order ID")
		}
		return nil, fmt.Errorf("load order: %w", err)
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:         domain.NewPaymentID(),
		OrderID:    order.ID,
		MerchantID: merchantID,
		Amount:     order.Amount,
		Currency:   order.Currency,
		Method:     req.Method,
		Status:     domain.PaymentStatusPending,
		Captured:   false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	setOptional(&payment.VPA, req.VPA)
	setOptional(&payment.CardNumber, req.CardNumber)
	setOptional(&payment.CardExpiry, req.CardExpiry)
	setOptional(&payment.CardCVV, req.CardCVV)

	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, queue.KindSettlePayment, queue.SettlePaymentPayload{PaymentID: payment.ID}); err != nil {
		return nil, fmt.Errorf("enqueue settlement: %w", err)
	}
	log.Printf("level=info component=service msg=\"payment created\" payment_id=%s order_id=%s", payment.ID, order.ID)

	body, err := json.Marshal(domain.NewPaymentResponse(payment))
	if err != nil {
		return nil, fmt.Errorf("encode payment response: %w", err)
	}

	if idempotencyKey != "" {
		// The payment already exists and its job is enqueued; a cache write
		// failure must not turn the creation into an error.
		if err := s.idem.Store(ctx, idempotencyKey, merchantID, body); err != nil {
			log.Printf("level=warn component=service msg=\"idempotency store failed\" merchant_id=%s err=%v", merchantID, err)
		}
	}
	return body, nil
}

// GetPayment returns a merchant's payment.
func (s *Service) GetPayment(ctx context.Context, merchantID uuid.UUID, paymentID string) (*domain.Payment, error) {
	return s.repo.FindPaymentForMerchant(ctx, paymentID, merchantID)
}

// ListPayments returns all of a merchant's payments, newest first.
func (s *Service) ListPayments(ctx context.Context, merchantID uuid.UUID) ([]domain.Payment, error) {
	return s.repo.ListPaymentsByMerchant(ctx, merchantID)
}

// CapturePayment flips the captured flag on a settled payment.
func (s *Service) CapturePayment(ctx context.Context, merchantID uuid.UUID, paymentID string) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentForMerchant(ctx, paymentID, merchantID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkPaymentCaptured(ctx, payment.ID); err != nil {
		if errors.Is(err, store.ErrPaymentNotCapturable) {
			return nil, validationErr("Payment not in capturable state")
		}
		return nil, err
	}
	return s.repo.FindPaymentForMerchant(ctx, paymentID, merchantID)
}

// CreateRefund validates a refund request against the payment's available
// amount and enqueues its settlement job. The availability check here is
// best-effort; CreateRefundGuarded re-verifies under a row lock, which is
// the authoritative guard against concurrent over-refunding.
func (s *Service) CreateRefund(ctx context.Context, merchantID uuid.UUID, paymentID string, req domain.CreateRefundRequest) (*domain.Refund, error) {
	payment, err := s.repo.FindPaymentForMerchant(ctx, paymentID, merchantID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusSuccess {
		return nil, validationErr("Payment not in refundable state")
	}
	if req.Amount <= 0 {
		return nil, validationErr("Refund amount must be positive")
	}

	allocated, err := s.repo.SumRefundedAmount(ctx, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("sum refunds: %w", err)
	}
	if req.Amount > payment.Amount-allocated {
		return nil, validationErr("Refund amount exceeds available amount")
	}

	refund := &domain.Refund{
		ID:         domain.NewRefundID(),
		PaymentID:  payment.ID,
		MerchantID: merchantID,
		Amount:     req.Amount,
		Status:     domain.RefundStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if req.Reason != "" {
		reason := req.Reason
		refund.Reason = &reason
	}

	if err := s.repo.CreateRefundGuarded(ctx, refund); err != nil {
		switch {
		case errors.Is(err, store.ErrRefundExceedsAvailable):
			return nil, validationErr("Refund amount exceeds available amount")
		case errors.Is(err, store.ErrPaymentNotRefundable):
			return nil, validationErr("Payment not in refundable state")
		default:
			return nil, fmt.Errorf("create refund: %w", err)
		}
	}
	if _, err := s.queue.Enqueue(ctx, queue.KindSettleRefund, queue.SettleRefundPayload{RefundID: refund.ID}); err != nil {
		return nil, fmt.Errorf("enqueue refund settlement: %w", err)
	}
	log.Printf("level=info component=service msg=\"refund created\" refund_id=%s payment_id=%s", refund.ID, payment.ID)
	return refund, nil
}

// GetRefund returns a merchant's refund.
func (s *Service) GetRefund(ctx context.Context, merchantID uuid.UUID, refundID string) (*domain.Refund, error) {
	return s.repo.FindRefundForMerchant(ctx, refundID, merchantID)
}

// ListWebhookLogs returns one page of a merchant's webhook logs plus the
// total count.
func (s *Service) ListWebhookLogs(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]domain.WebhookLog, int64, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListWebhookLogsByMerchant(ctx, merchantID, limit, offset)
}

// RetryWebhook rewinds a webhook log and enqueues a fresh delivery.
func (s *Service) RetryWebhook(ctx context.Context, merchantID uuid.UUID, webhookLogID uuid.UUID) error {
	webhookLog, err := s.repo.FindWebhookLogForMerchant(ctx, webhookLogID, merchantID)
	if err != nil {
		return err
	}
	if err := s.repo.ResetWebhookLog(ctx, webhookLog.ID); err != nil {
		return fmt.Errorf("reset webhook log: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, queue.KindDeliverWebhook, queue.DeliverWebhookPayload{WebhookLogID: webhookLog.ID.String()}); err != nil {
		return fmt.Errorf("enqueue webhook delivery: %w", err)
	}
	return nil
}

// JobStats reports aggregate queue counts for the status endpoint.
func (s *Service) JobStats(ctx context.Context) (queue.Stats, error) {
	return s.queue.Stats(ctx)
}

func setOptional(dst **string, value string) {
	if value != "" {
		v := value
		*dst = &v
	}
}
