/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access needed by the gateway: merchant lookup, order/payment/refund CRUD,
 * webhook log bookkeeping, and the idempotency key table. Defining an
 * interface decouples the workers and API handlers from PostgreSQL and lets
 * tests substitute hand-rolled stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For merchant and webhook log identifiers.
 * - internal/domain: For the gateway's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
)

var (
	ErrMerchantNotFound       = errors.New("merchant not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrPaymentNotPending      = errors.New("payment is not pending")
	ErrPaymentNotCapturable   = errors.New("payment is not in capturable state")
	ErrPaymentNotRefundable   = errors.New("payment is not in refundable state")
	ErrRefundNotFound         = errors.New("refund not found")
	ErrRefundExceedsAvailable = errors.New("refund amount exceeds available amount")
	ErrWebhookLogNotFound     = errors.New("webhook log not found")
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	ErrIdempotencyKeyExists   = errors.New("idempotency key already exists")
)

// WebhookAttemptParams carries the mutable delivery state persisted after
// every webhook attempt.
type WebhookAttemptParams struct {
	Status        string
	Attempts      int
	LastAttemptAt time.Time
	NextRetryAt   *time.Time
	ResponseCode  *int
	ResponseBody  *string
}

// Repository defines the set of methods for interacting with the database.
// Workers never cache rows across job executions; every job reloads state by
// primary key through these methods before mutating.
type Repository interface {
	// Merchant methods
	FindMerchantByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	FindMerchantByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error)

	// Order methods
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindOrderForMerchant(ctx context.Context, orderID string, merchantID uuid.UUID) (*domain.Order, error)

	// Payment methods
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindPaymentByID(ctx context.Context, id string) (*domain.Payment, error)
	FindPaymentForMerchant(ctx context.Context, id string, merchantID uuid.UUID) (*domain.Payment, error)
	ListPaymentsByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.Payment, error)
	// Settlement transitions succeed only while the payment is still
	// `pending`; a second transition returns ErrPaymentNotPending.
	MarkPaymentSucceeded(ctx context.Context, id string) error
	MarkPaymentFailed(ctx context.Context, id string, errorCode, errorDescription string) error
	MarkPaymentCaptured(ctx context.Context, id string) error

	// Refund methods
	// CreateRefundGuarded inserts the refund inside a single transaction that
	// locks the payment row, re-verifies refundability, and re-computes the
	// allocated amount. This is the authoritative backstop against concurrent
	// over-refunding; the service-level check is best-effort only.
	CreateRefundGuarded(ctx context.Context, refund *domain.Refund) error
	FindRefundByID(ctx context.Context, id string) (*domain.Refund, error)
	FindRefundForMerchant(ctx context.Context, id string, merchantID uuid.UUID) (*domain.Refund, error)
	SumRefundedAmount(ctx context.Context, paymentID string) (int64, error)
	MarkRefundProcessed(ctx context.Context, id string, processedAt time.Time) error
	MarkRefundFailed(ctx context.Context, id string) error

	// Webhook log methods
	CreateWebhookLog(ctx context.Context, logEntry *domain.WebhookLog) error
	FindWebhookLogByID(ctx context.Context, id uuid.UUID) (*domain.WebhookLog, error)
	FindWebhookLogForMerchant(ctx context.Context, id uuid.UUID, merchantID uuid.UUID) (*domain.WebhookLog, error)
	RecordWebhookAttempt(ctx context.Context, id uuid.UUID, params WebhookAttemptParams) error
	MarkWebhookLogFailed(ctx context.Context, id uuid.UUID) error
	ResetWebhookLog(ctx context.Context, id uuid.UUID) error
	ListWebhookLogsByMerchant(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]domain.WebhookLog, int64, error)
	// FindOverdueWebhookLogs returns pending logs whose next_retry_at passed
	// before the given instant, i.e. whose delayed job was likely lost.
	FindOverdueWebhookLogs(ctx context.Context, overdueSince time.Time, limit int) ([]domain.WebhookLog, error)

	// Idempotency key methods
	FindIdempotencyKey(ctx context.Context, key string, merchantID uuid.UUID) (*domain.IdempotencyKey, error)
	// InsertIdempotencyKey returns ErrIdempotencyKeyExists when a racing
	// request stored the same (key, merchant) pair first.
	InsertIdempotencyKey(ctx context.Context, record *domain.IdempotencyKey) error
	DeleteIdempotencyKey(ctx context.Context, key string, merchantID uuid.UUID) error
	DeleteExpiredIdempotencyKeys(ctx context.Context, now time.Time) (int64, error)
}
