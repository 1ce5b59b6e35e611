/**
 * @description
 * This file defines the domain models for merchant webhook notifications:
 * the merchant record that holds the delivery endpoint and signing secret,
 * the webhook log that tracks one notification attempt-series, and the
 * event envelope that forms the exact JSON body delivered to merchants.
 *
 * @notes
 * - WebhookLog.Payload is a `json.RawMessage` snapshot taken when the log is
 *   created. The delivery worker signs and sends these exact bytes, so the
 *   signature a merchant recomputes over the raw body always matches.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Webhook delivery states. A log is terminal at `success` or, after the
// retry cap is exhausted, at `failed`.
const (
	WebhookStatusPending = "pending"
	WebhookStatusSuccess = "success"
	WebhookStatusFailed  = "failed"
)

// Webhook event names emitted by the settlement workers.
const (
	EventPaymentSuccess  = "payment.success"
	EventPaymentFailed   = "payment.failed"
	EventRefundProcessed = "refund.processed"
)

// Merchant holds the API credentials and webhook configuration for one
// merchant account. WebhookURL and WebhookSecret are optional; merchants
// without a configured URL simply receive no notifications.
type Merchant struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	APIKey        string    `json:"-"`
	APISecret     string    `json:"-"`
	WebhookURL    *string   `json:"webhook_url,omitempty"`
	WebhookSecret *string   `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WebhookLog maps to the `webhook_logs` table and records the full delivery
// history of one notification.
type WebhookLog struct {
	ID            uuid.UUID       `json:"id"`
	MerchantID    uuid.UUID       `json:"merchant_id"`
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	ResponseCode  *int            `json:"response_code,omitempty"`
	ResponseBody  *string         `json:"response_body,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// WebhookEvent is the envelope delivered to merchant endpoints. Exactly one
// of Data.Payment / Data.Refund is set depending on the event.
type WebhookEvent struct {
	Event     string           `json:"event"`
	Timestamp int64            `json:"timestamp"`
	Data      WebhookEventData `json:"data"`
}

// WebhookEventData carries the entity snapshot for a webhook event.
type WebhookEventData struct {
	Payment *PaymentEventData `json:"payment,omitempty"`
	Refund  *RefundEventData  `json:"refund,omitempty"`
}

// PaymentEventData is the payment snapshot embedded in payment.* events.
type PaymentEventData struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
	VPA       string `json:"vpa,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// RefundEventData is the refund snapshot embedded in refund.processed events.
type RefundEventData struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

// NewPaymentEvent builds the webhook envelope for a settled payment.
func NewPaymentEvent(event string, p *Payment, now time.Time) WebhookEvent {
	data := PaymentEventData{
		ID:        p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    p.Method,
		Status:    p.Status,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.VPA != nil {
		data.VPA = *p.VPA
	}
	return WebhookEvent{
		Event:     event,
		Timestamp: now.Unix(),
		Data:      WebhookEventData{Payment: &data},
	}
}

// NewRefundEvent builds the webhook envelope for a processed refund.
func NewRefundEvent(r *Refund, now time.Time) WebhookEvent {
	data := RefundEventData{
		ID:        r.ID,
		PaymentID: r.PaymentID,
		Amount:    r.Amount,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.Reason != nil {
		data.Reason = *r.Reason
	}
	if r.ProcessedAt != nil {
		data.ProcessedAt = r.ProcessedAt.UTC().Format(time.RFC3339)
	}
	return WebhookEvent{
		Event:     EventRefundProcessed,
		Timestamp: now.Unix(),
		Data:      WebhookEventData{Refund: &data},
	}
}

// IdempotencyKey maps to the `idempotency_keys` table. The (Key, MerchantID)
// pair is unique; Response holds the original API response bytes verbatim.
type IdempotencyKey struct {
	Key        string          `json:"key"`
	MerchantID uuid.UUID       `json:"merchant_id"`
	Response   json.RawMessage `json:"response"`
	ExpiresAt  time.Time       `json:"expires_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Expired reports whether the cached response is past its TTL at the given
// instant.
func (k *IdempotencyKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.After(now)
}
