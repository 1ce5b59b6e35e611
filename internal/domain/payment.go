/**
 * @description
 * This file defines the core domain models for the payment gateway: orders,
 * payments, and refunds. These structs represent the entities persisted by the
 * store layer and the DTOs used by the API handlers and settlement workers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (paise),
 *   which avoids floating-point inaccuracies with financial data.
 * - Public identifiers follow the gateway convention of a type prefix plus a
 *   random token (e.g. "pay_kX3f..."), generated in id.go.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment lifecycle states. A payment is created `pending` and moved exactly
// once to `success` or `failed` by the settlement worker.
const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// Refund lifecycle states.
const (
	RefundStatusPending   = "pending"
	RefundStatusProcessed = "processed"
	RefundStatusFailed    = "failed"
)

// Supported payment methods. The method influences the simulated acquirer
// success rate.
const (
	MethodUPI  = "upi"
	MethodCard = "card"
)

// ErrorCodePaymentFailed is recorded on payments declined by the simulated
// acquirer.
const ErrorCodePaymentFailed = "PAYMENT_FAILED"

// Order represents a merchant's intent to collect a given amount. Payments
// are always created against a validated order and inherit its amount and
// currency.
type Order struct {
	ID         string    `json:"id"`
	MerchantID uuid.UUID `json:"merchant_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Receipt    *string   `json:"receipt,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Payment maps to the `payments` table. Card fields are only populated for
// card payments and are never echoed back through the API or webhooks.
type Payment struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"order_id"`
	MerchantID       uuid.UUID `json:"merchant_id"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Method           string    `json:"method"`
	VPA              *string   `json:"vpa,omitempty"`
	CardNumber       *string   `json:"-"`
	CardExpiry       *string   `json:"-"`
	CardCVV          *string   `json:"-"`
	Status           string    `json:"status"`
	ErrorCode        *string   `json:"error_code,omitempty"`
	ErrorDescription *string   `json:"error_description,omitempty"`
	Captured         bool      `json:"captured"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Refund maps to the `refunds` table. The invariant maintained by the store
// is that the sum of non-failed refund amounts never exceeds the payment
// amount.
type Refund struct {
	ID          string     `json:"id"`
	PaymentID   string     `json:"payment_id"`
	MerchantID  uuid.UUID  `json:"merchant_id"`
	Amount      int64      `json:"amount"`
	Reason      *string    `json:"reason,omitempty"`
	Status      string     `json:"status"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateOrderRequest is the DTO for incoming order creation API requests.
type CreateOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreatePaymentRequest is the DTO for incoming payment creation API requests.
// Method-specific fields are optional and validated per method.
type CreatePaymentRequest struct {
	OrderID    string `json:"order_id"`
	Method     string `json:"method"`
	VPA        string `json:"vpa"`
	CardNumber string `json:"card_number"`
	CardExpiry string `json:"card_expiry"`
	CardCVV    string `json:"card_cvv"`
}

// CreateRefundRequest is the DTO for incoming refund creation API requests.
type CreateRefundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// PaymentResponse is the public snapshot of a payment returned by the API.
// The creation-time form of this snapshot is also what the idempotency guard
// caches verbatim.
type PaymentResponse struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	VPA              string `json:"vpa,omitempty"`
	Status           string `json:"status"`
	Captured         *bool  `json:"captured,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RefundResponse is the public snapshot of a refund returned by the API.
type RefundResponse struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

// NewPaymentResponse builds the creation-time public snapshot of a payment.
func NewPaymentResponse(p *Payment) PaymentResponse {
	resp := PaymentResponse{
		ID:        p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    p.Method,
		Status:    p.Status,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.VPA != nil {
		resp.VPA = *p.VPA
	}
	return resp
}

// NewRefundResponse builds the public snapshot of a refund.
func NewRefundResponse(r *Refund) RefundResponse {
	resp := RefundResponse{
		ID:        r.ID,
		PaymentID: r.PaymentID,
		Amount:    r.Amount,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.Reason != nil {
		resp.Reason = *r.Reason
	}
	if r.ProcessedAt != nil {
		resp.ProcessedAt = r.ProcessedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
