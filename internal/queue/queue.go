/**
 * @description
 * This file defines the job queue abstraction used by the gateway: a closed
 * set of job kinds, the job envelope, the strongly-typed payloads carried by
 * each kind, and the Queue interface implemented by the Redis and in-memory
 * backends.
 *
 * Key properties:
 * - Every job gets exactly one delivery attempt at the infrastructure level.
 *   Retry policy is business logic: the webhook worker re-enqueues itself as
 *   a delayed job, settlement jobs never retry.
 * - Delayed jobs are a first-class queue primitive so retries survive process
 *   restarts instead of living in an in-process timer.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies one of the gateway's job queues. The set is closed; Valid
// rejects anything else at the enqueue boundary.
type Kind string

const (
	KindSettlePayment  Kind = "settle-payment"
	KindSettleRefund   Kind = "settle-refund"
	KindDeliverWebhook Kind = "deliver-webhook"
)

// Kinds returns all queue kinds, in a stable order.
func Kinds() []Kind {
	return []Kind{KindSettlePayment, KindSettleRefund, KindDeliverWebhook}
}

// Valid reports whether k is a known queue kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSettlePayment, KindSettleRefund, KindDeliverWebhook:
		return true
	}
	return false
}

// SettlePaymentPayload is the wire payload for settle-payment jobs.
type SettlePaymentPayload struct {
	PaymentID string `json:"paymentId"`
}

// SettleRefundPayload is the wire payload for settle-refund jobs.
type SettleRefundPayload struct {
	RefundID string `json:"refundId"`
}

// DeliverWebhookPayload is the wire payload for deliver-webhook jobs.
type DeliverWebhookPayload struct {
	WebhookLogID string `json:"webhookLogId"`
}

// Job is the envelope stored on a queue. Payload is kept opaque here; workers
// decode it into the kind's payload struct.
type Job struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Kind, err)
	}
	return nil
}

// NewJob builds a job envelope for the given kind and payload.
func NewJob(kind Kind, payload interface{}) (*Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown queue kind: %s", kind)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    body,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Handler processes one claimed job. A non-nil error marks the job failed;
// the queue never redelivers it.
type Handler func(ctx context.Context, job *Job) error

// Stats aggregates job counts across all queue kinds. Pending includes both
// immediately-runnable and delayed-but-not-due jobs.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Queue is the contract shared by the Redis and in-memory backends. Consume
// registers the single logical consumer for a kind and returns immediately;
// jobs are dispatched on a background goroutine until ctx is cancelled or the
// queue is closed.
type Queue interface {
	Enqueue(ctx context.Context, kind Kind, payload interface{}) (string, error)
	EnqueueDelayed(ctx context.Context, kind Kind, payload interface{}, delay time.Duration) (string, error)
	Consume(ctx context.Context, kind Kind, handler Handler) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// runHandler invokes h and converts panics into errors so a faulty job
// cannot take down the consumer loop.
func runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return h(ctx, job)
}
