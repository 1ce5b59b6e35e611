/**
 * @description
 * This file contains the payment settlement worker. It consumes
 * settle-payment jobs, simulates the acquirer round-trip (latency plus an
 * approve/decline decision), applies the single allowed status transition to
 * the payment, and schedules the merchant webhook for the outcome.
 *
 * @notes
 * - A missing payment is logged and dropped without error: the row can never
 *   appear later, so retrying is pointless.
 * - A merchant without a configured webhook URL silently gets no
 *   notification; that is configuration, not a failure.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/queue"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

const paymentFailedDescription = "Payment processing failed"

// PaymentSettlementWorker consumes settle-payment jobs.
type PaymentSettlementWorker struct {
	repo     store.Repository
	queue    queue.Queue
	outcome  OutcomeProvider
	delayMin time.Duration
	delayMax time.Duration
}

// NewPaymentSettlementWorker creates a payment settlement worker. The delay
// bounds model the acquirer round-trip; test mode passes equal bounds for a
// fixed delay.
func NewPaymentSettlementWorker(repo store.Repository, q queue.Queue, outcome OutcomeProvider, delayMin, delayMax time.Duration) *PaymentSettlementWorker {
	return &PaymentSettlementWorker{
		repo:     repo,
		queue:    q,
		outcome:  outcome,
		delayMin: delayMin,
		delayMax: delayMax,
	}
}

// Handle processes one settle-payment job.
func (w *PaymentSettlementWorker) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.SettlePaymentPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	log.Printf("level=info component=payment_worker msg=\"processing payment\" payment_id=%s", payload.PaymentID)

	payment, err := w.repo.FindPaymentByID(ctx, payload.PaymentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("level=error component=payment_worker msg=\"payment not found; dropping job\" payment_id=%s", payload.PaymentID)
			return nil
		}
		return fmt.Errorf("load payment %s: %w", payload.PaymentID, err)
	}

	if err := sleepFor(ctx, settlementDelay(w.delayMin, w.delayMax)); err != nil {
		return err
	}

	success := w.outcome.Decide(payment.Method)
	if success {
		err = w.repo.MarkPaymentSucceeded(ctx, payment.ID)
	} else {
		err = w.repo.MarkPaymentFailed(ctx, payment.ID, domain.ErrorCodePaymentFailed, paymentFailedDescription)
	}
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotPending) {
			log.Printf("level=warn component=payment_worker msg=\"payment already settled; dropping job\" payment_id=%s", payment.ID)
			return nil
		}
		return fmt.Errorf("settle payment %s: %w", payment.ID, err)
	}

	event := domain.EventPaymentFailed
	if success {
		payment.Status = domain.PaymentStatusSuccess
		event = domain.EventPaymentSuccess
	} else {
		payment.Status = domain.PaymentStatusFailed
		errorCode := domain.ErrorCodePaymentFailed
		description := paymentFailedDescription
		payment.ErrorCode = &errorCode
		payment.ErrorDescription = &description
	}
	log.Printf("level=info component=payment_worker msg=\"payment settled\" payment_id=%s status=%s", payment.ID, payment.Status)

	merchant, err := w.repo.FindMerchantByID(ctx, payment.MerchantID)
	if err != nil {
		if errors.Is(err, store.ErrMerchantNotFound) {
			log.Printf("level=error component=payment_worker msg=\"merchant not found; skipping webhook\" merchant_id=%s", payment.MerchantID)
			return nil
		}
		return fmt.Errorf("load merchant %s: %w", payment.MerchantID, err)
	}
	if merchant.WebhookURL == nil || *merchant.WebhookURL == "" {
		return nil
	}

	envelope := domain.NewPaymentEvent(event, payment, time.Now())
	if err := scheduleWebhook(ctx, w.repo, w.queue, merchant.ID, envelope); err != nil {
		return fmt.Errorf("schedule webhook for payment %s: %w", payment.ID, err)
	}
	return nil
}

// settlementDelay draws a delay in [min, max].
func settlementDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// sleepFor blocks for the simulated processing delay, aborting early if the
// job context is cancelled.
func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
