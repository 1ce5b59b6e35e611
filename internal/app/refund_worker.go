/**
 * @description
 * This file contains the refund settlement worker. It consumes settle-refund
 * jobs, re-validates refundability against the referenced payment, simulates
 * processing latency, marks the refund processed, and schedules the
 * refund.processed webhook.
 *
 * @notes
 * - The refundability re-check here is a safety net behind the creation-time
 *   validation: if the payment is missing or not settled, the refund fails
 *   immediately with no delay and no webhook.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/queue"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

// RefundSettlementWorker consumes settle-refund jobs.
type RefundSettlementWorker struct {
	repo     store.Repository
	queue    queue.Queue
	delayMin time.Duration
	delayMax time.Duration
}

// NewRefundSettlementWorker creates a refund settlement worker.
func NewRefundSettlementWorker(repo store.Repository, q queue.Queue, delayMin, delayMax time.Duration) *RefundSettlementWorker {
	return &RefundSettlementWorker{
		repo:     repo,
		queue:    q,
		delayMin: delayMin,
		delayMax: delayMax,
	}
}

// Handle processes one settle-refund job.
func (w *RefundSettlementWorker) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.SettleRefundPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	log.Printf("level=info component=refund_worker msg=\"processing refund\" refund_id=%s", payload.RefundID)

	refund, err := w.repo.FindRefundByID(ctx, payload.RefundID)
	if err != nil {
		if errors.Is(err, store.ErrRefundNotFound) {
			log.Printf("level=error component=refund_worker msg=\"refund not found; dropping job\" refund_id=%s", payload.RefundID)
			return nil
		}
		return fmt.Errorf("load refund %s: %w", payload.RefundID, err)
	}
	if refund.Status != domain.RefundStatusPending {
		log.Printf("level=warn component=refund_worker msg=\"refund already settled; dropping job\" refund_id=%s", refund.ID)
		return nil
	}

	payment, err := w.repo.FindPaymentByID(ctx, refund.PaymentID)
	if err != nil && !errors.Is(err, store.ErrPaymentNotFound) {
		return fmt.Errorf("load payment %s: %w", refund.PaymentID, err)
	}
	if payment == nil || payment.Status != domain.PaymentStatusSuccess {
		log.Printf("level=error component=refund_worker msg=\"payment missing or not refundable; failing refund\" refund_id=%s payment_id=%s", refund.ID, refund.PaymentID)
		if err := w.repo.MarkRefundFailed(ctx, refund.ID); err != nil {
			return fmt.Errorf("fail refund %s: %w", refund.ID, err)
		}
		return nil
	}

	if err := sleepFor(ctx, settlementDelay(w.delayMin, w.delayMax)); err != nil {
		return err
	}

	processedAt := time.Now().UTC()
	if err := w.repo.MarkRefundProcessed(ctx, refund.ID, processedAt); err != nil {
		return fmt.Errorf("process refund %s: %w", refund.ID, err)
	}
	refund.Status = domain.RefundStatusProcessed
	refund.ProcessedAt = &processedAt
	log.Printf("level=info component=refund_worker msg=\"refund processed\" refund_id=%s", refund.ID)

	envelope := domain.NewRefundEvent(refund, time.Now())
	if err := scheduleWebhook(ctx, w.repo, w.queue, refund.MerchantID, envelope); err != nil {
		return fmt.Errorf("schedule webhook for refund %s: %w", refund.ID, err)
	}
	return nil
}
