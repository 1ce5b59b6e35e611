package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/queue"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

// scheduleWebhook snapshots the event envelope into a webhook log and
// enqueues its first delivery. The serialized bytes stored here are the
// exact bytes the delivery worker will sign and send.
func scheduleWebhook(ctx context.Context, repo store.Repository, q queue.Queue, merchantID uuid.UUID, event domain.WebhookEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	logEntry := &domain.WebhookLog{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Event:      event.Event,
		Payload:    payload,
		Status:     domain.WebhookStatusPending,
		Attempts:   0,
		CreatedAt:  time.Now().UTC(),
	}
	if err := repo.CreateWebhookLog(ctx, logEntry); err != nil {
		return fmt.Errorf("create webhook log: %w", err)
	}

	_, err = q.Enqueue(ctx, queue.KindDeliverWebhook, queue.DeliverWebhookPayload{WebhookLogID: logEntry.ID.String()})
	if err != nil {
		return fmt.Errorf("enqueue webhook delivery: %w", err)
	}
	return nil
}
