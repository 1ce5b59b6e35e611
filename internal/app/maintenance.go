/**
 * @description
 * Cron scheduler for the gateway's background maintenance jobs: purging
 * expired idempotency keys and re-enqueueing webhook deliveries whose delayed
 * retry job was lost (e.g. across a Redis flush or worker crash).
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/queue"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

const (
	idempotencyPurgeSchedule = "@hourly"
	webhookSweepSchedule     = "@every 1m"

	// A pending log is only considered stranded once its next_retry_at is
	// this far in the past, so in-flight delayed jobs are not duplicated.
	webhookSweepGrace = 2 * time.Minute

	webhookSweepBatch = 100
)

// Maintenance runs the gateway's periodic housekeeping jobs.
type Maintenance struct {
	cron  *cron.Cron
	repo  store.Repository
	queue queue.Queue
}

// NewMaintenance creates the maintenance scheduler.
func NewMaintenance(repo store.Repository, q queue.Queue) *Maintenance {
	cronLogger := cron.PrintfLogger(log.Default())
	return &Maintenance{
		cron:  cron.New(cron.WithChain(cron.Recover(cronLogger))),
		repo:  repo,
		queue: q,
	}
}

// Start registers the jobs and starts the scheduler.
func (m *Maintenance) Start() {
	if _, err := m.cron.AddFunc(idempotencyPurgeSchedule, m.purgeExpiredIdempotencyKeys); err != nil {
		log.Printf("level=error component=maintenance msg=\"failed to schedule idempotency purge\" err=%v", err)
	} else {
		log.Printf("level=info component=maintenance msg=\"scheduled idempotency purge\" schedule=%s", idempotencyPurgeSchedule)
	}

	if _, err := m.cron.AddFunc(webhookSweepSchedule, m.requeueOverdueWebhooks); err != nil {
		log.Printf("level=error component=maintenance msg=\"failed to schedule webhook sweep\" err=%v", err)
	} else {
		log.Printf("level=info component=maintenance msg=\"scheduled webhook sweep\" schedule=%s", webhookSweepSchedule)
	}

	m.cron.Start()
}

// Stop gracefully stops the scheduler, returning a context that is done once
// any running job completes.
func (m *Maintenance) Stop() context.Context {
	return m.cron.Stop()
}

func (m *Maintenance) purgeExpiredIdempotencyKeys() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := m.repo.DeleteExpiredIdempotencyKeys(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("level=error component=maintenance msg=\"idempotency purge failed\" err=%v", err)
		return
	}
	if deleted > 0 {
		log.Printf("level=info component=maintenance msg=\"purged expired idempotency keys\" count=%d", deleted)
	}
}

func (m *Maintenance) requeueOverdueWebhooks() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	overdueSince := time.Now().UTC().Add(-webhookSweepGrace)
	logs, err := m.repo.FindOverdueWebhookLogs(ctx, overdueSince, webhookSweepBatch)
	if err != nil {
		log.Printf("level=error component=maintenance msg=\"webhook sweep query failed\" err=%v", err)
		return
	}
	for _, webhookLog := range logs {
		_, err := m.queue.Enqueue(ctx, queue.KindDeliverWebhook, queue.DeliverWebhookPayload{WebhookLogID: webhookLog.ID.String()})
		if err != nil {
			log.Printf("level=error component=maintenance msg=\"failed to requeue webhook\" webhook_log_id=%s err=%v", webhookLog.ID, err)
			continue
		}
		log.Printf("level=warn component=maintenance msg=\"requeued stranded webhook delivery\" webhook_log_id=%s attempts=%d", webhookLog.ID, webhookLog.Attempts)
	}
}
