/**
 * @description
 * This file contains the webhook delivery worker. It consumes
 * deliver-webhook jobs, signs the stored payload snapshot with the
 * merchant's secret (HMAC-SHA256, hex-encoded), posts it to the merchant's
 * endpoint with a bounded timeout, records the outcome on the webhook log,
 * and schedules retries with backoff through the queue's delayed-job
 * primitive.
 *
 * Key behaviors:
 * - The signature is computed over the exact payload bytes sent as the
 *   request body, so receivers can verify it against the raw body.
 * - Retry scheduling never blocks the worker: the follow-up is a delayed
 *   re-enqueue, not an in-process timer, so pending retries survive process
 *   restarts.
 * - A missing log, missing merchant, or missing endpoint is non-retryable:
 *   the configuration cannot appear by waiting.
 */

package app

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/queue"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

// MaxDeliveryAttempts is the total attempt cap; the log is terminally failed
// after the fifth consecutive failure.
const MaxDeliveryAttempts = 5

// maxResponseBodyLen bounds the stored response body snippet.
const maxResponseBodyLen = 1000

// DeliveryTimeout bounds one outbound webhook POST.
const DeliveryTimeout = 5 * time.Second

// RetryIntervals is the production backoff table, indexed by attempt count
// (1-based): the wait scheduled after the n-th failed attempt is entry n.
var RetryIntervals = []time.Duration{
	0,
	60 * time.Second,
	300 * time.Second,
	1800 * time.Second,
	7200 * time.Second,
}

// TestRetryIntervals is the fast table substituted in test mode.
var TestRetryIntervals = []time.Duration{
	0,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	20 * time.Second,
}

// WebhookDeliveryWorker consumes deliver-webhook jobs.
type WebhookDeliveryWorker struct {
	repo           store.Repository
	queue          queue.Queue
	client         *http.Client
	retryIntervals []time.Duration
}

// NewWebhookDeliveryWorker creates a webhook delivery worker using the given
// backoff table (RetryIntervals or TestRetryIntervals). A non-positive
// timeout falls back to DeliveryTimeout.
func NewWebhookDeliveryWorker(repo store.Repository, q queue.Queue, retryIntervals []time.Duration, timeout time.Duration) *WebhookDeliveryWorker {
	if timeout <= 0 {
		timeout = DeliveryTimeout
	}
	return &WebhookDeliveryWorker{
		repo:           repo,
		queue:          q,
		client:         &http.Client{Timeout: timeout},
		retryIntervals: retryIntervals,
	}
}

// Sign returns the hex-encoded HMAC-SHA256 of payload under secret. This is
// the signature a receiver must recompute over the raw request body.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Handle processes one deliver-webhook job.
func (w *WebhookDeliveryWorker) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.DeliverWebhookPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}
	logID, err := uuid.Parse(payload.WebhookLogID)
	if err != nil {
		return fmt.Errorf("invalid webhook log id %q: %w", payload.WebhookLogID, err)
	}

	log.Printf("level=info component=webhook_worker msg=\"delivering webhook\" webhook_log_id=%s", logID)

	webhookLog, err := w.repo.FindWebhookLogByID(ctx, logID)
	if err != nil {
		if errors.Is(err, store.ErrWebhookLogNotFound) {
			log.Printf("level=error component=webhook_worker msg=\"webhook log not found; dropping job\" webhook_log_id=%s", logID)
			return nil
		}
		return fmt.Errorf("load webhook log %s: %w", logID, err)
	}

	merchant, err := w.repo.FindMerchantByID(ctx, webhookLog.MerchantID)
	if err != nil && !errors.Is(err, store.ErrMerchantNotFound) {
		return fmt.Errorf("load merchant %s: %w", webhookLog.MerchantID, err)
	}
	if merchant == nil || merchant.WebhookURL == nil || *merchant.WebhookURL == "" {
		log.Printf("level=error component=webhook_worker msg=\"merchant or webhook url missing; failing log\" webhook_log_id=%s", logID)
		if err := w.repo.MarkWebhookLogFailed(ctx, logID); err != nil {
			return fmt.Errorf("fail webhook log %s: %w", logID, err)
		}
		return nil
	}

	secret := ""
	if merchant.WebhookSecret != nil {
		secret = *merchant.WebhookSecret
	}
	signature := Sign(secret, webhookLog.Payload)

	// The attempt is counted before delivery so a crash mid-POST still
	// reflects that the endpoint may have been reached.
	attempts := webhookLog.Attempts + 1
	now := time.Now().UTC()
	params := store.WebhookAttemptParams{
		Attempts:      attempts,
		LastAttemptAt: now,
	}

	responseCode, responseBody, deliverErr := w.post(ctx, *merchant.WebhookURL, webhookLog.Payload, signature)
	params.ResponseCode = responseCode
	if responseBody != "" {
		truncated := truncate(responseBody, maxResponseBodyLen)
		params.ResponseBody = &truncated
	}

	delivered := deliverErr == nil && responseCode != nil && *responseCode >= 200 && *responseCode < 300
	if delivered {
		params.Status = domain.WebhookStatusSuccess
		if err := w.repo.RecordWebhookAttempt(ctx, logID, params); err != nil {
			return fmt.Errorf("record webhook attempt %s: %w", logID, err)
		}
		log.Printf("level=info component=webhook_worker msg=\"webhook delivered\" webhook_log_id=%s attempts=%d", logID, attempts)
		return nil
	}

	if deliverErr != nil {
		log.Printf("level=error component=webhook_worker msg=\"webhook delivery failed\" webhook_log_id=%s attempt=%d err=%v", logID, attempts, deliverErr)
	} else {
		log.Printf("level=error component=webhook_worker msg=\"webhook rejected\" webhook_log_id=%s attempt=%d code=%d", logID, attempts, *responseCode)
	}

	if attempts >= MaxDeliveryAttempts {
		params.Status = domain.WebhookStatusFailed
		if err := w.repo.RecordWebhookAttempt(ctx, logID, params); err != nil {
			return fmt.Errorf("record webhook attempt %s: %w", logID, err)
		}
		log.Printf("level=error component=webhook_worker msg=\"webhook permanently failed\" webhook_log_id=%s attempts=%d", logID, attempts)
		return nil
	}

	interval := w.retryInterval(attempts)
	nextRetryAt := now.Add(interval)
	params.Status = domain.WebhookStatusPending
	params.NextRetryAt = &nextRetryAt
	if err := w.repo.RecordWebhookAttempt(ctx, logID, params); err != nil {
		return fmt.Errorf("record webhook attempt %s: %w", logID, err)
	}

	_, err = w.queue.EnqueueDelayed(ctx, queue.KindDeliverWebhook, queue.DeliverWebhookPayload{WebhookLogID: logID.String()}, interval)
	if err != nil {
		return fmt.Errorf("schedule webhook retry %s: %w", logID, err)
	}
	log.Printf("level=info component=webhook_worker msg=\"webhook retry scheduled\" webhook_log_id=%s attempt=%d delay=%s", logID, attempts, interval)
	return nil
}

// retryInterval returns the wait scheduled after the n-th failed attempt.
func (w *WebhookDeliveryWorker) retryInterval(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(w.retryIntervals) {
		idx = len(w.retryIntervals) - 1
	}
	return w.retryIntervals[idx]
}

// post delivers the signed payload. On a transport failure the response code
// is nil and the error text becomes the recorded body.
func (w *WebhookDeliveryWorker) post(ctx context.Context, url string, payload []byte, signature string) (*int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err.Error(), err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err.Error(), err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyLen+1))
	code := resp.StatusCode
	return &code, string(body), nil
}

// truncate caps s at max bytes without splitting a multibyte rune, so the
// stored snippet stays valid UTF-8 for the text column.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
