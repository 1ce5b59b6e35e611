package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/queue"
)

func seedWebhookLog(repo *stubRepository, merchant *domain.Merchant, attempts int) *domain.WebhookLog {
	event := domain.NewPaymentEvent(domain.EventPaymentSuccess, &domain.Payment{
		ID:        domain.NewPaymentID(),
		OrderID:   domain.NewOrderID(),
		Amount:    10000,
		Currency:  "INR",
		Method:    domain.MethodUPI,
		Status:    domain.PaymentStatusSuccess,
		CreatedAt: time.Now().UTC(),
	}, time.Now())
	payload, _ := json.Marshal(event)

	webhookLog := &domain.WebhookLog{
		ID:         uuid.New(),
		MerchantID: merchant.ID,
		Event:      event.Event,
		Payload:    payload,
		Status:     domain.WebhookStatusPending,
		Attempts:   attempts,
		CreatedAt:  time.Now().UTC(),
	}
	repo.CreateWebhookLog(context.Background(), webhookLog)
	return webhookLog
}

func deliverJob(webhookLogID uuid.UUID) *queue.Job {
	return makeJob(queue.KindDeliverWebhook, queue.DeliverWebhookPayload{WebhookLogID: webhookLogID.String()})
}

func TestWebhookWorker_SuccessfulDelivery(t *testing.T) {
	var gotSignature string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"received":true}`))
	}))
	defer server.Close()

	repo := newStubRepository()
	q := &captureQueue{}
	merchant := testMerchant(server.URL)
	repo.addMerchant(merchant)
	webhookLog := seedWebhookLog(repo, merchant, 0)

	worker := NewWebhookDeliveryWorker(repo, q, TestRetryIntervals, 0)
	if err := worker.Handle(context.Background(), deliverJob(webhookLog.ID)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if want := Sign(*merchant.WebhookSecret, webhookLog.Payload); gotSignature != want {
		t.Fatalf("signature mismatch: got %q want %q", gotSignature, want)
	}
	if string(gotBody) != string(webhookLog.Payload) {
		t.Fatal("delivered body differs from stored payload snapshot")
	}

	stored, _ := repo.FindWebhookLogByID(context.Background(), webhookLog.ID)
	if stored.Status != domain.WebhookStatusSuccess {
		t.Fatalf("expected log status success, got %q", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", stored.Attempts)
	}
	if stored.ResponseCode == nil || *stored.ResponseCode != http.StatusOK {
		t.Fatalf("expected recorded response code 200, got %v", stored.ResponseCode)
	}
	if stored.NextRetryAt != nil {
		t.Fatal("expected no retry scheduled after success")
	}
	if len(q.captured()) != 0 {
		t.Fatal("expected no retry job after success")
	}
}

func TestWebhookWorker_FailureSchedulesRetryWithBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream broken"))
	}))
	defer server.Close()

	repo := newStubRepository()
	q := &captureQueue{}
	merchant := testMerchant(server.URL)
	repo.addMerchant(merchant)

	// Second attempt overall: one prior failure on the log.
	webhookLog := seedWebhookLog(repo, merchant, 1)

	worker := NewWebhookDeliveryWorker(repo, q, TestRetryIntervals, 0)
	if err := worker.Handle(context.Background(), deliverJob(webhookLog.ID)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	stored, _ := repo.FindWebhookLogByID(context.Background(), webhookLog.ID)
	if stored.Status != domain.WebhookStatusPending {
		t.Fatalf("expected log to stay pending, got %q", stored.Status)
	}
	if stored.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", stored.Attempts)
	}
	if stored.NextRetryAt == nil {
		t.Fatal("expected next_retry_at to be set")
	}
	if stored.ResponseCode == nil || *stored.ResponseCode != http.StatusInternalServerError {
		t.Fatalf("expected recorded response code 500, got %v", stored.ResponseCode)
	}

	jobs := q.captured()
	if len(jobs) != 1 || jobs[0].kind != queue.KindDeliverWebhook {
		t.Fatalf("expected one delayed deliver-webhook job, got %+v", jobs)
	}
	// After the 2nd failed attempt the test table schedules a 5s wait.
	if jobs[0].delay != TestRetryIntervals[1] {
		t.Fatalf("expected %s retry delay, got %s", TestRetryIntervals[1], jobs[0].delay)
	}
}

func TestWebhookWorker_FirstFailureRetriesImmediately(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	repo := newStubRepository()
	q := &captureQueue{}
	merchant := testMerchant(server.URL)
	repo.addMerchant(merchant)
	webhookLog := seedWebhookLog(repo, merchant, 0)

	worker := NewWebhookDeliveryWorker(repo, q, RetryIntervals, 0)
	if err := worker.Handle(context.Background(), deliverJob(webhookLog.ID)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	jobs := q.captured()
	if len(jobs) != 1 {
		t.Fatalf("expected one retry job, got %d", len(jobs))
	}
	if jobs[0].delay != 0 {
		t.Fatalf("expected immediate retry after first failure, got %s", jobs[0].delay)
	}
}

func TestWebhookWorker_ExhaustedAttemptsMarkLogFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	repo := newStubRepository()
	q := &captureQueue{}
	merchant := testMerchant(server.URL)
	repo.addMerchant(merchant)

	// Four prior failures: this delivery is the fifth and final attempt.
	webhookLog := seedWebhookLog(repo, merchant, MaxDeliveryAttempts-1)

	worker := NewWebhookDeliveryWorker(repo, q, TestRetryIntervals, 0)
	if err := worker.Handle(context.Background(), deliverJob(webhookLog.ID)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	stored, _ := repo.FindWebhookLogByID(context.Background(), webhookLog.ID)
	if stored.Status != domain.WebhookStatusFailed {
		t.Fatalf("expected log status failed, got %q", stored.Status)
	}
	if stored.Attempts != MaxDeliveryAttempts {
		t.Fatalf("expected %d attempts, got %d", MaxDeliveryAttempts, stored.Attempts)
	}
	if len(q.captured()) != 0 {
		t.Fatal("expected no retry job after the final attempt")
	}
}

func TestWebhookWorker_ResponseBodyTruncated(t *testing.T) {
	longBody := strings.Repeat("x", 5000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(longBody))
	}))
	defer server.Close()

	repo := newStubRepository()
	q := &captureQueue{}
	merchant := testMerchant(server.URL)
	repo.addMerchant(merchant)
	webhookLog := seedWebhookLog(repo, merchant, 0)

	worker := NewWebhookDeliveryWorker(repo, q, TestRetryIntervals, 0)
	if err := worker.Handle(context.Background(), deliverJob(webhookLog.ID)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	stored, _ := repo.FindWebhookLogByID(context.Background(), webhookLog.ID)
	if stored.ResponseBody == nil {
		t.Fatal("expected response body to be recorded")
	}
	if len(*stored.ResponseBody) > maxResponseBodyLen {
		t.Fatalf("expected response body capped at %d chars, got %d", maxResponseBodyLen, len(*stored.ResponseBody))
	}
}

func TestWebhookWorker_TruncatedBodyStaysValidUTF8(t *testing.T) {
	// 999 ASCII bytes followed by two euro signs: the 1000-byte cut falls
	// inside the first multibyte rune.
	body := strings.Repeat("x", maxResponseBodyLen-1) + "€€"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(body))
	}))
	defer server.Close()

	repo := newStubRepository()
	q := &captureQueue{}
	merchant := testMerchant(server.URL)
	repo.addMerchant(merchant)
	webhookLog := seedWebhookLog(repo, merchant, 0)

	worker := NewWebhookDeliveryWorker(repo, q, TestRetryIntervals, 0)
	if err := worker.Handle(context.Background(), deliverJob(webhookLog.ID)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	stored, _ := repo.FindWebhookLogByID(context.Background(), webhookLog.ID)
	if stored.ResponseBody == nil {
		t.Fatal("expected response body to be recorded")
	}
	if !utf8.ValidString(*stored.ResponseBody) {
		t.Fatalf("stored response body is not valid UTF-8 (len=%d, tail=%q)",
			len(*stored.ResponseBody), (*stored.ResponseBody)[len(*stored.ResponseBody)-5:])
	}
	if len(*stored.ResponseBody) > maxResponseBodyLen {
		t.Fatalf("expected response body capped at %d bytes, got %d", maxResponseBodyLen, len(*stored.ResponseBody))
	}
	if len(q.captured()) != 1 {
		t.Fatal("expected a retry to be scheduled after the failed attempt")
	}
}

func TestWebhookWorker_TransportFailureRecordsErrorAndRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	repo := newStubRepository()
	q := &captureQueue{}
	merchant := testMerchant(url)
	repo.addMerchant(merchant)
	webhookLog := seedWebhookLog(repo, merchant, 0)

	worker := NewWebhookDeliveryWorker(repo, q, TestRetryIntervals, 0)
	if err := worker.Handle(context.Background(), deliverJob(webhookLog.ID)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	stored, _ := repo.FindWebhookLogByID(context.Background(), webhookLog.ID)
	if stored.Status != domain.WebhookStatusPending {
		t.Fatalf("expected log to stay pending, got %q", stored.Status)
	}
	if stored.ResponseCode != nil {
		t.Fatalf("expected no response code on transport failure, got %d", *stored.ResponseCode)
	}
	if stored.ResponseBody == nil || *stored.ResponseBody == "" {
		t.Fatal("expected the transport error text to be recorded as the body")
	}
	if len(*stored.ResponseBody) > maxResponseBodyLen {
		t.Fatalf("expected error text capped at %d bytes, got %d", maxResponseBodyLen, len(*stored.ResponseBody))
	}

	jobs := q.captured()
	if len(jobs) != 1 || jobs[0].kind != queue.KindDeliverWebhook {
		t.Fatalf("expected one retry job, got %+v", jobs)
	}
	if jobs[0].delay != TestRetryIntervals[0] {
		t.Fatalf("expected %s retry delay, got %s", TestRetryIntervals[0], jobs[0].delay)
	}
}

func TestWebhookWorker_MissingMerchantURLFailsLog(t *testing.T) {
	repo := newStubRepository()
	q := &captureQueue{}
	merchant := testMerchant("")
	repo.addMerchant(merchant)
	webhookLog := seedWebhookLog(repo, merchant, 0)

	worker := NewWebhookDeliveryWorker(repo, q, TestRetryIntervals, 0)
	if err := worker.Handle(context.Background(), deliverJob(webhookLog.ID)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	stored, _ := repo.FindWebhookLogByID(context.Background(), webhookLog.ID)
	if stored.Status != domain.WebhookStatusFailed {
		t.Fatalf("expected log failed without a webhook URL, got %q", stored.Status)
	}
	if len(q.captured()) != 0 {
		t.Fatal("expected no retry without a webhook URL")
	}
}

func TestWebhookWorker_MissingLogDropsJob(t *testing.T) {
	repo := newStubRepository()
	q := &captureQueue{}
	worker := NewWebhookDeliveryWorker(repo, q, TestRetryIntervals, 0)

	if err := worker.Handle(context.Background(), deliverJob(uuid.New())); err != nil {
		t.Fatalf("expected missing log to be dropped without error, got %v", err)
	}
}

func TestSign_MatchesKnownVector(t *testing.T) {
	// Precomputed HMAC-SHA256("secret", `{"a":1}`).
	payload := []byte(`{"a":1}`)
	got := Sign("secret", payload)
	const want = "aa9e2e3575f5d7098b6caccd790888c36d5fdb63342a73bada2d6a51747a8494"
	if got != want {
		t.Fatalf("signature mismatch: got %s want %s", got, want)
	}
	if got2 := Sign("other", payload); got2 == got {
		t.Fatal("different secrets must yield different signatures")
	}
}
