package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/queue"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

// stubRepository is an in-memory store.Repository used by the app tests. It
// mirrors the transition guards of the Postgres implementation so workers see
// the same sentinel errors.
type stubRepository struct {
	mu sync.Mutex

	merchants   map[uuid.UUID]*domain.Merchant
	orders      map[string]*domain.Order
	payments    map[string]*domain.Payment
	refunds     map[string]*domain.Refund
	webhookLogs map[uuid.UUID]*domain.WebhookLog
	idemKeys    map[string]*domain.IdempotencyKey
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		merchants:   make(map[uuid.UUID]*domain.Merchant),
		orders:      make(map[string]*domain.Order),
		payments:    make(map[string]*domain.Payment),
		refunds:     make(map[string]*domain.Refund),
		webhookLogs: make(map[uuid.UUID]*domain.WebhookLog),
		idemKeys:    make(map[string]*domain.IdempotencyKey),
	}
}

func idemMapKey(key string, merchantID uuid.UUID) string {
	return key + "|" + merchantID.String()
}

func (s *stubRepository) addMerchant(m *domain.Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.merchants[m.ID] = &cp
}

func (s *stubRepository) addPayment(p *domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[p.ID] = &cp
}

func (s *stubRepository) addRefund(r *domain.Refund) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.refunds[r.ID] = &cp
}

func (s *stubRepository) paymentByID(id string) *domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (s *stubRepository) refundByID(id string) *domain.Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.refunds[id]; ok {
		cp := *r
		return &cp
	}
	return nil
}

func (s *stubRepository) webhookLogCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.webhookLogs)
}

func (s *stubRepository) firstWebhookLog() *domain.WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.webhookLogs {
		cp := *l
		return &cp
	}
	return nil
}

func (s *stubRepository) FindMerchantByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, store.ErrMerchantNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *stubRepository) FindMerchantByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.merchants {
		if m.APIKey == apiKey {
			cp := *m
			return &cp, nil
		}
	}
	return nil, store.ErrMerchantNotFound
}

func (s *stubRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *stubRepository) FindOrderForMerchant(ctx context.Context, orderID string, merchantID uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.MerchantID != merchantID {
		return nil, store.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *stubRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *payment
	s.payments[payment.ID] = &cp
	return nil
}

func (s *stubRepository) FindPaymentByID(ctx context.Context, id string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubRepository) FindPaymentForMerchant(ctx context.Context, id string, merchantID uuid.UUID) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.MerchantID != merchantID {
		return nil, store.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubRepository) ListPaymentsByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Payment
	for _, p := range s.payments {
		if p.MerchantID == merchantID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *stubRepository) MarkPaymentSucceeded(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != domain.PaymentStatusPending {
		return store.ErrPaymentNotPending
	}
	p.Status = domain.PaymentStatusSuccess
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *stubRepository) MarkPaymentFailed(ctx context.Context, id string, errorCode, errorDescription string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != domain.PaymentStatusPending {
		return store.ErrPaymentNotPending
	}
	p.Status = domain.PaymentStatusFailed
	p.ErrorCode = &errorCode
	p.ErrorDescription = &errorDescription
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *stubRepository) MarkPaymentCaptured(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != domain.PaymentStatusSuccess {
		return store.ErrPaymentNotCapturable
	}
	p.Captured = true
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *stubRepository) CreateRefundGuarded(ctx context.Context, refund *domain.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[refund.PaymentID]
	if !ok || p.Status != domain.PaymentStatusSuccess {
		return store.ErrPaymentNotRefundable
	}
	var allocated int64
	for _, r := range s.refunds {
		if r.PaymentID == refund.PaymentID && r.Status != domain.RefundStatusFailed {
			allocated += r.Amount
		}
	}
	if allocated+refund.Amount > p.Amount {
		return store.ErrRefundExceedsAvailable
	}
	cp := *refund
	s.refunds[refund.ID] = &cp
	return nil
}

func (s *stubRepository) FindRefundByID(ctx context.Context, id string) (*domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return nil, store.ErrRefundNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *stubRepository) FindRefundForMerchant(ctx context.Context, id string, merchantID uuid.UUID) (*domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok || r.MerchantID != merchantID {
		return nil, store.ErrRefundNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *stubRepository) SumRefundedAmount(ctx context.Context, paymentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, r := range s.refunds {
		if r.PaymentID == paymentID && r.Status != domain.RefundStatusFailed {
			total += r.Amount
		}
	}
	return total, nil
}

func (s *stubRepository) MarkRefundProcessed(ctx context.Context, id string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok || r.Status != domain.RefundStatusPending {
		return store.ErrRefundNotFound
	}
	r.Status = domain.RefundStatusProcessed
	r.ProcessedAt = &processedAt
	return nil
}

func (s *stubRepository) MarkRefundFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok || r.Status != domain.RefundStatusPending {
		return store.ErrRefundNotFound
	}
	r.Status = domain.RefundStatusFailed
	return nil
}

func (s *stubRepository) CreateWebhookLog(ctx context.Context, logEntry *domain.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *logEntry
	s.webhookLogs[logEntry.ID] = &cp
	return nil
}

func (s *stubRepository) FindWebhookLogByID(ctx context.Context, id uuid.UUID) (*domain.WebhookLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.webhookLogs[id]
	if !ok {
		return nil, store.ErrWebhookLogNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *stubRepository) FindWebhookLogForMerchant(ctx context.Context, id uuid.UUID, merchantID uuid.UUID) (*domain.WebhookLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.webhookLogs[id]
	if !ok || l.MerchantID != merchantID {
		return nil, store.ErrWebhookLogNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *stubRepository) RecordWebhookAttempt(ctx context.Context, id uuid.UUID, params store.WebhookAttemptParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.webhookLogs[id]
	if !ok {
		return store.ErrWebhookLogNotFound
	}
	l.Status = params.Status
	l.Attempts = params.Attempts
	lastAttempt := params.LastAttemptAt
	l.LastAttemptAt = &lastAttempt
	l.NextRetryAt = params.NextRetryAt
	l.ResponseCode = params.ResponseCode
	l.ResponseBody = params.ResponseBody
	return nil
}

func (s *stubRepository) MarkWebhookLogFailed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.webhookLogs[id]
	if !ok {
		return store.ErrWebhookLogNotFound
	}
	l.Status = domain.WebhookStatusFailed
	l.NextRetryAt = nil
	return nil
}

func (s *stubRepository) ResetWebhookLog(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.webhookLogs[id]
	if !ok {
		return store.ErrWebhookLogNotFound
	}
	l.Status = domain.WebhookStatusPending
	l.Attempts = 0
	l.NextRetryAt = nil
	l.LastAttemptAt = nil
	l.ResponseCode = nil
	l.ResponseBody = nil
	return nil
}

func (s *stubRepository) ListWebhookLogsByMerchant(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]domain.WebhookLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.WebhookLog
	for _, l := range s.webhookLogs {
		if l.MerchantID == merchantID {
			all = append(all, *l)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *stubRepository) FindOverdueWebhookLogs(ctx context.Context, overdueSince time.Time, limit int) ([]domain.WebhookLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WebhookLog
	for _, l := range s.webhookLogs {
		if l.Status == domain.WebhookStatusPending && l.NextRetryAt != nil && l.NextRetryAt.Before(overdueSince) {
			out = append(out, *l)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *stubRepository) FindIdempotencyKey(ctx context.Context, key string, merchantID uuid.UUID) (*domain.IdempotencyKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.idemKeys[idemMapKey(key, merchantID)]
	if !ok {
		return nil, store.ErrIdempotencyKeyNotFound
	}
	cp := *record
	return &cp, nil
}

func (s *stubRepository) InsertIdempotencyKey(ctx context.Context, record *domain.IdempotencyKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemMapKey(record.Key, record.MerchantID)
	if _, ok := s.idemKeys[k]; ok {
		return store.ErrIdempotencyKeyExists
	}
	cp := *record
	s.idemKeys[k] = &cp
	return nil
}

func (s *stubRepository) DeleteIdempotencyKey(ctx context.Context, key string, merchantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idemKeys, idemMapKey(key, merchantID))
	return nil
}

func (s *stubRepository) DeleteExpiredIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for k, record := range s.idemKeys {
		if record.Expired(now) {
			delete(s.idemKeys, k)
			deleted++
		}
	}
	return deleted, nil
}

type capturedJob struct {
	kind    queue.Kind
	payload interface{}
	delay   time.Duration
}

// captureQueue records enqueues without dispatching anything, so tests can
// assert on exactly what a worker scheduled.
type captureQueue struct {
	mu   sync.Mutex
	jobs []capturedJob
}

func (q *captureQueue) Enqueue(ctx context.Context, kind queue.Kind, payload interface{}) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, capturedJob{kind: kind, payload: payload})
	return uuid.NewString(), nil
}

func (q *captureQueue) EnqueueDelayed(ctx context.Context, kind queue.Kind, payload interface{}, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, capturedJob{kind: kind, payload: payload, delay: delay})
	return uuid.NewString(), nil
}

func (q *captureQueue) Consume(ctx context.Context, kind queue.Kind, handler queue.Handler) error {
	return nil
}

func (q *captureQueue) Stats(ctx context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Stats{Pending: int64(len(q.jobs))}, nil
}

func (q *captureQueue) Close() error { return nil }

func (q *captureQueue) captured() []capturedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]capturedJob, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// storeAttempt builds the attempt params for a still-pending log whose next
// retry was scheduled at the given instant.
func storeAttempt(attempts int, nextRetryAt time.Time) store.WebhookAttemptParams {
	return store.WebhookAttemptParams{
		Status:        domain.WebhookStatusPending,
		Attempts:      attempts,
		LastAttemptAt: nextRetryAt.Add(-time.Minute),
		NextRetryAt:   &nextRetryAt,
	}
}

// makeJob builds a queue job envelope for direct worker invocation.
func makeJob(kind queue.Kind, payload interface{}) *queue.Job {
	job, err := queue.NewJob(kind, payload)
	if err != nil {
		panic(err)
	}
	return job
}
