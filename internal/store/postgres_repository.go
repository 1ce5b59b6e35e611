/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed for merchants, orders, payments,
 * refunds, webhook logs, and idempotency keys, including the transactional
 * refund-allocation guard that backstops concurrent refund creation.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface
// for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const merchantColumns = `id, name, email, api_key, api_secret, webhook_url, webhook_secret, created_at, updated_at`

func scanMerchant(row pgx.Row) (*domain.Merchant, error) {
	var m domain.Merchant
	err := row.Scan(&m.ID, &m.Name, &m.Email, &m.APIKey, &m.APISecret, &m.WebhookURL, &m.WebhookSecret, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}
	return &m, nil
}

// FindMerchantByID retrieves a merchant by its primary key.
func (r *PostgresRepository) FindMerchantByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	query := fmt.Sprintf(`SELECT %s FROM merchants WHERE id = $1`, merchantColumns)
	return scanMerchant(r.db.QueryRow(ctx, query, id))
}

// FindMerchantByAPIKey retrieves a merchant by API key, used by the auth
// middleware.
func (r *PostgresRepository) FindMerchantByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error) {
	query := fmt.Sprintf(`SELECT %s FROM merchants WHERE api_key = $1`, merchantColumns)
	return scanMerchant(r.db.QueryRow(ctx, query, apiKey))
}

// CreateOrder inserts a new order.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, merchant_id, amount, currency, receipt, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query, order.ID, order.MerchantID, order.Amount, order.Currency, order.Receipt, order.Status, order.CreatedAt)
	return err
}

// FindOrderForMerchant retrieves an order scoped to its owning merchant.
func (r *PostgresRepository) FindOrderForMerchant(ctx context.Context, orderID string, merchantID uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	query := `
		SELECT id, merchant_id, amount, currency, receipt, status, created_at
		FROM orders
		WHERE id = $1 AND merchant_id = $2
	`
	err := r.db.QueryRow(ctx, query, orderID, merchantID).Scan(&o.ID, &o.MerchantID, &o.Amount, &o.Currency, &o.Receipt, &o.Status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

const paymentColumns = `id, order_id, merchant_id, amount, currency, method, vpa, card_number, card_expiry, card_cvv,
	status, error_code, error_description, captured, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.MerchantID, &p.Amount, &p.Currency, &p.Method, &p.VPA,
		&p.CardNumber, &p.CardExpiry, &p.CardCVV,
		&p.Status, &p.ErrorCode, &p.ErrorDescription, &p.Captured, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts a new payment in `pending` state.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, merchant_id, amount, currency, method, vpa,
			card_number, card_expiry, card_cvv, status, captured, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Exec(ctx, query,
		payment.ID, payment.OrderID, payment.MerchantID, payment.Amount, payment.Currency,
		payment.Method, payment.VPA, payment.CardNumber, payment.CardExpiry, payment.CardCVV,
		payment.Status, payment.Captured, payment.CreatedAt, payment.UpdatedAt,
	)
	return err
}

// FindPaymentByID retrieves a payment by primary key. Workers use this form;
// API handlers use the merchant-scoped variant.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)
	return scanPayment(r.db.QueryRow(ctx, query, id))
}

// FindPaymentForMerchant retrieves a payment scoped to its owning merchant.
func (r *PostgresRepository) FindPaymentForMerchant(ctx context.Context, id string, merchantID uuid.UUID) (*domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1 AND merchant_id = $2`, paymentColumns)
	return scanPayment(r.db.QueryRow(ctx, query, id, merchantID))
}

// ListPaymentsByMerchant returns all payments for a merchant, newest first.
func (r *PostgresRepository) ListPaymentsByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE merchant_id = $1 ORDER BY created_at DESC`, paymentColumns)
	rows, err := r.db.Query(ctx, query, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// MarkPaymentSucceeded transitions a pending payment to `success`. The
// status guard makes the settlement transition happen at most once.
func (r *PostgresRepository) MarkPaymentSucceeded(ctx context.Context, id string) error {
	query := `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	tag, err := r.db.Exec(ctx, query, id, domain.PaymentStatusSuccess, domain.PaymentStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotPending
	}
	return nil
}

// MarkPaymentFailed transitions a pending payment to `failed` with the
// acquirer error details.
func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, id string, errorCode, errorDescription string) error {
	query := `
		UPDATE payments
		SET status = $2, error_code = $3, error_description = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query, id, domain.PaymentStatusFailed, errorCode, errorDescription, domain.PaymentStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotPending
	}
	return nil
}

// MarkPaymentCaptured flips the captured flag on a settled payment.
func (r *PostgresRepository) MarkPaymentCaptured(ctx context.Context, id string) error {
	query := `
		UPDATE payments
		SET captured = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	tag, err := r.db.Exec(ctx, query, id, domain.PaymentStatusSuccess)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotCapturable
	}
	return nil
}

// CreateRefundGuarded inserts a refund inside one transaction: the payment
// row is locked, refundability is re-verified, and the already-allocated sum
// is re-computed under the lock. Two racing refund requests therefore
// serialize here, and the second one sees the first one's allocation.
func (r *PostgresRepository) CreateRefundGuarded(ctx context.Context, refund *domain.Refund) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var paymentAmount int64
	var paymentStatus string
	err = tx.QueryRow(ctx,
		`SELECT amount, status FROM payments WHERE id = $1 AND merchant_id = $2 FOR UPDATE`,
		refund.PaymentID, refund.MerchantID,
	).Scan(&paymentAmount, &paymentStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPaymentNotFound
		}
		return err
	}
	if paymentStatus != domain.PaymentStatusSuccess {
		return ErrPaymentNotRefundable
	}

	var allocated int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1 AND status <> $2`,
		refund.PaymentID, domain.RefundStatusFailed,
	).Scan(&allocated)
	if err != nil {
		return err
	}
	if refund.Amount > paymentAmount-allocated {
		return ErrRefundExceedsAvailable
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO refunds (id, payment_id, merchant_id, amount, reason, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		refund.ID, refund.PaymentID, refund.MerchantID, refund.Amount, refund.Reason, refund.Status, refund.CreatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const refundColumns = `id, payment_id, merchant_id, amount, reason, status, processed_at, created_at`

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	var rf domain.Refund
	err := row.Scan(&rf.ID, &rf.PaymentID, &rf.MerchantID, &rf.Amount, &rf.Reason, &rf.Status, &rf.ProcessedAt, &rf.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &rf, nil
}

// FindRefundByID retrieves a refund by primary key.
func (r *PostgresRepository) FindRefundByID(ctx context.Context, id string) (*domain.Refund, error) {
	query := fmt.Sprintf(`SELECT %s FROM refunds WHERE id = $1`, refundColumns)
	return scanRefund(r.db.QueryRow(ctx, query, id))
}

// FindRefundForMerchant retrieves a refund scoped to its owning merchant.
func (r *PostgresRepository) FindRefundForMerchant(ctx context.Context, id string, merchantID uuid.UUID) (*domain.Refund, error) {
	query := fmt.Sprintf(`SELECT %s FROM refunds WHERE id = $1 AND merchant_id = $2`, refundColumns)
	return scanRefund(r.db.QueryRow(ctx, query, id, merchantID))
}

// SumRefundedAmount returns the total non-failed refund allocation against a
// payment.
func (r *PostgresRepository) SumRefundedAmount(ctx context.Context, paymentID string) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1 AND status <> $2`,
		paymentID, domain.RefundStatusFailed,
	).Scan(&total)
	return total, err
}

// MarkRefundProcessed transitions a pending refund to `processed`.
func (r *PostgresRepository) MarkRefundProcessed(ctx context.Context, id string, processedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE refunds SET status = $2, processed_at = $3 WHERE id = $1 AND status = $4`,
		id, domain.RefundStatusProcessed, processedAt, domain.RefundStatusPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRefundNotFound
	}
	return nil
}

// MarkRefundFailed transitions a pending refund to `failed`.
func (r *PostgresRepository) MarkRefundFailed(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE refunds SET status = $2 WHERE id = $1 AND status = $3`,
		id, domain.RefundStatusFailed, domain.RefundStatusPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRefundNotFound
	}
	return nil
}

const webhookLogColumns = `id, merchant_id, event, payload, status, attempts, last_attempt_at, next_retry_at,
	response_code, response_body, created_at`

func scanWebhookLog(row pgx.Row) (*domain.WebhookLog, error) {
	var w domain.WebhookLog
	err := row.Scan(
		&w.ID, &w.MerchantID, &w.Event, &w.Payload, &w.Status, &w.Attempts,
		&w.LastAttemptAt, &w.NextRetryAt, &w.ResponseCode, &w.ResponseBody, &w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWebhookLogNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CreateWebhookLog inserts a new webhook log with its immutable payload
// snapshot.
func (r *PostgresRepository) CreateWebhookLog(ctx context.Context, logEntry *domain.WebhookLog) error {
	query := `
		INSERT INTO webhook_logs (id, merchant_id, event, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		logEntry.ID, logEntry.MerchantID, logEntry.Event, logEntry.Payload,
		logEntry.Status, logEntry.Attempts, logEntry.CreatedAt,
	)
	return err
}

// FindWebhookLogByID retrieves a webhook log by primary key.
func (r *PostgresRepository) FindWebhookLogByID(ctx context.Context, id uuid.UUID) (*domain.WebhookLog, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_logs WHERE id = $1`, webhookLogColumns)
	return scanWebhookLog(r.db.QueryRow(ctx, query, id))
}

// FindWebhookLogForMerchant retrieves a webhook log scoped to its merchant.
func (r *PostgresRepository) FindWebhookLogForMerchant(ctx context.Context, id uuid.UUID, merchantID uuid.UUID) (*domain.WebhookLog, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_logs WHERE id = $1 AND merchant_id = $2`, webhookLogColumns)
	return scanWebhookLog(r.db.QueryRow(ctx, query, id, merchantID))
}

// RecordWebhookAttempt persists the delivery state written after every
// attempt.
func (r *PostgresRepository) RecordWebhookAttempt(ctx context.Context, id uuid.UUID, params WebhookAttemptParams) error {
	query := `
		UPDATE webhook_logs
		SET status = $2, attempts = $3, last_attempt_at = $4, next_retry_at = $5,
			response_code = $6, response_body = $7
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		id, params.Status, params.Attempts, params.LastAttemptAt, params.NextRetryAt,
		params.ResponseCode, params.ResponseBody,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWebhookLogNotFound
	}
	return nil
}

// MarkWebhookLogFailed terminally fails a log without recording an attempt,
// used when the merchant configuration itself is missing.
func (r *PostgresRepository) MarkWebhookLogFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_logs SET status = $2 WHERE id = $1`,
		id, domain.WebhookStatusFailed,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWebhookLogNotFound
	}
	return nil
}

// ResetWebhookLog rewinds a log for a manual retry: attempts back to zero,
// status to pending, and the previous series' schedule and response wiped so
// listings do not show stale outcomes.
func (r *PostgresRepository) ResetWebhookLog(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_logs
		 SET status = $2, attempts = 0, next_retry_at = NULL,
			last_attempt_at = NULL, response_code = NULL, response_body = NULL
		 WHERE id = $1`,
		id, domain.WebhookStatusPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWebhookLogNotFound
	}
	return nil
}

// ListWebhookLogsByMerchant returns one page of a merchant's webhook logs,
// newest first, plus the total count.
func (r *PostgresRepository) ListWebhookLogsByMerchant(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]domain.WebhookLog, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_logs WHERE merchant_id = $1`, merchantID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(
		`SELECT %s FROM webhook_logs WHERE merchant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		webhookLogColumns,
	)
	rows, err := r.db.Query(ctx, query, merchantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []domain.WebhookLog
	for rows.Next() {
		w, err := scanWebhookLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, *w)
	}
	return logs, total, rows.Err()
}

// FindOverdueWebhookLogs returns pending logs whose retry came due before
// the given instant. The maintenance sweep uses this to recover deliveries
// whose delayed job was lost to a crash.
func (r *PostgresRepository) FindOverdueWebhookLogs(ctx context.Context, overdueSince time.Time, limit int) ([]domain.WebhookLog, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM webhook_logs
		 WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at < $2
		 ORDER BY next_retry_at ASC LIMIT $3`,
		webhookLogColumns,
	)
	rows, err := r.db.Query(ctx, query, domain.WebhookStatusPending, overdueSince, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.WebhookLog
	for rows.Next() {
		w, err := scanWebhookLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *w)
	}
	return logs, rows.Err()
}

// FindIdempotencyKey retrieves a cached response for (key, merchant).
func (r *PostgresRepository) FindIdempotencyKey(ctx context.Context, key string, merchantID uuid.UUID) (*domain.IdempotencyKey, error) {
	var rec domain.IdempotencyKey
	query := `
		SELECT key, merchant_id, response, expires_at, created_at
		FROM idempotency_keys
		WHERE key = $1 AND merchant_id = $2
	`
	err := r.db.QueryRow(ctx, query, key, merchantID).Scan(&rec.Key, &rec.MerchantID, &rec.Response, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdempotencyKeyNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// InsertIdempotencyKey stores a cached response. The unique constraint on
// (key, merchant_id) resolves races between duplicate submissions; the loser
// gets ErrIdempotencyKeyExists and treats the value as already cached.
func (r *PostgresRepository) InsertIdempotencyKey(ctx context.Context, record *domain.IdempotencyKey) error {
	query := `
		INSERT INTO idempotency_keys (key, merchant_id, response, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query, record.Key, record.MerchantID, record.Response, record.ExpiresAt, record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrIdempotencyKeyExists
		}
		return err
	}
	return nil
}

// DeleteIdempotencyKey removes a stale cached response.
func (r *PostgresRepository) DeleteIdempotencyKey(ctx context.Context, key string, merchantID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND merchant_id = $2`,
		key, merchantID,
	)
	return err
}

// DeleteExpiredIdempotencyKeys purges every record past its TTL. Run by the
// worker's maintenance schedule.
func (r *PostgresRepository) DeleteExpiredIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
