/**
 * @description
 * This file contains the idempotency guard that protects payment creation
 * from duplicate submission. A client-supplied key, scoped per merchant,
 * maps to the original response bytes; within the TTL a replay is served
 * verbatim, after the TTL the stale record is deleted and the request is
 * treated as fresh.
 *
 * @notes
 * - Races between duplicate submissions are resolved by the store's unique
 *   (key, merchant_id) constraint, not application logic: the losing insert
 *   is treated as "already cached by a racing request".
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

// DefaultIdempotencyTTL is the 24-hour replay window applied when no TTL is
// configured.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyGuard checks and stores cached responses keyed by
// (key, merchant).
type IdempotencyGuard struct {
	repo store.Repository
	ttl  time.Duration
}

// NewIdempotencyGuard creates a guard with the given replay TTL.
func NewIdempotencyGuard(repo store.Repository, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyGuard{repo: repo, ttl: ttl}
}

// Check looks up a cached response. It returns (response, true) on a fresh
// hit; an expired record is deleted and reported as a miss.
func (g *IdempotencyGuard) Check(ctx context.Context, key string, merchantID uuid.UUID) (json.RawMessage, bool, error) {
	record, err := g.repo.FindIdempotencyKey(ctx, key, merchantID)
	if err != nil {
		if errors.Is(err, store.ErrIdempotencyKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}

	if record.Expired(time.Now()) {
		if err := g.repo.DeleteIdempotencyKey(ctx, key, merchantID); err != nil {
			return nil, false, fmt.Errorf("delete expired idempotency key: %w", err)
		}
		return nil, false, nil
	}
	return record.Response, true, nil
}

// Store caches the response bytes under (key, merchant). Losing the insert
// race to a duplicate request is not an error.
func (g *IdempotencyGuard) Store(ctx context.Context, key string, merchantID uuid.UUID, response json.RawMessage) error {
	now := time.Now().UTC()
	record := &domain.IdempotencyKey{
		Key:        key,
		MerchantID: merchantID,
		Response:   response,
		ExpiresAt:  now.Add(g.ttl),
		CreatedAt:  now,
	}
	err := g.repo.InsertIdempotencyKey(ctx, record)
	if errors.Is(err, store.ErrIdempotencyKeyExists) {
		log.Printf("level=info component=idempotency msg=\"key already stored by racing request\" merchant_id=%s", merchantID)
		return nil
	}
	return err
}
