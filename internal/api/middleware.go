/**
 * @description
 * This file contains custom middleware for the HTTP router. The gateway
 * authenticates merchants with an API key/secret header pair; the resolved
 * merchant is stashed in the request context for the handlers.
 *
 * @dependencies
 * - context, crypto/subtle, net/http: Standard Go libraries.
 * - internal/domain, internal/store: Merchant model and lookup.
 */

package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/store"
)

// Credential headers expected on every authenticated request.
const (
	APIKeyHeader    = "X-Api-Key"
	APISecretHeader = "X-Api-Secret"
)

// merchantContextKey is a custom type for the context key to avoid collisions.
type merchantContextKey string

const merchantKey merchantContextKey = "merchant"

// MerchantAuthMiddleware creates a middleware that resolves and verifies the
// merchant credentials on each request.
func MerchantAuthMiddleware(repo store.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			apiSecret := r.Header.Get(APISecretHeader)
			if apiKey == "" || apiSecret == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication headers missing")
				return
			}

			merchant, err := repo.FindMerchantByAPIKey(r.Context(), apiKey)
			if err != nil {
				if errors.Is(err, store.ErrMerchantNotFound) {
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API credentials")
					return
				}
				log.Printf("level=error component=api msg=\"merchant lookup failed\" err=%v", err)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to authenticate request")
				return
			}
			if subtle.ConstantTimeCompare([]byte(merchant.APISecret), []byte(apiSecret)) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API credentials")
				return
			}

			ctx := context.WithValue(r.Context(), merchantKey, merchant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetMerchant retrieves the authenticated merchant from the request context.
func GetMerchant(ctx context.Context) (*domain.Merchant, bool) {
	merchant, ok := ctx.Value(merchantKey).(*domain.Merchant)
	return merchant, ok
}
