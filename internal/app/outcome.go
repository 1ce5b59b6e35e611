/**
 * @description
 * This file defines the outcome provider abstraction used by the payment
 * settlement worker to decide whether the simulated acquirer approves a
 * payment. Isolating the decision behind an interface lets tests force
 * deterministic outcomes without touching environment state.
 */

package app

import (
	"math/rand"

	"github.com/Charan-guggilapu123/payment-gateway-with-webhooks-23A91A1220/internal/domain"
)

// OutcomeProvider decides the simulated acquirer response for a payment
// method.
type OutcomeProvider interface {
	Decide(method string) bool
}

// Acquirer approval rates observed per payment method.
const (
	upiSuccessRate     = 0.90
	defaultSuccessRate = 0.95
)

// RandomOutcomeProvider draws against the method-dependent success rate.
// Used in production mode.
type RandomOutcomeProvider struct{}

// Decide returns true when the simulated acquirer approves the payment.
func (RandomOutcomeProvider) Decide(method string) bool {
	rate := defaultSuccessRate
	if method == domain.MethodUPI {
		rate = upiSuccessRate
	}
	return rand.Float64() < rate
}

// ForcedOutcomeProvider always returns the configured outcome. Used in test
// mode so settlement results are deterministic.
type ForcedOutcomeProvider struct {
	Success bool
}

// Decide returns the forced outcome regardless of method.
func (p ForcedOutcomeProvider) Decide(string) bool {
	return p.Success
}
