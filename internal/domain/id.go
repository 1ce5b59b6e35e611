package domain

import (
	"crypto/rand"
	"fmt"
)

// idAlphabet matches the URL-safe token alphabet used for public gateway
// identifiers.
const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const idTokenLength = 16

func newToken() string {
	buf := make([]byte, idTokenLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(fmt.Sprintf("id generation failed: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

// NewOrderID returns a new public order identifier.
func NewOrderID() string { return "order_" + newToken() }

// NewPaymentID returns a new public payment identifier.
func NewPaymentID() string { return "pay_" + newToken() }

// NewRefundID returns a new public refund identifier.
func NewRefundID() string { return "rfnd_" + newToken() }
