// Package idgen builds client order IDs that survive reconnects, so orders
// placed by this bot can be told apart from manual ones on the same account.
package idgen

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

const (
	clientOrderIDPrefix = "x-grid-"
	maxClientOrderIDLen = 32
)

// NewClientOrderID returns a fresh prefixed ID, base62 over a random UUID,
// capped to the exchange's client ID length limit.
func NewClientOrderID() string {
	u := uuid.New()
	id := clientOrderIDPrefix + base62.EncodeToString(u[:])
	if len(id) > maxClientOrderIDLen {
		id = id[:maxClientOrderIDLen]
	}
	return id
}

// IsOurs reports whether a client order ID was generated by this bot.
func IsOurs(clientOrderID string) bool {
	return strings.HasPrefix(clientOrderID, clientOrderIDPrefix)
}
