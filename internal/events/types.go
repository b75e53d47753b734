package events

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Type identifies a lifecycle event.
type Type string

const (
	TypePaymentAuthorized Type = "payment.authorized"
	TypePaymentCharged    Type = "payment.charged"
	TypePaymentCaptured   Type = "payment.captured"
	TypePaymentVoided     Type = "payment.voided"
	TypePaymentReclaimed  Type = "payment.reclaimed"
	TypePaymentRefunded   Type = "payment.refunded"
	TypeTokenStoreCreated Type = "token_store.created"
)

// Event is one entry in the append-only audit trail. Events are ordered by
// Sequence (assigned at commit) and must always agree with state queries.
// IMPORTANT: ID is the idempotency key - webhook consumers MUST use it to
// prevent duplicate processing.
type Event struct {
	ID        string    `json:"eventId"`
	Type      Type      `json:"eventType"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	// PaymentHash is zero for token_store.created.
	PaymentHash common.Hash `json:"paymentHash,omitempty"`

	Operator common.Address `json:"operator,omitempty"`
	Payer    common.Address `json:"payer,omitempty"`
	Receiver common.Address `json:"receiver,omitempty"`

	// Caller records who drove the transition (operator on capture/void,
	// payer on reclaim).
	Caller common.Address `json:"caller,omitempty"`

	// TokenStore is set on token_store.created.
	TokenStore common.Address `json:"tokenStore,omitempty"`

	Amount uint64 `json:"amount,omitempty"`
	Fee    uint64 `json:"fee,omitempty"`
}

// NewID creates a unique event identifier.
// Format: "evt_" + 24 hex characters (12 random bytes).
func NewID() string {
	randomBytes := make([]byte, 12)
	if _, err := rand.Read(randomBytes); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails (extremely rare)
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(randomBytes)
}
