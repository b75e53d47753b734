package payments

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/KeelPay/escrow/internal/errors"
)

// MaxBps is the basis-point denominator: 10000 bps = 100%.
const MaxBps = 10000

// Terms describes one payment's parties, bounds, and timing windows.
// It is immutable and supplied by the caller on every call; only its hash is
// ever persisted, so each operation re-validates the full record.
type Terms struct {
	Operator common.Address `json:"operator"` // trusted party driving the lifecycle
	Payer    common.Address `json:"payer"`
	Receiver common.Address `json:"receiver"`
	Token    common.Address `json:"token"`

	// MaxAmount is the upper bound on any amount ever collected for this
	// payment, in atomic token units.
	MaxAmount uint64 `json:"maxAmount"`

	// Expiry timestamps in unix seconds. Must satisfy
	// PreApprovalExpiry <= AuthorizationExpiry <= RefundExpiry.
	PreApprovalExpiry   int64 `json:"preApprovalExpiry"`
	AuthorizationExpiry int64 `json:"authorizationExpiry"`
	RefundExpiry        int64 `json:"refundExpiry"`

	// Inclusive bounds on the fee rate in basis points.
	MinFeeBps uint16 `json:"minFeeBps"`
	MaxFeeBps uint16 `json:"maxFeeBps"`

	// FeeReceiver may be the zero address only when the realized fee is zero.
	FeeReceiver common.Address `json:"feeReceiver"`

	// Salt is caller-chosen entropy so payments with identical economic
	// terms hash differently.
	Salt common.Hash `json:"salt"`
}

// Validate checks the structural invariants of the terms record itself.
// Window checks against the current time belong to the individual
// operations, not here.
func (t Terms) Validate() error {
	if t.MaxFeeBps > MaxBps {
		return NewOperationError(errors.ErrCodeFeeBpsOverflow, nil)
	}
	if t.MinFeeBps > t.MaxFeeBps {
		return NewOperationError(errors.ErrCodeFeeBpsOutOfRange, nil)
	}
	if t.PreApprovalExpiry > t.AuthorizationExpiry || t.AuthorizationExpiry > t.RefundExpiry {
		return NewOperationError(errors.ErrCodeInvalidExpiries, nil)
	}
	return nil
}

// State is the mutable per-payment record keyed by the terms hash.
// It is created on the first successful collection and never deleted; zero
// capturable and zero refundable is the de facto closed state.
type State struct {
	// HasCollectedPayment permanently blocks a second collection under the
	// same hash once set.
	HasCollectedPayment bool `json:"hasCollectedPayment"`

	// CapturableAmount is held in the operator's token store, earmarked for
	// later settlement to the receiver.
	CapturableAmount uint64 `json:"capturableAmount"`

	// RefundableAmount bounds how much already-settled value may still be
	// returned to the payer within the refund window.
	RefundableAmount uint64 `json:"refundableAmount"`
}
