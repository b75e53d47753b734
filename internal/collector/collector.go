package collector

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KeelPay/escrow/pkg/payments"
)

// Request describes one pull of tokens into an operator's token store.
//
// Source is the account being debited: the payer on charge/authorize, or the
// operator when a refund tops the store up from operator float.
type Request struct {
	// Sender is the caller identity as seen by the collector. Conforming
	// implementations reject any sender other than the escrow.
	Sender common.Address

	Terms payments.Terms
	Hash  common.Hash // precomputed terms hash

	Source common.Address // account to debit
	Store  common.Address // destination token store
	Amount uint64

	// AuthData carries strategy-specific authorization, opaque to the escrow.
	AuthData []byte
}

// Collector pulls a specified amount of tokens into a destination token
// store. Implementations differ in how they authenticate the pull but share
// one contract: collect exactly Amount or fail with no effects.
type Collector interface {
	// Name identifies the strategy in requests and logs.
	Name() string

	// Collect executes the pull. It must reject calls whose Sender is not
	// the escrow and must be atomic.
	Collect(ctx context.Context, req Request) error
}

// Registry resolves collectors by name.
type Registry map[string]Collector

// NewRegistry builds a registry from the given collectors, keyed by Name().
func NewRegistry(collectors ...Collector) Registry {
	r := make(Registry, len(collectors))
	for _, c := range collectors {
		r[c.Name()] = c
	}
	return r
}

// Lookup returns the collector registered under name.
func (r Registry) Lookup(name string) (Collector, bool) {
	c, ok := r[name]
	return c, ok
}
