package vault

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// derivationTag versions the address derivation; it keeps store addresses
// stable across restarts and distinct from any other keccak-derived identity.
const derivationTag = "keelpay.token-store.v1"

// Registry deterministically derives and lazily instantiates one TokenStore
// per operator. The address is a pure function of the operator identity, so
// any party can compute a store's address before it exists.
type Registry struct {
	escrow common.Address

	mu     sync.Mutex
	stores map[common.Address]TokenStore

	// onCreate fires exactly once per operator, when the store is first
	// instantiated.
	onCreate func(TokenStore)
}

// NewRegistry creates a registry scoped to the given escrow identity.
// onCreate may be nil.
func NewRegistry(escrow common.Address, onCreate func(TokenStore)) *Registry {
	return &Registry{
		escrow:   escrow,
		stores:   make(map[common.Address]TokenStore),
		onCreate: onCreate,
	}
}

// Address derives the token store address for an operator without
// instantiating it.
func (r *Registry) Address(operator common.Address) common.Address {
	digest := crypto.Keccak256(
		[]byte(derivationTag),
		r.escrow.Bytes(),
		operator.Bytes(),
	)
	return common.BytesToAddress(digest[12:])
}

// Resolve returns the operator's token store, instantiating it on first use,
// and reports whether this call created it. Resolution is idempotent and safe
// under concurrent requests for the same operator; the creation hook fires
// exactly once.
func (r *Registry) Resolve(operator common.Address) (TokenStore, bool) {
	r.mu.Lock()
	store, ok := r.stores[operator]
	if !ok {
		store = TokenStore{Operator: operator, Address: r.Address(operator)}
		r.stores[operator] = store
	}
	r.mu.Unlock()

	created := !ok
	if created && r.onCreate != nil {
		r.onCreate(store)
	}
	return store, created
}

// Lookup returns the operator's token store without instantiating it.
func (r *Registry) Lookup(operator common.Address) (TokenStore, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	store, ok := r.stores[operator]
	return store, ok
}
