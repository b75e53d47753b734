package vault

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	escrowAddr = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	operatorA  = common.HexToAddress("0x0000000000000000000000000000000000000011")
	operatorB  = common.HexToAddress("0x0000000000000000000000000000000000000022")
)

func TestAddress_DeterministicBeforeCreation(t *testing.T) {
	r := NewRegistry(escrowAddr, nil)

	predicted := r.Address(operatorA)
	if predicted == (common.Address{}) {
		t.Fatal("derived address should not be zero")
	}
	if got := r.Address(operatorA); got != predicted {
		t.Errorf("Address() not deterministic: %s != %s", got, predicted)
	}

	// No store should exist until Resolve.
	if _, ok := r.Lookup(operatorA); ok {
		t.Error("Lookup() found a store before Resolve()")
	}

	store, created := r.Resolve(operatorA)
	if !created {
		t.Error("first Resolve() should report creation")
	}
	if store.Address != predicted {
		t.Errorf("Resolve() address = %s, want predicted %s", store.Address, predicted)
	}
	if _, created = r.Resolve(operatorA); created {
		t.Error("second Resolve() should not report creation")
	}
}

func TestAddress_DistinctPerOperator(t *testing.T) {
	r := NewRegistry(escrowAddr, nil)
	if r.Address(operatorA) == r.Address(operatorB) {
		t.Error("different operators derived the same store address")
	}

	other := NewRegistry(common.HexToAddress("0xffff"), nil)
	if r.Address(operatorA) == other.Address(operatorA) {
		t.Error("different escrow identities derived the same store address")
	}
}

func TestResolve_CreationHookFiresOnce(t *testing.T) {
	var created atomic.Int64
	r := NewRegistry(escrowAddr, func(TokenStore) { created.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Resolve(operatorA)
		}()
	}
	wg.Wait()

	if got := created.Load(); got != 1 {
		t.Errorf("creation hook fired %d times, want 1", got)
	}

	r.Resolve(operatorB)
	if got := created.Load(); got != 2 {
		t.Errorf("creation hook fired %d times after second operator, want 2", got)
	}
}
