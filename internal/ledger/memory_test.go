package ledger

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testToken = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000002")
	carol     = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	if err := l.Mint(testToken, alice, 1000); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	if err := l.Transfer(ctx, testToken, alice, bob, 400); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	got, _ := l.BalanceOf(ctx, testToken, alice)
	if got != 600 {
		t.Errorf("alice balance = %d, want 600", got)
	}
	got, _ = l.BalanceOf(ctx, testToken, bob)
	if got != 400 {
		t.Errorf("bob balance = %d, want 400", got)
	}
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	if err := l.Mint(testToken, alice, 100); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	err := l.Transfer(ctx, testToken, alice, bob, 101)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Transfer() error = %v, want ErrInsufficientBalance", err)
	}

	// Failed transfer must leave both balances untouched.
	got, _ := l.BalanceOf(ctx, testToken, alice)
	if got != 100 {
		t.Errorf("alice balance = %d, want 100", got)
	}
	got, _ = l.BalanceOf(ctx, testToken, bob)
	if got != 0 {
		t.Errorf("bob balance = %d, want 0", got)
	}
}

func TestTransferFrom_SpendsAllowance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	if err := l.Mint(testToken, alice, 1000); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := l.Approve(ctx, testToken, alice, carol, 500); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	if err := l.TransferFrom(ctx, testToken, carol, alice, bob, 300); err != nil {
		t.Fatalf("TransferFrom() error = %v", err)
	}

	remaining, _ := l.Allowance(ctx, testToken, alice, carol)
	if remaining != 200 {
		t.Errorf("allowance = %d, want 200", remaining)
	}

	err := l.TransferFrom(ctx, testToken, carol, alice, bob, 201)
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("TransferFrom() error = %v, want ErrInsufficientAllowance", err)
	}
}

func TestTransferFrom_InsufficientBalanceKeepsAllowance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	if err := l.Mint(testToken, alice, 100); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := l.Approve(ctx, testToken, alice, carol, 500); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	err := l.TransferFrom(ctx, testToken, carol, alice, bob, 200)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("TransferFrom() error = %v, want ErrInsufficientBalance", err)
	}

	remaining, _ := l.Allowance(ctx, testToken, alice, carol)
	if remaining != 500 {
		t.Errorf("allowance = %d, want 500 after failed pull", remaining)
	}
}

func TestMint_Overflow(t *testing.T) {
	l := NewMemoryLedger()
	if err := l.Mint(testToken, alice, math.MaxUint64); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := l.Mint(testToken, alice, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("Mint() error = %v, want ErrOverflow", err)
	}
}
