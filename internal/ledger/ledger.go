package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance occurs when a transfer exceeds the source balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInsufficientAllowance occurs when a delegated pull exceeds the
	// spender's remaining allowance.
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")

	// ErrOverflow occurs when a credit would exceed uint64 capacity.
	ErrOverflow = errors.New("ledger: balance overflow")
)

// Ledger is the fungible-token collaborator at the escrow's boundary.
//
// Implementations must apply each call atomically: a failed transfer leaves
// both balances untouched. The escrow relies on that to keep its own
// operations all-or-nothing.
type Ledger interface {
	// BalanceOf returns the balance of account for the given token.
	BalanceOf(ctx context.Context, token, account common.Address) (uint64, error)

	// Transfer moves amount of token from one account to another on the
	// authority of the caller holding the `from` account (custody transfers
	// out of an escrow-owned token store use this path).
	Transfer(ctx context.Context, token, from, to common.Address, amount uint64) error

	// TransferFrom moves amount of token from `from` to `to`, spending the
	// allowance that `from` previously granted to `spender`.
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount uint64) error

	// Approve sets the allowance of spender over owner's tokens.
	Approve(ctx context.Context, token, owner, spender common.Address, amount uint64) error

	// Allowance returns the remaining allowance of spender over owner's tokens.
	Allowance(ctx context.Context, token, owner, spender common.Address) (uint64, error)
}
