package ledger

import (
	"context"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryLedger is an in-process Ledger used by the dev deployment and by
// tests, with ERC-20-shaped balance and allowance semantics.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]uint64                // token -> account -> balance
	allowances map[common.Address]map[common.Address]map[common.Address]uint64 // token -> owner -> spender
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[common.Address]map[common.Address]uint64),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]uint64),
	}
}

// Mint credits amount of token to account. Test and bootstrap helper.
func (l *MemoryLedger) Mint(token, account common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.balance(token, account)
	if current > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.setBalance(token, account, current+amount)
	return nil
}

func (l *MemoryLedger) BalanceOf(_ context.Context, token, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(token, account), nil
}

func (l *MemoryLedger) Transfer(_ context.Context, token, from, to common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, amount)
}

func (l *MemoryLedger) TransferFrom(_ context.Context, token, spender, from, to common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.allowance(token, from, spender)
	if remaining < amount {
		return ErrInsufficientAllowance
	}
	if err := l.move(token, from, to, amount); err != nil {
		return err
	}
	l.setAllowance(token, from, spender, remaining-amount)
	return nil
}

func (l *MemoryLedger) Approve(_ context.Context, token, owner, spender common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(token, owner, spender, amount)
	return nil
}

func (l *MemoryLedger) Allowance(_ context.Context, token, owner, spender common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowance(token, owner, spender), nil
}

// move applies a balance transfer under the held lock, atomically: either
// both balances change or neither does.
func (l *MemoryLedger) move(token, from, to common.Address, amount uint64) error {
	fromBal := l.balance(token, from)
	if fromBal < amount {
		return ErrInsufficientBalance
	}
	toBal := l.balance(token, to)
	if toBal > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.setBalance(token, from, fromBal-amount)
	l.setBalance(token, to, toBal+amount)
	return nil
}

func (l *MemoryLedger) balance(token, account common.Address) uint64 {
	return l.balances[token][account]
}

func (l *MemoryLedger) setBalance(token, account common.Address, amount uint64) {
	accounts, ok := l.balances[token]
	if !ok {
		accounts = make(map[common.Address]uint64)
		l.balances[token] = accounts
	}
	accounts[account] = amount
}

func (l *MemoryLedger) allowance(token, owner, spender common.Address) uint64 {
	return l.allowances[token][owner][spender]
}

func (l *MemoryLedger) setAllowance(token, owner, spender common.Address, amount uint64) {
	owners, ok := l.allowances[token]
	if !ok {
		owners = make(map[common.Address]map[common.Address]uint64)
		l.allowances[token] = owners
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[common.Address]uint64)
		owners[owner] = spenders
	}
	spenders[spender] = amount
}
