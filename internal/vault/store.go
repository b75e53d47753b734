package vault

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KeelPay/escrow/internal/ledger"
)

// TokenStore is a minimal custody account, one per operator, holding tokens
// collected under that operator's payments until captured, refunded, voided,
// or reclaimed. It owns no durable state beyond token balances.
type TokenStore struct {
	Operator common.Address `json:"operator"`
	Address  common.Address `json:"address"`
}

// Balance reports the store's balance for a token.
func (s TokenStore) Balance(ctx context.Context, l ledger.Ledger, token common.Address) (uint64, error) {
	return l.BalanceOf(ctx, token, s.Address)
}

// PayOut releases custody: it moves amount of token from the store to the
// recipient. Only the escrow holds the store account, so this is the single
// path by which collected funds leave custody.
func (s TokenStore) PayOut(ctx context.Context, l ledger.Ledger, token, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return l.Transfer(ctx, token, s.Address, to, amount)
}
