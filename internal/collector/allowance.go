package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	apierrors "github.com/KeelPay/escrow/internal/errors"
	"github.com/KeelPay/escrow/internal/ledger"
	"github.com/KeelPay/escrow/pkg/payments"
)

// AllowanceCollector pulls funds through an allowance the source account
// granted to the collector ahead of time. No per-payment authorization data
// is needed; AuthData is ignored.
type AllowanceCollector struct {
	escrow  common.Address
	address common.Address
	ledger  ledger.Ledger
}

// NewAllowanceCollector creates the delegated-allowance pull strategy.
// The collector's own identity is derived from the escrow identity so that
// payers know the spender address to approve before any pull happens.
func NewAllowanceCollector(escrow common.Address, l ledger.Ledger) *AllowanceCollector {
	digest := crypto.Keccak256([]byte("keelpay.collector.allowance.v1"), escrow.Bytes())
	return &AllowanceCollector{
		escrow:  escrow,
		address: common.BytesToAddress(digest[12:]),
		ledger:  l,
	}
}

// Address is the spender identity the source account must approve.
func (c *AllowanceCollector) Address() common.Address { return c.address }

func (c *AllowanceCollector) Name() string { return "allowance" }

func (c *AllowanceCollector) Collect(ctx context.Context, req Request) error {
	if req.Sender != c.escrow {
		return payments.NewOperationError(apierrors.ErrCodeOnlyEscrow, nil)
	}

	err := c.ledger.TransferFrom(ctx, req.Terms.Token, c.address, req.Source, req.Store, req.Amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return payments.NewOperationError(apierrors.ErrCodeInvalidAllowance, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return payments.NewOperationError(apierrors.ErrCodeInsufficientFunds, err)
	default:
		return payments.NewOperationError(apierrors.ErrCodeCollectionFailed, fmt.Errorf("allowance pull: %w", err))
	}
}
