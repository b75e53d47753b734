package escrow

import (
	"math/bits"

	"github.com/ethereum/go-ethereum/common"

	apierrors "github.com/KeelPay/escrow/internal/errors"
	"github.com/KeelPay/escrow/pkg/payments"
)

// computeFee returns floor(amount * feeBps / 10000) using full 128-bit
// intermediate arithmetic so large amounts cannot wrap.
func computeFee(amount uint64, feeBps uint16) (uint64, error) {
	hi, lo := bits.Mul64(amount, uint64(feeBps))
	if hi >= payments.MaxBps {
		return 0, payments.NewOperationError(apierrors.ErrCodeAmountOverflow, nil)
	}
	fee, _ := bits.Div64(hi, lo, payments.MaxBps)
	return fee, nil
}

// validateFee checks the per-call fee rate and receiver against the terms and
// returns the realized fee for the given amount.
func validateFee(terms payments.Terms, amount uint64, feeBps uint16, feeReceiver common.Address) (uint64, error) {
	if feeBps < terms.MinFeeBps || feeBps > terms.MaxFeeBps {
		return 0, payments.NewOperationError(apierrors.ErrCodeFeeBpsOutOfRange, nil)
	}
	fee, err := computeFee(amount, feeBps)
	if err != nil {
		return 0, err
	}
	if fee > 0 && feeReceiver == (common.Address{}) {
		return 0, payments.NewOperationError(apierrors.ErrCodeZeroFeeReceiver, nil)
	}
	return fee, nil
}
