package payments

import (
	"fmt"

	"github.com/KeelPay/escrow/internal/errors"
)

// OperationError classifies failures encountered while driving the payment
// lifecycle. Every precondition violation aborts the whole call with no side
// effects, so the code is all a caller needs to branch on.
type OperationError struct {
	Code    errors.ErrorCode // Machine-readable error code
	Message string           // User-friendly message
	Err     error            // Technical error for logging
}

func (e OperationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e OperationError) Unwrap() error {
	return e.Err
}

// NewOperationError creates an operation error with a user-friendly message.
func NewOperationError(code errors.ErrorCode, err error) OperationError {
	return OperationError{
		Code:    code,
		Message: friendlyMessage(code),
		Err:     err,
	}
}

// CodeOf extracts the error code from err, or internal_error if err is not an
// OperationError.
func CodeOf(err error) errors.ErrorCode {
	if opErr, ok := err.(OperationError); ok {
		return opErr.Code
	}
	return errors.ErrCodeInternalError
}

func friendlyMessage(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeInvalidSender:
		return "Only the operator named in the payment terms may perform this operation."
	case errors.ErrCodeInvalidPayer:
		return "Only the payer named in the payment terms may perform this operation."
	case errors.ErrCodeZeroAmount:
		return "Amount must be greater than zero."
	case errors.ErrCodeExceedsMaxAmount:
		return "Amount exceeds the maximum allowed by the payment terms."
	case errors.ErrCodeAmountOverflow:
		return "Amount arithmetic would overflow the accounting width."
	case errors.ErrCodeInvalidExpiries:
		return "Payment terms have a non-monotonic expiry ordering."
	case errors.ErrCodeAfterPreApprovalExpiry:
		return "The pre-approval window for this payment has lapsed."
	case errors.ErrCodeAfterAuthorizationExpiry:
		return "The authorization window for this payment has lapsed."
	case errors.ErrCodeBeforeAuthorizationExpiry:
		return "Funds can be reclaimed only after the authorization window lapses."
	case errors.ErrCodeAfterRefundExpiry:
		return "The refund window for this payment has lapsed."
	case errors.ErrCodeFeeBpsOutOfRange:
		return "Requested fee rate is outside the bounds set by the payment terms."
	case errors.ErrCodeFeeBpsOverflow:
		return "Fee bounds in the payment terms exceed 100%."
	case errors.ErrCodeZeroFeeReceiver:
		return "A non-zero fee requires a fee receiver."
	case errors.ErrCodePaymentAlreadyCollected:
		return "A payment has already been collected under these terms."
	case errors.ErrCodeZeroAuthorization:
		return "No capturable amount remains for this payment."
	case errors.ErrCodeExceedsCapturable:
		return "Capture amount exceeds the remaining authorized amount."
	case errors.ErrCodeRefundExceedsCapture:
		return "Refund amount exceeds the remaining refundable amount."
	case errors.ErrCodeOnlyEscrow:
		return "Collectors accept calls from the escrow only."
	case errors.ErrCodeReentrantCall:
		return "The payment is already being processed."
	case errors.ErrCodeCollectorNotFound:
		return "No collector is registered under that name."
	case errors.ErrCodeInsufficientFunds:
		return "Insufficient token balance to complete the transfer."
	case errors.ErrCodeInvalidAllowance:
		return "Insufficient allowance to pull the requested amount."
	case errors.ErrCodeInvalidSignature:
		return "Collection authorization signature did not verify."
	default:
		return ""
	}
}
