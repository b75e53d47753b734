package errors

// ErrorCode represents a machine-readable error identifier so callers can
// branch on failures without parsing messages.
type ErrorCode string

// Access errors (wrong caller for the attempted operation)
const (
	// Caller is not the operator named in the payment terms
	ErrCodeInvalidSender ErrorCode = "invalid_sender"
	// Caller is not the payer named in the payment terms
	ErrCodeInvalidPayer ErrorCode = "invalid_payer"
	// Collector invoked by something other than the escrow
	ErrCodeOnlyEscrow ErrorCode = "only_escrow"
	// Unknown or unauthenticated caller identity
	ErrCodeUnknownCaller ErrorCode = "unknown_caller"
)

// Amount errors
const (
	ErrCodeZeroAmount        ErrorCode = "zero_amount"
	ErrCodeExceedsMaxAmount  ErrorCode = "exceeds_max_amount"
	ErrCodeAmountOverflow    ErrorCode = "amount_overflow"
	ErrCodeInsufficientFunds ErrorCode = "insufficient_funds"
	ErrCodeInvalidAmount     ErrorCode = "invalid_amount"
)

// Timing errors (operation attempted outside its governing window)
const (
	ErrCodeInvalidExpiries           ErrorCode = "invalid_expiries"
	ErrCodeAfterPreApprovalExpiry    ErrorCode = "after_pre_approval_expiry"
	ErrCodeAfterAuthorizationExpiry  ErrorCode = "after_authorization_expiry"
	ErrCodeBeforeAuthorizationExpiry ErrorCode = "before_authorization_expiry"
	ErrCodeAfterRefundExpiry         ErrorCode = "after_refund_expiry"
)

// Fee errors
const (
	ErrCodeFeeBpsOutOfRange ErrorCode = "fee_bps_out_of_range"
	ErrCodeFeeBpsOverflow   ErrorCode = "fee_bps_overflow"
	ErrCodeZeroFeeReceiver  ErrorCode = "zero_fee_receiver"
)

// State errors
const (
	ErrCodePaymentAlreadyCollected ErrorCode = "payment_already_collected"
	ErrCodeZeroAuthorization       ErrorCode = "zero_authorization"
	ErrCodeExceedsCapturable       ErrorCode = "exceeds_capturable_amount"
	ErrCodeRefundExceedsCapture    ErrorCode = "refund_exceeds_capture"
	ErrCodePaymentNotFound         ErrorCode = "payment_not_found"
	ErrCodeReentrantCall           ErrorCode = "reentrant_call"
)

// Collection errors
const (
	ErrCodeCollectorNotFound ErrorCode = "collector_not_found"
	ErrCodeCollectionFailed  ErrorCode = "collection_failed"
	ErrCodeInvalidAuthData   ErrorCode = "invalid_auth_data"
	ErrCodeInvalidSignature  ErrorCode = "invalid_signature"
	ErrCodeInvalidAllowance  ErrorCode = "insufficient_allowance"
)

// Validation errors (request input validation at the HTTP boundary)
const (
	ErrCodeMissingField   ErrorCode = "missing_field"
	ErrCodeInvalidField   ErrorCode = "invalid_field"
	ErrCodeInvalidAddress ErrorCode = "invalid_address"
	ErrCodeInvalidHash    ErrorCode = "invalid_hash"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeStorageError  ErrorCode = "storage_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable failure.
// Precondition violations are permanent; only infrastructure faults are worth
// retrying with the same payload.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeStorageError, ErrCodeInternalError, ErrCodeReentrantCall:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - malformed input or terms that can never succeed
	case ErrCodeZeroAmount,
		ErrCodeExceedsMaxAmount,
		ErrCodeAmountOverflow,
		ErrCodeInvalidAmount,
		ErrCodeInvalidExpiries,
		ErrCodeFeeBpsOutOfRange,
		ErrCodeFeeBpsOverflow,
		ErrCodeZeroFeeReceiver,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAddress,
		ErrCodeInvalidHash,
		ErrCodeInvalidAuthData,
		ErrCodeInvalidSignature:
		return 400

	// 402 Payment Required - the token pull itself failed
	case ErrCodeInsufficientFunds,
		ErrCodeInvalidAllowance,
		ErrCodeCollectionFailed:
		return 402

	// 403 Forbidden - caller is not entitled to drive this lifecycle edge
	case ErrCodeInvalidSender,
		ErrCodeInvalidPayer,
		ErrCodeOnlyEscrow,
		ErrCodeUnknownCaller:
		return 403

	// 404 Not Found
	case ErrCodePaymentNotFound,
		ErrCodeCollectorNotFound:
		return 404

	// 409 Conflict - the state machine rejects the transition
	case ErrCodePaymentAlreadyCollected,
		ErrCodeZeroAuthorization,
		ErrCodeExceedsCapturable,
		ErrCodeRefundExceedsCapture,
		ErrCodeReentrantCall:
		return 409

	// 422 Unprocessable - the governing time window has lapsed
	case ErrCodeAfterPreApprovalExpiry,
		ErrCodeAfterAuthorizationExpiry,
		ErrCodeBeforeAuthorizationExpiry,
		ErrCodeAfterRefundExpiry:
		return 422

	// 500 Internal Server Error
	default:
		return 500
	}
}
