package httpserver

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/KeelPay/escrow/internal/errors"
	"github.com/KeelPay/escrow/pkg/payments"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeRequestError renders input validation failures produced while decoding
// a request.
func writeRequestError(w http.ResponseWriter, err error) {
	if fe, ok := err.(fieldError); ok {
		apierrors.WriteError(w, fe.code, fe.message, map[string]interface{}{"field": fe.field})
		return
	}
	apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
}

// writeOperationError maps engine failures onto the wire format. The status
// comes from the error code, so precondition violations, window misses, and
// infrastructure faults each land in their own status class.
func writeOperationError(w http.ResponseWriter, err error) {
	if opErr, ok := err.(payments.OperationError); ok {
		apierrors.WriteSimpleError(w, opErr.Code, opErr.Message)
		return
	}
	apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "An internal error occurred.")
}
