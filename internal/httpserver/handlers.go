package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/KeelPay/escrow/internal/apikey"
	apierrors "github.com/KeelPay/escrow/internal/errors"
	"github.com/KeelPay/escrow/internal/escrow"
	"github.com/KeelPay/escrow/internal/storage"
	"github.com/KeelPay/escrow/pkg/payments"
)

// termsPayload is the wire form of payment terms. Addresses and the salt
// arrive as hex strings and are validated field by field so clients get a
// precise error instead of a generic decode failure.
type termsPayload struct {
	Operator            string `json:"operator"`
	Payer               string `json:"payer"`
	Receiver            string `json:"receiver"`
	Token               string `json:"token"`
	MaxAmount           uint64 `json:"maxAmount"`
	PreApprovalExpiry   int64  `json:"preApprovalExpiry"`
	AuthorizationExpiry int64  `json:"authorizationExpiry"`
	RefundExpiry        int64  `json:"refundExpiry"`
	MinFeeBps           uint16 `json:"minFeeBps"`
	MaxFeeBps           uint16 `json:"maxFeeBps"`
	FeeReceiver         string `json:"feeReceiver"`
	Salt                string `json:"salt"`
}

func (p termsPayload) toTerms() (payments.Terms, error) {
	var terms payments.Terms
	var err error

	if terms.Operator, err = parseAddress("terms.operator", p.Operator, true); err != nil {
		return payments.Terms{}, err
	}
	if terms.Payer, err = parseAddress("terms.payer", p.Payer, true); err != nil {
		return payments.Terms{}, err
	}
	if terms.Receiver, err = parseAddress("terms.receiver", p.Receiver, true); err != nil {
		return payments.Terms{}, err
	}
	if terms.Token, err = parseAddress("terms.token", p.Token, true); err != nil {
		return payments.Terms{}, err
	}
	// The fee receiver may legitimately be absent when no fee is taken.
	if terms.FeeReceiver, err = parseAddress("terms.feeReceiver", p.FeeReceiver, false); err != nil {
		return payments.Terms{}, err
	}
	if terms.Salt, err = parseHash("terms.salt", p.Salt, false); err != nil {
		return payments.Terms{}, err
	}

	terms.MaxAmount = p.MaxAmount
	terms.PreApprovalExpiry = p.PreApprovalExpiry
	terms.AuthorizationExpiry = p.AuthorizationExpiry
	terms.RefundExpiry = p.RefundExpiry
	terms.MinFeeBps = p.MinFeeBps
	terms.MaxFeeBps = p.MaxFeeBps
	return terms, nil
}

type fieldError struct {
	code    apierrors.ErrorCode
	field   string
	message string
}

func (e fieldError) Error() string { return e.message }

func parseAddress(field, value string, required bool) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return common.Address{}, fieldError{apierrors.ErrCodeMissingField, field, field + " is required"}
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fieldError{apierrors.ErrCodeInvalidAddress, field, field + " is not a valid address"}
	}
	return common.HexToAddress(value), nil
}

func parseHash(field, value string, required bool) (common.Hash, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return common.Hash{}, fieldError{apierrors.ErrCodeMissingField, field, field + " is required"}
		}
		return common.Hash{}, nil
	}
	raw := strings.TrimPrefix(value, "0x")
	if len(raw) != 64 {
		return common.Hash{}, fieldError{apierrors.ErrCodeInvalidHash, field, field + " must be 32 bytes of hex"}
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return common.Hash{}, fieldError{apierrors.ErrCodeInvalidHash, field, field + " must be 32 bytes of hex"}
	}
	return common.HexToHash(value), nil
}

// resolveCaller determines who is driving the operation. An authenticated API
// key always wins; the body's caller field is honored only when API key
// authentication is disabled.
func (h *handlers) resolveCaller(r *http.Request, bodyCaller string) (common.Address, error) {
	if caller, ok := apikey.GetCaller(r); ok {
		return caller, nil
	}
	caller, err := parseAddress("caller", bodyCaller, true)
	if err != nil {
		return common.Address{}, err
	}
	return caller, nil
}

func decodeCollectorData(field, value string) ([]byte, error) {
	value = strings.TrimSpace(strings.TrimPrefix(value, "0x"))
	if value == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(value)
	if err != nil {
		return nil, fieldError{apierrors.ErrCodeInvalidField, field, field + " must be hex encoded"}
	}
	return data, nil
}

type chargeRequest struct {
	Caller        string       `json:"caller,omitempty"`
	Terms         termsPayload `json:"terms"`
	Amount        uint64       `json:"amount"`
	FeeBps        uint16       `json:"feeBps"`
	FeeReceiver   string       `json:"feeReceiver"`
	Collector     string       `json:"collector"`
	CollectorData string       `json:"collectorData,omitempty"`
}

func (h *handlers) charge(w http.ResponseWriter, r *http.Request) {
	var body chargeRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	caller, err := h.resolveCaller(r, body.Caller)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	terms, err := body.Terms.toTerms()
	if err != nil {
		writeRequestError(w, err)
		return
	}
	feeReceiver, err := parseAddress("feeReceiver", body.FeeReceiver, false)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	authData, err := decodeCollectorData("collectorData", body.CollectorData)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	result, err := h.escrow.Charge(r.Context(), escrow.ChargeRequest{
		Caller:        caller,
		Terms:         terms,
		Amount:        body.Amount,
		FeeBps:        body.FeeBps,
		FeeReceiver:   feeReceiver,
		Collector:     body.Collector,
		CollectorData: authData,
	})
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type authorizeRequest struct {
	Caller        string       `json:"caller,omitempty"`
	Terms         termsPayload `json:"terms"`
	Amount        uint64       `json:"amount"`
	Collector     string       `json:"collector"`
	CollectorData string       `json:"collectorData,omitempty"`
}

func (h *handlers) authorize(w http.ResponseWriter, r *http.Request) {
	var body authorizeRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	caller, err := h.resolveCaller(r, body.Caller)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	terms, err := body.Terms.toTerms()
	if err != nil {
		writeRequestError(w, err)
		return
	}
	authData, err := decodeCollectorData("collectorData", body.CollectorData)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	result, err := h.escrow.Authorize(r.Context(), escrow.AuthorizeRequest{
		Caller:        caller,
		Terms:         terms,
		Amount:        body.Amount,
		Collector:     body.Collector,
		CollectorData: authData,
	})
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type captureRequest struct {
	Caller      string       `json:"caller,omitempty"`
	Terms       termsPayload `json:"terms"`
	Amount      uint64       `json:"amount"`
	FeeBps      uint16       `json:"feeBps"`
	FeeReceiver string       `json:"feeReceiver"`
}

func (h *handlers) capture(w http.ResponseWriter, r *http.Request) {
	var body captureRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	caller, err := h.resolveCaller(r, body.Caller)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	terms, err := body.Terms.toTerms()
	if err != nil {
		writeRequestError(w, err)
		return
	}
	feeReceiver, err := parseAddress("feeReceiver", body.FeeReceiver, false)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	result, err := h.escrow.Capture(r.Context(), escrow.CaptureRequest{
		Caller:      caller,
		Terms:       terms,
		Amount:      body.Amount,
		FeeBps:      body.FeeBps,
		FeeReceiver: feeReceiver,
	})
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type releaseBody struct {
	Caller string       `json:"caller,omitempty"`
	Terms  termsPayload `json:"terms"`
}

func (h *handlers) void(w http.ResponseWriter, r *http.Request) {
	caller, terms, ok := h.decodeRelease(w, r)
	if !ok {
		return
	}
	result, err := h.escrow.Void(r.Context(), escrow.VoidRequest{Caller: caller, Terms: terms})
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) reclaim(w http.ResponseWriter, r *http.Request) {
	caller, terms, ok := h.decodeRelease(w, r)
	if !ok {
		return
	}
	result, err := h.escrow.Reclaim(r.Context(), escrow.ReclaimRequest{Caller: caller, Terms: terms})
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) decodeRelease(w http.ResponseWriter, r *http.Request) (common.Address, payments.Terms, bool) {
	var body releaseBody
	if !decodeJSON(w, r, &body) {
		return common.Address{}, payments.Terms{}, false
	}
	caller, err := h.resolveCaller(r, body.Caller)
	if err != nil {
		writeRequestError(w, err)
		return common.Address{}, payments.Terms{}, false
	}
	terms, err := body.Terms.toTerms()
	if err != nil {
		writeRequestError(w, err)
		return common.Address{}, payments.Terms{}, false
	}
	return caller, terms, true
}

type refundRequest struct {
	Caller        string       `json:"caller,omitempty"`
	Terms         termsPayload `json:"terms"`
	Amount        uint64       `json:"amount"`
	Collector     string       `json:"collector"`
	CollectorData string       `json:"collectorData,omitempty"`
}

func (h *handlers) refund(w http.ResponseWriter, r *http.Request) {
	var body refundRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	caller, err := h.resolveCaller(r, body.Caller)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	terms, err := body.Terms.toTerms()
	if err != nil {
		writeRequestError(w, err)
		return
	}
	authData, err := decodeCollectorData("collectorData", body.CollectorData)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	result, err := h.escrow.Refund(r.Context(), escrow.RefundRequest{
		Caller:        caller,
		Terms:         terms,
		Amount:        body.Amount,
		Collector:     body.Collector,
		CollectorData: authData,
	})
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type hashRequest struct {
	Terms termsPayload `json:"terms"`
}

type hashResponse struct {
	Hash common.Hash `json:"hash"`
}

func (h *handlers) hashTerms(w http.ResponseWriter, r *http.Request) {
	var body hashRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	terms, err := body.Terms.toTerms()
	if err != nil {
		writeRequestError(w, err)
		return
	}
	hash, err := h.escrow.HashTerms(terms)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hashResponse{Hash: hash})
}

type paymentStateResponse struct {
	Hash  common.Hash    `json:"hash"`
	State payments.State `json:"state"`
}

func (h *handlers) paymentState(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash("hash", chi.URLParam(r, "hash"), true)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	state, err := h.escrow.PaymentState(r.Context(), hash)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentStateResponse{Hash: hash, State: state})
}

type tokenStoreResponse struct {
	Operator common.Address `json:"operator"`
	Address  common.Address `json:"address"`
	Token    common.Address `json:"token,omitempty"`
	Balance  *uint64        `json:"balance,omitempty"`
}

func (h *handlers) tokenStore(w http.ResponseWriter, r *http.Request) {
	operator, err := parseAddress("operator", chi.URLParam(r, "operator"), true)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	resp := tokenStoreResponse{
		Operator: operator,
		Address:  h.escrow.TokenStoreAddress(operator),
	}

	if tokenParam := r.URL.Query().Get("token"); tokenParam != "" {
		token, err := parseAddress("token", tokenParam, true)
		if err != nil {
			writeRequestError(w, err)
			return
		}
		balance, err := h.escrow.TokenStoreBalance(r.Context(), operator, token)
		if err != nil {
			writeOperationError(w, err)
			return
		}
		resp.Token = token
		resp.Balance = &balance
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	var filter storage.EventFilter
	query := r.URL.Query()

	if raw := query.Get("paymentHash"); raw != "" {
		hash, err := parseHash("paymentHash", raw, true)
		if err != nil {
			writeRequestError(w, err)
			return
		}
		filter.PaymentHash = hash
	}
	if raw := query.Get("afterSequence"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeRequestError(w, fieldError{apierrors.ErrCodeInvalidField, "afterSequence", "afterSequence must be a non-negative integer"})
			return
		}
		filter.AfterSequence = seq
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeRequestError(w, fieldError{apierrors.ErrCodeInvalidField, "limit", "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	list, err := h.escrow.Events(r.Context(), filter)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": list})
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(serverStartTime).Seconds()),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "Request body is not valid JSON.")
		return false
	}
	return true
}
