package escrow

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KeelPay/escrow/internal/collector"
	apierrors "github.com/KeelPay/escrow/internal/errors"
	"github.com/KeelPay/escrow/internal/events"
	"github.com/KeelPay/escrow/pkg/payments"
)

// ChargeRequest collects from the payer and disburses to the receiver in one
// step.
type ChargeRequest struct {
	Caller        common.Address
	Terms         payments.Terms
	Amount        uint64
	FeeBps        uint16
	FeeReceiver   common.Address
	Collector     string
	CollectorData []byte
}

// AuthorizeRequest collects from the payer into the operator's token store,
// to be captured, voided, or reclaimed later.
type AuthorizeRequest struct {
	Caller        common.Address
	Terms         payments.Terms
	Amount        uint64
	Collector     string
	CollectorData []byte
}

// CaptureRequest settles part or all of a prior authorization to the receiver.
type CaptureRequest struct {
	Caller      common.Address
	Terms       payments.Terms
	Amount      uint64
	FeeBps      uint16
	FeeReceiver common.Address
}

// VoidRequest cancels the remaining authorization; the operator returns the
// held funds to the payer.
type VoidRequest struct {
	Caller common.Address
	Terms  payments.Terms
}

// ReclaimRequest lets the payer recover the remaining authorization once the
// authorization window has lapsed without the operator acting.
type ReclaimRequest struct {
	Caller common.Address
	Terms  payments.Terms
}

// RefundRequest returns already-settled value to the payer. The token store's
// balance funds it first; any shortfall is pulled from the operator through
// the named collector.
type RefundRequest struct {
	Caller        common.Address
	Terms         payments.Terms
	Amount        uint64
	Collector     string
	CollectorData []byte
}

// Charge collects amount from the payer and immediately disburses it: net to
// the receiver, fee to the fee receiver. The payment is left with no
// capturable balance and the full amount refundable.
func (s *Service) Charge(ctx context.Context, req ChargeRequest) (result Result, err error) {
	start := time.Now()
	defer func() { err = s.observe("charge", start, req.Amount, err) }()

	terms := req.Terms
	if err = terms.Validate(); err != nil {
		return Result{}, err
	}
	if req.Caller != terms.Operator {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeInvalidSender, nil)
	}
	if req.Amount == 0 {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeZeroAmount, nil)
	}
	if req.Amount > terms.MaxAmount {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeExceedsMaxAmount, nil)
	}
	if s.now().Unix() > terms.PreApprovalExpiry {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeAfterPreApprovalExpiry, nil)
	}
	fee, err := validateFee(terms, req.Amount, req.FeeBps, req.FeeReceiver)
	if err != nil {
		return Result{}, err
	}
	if _, ok := s.collectors.Lookup(req.Collector); !ok {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeCollectorNotFound, nil)
	}

	hash := terms.Hash()
	if err = s.begin(hash); err != nil {
		return Result{}, err
	}
	defer s.end(hash)

	state, err := s.loadState(ctx, hash)
	if err != nil {
		return Result{}, err
	}
	if state.HasCollectedPayment {
		return Result{}, payments.NewOperationError(apierrors.ErrCodePaymentAlreadyCollected, nil)
	}

	store, err := s.resolveStoreForCollection(ctx, terms.Operator)
	if err != nil {
		return Result{}, err
	}

	if err = s.collect(ctx, req.Collector, collector.Request{
		Sender:   s.address,
		Terms:    terms,
		Hash:     hash,
		Source:   terms.Payer,
		Store:    store.Address,
		Amount:   req.Amount,
		AuthData: req.CollectorData,
	}); err != nil {
		return Result{}, err
	}

	// Committed before disbursement: if a payout below fails, the full
	// amount stays refundable and the payer can be made whole through the
	// refund path.
	state = payments.State{HasCollectedPayment: true, CapturableAmount: 0, RefundableAmount: req.Amount}
	if err = s.commit(ctx, hash, state, events.Event{
		Type:        events.TypePaymentCharged,
		PaymentHash: hash,
		Operator:    terms.Operator,
		Payer:       terms.Payer,
		Receiver:    terms.Receiver,
		Caller:      req.Caller,
		TokenStore:  store.Address,
		Amount:      req.Amount,
		Fee:         fee,
	}); err != nil {
		return Result{}, err
	}

	if err = s.disburse(ctx, store.Address, terms, req.Amount, fee, req.FeeReceiver); err != nil {
		s.log.Error().Err(err).
			Str("hash", hash.Hex()).
			Uint64("amount", req.Amount).
			Msg("charge collected but disbursement failed; amount remains refundable")
		return Result{}, payments.NewOperationError(apierrors.ErrCodeInternalError, err)
	}

	s.log.Info().
		Str("hash", hash.Hex()).
		Uint64("amount", req.Amount).
		Uint64("fee", fee).
		Str("operator", terms.Operator.Hex()).
		Msg("payment charged")

	return Result{Hash: hash, State: state, TokenStore: store.Address, Amount: req.Amount, Fee: fee}, nil
}

// Authorize collects amount from the payer into the operator's token store
// without disbursing anything.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (result Result, err error) {
	start := time.Now()
	defer func() { err = s.observe("authorize", start, req.Amount, err) }()

	terms := req.Terms
	if err = terms.Validate(); err != nil {
		return Result{}, err
	}
	if req.Caller != terms.Operator {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeInvalidSender, nil)
	}
	if req.Amount == 0 {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeZeroAmount, nil)
	}
	if req.Amount > terms.MaxAmount {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeExceedsMaxAmount, nil)
	}
	if s.now().Unix() > terms.PreApprovalExpiry {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeAfterPreApprovalExpiry, nil)
	}
	if _, ok := s.collectors.Lookup(req.Collector); !ok {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeCollectorNotFound, nil)
	}

	hash := terms.Hash()
	if err = s.begin(hash); err != nil {
		return Result{}, err
	}
	defer s.end(hash)

	state, err := s.loadState(ctx, hash)
	if err != nil {
		return Result{}, err
	}
	if state.HasCollectedPayment {
		return Result{}, payments.NewOperationError(apierrors.ErrCodePaymentAlreadyCollected, nil)
	}

	store, err := s.resolveStoreForCollection(ctx, terms.Operator)
	if err != nil {
		return Result{}, err
	}

	if err = s.collect(ctx, req.Collector, collector.Request{
		Sender:   s.address,
		Terms:    terms,
		Hash:     hash,
		Source:   terms.Payer,
		Store:    store.Address,
		Amount:   req.Amount,
		AuthData: req.CollectorData,
	}); err != nil {
		return Result{}, err
	}

	state = payments.State{HasCollectedPayment: true, CapturableAmount: req.Amount, RefundableAmount: 0}
	if err = s.commit(ctx, hash, state, events.Event{
		Type:        events.TypePaymentAuthorized,
		PaymentHash: hash,
		Operator:    terms.Operator,
		Payer:       terms.Payer,
		Receiver:    terms.Receiver,
		Caller:      req.Caller,
		TokenStore:  store.Address,
		Amount:      req.Amount,
	}); err != nil {
		return Result{}, err
	}

	s.log.Info().
		Str("hash", hash.Hex()).
		Uint64("amount", req.Amount).
		Str("operator", terms.Operator.Hex()).
		Msg("payment authorized")

	return Result{Hash: hash, State: state, TokenStore: store.Address, Amount: req.Amount}, nil
}

// Capture settles amount of a prior authorization: net to the receiver, fee
// to the fee receiver. Partial captures may repeat until the capturable
// balance is exhausted or the authorization window lapses.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (result Result, err error) {
	start := time.Now()
	defer func() { err = s.observe("capture", start, req.Amount, err) }()

	terms := req.Terms
	if err = terms.Validate(); err != nil {
		return Result{}, err
	}
	if req.Caller != terms.Operator {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeInvalidSender, nil)
	}
	if req.Amount == 0 {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeZeroAmount, nil)
	}
	if s.now().Unix() > terms.AuthorizationExpiry {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeAfterAuthorizationExpiry, nil)
	}
	fee, err := validateFee(terms, req.Amount, req.FeeBps, req.FeeReceiver)
	if err != nil {
		return Result{}, err
	}

	hash := terms.Hash()
	if err = s.begin(hash); err != nil {
		return Result{}, err
	}
	defer s.end(hash)

	state, err := s.loadState(ctx, hash)
	if err != nil {
		return Result{}, err
	}
	if state.CapturableAmount == 0 {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeZeroAuthorization, nil)
	}
	if req.Amount > state.CapturableAmount {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeExceedsCapturable, nil)
	}

	store := s.settlementStore(terms.Operator)

	state.CapturableAmount -= req.Amount
	state.RefundableAmount += req.Amount
	if err = s.commit(ctx, hash, state, events.Event{
		Type:        events.TypePaymentCaptured,
		PaymentHash: hash,
		Operator:    terms.Operator,
		Payer:       terms.Payer,
		Receiver:    terms.Receiver,
		Caller:      req.Caller,
		TokenStore:  store.Address,
		Amount:      req.Amount,
		Fee:         fee,
	}); err != nil {
		return Result{}, err
	}

	if err = s.disburse(ctx, store.Address, terms, req.Amount, fee, req.FeeReceiver); err != nil {
		s.log.Error().Err(err).
			Str("hash", hash.Hex()).
			Uint64("amount", req.Amount).
			Msg("capture committed but disbursement failed; amount remains refundable")
		return Result{}, payments.NewOperationError(apierrors.ErrCodeInternalError, err)
	}

	s.log.Info().
		Str("hash", hash.Hex()).
		Uint64("amount", req.Amount).
		Uint64("fee", fee).
		Uint64("capturable", state.CapturableAmount).
		Msg("payment captured")

	return Result{Hash: hash, State: state, TokenStore: store.Address, Amount: req.Amount, Fee: fee}, nil
}

// Void cancels the remaining authorization and returns it to the payer. Only
// the operator may void; the refundable balance is untouched.
func (s *Service) Void(ctx context.Context, req VoidRequest) (Result, error) {
	return s.release(ctx, releaseRequest{
		op:     "void",
		event:  events.TypePaymentVoided,
		caller: req.Caller,
		terms:  req.Terms,
		check: func(terms payments.Terms, caller common.Address) error {
			if caller != terms.Operator {
				return payments.NewOperationError(apierrors.ErrCodeInvalidSender, nil)
			}
			return nil
		},
	})
}

// Reclaim returns the remaining authorization to the payer after the
// authorization window has lapsed. Only the payer may reclaim.
func (s *Service) Reclaim(ctx context.Context, req ReclaimRequest) (Result, error) {
	return s.release(ctx, releaseRequest{
		op:     "reclaim",
		event:  events.TypePaymentReclaimed,
		caller: req.Caller,
		terms:  req.Terms,
		check: func(terms payments.Terms, caller common.Address) error {
			if caller != terms.Payer {
				return payments.NewOperationError(apierrors.ErrCodeInvalidPayer, nil)
			}
			if s.now().Unix() <= terms.AuthorizationExpiry {
				return payments.NewOperationError(apierrors.ErrCodeBeforeAuthorizationExpiry, nil)
			}
			return nil
		},
	})
}

// releaseRequest parameterizes the two operations that hand the remaining
// capturable balance back to the payer.
type releaseRequest struct {
	op     string
	event  events.Type
	caller common.Address
	terms  payments.Terms
	check  func(payments.Terms, common.Address) error
}

func (s *Service) release(ctx context.Context, req releaseRequest) (result Result, err error) {
	start := time.Now()
	var released uint64
	defer func() { err = s.observe(req.op, start, released, err) }()

	terms := req.terms
	if err = terms.Validate(); err != nil {
		return Result{}, err
	}
	if err = req.check(terms, req.caller); err != nil {
		return Result{}, err
	}

	hash := terms.Hash()
	if err = s.begin(hash); err != nil {
		return Result{}, err
	}
	defer s.end(hash)

	state, err := s.loadState(ctx, hash)
	if err != nil {
		return Result{}, err
	}
	if state.CapturableAmount == 0 {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeZeroAuthorization, nil)
	}

	released = state.CapturableAmount
	store := s.settlementStore(terms.Operator)

	state.CapturableAmount = 0
	if err = s.commit(ctx, hash, state, events.Event{
		Type:        req.event,
		PaymentHash: hash,
		Operator:    terms.Operator,
		Payer:       terms.Payer,
		Receiver:    terms.Receiver,
		Caller:      req.caller,
		TokenStore:  store.Address,
		Amount:      released,
	}); err != nil {
		return Result{}, err
	}

	if err = store.PayOut(ctx, s.ledger, terms.Token, terms.Payer, released); err != nil {
		s.log.Error().Err(err).
			Str("hash", hash.Hex()).
			Uint64("amount", released).
			Str("operation", req.op).
			Msg("authorization released but payout to payer failed")
		return Result{}, payments.NewOperationError(apierrors.ErrCodeInternalError, err)
	}

	s.log.Info().
		Str("hash", hash.Hex()).
		Uint64("amount", released).
		Str("operation", req.op).
		Msg("authorization released to payer")

	return Result{Hash: hash, State: state, TokenStore: store.Address, Amount: released}, nil
}

// Refund returns already-settled value to the payer, within the refund window
// and bounded by the refundable balance. The token store's balance funds the
// refund first; any shortfall is pulled from the operator through the named
// collector.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (result Result, err error) {
	start := time.Now()
	defer func() { err = s.observe("refund", start, req.Amount, err) }()

	terms := req.Terms
	if err = terms.Validate(); err != nil {
		return Result{}, err
	}
	if req.Caller != terms.Operator {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeInvalidSender, nil)
	}
	if req.Amount == 0 {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeZeroAmount, nil)
	}
	if s.now().Unix() > terms.RefundExpiry {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeAfterRefundExpiry, nil)
	}

	hash := terms.Hash()
	if err = s.begin(hash); err != nil {
		return Result{}, err
	}
	defer s.end(hash)

	state, err := s.loadState(ctx, hash)
	if err != nil {
		return Result{}, err
	}
	if req.Amount > state.RefundableAmount {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeRefundExceedsCapture, nil)
	}

	store := s.settlementStore(terms.Operator)

	// The store may hold less than the refund when prior captures already
	// paid the receiver out; the difference comes from operator float.
	balance, err := store.Balance(ctx, s.ledger, terms.Token)
	if err != nil {
		return Result{}, payments.NewOperationError(apierrors.ErrCodeInternalError, err)
	}
	if balance < req.Amount {
		shortfall := req.Amount - balance
		if err = s.collect(ctx, req.Collector, collector.Request{
			Sender:   s.address,
			Terms:    terms,
			Hash:     hash,
			Source:   terms.Operator,
			Store:    store.Address,
			Amount:   shortfall,
			AuthData: req.CollectorData,
		}); err != nil {
			return Result{}, err
		}
	}

	state.RefundableAmount -= req.Amount
	if err = s.commit(ctx, hash, state, events.Event{
		Type:        events.TypePaymentRefunded,
		PaymentHash: hash,
		Operator:    terms.Operator,
		Payer:       terms.Payer,
		Receiver:    terms.Receiver,
		Caller:      req.Caller,
		TokenStore:  store.Address,
		Amount:      req.Amount,
	}); err != nil {
		return Result{}, err
	}

	if err = store.PayOut(ctx, s.ledger, terms.Token, terms.Payer, req.Amount); err != nil {
		s.log.Error().Err(err).
			Str("hash", hash.Hex()).
			Uint64("amount", req.Amount).
			Msg("refund committed but payout to payer failed")
		return Result{}, payments.NewOperationError(apierrors.ErrCodeInternalError, err)
	}

	s.log.Info().
		Str("hash", hash.Hex()).
		Uint64("amount", req.Amount).
		Uint64("refundable", state.RefundableAmount).
		Msg("payment refunded")

	return Result{Hash: hash, State: state, TokenStore: store.Address, Amount: req.Amount}, nil
}

// disburse pays fee then net out of the store. Fee first: if the second
// transfer fails the fee receiver is whole and the remainder stays in
// custody, covered by the refundable balance.
func (s *Service) disburse(ctx context.Context, store common.Address, terms payments.Terms, amount, fee uint64, feeReceiver common.Address) error {
	if fee > 0 {
		if err := s.ledger.Transfer(ctx, terms.Token, store, feeReceiver, fee); err != nil {
			return err
		}
	}
	if net := amount - fee; net > 0 {
		if err := s.ledger.Transfer(ctx, terms.Token, store, terms.Receiver, net); err != nil {
			return err
		}
	}
	return nil
}
