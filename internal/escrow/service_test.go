package escrow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KeelPay/escrow/internal/collector"
	apierrors "github.com/KeelPay/escrow/internal/errors"
	"github.com/KeelPay/escrow/internal/events"
	"github.com/KeelPay/escrow/internal/ledger"
	"github.com/KeelPay/escrow/internal/storage"
	"github.com/KeelPay/escrow/pkg/payments"
)

var (
	escrowAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	operator    = common.HexToAddress("0x0000000000000000000000000000000000000011")
	payer       = common.HexToAddress("0x0000000000000000000000000000000000000022")
	receiver    = common.HexToAddress("0x0000000000000000000000000000000000000033")
	feeReceiver = common.HexToAddress("0x0000000000000000000000000000000000000044")
	outsider    = common.HexToAddress("0x0000000000000000000000000000000000000055")
	token       = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

const payerFunds = 1_000_000

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type fixture struct {
	t        *testing.T
	svc      *Service
	ledger   *ledger.MemoryLedger
	col      *collector.AllowanceCollector
	store    storage.Store
	clock    *fakeClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T, extra ...collector.Collector) *fixture {
	t.Helper()
	ctx := context.Background()

	l := ledger.NewMemoryLedger()
	if err := l.Mint(token, payer, payerFunds); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	col := collector.NewAllowanceCollector(escrowAddr, l)
	if err := l.Approve(ctx, token, payer, col.Address(), payerFunds); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	notifier := &recordingNotifier{}
	store := storage.NewMemoryStore()

	svc := NewService(escrowAddr, l, store, collector.NewRegistry(append([]collector.Collector{col}, extra...)...),
		WithClock(clock.Now),
		WithNotifier(notifier),
	)

	return &fixture{t: t, svc: svc, ledger: l, col: col, store: store, clock: clock, notifier: notifier}
}

// terms returns a valid record with all windows open; the salt keeps hashes
// distinct across subtests sharing one fixture.
func (f *fixture) terms(salt byte) payments.Terms {
	now := f.clock.Now().Unix()
	return payments.Terms{
		Operator:            operator,
		Payer:               payer,
		Receiver:            receiver,
		Token:               token,
		MaxAmount:           1000,
		PreApprovalExpiry:   now + 3600,
		AuthorizationExpiry: now + 7200,
		RefundExpiry:        now + 10800,
		MinFeeBps:           0,
		MaxFeeBps:           500,
		FeeReceiver:         feeReceiver,
		Salt:                common.Hash{31: salt},
	}
}

func (f *fixture) balance(account common.Address) uint64 {
	f.t.Helper()
	bal, err := f.ledger.BalanceOf(context.Background(), token, account)
	if err != nil {
		f.t.Fatalf("BalanceOf() error = %v", err)
	}
	return bal
}

func requireCode(t *testing.T, err error, code apierrors.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code %s, got nil", code)
	}
	if got := payments.CodeOf(err); got != code {
		t.Fatalf("error code = %s, want %s (err: %v)", got, code, err)
	}
}

func TestCharge_CollectsAndDisburses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := f.terms(1)

	res, err := f.svc.Charge(ctx, ChargeRequest{
		Caller:      operator,
		Terms:       terms,
		Amount:      100,
		FeeBps:      250,
		FeeReceiver: feeReceiver,
		Collector:   "allowance",
	})
	if err != nil {
		t.Fatalf("Charge() error = %v", err)
	}

	// fee = floor(100 * 250 / 10000) = 2
	if res.Fee != 2 {
		t.Errorf("fee = %d, want 2", res.Fee)
	}
	want := payments.State{HasCollectedPayment: true, CapturableAmount: 0, RefundableAmount: 100}
	if res.State != want {
		t.Errorf("state = %+v, want %+v", res.State, want)
	}

	if got := f.balance(payer); got != payerFunds-100 {
		t.Errorf("payer balance = %d, want %d", got, payerFunds-100)
	}
	if got := f.balance(receiver); got != 98 {
		t.Errorf("receiver balance = %d, want 98", got)
	}
	if got := f.balance(feeReceiver); got != 2 {
		t.Errorf("fee receiver balance = %d, want 2", got)
	}
	if got := f.balance(res.TokenStore); got != 0 {
		t.Errorf("token store balance = %d, want 0 after full disbursement", got)
	}

	evs, err := f.svc.Events(ctx, storage.EventFilter{PaymentHash: res.Hash})
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(evs) != 1 || evs[0].Type != events.TypePaymentCharged {
		t.Fatalf("events = %+v, want one payment.charged", evs)
	}
	if evs[0].Amount != 100 || evs[0].Fee != 2 {
		t.Errorf("charged event amount/fee = %d/%d, want 100/2", evs[0].Amount, evs[0].Fee)
	}
	if f.notifier.count() != 2 { // token_store.created + payment.charged
		t.Errorf("notified %d events, want 2", f.notifier.count())
	}
}

func TestCharge_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := ChargeRequest{Caller: operator, Amount: 100, Collector: "allowance"}

	tests := []struct {
		name    string
		mutate  func(*ChargeRequest)
		advance time.Duration
		want    apierrors.ErrorCode
	}{
		{
			name:   "wrong caller",
			mutate: func(r *ChargeRequest) { r.Caller = outsider },
			want:   apierrors.ErrCodeInvalidSender,
		},
		{
			name:   "zero amount",
			mutate: func(r *ChargeRequest) { r.Amount = 0 },
			want:   apierrors.ErrCodeZeroAmount,
		},
		{
			name:   "exceeds max amount",
			mutate: func(r *ChargeRequest) { r.Amount = 1001 },
			want:   apierrors.ErrCodeExceedsMaxAmount,
		},
		{
			name:   "fee bps above terms bound",
			mutate: func(r *ChargeRequest) { r.FeeBps = 501; r.FeeReceiver = feeReceiver },
			want:   apierrors.ErrCodeFeeBpsOutOfRange,
		},
		{
			name:   "nonzero fee with zero fee receiver",
			mutate: func(r *ChargeRequest) { r.FeeBps = 250; r.FeeReceiver = common.Address{} },
			want:   apierrors.ErrCodeZeroFeeReceiver,
		},
		{
			name:   "unknown collector",
			mutate: func(r *ChargeRequest) { r.Collector = "carrier-pigeon" },
			want:   apierrors.ErrCodeCollectorNotFound,
		},
		{
			name:    "after pre-approval expiry",
			mutate:  func(*ChargeRequest) {},
			advance: 2 * time.Hour,
			want:    apierrors.ErrCodeAfterPreApprovalExpiry,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			req.Terms = f.terms(byte(10 + i))
			tt.mutate(&req)
			if tt.advance > 0 {
				f.clock.Advance(tt.advance)
				defer f.clock.Advance(-tt.advance)
			}
			_, err := f.svc.Charge(ctx, req)
			requireCode(t, err, tt.want)
		})
	}

	// No precondition failure may move money.
	if got := f.balance(payer); got != payerFunds {
		t.Errorf("payer balance = %d after failed charges, want %d", got, payerFunds)
	}
}

func TestCharge_RejectsMalformedTerms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	terms := f.terms(1)
	terms.MaxFeeBps = payments.MaxBps + 1
	_, err := f.svc.Charge(ctx, ChargeRequest{Caller: operator, Terms: terms, Amount: 10, Collector: "allowance"})
	requireCode(t, err, apierrors.ErrCodeFeeBpsOverflow)

	terms = f.terms(2)
	terms.AuthorizationExpiry = terms.RefundExpiry + 1
	_, err = f.svc.Charge(ctx, ChargeRequest{Caller: operator, Terms: terms, Amount: 10, Collector: "allowance"})
	requireCode(t, err, apierrors.ErrCodeInvalidExpiries)
}

func TestCollection_IsPermanentlyOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := f.terms(1)

	if _, err := f.svc.Charge(ctx, ChargeRequest{Caller: operator, Terms: terms, Amount: 50, Collector: "allowance"}); err != nil {
		t.Fatalf("Charge() error = %v", err)
	}

	_, err := f.svc.Charge(ctx, ChargeRequest{Caller: operator, Terms: terms, Amount: 50, Collector: "allowance"})
	requireCode(t, err, apierrors.ErrCodePaymentAlreadyCollected)

	_, err = f.svc.Authorize(ctx, AuthorizeRequest{Caller: operator, Terms: terms, Amount: 50, Collector: "allowance"})
	requireCode(t, err, apierrors.ErrCodePaymentAlreadyCollected)

	// A different salt is a different payment.
	if _, err := f.svc.Authorize(ctx, AuthorizeRequest{Caller: operator, Terms: f.terms(2), Amount: 50, Collector: "allowance"}); err != nil {
		t.Fatalf("Authorize() with fresh salt error = %v", err)
	}
}

// The canonical lifecycle: authorize 100, capture 60 at 250 bps, void the
// remainder.
func TestAuthorizeCaptureVoid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := f.terms(1)

	res, err := f.svc.Authorize(ctx, AuthorizeRequest{Caller: operator, Terms: terms, Amount: 100, Collector: "allowance"})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if want := (payments.State{HasCollectedPayment: true, CapturableAmount: 100}); res.State != want {
		t.Fatalf("state after authorize = %+v, want %+v", res.State, want)
	}
	if got := f.balance(res.TokenStore); got != 100 {
		t.Fatalf("token store balance = %d, want 100", got)
	}
	if got := f.balance(payer); got != payerFunds-100 {
		t.Fatalf("payer balance = %d, want %d", got, payerFunds-100)
	}

	res, err = f.svc.Capture(ctx, CaptureRequest{Caller: operator, Terms: terms, Amount: 60, FeeBps: 250, FeeReceiver: feeReceiver})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	// fee = floor(60 * 250 / 10000) = 1, net = 59
	if res.Fee != 1 {
		t.Errorf("fee = %d, want 1", res.Fee)
	}
	if want := (payments.State{HasCollectedPayment: true, CapturableAmount: 40, RefundableAmount: 60}); res.State != want {
		t.Errorf("state after capture = %+v, want %+v", res.State, want)
	}
	if got := f.balance(receiver); got != 59 {
		t.Errorf("receiver balance = %d, want 59", got)
	}
	if got := f.balance(feeReceiver); got != 1 {
		t.Errorf("fee receiver balance = %d, want 1", got)
	}

	res, err = f.svc.Void(ctx, VoidRequest{Caller: operator, Terms: terms})
	if err != nil {
		t.Fatalf("Void() error = %v", err)
	}
	if res.Amount != 40 {
		t.Errorf("voided amount = %d, want 40", res.Amount)
	}
	if want := (payments.State{HasCollectedPayment: true, CapturableAmount: 0, RefundableAmount: 60}); res.State != want {
		t.Errorf("state after void = %+v, want %+v", res.State, want)
	}
	if got := f.balance(payer); got != payerFunds-60 {
		t.Errorf("payer balance = %d, want %d", got, payerFunds-60)
	}
	if got := f.balance(res.TokenStore); got != 0 {
		t.Errorf("token store balance = %d, want 0", got)
	}

	evs, err := f.svc.Events(ctx, storage.EventFilter{PaymentHash: res.Hash})
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	wantTypes := []events.Type{events.TypePaymentAuthorized, events.TypePaymentCaptured, events.TypePaymentVoided}
	if len(evs) != len(wantTypes) {
		t.Fatalf("got %d events, want %d", len(evs), len(wantTypes))
	}
	for i, want := range wantTypes {
		if evs[i].Type != want {
			t.Errorf("event[%d] = %s, want %s", i, evs[i].Type, want)
		}
	}
}

func TestCapture_Bounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := f.terms(1)

	if _, err := f.svc.Authorize(ctx, AuthorizeRequest{Caller: operator, Terms: terms, Amount: 100, Collector: "allowance"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	_, err := f.svc.Capture(ctx, CaptureRequest{Caller: operator, Terms: terms, Amount: 101})
	requireCode(t, err, apierrors.ErrCodeExceedsCapturable)

	_, err = f.svc.Capture(ctx, CaptureRequest{Caller: outsider, Terms: terms, Amount: 10})
	requireCode(t, err, apierrors.ErrCodeInvalidSender)

	// Partial captures accumulate until the balance is exhausted.
	for _, amount := range []uint64{30, 70} {
		if _, err := f.svc.Capture(ctx, CaptureRequest{Caller: operator, Terms: terms, Amount: amount}); err != nil {
			t.Fatalf("Capture(%d) error = %v", amount, err)
		}
	}
	_, err = f.svc.Capture(ctx, CaptureRequest{Caller: operator, Terms: terms, Amount: 1})
	requireCode(t, err, apierrors.ErrCodeZeroAuthorization)

	if got := f.balance(receiver); got != 100 {
		t.Errorf("receiver balance = %d, want 100", got)
	}
}

func TestCapture_AfterAuthorizationExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := f.terms(1)

	if _, err := f.svc.Authorize(ctx, AuthorizeRequest{Caller: operator, Terms: terms, Amount: 100, Collector: "allowance"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	f.clock.Advance(3 * time.Hour)
	_, err := f.svc.Capture(ctx, CaptureRequest{Caller: operator, Terms: terms, Amount: 10})
	requireCode(t, err, apierrors.ErrCodeAfterAuthorizationExpiry)
}

func TestReclaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := f.terms(1)

	if _, err := f.svc.Authorize(ctx, AuthorizeRequest{Caller: operator, Terms: terms, Amount: 100, Collector: "allowance"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	// The window must lapse first.
	_, err := f.svc.Reclaim(ctx, ReclaimRequest{Caller: payer, Terms: terms})
	requireCode(t, err, apierrors.ErrCodeBeforeAuthorizationExpiry)

	f.clock.Advance(3 * time.Hour)

	_, err = f.svc.Reclaim(ctx, ReclaimRequest{Caller: operator, Terms: terms})
	requireCode(t, err, apierrors.ErrCodeInvalidPayer)

	res, err := f.svc.Reclaim(ctx, ReclaimRequest{Caller: payer, Terms: terms})
	if err != nil {
		t.Fatalf("Reclaim() error = %v", err)
	}
	if res.Amount != 100 {
		t.Errorf("reclaimed amount = %d, want 100", res.Amount)
	}
	if got := f.balance(payer); got != payerFunds {
		t.Errorf("payer balance = %d, want %d", got, payerFunds)
	}

	_, err = f.svc.Reclaim(ctx, ReclaimRequest{Caller: payer, Terms: terms})
	requireCode(t, err, apierrors.ErrCodeZeroAuthorization)
}

func TestRefund_FromStoreBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := f.terms(1)

	if _, err := f.svc.Authorize(ctx, AuthorizeRequest{Caller: operator, Terms: terms, Amount: 100, Collector: "allowance"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if _, err := f.svc.Capture(ctx, CaptureRequest{Caller: operator, Terms: terms, Amount: 30}); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	// Store still holds 70; a 30 refund needs no collector at all.
	res, err := f.svc.Refund(ctx, RefundRequest{Caller: operator, Terms: terms, Amount: 30})
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if res.State.RefundableAmount != 0 {
		t.Errorf("refundable = %d, want 0", res.State.RefundableAmount)
	}
	if got := f.balance(payer); got != payerFunds-70 {
		t.Errorf("payer balance = %d, want %d", got, payerFunds-70)
	}
}

func TestRefund_PullsShortfallFromOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := f.terms(1)

	// A charge disburses everything, so the store is empty and any refund is
	// funded by operator float.
	if _, err := f.svc.Charge(ctx, ChargeRequest{Caller: operator, Terms: terms, Amount: 100, Collector: "allowance"}); err != nil {
		t.Fatalf("Charge() error = %v", err)
	}

	// Without operator funds behind the collector the refund must fail
	// without touching state.
	_, err := f.svc.Refund(ctx, RefundRequest{Caller: operator, Terms: terms, Amount: 40, Collector: "allowance"})
	requireCode(t, err, apierrors.ErrCodeInvalidAllowance)

	if err := f.ledger.Mint(token, operator, 500); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := f.ledger.Approve(ctx, token, operator, f.col.Address(), 500); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	res, err := f.svc.Refund(ctx, RefundRequest{Caller: operator, Terms: terms, Amount: 40, Collector: "allowance"})
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if res.State.RefundableAmount != 60 {
		t.Errorf("refundable = %d, want 60", res.State.RefundableAmount)
	}
	if got := f.balance(payer); got != payerFunds-100+40 {
		t.Errorf("payer balance = %d, want %d", got, payerFunds-100+40)
	}
	if got := f.balance(operator); got != 460 {
		t.Errorf("operator balance = %d, want 460", got)
	}
}

func TestRefund_Bounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := f.terms(1)

	if _, err := f.svc.Authorize(ctx, AuthorizeRequest{Caller: operator, Terms: terms, Amount: 100, Collector: "allowance"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if _, err := f.svc.Capture(ctx, CaptureRequest{Caller: operator, Terms: terms, Amount: 50}); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	_, err := f.svc.Refund(ctx, RefundRequest{Caller: payer, Terms: terms, Amount: 10})
	requireCode(t, err, apierrors.ErrCodeInvalidSender)

	_, err = f.svc.Refund(ctx, RefundRequest{Caller: operator, Terms: terms, Amount: 51})
	requireCode(t, err, apierrors.ErrCodeRefundExceedsCapture)

	f.clock.Advance(4 * time.Hour)
	_, err = f.svc.Refund(ctx, RefundRequest{Caller: operator, Terms: terms, Amount: 10})
	requireCode(t, err, apierrors.ErrCodeAfterRefundExpiry)
}

// reenteringCollector calls back into the engine for the same payment, as a
// malicious pull strategy would.
type reenteringCollector struct {
	svc *Service
}

func (c *reenteringCollector) Name() string { return "reentering" }

func (c *reenteringCollector) Collect(ctx context.Context, req collector.Request) error {
	_, err := c.svc.Charge(ctx, ChargeRequest{
		Caller:    req.Terms.Operator,
		Terms:     req.Terms,
		Amount:    req.Amount,
		Collector: "allowance",
	})
	return err
}

func TestReentrantCollectorIsRejected(t *testing.T) {
	reenter := &reenteringCollector{}
	f := newFixture(t, reenter)
	reenter.svc = f.svc
	ctx := context.Background()
	terms := f.terms(1)

	_, err := f.svc.Charge(ctx, ChargeRequest{Caller: operator, Terms: terms, Amount: 100, Collector: "reentering"})
	requireCode(t, err, apierrors.ErrCodeReentrantCall)

	// The aborted call left no trace.
	state, err := f.svc.PaymentState(ctx, terms.Hash())
	if err != nil {
		t.Fatalf("PaymentState() error = %v", err)
	}
	if state != (payments.State{}) {
		t.Errorf("state = %+v, want zero after rejected reentrant charge", state)
	}
	if got := f.balance(payer); got != payerFunds {
		t.Errorf("payer balance = %d, want %d", got, payerFunds)
	}
}

func TestTokenStore_CreatedOncePerOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for salt := byte(1); salt <= 3; salt++ {
		if _, err := f.svc.Authorize(ctx, AuthorizeRequest{Caller: operator, Terms: f.terms(salt), Amount: 10, Collector: "allowance"}); err != nil {
			t.Fatalf("Authorize(%d) error = %v", salt, err)
		}
	}

	evs, err := f.svc.Events(ctx, storage.EventFilter{})
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	created := 0
	for _, ev := range evs {
		if ev.Type == events.TypeTokenStoreCreated {
			created++
			if ev.TokenStore != f.svc.TokenStoreAddress(operator) {
				t.Errorf("creation event store = %s, want %s", ev.TokenStore, f.svc.TokenStoreAddress(operator))
			}
		}
	}
	if created != 1 {
		t.Errorf("token_store.created emitted %d times, want 1", created)
	}

	if got, err := f.svc.TokenStoreBalance(ctx, operator, token); err != nil || got != 30 {
		t.Errorf("TokenStoreBalance() = %d, %v, want 30, nil", got, err)
	}
}

func TestHashTerms(t *testing.T) {
	f := newFixture(t)

	a, err := f.svc.HashTerms(f.terms(1))
	if err != nil {
		t.Fatalf("HashTerms() error = %v", err)
	}
	b, err := f.svc.HashTerms(f.terms(2))
	if err != nil {
		t.Fatalf("HashTerms() error = %v", err)
	}
	if a == b {
		t.Error("distinct salts produced the same hash")
	}

	bad := f.terms(3)
	bad.MinFeeBps = 600 // above MaxFeeBps
	if _, err := f.svc.HashTerms(bad); err == nil {
		t.Error("HashTerms() accepted malformed terms")
	}
}

// Conservation across a mixed sequence: every unit leaving the payer lands
// with the receiver, the fee receiver, or back with the payer.
func TestConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := f.terms(1)

	if _, err := f.svc.Authorize(ctx, AuthorizeRequest{Caller: operator, Terms: terms, Amount: 500, Collector: "allowance"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if _, err := f.svc.Capture(ctx, CaptureRequest{Caller: operator, Terms: terms, Amount: 200, FeeBps: 500, FeeReceiver: feeReceiver}); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if _, err := f.svc.Void(ctx, VoidRequest{Caller: operator, Terms: terms}); err != nil {
		t.Fatalf("Void() error = %v", err)
	}

	store := f.svc.TokenStoreAddress(operator)
	total := f.balance(payer) + f.balance(receiver) + f.balance(feeReceiver) + f.balance(store)
	if total != payerFunds {
		t.Errorf("total balance = %d, want %d", total, payerFunds)
	}
	// fee = floor(200 * 500 / 10000) = 10
	if got := f.balance(feeReceiver); got != 10 {
		t.Errorf("fee receiver balance = %d, want 10", got)
	}
	if got := f.balance(receiver); got != 190 {
		t.Errorf("receiver balance = %d, want 190", got)
	}
	if got := f.balance(payer); got != payerFunds-200 {
		t.Errorf("payer balance = %d, want %d", got, payerFunds-200)
	}
}
