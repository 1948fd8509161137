package sponsor

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/platform/retry"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
)

type scriptedRelay struct {
	mu       sync.Mutex
	failures int
	calls    int
	key      ed25519.PrivateKey
	requests []SponsorRequest
	tamper   bool
}

func newScriptedRelay(failures int) *scriptedRelay {
	return &scriptedRelay{failures: failures, key: ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))}
}

func (r *scriptedRelay) Sponsor(_ context.Context, req SponsorRequest) (SponsoredTx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.requests = append(r.requests, req)
	if r.calls <= r.failures {
		return SponsoredTx{}, errors.New("relay unavailable")
	}
	if _, err := ledger.DecodeCall(req.TxKind); err != nil {
		return SponsoredTx{}, errors.New("invalid transaction kind")
	}
	data := ledger.TransactionData{
		Kind:       req.TxKind,
		Sender:     req.Sender,
		GasOwner:   ledger.AddressFromPublicKey(r.key.Public().(ed25519.PublicKey)),
		GasPayment: req.FeeUnit,
		GasBudget:  req.GasBudget,
	}
	if r.tamper {
		data.Sender = "0xother"
	}
	txBytes := data.Encode()
	return SponsoredTx{TxBytes: txBytes, SponsorSignature: ledger.SignEd25519(r.key, txBytes)}, nil
}

func (r *scriptedRelay) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeExecutor struct {
	mu        sync.Mutex
	executed  int
	waits     int
	status    ledger.ExecutionStatus
	execErr   error
	landed    map[string]ledger.TxResponse
	lastSigs  []string
	lastBytes []byte
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{status: ledger.ExecutionSuccess, landed: map[string]ledger.TxResponse{}}
}

func (e *fakeExecutor) ExecuteTransaction(_ context.Context, txBytes []byte, sigs []string, _ ledger.ExecuteOptions) (ledger.TxResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed++
	e.lastSigs = sigs
	e.lastBytes = txBytes
	digest := ledger.TransactionDigest(txBytes)
	resp := ledger.TxResponse{Digest: digest, Status: e.status}
	if e.status == ledger.ExecutionFailure {
		resp.Error = "MoveAbort(single_player_blackjack, 3)"
	}
	e.landed[digest] = resp
	if e.execErr != nil {
		return ledger.TxResponse{}, e.execErr
	}
	return resp, nil
}

func (e *fakeExecutor) WaitForTransaction(_ context.Context, digest string) (ledger.TxResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waits++
	resp, ok := e.landed[digest]
	if !ok {
		return ledger.TxResponse{}, ledger.ErrTransactionNotFound
	}
	return resp, nil
}

func testSigner(t *testing.T) *Ed25519Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	return NewEd25519Signer(ed25519.NewKeyFromSeed(seed))
}

func testCall() ledger.Call {
	return ledger.Call{
		Package:  "0xpkg",
		Module:   "single_player_blackjack",
		Function: "do_hit",
		Args:     []ledger.Arg{ledger.ObjectArg("0xgame"), ledger.ObjectArg("0xreq"), ledger.BytesArg([]byte{1, 2}), ledger.ObjectArg("0xhouse")},
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		Delays:      []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond},
		MaxAttempts: 4,
	}
}

func TestSubmitRetriesSponsorshipOnSchedule(t *testing.T) {
	relay := newScriptedRelay(2)
	exec := newFakeExecutor()
	signer := testSigner(t)

	var delays []time.Duration
	var attempts []Attempt
	policy := fastPolicy().WithNotify(func(_ int, _ error, d time.Duration) {
		delays = append(delays, d)
	})
	p := NewPipeline(relay, exec, signer, Options{
		Policy:   policy,
		Observer: func(a Attempt) { attempts = append(attempts, a) },
	})

	res, err := p.Submit(context.Background(), SubmitRequest{Call: testCall(), FeeUnit: "0xgas1", GameID: "0xgame"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SponsorAttempts != 3 {
		t.Fatalf("sponsor attempts = %d, want 3", res.SponsorAttempts)
	}
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Fatalf("delays = %v, want [1ms 2ms]", delays)
	}
	if len(attempts) != 3 {
		t.Fatalf("observed %d attempts, want 3", len(attempts))
	}
	for i, a := range attempts {
		if a.AttemptIndex != i+1 {
			t.Fatalf("attempt %d index = %d", i, a.AttemptIndex)
		}
		if a.PayloadDigest != attempts[0].PayloadDigest {
			t.Fatal("payload digest changed between attempts")
		}
	}
	if attempts[2].Outcome != OutcomeSponsored || attempts[0].Outcome != OutcomeFailed {
		t.Fatalf("unexpected outcomes: %+v", attempts)
	}
	if exec.executed != 1 {
		t.Fatalf("executed %d times, want 1", exec.executed)
	}
	if len(exec.lastSigs) != 2 {
		t.Fatalf("signatures = %d, want 2", len(exec.lastSigs))
	}
	sender, err := ledger.VerifySignature(exec.lastSigs[0], exec.lastBytes)
	if err != nil || sender != signer.Address() {
		t.Fatalf("house signature: sender=%q err=%v", sender, err)
	}
	if relay.requests[0].FeeUnit != "0xgas1" || relay.requests[0].Sender != signer.Address() {
		t.Fatalf("unexpected sponsor request: %+v", relay.requests[0])
	}
	if res.Digest != ledger.TransactionDigest(exec.lastBytes) {
		t.Fatalf("digest = %q", res.Digest)
	}
}

func TestSubmitGivesUpAfterMaxAttempts(t *testing.T) {
	relay := newScriptedRelay(100)
	exec := newFakeExecutor()
	p := NewPipeline(relay, exec, testSigner(t), Options{Policy: fastPolicy()})

	_, err := p.Submit(context.Background(), SubmitRequest{Call: testCall()})
	if !apperrors.HasCode(err, apperrors.CodeSponsorshipExhausted) {
		t.Fatalf("err = %v, want SPONSORSHIP_EXHAUSTED", err)
	}
	if relay.callCount() != 4 {
		t.Fatalf("relay calls = %d, want 4", relay.callCount())
	}
	if exec.executed != 0 {
		t.Fatal("nothing should be executed without sponsorship")
	}
}

func TestSubmitForcedInvalidPayloadExhaustsRetries(t *testing.T) {
	relay := newScriptedRelay(0)
	exec := newFakeExecutor()
	var attempts []Attempt
	p := NewPipeline(relay, exec, testSigner(t), Options{
		Policy:              fastPolicy(),
		ForceInvalidPayload: true,
		Observer:            func(a Attempt) { attempts = append(attempts, a) },
	})

	_, err := p.Submit(context.Background(), SubmitRequest{Call: testCall()})
	if !apperrors.HasCode(err, apperrors.CodeSponsorshipExhausted) {
		t.Fatalf("err = %v, want SPONSORSHIP_EXHAUSTED", err)
	}
	if len(attempts) != 4 {
		t.Fatalf("attempts = %d, want 4", len(attempts))
	}
	for _, a := range attempts {
		if a.Outcome != OutcomeFailed {
			t.Fatalf("attempt %d outcome = %s", a.AttemptIndex, a.Outcome)
		}
	}
}

func TestSubmitDoesNotRetryRejectedExecution(t *testing.T) {
	relay := newScriptedRelay(0)
	exec := newFakeExecutor()
	exec.status = ledger.ExecutionFailure
	p := NewPipeline(relay, exec, testSigner(t), Options{Policy: fastPolicy()})

	res, err := p.Submit(context.Background(), SubmitRequest{Call: testCall()})
	if !apperrors.HasCode(err, apperrors.CodeExecutionRejected) {
		t.Fatalf("err = %v, want EXECUTION_REJECTED", err)
	}
	if exec.executed != 1 || relay.callCount() != 1 {
		t.Fatalf("executed=%d relay=%d, want 1/1", exec.executed, relay.callCount())
	}
	if res.Digest == "" {
		t.Fatal("expected digest on rejected execution")
	}
}

func TestSubmitRecoversLandedTransactionAfterTransportError(t *testing.T) {
	relay := newScriptedRelay(0)
	exec := newFakeExecutor()
	exec.execErr = apperrors.New(apperrors.CodeTransientNetwork, "connection reset")
	p := NewPipeline(relay, exec, testSigner(t), Options{Policy: fastPolicy()})

	res, err := p.Submit(context.Background(), SubmitRequest{Call: testCall()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if exec.executed != 1 {
		t.Fatalf("executed = %d, want 1", exec.executed)
	}
	if exec.waits == 0 {
		t.Fatal("expected a digest lookup after the transport error")
	}
	if !res.Response.Succeeded() {
		t.Fatalf("response = %+v", res.Response)
	}
}

func TestSubmitRejectsTamperedSponsorship(t *testing.T) {
	relay := newScriptedRelay(0)
	relay.tamper = true
	exec := newFakeExecutor()
	p := NewPipeline(relay, exec, testSigner(t), Options{Policy: fastPolicy()})

	_, err := p.Submit(context.Background(), SubmitRequest{Call: testCall()})
	if !apperrors.HasCode(err, apperrors.CodeSponsorshipExhausted) {
		t.Fatalf("err = %v, want SPONSORSHIP_EXHAUSTED", err)
	}
	if exec.executed != 0 {
		t.Fatal("tampered transaction must not be executed")
	}
}

func TestSubmitAwaitsFinality(t *testing.T) {
	relay := newScriptedRelay(0)
	exec := newFakeExecutor()
	p := NewPipeline(relay, exec, testSigner(t), Options{Policy: fastPolicy(), AwaitFinality: true})

	if _, err := p.Submit(context.Background(), SubmitRequest{Call: testCall()}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if exec.waits != 1 {
		t.Fatalf("waits = %d, want 1", exec.waits)
	}
}

func TestFeePoolLeaseAndRelease(t *testing.T) {
	pool := NewFeePool([]string{"0xa", " 0xa", "0xb", ""})
	if pool.Size() != 2 {
		t.Fatalf("size = %d, want 2", pool.Size())
	}
	u1, rel1, err := pool.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	u2, rel2, err := pool.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if u1 == u2 {
		t.Fatalf("leased %q twice", u1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := pool.Lease(ctx); !apperrors.HasCode(err, apperrors.CodeFeeUnitBusy) {
		t.Fatalf("err = %v, want FEE_UNIT_BUSY", err)
	}

	rel1()
	rel1()
	if pool.Available() != 1 {
		t.Fatalf("available = %d, want 1", pool.Available())
	}
	rel2()
	if pool.Available() != 2 {
		t.Fatalf("available = %d, want 2", pool.Available())
	}
}

func TestEmptyFeePoolLeasesEmptyUnit(t *testing.T) {
	pool := NewFeePool(nil)
	unit, release, err := pool.Lease(context.Background())
	if err != nil || unit != "" {
		t.Fatalf("unit=%q err=%v", unit, err)
	}
	release()
}

func TestParseEd25519Signer(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	want := NewEd25519Signer(ed25519.NewKeyFromSeed(seed)).Address()

	hexSeed := "07" + "00000000000000000000000000000000000000000000000000000000000000"
	s, err := ParseEd25519Signer(hexSeed)
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if s.Address() != want {
		t.Fatalf("address = %q, want %q", s.Address(), want)
	}
	if _, err := ParseEd25519Signer("0x00" + hexSeed); err != nil {
		t.Fatalf("parse flagged hex: %v", err)
	}
	if _, err := ParseEd25519Signer("abcd"); err == nil {
		t.Fatal("expected short key error")
	}
}
