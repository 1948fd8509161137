// Package sponsor submits house transactions through a fee-sponsorship
// relay: sponsor with retry, co-sign, execute, confirm.
package sponsor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/platform/otel"
	"github.com/louisbranch/housedealer/internal/platform/retry"
	"github.com/louisbranch/housedealer/internal/platform/timeouts"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
)

// DefaultGasBudget is the budget requested from the sponsor.
const DefaultGasBudget uint64 = 50_000_000

// invalidPayload replaces the transaction kind in forced-failure mode.
var invalidPayload = []byte("\xffinvalid-transaction-kind")

// Outcome is the result of one sponsorship attempt.
type Outcome string

const (
	OutcomeSponsored Outcome = "sponsored"
	OutcomeFailed    Outcome = "failed"
)

// Attempt records one sponsorship request. It only feeds retry
// bookkeeping, metrics and logs.
type Attempt struct {
	PayloadDigest string
	AttemptIndex  int
	Outcome       Outcome
	Err           error
}

// AttemptObserver receives every sponsorship attempt.
type AttemptObserver func(Attempt)

// Executor is the part of the ledger the pipeline writes to.
type Executor interface {
	ExecuteTransaction(ctx context.Context, txBytes []byte, signatures []string, opts ledger.ExecuteOptions) (ledger.TxResponse, error)
	WaitForTransaction(ctx context.Context, digest string) (ledger.TxResponse, error)
}

// Options configures a Pipeline.
type Options struct {
	// Policy drives sponsorship retries. Every relay failure is retried.
	Policy                 retry.Policy
	GasBudget              uint64
	AllowedMoveCallTargets []string
	AllowedAddresses       []string
	RelayTimeout           time.Duration
	FinalityTimeout        time.Duration
	// AwaitFinality polls the ledger for the digest after execution.
	AwaitFinality bool
	// ForceInvalidPayload sends a corrupt payload so the relay rejects
	// every attempt. Used to exercise the retry path.
	ForceInvalidPayload bool
	Observer            AttemptObserver
	Logger              *zap.Logger
}

// Pipeline submits sponsored transactions.
type Pipeline struct {
	relay    Relay
	executor Executor
	signer   Signer
	opts     Options
	tracer   trace.Tracer
}

// NewPipeline builds a pipeline. Zero options take defaults.
func NewPipeline(relay Relay, executor Executor, signer Signer, opts Options) *Pipeline {
	opts.Policy = opts.Policy.Normalized()
	if opts.GasBudget == 0 {
		opts.GasBudget = DefaultGasBudget
	}
	if opts.RelayTimeout <= 0 {
		opts.RelayTimeout = timeouts.RelayCall
	}
	if opts.FinalityTimeout <= 0 {
		opts.FinalityTimeout = timeouts.Finality
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		relay:    relay,
		executor: executor,
		signer:   signer,
		opts:     opts,
		tracer:   otel.Tracer("sponsor"),
	}
}

// SubmitRequest is one house transaction.
type SubmitRequest struct {
	Call ledger.Call
	// FeeUnit is the gas object leased for this submission.
	FeeUnit string
	// GameID is used for logs and traces only.
	GameID string
}

// Result describes a successful submission.
type Result struct {
	Digest          string
	Response        ledger.TxResponse
	SponsorAttempts int
}

// Submit runs the full pipeline. Failures come back as SPONSORSHIP_EXHAUSTED,
// EXECUTION_REJECTED, FINALITY_TIMEOUT or TRANSIENT_NETWORK. Execution is
// never retried: once signed bytes leave the process only the ledger knows
// whether they landed.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "sponsor.Submit", trace.WithAttributes(
		attribute.String("dealer.game_id", req.GameID),
		attribute.String("dealer.call", req.Call.Target()),
		attribute.String("dealer.fee_unit", req.FeeUnit),
	))
	defer span.End()

	res, err := p.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		return res, err
	}
	span.SetAttributes(attribute.String("dealer.tx_digest", res.Digest))
	return res, nil
}

func (p *Pipeline) submit(ctx context.Context, req SubmitRequest) (Result, error) {
	logger := p.opts.Logger.With(zap.String("game_id", req.GameID), zap.String("call", req.Call.Function))

	kind := ledger.EncodeCall(req.Call)
	if p.opts.ForceInvalidPayload {
		kind = invalidPayload
	}
	payloadDigest := ledger.TransactionDigest(kind)

	sponsored, attempts, err := p.sponsor(ctx, kind, payloadDigest, req.FeeUnit, logger)
	if err != nil {
		return Result{SponsorAttempts: attempts}, err
	}

	houseSig, err := p.signer.SignTransaction(sponsored.TxBytes)
	if err != nil {
		return Result{SponsorAttempts: attempts}, fmt.Errorf("co-sign transaction: %w", err)
	}
	digest := sponsored.Digest
	if digest == "" {
		digest = ledger.TransactionDigest(sponsored.TxBytes)
	}
	logger = logger.With(zap.String("digest", digest))

	execCtx, cancel := context.WithTimeout(ctx, p.opts.FinalityTimeout)
	resp, err := p.executor.ExecuteTransaction(execCtx, sponsored.TxBytes,
		[]string{houseSig, sponsored.SponsorSignature},
		ledger.ExecuteOptions{WaitForLocalExecution: true},
	)
	cancel()
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeExecutionRejected) || ctx.Err() != nil {
			return Result{Digest: digest, SponsorAttempts: attempts}, err
		}
		// The transaction may still have landed; ask for it by digest.
		logger.Warn("execute failed, checking ledger for digest", zap.Error(err))
		resp, err = p.awaitDigest(ctx, digest)
		if err != nil {
			return Result{Digest: digest, SponsorAttempts: attempts}, apperrors.WrapWithMetadata(
				apperrors.CodeTransientNetwork,
				"transaction outcome unknown",
				map[string]string{"digest": digest},
				err,
			)
		}
	} else if p.opts.AwaitFinality {
		if resp, err = p.awaitDigest(ctx, digest); err != nil {
			return Result{Digest: digest, SponsorAttempts: attempts}, err
		}
	}
	if resp.Digest == "" {
		resp.Digest = digest
	}

	if !resp.Succeeded() {
		logger.Warn("transaction rejected", zap.String("status", string(resp.Status)), zap.String("error", resp.Error))
		return Result{Digest: resp.Digest, Response: resp, SponsorAttempts: attempts}, apperrors.WrapWithMetadata(
			apperrors.CodeExecutionRejected,
			"transaction did not execute successfully",
			map[string]string{"digest": resp.Digest, "status": string(resp.Status)},
			errors.New(resp.Error),
		)
	}
	logger.Info("transaction executed", zap.Int("sponsor_attempts", attempts))
	return Result{Digest: resp.Digest, Response: resp, SponsorAttempts: attempts}, nil
}

func (p *Pipeline) sponsor(ctx context.Context, kind []byte, payloadDigest, feeUnit string, logger *zap.Logger) (SponsoredTx, int, error) {
	sender := p.signer.Address()
	attempts := 0
	policy := p.opts.Policy.
		WithRetryable(func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}).
		WithNotify(func(attempt int, err error, delay time.Duration) {
			logger.Info("sponsorship failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		})

	sponsored, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (SponsoredTx, error) {
		attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, p.opts.RelayTimeout)
		defer cancel()

		tx, err := p.relay.Sponsor(callCtx, SponsorRequest{
			TxKind:                 kind,
			Sender:                 sender,
			GasBudget:              p.opts.GasBudget,
			FeeUnit:                feeUnit,
			AllowedMoveCallTargets: p.opts.AllowedMoveCallTargets,
			AllowedAddresses:       p.opts.AllowedAddresses,
		})
		if err == nil {
			err = checkSponsored(tx, kind, sender)
		}
		p.observe(Attempt{PayloadDigest: payloadDigest, AttemptIndex: attempt, Outcome: outcomeOf(err), Err: err})
		return tx, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return SponsoredTx{}, attempts, err
		}
		return SponsoredTx{}, attempts, apperrors.WrapWithMetadata(
			apperrors.CodeSponsorshipExhausted,
			"fee sponsorship failed",
			map[string]string{"attempts": strconv.Itoa(attempts), "payload_digest": payloadDigest},
			err,
		)
	}
	return sponsored, attempts, nil
}

// checkSponsored rejects relay answers that do not wrap our own call.
func checkSponsored(tx SponsoredTx, kind []byte, sender string) error {
	if len(tx.TxBytes) == 0 || tx.SponsorSignature == "" {
		return errors.New("relay returned an incomplete transaction")
	}
	data, err := ledger.DecodeTransactionData(tx.TxBytes)
	if err != nil {
		return fmt.Errorf("relay returned undecodable transaction: %w", err)
	}
	if !bytes.Equal(data.Kind, kind) || data.Sender != sender {
		return errors.New("relay altered the transaction")
	}
	return nil
}

func outcomeOf(err error) Outcome {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeSponsored
}

func (p *Pipeline) observe(a Attempt) {
	if p.opts.Observer != nil {
		p.opts.Observer(a)
	}
}

// awaitDigest polls for digest until it is indexed or FinalityTimeout
// passes.
func (p *Pipeline) awaitDigest(ctx context.Context, digest string) (ledger.TxResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.FinalityTimeout)
	defer cancel()

	policy := retry.Policy{
		Delays:      []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
		MaxAttempts: 64,
		Retryable: func(err error) bool {
			return errors.Is(err, ledger.ErrTransactionNotFound) || apperrors.IsRetryable(err)
		},
	}
	resp, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (ledger.TxResponse, error) {
		return p.executor.WaitForTransaction(ctx, digest)
	})
	if err != nil {
		return ledger.TxResponse{}, apperrors.WrapWithMetadata(
			apperrors.CodeFinalityTimeout,
			"transaction not final",
			map[string]string{"digest": digest},
			err,
		)
	}
	return resp, nil
}
