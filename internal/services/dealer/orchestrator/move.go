package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/platform/retry"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/draw"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
	"github.com/louisbranch/housedealer/internal/services/dealer/matcher"
	"github.com/louisbranch/housedealer/internal/services/dealer/sponsor"
	"github.com/louisbranch/housedealer/internal/services/dealer/storage"
)

// resultOK labels successful moves in metrics.
const resultOK = "ok"

func (d *Dealer) run(ctx context.Context, kind game.MoveKind, in MoveInput) (Outcome, error) {
	if in.GameID == "" {
		return Outcome{}, apperrors.New(apperrors.CodeGameIDEmpty, "game id is required")
	}
	if kind < game.MoveInitialDeal || kind > game.MoveStand {
		return Outcome{}, apperrors.New(apperrors.CodeInvalidMoveKind, "unknown move kind "+kind.String())
	}

	ctx, span := d.tracer.Start(ctx, "dealer."+kind.String())
	span.SetAttributes(
		attribute.String("dealer.game_id", in.GameID),
		attribute.String("dealer.move", kind.String()),
	)
	defer span.End()
	logger := d.logger.With(zap.String("game_id", in.GameID), zap.String("move", kind.String()))

	start := time.Now()
	unlock, err := d.locks.Lock(ctx, in.GameID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()
	d.metrics.GameStarted()
	defer d.metrics.GameFinished()

	out, err := d.move(ctx, kind, in, logger)

	result := resultOK
	if err != nil {
		result = string(apperrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		logger.Warn("house move failed", zap.String("code", result), zap.Error(err))
	} else {
		span.SetAttributes(
			attribute.String("dealer.tx_digest", out.TxDigest),
			attribute.Bool("dealer.already_applied", out.AlreadyApplied),
		)
		logger.Info("house move done",
			zap.String("digest", out.TxDigest),
			zap.Bool("already_applied", out.AlreadyApplied),
			zap.Uint64("counter", out.Game.Counter),
			zap.String("status", out.Game.Status.String()),
		)
	}
	d.metrics.ObserveMove(kind.String(), result, time.Since(start))
	return out, err
}

func (d *Dealer) move(ctx context.Context, kind game.MoveKind, in MoveInput, logger *zap.Logger) (Outcome, error) {
	if in.PriorTxDigest != "" {
		if err := d.awaitPriorTx(ctx, in.PriorTxDigest); err != nil {
			return Outcome{}, err
		}
	}

	g, err := d.snapshots.Read(ctx, in.GameID)
	if err != nil {
		return Outcome{}, err
	}
	if out, ok, err := d.alreadyApplied(ctx, kind, in, g); err != nil || ok {
		return out, err
	}

	// A journaled success at the current counter means the snapshot is
	// stale: our previous move landed but the read has not caught up.
	if rec, err := d.journal.GetDraw(ctx, g.ID, g.Counter); err == nil && rec.Outcome == storage.DrawApplied {
		logger.Info("snapshot behind journal, waiting", zap.Uint64("counter", g.Counter))
		counter := g.Counter
		g, err = d.snapshots.AwaitChange(ctx, g.ID, func(next game.Game) bool { return next.Counter > counter }, d.policy)
		if err != nil {
			return Outcome{}, err
		}
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, err
	}

	if err := game.Validate(g, kind); err != nil {
		return Outcome{}, err
	}

	sum := g.PlayerSum
	if kind.ConsumesRequest() && in.ExpectedPlayerSum != nil && *in.ExpectedPlayerSum != g.PlayerSum {
		return Outcome{}, apperrors.WithMetadata(
			apperrors.CodeRequestMismatch,
			"player sum changed since the request",
			map[string]string{
				"game_id":  g.ID,
				"expected": strconv.Itoa(*in.ExpectedPlayerSum),
				"snapshot": strconv.Itoa(g.PlayerSum),
			},
		)
	}

	counter := g.Counter
	sig, err := d.drawFor(ctx, g, logger)
	if err != nil {
		return Outcome{}, err
	}

	var call ledger.Call
	requestID := ""
	switch kind {
	case game.MoveInitialDeal:
		call = d.contract.FirstDeal(g.ID, d.houseDataID, sig)
	case game.MoveHit, game.MoveStand:
		requestID, err = d.findRequest(ctx, kind, in, sum)
		if err != nil {
			return Outcome{}, err
		}
		if kind == game.MoveHit {
			call = d.contract.DoHit(g.ID, requestID, d.houseDataID, sig)
		} else {
			call = d.contract.DoStand(g.ID, requestID, d.houseDataID, sig)
		}
	}

	if _, err := d.journal.PutDraw(ctx, storage.DrawRecord{
		GameID:    g.ID,
		Counter:   counter,
		Kind:      kind.String(),
		RequestID: requestID,
		PlayerSum: sum,
		Signature: sig,
		Outcome:   storage.DrawPending,
	}); err != nil {
		return Outcome{}, err
	}

	res, err := d.submit(ctx, g.ID, call)
	if err != nil {
		return d.afterFailedSubmit(ctx, g, counter, res, err, logger)
	}
	if err := d.journal.MarkDrawOutcome(ctx, g.ID, counter, storage.DrawApplied, res.Digest); err != nil {
		logger.Error("journal outcome not recorded", zap.Uint64("counter", counter), zap.Error(err))
	}

	confirmed, err := d.confirm(ctx, g.ID, counter)
	if err != nil {
		return Outcome{TxDigest: res.Digest, Game: confirmed, SponsorAttempts: res.SponsorAttempts}, err
	}
	return Outcome{TxDigest: res.Digest, Game: confirmed, SponsorAttempts: res.SponsorAttempts}, nil
}

// alreadyApplied reports a rerun of a move the journal shows as done. Deals
// and request-id triggers are keyed exactly. Sum-keyed triggers, and stands
// on a settled game, match the draw that answered a request at that sum.
func (d *Dealer) alreadyApplied(ctx context.Context, kind game.MoveKind, in MoveInput, g game.Game) (Outcome, bool, error) {
	var (
		rec storage.DrawRecord
		err error
	)
	switch {
	case !kind.ConsumesRequest() || in.RequestID != "":
		rec, err = d.journal.FindSettled(ctx, g.ID, kind.String(), in.RequestID)
	case in.ExpectedPlayerSum != nil:
		rec, err = d.journal.FindSettledBySum(ctx, g.ID, kind.String(), *in.ExpectedPlayerSum)
		if err == nil && !answeredAtSum(g, rec, *in.ExpectedPlayerSum) {
			return Outcome{}, false, nil
		}
	case kind == game.MoveStand && g.Status.Terminal():
		// Standing leaves the player's hand as it was.
		rec, err = d.journal.FindSettledBySum(ctx, g.ID, kind.String(), g.PlayerSum)
	default:
		return Outcome{}, false, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, err
	}
	if g.Counter <= rec.Counter {
		confirmed, err := d.confirm(ctx, g.ID, rec.Counter)
		if err != nil {
			return Outcome{}, false, err
		}
		g = confirmed
	}
	return Outcome{TxDigest: rec.TxDigest, Game: g, AlreadyApplied: true}, true, nil
}

// answeredAtSum reports whether rec explains the snapshot. A hit can leave
// the sum unchanged (soft to hard), so an in-progress game still at sum may
// hold a fresh request that has not been served.
func answeredAtSum(g game.Game, rec storage.DrawRecord, sum int) bool {
	return g.Counter <= rec.Counter || g.Status.Terminal() || g.PlayerSum != sum
}

// drawFor returns the signature for the game's current counter, reusing a
// journaled one so a counter is never signed for two transactions.
func (d *Dealer) drawFor(ctx context.Context, g game.Game, logger *zap.Logger) (draw.Signature, error) {
	rec, err := d.journal.GetDraw(ctx, g.ID, g.Counter)
	switch {
	case err == nil:
		if len(rec.Signature) == 0 {
			return nil, apperrors.WithMetadata(apperrors.CodeDrawAlreadyConsumed, "journaled draw has no signature",
				map[string]string{"game_id": g.ID, "counter": strconv.FormatUint(g.Counter, 10)})
		}
		logger.Info("reusing journaled draw",
			zap.Uint64("counter", g.Counter),
			zap.String("previous_outcome", string(rec.Outcome)),
			zap.String("previous_digest", rec.TxDigest),
		)
		d.metrics.ObserveJournalReuse()
		return rec.Signature, nil
	case errors.Is(err, storage.ErrNotFound):
		return draw.SignDraw(d.drawKey, g.UserRandomness, g.Counter)
	default:
		return nil, err
	}
}

func (d *Dealer) findRequest(ctx context.Context, kind game.MoveKind, in MoveInput, sum int) (string, error) {
	strategy := "search"
	if in.RequestID != "" {
		strategy = "direct"
	}
	id, err := d.matcher.Find(ctx, matcher.Query{
		HouseAddress:      d.signer.Address(),
		GameID:            in.GameID,
		ExpectedPlayerSum: sum,
		Kind:              kind,
		RequestID:         in.RequestID,
	})
	result := "found"
	if err != nil {
		result = string(apperrors.CodeOf(err))
	}
	d.metrics.ObserveLookup(strategy, result)
	return id, err
}

func (d *Dealer) submit(ctx context.Context, gameID string, call ledger.Call) (sponsor.Result, error) {
	unit, release, err := d.feePool.Lease(ctx)
	if err != nil {
		return sponsor.Result{}, err
	}
	defer release()
	return d.pipeline.Submit(ctx, sponsor.SubmitRequest{Call: call, FeeUnit: unit, GameID: gameID})
}

// afterFailedSubmit settles the journal after a failed submission. An
// ambiguous failure is resolved by re-reading the snapshot, never by
// submitting again.
func (d *Dealer) afterFailedSubmit(ctx context.Context, g game.Game, counter uint64, res sponsor.Result, submitErr error, logger *zap.Logger) (Outcome, error) {
	code := apperrors.CodeOf(submitErr)
	switch code {
	case apperrors.CodeExecutionRejected:
		if err := d.journal.MarkDrawOutcome(ctx, g.ID, counter, storage.DrawRejected, res.Digest); err != nil {
			logger.Error("journal outcome not recorded", zap.Error(err))
		}
		return Outcome{TxDigest: res.Digest, SponsorAttempts: res.SponsorAttempts}, submitErr
	case apperrors.CodeTransientNetwork, apperrors.CodeFinalityTimeout:
	default:
		return Outcome{TxDigest: res.Digest, SponsorAttempts: res.SponsorAttempts}, submitErr
	}

	logger.Warn("submission outcome unknown, re-reading snapshot", zap.String("digest", res.Digest), zap.Error(submitErr))
	now, err := d.snapshots.Read(ctx, g.ID)
	if err != nil || now.Counter <= counter {
		return Outcome{TxDigest: res.Digest, SponsorAttempts: res.SponsorAttempts}, submitErr
	}
	if err := d.journal.MarkDrawOutcome(ctx, g.ID, counter, storage.DrawApplied, res.Digest); err != nil {
		logger.Error("journal outcome not recorded", zap.Error(err))
	}
	return Outcome{TxDigest: res.Digest, Game: now, SponsorAttempts: res.SponsorAttempts}, nil
}

// confirm re-reads until the counter moves past counter.
func (d *Dealer) confirm(ctx context.Context, gameID string, counter uint64) (game.Game, error) {
	return d.snapshots.AwaitChange(ctx, gameID, func(g game.Game) bool {
		return g.Counter > counter
	}, d.policy)
}

// awaitPriorTx waits until the player's request transaction is indexed.
func (d *Dealer) awaitPriorTx(ctx context.Context, digest string) error {
	policy := d.policy.WithRetryable(func(err error) bool {
		return errors.Is(err, ledger.ErrTransactionNotFound) || apperrors.IsRetryable(err)
	})
	resp, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (ledger.TxResponse, error) {
		return d.ledger.WaitForTransaction(ctx, digest)
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return apperrors.WrapWithMetadata(apperrors.CodeFinalityTimeout, "prior transaction not indexed",
			map[string]string{"digest": digest}, err)
	}
	if !resp.Succeeded() {
		return apperrors.WithMetadata(apperrors.CodeExecutionRejected, "prior transaction failed",
			map[string]string{"digest": digest, "error": resp.Error})
	}
	return nil
}
