// Package snapshot reads authoritative game state from the ledger.
//
// Reads never retry on their own. Callers that need to observe the effect
// of a submitted transaction use AwaitChange, which polls under a retry
// policy because the ledger is only eventually consistent.
package snapshot

import (
	"context"
	"errors"

	"go.uber.org/zap"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/platform/retry"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
)

// Reader decodes ledger objects into domain values.
type Reader struct {
	ledger ledger.Reader
	logger *zap.Logger
}

// NewReader builds a reader over l.
func NewReader(l ledger.Reader, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{ledger: l, logger: logger}
}

// Read fetches and decodes the game.
func (r *Reader) Read(ctx context.Context, gameID string) (game.Game, error) {
	if gameID == "" {
		return game.Game{}, apperrors.New(apperrors.CodeGameIDEmpty, "game id is required")
	}
	obj, err := r.ledger.GetObject(ctx, gameID)
	if err != nil {
		return game.Game{}, ClassifyLedgerError(err, apperrors.CodeGameNotFound, gameID)
	}
	return DecodeGame(obj)
}

// ReadHouseData fetches and decodes the house treasury object.
func (r *Reader) ReadHouseData(ctx context.Context, id string) (game.HouseData, error) {
	obj, err := r.ledger.GetObject(ctx, id)
	if err != nil {
		return game.HouseData{}, ClassifyLedgerError(err, apperrors.CodeGameNotFound, id)
	}
	return DecodeHouseData(obj)
}

var errUnchanged = errors.New("snapshot does not reflect the change yet")

// AwaitChange re-reads the game until done reports true. Missing objects
// and transient failures are retried too. When the policy is spent the
// last snapshot is returned with a FINALITY_TIMEOUT error.
func (r *Reader) AwaitChange(ctx context.Context, gameID string, done func(game.Game) bool, policy retry.Policy) (game.Game, error) {
	var last game.Game
	policy = policy.WithRetryable(func(err error) bool {
		return errors.Is(err, errUnchanged) ||
			apperrors.IsRetryable(err) ||
			apperrors.HasCode(err, apperrors.CodeGameNotFound)
	})
	g, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (game.Game, error) {
		g, err := r.Read(ctx, gameID)
		if err != nil {
			return game.Game{}, err
		}
		last = g
		if !done(g) {
			r.logger.Debug("snapshot unchanged", zap.String("game_id", gameID), zap.Int("attempt", attempt))
			return g, errUnchanged
		}
		return g, nil
	})
	if err == nil {
		return g, nil
	}
	if ctx.Err() != nil {
		return last, err
	}
	return last, apperrors.WrapWithMetadata(
		apperrors.CodeFinalityTimeout,
		"snapshot did not reflect the submitted transaction",
		map[string]string{"game_id": gameID},
		err,
	)
}

// ClassifyLedgerError converts a ledger read failure into the error
// taxonomy, using notFound for missing objects.
func ClassifyLedgerError(err error, notFound apperrors.Code, id string) error {
	var domainErr *apperrors.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, ledger.ErrObjectNotFound):
		return apperrors.WrapWithMetadata(notFound, "object not found", map[string]string{"object_id": id}, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return apperrors.WrapWithMetadata(apperrors.CodeTransientNetwork, "read object", map[string]string{"object_id": id}, err)
	}
}
