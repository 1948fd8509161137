// Package orchestrator runs the house's three moves: the initial deal and
// the responses to a player's hit or stand.
//
// Every move reads the authoritative snapshot, validates the phase locally,
// draws (or reuses a journaled draw), submits through the sponsorship
// pipeline and re-reads until the ledger reflects the result. Moves for one
// game are strictly sequential; different games run in parallel.
package orchestrator

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/louisbranch/housedealer/internal/platform/otel"
	"github.com/louisbranch/housedealer/internal/platform/retry"
	"github.com/louisbranch/housedealer/internal/services/dealer/contract"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/draw"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
	"github.com/louisbranch/housedealer/internal/services/dealer/matcher"
	"github.com/louisbranch/housedealer/internal/services/dealer/observability"
	"github.com/louisbranch/housedealer/internal/services/dealer/snapshot"
	"github.com/louisbranch/housedealer/internal/services/dealer/sponsor"
	"github.com/louisbranch/housedealer/internal/services/dealer/storage"
)

// Submitter sends a house transaction. *sponsor.Pipeline implements it.
type Submitter interface {
	Submit(ctx context.Context, req sponsor.SubmitRequest) (sponsor.Result, error)
}

// RequestFinder resolves the player request a move consumes.
// *matcher.Matcher implements it.
type RequestFinder interface {
	Find(ctx context.Context, q matcher.Query) (string, error)
}

// Deps are the dealer's collaborators.
type Deps struct {
	Ledger      ledger.Client
	Signer      sponsor.Signer
	DrawKey     draw.SigningKey
	Contract    contract.Contract
	HouseDataID string
	Pipeline    Submitter
	Matcher     RequestFinder
	Journal     storage.DrawJournal
	// FeePool is optional; without it the relay picks the fee unit.
	FeePool *sponsor.FeePool
	// Confirmation drives the post-submission re-reads and the wait for a
	// player's prior transaction.
	Confirmation retry.Policy
	Logger       *zap.Logger
	Metrics      *observability.Metrics
}

// MoveInput describes one trigger.
type MoveInput struct {
	GameID string
	// ExpectedPlayerSum is the sum the player requested at. When nil the
	// snapshot's sum is used.
	ExpectedPlayerSum *int
	// RequestID names the request object directly, skipping the search.
	RequestID string
	// PriorTxDigest is the player's request transaction; the dealer waits
	// for it before matching.
	PriorTxDigest string
}

// Outcome is the result of a move.
type Outcome struct {
	TxDigest string
	Game     game.Game
	// AlreadyApplied is set when an earlier run already made this move.
	AlreadyApplied  bool
	SponsorAttempts int
}

// Dealer is the orchestrator.
type Dealer struct {
	ledger      ledger.Client
	snapshots   *snapshot.Reader
	signer      sponsor.Signer
	drawKey     draw.SigningKey
	contract    contract.Contract
	houseDataID string
	pipeline    Submitter
	matcher     RequestFinder
	journal     storage.DrawJournal
	feePool     *sponsor.FeePool
	policy      retry.Policy
	logger      *zap.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
	locks       *keyLock
}

// New validates deps and builds a dealer.
func New(deps Deps) (*Dealer, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("ledger client is required")
	case deps.Signer == nil:
		return nil, errors.New("house signer is required")
	case deps.DrawKey.IsZero():
		return nil, errors.New("draw key is required")
	case deps.Contract.Package == "":
		return nil, errors.New("contract package is required")
	case deps.HouseDataID == "":
		return nil, errors.New("house data id is required")
	case deps.Pipeline == nil:
		return nil, errors.New("submission pipeline is required")
	case deps.Matcher == nil:
		return nil, errors.New("request matcher is required")
	case deps.Journal == nil:
		return nil, errors.New("draw journal is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Dealer{
		ledger:      deps.Ledger,
		snapshots:   snapshot.NewReader(deps.Ledger, deps.Logger),
		signer:      deps.Signer,
		drawKey:     deps.DrawKey,
		contract:    deps.Contract,
		houseDataID: deps.HouseDataID,
		pipeline:    deps.Pipeline,
		matcher:     deps.Matcher,
		journal:     deps.Journal,
		feePool:     deps.FeePool,
		policy:      deps.Confirmation.Normalized(),
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		tracer:      otel.Tracer("orchestrator"),
		locks:       newKeyLock(),
	}, nil
}

// PerformInitialDeal deals the opening cards of a game at counter 0.
func (d *Dealer) PerformInitialDeal(ctx context.Context, in MoveInput) (Outcome, error) {
	return d.run(ctx, game.MoveInitialDeal, in)
}

// RespondToHit answers a player's hit request with one card.
func (d *Dealer) RespondToHit(ctx context.Context, in MoveInput) (Outcome, error) {
	return d.run(ctx, game.MoveHit, in)
}

// RespondToStand answers a player's stand request. The contract draws for
// the dealer and settles in the same transaction.
func (d *Dealer) RespondToStand(ctx context.Context, in MoveInput) (Outcome, error) {
	return d.run(ctx, game.MoveStand, in)
}

// Move dispatches by kind.
func (d *Dealer) Move(ctx context.Context, kind game.MoveKind, in MoveInput) (Outcome, error) {
	return d.run(ctx, kind, in)
}

// Snapshot reads the current game.
func (d *Dealer) Snapshot(ctx context.Context, gameID string) (game.Game, error) {
	return d.snapshots.Read(ctx, gameID)
}

// HouseAddress is the address the house signs as.
func (d *Dealer) HouseAddress() string {
	return d.signer.Address()
}
