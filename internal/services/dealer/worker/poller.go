// Package worker listens for player events on the ledger and triggers the
// matching house move, so the dealer reacts without an explicit call.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/platform/retry"
	"github.com/louisbranch/housedealer/internal/services/dealer/contract"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
	"github.com/louisbranch/housedealer/internal/services/dealer/observability"
	"github.com/louisbranch/housedealer/internal/services/dealer/orchestrator"
	"github.com/louisbranch/housedealer/internal/services/dealer/storage"
)

const (
	defaultConsumer     = "dealer-events"
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
	defaultConcurrency  = 8
)

// Attempt outcomes recorded per event.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeDead      = "dead"
)

// EventSource is the part of the ledger the poller reads.
type EventSource interface {
	QueryEvents(ctx context.Context, query ledger.EventQuery) (ledger.EventPage, error)
}

// Mover performs a house move. *orchestrator.Dealer implements it.
type Mover interface {
	Move(ctx context.Context, kind game.MoveKind, in orchestrator.MoveInput) (orchestrator.Outcome, error)
}

// Config controls the polling loop.
type Config struct {
	Consumer     string
	PollInterval time.Duration
	BatchSize    int
	// Concurrency bounds how many games are handled at once in a batch.
	Concurrency int
	// Retry drives re-attempts of one event before it is recorded dead.
	Retry retry.Policy
}

func (c Config) normalized() Config {
	c.Consumer = strings.TrimSpace(c.Consumer)
	if c.Consumer == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	c.Retry = c.Retry.Normalized()
	return c
}

// Store is the persistence the poller needs.
type Store interface {
	storage.EventCursorStore
	storage.AttemptStore
}

// Poller reads contract events after a persisted cursor and dispatches
// them to the dealer.
type Poller struct {
	source   EventSource
	mover    Mover
	store    Store
	contract contract.Contract
	cfg      Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// New builds a poller. logger and metrics may be nil.
func New(source EventSource, mover Mover, store Store, c contract.Contract, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalized()
	return &Poller{
		source:   source,
		mover:    mover,
		store:    store,
		contract: c,
		cfg:      cfg,
		logger:   logger.With(zap.String("consumer", cfg.Consumer)),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run polls until ctx is done. Poll failures are logged and retried on the
// next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("poll events", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce drains every page available after the stored cursor and
// returns how many events were handled. The cursor moves after each page
// is fully processed.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	cursor, err := p.store.LoadCursor(ctx, p.cfg.Consumer)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	handled := 0
	for {
		page, err := p.source.QueryEvents(ctx, ledger.EventQuery{
			Package: p.contract.Package,
			Module:  p.contract.Module,
			Cursor:  cursor,
			Limit:   p.cfg.BatchSize,
		})
		if err != nil {
			return handled, fmt.Errorf("query events: %w", err)
		}
		if err := p.handleBatch(ctx, page.Events); err != nil {
			return handled, err
		}
		handled += len(page.Events)
		if page.NextCursor != "" && page.NextCursor != cursor {
			if err := p.store.SaveCursor(ctx, p.cfg.Consumer, page.NextCursor); err != nil {
				return handled, fmt.Errorf("save cursor: %w", err)
			}
			cursor = page.NextCursor
		}
		if !page.HasNextPage || len(page.Events) == 0 {
			return handled, nil
		}
	}
}

// trigger is a decoded event that asks for a house move.
type trigger struct {
	event ledger.Event
	name  string
	kind  game.MoveKind
	input orchestrator.MoveInput
}

// handleBatch runs the events of one page. Events of the same game keep
// their order; different games run in parallel.
func (p *Poller) handleBatch(ctx context.Context, events []ledger.Event) error {
	byGame := map[string][]trigger{}
	var order []string
	for _, ev := range events {
		t, ok, err := p.decode(ev)
		if err != nil {
			p.logger.Warn("undecodable event", zap.String("event_id", ev.ID), zap.Error(err))
			p.record(ctx, ev, ledger.StructName(ev.Type), OutcomeDead, 1, err)
			continue
		}
		if !ok {
			continue
		}
		if _, seen := byGame[t.input.GameID]; !seen {
			order = append(order, t.input.GameID)
		}
		byGame[t.input.GameID] = append(byGame[t.input.GameID], t)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, gameID := range order {
		triggers := byGame[gameID]
		g.Go(func() error {
			for _, t := range triggers {
				if err := p.handle(gctx, t); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) decode(ev ledger.Event) (trigger, bool, error) {
	name := ledger.StructName(ev.Type)
	t := trigger{event: ev, name: name}
	switch name {
	case contract.EventGameCreated:
		var fields contract.GameCreatedEvent
		if err := json.Unmarshal(ev.Fields, &fields); err != nil {
			return t, false, err
		}
		t.kind = game.MoveInitialDeal
		t.input = orchestrator.MoveInput{GameID: fields.GameID}
	case contract.EventHitRequested, contract.EventStandRequested:
		var fields contract.RequestEvent
		if err := json.Unmarshal(ev.Fields, &fields); err != nil {
			return t, false, err
		}
		t.kind = game.MoveHit
		if name == contract.EventStandRequested {
			t.kind = game.MoveStand
		}
		sum := int(fields.CurrentPlayerHandSum)
		t.input = orchestrator.MoveInput{
			GameID:            fields.GameID,
			RequestID:         fields.RequestID,
			ExpectedPlayerSum: &sum,
			PriorTxDigest:     ev.TxDigest,
		}
	default:
		return t, false, nil
	}
	if t.input.GameID == "" {
		return t, false, fmt.Errorf("%s event without game id", name)
	}
	return t, true, nil
}

// handle runs one trigger. Only context cancellation is returned; move
// failures are recorded and the batch moves on.
func (p *Poller) handle(ctx context.Context, t trigger) error {
	logger := p.logger.With(
		zap.String("event_id", t.event.ID),
		zap.String("event", t.name),
		zap.String("game_id", t.input.GameID),
	)
	attempts := 0
	out, err := retry.Do(ctx, p.cfg.Retry, func(ctx context.Context, attempt int) (orchestrator.Outcome, error) {
		attempts = attempt
		return p.mover.Move(ctx, t.kind, t.input)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	outcome := OutcomeSucceeded
	switch {
	case err == nil:
		logger.Info("event handled", zap.String("digest", out.TxDigest), zap.Bool("already_applied", out.AlreadyApplied))
	case apperrors.HasCode(err, apperrors.CodeIllegalPhaseTransition):
		// Stale event: the game moved on without us, or already settled.
		outcome = OutcomeSkipped
		logger.Info("event skipped", zap.Error(err))
	default:
		outcome = OutcomeDead
		logger.Error("event failed", zap.Int("attempts", attempts), zap.Error(err))
	}
	p.record(ctx, t.event, t.name, outcome, attempts, err)
	return nil
}

func (p *Poller) record(ctx context.Context, ev ledger.Event, name, outcome string, attempts int, cause error) {
	p.metrics.ObserveEvent(name, outcome)
	rec := storage.AttemptRecord{
		EventID:      ev.ID,
		EventType:    name,
		Consumer:     p.cfg.Consumer,
		Outcome:      outcome,
		AttemptCount: int32(attempts),
		CreatedAt:    p.now().UTC(),
	}
	if cause != nil {
		rec.LastError = cause.Error()
	}
	if err := p.store.RecordAttempt(ctx, rec); err != nil {
		p.logger.Warn("record attempt", zap.String("event_id", ev.ID), zap.Error(err))
	}
}
