// Package storage defines the dealer's local persistence: the draw journal
// that guards counters against double signing, the event cursor, and the
// event processing attempt log.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// DrawOutcome is the fate of a journaled draw.
type DrawOutcome string

const (
	// DrawPending means the signature was produced and may be in flight.
	DrawPending DrawOutcome = "pending"
	// DrawApplied means the transaction carrying the draw succeeded.
	DrawApplied DrawOutcome = "applied"
	// DrawRejected means the ledger refused the transaction.
	DrawRejected DrawOutcome = "rejected"
)

// DrawRecord is one signature the house produced for a (game, counter).
type DrawRecord struct {
	GameID    string
	Counter   uint64
	Kind      string
	RequestID string
	// PlayerSum is the player's hand value when the move was made.
	PlayerSum int
	Signature []byte
	TxDigest  string
	Outcome   DrawOutcome
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DrawJournal remembers every draw signature so a counter is never signed
// for two different transactions.
type DrawJournal interface {
	// GetDraw returns the draw for (gameID, counter) or ErrNotFound.
	GetDraw(ctx context.Context, gameID string, counter uint64) (DrawRecord, error)
	// PutDraw stores record for its key and returns the stored row. An
	// existing signature is kept; an applied row is never rewritten.
	PutDraw(ctx context.Context, record DrawRecord) (DrawRecord, error)
	// MarkDrawOutcome records the transaction result of a draw.
	MarkDrawOutcome(ctx context.Context, gameID string, counter uint64, outcome DrawOutcome, txDigest string) error
	// FindSettled returns the applied draw that served requestID for kind,
	// or ErrNotFound. requestID is empty for deals.
	FindSettled(ctx context.Context, gameID, kind, requestID string) (DrawRecord, error)
	// FindSettledBySum returns the latest applied draw for kind made when
	// the player's hand was worth playerSum, or ErrNotFound.
	FindSettledBySum(ctx context.Context, gameID, kind string, playerSum int) (DrawRecord, error)
}

// EventCursorStore persists how far an event consumer has read.
type EventCursorStore interface {
	// LoadCursor returns "" when the consumer has no cursor yet.
	LoadCursor(ctx context.Context, consumer string) (string, error)
	SaveCursor(ctx context.Context, consumer, cursor string) error
}

// AttemptRecord is one durable event processing outcome record.
type AttemptRecord struct {
	ID           int64
	EventID      string
	EventType    string
	Consumer     string
	Outcome      string
	AttemptCount int32
	LastError    string
	CreatedAt    time.Time
}

// AttemptStore persists event processing attempt records.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt AttemptRecord) error
	ListAttempts(ctx context.Context, limit int) ([]AttemptRecord, error)
}
