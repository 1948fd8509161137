// Package ledger describes the slice of the ledger node the dealer talks
// to: object reads, owned-object listing, transaction execution, finality
// waits and event queries.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrObjectNotFound is returned when an object id does not exist or
	// has been deleted.
	ErrObjectNotFound = errors.New("ledger object not found")
	// ErrTransactionNotFound is returned while a digest is not yet indexed.
	ErrTransactionNotFound = errors.New("ledger transaction not found")
)

// Object is a Move object with its decoded fields.
type Object struct {
	ID      string
	Type    string
	Owner   string
	Version uint64
	// Fields is the JSON rendering of the Move struct fields.
	Fields json.RawMessage
}

// TypeName returns the struct name without its package and module.
func (o Object) TypeName() string {
	return StructName(o.Type)
}

// StructName returns the last "::" segment of a Move type, ignoring type
// parameters.
func StructName(moveType string) string {
	if i := strings.Index(moveType, "<"); i >= 0 {
		moveType = moveType[:i]
	}
	if i := strings.LastIndex(moveType, "::"); i >= 0 {
		return moveType[i+2:]
	}
	return moveType
}

// OwnedQuery selects one page of objects owned by an address.
type OwnedQuery struct {
	Owner string
	// StructType filters by fully qualified Move type. Empty lists all.
	StructType string
	Cursor     string
	Limit      int
}

// ObjectPage is one page of an owned-object listing.
type ObjectPage struct {
	Objects     []Object
	NextCursor  string
	HasNextPage bool
}

// ExecuteOptions controls how long ExecuteTransaction waits.
type ExecuteOptions struct {
	// WaitForLocalExecution asks the node to return only once the effects
	// are applied locally, so reads through the same node observe them.
	WaitForLocalExecution bool
}

// ExecutionStatus is the ledger's verdict on a transaction.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailure ExecutionStatus = "failure"
)

// TxResponse describes an executed transaction.
type TxResponse struct {
	Digest string
	Status ExecutionStatus
	// Error carries the abort message when Status is failure.
	Error  string
	Events []Event
}

// Succeeded reports whether the transaction executed successfully.
func (r TxResponse) Succeeded() bool {
	return r.Status == ExecutionSuccess
}

// Event is a Move event emitted by a transaction.
type Event struct {
	// ID is "<txDigest>:<sequence>".
	ID       string
	TxDigest string
	Type     string
	Sender   string
	Fields   json.RawMessage
}

// EventQuery selects events by type, after Cursor.
type EventQuery struct {
	// MoveEventType is a fully qualified Move event type. Empty matches
	// every event of Package/Module.
	MoveEventType string
	Package       string
	Module        string
	Cursor        string
	Limit         int
}

// EventPage is one page of events in ascending order.
type EventPage struct {
	Events      []Event
	NextCursor  string
	HasNextPage bool
}

// Reader is the read-only part of the ledger used by snapshots and the
// matcher.
type Reader interface {
	GetObject(ctx context.Context, id string) (Object, error)
	ListOwnedObjects(ctx context.Context, query OwnedQuery) (ObjectPage, error)
}

// Client is the full ledger boundary.
type Client interface {
	Reader
	// ExecuteTransaction submits fully signed transaction bytes.
	ExecuteTransaction(ctx context.Context, txBytes []byte, signatures []string, opts ExecuteOptions) (TxResponse, error)
	// WaitForTransaction returns the effects of digest, or
	// ErrTransactionNotFound while it is not yet known.
	WaitForTransaction(ctx context.Context, digest string) (TxResponse, error)
	QueryEvents(ctx context.Context, query EventQuery) (EventPage, error)
}
