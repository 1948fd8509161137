// Package matcher finds the player-authorized move request a hit or stand
// transaction must consume.
//
// Two lookup strategies sit behind one interface: SearchLookup scans every
// request object the house owns, and DirectLookup validates an id the
// player's request event (or the trigger) already named.
package matcher

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/platform/retry"
	"github.com/louisbranch/housedealer/internal/services/dealer/contract"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
	"github.com/louisbranch/housedealer/internal/services/dealer/snapshot"
)

// DefaultPageSize is the page size requested when listing owned objects.
const DefaultPageSize = 50

// Query identifies the request to consume.
type Query struct {
	HouseAddress      string
	GameID            string
	ExpectedPlayerSum int
	Kind              game.MoveKind
	// RequestID, when set, selects direct lookup.
	RequestID string
}

func (q Query) metadata() map[string]string {
	return map[string]string{
		"game_id":    q.GameID,
		"move":       q.Kind.String(),
		"player_sum": strconv.Itoa(q.ExpectedPlayerSum),
	}
}

// Lookup resolves a query to a request id. A request that is not (yet)
// visible is reported as REQUEST_NOT_FOUND.
type Lookup interface {
	Lookup(ctx context.Context, q Query) (string, error)
}

func notFound(q Query) error {
	return apperrors.WithMetadata(apperrors.CodeRequestNotFound, "no matching "+q.Kind.String()+" request", q.metadata())
}

// SearchLookup enumerates every page of house-owned request objects.
type SearchLookup struct {
	ledger   ledger.Reader
	contract contract.Contract
	pageSize int
	logger   *zap.Logger
}

// NewSearchLookup builds a search strategy. pageSize <= 0 uses
// DefaultPageSize.
func NewSearchLookup(l ledger.Reader, c contract.Contract, pageSize int, logger *zap.Logger) *SearchLookup {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchLookup{ledger: l, contract: c, pageSize: pageSize, logger: logger}
}

// Lookup implements Lookup.
func (s *SearchLookup) Lookup(ctx context.Context, q Query) (string, error) {
	structType := s.contract.StructType(contract.RequestType(q.Kind == game.MoveHit))
	var matches []string
	cursor := ""
	for {
		page, err := s.ledger.ListOwnedObjects(ctx, ledger.OwnedQuery{
			Owner:      q.HouseAddress,
			StructType: structType,
			Cursor:     cursor,
			Limit:      s.pageSize,
		})
		if err != nil {
			return "", snapshot.ClassifyLedgerError(err, apperrors.CodeRequestNotFound, q.HouseAddress)
		}
		for _, obj := range page.Objects {
			req, err := snapshot.DecodeRequest(obj)
			if err != nil {
				s.logger.Warn("skipping undecodable request object", zap.String("object_id", obj.ID), zap.Error(err))
				continue
			}
			if req.Kind == q.Kind && req.GameID == q.GameID && req.CurrentPlayerSum == q.ExpectedPlayerSum {
				matches = append(matches, req.ID)
			}
		}
		if !page.HasNextPage || page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}

	switch len(matches) {
	case 0:
		return "", notFound(q)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		s.logger.Warn("multiple move requests match",
			zap.String("game_id", q.GameID),
			zap.String("move", q.Kind.String()),
			zap.Int("player_sum", q.ExpectedPlayerSum),
			zap.Strings("request_ids", matches),
			zap.String("selected", matches[0]),
		)
		return matches[0], nil
	}
}

// DirectLookup validates a request id named by the caller.
type DirectLookup struct {
	ledger ledger.Reader
}

// NewDirectLookup builds a direct-id strategy.
func NewDirectLookup(l ledger.Reader) *DirectLookup {
	return &DirectLookup{ledger: l}
}

// Lookup implements Lookup. The object must exist and be owned by the
// house. Its kind, game and player sum must match the query; a mismatch is
// REQUEST_MISMATCH and is not retried.
func (d *DirectLookup) Lookup(ctx context.Context, q Query) (string, error) {
	if q.RequestID == "" {
		return "", apperrors.New(apperrors.CodeRequestNotFound, "request id is required for direct lookup")
	}
	obj, err := d.ledger.GetObject(ctx, q.RequestID)
	if err != nil {
		return "", snapshot.ClassifyLedgerError(err, apperrors.CodeRequestNotFound, q.RequestID)
	}
	req, err := snapshot.DecodeRequest(obj)
	if err != nil {
		return "", err
	}
	md := q.metadata()
	md["request_id"] = q.RequestID
	switch {
	case q.HouseAddress != "" && obj.Owner != q.HouseAddress:
		return "", apperrors.WithMetadata(apperrors.CodeRequestMismatch, "request is not owned by the house", md)
	case req.Kind != q.Kind:
		return "", apperrors.WithMetadata(apperrors.CodeRequestMismatch, "request is a "+req.Kind.String(), md)
	case req.GameID != q.GameID:
		return "", apperrors.WithMetadata(apperrors.CodeRequestMismatch, "request belongs to game "+req.GameID, md)
	case req.CurrentPlayerSum != q.ExpectedPlayerSum:
		return "", apperrors.WithMetadata(apperrors.CodeRequestMismatch, "request was made at sum "+strconv.Itoa(req.CurrentPlayerSum), md)
	}
	return req.ID, nil
}

// Matcher picks a strategy per query and retries while the request is not
// yet indexed.
type Matcher struct {
	search Lookup
	direct Lookup
	policy retry.Policy
	logger *zap.Logger
}

// New builds a matcher. search may be nil when every trigger names its
// request id.
func New(search, direct Lookup, policy retry.Policy, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{search: search, direct: direct, policy: policy, logger: logger}
}

// Find returns the request id to consume, or REQUEST_NOT_FOUND after the
// retry budget is spent.
func (m *Matcher) Find(ctx context.Context, q Query) (string, error) {
	if !q.Kind.ConsumesRequest() {
		return "", apperrors.New(apperrors.CodeInvalidMoveKind, q.Kind.String()+" does not consume a request")
	}
	lookup := m.search
	strategy := "search"
	if q.RequestID != "" && m.direct != nil {
		lookup = m.direct
		strategy = "direct"
	}
	if lookup == nil {
		return "", apperrors.New(apperrors.CodeRequestNotFound, "no lookup strategy for request without id")
	}

	policy := m.policy.
		WithRetryable(func(err error) bool {
			return apperrors.HasCode(err, apperrors.CodeRequestNotFound) || apperrors.HasCode(err, apperrors.CodeTransientNetwork)
		}).
		WithNotify(func(attempt int, err error, _ time.Duration) {
			m.logger.Info("move request not visible yet",
				zap.String("game_id", q.GameID),
				zap.String("strategy", strategy),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		})
	return retry.Do(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		return lookup.Lookup(ctx, q)
	})
}
