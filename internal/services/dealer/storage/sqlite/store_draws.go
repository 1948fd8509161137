package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/housedealer/internal/services/dealer/storage"
)

const drawColumns = `game_id, counter, kind, request_id, player_sum, signature, tx_digest, outcome, created_at, updated_at`

// GetDraw returns the journaled draw for (gameID, counter).
func (s *Store) GetDraw(ctx context.Context, gameID string, counter uint64) (storage.DrawRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.DrawRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draw_journal WHERE game_id = ? AND counter = ?`,
		strings.TrimSpace(gameID), int64(counter))
	record, err := scanDraw(row)
	if err != nil {
		return storage.DrawRecord{}, fmt.Errorf("get draw: %w", err)
	}
	return record, nil
}

// PutDraw journals record for (game, counter) and returns the stored row.
// An existing signature is always kept. The move it serves is rewritten
// unless the row is already applied, so a failed hit never answers for a
// later stand at the same counter.
func (s *Store) PutDraw(ctx context.Context, record storage.DrawRecord) (storage.DrawRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.DrawRecord{}, err
	}
	record.GameID = strings.TrimSpace(record.GameID)
	record.Kind = strings.TrimSpace(record.Kind)
	record.RequestID = strings.TrimSpace(record.RequestID)
	if record.GameID == "" {
		return storage.DrawRecord{}, fmt.Errorf("game id is required")
	}
	if record.Kind == "" {
		return storage.DrawRecord{}, fmt.Errorf("kind is required")
	}
	if len(record.Signature) == 0 {
		return storage.DrawRecord{}, fmt.Errorf("signature is required")
	}
	if record.Outcome == "" {
		record.Outcome = storage.DrawPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO draw_journal (
	game_id,
	counter,
	kind,
	request_id,
	player_sum,
	signature,
	tx_digest,
	outcome,
	created_at,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (game_id, counter) DO UPDATE SET
	kind = excluded.kind,
	request_id = excluded.request_id,
	player_sum = excluded.player_sum,
	tx_digest = excluded.tx_digest,
	outcome = excluded.outcome,
	updated_at = excluded.updated_at
WHERE draw_journal.outcome != 'applied'
`,
		record.GameID,
		int64(record.Counter),
		record.Kind,
		record.RequestID,
		record.PlayerSum,
		record.Signature,
		record.TxDigest,
		string(record.Outcome),
		record.CreatedAt.UTC().UnixMilli(),
		record.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return storage.DrawRecord{}, fmt.Errorf("put draw: %w", err)
	}
	return s.GetDraw(ctx, record.GameID, record.Counter)
}

// MarkDrawOutcome updates the outcome and digest of a journaled draw.
func (s *Store) MarkDrawOutcome(ctx context.Context, gameID string, counter uint64, outcome storage.DrawOutcome, txDigest string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE draw_journal
SET outcome = ?, tx_digest = CASE WHEN ? = '' THEN tx_digest ELSE ? END, updated_at = ?
WHERE game_id = ? AND counter = ?
`,
		string(outcome),
		txDigest, txDigest,
		time.Now().UTC().UnixMilli(),
		strings.TrimSpace(gameID),
		int64(counter),
	)
	if err != nil {
		return fmt.Errorf("mark draw outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark draw outcome: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark draw outcome: %w", storage.ErrNotFound)
	}
	return nil
}

// FindSettled returns the applied draw that served requestID.
func (s *Store) FindSettled(ctx context.Context, gameID, kind, requestID string) (storage.DrawRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.DrawRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+drawColumns+`
FROM draw_journal
WHERE game_id = ? AND kind = ? AND request_id = ? AND outcome = ?
ORDER BY counter DESC
LIMIT 1
`,
		strings.TrimSpace(gameID),
		strings.TrimSpace(kind),
		strings.TrimSpace(requestID),
		string(storage.DrawApplied),
	)
	record, err := scanDraw(row)
	if err != nil {
		return storage.DrawRecord{}, fmt.Errorf("find settled draw: %w", err)
	}
	return record, nil
}

// FindSettledBySum returns the latest applied draw of kind that answered a
// request made at playerSum.
func (s *Store) FindSettledBySum(ctx context.Context, gameID, kind string, playerSum int) (storage.DrawRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.DrawRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+drawColumns+`
FROM draw_journal
WHERE game_id = ? AND kind = ? AND player_sum = ? AND outcome = ?
ORDER BY counter DESC
LIMIT 1
`,
		strings.TrimSpace(gameID),
		strings.TrimSpace(kind),
		playerSum,
		string(storage.DrawApplied),
	)
	record, err := scanDraw(row)
	if err != nil {
		return storage.DrawRecord{}, fmt.Errorf("find settled draw by sum: %w", err)
	}
	return record, nil
}

func scanDraw(row *sql.Row) (storage.DrawRecord, error) {
	var (
		record    storage.DrawRecord
		counter   int64
		outcome   string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&record.GameID,
		&counter,
		&record.Kind,
		&record.RequestID,
		&record.PlayerSum,
		&record.Signature,
		&record.TxDigest,
		&outcome,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DrawRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.DrawRecord{}, err
	}
	record.Counter = uint64(counter)
	record.Outcome = storage.DrawOutcome(outcome)
	record.CreatedAt = time.UnixMilli(createdAt).UTC()
	record.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return record, nil
}
