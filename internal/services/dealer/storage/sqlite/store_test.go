package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/housedealer/internal/services/dealer/storage"
)

func TestPutDrawKeepsFirstSignature(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	first, err := store.PutDraw(ctx, storage.DrawRecord{
		GameID:    "0xgame",
		Counter:   3,
		Kind:      "hit",
		RequestID: "0xreq",
		Signature: []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("put draw: %v", err)
	}
	if first.Outcome != storage.DrawPending {
		t.Fatalf("outcome = %q, want pending", first.Outcome)
	}

	second, err := store.PutDraw(ctx, storage.DrawRecord{
		GameID:    "0xgame",
		Counter:   3,
		Kind:      "hit",
		RequestID: "0xother",
		Signature: []byte{9, 9, 9},
	})
	if err != nil {
		t.Fatalf("put draw again: %v", err)
	}
	if !bytes.Equal(second.Signature, []byte{1, 2, 3}) {
		t.Fatalf("signature replaced: %x", second.Signature)
	}
	if second.RequestID != "0xother" {
		t.Fatalf("request id = %q, want the latest unapplied move", second.RequestID)
	}
}

func TestPutDrawRewritesUnappliedMove(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.PutDraw(ctx, storage.DrawRecord{
		GameID: "0xgame", Counter: 4, Kind: "hit", RequestID: "0xhit", PlayerSum: 14, Signature: []byte{4},
	}); err != nil {
		t.Fatalf("put hit: %v", err)
	}
	stand, err := store.PutDraw(ctx, storage.DrawRecord{
		GameID: "0xgame", Counter: 4, Kind: "stand", RequestID: "0xstand", PlayerSum: 14, Signature: []byte{4},
	})
	if err != nil {
		t.Fatalf("put stand: %v", err)
	}
	if stand.Kind != "stand" || stand.RequestID != "0xstand" || stand.Outcome != storage.DrawPending {
		t.Fatalf("stored = %+v", stand)
	}
	if err := store.MarkDrawOutcome(ctx, "0xgame", 4, storage.DrawApplied, "standdigest"); err != nil {
		t.Fatalf("mark applied: %v", err)
	}

	if _, err := store.FindSettled(ctx, "0xgame", "hit", "0xhit"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unconsumed hit settled: err = %v", err)
	}
	if _, err := store.FindSettledBySum(ctx, "0xgame", "hit", 14); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unconsumed hit settled by sum: err = %v", err)
	}

	kept, err := store.PutDraw(ctx, storage.DrawRecord{
		GameID: "0xgame", Counter: 4, Kind: "hit", RequestID: "0xlate", Signature: []byte{4},
	})
	if err != nil {
		t.Fatalf("put after apply: %v", err)
	}
	if kept.Kind != "stand" || kept.RequestID != "0xstand" || kept.Outcome != storage.DrawApplied || kept.TxDigest != "standdigest" {
		t.Fatalf("applied row rewritten: %+v", kept)
	}
}

func TestFindSettledBySum(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for _, rec := range []storage.DrawRecord{
		{GameID: "0xgame", Counter: 3, Kind: "hit", RequestID: "0xr1", PlayerSum: 13, Signature: []byte{3}},
		{GameID: "0xgame", Counter: 4, Kind: "hit", RequestID: "0xr2", PlayerSum: 13, Signature: []byte{4}},
	} {
		if _, err := store.PutDraw(ctx, rec); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := store.MarkDrawOutcome(ctx, rec.GameID, rec.Counter, storage.DrawApplied, "d"+rec.RequestID); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	got, err := store.FindSettledBySum(ctx, "0xgame", "hit", 13)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Counter != 4 || got.RequestID != "0xr2" || got.PlayerSum != 13 {
		t.Fatalf("got = %+v, want latest draw at sum 13", got)
	}
	if _, err := store.FindSettledBySum(ctx, "0xgame", "stand", 13); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("stand err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentGamesWriteJournal(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	const games = 32
	var g errgroup.Group
	for i := 0; i < games; i++ {
		gameID := fmt.Sprintf("0xgame%02d", i)
		g.Go(func() error {
			for counter := uint64(0); counter < 10; counter++ {
				if _, err := store.PutDraw(ctx, storage.DrawRecord{
					GameID: gameID, Counter: counter, Kind: "hit", Signature: []byte{byte(counter)},
				}); err != nil {
					return err
				}
				if err := store.MarkDrawOutcome(ctx, gameID, counter, storage.DrawApplied, "digest"); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent journal writes: %v", err)
	}
	for i := 0; i < games; i++ {
		rec, err := store.GetDraw(ctx, fmt.Sprintf("0xgame%02d", i), 9)
		if err != nil || rec.Outcome != storage.DrawApplied {
			t.Fatalf("game %d: rec = %+v, err = %v", i, rec, err)
		}
	}
}

func TestGetDrawNotFound(t *testing.T) {
	store := openTempStore(t)
	if _, err := store.GetDraw(context.Background(), "0xgame", 0); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkDrawOutcomeAndFindSettled(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.PutDraw(ctx, storage.DrawRecord{GameID: "0xgame", Counter: 0, Kind: "deal", Signature: []byte{1}}); err != nil {
		t.Fatalf("put deal: %v", err)
	}
	if _, err := store.FindSettled(ctx, "0xgame", "deal", ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("pending draw reported settled: %v", err)
	}
	if err := store.MarkDrawOutcome(ctx, "0xgame", 0, storage.DrawApplied, "D1"); err != nil {
		t.Fatalf("mark outcome: %v", err)
	}
	settled, err := store.FindSettled(ctx, "0xgame", "deal", "")
	if err != nil {
		t.Fatalf("find settled: %v", err)
	}
	if settled.TxDigest != "D1" || settled.Outcome != storage.DrawApplied {
		t.Fatalf("settled = %+v", settled)
	}

	// An empty digest keeps the stored one.
	if err := store.MarkDrawOutcome(ctx, "0xgame", 0, storage.DrawApplied, ""); err != nil {
		t.Fatalf("mark outcome again: %v", err)
	}
	if got, _ := store.GetDraw(ctx, "0xgame", 0); got.TxDigest != "D1" {
		t.Fatalf("digest = %q, want D1", got.TxDigest)
	}

	if err := store.MarkDrawOutcome(ctx, "0xgame", 7, storage.DrawRejected, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPutDrawValidation(t *testing.T) {
	store := openTempStore(t)
	if _, err := store.PutDraw(context.Background(), storage.DrawRecord{Kind: "deal", Signature: []byte{1}}); err == nil {
		t.Fatal("expected game id error")
	}
	if _, err := store.PutDraw(context.Background(), storage.DrawRecord{GameID: "0xg", Kind: "deal"}); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestCursorRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	cursor, err := store.LoadCursor(ctx, "events")
	if err != nil || cursor != "" {
		t.Fatalf("initial cursor = %q, err %v", cursor, err)
	}
	if err := store.SaveCursor(ctx, "events", "D1:0"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveCursor(ctx, "events", "D2:1"); err != nil {
		t.Fatalf("save again: %v", err)
	}
	if cursor, _ := store.LoadCursor(ctx, "events"); cursor != "D2:1" {
		t.Fatalf("cursor = %q, want D2:1", cursor)
	}
}

func TestRecordAndListAttempts(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 2, 21, 23, 30, 0, 0, time.UTC)

	if err := store.RecordAttempt(context.Background(), storage.AttemptRecord{
		EventID:      "D1:0",
		EventType:    "HitRequested",
		Consumer:     "dealer-events",
		Outcome:      "retry",
		AttemptCount: 1,
		LastError:    "temporary error",
		CreatedAt:    now,
	}); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if err := store.RecordAttempt(context.Background(), storage.AttemptRecord{
		EventID:      "D1:0",
		EventType:    "HitRequested",
		Consumer:     "dealer-events",
		Outcome:      "succeeded",
		AttemptCount: 2,
		CreatedAt:    now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("record attempt second: %v", err)
	}

	attempts, err := store.ListAttempts(context.Background(), 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts len = %d, want 2", len(attempts))
	}
	if attempts[0].Outcome != "succeeded" {
		t.Fatalf("attempts[0].outcome = %q, want %q", attempts[0].Outcome, "succeeded")
	}
	if attempts[1].Outcome != "retry" {
		t.Fatalf("attempts[1].outcome = %q, want %q", attempts[1].Outcome, "retry")
	}
}

func TestRecordAttemptValidation(t *testing.T) {
	store := openTempStore(t)

	if err := store.RecordAttempt(context.Background(), storage.AttemptRecord{}); err == nil {
		t.Fatal("expected validation error for empty attempt")
	}
}

func TestOpenMemory(t *testing.T) {
	store, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := store.SaveCursor(context.Background(), "c", "x"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, _ := store.LoadCursor(context.Background(), "c"); got != "x" {
		t.Fatalf("cursor = %q", got)
	}
}

func TestReopenKeepsJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dealer.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.PutDraw(context.Background(), storage.DrawRecord{GameID: "0xg", Counter: 4, Kind: "stand", Signature: []byte{4}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.GetDraw(context.Background(), "0xg", 4); err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dealer.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
