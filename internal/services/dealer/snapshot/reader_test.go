package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/platform/retry"
	"github.com/louisbranch/housedealer/internal/services/dealer/contract"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
)

var testContract = contract.New("0xpkg", "")

type fakeLedger struct {
	mu       sync.Mutex
	objects  map[string][]ledger.Object
	reads    map[string]int
	readErrs []error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{objects: map[string][]ledger.Object{}, reads: map[string]int{}}
}

// put queues successive versions: read n returns version min(n, last).
func (f *fakeLedger) put(obj ledger.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[obj.ID] = append(f.objects[obj.ID], obj)
}

func (f *fakeLedger) GetObject(_ context.Context, id string) (ledger.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		return ledger.Object{}, err
	}
	versions, ok := f.objects[id]
	if !ok {
		return ledger.Object{}, ledger.ErrObjectNotFound
	}
	n := f.reads[id]
	f.reads[id]++
	if n >= len(versions) {
		n = len(versions) - 1
	}
	return versions[n], nil
}

func (f *fakeLedger) ListOwnedObjects(context.Context, ledger.OwnedQuery) (ledger.ObjectPage, error) {
	return ledger.ObjectPage{}, nil
}

func gameObject(t *testing.T, id string, fields contract.GameFields) ledger.Object {
	t.Helper()
	fields.ID = contract.UID{ID: id}
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal fields: %v", err)
	}
	return ledger.Object{ID: id, Type: testContract.StructType(contract.TypeGame), Fields: raw}
}

func TestReadDecodesGame(t *testing.T) {
	l := newFakeLedger()
	l.put(gameObject(t, "0xgame", contract.GameFields{
		Player:         "0xplayer",
		UserRandomness: contract.ByteArray([]byte{1, 2, 255}),
		Counter:        3,
		PlayerCards:    []int{0, 12},
		DealerCards:    []int{51},
		PlayerSum:      21,
		DealerSum:      10,
		Status:         uint8(game.StatusInProgress),
		TotalStake:     200000000,
	}))

	g, err := NewReader(l, nil).Read(context.Background(), "0xgame")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if g.ID != "0xgame" || g.Player != "0xplayer" || g.Counter != 3 || g.Status != game.StatusInProgress {
		t.Fatalf("game = %+v", g)
	}
	if string(g.UserRandomness) != "\x01\x02\xff" {
		t.Fatalf("randomness = %x", g.UserRandomness)
	}
	if len(g.PlayerCards) != 2 || g.DealerCards[0] != 51 || g.PlayerSum != 21 || g.TotalStake != 200000000 {
		t.Fatalf("cards/sums = %+v", g)
	}
}

func TestReadTreatsNullHandsAsEmpty(t *testing.T) {
	l := newFakeLedger()
	l.put(ledger.Object{ID: "0xnew", Type: testContract.StructType(contract.TypeGame), Fields: json.RawMessage(
		`{"player":"0x1","user_randomness":[7],"counter":"0","status":0,"player_cards":null,"dealer_cards":null}`)})

	g, err := NewReader(l, nil).Read(context.Background(), "0xnew")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(g.PlayerCards) != 0 || len(g.DealerCards) != 0 || g.Status != game.StatusCreated {
		t.Fatalf("game = %+v", g)
	}
}

func TestReadClassifiesFailures(t *testing.T) {
	l := newFakeLedger()
	r := NewReader(l, nil)

	if _, err := r.Read(context.Background(), "0xmissing"); !apperrors.HasCode(err, apperrors.CodeGameNotFound) {
		t.Fatalf("missing err = %v, want game not found", err)
	}
	l.readErrs = []error{errors.New("connection reset")}
	if _, err := r.Read(context.Background(), "0xmissing"); !apperrors.HasCode(err, apperrors.CodeTransientNetwork) {
		t.Fatalf("transport err = %v, want transient", err)
	}
	if _, err := r.Read(context.Background(), ""); !apperrors.HasCode(err, apperrors.CodeGameIDEmpty) {
		t.Fatalf("empty id err = %v", err)
	}
}

func TestReadRejectsMalformedObjects(t *testing.T) {
	l := newFakeLedger()
	l.put(ledger.Object{ID: "0xreq", Type: testContract.StructType(contract.TypeHitRequest), Fields: json.RawMessage(`{}`)})
	l.put(ledger.Object{ID: "0xbad", Type: testContract.StructType(contract.TypeGame), Fields: json.RawMessage(`{"player":"0x1","user_randomness":[1],"counter":"0","status":9}`)})
	l.put(ledger.Object{ID: "0xcards", Type: testContract.StructType(contract.TypeGame), Fields: json.RawMessage(`{"player":"0x1","user_randomness":[1],"counter":"1","status":1,"player_cards":[60]}`)})

	r := NewReader(l, nil)
	for _, id := range []string{"0xreq", "0xbad", "0xcards"} {
		if _, err := r.Read(context.Background(), id); !apperrors.HasCode(err, apperrors.CodeSnapshotMalformed) {
			t.Fatalf("%s err = %v, want malformed", id, err)
		}
	}
}

func TestDecodeRequestAndHouseData(t *testing.T) {
	req, err := DecodeRequest(ledger.Object{
		ID:     "0xreq",
		Type:   testContract.StructType(contract.TypeStandRequest),
		Fields: json.RawMessage(`{"id":{"id":"0xreq"},"game_id":"0xgame","current_player_hand_sum":"17"}`),
	})
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Kind != game.MoveStand || req.GameID != "0xgame" || req.CurrentPlayerSum != 17 {
		t.Fatalf("request = %+v", req)
	}

	house, err := DecodeHouseData(ledger.Object{
		ID:     "0xhouse",
		Type:   testContract.StructType(contract.TypeHouseData),
		Fields: json.RawMessage(`{"balance":"1000","house":"0xaddr","public_key":[7,8]}`),
	})
	if err != nil {
		t.Fatalf("decode house: %v", err)
	}
	if house.Balance != 1000 || house.Address != "0xaddr" || string(house.PublicKey) != "\x07\x08" {
		t.Fatalf("house = %+v", house)
	}
}

func TestAwaitChangePollsUntilVisible(t *testing.T) {
	l := newFakeLedger()
	stale := contract.GameFields{Player: "0xp", UserRandomness: []int{1}, Status: uint8(game.StatusCreated)}
	fresh := stale
	fresh.Counter = 3
	fresh.Status = uint8(game.StatusInProgress)
	l.put(gameObject(t, "0xgame", stale))
	l.put(gameObject(t, "0xgame", stale))
	l.put(gameObject(t, "0xgame", fresh))

	policy := retry.Policy{Delays: []time.Duration{time.Millisecond}, MaxAttempts: 5}
	g, err := NewReader(l, nil).AwaitChange(context.Background(), "0xgame", func(g game.Game) bool {
		return g.Counter == 3
	}, policy)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if g.Status != game.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", g.Status)
	}
	if l.reads["0xgame"] != 3 {
		t.Fatalf("reads = %d, want 3", l.reads["0xgame"])
	}
}

func TestAwaitChangeTimesOutWithLastSnapshot(t *testing.T) {
	l := newFakeLedger()
	l.put(gameObject(t, "0xgame", contract.GameFields{Player: "0xp", UserRandomness: []int{1}, Counter: 0}))

	policy := retry.Policy{Delays: []time.Duration{time.Millisecond}, MaxAttempts: 3}
	g, err := NewReader(l, nil).AwaitChange(context.Background(), "0xgame", func(g game.Game) bool {
		return g.Counter > 0
	}, policy)
	if !apperrors.HasCode(err, apperrors.CodeFinalityTimeout) {
		t.Fatalf("err = %v, want finality timeout", err)
	}
	if g.ID != "0xgame" {
		t.Fatalf("expected last snapshot, got %+v", g)
	}
}
