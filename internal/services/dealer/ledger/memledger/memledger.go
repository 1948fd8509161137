// Package memledger is an in-memory ledger node running the blackjack
// contract. Tests and scenarios drive it the way players would, and the
// dealer talks to it through ledger.Client.
//
// Reads are eventually consistent: every write becomes visible ReadLag
// after it is committed.
package memledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
	"github.com/louisbranch/housedealer/internal/services/dealer/contract"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/draw"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
)

// GasCoinType is the type of fee units.
const GasCoinType = "0x2::coin::Coin<0x2::sui::SUI>"

// OwnerShared marks shared objects.
const OwnerShared = "shared"

const defaultPageSize = 50

// Options configures a Ledger.
type Options struct {
	Contract contract.Contract
	// ReadLag delays visibility of every write.
	ReadLag time.Duration
	Now     func() time.Time
}

type version struct {
	obj       ledger.Object
	deleted   bool
	visibleAt time.Time
}

type txRecord struct {
	resp      ledger.TxResponse
	function  string
	visibleAt time.Time
}

type eventRecord struct {
	event     ledger.Event
	visibleAt time.Time
}

type houseState struct {
	id      string
	address string
	balance uint64
	pub     draw.PublicKey
	pubRaw  []byte
}

type gameState struct {
	id          string
	houseDataID string
	player      string
	randomness  []byte
	counter     uint64
	playerCards []game.CardIndex
	dealerCards []game.CardIndex
	status      game.Status
	stake       uint64
}

func (g *gameState) clone() *gameState {
	out := *g
	out.playerCards = append([]game.CardIndex(nil), g.playerCards...)
	out.dealerCards = append([]game.CardIndex(nil), g.dealerCards...)
	return &out
}

type requestState struct {
	id     string
	gameID string
	owner  string
	sum    int
	hit    bool
}

// Ledger is the in-memory node.
type Ledger struct {
	contract contract.Contract
	lag      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	versions  map[string][]version
	houses    map[string]*houseState
	games     map[string]*gameState
	requests  map[string]*requestState
	gasCoins  map[string]string
	balances  map[string]uint64
	txs       map[string]txRecord
	txOrder   []string
	events    []eventRecord
	nextVer   uint64
	dropResps int
}

// New builds an empty ledger.
func New(opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Contract.Package == "" {
		opts.Contract = contract.New("0x"+strings.Repeat("0", 63)+"b", "")
	}
	return &Ledger{
		contract: opts.Contract,
		lag:      opts.ReadLag,
		now:      opts.Now,
		versions: map[string][]version{},
		houses:   map[string]*houseState{},
		games:    map[string]*gameState{},
		requests: map[string]*requestState{},
		gasCoins: map[string]string{},
		balances: map[string]uint64{},
		txs:      map[string]txRecord{},
	}
}

// Contract returns the deployment the ledger runs.
func (l *Ledger) Contract() contract.Contract {
	return l.contract
}

// NewObjectID returns a fresh 32-byte object id.
func NewObjectID() string {
	a, b := uuid.New(), uuid.New()
	return "0x" + hex.EncodeToString(a[:]) + hex.EncodeToString(b[:])
}

func (l *Ledger) visibleAt() time.Time {
	return l.now().Add(l.lag)
}

// put writes a new version of an object. Callers hold mu.
func (l *Ledger) put(id, typ, owner string, fields any) {
	raw, err := json.Marshal(fields)
	if err != nil {
		panic(fmt.Sprintf("memledger: marshal %s fields: %v", typ, err))
	}
	l.nextVer++
	l.versions[id] = append(l.versions[id], version{
		obj:       ledger.Object{ID: id, Type: typ, Owner: owner, Version: l.nextVer, Fields: raw},
		visibleAt: l.visibleAt(),
	})
}

func (l *Ledger) remove(id string) {
	l.nextVer++
	l.versions[id] = append(l.versions[id], version{deleted: true, visibleAt: l.visibleAt()})
}

// current returns the newest version visible now. Callers hold mu.
func (l *Ledger) current(id string, now time.Time) (ledger.Object, bool) {
	vs := l.versions[id]
	for i := len(vs) - 1; i >= 0; i-- {
		if vs[i].visibleAt.After(now) {
			continue
		}
		if vs[i].deleted {
			return ledger.Object{}, false
		}
		return vs[i].obj, true
	}
	return ledger.Object{}, false
}

func (l *Ledger) writeHouse(h *houseState) {
	l.put(h.id, l.contract.StructType(contract.TypeHouseData), OwnerShared, contract.HouseDataFields{
		ID:        contract.UID{ID: h.id},
		Balance:   h.balance,
		House:     h.address,
		PublicKey: contract.ByteArray(h.pubRaw),
	})
}

func (l *Ledger) writeGame(g *gameState) {
	playerSum, _ := game.HandValue(g.playerCards)
	dealerSum, _ := game.HandValue(g.dealerCards)
	l.put(g.id, l.contract.StructType(contract.TypeGame), OwnerShared, contract.GameFields{
		ID:             contract.UID{ID: g.id},
		Player:         g.player,
		UserRandomness: contract.ByteArray(g.randomness),
		Counter:        g.counter,
		PlayerCards:    cardArray(g.playerCards),
		DealerCards:    cardArray(g.dealerCards),
		PlayerSum:      uint64(playerSum),
		DealerSum:      uint64(dealerSum),
		Status:         uint8(g.status),
		TotalStake:     g.stake * 2,
	})
}

func cardArray(cards []game.CardIndex) []int {
	out := make([]int, len(cards))
	for i, c := range cards {
		out[i] = int(c)
	}
	return out
}

func (l *Ledger) emit(digest, sender, name string, seq int, fields any) ledger.Event {
	raw, err := json.Marshal(fields)
	if err != nil {
		panic(fmt.Sprintf("memledger: marshal %s event: %v", name, err))
	}
	ev := ledger.Event{
		ID:       fmt.Sprintf("%s:%d", digest, seq),
		TxDigest: digest,
		Type:     l.contract.EventType(name),
		Sender:   sender,
		Fields:   raw,
	}
	l.events = append(l.events, eventRecord{event: ev, visibleAt: l.visibleAt()})
	return ev
}

// recordTx stores a transaction outcome. Callers hold mu.
func (l *Ledger) recordTx(resp ledger.TxResponse, function string) {
	l.txs[resp.Digest] = txRecord{resp: resp, function: function, visibleAt: l.visibleAt()}
	l.txOrder = append(l.txOrder, resp.Digest)
}

func playerDigest() string {
	return strings.TrimPrefix(NewObjectID(), "0x")
}

// CreateHouseData publishes the house treasury with its draw public key.
func (l *Ledger) CreateHouseData(house string, pub draw.PublicKey, balance uint64) (string, error) {
	raw := pub.Bytes()
	if len(raw) == 0 {
		return "", errors.New("house public key is empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h := &houseState{id: NewObjectID(), address: house, balance: balance, pub: pub, pubRaw: raw}
	l.houses[h.id] = h
	l.writeHouse(h)
	return h.id, nil
}

// CreateGame opens a game for player with the given stake. The house
// matches the stake from its treasury.
func (l *Ledger) CreateGame(player string, randomness []byte, stake uint64, houseDataID string) (string, error) {
	if len(randomness) == 0 {
		return "", errors.New("user randomness is required")
	}
	if stake == 0 {
		return "", errors.New("stake must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.houses[houseDataID]
	if !ok {
		return "", fmt.Errorf("house data %s not found", houseDataID)
	}
	if h.balance < stake {
		return "", fmt.Errorf("house balance %d cannot match stake %d", h.balance, stake)
	}
	h.balance -= stake
	g := &gameState{
		id:          NewObjectID(),
		houseDataID: houseDataID,
		player:      player,
		randomness:  append([]byte(nil), randomness...),
		status:      game.StatusCreated,
		stake:       stake,
	}
	l.games[g.id] = g
	l.writeHouse(h)
	l.writeGame(g)

	digest := playerDigest()
	ev := l.emit(digest, player, contract.EventGameCreated, 0, contract.GameCreatedEvent{
		GameID: g.id, Player: player, TotalStake: stake * 2,
	})
	l.recordTx(ledger.TxResponse{Digest: digest, Status: ledger.ExecutionSuccess, Events: []ledger.Event{ev}}, "create_game")
	return g.id, nil
}

// RequestHit records a player hit request owned by the house. It returns
// the request id and the digest of the player's transaction.
func (l *Ledger) RequestHit(player, gameID string) (requestID, digest string, err error) {
	return l.request(player, gameID, true)
}

// RequestStand records a player stand request.
func (l *Ledger) RequestStand(player, gameID string) (requestID, digest string, err error) {
	return l.request(player, gameID, false)
}

func (l *Ledger) request(player, gameID string, hit bool) (string, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.games[gameID]
	if !ok {
		return "", "", fmt.Errorf("game %s not found", gameID)
	}
	if g.player != player {
		return "", "", fmt.Errorf("%s is not the player of %s", player, gameID)
	}
	if g.status != game.StatusInProgress {
		return "", "", fmt.Errorf("game %s is %s", gameID, g.status)
	}
	h := l.houses[g.houseDataID]
	sum, _ := game.HandValue(g.playerCards)
	r := &requestState{id: NewObjectID(), gameID: gameID, owner: h.address, sum: sum, hit: hit}
	l.requests[r.id] = r
	l.put(r.id, l.contract.StructType(contract.RequestType(hit)), r.owner, contract.RequestFields{
		ID:                   contract.UID{ID: r.id},
		GameID:               gameID,
		CurrentPlayerHandSum: uint64(sum),
	})

	name := contract.EventStandRequested
	if hit {
		name = contract.EventHitRequested
	}
	digest := playerDigest()
	ev := l.emit(digest, player, name, 0, contract.RequestEvent{
		GameID: gameID, RequestID: r.id, CurrentPlayerHandSum: uint64(sum),
	})
	l.recordTx(ledger.TxResponse{Digest: digest, Status: ledger.ExecutionSuccess, Events: []ledger.Event{ev}}, name)
	return r.id, digest, nil
}

// AddGasCoin mints a fee unit owned by owner.
func (l *Ledger) AddGasCoin(owner string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := NewObjectID()
	l.gasCoins[id] = owner
	l.put(id, GasCoinType, owner, map[string]string{"balance": "1000000000000"})
	return id
}

// DropResponses makes the next n executions commit but answer with a
// transport error, as when a connection breaks after submission.
func (l *Ledger) DropResponses(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropResps = n
}

// Balance returns the payouts credited to addr.
func (l *Ledger) Balance(addr string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// HouseBalance returns the treasury balance of a HouseData object.
func (l *Ledger) HouseBalance(houseDataID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.houses[houseDataID]; ok {
		return h.balance
	}
	return 0
}

// Executed reports whether digest was executed, successfully or not.
func (l *Ledger) Executed(digest string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.txs[digest]
	return ok
}

// Calls counts successful house transactions per entry point.
func (l *Ledger) Calls(function string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, d := range l.txOrder {
		rec := l.txs[d]
		if rec.function == function && rec.resp.Succeeded() {
			n++
		}
	}
	return n
}

// GetObject implements ledger.Reader.
func (l *Ledger) GetObject(ctx context.Context, id string) (ledger.Object, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Object{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	obj, ok := l.current(id, l.now())
	if !ok {
		return ledger.Object{}, fmt.Errorf("%s: %w", id, ledger.ErrObjectNotFound)
	}
	return obj, nil
}

// ListOwnedObjects implements ledger.Reader. Pages are ordered by id and
// the cursor is the last id of the previous page.
func (l *Ledger) ListOwnedObjects(ctx context.Context, q ledger.OwnedQuery) (ledger.ObjectPage, error) {
	if err := ctx.Err(); err != nil {
		return ledger.ObjectPage{}, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var matches []ledger.Object
	for id := range l.versions {
		obj, ok := l.current(id, now)
		if !ok || obj.Owner != q.Owner {
			continue
		}
		if q.StructType != "" && obj.Type != q.StructType {
			continue
		}
		matches = append(matches, obj)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	start := 0
	if q.Cursor != "" {
		start = sort.Search(len(matches), func(i int) bool { return matches[i].ID > q.Cursor })
	}
	end := min(start+limit, len(matches))
	page := ledger.ObjectPage{Objects: append([]ledger.Object(nil), matches[start:end]...)}
	if end < len(matches) {
		page.HasNextPage = true
		page.NextCursor = matches[end-1].ID
	}
	return page, nil
}

// WaitForTransaction implements ledger.Client.
func (l *Ledger) WaitForTransaction(ctx context.Context, digest string) (ledger.TxResponse, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxResponse{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.txs[digest]
	if !ok || rec.visibleAt.After(l.now()) {
		return ledger.TxResponse{}, fmt.Errorf("%s: %w", digest, ledger.ErrTransactionNotFound)
	}
	return rec.resp, nil
}

// QueryEvents implements ledger.Client.
func (l *Ledger) QueryEvents(ctx context.Context, q ledger.EventQuery) (ledger.EventPage, error) {
	if err := ctx.Err(); err != nil {
		return ledger.EventPage{}, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	prefix := q.MoveEventType
	exact := prefix != ""
	if !exact && q.Package != "" {
		prefix = q.Package + "::"
		if q.Module != "" {
			prefix += q.Module + "::"
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if q.Cursor != "" {
		start = -1
		for i, rec := range l.events {
			if rec.event.ID == q.Cursor {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return ledger.EventPage{}, fmt.Errorf("unknown event cursor %q", q.Cursor)
		}
	}

	now := l.now()
	var page ledger.EventPage
	for i := start; i < len(l.events); i++ {
		rec := l.events[i]
		// Events are only delivered in commit order.
		if rec.visibleAt.After(now) {
			break
		}
		if exact && rec.event.Type != prefix {
			continue
		}
		if !exact && !strings.HasPrefix(rec.event.Type, prefix) {
			continue
		}
		if len(page.Events) == limit {
			page.HasNextPage = true
			break
		}
		page.Events = append(page.Events, rec.event)
	}
	if n := len(page.Events); n > 0 {
		page.NextCursor = page.Events[n-1].ID
	} else {
		page.NextCursor = q.Cursor
	}
	return page, nil
}

// ExecuteTransaction implements ledger.Client. Both the sender and the gas
// owner must sign. Re-submitting executed bytes returns the stored result.
func (l *Ledger) ExecuteTransaction(ctx context.Context, txBytes []byte, signatures []string, _ ledger.ExecuteOptions) (ledger.TxResponse, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxResponse{}, err
	}
	data, err := ledger.DecodeTransactionData(txBytes)
	if err != nil {
		return ledger.TxResponse{}, rejected("malformed transaction", err)
	}
	digest := ledger.TransactionDigest(txBytes)

	signers := map[string]bool{}
	for _, sig := range signatures {
		addr, err := ledger.VerifySignature(sig, txBytes)
		if err != nil {
			return ledger.TxResponse{}, rejected("invalid signature", err)
		}
		signers[addr] = true
	}
	if !signers[data.Sender] {
		return ledger.TxResponse{}, rejected("missing sender signature", nil)
	}
	if data.GasOwner != "" && !signers[data.GasOwner] {
		return ledger.TxResponse{}, rejected("missing gas owner signature", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.txs[digest]; ok {
		return rec.resp, nil
	}
	if data.GasPayment != "" {
		owner, ok := l.gasCoins[data.GasPayment]
		if !ok || owner != data.GasOwner {
			return ledger.TxResponse{}, rejected("gas payment not owned by gas owner", nil)
		}
	}

	call, err := ledger.DecodeCall(data.Kind)
	if err != nil {
		return ledger.TxResponse{}, rejected("malformed transaction kind", err)
	}

	resp := ledger.TxResponse{Digest: digest, Status: ledger.ExecutionSuccess}
	events, abort := l.dispatch(digest, data.Sender, call)
	if abort != nil {
		resp.Status = ledger.ExecutionFailure
		resp.Error = abort.Error()
	} else {
		resp.Events = events
	}
	l.recordTx(resp, call.Function)

	if l.dropResps > 0 {
		l.dropResps--
		return ledger.TxResponse{}, apperrors.New(apperrors.CodeTransientNetwork, "connection reset after submission")
	}
	return resp, nil
}

func rejected(msg string, cause error) error {
	if cause == nil {
		return apperrors.New(apperrors.CodeExecutionRejected, msg)
	}
	return apperrors.Wrap(apperrors.CodeExecutionRejected, msg, cause)
}
