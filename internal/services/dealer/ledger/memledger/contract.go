package memledger

import (
	"fmt"

	"github.com/louisbranch/housedealer/internal/services/dealer/contract"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/draw"
	"github.com/louisbranch/housedealer/internal/services/dealer/domain/game"
	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
)

// abortError is a Move abort. The transaction is recorded as failed and no
// state changes.
type abortError struct {
	target string
	code   uint64
}

func (e *abortError) Error() string {
	return fmt.Sprintf("MoveAbort(%s, %d)", e.target, e.code)
}

// dispatch runs one entry point. It validates everything before writing,
// so an abort leaves state untouched. Callers hold mu.
func (l *Ledger) dispatch(digest, sender string, call ledger.Call) ([]ledger.Event, error) {
	abort := func(code uint64) error {
		return &abortError{target: call.Target(), code: code}
	}
	if call.Package != l.contract.Package || call.Module != l.contract.Module {
		return nil, abort(contract.AbortUnknownEntryPoint)
	}

	var hit bool
	switch call.Function {
	case contract.FnFirstDeal:
		return l.firstDeal(digest, sender, call, abort)
	case contract.FnDoHit:
		hit = true
	case contract.FnDoStand:
	default:
		return nil, abort(contract.AbortUnknownEntryPoint)
	}
	return l.respond(digest, sender, call, hit, abort)
}

func (l *Ledger) house(sender string, arg ledger.Arg, abort func(uint64) error) (*houseState, error) {
	if !arg.IsObject() {
		return nil, abort(contract.AbortMalformedArguments)
	}
	h, ok := l.houses[arg.Object]
	if !ok {
		return nil, abort(contract.AbortMalformedArguments)
	}
	if h.address != sender {
		return nil, abort(contract.AbortCallerNotHouse)
	}
	return h, nil
}

func (l *Ledger) firstDeal(digest, sender string, call ledger.Call, abort func(uint64) error) ([]ledger.Event, error) {
	if len(call.Args) != 3 || !call.Args[0].IsObject() || call.Args[1].IsObject() {
		return nil, abort(contract.AbortMalformedArguments)
	}
	h, err := l.house(sender, call.Args[2], abort)
	if err != nil {
		return nil, err
	}
	g, ok := l.games[call.Args[0].Object]
	if !ok || g.houseDataID != h.id {
		return nil, abort(contract.AbortMalformedArguments)
	}
	if g.status != game.StatusCreated || g.counter != 0 {
		return nil, abort(contract.AbortInvalidGameState)
	}
	sig := call.Args[1].Pure
	if err := draw.Verify(h.pub, g.randomness, g.counter, sig); err != nil {
		return nil, abort(contract.AbortInvalidBLSSig)
	}

	next := g.clone()
	next.playerCards = append(next.playerCards, draw.CardAt(sig, 0), draw.CardAt(sig, 1))
	next.dealerCards = append(next.dealerCards, draw.CardAt(sig, 2))
	next.counter += game.InitialDealCards
	next.status = game.StatusInProgress
	l.games[g.id] = next
	l.writeGame(next)
	return nil, nil
}

// respond runs do_hit or do_stand: both consume a house-owned request for
// the game and verify the draw at the current counter.
func (l *Ledger) respond(digest, sender string, call ledger.Call, hit bool, abort func(uint64) error) ([]ledger.Event, error) {
	if len(call.Args) != 4 || !call.Args[0].IsObject() || !call.Args[1].IsObject() || call.Args[2].IsObject() {
		return nil, abort(contract.AbortMalformedArguments)
	}
	h, err := l.house(sender, call.Args[3], abort)
	if err != nil {
		return nil, err
	}
	g, ok := l.games[call.Args[0].Object]
	if !ok || g.houseDataID != h.id {
		return nil, abort(contract.AbortMalformedArguments)
	}
	req, ok := l.requests[call.Args[1].Object]
	if !ok || req.hit != hit || req.gameID != g.id || req.owner != h.address {
		return nil, abort(contract.AbortRequestMismatch)
	}
	if g.status != game.StatusInProgress {
		return nil, abort(contract.AbortInvalidGameState)
	}
	if sum, _ := game.HandValue(g.playerCards); sum != req.sum {
		return nil, abort(contract.AbortInvalidSumOfHit)
	}
	sig := call.Args[2].Pure
	if err := draw.Verify(h.pub, g.randomness, g.counter, sig); err != nil {
		return nil, abort(contract.AbortInvalidBLSSig)
	}

	next := g.clone()
	if hit {
		next.playerCards = append(next.playerCards, draw.NextCard(sig))
		next.counter++
		if game.Busted(next.playerCards) {
			next.status = game.StatusHouseWon
		}
	} else {
		drawn := 0
		for {
			total, _ := game.HandValue(next.dealerCards)
			if total >= game.DealerStandThreshold {
				break
			}
			next.dealerCards = append(next.dealerCards, draw.CardAt(sig, drawn))
			drawn++
		}
		next.counter += uint64(drawn)
		next.status = standOutcome(next.playerCards, next.dealerCards)
	}

	delete(l.requests, req.id)
	l.remove(req.id)
	l.games[g.id] = next
	l.writeGame(next)
	if !next.status.Terminal() {
		return nil, nil
	}
	l.settle(h, next)
	playerSum, _ := game.HandValue(next.playerCards)
	dealerSum, _ := game.HandValue(next.dealerCards)
	ev := l.emit(digest, sender, contract.EventGameOutcome, 0, contract.GameOutcomeEvent{
		GameID:    next.id,
		Status:    uint8(next.status),
		PlayerSum: uint64(playerSum),
		DealerSum: uint64(dealerSum),
	})
	return []ledger.Event{ev}, nil
}

func standOutcome(player, dealer []game.CardIndex) game.Status {
	p, _ := game.HandValue(player)
	d, _ := game.HandValue(dealer)
	switch {
	case d > game.BustThreshold || p > d:
		return game.StatusPlayerWon
	case p == d:
		return game.StatusTie
	default:
		return game.StatusHouseWon
	}
}

// settle pays out the pot. The house treasury receives its winnings.
func (l *Ledger) settle(h *houseState, g *gameState) {
	pot := g.stake * 2
	switch g.status {
	case game.StatusPlayerWon:
		l.balances[g.player] += pot
	case game.StatusHouseWon:
		h.balance += pot
	case game.StatusTie:
		l.balances[g.player] += g.stake
		h.balance += g.stake
	}
	l.writeHouse(h)
}
