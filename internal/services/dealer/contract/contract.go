// Package contract names the blackjack Move module's entry points, object
// types and field layout, and builds the calls the house submits.
package contract

import (
	"strings"

	"github.com/louisbranch/housedealer/internal/services/dealer/ledger"
)

// DefaultModule is the Move module holding the game.
const DefaultModule = "single_player_blackjack"

// Entry points.
const (
	FnFirstDeal = "first_deal"
	FnDoHit     = "do_hit"
	FnDoStand   = "do_stand"
)

// Struct names.
const (
	TypeGame         = "Game"
	TypeHitRequest   = "HitRequest"
	TypeStandRequest = "StandRequest"
	TypeHouseData    = "HouseData"
)

// Event names.
const (
	EventGameCreated    = "GameCreated"
	EventHitRequested   = "HitRequested"
	EventStandRequested = "StandRequested"
	EventGameOutcome    = "GameOutcome"
)

// Abort codes raised by the contract.
const (
	AbortCallerNotHouse     uint64 = 1
	AbortInvalidBLSSig      uint64 = 2
	AbortInvalidGameState   uint64 = 3
	AbortRequestMismatch    uint64 = 4
	AbortInvalidSumOfHit    uint64 = 5
	AbortInsufficientStake  uint64 = 6
	AbortUnknownEntryPoint  uint64 = 7
	AbortMalformedArguments uint64 = 8
)

// Contract identifies one deployment of the module.
type Contract struct {
	Package string
	Module  string
}

// New returns a contract for pkg, using DefaultModule when module is empty.
func New(pkg, module string) Contract {
	module = strings.TrimSpace(module)
	if module == "" {
		module = DefaultModule
	}
	return Contract{Package: strings.TrimSpace(pkg), Module: module}
}

// StructType returns the fully qualified type of a struct in the module.
func (c Contract) StructType(name string) string {
	return c.Package + "::" + c.Module + "::" + name
}

// EventType returns the fully qualified type of an event in the module.
func (c Contract) EventType(name string) string {
	return c.StructType(name)
}

// RequestType returns the struct name consumed by a hit or stand.
func RequestType(hit bool) string {
	if hit {
		return TypeHitRequest
	}
	return TypeStandRequest
}

func (c Contract) call(fn string, args ...ledger.Arg) ledger.Call {
	return ledger.Call{Package: c.Package, Module: c.Module, Function: fn, Args: args}
}

// FirstDeal deals the opening three cards from one draw at counter 0.
func (c Contract) FirstDeal(gameID, houseDataID string, sig []byte) ledger.Call {
	return c.call(FnFirstDeal,
		ledger.ObjectArg(gameID),
		ledger.BytesArg(sig),
		ledger.ObjectArg(houseDataID),
	)
}

// DoHit consumes a HitRequest and deals the player one card.
func (c Contract) DoHit(gameID, requestID, houseDataID string, sig []byte) ledger.Call {
	return c.call(FnDoHit,
		ledger.ObjectArg(gameID),
		ledger.ObjectArg(requestID),
		ledger.BytesArg(sig),
		ledger.ObjectArg(houseDataID),
	)
}

// DoStand consumes a StandRequest; the contract draws for the dealer and
// settles.
func (c Contract) DoStand(gameID, requestID, houseDataID string, sig []byte) ledger.Call {
	return c.call(FnDoStand,
		ledger.ObjectArg(gameID),
		ledger.ObjectArg(requestID),
		ledger.BytesArg(sig),
		ledger.ObjectArg(houseDataID),
	)
}

// AllowedTargets lists the entry points the sponsor may pay for.
func (c Contract) AllowedTargets() []string {
	return []string{
		c.call(FnFirstDeal).Target(),
		c.call(FnDoHit).Target(),
		c.call(FnDoStand).Target(),
	}
}
