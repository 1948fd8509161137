// Package game models the on-ledger blackjack game as the house sees it and
// decides which house transactions make sense for a given snapshot.
package game

import (
	"fmt"
	"strings"
)

// Status mirrors the u8 status stored by the contract.
type Status uint8

const (
	StatusCreated Status = iota
	StatusInProgress
	StatusPlayerWon
	StatusHouseWon
	StatusTie
)

var statusNames = map[Status]string{
	StatusCreated:    "created",
	StatusInProgress: "in_progress",
	StatusPlayerWon:  "player_won",
	StatusHouseWon:   "house_won",
	StatusTie:        "tie",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Terminal reports whether no further moves are possible.
func (s Status) Terminal() bool {
	return s == StatusPlayerWon || s == StatusHouseWon || s == StatusTie
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus accepts either the numeric ledger value or the snake_case name.
func ParseStatus(raw string) (Status, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	for status, name := range statusNames {
		if raw == name || raw == fmt.Sprint(uint8(status)) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown game status %q", raw)
}

// Game is a decoded snapshot of the ledger game object.
type Game struct {
	ID             string
	Player         string
	UserRandomness []byte
	// Counter equals the number of cards drawn so far.
	Counter     uint64
	PlayerCards []CardIndex
	DealerCards []CardIndex
	PlayerSum   int
	DealerSum   int
	Status      Status
	TotalStake  uint64
}

// CardsDrawn returns the number of cards dealt to both hands.
func (g Game) CardsDrawn() int {
	return len(g.PlayerCards) + len(g.DealerCards)
}

// Clone returns a deep copy.
func (g Game) Clone() Game {
	out := g
	out.UserRandomness = append([]byte(nil), g.UserRandomness...)
	out.PlayerCards = append([]CardIndex(nil), g.PlayerCards...)
	out.DealerCards = append([]CardIndex(nil), g.DealerCards...)
	return out
}

// MoveRequest is a player-authorized hit or stand waiting for the house.
type MoveRequest struct {
	ID               string
	GameID           string
	CurrentPlayerSum int
	Kind             MoveKind
}

// HouseData is the operator treasury object.
type HouseData struct {
	ID        string
	Balance   uint64
	Address   string
	PublicKey []byte
}
