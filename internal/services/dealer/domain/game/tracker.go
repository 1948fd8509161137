package game

import (
	"strconv"

	apperrors "github.com/louisbranch/housedealer/internal/platform/errors"
)

// Phase is the house-side view of where a game stands.
type Phase uint8

const (
	PhaseInvalid Phase = iota
	PhaseAwaitingDeal
	PhasePlayerTurn
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingDeal:
		return "awaiting_deal"
	case PhasePlayerTurn:
		return "player_turn"
	case PhaseSettled:
		return "settled"
	default:
		return "invalid"
	}
}

// PhaseOf maps a snapshot to its phase. A snapshot whose counter and cards
// disagree, or whose status is unknown, is invalid.
func PhaseOf(g Game) Phase {
	switch {
	case !g.Status.Valid():
		return PhaseInvalid
	case g.Status.Terminal():
		return PhaseSettled
	case g.Counter == 0:
		if g.CardsDrawn() != 0 {
			return PhaseInvalid
		}
		return PhaseAwaitingDeal
	case g.Status == StatusInProgress:
		return PhasePlayerTurn
	default:
		return PhaseInvalid
	}
}

// LegalHouseActions returns the kinds of transaction the house may submit
// for g. Terminal games allow nothing. InitialDeal requires counter == 0.
// Hit and stand require an in-progress game; whether a matching request
// exists is the matcher's concern.
func LegalHouseActions(g Game) ActionSet {
	switch PhaseOf(g) {
	case PhaseAwaitingDeal:
		return NewActionSet(MoveInitialDeal)
	case PhasePlayerTurn:
		return NewActionSet(MoveHit, MoveStand)
	default:
		return 0
	}
}

// Validate rejects a move the snapshot does not allow.
func Validate(g Game, kind MoveKind) error {
	if kind < MoveInitialDeal || kind > MoveStand {
		return apperrors.New(apperrors.CodeInvalidMoveKind, "unknown move kind "+kind.String())
	}
	if LegalHouseActions(g).Has(kind) {
		return nil
	}
	return apperrors.WithMetadata(
		apperrors.CodeIllegalPhaseTransition,
		kind.String()+" not allowed in phase "+PhaseOf(g).String(),
		map[string]string{
			"game_id": g.ID,
			"status":  g.Status.String(),
			"counter": strconv.FormatUint(g.Counter, 10),
			"move":    kind.String(),
		},
	)
}
