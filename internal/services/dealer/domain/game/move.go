package game

import (
	"fmt"
	"strings"
)

// MoveKind names a house transaction.
type MoveKind uint8

const (
	MoveInitialDeal MoveKind = iota + 1
	MoveHit
	MoveStand
)

func (k MoveKind) String() string {
	switch k {
	case MoveInitialDeal:
		return "deal"
	case MoveHit:
		return "hit"
	case MoveStand:
		return "stand"
	default:
		return fmt.Sprintf("move(%d)", uint8(k))
	}
}

// ConsumesRequest reports whether the move must consume a player request.
func (k MoveKind) ConsumesRequest() bool {
	return k == MoveHit || k == MoveStand
}

// ParseMoveKind parses the names used by triggers and scenarios.
func ParseMoveKind(raw string) (MoveKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "deal", "initial_deal", "initialdeal":
		return MoveInitialDeal, nil
	case "hit":
		return MoveHit, nil
	case "stand":
		return MoveStand, nil
	default:
		return 0, fmt.Errorf("unknown move kind %q", raw)
	}
}

// ActionSet is a small set of move kinds.
type ActionSet uint8

// NewActionSet builds a set from kinds.
func NewActionSet(kinds ...MoveKind) ActionSet {
	var s ActionSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

func (s ActionSet) Has(k MoveKind) bool {
	return s&(1<<k) != 0
}

func (s ActionSet) Empty() bool {
	return s == 0
}

// Kinds lists the members in declaration order.
func (s ActionSet) Kinds() []MoveKind {
	var out []MoveKind
	for _, k := range []MoveKind{MoveInitialDeal, MoveHit, MoveStand} {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s ActionSet) String() string {
	kinds := s.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}
