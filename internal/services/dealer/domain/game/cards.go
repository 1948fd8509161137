package game

import "fmt"

// DeckSize is the number of distinct card indices.
const DeckSize = 52

const (
	// BustThreshold is the highest total that does not bust.
	BustThreshold = 21
	// DealerStandThreshold is the total at which the dealer stops drawing.
	DealerStandThreshold = 17
	// InitialDealCards is two for the player and one for the dealer.
	InitialDealCards = 3
)

// CardIndex identifies a card in [0, 52): suit-major, rank-minor.
type CardIndex uint8

// Valid reports whether c is inside the deck.
func (c CardIndex) Valid() bool {
	return c < DeckSize
}

// Rank returns 1 (ace) through 13 (king).
func (c CardIndex) Rank() int {
	return int(c%13) + 1
}

// Suit returns 0..3 for clubs, diamonds, hearts, spades.
func (c CardIndex) Suit() int {
	return int(c / 13)
}

// Points is the hard blackjack value: aces count 1, faces count 10.
func (c CardIndex) Points() int {
	r := c.Rank()
	if r > 10 {
		return 10
	}
	return r
}

var rankSymbols = [...]string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
var suitSymbols = [...]string{"C", "D", "H", "S"}

func (c CardIndex) String() string {
	if !c.Valid() {
		return fmt.Sprintf("card(%d)", uint8(c))
	}
	return rankSymbols[c.Rank()-1] + suitSymbols[c.Suit()]
}

// HandValue returns the best total for cards and whether an ace is being
// counted as 11.
func HandValue(cards []CardIndex) (total int, soft bool) {
	aces := 0
	for _, c := range cards {
		total += c.Points()
		if c.Rank() == 1 {
			aces++
		}
	}
	if aces > 0 && total+10 <= BustThreshold {
		return total + 10, true
	}
	return total, false
}

// Busted reports whether the best total exceeds 21.
func Busted(cards []CardIndex) bool {
	total, _ := HandValue(cards)
	return total > BustThreshold
}
