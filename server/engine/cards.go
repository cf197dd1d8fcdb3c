package engine

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Card is one of the three Kuhn ranks. Larger value = stronger card.
type Card int

const (
	Jack  Card = 1
	Queen Card = 2
	King  Card = 3
)

var Deck = []Card{Jack, Queen, King}

func (c Card) Valid() bool { return c >= Jack && c <= King }

func (c Card) String() string {
	switch c {
	case Jack:
		return "J"
	case Queen:
		return "Q"
	case King:
		return "K"
	}
	return fmt.Sprintf("Card(%d)", int(c))
}

// Label is the rank as used by info-set identifiers in the metrics record ("1".."3").
func (c Card) Label() string { return fmt.Sprintf("%d", int(c)) }

func ParseCard(s string) (Card, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "J", "1":
		return Jack, nil
	case "Q", "2":
		return Queen, nil
	case "K", "3":
		return King, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCard, s)
}

func mustCard(c Card) {
	if !c.Valid() {
		invalidState("card %d outside J/Q/K", int(c))
	}
}

// NewRand returns a seeded source; seed 0 means time-based.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Deal shuffles the three ranks and hands out the top two. The third card is
// never seen.
func Deal(r *rand.Rand) (first, second Card) {
	deck := []Card{Jack, Queen, King}
	for i := len(deck) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		deck[i], deck[j] = deck[j], deck[i]
	}
	return deck[0], deck[1]
}
