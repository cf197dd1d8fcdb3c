package engine

import (
	poker "github.com/paulhankin/poker"
)

// Convert our engine.Card -> library card. Kuhn cards are rendered as spades.
func toPH(c Card) (poker.Card, error) {
	var r poker.Rank
	switch c {
	case Jack:
		r = poker.Rank(11)
	case Queen:
		r = poker.Rank(12)
	case King:
		r = poker.Rank(13)
	default:
		return 0, ErrInvalidCard
	}
	return poker.MakeCard(poker.Spade, r)
}

// Face is the display form of the card (e.g. "K♠"), falling back to the bare rank.
func (c Card) Face() string {
	pc, err := toPH(c)
	if err != nil {
		return c.String()
	}
	return pc.String()
}
