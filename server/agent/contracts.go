package agent

import (
	"fmt"
	"strings"

	"kuhn-arena/server/engine"
)

// Observation is what an actor sees at a decision: its own card, its position
// and the public history. The opponent's card is never included.
type Observation struct {
	HandID   string          `json:"hand_id"`
	Actor    engine.Actor    `json:"actor"`
	Position engine.Position `json:"position"`
	Card     string          `json:"card"`    // "J" | "Q" | "K"
	History  []string        `json:"history"` // e.g. ["pass","bet"]
	InfoSet  string          `json:"info_set"`
	Point    DecisionPoint   `json:"point"`
	Pot      int             `json:"pot"`
	Legal    []string        `json:"legal_actions"` // pass|bet
}

type ActionOut struct {
	Action  string             `json:"action"` // pass|bet (check/fold/call accepted)
	Policy  map[string]float64 `json:"policy,omitempty"`
	Comment string             `json:"comment,omitempty"` // <=120 chars
}

// BuildObservation converts the state of a hand in progress into the view of
// the actor sitting at pos.
func BuildObservation(handID string, actor engine.Actor, card engine.Card, pos engine.Position, history []engine.Action) (Observation, error) {
	if !card.Valid() {
		return Observation{}, fmt.Errorf("%w: %d", engine.ErrInvalidCard, int(card))
	}
	dp, err := Context(pos, history)
	if err != nil {
		return Observation{}, err
	}
	hist := make([]string, len(history))
	pot := 1
	for i, a := range history {
		hist[i] = string(a)
		if a == engine.Bet {
			pot++
		}
	}
	legal := []string{}
	for _, a := range engine.Legal(history) {
		legal = append(legal, string(a))
	}
	return Observation{
		HandID:   handID,
		Actor:    actor,
		Position: pos,
		Card:     card.String(),
		History:  hist,
		InfoSet:  engine.InfoSetKey(card, history),
		Point:    dp,
		Pot:      pot,
		Legal:    legal,
	}, nil
}

// Validate checks a proposed action against the observation and returns the
// normalised engine action.
func Validate(o Observation, a ActionOut) (engine.Action, error) {
	act, err := engine.ParseAction(a.Action)
	if err != nil {
		return "", err
	}
	for _, la := range o.Legal {
		if la == string(act) {
			return act, nil
		}
	}
	return "", fmt.Errorf("%w: %q not in [%s]", engine.ErrInvalidAction, a.Action, strings.Join(o.Legal, " "))
}
