package engine

import (
	"fmt"
	"math/rand"
	"strings"
)

// Policy chooses an action for the player holding card, acting at pos, after
// the public actions in history. Implementations must not retain history.
type Policy interface {
	Decide(card Card, pos Position, history []Action) Action
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(card Card, pos Position, history []Action) Action

func (f PolicyFunc) Decide(card Card, pos Position, history []Action) Action {
	return f(card, pos, history)
}

// Terminal shapes.
const (
	ShapePassPass    = "PP"
	ShapeBetPass     = "BP"
	ShapeBetBet      = "BB"
	ShapePassBetPass = "PBP"
	ShapePassBetBet  = "PBB"
)

func Shape(history []Action) string {
	var sb strings.Builder
	for _, a := range history {
		if a == Bet {
			sb.WriteByte('B')
		} else {
			sb.WriteByte('P')
		}
	}
	return sb.String()
}

// IsTerminal reports whether no further action is legal after history.
func IsTerminal(history []Action) bool {
	switch len(history) {
	case 2:
		return !(history[0] == Pass && history[1] == Bet)
	case 3:
		return history[0] == Pass && history[1] == Bet
	}
	return false
}

func Legal(history []Action) []Action {
	if len(history) > 2 || IsTerminal(history) {
		return nil
	}
	return []Action{Pass, Bet}
}

// NextToAct returns the position owning the next decision of a non-terminal history.
func NextToAct(history []Action) (Position, error) {
	switch len(history) {
	case 0:
		return First, nil
	case 1:
		return Second, nil
	case 2:
		if history[0] == Pass && history[1] == Bet {
			return First, nil
		}
	}
	return "", fmt.Errorf("%w: no actor after %q", ErrIllegalHistory, Shape(history))
}

// Outcome is the deterministic resolution of a terminal history.
type Outcome struct {
	Shape    string   `json:"shape"`
	Winner   Position `json:"winner"`
	Pot      int      `json:"pot"`   // 1 + number of bets (display convention)
	Stake    int      `json:"stake"` // chips moved from loser to winner, antes included
	Showdown bool     `json:"showdown"`
}

// Resolve maps a terminal history and the two dealt cards to its outcome.
func Resolve(history []Action, first, second Card) (Outcome, error) {
	if !first.Valid() || !second.Valid() {
		return Outcome{}, fmt.Errorf("%w: %d/%d", ErrInvalidCard, int(first), int(second))
	}
	if first == second {
		return Outcome{}, fmt.Errorf("%w: both players hold %s", ErrInvalidCard, first)
	}
	for _, a := range history {
		if !a.Valid() {
			return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidAction, a)
		}
	}
	if !IsTerminal(history) {
		return Outcome{}, fmt.Errorf("%w: %q is not terminal", ErrIllegalHistory, Shape(history))
	}

	higher := First
	if second > first {
		higher = Second
	}
	o := Outcome{Shape: Shape(history), Pot: 1}
	for _, a := range history {
		if a == Bet {
			o.Pot++
		}
	}
	switch o.Shape {
	case ShapePassPass:
		o.Winner, o.Stake, o.Showdown = higher, 1, true
	case ShapeBetPass:
		o.Winner, o.Stake = First, 1
	case ShapePassBetPass:
		o.Winner, o.Stake = Second, 1
	case ShapeBetBet, ShapePassBetBet:
		o.Winner, o.Stake, o.Showdown = higher, 2, true
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrIllegalHistory, o.Shape)
	}
	return o, nil
}

// InfoSetKey identifies a decision point: card label plus the upper-case
// action history, e.g. "2:" or "1:PASS:BET".
func InfoSetKey(card Card, history []Action) string {
	parts := make([]string, len(history))
	for i, a := range history {
		parts[i] = a.Upper()
	}
	return card.Label() + ":" + strings.Join(parts, ":")
}

type Config struct {
	// RNG seed (0 => time-based). Ignored when Rand is set.
	Seed int64
	Rand *rand.Rand
}

// Table deals hands between the two actors and drives each to a terminal state.
type Table struct {
	rng      *rand.Rand
	policies map[Actor]Policy
}

func NewTable(cfg Config, policies map[Actor]Policy) (*Table, error) {
	for _, a := range Actors {
		if policies[a] == nil {
			return nil, fmt.Errorf("missing policy for %q", a)
		}
	}
	r := cfg.Rand
	if r == nil {
		r = NewRand(cfg.Seed)
	}
	return &Table{rng: r, policies: policies}, nil
}

// PlayHand picks the acting order (50/50), deals, and plays one hand.
func (t *Table) PlayHand(id string) *Result {
	first := Equilibrium
	if t.rng.Float64() >= 0.5 {
		first = Baseline
	}
	c1, c2 := Deal(t.rng)
	return t.Play(id, first, c1, c2)
}

// Play runs the betting sequence for a fixed order and deal.
func (t *Table) Play(id string, first Actor, firstCard, secondCard Card) *Result {
	mustCard(firstCard)
	mustCard(secondCard)
	if firstCard == secondCard {
		invalidState("duplicate card %s", firstCard)
	}
	if first != Equilibrium && first != Baseline {
		invalidState("unknown actor %q", first)
	}

	res := &Result{
		ID:     id,
		First:  first,
		Second: first.Other(),
		Cards:  map[Actor]Card{first: firstCard, first.Other(): secondCard},
	}
	var actions []Action
	for !IsTerminal(actions) {
		pos, err := NextToAct(actions)
		if err != nil {
			invalidState("%v", err)
		}
		actor := res.ActorAt(pos)
		seen := append([]Action(nil), actions...)
		act := t.policies[actor].Decide(res.Cards[actor], pos, seen)
		if !act.Valid() {
			invalidState("policy %s returned %q", actor, act)
		}
		actions = append(actions, act)
		res.History = append(res.History, Move{Actor: actor, Position: pos, Action: act})
	}

	o, err := Resolve(actions, firstCard, secondCard)
	if err != nil {
		invalidState("%v", err)
	}
	winner := res.ActorAt(o.Winner)
	res.Shape = o.Shape
	res.Pot = o.Pot
	res.Winner = winner
	res.Showdown = o.Showdown
	res.Payoff = map[Actor]int{winner: o.Stake, winner.Other(): -o.Stake}
	return res
}
