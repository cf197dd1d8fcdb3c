package engine

import (
	"fmt"
	"strings"
)

type Position string

const (
	First  Position = "first"
	Second Position = "second"
)

func (p Position) Other() Position {
	if p == First {
		return Second
	}
	return First
}

type Action string

const (
	Pass Action = "pass"
	Bet  Action = "bet"
)

func (a Action) Valid() bool { return a == Pass || a == Bet }

// Upper is the form used in information-set keys ("PASS", "BET").
func (a Action) Upper() string { return strings.ToUpper(string(a)) }

func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass", "check", "fold":
		return Pass, nil
	case "bet", "call":
		return Bet, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// Actor identifies which policy plays a seat.
type Actor string

const (
	Equilibrium Actor = "cfr"
	Baseline    Actor = "baseline"
	NoActor     Actor = ""
)

func (a Actor) Other() Actor {
	if a == Equilibrium {
		return Baseline
	}
	return Equilibrium
}

var Actors = []Actor{Equilibrium, Baseline}

type Move struct {
	Actor    Actor    `json:"actor"`
	Position Position `json:"position"`
	Action   Action   `json:"action"`
}

// Result is produced once per hand and never mutated afterwards.
type Result struct {
	ID       string         `json:"id"`
	First    Actor          `json:"first"`
	Second   Actor          `json:"second"`
	Cards    map[Actor]Card `json:"cards"`
	History  []Move         `json:"history"`
	Shape    string         `json:"shape"`
	Pot      int            `json:"pot"`
	Winner   Actor          `json:"winner"`
	Payoff   map[Actor]int  `json:"payoff"`
	Showdown bool           `json:"showdown"`
}

// Actions strips actor identities from the history.
func (r *Result) Actions() []Action {
	out := make([]Action, len(r.History))
	for i, m := range r.History {
		out[i] = m.Action
	}
	return out
}

func (r *Result) ActorAt(p Position) Actor {
	if p == First {
		return r.First
	}
	return r.Second
}

func (r *Result) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s(%s) vs %s(%s) |", r.ID, r.First, r.Cards[r.First], r.Second, r.Cards[r.Second])
	for _, m := range r.History {
		fmt.Fprintf(&sb, " %s:%s", m.Actor, m.Action)
	}
	fmt.Fprintf(&sb, " | pot=%d winner=%s", r.Pot, r.Winner)
	return sb.String()
}
