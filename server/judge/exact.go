// Package judge computes the exact value of a match-up by walking the whole
// Kuhn game tree with each policy's closed-form BET probabilities.
package judge

import (
	"math"

	"kuhn-arena/server/agent"
	"kuhn-arena/server/engine"
)

// Expected is the exact per-hand outcome distribution between two policies,
// averaged over both acting orders and all six deals.
type Expected struct {
	WinProb  map[engine.Actor]float64 `json:"win_prob"`
	EV       map[engine.Actor]float64 `json:"ev"` // chips per hand
	Shapes   map[string]float64       `json:"shapes"`
	Showdown float64                  `json:"showdown"`
}

// Evaluate enumerates every order, deal and action path. Each leaf is weighted
// by the product of the BET/PASS probabilities leading to it.
func Evaluate(policies map[engine.Actor]agent.Stochastic) (Expected, error) {
	out := Expected{
		WinProb: map[engine.Actor]float64{},
		EV:      map[engine.Actor]float64{},
		Shapes:  map[string]float64{},
	}
	deals := make([][2]engine.Card, 0, 6)
	for _, a := range engine.Deck {
		for _, b := range engine.Deck {
			if a != b {
				deals = append(deals, [2]engine.Card{a, b})
			}
		}
	}
	w := 1.0 / float64(len(engine.Actors)*len(deals))
	for _, first := range engine.Actors {
		for _, d := range deals {
			seat := map[engine.Position]engine.Actor{engine.First: first, engine.Second: first.Other()}
			cards := map[engine.Position]engine.Card{engine.First: d[0], engine.Second: d[1]}
			if err := walk(policies, seat, cards, nil, w, &out); err != nil {
				return Expected{}, err
			}
		}
	}
	return out, nil
}

func walk(policies map[engine.Actor]agent.Stochastic, seat map[engine.Position]engine.Actor,
	cards map[engine.Position]engine.Card, history []engine.Action, p float64, out *Expected) error {
	if p == 0 {
		return nil
	}
	if engine.IsTerminal(history) {
		o, err := engine.Resolve(history, cards[engine.First], cards[engine.Second])
		if err != nil {
			return err
		}
		winner := seat[o.Winner]
		out.WinProb[winner] += p
		out.EV[winner] += p * float64(o.Stake)
		out.EV[winner.Other()] -= p * float64(o.Stake)
		out.Shapes[o.Shape] += p
		if o.Showdown {
			out.Showdown += p
		}
		return nil
	}
	pos, err := engine.NextToAct(history)
	if err != nil {
		return err
	}
	dp, err := agent.Context(pos, history)
	if err != nil {
		return err
	}
	bet := policies[seat[pos]].BetProbability(cards[pos], dp)
	next := func(a engine.Action) []engine.Action {
		return append(append([]engine.Action(nil), history...), a)
	}
	if err := walk(policies, seat, cards, next(engine.Bet), p*bet, out); err != nil {
		return err
	}
	return walk(policies, seat, cards, next(engine.Pass), p*(1-bet), out)
}

// ZScore measures how far an observed win count sits from the exact
// probability, in standard errors.
func (e Expected) ZScore(a engine.Actor, wins, total int) float64 {
	if total == 0 {
		return 0
	}
	p := e.WinProb[a]
	se := math.Sqrt(p * (1 - p) / float64(total))
	if se == 0 {
		return 0
	}
	return (float64(wins)/float64(total) - p) / se
}
