package agent

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"kuhn-arena/server/engine"
)

// DecisionPoint is one of the four contexts a player can face.
type DecisionPoint string

const (
	Opening   DecisionPoint = "opening"    // first to act, empty history
	FacingBet DecisionPoint = "facing_bet" // second to act after BET
	AfterPass DecisionPoint = "after_pass" // second to act after PASS
	CallBack  DecisionPoint = "call_back"  // first actor again after PASS, BET
)

// Context classifies the decision from explicit position and history.
func Context(pos engine.Position, history []engine.Action) (DecisionPoint, error) {
	switch {
	case pos == engine.First && len(history) == 0:
		return Opening, nil
	case pos == engine.Second && len(history) == 1:
		switch history[0] {
		case engine.Bet:
			return FacingBet, nil
		case engine.Pass:
			return AfterPass, nil
		}
	case pos == engine.First && len(history) == 2:
		if history[0] == engine.Pass && history[1] == engine.Bet {
			return CallBack, nil
		}
	}
	return "", fmt.Errorf("%w: %s acting after %q", engine.ErrIllegalHistory, pos, engine.Shape(history))
}

// Baseline bets every time, whatever it holds.
type Baseline struct{}

func (Baseline) Decide(card engine.Card, pos engine.Position, history []engine.Action) engine.Action {
	if !card.Valid() {
		panic(engine.InvalidStateError(fmt.Sprintf("card %d outside J/Q/K", int(card))))
	}
	if _, err := Context(pos, history); err != nil {
		panic(engine.InvalidStateError(err.Error()))
	}
	return engine.Bet
}

// Thresholds are the queen's BET probabilities per decision point. They are a
// frozen snapshot of a previously solved strategy.
type Thresholds struct {
	First        float64 `json:"first"`
	CallAfterBet float64 `json:"call_after_bet"`
	BetAfterPass float64 `json:"bet_after_pass"`
	CallBack     float64 `json:"call_back"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{First: 0.75, CallAfterBet: 0.60, BetAfterPass: 0.80, CallBack: 0.60}
}

func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"first":          t.First,
		"call_after_bet": t.CallAfterBet,
		"bet_after_pass": t.BetAfterPass,
		"call_back":      t.CallBack,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s=%v outside [0,1]", name, v)
		}
	}
	return nil
}

func (t Thresholds) At(dp DecisionPoint) float64 {
	switch dp {
	case Opening:
		return t.First
	case FacingBet:
		return t.CallAfterBet
	case AfterPass:
		return t.BetAfterPass
	case CallBack:
		return t.CallBack
	}
	return 0
}

// ThresholdsFromEnv overrides the defaults with EQ_BET_FIRST, EQ_CALL_AFTER_BET,
// EQ_BET_AFTER_PASS and EQ_CALL_BACK.
func ThresholdsFromEnv() (Thresholds, error) {
	t := DefaultThresholds()
	for key, dst := range map[string]*float64{
		"EQ_BET_FIRST":      &t.First,
		"EQ_CALL_AFTER_BET": &t.CallAfterBet,
		"EQ_BET_AFTER_PASS": &t.BetAfterPass,
		"EQ_CALL_BACK":      &t.CallBack,
	} {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return t, fmt.Errorf("%s: %w", key, err)
		}
		*dst = v
	}
	return t, t.Validate()
}

// Equilibrium approximates the Kuhn equilibrium: kings always bet, jacks always
// pass, queens mix according to Thresholds.
type Equilibrium struct {
	Thresholds Thresholds
	rng        *rand.Rand
}

func NewEquilibrium(t Thresholds, rng *rand.Rand) *Equilibrium {
	return &Equilibrium{Thresholds: t, rng: rng}
}

func (e *Equilibrium) Decide(card engine.Card, pos engine.Position, history []engine.Action) engine.Action {
	dp, err := Context(pos, history)
	if err != nil {
		panic(engine.InvalidStateError(err.Error()))
	}
	switch card {
	case engine.King:
		return engine.Bet
	case engine.Jack:
		return engine.Pass
	case engine.Queen:
		if e.rng.Float64() < e.Thresholds.At(dp) {
			return engine.Bet
		}
		return engine.Pass
	}
	panic(engine.InvalidStateError(fmt.Sprintf("card %d outside J/Q/K", int(card))))
}

// BetProbability is the exact chance that e bets at the given information set.
func (e *Equilibrium) BetProbability(card engine.Card, dp DecisionPoint) float64 {
	switch card {
	case engine.King:
		return 1
	case engine.Jack:
		return 0
	}
	return e.Thresholds.At(dp)
}

func (Baseline) BetProbability(engine.Card, DecisionPoint) float64 { return 1 }

// Stochastic is implemented by policies whose action distribution is known in
// closed form.
type Stochastic interface {
	engine.Policy
	BetProbability(card engine.Card, dp DecisionPoint) float64
}

// New builds the policy that plays for actor.
func New(actor engine.Actor, t Thresholds, rng *rand.Rand) (Stochastic, error) {
	switch actor {
	case engine.Baseline:
		return Baseline{}, nil
	case engine.Equilibrium:
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if rng == nil {
			return nil, fmt.Errorf("equilibrium policy needs a random source")
		}
		return NewEquilibrium(t, rng), nil
	}
	return nil, fmt.Errorf("unknown actor %q", actor)
}

// Pair builds both policies, ready for engine.NewTable.
func Pair(t Thresholds, rng *rand.Rand) (map[engine.Actor]engine.Policy, error) {
	out := make(map[engine.Actor]engine.Policy, 2)
	for _, a := range engine.Actors {
		p, err := New(a, t, rng)
		if err != nil {
			return nil, err
		}
		out[a] = p
	}
	return out, nil
}

// InfoSet is one row of a strategy profile.
type InfoSet struct {
	Key      string          `json:"key"`
	Card     engine.Card     `json:"card"`
	Point    DecisionPoint   `json:"point"`
	Position engine.Position `json:"position"`
	Pass     float64         `json:"pass"`
	Bet      float64         `json:"bet"`
}

var points = []struct {
	dp      DecisionPoint
	pos     engine.Position
	history []engine.Action
}{
	{Opening, engine.First, nil},
	{FacingBet, engine.Second, []engine.Action{engine.Bet}},
	{AfterPass, engine.Second, []engine.Action{engine.Pass}},
	{CallBack, engine.First, []engine.Action{engine.Pass, engine.Bet}},
}

// Profile lists the BET probability of p at all twelve information sets.
func Profile(p Stochastic) []InfoSet {
	out := make([]InfoSet, 0, len(engine.Deck)*len(points))
	for _, c := range engine.Deck {
		for _, pt := range points {
			b := p.BetProbability(c, pt.dp)
			out = append(out, InfoSet{
				Key:      engine.InfoSetKey(c, pt.history),
				Card:     c,
				Point:    pt.dp,
				Position: pt.pos,
				Pass:     1 - b,
				Bet:      b,
			})
		}
	}
	return out
}
