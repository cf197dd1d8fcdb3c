package agent

import (
	"math/rand"
	"testing"

	"kuhn-arena/server/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaselineAlwaysBets(t *testing.T) {
	var b Baseline
	for _, c := range engine.Deck {
		assert.Equal(t, engine.Bet, b.Decide(c, engine.First, nil))
		assert.Equal(t, engine.Bet, b.Decide(c, engine.Second, []engine.Action{engine.Bet}))
		assert.Equal(t, engine.Bet, b.Decide(c, engine.First, []engine.Action{engine.Pass, engine.Bet}))
	}
}

func TestEquilibriumDeterministicCards(t *testing.T) {
	e := NewEquilibrium(DefaultThresholds(), rand.New(rand.NewSource(1)))
	for _, pt := range points {
		for i := 0; i < 200; i++ {
			assert.Equal(t, engine.Bet, e.Decide(engine.King, pt.pos, pt.history), "king at %s", pt.dp)
			assert.Equal(t, engine.Pass, e.Decide(engine.Jack, pt.pos, pt.history), "jack at %s", pt.dp)
		}
	}
}

func TestEquilibriumQueenFrequencies(t *testing.T) {
	th := DefaultThresholds()
	e := NewEquilibrium(th, rand.New(rand.NewSource(42)))
	const n = 20000
	for _, pt := range points {
		bets := 0
		for i := 0; i < n; i++ {
			if e.Decide(engine.Queen, pt.pos, pt.history) == engine.Bet {
				bets++
			}
		}
		assert.InDelta(t, th.At(pt.dp), float64(bets)/n, 0.015, "queen at %s", pt.dp)
	}
}

func TestEquilibriumRejectsImpossibleContexts(t *testing.T) {
	e := NewEquilibrium(DefaultThresholds(), rand.New(rand.NewSource(1)))
	assert.Panics(t, func() { e.Decide(engine.Queen, engine.Second, nil) })
	assert.Panics(t, func() { e.Decide(engine.Queen, engine.First, []engine.Action{engine.Bet, engine.Bet}) })
	assert.Panics(t, func() { e.Decide(engine.Card(9), engine.First, nil) })
}

func TestBaselineRejectsInvalidCard(t *testing.T) {
	assert.PanicsWithValue(t, engine.InvalidStateError("card 9 outside J/Q/K"), func() {
		Baseline{}.Decide(engine.Card(9), engine.First, nil)
	})
	assert.Panics(t, func() { Baseline{}.Decide(engine.Card(0), engine.Second, []engine.Action{engine.Bet}) })
	assert.Panics(t, func() { Baseline{}.Decide(engine.King, engine.Second, nil) })
}

func TestContext(t *testing.T) {
	cases := []struct {
		pos     engine.Position
		history []engine.Action
		want    DecisionPoint
	}{
		{engine.First, nil, Opening},
		{engine.Second, []engine.Action{engine.Bet}, FacingBet},
		{engine.Second, []engine.Action{engine.Pass}, AfterPass},
		{engine.First, []engine.Action{engine.Pass, engine.Bet}, CallBack},
	}
	for _, tc := range cases {
		got, err := Context(tc.pos, tc.history)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := Context(engine.First, []engine.Action{engine.Bet})
	assert.ErrorIs(t, err, engine.ErrIllegalHistory)
	_, err = Context(engine.First, []engine.Action{engine.Pass, engine.Pass})
	assert.ErrorIs(t, err, engine.ErrIllegalHistory)
}

func TestThresholdsFromEnv(t *testing.T) {
	t.Setenv("EQ_BET_FIRST", "0.5")
	t.Setenv("EQ_CALL_BACK", " 0.25 ")
	th, err := ThresholdsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 0.5, th.First)
	assert.Equal(t, 0.25, th.CallBack)
	assert.Equal(t, 0.60, th.CallAfterBet)
	assert.Equal(t, 0.80, th.BetAfterPass)

	t.Setenv("EQ_BET_AFTER_PASS", "1.5")
	_, err = ThresholdsFromEnv()
	assert.Error(t, err)

	t.Setenv("EQ_BET_AFTER_PASS", "often")
	_, err = ThresholdsFromEnv()
	assert.Error(t, err)
}

func TestNewAndPair(t *testing.T) {
	_, err := New(engine.Equilibrium, DefaultThresholds(), nil)
	assert.Error(t, err)
	_, err = New(engine.Actor("nobody"), DefaultThresholds(), nil)
	assert.Error(t, err)

	ps, err := Pair(DefaultThresholds(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.IsType(t, Baseline{}, ps[engine.Baseline])
	assert.IsType(t, &Equilibrium{}, ps[engine.Equilibrium])

	_, err = engine.NewTable(engine.Config{Seed: 1}, ps)
	assert.NoError(t, err)
}

func TestProfile(t *testing.T) {
	rows := Profile(NewEquilibrium(DefaultThresholds(), rand.New(rand.NewSource(1))))
	require.Len(t, rows, 12)
	byKey := map[string]InfoSet{}
	for _, r := range rows {
		assert.InDelta(t, 1.0, r.Pass+r.Bet, 1e-12)
		byKey[r.Key] = r
	}
	assert.Equal(t, 0.75, byKey["2:"].Bet)
	assert.Equal(t, 0.60, byKey["2:BET"].Bet)
	assert.Equal(t, 0.80, byKey["2:PASS"].Bet)
	assert.Equal(t, 0.60, byKey["2:PASS:BET"].Bet)
	assert.Equal(t, 1.0, byKey["3:PASS"].Bet)
	assert.Equal(t, 0.0, byKey["1:BET"].Bet)
	assert.Equal(t, engine.Second, byKey["1:BET"].Position)

	for _, r := range Profile(Baseline{}) {
		assert.Equal(t, 1.0, r.Bet)
	}
}
