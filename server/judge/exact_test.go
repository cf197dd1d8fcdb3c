package judge

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuhn-arena/server/agent"
	"kuhn-arena/server/engine"
	"kuhn-arena/server/sim"
)

func pair(t agent.Thresholds) map[engine.Actor]agent.Stochastic {
	return map[engine.Actor]agent.Stochastic{
		engine.Equilibrium: agent.NewEquilibrium(t, rand.New(rand.NewSource(1))),
		engine.Baseline:    agent.Baseline{},
	}
}

func TestEvaluateDefaultThresholds(t *testing.T) {
	exp, err := Evaluate(pair(agent.DefaultThresholds()))
	require.NoError(t, err)

	assert.InDelta(t, 11.0/24, exp.WinProb[engine.Equilibrium], 1e-12)
	assert.InDelta(t, 1.0, exp.WinProb[engine.Equilibrium]+exp.WinProb[engine.Baseline], 1e-12)
	assert.InDelta(t, 0.25, exp.EV[engine.Equilibrium], 1e-12)
	assert.InDelta(t, 0, exp.EV[engine.Equilibrium]+exp.EV[engine.Baseline], 1e-12)

	total := 0.0
	for _, p := range exp.Shapes {
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-12)
	// The baseline never passes, so nobody checks down.
	assert.Zero(t, exp.Shapes[engine.ShapePassPass])
}

func TestEvaluateQueenAlwaysPasses(t *testing.T) {
	exp, err := Evaluate(pair(agent.Thresholds{}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, exp.WinProb[engine.Equilibrium], 1e-12)
	assert.InDelta(t, 0, exp.EV[engine.Equilibrium], 1e-12)
}

func TestSimulationConvergesToExact(t *testing.T) {
	exp, err := Evaluate(pair(agent.DefaultThresholds()))
	require.NoError(t, err)

	cfg := sim.DefaultConfig()
	cfg.Seed = 2024
	s, err := sim.New(cfg)
	require.NoError(t, err)
	st, err := s.Start(100000)
	require.NoError(t, err)

	assert.InDelta(t, exp.WinProb[engine.Equilibrium], st.WinRate(engine.Equilibrium), 0.01)
	assert.InDelta(t, exp.EV[engine.Equilibrium], st.NetPerHand(engine.Equilibrium), 0.03)
	assert.InDelta(t, exp.Showdown, float64(st.Showdowns)/float64(st.Total), 0.01)
	assert.Less(t, exp.ZScore(engine.Equilibrium, st.EquilibriumWins, st.Total), 5.0)
	assert.Greater(t, exp.ZScore(engine.Equilibrium, st.EquilibriumWins, st.Total), -5.0)
}
