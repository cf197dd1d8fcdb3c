package main

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuhn-arena/server/agent"
	"kuhn-arena/server/engine"
	"kuhn-arena/server/judge"
	"kuhn-arena/server/sim"
	"kuhn-arena/server/store"
)

func newTestRunner(t *testing.T, seed int64) *Runner {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.Seed = seed
	s, err := sim.New(cfg)
	require.NoError(t, err)
	exp, err := judge.Evaluate(map[engine.Actor]agent.Stochastic{
		engine.Equilibrium: agent.NewEquilibrium(cfg.Thresholds, engine.NewRand(1)),
		engine.Baseline:    agent.Baseline{},
	})
	require.NoError(t, err)
	return NewRunner(s, store.Nop{}, exp)
}

func TestReportFollowsCurrentRun(t *testing.T) {
	r := newTestRunner(t, 3)
	assert.Nil(t, r.Report().Ratings)

	_, err := r.Batch(context.Background(), 300)
	require.NoError(t, err)
	rep := r.Report()
	require.NotNil(t, rep.Ratings)
	assert.Equal(t, 300, rep.Stats.Total)
	assert.Equal(t, 300, rep.Ratings.Hands)
	assert.LessOrEqual(t, rep.ChipCILow, rep.NetPerHand)
	assert.GreaterOrEqual(t, rep.ChipCIHigh, rep.NetPerHand)

	live, err := r.Progressive(context.Background(), 40, 10)
	require.NoError(t, err)
	rep = r.Report()
	require.NotNil(t, rep.Ratings)
	assert.Zero(t, rep.Stats.Total)
	assert.Zero(t, rep.Ratings.Hands)

	require.True(t, live.Step())
	rep = r.Report()
	assert.Equal(t, 10, rep.Stats.Total)
	assert.Equal(t, 10, rep.Ratings.Hands)
	live.Cancel()
	live.Drive(0, nil)
}

// A run queued behind another must not publish its ratings before it owns
// the simulator.
func TestReportPairsConcurrentRuns(t *testing.T) {
	r := newTestRunner(t, 4)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Batch(context.Background(), 3000)
			assert.NoError(t, err)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			rep := r.Report()
			require.NotNil(t, rep.Ratings)
			assert.Equal(t, 3000, rep.Ratings.Hands)
			return
		default:
		}
		rep := r.Report()
		if rep.Ratings == nil {
			continue
		}
		// Statistics are read first; the rating hook trails by at most the
		// hand being recorded.
		require.GreaterOrEqual(t, rep.Ratings.Hands, rep.Stats.Total-1,
			"stats %d paired with ratings of %d hands", rep.Stats.Total, rep.Ratings.Hands)
	}
}
