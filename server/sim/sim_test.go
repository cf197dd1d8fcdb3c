package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuhn-arena/server/engine"
)

func newSim(t *testing.T, seed int64) *Simulator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = seed
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestRunAggregates(t *testing.T) {
	s := newSim(t, 11)
	st, err := s.Start(2000)
	require.NoError(t, err)
	assert.Equal(t, 2000, st.Total)
	assert.True(t, st.Consistent())
	assert.Equal(t, 2000, st.Seats[engine.Equilibrium].Hands)
	assert.Equal(t, st.Seats[engine.Baseline].FirstHands, st.Seats[engine.Equilibrium].SecondHands)

	shapes := 0
	for _, c := range st.Shapes {
		shapes += c
	}
	assert.Equal(t, 2000, shapes)
	// The baseline never passes.
	assert.Zero(t, st.Seats[engine.Baseline].Pass)
	assert.Zero(t, st.Shapes[engine.ShapePassPass])

	last := s.LastHand()
	require.NotNil(t, last)
	assert.Equal(t, "h002000", last.ID)
}

func TestRunZeroIsNoOpAfterReset(t *testing.T) {
	s := newSim(t, 3)
	_, err := s.Start(10)
	require.NoError(t, err)

	st, err := s.Start(0)
	require.NoError(t, err)
	assert.Zero(t, st.Total)
	assert.Nil(t, s.LastHand())

	_, err = s.Start(-1)
	assert.ErrorIs(t, err, ErrInvalidHands)
}

func TestRunStopsOnContext(t *testing.T) {
	s := newSim(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	s.OnHand = func(*engine.Result) {
		n++
		if n == 25 {
			cancel()
		}
	}
	st, err := s.Run(ctx, 1000)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 25, st.Total)
	assert.True(t, st.Consistent())
}

func TestProgressiveMatchesBatch(t *testing.T) {
	batch, err := newSim(t, 77).Start(500)
	require.NoError(t, err)

	s := newSim(t, 77)
	p, err := s.Progressive(context.Background(), 500, 1)
	require.NoError(t, err)
	steps := 0
	prev := 0
	for st := range p.All() {
		steps++
		require.Equal(t, prev+1, st.Total)
		require.True(t, st.Consistent())
		prev = st.Total
	}
	assert.Equal(t, 500, steps)
	assert.Equal(t, Completed, p.Status())
	assert.NoError(t, p.Err())
	// Same seed, same stream: identical outcome.
	assert.Equal(t, batch, p.Snapshot())
}

func TestProgressiveMicroBatches(t *testing.T) {
	s := newSim(t, 9)
	p, err := s.Progressive(context.Background(), 10, 4)
	require.NoError(t, err)
	var totals []int
	for p.Next() {
		totals = append(totals, p.Snapshot().Total)
	}
	assert.Equal(t, []int{4, 8, 10}, totals)
	assert.False(t, p.Next())
	select {
	case <-p.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestProgressiveCancel(t *testing.T) {
	s := newSim(t, 13)
	p, err := s.StartProgressive(context.Background())
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		require.True(t, p.Next())
	}
	assert.True(t, s.Cancel())
	assert.False(t, p.Next())
	assert.Equal(t, Cancelled, p.Status())
	assert.NoError(t, p.Err())

	st := s.Statistics()
	assert.Equal(t, 30, st.Total)
	assert.True(t, st.Consistent())
	assert.Equal(t, 30, p.Played())
	assert.False(t, s.Cancel())
}

func TestProgressiveDeadlineIsReported(t *testing.T) {
	s := newSim(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	p, err := s.Progressive(ctx, 100, 1)
	require.NoError(t, err)
	assert.False(t, p.Next())
	assert.Equal(t, Cancelled, p.Status())
	assert.ErrorIs(t, p.Err(), context.DeadlineExceeded)
}

func TestBreakingOutOfAllCancels(t *testing.T) {
	s := newSim(t, 4)
	p, err := s.Progressive(context.Background(), 100, 5)
	require.NoError(t, err)
	for st := range p.All() {
		if st.Total >= 20 {
			break
		}
	}
	assert.Equal(t, Cancelled, p.Status())
	assert.Equal(t, 20, s.Statistics().Total)
}

func TestNewRunSupersedesProgressive(t *testing.T) {
	s := newSim(t, 21)
	p, err := s.Progressive(context.Background(), 100, 10)
	require.NoError(t, err)
	require.True(t, p.Next())

	_, err = s.Start(3)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, p.Status())
	assert.Equal(t, 10, p.Snapshot().Total)
	assert.Equal(t, 3, s.Statistics().Total)
	assert.Equal(t, 2, s.Runs())
}

func TestProgressiveValidation(t *testing.T) {
	s := newSim(t, 1)
	_, err := s.Progressive(context.Background(), -3, 1)
	assert.ErrorIs(t, err, ErrInvalidHands)
	_, err = s.Progressive(context.Background(), 3, 0)
	assert.ErrorIs(t, err, ErrInvalidBatch)

	p, err := s.Progressive(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, Completed, p.Status())
	assert.False(t, p.Next())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	c := DefaultConfig()
	c.Batch = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidBatch)
	c = DefaultConfig()
	c.Thresholds.First = 2
	assert.Error(t, c.Validate())
	c = DefaultConfig()
	c.Workers = 0
	assert.Error(t, c.Validate())
	_, err := New(c)
	assert.Error(t, err)
}

func TestStatisticsIsACopy(t *testing.T) {
	s := newSim(t, 8)
	_, err := s.Start(5)
	require.NoError(t, err)
	st := s.Statistics()
	st.Shapes["XX"] = 99
	st.Seats[engine.Equilibrium] = Seat{Hands: -1}
	again := s.Statistics()
	assert.NotContains(t, again.Shapes, "XX")
	assert.Equal(t, 5, again.Seats[engine.Equilibrium].Hands)
}

func TestRunParallel(t *testing.T) {
	s := newSim(t, 1)
	var mu sync.Mutex
	hooks := 0
	s.OnHand = func(*engine.Result) {
		mu.Lock()
		hooks++
		mu.Unlock()
	}
	st, err := s.RunParallel(context.Background(), 10001, 4, 42)
	require.NoError(t, err)
	assert.Equal(t, 10001, st.Total)
	assert.True(t, st.Consistent())
	assert.Equal(t, 10001, hooks)
	assert.Equal(t, st, s.Statistics())
	assert.NotNil(t, s.LastHand())

	// Same base seed, same per-worker streams.
	again, err := newSim(t, 99).RunParallel(context.Background(), 10001, 4, 42)
	require.NoError(t, err)
	assert.Equal(t, st, again)
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []int{3, 3, 2}, split(8, 3))
	assert.Equal(t, []int{0, 0}, split(0, 2))
}

func TestSeedStreamDistinct(t *testing.T) {
	s := newSeedStream(1)
	seen := map[uint64]bool{}
	for i := 0; i < 1000; i++ {
		v := s.next()
		require.False(t, seen[v])
		seen[v] = true
	}
}

func TestObserverSeesOnlyItsRun(t *testing.T) {
	s := newSim(t, 6)
	var first, second []string
	p, err := s.ProgressiveObserved(context.Background(), 50, 5, Observer{Hand: func(r *engine.Result) { first = append(first, r.ID) }})
	require.NoError(t, err)
	require.True(t, p.Next())

	_, err = s.RunObserved(context.Background(), 7, Observer{Hand: func(r *engine.Result) { second = append(second, r.ID) }})
	require.NoError(t, err)
	assert.False(t, p.Next())
	assert.Len(t, first, 5)
	assert.Len(t, second, 7)
}

func TestObserverBeginSeesResetRun(t *testing.T) {
	s := newSim(t, 14)
	_, err := s.Start(20)
	require.NoError(t, err)

	var began []int
	var totals []int
	obs := Observer{Begin: func(run int) {
		st, cur := s.StatisticsRun()
		began = append(began, run)
		totals = append(totals, st.Total)
		assert.Equal(t, run, cur)
	}}
	_, err = s.RunObserved(context.Background(), 5, obs)
	require.NoError(t, err)
	p, err := s.ProgressiveObserved(context.Background(), 5, 5, obs)
	require.NoError(t, err)
	require.True(t, p.Next())

	assert.Equal(t, []int{2, 3}, began)
	assert.Equal(t, []int{0, 0}, totals)
}

// A superseded run must keep reporting its own hands, never the reset
// aggregate of the run that replaced it.
func TestSupersededSnapshotNeverShowsNextRun(t *testing.T) {
	s := newSim(t, 15)
	for i := 0; i < 200; i++ {
		p, err := s.Progressive(context.Background(), 10, 10)
		require.NoError(t, err)
		require.True(t, p.Next())

		var wg sync.WaitGroup
		bad := 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if p.Snapshot().Total != 10 {
					bad++
				}
			}
		}()
		_, err = s.Start(0)
		require.NoError(t, err)
		wg.Wait()
		require.Zero(t, bad, "iteration %d", i)
		assert.Equal(t, 10, p.Snapshot().Total)
	}
}
