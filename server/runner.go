package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"

	"kuhn-arena/server/engine"
	"kuhn-arena/server/judge"
	"kuhn-arena/server/sim"
	"kuhn-arena/server/store"
)

// Runner wires a simulator to persistence, ratings and the exact judge. The
// CLI and the HTTP surface both go through it.
type Runner struct {
	sim      *sim.Simulator
	st       store.Store
	expected judge.Expected
	eloStart float64
	eloK     float64
	period   int

	mu      sync.Mutex
	ratings *Ratings // of the simulator's current run
}

func NewRunner(s *sim.Simulator, st store.Store, exp judge.Expected) *Runner {
	if st == nil {
		st = store.Nop{}
	}
	return &Runner{
		sim:      s,
		st:       st,
		expected: exp,
		eloStart: 1500,
		eloK:     4,
		period:   100,
	}
}

func (r *Runner) Sim() *sim.Simulator       { return r.sim }
func (r *Runner) Expected() judge.Expected { return r.expected }

// runState is what one run observes and persists.
type runState struct {
	r       *Runner
	id      int64
	ratings *Ratings
	rec     *store.Recorder
}

// begin publishes the run's ratings once the simulator has reset for it, so
// Report never pairs one run's statistics with another run's ratings.
func (rs *runState) begin(run int) {
	rs.ratings.run = run
	rs.r.mu.Lock()
	rs.r.ratings = rs.ratings
	rs.r.mu.Unlock()
}

func (rs *runState) observe(res *engine.Result) {
	rs.ratings.Observe(res)
	if rs.rec != nil {
		rs.rec.Add(res)
	}
}

func (rs *runState) observer() sim.Observer {
	return sim.Observer{Begin: rs.begin, Hand: rs.observe}
}

func (r *Runner) open(ctx context.Context, meta store.RunMeta, period int) *runState {
	rs := &runState{r: r, ratings: NewRatings(r.eloStart, r.eloK, period)}
	id, err := r.st.CreateRun(ctx, meta)
	if err != nil {
		glog.Errorf("store: create run: %v (run not persisted)", err)
	} else if id != 0 {
		rs.id = id
		rs.rec = store.NewRecorder(r.st, id, 256)
	}
	return rs
}

func (r *Runner) close(rs *runState, status sim.Status, st sim.Stats) {
	rs.ratings.ClosePeriod()
	if rs.rec == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rs.rec.Flush(ctx); err != nil {
		glog.Warningf("store: run %d: some hands were not persisted: %v", rs.id, err)
	}
	p, ev := r.expected.WinProb[engine.Equilibrium], r.expected.EV[engine.Equilibrium]
	sum := store.Summary{Status: status, Stats: st, ExpectedWinProb: &p, ExpectedEV: &ev}
	if err := r.st.CompleteRun(ctx, rs.id, sum); err != nil {
		glog.Errorf("store: complete run %d: %v", rs.id, err)
		return
	}
	glog.Infof("run %d persisted: %d hands (%s)", rs.id, st.Total, status)
}

func (r *Runner) meta(mode string, hands, batch, workers int) store.RunMeta {
	cfg := r.sim.Config()
	return store.RunMeta{Mode: mode, Hands: hands, Batch: batch, Workers: workers, Seed: cfg.Seed, Thresholds: cfg.Thresholds}
}

// Batch plays n hands synchronously.
func (r *Runner) Batch(ctx context.Context, n int) (Report, error) {
	if n < 0 {
		_, err := r.sim.Run(ctx, n)
		return Report{}, err
	}
	rs := r.open(ctx, r.meta("batch", n, 1, 1), r.period)
	st, err := r.sim.RunObserved(ctx, n, rs.observer())
	status := sim.Completed
	if err != nil {
		status = sim.Cancelled
	}
	r.close(rs, status, st)
	return r.report(st, rs.ratings), err
}

// Parallel spreads n hands over workers goroutines.
func (r *Runner) Parallel(ctx context.Context, n, workers int, seed uint64) (Report, error) {
	if n < 0 {
		_, err := r.sim.RunParallel(ctx, n, workers, seed)
		return Report{}, err
	}
	rs := r.open(ctx, r.meta("parallel", n, 1, workers), r.period)
	st, err := r.sim.RunParallelObserved(ctx, n, workers, seed, rs.observer())
	status := sim.Completed
	if err != nil {
		status = sim.Cancelled
	}
	r.close(rs, status, st)
	return r.report(st, rs.ratings), err
}

// Live is a progressive run with its persistence attached. Each Step is one
// micro-batch and one rating period.
type Live struct {
	*sim.Progress
	r    *Runner
	rs   *runState
	once sync.Once
}

func (r *Runner) Progressive(ctx context.Context, n, batch int) (*Live, error) {
	if n < 0 || batch < 1 {
		_, err := r.sim.Progressive(ctx, n, batch)
		return nil, err
	}
	rs := r.open(ctx, r.meta("progressive", n, batch, 1), n+1)
	p, err := r.sim.ProgressiveObserved(ctx, n, batch, rs.observer())
	if err != nil {
		return nil, err
	}
	l := &Live{Progress: p, r: r, rs: rs}
	if p.Status() != sim.Running {
		l.finish()
	}
	return l, nil
}

func (l *Live) Step() bool {
	ok := l.Next()
	l.rs.ratings.ClosePeriod()
	if l.Status() != sim.Running {
		l.finish()
	}
	return ok
}

func (l *Live) finish() {
	l.once.Do(func() {
		l.r.close(l.rs, l.Status(), l.Snapshot())
		glog.Infof("progressive run %s after %d hands", l.Status(), l.Played())
	})
}

// Drive steps until the run ends, pausing delay between micro-batches.
// onStep sees the snapshot after every batch.
func (l *Live) Drive(delay time.Duration, onStep func(sim.Stats)) {
	for l.Step() {
		if onStep != nil {
			onStep(l.Snapshot())
		}
		if delay <= 0 {
			continue
		}
		select {
		case <-time.After(delay):
		case <-l.Done():
		}
	}
	l.finish()
}

func (l *Live) Report() Report { return l.r.report(l.Snapshot(), l.rs.ratings) }

// Report describes the simulator's current run. Ratings are omitted for the
// instant between a new run's reset and its ratings being published.
func (r *Runner) Report() Report {
	st, run := r.sim.StatisticsRun()
	r.mu.Lock()
	rt := r.ratings
	r.mu.Unlock()
	if rt != nil && rt.run != run {
		rt = nil
	}
	return r.report(st, rt)
}

func (r *Runner) report(st sim.Stats, rt *Ratings) Report {
	lo, hi := WilsonCI95(st.EquilibriumWins, 0, st.Total)
	rep := Report{
		Stats:      st,
		WinRate:    st.WinRate(engine.Equilibrium),
		WinCILow:   lo,
		WinCIHigh:  hi,
		NetPerHand: st.NetPerHand(engine.Equilibrium),
		Consistent: st.Consistent(),
		ExpWinRate: r.expected.WinProb[engine.Equilibrium],
		ExpEV:      r.expected.EV[engine.Equilibrium],
		ZScore:     r.expected.ZScore(engine.Equilibrium, st.EquilibriumWins, st.Total),
	}
	if rt != nil {
		v := rt.View()
		rep.Ratings = &v
		// Fixed seed so repeated polls of the same run agree.
		rep.ChipCILow, rep.ChipCIHigh = rt.ChipCI(200, rand.New(rand.NewSource(1)))
	}
	return rep
}
