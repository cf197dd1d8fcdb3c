package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/golang/glog"

	"kuhn-arena/server/agent"
	"kuhn-arena/server/engine"
)

var (
	ErrInvalidHands = errors.New("number of hands must be >= 0")
	ErrInvalidBatch = errors.New("batch size must be >= 1")
)

// PolicyFactory builds a fresh pair of policies drawing from rng. Each worker
// of a parallel run gets its own pair.
type PolicyFactory func(rng *rand.Rand) (map[engine.Actor]engine.Policy, error)

type Config struct {
	Seed             int64 // 0 => time-based
	Thresholds       agent.Thresholds
	ProgressiveHands int // hands played by StartProgressive
	Batch            int // hands per progressive step
	Workers          int // RunParallel default
}

func DefaultConfig() Config {
	return Config{
		Thresholds:       agent.DefaultThresholds(),
		ProgressiveHands: 1000,
		Batch:            1,
		Workers:          1,
	}
}

func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.ProgressiveHands < 0 {
		return fmt.Errorf("progressive hands: %w", ErrInvalidHands)
	}
	if c.Batch < 1 {
		return ErrInvalidBatch
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	return nil
}

// Simulator plays hands between the two actors and aggregates the outcome.
// Only one run plays at a time; queries are safe from any goroutine.
type Simulator struct {
	cfg     Config
	factory PolicyFactory
	rng     *rand.Rand

	// OnHand, when set before the first run, is called after every hand's
	// statistics are visible. RunParallel calls it from several goroutines.
	OnHand func(*engine.Result)

	play  sync.Mutex // serialises table use
	table *engine.Table
	seq   int

	mu    sync.Mutex
	stats Stats
	last  *engine.Result
	cur   *Progress
	runs  int
	hook  func(*engine.Result) // observer of the current run only
}

// New builds a simulator with the stock baseline and equilibrium policies.
func New(cfg Config) (*Simulator, error) {
	return NewWithFactory(cfg, func(rng *rand.Rand) (map[engine.Actor]engine.Policy, error) {
		return agent.Pair(cfg.Thresholds, rng)
	})
}

func NewWithFactory(cfg Config, factory PolicyFactory) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := engine.NewRand(cfg.Seed)
	policies, err := factory(rng)
	if err != nil {
		return nil, err
	}
	table, err := engine.NewTable(engine.Config{Rand: rng}, policies)
	if err != nil {
		return nil, err
	}
	return &Simulator{
		cfg:     cfg,
		factory: factory,
		rng:     rng,
		table:   table,
		stats:   NewStats(),
	}, nil
}

func (s *Simulator) Config() Config { return s.cfg }

// Reset zeroes the statistics and forgets the last hand.
func (s *Simulator) Reset() {
	s.mu.Lock()
	s.stats = NewStats()
	s.last = nil
	s.mu.Unlock()
}

// Statistics returns a snapshot of the current run.
func (s *Simulator) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Clone()
}

// LastHand returns the most recently finished hand, or nil.
func (s *Simulator) LastHand() *engine.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// StatisticsRun is Statistics together with the number of the run they
// belong to.
func (s *Simulator) StatisticsRun() (Stats, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Clone(), s.runs
}

// Runs counts the runs started since construction.
func (s *Simulator) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Observer receives the events of one run. Begin is called with the run
// number once the run owns the table and the statistics have been reset; Hand
// after every hand of that run.
type Observer struct {
	Begin func(run int)
	Hand  func(*engine.Result)
}

// begin supersedes any progressive run still open and resets the aggregate.
// The caller holds s.play so no hand of the previous run lands afterwards.
// Freezing the previous run and resetting happen under one lock so a reader
// never sees the new run's statistics through the old Progress.
func (s *Simulator) begin(p *Progress, obs Observer) {
	s.mu.Lock()
	prev := s.cur
	if prev != nil {
		prev.freeze(s.stats.Clone())
	}
	s.cur = p
	s.hook = obs.Hand
	s.runs++
	run := s.runs
	s.stats = NewStats()
	s.last = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	if obs.Begin != nil {
		obs.Begin(run)
	}
}

func (s *Simulator) record(res *engine.Result) {
	s.mu.Lock()
	s.stats.Add(res)
	s.last = res
	hook := s.hook
	s.mu.Unlock()
	s.notify(hook, res)
}

func (s *Simulator) notify(hook func(*engine.Result), res *engine.Result) {
	if glog.V(2) {
		glog.Infof("hand %s", res)
	}
	if s.OnHand != nil {
		s.OnHand(res)
	}
	if hook != nil {
		hook(res)
	}
}

// playOne must be called with s.play held.
func (s *Simulator) playOne() *engine.Result {
	s.seq++
	res := s.table.PlayHand(fmt.Sprintf("h%06d", s.seq))
	s.record(res)
	return res
}

// Run plays n hands synchronously after resetting the statistics. A done
// context stops the run between hands; completed hands are kept.
func (s *Simulator) Run(ctx context.Context, n int) (Stats, error) {
	return s.RunObserved(ctx, n, Observer{})
}

// RunObserved is Run with an observer that sees only this run.
func (s *Simulator) RunObserved(ctx context.Context, n int, obs Observer) (Stats, error) {
	if n < 0 {
		return Stats{}, fmt.Errorf("%w: %d", ErrInvalidHands, n)
	}
	s.play.Lock()
	defer s.play.Unlock()
	s.begin(nil, obs)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return s.Statistics(), err
		}
		s.playOne()
	}
	st := s.Statistics()
	glog.V(1).Infof("run done: %d hands, cfr %d baseline %d", st.Total, st.EquilibriumWins, st.BaselineWins)
	return st, nil
}

// Start is Run without a deadline.
func (s *Simulator) Start(n int) (Stats, error) {
	return s.Run(context.Background(), n)
}

// Progressive resets the statistics and returns an iterator that plays n
// hands, batch at a time, as the caller pulls.
func (s *Simulator) Progressive(ctx context.Context, n, batch int) (*Progress, error) {
	return s.ProgressiveObserved(ctx, n, batch, Observer{})
}

// ProgressiveObserved is Progressive with an observer that sees only this
// run.
func (s *Simulator) ProgressiveObserved(ctx context.Context, n, batch int, obs Observer) (*Progress, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHands, n)
	}
	if batch < 1 {
		return nil, ErrInvalidBatch
	}
	cctx, cancel := context.WithCancel(ctx)
	p := &Progress{
		sim:    s,
		ctx:    cctx,
		cancel: cancel,
		n:      n,
		batch:  batch,
		status: Running,
		closed: make(chan struct{}),
	}
	s.play.Lock()
	s.begin(p, obs)
	s.play.Unlock()
	if n == 0 {
		p.finish(Completed, nil)
	}
	return p, nil
}

// StartProgressive starts the configured progressive demo run.
func (s *Simulator) StartProgressive(ctx context.Context) (*Progress, error) {
	return s.Progressive(ctx, s.cfg.ProgressiveHands, s.cfg.Batch)
}

// Cancel stops the open progressive run, if any. It reports whether there
// was one still running.
func (s *Simulator) Cancel() bool {
	s.mu.Lock()
	p := s.cur
	s.mu.Unlock()
	if p == nil || p.Status() != Running {
		return false
	}
	p.Cancel()
	return true
}

// Current returns the progressive run most recently started, or nil.
func (s *Simulator) Current() *Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}
