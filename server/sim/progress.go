package sim

import (
	"context"
	"errors"
	"iter"
	"sync"
)

type Status string

const (
	Running   Status = "running"
	Completed Status = "completed"
	Cancelled Status = "cancelled"
)

// Progress is a pull-driven progressive run. Each Next plays one micro-batch;
// cancellation is honoured before every hand, never in the middle of one.
type Progress struct {
	sim    *Simulator
	ctx    context.Context
	cancel context.CancelFunc
	n      int
	batch  int

	mu     sync.Mutex
	done   int
	status Status
	err    error
	final  *Stats
	closed chan struct{}
}

// ProgressInfo is the JSON view of a progressive run.
type ProgressInfo struct {
	Status Status `json:"status"`
	Played int    `json:"played"`
	Hands  int    `json:"hands"`
	Batch  int    `json:"batch"`
	Error  string `json:"error,omitempty"`
}

func (p *Progress) finish(st Status, err error) {
	p.mu.Lock()
	if p.status != Running {
		p.mu.Unlock()
		return
	}
	p.status = st
	p.err = err
	p.mu.Unlock()
	p.cancel()
	close(p.closed)
}

// freeze pins the snapshot once another run takes over the simulator.
func (p *Progress) freeze(st Stats) {
	p.mu.Lock()
	p.final = &st
	p.mu.Unlock()
}

// Done is closed once the run has completed or been cancelled.
func (p *Progress) Done() <-chan struct{} { return p.closed }

// Next plays the next micro-batch and reports whether any hand was played.
func (p *Progress) Next() bool {
	if p.Status() != Running {
		return false
	}
	p.sim.play.Lock()
	defer p.sim.play.Unlock()

	played := 0
	for played < p.batch {
		p.mu.Lock()
		remaining := p.n - p.done
		p.mu.Unlock()
		if remaining <= 0 {
			break
		}
		if p.ctx.Err() != nil {
			err := context.Cause(p.ctx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			p.finish(Cancelled, err)
			return played > 0
		}
		p.sim.playOne()
		played++
		p.mu.Lock()
		p.done++
		p.mu.Unlock()
	}

	p.mu.Lock()
	complete := p.done >= p.n
	p.mu.Unlock()
	if complete {
		p.finish(Completed, nil)
	}
	return played > 0
}

// Cancel requests a cooperative stop. A hand already being played completes
// and stays counted.
func (p *Progress) Cancel() {
	p.finish(Cancelled, nil)
}

func (p *Progress) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Err is non-nil only when the parent context ended for a reason other than
// cancellation, e.g. a deadline.
func (p *Progress) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Progress) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Snapshot returns the statistics of this run. They stay live until another
// run replaces this one on the simulator.
func (p *Progress) Snapshot() Stats {
	// Same lock order as Simulator.begin: simulator first, then progress.
	p.sim.mu.Lock()
	defer p.sim.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.final != nil {
		return p.final.Clone()
	}
	return p.sim.stats.Clone()
}

func (p *Progress) Info() ProgressInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := ProgressInfo{Status: p.status, Played: p.done, Hands: p.n, Batch: p.batch}
	if p.err != nil {
		info.Error = p.err.Error()
	}
	return info
}

// All yields a snapshot after every micro-batch. Breaking out of the loop
// cancels the run.
func (p *Progress) All() iter.Seq[Stats] {
	return func(yield func(Stats) bool) {
		for p.Next() {
			if !yield(p.Snapshot()) {
				p.Cancel()
				return
			}
		}
	}
}
