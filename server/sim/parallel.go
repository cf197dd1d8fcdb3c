package sim

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"kuhn-arena/server/engine"
)

// splitmix64 stream; each worker draws one value as its table seed.
type seedStream struct{ state uint64 }

func newSeedStream(base uint64) seedStream { return seedStream{state: base} }
func (s *seedStream) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z ^= z >> 30
	z *= 0xBF58476D1CE4E5B9
	z ^= z >> 27
	z *= 0x94D049BB133111EB
	z ^= z >> 31
	return z
}

func secureBaseSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return binary.LittleEndian.Uint64(b[:])
	}
	return uint64(time.Now().UnixNano())
}

// split divides n hands over w workers as evenly as possible.
func split(n, w int) []int {
	out := make([]int, w)
	for i := range out {
		out[i] = n / w
		if i < n%w {
			out[i]++
		}
	}
	return out
}

// RunParallel plays n hands over workers goroutines. Every worker owns its
// table, policies and random stream, derived from seed (0 => random); partial
// aggregates are merged as each worker finishes.
func (s *Simulator) RunParallel(ctx context.Context, n, workers int, seed uint64) (Stats, error) {
	return s.RunParallelObserved(ctx, n, workers, seed, Observer{})
}

// RunParallelObserved is RunParallel with a per-run observer. obs.Hand is
// called from several goroutines.
func (s *Simulator) RunParallelObserved(ctx context.Context, n, workers int, seed uint64, obs Observer) (Stats, error) {
	if n < 0 {
		return Stats{}, fmt.Errorf("%w: %d", ErrInvalidHands, n)
	}
	if workers < 1 {
		workers = s.cfg.Workers
	}
	if workers > n && n > 0 {
		workers = n
	}
	if seed == 0 {
		seed = secureBaseSeed()
	}

	s.play.Lock()
	defer s.play.Unlock()
	s.begin(nil, obs)

	seeds := newSeedStream(seed)
	tables := make([]*engine.Table, workers)
	for w := range tables {
		rng := engine.NewRand(int64(seeds.next() >> 1))
		policies, err := s.factory(rng)
		if err != nil {
			return Stats{}, err
		}
		t, err := engine.NewTable(engine.Config{Rand: rng}, policies)
		if err != nil {
			return Stats{}, err
		}
		tables[w] = t
	}

	var mu sync.Mutex
	total := NewStats()
	g, gctx := errgroup.WithContext(ctx)
	for w, count := range split(n, workers) {
		g.Go(func() error {
			local := NewStats()
			var last *engine.Result
			for i := 0; i < count; i++ {
				if err := gctx.Err(); err != nil {
					break
				}
				res := tables[w].PlayHand(fmt.Sprintf("w%02d-h%06d", w, i+1))
				local.Add(res)
				last = res
				s.notify(obs.Hand, res)
			}
			mu.Lock()
			total.Merge(local)
			mu.Unlock()

			s.mu.Lock()
			s.stats.Merge(local)
			if last != nil {
				s.last = last
			}
			s.mu.Unlock()
			return gctx.Err()
		})
	}
	err := g.Wait()
	glog.V(1).Infof("parallel run done: %d hands over %d workers", total.Total, workers)
	return total, err
}
