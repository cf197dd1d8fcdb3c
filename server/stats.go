package main

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"kuhn-arena/server/engine"
	"kuhn-arena/server/sim"
)

// --------- CI helpers ---------

// WilsonCI95 for a Bernoulli win rate; ties count half.
func WilsonCI95(wins, ties, total int) (low, hi float64) {
	if total <= 0 {
		return 0, 1
	}
	z := 1.96
	n := float64(total)
	p := (float64(wins) + 0.5*float64(ties)) / n
	den := 1 + (z*z)/n
	center := p + (z*z)/(2*n)
	half := z * math.Sqrt((p*(1-p))/n+(z*z)/(4*n*n))
	return (center - half) / den, (center + half) / den
}

// BootstrapCI95 for the mean of per-hand values given as a histogram
// (value -> count). Each replicate redraws the counts from the empirical
// distribution, so memory does not grow with the number of hands.
func BootstrapCI95(counts map[float64]int, B int, r *rand.Rand) (low, hi float64) {
	vals := make([]float64, 0, len(counts))
	n := 0
	for v, c := range counts {
		if c > 0 {
			vals = append(vals, v)
			n += c
		}
	}
	if n == 0 || B <= 1 {
		return 0, 0
	}
	sort.Float64s(vals)
	res := make([]float64, B)
	for b := 0; b < B; b++ {
		left, mass, sum := n, 1.0, 0.0
		for i, v := range vals {
			k := left
			if i < len(vals)-1 {
				p := float64(counts[v]) / float64(n) / mass
				k = binomial(left, p, r)
				mass -= float64(counts[v]) / float64(n)
			}
			sum += float64(k) * v
			left -= k
		}
		res[b] = sum / float64(n)
	}
	sort.Float64s(res)
	l := int(0.025 * float64(B-1))
	h := int(0.975 * float64(B-1))
	return res[l], res[h]
}

// binomial draws from B(n, p); large n uses the normal approximation.
func binomial(n int, p float64, r *rand.Rand) int {
	switch {
	case n <= 0 || p <= 0:
		return 0
	case p >= 1:
		return n
	case n <= 1000:
		k := 0
		for i := 0; i < n; i++ {
			if r.Float64() < p {
				k++
			}
		}
		return k
	}
	mean := float64(n) * p
	sd := math.Sqrt(mean * (1 - p))
	return int(clamp(math.Round(mean+sd*r.NormFloat64()), 0, float64(n)))
}

// --------- ratings over a run ---------

// Ratings tracks hand-level Elo and a Glicko-2 pair updated once per rating
// period. It is fed from the simulator's observer, possibly concurrently.
type Ratings struct {
	mu     sync.Mutex
	elo    Elo
	eq     *Glicko2
	base   *Glicko2
	period int
	tau    float64
	games  int
	wins   int
	chips  map[float64]int // equilibrium payoff histogram, for the bootstrap CI
	run    int             // simulator run these ratings belong to
}

type RatingsView struct {
	EloEquilibrium  float64 `json:"elo_cfr"`
	EloBaseline     float64 `json:"elo_baseline"`
	GlickoEq        Glicko2 `json:"glicko_cfr"`
	GlickoBaseline  Glicko2 `json:"glicko_baseline"`
	PendingInPeriod int     `json:"pending_in_period"`
	Hands           int     `json:"hands"`
}

func NewRatings(eloStart, eloK float64, period int) *Ratings {
	if period <= 0 {
		period = 100
	}
	return &Ratings{
		elo:    NewElo(eloStart, eloK),
		eq:     NewGlicko2(),
		base:   NewGlicko2(),
		period: period,
		tau:    0.5,
		chips:  map[float64]int{},
	}
}

func (r *Ratings) Observe(res *engine.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sa := 0.0
	if res.Winner == engine.Equilibrium {
		sa = 1
	}
	r.elo.UpdateHand(sa, 1-sa, res.Pot, true)
	r.chips[float64(res.Payoff[engine.Equilibrium])]++
	r.games++
	r.wins += int(sa)
	if r.games >= r.period {
		r.closePeriodLocked()
	}
}

// ClosePeriod ends the current rating period early, e.g. after a
// progressive micro-batch or at the end of a run.
func (r *Ratings) ClosePeriod() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.games > 0 {
		r.closePeriodLocked()
	}
}

func (r *Ratings) closePeriodLocked() {
	eq, base := *r.eq, *r.base
	s := float64(r.wins) / float64(r.games)
	r.eq.UpdatePeriod(base, r.games, s, r.tau)
	r.base.UpdatePeriod(eq, r.games, 1-s, r.tau)
	r.games, r.wins = 0, 0
}

func (r *Ratings) View() RatingsView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RatingsView{
		EloEquilibrium:  r.elo.A,
		EloBaseline:     r.elo.B,
		GlickoEq:        *r.eq,
		GlickoBaseline:  *r.base,
		PendingInPeriod: r.games,
		Hands:           r.elo.Hands,
	}
}

func (r *Ratings) ChipCI(B int, rng *rand.Rand) (low, hi float64) {
	r.mu.Lock()
	counts := make(map[float64]int, len(r.chips))
	for v, c := range r.chips {
		counts[v] = c
	}
	r.mu.Unlock()
	return BootstrapCI95(counts, B, rng)
}

// Report is the summary of a run shown by the CLI and /api/stats.
type Report struct {
	Stats      sim.Stats    `json:"stats"`
	WinRate    float64      `json:"cfr_win_rate"`
	WinCILow   float64      `json:"cfr_win_ci_low"`
	WinCIHigh  float64      `json:"cfr_win_ci_high"`
	NetPerHand float64      `json:"cfr_net_per_hand"`
	Consistent bool         `json:"consistent"`
	ChipCILow  float64      `json:"cfr_net_ci_low"`
	ChipCIHigh float64      `json:"cfr_net_ci_high"`
	Ratings    *RatingsView `json:"ratings,omitempty"`
	ExpWinRate float64      `json:"expected_cfr_win_rate"`
	ExpEV      float64      `json:"expected_cfr_ev"`
	ZScore     float64      `json:"z_score"`
}
