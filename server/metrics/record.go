// Package metrics reads the precomputed convergence record of the equilibrium
// strategy. The record is loaded once and never modified.
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/golang/glog"
)

var ErrMalformed = errors.New("malformed metrics record")

// Neutral values substituted for missing or broken entries.
var (
	DefaultStrategy = [2]float64{0.5, 0.5}
	DefaultRegret   = [2]float64{0, 0}
)

const (
	DefaultPayoff        = 0.0
	DefaultFirstRoundBet = 0.5
)

// Record mirrors the file layout. Pairs are [PASS, BET].
type Record struct {
	Iterations      []int                           `json:"iterations"`
	Strategies      map[string][][2]float64         `json:"strategies"`
	Regrets         map[string][][2]float64         `json:"regrets"`
	ExpectedPayoffs []float64                       `json:"expected_payoffs"`
	FirstRound      map[string]map[string][]float64 `json:"first_round_strategies"`
}

func Empty() *Record {
	return &Record{
		Iterations:      []int{},
		Strategies:      map[string][][2]float64{},
		Regrets:         map[string][][2]float64{},
		ExpectedPayoffs: []float64{},
		FirstRound:      map[string]map[string][]float64{},
	}
}

// Load reads path once. A missing file yields an empty record; a file that is
// not JSON at all is an error the caller is expected to log and degrade from.
func Load(path string) (*Record, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		glog.Warningf("metrics record %s not found; serving empty record", path)
		return Empty(), nil
	}
	if err != nil {
		return Empty(), err
	}
	return Parse(b)
}

// Parse decodes a record field by field. A field of the wrong shape is dropped
// and individual broken values are replaced by their neutral default.
func Parse(b []byte) (*Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Empty(), fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	r := Empty()
	if v, ok := raw["iterations"]; ok {
		if err := json.Unmarshal(v, &r.Iterations); err != nil || r.Iterations == nil {
			if err != nil {
				glog.Warningf("metrics: dropping iterations: %v", err)
			}
			r.Iterations = []int{}
		}
	}
	r.Strategies = pairsField(raw, "strategies", DefaultStrategy)
	r.Regrets = pairsField(raw, "regrets", DefaultRegret)
	if v, ok := raw["expected_payoffs"]; ok {
		r.ExpectedPayoffs = floats(v, DefaultPayoff)
	}
	if v, ok := raw["first_round_strategies"]; ok {
		var cards map[string]map[string]json.RawMessage
		if err := json.Unmarshal(v, &cards); err != nil {
			glog.Warningf("metrics: dropping first_round_strategies: %v", err)
		}
		for card, acts := range cards {
			r.FirstRound[card] = map[string][]float64{}
			for act, series := range acts {
				r.FirstRound[card][act] = floats(series, DefaultFirstRoundBet)
			}
		}
	}
	return r, nil
}

func pairsField(raw map[string]json.RawMessage, name string, def [2]float64) map[string][][2]float64 {
	out := map[string][][2]float64{}
	v, ok := raw[name]
	if !ok {
		return out
	}
	var sets map[string][]json.RawMessage
	if err := json.Unmarshal(v, &sets); err != nil {
		glog.Warningf("metrics: dropping %s: %v", name, err)
		return out
	}
	for key, series := range sets {
		pairs := make([][2]float64, len(series))
		for i, p := range series {
			var xs []float64
			if err := json.Unmarshal(p, &xs); err != nil || len(xs) != 2 {
				pairs[i] = def
				continue
			}
			pairs[i] = [2]float64{xs[0], xs[1]}
		}
		out[key] = pairs
	}
	return out
}

func floats(v json.RawMessage, def float64) []float64 {
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return []float64{}
	}
	out := make([]float64, len(items))
	for i, it := range items {
		if string(it) == "null" || json.Unmarshal(it, &out[i]) != nil {
			out[i] = def
		}
	}
	return out
}

func pairAt(m map[string][][2]float64, key string, i int, def [2]float64) [2]float64 {
	s := m[key]
	if i < 0 || i >= len(s) {
		return def
	}
	return s[i]
}

// Strategy is the [PASS, BET] probability pair of infoSet at iteration index i.
func (r *Record) Strategy(infoSet string, i int) [2]float64 {
	return pairAt(r.Strategies, infoSet, i, DefaultStrategy)
}

func (r *Record) Regret(infoSet string, i int) [2]float64 {
	return pairAt(r.Regrets, infoSet, i, DefaultRegret)
}

func (r *Record) Payoff(i int) float64 {
	if i < 0 || i >= len(r.ExpectedPayoffs) {
		return DefaultPayoff
	}
	return r.ExpectedPayoffs[i]
}

// FirstRoundBet is the opening BET probability for a card label ("1".."3").
func (r *Record) FirstRoundBet(card string, i int) float64 {
	s := r.FirstRound[card]["BET"]
	if i < 0 || i >= len(s) {
		return DefaultFirstRoundBet
	}
	return s[i]
}

func (r *Record) Len() int { return len(r.Iterations) }

// InfoSets is the sorted union of identifiers appearing in strategies or regrets.
func (r *Record) InfoSets() []string {
	seen := map[string]bool{}
	for k := range r.Strategies {
		seen[k] = true
	}
	for k := range r.Regrets {
		seen[k] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Point is one iteration of an information set's chart.
type Point struct {
	Iteration  int     `json:"iteration"`
	Pass       float64 `json:"pass"`
	Bet        float64 `json:"bet"`
	RegretPass float64 `json:"regret_pass"`
	RegretBet  float64 `json:"regret_bet"`
	Payoff     float64 `json:"expected_payoff"`
}

// Series aligns strategy, regret and payoff for infoSet to the iteration axis.
func (r *Record) Series(infoSet string) []Point {
	out := make([]Point, len(r.Iterations))
	for i, it := range r.Iterations {
		s := r.Strategy(infoSet, i)
		g := r.Regret(infoSet, i)
		out[i] = Point{
			Iteration:  it,
			Pass:       s[0],
			Bet:        s[1],
			RegretPass: g[0],
			RegretBet:  g[1],
			Payoff:     r.Payoff(i),
		}
	}
	return out
}

// Latest is the strategy of every information set at the last iteration.
func (r *Record) Latest() map[string][2]float64 {
	out := make(map[string][2]float64, len(r.Strategies))
	last := len(r.Iterations) - 1
	for _, k := range r.InfoSets() {
		out[k] = r.Strategy(k, last)
	}
	return out
}
