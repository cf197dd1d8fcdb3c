package sim

import "kuhn-arena/server/engine"

// Seat is the per-actor view of a run.
type Seat struct {
	Hands       int `json:"hands"`
	Wins        int `json:"wins"`
	Net         int `json:"net"` // chips, antes included
	FirstHands  int `json:"first_hands"`
	FirstWins   int `json:"first_wins"`
	SecondHands int `json:"second_hands"`
	SecondWins  int `json:"second_wins"`
	Pass        int `json:"pass"`
	Bet         int `json:"bet"`
}

func (s *Seat) add(o Seat) {
	s.Hands += o.Hands
	s.Wins += o.Wins
	s.Net += o.Net
	s.FirstHands += o.FirstHands
	s.FirstWins += o.FirstWins
	s.SecondHands += o.SecondHands
	s.SecondWins += o.SecondWins
	s.Pass += o.Pass
	s.Bet += o.Bet
}

// Stats is the aggregate of a run. Values returned by the simulator are
// copies and may be kept by the caller.
type Stats struct {
	EquilibriumWins int                   `json:"cfr_wins"`
	BaselineWins    int                   `json:"baseline_wins"`
	Total           int                   `json:"total"`
	Showdowns       int                   `json:"showdowns"`
	Shapes          map[string]int        `json:"shapes"`
	Seats           map[engine.Actor]Seat `json:"seats"`
}

func NewStats() Stats {
	return Stats{
		Shapes: map[string]int{},
		Seats:  map[engine.Actor]Seat{engine.Equilibrium: {}, engine.Baseline: {}},
	}
}

// Add folds one finished hand into s.
func (s *Stats) Add(res *engine.Result) {
	if s.Seats == nil || s.Shapes == nil {
		*s = NewStats()
	}
	s.Total++
	switch res.Winner {
	case engine.Equilibrium:
		s.EquilibriumWins++
	case engine.Baseline:
		s.BaselineWins++
	}
	if res.Showdown {
		s.Showdowns++
	}
	s.Shapes[res.Shape]++

	for _, a := range engine.Actors {
		seat := s.Seats[a]
		won := res.Winner == a
		seat.Hands++
		seat.Net += res.Payoff[a]
		if won {
			seat.Wins++
		}
		if res.First == a {
			seat.FirstHands++
			if won {
				seat.FirstWins++
			}
		} else {
			seat.SecondHands++
			if won {
				seat.SecondWins++
			}
		}
		s.Seats[a] = seat
	}
	for _, m := range res.History {
		seat := s.Seats[m.Actor]
		if m.Action == engine.Bet {
			seat.Bet++
		} else {
			seat.Pass++
		}
		s.Seats[m.Actor] = seat
	}
}

// Merge adds o into s. Merging is commutative, so worker order does not matter.
func (s *Stats) Merge(o Stats) {
	if s.Seats == nil || s.Shapes == nil {
		*s = NewStats()
	}
	s.EquilibriumWins += o.EquilibriumWins
	s.BaselineWins += o.BaselineWins
	s.Total += o.Total
	s.Showdowns += o.Showdowns
	for k, v := range o.Shapes {
		s.Shapes[k] += v
	}
	for a, seat := range o.Seats {
		cur := s.Seats[a]
		cur.add(seat)
		s.Seats[a] = cur
	}
}

func (s Stats) Clone() Stats {
	out := NewStats()
	out.Merge(s)
	return out
}

func (s Stats) Wins(a engine.Actor) int {
	switch a {
	case engine.Equilibrium:
		return s.EquilibriumWins
	case engine.Baseline:
		return s.BaselineWins
	}
	return 0
}

func (s Stats) WinRate(a engine.Actor) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Wins(a)) / float64(s.Total)
}

// NetPerHand is the average chip result of a per hand.
func (s Stats) NetPerHand(a engine.Actor) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Seats[a].Net) / float64(s.Total)
}

// Consistent reports whether every hand has exactly one winner and chips are
// conserved.
func (s Stats) Consistent() bool {
	if s.EquilibriumWins+s.BaselineWins != s.Total {
		return false
	}
	return s.Seats[engine.Equilibrium].Net+s.Seats[engine.Baseline].Net == 0
}
