package main

import "math"

// Elo holds ratings for the equilibrium policy (A) and the baseline (B),
// updated after every hand.
type Elo struct {
	A, B  float64 // ratings
	K     float64 // base K
	Hands int
}

func NewElo(start, k float64) Elo { return Elo{A: start, B: start, K: k} }

func (e Elo) expect() (ea, eb float64) {
	ea = 1.0 / (1.0 + math.Pow(10, (e.B-e.A)/400.0))
	return ea, 1.0 - ea
}

// UpdateHand applies one hand's scores and returns the deltas (dA, dB).
// With weightByPot a called pot (3) moves ratings more than an uncontested one.
func (e *Elo) UpdateHand(sa, sb float64, pot int, weightByPot bool) (dA, dB float64) {
	ea, eb := e.expect()
	k := e.K * decay(e.Hands)
	if weightByPot {
		k *= potScale(pot)
	}
	dA = k * (sa - ea)
	dB = k * (sb - eb)
	e.A += dA
	e.B += dB
	e.Hands++
	return dA, dB
}

// ---- helpers ----

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// potScale is relative to a pot of 2 (one bet).
func potScale(pot int) float64 {
	if pot <= 0 {
		return 1.0
	}
	return clamp(float64(pot)/2.0, 0.5, 1.5)
}

func decay(hands int) float64 {
	return 1.0 / (1.0 + 0.0005*float64(hands)) // slow anneal over long runs
}
