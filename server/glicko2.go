package main

import "math"

const (
	g2Scale = 173.7178 // r <-> mu
	g2Eps   = 1e-6
)

// Glicko2 holds the public 1500-scale values.
type Glicko2 struct {
	Rating     float64 `json:"rating"`
	RD         float64 `json:"rd"`
	Volatility float64 `json:"volatility"`
	Periods    int     `json:"periods"`
}

func NewGlicko2() *Glicko2 {
	return &Glicko2{Rating: 1500, RD: 350, Volatility: 0.06}
}

func toMuPhi(r, rd float64) (mu, phi float64)   { return (r - 1500.0) / g2Scale, rd / g2Scale }
func fromMuPhi(mu, phi float64) (r, rd float64) { return mu*g2Scale + 1500.0, phi * g2Scale }

func g(phi float64) float64 { return 1.0 / math.Sqrt(1.0+3.0*phi*phi/(math.Pi*math.Pi)) }

func expected(mu, muj, phij float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phij)*(mu-muj)))
}

// age is the rating-period step for a player with no games.
func (a *Glicko2) age() {
	mu, phi := toMuPhi(a.Rating, a.RD)
	phi = math.Sqrt(phi*phi + a.Volatility*a.Volatility)
	a.Rating, a.RD = fromMuPhi(mu, phi)
	a.Periods++
}

// UpdatePeriod applies one rating period against a single opponent. games is
// the number of hands in the period and score the fraction of them won; the
// opponent's values must be taken from the start of the period.
func (a *Glicko2) UpdatePeriod(opp Glicko2, games int, score, tau float64) {
	if games <= 0 {
		a.age()
		return
	}
	mu, phi := toMuPhi(a.Rating, a.RD)
	muj, phij := toMuPhi(opp.Rating, opp.RD)
	gj := g(phij)
	e := expected(mu, muj, phij)
	n := float64(games)

	v := 1.0 / (n * gj * gj * e * (1 - e))
	delta := v * n * gj * (score - e)

	sigma := volatility(delta, phi, v, a.Volatility, tau)
	phiStar := math.Sqrt(phi*phi + sigma*sigma)
	phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muNew := mu + phiNew*phiNew*n*gj*(score-e)

	a.Rating, a.RD = fromMuPhi(muNew, phiNew)
	a.Volatility = sigma
	a.Periods++
}

// volatility solves for the new sigma with the Illinois variant of regula falsi.
func volatility(delta, phi, v, sigma, tau float64) float64 {
	alpha := math.Log(sigma * sigma)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		d := phi*phi + v + ex
		return ex*(delta*delta-phi*phi-v-ex)/(2*d*d) - (x-alpha)/(tau*tau)
	}

	A := alpha
	var B float64
	if delta*delta > phi*phi+v {
		B = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(alpha-k*tau) < 0 && k < 1e6 {
			k++
		}
		B = alpha - k*tau
	}
	fA, fB := f(A), f(B)
	for it := 0; it < 100 && math.Abs(B-A) > g2Eps; it++ {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if math.IsNaN(fC) || math.IsInf(fC, 0) {
			break
		}
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}
	return math.Exp(A / 2)
}
