// Package pricing implements the payout math for distribution markets.
//
// A market position is a Gaussian-shaped payout curve over a price axis:
//
//	f(x) = λ(σ, k) · φ(x; μ, σ),   λ(σ, k) = k · sqrt(2σ·sqrt(π))
//
// λ is chosen so that ∫ f(x)² dx = k², i.e. k is an L2-norm budget for the
// curve. The market's liability at any single point is bounded by the peak
// of f, which is what ties k to the backing held by liquidity providers.
//
// Distribution parameters and k are float64. Currency values cross the
// package boundary as shopspring/decimal; transcendental math runs in
// float64 and is converted to decimal immediately, never the other way round
// for money that is conserved.
package pricing

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrDomain is returned when a standard deviation, scale factor or
	// backing amount is not strictly positive.
	ErrDomain = errors.New("pricing: argument outside function domain")

	// ErrOptimization is returned when the worst-case search did not
	// converge from any seed.
	ErrOptimization = errors.New("pricing: worst-case search did not converge")

	// AmountScale is the number of decimal places for currency rounding.
	AmountScale int32 = 8

	// StdDevTolerance is the relative slack applied when comparing a
	// standard deviation against the solvency floor.
	StdDevTolerance = 1e-12
)

var sqrtPi = math.Sqrt(math.Pi)

// Distribution describes a bump on the price axis.
type Distribution struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Valid reports whether d has a finite mean and a finite positive spread.
func (d Distribution) Valid() bool {
	return !math.IsNaN(d.Mean) && !math.IsInf(d.Mean, 0) &&
		d.StdDev > 0 && !math.IsInf(d.StdDev, 0)
}

// ScaleFactor returns λ = k · sqrt(2 · σ · sqrt(π)).
func ScaleFactor(stdDev, k float64) (float64, error) {
	if stdDev <= 0 || k <= 0 {
		return 0, ErrDomain
	}
	return k * math.Sqrt(2*stdDev*sqrtPi), nil
}

// scale is ScaleFactor for callers that have already validated inputs.
// k may be zero here, which yields a flat curve.
func scale(stdDev, k float64) float64 {
	return k * math.Sqrt(2*stdDev*sqrtPi)
}

// PayoutDensity evaluates the scaled curve λ(σ,k)·φ(x; μ, σ) at x.
func PayoutDensity(x float64, dist Distribution, k float64) float64 {
	n := distuv.Normal{Mu: dist.Mean, Sigma: dist.StdDev}
	return scale(dist.StdDev, k) * n.Prob(x)
}

// payoutSlope is the derivative of PayoutDensity with respect to x.
func payoutSlope(x float64, dist Distribution, k float64) float64 {
	z := (x - dist.Mean) / (dist.StdDev * dist.StdDev)
	return -z * PayoutDensity(x, dist, k)
}

// PositionValue is the net cash flow to a trader who moved the market from
// one distribution to another, if settlement happened at x.
func PositionValue(x float64, from, to Distribution, k float64) float64 {
	return PayoutDensity(x, to, k) - PayoutDensity(x, from, k)
}

// MaxLiabilityK returns the largest k for which the curve's peak payout
// does not exceed backing:
//
//	k = backing · sqrt(σ · sqrt(π))
func MaxLiabilityK(stdDev, backing float64) (float64, error) {
	if stdDev <= 0 || backing <= 0 {
		return 0, ErrDomain
	}
	return backing * math.Sqrt(stdDev*sqrtPi), nil
}

// MinStdDev returns the narrowest spread whose curve peak stays within
// backing at the given k:
//
//	σ_min = k² / (backing² · sqrt(π))
func MinStdDev(k, backing float64) (float64, error) {
	if k <= 0 || backing <= 0 {
		return 0, ErrDomain
	}
	return (k * k) / (backing * backing * sqrtPi), nil
}

// BelowFloor reports whether stdDev is under floor by more than the
// rounding tolerance.
func BelowFloor(stdDev, floor float64) bool {
	return stdDev < floor*(1-StdDevTolerance)
}

// PayoutAt is PayoutDensity converted to a currency amount.
func PayoutAt(x float64, dist Distribution, k float64) decimal.Decimal {
	return decimal.NewFromFloat(PayoutDensity(x, dist, k)).Round(AmountScale)
}

// Collateral converts a worst-case loss into the amount that must be
// posted. Rounds up so the posted amount always covers the loss.
func Collateral(loss float64) decimal.Decimal {
	if loss <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(loss).RoundCeil(AmountScale)
}
