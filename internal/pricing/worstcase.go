package pricing

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Objective is a smooth function of one variable with its derivative.
type Objective struct {
	F     func(x float64) float64
	Slope func(x float64) float64
}

// Extremum is the lowest point found by a WorstCaseFinder.
type Extremum struct {
	X     float64
	Value float64
}

// WorstCaseFinder locates the global minimum of an objective given a set
// of starting points. Implementations must return ErrOptimization when no
// start converges.
type WorstCaseFinder interface {
	FindWorstCase(obj Objective, seeds []float64) (Extremum, error)
}

// SeedObserver is notified of every seed outcome. Used for metrics.
type SeedObserver func(converged bool)

// MultiStart runs an independent local minimization from each seed and keeps
// the lowest converged result. The payout difference of two Gaussians has up
// to two local minima, so a single start is not enough.
type MultiStart struct {
	// GradientTolerance bounds |f'(x)| at an accepted minimum.
	GradientTolerance float64

	// MaxIterations caps the major iterations per seed.
	MaxIterations int

	// Observe, if set, receives one call per seed.
	Observe SeedObserver
}

// DefaultFinder is the finder used by MaxLoss when none is supplied.
var DefaultFinder WorstCaseFinder = &MultiStart{
	GradientTolerance: 1e-6,
	MaxIterations:     200,
}

// FindWorstCase implements WorstCaseFinder using gonum's BFGS per seed.
func (m *MultiStart) FindWorstCase(obj Objective, seeds []float64) (Extremum, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 { return obj.F(x[0]) },
		Grad: func(grad, x []float64) { grad[0] = obj.Slope(x[0]) },
	}
	settings := &optimize.Settings{
		GradientThreshold: m.GradientTolerance * 1e-3,
		MajorIterations:   m.MaxIterations,
	}

	best := Extremum{Value: math.Inf(1)}
	found := false
	for _, seed := range seeds {
		if math.IsNaN(seed) || math.IsInf(seed, 0) {
			continue
		}
		res, err := optimize.Minimize(problem, []float64{seed}, settings, &optimize.BFGS{})
		// A line search can fail right at a minimum; in that case the
		// gradient check alone decides.
		ok := res != nil && len(res.X) == 1 &&
			(err != nil || converged(res.Status)) &&
			m.accept(obj, res.X[0], res.F)
		if m.Observe != nil {
			m.Observe(ok)
		}
		if !ok {
			continue
		}
		if res.F < best.Value {
			best = Extremum{X: res.X[0], Value: res.F}
		}
		found = true
	}
	if !found {
		return Extremum{}, ErrOptimization
	}
	return best, nil
}

// accept re-checks a reported minimum instead of trusting the optimizer's
// status alone.
func (m *MultiStart) accept(obj Objective, x, f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.IsNaN(x) || math.IsInf(x, 0) {
		return false
	}
	return math.Abs(obj.Slope(x)) <= m.GradientTolerance*math.Max(1, math.Abs(f))
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success,
		optimize.GradientThreshold,
		optimize.FunctionConvergence,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return true
	}
	return false
}

// WorstCaseSeeds returns the starting points for a move between two
// distributions: both means, their midpoint, and two points two spreads
// outside them.
func WorstCaseSeeds(from, to Distribution) []float64 {
	spread := 2 * math.Max(from.StdDev, to.StdDev)
	return []float64{
		from.Mean - spread,
		from.Mean,
		to.Mean,
		(from.Mean + to.Mean) / 2,
		to.Mean + spread,
	}
}

// MaxLoss finds the settlement price at which a move from one distribution
// to another loses the most, and returns that loss as a non-negative number
// together with the price. A nil finder uses DefaultFinder.
func MaxLoss(finder WorstCaseFinder, from, to Distribution, k float64) (float64, float64, error) {
	if !from.Valid() || !to.Valid() || k <= 0 {
		return 0, 0, ErrDomain
	}
	if finder == nil {
		finder = DefaultFinder
	}

	obj := Objective{
		F: func(x float64) float64 { return PositionValue(x, from, to, k) },
		Slope: func(x float64) float64 {
			return payoutSlope(x, to, k) - payoutSlope(x, from, k)
		},
	}
	ext, err := finder.FindWorstCase(obj, WorstCaseSeeds(from, to))
	if err != nil {
		return 0, 0, err
	}
	return math.Max(0, -ext.Value), ext.X, nil
}
