package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func dist(mean, stdDev float64) Distribution {
	return Distribution{Mean: mean, StdDev: stdDev}
}

// referenceK is the largest k a 50-unit pool can carry at σ=10.
func referenceK(t *testing.T) float64 {
	t.Helper()
	k, err := MaxLiabilityK(10, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return k
}

// --- Scale factor ---

func TestScaleFactor_KnownValue(t *testing.T) {
	got, err := ScaleFactor(10, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := math.Sqrt(20 * math.Sqrt(math.Pi))
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("expected λ=%f, got %f", want, got)
	}
}

func TestScaleFactor_Domain(t *testing.T) {
	tests := []struct {
		name      string
		stdDev, k float64
	}{
		{"zero std dev", 0, 1},
		{"negative std dev", -1, 1},
		{"zero k", 10, 0},
		{"negative k", 10, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ScaleFactor(tt.stdDev, tt.k); !errors.Is(err, ErrDomain) {
				t.Errorf("expected ErrDomain, got %v", err)
			}
		})
	}
}

// --- Payout curve ---

func TestPayoutDensity_L2NormEqualsK(t *testing.T) {
	const k = 3.5
	dd := dist(100, 10)

	// Trapezoid over ±8σ; the tails beyond contribute nothing measurable.
	lo, hi, n := 20.0, 180.0, 20000
	step := (hi - lo) / float64(n)
	var sum float64
	for i := 0; i <= n; i++ {
		x := lo + float64(i)*step
		f := PayoutDensity(x, dd, k)
		w := 1.0
		if i == 0 || i == n {
			w = 0.5
		}
		sum += w * f * f
	}
	norm := math.Sqrt(sum * step)
	if math.Abs(norm-k) > 1e-6 {
		t.Errorf("expected L2 norm %f, got %f", k, norm)
	}
}

func TestPayoutDensity_PeakEqualsBackingAtMaxK(t *testing.T) {
	k := referenceK(t)
	peak := PayoutDensity(95, dist(95, 10), k)
	if math.Abs(peak-50) > 1e-9 {
		t.Errorf("expected peak payout 50, got %f", peak)
	}
}

func TestPositionValue_SymmetricForEqualSpread(t *testing.T) {
	from, to := dist(95, 10), dist(100, 10)
	mid := 97.5
	up := PositionValue(mid+5, from, to, 1)
	down := PositionValue(mid-5, from, to, 1)
	if math.Abs(up+down) > 1e-12 {
		t.Errorf("expected antisymmetric values around midpoint: up=%g down=%g", up, down)
	}
}

// --- Worst case search ---

func TestMaxLoss_ReferenceMove(t *testing.T) {
	k := referenceK(t)
	loss, worst, err := MaxLoss(nil, dist(95, 10), dist(100, 10), k)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(loss-14.8519) > 1e-4 {
		t.Errorf("expected max loss ≈ 14.8519, got %f", loss)
	}
	if worst >= 95 {
		t.Errorf("worst price should be below the original mean, got %f", worst)
	}
	if math.Abs(worst-87.3946) > 1e-2 {
		t.Errorf("expected worst price ≈ 87.39, got %f", worst)
	}
}

func TestMaxLoss_NoMoveIsFree(t *testing.T) {
	loss, _, err := MaxLoss(nil, dist(95, 10), dist(95, 10), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loss != 0 {
		t.Errorf("expected zero loss for an unchanged distribution, got %f", loss)
	}
}

func TestMaxLoss_WideningHasLossAtOldMean(t *testing.T) {
	// Widening the curve gives up payout where the old curve peaked.
	from, to := dist(100, 10), dist(100, 20)
	loss, worst, err := MaxLoss(nil, from, to, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := -PositionValue(100, from, to, 100)
	if math.Abs(loss-want) > 1e-6 {
		t.Errorf("expected loss %f at the shared mean, got %f", want, loss)
	}
	if math.Abs(worst-100) > 1e-3 {
		t.Errorf("expected worst price 100, got %f", worst)
	}
}

func TestMaxLoss_ScalesLinearlyInK(t *testing.T) {
	from, to := dist(95, 10), dist(104, 7)
	l1, _, err := MaxLoss(nil, from, to, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l3, _, err := MaxLoss(nil, from, to, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(l3-3*l1) > 1e-6 {
		t.Errorf("loss should scale with k: k=1 → %f, k=3 → %f", l1, l3)
	}
}

func TestMaxLoss_InvalidInput(t *testing.T) {
	if _, _, err := MaxLoss(nil, dist(95, 0), dist(100, 10), 1); !errors.Is(err, ErrDomain) {
		t.Errorf("expected ErrDomain for zero std dev, got %v", err)
	}
	if _, _, err := MaxLoss(nil, dist(95, 10), dist(100, 10), 0); !errors.Is(err, ErrDomain) {
		t.Errorf("expected ErrDomain for zero k, got %v", err)
	}
}

type failingFinder struct{ seeds []float64 }

func (f *failingFinder) FindWorstCase(_ Objective, seeds []float64) (Extremum, error) {
	f.seeds = seeds
	return Extremum{}, ErrOptimization
}

func TestMaxLoss_UsesPluggableFinder(t *testing.T) {
	f := &failingFinder{}
	_, _, err := MaxLoss(f, dist(95, 10), dist(100, 12), 1)
	if !errors.Is(err, ErrOptimization) {
		t.Fatalf("expected ErrOptimization, got %v", err)
	}
	want := []float64{71, 95, 100, 97.5, 124}
	if len(f.seeds) != len(want) {
		t.Fatalf("expected %d seeds, got %d", len(want), len(f.seeds))
	}
	for i := range want {
		if math.Abs(f.seeds[i]-want[i]) > 1e-12 {
			t.Errorf("seed %d: expected %f, got %f", i, want[i], f.seeds[i])
		}
	}
}

func TestMultiStart_NoUsableSeed(t *testing.T) {
	ms := &MultiStart{GradientTolerance: 1e-6, MaxIterations: 50}
	obj := Objective{
		F:     func(x float64) float64 { return x },
		Slope: func(float64) float64 { return 1 },
	}
	if _, err := ms.FindWorstCase(obj, []float64{math.NaN(), math.Inf(1)}); !errors.Is(err, ErrOptimization) {
		t.Errorf("expected ErrOptimization, got %v", err)
	}
}

func TestMultiStart_PicksGlobalMinimum(t *testing.T) {
	// Two wells: a shallow one at x=-2 and a deep one at x=+3.
	f := func(x float64) float64 {
		return -math.Exp(-(x+2)*(x+2)) - 2*math.Exp(-(x-3)*(x-3))
	}
	slope := func(x float64) float64 {
		return 2*(x+2)*math.Exp(-(x+2)*(x+2)) + 4*(x-3)*math.Exp(-(x-3)*(x-3))
	}
	var seen, ok int
	ms := &MultiStart{
		GradientTolerance: 1e-6,
		MaxIterations:     200,
		Observe: func(converged bool) {
			seen++
			if converged {
				ok++
			}
		},
	}
	ext, err := ms.FindWorstCase(Objective{F: f, Slope: slope}, []float64{-2.5, 2.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(ext.X-3) > 1e-3 {
		t.Errorf("expected global minimum at 3, got %f", ext.X)
	}
	if seen != 2 || ok == 0 {
		t.Errorf("expected two observed seeds with at least one converged, got %d/%d", ok, seen)
	}
}

// --- Solvency bounds ---

func TestMaxLiabilityK_ReferenceValue(t *testing.T) {
	k := referenceK(t)
	if math.Abs(k-210.5026) > 1e-4 {
		t.Errorf("expected k ≈ 210.5026, got %f", k)
	}
}

func TestMinStdDev_InvertsMaxLiabilityK(t *testing.T) {
	k := referenceK(t)
	floor, err := MinStdDev(k, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(floor-10) > 1e-9 {
		t.Errorf("expected floor 10, got %f", floor)
	}
	if BelowFloor(10, floor) {
		t.Error("a spread exactly at the floor must be accepted")
	}
	if !BelowFloor(9.99, floor) {
		t.Error("a spread under the floor must be rejected")
	}
}

func TestSolvencyBounds_Domain(t *testing.T) {
	if _, err := MaxLiabilityK(0, 50); !errors.Is(err, ErrDomain) {
		t.Errorf("expected ErrDomain, got %v", err)
	}
	if _, err := MaxLiabilityK(10, 0); !errors.Is(err, ErrDomain) {
		t.Errorf("expected ErrDomain, got %v", err)
	}
	if _, err := MinStdDev(0, 50); !errors.Is(err, ErrDomain) {
		t.Errorf("expected ErrDomain, got %v", err)
	}
	if _, err := MinStdDev(1, -1); !errors.Is(err, ErrDomain) {
		t.Errorf("expected ErrDomain, got %v", err)
	}
}

// --- Decimal boundary ---

func TestCollateral_RoundsUp(t *testing.T) {
	got := Collateral(1.000000001)
	if !got.Equal(d(1.00000001)) {
		t.Errorf("expected 1.00000001, got %s", got)
	}
	if !Collateral(-3).IsZero() {
		t.Error("a non-positive loss needs no collateral")
	}
}

func TestPayoutAt_Rounded(t *testing.T) {
	k := referenceK(t)
	got := PayoutAt(107.6, dist(95, 10), k)
	if got.Exponent() < -AmountScale {
		t.Errorf("expected at most %d decimal places, got %s", AmountScale, got)
	}
	if got.Sub(d(22.6062)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("expected ≈ 22.6062, got %s", got)
	}
}
