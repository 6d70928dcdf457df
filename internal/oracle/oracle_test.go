package oracle_test

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atmx/distribution-market/internal/events"
	"github.com/atmx/distribution-market/internal/ledger"
	"github.com/atmx/distribution-market/internal/market"
	"github.com/atmx/distribution-market/internal/model"
	"github.com/atmx/distribution-market/internal/oracle"
)

func openMarket(t *testing.T) (*market.Market, *ledger.MemoryLedger) {
	t.Helper()
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	require.NoError(t, l.Mint(ctx, "lp", decimal.NewFromInt(50)))
	require.NoError(t, l.Mint(ctx, "trader", decimal.NewFromInt(100)))

	m := market.New(l, events.NewMemoryLog())
	_, err := m.Initialize(ctx, market.InitParams{
		Mean: 95, StdDev: 10, Backing: decimal.NewFromInt(50), Provider: "lp",
	})
	require.NoError(t, err)
	_, err = m.Trade(ctx, market.TradeParams{
		Trader: "trader", Mean: 100, StdDev: 10, MaxCollateral: decimal.NewFromInt(15),
	})
	require.NoError(t, err)
	return m, l
}

// pending reports no outcome until flipped.
type pending struct {
	ready atomic.Bool
	value float64
}

func (p *pending) ResolutionValue(context.Context) (float64, bool, error) {
	return p.value, p.ready.Load(), nil
}

type broken struct{}

func (broken) ResolutionValue(context.Context) (float64, bool, error) {
	return 0, false, errors.New("feed offline")
}

func TestStatic(t *testing.T) {
	v, ok, err := oracle.NewStatic(107.6).ResolutionValue(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 107.6, v)

	_, ok, err = oracle.NewStatic(math.NaN()).ResolutionValue(context.Background())
	require.Error(t, err)
	require.False(t, ok)
}

func TestTryResolve_PaysEveryone(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	m, l := openMarket(t)

	r := oracle.NewResolver(oracle.NewStatic(107.6), m, time.Second, nil)
	done, err := r.TryResolve(ctx)
	require.NoError(err)
	require.True(done)

	snap := m.Snapshot()
	require.Equal(model.PhaseSettled, snap.Phase)
	require.Zero(snap.OpenPositions)
	require.True(snap.TotalLPSupply.IsZero())

	bal, err := l.BalanceOf(ctx, market.DefaultAddress)
	require.NoError(err)
	require.True(bal.IsZero(), "market still holds %s", bal)

	// A second pass has nothing left to do.
	done, err = r.TryResolve(ctx)
	require.NoError(err)
	require.True(done)
}

func TestTryResolve_WaitsForOutcome(t *testing.T) {
	require := require.New(t)
	m, _ := openMarket(t)

	o := &pending{value: 99}
	r := oracle.NewResolver(o, m, time.Second, nil)

	done, err := r.TryResolve(context.Background())
	require.NoError(err)
	require.False(done)
	require.Equal(model.PhaseInitialized, m.Snapshot().Phase)

	o.ready.Store(true)
	done, err = r.TryResolve(context.Background())
	require.NoError(err)
	require.True(done)
	require.Equal(99.0, *m.Snapshot().FinalValue)
}

func TestTryResolve_OracleError(t *testing.T) {
	m, _ := openMarket(t)
	r := oracle.NewResolver(broken{}, m, time.Second, nil)

	done, err := r.TryResolve(context.Background())
	require.Error(t, err)
	require.False(t, done)
	require.Equal(t, model.PhaseInitialized, m.Snapshot().Phase)
}

func TestTryResolve_UninitializedMarketWaits(t *testing.T) {
	m := market.New(ledger.NewMemoryLedger(), nil)
	r := oracle.NewResolver(oracle.NewStatic(1), m, time.Second, nil)

	done, err := r.TryResolve(context.Background())
	require.NoError(t, err)
	require.False(t, done)
}

func TestRun_StopsOnceResolved(t *testing.T) {
	m, _ := openMarket(t)
	o := &pending{value: 101}
	r := oracle.NewResolver(o, m, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- r.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	o.ready.Store(true)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("resolver did not finish")
	}
	require.Equal(t, model.PhaseSettled, m.Snapshot().Phase)
}

func TestRun_StopsOnCancel(t *testing.T) {
	m, _ := openMarket(t)
	r := oracle.NewResolver(&pending{}, m, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("resolver ignored cancellation")
	}
}
