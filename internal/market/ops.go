package market

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/distribution-market/internal/events"
	"github.com/atmx/distribution-market/internal/metrics"
	"github.com/atmx/distribution-market/internal/model"
	"github.com/atmx/distribution-market/internal/pricing"
)

// InitParams opens a market.
type InitParams struct {
	Mean     float64
	StdDev   float64
	Backing  decimal.Decimal
	K        float64 // zero derives the largest k the backing supports
	Provider string
}

// TradeParams moves the market to a new distribution.
type TradeParams struct {
	Trader        string
	Mean          float64
	StdDev        float64
	MaxCollateral decimal.Decimal
}

// Initialize funds the market with its first liquidity and opens the
// provider's LP position at the initial distribution.
func (m *Market) Initialize(ctx context.Context, p InitParams) (model.PositionID, error) {
	defer metrics.Since("initialize", time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return 0, m.reject("initialize", ErrAlreadyInitialized)
	}

	dist := pricing.Distribution{Mean: p.Mean, StdDev: p.StdDev}
	switch {
	case p.Provider == "":
		return 0, m.reject("initialize", ErrEmptyAddress)
	case !dist.Valid():
		return 0, m.reject("initialize", ErrInvalidDistribution)
	case !p.Backing.IsPositive():
		return 0, m.reject("initialize", ErrNonPositiveAmount)
	case p.K < 0 || math.IsNaN(p.K) || math.IsInf(p.K, 0):
		return 0, m.reject("initialize", ErrInvalidK)
	}

	maxK, err := pricing.MaxLiabilityK(p.StdDev, p.Backing.InexactFloat64())
	if err != nil {
		return 0, m.reject("initialize", fmt.Errorf("%w: %w", ErrValidation, err))
	}
	k := p.K
	if k == 0 {
		k = maxK
	} else if k > maxK*(1+pricing.StdDevTolerance) {
		// The opening curve would peak above the backing.
		return 0, m.reject("initialize",
			fmt.Errorf("%w: %g > %g", ErrKTooHigh, k, maxK))
	}

	if err := m.ledger.Transfer(ctx, p.Provider, m.address, p.Backing); err != nil {
		return 0, m.reject("initialize", fundsError("initialize", err))
	}

	id := m.addPosition(&model.Position{
		Owner:        p.Provider,
		Distribution: dist,
		K:            k,
		Collateral:   p.Backing,
		IsLP:         true,
	})
	m.lpBalances[p.Provider] = m.lpBalances[p.Provider].Add(p.Backing)
	m.lpSupply = m.lpSupply.Add(p.Backing)
	m.current = dist
	m.k = k
	m.totalBacking = p.Backing
	m.initialized = true

	m.log.Emit(ctx, events.New(events.MarketInitialized,
		events.F("position_id", id),
		events.F("initial_mean", p.Mean),
		events.F("initial_std_dev", p.StdDev),
		events.F("backing", p.Backing),
	))
	metrics.LiquidityAddedTotal.Add(p.Backing.InexactFloat64())
	metrics.TotalBacking.Set(m.totalBacking.InexactFloat64())

	m.logger.Info("market initialized",
		"position_id", id,
		"provider", p.Provider,
		"mean", p.Mean,
		"std_dev", p.StdDev,
		"backing", p.Backing.String(),
		"k", k,
	)
	return id, nil
}

// Trade moves the market to a new distribution. The trader posts the
// worst-case loss of the move as collateral, provided it does not exceed
// MaxCollateral. The position keeps the k in effect now; later liquidity
// changes do not alter its terms.
func (m *Market) Trade(ctx context.Context, p TradeParams) (model.TradeResult, error) {
	defer metrics.Since("trade", time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return model.TradeResult{}, m.reject("trade", err)
	}

	next := pricing.Distribution{Mean: p.Mean, StdDev: p.StdDev}
	switch {
	case p.Trader == "":
		return model.TradeResult{}, m.reject("trade", ErrEmptyAddress)
	case !next.Valid():
		return model.TradeResult{}, m.reject("trade", ErrInvalidDistribution)
	case p.MaxCollateral.IsNegative():
		return model.TradeResult{}, m.reject("trade", ErrNonPositiveAmount)
	}

	floor, err := pricing.MinStdDev(m.k, m.totalBacking.InexactFloat64())
	if err != nil {
		return model.TradeResult{}, m.reject("trade", fmt.Errorf("%w: %w", ErrValidation, err))
	}
	if pricing.BelowFloor(p.StdDev, floor) {
		return model.TradeResult{}, m.reject("trade",
			fmt.Errorf("%w: %g < %g", ErrStdDevTooLow, p.StdDev, floor))
	}

	loss, worst, err := pricing.MaxLoss(m.finder, m.current, next, m.k)
	if err != nil {
		return model.TradeResult{}, m.reject("trade", fmt.Errorf("trade: %w", err))
	}
	required := pricing.Collateral(loss)
	if required.GreaterThan(p.MaxCollateral) {
		return model.TradeResult{}, m.reject("trade",
			fmt.Errorf("%w: need %s, max %s", ErrInsufficientCollateral, required, p.MaxCollateral))
	}

	if required.IsPositive() {
		if err := m.ledger.Transfer(ctx, p.Trader, m.address, required); err != nil {
			return model.TradeResult{}, m.reject("trade", fundsError("trade", err))
		}
	}

	prev := m.current
	id := m.addPosition(&model.Position{
		Owner:        p.Trader,
		Distribution: next,
		K:            m.k,
		Collateral:   required,
		Previous:     &prev,
	})
	m.current = next

	m.log.Emit(ctx, events.New(events.Trade,
		events.F("position_id", id),
		events.F("trader", p.Trader),
		events.F("new_mean", p.Mean),
		events.F("new_std_dev", p.StdDev),
		events.F("collateral", required),
	))
	metrics.TradesTotal.Inc()
	metrics.CollateralPosted.Observe(required.InexactFloat64())

	m.logger.Info("trade executed",
		"position_id", id,
		"trader", p.Trader,
		"from_mean", prev.Mean,
		"from_std_dev", prev.StdDev,
		"new_mean", p.Mean,
		"new_std_dev", p.StdDev,
		"collateral", required.String(),
		"worst_price", worst,
	)
	return model.TradeResult{PositionID: id, Collateral: required, WorstPrice: worst}, nil
}

// AddLiquidity deposits more backing. k grows in proportion to backing and
// the provider receives LP tokens in proportion to the existing supply.
// The provider's LP position records the marginal k its deposit added.
func (m *Market) AddLiquidity(ctx context.Context, provider string, amount decimal.Decimal) (model.LiquidityResult, error) {
	defer metrics.Since("add_liquidity", time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return model.LiquidityResult{}, m.reject("add_liquidity", err)
	}
	if provider == "" {
		return model.LiquidityResult{}, m.reject("add_liquidity", ErrEmptyAddress)
	}
	if !amount.IsPositive() {
		return model.LiquidityResult{}, m.reject("add_liquidity", ErrNonPositiveAmount)
	}

	bal, err := m.ledger.BalanceOf(ctx, provider)
	if err != nil {
		return model.LiquidityResult{}, m.reject("add_liquidity", fundsError("add_liquidity", err))
	}
	if bal.LessThan(amount) {
		return model.LiquidityResult{}, m.reject("add_liquidity",
			fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, provider, bal, amount))
	}
	if err := m.ledger.Transfer(ctx, provider, m.address, amount); err != nil {
		return model.LiquidityResult{}, m.reject("add_liquidity", fundsError("add_liquidity", err))
	}

	oldBacking := m.totalBacking
	newBacking := oldBacking.Add(amount)
	oldK := m.k
	newK := oldK * newBacking.Div(oldBacking).InexactFloat64()
	minted := m.lpSupply.Mul(amount).Div(oldBacking).RoundFloor(pricing.AmountScale)

	id := m.addPosition(&model.Position{
		Owner:        provider,
		Distribution: m.current,
		K:            newK - oldK,
		Collateral:   amount,
		IsLP:         true,
	})
	m.lpBalances[provider] = m.lpBalances[provider].Add(minted)
	m.lpSupply = m.lpSupply.Add(minted)
	m.totalBacking = newBacking
	m.k = newK

	m.log.Emit(ctx, events.New(events.LiquidityAdded,
		events.F("lp_address", provider),
		events.F("backing_amount", amount),
		events.F("position_id", id),
	))
	metrics.LiquidityAddedTotal.Add(amount.InexactFloat64())
	metrics.TotalBacking.Set(newBacking.InexactFloat64())

	m.logger.Info("liquidity added",
		"position_id", id,
		"provider", provider,
		"amount", amount.String(),
		"lp_tokens", minted.String(),
		"total_backing", newBacking.String(),
		"k", newK,
	)
	return model.LiquidityResult{PositionID: id, LPTokens: minted, K: newK}, nil
}

// reject counts a refused operation and returns err unchanged.
func (m *Market) reject(op string, err error) error {
	metrics.Rejections.WithLabelValues(op, kindLabel(err)).Inc()
	m.logger.Debug("operation rejected", "op", op, "err", err)
	return err
}
