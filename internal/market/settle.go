package market

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/distribution-market/internal/events"
	"github.com/atmx/distribution-market/internal/metrics"
	"github.com/atmx/distribution-market/internal/model"
	"github.com/atmx/distribution-market/internal/pricing"
)

// SettleMarket fixes the final observed value. After this only position
// and LP settlements are accepted.
func (m *Market) SettleMarket(ctx context.Context, finalValue float64) error {
	defer metrics.Since("settle_market", time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled {
		return m.reject("settle_market", ErrMarketSettled)
	}
	if !m.initialized {
		return m.reject("settle_market", ErrNotInitialized)
	}
	if math.IsNaN(finalValue) || math.IsInf(finalValue, 0) {
		return m.reject("settle_market", ErrInvalidFinalValue)
	}

	m.settled = true
	m.finalValue = finalValue
	m.curveClaim = m.totalCurveClaim()

	m.log.Emit(ctx, events.New(events.MarketSettled,
		events.F("final_value", finalValue),
	))
	m.logger.Info("market settled", "final_value", finalValue, "open_positions", m.open)
	return nil
}

// SettleTraderPosition pays out one position at the final value.
//
// A trade position receives its curve minus the curve it replaced, plus the
// collateral it posted. An LP position opened by Initialize or AddLiquidity
// has no previous curve and receives its own curve at the final value.
// A position is paid at most once.
func (m *Market) SettleTraderPosition(ctx context.Context, id model.PositionID) (model.Settlement, error) {
	defer metrics.Since("settle_position", time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.settled {
		return model.Settlement{}, m.reject("settle_position", ErrNotSettled)
	}
	pos, ok := m.positions[id]
	if !ok {
		return model.Settlement{}, m.reject("settle_position", ErrPositionNotFound)
	}
	if pos.Settled {
		return model.Settlement{}, m.reject("settle_position", ErrPositionAlreadySettled)
	}

	kind := "trader"
	if pos.Previous == nil {
		kind = "lp_curve"
	}
	payout := m.positionPayout(pos)

	if payout.IsPositive() {
		if err := m.ledger.Transfer(ctx, m.address, pos.Owner, payout); err != nil {
			return model.Settlement{}, m.reject("settle_position", fundsError("settle_position", err))
		}
	}

	pos.Settled = true
	m.open--

	m.log.Emit(ctx, events.New(events.PositionSettled,
		events.F("position_id", id),
		events.F("payout", payout),
	))
	metrics.SettlementsTotal.WithLabelValues(kind).Inc()
	metrics.PayoutsTotal.WithLabelValues(kind).Add(payout.InexactFloat64())

	m.logger.Info("position settled",
		"position_id", id,
		"owner", pos.Owner,
		"kind", kind,
		"payout", payout.String(),
	)
	return model.Settlement{PositionID: id, Recipient: pos.Owner, Payout: payout}, nil
}

// SettleLPPosition pays an LP its share of the pool left after every
// position's curve payout at the final value. The address's LP tokens are
// burned and the payout leaves total backing. The last holder receives the
// exact remainder.
//
// An address that never held LP tokens gets ErrNoLPPosition. An address
// that already settled gets a zero payout and no error.
func (m *Market) SettleLPPosition(ctx context.Context, address string) (model.Settlement, error) {
	defer metrics.Since("settle_lp", time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.settled {
		return model.Settlement{}, m.reject("settle_lp", ErrNotSettled)
	}
	bal, held := m.lpBalances[address]
	if !held {
		return model.Settlement{}, m.reject("settle_lp", ErrNoLPPosition)
	}
	if !bal.IsPositive() || m.lpSettled[address] {
		return model.Settlement{Recipient: address, Payout: decimal.Zero}, nil
	}

	remaining := m.totalBacking.Sub(m.curveClaim)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	payout := bal.Mul(remaining).Div(m.lpSupply).RoundFloor(pricing.AmountScale)

	if payout.IsPositive() {
		if err := m.ledger.Transfer(ctx, m.address, address, payout); err != nil {
			return model.Settlement{}, m.reject("settle_lp", fundsError("settle_lp", err))
		}
	}

	m.lpBalances[address] = decimal.Zero
	m.lpSupply = m.lpSupply.Sub(bal)
	m.lpSettled[address] = true
	m.totalBacking = m.totalBacking.Sub(payout)

	metrics.SettlementsTotal.WithLabelValues("lp_pool").Inc()
	metrics.PayoutsTotal.WithLabelValues("lp_pool").Add(payout.InexactFloat64())
	metrics.TotalBacking.Set(m.totalBacking.InexactFloat64())

	m.logger.Info("lp position settled",
		"lp_address", address,
		"lp_tokens", bal.String(),
		"payout", payout.String(),
		"remaining_backing", m.totalBacking.String(),
	)
	return model.Settlement{Recipient: address, Payout: payout}, nil
}

// positionPayout is what a position receives at the final value. It
// depends only on the position and the final value, so it is the same
// whether computed at SettleMarket or when the position is paid. The curve
// amount rounds down, so the sum over positions never exceeds the market
// curve's own value.
func (m *Market) positionPayout(pos *model.Position) decimal.Decimal {
	v := pricing.PayoutDensity(m.finalValue, pos.Distribution, pos.K)
	if pos.Previous != nil {
		v -= pricing.PayoutDensity(m.finalValue, *pos.Previous, pos.K)
	}
	payout := decimal.NewFromFloat(v).RoundFloor(pricing.AmountScale)
	if pos.Previous != nil {
		payout = payout.Add(pos.Collateral)
	}
	if payout.IsNegative() {
		return decimal.Zero
	}
	return payout
}

// totalCurveClaim sums what the positions draw from backing: each payout
// less the collateral a trade posted. The LP pool is backing minus this
// sum, computed from the same rounded amounts, so total payouts equal
// backing plus collateral exactly.
func (m *Market) totalCurveClaim() decimal.Decimal {
	claim := decimal.Zero
	for _, id := range m.order {
		pos := m.positions[id]
		c := m.positionPayout(pos)
		if pos.Previous != nil {
			c = c.Sub(pos.Collateral)
		}
		claim = claim.Add(c)
	}
	return claim
}
