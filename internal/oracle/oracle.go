// Package oracle supplies the observed outcome of a market and drives
// settlement once it is known.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/atmx/distribution-market/internal/market"
	"github.com/atmx/distribution-market/internal/model"
)

// Oracle reports the final value of the observed quantity. ok is false
// while the outcome is not yet known.
type Oracle interface {
	ResolutionValue(ctx context.Context) (value float64, ok bool, err error)
}

// Static is an Oracle whose outcome is fixed at construction.
type Static struct {
	value float64
}

// NewStatic returns an oracle that always reports v.
func NewStatic(v float64) *Static {
	return &Static{value: v}
}

func (s *Static) ResolutionValue(context.Context) (float64, bool, error) {
	if math.IsNaN(s.value) || math.IsInf(s.value, 0) {
		return 0, false, fmt.Errorf("oracle: invalid value %v", s.value)
	}
	return s.value, true, nil
}

// Settler is the part of the market the resolver drives.
type Settler interface {
	Snapshot() model.Snapshot
	Positions() []model.Position
	LPHolders() []string
	SettleMarket(ctx context.Context, finalValue float64) error
	SettleTraderPosition(ctx context.Context, id model.PositionID) (model.Settlement, error)
	SettleLPPosition(ctx context.Context, address string) (model.Settlement, error)
}

// Resolver polls an oracle and, once it reports a value, settles the market
// and pays out every position and LP holder.
type Resolver struct {
	oracle   Oracle
	market   Settler
	interval time.Duration
	logger   *slog.Logger
}

// NewResolver creates a resolver polling every interval.
func NewResolver(o Oracle, m Settler, interval time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{oracle: o, market: m, interval: interval, logger: logger}
}

// Run polls until the market is fully paid out or ctx is cancelled.
// Failed attempts are logged and retried on the next tick.
func (r *Resolver) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		done, err := r.TryResolve(ctx)
		if err != nil {
			r.logger.Warn("resolution attempt failed", "err", err)
		}
		if done {
			r.logger.Info("market fully resolved")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// TryResolve makes one resolution pass. It reports done once the market is
// settled and nothing remains to pay. Positions and LP holders are settled
// independently; their errors are joined.
func (r *Resolver) TryResolve(ctx context.Context) (bool, error) {
	snap := r.market.Snapshot()
	switch snap.Phase {
	case model.PhaseUninitialized:
		return false, nil
	case model.PhaseInitialized:
		value, ok, err := r.oracle.ResolutionValue(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if err := r.market.SettleMarket(ctx, value); err != nil && !errors.Is(err, market.ErrMarketSettled) {
			return false, err
		}
	}

	var errs []error
	for _, p := range r.market.Positions() {
		if p.Settled {
			continue
		}
		s, err := r.market.SettleTraderPosition(ctx, p.ID)
		if err != nil && !errors.Is(err, market.ErrPositionAlreadySettled) {
			errs = append(errs, fmt.Errorf("position %s: %w", p.ID, err))
			continue
		}
		r.logger.Debug("position paid", "position_id", p.ID, "recipient", s.Recipient, "payout", s.Payout.String())
	}
	for _, addr := range r.market.LPHolders() {
		if _, err := r.market.SettleLPPosition(ctx, addr); err != nil {
			errs = append(errs, fmt.Errorf("lp %s: %w", addr, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return false, err
	}
	return true, nil
}
