// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/distribution-market/internal/pricing"
)

// PositionID identifies a position within one market. IDs start at 1 and
// are never reused.
type PositionID uint64

func (id PositionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParsePositionID parses the decimal form produced by String.
func ParsePositionID(s string) (PositionID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return PositionID(v), nil
}

// Position is an entry in the market's position arena. Positions are never
// deleted; the only field that changes after creation is Settled.
type Position struct {
	ID           PositionID           `json:"id"`
	Owner        string               `json:"owner"`
	Distribution pricing.Distribution `json:"distribution"`
	K            float64              `json:"k"`          // scale factor in effect at creation
	Collateral   decimal.Decimal      `json:"collateral"` // backing for LP positions
	// Previous is the market distribution the trade moved away from. Nil for
	// LP positions.
	Previous  *pricing.Distribution `json:"previous,omitempty"`
	IsLP      bool                  `json:"is_lp"`
	Settled   bool                  `json:"settled"`
	CreatedAt time.Time             `json:"created_at"`
}

// Phase is the market lifecycle state.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitialized   Phase = "initialized"
	PhaseSettled       Phase = "settled"
)

// Snapshot is a consistent read of the market state.
type Snapshot struct {
	Address       string               `json:"address"`
	Phase         Phase                `json:"phase"`
	Current       pricing.Distribution `json:"current"`
	K             float64              `json:"k"`
	TotalBacking  decimal.Decimal      `json:"total_backing"`
	TotalLPSupply decimal.Decimal      `json:"total_lp_supply"`
	FinalValue    *float64             `json:"final_value,omitempty"`
	Positions     int                  `json:"positions"`
	OpenPositions int                  `json:"open_positions"`
}

// Settlement reports a single payout.
type Settlement struct {
	PositionID PositionID      `json:"position_id,omitempty"` // zero for LP pool payouts
	Recipient  string          `json:"recipient"`
	Payout     decimal.Decimal `json:"payout"`
}

// TradeResult is returned by a successful trade.
type TradeResult struct {
	PositionID PositionID      `json:"position_id"`
	Collateral decimal.Decimal `json:"collateral"`
	WorstPrice float64         `json:"worst_price"` // settlement price of maximum loss
}

// LiquidityResult is returned by a successful liquidity addition.
type LiquidityResult struct {
	PositionID PositionID      `json:"position_id"`
	LPTokens   decimal.Decimal `json:"lp_tokens"`
	K          float64         `json:"k"` // market k after the addition
}
