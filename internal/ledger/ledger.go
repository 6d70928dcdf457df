// Package ledger defines the balance-transfer contract the market engine
// moves funds through. Implementations include PostgreSQL (durable) and
// in-memory (for testing and development).
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when the source address cannot
	// cover a transfer or burn.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrNonPositiveAmount is returned for zero or negative amounts.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")

	// ErrEmptyAddress is returned when an address is blank.
	ErrEmptyAddress = errors.New("ledger: address must not be empty")
)

// Ledger is the interface the market engine consumes. A Transfer either
// completes in full or leaves every balance unchanged.
type Ledger interface {
	// BalanceOf returns the balance of an address; unknown addresses hold zero.
	BalanceOf(ctx context.Context, address string) (decimal.Decimal, error)

	// Transfer moves amount from one address to another. Transferring to
	// the same address is a no-op.
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error
}

// Minter creates and destroys funds. Used by setup harnesses, never by the
// market engine.
type Minter interface {
	Ledger

	// Mint credits new funds to an address.
	Mint(ctx context.Context, to string, amount decimal.Decimal) error

	// Burn destroys funds held by an address.
	Burn(ctx context.Context, from string, amount decimal.Decimal) error

	// TotalSupply returns the sum of all balances.
	TotalSupply(ctx context.Context) (decimal.Decimal, error)
}

func validate(amount decimal.Decimal, addresses ...string) error {
	for _, a := range addresses {
		if a == "" {
			return ErrEmptyAddress
		}
	}
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}
