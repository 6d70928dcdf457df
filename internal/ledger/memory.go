package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryLedger implements Minter with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryLedger struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	supply   decimal.Decimal
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]decimal.Decimal),
	}
}

func (l *MemoryLedger) BalanceOf(_ context.Context, address string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.balances[address], nil
}

func (l *MemoryLedger) Transfer(_ context.Context, from, to string, amount decimal.Decimal) error {
	if err := validate(amount, from, to); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, bal, amount)
	}
	l.balances[from] = bal.Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

func (l *MemoryLedger) Mint(_ context.Context, to string, amount decimal.Decimal) error {
	if err := validate(amount, to); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[to] = l.balances[to].Add(amount)
	l.supply = l.supply.Add(amount)
	return nil
}

func (l *MemoryLedger) Burn(_ context.Context, from string, amount decimal.Decimal) error {
	if err := validate(amount, from); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientBalance, from, bal, amount)
	}
	l.balances[from] = bal.Sub(amount)
	l.supply = l.supply.Sub(amount)
	return nil
}

func (l *MemoryLedger) TotalSupply(_ context.Context) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.supply, nil
}

// Accounts returns every address that has ever held funds, sorted.
func (l *MemoryLedger) Accounts() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.balances))
	for a := range l.balances {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
