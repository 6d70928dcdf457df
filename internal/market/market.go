// Package market implements the distribution market engine: the position,
// liquidity and settlement state machine.
//
// A market moves through Uninitialized → Initialized → Settled, one way.
// Every mutating operation holds the market's write lock for its whole
// duration, validates, moves funds through the Ledger, and only then
// touches its own tables. A failed ledger call therefore leaves the market
// exactly as it was, and the ledger is never called after the tables
// change.
//
// All monetary values use shopspring/decimal. Distribution parameters and
// the scale factor k are float64; they are not conserved quantities.
package market

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/distribution-market/internal/events"
	"github.com/atmx/distribution-market/internal/ledger"
	"github.com/atmx/distribution-market/internal/model"
	"github.com/atmx/distribution-market/internal/pricing"
)

// DefaultAddress is the ledger address holding market funds.
const DefaultAddress = "market"

// Market is a single distribution market. The zero value is not usable;
// create one with New.
type Market struct {
	mu sync.RWMutex

	ledger  ledger.Ledger
	log     events.Log
	finder  pricing.WorstCaseFinder
	address string
	logger  *slog.Logger
	now     func() time.Time

	current      pricing.Distribution
	k            float64
	totalBacking decimal.Decimal
	initialized  bool
	settled      bool
	finalValue   float64
	curveClaim   decimal.Decimal // sum of curve payouts owed at finalValue

	nextID    model.PositionID
	positions map[model.PositionID]*model.Position
	order     []model.PositionID // creation order
	open      int                // unsettled positions

	lpBalances map[string]decimal.Decimal
	lpSupply   decimal.Decimal
	lpSettled  map[string]bool
}

// Option configures a Market.
type Option func(*Market)

// WithAddress sets the ledger address that holds market funds.
func WithAddress(address string) Option {
	return func(m *Market) { m.address = address }
}

// WithWorstCaseFinder replaces the worst-case search strategy.
func WithWorstCaseFinder(f pricing.WorstCaseFinder) Option {
	return func(m *Market) { m.finder = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Market) { m.logger = l }
}

// WithClock overrides the time source used for position timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Market) { m.now = now }
}

// New creates an uninitialized market. The market keeps a reference to the
// ledger and event log but does not own them. A nil log discards events.
func New(l ledger.Ledger, log events.Log, opts ...Option) *Market {
	if log == nil {
		log = events.Discard
	}
	m := &Market{
		ledger:     l,
		log:        log,
		finder:     pricing.DefaultFinder,
		address:    DefaultAddress,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		nextID:     1,
		positions:  make(map[model.PositionID]*model.Position),
		lpBalances: make(map[string]decimal.Decimal),
		lpSettled:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("market", m.address)
	return m
}

// Address returns the ledger address holding market funds.
func (m *Market) Address() string {
	return m.address
}

// LPBalance returns the LP token balance of an address.
func (m *Market) LPBalance(address string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lpBalances[address]
}

// TotalLPSupply returns the number of LP tokens outstanding.
func (m *Market) TotalLPSupply() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lpSupply
}

// Position returns a copy of a position.
func (m *Market) Position(id model.PositionID) (model.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.positions[id]
	if !ok {
		return model.Position{}, false
	}
	return clonePosition(p), true
}

// Positions returns copies of every position in creation order.
func (m *Market) Positions() []model.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Position, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, clonePosition(m.positions[id]))
	}
	return out
}

// LPHolders returns every address that has held LP tokens, sorted.
func (m *Market) LPHolders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.lpBalances))
	for a := range m.lpBalances {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a consistent view of the market state.
func (m *Market) Snapshot() model.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := model.Snapshot{
		Address:       m.address,
		Phase:         m.phase(),
		Current:       m.current,
		K:             m.k,
		TotalBacking:  m.totalBacking,
		TotalLPSupply: m.lpSupply,
		Positions:     len(m.order),
		OpenPositions: m.open,
	}
	if m.settled {
		fv := m.finalValue
		s.FinalValue = &fv
	}
	return s
}

func (m *Market) phase() model.Phase {
	switch {
	case m.settled:
		return model.PhaseSettled
	case m.initialized:
		return model.PhaseInitialized
	}
	return model.PhaseUninitialized
}

// requireOpen checks that the market accepts trades and liquidity.
func (m *Market) requireOpen() error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.settled {
		return ErrMarketSettled
	}
	return nil
}

// addPosition appends p to the arena under the next ID.
func (m *Market) addPosition(p *model.Position) model.PositionID {
	p.ID = m.nextID
	p.CreatedAt = m.now()
	m.nextID++
	m.positions[p.ID] = p
	m.order = append(m.order, p.ID)
	m.open++
	return p.ID
}

func clonePosition(p *model.Position) model.Position {
	c := *p
	if p.Previous != nil {
		prev := *p.Previous
		c.Previous = &prev
	}
	return c
}
