package market

import (
	"errors"
	"fmt"

	"github.com/atmx/distribution-market/internal/ledger"
	"github.com/atmx/distribution-market/internal/pricing"
)

// Error kinds. Every error the engine raises itself matches exactly one of
// these with errors.Is. Ledger failures other than a balance shortfall are
// returned wrapped but carry no kind.
var (
	ErrState          = errors.New("market: invalid lifecycle state")
	ErrValidation     = errors.New("market: invalid request")
	ErrNotFound       = errors.New("market: not found")
	ErrAlreadySettled = errors.New("market: already settled")
	ErrFunds          = errors.New("market: insufficient funds")
	ErrOptimization   = pricing.ErrOptimization
)

var (
	ErrNotInitialized     = kindError(ErrState, "market not initialized")
	ErrAlreadyInitialized = kindError(ErrState, "market already initialized")
	ErrMarketSettled      = kindError(ErrState, "market already settled")
	ErrNotSettled         = kindError(ErrState, "market not settled")

	ErrNonPositiveAmount      = kindError(ErrValidation, "amount must be positive")
	ErrInvalidDistribution    = kindError(ErrValidation, "mean must be finite and std dev positive")
	ErrInvalidK               = kindError(ErrValidation, "k must be positive and finite")
	ErrInvalidFinalValue      = kindError(ErrValidation, "final value must be finite")
	ErrEmptyAddress           = kindError(ErrValidation, "address must not be empty")
	ErrStdDevTooLow           = kindError(ErrValidation, "std dev below solvency floor")
	ErrKTooHigh               = kindError(ErrValidation, "k exceeds what the backing can cover")
	ErrInsufficientCollateral = kindError(ErrValidation, "required collateral exceeds maximum")

	ErrPositionNotFound = kindError(ErrNotFound, "position not found")
	ErrNoLPPosition     = kindError(ErrNotFound, "no LP position for address")

	ErrPositionAlreadySettled = kindError(ErrAlreadySettled, "position already settled")

	ErrInsufficientFunds = kindError(ErrFunds, "ledger balance below amount")
)

// kindErr is a concrete error that unwraps to its kind.
type kindErr struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error {
	return &kindErr{kind: kind, msg: msg}
}

func (e *kindErr) Error() string { return "market: " + e.msg }
func (e *kindErr) Unwrap() error { return e.kind }

// fundsError wraps a ledger failure. Balance shortfalls become ErrFunds;
// anything else passes through unchanged.
func fundsError(op string, err error) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return fmt.Errorf("%s: %w: %w", op, ErrFunds, err)
	}
	return fmt.Errorf("%s: ledger: %w", op, err)
}

// kindLabel names the kind of err for metrics.
func kindLabel(err error) string {
	switch {
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, ErrFunds):
		return "funds"
	case errors.Is(err, ErrOptimization):
		return "optimization"
	}
	return "internal"
}
