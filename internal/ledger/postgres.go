package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Schema creates the balances table. Balances are NUMERIC for exact decimal
// precision and may never go negative.
const Schema = `CREATE TABLE IF NOT EXISTS ledger_balances (
	address TEXT PRIMARY KEY,
	balance NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0)
)`

// PostgresLedger implements Minter on PostgreSQL. Every transfer runs in a
// single transaction with the source row locked, so it either fully applies
// or not at all.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// EnsureSchema creates the balances table if it does not exist.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, Schema)
	return err
}

func (l *PostgresLedger) BalanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	var balS string
	err := l.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM ledger_balances WHERE address = $1`, address).
		Scan(&balS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s: %w", address, err)
	}
	return decimal.NewFromString(balS)
}

func (l *PostgresLedger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if err := validate(amount, from, to); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if err := debit(ctx, tx, from, amount); err != nil {
			return err
		}
		return credit(ctx, tx, to, amount)
	})
}

func (l *PostgresLedger) Mint(ctx context.Context, to string, amount decimal.Decimal) error {
	if err := validate(amount, to); err != nil {
		return err
	}
	return credit(ctx, l.pool, to, amount)
}

func (l *PostgresLedger) Burn(ctx context.Context, from string, amount decimal.Decimal) error {
	if err := validate(amount, from); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		return debit(ctx, tx, from, amount)
	})
}

func (l *PostgresLedger) TotalSupply(ctx context.Context) (decimal.Decimal, error) {
	var sumS string
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance), 0)::TEXT FROM ledger_balances`).Scan(&sumS)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sumS)
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func credit(ctx context.Context, db execer, address string, amount decimal.Decimal) error {
	_, err := db.Exec(ctx,
		`INSERT INTO ledger_balances (address, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (address) DO UPDATE SET balance = ledger_balances.balance + EXCLUDED.balance`,
		address, amount.String())
	return err
}

func debit(ctx context.Context, tx pgx.Tx, address string, amount decimal.Decimal) error {
	var balS string
	err := tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM ledger_balances WHERE address = $1 FOR UPDATE`, address).
		Scan(&balS)
	if errors.Is(err, pgx.ErrNoRows) {
		balS = "0"
	} else if err != nil {
		return fmt.Errorf("lock %s: %w", address, err)
	}

	bal, err := decimal.NewFromString(balS)
	if err != nil {
		return err
	}
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, address, bal, amount)
	}

	_, err = tx.Exec(ctx,
		`UPDATE ledger_balances SET balance = balance - $2::NUMERIC WHERE address = $1`,
		address, amount.String())
	return err
}
