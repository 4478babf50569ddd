package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bynomo/bynomo/internal/fee"
)

const uniqueViolation = "23505"

// PostgresGateway keeps user balances in PostgreSQL. Addresses are stored in
// lowercase hex. Amounts travel as numeric text to avoid any float conversion
// between Go and the database.
type PostgresGateway struct {
	db *pgxpool.Pool
}

// NewPostgresGateway constructs a Postgres-backed ledger gateway.
func NewPostgresGateway(db *pgxpool.Pool) *PostgresGateway {
	return &PostgresGateway{db: db}
}

// ReadAccount returns the balance, status and tier for the account.
func (g *PostgresGateway) ReadAccount(ctx context.Context, address, currency string) (Account, error) {
	address = strings.ToLower(address)
	const query = `
        SELECT balance::text, status, tier, updated_at
        FROM user_balances
        WHERE user_address = $1 AND currency = $2`

	var (
		balance, status, tier string
		updatedAt             time.Time
	)
	if err := g.db.QueryRow(ctx, query, address, strings.ToUpper(currency)).Scan(&balance, &status, &tier, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}

	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return Account{}, fmt.Errorf("parse balance for %s: %w", address, err)
	}

	return Account{
		Address:   address,
		Currency:  strings.ToUpper(currency),
		Balance:   amount,
		Status:    Status(status),
		Tier:      fee.Tier(tier),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

// RecordWithdrawal debits the gross amount in a single conditional UPDATE so
// the balance check and the debit cannot interleave with another request.
func (g *PostgresGateway) RecordWithdrawal(ctx context.Context, w Withdrawal) (UpdateResult, error) {
	if !w.Gross.IsPositive() {
		return UpdateResult{}, fmt.Errorf("amount must be positive")
	}
	currency := strings.ToUpper(w.Currency)
	w.Address = strings.ToLower(w.Address)

	tx, err := g.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return UpdateResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if res, found, err := existingRecord(ctx, tx, kindWithdrawal, w.TxHash); err != nil {
		return UpdateResult{}, err
	} else if found {
		return res, ErrDuplicateTransaction
	}

	const debit = `
        UPDATE user_balances
        SET balance = balance - $3::numeric, updated_at = now()
        WHERE user_address = $1 AND currency = $2 AND balance >= $3::numeric
        RETURNING balance::text`

	var newBalance string
	if err := tx.QueryRow(ctx, debit, w.Address, currency, w.Gross.String()).Scan(&newBalance); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return UpdateResult{}, err
		}
		exists, existsErr := accountExists(ctx, tx, w.Address, currency)
		if existsErr != nil {
			return UpdateResult{}, existsErr
		}
		if !exists {
			return UpdateResult{}, ErrAccountNotFound
		}
		return UpdateResult{}, ErrInsufficientFunds
	}

	recordedAt, err := insertRecord(ctx, tx, kindWithdrawal, w.TxHash, w.Address, currency, w.Gross, w.Gross.Sub(w.Net), newBalance)
	if err != nil {
		return g.resolveConflict(ctx, kindWithdrawal, w.TxHash, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return UpdateResult{}, err
	}

	return buildResult(w.TxHash, newBalance, recordedAt)
}

// RecordDeposit credits the account, creating it on first deposit.
func (g *PostgresGateway) RecordDeposit(ctx context.Context, d Deposit) (UpdateResult, error) {
	if !d.Amount.IsPositive() {
		return UpdateResult{}, fmt.Errorf("amount must be positive")
	}
	currency := strings.ToUpper(d.Currency)
	d.Address = strings.ToLower(d.Address)

	tx, err := g.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return UpdateResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if res, found, err := existingRecord(ctx, tx, kindDeposit, d.TxHash); err != nil {
		return UpdateResult{}, err
	} else if found {
		return res, ErrDuplicateTransaction
	}

	const credit = `
        INSERT INTO user_balances (user_address, currency, balance, status, tier, updated_at)
        VALUES ($1, $2, $3::numeric, $4, $5, now())
        ON CONFLICT (user_address, currency)
        DO UPDATE SET balance = user_balances.balance + EXCLUDED.balance, updated_at = now()
        RETURNING balance::text`

	var newBalance string
	if err := tx.QueryRow(ctx, credit, d.Address, currency, d.Amount.String(), string(StatusActive), string(fee.TierFree)).Scan(&newBalance); err != nil {
		return UpdateResult{}, err
	}

	recordedAt, err := insertRecord(ctx, tx, kindDeposit, d.TxHash, d.Address, currency, d.Amount, decimal.Zero, newBalance)
	if err != nil {
		return g.resolveConflict(ctx, kindDeposit, d.TxHash, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return UpdateResult{}, err
	}

	return buildResult(d.TxHash, newBalance, recordedAt)
}

// resolveConflict turns a unique violation on the transaction hash (a
// concurrent duplicate that committed first) into the stored result.
func (g *PostgresGateway) resolveConflict(ctx context.Context, kind, txHash string, err error) (UpdateResult, error) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return UpdateResult{}, err
	}
	res, found, lookupErr := existingRecord(ctx, g.db, kind, txHash)
	if lookupErr != nil {
		return UpdateResult{}, lookupErr
	}
	if !found {
		return UpdateResult{}, err
	}
	return res, ErrDuplicateTransaction
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func existingRecord(ctx context.Context, q querier, kind, txHash string) (UpdateResult, bool, error) {
	const query = `
        SELECT balance_after::text, created_at
        FROM balance_transactions
        WHERE tx_hash = $1 AND kind = $2`

	var (
		balance   string
		createdAt time.Time
	)
	if err := q.QueryRow(ctx, query, strings.ToLower(txHash), kind).Scan(&balance, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UpdateResult{}, false, nil
		}
		return UpdateResult{}, false, err
	}
	res, err := buildResult(txHash, balance, createdAt)
	if err != nil {
		return UpdateResult{}, false, err
	}
	return res, true, nil
}

func insertRecord(ctx context.Context, tx pgx.Tx, kind, txHash, address, currency string, amount, feeAmount decimal.Decimal, balanceAfter string) (time.Time, error) {
	const insert = `
        INSERT INTO balance_transactions (id, tx_hash, kind, user_address, currency, amount, fee, balance_after, created_at)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9)`

	now := time.Now().UTC()
	_, err := tx.Exec(ctx, insert, uuid.New(), strings.ToLower(txHash), kind, address, currency, amount.String(), feeAmount.String(), balanceAfter, now)
	return now, err
}

func accountExists(ctx context.Context, tx pgx.Tx, address, currency string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_balances WHERE user_address = $1 AND currency = $2)`, address, currency).Scan(&exists)
	return exists, err
}

func buildResult(txHash, balance string, at time.Time) (UpdateResult, error) {
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("parse balance: %w", err)
	}
	return UpdateResult{TxHash: txHash, NewBalance: amount, RecordedAt: at.UTC()}, nil
}
