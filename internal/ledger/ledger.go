package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bynomo/bynomo/internal/fee"
)

var (
	// ErrAccountNotFound indicates no balance record exists for the
	// (address, currency) pair.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds occurs when the account lacks available balance to
	// cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the chain transaction hash was already
	// recorded for this operation kind and therefore the operation should be
	// treated as idempotent. The returned UpdateResult carries the stored outcome.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

// Status is the administrative state of a ledger account. Transitions are
// owned by operators; this service only reads it.
type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
	StatusBanned Status = "banned"
)

const (
	kindWithdrawal = "withdrawal"
	kindDeposit    = "deposit"
)

// Account is a user's withdrawable balance in one currency.
type Account struct {
	Address   string
	Currency  string
	Balance   decimal.Decimal
	Status    Status
	Tier      fee.Tier
	UpdatedAt time.Time
}

// Withdrawal describes a treasury payout that already confirmed on chain and
// must now be debited from the ledger. Gross is debited; Net is what the user
// received and is kept for the audit trail.
type Withdrawal struct {
	Address  string
	Currency string
	Gross    decimal.Decimal
	Net      decimal.Decimal
	TxHash   string
}

// Deposit describes a user-to-treasury transfer to credit.
type Deposit struct {
	Address  string
	Currency string
	Amount   decimal.Decimal
	TxHash   string
}

// UpdateResult is the outcome of an atomic ledger mutation. It is only
// meaningful when the accompanying error is nil or ErrDuplicateTransaction.
type UpdateResult struct {
	TxHash     string
	NewBalance decimal.Decimal
	RecordedAt time.Time
}

// Gateway defines the contract implemented by ledger backends (e.g. Postgres).
//
// RecordWithdrawal must check-and-debit atomically: two concurrent calls
// against the same account can never both succeed when the balance only
// covers one of them. Both mutations are idempotent per transaction hash.
type Gateway interface {
	ReadAccount(ctx context.Context, address, currency string) (Account, error)
	RecordWithdrawal(ctx context.Context, w Withdrawal) (UpdateResult, error)
	RecordDeposit(ctx context.Context, d Deposit) (UpdateResult, error)
}
