// Package reconciliation journals divergences between the chain and the
// ledger so operators can settle them by hand.
package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names the divergence that occurred.
type Kind string

const (
	// KindWithdrawalLedgerFailure: the treasury paid out but the ledger debit
	// failed, so the user holds both the coins and the balance.
	KindWithdrawalLedgerFailure Kind = "withdrawal_ledger_failure"
	// KindTransferUnconfirmed: a payout was broadcast but never confirmed in
	// time; it may still land.
	KindTransferUnconfirmed Kind = "transfer_unconfirmed"
	// KindDepositLedgerFailure: a verified deposit could not be credited.
	KindDepositLedgerFailure Kind = "deposit_ledger_failure"
)

// Status is the lifecycle state of a journal entry.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

var (
	ErrEventNotFound   = errors.New("reconciliation event not found")
	ErrAlreadyResolved = errors.New("reconciliation event already resolved")
)

// Event is one journaled divergence.
type Event struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Address    string          `json:"userAddress"`
	Currency   string          `json:"currency"`
	Gross      decimal.Decimal `json:"grossAmount"`
	Net        decimal.Decimal `json:"netAmount"`
	TxHash     string          `json:"txHash,omitempty"`
	Error      string          `json:"error,omitempty"`
	Status     Status          `json:"status"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	ResolvedAt *time.Time      `json:"resolvedAt,omitempty"`
}

// Journal persists events. List with an empty status returns every event,
// oldest first.
type Journal interface {
	Append(ctx context.Context, e Event) (Event, error)
	List(ctx context.Context, status Status) ([]Event, error)
	Resolve(ctx context.Context, id, note string) (Event, error)
}
