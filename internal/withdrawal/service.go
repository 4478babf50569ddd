// Package withdrawal settles user withdrawals: it debits the off-chain ledger
// only after the treasury payout confirmed on chain, and journals the one
// divergence that cannot be rolled back.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bynomo/bynomo/internal/address"
	"github.com/bynomo/bynomo/internal/fee"
	"github.com/bynomo/bynomo/internal/ledger"
	"github.com/bynomo/bynomo/internal/lock"
	"github.com/bynomo/bynomo/internal/metrics"
	"github.com/bynomo/bynomo/internal/notification"
	"github.com/bynomo/bynomo/internal/reconciliation"
	"github.com/bynomo/bynomo/internal/treasury"
	"github.com/bynomo/bynomo/internal/units"
)

// LedgerWarning is returned to the user when the payout confirmed but the
// ledger debit did not.
const LedgerWarning = "BNB sent but balance update failed. Please contact support."

const defaultLockTTL = 3 * time.Minute

var (
	ErrInvalidRequest      = errors.New("missing required fields: userAddress, amount")
	ErrInvalidAddress      = errors.New("invalid BNB (EVM) wallet address")
	ErrInvalidAmount       = errors.New("withdrawal amount must be greater than zero")
	ErrFrozen              = errors.New("account is frozen")
	ErrBanned              = errors.New("account is banned")
	ErrInsufficientBalance = errors.New("insufficient house balance")
	ErrAccountBusy         = errors.New("another withdrawal for this account is in progress")
	// ErrPendingReconciliation blocks payouts while an earlier payout for the
	// account is unsettled (unconfirmed, or sent but not debited).
	ErrPendingReconciliation = errors.New("previous withdrawal awaiting reconciliation")
	ErrServiceUnavailable    = errors.New("withdrawal temporarily unavailable")
	ErrTransferFailed        = errors.New("treasury transfer failed")
)

// State is a step of the withdrawal state machine.
type State string

const (
	StateValidating           State = "validating"
	StateAuthorizing          State = "authorizing"
	StateTransferring         State = "transferring"
	StateReconciling          State = "reconciling"
	StateCompleted            State = "completed"
	StateCompletedWithWarning State = "completed_with_warning"
)

// Treasury moves funds out of the custodial wallet and blocks until the
// transfer is confirmed.
type Treasury interface {
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (treasury.Transfer, error)
}

// Request is one inbound withdrawal. A nil Amount means the field was absent.
type Request struct {
	Address  string
	Amount   *decimal.Decimal
	Currency string
}

// Result is the terminal outcome of a withdrawal that moved funds.
type Result struct {
	State      State
	Address    string
	Currency   string
	TxHash     string
	Quote      fee.Quote
	NewBalance decimal.Decimal
	// Warning and LedgerError are set only in StateCompletedWithWarning.
	Warning     string
	LedgerError string
	EventID     string
}

// Deps wires the collaborators of the service. Locker, Journal, Notifier
// and Metrics are optional.
type Deps struct {
	Ledger          ledger.Gateway
	Treasury        Treasury
	Fees            fee.Policy
	Locker          lock.Locker
	LockTTL         time.Duration
	Journal         *reconciliation.Service
	Notifier        notification.Notifier
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	DefaultCurrency string
}

// Service runs the withdrawal state machine.
type Service struct {
	ledger          ledger.Gateway
	treasury        Treasury
	fees            fee.Policy
	locker          lock.Locker
	lockTTL         time.Duration
	journal         *reconciliation.Service
	notifier        notification.Notifier
	metrics         *metrics.Metrics
	logger          *slog.Logger
	defaultCurrency string
}

// NewService validates the dependencies and builds the orchestrator.
func NewService(deps Deps) (*Service, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger gateway is required")
	}
	if deps.Treasury == nil {
		return nil, fmt.Errorf("treasury is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewMemoryLocker()
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = defaultLockTTL
	}
	if deps.DefaultCurrency == "" {
		deps.DefaultCurrency = "BNB"
	}
	return &Service{
		ledger:          deps.Ledger,
		treasury:        deps.Treasury,
		fees:            deps.Fees,
		locker:          deps.Locker,
		lockTTL:         deps.LockTTL,
		journal:         deps.Journal,
		notifier:        deps.Notifier,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		defaultCurrency: strings.ToUpper(deps.DefaultCurrency),
	}, nil
}

// Withdraw processes one request to a terminal state. Errors are returned
// only for outcomes where no funds moved; a payout whose ledger debit failed
// is reported as StateCompletedWithWarning with a nil error.
func (s *Service) Withdraw(ctx context.Context, req Request) (Result, error) {
	res, err := s.withdraw(ctx, req)
	s.metrics.ObserveWithdrawal(outcome(res, err))
	return res, err
}

func (s *Service) withdraw(ctx context.Context, req Request) (Result, error) {
	// Validating
	addr := strings.TrimSpace(req.Address)
	if addr == "" || req.Amount == nil {
		return Result{State: StateValidating}, ErrInvalidRequest
	}
	if !address.IsValid(addr) {
		return Result{State: StateValidating}, ErrInvalidAddress
	}
	gross := units.Normalize(*req.Amount)
	if !gross.IsPositive() {
		return Result{State: StateValidating}, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	addr = strings.ToLower(addr)
	logger := s.logger.With(
		slog.String("user_address", addr),
		slog.String("currency", currency),
		slog.String("gross_amount", gross.String()),
	)

	release, err := s.locker.Acquire(ctx, addr+":"+currency, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			logger.Info("withdrawal.rejected", slog.String("reason", "account_busy"))
			return Result{State: StateAuthorizing, Address: addr, Currency: currency}, ErrAccountBusy
		}
		logger.Error("withdrawal.lock_unavailable", slog.Any("error", err))
		return Result{State: StateAuthorizing, Address: addr, Currency: currency}, fmt.Errorf("%w: account lock: %v", ErrServiceUnavailable, err)
	}
	defer release()

	// Authorizing
	if s.journal != nil {
		pending, err := s.journal.Unsettled(ctx, addr, currency)
		if err != nil {
			logger.Error("withdrawal.journal_unavailable", slog.Any("error", err))
			return Result{State: StateAuthorizing, Address: addr, Currency: currency}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		if len(pending) > 0 {
			logger.Warn("withdrawal.rejected",
				slog.String("reason", "pending_reconciliation"),
				slog.String("event_id", pending[0].ID),
				slog.String("tx_hash", pending[0].TxHash),
			)
			return Result{State: StateAuthorizing, Address: addr, Currency: currency, TxHash: pending[0].TxHash, EventID: pending[0].ID}, ErrPendingReconciliation
		}
	}
	acct, err := s.ledger.ReadAccount(ctx, addr, currency)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			logger.Info("withdrawal.rejected", slog.String("reason", "account_not_found"))
			return Result{State: StateAuthorizing, Address: addr, Currency: currency}, ledger.ErrAccountNotFound
		}
		return Result{State: StateAuthorizing, Address: addr, Currency: currency}, fmt.Errorf("read account: %w", err)
	}
	switch acct.Status {
	case ledger.StatusActive:
	case ledger.StatusBanned:
		logger.Info("withdrawal.rejected", slog.String("reason", "banned"))
		return Result{State: StateAuthorizing, Address: addr, Currency: currency}, ErrBanned
	default:
		logger.Info("withdrawal.rejected", slog.String("reason", "frozen"), slog.String("status", string(acct.Status)))
		return Result{State: StateAuthorizing, Address: addr, Currency: currency}, ErrFrozen
	}
	if acct.Balance.LessThan(gross) {
		logger.Info("withdrawal.rejected", slog.String("reason", "insufficient_balance"), slog.String("balance", acct.Balance.String()))
		return Result{State: StateAuthorizing, Address: addr, Currency: currency}, fmt.Errorf("%w in %s", ErrInsufficientBalance, currency)
	}

	quote := s.fees.Quote(gross, acct.Tier)
	if !quote.Net.IsPositive() {
		return Result{State: StateAuthorizing, Address: addr, Currency: currency}, ErrInvalidAmount
	}
	res := Result{State: StateTransferring, Address: addr, Currency: currency, Quote: quote}

	// Transferring
	transfer, err := s.treasury.Transfer(ctx, addr, quote.Net)
	if err != nil {
		return s.transferFailed(ctx, logger, res, err)
	}
	res.TxHash = transfer.TxHash

	// Reconciling. Funds have left the treasury; the debit must be attempted
	// even if the caller has gone away.
	res.State = StateReconciling
	ledgerCtx := context.WithoutCancel(ctx)
	updated, err := s.ledger.RecordWithdrawal(ledgerCtx, ledger.Withdrawal{
		Address:  addr,
		Currency: currency,
		Gross:    gross,
		Net:      quote.Net,
		TxHash:   transfer.TxHash,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		logger.Error("withdrawal.ledger_divergence",
			slog.String("net_amount", quote.Net.String()),
			slog.String("tx_hash", transfer.TxHash),
			slog.Any("error", err),
		)
		res.State = StateCompletedWithWarning
		res.Warning = LedgerWarning
		res.LedgerError = err.Error()
		if s.journal != nil {
			event := s.journal.Report(ledgerCtx, reconciliation.Event{
				Kind:     reconciliation.KindWithdrawalLedgerFailure,
				Address:  addr,
				Currency: currency,
				Gross:    gross,
				Net:      quote.Net,
				TxHash:   transfer.TxHash,
				Error:    err.Error(),
			})
			res.EventID = event.ID
		}
		return res, nil
	}

	res.State = StateCompleted
	res.NewBalance = updated.NewBalance
	logger.Info("withdrawal.completed",
		slog.String("net_amount", quote.Net.String()),
		slog.String("fee", quote.Fee.String()),
		slog.String("tx_hash", transfer.TxHash),
		slog.String("new_balance", updated.NewBalance.String()),
	)
	return res, nil
}

func (s *Service) transferFailed(ctx context.Context, logger *slog.Logger, res Result, err error) (Result, error) {
	if errors.Is(err, treasury.ErrInsufficientTreasuryFunds) {
		logger.Error("withdrawal.treasury_underfunded", slog.String("net_amount", res.Quote.Net.String()), slog.Any("error", err))
		if s.notifier != nil {
			msg := notification.Message{
				Kind:        notification.KindTreasuryLowFunds,
				Destination: notification.DestinationOperators,
				Body:        err.Error(),
				Fields:      map[string]string{"requested": res.Quote.Net.String(), "currency": res.Currency},
			}
			if nerr := s.notifier.Send(ctx, msg); nerr != nil {
				logger.Warn("withdrawal.notify_failed", slog.Any("error", nerr))
			}
		}
		return res, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	var te *treasury.TransferError
	if errors.As(err, &te) {
		res.TxHash = te.TxHash
		logger.Error("withdrawal.transfer_failed",
			slog.String("reason", string(te.Reason)),
			slog.String("tx_hash", te.TxHash),
			slog.Any("error", err),
		)
		// A timed-out payout may still land: it must be settled by hand and
		// never resent.
		if te.Reason == treasury.ReasonTimeout && s.journal != nil {
			event := s.journal.Report(ctx, reconciliation.Event{
				Kind:     reconciliation.KindTransferUnconfirmed,
				Address:  res.Address,
				Currency: res.Currency,
				Gross:    res.Quote.Gross,
				Net:      res.Quote.Net,
				TxHash:   te.TxHash,
				Error:    err.Error(),
			})
			res.EventID = event.ID
		}
		return res, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	logger.Error("withdrawal.transfer_failed", slog.Any("error", err))
	return res, fmt.Errorf("%w: %w", ErrTransferFailed, err)
}

func outcome(res Result, err error) string {
	switch {
	case err == nil && res.State == StateCompletedWithWarning:
		return "completed_with_warning"
	case err == nil:
		return "completed"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrAccountBusy):
		return "busy"
	case errors.Is(err, ErrPendingReconciliation):
		return "pending_reconciliation"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ErrFrozen), errors.Is(err, ErrBanned),
		errors.Is(err, ErrInsufficientBalance):
		return "rejected"
	default:
		return "error"
	}
}
