// Package deposit credits the ledger for user-to-treasury transfers that the
// client signed and submitted itself.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/bynomo/bynomo/internal/address"
	"github.com/bynomo/bynomo/internal/ledger"
	"github.com/bynomo/bynomo/internal/metrics"
	"github.com/bynomo/bynomo/internal/reconciliation"
	"github.com/bynomo/bynomo/internal/treasury"
	"github.com/bynomo/bynomo/internal/units"
)

var (
	ErrInvalidRequest     = errors.New("missing required fields: userAddress, amount, txHash")
	ErrInvalidAddress     = errors.New("invalid BNB (EVM) wallet address")
	ErrInvalidAmount      = errors.New("deposit amount must be greater than zero")
	ErrInvalidTxHash      = errors.New("invalid transaction hash")
	ErrUnverified         = errors.New("deposit could not be verified on chain")
	ErrServiceUnavailable = errors.New("deposit verification temporarily unavailable")
	ErrNotRecorded        = errors.New("deposit could not be recorded")
)

// Verifier proves a deposit against chain state.
type Verifier interface {
	VerifyDeposit(ctx context.Context, txHash, from string, amount decimal.Decimal) (treasury.Incoming, error)
}

// Request is one inbound deposit notification.
type Request struct {
	Address  string
	Amount   *decimal.Decimal
	Currency string
	TxHash   string
}

// Result is the outcome of a credited deposit.
type Result struct {
	TxHash     string
	Address    string
	Currency   string
	Amount     decimal.Decimal
	NewBalance decimal.Decimal
	// Duplicate is set when the hash was already credited; nothing changed.
	Duplicate bool
	EventID   string
}

// Deps wires the collaborators. Verifier nil disables on-chain checks.
type Deps struct {
	Ledger          ledger.Gateway
	Verifier        Verifier
	Journal         *reconciliation.Service
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	DefaultCurrency string
}

// Service records deposits.
type Service struct {
	ledger          ledger.Gateway
	verifier        Verifier
	journal         *reconciliation.Service
	metrics         *metrics.Metrics
	logger          *slog.Logger
	defaultCurrency string
}

// NewService builds the deposit orchestrator.
func NewService(deps Deps) (*Service, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger gateway is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.DefaultCurrency == "" {
		deps.DefaultCurrency = "BNB"
	}
	return &Service{
		ledger:          deps.Ledger,
		verifier:        deps.Verifier,
		journal:         deps.Journal,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		defaultCurrency: strings.ToUpper(deps.DefaultCurrency),
	}, nil
}

// Deposit validates, optionally verifies on chain, and credits the ledger.
// Crediting is idempotent per transaction hash.
func (s *Service) Deposit(ctx context.Context, req Request) (Result, error) {
	res, err := s.deposit(ctx, req)
	s.metrics.ObserveDeposit(outcome(res, err))
	return res, err
}

func (s *Service) deposit(ctx context.Context, req Request) (Result, error) {
	addr := strings.TrimSpace(req.Address)
	txHash := strings.TrimSpace(req.TxHash)
	if addr == "" || req.Amount == nil || txHash == "" {
		return Result{}, ErrInvalidRequest
	}
	if !address.IsValid(addr) {
		return Result{}, ErrInvalidAddress
	}
	amount := units.Normalize(*req.Amount)
	if !amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	if raw, err := hexutil.Decode(txHash); err != nil || len(raw) != 32 {
		return Result{}, ErrInvalidTxHash
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	addr = strings.ToLower(addr)
	txHash = strings.ToLower(txHash)
	res := Result{TxHash: txHash, Address: addr, Currency: currency, Amount: amount}

	logger := s.logger.With(
		slog.String("user_address", addr),
		slog.String("currency", currency),
		slog.String("amount", amount.String()),
		slog.String("tx_hash", txHash),
	)

	if s.verifier != nil {
		if _, err := s.verifier.VerifyDeposit(ctx, txHash, addr, amount); err != nil {
			if errors.Is(err, treasury.ErrDepositUnverified) {
				logger.Warn("deposit.rejected", slog.String("reason", "unverified"), slog.Any("error", err))
				return res, fmt.Errorf("%w: %w", ErrUnverified, err)
			}
			logger.Error("deposit.verification_unavailable", slog.Any("error", err))
			return res, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
	}

	// The coins are already in the treasury; record even if the caller left.
	ledgerCtx := context.WithoutCancel(ctx)
	updated, err := s.ledger.RecordDeposit(ledgerCtx, ledger.Deposit{
		Address:  addr,
		Currency: currency,
		Amount:   amount,
		TxHash:   txHash,
	})
	switch {
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		res.Duplicate = true
		res.NewBalance = updated.NewBalance
		logger.Info("deposit.duplicate")
		return res, nil
	case err != nil:
		logger.Error("deposit.ledger_divergence", slog.Any("error", err))
		if s.journal != nil {
			event := s.journal.Report(ledgerCtx, reconciliation.Event{
				Kind:     reconciliation.KindDepositLedgerFailure,
				Address:  addr,
				Currency: currency,
				Gross:    amount,
				Net:      amount,
				TxHash:   txHash,
				Error:    err.Error(),
			})
			res.EventID = event.ID
		}
		return res, fmt.Errorf("%w: %w", ErrNotRecorded, err)
	}

	res.NewBalance = updated.NewBalance
	logger.Info("deposit.completed", slog.String("new_balance", updated.NewBalance.String()))
	return res, nil
}

func outcome(res Result, err error) string {
	switch {
	case err == nil && res.Duplicate:
		return "duplicate"
	case err == nil:
		return "completed"
	case errors.Is(err, ErrUnverified):
		return "unverified"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrNotRecorded):
		return "not_recorded"
	default:
		return "rejected"
	}
}
