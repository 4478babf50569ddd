// Package treasury holds the custodial hot-wallet key and moves native coin
// out of the treasury on behalf of withdrawals.
package treasury

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"

	"github.com/bynomo/bynomo/internal/address"
	"github.com/bynomo/bynomo/internal/units"
)

const (
	defaultConfirmTimeout = 2 * time.Minute
	defaultPollInterval   = 2 * time.Second
)

// Backend is the subset of the JSON-RPC client the signer needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// Options tunes the signer. Zero values fall back to defaults.
type Options struct {
	// GasReserve is a fixed buffer kept on top of every transfer amount when
	// checking treasury sufficiency. It is not a gas estimate.
	GasReserve     decimal.Decimal
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// ExpectedChainID, when non-zero, must match the node's chain id.
	ExpectedChainID int64
	// OnBalance observes every treasury balance read.
	OnBalance func(decimal.Decimal)
}

// Transfer is the result of a confirmed treasury payout.
type Transfer struct {
	TxHash      string
	Amount      decimal.Decimal
	BlockNumber uint64
	Confirmed   bool
}

// Signer is the sole holder of the treasury key. Submissions are serialized
// so that nonce allocation never races; confirmation waits run concurrently.
type Signer struct {
	backend    Backend
	key        *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int
	txSigner   types.Signer
	gasReserve *big.Int
	opts       Options
	logger     *slog.Logger

	mu        sync.Mutex
	nonce     uint64
	haveNonce bool
	inflight  *big.Int
}

// NewSigner parses the hex private key, resolves the chain id and returns a
// ready signer.
func NewSigner(ctx context.Context, backend Backend, hexKey string, opts Options, logger *slog.Logger) (*Signer, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain backend is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid treasury key: %w", err)
	}
	gasReserve, err := units.ToWei(opts.GasReserve)
	if err != nil {
		return nil, fmt.Errorf("invalid gas reserve: %w", err)
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if opts.ExpectedChainID != 0 && chainID.Int64() != opts.ExpectedChainID {
		return nil, fmt.Errorf("chain id mismatch: node reports %s, configured %d", chainID, opts.ExpectedChainID)
	}

	return &Signer{
		backend:    backend,
		key:        key,
		from:       crypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
		txSigner:   types.LatestSignerForChainID(chainID),
		gasReserve: gasReserve,
		opts:       opts,
		logger:     logger,
		inflight:   new(big.Int),
	}, nil
}

// Address returns the treasury account address.
func (s *Signer) Address() common.Address {
	return s.from
}

// ChainID returns the chain id transactions are signed for.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Balance returns the treasury's latest on-chain balance.
func (s *Signer) Balance(ctx context.Context) (decimal.Decimal, error) {
	wei, err := s.backend.BalanceAt(ctx, s.from, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("treasury balance: %w", err)
	}
	bal := units.FromWei(wei)
	if s.opts.OnBalance != nil {
		s.opts.OnBalance(bal)
	}
	return bal, nil
}

// Transfer sends amount to the recipient and blocks until the transaction is
// mined with a successful receipt or the confirmation timeout elapses.
//
// It returns ErrInsufficientTreasuryFunds (wrapped) when the treasury cannot
// cover amount plus the gas reserve, and *TransferError for every other
// failure. Once a transaction is submitted, cancelling ctx does not abort the
// confirmation wait.
func (s *Signer) Transfer(ctx context.Context, to string, amount decimal.Decimal) (Transfer, error) {
	if !address.IsValid(to) {
		return Transfer{}, &TransferError{Reason: ReasonInvalidRequest, Err: fmt.Errorf("invalid recipient %q", to)}
	}
	amount = units.Normalize(amount)
	wei, err := units.ToWei(amount)
	if err != nil || wei.Sign() <= 0 {
		return Transfer{}, &TransferError{Reason: ReasonInvalidRequest, Err: fmt.Errorf("invalid amount %s", amount)}
	}
	recipient := common.HexToAddress(to)

	signed, reserved, err := s.submit(ctx, recipient, wei)
	if err != nil {
		return Transfer{}, err
	}
	defer s.release(reserved)

	hash := signed.Hash().Hex()
	s.logger.Info("treasury.transfer submitted",
		slog.String("tx_hash", hash),
		slog.String("to", recipient.Hex()),
		slog.String("amount", amount.String()),
		slog.Uint64("nonce", signed.Nonce()),
	)

	receipt, err := s.waitMined(context.WithoutCancel(ctx), signed.Hash())
	if err != nil {
		return Transfer{}, &TransferError{Reason: ReasonTimeout, TxHash: hash, Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Transfer{}, &TransferError{Reason: ReasonReverted, TxHash: hash, Err: fmt.Errorf("receipt status %d in block %s", receipt.Status, receipt.BlockNumber)}
	}

	s.logger.Info("treasury.transfer confirmed",
		slog.String("tx_hash", hash),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)

	return Transfer{
		TxHash:      hash,
		Amount:      amount,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Confirmed:   true,
	}, nil
}

// submit checks sufficiency, signs and broadcasts under the signer lock. The
// returned reservation stays counted against the balance until released.
func (s *Signer) submit(ctx context.Context, to common.Address, wei *big.Int) (*types.Transaction, *big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balanceWei, err := s.backend.BalanceAt(ctx, s.from, nil)
	if err != nil {
		return nil, nil, &TransferError{Reason: ReasonRPC, Err: fmt.Errorf("treasury balance: %w", err)}
	}
	if s.opts.OnBalance != nil {
		s.opts.OnBalance(units.FromWei(balanceWei))
	}

	required := new(big.Int).Add(wei, s.gasReserve)
	available := new(big.Int).Sub(balanceWei, s.inflight)
	if available.Cmp(required) < 0 {
		s.logger.Error("treasury.insufficient_funds",
			slog.String("treasury", s.from.Hex()),
			slog.String("balance", units.FromWei(balanceWei).String()),
			slog.String("in_flight", units.FromWei(s.inflight).String()),
			slog.String("required", units.FromWei(required).String()),
		)
		return nil, nil, fmt.Errorf("%w: balance %s, required %s including gas reserve",
			ErrInsufficientTreasuryFunds, units.FromWei(available), units.FromWei(required))
	}

	if !s.haveNonce {
		nonce, err := s.backend.PendingNonceAt(ctx, s.from)
		if err != nil {
			return nil, nil, &TransferError{Reason: ReasonRPC, Err: fmt.Errorf("pending nonce: %w", err)}
		}
		s.nonce, s.haveNonce = nonce, true
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, &TransferError{Reason: ReasonRPC, Err: fmt.Errorf("suggest gas price: %w", err)}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    s.nonce,
		To:       &to,
		Value:    wei,
		Gas:      params.TxGas,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, s.txSigner, s.key)
	if err != nil {
		return nil, nil, &TransferError{Reason: ReasonSubmit, Err: fmt.Errorf("sign: %w", err)}
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		// Resync from the node on the next submission.
		s.haveNonce = false
		return nil, nil, classifySendError(err)
	}

	s.nonce++
	s.inflight.Add(s.inflight, required)
	return signed, required, nil
}

func (s *Signer) release(reserved *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight.Sub(s.inflight, reserved)
	if s.inflight.Sign() < 0 {
		s.inflight.SetInt64(0)
	}
}

// waitMined polls for the receipt until it appears or the confirmation
// timeout elapses.
func (s *Signer) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.logger.Warn("treasury.receipt_lookup_failed", slog.String("tx_hash", hash.Hex()), slog.Any("error", err))
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("no receipt after %s: %w", s.opts.ConfirmTimeout, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %v", ErrInsufficientTreasuryFunds, err)
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return &TransferError{Reason: ReasonNonce, Err: err}
	default:
		return &TransferError{Reason: ReasonSubmit, Err: err}
	}
}
