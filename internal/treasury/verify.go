package treasury

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/bynomo/bynomo/internal/units"
)

// ErrDepositUnverified means the referenced transaction does not prove the
// claimed deposit. Chain lookups that fail for transport reasons are returned
// unwrapped so callers can tell the two apart.
var ErrDepositUnverified = errors.New("deposit could not be verified on chain")

// Incoming is a verified user-to-treasury transfer.
type Incoming struct {
	TxHash      string
	From        string
	Value       decimal.Decimal
	BlockNumber uint64
}

// VerifyDeposit checks that txHash is a mined, successful transfer from the
// given sender to the treasury carrying at least amount.
func (s *Signer) VerifyDeposit(ctx context.Context, txHash, from string, amount decimal.Decimal) (Incoming, error) {
	hashHex := strings.TrimSpace(txHash)
	if len(hashHex) != 66 || !strings.HasPrefix(strings.ToLower(hashHex), "0x") {
		return Incoming{}, fmt.Errorf("%w: malformed transaction hash", ErrDepositUnverified)
	}
	hash := common.HexToHash(hashHex)

	tx, pending, err := s.backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Incoming{}, fmt.Errorf("%w: transaction %s not found", ErrDepositUnverified, hash.Hex())
		}
		return Incoming{}, fmt.Errorf("lookup transaction: %w", err)
	}
	if pending {
		return Incoming{}, fmt.Errorf("%w: transaction %s is still pending", ErrDepositUnverified, hash.Hex())
	}

	receipt, err := s.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Incoming{}, fmt.Errorf("%w: receipt for %s not found", ErrDepositUnverified, hash.Hex())
		}
		return Incoming{}, fmt.Errorf("lookup receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Incoming{}, fmt.Errorf("%w: transaction %s reverted", ErrDepositUnverified, hash.Hex())
	}

	if tx.To() == nil || *tx.To() != s.from {
		return Incoming{}, fmt.Errorf("%w: recipient is not the treasury", ErrDepositUnverified)
	}

	sender, err := types.Sender(s.txSigner, tx)
	if err != nil {
		return Incoming{}, fmt.Errorf("%w: recover sender: %v", ErrDepositUnverified, err)
	}
	if !strings.EqualFold(sender.Hex(), from) {
		return Incoming{}, fmt.Errorf("%w: sender %s does not match %s", ErrDepositUnverified, sender.Hex(), from)
	}

	want, err := units.ToWei(amount)
	if err != nil {
		return Incoming{}, fmt.Errorf("%w: %v", ErrDepositUnverified, err)
	}
	if tx.Value().Cmp(want) < 0 {
		return Incoming{}, fmt.Errorf("%w: transferred %s is less than claimed %s",
			ErrDepositUnverified, units.FromWei(tx.Value()), units.Normalize(amount))
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return Incoming{
		TxHash:      hash.Hex(),
		From:        sender.Hex(),
		Value:       units.FromWei(tx.Value()),
		BlockNumber: block,
	}, nil
}
