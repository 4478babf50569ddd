package treasury

import (
	"errors"
	"fmt"
)

// ErrInsufficientTreasuryFunds indicates the treasury cannot cover a transfer
// plus the gas reserve. Nothing was submitted; it is an operational funding
// problem, not a user error.
var ErrInsufficientTreasuryFunds = errors.New("treasury has insufficient funds")

// Reason classifies a failed transfer.
type Reason string

const (
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonRPC            Reason = "rpc_error"
	ReasonNonce          Reason = "nonce_conflict"
	ReasonSubmit         Reason = "submit_failed"
	ReasonReverted       Reason = "reverted"
	ReasonTimeout        Reason = "confirmation_timeout"
)

// TransferError reports any chain-level transfer failure other than
// insufficient treasury funds.
type TransferError struct {
	Reason Reason
	// TxHash is set when the transaction reached the network before failing.
	TxHash string
	Err    error
}

func (e *TransferError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("treasury transfer %s (tx %s): %v", e.Reason, e.TxHash, e.Err)
	}
	return fmt.Sprintf("treasury transfer %s: %v", e.Reason, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Submitted reports whether the transaction was broadcast. A submitted
// transfer that failed to confirm may still land and must be reconciled by
// an operator, never resent.
func (e *TransferError) Submitted() bool {
	return e.TxHash != ""
}
