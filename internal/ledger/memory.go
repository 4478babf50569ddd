package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bynomo/bynomo/internal/fee"
)

type memoryGateway struct {
	mu       sync.RWMutex
	accounts map[string]Account
	records  map[string]UpdateResult
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for tests and
// local development.
func NewInMemory() Gateway {
	return &memoryGateway{
		accounts: make(map[string]Account),
		records:  make(map[string]UpdateResult),
	}
}

func accountKey(address, currency string) string {
	return strings.ToLower(address) + ":" + strings.ToUpper(currency)
}

func recordKey(kind, txHash string) string {
	return kind + ":" + strings.ToLower(txHash)
}

func (g *memoryGateway) ReadAccount(_ context.Context, address, currency string) (Account, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	acct, ok := g.accounts[accountKey(address, currency)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (g *memoryGateway) RecordWithdrawal(_ context.Context, w Withdrawal) (UpdateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rk := recordKey(kindWithdrawal, w.TxHash)
	if res, exists := g.records[rk]; exists {
		return res, ErrDuplicateTransaction
	}

	key := accountKey(w.Address, w.Currency)
	acct, ok := g.accounts[key]
	if !ok {
		return UpdateResult{}, ErrAccountNotFound
	}
	if acct.Balance.LessThan(w.Gross) {
		return UpdateResult{}, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	acct.Balance = acct.Balance.Sub(w.Gross)
	acct.UpdatedAt = now
	g.accounts[key] = acct

	res := UpdateResult{TxHash: w.TxHash, NewBalance: acct.Balance, RecordedAt: now}
	g.records[rk] = res
	return res, nil
}

func (g *memoryGateway) RecordDeposit(_ context.Context, d Deposit) (UpdateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rk := recordKey(kindDeposit, d.TxHash)
	if res, exists := g.records[rk]; exists {
		return res, ErrDuplicateTransaction
	}

	now := time.Now().UTC()
	key := accountKey(d.Address, d.Currency)
	acct, ok := g.accounts[key]
	if !ok {
		acct = Account{Address: d.Address, Currency: strings.ToUpper(d.Currency), Status: StatusActive, Tier: fee.TierFree}
	}
	acct.Balance = acct.Balance.Add(d.Amount)
	acct.UpdatedAt = now
	g.accounts[key] = acct

	res := UpdateResult{TxHash: d.TxHash, NewBalance: acct.Balance, RecordedAt: now}
	g.records[rk] = res
	return res, nil
}
