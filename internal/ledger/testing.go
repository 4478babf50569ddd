package ledger

import (
	"strings"
	"time"

	"github.com/bynomo/bynomo/internal/fee"
)

// SeedAccount is a test helper that creates or replaces an account when using
// the in-memory ledger. Empty status and tier default to active and free.
func SeedAccount(g Gateway, acct Account) {
	mem, ok := g.(*memoryGateway)
	if !ok {
		return
	}
	if acct.Status == "" {
		acct.Status = StatusActive
	}
	if acct.Tier == "" {
		acct.Tier = fee.TierFree
	}
	acct.Currency = strings.ToUpper(acct.Currency)
	acct.UpdatedAt = time.Now().UTC()

	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.accounts[accountKey(acct.Address, acct.Currency)] = acct
}
