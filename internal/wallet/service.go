package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bynomo/bynomo/internal/address"
	"github.com/bynomo/bynomo/internal/ledger"
)

// ErrInvalidAddress is returned for strings that are not EVM addresses.
var ErrInvalidAddress = errors.New("invalid wallet address")

// Balance is a read-only view of a user's house balance.
type Balance struct {
	Address   string
	Currency  string
	Account   ledger.Account
	FetchedAt time.Time
}

// Service exposes balance lookups backed by the ledger.
type Service struct {
	ledger          ledger.Gateway
	defaultCurrency string
}

// NewService builds a wallet service instance.
func NewService(gateway ledger.Gateway, defaultCurrency string) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "BNB"
	}
	return &Service{ledger: gateway, defaultCurrency: strings.ToUpper(defaultCurrency)}
}

// Balance returns the ledger account for the wallet in the given currency.
func (s *Service) Balance(ctx context.Context, addr, currency string) (Balance, error) {
	addr = strings.TrimSpace(addr)
	if !address.IsValid(addr) {
		return Balance{}, ErrInvalidAddress
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	acct, err := s.ledger.ReadAccount(ctx, strings.ToLower(addr), currency)
	if err != nil {
		return Balance{Address: addr, Currency: currency}, err
	}
	return Balance{Address: addr, Currency: currency, Account: acct, FetchedAt: time.Now().UTC()}, nil
}
