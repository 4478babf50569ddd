package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/bynomo/bynomo/internal/fee"
	"github.com/bynomo/bynomo/internal/ledger"
)

const userAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func seeded(t *testing.T) *Service {
	t.Helper()
	led := ledger.NewInMemory()
	ledger.SeedAccount(led, ledger.Account{
		Address:  userAddr,
		Currency: "BNB",
		Balance:  decimal.RequireFromString("2.5"),
		Tier:     fee.TierVIP,
	})
	return NewService(led, "bnb")
}

func TestServiceBalance(t *testing.T) {
	svc := seeded(t)

	bal, err := svc.Balance(context.Background(), userAddr, "")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Currency != "BNB" {
		t.Fatalf("expected default currency BNB, got %s", bal.Currency)
	}
	if !bal.Account.Balance.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("expected balance 2.5, got %s", bal.Account.Balance)
	}
	if bal.Account.Tier != fee.TierVIP {
		t.Fatalf("expected vip tier, got %s", bal.Account.Tier)
	}
}

func TestServiceBalanceErrors(t *testing.T) {
	svc := seeded(t)
	ctx := context.Background()

	if _, err := svc.Balance(ctx, "0x123", ""); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := svc.Balance(ctx, userAddr, "usdt"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for unknown currency, got %v", err)
	}
}

func TestHandlerBalance(t *testing.T) {
	app := fiber.New()
	app.Get("/balance/:address", NewHandler(seeded(t)).Balance)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/balance/"+userAddr+"?currency=BNB", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["balance"] != 2.5 || body["status"] != "active" || body["tier"] != "vip" {
		t.Fatalf("unexpected body %v", body)
	}

	for path, want := range map[string]int{
		"/balance/nope": fiber.StatusBadRequest,
		"/balance/0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359": fiber.StatusNotFound,
	} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d got %d", path, want, resp.StatusCode)
		}
	}
}
