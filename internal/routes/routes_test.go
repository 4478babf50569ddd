package routes

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/bynomo/bynomo/internal/config"
	"github.com/bynomo/bynomo/internal/logging"
	"github.com/bynomo/bynomo/internal/metrics"
	"github.com/bynomo/bynomo/internal/middleware"
)

const (
	userAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	depHash  = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"
	adminKey = "operator-key"
)

// instantChain mines every submitted transaction immediately.
type instantChain struct {
	mu        sync.Mutex
	down      bool
	neverMine bool
	sends     int
	receipts  map[common.Hash]*types.Receipt
}

func (c *instantChain) ChainID(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errors.New("dial tcp: connection refused")
	}
	return big.NewInt(97), nil
}

func (c *instantChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)), nil
}

func (c *instantChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}

func (c *instantChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *instantChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.neverMine {
		return nil
	}
	c.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash(), BlockNumber: big.NewInt(1)}
	return nil
}

func (c *instantChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (c *instantChain) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return nil, false, ethereum.NotFound
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash admin key: %v", err)
	}
	return config.Config{
		AppName:             "Bynomo",
		AppEnv:              "test",
		TreasuryKey:         hex.EncodeToString(crypto.FromECDSA(key)),
		GasReserve:          decimal.RequireFromString("0.001"),
		ConfirmTimeout:      time.Second,
		ReceiptPollInterval: 5 * time.Millisecond,
		AccountLockTTL:      time.Minute,
		DefaultCurrency:     "BNB",
		WithdrawRateLimit:   5,
		IdempotencyTTL:      time.Minute,
		AdminKeyHash:        string(hash),
	}
}

func newTestApp(t *testing.T, chain *instantChain) *fiber.App {
	t.Helper()
	return newTestAppWith(t, testConfig(t), nil, chain)
}

func newTestAppWith(t *testing.T, cfg config.Config, cache *redis.Client, chain *instantChain) *fiber.App {
	t.Helper()
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logger)})
	err := Setup(app, Deps{
		Cfg:     cfg,
		Cache:   cache,
		Chain:   chain,
		Metrics: metrics.New(),
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]any, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	payload := map[string]any{}
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, payload, string(raw)
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	app := newTestApp(t, &instantChain{receipts: map[common.Hash]*types.Receipt{}})

	status, body, _ := call(t, app, fiber.MethodPost, "/api/v1/balance/deposit",
		`{"userAddress":"`+userAddr+`","amount":10,"txHash":"`+depHash+`"}`, nil)
	if status != fiber.StatusOK || body["newBalance"] != float64(10) {
		t.Fatalf("deposit: status %d body %v", status, body)
	}

	status, body, _ = call(t, app, fiber.MethodPost, "/api/v1/balance/withdraw",
		`{"userAddress":"`+userAddr+`","amount":5}`, nil)
	if status != fiber.StatusOK || body["success"] != true || body["newBalance"] != float64(5) {
		t.Fatalf("withdraw: status %d body %v", status, body)
	}
	if txHash, _ := body["txHash"].(string); len(txHash) != 66 {
		t.Fatalf("withdraw: unexpected tx hash %v", body["txHash"])
	}

	status, body, _ = call(t, app, fiber.MethodGet, "/api/v1/balance/"+strings.ToLower(userAddr), "", nil)
	if status != fiber.StatusOK || body["balance"] != float64(5) {
		t.Fatalf("balance: status %d body %v", status, body)
	}

	status, _, raw := call(t, app, fiber.MethodGet, "/metrics", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("metrics: status %d", status)
	}
	for _, want := range []string{
		`bynomo_withdrawals_total{outcome="completed"} 1`,
		`bynomo_deposits_total{outcome="completed"} 1`,
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestUnconfirmedWithdrawalIsNeverResent(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	cfg := testConfig(t)
	cfg.ConfirmTimeout = 50 * time.Millisecond
	chain := &instantChain{neverMine: true, receipts: map[common.Hash]*types.Receipt{}}
	app := newTestAppWith(t, cfg, cache, chain)

	status, _, _ := call(t, app, fiber.MethodPost, "/api/v1/balance/deposit",
		`{"userAddress":"`+userAddr+`","amount":10,"txHash":"`+depHash+`"}`, nil)
	if status != fiber.StatusOK {
		t.Fatalf("deposit: status %d", status)
	}

	withdraw := `{"userAddress":"` + userAddr + `","amount":5}`
	key := map[string]string{"Idempotency-Key": "same-key"}

	status, first, _ := call(t, app, fiber.MethodPost, "/api/v1/balance/withdraw", withdraw, key)
	if status != fiber.StatusInternalServerError || first["error"] != "Withdrawal failed: transaction was not confirmed in time" {
		t.Fatalf("first attempt: status %d body %v", status, first)
	}
	status, replay, _ := call(t, app, fiber.MethodPost, "/api/v1/balance/withdraw", withdraw, key)
	if status != fiber.StatusInternalServerError || replay["txHash"] != first["txHash"] {
		t.Fatalf("retry with the same key must replay, got status %d body %v", status, replay)
	}

	status, fresh, _ := call(t, app, fiber.MethodPost, "/api/v1/balance/withdraw", withdraw,
		map[string]string{"Idempotency-Key": "new-key"})
	if status != fiber.StatusConflict {
		t.Fatalf("new request while unconfirmed: expected 409, got %d body %v", status, fresh)
	}

	chain.mu.Lock()
	sends := chain.sends
	chain.mu.Unlock()
	if sends != 1 {
		t.Fatalf("expected exactly one treasury broadcast, got %d", sends)
	}
}

func TestWithdrawErrorShape(t *testing.T) {
	app := newTestApp(t, &instantChain{receipts: map[common.Hash]*types.Receipt{}})

	status, body, _ := call(t, app, fiber.MethodPost, "/api/v1/balance/withdraw",
		`{"userAddress":"0xnope","amount":1}`, nil)
	if status != fiber.StatusBadRequest || body["error"] != "Invalid BNB (EVM) wallet address" {
		t.Fatalf("status %d body %v", status, body)
	}

	status, body, _ = call(t, app, fiber.MethodPost, "/api/v1/balance/withdraw",
		`{"userAddress":"`+userAddr+`","amount":1}`, nil)
	if status != fiber.StatusNotFound || body["error"] != "User record not found" {
		t.Fatalf("status %d body %v", status, body)
	}
}

func TestTreasuryAndSessionRoutes(t *testing.T) {
	app := newTestApp(t, &instantChain{receipts: map[common.Hash]*types.Receipt{}})

	status, body, _ := call(t, app, fiber.MethodGet, "/api/v1/treasury", "", nil)
	if status != fiber.StatusOK || body["balance"] != float64(100) || body["currency"] != "BNB" {
		t.Fatalf("treasury: status %d body %v", status, body)
	}
	if addr, _ := body["address"].(string); !common.IsHexAddress(addr) {
		t.Fatalf("treasury: bad address %v", body["address"])
	}

	status, body, _ = call(t, app, fiber.MethodPost, "/api/v1/session/resolve",
		`{"accountType":"demo"}`, nil)
	if status != fiber.StatusOK || body["action"] != "set" || body["source"] != "demo" {
		t.Fatalf("session: status %d body %v", status, body)
	}
}

func TestAdminRoutesRequireKey(t *testing.T) {
	app := newTestApp(t, &instantChain{receipts: map[common.Hash]*types.Receipt{}})

	status, _, _ := call(t, app, fiber.MethodGet, "/api/v1/admin/reconciliation", "", nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", status)
	}

	status, body, _ := call(t, app, fiber.MethodGet, "/api/v1/admin/reconciliation", "",
		map[string]string{middleware.AdminKeyHeader: adminKey})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	if events, ok := body["events"].([]any); !ok || len(events) != 0 {
		t.Fatalf("expected empty events list, got %v", body)
	}
}

func TestHealthReportsChain(t *testing.T) {
	chain := &instantChain{receipts: map[common.Hash]*types.Receipt{}}
	app := newTestApp(t, chain)

	status, body, _ := call(t, app, fiber.MethodGet, "/healthz", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200 got %d (%v)", status, body)
	}

	chain.mu.Lock()
	chain.down = true
	chain.mu.Unlock()

	status, body, _ = call(t, app, fiber.MethodGet, "/healthz", "", nil)
	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", status)
	}
	checks, _ := body["status"].(map[string]any)
	if checks["postgres"] != "memory" || checks["chain"] == "ok" {
		t.Fatalf("unexpected checks %v", checks)
	}
}

func TestSetupRequiresStoresOutsideDev(t *testing.T) {
	cfg := testConfig(t)
	cfg.AppEnv = "production"
	err := Setup(fiber.New(), Deps{Cfg: cfg, Chain: &instantChain{}, Logger: logging.Discard()})
	if err == nil {
		t.Fatal("expected error without database outside development")
	}
}
