package withdrawal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bynomo/bynomo/internal/ledger"
	"github.com/bynomo/bynomo/internal/logging"
	"github.com/bynomo/bynomo/internal/reconciliation"
	"github.com/bynomo/bynomo/internal/treasury"
)

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New()
	app.Post("/withdraw", NewHandler(f.service, logging.Discard()).Withdraw)
	return app
}

func post(t *testing.T, app *fiber.App, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/withdraw", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	payload := map[string]any{}
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &payload))
	} else {
		payload["message"] = string(raw)
	}
	return resp.StatusCode, payload
}

func TestHandlerSuccessShape(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("10.0", ledger.StatusActive)

	status, body := post(t, newTestApp(f), `{"userAddress":"`+userAddr+`","amount":5.0,"currency":"BNB"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["txHash"])
	assert.Equal(t, float64(5), body["newBalance"])
	assert.NotContains(t, body, "warning")
}

func TestHandlerAcceptsStringAmount(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("1", ledger.StatusActive)

	status, _ := post(t, newTestApp(f), `{"userAddress":"`+userAddr+`","amount":"0.5"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "0.49", f.treasury.calls[0].Amount.String())
}

func TestHandlerWarningShape(t *testing.T) {
	f := newFixture(t, failingDebit{Gateway: ledger.NewInMemory(), err: errors.New("db down")})
	f.seed("10", ledger.StatusActive)

	status, body := post(t, newTestApp(f), `{"userAddress":"`+userAddr+`","amount":5}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["txHash"])
	assert.Equal(t, LedgerWarning, body["warning"])
	assert.Equal(t, "db down", body["error"])
	assert.NotContains(t, body, "newBalance")
}

func TestHandlerStatusMapping(t *testing.T) {
	cases := []struct {
		name    string
		status  ledger.Status
		seed    bool
		body    string
		tErr    error
		pending bool
		want    int
		message string
	}{
		{name: "missing fields", body: `{"userAddress":"` + userAddr + `"}`, want: fiber.StatusBadRequest, message: "Missing required fields: userAddress, amount"},
		{name: "invalid body", body: `{`, want: fiber.StatusBadRequest},
		{name: "invalid address", body: `{"userAddress":"0xnope","amount":1}`, want: fiber.StatusBadRequest, message: "Invalid BNB (EVM) wallet address"},
		{name: "non-positive amount", body: `{"userAddress":"` + userAddr + `","amount":0}`, want: fiber.StatusBadRequest},
		{name: "invalid currency", body: `{"userAddress":"` + userAddr + `","amount":1,"currency":"B N B"}`, want: fiber.StatusBadRequest},
		{name: "not found", body: `{"userAddress":"` + userAddr + `","amount":1}`, want: fiber.StatusNotFound, message: "User record not found"},
		{name: "frozen", seed: true, status: ledger.StatusFrozen, body: `{"userAddress":"` + userAddr + `","amount":1}`, want: fiber.StatusForbidden},
		{name: "banned", seed: true, status: ledger.StatusBanned, body: `{"userAddress":"` + userAddr + `","amount":1}`, want: fiber.StatusForbidden, message: "Account is banned."},
		{name: "insufficient balance", seed: true, status: ledger.StatusActive, body: `{"userAddress":"` + userAddr + `","amount":100}`, want: fiber.StatusBadRequest, message: "Insufficient house balance in BNB"},
		{name: "treasury underfunded", seed: true, status: ledger.StatusActive, body: `{"userAddress":"` + userAddr + `","amount":1}`, tErr: treasury.ErrInsufficientTreasuryFunds, want: fiber.StatusServiceUnavailable, message: unavailableMessage},
		{name: "pending reconciliation", seed: true, status: ledger.StatusActive, body: `{"userAddress":"` + userAddr + `","amount":1}`, pending: true, want: fiber.StatusConflict, message: pendingMessage},
		{name: "transfer failed", seed: true, status: ledger.StatusActive, body: `{"userAddress":"` + userAddr + `","amount":1}`, tErr: &treasury.TransferError{Reason: treasury.ReasonNonce, Err: errors.New("nonce too low")}, want: fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tc.seed {
				f.seed("10", tc.status)
			}
			f.treasury.err = tc.tErr
			if tc.pending {
				f.journal.Report(context.Background(), reconciliation.Event{
					Kind:     reconciliation.KindTransferUnconfirmed,
					Address:  strings.ToLower(userAddr),
					Currency: "BNB",
					TxHash:   "0xslow",
				})
			}

			status, body := post(t, newTestApp(f), tc.body)
			assert.Equal(t, tc.want, status)
			if tc.message != "" {
				assert.Equal(t, tc.message, body["message"])
			}
		})
	}
}

func TestHandlerTransferFailureHidesNodeDetail(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("10", ledger.StatusActive)
	f.treasury.err = &treasury.TransferError{Reason: treasury.ReasonTimeout, TxHash: "0xabc", Err: errors.New("rpc: internal node detail")}

	status, body := post(t, newTestApp(f), `{"userAddress":"`+userAddr+`","amount":1}`)
	require.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "Withdrawal failed: transaction was not confirmed in time", body["error"])
	assert.Equal(t, "0xabc", body["txHash"])
}
