package deposit

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bynomo/bynomo/internal/ledger"
	"github.com/bynomo/bynomo/internal/logging"
	"github.com/bynomo/bynomo/internal/reconciliation"
	"github.com/bynomo/bynomo/internal/treasury"
)

const (
	userAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	txHash   = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"
)

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type stubVerifier struct {
	err   error
	calls int
}

func (v *stubVerifier) VerifyDeposit(_ context.Context, hash, from string, amt decimal.Decimal) (treasury.Incoming, error) {
	v.calls++
	if v.err != nil {
		return treasury.Incoming{}, v.err
	}
	return treasury.Incoming{TxHash: hash, From: from, Value: amt}, nil
}

type failingCredit struct {
	ledger.Gateway
}

func (failingCredit) RecordDeposit(context.Context, ledger.Deposit) (ledger.UpdateResult, error) {
	return ledger.UpdateResult{}, errors.New("db down")
}

func newService(t *testing.T, gateway ledger.Gateway, verifier Verifier) (*Service, *reconciliation.Service) {
	t.Helper()
	journal := reconciliation.NewService(reconciliation.NewInMemory(), nil, nil, logging.Discard())
	deps := Deps{Ledger: gateway, Journal: journal, Logger: logging.Discard()}
	if verifier != nil {
		deps.Verifier = verifier
	}
	svc, err := NewService(deps)
	require.NoError(t, err)
	return svc, journal
}

func TestDepositCreditsAndIsIdempotent(t *testing.T) {
	gateway := ledger.NewInMemory()
	verifier := &stubVerifier{}
	svc, _ := newService(t, gateway, verifier)
	ctx := context.Background()

	res, err := svc.Deposit(ctx, Request{Address: userAddr, Amount: amount("1.5"), TxHash: txHash})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "1.5", res.NewBalance.String())
	assert.Equal(t, 1, verifier.calls)

	res, err = svc.Deposit(ctx, Request{Address: userAddr, Amount: amount("1.5"), TxHash: strings.ToUpper("0x" + txHash[2:])})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "1.5", res.NewBalance.String())

	acct, err := gateway.ReadAccount(ctx, userAddr, "BNB")
	require.NoError(t, err)
	assert.Equal(t, "1.5", acct.Balance.String())
	assert.Equal(t, ledger.StatusActive, acct.Status)
}

func TestDepositValidation(t *testing.T) {
	svc, _ := newService(t, ledger.NewInMemory(), nil)
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"missing hash", Request{Address: userAddr, Amount: amount("1")}, ErrInvalidRequest},
		{"missing amount", Request{Address: userAddr, TxHash: txHash}, ErrInvalidRequest},
		{"bad address", Request{Address: "nope", Amount: amount("1"), TxHash: txHash}, ErrInvalidAddress},
		{"zero amount", Request{Address: userAddr, Amount: amount("0"), TxHash: txHash}, ErrInvalidAmount},
		{"short hash", Request{Address: userAddr, Amount: amount("1"), TxHash: "0xabc"}, ErrInvalidTxHash},
		{"non-hex hash", Request{Address: userAddr, Amount: amount("1"), TxHash: "0x" + strings.Repeat("z", 64)}, ErrInvalidTxHash},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Deposit(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDepositVerificationFailures(t *testing.T) {
	gateway := ledger.NewInMemory()

	svc, _ := newService(t, gateway, &stubVerifier{err: treasury.ErrDepositUnverified})
	_, err := svc.Deposit(context.Background(), Request{Address: userAddr, Amount: amount("1"), TxHash: txHash})
	assert.ErrorIs(t, err, ErrUnverified)

	svc, _ = newService(t, gateway, &stubVerifier{err: errors.New("dial tcp: connection refused")})
	_, err = svc.Deposit(context.Background(), Request{Address: userAddr, Amount: amount("1"), TxHash: txHash})
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	_, err = gateway.ReadAccount(context.Background(), userAddr, "BNB")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound, "unverified deposits must not create accounts")
}

func TestDepositLedgerFailureIsJournaled(t *testing.T) {
	svc, journal := newService(t, failingCredit{Gateway: ledger.NewInMemory()}, nil)

	res, err := svc.Deposit(context.Background(), Request{Address: userAddr, Amount: amount("2"), TxHash: txHash})
	require.ErrorIs(t, err, ErrNotRecorded)

	events, err := journal.List(context.Background(), reconciliation.StatusOpen)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, reconciliation.KindDepositLedgerFailure, events[0].Kind)
	assert.Equal(t, txHash, events[0].TxHash)
	assert.Equal(t, events[0].ID, res.EventID)
}

func TestDepositHandler(t *testing.T) {
	svc, _ := newService(t, ledger.NewInMemory(), nil)
	app := fiber.New()
	app.Post("/deposit", NewHandler(svc, logging.Discard()).Deposit)

	send := func(body string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/deposit", strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, send(`{"userAddress":"`+userAddr+`","amount":0.25,"txHash":"`+txHash+`"}`))
	assert.Equal(t, fiber.StatusOK, send(`{"userAddress":"`+userAddr+`","amount":0.25,"txHash":"`+txHash+`"}`))
	assert.Equal(t, fiber.StatusBadRequest, send(`{"userAddress":"`+userAddr+`","amount":0.25}`))
	assert.Equal(t, fiber.StatusBadRequest, send(`{"userAddress":"`+userAddr+`","amount":-1,"txHash":"`+txHash+`"}`))
	assert.Equal(t, fiber.StatusBadRequest, send(`{"userAddress":"`+userAddr+`","amount":1,"txHash":"0x12"}`))
}
