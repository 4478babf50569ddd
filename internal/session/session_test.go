package session

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	injected = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	embedded = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

func TestResolve(t *testing.T) {
	both := Input{
		PreferredNetwork: "BNB",
		Wagmi:            WagmiState{Connected: true, Address: injected},
		Privy:            PrivyState{Ready: true, Authenticated: true, Wallets: []string{embedded}},
	}

	cases := []struct {
		name string
		in   Input
		want Decision
	}{
		{
			name: "demo wins over connected wallets",
			in:   Input{AccountType: "demo", PreferredNetwork: "BNB", Wagmi: both.Wagmi, Privy: both.Privy},
			want: Decision{Action: ActionSet, Address: DemoAddress, Network: NetworkBNB, Source: SourceDemo},
		},
		{
			name: "demo already bound",
			in:   Input{AccountType: "demo", CurrentAddress: DemoAddress},
			want: Decision{Action: ActionKeep, Address: DemoAddress, Network: NetworkBNB, Source: SourceDemo},
		},
		{
			name: "injected wallet before embedded",
			in:   both,
			want: Decision{Action: ActionSet, Address: injected, Network: NetworkBNB, Source: SourceWagmi},
		},
		{
			name: "embedded wallet when injected absent",
			in:   Input{PreferredNetwork: "bnb", Privy: both.Privy},
			want: Decision{Action: ActionSet, Address: embedded, Network: NetworkBNB, Source: SourcePrivy},
		},
		{
			name: "embedded wallet not ready is ignored",
			in:   Input{PreferredNetwork: "BNB", Privy: PrivyState{Authenticated: true, Wallets: []string{embedded}}},
			want: Decision{Action: ActionClear},
		},
		{
			name: "already bound keeps",
			in:   Input{PreferredNetwork: "BNB", CurrentAddress: injected, Wagmi: both.Wagmi},
			want: Decision{Action: ActionKeep, Address: injected, Network: NetworkBNB, Source: SourceWagmi},
		},
		{
			name: "no preference and no wallet clears",
			in:   Input{CurrentAddress: injected},
			want: Decision{Action: ActionClear},
		},
		{
			name: "no preference with wallet keeps current",
			in:   Input{CurrentAddress: injected, Wagmi: both.Wagmi},
			want: Decision{Action: ActionKeep, Address: injected},
		},
		{
			name: "other network preference keeps current",
			in:   Input{PreferredNetwork: "SOL", CurrentAddress: "abc"},
			want: Decision{Action: ActionKeep, Address: "abc"},
		},
		{
			name: "malformed injected address is ignored",
			in:   Input{PreferredNetwork: "BNB", Wagmi: WagmiState{Connected: true, Address: "0x123"}},
			want: Decision{Action: ActionClear},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Resolve(tc.in))
		})
	}
}

func TestResolveHandler(t *testing.T) {
	app := fiber.New()
	app.Post("/session/resolve", ResolveHandler)

	req := httptest.NewRequest(fiber.MethodPost, "/session/resolve", strings.NewReader(`{"preferredNetwork":"BNB","wagmi":{"connected":true,"address":"`+injected+`"}}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var got Decision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, Decision{Action: ActionSet, Address: injected, Network: NetworkBNB, Source: SourceWagmi}, got)
}
