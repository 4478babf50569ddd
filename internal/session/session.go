// Package session decides which wallet identity a browser session is bound
// to, given what each wallet provider currently reports.
package session

import (
	"strings"

	"github.com/bynomo/bynomo/internal/address"
)

// DemoAddress is the placeholder identity used by demo accounts. It is
// deliberately not a valid chain address.
const DemoAddress = "0xDEMO_1234567890"

// NetworkBNB is the only network the custody service settles on.
const NetworkBNB = "BNB"

const accountTypeDemo = "demo"

// Action tells the client what to do with its stored identity.
type Action string

const (
	ActionSet   Action = "set"
	ActionKeep  Action = "keep"
	ActionClear Action = "clear"
)

// Source names the provider that supplied the chosen identity.
type Source string

const (
	SourceNone  Source = ""
	SourceDemo  Source = "demo"
	SourceWagmi Source = "wagmi"
	SourcePrivy Source = "privy"
)

// WagmiState is what the injected-wallet connector reports.
type WagmiState struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address"`
}

// PrivyState is what the embedded/social wallet provider reports.
type PrivyState struct {
	Ready         bool     `json:"ready"`
	Authenticated bool     `json:"authenticated"`
	Wallets       []string `json:"wallets"`
}

// Input is a snapshot of every provider plus the stored preference.
type Input struct {
	AccountType      string     `json:"accountType"`
	CurrentAddress   string     `json:"currentAddress"`
	PreferredNetwork string     `json:"preferredNetwork"`
	Wagmi            WagmiState `json:"wagmi"`
	Privy            PrivyState `json:"privy"`
}

// Decision is the single authoritative identity for the session.
type Decision struct {
	Action  Action `json:"action"`
	Address string `json:"address,omitempty"`
	Network string `json:"network,omitempty"`
	Source  Source `json:"source,omitempty"`
}

// Resolve picks the session identity. Demo mode wins outright; otherwise a
// BNB preference binds to the injected wallet first and the embedded wallet
// second. A session with no BNB wallet is cleared unless it prefers some
// other network.
func Resolve(in Input) Decision {
	if strings.EqualFold(in.AccountType, accountTypeDemo) {
		return bind(in.CurrentAddress, DemoAddress, SourceDemo)
	}

	wagmi := wagmiAddress(in.Wagmi)
	privy := privyAddress(in.Privy)
	preferred := strings.ToUpper(strings.TrimSpace(in.PreferredNetwork))

	if preferred == NetworkBNB {
		if wagmi != "" {
			return bind(in.CurrentAddress, wagmi, SourceWagmi)
		}
		if privy != "" {
			return bind(in.CurrentAddress, privy, SourcePrivy)
		}
	}

	hasBNB := wagmi != "" || privy != ""
	if !hasBNB && (preferred == NetworkBNB || preferred == "") {
		return Decision{Action: ActionClear}
	}
	return Decision{Action: ActionKeep, Address: in.CurrentAddress}
}

func bind(current, next string, source Source) Decision {
	action := ActionSet
	if current == next {
		action = ActionKeep
	}
	return Decision{Action: action, Address: next, Network: NetworkBNB, Source: source}
}

func wagmiAddress(s WagmiState) string {
	if s.Connected && address.IsValid(s.Address) {
		return s.Address
	}
	return ""
}

func privyAddress(s PrivyState) string {
	if s.Ready && s.Authenticated && len(s.Wallets) > 0 && address.IsValid(s.Wallets[0]) {
		return s.Wallets[0]
	}
	return ""
}
