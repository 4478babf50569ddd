// Package address validates externally supplied EVM account identifiers.
package address

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsValid reports whether candidate is a 20-byte hex encoded EVM address with
// a 0x prefix. Casing is not checked; see HasValidChecksum.
func IsValid(candidate string) bool {
	if candidate == "" || candidate != strings.TrimSpace(candidate) {
		return false
	}
	if !strings.HasPrefix(candidate, "0x") && !strings.HasPrefix(candidate, "0X") {
		return false
	}
	return common.IsHexAddress(candidate)
}

// HasValidChecksum reports whether a mixed-case address carries a correct
// EIP-55 checksum. All-lowercase and all-uppercase addresses carry no
// checksum and are reported as valid. The result is advisory only.
func HasValidChecksum(candidate string) bool {
	if !IsValid(candidate) {
		return false
	}
	body := candidate[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(candidate).Hex() == "0x"+body
}

// Normalize returns the canonical checksummed form of a valid address, used
// when echoing addresses back in logs and responses.
func Normalize(candidate string) string {
	return common.HexToAddress(candidate).Hex()
}
