package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func TestIsValid(t *testing.T) {
	valid := []string{
		checksummed,
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED",
		"0X5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
	}
	for _, v := range valid {
		assert.True(t, IsValid(v), v)
	}

	invalid := []string{
		"",
		"0x",
		"5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaedaa",
		"0xZZaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		" 0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"EQD4FPq-PRDieyQKkizFTRtSDyucUIqrj0v_zXJmqaDp6_0t",
	}
	for _, v := range invalid {
		assert.False(t, IsValid(v), v)
	}
}

func TestHasValidChecksum(t *testing.T) {
	assert.True(t, HasValidChecksum(checksummed))
	assert.True(t, HasValidChecksum("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.False(t, HasValidChecksum("0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.False(t, HasValidChecksum("not-an-address"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, checksummed, Normalize("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
}
