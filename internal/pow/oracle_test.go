package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

// TestSHA256OracleHash verifies the combined text and the digest encoding.
func TestSHA256OracleHash(t *testing.T) {
	combined, digest := SHA256Oracle{}.Hash("Crefax", uint128.From64(12345))

	assert.Equal(t, "Crefax12345", combined)
	sum := sha256.Sum256([]byte("Crefax12345"))
	assert.Equal(t, hex.EncodeToString(sum[:]), digest)
	assert.Len(t, digest, DigestLen)
}

// TestSHA256OracleWideNumbers verifies decimal rendering above 64 bits.
func TestSHA256OracleWideNumbers(t *testing.T) {
	n := uint128.New(0, 1) // 2^64
	combined, _ := SHA256Oracle{}.Hash("s", n)
	assert.Equal(t, "s18446744073709551616", combined)
}

func TestHasZeroPrefix(t *testing.T) {
	tests := []struct {
		digest string
		zeros  int
		want   bool
	}{
		{"00ab", 2, true},
		{"000b", 2, true},
		{"0a0b", 2, false},
		{"abcd", 0, true},
		{"00", 3, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasZeroPrefix(tt.digest, tt.zeros), "%s/%d", tt.digest, tt.zeros)
	}
}

// TestVerify covers the accepted proof and each rejection reason.
func TestVerify(t *testing.T) {
	o := SHA256Oracle{}
	c := firstQualifying(t, "Crefax", 2)
	combined, digest := o.Hash("Crefax", c)

	require.NoError(t, Verify(o, "Crefax", 2, combined, c, digest))

	err := Verify(o, "Crefax", 2, "Other"+c.String(), c, digest)
	assert.True(t, errors.Is(err, ErrInvalidProof))

	err = Verify(o, "Crefax", 2, combined, c, "00"+digest[2:len(digest)-1]+"x")
	assert.True(t, errors.Is(err, ErrInvalidProof))

	// a genuine digest that lacks the requested prefix
	err = Verify(o, "Crefax", DigestLen, combined, c, digest)
	assert.True(t, errors.Is(err, ErrInvalidProof))
}

// firstQualifying returns the smallest n whose digest has the zero prefix,
// computed independently of the engine.
func firstQualifying(t *testing.T, seed string, zeros int) uint128.Uint128 {
	t.Helper()
	for n := uint64(0); n < 10_000_000; n++ {
		sum := sha256.Sum256([]byte(seed + uint128.From64(n).String()))
		if HasZeroPrefix(hex.EncodeToString(sum[:]), zeros) {
			return uint128.From64(n)
		}
	}
	t.Fatalf("no qualifying candidate for %q/%d", seed, zeros)
	return uint128.Zero
}
