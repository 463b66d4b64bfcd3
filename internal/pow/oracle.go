package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"lukechampine.com/uint128"
)

// DigestLen is the length of a hex encoded SHA-256 digest.
const DigestLen = sha256.Size * 2

// ErrInvalidProof is returned by Verify when a reported result does not hold.
var ErrInvalidProof = errors.New("invalid proof of work")

// Oracle turns a seed and a candidate number into the combined text and its
// hex digest. Implementations must be deterministic and safe for concurrent use.
type Oracle interface {
	Hash(seed string, n uint128.Uint128) (combined, digest string)
}

// SHA256Oracle hashes seed ++ decimal(n) with SHA-256.
type SHA256Oracle struct{}

// Hash implements Oracle.
func (SHA256Oracle) Hash(seed string, n uint128.Uint128) (string, string) {
	combined := seed + n.String()
	sum := sha256.Sum256([]byte(combined))
	return combined, hex.EncodeToString(sum[:])
}

// HasZeroPrefix reports whether digest starts with at least zeros '0' characters.
func HasZeroPrefix(digest string, zeros int) bool {
	if zeros > len(digest) {
		return false
	}
	for i := 0; i < zeros; i++ {
		if digest[i] != '0' {
			return false
		}
	}
	return true
}

// Verify recomputes the digest for number and checks it against a reported
// result. The returned error wraps ErrInvalidProof.
func Verify(o Oracle, seed string, zeros int, combined string, number uint128.Uint128, digest string) error {
	wantCombined, wantDigest := o.Hash(seed, number)
	switch {
	case combined != wantCombined:
		return fmt.Errorf("%w: combined %q does not match %q", ErrInvalidProof, combined, wantCombined)
	case digest != wantDigest:
		return fmt.Errorf("%w: digest mismatch for %s", ErrInvalidProof, number)
	case !HasZeroPrefix(digest, zeros):
		return fmt.Errorf("%w: digest %s lacks %d leading zeros", ErrInvalidProof, digest, zeros)
	}
	return nil
}
