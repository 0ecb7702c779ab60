package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLen is the length of an address: a hex public key, or a derived ID
// such as an auction escrow account. Both are 32 bytes.
const AddressLen = 2 * sha256.Size

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// DeriveID hashes parts joined by ":". Object IDs (auctions, tokens) are
// derived this way from the ID of the transaction that created them.
func DeriveID(parts ...string) string {
	return Hash([]byte(strings.Join(parts, ":")))
}

// ValidateAddress checks that s is a well-formed lowercase hex address.
func ValidateAddress(s string) error {
	if len(s) != AddressLen {
		return fmt.Errorf("address %q must be %d hex chars", s, AddressLen)
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("address %q is not lowercase hex", s)
		}
	}
	return nil
}
