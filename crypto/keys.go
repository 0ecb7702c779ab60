// Package crypto holds the ed25519 keys that identify chain participants and
// the SHA-256 helpers used for every hash on the chain.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrBadSignature is returned when a signature does not match its data.
var ErrBadSignature = errors.New("signature verification failed")

// PrivateKey is an ed25519 private key.
type PrivateKey []byte

// PublicKey is an ed25519 public key. Its hex form is the account address.
type PublicKey []byte

// GenerateKeyPair generates a new ed25519 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

func (pub PublicKey) Hex() string   { return hex.EncodeToString(pub) }
func (priv PrivateKey) Hex() string { return hex.EncodeToString(priv) }

// Public derives the public key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// Sign returns the hex-encoded signature of data.
func (priv PrivateKey) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), data))
}

// Verify checks a hex-encoded signature of data.
func (pub PublicKey) Verify(data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return ErrBadSignature
	}
	return nil
}

// PubKeyFromHex decodes an address back into a public key.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := decodeSized(s, ed25519.PublicKeySize, "pubkey")
	return PublicKey(b), err
}

// PrivKeyFromHex decodes a hex-encoded private key.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := decodeSized(s, ed25519.PrivateKeySize, "privkey")
	return PrivateKey(b), err
}

func decodeSized(s string, size int, what string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s hex: %w", what, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", what, size, len(b))
	}
	return b, nil
}
