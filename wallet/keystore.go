package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tolelom/bidchain/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keystoreVersion = 1
	kdfName         = "pbkdf2-sha256"
	kdfIterations   = 210_000
	cipherName      = "aes-256-gcm"
)

// ErrWrongPassword is returned by LoadKey when the keystore cannot be opened
// with the given password.
var ErrWrongPassword = errors.New("wrong password or corrupted keystore")

// keystoreFile is the on-disk layout. The address is stored in clear so
// read-only tools can find an account without the password; it is bound to
// the ciphertext as GCM additional data.
type keystoreFile struct {
	Version int    `json:"version"`
	Address string `json:"address"`
	KDF     struct {
		Name       string `json:"name"`
		Iterations int    `json:"iterations"`
		Salt       string `json:"salt"`
	} `json:"kdf"`
	Cipher struct {
		Name  string `json:"name"`
		Nonce string `json:"nonce"`
		Text  string `json:"text"`
	} `json:"cipher"`
}

// SaveKey encrypts priv with password and writes it to path (mode 0600).
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	var ks keystoreFile
	ks.Version = keystoreVersion
	ks.Address = priv.Public().Hex()

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	ks.KDF.Name, ks.KDF.Iterations, ks.KDF.Salt = kdfName, kdfIterations, hex.EncodeToString(salt)

	gcm, err := newGCM(password, salt, kdfIterations)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	ks.Cipher.Name = cipherName
	ks.Cipher.Nonce = hex.EncodeToString(nonce)
	ks.Cipher.Text = hex.EncodeToString(gcm.Seal(nil, nonce, priv, []byte(ks.Address)))

	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadKey decrypts the keystore at path.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	ks, err := readKeystore(path)
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(ks.KDF.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore salt: %w", err)
	}
	nonce, err := hex.DecodeString(ks.Cipher.Nonce)
	if err != nil {
		return nil, fmt.Errorf("keystore nonce: %w", err)
	}
	text, err := hex.DecodeString(ks.Cipher.Text)
	if err != nil {
		return nil, fmt.Errorf("keystore ciphertext: %w", err)
	}
	gcm, err := newGCM(password, salt, ks.KDF.Iterations)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrWrongPassword
	}
	plain, err := gcm.Open(nil, nonce, text, []byte(ks.Address))
	if err != nil {
		return nil, ErrWrongPassword
	}
	priv := crypto.PrivateKey(plain)
	if priv.Public().Hex() != ks.Address {
		return nil, fmt.Errorf("keystore %s: key does not match address %s", path, ks.Address)
	}
	return priv, nil
}

// ReadAddress returns the account address of the keystore at path without
// decrypting it.
func ReadAddress(path string) (string, error) {
	ks, err := readKeystore(path)
	if err != nil {
		return "", err
	}
	return ks.Address, nil
}

func readKeystore(path string) (*keystoreFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore %s: %w", path, err)
	}
	switch {
	case ks.Version != keystoreVersion:
		return nil, fmt.Errorf("keystore %s: unsupported version %d", path, ks.Version)
	case ks.KDF.Name != kdfName || ks.Cipher.Name != cipherName:
		return nil, fmt.Errorf("keystore %s: unsupported scheme %s/%s", path, ks.KDF.Name, ks.Cipher.Name)
	case ks.KDF.Iterations <= 0:
		return nil, fmt.Errorf("keystore %s: bad iteration count", path)
	}
	if err := crypto.ValidateAddress(ks.Address); err != nil {
		return nil, fmt.Errorf("keystore %s: %w", path, err)
	}
	return &ks, nil
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
