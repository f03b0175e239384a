package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrBadSignature is returned when a signature does not match the signed data.
var ErrBadSignature = errors.New("signature verification failed")

// PrivateKey is a 64-byte ed25519 signing key.
type PrivateKey []byte

// PublicKey is a 32-byte ed25519 verification key. Its bytes double as the
// holder's ledger Address.
type PublicKey []byte

// GenerateKeyPair draws a fresh ed25519 key pair from crypto/rand.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

func (pub PublicKey) Address() Address {
	var a Address
	copy(a[:], pub)
	return a
}

func (pub PublicKey) Hex() string   { return hex.EncodeToString(pub) }
func (priv PrivateKey) Hex() string { return hex.EncodeToString(priv) }

// Public returns the verification half of priv.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// Sign returns the hex signature of data.
func (priv PrivateKey) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), data))
}

// Verify checks a hex signature produced by PrivateKey.Sign.
func (pub PublicKey) Verify(data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return ErrBadSignature
	}
	return nil
}

// PubKeyFromHex parses a 64-char hex public key.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := decodeKey("public", s, ed25519.PublicKeySize)
	return PublicKey(b), err
}

// PrivKeyFromHex parses a 128-char hex private key.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := decodeKey("private", s, ed25519.PrivateKeySize)
	return PrivateKey(b), err
}

func decodeKey(kind, s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s key: %w", kind, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s key is %d bytes, want %d", kind, len(b), size)
	}
	return b, nil
}
