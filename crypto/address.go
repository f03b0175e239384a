package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// AddressSize is the byte length of every identity on the ledger: player
// public keys and derived record identities alike.
const AddressSize = 32

// Address is a 32-byte ledger identity. Owners are ed25519 public keys;
// records live at program-derived addresses (see FindProgramAddress).
type Address [AddressSize]byte

// ZeroAddress is the all-zero identity. It is never a valid owner.
var ZeroAddress Address

// ErrInvalidAddress is returned when text cannot be decoded into an Address.
var ErrInvalidAddress = errors.New("invalid address")

// String returns the base58 form used by clients and RPC responses.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Hex returns the lowercase hex form used for storage keys.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// MarshalText encodes the address as base58 so JSON payloads carry the same
// form clients see.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts base58 or 64-char hex.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a base58 address. A 64-char hex string, the form
// transactions use for public keys, is accepted as well.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) == 2*AddressSize {
		if b, err := hex.DecodeString(s); err == nil {
			copy(a[:], b)
			return a, nil
		}
	}
	b := base58.Decode(s)
	if len(b) != AddressSize {
		return a, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, s, len(b))
	}
	copy(a[:], b)
	return a, nil
}
