package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	// MaxSeedLength is the largest single seed accepted by the resolver.
	MaxSeedLength = 32
	// MaxSeeds is the largest number of seeds, bump included.
	MaxSeeds = 16

	pdaMarker = "ProgramDerivedAddress"
)

var (
	ErrMaxSeedLength = errors.New("seed exceeds maximum length")
	ErrMaxSeeds      = errors.New("too many seeds")
	// ErrInvalidSeeds means the digest is a valid ed25519 point and therefore
	// could have a private key; FindProgramAddress moves on to the next bump.
	ErrInvalidSeeds = errors.New("derived address lies on the ed25519 curve")
	ErrNoViableBump = errors.New("no viable bump seed")
)

// CreateProgramAddress hashes seeds, programID and a fixed marker with
// SHA-256 and returns the digest as an Address. The result is only accepted
// when it does not decode as an ed25519 point, so no key holder can ever sign
// for a derived identity.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	var out Address
	if len(seeds) > MaxSeeds {
		return out, fmt.Errorf("%w: %d > %d", ErrMaxSeeds, len(seeds), MaxSeeds)
	}
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return out, fmt.Errorf("%w: seed %d is %d bytes", ErrMaxSeedLength, i, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out[:]) {
		return Address{}, ErrInvalidSeeds
	}
	return out, nil
}

// FindProgramAddress searches bump values from 255 down to 0, appending each
// as a one-byte seed, and returns the first off-curve address together with
// the bump that produced it. The same seeds always yield the same result.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return Address{}, 0, fmt.Errorf("%w: %d seeds leave no room for the bump", ErrMaxSeeds, len(seeds))
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether b is the compressed encoding of an ed25519 point.
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
