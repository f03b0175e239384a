package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash is the hex form of SHA-256(data), used for block and tx identifiers.
func Hash(data []byte) string {
	sum := HashBytes(data)
	return hex.EncodeToString(sum)
}

func HashBytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Discriminator returns the 8-byte type tag stored at the front of every
// record: the first 8 bytes of SHA-256("account:" + name).
func Discriminator(name string) [8]byte {
	var d [8]byte
	sum := sha256.Sum256([]byte("account:" + name))
	copy(d[:], sum[:8])
	return d
}
