package ledger

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/token"
)

// Namespace tags for derived record identities. No tag is a prefix of
// another, so the seed concatenation never lets two namespaces meet.
const (
	TagPlayer  = "player"
	TagProject = "project"
	TagReceipt = "poc"
	TagConfig  = "global_config"
	TagMint    = "block_mint"
)

// Tags lists every namespace used for derived identities, token accounts
// included.
var Tags = []string{TagPlayer, TagProject, TagReceipt, TagConfig, TagMint, token.AccountTag}

// DefaultProgramID is the program identity used when none is configured.
var DefaultProgramID = crypto.Address(sha256.Sum256([]byte("ecobuild ledger program v1")))

// Addresses resolves record identities under one program id.
type Addresses struct {
	ProgramID crypto.Address
}

// Resolve derives the identity and bump for tag, owner and an optional seed.
// The owner is always part of the seeds, the zero address included.
func (a Addresses) Resolve(tag string, owner crypto.Address, seed []byte) (crypto.Address, uint8, error) {
	seeds := [][]byte{[]byte(tag), owner[:]}
	if len(seed) > 0 {
		seeds = append(seeds, seed)
	}
	return crypto.FindProgramAddress(seeds, a.ProgramID)
}

// Player returns the PlayerLedger identity of owner.
func (a Addresses) Player(owner crypto.Address) (crypto.Address, uint8, error) {
	return a.Resolve(TagPlayer, owner, nil)
}

// Pool returns the ProjectPool identity for owner and seed. The seed is
// encoded as 8 little-endian bytes.
func (a Addresses) Pool(owner crypto.Address, seed uint64) (crypto.Address, uint8, error) {
	return a.Resolve(TagProject, owner, binary.LittleEndian.AppendUint64(nil, seed))
}

// Receipt returns the CollectionReceipt identity for player and attestation.
func (a Addresses) Receipt(player crypto.Address, attestation core.Hash32) (crypto.Address, uint8, error) {
	return a.Resolve(TagReceipt, player, attestation[:])
}

// Config returns the GlobalLedgerConfig identity.
func (a Addresses) Config() (crypto.Address, uint8, error) {
	return a.singleton(TagConfig)
}

// Mint returns the BLOCK token mint identity.
func (a Addresses) Mint() (crypto.Address, uint8, error) {
	return a.singleton(TagMint)
}

func (a Addresses) singleton(tag string) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress([][]byte{[]byte(tag)}, a.ProgramID)
}

// TokenAccount returns owner's BLOCK token account identity.
func (a Addresses) TokenAccount(owner crypto.Address) (crypto.Address, uint8, error) {
	mint, _, err := a.Mint()
	if err != nil {
		return crypto.ZeroAddress, 0, err
	}
	return a.Resolve(token.AccountTag, owner, mint[:])
}
