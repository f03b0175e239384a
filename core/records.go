package core

import (
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/tolelom/ecobuild/crypto"
)

// Record type names. Their hashes form the stored discriminators, so they
// must never change.
const (
	RecordPlayer  = "PlayerProfile"
	RecordPool    = "ProjectPool"
	RecordReceipt = "ProofOfCollectionReceipt"
	RecordConfig  = "GlobalConfig"
	RecordMint    = "Mint"
	RecordToken   = "TokenAccount"
)

// Encoded sizes, discriminator included.
const (
	PlayerLedgerSize       = 8 + 32 + 1 + 8 + 8 + 8 + 8
	ProjectPoolSize        = 8 + 32 + 1 + 8 + 8 + 8 + 1 + MaxTextLen
	CollectionReceiptSize  = 8 + 32 + 1 + 32 + 32 + 1 + MaxTextLen + 1 + 8 + 8
	GlobalLedgerConfigSize = 8 + 32 + 1 + 32 + 1 + 8 + 8
	TokenMintSize          = 8 + 32 + 8 + 1
	TokenAccountSize       = 8 + 32 + 32 + 8
)

// CheckedAdd returns a+b or ErrOverflow when the sum does not fit in 64 bits.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, WithMetadata(CodeOverflow, "arithmetic overflow", map[string]string{
			"lhs": fmt.Sprint(a),
			"rhs": fmt.Sprint(b),
		})
	}
	return sum, nil
}

// Hash32 is an opaque 32-byte value (attestation ids, content hashes).
// JSON carries it as hex.
type Hash32 [32]byte

func (h Hash32) String() string { return hex.EncodeToString(h[:]) }

func (h Hash32) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash32) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("hash32: %w", err)
	}
	if len(b) != len(h) {
		return fmt.Errorf("hash32: need %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return nil
}

// ---- PlayerLedger ----

// PlayerLedger holds one player's credits and lifetime counters. There is
// exactly one per owner and none of its counters ever decrease.
type PlayerLedger struct {
	Owner            crypto.Address `json:"owner"`
	Bump             uint8          `json:"bump"`
	TotalCredits     uint64         `json:"total_credits"`
	TokensMinted     uint64         `json:"tokens_minted"`
	BricksConverted  uint64         `json:"bricks_converted"`
	CollectionEvents uint64         `json:"collection_events"`
}

// Initialize sets the owner and zeroes every counter.
func (p *PlayerLedger) Initialize(owner crypto.Address, bump uint8) error {
	*p = PlayerLedger{Owner: owner, Bump: bump}
	return nil
}

// AddCredits increases TotalCredits by amount.
func (p *PlayerLedger) AddCredits(amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	total, err := CheckedAdd(p.TotalCredits, amount)
	if err != nil {
		return err
	}
	p.TotalCredits = total
	return nil
}

// RecordMint adds amount to TokensMinted and counts one collection event.
// Both sums are checked before either field changes.
func (p *PlayerLedger) RecordMint(amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	minted, err := CheckedAdd(p.TokensMinted, amount)
	if err != nil {
		return err
	}
	events, err := CheckedAdd(p.CollectionEvents, 1)
	if err != nil {
		return err
	}
	p.TokensMinted = minted
	p.CollectionEvents = events
	return nil
}

// RecordConversion counts one converted brick.
func (p *PlayerLedger) RecordConversion() error {
	bricks, err := CheckedAdd(p.BricksConverted, 1)
	if err != nil {
		return err
	}
	p.BricksConverted = bricks
	return nil
}

func (p *PlayerLedger) RecordType() string { return RecordPlayer }
func (p *PlayerLedger) EncodedSize() int   { return PlayerLedgerSize }

func (p *PlayerLedger) MarshalBinary() ([]byte, error) {
	w := newRecordWriter(p)
	w.fixed(p.Owner[:])
	w.u8(p.Bump)
	w.u64(p.TotalCredits)
	w.u64(p.TokensMinted)
	w.u64(p.BricksConverted)
	w.u64(p.CollectionEvents)
	return w.bytes(p)
}

func (p *PlayerLedger) UnmarshalBinary(data []byte) error {
	r, err := newRecordReader(p, data)
	if err != nil {
		return err
	}
	p.Owner = r.address()
	p.Bump = r.u8()
	p.TotalCredits = r.u64()
	p.TokensMinted = r.u64()
	p.BricksConverted = r.u64()
	p.CollectionEvents = r.u64()
	return nil
}

// ---- ProjectPool ----

// ProjectPool is a shared funding target. Goal is a target, not a cap:
// Received may exceed it.
type ProjectPool struct {
	Owner    crypto.Address `json:"owner"`
	Bump     uint8          `json:"bump"`
	Seed     uint64         `json:"seed"`
	Goal     uint64         `json:"goal"`
	Received uint64         `json:"received"`
	NameText BoundedText    `json:"name"`
}

// Initialize validates goal and name and sets Received to zero.
func (p *ProjectPool) Initialize(owner crypto.Address, bump uint8, seed, goal uint64, name string) error {
	if goal == 0 {
		return ErrInvalidAmount
	}
	text, ok := NewBoundedText(name)
	if !ok {
		return WithMetadata(CodeNameTooLong, "project name exceeds max length", map[string]string{
			"length": fmt.Sprint(len(name)),
		})
	}
	*p = ProjectPool{
		Owner:    owner,
		Bump:     bump,
		Seed:     seed,
		Goal:     goal,
		NameText: text,
	}
	return nil
}

// RecordContribution adds amount to Received.
func (p *ProjectPool) RecordContribution(amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	received, err := CheckedAdd(p.Received, amount)
	if err != nil {
		return err
	}
	p.Received = received
	return nil
}

// Name returns the stored pool name without padding.
func (p *ProjectPool) Name() string { return p.NameText.String() }

func (p *ProjectPool) RecordType() string { return RecordPool }
func (p *ProjectPool) EncodedSize() int   { return ProjectPoolSize }

func (p *ProjectPool) MarshalBinary() ([]byte, error) {
	w := newRecordWriter(p)
	w.fixed(p.Owner[:])
	w.u8(p.Bump)
	w.u64(p.Seed)
	w.u64(p.Goal)
	w.u64(p.Received)
	w.text(p.NameText)
	return w.bytes(p)
}

func (p *ProjectPool) UnmarshalBinary(data []byte) error {
	r, err := newRecordReader(p, data)
	if err != nil {
		return err
	}
	p.Owner = r.address()
	p.Bump = r.u8()
	p.Seed = r.u64()
	p.Goal = r.u64()
	p.Received = r.u64()
	p.NameText, err = r.text()
	return err
}

// ---- CollectionReceipt ----

// CollectionReceipt is the write-once proof that a player collected waste
// under a given attestation. At most one exists per (player, attestation).
type CollectionReceipt struct {
	Player        crypto.Address `json:"player"`
	Bump          uint8          `json:"bump"`
	AttestationID Hash32         `json:"attestation_id"`
	PhotoHash     Hash32         `json:"photo_hash"`
	Zone          BoundedText    `json:"zone_id"`
	Material      MaterialKind   `json:"material_kind"`
	Quantity      uint64         `json:"quantity"`
	Timestamp     int64          `json:"timestamp"`
}

// ReceiptParams are the caller-supplied fields of a new receipt.
type ReceiptParams struct {
	AttestationID Hash32
	PhotoHash     Hash32
	ZoneID        string
	Material      int64
	Quantity      uint64
	Timestamp     int64
}

// Validate checks p in a fixed order: quantity, timestamp, zone id length,
// then material kind. The first failure is returned.
func (p ReceiptParams) Validate() error {
	if p.Quantity == 0 {
		return ErrInvalidAmount
	}
	if p.Timestamp <= 0 {
		return WithMetadata(CodeInvalidTimestamp, "timestamp is invalid", map[string]string{
			"timestamp": fmt.Sprint(p.Timestamp),
		})
	}
	if len(p.ZoneID) > MaxTextLen {
		return WithMetadata(CodeZoneIDTooLong, "zone id exceeds max length", map[string]string{
			"length": fmt.Sprint(len(p.ZoneID)),
		})
	}
	if _, err := ParseMaterialKind(p.Material); err != nil {
		return err
	}
	return nil
}

// Initialize validates params and fills the receipt.
func (c *CollectionReceipt) Initialize(player crypto.Address, bump uint8, params ReceiptParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	zone, _ := NewBoundedText(params.ZoneID)
	*c = CollectionReceipt{
		Player:        player,
		Bump:          bump,
		AttestationID: params.AttestationID,
		PhotoHash:     params.PhotoHash,
		Zone:          zone,
		Material:      MaterialKind(params.Material),
		Quantity:      params.Quantity,
		Timestamp:     params.Timestamp,
	}
	return nil
}

// ZoneID returns the stored zone id without padding.
func (c *CollectionReceipt) ZoneID() string { return c.Zone.String() }

func (c *CollectionReceipt) RecordType() string { return RecordReceipt }
func (c *CollectionReceipt) EncodedSize() int   { return CollectionReceiptSize }

func (c *CollectionReceipt) MarshalBinary() ([]byte, error) {
	w := newRecordWriter(c)
	w.fixed(c.Player[:])
	w.u8(c.Bump)
	w.fixed(c.AttestationID[:])
	w.fixed(c.PhotoHash[:])
	w.text(c.Zone)
	w.u8(uint8(c.Material))
	w.u64(c.Quantity)
	w.i64(c.Timestamp)
	return w.bytes(c)
}

func (c *CollectionReceipt) UnmarshalBinary(data []byte) error {
	r, err := newRecordReader(c, data)
	if err != nil {
		return err
	}
	c.Player = r.address()
	c.Bump = r.u8()
	c.AttestationID = r.hash32()
	c.PhotoHash = r.hash32()
	if c.Zone, err = r.text(); err != nil {
		return err
	}
	if c.Material, err = ParseMaterialKind(int64(r.u8())); err != nil {
		return err
	}
	c.Quantity = r.u64()
	c.Timestamp = r.i64()
	return nil
}

// ---- GlobalLedgerConfig ----

// GlobalLedgerConfig is the process-wide singleton naming the minting
// authority and the system-wide counters.
type GlobalLedgerConfig struct {
	Authority          crypto.Address `json:"authority"`
	Bump               uint8          `json:"bump"`
	BlockMint          crypto.Address `json:"block_mint"`
	MintBump           uint8          `json:"mint_bump"`
	TotalTokensMinted  uint64         `json:"total_tokens_minted"`
	TotalBricksCreated uint64         `json:"total_bricks_created"`
}

// Initialize sets the authority and mint handle and zeroes the counters.
func (g *GlobalLedgerConfig) Initialize(authority crypto.Address, bump uint8, mint crypto.Address, mintBump uint8) error {
	if authority.IsZero() {
		return NewError(CodeUnauthorized, "authority must not be the zero address")
	}
	*g = GlobalLedgerConfig{
		Authority: authority,
		Bump:      bump,
		BlockMint: mint,
		MintBump:  mintBump,
	}
	return nil
}

// RecordMint adds amount to TotalTokensMinted.
func (g *GlobalLedgerConfig) RecordMint(amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	total, err := CheckedAdd(g.TotalTokensMinted, amount)
	if err != nil {
		return err
	}
	g.TotalTokensMinted = total
	return nil
}

// RecordBrick counts one brick created system-wide.
func (g *GlobalLedgerConfig) RecordBrick() error {
	total, err := CheckedAdd(g.TotalBricksCreated, 1)
	if err != nil {
		return err
	}
	g.TotalBricksCreated = total
	return nil
}

func (g *GlobalLedgerConfig) RecordType() string { return RecordConfig }
func (g *GlobalLedgerConfig) EncodedSize() int   { return GlobalLedgerConfigSize }

func (g *GlobalLedgerConfig) MarshalBinary() ([]byte, error) {
	w := newRecordWriter(g)
	w.fixed(g.Authority[:])
	w.u8(g.Bump)
	w.fixed(g.BlockMint[:])
	w.u8(g.MintBump)
	w.u64(g.TotalTokensMinted)
	w.u64(g.TotalBricksCreated)
	return w.bytes(g)
}

func (g *GlobalLedgerConfig) UnmarshalBinary(data []byte) error {
	r, err := newRecordReader(g, data)
	if err != nil {
		return err
	}
	g.Authority = r.address()
	g.Bump = r.u8()
	g.BlockMint = r.address()
	g.MintBump = r.u8()
	g.TotalTokensMinted = r.u64()
	g.TotalBricksCreated = r.u64()
	return nil
}

// ---- token records ----

// TokenMint describes a fungible token: who may mint it and how much exists.
type TokenMint struct {
	Authority crypto.Address `json:"authority"`
	Supply    uint64         `json:"supply"`
	Decimals  uint8          `json:"decimals"`
}

func (m *TokenMint) RecordType() string { return RecordMint }
func (m *TokenMint) EncodedSize() int   { return TokenMintSize }

func (m *TokenMint) MarshalBinary() ([]byte, error) {
	w := newRecordWriter(m)
	w.fixed(m.Authority[:])
	w.u64(m.Supply)
	w.u8(m.Decimals)
	return w.bytes(m)
}

func (m *TokenMint) UnmarshalBinary(data []byte) error {
	r, err := newRecordReader(m, data)
	if err != nil {
		return err
	}
	m.Authority = r.address()
	m.Supply = r.u64()
	m.Decimals = r.u8()
	return nil
}

// TokenAccount is one owner's balance of one mint.
type TokenAccount struct {
	Mint   crypto.Address `json:"mint"`
	Owner  crypto.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}

func (a *TokenAccount) RecordType() string { return RecordToken }
func (a *TokenAccount) EncodedSize() int   { return TokenAccountSize }

func (a *TokenAccount) MarshalBinary() ([]byte, error) {
	w := newRecordWriter(a)
	w.fixed(a.Mint[:])
	w.fixed(a.Owner[:])
	w.u64(a.Amount)
	return w.bytes(a)
}

func (a *TokenAccount) UnmarshalBinary(data []byte) error {
	r, err := newRecordReader(a, data)
	if err != nil {
		return err
	}
	a.Mint = r.address()
	a.Owner = r.address()
	a.Amount = r.u64()
	return nil
}
