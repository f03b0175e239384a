package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/ecobuild/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxInitializeConfig  TxType = "initialize_config"
	TxInitializePlayer  TxType = "initialize_player"
	TxCreateProjectPool TxType = "create_project_pool"
	TxContributeCredits TxType = "contribute_credits"
	TxMintReceipt       TxType = "mint_poc_receipt"
	TxMintBlocks        TxType = "mint_blocks"
	TxConvertToBrick    TxType = "convert_to_brick"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TxType          `json:"type"`
	ChainID   string          `json:"chain_id"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	Type      TxType          `json:"type"`
	ChainID   string          `json:"chain_id"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		Type:      tx.Type,
		ChainID:   tx.ChainID,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = priv.Sign([]byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	if tx.ID != "" && tx.ID != tx.Hash() {
		return errors.New("tx id does not match body hash")
	}
	return pub.Verify([]byte(tx.Hash()), tx.Signature)
}

// Sender returns the ledger identity of the signer.
func (tx *Transaction) Sender() (crypto.Address, error) {
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return crypto.ZeroAddress, fmt.Errorf("invalid from: %w", err)
	}
	return pub.Address(), nil
}

// DecodePayload unmarshals the payload into v, rejecting unknown fields.
func (tx *Transaction) DecodePayload(v any) error {
	if err := DecodePayload(tx.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", tx.Type, err)
	}
	return nil
}

// DecodePayload strictly unmarshals a transaction payload into v. An empty
// payload decodes as {}.
func DecodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(typ TxType, chainID, from string, nonce uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		Type:      typ,
		ChainID:   chainID,
		From:      from,
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// InitializeConfigPayload creates the GlobalLedgerConfig. The signer becomes
// the minting authority.
type InitializeConfigPayload struct{}

// InitializePlayerPayload creates the signer's PlayerLedger.
type InitializePlayerPayload struct{}

// CreateProjectPoolPayload opens a funding pool owned by the signer.
type CreateProjectPoolPayload struct {
	Seed uint64 `json:"seed"`
	Goal uint64 `json:"goal"`
	Name string `json:"name"`
}

// ContributeCreditsPayload credits the signer's ledger and the given pool.
type ContributeCreditsPayload struct {
	Pool   crypto.Address `json:"pool"`
	Amount uint64         `json:"amount"`
}

// MintReceiptPayload records a collection event for the signer.
type MintReceiptPayload struct {
	AttestationID Hash32 `json:"attestation_id"`
	PhotoHash     Hash32 `json:"photo_hash"`
	ZoneID        string `json:"zone_id"`
	MaterialKind  int64  `json:"material_kind"`
	Quantity      uint64 `json:"quantity"`
	Timestamp     int64  `json:"timestamp"`
}

// Params converts the payload into receipt parameters.
func (p MintReceiptPayload) Params() ReceiptParams {
	return ReceiptParams{
		AttestationID: p.AttestationID,
		PhotoHash:     p.PhotoHash,
		ZoneID:        p.ZoneID,
		Material:      p.MaterialKind,
		Quantity:      p.Quantity,
		Timestamp:     p.Timestamp,
	}
}

// MintBlocksPayload mints BLOCK tokens to a player. Only the config
// authority may sign it.
type MintBlocksPayload struct {
	Player    crypto.Address `json:"player"`
	Amount    uint64         `json:"amount"`
	WasteKind int64          `json:"waste_kind"`
}

// ConvertToBrickPayload burns BLOCK tokens from the signer for one brick.
type ConvertToBrickPayload struct{}
