package core

import (
	"encoding/json"
	"time"

	"github.com/tolelom/ecobuild/crypto"
)

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	ChainID   string `json:"chain_id"`
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	StateRoot string `json:"state_root"` // state after executing this block
	TxRoot    string `json:"tx_root"`
	Timestamp int64  `json:"timestamp"` // unix nanoseconds
	Proposer  string `json:"proposer"`  // proposer's pubkey hex
}

// Unix returns the header timestamp in whole seconds, the resolution ledger
// notifications carry.
func (h BlockHeader) Unix() int64 {
	return h.Timestamp / int64(time.Second)
}

// Block is a collection of transactions with a signed header.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// ComputeHash returns the SHA-256 hash of the serialised header.
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs the block with the proposer's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = priv.Sign([]byte(b.Hash))
}

// Verify checks the block hash and signature against the given public key.
func (b *Block) Verify(pub crypto.PublicKey) error {
	if b.Hash != b.ComputeHash() {
		return ErrBlockHashMismatch
	}
	return pub.Verify([]byte(b.Hash), b.Signature)
}

// TxIDs lists the IDs of the block's transactions in order.
func (b *Block) TxIDs() []string {
	ids := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID
	}
	return ids
}

// ComputeTxRoot hashes the ordered transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var ids []byte
	for _, tx := range txs {
		ids = append(ids, tx.ID...)
	}
	return crypto.Hash(ids)
}

// NewBlock creates an unsigned block stamped with the current time.
func NewBlock(chainID string, height int64, prevHash, proposer string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			ChainID:   chainID,
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: time.Now().UnixNano(),
			Proposer:  proposer,
		},
		Transactions: txs,
	}
}
