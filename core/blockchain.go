package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tolelom/ecobuild/crypto"
)

var (
	// ErrNotFound is returned when a requested object does not exist in storage.
	ErrNotFound = errors.New("not found")

	ErrBlockHashMismatch = errors.New("block hash does not match header")
	ErrBlockNotLinked    = errors.New("block does not extend the tip")
)

// BlockStore persists committed blocks. storage.BlockStore is the only
// production implementation.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	GetBlockByHeight(height int64) (*Block, error)
	// GetTip returns "" with a nil error on an empty chain.
	GetTip() (string, error)
	// CommitBlock writes the block, its height entry and the tip atomically.
	CommitBlock(block *Block) error
}

// Blockchain caches the tip of the canonical chain held in a BlockStore.
type Blockchain struct {
	mu    sync.RWMutex
	store BlockStore
	tip   *Block
}

// NewBlockchain wraps store. Init must run before the first AddBlock on a
// store that already holds blocks.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{store: store}
}

func (bc *Blockchain) Init() error {
	hash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("read tip: %w", err)
	}
	if hash == "" {
		return nil
	}
	tip, err := bc.store.GetBlock(hash)
	if err != nil {
		return fmt.Errorf("load tip %s: %w", hash, err)
	}
	bc.mu.Lock()
	bc.tip = tip
	bc.mu.Unlock()
	return nil
}

// AddBlock appends a signed block on top of the tip. The first block is
// accepted at any height so genesis can be written to an empty store.
func (bc *Blockchain) AddBlock(block *Block) error {
	if block.Hash != block.ComputeHash() {
		return ErrBlockHashMismatch
	}
	proposer, err := crypto.PubKeyFromHex(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("block %d proposer: %w", block.Header.Height, err)
	}
	if err := block.Verify(proposer); err != nil {
		return fmt.Errorf("block %d: %w", block.Header.Height, err)
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	if err := bc.extends(block); err != nil {
		return err
	}
	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block %d: %w", block.Header.Height, err)
	}
	bc.tip = block
	return nil
}

func (bc *Blockchain) extends(block *Block) error {
	if bc.tip == nil {
		return nil
	}
	h := block.Header
	switch {
	case h.ChainID != bc.tip.Header.ChainID:
		return fmt.Errorf("%w: chain %q, tip is on %q", ErrBlockNotLinked, h.ChainID, bc.tip.Header.ChainID)
	case h.Height != bc.tip.Header.Height+1:
		return fmt.Errorf("%w: height %d after %d", ErrBlockNotLinked, h.Height, bc.tip.Header.Height)
	case h.PrevHash != bc.tip.Hash:
		return fmt.Errorf("%w: prev %s, tip %s", ErrBlockNotLinked, h.PrevHash, bc.tip.Hash)
	}
	return nil
}

func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	return bc.store.GetBlock(hash)
}

func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	return bc.store.GetBlockByHeight(height)
}

// Tip is nil until the first block is added.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Height is the tip height, 0 on an empty chain.
func (bc *Blockchain) Height() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return 0
	}
	return bc.tip.Header.Height
}
