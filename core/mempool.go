package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultMempoolSize = 10_000
	maxTxAge           = int64(time.Hour)
	maxTxFuture        = int64(5 * time.Minute)
)

var (
	ErrMempoolFull = errors.New("mempool full")
	ErrTxKnown     = errors.New("tx already in pool")
	ErrTxExpired   = errors.New("transaction expired")
	ErrTxFuture    = errors.New("transaction timestamp too far in the future")
	ErrWrongChain  = errors.New("transaction signed for another chain")
)

// Mempool is a thread-safe pending-transaction pool.
type Mempool struct {
	chainID string
	limit   int

	mu  sync.RWMutex
	txs map[string]*Transaction
	ord []string // insertion order
}

// NewMempool creates an empty mempool that accepts transactions for
// chainID. A non-positive limit selects DefaultMempoolSize.
func NewMempool(chainID string, limit int) *Mempool {
	if limit <= 0 {
		limit = DefaultMempoolSize
	}
	return &Mempool{
		chainID: chainID,
		limit:   limit,
		txs:     make(map[string]*Transaction),
	}
}

// Add validates and inserts a transaction. It rejects bad signatures, other
// chains, stale or future timestamps (1 h / 5 min), duplicates, and
// anything beyond the pool limit.
func (m *Mempool) Add(tx *Transaction) error {
	if tx.ChainID != m.chainID {
		return fmt.Errorf("%w: %q", ErrWrongChain, tx.ChainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := time.Now().UnixNano()
	if now-tx.Timestamp > maxTxAge {
		return ErrTxExpired
	}
	if tx.Timestamp-now > maxTxFuture {
		return ErrTxFuture
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= m.limit {
		return ErrMempoolFull
	}
	if _, exists := m.txs[tx.ID]; exists {
		return ErrTxKnown
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n pending transactions in insertion order.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Transaction, 0, min(n, len(m.ord)))
	for _, id := range m.ord {
		if len(result) >= n {
			break
		}
		if tx, ok := m.txs[id]; ok {
			result = append(result, tx)
		}
	}
	return result
}

// Remove deletes transactions by ID, both included and rejected ones.
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.txs, id)
	}
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if _, ok := m.txs[id]; ok {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
