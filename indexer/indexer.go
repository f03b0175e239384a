// Package indexer maintains secondary indexes over committed blocks so
// clients can list pools by owner, receipts by player, and look up the
// outcome of a transaction without scanning state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/events"
	"github.com/tolelom/ecobuild/storage"
)

const (
	prefixOwnerPools     = "idx:owner:pool:"
	prefixPlayerReceipts = "idx:player:receipt:"
	prefixTxResult       = "idx:tx:"
)

// TxResult is the recorded outcome of a transaction.
type TxResult struct {
	TxID        string `json:"tx_id"`
	BlockHeight int64  `json:"block_height"`
	Type        string `json:"type"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
	CodeNumber  int    `json:"code_number,omitempty"`
}

type op struct {
	listKey string
	value   string
	result  *TxResult
}

// Indexer subscribes to chain events and updates secondary lookup tables.
// Entries produced inside a block are held until that block commits;
// entries from outside any block (genesis) are written at once.
type Indexer struct {
	db     storage.DB
	logger *slog.Logger

	mu            sync.Mutex
	pending       []op
	pendingHeight int64
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Indexer{db: db, logger: logger.With("component", "indexer")}
	emitter.Subscribe(events.EventPoolCreated, idx.onPoolCreated)
	emitter.Subscribe(events.EventReceiptMinted, idx.onReceiptMinted)
	emitter.Subscribe(events.EventTxExecuted, idx.onTxExecuted)
	emitter.Subscribe(events.EventTxFailed, idx.onTxFailed)
	emitter.Subscribe(events.EventBlockCommit, idx.onBlockCommit)
	emitter.Subscribe(events.EventBlockAborted, idx.onBlockAborted)
	return idx
}

// PoolsByOwner returns the addresses of pools created by owner.
func (idx *Indexer) PoolsByOwner(owner string) ([]string, error) {
	return idx.getList(prefixOwnerPools + owner)
}

// ReceiptsByPlayer returns the addresses of receipts minted for player.
func (idx *Indexer) ReceiptsByPlayer(player string) ([]string, error) {
	return idx.getList(prefixPlayerReceipts + player)
}

// TxResult returns the recorded outcome of txID, or core.ErrNotFound.
func (idx *Indexer) TxResult(txID string) (*TxResult, error) {
	data, err := idx.db.Get([]byte(prefixTxResult + txID))
	if err != nil {
		return nil, err
	}
	var r TxResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return &r, nil
}

// ---- event handlers ----

func (idx *Indexer) onPoolCreated(ev events.Event) {
	owner, _ := ev.Data["owner"].(string)
	pool, _ := ev.Data["pool"].(string)
	if owner == "" || pool == "" {
		return
	}
	idx.record(ev.BlockHeight, op{listKey: prefixOwnerPools + owner, value: pool})
}

func (idx *Indexer) onReceiptMinted(ev events.Event) {
	player, _ := ev.Data["player"].(string)
	receipt, _ := ev.Data["receipt"].(string)
	if player == "" || receipt == "" {
		return
	}
	idx.record(ev.BlockHeight, op{listKey: prefixPlayerReceipts + player, value: receipt})
}

func (idx *Indexer) onTxExecuted(ev events.Event) {
	typ, _ := ev.Data["type"].(string)
	idx.record(ev.BlockHeight, op{result: &TxResult{
		TxID:        ev.TxID,
		BlockHeight: ev.BlockHeight,
		Type:        typ,
		Success:     true,
	}})
}

func (idx *Indexer) onTxFailed(ev events.Event) {
	r := &TxResult{TxID: ev.TxID, BlockHeight: ev.BlockHeight}
	r.Type, _ = ev.Data["type"].(string)
	r.Error, _ = ev.Data["error"].(string)
	r.Code, _ = ev.Data["code"].(string)
	r.CodeNumber, _ = ev.Data["code_number"].(int)
	idx.record(ev.BlockHeight, op{result: r})
}

func (idx *Indexer) onBlockCommit(ev events.Event) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ev.BlockHeight != idx.pendingHeight {
		idx.pending = nil
		return
	}
	if err := idx.apply(idx.pending); err != nil {
		idx.logger.Error("index block failed", "height", ev.BlockHeight, "error", err)
	}
	idx.pending = nil
}

// onBlockAborted drops what the failed attempt queued, so a retry at the
// same height starts clean.
func (idx *Indexer) onBlockAborted(ev events.Event) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ev.BlockHeight == idx.pendingHeight {
		idx.pending = nil
	}
}

// record queues o for the block at height, or writes it at once when the
// event did not come from a block.
func (idx *Indexer) record(height int64, o op) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if height == 0 {
		if err := idx.apply([]op{o}); err != nil {
			idx.logger.Error("index write failed", "error", err)
		}
		return
	}
	if height != idx.pendingHeight {
		// A block that never committed left its entries behind.
		idx.pending = nil
		idx.pendingHeight = height
	}
	idx.pending = append(idx.pending, o)
}

// apply writes ops in one batch. List updates for the same key accumulate.
func (idx *Indexer) apply(ops []op) error {
	lists := make(map[string][]string)
	batch := idx.db.NewBatch()
	for _, o := range ops {
		if o.result != nil {
			data, err := json.Marshal(o.result)
			if err != nil {
				return err
			}
			batch.Set([]byte(prefixTxResult+o.result.TxID), data)
			continue
		}
		ids, ok := lists[o.listKey]
		if !ok {
			var err error
			if ids, err = idx.getList(o.listKey); err != nil {
				return err
			}
		}
		if !slices.Contains(ids, o.value) {
			ids = append(ids, o.value)
		}
		lists[o.listKey] = ids
	}
	for key, ids := range lists {
		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		batch.Set([]byte(key), data)
	}
	return batch.Write()
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}
