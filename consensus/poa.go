// Package consensus implements Proof-of-Authority block production.
// The configured validator proposes and signs every block.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tolelom/ecobuild/config"
	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/events"
	"github.com/tolelom/ecobuild/vm"
)

// ErrNotProposer is returned by ProduceBlock when this node is not the
// configured validator.
var ErrNotProposer = errors.New("not the configured validator")

// ErrStateCommit means a block was stored but the state it produced could
// not be flushed. The node must stop: its state no longer matches its chain.
var ErrStateCommit = errors.New("state commit failed after block was stored")

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	logger  *slog.Logger
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	logger *slog.Logger,
) *PoA {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		logger:  logger.With("component", "consensus"),
	}
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	return p.cfg.Validator == p.pubKey.Hex()
}

// ProduceBlock executes pending transactions, then signs and commits a
// block holding the ones that applied. Rejected transactions leave the
// mempool; their outcome is reported through EventTxFailed.
func (p *PoA) ProduceBlock(ctx context.Context) (*core.Block, error) {
	if !p.IsProposer() {
		return nil, ErrNotProposer
	}

	txs := p.mempool.Pending(p.cfg.MaxBlockTxs)

	tip := p.bc.Tip()
	prevHash := config.GenesisHash
	nextHeight := int64(1)
	if tip != nil {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
	}

	block := core.NewBlock(p.cfg.Genesis.ChainID, nextHeight, prevHash, p.pubKey.Hex(), txs)

	snap, err := p.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	applied, rejected := p.exec.ExecuteBlock(ctx, block)
	block.Transactions = applied
	block.Header.TxRoot = core.ComputeTxRoot(applied)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and can be reverted.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block); err != nil {
		revertErr := p.state.RevertToSnapshot(snap)
		p.emitter.Emit(events.Event{
			Type:        events.EventBlockAborted,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"error": err.Error()},
		})
		if revertErr != nil {
			return nil, fmt.Errorf("add block: %w (revert: %v)", err, revertErr)
		}
		return nil, fmt.Errorf("add block: %w", err)
	}

	if err := p.state.Commit(); err != nil {
		return nil, fmt.Errorf("%w: block %d: %v", ErrStateCommit, block.Header.Height, err)
	}

	// Emit after Sign() so block.Hash is set correctly.
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data: map[string]any{
			"hash":     block.Hash,
			"txs":      len(applied),
			"rejected": len(rejected),
		},
	})

	done := block.TxIDs()
	for _, r := range rejected {
		done = append(done, r.Tx.ID)
	}
	p.mempool.Remove(done)

	p.logger.Info("block committed",
		"height", block.Header.Height,
		"hash", block.Hash,
		"txs", len(applied),
		"rejected", len(rejected),
	)
	return block, nil
}

// Run produces a block every interval while this node is the proposer.
// It returns nil when ctx is cancelled, or ErrStateCommit if the node's
// state can no longer be trusted.
func (p *PoA) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !p.IsProposer() {
				continue
			}
			if _, err := p.ProduceBlock(ctx); err != nil {
				if errors.Is(err, ErrStateCommit) {
					p.logger.Error("stopping block production", "error", err)
					return err
				}
				p.logger.Warn("produce block failed", "error", err)
			}
		}
	}
}
