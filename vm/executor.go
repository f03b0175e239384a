package vm

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/events"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction and its verified sender.
type Context struct {
	Ctx       context.Context
	State     core.State
	Block     *core.Block
	Tx        *core.Transaction
	Sender    crypto.Address
	ProgramID crypto.Address
	Emitter   *events.Emitter
	Logger    *slog.Logger
}

// Emit publishes ev stamped with the current transaction and block. It is a
// no-op without an emitter.
func (c *Context) Emit(ev events.Event) {
	if c.Emitter == nil {
		return
	}
	ev.TxID = c.Tx.ID
	ev.BlockHeight = c.Block.Header.Height
	c.Emitter.Emit(ev)
}

// Rejection records a transaction that failed during block execution.
type Rejection struct {
	Tx  *core.Transaction
	Err error
}

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state     core.State
	emitter   *events.Emitter
	programID crypto.Address
	logger    *slog.Logger
}

// NewExecutor creates an Executor. Handlers derive record identities under
// programID.
func NewExecutor(state core.State, emitter *events.Emitter, programID crypto.Address, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		state:     state,
		emitter:   emitter,
		programID: programID,
		logger:    logger.With("component", "vm"),
	}
}

// ExecuteBlock applies the block's transactions in order. A failing
// transaction is rolled back and reported in rejected instead of failing
// the block. EventBlockCommit is emitted by the caller after signing so the
// event carries the final block hash.
func (e *Executor) ExecuteBlock(ctx context.Context, block *core.Block) (applied []*core.Transaction, rejected []Rejection) {
	for _, tx := range block.Transactions {
		if err := e.ExecuteTx(ctx, block, tx); err != nil {
			e.logger.Debug("tx rejected", "tx", tx.ID, "type", tx.Type, "error", err)
			rejected = append(rejected, Rejection{Tx: tx, Err: err})
			e.emitFailure(block, tx, err)
			continue
		}
		applied = append(applied, tx)
	}
	return applied, rejected
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
func (e *Executor) ExecuteTx(ctx context.Context, block *core.Block, tx *core.Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	if tx.ChainID != block.Header.ChainID {
		return fmt.Errorf("%w: %q", core.ErrWrongChain, tx.ChainID)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	if err := e.applyTx(ctx, block, tx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}

	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
		})
	}
	return nil
}

// applyTx increments the sender nonce, then dispatches to the handler.
func (e *Executor) applyTx(ctx context.Context, block *core.Block, tx *core.Transaction) error {
	sender, err := tx.Sender()
	if err != nil {
		return err
	}
	acc, err := e.state.GetAccount(sender)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", sender)
	}
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	hctx := &Context{
		Ctx:       ctx,
		State:     e.state,
		Block:     block,
		Tx:        tx,
		Sender:    sender,
		ProgramID: e.programID,
		Emitter:   e.emitter,
		Logger:    e.logger,
	}
	return globalRegistry.Execute(tx.Type, hctx, tx.Payload)
}

func (e *Executor) emitFailure(block *core.Block, tx *core.Transaction, err error) {
	if e.emitter == nil {
		return
	}
	data := map[string]any{
		"type":  string(tx.Type),
		"from":  tx.From,
		"error": err.Error(),
	}
	if code := core.CodeOf(err); code != "" {
		data["code"] = string(code)
		data["code_number"] = code.Number()
	}
	e.emitter.Emit(events.Event{
		Type:        events.EventTxFailed,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data:        data,
	})
}
