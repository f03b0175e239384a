// Package ecobuild registers the ledger transaction handlers. Import it for
// its side effects.
package ecobuild

import (
	"context"
	"encoding/json"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/events"
	"github.com/tolelom/ecobuild/ledger"
	"github.com/tolelom/ecobuild/vm"
)

func init() {
	vm.Register(core.TxInitializeConfig, handleInitializeConfig)
	vm.Register(core.TxInitializePlayer, handleInitializePlayer)
	vm.Register(core.TxCreateProjectPool, handleCreateProjectPool)
	vm.Register(core.TxContributeCredits, handleContributeCredits)
	vm.Register(core.TxMintReceipt, handleMintReceipt)
	vm.Register(core.TxMintBlocks, handleMintBlocks)
	vm.Register(core.TxConvertToBrick, handleConvertToBrick)
}

// txSink stamps ledger notifications with the executing transaction.
type txSink struct{ ctx *vm.Context }

func (s txSink) Emit(ev events.Event) { s.ctx.Emit(ev) }

// service binds a ledger service to the handler context. Notification
// timestamps come from the block header so replays are deterministic.
func service(ctx *vm.Context) *ledger.Service {
	blockTime := ctx.Block.Header.Unix()
	return ledger.NewService(ctx.State,
		ledger.WithProgramID(ctx.ProgramID),
		ledger.WithSink(txSink{ctx}),
		ledger.WithClock(func() int64 { return blockTime }),
		ledger.WithLogger(ctx.Logger),
	)
}

func goCtx(ctx *vm.Context) context.Context {
	if ctx.Ctx != nil {
		return ctx.Ctx
	}
	return context.Background()
}

func handleInitializeConfig(ctx *vm.Context, payload json.RawMessage) error {
	var p core.InitializeConfigPayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	_, err := service(ctx).InitializeConfig(goCtx(ctx), ctx.Sender)
	return err
}

func handleInitializePlayer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.InitializePlayerPayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	_, err := service(ctx).InitializePlayer(goCtx(ctx), ctx.Sender)
	return err
}

func handleCreateProjectPool(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateProjectPoolPayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	_, err := service(ctx).CreateProjectPool(goCtx(ctx), ctx.Sender, p.Seed, p.Goal, p.Name)
	return err
}

func handleContributeCredits(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ContributeCreditsPayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	return service(ctx).ContributeCredits(goCtx(ctx), ctx.Sender, p.Pool, p.Amount)
}

func handleMintReceipt(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintReceiptPayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	_, err := service(ctx).MintReceipt(goCtx(ctx), ctx.Sender, p.Params())
	return err
}

func handleMintBlocks(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintBlocksPayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	_, err := service(ctx).MintTokens(goCtx(ctx), ctx.Sender, p.Player, p.Amount, p.WasteKind)
	return err
}

func handleConvertToBrick(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ConvertToBrickPayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	_, err := service(ctx).ConvertToBrick(goCtx(ctx), ctx.Sender)
	return err
}
