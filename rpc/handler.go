package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/indexer"
	"github.com/tolelom/ecobuild/ledger"
	"github.com/tolelom/ecobuild/vm"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	ledger  *ledger.Service
	state   core.State
	indexer *indexer.Indexer
	chainID string
	logger  *slog.Logger
}

// NewHandler creates an RPC Handler. svc must read from the same state the
// block producer writes to.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, svc *ledger.Service, state core.State, idx *indexer.Indexer, chainID string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		bc:      bc,
		mempool: mempool,
		ledger:  svc,
		state:   state,
		indexer: idx,
		chainID: chainID,
		logger:  logger.With("component", "rpc"),
	}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())
	case "getBlock":
		return h.getBlock(req)
	case "getNonce":
		return h.getNonce(req)
	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())
	case "getTxTypes":
		return okResponse(req.ID, vm.RegisteredTypes())
	case "sendTx":
		return h.sendTx(req)

	case "getPlayer":
		return h.getPlayer(ctx, req)
	case "getPlayerStats":
		return h.getPlayerStats(ctx, req)
	case "getGlobalStats":
		return h.getGlobalStats(ctx, req)
	case "getPool":
		return h.getPool(ctx, req)
	case "getReceipt":
		return h.getReceipt(ctx, req)
	case "getTokenBalance":
		return h.getTokenBalance(ctx, req)

	case "getPoolsByOwner":
		return h.getPoolsByOwner(req)
	case "getReceiptsByPlayer":
		return h.getReceiptsByPlayer(req)
	case "getTxResult":
		return h.getTxResult(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// decodeParams unmarshals req.Params into v. Missing params decode as {}.
func decodeParams(req Request, v any) *Response {
	raw := req.Params
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return &resp
	}
	return nil
}

func requireAddress(req Request, name string, a crypto.Address) *Response {
	if a.IsZero() {
		resp := errResponse(req.ID, CodeInvalidParams, name+" is required")
		return &resp
	}
	return nil
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}

	var (
		block *core.Block
		err   error
	)
	switch {
	case params.Hash != "":
		block, err = h.bc.GetBlock(params.Hash)
	case params.Height != nil:
		block, err = h.bc.GetBlockByHeight(*params.Height)
	default:
		block = h.bc.Tip()
	}
	if err != nil {
		return failResponse(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getNonce(req Request) Response {
	var params struct {
		Address crypto.Address `json:"address"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := requireAddress(req, "address", params.Address); resp != nil {
		return *resp
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, acc)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	if !vm.Registered(tx.Type) {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unknown transaction type %q", tx.Type))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeTxRejected, err.Error())
	}
	h.logger.Debug("tx accepted", "tx_id", tx.ID, "type", tx.Type)
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

// ---- ledger reads ----

type ownerParams struct {
	Owner crypto.Address `json:"owner"`
}

func (h *Handler) getPlayer(ctx context.Context, req Request) Response {
	var params ownerParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := requireAddress(req, "owner", params.Owner); resp != nil {
		return *resp
	}
	p, err := h.ledger.Player(ctx, params.Owner)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, p)
}

// PlayerStats is the result of getPlayerStats.
type PlayerStats struct {
	Owner            crypto.Address `json:"owner"`
	Address          crypto.Address `json:"address"`
	TotalCredits     uint64         `json:"total_credits"`
	TokensMinted     uint64         `json:"tokens_minted"`
	BricksConverted  uint64         `json:"bricks_converted"`
	CollectionEvents uint64         `json:"collection_events"`
	Balance          uint64         `json:"balance"`
}

func (h *Handler) getPlayerStats(ctx context.Context, req Request) Response {
	var params ownerParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := requireAddress(req, "owner", params.Owner); resp != nil {
		return *resp
	}
	p, err := h.ledger.Player(ctx, params.Owner)
	if err != nil {
		return failResponse(req.ID, err)
	}
	addr, _, err := h.ledger.Addresses().Player(params.Owner)
	if err != nil {
		return failResponse(req.ID, err)
	}
	// Before the ledger config exists there is no mint, so no balance.
	balance, err := h.ledger.Balance(ctx, params.Owner)
	if err != nil && !errors.Is(err, core.ErrNotInitialized) {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, PlayerStats{
		Owner:            p.Owner,
		Address:          addr,
		TotalCredits:     p.TotalCredits,
		TokensMinted:     p.TokensMinted,
		BricksConverted:  p.BricksConverted,
		CollectionEvents: p.CollectionEvents,
		Balance:          balance,
	})
}

// GlobalStats is the result of getGlobalStats.
type GlobalStats struct {
	Authority          crypto.Address `json:"authority"`
	BlockMint          crypto.Address `json:"block_mint"`
	TotalTokensMinted  uint64         `json:"total_tokens_minted"`
	TotalBricksCreated uint64         `json:"total_bricks_created"`
	Supply             uint64         `json:"supply"`
	Height             int64          `json:"height"`
}

func (h *Handler) getGlobalStats(ctx context.Context, req Request) Response {
	cfg, err := h.ledger.Config(ctx)
	if err != nil {
		return failResponse(req.ID, err)
	}
	supply, err := h.ledger.Supply(ctx)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, GlobalStats{
		Authority:          cfg.Authority,
		BlockMint:          cfg.BlockMint,
		TotalTokensMinted:  cfg.TotalTokensMinted,
		TotalBricksCreated: cfg.TotalBricksCreated,
		Supply:             supply,
		Height:             h.bc.Height(),
	})
}

// getPool accepts either the pool address or the (owner, seed) pair it
// derives from.
func (h *Handler) getPool(ctx context.Context, req Request) Response {
	var params struct {
		Address crypto.Address `json:"address"`
		Owner   crypto.Address `json:"owner"`
		Seed    uint64         `json:"seed"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	addr := params.Address
	if addr.IsZero() {
		if resp := requireAddress(req, "address or owner", params.Owner); resp != nil {
			return *resp
		}
		var err error
		if addr, _, err = h.ledger.Addresses().Pool(params.Owner, params.Seed); err != nil {
			return failResponse(req.ID, err)
		}
	}
	pool, err := h.ledger.Pool(ctx, addr)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"address": addr, "pool": pool})
}

func (h *Handler) getReceipt(ctx context.Context, req Request) Response {
	var params struct {
		Player        crypto.Address `json:"player"`
		AttestationID core.Hash32    `json:"attestation_id"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := requireAddress(req, "player", params.Player); resp != nil {
		return *resp
	}
	r, err := h.ledger.Receipt(ctx, params.Player, params.AttestationID)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, r)
}

func (h *Handler) getTokenBalance(ctx context.Context, req Request) Response {
	var params ownerParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := requireAddress(req, "owner", params.Owner); resp != nil {
		return *resp
	}
	balance, err := h.ledger.Balance(ctx, params.Owner)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"owner": params.Owner, "balance": balance})
}

// ---- index reads ----

func (h *Handler) getPoolsByOwner(req Request) Response {
	var params ownerParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := requireAddress(req, "owner", params.Owner); resp != nil {
		return *resp
	}
	ids, err := h.indexer.PoolsByOwner(params.Owner.String())
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getReceiptsByPlayer(req Request) Response {
	var params struct {
		Player crypto.Address `json:"player"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if resp := requireAddress(req, "player", params.Player); resp != nil {
		return *resp
	}
	ids, err := h.indexer.ReceiptsByPlayer(params.Player.String())
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getTxResult(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.TxID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	res, err := h.indexer.TxResult(params.TxID)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, res)
}
