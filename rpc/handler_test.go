package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/events"
	"github.com/tolelom/ecobuild/indexer"
	"github.com/tolelom/ecobuild/internal/testutil"
	"github.com/tolelom/ecobuild/ledger"
	"github.com/tolelom/ecobuild/rpc"
	_ "github.com/tolelom/ecobuild/vm/modules/ecobuild"
	"github.com/tolelom/ecobuild/wallet"
)

const chainID = "eco-rpc-test"

type fixture struct {
	handler   *rpc.Handler
	svc       *ledger.Service
	mempool   *core.Mempool
	emitter   *events.Emitter
	authority *wallet.Wallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := testutil.NewStateDB()
	emitter := events.NewEmitter(nil)
	idx := indexer.New(testutil.NewMemDB(), emitter, nil)
	bc := core.NewBlockchain(testutil.NewBlockStore())
	require.NoError(t, bc.Init())
	mp := core.NewMempool(chainID, 0)
	svc := ledger.NewService(state, ledger.WithSink(emitter))

	authority, err := wallet.Generate(chainID)
	require.NoError(t, err)
	_, err = svc.InitializeConfig(context.Background(), authority.Address())
	require.NoError(t, err)

	return &fixture{
		handler:   rpc.NewHandler(bc, mp, svc, state, idx, chainID, nil),
		svc:       svc,
		mempool:   mp,
		emitter:   emitter,
		authority: authority,
	}
}

func (f *fixture) call(method string, params any) rpc.Response {
	raw, _ := json.Marshal(params)
	return f.handler.Dispatch(context.Background(), rpc.Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  raw,
	})
}

// decode re-encodes a direct Dispatch result the way a client would see it.
func decode(t *testing.T, resp rpc.Response, v any) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestGetBlockHeightFreshChain(t *testing.T) {
	f := newFixture(t)
	var height int64
	decode(t, f.call("getBlockHeight", struct{}{}), &height)
	assert.Equal(t, int64(0), height)
}

func TestUnknownMethod(t *testing.T) {
	f := newFixture(t)
	resp := f.call("getAsset", struct{}{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
}

func TestPlayerStatsNotInitializedCarriesLedgerCode(t *testing.T) {
	f := newFixture(t)
	w, err := wallet.Generate(chainID)
	require.NoError(t, err)

	resp := f.call("getPlayerStats", map[string]string{"owner": w.Address().String()})
	require.NotNil(t, resp.Error)
	assert.Equal(t, core.CodeNotInitialized.Number(), resp.Error.Code)
	require.NotNil(t, resp.Error.Data)
	assert.Equal(t, core.CodeNotInitialized, resp.Error.Data.Code)
	assert.NotEmpty(t, resp.Error.Data.Metadata["address"])
}

func TestPlayerAndGlobalStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w, err := wallet.Generate(chainID)
	require.NoError(t, err)

	_, err = f.svc.InitializePlayer(ctx, w.Address())
	require.NoError(t, err)
	_, err = f.svc.MintTokens(ctx, f.authority.Address(), w.Address(), 25, int64(core.MaterialGlass))
	require.NoError(t, err)
	_, err = f.svc.ConvertToBrick(ctx, w.Address())
	require.NoError(t, err)

	var stats rpc.PlayerStats
	decode(t, f.call("getPlayerStats", map[string]string{"owner": w.Address().String()}), &stats)
	assert.Equal(t, w.Address(), stats.Owner)
	assert.Equal(t, uint64(25), stats.TokensMinted)
	assert.Equal(t, uint64(1), stats.BricksConverted)
	assert.Equal(t, uint64(1), stats.CollectionEvents)
	assert.Equal(t, uint64(15), stats.Balance)

	var global rpc.GlobalStats
	decode(t, f.call("getGlobalStats", nil), &global)
	assert.Equal(t, f.authority.Address(), global.Authority)
	assert.Equal(t, uint64(25), global.TotalTokensMinted)
	assert.Equal(t, uint64(1), global.TotalBricksCreated)
	assert.Equal(t, uint64(15), global.Supply)

	var bal struct {
		Balance uint64 `json:"balance"`
	}
	decode(t, f.call("getTokenBalance", map[string]string{"owner": w.Address().String()}), &bal)
	assert.Equal(t, uint64(15), bal.Balance)
}

func TestPlayerStatsBeforeLedgerConfig(t *testing.T) {
	state := testutil.NewStateDB()
	bc := core.NewBlockchain(testutil.NewBlockStore())
	require.NoError(t, bc.Init())
	emitter := events.NewEmitter(nil)
	svc := ledger.NewService(state)
	h := rpc.NewHandler(bc, core.NewMempool(chainID, 0), svc, state, indexer.New(testutil.NewMemDB(), emitter, nil), chainID, nil)

	w, err := wallet.Generate(chainID)
	require.NoError(t, err)
	_, err = svc.InitializePlayer(context.Background(), w.Address())
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]string{"owner": w.Address().String()})
	require.NoError(t, err)
	resp := h.Dispatch(context.Background(), rpc.Request{JSONRPC: "2.0", ID: 1, Method: "getPlayerStats", Params: raw})
	var stats rpc.PlayerStats
	decode(t, resp, &stats)
	assert.Equal(t, w.Address(), stats.Owner)
	assert.Zero(t, stats.Balance)
}

func TestGetPoolByOwnerSeedAndIndex(t *testing.T) {
	f := newFixture(t)
	w, err := wallet.Generate(chainID)
	require.NoError(t, err)
	_, err = f.svc.CreateProjectPool(context.Background(), w.Address(), 3, 500, "Community Garden")
	require.NoError(t, err)

	var got struct {
		Address string           `json:"address"`
		Pool    core.ProjectPool `json:"pool"`
	}
	decode(t, f.call("getPool", map[string]any{"owner": w.Address().String(), "seed": 3}), &got)
	assert.Equal(t, "Community Garden", got.Pool.Name())
	assert.Equal(t, uint64(500), got.Pool.Goal)

	var pools []string
	decode(t, f.call("getPoolsByOwner", map[string]string{"owner": w.Address().String()}), &pools)
	assert.Equal(t, []string{got.Address}, pools)

	resp := f.call("getPool", map[string]any{"owner": w.Address().String(), "seed": 4})
	require.NotNil(t, resp.Error)
	assert.Equal(t, core.CodeNotInitialized.Number(), resp.Error.Code)
}

func TestMissingAddressIsInvalidParams(t *testing.T) {
	f := newFixture(t)
	for _, method := range []string{"getPlayer", "getTokenBalance", "getNonce", "getReceiptsByPlayer"} {
		resp := f.call(method, struct{}{})
		require.NotNil(t, resp.Error, method)
		assert.Equal(t, rpc.CodeInvalidParams, resp.Error.Code, method)
	}
	resp := f.call("getPlayer", map[string]string{"owner": "not-base58-0OIl"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidParams, resp.Error.Code)
}

func TestSendTx(t *testing.T) {
	f := newFixture(t)
	w, err := wallet.Generate(chainID)
	require.NoError(t, err)

	tx, err := w.InitializePlayer(0)
	require.NoError(t, err)
	var accepted map[string]string
	decode(t, f.call("sendTx", tx), &accepted)
	assert.Equal(t, tx.ID, accepted["tx_id"])
	assert.Equal(t, 1, f.mempool.Size())

	resp := f.call("sendTx", tx)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeTxRejected, resp.Error.Code)

	other := wallet.New("other-chain", w.PrivKey())
	foreign, err := other.InitializePlayer(1)
	require.NoError(t, err)
	resp = f.call("sendTx", foreign)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidParams, resp.Error.Code)

	unknown, err := w.NewTx(core.TxType("transfer"), 2, struct{}{})
	require.NoError(t, err)
	resp = f.call("sendTx", unknown)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidParams, resp.Error.Code)
	assert.Equal(t, 1, f.mempool.Size())
}

func TestGetTxResultNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.call("getTxResult", map[string]string{"tx_id": "deadbeef"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeNotFound, resp.Error.Code)
}

func TestServerHTTP(t *testing.T) {
	f := newFixture(t)
	srv := rpc.NewServer("127.0.0.1:0", f.handler, nil, "secret", nil)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	post := func(token string, body string) rpc.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewBufferString(body))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		var resp rpc.Response
		require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
		return resp
	}

	resp := post("wrong", `{"jsonrpc":"2.0","id":1,"method":"getBlockHeight"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeUnauthorized, resp.Error.Code)

	resp = post("secret", `{"jsonrpc":"1.0","id":1,"method":"getBlockHeight"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidRequest, resp.Error.Code)

	resp = post("secret", `{not json`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeParseError, resp.Error.Code)

	resp = post("secret", `{"jsonrpc":"2.0","id":1,"method":"getBlockHeight"}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, float64(0), resp.Result)

	res, err := http.Get(ts.URL)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}
