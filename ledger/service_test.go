package ledger_test

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/events"
	"github.com/tolelom/ecobuild/internal/testutil"
	"github.com/tolelom/ecobuild/ledger"
	"github.com/tolelom/ecobuild/storage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Emit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) ofType(typ events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc       *ledger.Service
	state     *storage.StateDB
	db        *testutil.MemDB
	sink      *recordingSink
	authority crypto.Address
}

func newAddr(t *testing.T) crypto.Address {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pub.Address()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	sink := &recordingSink{}
	svc := ledger.NewService(state,
		ledger.WithSink(sink),
		ledger.WithClock(func() int64 { return 1_700_000_000 }),
	)
	authority := newAddr(t)
	_, err := svc.InitializeConfig(context.Background(), authority)
	require.NoError(t, err)
	return &fixture{svc: svc, state: state, db: db, sink: sink, authority: authority}
}

func TestInitializeConfigOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.authority, cfg.Authority)
	assert.Zero(t, cfg.TotalTokensMinted)
	assert.Zero(t, cfg.TotalBricksCreated)

	mint, _, err := f.svc.Addresses().Mint()
	require.NoError(t, err)
	assert.Equal(t, mint, cfg.BlockMint)

	_, err = f.svc.InitializeConfig(ctx, newAddr(t))
	require.ErrorIs(t, err, core.ErrAlreadyExists)

	cfg, err = f.svc.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.authority, cfg.Authority, "authority must be immutable")
}

func TestInitializePlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := newAddr(t)

	p, err := f.svc.InitializePlayer(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, owner, p.Owner)
	assert.Equal(t, core.PlayerLedger{Owner: owner, Bump: p.Bump}, *p)

	_, err = f.svc.InitializePlayer(ctx, owner)
	require.ErrorIs(t, err, core.ErrAlreadyExists)
	assert.Len(t, f.sink.ofType(events.EventPlayerInitialized), 1)
}

func TestContributeCreditsScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := newAddr(t)

	_, err := f.svc.InitializePlayer(ctx, owner)
	require.NoError(t, err)
	_, err = f.svc.CreateProjectPool(ctx, owner, 1, 10, "community garden")
	require.NoError(t, err)
	poolAddr, _, err := f.svc.Addresses().Pool(owner, 1)
	require.NoError(t, err)

	require.NoError(t, f.svc.ContributeCredits(ctx, owner, poolAddr, 6))
	require.NoError(t, f.svc.ContributeCredits(ctx, owner, poolAddr, 6))

	pool, err := f.svc.Pool(ctx, poolAddr)
	require.NoError(t, err)
	assert.EqualValues(t, 12, pool.Received, "over-funding is allowed")
	assert.EqualValues(t, 10, pool.Goal)

	player, err := f.svc.Player(ctx, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 12, player.TotalCredits)
}

func TestContributeCreditsOverflowIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := newAddr(t)

	_, err := f.svc.InitializePlayer(ctx, owner)
	require.NoError(t, err)
	_, err = f.svc.CreateProjectPool(ctx, owner, 2, 10, "park")
	require.NoError(t, err)
	poolAddr, _, _ := f.svc.Addresses().Pool(owner, 2)

	require.NoError(t, f.svc.ContributeCredits(ctx, owner, poolAddr, 100))
	root := f.state.ComputeRoot()

	err = f.svc.ContributeCredits(ctx, owner, poolAddr, math.MaxUint64)
	require.ErrorIs(t, err, core.ErrOverflow)
	assert.Equal(t, root, f.state.ComputeRoot(), "failed mutation must not change state")

	player, _ := f.svc.Player(ctx, owner)
	assert.EqualValues(t, 100, player.TotalCredits)
}

func TestContributeCreditsPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, stranger := newAddr(t), newAddr(t)

	_, err := f.svc.CreateProjectPool(ctx, owner, 3, 5, "p")
	require.NoError(t, err)
	poolAddr, _, _ := f.svc.Addresses().Pool(owner, 3)

	err = f.svc.ContributeCredits(ctx, stranger, poolAddr, 1)
	require.ErrorIs(t, err, core.ErrNotInitialized, "contributor needs a ledger")

	_, err = f.svc.InitializePlayer(ctx, stranger)
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.ContributeCredits(ctx, stranger, poolAddr, 0), core.ErrInvalidAmount)
	require.ErrorIs(t, f.svc.ContributeCredits(ctx, stranger, newAddr(t), 1), core.ErrNotInitialized)
	require.NoError(t, f.svc.ContributeCredits(ctx, stranger, poolAddr, 1))
}

func TestCreateProjectPoolValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := newAddr(t)

	_, err := f.svc.CreateProjectPool(ctx, owner, 1, 0, "x")
	require.ErrorIs(t, err, core.ErrInvalidAmount)
	_, err = f.svc.CreateProjectPool(ctx, owner, 1, 1, strings.Repeat("a", 33))
	require.ErrorIs(t, err, core.ErrNameTooLong)

	name := strings.Repeat("b", 32)
	pool, err := f.svc.CreateProjectPool(ctx, owner, 1, 1, name)
	require.NoError(t, err)
	assert.Equal(t, name, pool.Name())

	_, err = f.svc.CreateProjectPool(ctx, owner, 1, 99, "again")
	require.ErrorIs(t, err, core.ErrAlreadyExists)

	_, err = f.svc.CreateProjectPool(ctx, owner, 2, 99, "second seed")
	require.NoError(t, err)
}

func receiptParams() core.ReceiptParams {
	return core.ReceiptParams{
		AttestationID: core.Hash32{0xaa, 0x01},
		PhotoHash:     core.Hash32{0xbb},
		ZoneID:        "zone-a",
		Material:      int64(core.MaterialPlastic),
		Quantity:      4,
		Timestamp:     1_700_000_000,
	}
}

func TestMintReceiptDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := newAddr(t)
	_, err := f.svc.InitializePlayer(ctx, player)
	require.NoError(t, err)

	first := receiptParams()
	r, err := f.svc.MintReceipt(ctx, player, first)
	require.NoError(t, err)
	assert.Equal(t, "zone-a", r.ZoneID())

	second := first
	second.PhotoHash = core.Hash32{0xcc}
	second.Quantity = 99
	second.Material = int64(core.MaterialPaper)
	_, err = f.svc.MintReceipt(ctx, player, second)
	require.ErrorIs(t, err, core.ErrAlreadyExists)

	stored, err := f.svc.Receipt(ctx, player, first.AttestationID)
	require.NoError(t, err)
	assert.Equal(t, *r, *stored, "receipt must be write-once")

	other := first
	other.AttestationID = core.Hash32{0xaa, 0x02}
	_, err = f.svc.MintReceipt(ctx, player, other)
	require.NoError(t, err)
	assert.Len(t, f.sink.ofType(events.EventReceiptMinted), 2)
}

func TestMintReceiptConcurrentDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := newAddr(t)
	_, err := f.svc.InitializePlayer(ctx, player)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(q uint64) {
			defer wg.Done()
			p := receiptParams()
			p.Quantity = q
			if _, err := f.svc.MintReceipt(ctx, player, p); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(uint64(i + 1))
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMintReceiptValidationBeforeLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unknown := newAddr(t)

	p := receiptParams()
	p.Quantity = 0
	_, err := f.svc.MintReceipt(ctx, unknown, p)
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	p = receiptParams()
	p.Timestamp = 0
	_, err = f.svc.MintReceipt(ctx, unknown, p)
	require.ErrorIs(t, err, core.ErrInvalidTimestamp)

	p = receiptParams()
	p.ZoneID = strings.Repeat("z", 33)
	_, err = f.svc.MintReceipt(ctx, unknown, p)
	require.ErrorIs(t, err, core.ErrZoneIDTooLong)

	p = receiptParams()
	p.Material = 7
	_, err = f.svc.MintReceipt(ctx, unknown, p)
	require.ErrorIs(t, err, core.ErrInvalidMaterialType)

	_, err = f.svc.MintReceipt(ctx, unknown, receiptParams())
	require.ErrorIs(t, err, core.ErrNotInitialized)
}

func TestMintTokensCreatePathAndUpdatePath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := newAddr(t)

	// Create path: no ledger yet.
	p, err := f.svc.MintTokens(ctx, f.authority, target, 7, int64(core.MaterialGlass))
	require.NoError(t, err)
	assert.Equal(t, target, p.Owner)
	assert.EqualValues(t, 7, p.TokensMinted)
	assert.EqualValues(t, 1, p.CollectionEvents)

	// Update path: same entry point, existing ledger.
	p, err = f.svc.MintTokens(ctx, f.authority, target, 5, int64(core.MaterialMetal))
	require.NoError(t, err)
	assert.EqualValues(t, 12, p.TokensMinted)
	assert.EqualValues(t, 2, p.CollectionEvents)

	bal, err := f.svc.Balance(ctx, target)
	require.NoError(t, err)
	assert.EqualValues(t, 12, bal)

	cfg, _ := f.svc.Config(ctx)
	assert.EqualValues(t, 12, cfg.TotalTokensMinted)

	minted := f.sink.ofType(events.EventTokensMinted)
	require.Len(t, minted, 2)
	assert.Equal(t, map[string]any{
		"player":     target.String(),
		"amount":     uint64(5),
		"waste_kind": "metal",
		"timestamp":  int64(1_700_000_000),
	}, minted[1].Data)
}

func TestMintTokensUnauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := newAddr(t)

	_, err := f.svc.MintTokens(ctx, target, target, 5, 0)
	require.ErrorIs(t, err, core.ErrUnauthorized)

	cfg, _ := f.svc.Config(ctx)
	assert.Zero(t, cfg.TotalTokensMinted)
	_, err = f.svc.Player(ctx, target)
	require.ErrorIs(t, err, core.ErrNotInitialized, "no lazy ledger on rejected mint")
	assert.Empty(t, f.sink.ofType(events.EventTokensMinted))
}

func TestMintTokensRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := newAddr(t)

	_, err := f.svc.MintTokens(ctx, f.authority, target, 0, 0)
	require.ErrorIs(t, err, core.ErrInvalidAmount)
	_, err = f.svc.MintTokens(ctx, f.authority, target, 1, 4)
	require.ErrorIs(t, err, core.ErrInvalidMaterialType)

	bare := ledger.NewService(testutil.NewStateDB())
	_, err = bare.MintTokens(ctx, f.authority, target, 1, 0)
	require.ErrorIs(t, err, core.ErrNotInitialized)
}

func TestMintTokensOverflowIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := newAddr(t)

	_, err := f.svc.MintTokens(ctx, f.authority, target, math.MaxUint64, 0)
	require.NoError(t, err)
	root := f.state.ComputeRoot()

	_, err = f.svc.MintTokens(ctx, f.authority, target, 1, 0)
	require.ErrorIs(t, err, core.ErrOverflow)
	assert.Equal(t, root, f.state.ComputeRoot())

	// A fresh player overflows the config total, not its own counters.
	_, err = f.svc.MintTokens(ctx, f.authority, newAddr(t), 1, 0)
	require.ErrorIs(t, err, core.ErrOverflow)
	assert.Equal(t, root, f.state.ComputeRoot())
}

func TestConvertToBrickScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	player := newAddr(t)

	_, err := f.svc.MintTokens(ctx, f.authority, player, 9, 0)
	require.NoError(t, err)
	_, err = f.svc.ConvertToBrick(ctx, player)
	require.ErrorIs(t, err, core.ErrInsufficientBlocks)

	_, err = f.svc.MintTokens(ctx, f.authority, player, 1, 0)
	require.NoError(t, err)
	p, err := f.svc.ConvertToBrick(ctx, player)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.BricksConverted)

	bal, err := f.svc.Balance(ctx, player)
	require.NoError(t, err)
	assert.Zero(t, bal)

	cfg, _ := f.svc.Config(ctx)
	assert.EqualValues(t, 1, cfg.TotalBricksCreated)
	assert.EqualValues(t, 10, cfg.TotalTokensMinted)

	converted := f.sink.ofType(events.EventBrickConverted)
	require.Len(t, converted, 1)
	assert.Equal(t, uint64(1), converted[0].Data["bricks"])
	assert.Equal(t, player.String(), converted[0].Data["player"])
}

func TestCommitRetryAfterStorageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := newAddr(t)
	require.NoError(t, f.state.Commit())

	_, err := f.svc.MintTokens(ctx, f.authority, target, 3, 0)
	require.NoError(t, err)

	f.db.FailWrites = true
	require.ErrorIs(t, f.state.Commit(), testutil.ErrInjected)
	f.db.FailWrites = false

	// The buffered mint survives a failed flush and lands on retry.
	require.NoError(t, f.state.Commit())
	bal, err := f.svc.Balance(ctx, target)
	require.NoError(t, err)
	assert.EqualValues(t, 3, bal)
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.InitializePlayer(ctx, newAddr(t))
	require.ErrorIs(t, err, context.Canceled)
}

// failingState fails every Update of one record type.
type failingState struct {
	core.State
	failType string
}

func (s *failingState) Update(addr crypto.Address, rec core.Record) error {
	if rec.RecordType() == s.failType {
		return testutil.ErrInjected
	}
	return s.State.Update(addr, rec)
}

func TestWriteFailureRevertsEarlierWrites(t *testing.T) {
	ctx := context.Background()
	state := testutil.NewStateDB()
	authority, target := newAddr(t), newAddr(t)

	setup := ledger.NewService(state)
	_, err := setup.InitializeConfig(ctx, authority)
	require.NoError(t, err)

	// The config is written last, after the token mint and the new ledger.
	sink := &recordingSink{}
	svc := ledger.NewService(&failingState{State: state, failType: core.RecordConfig}, ledger.WithSink(sink))
	_, err = svc.MintTokens(ctx, authority, target, 5, 0)
	require.ErrorIs(t, err, testutil.ErrInjected)
	assert.Empty(t, sink.events)

	bal, err := setup.Balance(ctx, target)
	require.NoError(t, err)
	assert.Zero(t, bal, "token mint must be reverted")
	_, err = setup.Player(ctx, target)
	require.ErrorIs(t, err, core.ErrNotInitialized, "lazy ledger must be reverted")
}
