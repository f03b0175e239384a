// Package ledger implements the mutation surface of the rewards economy:
// player ledgers, project pools, collection receipts, the global config and
// BLOCK token minting and conversion.
//
// Every mutation validates first, computes every new value with checked
// arithmetic, and only then writes. Writes happen inside a state snapshot
// so a failed write reverts the whole operation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/events"
	"github.com/tolelom/ecobuild/token"
)

// BricksExchangeRate is the number of BLOCK tokens burned per brick.
const BricksExchangeRate = 10

const tracerName = "github.com/tolelom/ecobuild/ledger"

// Sink receives notifications after a mutation succeeds.
type Sink interface {
	Emit(ev events.Event)
}

type nopSink struct{}

func (nopSink) Emit(events.Event) {}

// Option configures a Service.
type Option func(*Service)

// WithProgramID sets the program id record identities are derived under.
func WithProgramID(id crypto.Address) Option {
	return func(s *Service) { s.addrs.ProgramID = id }
}

// WithSink sets the notification sink.
func WithSink(sink Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithClock sets the source of notification timestamps in unix seconds.
func WithClock(now func() int64) Option {
	return func(s *Service) { s.now = now }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) { s.tracer = tr }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service applies ledger mutations to a core.State. Mutations are
// serialized.
type Service struct {
	mu     sync.Mutex
	state  core.State
	tokens *token.Ledger
	addrs  Addresses
	sink   Sink
	now    func() int64
	tracer trace.Tracer
	logger *slog.Logger
}

// NewService returns a Service over state.
func NewService(state core.State, opts ...Option) *Service {
	s := &Service{
		state:  state,
		addrs:  Addresses{ProgramID: DefaultProgramID},
		sink:   nopSink{},
		now:    func() int64 { return time.Now().Unix() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.logger = s.logger.With("component", "ledger")
	s.tokens = token.New(state, s.addrs.ProgramID)
	return s
}

// Addresses returns the identity resolver the service derives records with.
func (s *Service) Addresses() Addresses { return s.addrs }

// mutate runs fn under the service lock inside a state snapshot and emits
// the returned events only when fn succeeds.
func (s *Service) mutate(ctx context.Context, op string, fn func() ([]events.Event, error)) error {
	ctx, span := s.tracer.Start(ctx, "ledger."+op)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	evs, err := s.apply(fn)
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := core.CodeOf(err); code != "" {
			span.SetAttributes(attribute.String("ledger.error_code", string(code)))
		}
		s.logger.DebugContext(ctx, "mutation rejected", "op", op, "error", err)
		return err
	}
	for _, ev := range evs {
		s.sink.Emit(ev)
	}
	return nil
}

func (s *Service) apply(fn func() ([]events.Event, error)) ([]events.Event, error) {
	snap, err := s.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	evs, err := fn()
	if err != nil {
		if revertErr := s.state.RevertToSnapshot(snap); revertErr != nil {
			return nil, fmt.Errorf("revert after %w: %v", err, revertErr)
		}
		return nil, err
	}
	return evs, nil
}

// ---- operations ----

// InitializeConfig creates the GlobalLedgerConfig with authority as the
// minting authority, and the BLOCK mint it administers. It succeeds once.
func (s *Service) InitializeConfig(ctx context.Context, authority crypto.Address) (*core.GlobalLedgerConfig, error) {
	cfg := new(core.GlobalLedgerConfig)
	err := s.mutate(ctx, "initialize_config", func() ([]events.Event, error) {
		cfgAddr, bump, err := s.addrs.Config()
		if err != nil {
			return nil, err
		}
		mintAddr, mintBump, err := s.addrs.Mint()
		if err != nil {
			return nil, err
		}
		if err := cfg.Initialize(authority, bump, mintAddr, mintBump); err != nil {
			return nil, err
		}
		if err := s.state.Create(cfgAddr, cfg); err != nil {
			return nil, err
		}
		if err := s.tokens.CreateMint(mintAddr, cfgAddr); err != nil {
			return nil, err
		}
		return []events.Event{s.event(events.EventConfigInitialized, map[string]any{
			"authority":  authority.String(),
			"config":     cfgAddr.String(),
			"block_mint": mintAddr.String(),
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitializePlayer creates the PlayerLedger of owner with zeroed counters.
func (s *Service) InitializePlayer(ctx context.Context, owner crypto.Address) (*core.PlayerLedger, error) {
	player := new(core.PlayerLedger)
	err := s.mutate(ctx, "initialize_player", func() ([]events.Event, error) {
		addr, bump, err := s.addrs.Player(owner)
		if err != nil {
			return nil, err
		}
		if err := player.Initialize(owner, bump); err != nil {
			return nil, err
		}
		if err := s.state.Create(addr, player); err != nil {
			return nil, err
		}
		return []events.Event{s.event(events.EventPlayerInitialized, map[string]any{
			"player":  owner.String(),
			"address": addr.String(),
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// CreateProjectPool creates the pool identified by owner and seed.
func (s *Service) CreateProjectPool(ctx context.Context, owner crypto.Address, seed, goal uint64, name string) (*core.ProjectPool, error) {
	pool := new(core.ProjectPool)
	err := s.mutate(ctx, "create_project_pool", func() ([]events.Event, error) {
		addr, bump, err := s.addrs.Pool(owner, seed)
		if err != nil {
			return nil, err
		}
		if err := pool.Initialize(owner, bump, seed, goal, name); err != nil {
			return nil, err
		}
		if err := s.state.Create(addr, pool); err != nil {
			return nil, err
		}
		return []events.Event{s.event(events.EventPoolCreated, map[string]any{
			"owner": owner.String(),
			"pool":  addr.String(),
			"seed":  seed,
			"goal":  goal,
			"name":  pool.Name(),
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// ContributeCredits credits amount to the caller's ledger and to the pool
// at poolAddr as one unit. The caller's ledger must exist.
func (s *Service) ContributeCredits(ctx context.Context, caller, poolAddr crypto.Address, amount uint64) error {
	return s.mutate(ctx, "contribute_credits", func() ([]events.Event, error) {
		if amount == 0 {
			return nil, core.ErrInvalidAmount
		}
		playerAddr, _, err := s.addrs.Player(caller)
		if err != nil {
			return nil, err
		}
		var player core.PlayerLedger
		if err := s.load(playerAddr, &player); err != nil {
			return nil, err
		}
		if player.Owner != caller {
			return nil, core.ErrUnauthorized
		}
		var pool core.ProjectPool
		if err := s.load(poolAddr, &pool); err != nil {
			return nil, err
		}

		if err := player.AddCredits(amount); err != nil {
			return nil, err
		}
		if err := pool.RecordContribution(amount); err != nil {
			return nil, err
		}

		if err := s.state.Update(playerAddr, &player); err != nil {
			return nil, err
		}
		if err := s.state.Update(poolAddr, &pool); err != nil {
			return nil, err
		}
		return []events.Event{s.event(events.EventCreditsContributed, map[string]any{
			"player":   caller.String(),
			"pool":     poolAddr.String(),
			"amount":   amount,
			"received": pool.Received,
		})}, nil
	})
}

// MintReceipt records a collection event for player. The parameters are
// validated before the receipt identity is derived; a second receipt for
// the same (player, attestation) fails with ErrAlreadyExists.
func (s *Service) MintReceipt(ctx context.Context, player crypto.Address, params core.ReceiptParams) (*core.CollectionReceipt, error) {
	receipt := new(core.CollectionReceipt)
	err := s.mutate(ctx, "mint_poc_receipt", func() ([]events.Event, error) {
		if err := params.Validate(); err != nil {
			return nil, err
		}
		playerAddr, _, err := s.addrs.Player(player)
		if err != nil {
			return nil, err
		}
		if err := s.load(playerAddr, &core.PlayerLedger{}); err != nil {
			return nil, err
		}
		addr, bump, err := s.addrs.Receipt(player, params.AttestationID)
		if err != nil {
			return nil, err
		}
		if err := receipt.Initialize(player, bump, params); err != nil {
			return nil, err
		}
		if err := s.state.Create(addr, receipt); err != nil {
			return nil, err
		}
		return []events.Event{s.event(events.EventReceiptMinted, map[string]any{
			"player":         player.String(),
			"receipt":        addr.String(),
			"attestation_id": params.AttestationID.String(),
			"material_kind":  receipt.Material.String(),
			"quantity":       receipt.Quantity,
			"timestamp":      receipt.Timestamp,
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// MintTokens mints amount BLOCK tokens to target. Only the config authority
// may call it. The target's PlayerLedger is created on first mint.
func (s *Service) MintTokens(ctx context.Context, caller, target crypto.Address, amount uint64, wasteKind int64) (*core.PlayerLedger, error) {
	player := new(core.PlayerLedger)
	err := s.mutate(ctx, "mint_blocks", func() ([]events.Event, error) {
		cfgAddr, _, err := s.addrs.Config()
		if err != nil {
			return nil, err
		}
		var cfg core.GlobalLedgerConfig
		if err := s.load(cfgAddr, &cfg); err != nil {
			return nil, err
		}
		if caller != cfg.Authority {
			return nil, core.WithMetadata(core.CodeUnauthorized, "caller is not the authority", map[string]string{
				"caller": caller.String(),
			})
		}
		if amount == 0 {
			return nil, core.ErrInvalidAmount
		}
		kind, err := core.ParseMaterialKind(wasteKind)
		if err != nil {
			return nil, err
		}

		// Load or default, so both paths share the rest of the function.
		playerAddr, bump, err := s.addrs.Player(target)
		if err != nil {
			return nil, err
		}
		exists := true
		err = s.state.Get(playerAddr, player)
		if errors.Is(err, core.ErrNotFound) {
			exists = false
			err = player.Initialize(target, bump)
		}
		if err != nil {
			return nil, err
		}

		if err := player.RecordMint(amount); err != nil {
			return nil, err
		}
		if err := cfg.RecordMint(amount); err != nil {
			return nil, err
		}

		if err := s.tokens.Mint(cfg.BlockMint, cfgAddr, target, amount); err != nil {
			return nil, err
		}
		if exists {
			err = s.state.Update(playerAddr, player)
		} else {
			err = s.state.Create(playerAddr, player)
		}
		if err != nil {
			return nil, err
		}
		if err := s.state.Update(cfgAddr, &cfg); err != nil {
			return nil, err
		}
		return []events.Event{s.event(events.EventTokensMinted, map[string]any{
			"player":     target.String(),
			"amount":     amount,
			"waste_kind": kind.String(),
			"timestamp":  s.now(),
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// ConvertToBrick burns BricksExchangeRate BLOCK tokens from owner and
// records one brick.
func (s *Service) ConvertToBrick(ctx context.Context, owner crypto.Address) (*core.PlayerLedger, error) {
	player := new(core.PlayerLedger)
	err := s.mutate(ctx, "convert_to_brick", func() ([]events.Event, error) {
		cfgAddr, _, err := s.addrs.Config()
		if err != nil {
			return nil, err
		}
		var cfg core.GlobalLedgerConfig
		if err := s.load(cfgAddr, &cfg); err != nil {
			return nil, err
		}
		balance, err := s.tokens.Balance(cfg.BlockMint, owner)
		if err != nil {
			return nil, err
		}
		if balance < BricksExchangeRate {
			return nil, core.WithMetadata(core.CodeInsufficientBlocks, "insufficient BLOCK tokens for conversion", map[string]string{
				"balance":  fmt.Sprint(balance),
				"required": fmt.Sprint(BricksExchangeRate),
			})
		}
		playerAddr, _, err := s.addrs.Player(owner)
		if err != nil {
			return nil, err
		}
		if err := s.load(playerAddr, player); err != nil {
			return nil, err
		}

		if err := player.RecordConversion(); err != nil {
			return nil, err
		}
		if err := cfg.RecordBrick(); err != nil {
			return nil, err
		}

		if err := s.tokens.Burn(cfg.BlockMint, owner, BricksExchangeRate, owner); err != nil {
			return nil, err
		}
		if err := s.state.Update(playerAddr, player); err != nil {
			return nil, err
		}
		if err := s.state.Update(cfgAddr, &cfg); err != nil {
			return nil, err
		}
		return []events.Event{s.event(events.EventBrickConverted, map[string]any{
			"player":    owner.String(),
			"bricks":    player.BricksConverted,
			"timestamp": s.now(),
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// ---- reads ----

// Config returns the GlobalLedgerConfig.
func (s *Service) Config(ctx context.Context) (*core.GlobalLedgerConfig, error) {
	addr, _, err := s.addrs.Config()
	if err != nil {
		return nil, err
	}
	cfg := new(core.GlobalLedgerConfig)
	return cfg, s.read(ctx, addr, cfg)
}

// Player returns the PlayerLedger of owner.
func (s *Service) Player(ctx context.Context, owner crypto.Address) (*core.PlayerLedger, error) {
	addr, _, err := s.addrs.Player(owner)
	if err != nil {
		return nil, err
	}
	p := new(core.PlayerLedger)
	return p, s.read(ctx, addr, p)
}

// Pool returns the ProjectPool stored at addr.
func (s *Service) Pool(ctx context.Context, addr crypto.Address) (*core.ProjectPool, error) {
	p := new(core.ProjectPool)
	return p, s.read(ctx, addr, p)
}

// Receipt returns the receipt of player for attestation.
func (s *Service) Receipt(ctx context.Context, player crypto.Address, attestation core.Hash32) (*core.CollectionReceipt, error) {
	addr, _, err := s.addrs.Receipt(player, attestation)
	if err != nil {
		return nil, err
	}
	r := new(core.CollectionReceipt)
	return r, s.read(ctx, addr, r)
}

// Balance returns owner's BLOCK token balance.
func (s *Service) Balance(ctx context.Context, owner crypto.Address) (uint64, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Balance(cfg.BlockMint, owner)
}

// Supply returns the total BLOCK token supply.
func (s *Service) Supply(ctx context.Context) (uint64, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Supply(cfg.BlockMint)
}

func (s *Service) read(ctx context.Context, addr crypto.Address, rec core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(addr, rec)
}

// load reads rec at addr and maps absence to ErrNotInitialized.
func (s *Service) load(addr crypto.Address, rec core.Record) error {
	err := s.state.Get(addr, rec)
	if errors.Is(err, core.ErrNotFound) {
		return core.WithMetadata(core.CodeNotInitialized, rec.RecordType()+" is not initialized", map[string]string{
			"address": addr.String(),
		})
	}
	return err
}

func (s *Service) event(typ events.EventType, data map[string]any) events.Event {
	return events.Event{Type: typ, Data: data}
}
