package config

import (
	"context"
	"fmt"
	"time"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/ledger"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs block #0. When the config names a
// ledger authority, the GlobalLedgerConfig and BLOCK mint are created
// first; sink receives the resulting notification. State is committed
// before the block is returned.
func CreateGenesisBlock(ctx context.Context, cfg *Config, state core.State, sink ledger.Sink, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	programID, err := cfg.ProgramAddress()
	if err != nil {
		return nil, err
	}
	authority, err := cfg.AuthorityAddress()
	if err != nil {
		return nil, err
	}

	block := core.NewBlock(cfg.Genesis.ChainID, 0, GenesisHash, proposerPriv.Public().Hex(), nil)
	if cfg.Genesis.Timestamp != 0 {
		block.Header.Timestamp = cfg.Genesis.Timestamp * int64(time.Second)
	}

	if !authority.IsZero() {
		svc := ledger.NewService(state,
			ledger.WithProgramID(programID),
			ledger.WithSink(sink),
			ledger.WithClock(block.Header.Unix),
		)
		if _, err := svc.InitializeConfig(ctx, authority); err != nil {
			return nil, fmt.Errorf("initialize ledger config: %w", err)
		}
	}

	block.Header.StateRoot = state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}
	block.Sign(proposerPriv)
	return block, nil
}
