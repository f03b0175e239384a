// Package config loads node configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/ledger"
)

// EnvPrefix prefixes every environment override, e.g. ECOBUILD_RPC_PORT.
const EnvPrefix = "ECOBUILD"

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string `yaml:"chainId"   split_words:"true"`
	// Authority, when set, receives the GlobalLedgerConfig at genesis.
	Authority string `yaml:"authority"`
	// Timestamp pins the genesis block time (unix seconds); 0 uses now.
	Timestamp int64 `yaml:"timestamp"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string        `yaml:"nodeId"        split_words:"true"`
	DataDir       string        `yaml:"dataDir"       split_words:"true"`
	BindAddr      string        `yaml:"bindAddr"      split_words:"true"`
	RPCPort       uint          `yaml:"rpcPort"       envconfig:"RPC_PORT"`
	MetricsPort   uint          `yaml:"metricsPort"   split_words:"true"`
	BlockInterval time.Duration `yaml:"blockInterval" split_words:"true"`
	MaxBlockTxs   int           `yaml:"maxBlockTxs"   split_words:"true"`
	MempoolSize   int           `yaml:"mempoolSize"   split_words:"true"`
	Validator     string        `yaml:"validator"` // proposer pubkey hex; empty binds the node key
	RPCAuthToken  string        `yaml:"rpcAuthToken"  envconfig:"RPC_AUTH_TOKEN"`
	ProgramID     string        `yaml:"programId"     split_words:"true"` // base58; empty selects ledger.DefaultProgramID
	OtelEndpoint  string        `yaml:"otelEndpoint"  split_words:"true"`
	Genesis       GenesisConfig `yaml:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		BindAddr:      "127.0.0.1",
		RPCPort:       8545,
		MetricsPort:   9090,
		BlockInterval: 5 * time.Second,
		MaxBlockTxs:   500,
		Genesis: GenesisConfig{
			ChainID: "ecobuild-dev",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and then with ECOBUILD_* environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Genesis.ChainID == "" {
		return errors.New("genesis.chainId is required")
	}
	if c.RPCPort == 0 || c.RPCPort > 65535 {
		return fmt.Errorf("invalid rpcPort %d", c.RPCPort)
	}
	if c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metricsPort %d", c.MetricsPort)
	}
	if c.BlockInterval <= 0 {
		return fmt.Errorf("blockInterval must be positive, got %s", c.BlockInterval)
	}
	if c.MaxBlockTxs <= 0 {
		return fmt.Errorf("maxBlockTxs must be positive, got %d", c.MaxBlockTxs)
	}
	if c.Validator != "" {
		if _, err := crypto.PubKeyFromHex(c.Validator); err != nil {
			return fmt.Errorf("invalid validator %q: %w", c.Validator, err)
		}
	}
	if _, err := c.ProgramAddress(); err != nil {
		return err
	}
	if _, err := c.AuthorityAddress(); err != nil {
		return err
	}
	return nil
}

// ErrForeignValidator is returned by BindValidator when the configured
// proposer is not the key this node signs with.
var ErrForeignValidator = errors.New("validator is not this node's key")

// BindValidator makes pub the chain's proposer. A node has no peers to
// follow, so a validator other than its own key could never produce a block.
func (c *Config) BindValidator(pub crypto.PublicKey) error {
	if c.Validator == "" {
		c.Validator = pub.Hex()
		return nil
	}
	if c.Validator != pub.Hex() {
		return fmt.Errorf("%w: configured %s, node key %s", ErrForeignValidator, c.Validator, pub.Hex())
	}
	return nil
}

// ProgramAddress returns the configured program id.
func (c *Config) ProgramAddress() (crypto.Address, error) {
	if c.ProgramID == "" {
		return ledger.DefaultProgramID, nil
	}
	addr, err := crypto.ParseAddress(c.ProgramID)
	if err != nil {
		return crypto.ZeroAddress, fmt.Errorf("invalid programId: %w", err)
	}
	return addr, nil
}

// AuthorityAddress returns the genesis ledger authority, or the zero
// address when none is configured.
func (c *Config) AuthorityAddress() (crypto.Address, error) {
	if c.Genesis.Authority == "" {
		return crypto.ZeroAddress, nil
	}
	addr, err := crypto.ParseAddress(c.Genesis.Authority)
	if err != nil {
		return crypto.ZeroAddress, fmt.Errorf("invalid genesis.authority: %w", err)
	}
	return addr, nil
}
