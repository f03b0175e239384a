// Package node wires storage, execution, consensus and the client-facing
// servers into a running ledger node.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tolelom/ecobuild/config"
	"github.com/tolelom/ecobuild/consensus"
	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/events"
	"github.com/tolelom/ecobuild/indexer"
	"github.com/tolelom/ecobuild/ledger"
	"github.com/tolelom/ecobuild/metrics"
	"github.com/tolelom/ecobuild/rpc"
	"github.com/tolelom/ecobuild/storage"
	"github.com/tolelom/ecobuild/vm"

	// Register transaction handlers.
	_ "github.com/tolelom/ecobuild/vm/modules/ecobuild"
)

// Node is a single ledger node.
type Node struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *storage.LevelDB
	state   *storage.StateDB
	bc      *core.Blockchain
	mempool *core.Mempool
	emitter *events.Emitter
	poa     *consensus.PoA

	rpc        *rpc.Server
	registry   *prometheus.Registry
	metricsSrv *http.Server
	metricsLn  net.Listener

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errCh  chan error
}

// OpenDB opens the node's LevelDB under cfg.DataDir.
func OpenDB(cfg *config.Config) (*storage.LevelDB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	return storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
}

// New opens storage, commits genesis on a fresh chain and builds every
// component. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Config, privKey crypto.PrivateKey, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.BindValidator(privKey.Public()); err != nil {
		return nil, err
	}
	programID, err := cfg.ProgramAddress()
	if err != nil {
		return nil, err
	}

	db, err := OpenDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	n := &Node{
		cfg:      cfg,
		logger:   logger.With("component", "node"),
		db:       db,
		state:    storage.NewStateDB(db),
		bc:       core.NewBlockchain(storage.NewBlockStore(db)),
		mempool:  core.NewMempool(cfg.Genesis.ChainID, cfg.MempoolSize),
		emitter:  events.NewEmitter(logger),
		registry: prometheus.NewRegistry(),
		errCh:    make(chan error, 1),
	}
	if err := n.bc.Init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("blockchain init: %w", err)
	}

	n.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.New(n.registry).Attach(n.emitter)
	idx := indexer.New(db, n.emitter, logger)

	if n.bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(ctx, cfg, n.state, n.emitter, privKey)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("genesis: %w", err)
		}
		if err := n.bc.AddBlock(genesis); err != nil {
			db.Close()
			return nil, fmt.Errorf("add genesis: %w", err)
		}
		n.logger.Info("genesis block committed", "hash", genesis.Hash, "chain_id", cfg.Genesis.ChainID)
	}

	exec := vm.NewExecutor(n.state, n.emitter, programID, logger)
	n.poa = consensus.New(cfg, n.bc, n.state, n.mempool, exec, n.emitter, privKey, logger)

	reads := ledger.NewService(n.state, ledger.WithProgramID(programID), ledger.WithLogger(logger))
	handler := rpc.NewHandler(n.bc, n.mempool, reads, n.state, idx, cfg.Genesis.ChainID, logger)
	stream := rpc.NewStream(n.emitter, logger)
	n.rpc = rpc.NewServer(fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.RPCPort), handler, stream, cfg.RPCAuthToken, logger)

	if cfg.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
		n.metricsSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	}
	return n, nil
}

// Start binds the servers and launches block production.
func (n *Node) Start(ctx context.Context) error {
	if err := n.rpc.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	if n.cfg.RPCAuthToken != "" {
		n.logger.Info("rpc bearer token authentication enabled")
	}

	if n.metricsSrv != nil {
		ln, err := net.Listen("tcp", n.metricsSrv.Addr)
		if err != nil {
			_ = n.rpc.Stop()
			return fmt.Errorf("metrics listen: %w", err)
		}
		n.metricsLn = ln
		n.logger.Info("serving prometheus metrics", "addr", ln.Addr().String())
		go func() {
			if err := n.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.poa.Run(ctx, n.cfg.BlockInterval); err != nil {
			n.errCh <- err
		}
	}()
	n.logger.Info("consensus running", "interval", n.cfg.BlockInterval, "height", n.bc.Height())
	return nil
}

// Err delivers a fatal block production error.
func (n *Node) Err() <-chan error { return n.errCh }

// RPCAddr returns the bound JSON-RPC address.
func (n *Node) RPCAddr() string { return n.rpc.Addr() }

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (n *Node) MetricsAddr() string {
	if n.metricsLn == nil {
		return ""
	}
	return n.metricsLn.Addr().String()
}

// Stop halts block production first so no block is written while the
// servers and storage shut down.
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()

	var errs []error
	if err := n.rpc.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("rpc stop: %w", err))
	}
	if n.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics stop: %w", err))
		}
	}
	if err := n.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close db: %w", err))
	}
	n.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
