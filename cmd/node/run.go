package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tolelom/ecobuild/internal/node"
	"github.com/tolelom/ecobuild/telemetry"
	"github.com/tolelom/ecobuild/wallet"
)

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := commonRun()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			privKey, err := wallet.LoadKey(globalFlags.keyFile, password(logger))
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Setup(ctx, programName, cfg.NodeID, cfg.OtelEndpoint)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Warn("tracing shutdown", "error", err)
				}
			}()

			n, err := node.New(ctx, cfg, privKey, logger)
			if err != nil {
				return err
			}
			if err := n.Start(ctx); err != nil {
				_ = n.Stop()
				return err
			}
			logger.Info("node started",
				"component", programName,
				"node_id", cfg.NodeID,
				"chain_id", cfg.Genesis.ChainID,
				"validator", privKey.Public().Hex(),
				"rpc", n.RPCAddr(),
			)

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("shutting down", "component", programName)
			case runErr = <-n.Err():
				logger.Error("block production stopped", "component", programName, "error", runErr)
			}
			if err := n.Stop(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}
