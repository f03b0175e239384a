package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/internal/node"
	"github.com/tolelom/ecobuild/storage"
)

func exportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a compressed snapshot of committed ledger state",
		Long:  "Write a zstd-compressed snapshot of committed ledger state. The node must be stopped.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := commonRun()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := node.OpenDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			bc := core.NewBlockchain(storage.NewBlockStore(db))
			if err := bc.Init(); err != nil {
				return err
			}
			header := storage.SnapshotHeader{
				ChainID:   cfg.Genesis.ChainID,
				Height:    bc.Height(),
				StateRoot: storage.NewStateDB(db).ComputeRoot(),
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			header, err = storage.Export(f, db, header)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			logger.Info("snapshot written",
				"component", programName,
				"path", output,
				"height", header.Height,
				"entries", header.Entries,
				"state_root", header.StateRoot,
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "state.snapshot.zst", "snapshot file")
	return cmd
}
