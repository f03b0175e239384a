package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/wallet"
)

// mintBlocksCommand signs a mint_blocks transaction with the keystore key and
// prints it as JSON, ready to be passed to sendTx.
func mintBlocksCommand() *cobra.Command {
	var (
		player string
		amount uint64
		waste  string
		nonce  uint64
	)
	cmd := &cobra.Command{
		Use:   "mint-blocks",
		Short: "Sign a BLOCK mint for a player",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := commonRun()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			priv, err := wallet.LoadKey(globalFlags.keyFile, password(logger))
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			tx, err := mintBlocksTx(wallet.New(cfg.Genesis.ChainID, priv), player, waste, amount, nonce)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tx)
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "player address (base58)")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "BLOCK tokens to mint")
	cmd.Flags().StringVar(&waste, "waste", "plastic", "waste kind: plastic, glass, metal or paper")
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "authority account nonce (see getNonce)")
	return cmd
}

func mintBlocksTx(w *wallet.Wallet, player, waste string, amount, nonce uint64) (*core.Transaction, error) {
	addr, err := crypto.ParseAddress(player)
	if err != nil {
		return nil, fmt.Errorf("invalid --player: %w", err)
	}
	kind, err := core.MaterialKindFromName(waste)
	if err != nil {
		return nil, fmt.Errorf("invalid --waste: %w", err)
	}
	return w.MintBlocks(addr, amount, kind, nonce)
}
