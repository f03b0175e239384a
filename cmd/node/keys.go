package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
	"github.com/tolelom/ecobuild/ledger"
	"github.com/tolelom/ecobuild/token"
	"github.com/tolelom/ecobuild/wallet"
)

func genkeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a validator key and write it to the keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := commonRun()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w, err := wallet.Generate(cfg.Genesis.ChainID)
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(globalFlags.keyFile, password(logger), w.PrivKey()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "public key (validator): %s\n", w.PubKey())
			fmt.Fprintf(out, "address:                %s\n", w.Address())
			fmt.Fprintf(out, "saved to:               %s\n", globalFlags.keyFile)
			return nil
		},
	}
}

func addressCommand() *cobra.Command {
	var (
		owner       string
		seed        uint64
		attestation string
	)
	cmd := &cobra.Command{
		Use:   "address <tag>",
		Short: "Derive a record identity",
		Long: "Derive the identity of a ledger record. Tags: " +
			"player, project, poc, global_config, block_mint, token_account.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			programID, err := cfg.ProgramAddress()
			if err != nil {
				return err
			}
			var ownerAddr crypto.Address
			if owner != "" {
				if ownerAddr, err = crypto.ParseAddress(owner); err != nil {
					return fmt.Errorf("invalid --owner: %w", err)
				}
			}
			addr, bump, err := derive(ledger.Addresses{ProgramID: programID}, args[0], ownerAddr, seed, attestation)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", addr, bump)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner or player address (base58)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "project pool seed")
	cmd.Flags().StringVar(&attestation, "attestation", "", "attestation id (hex, 32 bytes)")
	return cmd
}

func derive(a ledger.Addresses, tag string, owner crypto.Address, seed uint64, attestation string) (crypto.Address, uint8, error) {
	needOwner := func() error {
		if owner.IsZero() {
			return fmt.Errorf("tag %q requires --owner", tag)
		}
		return nil
	}
	switch tag {
	case ledger.TagPlayer:
		if err := needOwner(); err != nil {
			return crypto.ZeroAddress, 0, err
		}
		return a.Player(owner)
	case ledger.TagProject:
		if err := needOwner(); err != nil {
			return crypto.ZeroAddress, 0, err
		}
		return a.Pool(owner, seed)
	case ledger.TagReceipt:
		if err := needOwner(); err != nil {
			return crypto.ZeroAddress, 0, err
		}
		var id core.Hash32
		raw, err := hex.DecodeString(attestation)
		if err != nil || len(raw) != len(id) {
			return crypto.ZeroAddress, 0, fmt.Errorf("--attestation must be %d hex bytes", len(id))
		}
		copy(id[:], raw)
		return a.Receipt(owner, id)
	case ledger.TagConfig:
		return a.Config()
	case ledger.TagMint:
		return a.Mint()
	case token.AccountTag:
		if err := needOwner(); err != nil {
			return crypto.ZeroAddress, 0, err
		}
		return a.TokenAccount(owner)
	default:
		return crypto.ZeroAddress, 0, fmt.Errorf("unknown tag %q", tag)
	}
}
