package main

import (
	"errors"
	"testing"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/wallet"
)

func TestMintBlocksTxByWasteName(t *testing.T) {
	authority, err := wallet.Generate("eco-cli")
	if err != nil {
		t.Fatal(err)
	}
	player, err := wallet.Generate("eco-cli")
	if err != nil {
		t.Fatal(err)
	}

	tx, err := mintBlocksTx(authority, player.Address().String(), "Metal", 12, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("signature: %v", err)
	}
	var p core.MintBlocksPayload
	if err := tx.DecodePayload(&p); err != nil {
		t.Fatal(err)
	}
	if p.Player != player.Address() || p.Amount != 12 || p.WasteKind != int64(core.MaterialMetal) || tx.Nonce != 3 {
		t.Errorf("payload: %+v nonce %d", p, tx.Nonce)
	}

	if _, err := mintBlocksTx(authority, player.Address().String(), "cardboard", 1, 0); !errors.Is(err, core.ErrInvalidMaterialType) {
		t.Errorf("unknown waste: got %v", err)
	}
	if _, err := mintBlocksTx(authority, "not-base58-0OIl", "paper", 1, 0); err == nil {
		t.Error("bad player address accepted")
	}
}
