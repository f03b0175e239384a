package core_test

import (
	"errors"
	"testing"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
)

func signedTx(t *testing.T, chainID string, typ core.TxType, payload any) (*core.Transaction, crypto.PublicKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := core.NewTransaction(typ, chainID, pub.Hex(), 0, payload)
	if err != nil {
		t.Fatal(err)
	}
	tx.Sign(priv)
	return tx, pub
}

func TestTransactionSignVerify(t *testing.T) {
	tx, pub := signedTx(t, "test-chain", core.TxCreateProjectPool, core.CreateProjectPoolPayload{
		Seed: 1, Goal: 10, Name: "park",
	})
	if tx.ID == "" {
		t.Error("tx ID should be set after signing")
	}
	if err := tx.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
	sender, err := tx.Sender()
	if err != nil {
		t.Fatal(err)
	}
	if sender != pub.Address() {
		t.Errorf("sender: got %s want %s", sender, pub.Address())
	}

	tx.ChainID = "other-chain"
	if err := tx.Verify(); err == nil {
		t.Error("tx replayed on another chain should fail verification")
	}
}

func TestDecodePayload(t *testing.T) {
	tx, _ := signedTx(t, "c", core.TxContributeCredits, core.ContributeCreditsPayload{Amount: 5})
	var p core.ContributeCreditsPayload
	if err := tx.DecodePayload(&p); err != nil {
		t.Fatal(err)
	}
	if p.Amount != 5 {
		t.Errorf("amount: %d", p.Amount)
	}

	tx.Payload = []byte(`{"amount":5,"extra":true}`)
	if err := tx.DecodePayload(&p); err == nil {
		t.Error("unknown fields should be rejected")
	}

	tx.Payload = nil
	var empty core.ConvertToBrickPayload
	if err := tx.DecodePayload(&empty); err != nil {
		t.Errorf("empty payload: %v", err)
	}
}

func TestBlockHash(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	block := core.NewBlock("test-chain", 1, "0000", pub.Hex(), nil)
	block.Sign(priv)

	if block.ComputeHash() != block.Hash {
		t.Error("ComputeHash() does not match stored hash")
	}
	if err := block.Verify(pub); err != nil {
		t.Errorf("Verify: %v", err)
	}
	block.Header.Height = 2
	if err := block.Verify(pub); !errors.Is(err, core.ErrBlockHashMismatch) {
		t.Errorf("tampered header: got %v", err)
	}
}

func TestMempool(t *testing.T) {
	mp := core.NewMempool("test-chain", 2)

	tx, _ := signedTx(t, "test-chain", core.TxInitializePlayer, core.InitializePlayerPayload{})
	if err := mp.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := mp.Add(tx); !errors.Is(err, core.ErrTxKnown) {
		t.Errorf("duplicate: got %v", err)
	}

	foreign, _ := signedTx(t, "other-chain", core.TxInitializePlayer, core.InitializePlayerPayload{})
	if err := mp.Add(foreign); !errors.Is(err, core.ErrWrongChain) {
		t.Errorf("foreign chain: got %v", err)
	}

	second, _ := signedTx(t, "test-chain", core.TxInitializePlayer, core.InitializePlayerPayload{})
	third, _ := signedTx(t, "test-chain", core.TxInitializePlayer, core.InitializePlayerPayload{})
	if err := mp.Add(second); err != nil {
		t.Fatal(err)
	}
	if err := mp.Add(third); !errors.Is(err, core.ErrMempoolFull) {
		t.Errorf("over limit: got %v", err)
	}

	pending := mp.Pending(10)
	if len(pending) != 2 || pending[0].ID != tx.ID {
		t.Errorf("pending order: %v", pending)
	}

	mp.Remove([]string{tx.ID})
	if mp.Size() != 1 {
		t.Errorf("size after remove: %d", mp.Size())
	}
	if _, ok := mp.Get(second.ID); !ok {
		t.Error("second tx should remain")
	}
}
