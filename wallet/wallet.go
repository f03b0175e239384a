package wallet

import (
	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
)

// Wallet holds a key pair bound to one chain and builds signed ledger
// transactions.
type Wallet struct {
	chainID string
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(chainID string, priv crypto.PrivateKey) *Wallet {
	return &Wallet{chainID: chainID, priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(chainID, priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (the tx "from" field).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the ledger identity of the wallet.
func (w *Wallet) Address() crypto.Address {
	return w.pub.Address()
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(typ core.TxType, nonce uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(typ, w.chainID, w.pub.Hex(), nonce, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// InitializeConfig makes the wallet the minting authority.
func (w *Wallet) InitializeConfig(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxInitializeConfig, nonce, core.InitializeConfigPayload{})
}

// InitializePlayer creates the wallet's player ledger.
func (w *Wallet) InitializePlayer(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxInitializePlayer, nonce, core.InitializePlayerPayload{})
}

// CreateProjectPool opens a pool owned by the wallet.
func (w *Wallet) CreateProjectPool(seed, goal uint64, name string, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxCreateProjectPool, nonce, core.CreateProjectPoolPayload{
		Seed: seed,
		Goal: goal,
		Name: name,
	})
}

// ContributeCredits contributes amount to the pool at pool.
func (w *Wallet) ContributeCredits(pool crypto.Address, amount, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxContributeCredits, nonce, core.ContributeCreditsPayload{
		Pool:   pool,
		Amount: amount,
	})
}

// MintReceipt records a collection event for the wallet.
func (w *Wallet) MintReceipt(p core.MintReceiptPayload, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxMintReceipt, nonce, p)
}

// MintBlocks mints amount BLOCK tokens to player. The wallet must be the
// config authority.
func (w *Wallet) MintBlocks(player crypto.Address, amount uint64, kind core.MaterialKind, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxMintBlocks, nonce, core.MintBlocksPayload{
		Player:    player,
		Amount:    amount,
		WasteKind: int64(kind),
	})
}

// ConvertToBrick burns BLOCK tokens from the wallet for one brick.
func (w *Wallet) ConvertToBrick(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxConvertToBrick, nonce, core.ConvertToBrickPayload{})
}
