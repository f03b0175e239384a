package core

import "github.com/tolelom/ecobuild/crypto"

// Account holds a signer's replay-protection nonce.
type Account struct {
	Address crypto.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so a failed operation can be rolled back as a unit.
type State interface {
	// Accounts. GetAccount returns a zero-nonce account for unknown addresses.
	GetAccount(addr crypto.Address) (*Account, error)
	SetAccount(account *Account) error

	// Records. Get returns ErrNotFound when addr is empty and
	// ErrRecordMismatch when it holds a record of another type.
	Get(addr crypto.Address, rec Record) error
	// Create stores rec at addr and fails with ErrAlreadyExists if addr is
	// occupied. The check and the write happen under one lock.
	Create(addr crypto.Address, rec Record) error
	// Update overwrites the record at addr and fails with ErrNotInitialized
	// if addr is empty.
	Update(addr crypto.Address, rec Record) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
