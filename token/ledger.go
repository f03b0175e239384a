// Package token is the fungible-token bookkeeping the ledger service mints
// BLOCK tokens through. It stores mints and per-owner token accounts as
// records in the same state as everything else. Validation completes before
// the first write; callers that need all-or-nothing storage wrap calls in a
// state snapshot.
package token

import (
	"errors"
	"fmt"

	"github.com/tolelom/ecobuild/core"
	"github.com/tolelom/ecobuild/crypto"
)

// AccountTag namespaces token account identities.
const AccountTag = "token_account"

// Ledger mints, burns and reports balances over a core.State.
type Ledger struct {
	state     core.State
	programID crypto.Address
}

// New returns a Ledger whose token accounts are derived under programID.
func New(state core.State, programID crypto.Address) *Ledger {
	return &Ledger{state: state, programID: programID}
}

// AccountAddress derives the token account identity of owner for mint.
func (l *Ledger) AccountAddress(mint, owner crypto.Address) (crypto.Address, error) {
	addr, _, err := crypto.FindProgramAddress([][]byte{[]byte(AccountTag), owner[:], mint[:]}, l.programID)
	return addr, err
}

// CreateMint stores a new mint at addr with zero supply.
func (l *Ledger) CreateMint(addr, authority crypto.Address) error {
	return l.state.Create(addr, &core.TokenMint{Authority: authority})
}

// Mint adds amount to owner's balance and to the mint supply. authority
// must match the mint authority. The token account is created on first use.
func (l *Ledger) Mint(mint, authority, owner crypto.Address, amount uint64) error {
	if amount == 0 {
		return core.ErrInvalidAmount
	}
	var m core.TokenMint
	if err := l.loadMint(mint, &m); err != nil {
		return err
	}
	if m.Authority != authority {
		return core.WithMetadata(core.CodeUnauthorized, "mint authority mismatch", map[string]string{
			"mint": mint.String(),
		})
	}
	acctAddr, acct, exists, err := l.loadAccount(mint, owner)
	if err != nil {
		return err
	}

	supply, err := core.CheckedAdd(m.Supply, amount)
	if err != nil {
		return err
	}
	balance, err := core.CheckedAdd(acct.Amount, amount)
	if err != nil {
		return err
	}
	m.Supply = supply
	acct.Amount = balance

	if err := l.state.Update(mint, &m); err != nil {
		return err
	}
	if exists {
		return l.state.Update(acctAddr, acct)
	}
	return l.state.Create(acctAddr, acct)
}

// Burn removes amount from owner's balance and from the mint supply.
// Only the account owner may burn.
func (l *Ledger) Burn(mint, owner crypto.Address, amount uint64, authority crypto.Address) error {
	if amount == 0 {
		return core.ErrInvalidAmount
	}
	if authority != owner {
		return core.WithMetadata(core.CodeUnauthorized, "burn authority must own the account", map[string]string{
			"owner": owner.String(),
		})
	}
	var m core.TokenMint
	if err := l.loadMint(mint, &m); err != nil {
		return err
	}
	acctAddr, acct, exists, err := l.loadAccount(mint, owner)
	if err != nil {
		return err
	}
	if !exists || acct.Amount < amount {
		return core.WithMetadata(core.CodeInsufficientBlocks, "insufficient token balance", map[string]string{
			"balance": fmt.Sprint(acct.Amount),
			"amount":  fmt.Sprint(amount),
		})
	}
	if m.Supply < amount {
		return fmt.Errorf("mint %s supply %d below burn of %d", mint, m.Supply, amount)
	}
	acct.Amount -= amount
	m.Supply -= amount

	if err := l.state.Update(mint, &m); err != nil {
		return err
	}
	return l.state.Update(acctAddr, acct)
}

// Balance returns owner's balance of mint, zero when no account exists.
func (l *Ledger) Balance(mint, owner crypto.Address) (uint64, error) {
	_, acct, _, err := l.loadAccount(mint, owner)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

// Supply returns the total supply of mint.
func (l *Ledger) Supply(mint crypto.Address) (uint64, error) {
	var m core.TokenMint
	if err := l.loadMint(mint, &m); err != nil {
		return 0, err
	}
	return m.Supply, nil
}

func (l *Ledger) loadMint(addr crypto.Address, m *core.TokenMint) error {
	err := l.state.Get(addr, m)
	if errors.Is(err, core.ErrNotFound) {
		return core.WithMetadata(core.CodeNotInitialized, "token mint is not initialized", map[string]string{
			"mint": addr.String(),
		})
	}
	return err
}

func (l *Ledger) loadAccount(mint, owner crypto.Address) (crypto.Address, *core.TokenAccount, bool, error) {
	addr, err := l.AccountAddress(mint, owner)
	if err != nil {
		return addr, nil, false, err
	}
	acct := &core.TokenAccount{Mint: mint, Owner: owner}
	err = l.state.Get(addr, acct)
	switch {
	case err == nil:
		return addr, acct, true, nil
	case errors.Is(err, core.ErrNotFound):
		return addr, acct, false, nil
	default:
		return addr, nil, false, err
	}
}
