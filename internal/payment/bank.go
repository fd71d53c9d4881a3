// Package payment provides an in-memory implementation of the engine's
// payment vault: per-asset account balances, an escrow the engine draws on,
// and a pending-withdrawal fallback for recipients that reject direct
// payouts.
package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/wavewarz/battle-engine/internal/domain"
)

// Bank is an in-memory payment ledger keyed by (asset, account). The zero
// asset address is the native asset; any other address is treated as an
// independent fungible asset.
//
// Deposit moves funds from an account into the bank's escrow; Payout moves
// funds from escrow to an account. If the recipient has been marked as
// rejecting payments, Payout credits a pending-withdrawal balance instead of
// failing, so a hostile fee recipient cannot block trading. The recipient
// can collect via Withdraw later.
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*uint256.Int
	pending  map[common.Address]map[common.Address]*uint256.Int
	escrow   map[common.Address]*uint256.Int
	rejects  map[common.Address]bool
}

// NewBank creates an empty Bank.
func NewBank() *Bank {
	return &Bank{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
		pending:  make(map[common.Address]map[common.Address]*uint256.Int),
		escrow:   make(map[common.Address]*uint256.Int),
		rejects:  make(map[common.Address]bool),
	}
}

// Mint credits an account balance out of thin air. Test and bootstrap hook.
func (b *Bank) Mint(account, asset common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.entry(b.balances, asset, account)
	bal.Add(bal, amount)
}

// Deposit implements domain.Vault. It fails with ErrInsufficientFunds when
// the payer's balance cannot cover the amount; nothing moves on failure.
func (b *Bank) Deposit(ctx context.Context, from, asset common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.entry(b.balances, asset, from)
	if bal.Lt(amount) {
		return fmt.Errorf("payment: deposit from %s: %w", from.Hex(), domain.ErrInsufficientFunds)
	}
	bal.Sub(bal, amount)
	esc := b.escrowEntry(asset)
	esc.Add(esc, amount)
	return nil
}

// Payout implements domain.Vault. Rejecting recipients are credited a
// pending withdrawal instead; the call still succeeds.
func (b *Bank) Payout(ctx context.Context, to, asset common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	esc := b.escrowEntry(asset)
	if esc.Lt(amount) {
		return fmt.Errorf("payment: escrow underfunded for payout to %s: %w", to.Hex(), domain.ErrInsufficientFunds)
	}
	esc.Sub(esc, amount)

	if b.rejects[to] {
		pend := b.entry(b.pending, asset, to)
		pend.Add(pend, amount)
		return nil
	}
	bal := b.entry(b.balances, asset, to)
	bal.Add(bal, amount)
	return nil
}

// Withdraw moves an account's pending credits for an asset into its balance
// and returns the amount collected.
func (b *Bank) Withdraw(account, asset common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	pend := b.entry(b.pending, asset, account)
	out := new(uint256.Int).Set(pend)
	pend.Clear()
	bal := b.entry(b.balances, asset, account)
	bal.Add(bal, out)
	return out
}

// SetRejecting marks or unmarks an account as refusing direct payouts.
func (b *Bank) SetRejecting(account common.Address, rejecting bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejects[account] = rejecting
}

// BalanceOf returns an account's spendable balance for an asset.
func (b *Bank) BalanceOf(account, asset common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(b.entry(b.balances, asset, account))
}

// PendingOf returns an account's pending-withdrawal balance for an asset.
func (b *Bank) PendingOf(account, asset common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(b.entry(b.pending, asset, account))
}

// EscrowOf returns the bank's escrow balance for an asset.
func (b *Bank) EscrowOf(asset common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(b.escrowEntry(asset))
}

func (b *Bank) entry(table map[common.Address]map[common.Address]*uint256.Int, asset, account common.Address) *uint256.Int {
	accounts, ok := table[asset]
	if !ok {
		accounts = make(map[common.Address]*uint256.Int)
		table[asset] = accounts
	}
	bal, ok := accounts[account]
	if !ok {
		bal = new(uint256.Int)
		accounts[account] = bal
	}
	return bal
}

func (b *Bank) escrowEntry(asset common.Address) *uint256.Int {
	esc, ok := b.escrow[asset]
	if !ok {
		esc = new(uint256.Int)
		b.escrow[asset] = esc
	}
	return esc
}

// Compile-time interface check.
var _ domain.Vault = (*Bank)(nil)
