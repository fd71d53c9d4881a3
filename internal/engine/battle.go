package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/wavewarz/battle-engine/internal/domain"
)

// battleState is the engine's mutable record for one battle: two pools, two
// side ledgers, and the lifecycle flags. The side ledgers are plain balance
// tables keyed by trader address; each side's supply mirrors the sum of its
// ledger balances at all times.
type battleState struct {
	id           uint64
	startTime    time.Time
	endTime      time.Time
	artistA      common.Address
	artistB      common.Address
	admin        common.Address
	paymentToken common.Address

	poolA   *uint256.Int
	poolB   *uint256.Int
	supplyA *uint256.Int
	supplyB *uint256.Int
	ledgerA map[common.Address]*uint256.Int
	ledgerB map[common.Address]*uint256.Int
	claimed map[common.Address]bool

	isActive      bool
	winnerDecided bool
	winnerIsSideA bool
	createdAt     time.Time
}

func newBattleState(p BattleParams, now time.Time) *battleState {
	return &battleState{
		id:           p.BattleID,
		startTime:    p.StartTime,
		endTime:      p.StartTime.Add(p.Duration),
		artistA:      p.ArtistA,
		artistB:      p.ArtistB,
		admin:        p.Admin,
		paymentToken: p.PaymentToken,
		poolA:        new(uint256.Int),
		poolB:        new(uint256.Int),
		supplyA:      new(uint256.Int),
		supplyB:      new(uint256.Int),
		ledgerA:      make(map[common.Address]*uint256.Int),
		ledgerB:      make(map[common.Address]*uint256.Int),
		claimed:      make(map[common.Address]bool),
		isActive:     true,
		createdAt:    now,
	}
}

// pool returns the pool for the requested side.
func (b *battleState) pool(sideA bool) *uint256.Int {
	if sideA {
		return b.poolA
	}
	return b.poolB
}

// supply returns the supply counter for the requested side.
func (b *battleState) supply(sideA bool) *uint256.Int {
	if sideA {
		return b.supplyA
	}
	return b.supplyB
}

// ledger returns the balance table for the requested side.
func (b *battleState) ledger(sideA bool) map[common.Address]*uint256.Int {
	if sideA {
		return b.ledgerA
	}
	return b.ledgerB
}

// artist returns the side wallet for the requested side.
func (b *battleState) artist(sideA bool) common.Address {
	if sideA {
		return b.artistA
	}
	return b.artistB
}

// balance returns the trader's balance on the requested side, never nil.
func (b *battleState) balance(sideA bool, trader common.Address) *uint256.Int {
	if bal, ok := b.ledger(sideA)[trader]; ok {
		return bal
	}
	return new(uint256.Int)
}

// credit adds tokens to the trader's side balance and the side supply.
func (b *battleState) credit(sideA bool, trader common.Address, tokens *uint256.Int) {
	ledger := b.ledger(sideA)
	bal, ok := ledger[trader]
	if !ok {
		bal = new(uint256.Int)
		ledger[trader] = bal
	}
	bal.Add(bal, tokens)
	sup := b.supply(sideA)
	sup.Add(sup, tokens)
}

// debit removes tokens from the trader's side balance and the side supply.
// The caller must have verified the balance first.
func (b *battleState) debit(sideA bool, trader common.Address, tokens *uint256.Int) {
	bal := b.ledger(sideA)[trader]
	bal.Sub(bal, tokens)
	sup := b.supply(sideA)
	sup.Sub(sup, tokens)
}

// snapshot copies the battle state into an immutable domain snapshot.
func (b *battleState) snapshot() domain.Battle {
	return domain.Battle{
		ID:            b.id,
		StartTime:     b.startTime,
		EndTime:       b.endTime,
		ArtistA:       b.artistA,
		ArtistB:       b.artistB,
		Admin:         b.admin,
		PaymentToken:  b.paymentToken,
		PoolA:         new(uint256.Int).Set(b.poolA),
		PoolB:         new(uint256.Int).Set(b.poolB),
		SupplyA:       new(uint256.Int).Set(b.supplyA),
		SupplyB:       new(uint256.Int).Set(b.supplyB),
		IsActive:      b.isActive,
		WinnerDecided: b.winnerDecided,
		WinnerIsSideA: b.winnerIsSideA,
		CreatedAt:     b.createdAt,
	}
}
