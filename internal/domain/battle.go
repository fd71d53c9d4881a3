package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BattleStatus represents the lifecycle state of a battle market.
type BattleStatus string

const (
	BattleStatusScheduled BattleStatus = "scheduled"
	BattleStatusActive    BattleStatus = "active"
	BattleStatusClosed    BattleStatus = "closed"
	BattleStatusSettled   BattleStatus = "settled"
)

// Battle is a point-in-time snapshot of one bonding-curve battle market.
// Pools and supplies are in the payment asset's / token's 18-decimal base
// units. A zero PaymentToken address means the native asset.
type Battle struct {
	ID            uint64         `json:"id"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	ArtistA       common.Address `json:"artist_a"`
	ArtistB       common.Address `json:"artist_b"`
	Admin         common.Address `json:"admin"`
	PaymentToken  common.Address `json:"payment_token"`
	PoolA         *uint256.Int   `json:"pool_a"`
	PoolB         *uint256.Int   `json:"pool_b"`
	SupplyA       *uint256.Int   `json:"supply_a"`
	SupplyB       *uint256.Int   `json:"supply_b"`
	IsActive      bool           `json:"is_active"`
	WinnerDecided bool           `json:"winner_decided"`
	WinnerIsSideA bool           `json:"winner_is_side_a"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Status derives the lifecycle status of the battle at the given instant.
func (b Battle) Status(now time.Time) BattleStatus {
	if b.WinnerDecided {
		return BattleStatusSettled
	}
	switch {
	case now.Before(b.StartTime):
		return BattleStatusScheduled
	case now.Before(b.EndTime):
		return BattleStatusActive
	default:
		return BattleStatusClosed
	}
}

// SideLabel returns "A" or "B" for storage and event payloads.
func SideLabel(sideA bool) string {
	if sideA {
		return "A"
	}
	return "B"
}
