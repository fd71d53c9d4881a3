package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event type names used for audit rows, notification filtering, and the
// signal-bus channels.
const (
	EventBattleCreated   = "battle_created"
	EventSharesPurchased = "shares_purchased"
	EventSharesSold      = "shares_sold"
	EventBattleEnded     = "battle_ended"
	EventSharesClaimed   = "shares_claimed"
)

// TradeKind distinguishes the two trade directions.
type TradeKind string

const (
	TradeKindBuy  TradeKind = "buy"
	TradeKindSell TradeKind = "sell"
)

// TradeEvent mirrors a single executed buy or sell.
//
// For buys, Amount is the gross payment attached by the trader; for sells it
// is the net proceeds paid out after fees. Tokens is the minted or burned
// token quantity.
type TradeEvent struct {
	ID          string         `json:"id"`
	BattleID    uint64         `json:"battle_id"`
	Trader      common.Address `json:"trader"`
	SideA       bool           `json:"side_a"`
	Kind        TradeKind      `json:"kind"`
	Amount      *uint256.Int   `json:"amount"`
	Tokens      *uint256.Int   `json:"tokens"`
	ArtistFee   *uint256.Int   `json:"artist_fee"`
	PlatformFee *uint256.Int   `json:"platform_fee"`
	Timestamp   time.Time      `json:"timestamp"`
}

// SettlementEvent mirrors the one-time distribution of the losing pool.
type SettlementEvent struct {
	BattleID           uint64       `json:"battle_id"`
	WinnerIsSideA      bool         `json:"winner_is_side_a"`
	LoserPool          *uint256.Int `json:"loser_pool"`
	WinnerBonus        *uint256.Int `json:"winner_bonus"`
	LoserRefund        *uint256.Int `json:"loser_refund"`
	WinningArtistShare *uint256.Int `json:"winning_artist_share"`
	LosingArtistShare  *uint256.Int `json:"losing_artist_share"`
	PlatformShare      *uint256.Int `json:"platform_share"`
	Timestamp          time.Time    `json:"timestamp"`
}

// ClaimEvent mirrors a trader's one-time post-settlement payout.
type ClaimEvent struct {
	ID        string         `json:"id"`
	BattleID  uint64         `json:"battle_id"`
	Trader    common.Address `json:"trader"`
	Amount    *uint256.Int   `json:"amount"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives engine events. Implementations must treat delivery as
// fire-and-forget: the engine does not depend on events being consumed and
// sink methods cannot fail an operation.
type EventSink interface {
	BattleCreated(ctx context.Context, b Battle)
	SharesPurchased(ctx context.Context, e TradeEvent)
	SharesSold(ctx context.Context, e TradeEvent)
	BattleEnded(ctx context.Context, e SettlementEvent)
	SharesClaimed(ctx context.Context, e ClaimEvent)
}

// Vault is the payment transfer primitive the engine delegates to. Asset is
// the payment token address; the zero address selects the native asset.
//
// Deposit pulls amount from the payer into escrow; Payout pushes amount from
// escrow to the recipient. Either may fail, and the engine aborts the
// in-flight operation when one does.
type Vault interface {
	Deposit(ctx context.Context, from common.Address, asset common.Address, amount *uint256.Int) error
	Payout(ctx context.Context, to common.Address, asset common.Address, amount *uint256.Int) error
}
