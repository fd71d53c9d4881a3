package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/wavewarz/battle-engine/internal/domain"
)

// BattleParams are the inputs to InitializeBattle.
type BattleParams struct {
	BattleID     uint64
	StartTime    time.Time
	Duration     time.Duration
	ArtistA      common.Address
	ArtistB      common.Address
	Admin        common.Address
	PaymentToken common.Address // zero address selects the native asset
}

// Market owns every battle and executes the four state-changing operations.
// State mutations are guarded by a market-wide non-reentrant flag: a call
// into any operation while another is in flight (including a vault callback
// re-entering the market) fails with ErrReentrantCall instead of observing
// half-committed state. Serializing legitimate concurrent callers is the
// caller's responsibility, mirroring how a chain environment orders
// transactions outside the contract.
type Market struct {
	vault          domain.Vault
	sink           domain.EventSink
	platformWallet common.Address
	now            func() time.Time

	entered atomic.Bool
	mu      sync.RWMutex // guards the battles table and state for read queries
	battles map[uint64]*battleState
}

// Option configures a Market.
type Option func(*Market)

// WithClock overrides the market's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Market) { m.now = now }
}

// WithEventSink attaches a fire-and-forget event mirror.
func WithEventSink(sink domain.EventSink) Option {
	return func(m *Market) { m.sink = sink }
}

// NewMarket creates an empty market. The vault receives all payment
// transfers; platformWallet receives platform fees and settlement shares.
func NewMarket(vault domain.Vault, platformWallet common.Address, opts ...Option) *Market {
	m := &Market{
		vault:          vault,
		platformWallet: platformWallet,
		now:            time.Now,
		battles:        make(map[uint64]*battleState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// enter acquires the non-reentrant guard.
func (m *Market) enter() error {
	if !m.entered.CompareAndSwap(false, true) {
		return domain.ErrReentrantCall
	}
	return nil
}

// exit releases the guard. Always deferred so every exit path, including
// error returns, releases it.
func (m *Market) exit() { m.entered.Store(false) }

// InitializeBattle creates a new battle. The identifier zero is reserved as
// "no such battle" and rejected outright.
func (m *Market) InitializeBattle(ctx context.Context, p BattleParams) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()

	if p.BattleID == 0 {
		return domain.ErrInvalidBattleID
	}
	if p.ArtistA == (common.Address{}) || p.ArtistB == (common.Address{}) {
		return domain.ErrInvalidArtistWallet
	}
	if p.Duration <= 0 {
		return domain.ErrInvalidDuration
	}
	now := m.now()
	if !p.StartTime.After(now) {
		return domain.ErrInvalidStartTime
	}

	m.mu.Lock()
	if _, exists := m.battles[p.BattleID]; exists {
		m.mu.Unlock()
		return domain.ErrBattleExists
	}
	b := newBattleState(p, now)
	m.battles[p.BattleID] = b
	snap := b.snapshot()
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.BattleCreated(ctx, snap)
	}
	return nil
}

// BuyShares mints side tokens for the trader against a payment of amount.
// For native-asset battles the attached value must equal amount; for
// token-asset battles no value may be attached. Fees are paid out to the
// side wallet and the platform wallet before the ledger mutation commits.
func (m *Market) BuyShares(ctx context.Context, trader common.Address, battleID uint64, sideA bool, amount, minTokensOut *uint256.Int, deadline time.Time, value *uint256.Int) (*uint256.Int, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	defer m.exit()

	b, err := m.lookup(battleID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if err := checkTradeWindow(b, now, deadline); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, domain.ErrInvalidAmount
	}
	if b.paymentToken == (common.Address{}) {
		// Native payment: the attached value must match exactly.
		if value == nil || !value.Eq(amount) {
			return nil, domain.ErrInsufficientFunds
		}
	} else if value != nil && !value.IsZero() {
		return nil, domain.ErrInvalidPaymentToken
	}

	artistFee := bpsShare(amount, ArtistFeeBps)
	platformFee := bpsShare(amount, PlatformFeeBps)
	net := new(uint256.Int).Sub(amount, artistFee)
	net.Sub(net, platformFee)

	tokens := TokensForPayment(b.supply(sideA), net)
	if minTokensOut != nil && tokens.Lt(minTokensOut) {
		return nil, domain.ErrSlippageExceeded
	}

	if err := m.vault.Deposit(ctx, trader, b.paymentToken, amount); err != nil {
		return nil, fmt.Errorf("engine: buy deposit: %w", err)
	}
	if err := m.payFees(ctx, b, sideA, artistFee, platformFee); err != nil {
		// Nothing has been committed; hand the escrowed amount back.
		_ = m.vault.Payout(ctx, trader, b.paymentToken, amount)
		return nil, err
	}

	m.mu.Lock()
	pool := b.pool(sideA)
	pool.Add(pool, net)
	b.credit(sideA, trader, tokens)
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.SharesPurchased(ctx, domain.TradeEvent{
			ID:          uuid.New().String(),
			BattleID:    battleID,
			Trader:      trader,
			SideA:       sideA,
			Kind:        domain.TradeKindBuy,
			Amount:      new(uint256.Int).Set(amount),
			Tokens:      new(uint256.Int).Set(tokens),
			ArtistFee:   artistFee,
			PlatformFee: platformFee,
			Timestamp:   now,
		})
	}
	return tokens, nil
}

// SellShares burns tokenAmount of the trader's side tokens and pays out the
// curve return minus fees. The pool is debited the gross return; fees come
// out of the trader's proceeds.
func (m *Market) SellShares(ctx context.Context, trader common.Address, battleID uint64, sideA bool, tokenAmount, minAmountOut *uint256.Int, deadline time.Time) (*uint256.Int, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	defer m.exit()

	b, err := m.lookup(battleID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if err := checkTradeWindow(b, now, deadline); err != nil {
		return nil, err
	}
	if tokenAmount == nil || tokenAmount.IsZero() {
		return nil, domain.ErrInvalidAmount
	}
	if b.balance(sideA, trader).Lt(tokenAmount) {
		return nil, domain.ErrInsufficientFunds
	}

	gross := CalculateSellReturn(b.supply(sideA), tokenAmount)
	if gross.Gt(b.pool(sideA)) {
		// Unreachable under the curve's rounding invariant; refuse rather
		// than overdraw the pool.
		return nil, domain.ErrInsufficientFunds
	}

	artistFee := bpsShare(gross, ArtistFeeBps)
	platformFee := bpsShare(gross, PlatformFeeBps)
	net := new(uint256.Int).Sub(gross, artistFee)
	net.Sub(net, platformFee)
	if minAmountOut != nil && net.Lt(minAmountOut) {
		return nil, domain.ErrSlippageExceeded
	}

	if err := m.payFees(ctx, b, sideA, artistFee, platformFee); err != nil {
		return nil, err
	}
	if err := m.vault.Payout(ctx, trader, b.paymentToken, net); err != nil {
		return nil, fmt.Errorf("engine: sell payout: %w", err)
	}

	m.mu.Lock()
	pool := b.pool(sideA)
	pool.Sub(pool, gross)
	b.debit(sideA, trader, tokenAmount)
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.SharesSold(ctx, domain.TradeEvent{
			ID:          uuid.New().String(),
			BattleID:    battleID,
			Trader:      trader,
			SideA:       sideA,
			Kind:        domain.TradeKindSell,
			Amount:      new(uint256.Int).Set(net),
			Tokens:      new(uint256.Int).Set(tokenAmount),
			ArtistFee:   artistFee,
			PlatformFee: platformFee,
			Timestamp:   now,
		})
	}
	return net, nil
}

// EndBattle settles the battle: the losing pool is split five ways, the
// artist and platform shares are paid out immediately, and trading is
// permanently disabled. Only the battle admin may call it, and only after
// the trading window has closed. A zero losing pool settles silently with
// no transfers.
func (m *Market) EndBattle(ctx context.Context, caller common.Address, battleID uint64, winnerIsSideA bool) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.exit()

	b, err := m.lookup(battleID)
	if err != nil {
		return err
	}
	if caller != b.admin {
		return domain.ErrNotBattleAdmin
	}
	now := m.now()
	if now.Before(b.endTime) {
		return domain.ErrBattleStillActive
	}
	if b.winnerDecided || !b.isActive {
		return domain.ErrBattleAlreadyEnded
	}

	loserPool := new(uint256.Int).Set(b.pool(!winnerIsSideA))
	winnerBonus := bpsShare(loserPool, WinnerTradersShareBps)
	loserRefund := bpsShare(loserPool, LoserTradersShareBps)
	winningArtistShare := bpsShare(loserPool, WinningArtistShareBps)
	losingArtistShare := bpsShare(loserPool, LosingArtistShareBps)
	platformShare := bpsShare(loserPool, PlatformShareBps)

	if !loserPool.IsZero() {
		asset := b.paymentToken
		if err := m.vault.Payout(ctx, b.artist(winnerIsSideA), asset, winningArtistShare); err != nil {
			return fmt.Errorf("engine: settlement winning artist payout: %w", err)
		}
		if err := m.vault.Payout(ctx, b.artist(!winnerIsSideA), asset, losingArtistShare); err != nil {
			return fmt.Errorf("engine: settlement losing artist payout: %w", err)
		}
		if err := m.vault.Payout(ctx, m.platformWallet, asset, platformShare); err != nil {
			return fmt.Errorf("engine: settlement platform payout: %w", err)
		}
	}

	m.mu.Lock()
	winnerPool := b.pool(winnerIsSideA)
	winnerPool.Add(winnerPool, winnerBonus)
	b.pool(!winnerIsSideA).Set(loserRefund)
	b.isActive = false
	b.winnerDecided = true
	b.winnerIsSideA = winnerIsSideA
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.BattleEnded(ctx, domain.SettlementEvent{
			BattleID:           battleID,
			WinnerIsSideA:      winnerIsSideA,
			LoserPool:          loserPool,
			WinnerBonus:        winnerBonus,
			LoserRefund:        loserRefund,
			WinningArtistShare: winningArtistShare,
			LosingArtistShare:  losingArtistShare,
			PlatformShare:      platformShare,
			Timestamp:          now,
		})
	}
	return nil
}

// ClaimShares pays the caller their proportional share of the settled pools
// for every side they hold tokens on. Each trader can claim exactly once;
// token balances persist afterwards as a historical record.
func (m *Market) ClaimShares(ctx context.Context, caller common.Address, battleID uint64) (*uint256.Int, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	defer m.exit()

	b, err := m.lookup(battleID)
	if err != nil {
		return nil, err
	}
	if !b.winnerDecided {
		return nil, domain.ErrWinnerNotDecided
	}
	if b.claimed[caller] {
		return nil, domain.ErrAlreadyClaimed
	}

	if b.balance(true, caller).IsZero() && b.balance(false, caller).IsZero() {
		return nil, domain.ErrNoTokensToClaim
	}

	amount := new(uint256.Int)
	for _, sideA := range [2]bool{true, false} {
		bal := b.balance(sideA, caller)
		sup := b.supply(sideA)
		if bal.IsZero() || sup.IsZero() {
			continue
		}
		share := new(uint256.Int).Mul(bal, b.pool(sideA))
		share.Div(share, sup)
		amount.Add(amount, share)
	}

	if err := m.vault.Payout(ctx, caller, b.paymentToken, amount); err != nil {
		return nil, fmt.Errorf("engine: claim payout: %w", err)
	}

	m.mu.Lock()
	b.claimed[caller] = true
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.SharesClaimed(ctx, domain.ClaimEvent{
			ID:        uuid.New().String(),
			BattleID:  battleID,
			Trader:    caller,
			Amount:    new(uint256.Int).Set(amount),
			Timestamp: m.now(),
		})
	}
	return amount, nil
}

// GetBattle returns a snapshot of the battle.
func (m *Market) GetBattle(battleID uint64) (domain.Battle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.battles[battleID]
	if !ok {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	return b.snapshot(), nil
}

// ListBattles returns snapshots of every battle, unordered.
func (m *Market) ListBattles() []domain.Battle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Battle, 0, len(m.battles))
	for _, b := range m.battles {
		out = append(out, b.snapshot())
	}
	return out
}

// BalanceOf returns the trader's token balance on one side of a battle.
func (m *Market) BalanceOf(battleID uint64, sideA bool, trader common.Address) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.battles[battleID]
	if !ok {
		return nil, domain.ErrBattleNotFound
	}
	return new(uint256.Int).Set(b.balance(sideA, trader)), nil
}

// HasClaimed reports whether the trader has already claimed for the battle.
func (m *Market) HasClaimed(battleID uint64, trader common.Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.battles[battleID]
	if !ok {
		return false, domain.ErrBattleNotFound
	}
	return b.claimed[trader], nil
}

// QuoteBuy simulates a buy of amount against the battle's current side
// supply, returning the tokens that would be minted after fees.
func (m *Market) QuoteBuy(battleID uint64, sideA bool, amount *uint256.Int) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.battles[battleID]
	if !ok {
		return nil, domain.ErrBattleNotFound
	}
	net := new(uint256.Int).Sub(amount, bpsShare(amount, ArtistFeeBps))
	net.Sub(net, bpsShare(amount, PlatformFeeBps))
	return TokensForPayment(b.supply(sideA), net), nil
}

// QuoteSell simulates a sell of tokenAmount against the battle's current
// side supply, returning the net proceeds after fees.
func (m *Market) QuoteSell(battleID uint64, sideA bool, tokenAmount *uint256.Int) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.battles[battleID]
	if !ok {
		return nil, domain.ErrBattleNotFound
	}
	gross := CalculateSellReturn(b.supply(sideA), tokenAmount)
	net := new(uint256.Int).Sub(gross, bpsShare(gross, ArtistFeeBps))
	net.Sub(net, bpsShare(gross, PlatformFeeBps))
	return net, nil
}

// lookup fetches a battle by id under the read lock.
func (m *Market) lookup(battleID uint64) (*battleState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.battles[battleID]
	if !ok {
		return nil, domain.ErrBattleNotFound
	}
	return b, nil
}

// checkTradeWindow validates the battle phase and the caller deadline for
// buy and sell.
func checkTradeWindow(b *battleState, now, deadline time.Time) error {
	if !b.isActive || b.winnerDecided {
		return domain.ErrBattleNotActive
	}
	if now.Before(b.startTime) || !now.Before(b.endTime) {
		return domain.ErrBattleNotActive
	}
	if now.After(deadline) {
		return domain.ErrDeadlineExceeded
	}
	return nil
}

// payFees pays the artist and platform fee for a trade on the given side.
func (m *Market) payFees(ctx context.Context, b *battleState, sideA bool, artistFee, platformFee *uint256.Int) error {
	if !artistFee.IsZero() {
		if err := m.vault.Payout(ctx, b.artist(sideA), b.paymentToken, artistFee); err != nil {
			return fmt.Errorf("engine: artist fee payout: %w", err)
		}
	}
	if !platformFee.IsZero() {
		if err := m.vault.Payout(ctx, m.platformWallet, b.paymentToken, platformFee); err != nil {
			return fmt.Errorf("engine: platform fee payout: %w", err)
		}
	}
	return nil
}
