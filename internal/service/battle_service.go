// Package service coordinates the market engine with storage, caching,
// distributed locking, and event fan-out.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/wavewarz/battle-engine/internal/domain"
	"github.com/wavewarz/battle-engine/internal/engine"
)

// battleLockTTL bounds how long a crashed instance can hold a distributed
// battle lock.
const battleLockTTL = 10 * time.Second

// Bounds are the creation-time limits battles must fit within.
type Bounds struct {
	MinDuration   time.Duration
	MaxDuration   time.Duration
	MaxStartDelay time.Duration
}

// BattleService is the application-facing surface over the market engine.
// The engine rejects overlapping calls outright, and its non-reentrant flag
// spans the whole market, so the service serializes every state-changing
// operation behind one mutex (and, when configured, a per-battle distributed
// lock) so concurrent callers queue instead of failing.
type BattleService struct {
	market  *engine.Market
	admin   common.Address
	battles domain.BattleStore
	trades  domain.TradeStore
	claims  domain.ClaimStore
	cache   domain.BattleCache
	locks   domain.LockManager
	bounds  Bounds
	logger  *slog.Logger

	mu sync.Mutex // engine entry, market-wide
}

// NewBattleService creates a BattleService. The admin wallet is used for
// battles created without an explicit admin. The battle, trade, and claim
// stores and the cache may be nil when running without persistence; the lock
// manager may be nil when running a single instance.
func NewBattleService(
	market *engine.Market,
	admin common.Address,
	battles domain.BattleStore,
	trades domain.TradeStore,
	claims domain.ClaimStore,
	cache domain.BattleCache,
	locks domain.LockManager,
	bounds Bounds,
	logger *slog.Logger,
) *BattleService {
	return &BattleService{
		market:  market,
		admin:   admin,
		battles: battles,
		trades:  trades,
		claims:  claims,
		cache:   cache,
		locks:   locks,
		bounds:  bounds,
		logger:  logger.With(slog.String("component", "battle_service")),
	}
}

// lockBattle serializes state-changing work. The in-process mutex spans the
// whole market because the engine's reentrancy flag does too; the distributed
// lock stays per battle so replicas only contend on the battles they touch.
// It returns an unlock function, or domain.ErrLockHeld when another instance
// holds the distributed lock.
func (s *BattleService) lockBattle(ctx context.Context, battleID uint64) (func(), error) {
	s.mu.Lock()

	if s.locks == nil {
		return s.mu.Unlock, nil
	}
	release, err := s.locks.Acquire(ctx, fmt.Sprintf("battle:%d", battleID), battleLockTTL)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return func() {
		release()
		s.mu.Unlock()
	}, nil
}

// CreateBattle validates the parameters against the configured bounds and
// initializes the battle in the engine. Requests that leave the admin unset
// get the service's configured admin wallet.
func (s *BattleService) CreateBattle(ctx context.Context, p engine.BattleParams) (domain.Battle, error) {
	if p.Admin == (common.Address{}) {
		p.Admin = s.admin
	}
	if p.Duration < s.bounds.MinDuration || p.Duration > s.bounds.MaxDuration {
		return domain.Battle{}, fmt.Errorf(
			"battle_service: duration %s outside [%s, %s]: %w",
			p.Duration, s.bounds.MinDuration, s.bounds.MaxDuration, domain.ErrInvalidDuration)
	}
	if s.bounds.MaxStartDelay > 0 && time.Until(p.StartTime) > s.bounds.MaxStartDelay {
		return domain.Battle{}, fmt.Errorf(
			"battle_service: start more than %s away: %w",
			s.bounds.MaxStartDelay, domain.ErrInvalidStartTime)
	}

	unlock, err := s.lockBattle(ctx, p.BattleID)
	if err != nil {
		return domain.Battle{}, err
	}
	defer unlock()

	if err := s.market.InitializeBattle(ctx, p); err != nil {
		return domain.Battle{}, err
	}

	b, err := s.market.GetBattle(p.BattleID)
	if err != nil {
		return domain.Battle{}, err
	}

	s.logger.InfoContext(ctx, "battle created",
		slog.Uint64("battle_id", p.BattleID),
		slog.String("artist_a", p.ArtistA.Hex()),
		slog.String("artist_b", p.ArtistB.Hex()),
	)
	return b, nil
}

// Buy executes a share purchase and returns the minted token quantity.
func (s *BattleService) Buy(ctx context.Context, trader common.Address, battleID uint64, sideA bool, amount, minTokensOut *uint256.Int, deadline time.Time, value *uint256.Int) (*uint256.Int, error) {
	unlock, err := s.lockBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tokens, err := s.market.BuyShares(ctx, trader, battleID, sideA, amount, minTokensOut, deadline, value)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "shares purchased",
		slog.Uint64("battle_id", battleID),
		slog.String("trader", trader.Hex()),
		slog.String("side", domain.SideLabel(sideA)),
		slog.String("amount", amount.Dec()),
		slog.String("tokens", tokens.Dec()),
	)
	return tokens, nil
}

// Sell executes a share sale and returns the net proceeds after fees.
func (s *BattleService) Sell(ctx context.Context, trader common.Address, battleID uint64, sideA bool, tokenAmount, minAmountOut *uint256.Int, deadline time.Time) (*uint256.Int, error) {
	unlock, err := s.lockBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	proceeds, err := s.market.SellShares(ctx, trader, battleID, sideA, tokenAmount, minAmountOut, deadline)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "shares sold",
		slog.Uint64("battle_id", battleID),
		slog.String("trader", trader.Hex()),
		slog.String("side", domain.SideLabel(sideA)),
		slog.String("tokens", tokenAmount.Dec()),
		slog.String("proceeds", proceeds.Dec()),
	)
	return proceeds, nil
}

// End settles a battle. Only the battle admin may call it.
func (s *BattleService) End(ctx context.Context, caller common.Address, battleID uint64, winnerIsSideA bool) (domain.Battle, error) {
	unlock, err := s.lockBattle(ctx, battleID)
	if err != nil {
		return domain.Battle{}, err
	}
	defer unlock()

	if err := s.market.EndBattle(ctx, caller, battleID, winnerIsSideA); err != nil {
		return domain.Battle{}, err
	}

	b, err := s.market.GetBattle(battleID)
	if err != nil {
		return domain.Battle{}, err
	}
	if s.battles != nil {
		if err := s.battles.Upsert(ctx, b); err != nil {
			s.logger.WarnContext(ctx, "settled snapshot upsert failed",
				slog.Uint64("battle_id", battleID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "battle settled",
		slog.Uint64("battle_id", battleID),
		slog.String("winner", domain.SideLabel(winnerIsSideA)),
	)
	return b, nil
}

// Claim pays out the caller's one-time post-settlement share.
func (s *BattleService) Claim(ctx context.Context, caller common.Address, battleID uint64) (*uint256.Int, error) {
	unlock, err := s.lockBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	amount, err := s.market.ClaimShares(ctx, caller, battleID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "shares claimed",
		slog.Uint64("battle_id", battleID),
		slog.String("trader", caller.Hex()),
		slog.String("amount", amount.Dec()),
	)
	return amount, nil
}

// GetBattle returns the battle snapshot. The live engine is authoritative;
// battles evicted from the engine (after archival or a restart) fall back to
// the persistent mirror, back-filling the cache.
func (s *BattleService) GetBattle(ctx context.Context, battleID uint64) (domain.Battle, error) {
	b, err := s.market.GetBattle(battleID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, domain.ErrBattleNotFound) || s.battles == nil {
		return domain.Battle{}, err
	}

	if s.cache != nil {
		if cached, cacheErr := s.cache.Get(ctx, battleID); cacheErr == nil {
			return cached, nil
		}
	}

	b, err = s.battles.GetByID(ctx, battleID)
	if err != nil {
		return domain.Battle{}, err
	}
	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, b); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache back-fill failed",
				slog.Uint64("battle_id", battleID),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return b, nil
}

// ListBattles returns snapshots of every battle the engine holds.
func (s *BattleService) ListBattles(ctx context.Context) []domain.Battle {
	return s.market.ListBattles()
}

// BalanceOf returns the trader's token balance on one side of a battle.
func (s *BattleService) BalanceOf(battleID uint64, sideA bool, trader common.Address) (*uint256.Int, error) {
	return s.market.BalanceOf(battleID, sideA, trader)
}

// HasClaimed reports whether the trader has already claimed for the battle.
func (s *BattleService) HasClaimed(battleID uint64, trader common.Address) (bool, error) {
	return s.market.HasClaimed(battleID, trader)
}

// QuoteBuy simulates a buy against current state without executing it.
func (s *BattleService) QuoteBuy(battleID uint64, sideA bool, amount *uint256.Int) (*uint256.Int, error) {
	return s.market.QuoteBuy(battleID, sideA, amount)
}

// QuoteSell simulates a sell against current state without executing it.
func (s *BattleService) QuoteSell(battleID uint64, sideA bool, tokenAmount *uint256.Int) (*uint256.Int, error) {
	return s.market.QuoteSell(battleID, sideA, tokenAmount)
}

// TradesByBattle returns the persisted trade history for a battle.
func (s *BattleService) TradesByBattle(ctx context.Context, battleID uint64, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	if s.trades == nil {
		return nil, nil
	}
	return s.trades.ListByBattle(ctx, battleID, opts)
}

// TradesByTrader returns the persisted trade history for a wallet.
func (s *BattleService) TradesByTrader(ctx context.Context, trader string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	if s.trades == nil {
		return nil, nil
	}
	return s.trades.ListByTrader(ctx, trader, opts)
}

// ClaimsByBattle returns the persisted claim history for a battle.
func (s *BattleService) ClaimsByBattle(ctx context.Context, battleID uint64) ([]domain.ClaimEvent, error) {
	if s.claims == nil {
		return nil, nil
	}
	return s.claims.ListByBattle(ctx, battleID)
}
