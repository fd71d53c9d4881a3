package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wavewarz/battle-engine/internal/domain"
	"github.com/wavewarz/battle-engine/internal/notify"
)

// busChannelPrefix namespaces the pub/sub channels the mirror publishes on,
// e.g. battles.shares_purchased. The durable stream carries every event.
const (
	busChannelPrefix = "battles."
	eventStream      = "battles.events"
)

// EventMirror implements domain.EventSink. It fans each engine event out to
// the persistent stores, the snapshot cache, the signal bus, the audit log,
// and the notifier. Every delivery is best effort: a failed mirror write is
// logged and never propagates back into the engine.
type EventMirror struct {
	battles  domain.BattleStore
	trades   domain.TradeStore
	claims   domain.ClaimStore
	cache    domain.BattleCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewEventMirror creates an EventMirror. Any dependency may be nil, in which
// case that mirror target is skipped.
func NewEventMirror(
	battles domain.BattleStore,
	trades domain.TradeStore,
	claims domain.ClaimStore,
	cache domain.BattleCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *EventMirror {
	return &EventMirror{
		battles:  battles,
		trades:   trades,
		claims:   claims,
		cache:    cache,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_mirror")),
	}
}

// BattleCreated mirrors a new battle snapshot.
func (m *EventMirror) BattleCreated(ctx context.Context, b domain.Battle) {
	if m.battles != nil {
		if err := m.battles.Upsert(ctx, b); err != nil {
			m.warn(ctx, domain.EventBattleCreated, "store upsert", err)
		}
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, b); err != nil {
			m.warn(ctx, domain.EventBattleCreated, "cache set", err)
		}
	}
	m.publish(ctx, domain.EventBattleCreated, b)
	m.auditLog(ctx, domain.EventBattleCreated, map[string]any{
		"battle_id": b.ID,
		"artist_a":  b.ArtistA.Hex(),
		"artist_b":  b.ArtistB.Hex(),
	})
	m.notify(ctx, domain.EventBattleCreated, "Battle created",
		fmt.Sprintf("Battle %d: %s vs %s, trading %s to %s",
			b.ID, b.ArtistA.Hex(), b.ArtistB.Hex(),
			b.StartTime.Format("15:04:05 MST"), b.EndTime.Format("15:04:05 MST")))
}

// SharesPurchased mirrors an executed buy.
func (m *EventMirror) SharesPurchased(ctx context.Context, e domain.TradeEvent) {
	m.mirrorTrade(ctx, domain.EventSharesPurchased, e)
}

// SharesSold mirrors an executed sell.
func (m *EventMirror) SharesSold(ctx context.Context, e domain.TradeEvent) {
	m.mirrorTrade(ctx, domain.EventSharesSold, e)
}

func (m *EventMirror) mirrorTrade(ctx context.Context, event string, e domain.TradeEvent) {
	if m.trades != nil {
		if err := m.trades.Insert(ctx, e); err != nil {
			m.warn(ctx, event, "store insert", err)
		}
	}
	if m.cache != nil {
		// The snapshot is stale after any trade; drop it and let the next
		// read repopulate.
		if err := m.cache.Invalidate(ctx, e.BattleID); err != nil {
			m.warn(ctx, event, "cache invalidate", err)
		}
	}
	m.publish(ctx, event, e)
	m.auditLog(ctx, event, map[string]any{
		"battle_id": e.BattleID,
		"trader":    e.Trader.Hex(),
		"side":      domain.SideLabel(e.SideA),
		"amount":    e.Amount.Dec(),
		"tokens":    e.Tokens.Dec(),
	})
}

// BattleEnded mirrors a settlement.
func (m *EventMirror) BattleEnded(ctx context.Context, e domain.SettlementEvent) {
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, e.BattleID); err != nil {
			m.warn(ctx, domain.EventBattleEnded, "cache invalidate", err)
		}
	}
	m.publish(ctx, domain.EventBattleEnded, e)
	m.auditLog(ctx, domain.EventBattleEnded, map[string]any{
		"battle_id":        e.BattleID,
		"winner_is_side_a": e.WinnerIsSideA,
		"loser_pool":       e.LoserPool.Dec(),
	})
	m.notify(ctx, domain.EventBattleEnded, "Battle settled",
		fmt.Sprintf("Battle %d settled, side %s wins. Loser pool %s distributed.",
			e.BattleID, domain.SideLabel(e.WinnerIsSideA), e.LoserPool.Dec()))
}

// SharesClaimed mirrors a post-settlement claim payout.
func (m *EventMirror) SharesClaimed(ctx context.Context, e domain.ClaimEvent) {
	if m.claims != nil {
		if err := m.claims.Insert(ctx, e); err != nil {
			m.warn(ctx, domain.EventSharesClaimed, "store insert", err)
		}
	}
	m.publish(ctx, domain.EventSharesClaimed, e)
	m.auditLog(ctx, domain.EventSharesClaimed, map[string]any{
		"battle_id": e.BattleID,
		"trader":    e.Trader.Hex(),
		"amount":    e.Amount.Dec(),
	})
	m.notify(ctx, domain.EventSharesClaimed, "Shares claimed",
		fmt.Sprintf("Battle %d: %s claimed %s", e.BattleID, e.Trader.Hex(), e.Amount.Dec()))
}

// publish sends the event to the pub/sub channel for live subscribers and
// appends it to the durable stream.
func (m *EventMirror) publish(ctx context.Context, event string, payload any) {
	if m.bus == nil {
		return
	}
	data, err := json.Marshal(map[string]any{"event": event, "data": payload})
	if err != nil {
		m.warn(ctx, event, "marshal", err)
		return
	}
	if err := m.bus.Publish(ctx, busChannelPrefix+event, data); err != nil {
		m.warn(ctx, event, "bus publish", err)
	}
	if err := m.bus.StreamAppend(ctx, eventStream, data); err != nil {
		m.warn(ctx, event, "stream append", err)
	}
}

func (m *EventMirror) auditLog(ctx context.Context, event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.warn(ctx, event, "audit log", err)
	}
}

func (m *EventMirror) notify(ctx context.Context, event, title, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, event, title, message); err != nil {
		m.warn(ctx, event, "notify", err)
	}
}

func (m *EventMirror) warn(ctx context.Context, event, stage string, err error) {
	m.logger.WarnContext(ctx, "event mirror delivery failed",
		slog.String("event", event),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
}

// Compile-time interface check.
var _ domain.EventSink = (*EventMirror)(nil)
