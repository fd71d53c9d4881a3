package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BattleStore persists battle snapshots mirrored from the engine.
type BattleStore interface {
	Upsert(ctx context.Context, b Battle) error
	GetByID(ctx context.Context, id uint64) (Battle, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Battle, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Battle, error)
	Delete(ctx context.Context, id uint64) error
	Count(ctx context.Context) (int64, error)
}

// TradeStore persists executed trade mirrors.
type TradeStore interface {
	Insert(ctx context.Context, t TradeEvent) error
	ListByBattle(ctx context.Context, battleID uint64, opts ListOpts) ([]TradeEvent, error)
	ListByTrader(ctx context.Context, trader string, opts ListOpts) ([]TradeEvent, error)
	DeleteByBattle(ctx context.Context, battleID uint64) (int64, error)
}

// ClaimStore persists settlement claim mirrors.
type ClaimStore interface {
	Insert(ctx context.Context, c ClaimEvent) error
	ListByBattle(ctx context.Context, battleID uint64) ([]ClaimEvent, error)
	DeleteByBattle(ctx context.Context, battleID uint64) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
