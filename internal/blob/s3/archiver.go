package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wavewarz/battle-engine/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs the query and delete methods it actually calls,
// not the full domain store interfaces. The Postgres stores satisfy these
// implicitly.
// ---------------------------------------------------------------------------

// BattleArchiveStore provides the battle queries used for archival.
type BattleArchiveStore interface {
	GetByID(ctx context.Context, id uint64) (domain.Battle, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Battle, error)
}

// TradeArchiveStore provides trade read/delete access for archival.
type TradeArchiveStore interface {
	ListByBattle(ctx context.Context, battleID uint64, opts domain.ListOpts) ([]domain.TradeEvent, error)
	DeleteByBattle(ctx context.Context, battleID uint64) (int64, error)
}

// ClaimArchiveStore provides claim read/delete access for archival.
type ClaimArchiveStore interface {
	ListByBattle(ctx context.Context, battleID uint64) ([]domain.ClaimEvent, error)
	DeleteByBattle(ctx context.Context, battleID uint64) (int64, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver. For each settled battle it uploads
// the snapshot, trade history, and claim history as JSONL objects, then
// deletes the trade and claim mirrors from the hot store. The battle snapshot
// row itself is kept so the battle stays queryable.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	battles BattleArchiveStore
	trades  TradeArchiveStore
	claims  ClaimArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	battles BattleArchiveStore,
	trades TradeArchiveStore,
	claims ClaimArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		battles: battles,
		trades:  trades,
		claims:  claims,
		audit:   audit,
	}
}

// ArchiveBattle uploads one battle's snapshot, trades, and claims to blob
// storage and prunes the trade and claim mirrors. It returns the number of
// records archived. The upload happens before any deletion so a failed run
// never loses history.
func (a *ArchiveImpl) ArchiveBattle(ctx context.Context, battleID uint64) (int64, error) {
	battle, err := a.battles.GetByID(ctx, battleID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive battle %d lookup: %w", battleID, err)
	}

	trades, err := a.trades.ListByBattle(ctx, battleID, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive battle %d trades query: %w", battleID, err)
	}
	claims, err := a.claims.ListByBattle(ctx, battleID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive battle %d claims query: %w", battleID, err)
	}

	snapshot, err := marshalJSONL([]domain.Battle{battle})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive battle %d snapshot marshal: %w", battleID, err)
	}
	tradeBuf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive battle %d trades marshal: %w", battleID, err)
	}
	claimBuf, err := marshalJSONL(claims)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive battle %d claims marshal: %w", battleID, err)
	}

	for _, obj := range []struct {
		name string
		data []byte
	}{
		{"battle.jsonl", snapshot},
		{"trades.jsonl", tradeBuf},
		{"claims.jsonl", claimBuf},
	} {
		path := archivePath(battleID, obj.name)
		if err := a.writer.Put(ctx, path, bytes.NewReader(obj.data), "application/x-ndjson"); err != nil {
			return 0, fmt.Errorf("s3blob: archive battle %d upload %s: %w", battleID, obj.name, err)
		}
	}

	if _, err := a.trades.DeleteByBattle(ctx, battleID); err != nil {
		return 0, fmt.Errorf("s3blob: archive battle %d prune trades: %w", battleID, err)
	}
	if _, err := a.claims.DeleteByBattle(ctx, battleID); err != nil {
		return 0, fmt.Errorf("s3blob: archive battle %d prune claims: %w", battleID, err)
	}

	count := int64(len(trades) + len(claims))

	if err := a.audit.Log(ctx, "archive.battle", map[string]any{
		"battle_id": battleID,
		"trades":    len(trades),
		"claims":    len(claims),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive battle %d audit log: %w", battleID, err)
	}

	return count, nil
}

// ArchiveSettledBefore archives every settled battle whose trading window
// closed strictly before the cutoff. It returns the total number of records
// archived across all battles.
func (a *ArchiveImpl) ArchiveSettledBefore(ctx context.Context, before time.Time) (int64, error) {
	battles, err := a.battles.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled battles: %w", err)
	}

	var total int64
	for _, b := range battles {
		n, err := a.ArchiveBattle(ctx, b.ID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// archivePath builds the S3 key for one of a battle's archive objects:
//
//	archive/battles/42/trades.jsonl
func archivePath(battleID uint64, name string) string {
	return fmt.Sprintf("archive/battles/%d/%s", battleID, name)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
