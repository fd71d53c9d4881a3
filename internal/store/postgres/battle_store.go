package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wavewarz/battle-engine/internal/domain"
)

// BattleStore implements domain.BattleStore using PostgreSQL. Pool and supply
// amounts are stored as NUMERIC(78,0) and identifiers as NUMERIC(20,0) so
// the full uint256 and uint64 ranges round-trip without loss.
type BattleStore struct {
	pool *pgxpool.Pool
}

// NewBattleStore creates a new BattleStore backed by the given connection pool.
func NewBattleStore(pool *pgxpool.Pool) *BattleStore {
	return &BattleStore{pool: pool}
}

const battleSelectCols = `id, start_time, end_time, artist_a, artist_b, admin,
	payment_token, pool_a, pool_b, supply_a, supply_b,
	is_active, winner_decided, winner_is_side_a, created_at`

// Upsert inserts or replaces the stored snapshot for a battle.
func (s *BattleStore) Upsert(ctx context.Context, b domain.Battle) error {
	const query = `
		INSERT INTO battles (
			id, start_time, end_time, artist_a, artist_b, admin,
			payment_token, pool_a, pool_b, supply_a, supply_b,
			is_active, winner_decided, winner_is_side_a, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		) ON CONFLICT (id) DO UPDATE SET
			pool_a = EXCLUDED.pool_a,
			pool_b = EXCLUDED.pool_b,
			supply_a = EXCLUDED.supply_a,
			supply_b = EXCLUDED.supply_b,
			is_active = EXCLUDED.is_active,
			winner_decided = EXCLUDED.winner_decided,
			winner_is_side_a = EXCLUDED.winner_is_side_a`

	_, err := s.pool.Exec(ctx, query,
		battleIDArg(b.ID), b.StartTime, b.EndTime,
		b.ArtistA.Hex(), b.ArtistB.Hex(), b.Admin.Hex(),
		b.PaymentToken.Hex(),
		b.PoolA.Dec(), b.PoolB.Dec(), b.SupplyA.Dec(), b.SupplyB.Dec(),
		b.IsActive, b.WinnerDecided, b.WinnerIsSideA, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert battle %d: %w", b.ID, err)
	}
	return nil
}

// GetByID returns the stored snapshot for a battle.
func (s *BattleStore) GetByID(ctx context.Context, id uint64) (domain.Battle, error) {
	query := `SELECT ` + battleSelectCols + ` FROM battles WHERE id = $1`
	b, err := scanBattleRow(s.pool.QueryRow(ctx, query, battleIDArg(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	if err != nil {
		return domain.Battle{}, fmt.Errorf("postgres: get battle %d: %w", id, err)
	}
	return b, nil
}

// ListActive returns battles not yet settled, newest first.
func (s *BattleStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Battle, error) {
	query := `SELECT ` + battleSelectCols + ` FROM battles WHERE is_active = TRUE ORDER BY start_time DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active battles: %w", err)
	}
	defer rows.Close()
	return scanBattleRows(rows)
}

// ListSettledBefore returns settled battles whose trading window closed
// strictly before the given time (for archiving).
func (s *BattleStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Battle, error) {
	query := `SELECT ` + battleSelectCols + ` FROM battles
		WHERE winner_decided = TRUE AND end_time < $1 ORDER BY end_time ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled battles: %w", err)
	}
	defer rows.Close()
	return scanBattleRows(rows)
}

// Delete removes the stored snapshot for a battle.
func (s *BattleStore) Delete(ctx context.Context, id uint64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM battles WHERE id = $1`, battleIDArg(id)); err != nil {
		return fmt.Errorf("postgres: delete battle %d: %w", id, err)
	}
	return nil
}

// Count returns the number of stored battles.
func (s *BattleStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM battles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count battles: %w", err)
	}
	return n, nil
}

func scanBattleRow(row pgx.Row) (domain.Battle, error) {
	var (
		b        domain.Battle
		id       string
		artistA  string
		artistB  string
		admin    string
		payToken string
		poolA    string
		poolB    string
		supplyA  string
		supplyB  string
	)
	err := row.Scan(
		&id, &b.StartTime, &b.EndTime, &artistA, &artistB, &admin,
		&payToken, &poolA, &poolB, &supplyA, &supplyB,
		&b.IsActive, &b.WinnerDecided, &b.WinnerIsSideA, &b.CreatedAt,
	)
	if err != nil {
		return domain.Battle{}, err
	}
	if b.ID, err = parseBattleID(id); err != nil {
		return domain.Battle{}, err
	}
	b.ArtistA = common.HexToAddress(artistA)
	b.ArtistB = common.HexToAddress(artistB)
	b.Admin = common.HexToAddress(admin)
	b.PaymentToken = common.HexToAddress(payToken)
	if b.PoolA, err = uint256.FromDecimal(poolA); err != nil {
		return domain.Battle{}, fmt.Errorf("parse pool_a: %w", err)
	}
	if b.PoolB, err = uint256.FromDecimal(poolB); err != nil {
		return domain.Battle{}, fmt.Errorf("parse pool_b: %w", err)
	}
	if b.SupplyA, err = uint256.FromDecimal(supplyA); err != nil {
		return domain.Battle{}, fmt.Errorf("parse supply_a: %w", err)
	}
	if b.SupplyB, err = uint256.FromDecimal(supplyB); err != nil {
		return domain.Battle{}, fmt.Errorf("parse supply_b: %w", err)
	}
	return b, nil
}

func scanBattleRows(rows pgx.Rows) ([]domain.Battle, error) {
	var battles []domain.Battle
	for rows.Next() {
		b, err := scanBattleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan battle: %w", err)
		}
		battles = append(battles, b)
	}
	return battles, rows.Err()
}
