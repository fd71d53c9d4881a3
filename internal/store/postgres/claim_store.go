package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wavewarz/battle-engine/internal/domain"
)

// ClaimStore implements domain.ClaimStore using PostgreSQL.
type ClaimStore struct {
	pool *pgxpool.Pool
}

// NewClaimStore creates a new ClaimStore backed by the given connection pool.
func NewClaimStore(pool *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

// Insert records one settlement claim. The (battle_id, trader) pair is unique
// because the engine allows each trader to claim exactly once; re-delivered
// events hit ON CONFLICT DO NOTHING.
func (s *ClaimStore) Insert(ctx context.Context, c domain.ClaimEvent) error {
	const query = `
		INSERT INTO claims (id, battle_id, trader, amount, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (battle_id, trader) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		c.ID, battleIDArg(c.BattleID), c.Trader.Hex(), c.Amount.Dec(), c.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert claim %s: %w", c.ID, err)
	}
	return nil
}

// ListByBattle returns all claims for a battle, oldest first.
func (s *ClaimStore) ListByBattle(ctx context.Context, battleID uint64) ([]domain.ClaimEvent, error) {
	const query = `SELECT id, battle_id, trader, amount, timestamp
		FROM claims WHERE battle_id = $1 ORDER BY timestamp ASC`

	rows, err := s.pool.Query(ctx, query, battleIDArg(battleID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list claims by battle: %w", err)
	}
	defer rows.Close()

	var claims []domain.ClaimEvent
	for rows.Next() {
		var (
			c      domain.ClaimEvent
			id     string
			trader string
			amount string
		)
		if err := rows.Scan(&c.ID, &id, &trader, &amount, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan claim: %w", err)
		}
		if c.BattleID, err = parseBattleID(id); err != nil {
			return nil, fmt.Errorf("postgres: scan claim: %w", err)
		}
		c.Trader = common.HexToAddress(trader)
		if c.Amount, err = uint256.FromDecimal(amount); err != nil {
			return nil, fmt.Errorf("postgres: parse claim amount: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// DeleteByBattle removes all claims for a battle (after archival). Returns
// the number deleted.
func (s *ClaimStore) DeleteByBattle(ctx context.Context, battleID uint64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM claims WHERE battle_id = $1`, int64(battleID))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete claims for battle %d: %w", battleID, err)
	}
	return tag.RowsAffected(), nil
}
