package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wavewarz/battle-engine/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, battle_id, trader, side, kind,
	amount, tokens, artist_fee, platform_fee, timestamp`

// Insert records one executed trade. Re-delivered events with the same id are
// silently skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeEvent) error {
	const query = `
		INSERT INTO trades (
			id, battle_id, trader, side, kind,
			amount, tokens, artist_fee, platform_fee, timestamp
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, battleIDArg(t.BattleID), t.Trader.Hex(), domain.SideLabel(t.SideA), string(t.Kind),
		t.Amount.Dec(), t.Tokens.Dec(), t.ArtistFee.Dec(), t.PlatformFee.Dec(), t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByBattle returns trades for a battle with pagination and optional time
// filtering, newest first.
func (s *TradeStore) ListByBattle(ctx context.Context, battleID uint64, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE battle_id = $1`
	args := []any{battleIDArg(battleID)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"

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
		return nil, fmt.Errorf("postgres: list trades by battle: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by battle: %w", err)
	}
	return trades, nil
}

// ListByTrader returns trades placed by a wallet, with pagination and optional
// time filtering, newest first.
func (s *TradeStore) ListByTrader(ctx context.Context, trader string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE trader = $1`
	args := []any{common.HexToAddress(trader).Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"

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
		return nil, fmt.Errorf("postgres: list trades by trader: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by trader: %w", err)
	}
	return trades, nil
}

// DeleteByBattle removes all trades for a battle (after archival). Returns
// the number deleted.
func (s *TradeStore) DeleteByBattle(ctx context.Context, battleID uint64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE battle_id = $1`, battleIDArg(battleID))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades for battle %d: %w", battleID, err)
	}
	return tag.RowsAffected(), nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeEvent, error) {
	var trades []domain.TradeEvent
	for rows.Next() {
		var (
			t        domain.TradeEvent
			battleID string
			trader   string
			side     string
			kind     string
			amount   string
			tokens   string
			artFee   string
			platFee  string
		)
		if err := rows.Scan(
			&t.ID, &battleID, &trader, &side, &kind,
			&amount, &tokens, &artFee, &platFee, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		t.Trader = common.HexToAddress(trader)
		t.SideA = side == "A"
		t.Kind = domain.TradeKind(kind)
		var err error
		if t.BattleID, err = parseBattleID(battleID); err != nil {
			return nil, err
		}
		if t.Amount, err = uint256.FromDecimal(amount); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if t.Tokens, err = uint256.FromDecimal(tokens); err != nil {
			return nil, fmt.Errorf("parse tokens: %w", err)
		}
		if t.ArtistFee, err = uint256.FromDecimal(artFee); err != nil {
			return nil, fmt.Errorf("parse artist_fee: %w", err)
		}
		if t.PlatformFee, err = uint256.FromDecimal(platFee); err != nil {
			return nil, fmt.Errorf("parse platform_fee: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
