package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wavewarz/battle-engine/internal/domain"
)

const battleTTL = 5 * time.Minute

// BattleCache implements domain.BattleCache using Redis hashes with JSON-
// serialized battle snapshots.
//
// Key schema:
//
//	battle:{id} - hash with field "data" containing JSON
type BattleCache struct {
	rdb *redis.Client
}

// NewBattleCache creates a BattleCache backed by the given Client.
func NewBattleCache(c *Client) *BattleCache {
	return &BattleCache{rdb: c.Underlying()}
}

func battleKey(id uint64) string {
	return "battle:" + strconv.FormatUint(id, 10)
}

// Set stores a battle snapshot in the cache with a 5-minute TTL.
func (bc *BattleCache) Set(ctx context.Context, b domain.Battle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("redis: marshal battle %d: %w", b.ID, err)
	}

	key := battleKey(b.ID)

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, battleTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set battle %d: %w", b.ID, err)
	}
	return nil
}

// Get retrieves a battle snapshot by its ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (bc *BattleCache) Get(ctx context.Context, id uint64) (domain.Battle, error) {
	data, err := bc.rdb.HGet(ctx, battleKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Battle{}, domain.ErrNotFound
		}
		return domain.Battle{}, fmt.Errorf("redis: get battle %d: %w", id, err)
	}

	var b domain.Battle
	if err := json.Unmarshal(data, &b); err != nil {
		return domain.Battle{}, fmt.Errorf("redis: unmarshal battle %d: %w", id, err)
	}
	return b, nil
}

// Invalidate removes a battle snapshot from the cache.
func (bc *BattleCache) Invalidate(ctx context.Context, id uint64) error {
	if err := bc.rdb.Del(ctx, battleKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate battle %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BattleCache = (*BattleCache)(nil)
