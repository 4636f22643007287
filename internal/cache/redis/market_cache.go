package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dake/internal/domain"
)

const defaultMarketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with JSON market snapshots in
// Redis hashes plus a market-id index.
//
// Key schema:
//
//	{prefix}:market:{address}   - hash with field "data" containing JSON
//	{prefix}:market:id:{id}     - string value of the market address
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache whose entries expire after ttl
// (five minutes when ttl is zero).
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) marketKey(addr common.Address) string {
	return mc.c.Key("market", addr.Hex())
}

func (mc *MarketCache) idKey(id uint64) string {
	return mc.c.Key("market", "id", strconv.FormatUint(id, 10))
}

// Set stores a market snapshot and its id index entry.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.Address.Hex(), err)
	}

	key := mc.marketKey(market.Address)
	pipe := mc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	pipe.Set(ctx, mc.idKey(market.MarketID), market.Address.Hex(), mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.Address.Hex(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (mc *MarketCache) Get(ctx context.Context, addr common.Address) (domain.Market, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.marketKey(addr), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", addr.Hex(), err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", addr.Hex(), err)
	}
	return market, nil
}

// GetByID looks a market up by its numeric id.
func (mc *MarketCache) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	hex, err := mc.c.rdb.Get(ctx, mc.idKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market id %d: %w", id, err)
	}
	return mc.Get(ctx, common.HexToAddress(hex))
}

// Invalidate drops the snapshot and its id index entry.
func (mc *MarketCache) Invalidate(ctx context.Context, addr common.Address) error {
	market, err := mc.Get(ctx, addr)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", addr.Hex(), err)
	}

	pipe := mc.c.rdb.TxPipeline()
	pipe.Del(ctx, mc.marketKey(addr))
	if err == nil {
		pipe.Del(ctx, mc.idKey(market.MarketID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", addr.Hex(), err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
