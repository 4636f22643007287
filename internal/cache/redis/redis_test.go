package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dake/internal/domain"
)

// newTestClient connects to DAKE_TEST_REDIS_ADDR under a fresh key prefix,
// or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("DAKE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DAKE_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "dake-test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientKey(t *testing.T) {
	c := &Client{prefix: "dake"}
	assert.Equal(t, "dake:market:id:7", c.Key("market", "id", "7"))
	assert.Equal(t, "dake", c.Key())
}

func TestMarketCache(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	mc := NewMarketCache(c, time.Minute)

	m := domain.Market{
		Address:        common.HexToAddress("0x01"),
		MarketID:       7,
		Question:       "cached?",
		Status:         domain.MarketStatusOpen,
		TotalYesAmount: 5,
	}
	_, err := mc.Get(ctx, m.Address)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mc.Set(ctx, m))
	got, err := mc.Get(ctx, m.Address)
	require.NoError(t, err)
	assert.Equal(t, m.Question, got.Question)
	assert.Equal(t, m.TotalYesAmount, got.TotalYesAmount)

	byID, err := mc.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, m.Address, byID.Address)

	require.NoError(t, mc.Invalidate(ctx, m.Address))
	_, err = mc.GetByID(ctx, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "archive", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiter(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "client", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBus(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sb := NewSignalBus(c)

	sub, err := sb.Subscribe(ctx, domain.ChannelMarkets)
	require.NoError(t, err)

	require.NoError(t, sb.Publish(ctx, domain.ChannelMarkets, []byte(`{"type":"market_created"}`)))
	require.NoError(t, sb.Publish(ctx, domain.ChannelMarkets, []byte(`{"type":"market_closed"}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"type":"market_created"}`, string(msg))
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	recent, err := sb.Recent(ctx, domain.ChannelMarkets, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.JSONEq(t, `{"type":"market_closed"}`, string(recent[1]))
}
