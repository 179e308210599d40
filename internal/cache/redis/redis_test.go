package redis

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/units"
)

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "vaultswap:lock:a:b", joinKey("vaultswap", "lock", "a:b"))
	assert.Equal(t, "p", joinKey("p"))
}

// testClient connects to VAULTSWAP_TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("VAULTSWAP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VAULTSWAP_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "vaultswap-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestViewCacheRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	cache := NewViewCache(c, 11155111, time.Minute)

	owner := common.HexToAddress("0xfeed")
	v := domain.NewView(owner, 11155111, domain.FieldUnknown)
	v.Price = domain.Ready(units.New(big.NewInt(6_500_000_000_000), units.PricePrecision), time.Now())
	require.NoError(t, cache.Save(ctx, v))

	got, err := cache.Load(ctx, owner)
	require.NoError(t, err)
	price, ok := got.Price.Get()
	require.True(t, ok)
	assert.Equal(t, "65000", price.String())

	require.NoError(t, cache.Delete(ctx, owner))
	_, err = cache.Load(ctx, owner)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockExclusive(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "claim-yield", time.Minute)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "claim-yield", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "claim-yield", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiter(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c, 2, time.Minute)
	ctx := context.Background()
	key := "test-" + time.Now().Format(time.RFC3339Nano)

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
