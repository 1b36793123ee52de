package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, ""), mr
}

func TestRedisStore_CountsWithinWindow(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		count, resetAt, err := s.Hit(ctx, "public:192.0.2.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
		assert.True(t, resetAt.After(time.Now()), "resetAt must be in the future")
	}
}

func TestRedisStore_WindowExpiryResetsCount(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := s.Hit(ctx, "key", time.Minute)
		require.NoError(t, err)
	}

	mr.FastForward(61 * time.Second)

	count, _, err := s.Hit(ctx, "key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "an elapsed window starts over at 1")
}

func TestRedisStore_KeysAreNamespaced(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, _, err := s.Hit(ctx, "billing:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("ratelimit:billing:10.0.0.1"))
}

func TestRedisStore_RepairsKeyWithoutExpiry(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	// A crash between INCR and PEXPIRE leaves a counter with no TTL; the
	// next hit must attach one rather than letting the key count forever.
	require.NoError(t, mr.Set("ratelimit:key", "7"))

	count, resetAt, err := s.Hit(ctx, "key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(8), count)
	assert.True(t, resetAt.After(time.Now()))
	assert.Greater(t, mr.TTL("ratelimit:key"), time.Duration(0))
}

func TestRedisStore_ErrorSurfacesToCaller(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, _, err := s.Hit(context.Background(), "key", time.Minute)
	require.Error(t, err)
}

func TestLimiter_OnRedisStore(t *testing.T) {
	s, _ := newRedisStore(t)
	l := New(s, map[RouteClass]Preset{
		ClassBilling: {Window: time.Minute, MaxRequests: 3},
	}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Check(ctx, "203.0.113.5", ClassBilling).Allowed)
	}
	d := l.Check(ctx, "203.0.113.5", ClassBilling)
	require.False(t, d.Allowed)
	assert.GreaterOrEqual(t, d.RetryAfterSeconds(), 1)
}

func TestLimiter_RedisDownFailsOpen(t *testing.T) {
	s, mr := newRedisStore(t)
	l := New(s, nil, nil)
	mr.Close()

	d := l.Check(context.Background(), "ip", ClassPublic)
	assert.True(t, d.Allowed)
}
