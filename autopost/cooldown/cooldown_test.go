package cooldown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemGateWindow(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		gap    time.Duration
		second bool
	}{
		{name: "immediate", gap: 0, second: false},
		{name: "inside", gap: 599 * time.Second, second: false},
		{name: "boundary", gap: 600 * time.Second, second: true},
		{name: "after", gap: 601 * time.Second, second: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
			g := NewMemGate(600 * time.Second)
			g.Now = clock.Now

			first, err := g.ShouldFire(ctx, "grp", "alice", "price")
			assert.NoError(err)
			assert.True(first)

			clock.Advance(tc.gap)
			second, err := g.ShouldFire(ctx, "grp", "alice", "price")
			assert.NoError(err)
			assert.Equal(tc.second, second)
		})
	}
}

func TestMemGateSuppressedCallDoesNotExtend(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	g := NewMemGate(10 * time.Minute)
	g.Now = clock.Now

	ok, _ := g.ShouldFire(ctx, "grp", "alice", "price")
	assert.True(ok)
	clock.Advance(9 * time.Minute)
	ok, _ = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.False(ok)
	// measured from the last fire, not the last check
	clock.Advance(1 * time.Minute)
	ok, _ = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.True(ok)
}

func TestMemGateKeysAreIndependent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	g := NewMemGate(time.Hour)

	ok, _ := g.ShouldFire(ctx, "grp", "alice", "price")
	assert.True(ok)
	ok, _ = g.ShouldFire(ctx, "grp", "bob", "price")
	assert.True(ok)
	ok, _ = g.ShouldFire(ctx, "grp", "alice", "hours")
	assert.True(ok)
	ok, _ = g.ShouldFire(ctx, "other", "alice", "price")
	assert.True(ok)
	ok, _ = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.False(ok)
	assert.Equal(4, g.Len())
}

func TestMemGateConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	g := NewMemGate(time.Hour)

	var fired atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.ShouldFire(ctx, "grp", "alice", "price")
			if err == nil && ok {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), fired.Load())
}

func TestMemGateSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	g := NewMemGate(time.Minute)
	g.Now = clock.Now

	g.ShouldFire(ctx, "grp", "alice", "price")
	clock.Advance(30 * time.Second)
	g.ShouldFire(ctx, "grp", "bob", "price")
	clock.Advance(45 * time.Second)

	assert.Equal(1, g.Sweep())
	assert.Equal(1, g.Len())
}

func TestRedisGate(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	opt, err := redis.ParseURL("redis://localhost:6379/0")
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	g := NewRedisGate(rdb, 2*time.Second)
	rdb.Del(ctx, redisCooldownPrefix+entryKey("grp", "alice", "price"))

	ok, err := g.ShouldFire(ctx, "grp", "alice", "price")
	assert.NoError(err)
	assert.True(ok)
	ok, err = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.NoError(err)
	assert.False(ok)

	time.Sleep(2100 * time.Millisecond)
	ok, err = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.NoError(err)
	assert.True(ok)
}

func TestMemGateRelease(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	g := NewMemGate(10 * time.Minute)
	g.Now = clock.Now

	// undelivered first reply leaves no trace
	ok, _ := g.ShouldFire(ctx, "grp", "alice", "price")
	assert.True(ok)
	assert.NoError(g.Release(ctx, "grp", "alice", "price"))
	assert.Equal(0, g.Len())
	ok, _ = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.True(ok)

	// undelivered re-fire restores the earlier fire time
	clock.Advance(10 * time.Minute)
	ok, _ = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.True(ok)
	assert.NoError(g.Release(ctx, "grp", "alice", "price"))
	ok, _ = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.True(ok)
	assert.NoError(g.Release(ctx, "grp", "alice", "price"))

	clock.Advance(-5 * time.Minute)
	ok, _ = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.False(ok)

	// releasing an unknown key is a no-op
	assert.NoError(g.Release(ctx, "grp", "bob", "price"))
}

func TestRedisGateRelease(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	opt, err := redis.ParseURL("redis://localhost:6379/0")
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	key := redisCooldownPrefix + entryKey("grp", "alice", "price")
	rdb.Del(ctx, key)

	g := NewRedisGate(rdb, time.Minute)
	other := NewRedisGate(rdb, time.Minute)

	ok, err := g.ShouldFire(ctx, "grp", "alice", "price")
	assert.NoError(err)
	assert.True(ok)

	// another node cannot clear our fire
	assert.NoError(other.Release(ctx, "grp", "alice", "price"))
	ok, err = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(g.Release(ctx, "grp", "alice", "price"))
	ok, err = g.ShouldFire(ctx, "grp", "alice", "price")
	assert.NoError(err)
	assert.True(ok)
	rdb.Del(ctx, key)
}
