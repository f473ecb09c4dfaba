package scheduler

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestRedisCampaignLocker_Exclusive(t *testing.T) {
	mr, rc := newTestRedis(t)
	locker := NewRedisCampaignLocker(rc, "funnel", time.Minute)
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("funnel:campaign_lock:3"))

	_, ok, err = NewRedisCampaignLocker(rc, "funnel", time.Minute).TryLock(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	assert.False(t, mr.Exists("funnel:campaign_lock:3"))

	_, ok, err = locker.TryLock(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisCampaignLocker_ExpiredHolderCannotReleaseNewLease(t *testing.T) {
	mr, rc := newTestRedis(t)
	locker := NewRedisCampaignLocker(rc, "", time.Minute)
	ctx := context.Background()

	staleUnlock, ok, err := locker.TryLock(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok, err = locker.TryLock(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)

	staleUnlock()
	assert.True(t, mr.Exists("campaign_lock:4"), "stale holder released someone else's lease")
}

func TestRedisHaltBus_DeliversAcrossRegistries(t *testing.T) {
	_, rc := newTestRedis(t)
	logger := log.New(io.Discard, "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewGateRegistry(NewRedisHaltBus(rc, "halts", logger), logger)
	b := NewGateRegistry(NewRedisHaltBus(rc, "halts", logger), logger)
	require.NoError(t, a.Listen(ctx))
	require.NoError(t, b.Listen(ctx))

	require.NoError(t, a.Quiesce(ctx, 5, func(context.Context) error { return nil }))
	require.Eventually(t, func() bool { return b.Halted(5) }, 2*time.Second, 5*time.Millisecond)

	a.Reopen(ctx, 5)
	require.Eventually(t, func() bool { return !b.Halted(5) }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, a.Halted(5))
}

func TestRedisHaltBus_SkipsMalformedPayloads(t *testing.T) {
	mr, rc := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewRedisHaltBus(rc, "halts", log.New(io.Discard, "", 0))
	var (
		mu  sync.Mutex
		got []HaltEvent
	)
	require.NoError(t, bus.Subscribe(ctx, func(ev HaltEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))

	mr.Publish("halts", "not json")
	require.NoError(t, bus.Publish(ctx, HaltEvent{CampaignID: 8, Halted: true, Origin: "x"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, HaltEvent{CampaignID: 8, Halted: true, Origin: "x"}, got[0])
}
