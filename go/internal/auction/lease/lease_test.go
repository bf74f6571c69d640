package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExclusive(t *testing.T) {
	l := NewLocal(clockwork.NewFakeClock())
	ctx := context.Background()

	release, err := l.Acquire(ctx, "auction:1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "auction:1", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, "auction:2", time.Minute)
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := l.Acquire(ctx, "auction:1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLocalExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLocal(clock)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "auction:1", 10*time.Second)
	require.NoError(t, err)

	clock.Advance(11 * time.Second)
	fresh, err := l.Acquire(ctx, "auction:1", 10*time.Second)
	require.NoError(t, err)

	// The expired holder must not drop the newer lease.
	stale()
	_, err = l.Acquire(ctx, "auction:1", 10*time.Second)
	assert.ErrorIs(t, err, ErrHeld)

	fresh()
	_, err = l.Acquire(ctx, "auction:1", 10*time.Second)
	assert.NoError(t, err)
}

// fakeRedis implements SET NX with expiry and the release script.
type fakeRedis struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	vals    map[string]fakeValue
	evals   int
	failSet error
}

type fakeValue struct {
	val     string
	expires time.Time
}

func newFakeRedis(clock clockwork.Clock) *fakeRedis {
	return &fakeRedis{clock: clock, vals: make(map[string]fakeValue)}
}

func (f *fakeRedis) live(key string) (fakeValue, bool) {
	v, ok := f.vals[key]
	if ok && !f.clock.Now().Before(v.expires) {
		delete(f.vals, key)
		return fakeValue{}, false
	}
	return v, ok
}

func (f *fakeRedis) value(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.live(key)
	return v.val, ok
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return redis.NewBoolResult(false, f.failSet)
	}
	if _, ok := f.live(key); ok {
		return redis.NewBoolResult(false, nil)
	}
	f.vals[key] = fakeValue{val: value.(string), expires: f.clock.Now().Add(expiration)}
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) compareAndDelete(keys []string, args []interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if v, ok := f.live(keys[0]); ok && v.val == args[0] {
		delete(f.vals, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalRO(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalShaRO(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeRedis) ScriptLoad(_ context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestRedisLockerExclusive(t *testing.T) {
	rdb := newFakeRedis(clockwork.NewFakeClock())
	l := NewRedisLocker(rdb, "bidhouse:")
	ctx := context.Background()

	release, err := l.Acquire(ctx, "settle:1", 30*time.Second)
	require.NoError(t, err)
	_, ok := rdb.value("bidhouse:settle:1")
	assert.True(t, ok)

	_, err = l.Acquire(ctx, "settle:1", 30*time.Second)
	assert.ErrorIs(t, err, ErrHeld)

	release()
	_, ok = rdb.value("bidhouse:settle:1")
	assert.False(t, ok)

	again, err := l.Acquire(ctx, "settle:1", 30*time.Second)
	require.NoError(t, err)
	again()
}

func TestRedisLockerExpiredHolderKeepsNewerLease(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rdb := newFakeRedis(clock)
	first := NewRedisLocker(rdb, "bidhouse:")
	second := NewRedisLocker(rdb, "bidhouse:")
	ctx := context.Background()

	stale, err := first.Acquire(ctx, "settle:1", 30*time.Second)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	fresh, err := second.Acquire(ctx, "settle:1", 30*time.Second)
	require.NoError(t, err)
	token, _ := rdb.value("bidhouse:settle:1")

	stale()
	got, ok := rdb.value("bidhouse:settle:1")
	require.True(t, ok, "newer lease survives the stale release")
	assert.Equal(t, token, got)
	_, err = first.Acquire(ctx, "settle:1", 30*time.Second)
	assert.ErrorIs(t, err, ErrHeld)

	fresh()
	_, ok = rdb.value("bidhouse:settle:1")
	assert.False(t, ok)
}

func TestRedisLockerReleaseIdempotent(t *testing.T) {
	rdb := newFakeRedis(clockwork.NewFakeClock())
	l := NewRedisLocker(rdb, "bidhouse:")
	ctx := context.Background()

	release, err := l.Acquire(ctx, "settle:1", 30*time.Second)
	require.NoError(t, err)
	release()

	other, err := l.Acquire(ctx, "settle:1", 30*time.Second)
	require.NoError(t, err)

	release()
	assert.Equal(t, 1, rdb.evals)
	_, ok := rdb.value("bidhouse:settle:1")
	assert.True(t, ok, "second release call must not drop the new holder")

	other()
}

func TestRedisLockerSetError(t *testing.T) {
	rdb := newFakeRedis(clockwork.NewFakeClock())
	rdb.failSet = errors.New("connection refused")
	l := NewRedisLocker(rdb, "bidhouse:")

	_, err := l.Acquire(context.Background(), "settle:1", 30*time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHeld)
	assert.ErrorContains(t, err, "connection refused")
}
