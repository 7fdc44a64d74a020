package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/traffic-router/internal/models"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
)

type fakeConn struct {
	closed bool
	mu     sync.Mutex
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeTransport struct {
	mu       sync.Mutex
	attempts int
	failures int // fail this many calls before succeeding
}

func (f *fakeTransport) Connect(ctx context.Context, desc Descriptor) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return nil, errors.New("connection refused")
	}
	return &fakeConn{}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t Transport, clock *fakeClock) *ConnCache {
	return NewConnCache(t, ConnCacheConfig{
		IdleTTL:     10 * time.Minute,
		MaxAttempts: 3,
		Clock:       clock.Now,
	})
}

func desc() Descriptor {
	return Descriptor{ServiceName: "api", Version: "1.0.0", Endpoint: "localhost:9000"}
}

func TestGetOrCreateReusesConnection(t *testing.T) {
	ft := &fakeTransport{}
	cache := newTestCache(ft, newFakeClock())

	first, err := cache.GetOrCreate(context.Background(), desc())
	require.NoError(t, err)
	second, err := cache.GetOrCreate(context.Background(), desc())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, ft.attempts)
}

func TestGetOrCreateRetriesThenSucceeds(t *testing.T) {
	ft := &fakeTransport{failures: 2}
	cache := newTestCache(ft, newFakeClock())

	conn, err := cache.GetOrCreate(context.Background(), desc())
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, 3, ft.attempts)
}

func TestGetOrCreateExhaustsAfterStreak(t *testing.T) {
	ft := &fakeTransport{failures: 100}
	cache := newTestCache(ft, newFakeClock())

	_, err := cache.GetOrCreate(context.Background(), desc())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConnectionExhausted))

	// The failed entry fails fast without dialing again.
	before := ft.attempts
	_, err = cache.GetOrCreate(context.Background(), desc())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConnectionExhausted))
	assert.Equal(t, before, ft.attempts)
}

func TestResetStartsFreshAttemptSequence(t *testing.T) {
	ft := &fakeTransport{failures: 100}
	cache := newTestCache(ft, newFakeClock())

	_, err := cache.GetOrCreate(context.Background(), desc())
	require.Error(t, err)

	ft.mu.Lock()
	ft.failures = 0
	ft.attempts = 0
	ft.mu.Unlock()

	cache.Reset("api", "1.0.0")
	conn, err := cache.GetOrCreate(context.Background(), desc())
	require.NoError(t, err)
	require.NotNil(t, conn)
}

func TestSweepEvictsIdleEntries(t *testing.T) {
	ft := &fakeTransport{}
	clock := newFakeClock()
	cache := newTestCache(ft, clock)

	conn, err := cache.GetOrCreate(context.Background(), desc())
	require.NoError(t, err)
	fc := conn.(*fakeConn)

	clock.Advance(11 * time.Minute)
	cache.Sweep(context.Background())

	assert.Empty(t, cache.List())
	assert.True(t, fc.isClosed())
}

func TestSweepKeepsRecentlyUsedEntries(t *testing.T) {
	ft := &fakeTransport{}
	clock := newFakeClock()
	cache := newTestCache(ft, clock)

	_, err := cache.GetOrCreate(context.Background(), desc())
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	// Touch the entry just before the sweep.
	_, err = cache.GetOrCreate(context.Background(), desc())
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	cache.Sweep(context.Background())

	require.Len(t, cache.List(), 1)
	assert.Equal(t, 1, ft.attempts)
}

func TestSetIdleTTL(t *testing.T) {
	ft := &fakeTransport{}
	clock := newFakeClock()
	cache := newTestCache(ft, clock)

	_, err := cache.GetOrCreate(context.Background(), desc())
	require.NoError(t, err)

	cache.SetIdleTTL(time.Minute)
	clock.Advance(2 * time.Minute)
	cache.Sweep(context.Background())

	assert.Empty(t, cache.List())
}

func TestClearDropsEverything(t *testing.T) {
	ft := &fakeTransport{}
	cache := newTestCache(ft, newFakeClock())

	conn, err := cache.GetOrCreate(context.Background(), desc())
	require.NoError(t, err)

	cache.Clear()
	assert.Empty(t, cache.List())
	assert.True(t, conn.(*fakeConn).isClosed())
}

func TestListSnapshots(t *testing.T) {
	ft := &fakeTransport{}
	cache := newTestCache(ft, newFakeClock())

	_, err := cache.GetOrCreate(context.Background(), desc())
	require.NoError(t, err)

	infos := cache.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "api", infos[0].ServiceName)
	assert.Equal(t, "1.0.0", infos[0].Version)
	assert.Equal(t, models.ConnectionStateConnected, infos[0].State)
	assert.True(t, infos[0].Connected)
	assert.Zero(t, infos[0].FailedAttempts)
}

func TestSweepLifecycle(t *testing.T) {
	ft := &fakeTransport{}
	clock := newFakeClock()
	cache := NewConnCache(ft, ConnCacheConfig{
		IdleTTL:       time.Minute,
		SweepInterval: 10 * time.Millisecond,
		MaxAttempts:   3,
		Clock:         clock.Now,
	})

	ctx := context.Background()
	cache.StartSweep(ctx)
	_, err := cache.GetOrCreate(ctx, desc())
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool {
		return len(cache.List()) == 0
	}, time.Second, 10*time.Millisecond)

	cache.StopSweep()
}
