package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/traffic-router/internal/models"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
	"github.com/noah-isme/traffic-router/pkg/tasks"
)

// ConnCacheConfig tunes caching behaviour.
type ConnCacheConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	MaxAttempts   int
	Logger        *zap.Logger
	Clock         func() time.Time
}

// ConnCache keeps one lazily established connection per (service, version)
// pair. Entries track a consecutive-failure streak; once the streak passes
// MaxAttempts the entry stays failed until explicitly reset, so a flapping
// backend does not get hammered from the routing path. A background sweep
// evicts entries idle longer than the TTL.
//
// The cache owns connection lifecycle exclusively: no other component closes
// or mutates a cached connection.
type ConnCache struct {
	transport   Transport
	logger      *zap.Logger
	clock       func() time.Time
	maxAttempts int

	mu      sync.Mutex
	entries map[string]*cacheEntry
	idleTTL time.Duration

	sweep *tasks.Ticker
}

type cacheEntry struct {
	mu             sync.Mutex
	state          models.ConnectionState
	conn           Conn
	failedAttempts int
	lastUsedAt     time.Time
}

// NewConnCache builds a cache over the given transport.
func NewConnCache(t Transport, cfg ConnCacheConfig) *ConnCache {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	c := &ConnCache{
		transport:   t,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		maxAttempts: cfg.MaxAttempts,
		entries:     make(map[string]*cacheEntry),
		idleTTL:     cfg.IdleTTL,
	}
	c.sweep = tasks.NewTicker("connection-sweep", cfg.SweepInterval, c.Sweep, cfg.Logger)
	return c
}

// StartSweep begins the background idle-eviction loop.
func (c *ConnCache) StartSweep(ctx context.Context) {
	c.sweep.Start(ctx)
}

// StopSweep cancels the loop and waits for it to exit.
func (c *ConnCache) StopSweep() {
	c.sweep.Stop()
}

// GetOrCreate returns the cached connection for the descriptor, establishing
// one when absent. A single call retries a failed dial up to the attempt
// budget; when the streak is exhausted the entry is marked failed and later
// calls fail fast with ErrConnectionExhausted until Reset re-enters the
// connecting state.
func (c *ConnCache) GetOrCreate(ctx context.Context, desc Descriptor) (Conn, error) {
	entry := c.entryFor(desc.key())

	entry.mu.Lock()
	defer entry.mu.Unlock()

	switch entry.state {
	case models.ConnectionStateConnected:
		entry.lastUsedAt = c.clock()
		return entry.conn, nil
	case models.ConnectionStateFailed:
		return nil, appErrors.Clone(appErrors.ErrConnectionExhausted,
			fmt.Sprintf("%s failed %d consecutive connection attempts", desc.key(), entry.failedAttempts))
	}

	entry.state = models.ConnectionStateConnecting
	for {
		conn, err := c.transport.Connect(ctx, desc)
		if err == nil {
			entry.state = models.ConnectionStateConnected
			entry.conn = conn
			entry.failedAttempts = 0
			entry.lastUsedAt = c.clock()
			return conn, nil
		}

		entry.failedAttempts++
		entry.lastUsedAt = c.clock()
		c.logger.Warn("connection attempt failed",
			zap.String("service", desc.ServiceName),
			zap.String("version", desc.Version),
			zap.Int("attempt", entry.failedAttempts),
			zap.Error(err))

		// The streak is exhausted only once it exceeds the budget, so the
		// default of 3 allows a fourth and final failed attempt.
		if entry.failedAttempts > c.maxAttempts {
			entry.state = models.ConnectionStateFailed
			return nil, appErrors.Wrap(err, appErrors.ErrConnectionExhausted.Code,
				appErrors.ErrConnectionExhausted.Status,
				fmt.Sprintf("%s failed %d consecutive connection attempts", desc.key(), entry.failedAttempts))
		}
		if ctx.Err() != nil {
			entry.state = models.ConnectionStateFailed
			return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrConnectionExhausted.Code,
				appErrors.ErrConnectionExhausted.Status,
				fmt.Sprintf("%s connection canceled after %d attempts", desc.key(), entry.failedAttempts))
		}
	}
}

// Reset clears a failed entry so the next GetOrCreate starts a fresh attempt
// sequence. It is a no-op for unknown keys.
func (c *ConnCache) Reset(service, version string) {
	key := service + "@" + version
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if ok {
		entry.mu.Lock()
		if entry.conn != nil {
			_ = entry.conn.Close()
			entry.conn = nil
		}
		entry.mu.Unlock()
	}
}

// Sweep evicts entries idle longer than the TTL. The map lock is held only
// to snapshot keys and to drop an entry, never across a close, so routing
// calls are not starved.
func (c *ConnCache) Sweep(ctx context.Context) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	ttl := c.idleTTL
	c.mu.Unlock()

	now := c.clock()
	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		entry, ok := c.entries[key]
		c.mu.Unlock()
		if !ok {
			continue
		}

		entry.mu.Lock()
		expired := now.Sub(entry.lastUsedAt) > ttl
		var conn Conn
		if expired {
			conn = entry.conn
			entry.conn = nil
		}
		entry.mu.Unlock()

		if !expired {
			continue
		}
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		c.logger.Debug("evicted idle connection", zap.String("key", key))
	}
}

// Clear drops every cached entry unconditionally. Administrative reset.
func (c *ConnCache) Clear() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		if entry.conn != nil {
			_ = entry.conn.Close()
			entry.conn = nil
		}
		entry.mu.Unlock()
	}
}

// SetIdleTTL adjusts the eviction threshold for subsequent sweeps.
func (c *ConnCache) SetIdleTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.idleTTL = ttl
	c.mu.Unlock()
}

// List returns snapshots of all cached entries for the admin surface.
func (c *ConnCache) List() []models.CachedConnectionInfo {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	entries := make([]*cacheEntry, 0, len(c.entries))
	for k, e := range c.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	c.mu.Unlock()

	out := make([]models.CachedConnectionInfo, 0, len(entries))
	for i, entry := range entries {
		entry.mu.Lock()
		info := models.CachedConnectionInfo{
			State:          entry.state,
			Connected:      entry.state == models.ConnectionStateConnected,
			FailedAttempts: entry.failedAttempts,
			LastUsedAt:     entry.lastUsedAt,
		}
		entry.mu.Unlock()
		info.ServiceName, info.Version = splitKey(keys[i])
		out = append(out, info)
	}
	return out
}

func (c *ConnCache) entryFor(key string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry{lastUsedAt: c.clock()}
		c.entries[key] = entry
	}
	return entry
}

func splitKey(key string) (service, version string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '@' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
