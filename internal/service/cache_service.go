package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
)

// SnapshotRepository abstracts persistence for cached distribution snapshots.
type SnapshotRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// SnapshotCache keeps short-lived copies of per-service traffic
// distributions so the read-heavy admin surface does not hit the store for
// every poll. Misses and backend failures fall through silently.
type SnapshotCache struct {
	repo    SnapshotRepository
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewSnapshotCache constructs the cache. A nil repo or enabled=false yields
// a pass-through instance.
func NewSnapshotCache(repo SnapshotRepository, ttl time.Duration, logger *zap.Logger, enabled bool) *SnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotCache{repo: repo, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *SnapshotCache) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// GetDistribution returns a cached distribution, reporting whether it hit.
func (s *SnapshotCache) GetDistribution(ctx context.Context, service string) (map[string]int, bool) {
	if !s.Enabled() {
		return nil, false
	}
	var dist map[string]int
	if err := s.repo.Get(ctx, distributionKey(service), &dist); err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("snapshot cache get failed", zap.String("service", service), zap.Error(err))
		}
		return nil, false
	}
	return dist, true
}

// SetDistribution stores a distribution snapshot.
func (s *SnapshotCache) SetDistribution(ctx context.Context, service string, dist map[string]int) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Set(ctx, distributionKey(service), dist, s.ttl); err != nil {
		s.logger.Warn("snapshot cache set failed", zap.String("service", service), zap.Error(err))
	}
}

// Invalidate drops the snapshot for a service after a mutation.
func (s *SnapshotCache) Invalidate(ctx context.Context, service string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Delete(ctx, distributionKey(service)); err != nil {
		s.logger.Warn("snapshot cache invalidate failed", zap.String("service", service), zap.Error(err))
	}
}

func distributionKey(service string) string {
	return "traffic:distribution:" + service
}
