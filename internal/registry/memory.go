package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/traffic-router/internal/models"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
)

// MemoryStore is the default Store backend. Records are partitioned per
// service name with one mutex each, so mutations on unrelated services never
// contend on a hot routing path.
type MemoryStore struct {
	mu       sync.RWMutex
	services map[string]*serviceRecords
	now      func() time.Time
}

type serviceRecords struct {
	name     string
	mu       sync.Mutex
	order    []string
	versions map[string]*models.VersionedServiceConfig
	history  map[string][]models.VersionHistoryEntry
	rollback *models.RollbackEvent
}

// NewMemoryStore builds an empty store. The clock is injectable for tests;
// nil means time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		services: make(map[string]*serviceRecords),
		now:      clock,
	}
}

func (s *MemoryStore) RegisterVersion(ctx context.Context, cfg models.VersionedServiceConfig) error {
	if cfg.ServiceName == "" || cfg.Version == "" {
		return appErrors.Clone(appErrors.ErrValidation, "service name and version are required")
	}
	if !cfg.Status.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", cfg.Status))
	}
	if cfg.TrafficPercentage < 0 || cfg.TrafficPercentage > 100 {
		return appErrors.Clone(appErrors.ErrValidation, "traffic percentage must be between 0 and 100")
	}

	entry := s.entryFor(cfg.ServiceName, true)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if _, exists := entry.versions[cfg.Version]; exists {
		return appErrors.Clone(appErrors.ErrDuplicateVersion,
			fmt.Sprintf("%s@%s is already registered", cfg.ServiceName, cfg.Version))
	}

	now := s.now().UTC()
	if cfg.DeploymentTimestamp.IsZero() {
		cfg.DeploymentTimestamp = now
	}

	if cfg.Status == models.VersionStatusStable {
		entry.demoteStableLocked(s.now, cfg.Version)
	}

	stored := cloneConfig(cfg)
	entry.versions[cfg.Version] = &stored
	entry.order = append(entry.order, cfg.Version)
	entry.appendHistoryLocked(s.now, cfg.Version, models.HistoryEventRegistered,
		fmt.Sprintf("registered with status %s, traffic %d%%", cfg.Status, cfg.TrafficPercentage))
	return nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, service, version string) (*models.VersionedServiceConfig, error) {
	entry := s.entryFor(service, false)
	if entry == nil {
		return nil, notFound(service, version)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	cfg, ok := entry.versions[version]
	if !ok {
		return nil, notFound(service, version)
	}
	snapshot := cloneConfig(*cfg)
	return &snapshot, nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, service string) ([]models.VersionedServiceConfig, error) {
	entry := s.entryFor(service, false)
	if entry == nil {
		return nil, nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]models.VersionedServiceConfig, 0, len(entry.order))
	for _, v := range entry.order {
		if cfg, ok := entry.versions[v]; ok {
			out = append(out, cloneConfig(*cfg))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRoutableVersions(ctx context.Context, service string) ([]models.VersionedServiceConfig, error) {
	all, err := s.ListVersions(ctx, service)
	if err != nil {
		return nil, err
	}
	out := make([]models.VersionedServiceConfig, 0, len(all))
	for _, cfg := range all {
		if cfg.Status.Routable() {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetStableVersion(ctx context.Context, service string) (*models.VersionedServiceConfig, error) {
	entry := s.entryFor(service, false)
	if entry == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no stable version for %s", service))
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for _, v := range entry.order {
		if cfg, ok := entry.versions[v]; ok && cfg.Status == models.VersionStatusStable {
			snapshot := cloneConfig(*cfg)
			return &snapshot, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no stable version for %s", service))
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, service, version string, status models.VersionStatus) (bool, error) {
	if !status.Valid() {
		return false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
	}
	entry := s.entryFor(service, false)
	if entry == nil {
		return false, nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	cfg, ok := entry.versions[version]
	if !ok {
		return false, nil
	}
	if cfg.Status == status {
		return true, nil
	}
	if status == models.VersionStatusStable {
		entry.demoteStableLocked(s.now, version)
	}
	prev := cfg.Status
	cfg.Status = status
	entry.appendHistoryLocked(s.now, version, models.HistoryEventStatusChange,
		fmt.Sprintf("status %s -> %s", prev, status))
	return true, nil
}

func (s *MemoryStore) UpdateTrafficPercentage(ctx context.Context, service, version string, pct int) (bool, error) {
	if pct < 0 || pct > 100 {
		return false, appErrors.Clone(appErrors.ErrValidation, "traffic percentage must be between 0 and 100")
	}
	entry := s.entryFor(service, false)
	if entry == nil {
		return false, nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	cfg, ok := entry.versions[version]
	if !ok {
		return false, nil
	}
	prev := cfg.TrafficPercentage
	cfg.TrafficPercentage = pct
	entry.appendHistoryLocked(s.now, version, models.HistoryEventTrafficChange,
		fmt.Sprintf("traffic %d%% -> %d%%", prev, pct))
	return true, nil
}

func (s *MemoryStore) RemoveVersion(ctx context.Context, service, version string) (bool, error) {
	entry := s.entryFor(service, false)
	if entry == nil {
		return false, nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if _, ok := entry.versions[version]; !ok {
		return false, nil
	}
	delete(entry.versions, version)
	for i, v := range entry.order {
		if v == version {
			entry.order = append(entry.order[:i], entry.order[i+1:]...)
			break
		}
	}
	// History survives removal so the identity is not silently reusable.
	entry.appendHistoryLocked(s.now, version, models.HistoryEventRemoved, "version removed")
	return true, nil
}

func (s *MemoryStore) RecordRollback(ctx context.Context, event models.RollbackEvent) error {
	if event.ServiceName == "" {
		return appErrors.Clone(appErrors.ErrValidation, "rollback event requires a service name")
	}
	entry := s.entryFor(event.ServiceName, true)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	stored := event
	entry.rollback = &stored
	entry.appendHistoryLocked(s.now, event.FromVersion, models.HistoryEventRollback,
		fmt.Sprintf("rolled back to %s: %s", event.ToVersion, event.Reason))
	return nil
}

func (s *MemoryStore) GetRollback(ctx context.Context, service string) (*models.RollbackEvent, error) {
	entry := s.entryFor(service, false)
	if entry == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no rollback recorded for %s", service))
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.rollback == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no rollback recorded for %s", service))
	}
	event := *entry.rollback
	return &event, nil
}

func (s *MemoryStore) GetHistory(ctx context.Context, service, version string) ([]models.VersionHistoryEntry, error) {
	entry := s.entryFor(service, false)
	if entry == nil {
		return nil, nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	chronological := entry.history[version]
	out := make([]models.VersionHistoryEntry, len(chronological))
	for i, h := range chronological {
		out[len(chronological)-1-i] = h
	}
	return out, nil
}

func (s *MemoryStore) ServiceKnown(ctx context.Context, service string) (bool, error) {
	entry := s.entryFor(service, false)
	if entry == nil {
		return false, nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.versions) > 0 || len(entry.history) > 0, nil
}

func (s *MemoryStore) entryFor(service string, create bool) *serviceRecords {
	s.mu.RLock()
	entry := s.services[service]
	s.mu.RUnlock()
	if entry != nil || !create {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry = s.services[service]; entry == nil {
		entry = &serviceRecords{
			name:     service,
			versions: make(map[string]*models.VersionedServiceConfig),
			history:  make(map[string][]models.VersionHistoryEntry),
		}
		s.services[service] = entry
	}
	return entry
}

// demoteStableLocked moves any stable record other than keep to inactive.
// Callers hold the service lock.
func (e *serviceRecords) demoteStableLocked(clock func() time.Time, keep string) {
	for v, cfg := range e.versions {
		if v != keep && cfg.Status == models.VersionStatusStable {
			cfg.Status = models.VersionStatusInactive
			e.appendHistoryLocked(clock, v, models.HistoryEventDemoted, "demoted: new stable deployment")
		}
	}
}

func (e *serviceRecords) appendHistoryLocked(clock func() time.Time, version string, event models.HistoryEventType, detail string) {
	e.history[version] = append(e.history[version], models.VersionHistoryEntry{
		ID:          uuid.NewString(),
		ServiceName: e.name,
		Version:     version,
		Event:       event,
		Detail:      detail,
		RecordedAt:  clock().UTC(),
	})
}

func cloneConfig(cfg models.VersionedServiceConfig) models.VersionedServiceConfig {
	if cfg.Metadata != nil {
		meta := make(map[string]interface{}, len(cfg.Metadata))
		for k, v := range cfg.Metadata {
			meta[k] = v
		}
		cfg.Metadata = meta
	}
	return cfg
}

func notFound(service, version string) error {
	return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s@%s not found", service, version))
}
