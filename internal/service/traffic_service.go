package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/traffic-router/internal/models"
	"github.com/noah-isme/traffic-router/internal/registry"
	"github.com/noah-isme/traffic-router/internal/routing"
	"github.com/noah-isme/traffic-router/internal/semver"
	"github.com/noah-isme/traffic-router/internal/transport"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
	"github.com/noah-isme/traffic-router/pkg/logger"
	"github.com/noah-isme/traffic-router/pkg/tasks"
)

// Connector is the connection cache surface consumed by the traffic service.
type Connector interface {
	GetOrCreate(ctx context.Context, desc transport.Descriptor) (transport.Conn, error)
	Reset(service, version string)
	List() []models.CachedConnectionInfo
	Clear()
	SetIdleTTL(ttl time.Duration)
	StartSweep(ctx context.Context)
	StopSweep()
}

// TrafficServiceConfig tunes shifting defaults.
type TrafficServiceConfig struct {
	DefaultShiftStep     int
	DefaultShiftInterval time.Duration
}

// ShiftOptions parameterizes one gradual traffic shift.
type ShiftOptions struct {
	TargetPercentage int
	StepSize         int
	StepInterval     time.Duration
}

// ShiftStatus describes an in-flight shift for the admin surface.
type ShiftStatus struct {
	ServiceName string    `json:"service_name"`
	FromVersion string    `json:"from_version"`
	ToVersion   string    `json:"to_version"`
	Target      int       `json:"target_percentage"`
	StartedAt   time.Time `json:"started_at"`
}

type shiftHandle struct {
	status ShiftStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// TrafficService resolves routable connections for requests and manages the
// traffic distribution across the deployed versions of each service. It is
// the only reader of the weighted selector and the only writer of
// multi-version distribution updates.
type TrafficService struct {
	store    registry.Store
	selector *routing.Selector
	conns    Connector
	events   logger.EventLog
	metrics  *MetricsService
	snapshot *SnapshotCache
	cfg      TrafficServiceConfig

	mu          sync.Mutex
	initialized bool
	runCtx      context.Context
	runCancel   context.CancelFunc
	shifts      map[string]*shiftHandle
}

// NewTrafficService constructs the service. Initialize must be called before
// any other operation.
func NewTrafficService(store registry.Store, selector *routing.Selector, conns Connector, events logger.EventLog, metrics *MetricsService, snapshot *SnapshotCache, cfg TrafficServiceConfig) *TrafficService {
	if selector == nil {
		selector = routing.NewSelector(nil)
	}
	if events == nil {
		events = logger.NewEventLog(nil)
	}
	if cfg.DefaultShiftStep <= 0 {
		cfg.DefaultShiftStep = 10
	}
	if cfg.DefaultShiftInterval <= 0 {
		cfg.DefaultShiftInterval = time.Minute
	}
	return &TrafficService{
		store:    store,
		selector: selector,
		conns:    conns,
		events:   events,
		metrics:  metrics,
		snapshot: snapshot,
		cfg:      cfg,
		shifts:   make(map[string]*shiftHandle),
	}
}

// Initialize starts the connection cache sweep. Idempotent; every other
// operation fails with ErrNotInitialized until it has run.
func (s *TrafficService) Initialize(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	if s.conns != nil {
		s.conns.StartSweep(s.runCtx)
	}
	s.initialized = true
	s.events.Event("traffic_service_initialized")
}

// Shutdown cancels in-flight shifts, stops the sweep and drops cached
// connections. The service cannot be reused afterwards.
func (s *TrafficService) Shutdown() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = false
	cancel := s.runCancel
	handles := make([]*shiftHandle, 0, len(s.shifts))
	for _, h := range s.shifts {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	cancel()
	for _, h := range handles {
		<-h.done
	}
	if s.conns != nil {
		s.conns.StopSweep()
		s.conns.Clear()
	}
	s.events.Event("traffic_service_stopped")
}

func (s *TrafficService) ensureInitialized() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return appErrors.ErrNotInitialized
	}
	return nil
}

// Resolve runs version selection without connecting. It returns nil when no
// routable version satisfies the request.
func (s *TrafficService) Resolve(ctx context.Context, service, constraint string) (*models.VersionedServiceConfig, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	return s.pickVersion(ctx, service, constraint)
}

// GetConnection resolves one routable version of the service, honoring the
// optional constraint, and returns a live connection to it. The read path
// degrades: a nil, nil return means no connection is available, with the
// reason distinguishable in the event log. Store failures are returned as
// errors since they indicate a broken registry rather than routine absence.
func (s *TrafficService) GetConnection(ctx context.Context, service, constraint string) (transport.Conn, error) {
	if err := s.ensureInitialized(); err != nil {
		s.metrics.RecordRoutingDecision(RoutingOutcomeNotInitialized)
		return nil, err
	}

	chosen, err := s.pickVersion(ctx, service, constraint)
	if err != nil {
		return nil, err
	}
	if chosen == nil {
		return nil, nil
	}

	conn, err := s.conns.GetOrCreate(ctx, transport.Descriptor{
		ServiceName: chosen.ServiceName,
		Version:     chosen.Version,
		Endpoint:    chosen.Endpoint,
	})
	if err != nil {
		// Connection failures degrade to "no connection available"; the
		// caller's fallback path is already built for an absent result.
		s.metrics.RecordRoutingDecision(RoutingOutcomeExhausted)
		s.metrics.RecordConnectFailure()
		s.events.Error("connection exhausted",
			zap.String("service", service),
			zap.String("version", chosen.Version),
			zap.Error(err))
		return nil, nil
	}

	s.metrics.RecordRoutingDecision(RoutingOutcomeConnected)
	if s.metrics != nil && s.conns != nil {
		s.metrics.SetCachedConnections(len(s.conns.List()))
	}
	return conn, nil
}

func (s *TrafficService) pickVersion(ctx context.Context, service, constraint string) (*models.VersionedServiceConfig, error) {
	routable, err := s.store.ListRoutableVersions(ctx, service)
	if err != nil {
		s.events.Error("failed to list routable versions", zap.String("service", service), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list routable versions")
	}
	if len(routable) == 0 {
		s.metrics.RecordRoutingDecision(RoutingOutcomeNoServers)
		s.events.Event("no_active_servers", zap.String("service", service))
		return nil, nil
	}

	candidates := routable
	if constraint != "" {
		candidates = candidates[:0:0]
		for _, cfg := range routable {
			if semver.Matches(cfg.Version, constraint) {
				candidates = append(candidates, cfg)
			}
		}
		if len(candidates) == 0 {
			s.metrics.RecordRoutingDecision(RoutingOutcomeNoMatch)
			s.events.Event("no_matching_version",
				zap.String("service", service),
				zap.String("constraint", constraint))
			return nil, nil
		}
	}

	chosen, err := s.selector.Select(candidates)
	if err != nil {
		return nil, err
	}
	return &chosen, nil
}

// GetTrafficDistribution returns the current weights of the routable
// versions, keyed by version.
func (s *TrafficService) GetTrafficDistribution(ctx context.Context, service string) (map[string]int, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}

	if dist, ok := s.snapshot.GetDistribution(ctx, service); ok {
		return dist, nil
	}

	routable, err := s.store.ListRoutableVersions(ctx, service)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list routable versions")
	}
	dist := make(map[string]int, len(routable))
	for _, cfg := range routable {
		dist[cfg.Version] = cfg.TrafficPercentage
	}
	s.snapshot.SetDistribution(ctx, service, dist)
	return dist, nil
}

// SetTrafficDistribution validates that every named version exists, scales
// the input so the committed percentages sum to exactly 100, and writes all
// of them. Validation failures happen before any write, so a rejected call
// leaves the distribution untouched.
func (s *TrafficService) SetTrafficDistribution(ctx context.Context, service string, dist map[string]int) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	if len(dist) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "distribution must name at least one version")
	}

	total := 0
	for version, pct := range dist {
		if pct < 0 || pct > 100 {
			return appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("traffic percentage for %s must be between 0 and 100", version))
		}
		total += pct
	}
	if total == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "distribution percentages must not all be zero")
	}

	// Version order follows the store's insertion order so the rounding
	// remainder lands deterministically on the first named entry.
	all, err := s.store.ListVersions(ctx, service)
	if err != nil {
		s.events.Error("failed to load versions for distribution", zap.String("service", service), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load versions")
	}
	known := make(map[string]struct{}, len(all))
	ordered := make([]string, 0, len(dist))
	for _, cfg := range all {
		known[cfg.Version] = struct{}{}
		if _, named := dist[cfg.Version]; named {
			ordered = append(ordered, cfg.Version)
		}
	}
	for version := range dist {
		if _, ok := known[version]; !ok {
			return appErrors.Clone(appErrors.ErrUnknownVersion,
				fmt.Sprintf("%s@%s is not registered", service, version))
		}
	}

	normalized := normalizeDistribution(ordered, dist, total)
	for _, version := range ordered {
		if _, err := s.store.UpdateTrafficPercentage(ctx, service, version, normalized[version]); err != nil {
			s.events.Error("failed to commit traffic percentage",
				zap.String("service", service),
				zap.String("version", version),
				zap.Error(err))
			return err
		}
	}

	s.snapshot.Invalidate(ctx, service)
	s.events.Event("traffic_distribution_set", zap.String("service", service), zap.Any("distribution", normalized))
	return nil
}

// normalizeDistribution scales percentages to sum to exactly 100, adding the
// rounding remainder to the first entry.
func normalizeDistribution(ordered []string, dist map[string]int, total int) map[string]int {
	normalized := make(map[string]int, len(ordered))
	sum := 0
	for _, version := range ordered {
		scaled := dist[version] * 100 / total
		normalized[version] = scaled
		sum += scaled
	}
	if len(ordered) > 0 && sum != 100 {
		normalized[ordered[0]] += 100 - sum
	}
	return normalized
}

// ShiftTraffic gradually moves traffic from one version to another, one step
// per interval, until the target percentage is reached. The call blocks for
// the duration of the shift and stops early when the context is canceled; a
// canceled shift leaves the distribution at its last committed step.
func (s *TrafficService) ShiftTraffic(ctx context.Context, service, fromVersion, toVersion string, opts ShiftOptions) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	if fromVersion == toVersion {
		return appErrors.Clone(appErrors.ErrValidation, "cannot shift traffic from a version to itself")
	}
	if opts.StepSize <= 0 {
		opts.StepSize = s.cfg.DefaultShiftStep
	}
	if opts.StepInterval <= 0 {
		opts.StepInterval = s.cfg.DefaultShiftInterval
	}
	target := opts.TargetPercentage
	if target < 0 {
		target = 0
	}
	if target > 100 {
		target = 100
	}

	from, err := s.store.GetVersion(ctx, service, fromVersion)
	if err != nil {
		return appErrors.Clone(appErrors.ErrUnknownVersion, fmt.Sprintf("%s@%s is not registered", service, fromVersion))
	}
	to, err := s.store.GetVersion(ctx, service, toVersion)
	if err != nil {
		return appErrors.Clone(appErrors.ErrUnknownVersion, fmt.Sprintf("%s@%s is not registered", service, toVersion))
	}

	current := to.TrafficPercentage
	remainder := from.TrafficPercentage
	for current < target {
		delta := opts.StepSize
		if current+delta > target {
			delta = target - current
		}
		current += delta
		remainder -= delta
		if remainder < 0 {
			remainder = 0
		}

		if _, err := s.store.UpdateTrafficPercentage(ctx, service, toVersion, current); err != nil {
			s.events.Error("traffic shift step failed", zap.String("service", service), zap.Error(err))
			return err
		}
		if _, err := s.store.UpdateTrafficPercentage(ctx, service, fromVersion, remainder); err != nil {
			s.events.Error("traffic shift step failed", zap.String("service", service), zap.Error(err))
			return err
		}
		s.snapshot.Invalidate(ctx, service)
		s.metrics.RecordShiftStep(service)
		s.events.Event("traffic_shift_step",
			zap.String("service", service),
			zap.String("from", fromVersion),
			zap.String("to", toVersion),
			zap.Int("to_percentage", current))

		if current >= target {
			break
		}
		if !tasks.Sleep(ctx, opts.StepInterval) {
			s.events.Event("traffic_shift_canceled",
				zap.String("service", service),
				zap.String("to", toVersion),
				zap.Int("to_percentage", current))
			return ctx.Err()
		}
	}

	s.events.Event("traffic_shift_complete",
		zap.String("service", service),
		zap.String("from", fromVersion),
		zap.String("to", toVersion),
		zap.Int("target", target))
	return nil
}

// StartShift runs ShiftTraffic in the background. At most one shift may be
// in flight per service; a second start fails with ErrShiftInProgress.
func (s *TrafficService) StartShift(service, fromVersion, toVersion string, opts ShiftOptions) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, running := s.shifts[service]; running {
		s.mu.Unlock()
		return appErrors.Clone(appErrors.ErrShiftInProgress,
			fmt.Sprintf("a traffic shift is already running for %s", service))
	}
	shiftCtx, cancel := context.WithCancel(s.runCtx)
	handle := &shiftHandle{
		status: ShiftStatus{
			ServiceName: service,
			FromVersion: fromVersion,
			ToVersion:   toVersion,
			Target:      opts.TargetPercentage,
			StartedAt:   time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.shifts[service] = handle
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			if s.shifts[service] == handle {
				delete(s.shifts, service)
			}
			s.mu.Unlock()
			close(handle.done)
		}()
		if err := s.ShiftTraffic(shiftCtx, service, fromVersion, toVersion, opts); err != nil && shiftCtx.Err() == nil {
			s.events.Error("background traffic shift failed", zap.String("service", service), zap.Error(err))
		}
	}()
	return nil
}

// CancelShift stops an in-flight shift and waits for it to unwind. It
// reports whether a shift was running.
func (s *TrafficService) CancelShift(service string) bool {
	s.mu.Lock()
	handle, ok := s.shifts[service]
	s.mu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	<-handle.done
	return true
}

// ListShifts returns the shifts currently in flight.
func (s *TrafficService) ListShifts() []ShiftStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ShiftStatus, 0, len(s.shifts))
	for _, h := range s.shifts {
		out = append(out, h.status)
	}
	return out
}

// GetCachedConnections lists connection cache entries.
func (s *TrafficService) GetCachedConnections() ([]models.CachedConnectionInfo, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	return s.conns.List(), nil
}

// ClearConnectionCache drops every cached connection.
func (s *TrafficService) ClearConnectionCache() error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	s.conns.Clear()
	s.metrics.SetCachedConnections(0)
	return nil
}

// SetConnectionIdleTTL adjusts the idle eviction threshold.
func (s *TrafficService) SetConnectionIdleTTL(ttl time.Duration) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	if ttl <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "idle TTL must be positive")
	}
	s.conns.SetIdleTTL(ttl)
	return nil
}

// RetryConnection clears the failure streak for one version so the next
// GetConnection starts a fresh attempt sequence.
func (s *TrafficService) RetryConnection(service, version string) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	s.conns.Reset(service, version)
	return nil
}
