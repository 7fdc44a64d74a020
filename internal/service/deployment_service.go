package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/traffic-router/internal/models"
	"github.com/noah-isme/traffic-router/internal/registry"
	"github.com/noah-isme/traffic-router/internal/semver"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
	"github.com/noah-isme/traffic-router/pkg/logger"
)

// DeployOptions carries the optional attributes of a new deployment.
type DeployOptions struct {
	InitialStatus            models.VersionStatus
	InitialTrafficPercentage *int
	Scope                    models.ConfigScope
	Endpoint                 string
	HealthCheckEndpoint      string
	Metadata                 map[string]interface{}
}

// DeploymentService manages the version lifecycle: registering deployments,
// promoting canaries to stable, rolling back and retiring versions. All
// writes go through the store, which enforces the single-stable invariant.
type DeploymentService struct {
	store    registry.Store
	events   logger.EventLog
	metrics  *MetricsService
	snapshot *SnapshotCache
}

// NewDeploymentService constructs the service.
func NewDeploymentService(store registry.Store, events logger.EventLog, metrics *MetricsService, snapshot *SnapshotCache) *DeploymentService {
	if events == nil {
		events = logger.NewEventLog(nil)
	}
	return &DeploymentService{store: store, events: events, metrics: metrics, snapshot: snapshot}
}

// DeployVersion registers a new version of a service. New versions default
// to canary with zero traffic so a deployment never routes requests until an
// operator raises its weight or promotes it.
func (s *DeploymentService) DeployVersion(ctx context.Context, service, version string, opts DeployOptions) (*models.VersionedServiceConfig, error) {
	if service == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "service name must not be empty")
	}
	if !semver.ValidFormat(version) {
		return nil, appErrors.Clone(appErrors.ErrInvalidVersionFormat,
			fmt.Sprintf("%q is not a MAJOR.MINOR.PATCH version", version))
	}

	status := opts.InitialStatus
	if status == "" {
		status = models.VersionStatusCanary
	}
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
	}
	traffic := 0
	if opts.InitialTrafficPercentage != nil {
		traffic = *opts.InitialTrafficPercentage
	} else if status == models.VersionStatusStable {
		traffic = 100
	}
	if traffic < 0 || traffic > 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "traffic percentage must be between 0 and 100")
	}
	scope := opts.Scope
	if scope == "" {
		scope = models.ScopeProject
	}

	cfg := models.VersionedServiceConfig{
		ServiceName:         service,
		Version:             version,
		Status:              status,
		TrafficPercentage:   traffic,
		Scope:               scope,
		Endpoint:            opts.Endpoint,
		HealthCheckEndpoint: opts.HealthCheckEndpoint,
		Metadata:            opts.Metadata,
	}
	if err := s.store.RegisterVersion(ctx, cfg); err != nil {
		return nil, err
	}

	s.snapshot.Invalidate(ctx, service)
	s.metrics.RecordDeploymentOperation("deploy")
	s.events.Event("version_deployed",
		zap.String("service", service),
		zap.String("version", version),
		zap.String("status", string(status)),
		zap.Int("traffic_percentage", traffic))
	return s.store.GetVersion(ctx, service, version)
}

// PromoteToBlue makes a version the stable (blue) one, demoting the previous
// stable record and routing all traffic to the promoted version. Promoting
// the version that is already stable is a no-op.
func (s *DeploymentService) PromoteToBlue(ctx context.Context, service, version string) (*models.VersionedServiceConfig, error) {
	current, err := s.store.GetVersion(ctx, service, version)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnknownVersion,
			fmt.Sprintf("%s@%s is not registered", service, version))
	}
	if current.Status == models.VersionStatusStable {
		return current, nil
	}

	if _, err := s.store.UpdateStatus(ctx, service, version, models.VersionStatusStable); err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateTrafficPercentage(ctx, service, version, 100); err != nil {
		return nil, err
	}

	s.snapshot.Invalidate(ctx, service)
	s.metrics.RecordDeploymentOperation("promote")
	s.events.Event("version_promoted",
		zap.String("service", service),
		zap.String("version", version))
	return s.store.GetVersion(ctx, service, version)
}

// Rollback retires a problematic version and restores full traffic to the
// stable one. It fails when no stable version exists or when the problematic
// version is itself the stable one; partial failure modes are avoided by
// checking both preconditions before any write.
func (s *DeploymentService) Rollback(ctx context.Context, service, problematicVersion, reason string) (*models.VersionedServiceConfig, error) {
	stable, err := s.store.GetStableVersion(ctx, service)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNoStableVersion,
			fmt.Sprintf("%s has no stable version to roll back to", service))
	}
	if stable.Version == problematicVersion {
		return nil, appErrors.Clone(appErrors.ErrCannotRollbackStable,
			fmt.Sprintf("%s@%s is the stable version", service, problematicVersion))
	}
	if _, err := s.store.GetVersion(ctx, service, problematicVersion); err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnknownVersion,
			fmt.Sprintf("%s@%s is not registered", service, problematicVersion))
	}

	if _, err := s.store.UpdateStatus(ctx, service, problematicVersion, models.VersionStatusInactive); err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateTrafficPercentage(ctx, service, problematicVersion, 0); err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateTrafficPercentage(ctx, service, stable.Version, 100); err != nil {
		return nil, err
	}
	if err := s.store.RecordRollback(ctx, models.RollbackEvent{
		ServiceName: service,
		FromVersion: problematicVersion,
		ToVersion:   stable.Version,
		Reason:      reason,
	}); err != nil {
		return nil, err
	}

	s.snapshot.Invalidate(ctx, service)
	s.metrics.RecordDeploymentOperation("rollback")
	s.events.Event("version_rolled_back",
		zap.String("service", service),
		zap.String("from", problematicVersion),
		zap.String("to", stable.Version),
		zap.String("reason", reason))
	return s.store.GetVersion(ctx, service, stable.Version)
}

// RemoveVersion deletes a version record. History survives removal.
func (s *DeploymentService) RemoveVersion(ctx context.Context, service, version string) error {
	ok, err := s.store.RemoveVersion(ctx, service, version)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrUnknownVersion,
			fmt.Sprintf("%s@%s is not registered", service, version))
	}

	s.snapshot.Invalidate(ctx, service)
	s.metrics.RecordDeploymentOperation("remove")
	s.events.Event("version_removed",
		zap.String("service", service),
		zap.String("version", version))
	return nil
}

// ListVersions returns every version record of a service.
func (s *DeploymentService) ListVersions(ctx context.Context, service string) ([]models.VersionedServiceConfig, error) {
	return s.store.ListVersions(ctx, service)
}

// GetVersion returns a single version record.
func (s *DeploymentService) GetVersion(ctx context.Context, service, version string) (*models.VersionedServiceConfig, error) {
	return s.store.GetVersion(ctx, service, version)
}

// GetHistory returns the audit trail of one version, most recent first.
func (s *DeploymentService) GetHistory(ctx context.Context, service, version string) ([]models.VersionHistoryEntry, error) {
	return s.store.GetHistory(ctx, service, version)
}

// GetRollback returns the most recent rollback event for a service.
func (s *DeploymentService) GetRollback(ctx context.Context, service string) (*models.RollbackEvent, error) {
	return s.store.GetRollback(ctx, service)
}

// MigrateExistingServices seeds version records for services that predate
// versioned routing. Each unknown service gets a 1.0.0 stable record with
// full traffic; services already known to the store, including those whose
// versions were later removed, are skipped so the migration can be re-run
// safely. It returns the number of services migrated.
func (s *DeploymentService) MigrateExistingServices(ctx context.Context, services []models.VersionedServiceConfig) (int, error) {
	migrated := 0
	for _, svc := range services {
		known, err := s.store.ServiceKnown(ctx, svc.ServiceName)
		if err != nil {
			return migrated, err
		}
		if known {
			continue
		}

		cfg := models.VersionedServiceConfig{
			ServiceName:         svc.ServiceName,
			Version:             "1.0.0",
			Status:              models.VersionStatusStable,
			TrafficPercentage:   100,
			Scope:               models.ScopeExternalConfig,
			Endpoint:            svc.Endpoint,
			HealthCheckEndpoint: svc.HealthCheckEndpoint,
			Metadata:            svc.Metadata,
		}
		if err := s.store.RegisterVersion(ctx, cfg); err != nil {
			return migrated, err
		}
		migrated++
		s.events.Event("service_migrated", zap.String("service", svc.ServiceName))
	}

	if migrated > 0 {
		s.metrics.RecordDeploymentOperation("migrate")
	}
	return migrated, nil
}
