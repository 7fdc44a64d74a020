package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/traffic-router/internal/models"
	"github.com/noah-isme/traffic-router/internal/registry"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
)

func newTestDeploymentService(store registry.Store) *DeploymentService {
	return NewDeploymentService(store, nil, nil, NewSnapshotCache(nil, 0, nil, false))
}

func intPtr(v int) *int { return &v }

func TestDeployVersionDefaultsToCanary(t *testing.T) {
	store := registry.NewMemoryStore(nil)
	svc := newTestDeploymentService(store)

	cfg, err := svc.DeployVersion(context.Background(), "api", "1.1.0", DeployOptions{
		Endpoint: "localhost:9001",
	})
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusCanary, cfg.Status)
	assert.Zero(t, cfg.TrafficPercentage)
	assert.Equal(t, models.ScopeProject, cfg.Scope)
	assert.False(t, cfg.DeploymentTimestamp.IsZero())
}

func TestDeployVersionStableDefaultsToFullTraffic(t *testing.T) {
	store := registry.NewMemoryStore(nil)
	svc := newTestDeploymentService(store)

	cfg, err := svc.DeployVersion(context.Background(), "api", "1.0.0", DeployOptions{
		InitialStatus: models.VersionStatusStable,
	})
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusStable, cfg.Status)
	assert.Equal(t, 100, cfg.TrafficPercentage)
}

func TestDeployVersionExplicitTraffic(t *testing.T) {
	store := registry.NewMemoryStore(nil)
	svc := newTestDeploymentService(store)

	cfg, err := svc.DeployVersion(context.Background(), "api", "1.1.0", DeployOptions{
		InitialStatus:            models.VersionStatusCanary,
		InitialTrafficPercentage: intPtr(25),
	})
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.TrafficPercentage)
}

func TestDeployVersionRejectsBadFormat(t *testing.T) {
	svc := newTestDeploymentService(registry.NewMemoryStore(nil))

	for _, version := range []string{"1.0", "v1.0.0", "1.0.0-beta", "abc", ""} {
		_, err := svc.DeployVersion(context.Background(), "api", version, DeployOptions{})
		require.Error(t, err, version)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidVersionFormat), version)
	}
}

func TestDeployVersionRejectsDuplicate(t *testing.T) {
	svc := newTestDeploymentService(registry.NewMemoryStore(nil))

	_, err := svc.DeployVersion(context.Background(), "api", "1.0.0", DeployOptions{})
	require.NoError(t, err)
	_, err = svc.DeployVersion(context.Background(), "api", "1.0.0", DeployOptions{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateVersion))
}

func TestDeployStableDemotesPriorStable(t *testing.T) {
	store := registry.NewMemoryStore(nil)
	svc := newTestDeploymentService(store)

	_, err := svc.DeployVersion(context.Background(), "api", "1.0.0", DeployOptions{
		InitialStatus: models.VersionStatusStable,
	})
	require.NoError(t, err)
	_, err = svc.DeployVersion(context.Background(), "api", "2.0.0", DeployOptions{
		InitialStatus: models.VersionStatusStable,
	})
	require.NoError(t, err)

	old, err := store.GetVersion(context.Background(), "api", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusInactive, old.Status)

	stable, err := store.GetStableVersion(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", stable.Version)
}

func TestPromoteToBlue(t *testing.T) {
	store := registry.NewMemoryStore(nil)
	svc := newTestDeploymentService(store)

	_, err := svc.DeployVersion(context.Background(), "api", "1.0.0", DeployOptions{
		InitialStatus: models.VersionStatusStable,
	})
	require.NoError(t, err)
	_, err = svc.DeployVersion(context.Background(), "api", "1.1.0", DeployOptions{
		InitialTrafficPercentage: intPtr(20),
	})
	require.NoError(t, err)

	promoted, err := svc.PromoteToBlue(context.Background(), "api", "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusStable, promoted.Status)
	assert.Equal(t, 100, promoted.TrafficPercentage)

	old, err := store.GetVersion(context.Background(), "api", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusInactive, old.Status)
}

func TestPromoteToBlueAlreadyStableIsNoOp(t *testing.T) {
	store := registry.NewMemoryStore(nil)
	svc := newTestDeploymentService(store)

	_, err := svc.DeployVersion(context.Background(), "api", "1.0.0", DeployOptions{
		InitialStatus:            models.VersionStatusStable,
		InitialTrafficPercentage: intPtr(80),
	})
	require.NoError(t, err)

	promoted, err := svc.PromoteToBlue(context.Background(), "api", "1.0.0")
	require.NoError(t, err)
	// No-op preserves the current weight instead of forcing 100.
	assert.Equal(t, 80, promoted.TrafficPercentage)

	history, err := store.GetHistory(context.Background(), "api", "1.0.0")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryEventRegistered, history[0].Event)
}

func TestPromoteToBlueUnknownVersion(t *testing.T) {
	svc := newTestDeploymentService(registry.NewMemoryStore(nil))

	_, err := svc.PromoteToBlue(context.Background(), "api", "9.9.9")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnknownVersion))
}

func TestRollback(t *testing.T) {
	store := registry.NewMemoryStore(nil)
	svc := newTestDeploymentService(store)

	_, err := svc.DeployVersion(context.Background(), "api", "1.0.0", DeployOptions{
		InitialStatus:            models.VersionStatusStable,
		InitialTrafficPercentage: intPtr(60),
	})
	require.NoError(t, err)
	_, err = svc.DeployVersion(context.Background(), "api", "1.1.0", DeployOptions{
		InitialTrafficPercentage: intPtr(40),
	})
	require.NoError(t, err)

	stable, err := svc.Rollback(context.Background(), "api", "1.1.0", "elevated error rate")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", stable.Version)
	assert.Equal(t, 100, stable.TrafficPercentage)

	bad, err := store.GetVersion(context.Background(), "api", "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusInactive, bad.Status)
	assert.Zero(t, bad.TrafficPercentage)

	event, err := svc.GetRollback(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", event.FromVersion)
	assert.Equal(t, "1.0.0", event.ToVersion)
	assert.Equal(t, "elevated error rate", event.Reason)
}

func TestRollbackRequiresStableVersion(t *testing.T) {
	svc := newTestDeploymentService(registry.NewMemoryStore(nil))

	_, err := svc.DeployVersion(context.Background(), "api", "1.1.0", DeployOptions{})
	require.NoError(t, err)

	_, err = svc.Rollback(context.Background(), "api", "1.1.0", "broken")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoStableVersion))
}

func TestRollbackRejectsStableItself(t *testing.T) {
	svc := newTestDeploymentService(registry.NewMemoryStore(nil))

	_, err := svc.DeployVersion(context.Background(), "api", "1.0.0", DeployOptions{
		InitialStatus: models.VersionStatusStable,
	})
	require.NoError(t, err)

	_, err = svc.Rollback(context.Background(), "api", "1.0.0", "broken")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCannotRollbackStable))
}

func TestRollbackUnknownProblematicVersion(t *testing.T) {
	svc := newTestDeploymentService(registry.NewMemoryStore(nil))

	_, err := svc.DeployVersion(context.Background(), "api", "1.0.0", DeployOptions{
		InitialStatus: models.VersionStatusStable,
	})
	require.NoError(t, err)

	_, err = svc.Rollback(context.Background(), "api", "9.9.9", "broken")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnknownVersion))
}

func TestRemoveVersionKeepsHistory(t *testing.T) {
	store := registry.NewMemoryStore(nil)
	svc := newTestDeploymentService(store)

	_, err := svc.DeployVersion(context.Background(), "api", "1.0.0", DeployOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.RemoveVersion(context.Background(), "api", "1.0.0"))

	_, err = store.GetVersion(context.Background(), "api", "1.0.0")
	require.Error(t, err)

	history, err := svc.GetHistory(context.Background(), "api", "1.0.0")
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, models.HistoryEventRemoved, history[0].Event)
}

func TestRemoveVersionUnknown(t *testing.T) {
	svc := newTestDeploymentService(registry.NewMemoryStore(nil))

	err := svc.RemoveVersion(context.Background(), "api", "9.9.9")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnknownVersion))
}

func TestMigrateExistingServices(t *testing.T) {
	store := registry.NewMemoryStore(nil)
	svc := newTestDeploymentService(store)

	// One service is already versioned; migration must leave it alone.
	_, err := svc.DeployVersion(context.Background(), "billing", "2.0.0", DeployOptions{
		InitialStatus: models.VersionStatusStable,
	})
	require.NoError(t, err)

	migrated, err := svc.MigrateExistingServices(context.Background(), []models.VersionedServiceConfig{
		{ServiceName: "billing", Endpoint: "localhost:9100"},
		{ServiceName: "search", Endpoint: "localhost:9200"},
		{ServiceName: "auth", Endpoint: "localhost:9300"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, migrated)

	cfg, err := store.GetVersion(context.Background(), "search", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusStable, cfg.Status)
	assert.Equal(t, 100, cfg.TrafficPercentage)
	assert.Equal(t, models.ScopeExternalConfig, cfg.Scope)

	// Re-running is a no-op.
	migrated, err = svc.MigrateExistingServices(context.Background(), []models.VersionedServiceConfig{
		{ServiceName: "search"},
	})
	require.NoError(t, err)
	assert.Zero(t, migrated)

	// A removed version still marks the service as known.
	require.NoError(t, svc.RemoveVersion(context.Background(), "auth", "1.0.0"))
	migrated, err = svc.MigrateExistingServices(context.Background(), []models.VersionedServiceConfig{
		{ServiceName: "auth"},
	})
	require.NoError(t, err)
	assert.Zero(t, migrated)
}
