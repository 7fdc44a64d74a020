package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/traffic-router/internal/models"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
)

func newTestStore() *MemoryStore {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	return NewMemoryStore(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
}

func testConfig(service, version string, status models.VersionStatus, pct int) models.VersionedServiceConfig {
	return models.VersionedServiceConfig{
		ServiceName:       service,
		Version:           version,
		Status:            status,
		TrafficPercentage: pct,
		Scope:             models.ScopeProject,
		Endpoint:          "localhost:9000",
	}
}

func TestRegisterVersionAndGet(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.0.0", models.VersionStatusStable, 100)))

	cfg, err := store.GetVersion(ctx, "api", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusStable, cfg.Status)
	assert.Equal(t, 100, cfg.TrafficPercentage)
	assert.False(t, cfg.DeploymentTimestamp.IsZero())
}

func TestRegisterVersionDuplicate(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.0.0", models.VersionStatusCanary, 0)))
	err := store.RegisterVersion(ctx, testConfig("api", "1.0.0", models.VersionStatusCanary, 0))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateVersion))
}

func TestRegisterStableDemotesPriorStable(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.0.0", models.VersionStatusStable, 100)))
	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "2.0.0", models.VersionStatusStable, 100)))

	old, err := store.GetVersion(ctx, "api", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusInactive, old.Status)

	stable, err := store.GetStableVersion(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", stable.Version)

	history, err := store.GetHistory(ctx, "api", "1.0.0")
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, models.HistoryEventDemoted, history[0].Event)
	assert.Contains(t, history[0].Detail, "new stable deployment")
}

func TestAtMostOneStableAfterStatusUpdates(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.0.0", models.VersionStatusStable, 100)))
	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.1.0", models.VersionStatusCanary, 0)))
	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.2.0", models.VersionStatusCanary, 0)))

	for _, v := range []string{"1.1.0", "1.2.0", "1.0.0"} {
		ok, err := store.UpdateStatus(ctx, "api", v, models.VersionStatusStable)
		require.NoError(t, err)
		require.True(t, ok)

		all, err := store.ListVersions(ctx, "api")
		require.NoError(t, err)
		stableCount := 0
		for _, cfg := range all {
			if cfg.Status == models.VersionStatusStable {
				stableCount++
			}
		}
		assert.Equal(t, 1, stableCount, "after promoting %s", v)
	}
}

func TestListVersionsInsertionOrder(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	for _, v := range []string{"1.0.0", "1.1.0", "0.9.0"} {
		require.NoError(t, store.RegisterVersion(ctx, testConfig("api", v, models.VersionStatusCanary, 0)))
	}

	all, err := store.ListVersions(ctx, "api")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1.0.0", all[0].Version)
	assert.Equal(t, "1.1.0", all[1].Version)
	assert.Equal(t, "0.9.0", all[2].Version)
}

func TestListRoutableVersionsExcludesInactive(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.0.0", models.VersionStatusStable, 80)))
	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.1.0", models.VersionStatusCanary, 20)))
	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "0.9.0", models.VersionStatusInactive, 0)))

	routable, err := store.ListRoutableVersions(ctx, "api")
	require.NoError(t, err)
	require.Len(t, routable, 2)
	for _, cfg := range routable {
		assert.NotEqual(t, models.VersionStatusInactive, cfg.Status)
	}
}

func TestUpdateTrafficPercentage(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.0.0", models.VersionStatusCanary, 0)))

	ok, err := store.UpdateTrafficPercentage(ctx, "api", "1.0.0", 45)
	require.NoError(t, err)
	require.True(t, ok)

	cfg, err := store.GetVersion(ctx, "api", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.TrafficPercentage)

	ok, err = store.UpdateTrafficPercentage(ctx, "api", "9.9.9", 10)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.UpdateTrafficPercentage(ctx, "api", "1.0.0", 120)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSnapshotsAreDetached(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	cfg := testConfig("api", "1.0.0", models.VersionStatusCanary, 10)
	cfg.Metadata = map[string]interface{}{"region": "eu"}
	require.NoError(t, store.RegisterVersion(ctx, cfg))

	got, err := store.GetVersion(ctx, "api", "1.0.0")
	require.NoError(t, err)
	got.TrafficPercentage = 99
	got.Metadata["region"] = "us"

	again, err := store.GetVersion(ctx, "api", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, 10, again.TrafficPercentage)
	assert.Equal(t, "eu", again.Metadata["region"])
}

func TestRemoveVersionKeepsHistory(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.0.0", models.VersionStatusCanary, 0)))
	ok, err := store.RemoveVersion(ctx, "api", "1.0.0")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.GetVersion(ctx, "api", "1.0.0")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	history, err := store.GetHistory(ctx, "api", "1.0.0")
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, models.HistoryEventRemoved, history[0].Event)

	known, err := store.ServiceKnown(ctx, "api")
	require.NoError(t, err)
	assert.True(t, known)
}

func TestRecordRollbackOverwrites(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.RecordRollback(ctx, models.RollbackEvent{
		ServiceName: "api", FromVersion: "1.1.0", ToVersion: "1.0.0", Reason: "bug found",
	}))
	require.NoError(t, store.RecordRollback(ctx, models.RollbackEvent{
		ServiceName: "api", FromVersion: "1.2.0", ToVersion: "1.0.0", Reason: "crash loop",
	}))

	event, err := store.GetRollback(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", event.FromVersion)
	assert.Equal(t, "crash loop", event.Reason)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestGetHistoryMostRecentFirst(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.RegisterVersion(ctx, testConfig("api", "1.0.0", models.VersionStatusCanary, 0)))
	_, err := store.UpdateTrafficPercentage(ctx, "api", "1.0.0", 50)
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, "api", "1.0.0", models.VersionStatusStable)
	require.NoError(t, err)

	history, err := store.GetHistory(ctx, "api", "1.0.0")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.HistoryEventStatusChange, history[0].Event)
	assert.Equal(t, models.HistoryEventTrafficChange, history[1].Event)
	assert.Equal(t, models.HistoryEventRegistered, history[2].Event)
	assert.True(t, history[0].RecordedAt.After(history[2].RecordedAt))
}

func TestUnknownServiceReads(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	all, err := store.ListVersions(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = store.GetStableVersion(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	known, err := store.ServiceKnown(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, known)
}
