// Package registry defines the version-record store contract and its default
// in-memory implementation. The store is the single source of truth for
// routing weights and statuses; every mutation goes through it and every
// read returns a detached snapshot.
package registry

import (
	"context"

	"github.com/noah-isme/traffic-router/internal/models"
)

// Store persists versioned service configuration records.
//
// Implementations must guarantee that at most one version per service holds
// stable status: registering or promoting a stable version atomically
// demotes the previous stable record to inactive within the same operation.
type Store interface {
	// RegisterVersion creates a record. It fails with ErrDuplicateVersion
	// when the (service, version) pair already exists.
	RegisterVersion(ctx context.Context, cfg models.VersionedServiceConfig) error

	// GetVersion returns a snapshot of one record, or ErrNotFound.
	GetVersion(ctx context.Context, service, version string) (*models.VersionedServiceConfig, error)

	// ListVersions returns all records of a service in stable insertion order.
	ListVersions(ctx context.Context, service string) ([]models.VersionedServiceConfig, error)

	// ListRoutableVersions returns only stable and canary records, in the
	// same insertion order as ListVersions.
	ListRoutableVersions(ctx context.Context, service string) ([]models.VersionedServiceConfig, error)

	// GetStableVersion returns the single stable record, or ErrNotFound.
	GetStableVersion(ctx context.Context, service string) (*models.VersionedServiceConfig, error)

	// UpdateStatus changes a record's status and appends a history entry.
	// It returns false when the record does not exist. Setting stable
	// performs the same atomic demotion as registration.
	UpdateStatus(ctx context.Context, service, version string, status models.VersionStatus) (bool, error)

	// UpdateTrafficPercentage sets one record's weight (0-100) and appends a
	// history entry. Sibling records are not renormalized; coherent
	// multi-version updates are the caller's responsibility.
	UpdateTrafficPercentage(ctx context.Context, service, version string, pct int) (bool, error)

	// RemoveVersion deletes a record, returning false when absent.
	RemoveVersion(ctx context.Context, service, version string) (bool, error)

	// RecordRollback overwrites the single most recent rollback event for
	// the service and appends a history entry to the rolled-back version.
	RecordRollback(ctx context.Context, event models.RollbackEvent) error

	// GetRollback returns the most recent rollback event, or ErrNotFound.
	GetRollback(ctx context.Context, service string) (*models.RollbackEvent, error)

	// GetHistory returns the audit trail for one version, most recent first.
	GetHistory(ctx context.Context, service, version string) ([]models.VersionHistoryEntry, error)

	// ServiceKnown reports whether the service has any record or history,
	// including removed versions. Used to keep migration idempotent.
	ServiceKnown(ctx context.Context, service string) (bool, error)
}
