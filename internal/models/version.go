package models

import "time"

// VersionStatus enumerates the deployment states of a service version.
type VersionStatus string

const (
	// VersionStatusStable marks the single trusted version of a service, used as the rollback target.
	VersionStatusStable VersionStatus = "stable"
	// VersionStatusCanary marks a version receiving a controlled share of traffic for validation.
	VersionStatusCanary VersionStatus = "canary"
	// VersionStatusInactive marks a configured version that is not routable.
	VersionStatusInactive VersionStatus = "inactive"
)

// Routable reports whether a version with this status is eligible for selection.
func (s VersionStatus) Routable() bool {
	return s == VersionStatusStable || s == VersionStatusCanary
}

// Valid reports whether the status is one of the known states.
func (s VersionStatus) Valid() bool {
	switch s {
	case VersionStatusStable, VersionStatusCanary, VersionStatusInactive:
		return true
	}
	return false
}

// ConfigScope records where a version record was sourced from. It carries no
// routing semantics and is kept for audit and display.
type ConfigScope string

const (
	ScopeProject        ConfigScope = "project"
	ScopeGlobal         ConfigScope = "global"
	ScopeExternalConfig ConfigScope = "external"
)

// VersionedServiceConfig describes one deployed version of one named service.
// Records are value snapshots: mutating a returned config never affects the
// registry, all mutation goes through store methods.
type VersionedServiceConfig struct {
	ServiceName         string                 `json:"service_name" db:"service_name"`
	Version             string                 `json:"version" db:"version"`
	Status              VersionStatus          `json:"status" db:"status"`
	TrafficPercentage   int                    `json:"traffic_percentage" db:"traffic_percentage"`
	DeploymentTimestamp time.Time              `json:"deployment_timestamp" db:"deployed_at"`
	Scope               ConfigScope            `json:"scope" db:"scope"`
	Endpoint            string                 `json:"endpoint" db:"endpoint"`
	HealthCheckEndpoint string                 `json:"health_check_endpoint,omitempty" db:"health_check_endpoint"`
	Metadata            map[string]interface{} `json:"metadata,omitempty" db:"-"`
}

// Key returns the identity of the record within its service.
func (c VersionedServiceConfig) Key() string {
	return c.ServiceName + "@" + c.Version
}

// HistoryEventType enumerates the kinds of recorded version transitions.
type HistoryEventType string

const (
	HistoryEventRegistered    HistoryEventType = "registered"
	HistoryEventStatusChange  HistoryEventType = "status_change"
	HistoryEventTrafficChange HistoryEventType = "traffic_change"
	HistoryEventDemoted       HistoryEventType = "demoted"
	HistoryEventRollback      HistoryEventType = "rollback"
	HistoryEventRemoved       HistoryEventType = "removed"
)

// VersionHistoryEntry is an append-only audit record for a version. Entries
// are never consulted for routing decisions.
type VersionHistoryEntry struct {
	ID          string           `json:"id" db:"id"`
	ServiceName string           `json:"service_name" db:"service_name"`
	Version     string           `json:"version" db:"version"`
	Event       HistoryEventType `json:"event" db:"event"`
	Detail      string           `json:"detail,omitempty" db:"detail"`
	RecordedAt  time.Time        `json:"recorded_at" db:"recorded_at"`
}

// RollbackEvent captures the most recent rollback performed for a service.
type RollbackEvent struct {
	ServiceName string    `json:"service_name" db:"service_name"`
	FromVersion string    `json:"from_version" db:"from_version"`
	ToVersion   string    `json:"to_version" db:"to_version"`
	Reason      string    `json:"reason" db:"reason"`
	OccurredAt  time.Time `json:"occurred_at" db:"occurred_at"`
}
