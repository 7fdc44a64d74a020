package dto

import (
	"time"

	"github.com/noah-isme/traffic-router/internal/models"
)

// DeployVersionRequest describes the payload for registering a deployment.
type DeployVersionRequest struct {
	Version             string                 `json:"version" validate:"required"`
	Status              string                 `json:"status" validate:"omitempty,oneof=stable canary inactive"`
	TrafficPercentage   *int                   `json:"traffic_percentage" validate:"omitempty,min=0,max=100"`
	Scope               string                 `json:"scope" validate:"omitempty,oneof=project global external"`
	Endpoint            string                 `json:"endpoint" validate:"required"`
	HealthCheckEndpoint string                 `json:"health_check_endpoint"`
	Metadata            map[string]interface{} `json:"metadata"`
}

// RollbackRequest names the version being retired and why.
type RollbackRequest struct {
	ProblematicVersion string `json:"problematic_version" validate:"required"`
	Reason             string `json:"reason"`
}

// SetDistributionRequest carries the desired traffic split, keyed by version.
// Percentages are scaled server-side to sum to 100.
type SetDistributionRequest struct {
	Distribution map[string]int `json:"distribution" validate:"required,min=1"`
}

// StartShiftRequest starts a gradual traffic shift between two versions.
type StartShiftRequest struct {
	FromVersion         string `json:"from_version" validate:"required"`
	ToVersion           string `json:"to_version" validate:"required"`
	TargetPercentage    int    `json:"target_percentage" validate:"min=0,max=100"`
	StepSize            int    `json:"step_size" validate:"omitempty,min=1,max=100"`
	StepIntervalSeconds int    `json:"step_interval_seconds" validate:"omitempty,min=1"`
}

// MigrateServiceEntry identifies one pre-versioning service to seed.
type MigrateServiceEntry struct {
	ServiceName         string                 `json:"service_name" validate:"required"`
	Endpoint            string                 `json:"endpoint"`
	HealthCheckEndpoint string                 `json:"health_check_endpoint"`
	Metadata            map[string]interface{} `json:"metadata"`
}

// MigrateRequest lists services to migrate into versioned routing.
type MigrateRequest struct {
	Services []MigrateServiceEntry `json:"services" validate:"required,min=1,dive"`
}

// MigrateResponse reports how many services were newly seeded.
type MigrateResponse struct {
	Migrated int `json:"migrated"`
}

// SetCacheTTLRequest adjusts the connection cache idle eviction threshold.
type SetCacheTTLRequest struct {
	IdleTTLSeconds int `json:"idle_ttl_seconds" validate:"required,min=1"`
}

// DistributionResponse is the current traffic split of a service.
type DistributionResponse struct {
	ServiceName  string         `json:"service_name"`
	Distribution map[string]int `json:"distribution"`
}

// ResolveResponse reports the outcome of a dry-run resolution.
type ResolveResponse struct {
	Resolved bool                           `json:"resolved"`
	Version  *models.VersionedServiceConfig `json:"version,omitempty"`
}

// ShiftStartedResponse acknowledges a background shift.
type ShiftStartedResponse struct {
	ServiceName string    `json:"service_name"`
	FromVersion string    `json:"from_version"`
	ToVersion   string    `json:"to_version"`
	Target      int       `json:"target_percentage"`
	StartedAt   time.Time `json:"started_at"`
}
