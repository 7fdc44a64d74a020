package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/traffic-router/internal/models"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
)

// VersionRepository is the Postgres-backed version record store. It mirrors
// the in-memory registry semantics: stable promotion demotes the previous
// stable record inside the same transaction, and every mutation appends a
// history row.
type VersionRepository struct {
	db *sqlx.DB
}

// NewVersionRepository constructs the repository.
func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

type versionRow struct {
	ServiceName         string         `db:"service_name"`
	Version             string         `db:"version"`
	Status              string         `db:"status"`
	TrafficPercentage   int            `db:"traffic_percentage"`
	DeployedAt          time.Time      `db:"deployed_at"`
	Scope               string         `db:"scope"`
	Endpoint            string         `db:"endpoint"`
	HealthCheckEndpoint sql.NullString `db:"health_check_endpoint"`
	Metadata            []byte         `db:"metadata"`
}

func (r versionRow) toModel() models.VersionedServiceConfig {
	cfg := models.VersionedServiceConfig{
		ServiceName:         r.ServiceName,
		Version:             r.Version,
		Status:              models.VersionStatus(r.Status),
		TrafficPercentage:   r.TrafficPercentage,
		DeploymentTimestamp: r.DeployedAt,
		Scope:               models.ConfigScope(r.Scope),
		Endpoint:            r.Endpoint,
	}
	if r.HealthCheckEndpoint.Valid {
		cfg.HealthCheckEndpoint = r.HealthCheckEndpoint.String
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &cfg.Metadata)
	}
	return cfg
}

const selectVersionColumns = `SELECT service_name, version, status, traffic_percentage, deployed_at, scope, endpoint, health_check_endpoint, metadata
FROM service_versions`

// RegisterVersion inserts a record, demoting any prior stable version of the
// same service in the same transaction when the new record is stable.
func (r *VersionRepository) RegisterVersion(ctx context.Context, cfg models.VersionedServiceConfig) error {
	if cfg.ServiceName == "" || cfg.Version == "" {
		return appErrors.Clone(appErrors.ErrValidation, "service name and version are required")
	}
	if !cfg.Status.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", cfg.Status))
	}
	if cfg.TrafficPercentage < 0 || cfg.TrafficPercentage > 100 {
		return appErrors.Clone(appErrors.ErrValidation, "traffic percentage must be between 0 and 100")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM service_versions WHERE service_name = $1 AND version = $2)`,
		cfg.ServiceName, cfg.Version); err != nil {
		return fmt.Errorf("check duplicate version: %w", err)
	}
	if exists {
		return appErrors.Clone(appErrors.ErrDuplicateVersion,
			fmt.Sprintf("%s@%s is already registered", cfg.ServiceName, cfg.Version))
	}

	if cfg.Status == models.VersionStatusStable {
		if err := demoteStableTx(ctx, tx, cfg.ServiceName, cfg.Version); err != nil {
			return err
		}
	}

	if cfg.DeploymentTimestamp.IsZero() {
		cfg.DeploymentTimestamp = time.Now().UTC()
	}
	var metadata []byte
	if cfg.Metadata != nil {
		metadata, _ = json.Marshal(cfg.Metadata)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO service_versions (service_name, version, status, traffic_percentage, deployed_at, scope, endpoint, health_check_endpoint, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cfg.ServiceName, cfg.Version, string(cfg.Status), cfg.TrafficPercentage, cfg.DeploymentTimestamp,
		string(cfg.Scope), cfg.Endpoint, nullString(cfg.HealthCheckEndpoint), metadata); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	if err := appendHistoryTx(ctx, tx, cfg.ServiceName, cfg.Version, models.HistoryEventRegistered,
		fmt.Sprintf("registered with status %s, traffic %d%%", cfg.Status, cfg.TrafficPercentage)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit register tx: %w", err)
	}
	return nil
}

// GetVersion returns one record or ErrNotFound.
func (r *VersionRepository) GetVersion(ctx context.Context, service, version string) (*models.VersionedServiceConfig, error) {
	var row versionRow
	err := r.db.GetContext(ctx, &row, selectVersionColumns+` WHERE service_name = $1 AND version = $2`, service, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s@%s not found", service, version))
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	cfg := row.toModel()
	return &cfg, nil
}

// ListVersions returns all records of a service in insertion order.
func (r *VersionRepository) ListVersions(ctx context.Context, service string) ([]models.VersionedServiceConfig, error) {
	var rows []versionRow
	if err := r.db.SelectContext(ctx, &rows, selectVersionColumns+` WHERE service_name = $1 ORDER BY position ASC`, service); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	out := make([]models.VersionedServiceConfig, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// ListRoutableVersions returns stable and canary records in insertion order.
func (r *VersionRepository) ListRoutableVersions(ctx context.Context, service string) ([]models.VersionedServiceConfig, error) {
	var rows []versionRow
	if err := r.db.SelectContext(ctx, &rows,
		selectVersionColumns+` WHERE service_name = $1 AND status IN ($2, $3) ORDER BY position ASC`,
		service, string(models.VersionStatusStable), string(models.VersionStatusCanary)); err != nil {
		return nil, fmt.Errorf("list routable versions: %w", err)
	}
	out := make([]models.VersionedServiceConfig, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// GetStableVersion returns the single stable record or ErrNotFound.
func (r *VersionRepository) GetStableVersion(ctx context.Context, service string) (*models.VersionedServiceConfig, error) {
	var row versionRow
	err := r.db.GetContext(ctx, &row,
		selectVersionColumns+` WHERE service_name = $1 AND status = $2`, service, string(models.VersionStatusStable))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no stable version for %s", service))
		}
		return nil, fmt.Errorf("get stable version: %w", err)
	}
	cfg := row.toModel()
	return &cfg, nil
}

// UpdateStatus changes a record's status with the stable demotion invariant.
func (r *VersionRepository) UpdateStatus(ctx context.Context, service, version string, status models.VersionStatus) (bool, error) {
	if !status.Valid() {
		return false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.GetContext(ctx, &current,
		`SELECT status FROM service_versions WHERE service_name = $1 AND version = $2`, service, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load current status: %w", err)
	}
	if models.VersionStatus(current) == status {
		return true, nil
	}

	if status == models.VersionStatusStable {
		if err := demoteStableTx(ctx, tx, service, version); err != nil {
			return false, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE service_versions SET status = $1 WHERE service_name = $2 AND version = $3`,
		string(status), service, version); err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	if err := appendHistoryTx(ctx, tx, service, version, models.HistoryEventStatusChange,
		fmt.Sprintf("status %s -> %s", current, status)); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit status tx: %w", err)
	}
	return true, nil
}

// UpdateTrafficPercentage sets one record's weight.
func (r *VersionRepository) UpdateTrafficPercentage(ctx context.Context, service, version string, pct int) (bool, error) {
	if pct < 0 || pct > 100 {
		return false, appErrors.Clone(appErrors.ErrValidation, "traffic percentage must be between 0 and 100")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin traffic tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.GetContext(ctx, &current,
		`SELECT traffic_percentage FROM service_versions WHERE service_name = $1 AND version = $2`, service, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load current traffic: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE service_versions SET traffic_percentage = $1 WHERE service_name = $2 AND version = $3`,
		pct, service, version); err != nil {
		return false, fmt.Errorf("update traffic: %w", err)
	}
	if err := appendHistoryTx(ctx, tx, service, version, models.HistoryEventTrafficChange,
		fmt.Sprintf("traffic %d%% -> %d%%", current, pct)); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit traffic tx: %w", err)
	}
	return true, nil
}

// RemoveVersion deletes the record; history rows survive removal.
func (r *VersionRepository) RemoveVersion(ctx context.Context, service, version string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin remove tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM service_versions WHERE service_name = $1 AND version = $2`, service, version)
	if err != nil {
		return false, fmt.Errorf("delete version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete version result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := appendHistoryTx(ctx, tx, service, version, models.HistoryEventRemoved, "version removed"); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit remove tx: %w", err)
	}
	return true, nil
}

// RecordRollback upserts the single most recent rollback for the service.
func (r *VersionRepository) RecordRollback(ctx context.Context, event models.RollbackEvent) error {
	if event.ServiceName == "" {
		return appErrors.Clone(appErrors.ErrValidation, "rollback event requires a service name")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollback tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rollback_events (service_name, from_version, to_version, reason, occurred_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (service_name)
DO UPDATE SET from_version = EXCLUDED.from_version, to_version = EXCLUDED.to_version,
              reason = EXCLUDED.reason, occurred_at = EXCLUDED.occurred_at`,
		event.ServiceName, event.FromVersion, event.ToVersion, event.Reason, event.OccurredAt); err != nil {
		return fmt.Errorf("upsert rollback: %w", err)
	}
	if err := appendHistoryTx(ctx, tx, event.ServiceName, event.FromVersion, models.HistoryEventRollback,
		fmt.Sprintf("rolled back to %s: %s", event.ToVersion, event.Reason)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback tx: %w", err)
	}
	return nil
}

// GetRollback returns the most recent rollback event or ErrNotFound.
func (r *VersionRepository) GetRollback(ctx context.Context, service string) (*models.RollbackEvent, error) {
	var event models.RollbackEvent
	err := r.db.GetContext(ctx, &event,
		`SELECT service_name, from_version, to_version, reason, occurred_at FROM rollback_events WHERE service_name = $1`,
		service)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no rollback recorded for %s", service))
		}
		return nil, fmt.Errorf("get rollback: %w", err)
	}
	return &event, nil
}

// GetHistory returns the audit trail for one version, most recent first.
func (r *VersionRepository) GetHistory(ctx context.Context, service, version string) ([]models.VersionHistoryEntry, error) {
	var entries []models.VersionHistoryEntry
	if err := r.db.SelectContext(ctx, &entries,
		`SELECT id, service_name, version, event, detail, recorded_at
FROM version_history WHERE service_name = $1 AND version = $2 ORDER BY recorded_at DESC`,
		service, version); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return entries, nil
}

// ServiceKnown reports whether the service has any record or history row.
func (r *VersionRepository) ServiceKnown(ctx context.Context, service string) (bool, error) {
	var known bool
	if err := r.db.GetContext(ctx, &known,
		`SELECT EXISTS (SELECT 1 FROM service_versions WHERE service_name = $1)
    OR EXISTS (SELECT 1 FROM version_history WHERE service_name = $1)`,
		service); err != nil {
		return false, fmt.Errorf("check service known: %w", err)
	}
	return known, nil
}

// demoteStableTx moves any stable record other than keep to inactive and
// records the demotion. Runs inside the caller's transaction.
func demoteStableTx(ctx context.Context, tx *sqlx.Tx, service, keep string) error {
	var demoted []string
	if err := tx.SelectContext(ctx, &demoted,
		`UPDATE service_versions SET status = $1
WHERE service_name = $2 AND version <> $3 AND status = $4
RETURNING version`,
		string(models.VersionStatusInactive), service, keep, string(models.VersionStatusStable)); err != nil {
		return fmt.Errorf("demote stable: %w", err)
	}
	for _, version := range demoted {
		if err := appendHistoryTx(ctx, tx, service, version, models.HistoryEventDemoted, "demoted: new stable deployment"); err != nil {
			return err
		}
	}
	return nil
}

func appendHistoryTx(ctx context.Context, tx *sqlx.Tx, service, version string, event models.HistoryEventType, detail string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO version_history (id, service_name, version, event, detail, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), service, version, string(event), detail, time.Now().UTC()); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
