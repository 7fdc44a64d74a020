package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/traffic-router/internal/dto"
	"github.com/noah-isme/traffic-router/internal/models"
	"github.com/noah-isme/traffic-router/internal/service"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
	"github.com/noah-isme/traffic-router/pkg/response"
)

type deploymentService interface {
	DeployVersion(ctx context.Context, svc, version string, opts service.DeployOptions) (*models.VersionedServiceConfig, error)
	PromoteToBlue(ctx context.Context, svc, version string) (*models.VersionedServiceConfig, error)
	Rollback(ctx context.Context, svc, problematicVersion, reason string) (*models.VersionedServiceConfig, error)
	RemoveVersion(ctx context.Context, svc, version string) error
	ListVersions(ctx context.Context, svc string) ([]models.VersionedServiceConfig, error)
	GetVersion(ctx context.Context, svc, version string) (*models.VersionedServiceConfig, error)
	GetHistory(ctx context.Context, svc, version string) ([]models.VersionHistoryEntry, error)
	GetRollback(ctx context.Context, svc string) (*models.RollbackEvent, error)
	MigrateExistingServices(ctx context.Context, services []models.VersionedServiceConfig) (int, error)
}

// DeploymentHandler exposes the version lifecycle endpoints.
type DeploymentHandler struct {
	service  deploymentService
	validate *validator.Validate
}

// NewDeploymentHandler builds a new handler.
func NewDeploymentHandler(svc deploymentService, validate *validator.Validate) *DeploymentHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &DeploymentHandler{service: svc, validate: validate}
}

// Deploy registers a new version of a service.
func (h *DeploymentHandler) Deploy(c *gin.Context) {
	var req dto.DeployVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid deployment payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid deployment payload"))
		return
	}

	cfg, err := h.service.DeployVersion(c.Request.Context(), c.Param("service"), req.Version, service.DeployOptions{
		InitialStatus:            models.VersionStatus(req.Status),
		InitialTrafficPercentage: req.TrafficPercentage,
		Scope:                    models.ConfigScope(req.Scope),
		Endpoint:                 req.Endpoint,
		HealthCheckEndpoint:      req.HealthCheckEndpoint,
		Metadata:                 req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cfg)
}

// List returns every version record of a service.
func (h *DeploymentHandler) List(c *gin.Context) {
	versions, err := h.service.ListVersions(c.Request.Context(), c.Param("service"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, versions, nil)
}

// Get returns one version record.
func (h *DeploymentHandler) Get(c *gin.Context) {
	cfg, err := h.service.GetVersion(c.Request.Context(), c.Param("service"), c.Param("version"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cfg, nil)
}

// History returns the audit trail of one version, most recent first.
func (h *DeploymentHandler) History(c *gin.Context) {
	entries, err := h.service.GetHistory(c.Request.Context(), c.Param("service"), c.Param("version"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Promote makes a version the stable one.
func (h *DeploymentHandler) Promote(c *gin.Context) {
	cfg, err := h.service.PromoteToBlue(c.Request.Context(), c.Param("service"), c.Param("version"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cfg, nil)
}

// Rollback retires a problematic version and restores the stable one.
func (h *DeploymentHandler) Rollback(c *gin.Context) {
	var req dto.RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rollback payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rollback payload"))
		return
	}

	stable, err := h.service.Rollback(c.Request.Context(), c.Param("service"), req.ProblematicVersion, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stable, nil)
}

// LastRollback returns the most recent rollback event for a service.
func (h *DeploymentHandler) LastRollback(c *gin.Context) {
	event, err := h.service.GetRollback(c.Request.Context(), c.Param("service"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// Remove deletes a version record. History survives.
func (h *DeploymentHandler) Remove(c *gin.Context) {
	if err := h.service.RemoveVersion(c.Request.Context(), c.Param("service"), c.Param("version")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Migrate seeds version records for services that predate versioned routing.
func (h *DeploymentHandler) Migrate(c *gin.Context) {
	var req dto.MigrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid migration payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid migration payload"))
		return
	}

	services := make([]models.VersionedServiceConfig, 0, len(req.Services))
	for _, entry := range req.Services {
		services = append(services, models.VersionedServiceConfig{
			ServiceName:         entry.ServiceName,
			Endpoint:            entry.Endpoint,
			HealthCheckEndpoint: entry.HealthCheckEndpoint,
			Metadata:            entry.Metadata,
		})
	}
	migrated, err := h.service.MigrateExistingServices(c.Request.Context(), services)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.MigrateResponse{Migrated: migrated}, nil)
}
