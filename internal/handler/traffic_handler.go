package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/traffic-router/internal/dto"
	"github.com/noah-isme/traffic-router/internal/models"
	"github.com/noah-isme/traffic-router/internal/service"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
	"github.com/noah-isme/traffic-router/pkg/response"
)

type trafficService interface {
	Resolve(ctx context.Context, svc, constraint string) (*models.VersionedServiceConfig, error)
	GetTrafficDistribution(ctx context.Context, svc string) (map[string]int, error)
	SetTrafficDistribution(ctx context.Context, svc string, dist map[string]int) error
	StartShift(svc, fromVersion, toVersion string, opts service.ShiftOptions) error
	CancelShift(svc string) bool
	ListShifts() []service.ShiftStatus
	GetCachedConnections() ([]models.CachedConnectionInfo, error)
	ClearConnectionCache() error
	SetConnectionIdleTTL(ttl time.Duration) error
	RetryConnection(svc, version string) error
}

// TrafficHandler exposes the distribution, shift and connection cache
// endpoints.
type TrafficHandler struct {
	service  trafficService
	validate *validator.Validate
}

// NewTrafficHandler builds a new handler.
func NewTrafficHandler(svc trafficService, validate *validator.Validate) *TrafficHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &TrafficHandler{service: svc, validate: validate}
}

// Resolve performs a dry-run version selection without connecting.
func (h *TrafficHandler) Resolve(c *gin.Context) {
	cfg, err := h.service.Resolve(c.Request.Context(), c.Param("service"), c.Query("constraint"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ResolveResponse{Resolved: cfg != nil, Version: cfg}, nil)
}

// GetDistribution returns the current traffic split of a service.
func (h *TrafficHandler) GetDistribution(c *gin.Context) {
	dist, err := h.service.GetTrafficDistribution(c.Request.Context(), c.Param("service"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.DistributionResponse{
		ServiceName:  c.Param("service"),
		Distribution: dist,
	}, nil)
}

// SetDistribution replaces the traffic split of a service. Percentages are
// scaled server-side to sum to exactly 100.
func (h *TrafficHandler) SetDistribution(c *gin.Context) {
	var req dto.SetDistributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid distribution payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid distribution payload"))
		return
	}

	if err := h.service.SetTrafficDistribution(c.Request.Context(), c.Param("service"), req.Distribution); err != nil {
		response.Error(c, err)
		return
	}
	dist, err := h.service.GetTrafficDistribution(c.Request.Context(), c.Param("service"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.DistributionResponse{
		ServiceName:  c.Param("service"),
		Distribution: dist,
	}, nil)
}

// StartShift begins a gradual background traffic shift.
func (h *TrafficHandler) StartShift(c *gin.Context) {
	var req dto.StartShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid shift payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid shift payload"))
		return
	}

	svc := c.Param("service")
	err := h.service.StartShift(svc, req.FromVersion, req.ToVersion, service.ShiftOptions{
		TargetPercentage: req.TargetPercentage,
		StepSize:         req.StepSize,
		StepInterval:     time.Duration(req.StepIntervalSeconds) * time.Second,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, dto.ShiftStartedResponse{
		ServiceName: svc,
		FromVersion: req.FromVersion,
		ToVersion:   req.ToVersion,
		Target:      req.TargetPercentage,
		StartedAt:   time.Now().UTC(),
	}, nil)
}

// CancelShift stops an in-flight shift.
func (h *TrafficHandler) CancelShift(c *gin.Context) {
	if !h.service.CancelShift(c.Param("service")) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no traffic shift in progress for this service"))
		return
	}
	response.NoContent(c)
}

// ListShifts returns the shifts currently in flight.
func (h *TrafficHandler) ListShifts(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.ListShifts(), nil)
}

// ListConnections lists the connection cache entries.
func (h *TrafficHandler) ListConnections(c *gin.Context) {
	infos, err := h.service.GetCachedConnections()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, infos, nil)
}

// ClearConnections drops every cached connection.
func (h *TrafficHandler) ClearConnections(c *gin.Context) {
	if err := h.service.ClearConnectionCache(); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RetryConnection clears the failure streak of one cached connection.
func (h *TrafficHandler) RetryConnection(c *gin.Context) {
	if err := h.service.RetryConnection(c.Param("service"), c.Param("version")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetCacheTTL adjusts the idle eviction threshold of the connection cache.
func (h *TrafficHandler) SetCacheTTL(c *gin.Context) {
	var req dto.SetCacheTTLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid cache TTL payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid cache TTL payload"))
		return
	}

	if err := h.service.SetConnectionIdleTTL(time.Duration(req.IdleTTLSeconds) * time.Second); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
