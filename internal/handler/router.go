package handler

import "github.com/gin-gonic/gin"

// RegisterRoutes wires the admin API onto the engine. Health and metrics
// live at the root so probes and scrapers do not depend on the API prefix.
func RegisterRoutes(r *gin.Engine, prefix string, deployments *DeploymentHandler, traffic *TrafficHandler, metrics *MetricsHandler) {
	r.GET("/health", metrics.Health)
	r.GET("/metrics", metrics.Prometheus)

	api := r.Group(prefix)
	api.POST("/migrate", deployments.Migrate)
	api.GET("/shifts", traffic.ListShifts)

	conns := api.Group("/connections")
	conns.GET("", traffic.ListConnections)
	conns.DELETE("", traffic.ClearConnections)
	conns.PUT("/ttl", traffic.SetCacheTTL)
	conns.DELETE("/:service/:version", traffic.RetryConnection)

	svc := api.Group("/services/:service")
	svc.GET("/versions", deployments.List)
	svc.POST("/versions", deployments.Deploy)
	svc.GET("/versions/:version", deployments.Get)
	svc.DELETE("/versions/:version", deployments.Remove)
	svc.GET("/versions/:version/history", deployments.History)
	svc.POST("/versions/:version/promote", deployments.Promote)
	svc.POST("/rollback", deployments.Rollback)
	svc.GET("/rollback", deployments.LastRollback)
	svc.GET("/resolve", traffic.Resolve)
	svc.GET("/distribution", traffic.GetDistribution)
	svc.PUT("/distribution", traffic.SetDistribution)
	svc.POST("/shift", traffic.StartShift)
	svc.DELETE("/shift", traffic.CancelShift)
}
