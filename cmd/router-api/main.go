package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/traffic-router/internal/handler"
	"github.com/noah-isme/traffic-router/internal/middleware"
	"github.com/noah-isme/traffic-router/internal/registry"
	"github.com/noah-isme/traffic-router/internal/repository"
	"github.com/noah-isme/traffic-router/internal/routing"
	"github.com/noah-isme/traffic-router/internal/service"
	"github.com/noah-isme/traffic-router/internal/transport"
	"github.com/noah-isme/traffic-router/pkg/cache"
	"github.com/noah-isme/traffic-router/pkg/config"
	"github.com/noah-isme/traffic-router/pkg/database"
	"github.com/noah-isme/traffic-router/pkg/logger"
	corsmiddleware "github.com/noah-isme/traffic-router/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/traffic-router/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	store, closeStore, err := newStore(cfg)
	if err != nil {
		logr.Sugar().Fatalw("failed to init version store", "backend", cfg.Registry.Backend, "error", err)
	}
	defer closeStore()

	snapshot := service.NewSnapshotCache(nil, cfg.Snapshot.TTL, logr, false)
	if cfg.Snapshot.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			// The snapshot cache is an optimization; start without it.
			logr.Sugar().Warnw("redis unavailable, snapshot cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			snapshotRepo := repository.NewCacheRepository(redisClient, logr)
			snapshot = service.NewSnapshotCache(snapshotRepo, cfg.Snapshot.TTL, logr, true)
		}
	}

	metrics := service.NewMetricsService()
	events := logger.NewEventLog(logr)
	validate := validator.New()

	conns := transport.NewConnCache(
		transport.NewTCPTransport(cfg.Routing.ConnectTimeout),
		transport.ConnCacheConfig{
			IdleTTL:       cfg.Routing.IdleTTL,
			SweepInterval: cfg.Routing.SweepInterval,
			MaxAttempts:   cfg.Routing.MaxConnectAttempts,
			Logger:        logr,
		})

	traffic := service.NewTrafficService(store, routing.NewSelector(nil), conns, events, metrics, snapshot,
		service.TrafficServiceConfig{
			DefaultShiftStep:     cfg.Routing.ShiftStepSize,
			DefaultShiftInterval: cfg.Routing.ShiftStepInterval,
		})
	deployments := service.NewDeploymentService(store, events, metrics, snapshot)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	traffic.Initialize(rootCtx)
	defer traffic.Shutdown()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	handler.RegisterRoutes(r, cfg.APIPrefix,
		handler.NewDeploymentHandler(deployments, validate),
		handler.NewTrafficHandler(traffic, validate),
		handler.NewMetricsHandler(metrics))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "registry", cfg.Registry.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}

func newStore(cfg *config.Config) (registry.Store, func(), error) {
	switch cfg.Registry.Backend {
	case config.RegistryBackendPostgres:
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewVersionRepository(db), func() { _ = db.Close() }, nil
	case config.RegistryBackendMemory, "":
		return registry.NewMemoryStore(nil), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}
