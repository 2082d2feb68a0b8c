package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schoolportal-backend/internal/database"
	callHandler "schoolportal-backend/internal/handler/http/call"
	wsHandler "schoolportal-backend/internal/handler/ws"
	"schoolportal-backend/internal/middleware"
	"schoolportal-backend/internal/repository/cassandra"
	"schoolportal-backend/internal/repository/cockroach"
	redisRepo "schoolportal-backend/internal/repository/redis"
	callService "schoolportal-backend/internal/service/call"
	"schoolportal-backend/internal/service/signaling"
	"schoolportal-backend/pkg/config"
	"schoolportal-backend/pkg/constants"
	"schoolportal-backend/pkg/jwt"
	"schoolportal-backend/pkg/logger"
	"schoolportal-backend/pkg/metrics"
)

// callLogStore is what each call log backend provides
type callLogStore interface {
	callService.CallLogSink
	callHandler.HistoryReader
	EnsureSchema(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log, "call-service"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 2. CockroachDB: profiles, and the call log unless Cassandra is chosen
	db, err := database.ConnectCockroachWithRetry(ctx, cfg.Database, constants.DatabaseConnectRetries)
	if err != nil {
		logger.Warn("Running without CockroachDB; profiles and cockroach call log disabled", zap.Error(err))
	} else {
		defer db.Close()
	}

	var profiles callService.ProfileSource
	if db != nil {
		profiles = cockroach.NewProfileRepository(db.Pool, constants.ProfileCacheTTL)
	}

	// 3. Call log backend
	var logStore callLogStore
	switch cfg.Call.CallLogBackend {
	case config.CallLogBackendCockroach:
		if db != nil {
			logStore = cockroach.NewCallLogRepository(db.Pool)
		}
	case config.CallLogBackendCassandra:
		cassandraDB, err := database.NewCassandraDB(cfg.Cassandra)
		if err != nil {
			logger.Warn("Running without Cassandra call log", zap.Error(err))
		} else {
			defer cassandraDB.Close()
			logStore = cassandra.NewCallLogRepository(cassandraDB.Session)
		}
	}

	if logStore != nil {
		schemaCtx, cancel := context.WithTimeout(ctx, constants.SchemaSetupTimeout)
		if err := logStore.EnsureSchema(schemaCtx); err != nil {
			logger.Error("Failed to prepare call log schema; call log disabled", zap.Error(err))
			logStore = nil
		}
		cancel()
	}

	deps := callService.Deps{
		Profiles: profiles,
		Metrics:  appMetrics,
	}
	var history callHandler.HistoryReader
	if logStore != nil {
		deps.CallLog = logStore
		history = logStore
		logger.Info("Call log enabled", zap.String("backend", cfg.Call.CallLogBackend))
	}

	// 4. Redis: token revocation and in-call presence mirror
	redisDB := database.NewRedisDB(cfg.Redis, appMetrics)
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
	}
	redisDB.StartHealthCheck(ctx, constants.RedisHealthCheckInterval)
	deps.Mirror = redisRepo.NewPresenceRepository(redisDB)

	// 5. Connection registry, orchestrator and signaling router
	hub := wsHandler.NewCallHub(wsHandler.HubConfig{
		WebSocket:      cfg.WebSocket,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ReadLimit:      int64(cfg.Call.MaxSignalPayloadBytes) + 16*1024,
	}, appMetrics)
	deps.Deliverer = hub

	calls := callService.NewService(cfg.Call, deps)
	router := signaling.NewRouter(calls, hub, cfg.Call.MaxSignalPayloadBytes, appMetrics)
	hub.Bind(calls, router)

	// 6. HTTP
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	engine.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"service":        cfg.Server.ServiceName,
			"active_calls":   calls.ActiveCount(),
			"connections":    hub.ConnectionCount(),
			"redis_degraded": redisDB.IsDegraded(),
			"time":           time.Now().UTC(),
		})
	})
	engine.GET("/metrics", middleware.MetricsHandler(appMetrics))

	verifier := jwt.NewVerifier(cfg.JWT.Secret, cfg.JWT.Audience)
	revocation := middleware.NewRedisRevocationChecker(redisDB)

	v1 := engine.Group("/v1/calls")
	v1.Use(middleware.AuthMiddleware(verifier, revocation))
	{
		v1.GET("/ws", hub.ServeWS)
		callHandler.NewHandler(calls, history).RegisterRoutes(v1)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.Duration("ring_timeout", cfg.Call.RingTimeout))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down call service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := calls.Shutdown(shutdownCtx); err != nil {
		logger.Error("Pending call log writes were dropped", zap.Error(err))
	}
	stop()

	logger.Info("Call service exited")
}
