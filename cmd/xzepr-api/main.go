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
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/xbcsmith/xzepr/internal/admin"
	"github.com/xbcsmith/xzepr/internal/audit"
	"github.com/xbcsmith/xzepr/internal/auth"
	"github.com/xbcsmith/xzepr/internal/auth/jwt"
	"github.com/xbcsmith/xzepr/internal/authz"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/config"
	"github.com/xbcsmith/xzepr/internal/common/logging"
	"github.com/xbcsmith/xzepr/internal/events"
	"github.com/xbcsmith/xzepr/internal/groups"
	"github.com/xbcsmith/xzepr/internal/infra/cache"
	"github.com/xbcsmith/xzepr/internal/infra/db"
	"github.com/xbcsmith/xzepr/internal/infra/migrations"
	"github.com/xbcsmith/xzepr/internal/messaging"
	"github.com/xbcsmith/xzepr/internal/middleware"
	"github.com/xbcsmith/xzepr/internal/observability"
	"github.com/xbcsmith/xzepr/internal/ratelimit"
	"github.com/xbcsmith/xzepr/internal/receivers"
	"github.com/xbcsmith/xzepr/internal/users"
	"github.com/xbcsmith/xzepr/internal/version"
)

const slowQueryThreshold = 200 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Init(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting xzepr-api",
		zap.String("version", version.Full()),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("opa_enabled", cfg.OPA.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry, registry, logger)
	authzMetrics := observability.NewAuthzMetrics(registry)

	database, err := db.New(ctx, cfg.Database, logger,
		db.WithTracer(db.NewQueryTracer(logger, slowQueryThreshold, metrics.RecordDBQuery)),
	)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := migrations.Run(ctx, database.Pool, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("migrations applied successfully")

	var cacheClient *cache.Cache
	if cfg.Redis.Enabled {
		cacheClient, err = cache.New(cfg.Redis)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without shared cache", zap.Error(err))
			cacheClient = nil
		} else {
			defer func() {
				if err := cacheClient.Close(); err != nil {
					logger.Error("failed to close cache", zap.Error(err))
				}
			}()
			logger.Info("connected to Redis")
		}
	}

	var publisher messaging.Publisher = messaging.NoopPublisher{}
	if cfg.Kafka.Enabled {
		publisher = messaging.NewKafkaPublisher(cfg.Kafka, logger)
	}
	publisher = messaging.WithObserver(publisher, metrics.RecordPublish)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close publisher", zap.Error(err))
		}
	}()

	var (
		policyClient *opa.Client
		policyCache  *opa.AuthorizationCache
	)
	if cfg.OPA.Enabled {
		policyClient, err = opa.NewClient(cfg.OPA, opa.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("create policy client: %w", err)
		}
		policyCache = policyClient.Cache()
		if cfg.OPA.CacheEvictInterval > 0 {
			policyCache.StartEvictionLoop(ctx, cfg.OPA.CacheEvictInterval, logger)
		}
		logger.Info("policy evaluation enabled", zap.String("endpoint", policyClient.Endpoint()))
	}

	rbac := authz.NewRBAC()
	authorizer := authz.NewAuthorizer(policyClient, rbac, authzMetrics, logger)

	var bus authz.Bus
	if cacheClient != nil {
		bus = cacheClient
	}
	invalidator := authz.NewInvalidator(policyCache, bus, logger)

	var counter ratelimit.Counter
	if cacheClient != nil {
		counter = cacheClient
	}
	limiter := ratelimit.NewLimiter(counter, cfg.RateLimit, logger)
	defer limiter.Close()

	var usersRepo *users.Repository
	if cacheClient != nil {
		usersRepo = users.NewRepositoryWithCache(database.Pool, cacheClient)
	} else {
		usersRepo = users.NewRepository(database.Pool)
	}
	changes := users.ForgetOnChange(invalidator, usersRepo)

	receiversRepo := receivers.NewRepository(database.Pool)
	receiverContexts := receivers.NewContextBuilder(receiversRepo)
	receiversService := receivers.NewService(receiversRepo, changes, publisher, logger)
	receiversHandler := receivers.NewHandler(receiversService, authorizer, receiverContexts)

	groupsRepo := groups.NewRepository(database.Pool)
	groupsService := groups.NewService(groupsRepo, changes, publisher, logger)
	groupsHandler := groups.NewHandler(groupsService, authorizer, groups.NewContextBuilder(groupsRepo), receiverContexts)

	eventsRepo := events.NewRepository(database.Pool)
	eventsService := events.NewService(eventsRepo, changes, publisher, logger)
	eventsHandler := events.NewHandler(eventsService, authorizer, events.NewContextBuilder(eventsRepo))

	usersService := users.NewService(usersRepo, rbac, groupsService, changes, logger)
	usersHandler := users.NewHandler(usersService)

	auditLogger := audit.NewLogger(database.Pool, logger.Named("audit"))
	adminHandler := admin.NewHandler(admin.NewService(authorizer, changes, limiter, logger).WithAuditor(auditLogger))

	healthChecker := observability.NewHealthChecker(logger, version.Full())
	healthChecker.RegisterCheck("database", func(ctx context.Context) (observability.HealthStatus, string, error) {
		if err := database.Health(ctx); err != nil {
			return observability.StatusUnhealthy, "database connection failed", err
		}
		return observability.StatusHealthy, "database connection ok", nil
	})
	if cacheClient != nil {
		healthChecker.RegisterCheck("redis", func(ctx context.Context) (observability.HealthStatus, string, error) {
			if err := cacheClient.Ping(ctx); err != nil {
				return observability.StatusDegraded, "redis connection failed", err
			}
			return observability.StatusHealthy, "redis connection ok", nil
		})
	}
	healthChecker.RegisterCheck("policy", authorizer.HealthCheck)

	jwtManager := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	authMiddleware := auth.NewMiddleware(jwtManager).WithPermissionSource(usersService)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		observability.RequestID(logger),
		middleware.Recovery(),
		middleware.AccessLog(),
		metrics.Middleware(),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	healthChecker.Register(router)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api/v1", authMiddleware.Authenticate(), limiter.Middleware(auth.UserID))
	receiversHandler.Register(api)
	groupsHandler.Register(api)
	eventsHandler.Register(api)

	adminGroup := api.Group("/admin", auth.RequireRole(authz.RoleNameAdmin), limiter.AdminMiddleware(auth.UserID))
	adminHandler.Register(adminGroup)
	usersHandler.Register(adminGroup)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 4)

	go func() {
		logger.Info("http server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("serve http: %w", err)
		}
	}()

	go func() {
		if err := metrics.Start(ctx, cfg.Server.MetricsPort); err != nil {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	go func() {
		if err := invalidator.Run(ctx); err != nil {
			errChan <- fmt.Errorf("invalidation listener: %w", err)
		}
	}()

	go database.MonitorPool(ctx, time.Minute, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
