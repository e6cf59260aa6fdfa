package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/makkenzo/entitlement-service-api/internal/clock"
	"github.com/makkenzo/entitlement-service-api/internal/config"
	"github.com/makkenzo/entitlement-service-api/internal/handler"
	"github.com/makkenzo/entitlement-service-api/internal/handler/middleware"
	"github.com/makkenzo/entitlement-service-api/internal/service"
	"github.com/makkenzo/entitlement-service-api/internal/storage/postgres"
	"github.com/makkenzo/entitlement-service-api/internal/storage/redis"
	"github.com/makkenzo/entitlement-service-api/internal/tasks"
	"github.com/makkenzo/entitlement-service-api/internal/worker"
	"github.com/makkenzo/entitlement-service-api/pkg/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	sugarLogger := appLogger.Sugar()

	sugarLogger.Info("Starting application...")
	sugarLogger.Infof("Log level set to: %s", cfg.Log.Level)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.MigrateOnStart {
		if err := postgres.RunMigrations(cfg.Database.URL, appLogger); err != nil {
			sugarLogger.Fatalf("Failed to apply database migrations: %v", err)
		}
	}

	dbPool, err := postgres.NewPgxPool(appCtx, &cfg.Database, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbPool.Close()

	redisClient, err := redis.NewRedisClient(appCtx, &cfg.Redis, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	asynqClient := asynq.NewClient(worker.RedisConnOpt(&cfg.Redis))
	defer asynqClient.Close()

	clk := clock.Real{}
	store := postgres.NewStore(dbPool, appLogger)
	clientKeyRepo := postgres.NewClientKeyRepository(dbPool, appLogger)
	notifier := tasks.NewKeyRequestNotifier(asynqClient, appLogger)

	entitlementService := service.NewEntitlementService(store, clk, notifier, cfg.Entitlement.DefaultTrialDays, appLogger)
	adminService := service.NewAdminService(store, clk, cfg.Entitlement, appLogger)
	clientKeyService := service.NewClientKeyService(clientKeyRepo, appLogger)
	authService := service.NewAuthService(&cfg.Admin, clk, appLogger)

	var clientKeyAuth gin.HandlerFunc
	if cfg.ClientKeys.Required {
		clientKeyAuth = middleware.ClientKeyAuthMiddleware(clientKeyRepo, appLogger)
	} else {
		sugarLogger.Warn("Client keys are not required; device routes are open")
	}

	router := handler.NewRouter(handler.RouterConfig{
		Device:        handler.NewDeviceHandler(entitlementService, appLogger),
		Admin:         handler.NewAdminHandler(adminService, appLogger),
		Auth:          handler.NewAuthHandler(authService, appLogger),
		ClientKey:     handler.NewClientKeyHandler(clientKeyService, appLogger),
		Health:        handler.NewHealthHandler(dbPool, redisClient, clk, appLogger),
		AdminAuth:     middleware.AuthMiddleware(authService, appLogger),
		ClientKeyAuth: clientKeyAuth,
		RedeemLimiter: middleware.NewKeyedRateLimiter(cfg.Entitlement.RedeemRatePerMinute, cfg.Entitlement.RedeemBurst),
		AllowOrigins:  cfg.CORS.AllowOrigins,
		AccessLog:     true,
		Logger:        appLogger,
	})

	g, groupCtx := errgroup.WithContext(appCtx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		sugarLogger.Infof("HTTP server listening on port %s", cfg.Server.Port)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugarLogger.Errorf("HTTP server ListenAndServe error: %v", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		sugarLogger.Info("HTTP server stopped listening.")
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		sugarLogger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugarLogger.Errorf("HTTP server graceful shutdown failed: %v", err)
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		sugarLogger.Info("HTTP server shutdown complete.")
		return nil
	})

	g.Go(func() error {
		if err := worker.RunWorker(groupCtx, cfg, appLogger); err != nil {
			sugarLogger.Errorf("Asynq worker failed: %v", err)
			return fmt.Errorf("asynq worker error: %w", err)
		}
		sugarLogger.Info("Asynq worker finished gracefully.")
		return nil
	})

	sugarLogger.Info("Application started. Waiting for interrupt signal (Ctrl+C) or component error...")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		sugarLogger.Errorf("Application shutdown finished with unexpected error: %v", err)
	} else {
		sugarLogger.Info("Application shutdown successfully.")
	}
}
