// Package main is the application entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"cfdb/internal/catalog"
	"cfdb/internal/config"
	"cfdb/internal/handler"
	"cfdb/internal/materialize"
	"cfdb/internal/middleware"
	"cfdb/internal/registry"
	"cfdb/internal/repository"
	"cfdb/internal/service"
	"cfdb/pkg/database"
	"cfdb/pkg/drs"
	"cfdb/pkg/kafka"
	"cfdb/pkg/log"
	"cfdb/pkg/storage"
	"cfdb/pkg/token"
)

func main() {
	// 1. Load configuration
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. Initialize the logger
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("logger initialized")

	// 3. Initialize the stores and side channels
	database.InitMongo(cfg.Database.Mongo.URI, cfg.Database.Mongo.Name)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	// 4. Initialize repositories
	fileRepo := repository.NewFileRepository(database.Mongo)
	lockRepo := repository.NewLockRepository(database.Mongo)
	ingestRepo := repository.NewIngestRepository(database.Mongo)
	taskRepo := repository.NewTaskRepository(database.RDB)

	// The lock document exists from first boot; only its flag ever changes.
	provisionCtx, cancelProvision := context.WithTimeout(context.Background(), 10*time.Second)
	if err := lockRepo.EnsureLock(provisionCtx); err != nil {
		cancelProvision()
		log.Fatalf("failed to provision sync lock: %v", err)
	}
	cancelProvision()

	// 5. Initialize services (dependency injection)
	cat := catalog.Default()
	reg := registry.New(cfg.Sync.DCCs)
	verifier := token.NewGrantVerifier(cfg.JWT.Secret)
	drsClient := drs.NewClient(cfg.DRS.TimeoutSeconds)
	fetcher := materialize.NewHTTPClient(cfg.Materializer.BaseURL, cfg.Materializer.TimeoutSeconds)

	queryService := service.NewQueryService(fileRepo, lockRepo, cat)
	streamService := service.NewStreamService(fileRepo, reg, drsClient, verifier, cfg.Stream.UpstreamTimeoutSeconds)
	syncService := service.NewSyncService(lockRepo, taskRepo, ingestRepo, fetcher, reg)

	// 6. Set up the router
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. Register routes
	queryHandler, err := handler.NewQueryHandler(queryService, cat)
	if err != nil {
		log.Fatalf("failed to build GraphQL schema: %v", err)
	}
	r.POST("/metadata", queryHandler.Metadata)
	r.GET("/metadata", queryHandler.Metadata)

	r.GET("/data/:dcc/:local_id", handler.NewDataHandler(streamService).Download)

	syncHandler := handler.NewSyncHandler(syncService)
	syncGroup := r.Group("/sync")
	syncGroup.Use(middleware.APIKeyAuth(cfg.Sync.APIKey))
	{
		syncGroup.POST("", syncHandler.Trigger)
		syncGroup.GET("/status", syncHandler.Status)
	}

	// 8. Start the HTTP server with graceful shutdown
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP server shutdown failed: %v", err)
	}
	database.CloseMongo(ctx)
	log.Info("server stopped")
}
