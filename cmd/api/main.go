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
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"carbon-bridge/marketplace-backend/internal/assets"
	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/config"
	"carbon-bridge/marketplace-backend/internal/deployment"
	"carbon-bridge/marketplace-backend/internal/documents"
	"carbon-bridge/marketplace-backend/internal/ledger"
	"carbon-bridge/marketplace-backend/internal/notifications"
	"carbon-bridge/marketplace-backend/internal/preapproval"
	"carbon-bridge/marketplace-backend/internal/projects"
	"carbon-bridge/marketplace-backend/internal/reports"
	"carbon-bridge/marketplace-backend/internal/requests"
	"carbon-bridge/marketplace-backend/internal/swap"
	"carbon-bridge/marketplace-backend/internal/users"
	"carbon-bridge/marketplace-backend/pkg/storage"
)

func main() {
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(
		&users.User{},
		&projects.Project{},
		&requests.TokenizationRequest{},
		&assets.Asset{},
		&preapproval.PreApproval{},
		&swap.SwapAttempt{},
		&documents.ProofDocument{},
		&notifications.Notification{},
	); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	gateway, err := ledger.NewHorizonGateway(&cfg.Stellar, logger)
	if err != nil {
		logger.Fatal("failed to initialize ledger gateway", zap.Error(err))
	}
	submitter := ledger.NewSubmitter(gateway, logger)
	defer submitter.Close()

	userRepo := users.NewRepository(db)
	projectRepo := projects.NewRepository(db)
	requestRepo := requests.NewRepository(db)
	assetRepo := assets.NewRepository(db)
	preapprovalRepo := preapproval.NewRepository(db)
	swapRepo := swap.NewRepository(db)

	registry := preapproval.NewRegistry(preapprovalRepo, assetRepo, gateway, nil,
		cfg.Stellar.ControllerContractID, cfg.Stellar.Network, logger)

	orchestrator := deployment.NewOrchestrator(db, assetRepo, projectRepo, submitter,
		userRepo, cfg.Stellar.ControllerContractID, logger)
	orchestrator.SetAutoApprover(registry)

	objectStore, err := storage.NewS3Store(context.Background(), cfg.Storage.Bucket)
	if err != nil {
		logger.Fatal("failed to initialize object store", zap.Error(err))
	}
	documentService := documents.NewService(documents.NewRepository(db), projectRepo, objectStore, logger)

	hub := notifications.NewHub(logger)
	notificationService := notifications.NewService(db, hub, logger)

	requestService := requests.NewService(requestRepo, projectRepo, orchestrator, logger)
	requestService.SetProofResolver(documentService)
	requestService.SetNotifier(notificationService)

	coordinator := swap.NewCoordinator(swapRepo, assetRepo, registry, gateway, submitter,
		cfg.Stellar.ControllerContractID, cfg.Swap.ReservationTTL, logger)
	coordinator.SetNotifier(notificationService)

	reportService := reports.NewService(db, logger)

	// Background sweeps: expired reservations fail clean, pending delegation
	// grants activate once the issuer runs the fallback command.
	scheduler := cron.New()
	sweepSpec := fmt.Sprintf("@every %s", cfg.Swap.SweepInterval)
	if _, err := scheduler.AddFunc(sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Swap.SweepInterval)
		defer cancel()
		coordinator.ExpireSweep(ctx)
	}); err != nil {
		logger.Fatal("failed to schedule expiry sweep", zap.Error(err))
	}
	if _, err := scheduler.AddFunc(sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Swap.SweepInterval)
		defer cancel()
		registry.PollPending(ctx)
	}); err != nil {
		logger.Fatal("failed to schedule pre-approval poll", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	api := router.Group("/api/v1")
	api.Use(auth.Middleware(cfg.Security.JWTSecret))
	{
		requests.NewHandler(requestService).RegisterRoutes(api)
		assets.NewHandler(assetRepo).RegisterRoutes(api)
		preapproval.NewHandler(registry).RegisterRoutes(api)
		swap.NewHandler(coordinator).RegisterRoutes(api)
		documents.NewHandler(documentService).RegisterRoutes(api)
		notifications.NewHandler(notificationService, hub).RegisterRoutes(api)
		reports.NewHandler(reportService).RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()
	logger.Info("marketplace backend started",
		zap.String("addr", srv.Addr),
		zap.String("network", cfg.Stellar.Network),
		zap.String("intermediary", gateway.IntermediaryAddress()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
