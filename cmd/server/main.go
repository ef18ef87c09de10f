package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ramincsy/Sarafchi/internal/cache"
	"github.com/ramincsy/Sarafchi/internal/config"
	"github.com/ramincsy/Sarafchi/internal/controller"
	"github.com/ramincsy/Sarafchi/internal/database"
	"github.com/ramincsy/Sarafchi/internal/engine"
	"github.com/ramincsy/Sarafchi/internal/external"
	"github.com/ramincsy/Sarafchi/internal/middleware"
	"github.com/ramincsy/Sarafchi/internal/monitoring"
	"github.com/ramincsy/Sarafchi/internal/repository"
	"github.com/ramincsy/Sarafchi/internal/service"
	"github.com/ramincsy/Sarafchi/pkg/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(cfg.Logging)
	auditLog := logger.AuditLogger(cfg.Logging)

	log.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"port":       cfg.Server.Port,
	}).Info("Starting equilibrium service")

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := initializeApp(cfg, log, auditLog)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.cleanup()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	log.Info("Server exited")
}

type application struct {
	router  *gin.Engine
	cleanup func()
}

func initializeApp(cfg *config.Config, log, auditLog *logrus.Logger) (*application, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer cancel()

	// Mongo
	mongoClient, db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.EnsureIndexes(ctx, db); err != nil {
		return nil, err
	}

	// Redis
	cacheService, err := cache.NewRedisCache(&cache.CacheConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		Database:     cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConnections,
		MaxRetries:   cfg.Redis.MaxRetries,
		Timeout:      cfg.Redis.DialTimeout,
		KeyPrefix:    "equilibrium",
	})
	if err != nil {
		return nil, err
	}

	// RabbitMQ; optional, the publisher degrades to a no-op when disabled.
	var messageQueue external.MessageQueue
	if cfg.RabbitMQ.Enabled {
		messageQueue, err = external.NewMessageQueue(&external.MessageQueueConfig{
			URL:           cfg.RabbitMQ.URL,
			RetryAttempts: cfg.RabbitMQ.RetryAttempts,
			RetryDelay:    cfg.RabbitMQ.RetryDelay,
			MessageTTL:    cfg.RabbitMQ.MessageTTL,
		})
		if err != nil {
			return nil, err
		}
	}
	publisher := external.NewEventPublisher(messageQueue)

	// Repositories
	ledgerRepo := repository.NewLedgerRepository(db)
	proposalRepo := repository.NewProposalRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)
	lockRepo := repository.NewLockRepository(cacheService.Client())
	lockManager := repository.NewCurrencyLockManager(lockRepo)

	// Monitoring
	metrics := monitoring.NewPrometheusMetrics()

	// Engines and services
	thresholds := make(map[string]decimal.Decimal, len(cfg.Equilibrium.Thresholds))
	for currency, threshold := range cfg.Equilibrium.Thresholds {
		thresholds[currency] = decimal.NewFromFloat(threshold)
	}
	proposalEngine := engine.NewProposalEngine(proposalRepo, settlementRepo, lockManager, publisher, cacheService, log)
	rebalanceEngine := engine.NewRebalanceEngine(ledgerRepo, proposalRepo, proposalEngine, lockManager, publisher, thresholds, log)
	balanceService := service.NewBalanceService(ledgerRepo, proposalRepo, cacheService, cfg.Equilibrium.SnapshotCacheTTL, metrics, log)
	proposalService := service.NewProposalService(proposalRepo, settlementRepo, cfg.Equilibrium.UploadDir, log)

	healthChecker := monitoring.NewHealthChecker(version)
	healthChecker.RegisterCheck("mongodb", monitoring.NewDatabaseChecker("mongodb", func(ctx context.Context) error {
		return mongoClient.Ping(ctx, readpref.Primary())
	}))
	healthChecker.RegisterCheck("redis", monitoring.NewCacheChecker("redis", cacheService))
	healthChecker.RegisterCheck("uploads", monitoring.NewUploadDirChecker("uploads", cfg.Equilibrium.UploadDir))

	go func() {
		ticker := time.NewTicker(cfg.Monitoring.MetricsInterval)
		defer ticker.Stop()
		for range ticker.C {
			metrics.RecordSystemMetrics()
		}
	}()

	router := setupRouter(cfg, log, auditLog, cacheService, metrics, healthChecker,
		controller.NewBalanceController(balanceService, metrics),
		controller.NewProposalController(proposalService, proposalEngine, rebalanceEngine, metrics),
	)

	// Expiry sweep
	var scheduler *cron.Cron
	if cfg.Equilibrium.ExpirySweepEnabled {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.Equilibrium.ExpirySweepSpec, func() {
			sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer sweepCancel()
			if _, err := proposalEngine.ExpireProposals(sweepCtx); err != nil {
				log.WithError(err).Error("Expiry sweep failed")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule expiry sweep: %w", err)
		}
		scheduler.Start()
		log.WithField("spec", cfg.Equilibrium.ExpirySweepSpec).Info("Expiry sweep scheduled")
	}

	cleanup := func() {
		log.Info("Cleaning up application resources...")
		if scheduler != nil {
			scheduler.Stop()
		}
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close message queue")
		}
		if err := cacheService.Close(); err != nil {
			log.WithError(err).Warn("Failed to close Redis connection")
		}
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer disconnectCancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			log.WithError(err).Warn("Failed to disconnect MongoDB")
		}
	}

	return &application{router: router, cleanup: cleanup}, nil
}

func setupRouter(
	cfg *config.Config,
	log, auditLog *logrus.Logger,
	cacheService cache.CacheService,
	metrics monitoring.MetricsService,
	healthChecker monitoring.HealthChecker,
	balanceController *controller.BalanceController,
	proposalController *controller.ProposalController,
) *gin.Engine {
	router := gin.New()
	router.SetTrustedProxies(cfg.Server.TrustedProxies)

	loggingMiddleware := middleware.NewLoggingMiddleware(log, auditLog, nil)
	securityMiddleware := middleware.NewSecurityMiddleware(&middleware.SecurityConfig{
		EnableSecurityHeaders: true,
		MaxRequestSize:        cfg.Server.MaxRequestSize,
		APIKey:                cfg.Security.APIKey,
	})
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cacheService, nil)

	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-API-Key", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(securityMiddleware.SecurityHeaders())
	router.Use(securityMiddleware.RequestSizeLimit())
	router.Use(loggingMiddleware.RequestLogger())
	router.Use(monitoring.HTTPMetrics(metrics))
	router.Use(rateLimitMiddleware.BurstControl())
	router.Use(rateLimitMiddleware.IPRateLimit())

	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if status.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
			"service":    "equilibrium",
		})
	})
	if cfg.Monitoring.EnableMetrics {
		router.GET(cfg.Monitoring.MetricsPath, metrics.Handler())
	}

	api := router.Group("/api/equilibrium")
	api.Use(loggingMiddleware.AuditLogger())
	api.Use(securityMiddleware.APIKeyGuard())
	{
		api.GET("/user_balances", balanceController.GetUserBalances)
		api.GET("/company_balance", balanceController.GetCompanyBalance)
		api.GET("/partner_balances", balanceController.GetPartnerBalances)
		api.GET("/user_balance_details/:userId", balanceController.GetUserBalanceDetails)
		api.GET("/suggestions", balanceController.GetSuggestions)

		api.GET("/proposals", proposalController.ListProposals)
		api.POST("/proposals", proposalController.CreateProposal)
		api.GET("/proposals/:id", proposalController.GetProposal)
		api.PUT("/proposals/:id/approve", proposalController.ApproveProposal)
		api.PUT("/proposals/:id/complete", proposalController.CompleteProposal)

		api.GET("/transactions", proposalController.ListTransactions)
		api.POST("/transactions", proposalController.CreateTransaction)
		api.GET("/receipts", proposalController.ListReceipts)
		api.POST("/receipts", proposalController.UploadReceipt)
		api.GET("/counterparties", proposalController.ListCounterparties)
		api.POST("/counterparties", proposalController.CreateCounterparty)

		api.POST("/auto_rebalance", proposalController.AutoRebalance)
		api.POST("/auto_create_proposals", proposalController.AutoCreateProposals)
		api.POST("/recalculate_proposals", proposalController.RecalculateProposals)
		api.POST("/expire_proposals", proposalController.ExpireProposals)
	}

	return router
}
