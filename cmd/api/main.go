package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/roofscope/backend/internal/analysis"
	"github.com/roofscope/backend/internal/api/handlers"
	cacheredis "github.com/roofscope/backend/internal/cache/redis"
	"github.com/roofscope/backend/internal/events"
	"github.com/roofscope/backend/internal/evidence"
	"github.com/roofscope/backend/internal/metrics"
	"github.com/roofscope/backend/internal/middleware/ratelimit"
	"github.com/roofscope/backend/internal/middleware/security"
	"github.com/roofscope/backend/internal/middleware/validation"
	"github.com/roofscope/backend/internal/session"
	"github.com/roofscope/backend/internal/storage/sqlite"
	"github.com/roofscope/backend/pkg/config"
	appLogger "github.com/roofscope/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting RoofScope Inspection API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var redisClient *cacheredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cacheredis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
	}

	hub := events.NewHub(16)

	analysisClient := analysis.NewClient(
		cfg.AI.APIKey,
		cfg.AI.Model,
		cfg.AI.Temperature,
		cfg.AI.MaxTokens,
		cfg.AI.TimeoutSec,
	)

	var verdictCache analysis.VerdictCache
	if redisClient != nil {
		verdictCache = redisClient
	}
	dispatcher := analysis.NewDispatcher(analysisClient, verdictCache, cfg.AI.Workers, cfg.AI.QueueSize)

	var snapshotCache session.SnapshotCache
	var invalidator evidence.SnapshotInvalidator
	if redisClient != nil {
		snapshotCache = redisClient
		invalidator = redisClient
	}

	evidenceStore := evidence.NewStore(sqliteClient, dispatcher, hub, invalidator)
	dispatcher.Start(evidenceStore)
	defer dispatcher.Stop()

	manager := session.NewManager(sqliteClient, hub, snapshotCache, session.Config{
		SkipCredit:          cfg.Workflow.SkipCredit,
		ConfidenceWarnBelow: cfg.Workflow.ConfidenceWarnBelow,
		SnapshotTTL:         time.Duration(cfg.Redis.SnapshotTTLSec) * time.Second,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Device-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	sessionHandler := handlers.NewSessionHandler(manager)
	evidenceHandler := handlers.NewEvidenceHandler(evidenceStore)
	wsHandler := handlers.NewWebSocketHandler(hub)

	api := app.Group("/api/v1")

	api.Post("/sessions", sessionHandler.GetOrCreate)
	api.Get("/sessions/:id", sessionHandler.Snapshot)
	api.Post("/sessions/:id/advance", sessionHandler.Advance)
	api.Post("/sessions/:id/skip", sessionHandler.Skip)
	api.Post("/sessions/:id/evidence", evidenceHandler.Attach)
	api.Post("/evidence/:id/analysis", evidenceHandler.RecordAnalysis)

	api.Get("/sessions/:id/ws", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
