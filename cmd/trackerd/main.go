package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/open-ar/groundtracker/domain/diagnostic"
	"github.com/open-ar/groundtracker/domain/session"
	"github.com/open-ar/groundtracker/pkg/api"
	"github.com/open-ar/groundtracker/pkg/config"
	customlog "github.com/open-ar/groundtracker/pkg/log"
	"github.com/open-ar/groundtracker/pkg/processing"
	"github.com/open-ar/groundtracker/pkg/zeromq"
	"github.com/open-ar/groundtracker/services"
)

func main() {
	configDir := flag.String("config-dir", "config", "Directory containing tracker_config.yaml")
	flag.Parse()

	// Load bootstrap configuration
	bootstrapCfg, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		stdlog.Fatalf("Failed to load bootstrap config: %v", err)
	}

	// Set up the application logger
	appLogger, err := customlog.NewLogrusLogger(bootstrapCfg.Logging.Level, bootstrapCfg.Logging.LogPath)
	if err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger.Infof("Ground tracker starting (config dir: %s)", *configDir)

	// The ZeroMQ layer logs through a std logger, matching its library usage
	zmqLogger := stdlog.New(os.Stdout, "[zeromq] ", stdlog.LstdFlags)

	// Load the scene configuration service
	sceneConfigPath := filepath.Join(bootstrapCfg.Data.Directory, bootstrapCfg.Data.SceneConfigFilename)
	sceneConfigService, err := services.NewSceneConfigService(sceneConfigPath, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to create scene config service: %v", err)
	}
	if sceneConfigService.GetCurrentConfig() == nil {
		appLogger.Warnf("No scene configuration loaded; trackers will use built-in defaults until one arrives via the API")
	}

	// Frame processing: registry, director, session service
	registry := processing.NewSessionRegistry(appLogger)
	directorOpts := &processing.DirectorOptions{
		DefaultQueueSize: bootstrapCfg.Processing.FrameQueueSize,
	}
	if directorOpts.DefaultQueueSize <= 0 {
		directorOpts = nil
	}
	director := processing.NewFrameDirector(appLogger, registry, directorOpts)
	sessionService := session.NewService(sceneConfigService, registry, director,
		bootstrapCfg.Processing.MaxSessions, appLogger)
	director.Start()

	// ZeroMQ service: REP request loop + PUB for pose and placement updates
	zmqService, err := zeromq.NewZeroMQService(bootstrapCfg, zmqLogger)
	if err != nil {
		appLogger.Fatalf("Failed to create ZeroMQ service: %v", err)
	}

	decoder := processing.NewFrameDecoder(appLogger, registry)
	scenePublisher := zeromq.RegisterTrackerHandlers(zmqService, sessionService, decoder, sceneConfigService, zmqLogger)
	sceneConfigService.SetPublisher(scenePublisher)
	sessionService.SetPublisher(zmqService)

	// Per-frame pose results go out on the PUB socket
	resultHandler := processing.NewPoseResultHandler(appLogger, zmqService)
	director.SetResultHandler(resultHandler.CreateHandlerFunc())

	if err := zmqService.Start(); err != nil {
		appLogger.Fatalf("Failed to start ZeroMQ service: %v", err)
	}

	// Optional high-rate frame stream ingest on a SUB socket
	var frameListener *zeromq.FrameStreamListener
	if bootstrapCfg.ZeroMQ.FrameStreamAddress != "" {
		frameListener, err = zeromq.NewFrameStreamListener(sessionService, decoder, zmqLogger)
		if err != nil {
			appLogger.Fatalf("Failed to create frame stream listener: %v", err)
		}
		if err := frameListener.Start(bootstrapCfg.ZeroMQ.FrameStreamAddress); err != nil {
			appLogger.Fatalf("Failed to start frame stream listener: %v", err)
		}
	}

	// Create a new Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "GroundTracker",
		ErrorHandler: customErrorHandler,
	})

	// Add middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Set up basic routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "groundtracker",
		})
	})

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "healthy",
			"sessions": registry.Count(),
		})
	})

	// Set up API routes
	api.RegisterSessionRoutes(app, sessionService, appLogger)
	api.RegisterConfigRoutes(app, sceneConfigService, appLogger)

	// Diagnostic routes
	diagnosticService := diagnostic.NewDiagnosticService(registry, director)
	app.Get("/api/diagnostics", diagnosticService.GetMetricsHandler)

	// WebSocket pose stream per session
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:id", websocket.New(func(conn *websocket.Conn) {
		sessionID := conn.Params("id")
		api.SessionWebSocketHandler(conn, sessionID, sessionService, appLogger)
	}))

	// Get port from config or environment
	port := fmt.Sprintf("%d", bootstrapCfg.Server.HTTPPort)
	if bootstrapCfg.Server.HTTPPort == 0 {
		port = os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
	}

	// Start server in a goroutine
	go func() {
		appLogger.Infof("Server starting on port %s", port)
		if err := app.Listen(":" + port); err != nil {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Infof("Shutting down server...")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := app.ShutdownWithContext(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}

	if frameListener != nil {
		frameListener.Stop()
	}
	zmqService.Stop()
	director.Stop()

	appLogger.Infof("Server exited properly")
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	// Default 500 status code
	code := fiber.StatusInternalServerError

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Return JSON response
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
