package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/boardgamehub/relay/internal/v1/config"
	"github.com/boardgamehub/relay/internal/v1/health"
	"github.com/boardgamehub/relay/internal/v1/lobby"
	"github.com/boardgamehub/relay/internal/v1/logging"
	"github.com/boardgamehub/relay/internal/v1/middleware"
	"github.com/boardgamehub/relay/internal/v1/ratelimit"
	"github.com/boardgamehub/relay/internal/v1/relay"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		os.Stderr.WriteString("environment validation failed: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		os.Stderr.WriteString("logger initialization failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	ctx := context.Background()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "Running in DEVELOPMENT MODE")
	}

	// --- Lobby and game catalog ---
	// A relay without a catalog cannot admit anyone, so a broken config file
	// is fatal here. At runtime /reload swaps the catalog without downtime.
	roomLobby := lobby.New(cfg.ChannelBufferSize)
	if err := roomLobby.ReloadCatalog(cfg.GameConfigPath); err != nil {
		logging.Fatal(ctx, "Initial load error", zap.String("path", cfg.GameConfigPath), zap.Error(err))
	}
	logging.Info(ctx, "Game catalog loaded",
		zap.String("path", cfg.GameConfigPath),
		zap.Int("games", len(roomLobby.CatalogSnapshot())),
	)

	// --- Janitor ---
	// Rooms whose host vanished without teardown are swept periodically.
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.JanitorInterval) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				if swept := roomLobby.SweepDeadRooms(); swept > 0 {
					logging.Info(ctx, "Swept dead rooms", zap.Int("count", swept))
				}
			}
		}
	}()

	// --- Rate limiting ---
	limiter, err := ratelimit.NewRateLimiter(cfg)
	if err != nil {
		logging.Fatal(ctx, "Rate limiter initialization failed", zap.Error(err))
	}

	hub := relay.NewHub(roomLobby, cfg, limiter)

	// --- Set up Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Cors
	corsConfig := cors.DefaultConfig()
	if origins := hub.AllowedOrigins(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// Error handling
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	// Routing
	router.GET("/ws", hub.ServeWs)
	router.GET("/enlist", hub.Enlist)
	router.GET("/reload", hub.Reload)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(roomLobby)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		logging.Info(ctx, "Relay server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Failed to run server", zap.Error(err))
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down server...")

	stopJanitor()

	// Give in-flight connections time to receive their closing frames.
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Server forced to shutdown", zap.Error(err))
	}

	logging.Info(ctx, "Server exiting")
}
