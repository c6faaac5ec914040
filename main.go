package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"

	"github.com/MANAHILFATIMA72/backend-LockTalk/config"
	"github.com/MANAHILFATIMA72/backend-LockTalk/db"
	"github.com/MANAHILFATIMA72/backend-LockTalk/handlers"
	"github.com/MANAHILFATIMA72/backend-LockTalk/middleware"
	"github.com/MANAHILFATIMA72/backend-LockTalk/services"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
	"github.com/MANAHILFATIMA72/backend-LockTalk/ws"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Connect to database
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	store := db.NewStore(database)

	clk := clock.New()

	// Presence mirror for other services
	var mirror services.PresenceMirror = services.NopMirror
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := services.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisDB)
		cancel()
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "error", err)
		}
		defer redisClient.Close()
		mirror = services.NewRedisPresence(redisClient, cfg.PresenceTTL, clk, logger)
	}

	// Initialize services
	hub := ws.NewHub(logger)
	registry := services.NewRegistry(clk, cfg.HeartbeatTimeout)
	presence := services.NewPresenceService(registry, store, hub, mirror, clk, logger)
	directory := services.NewDirectory()
	reconciler := services.NewReconciler(store, directory, presence, hub, clk, cfg.RingTimeout, logger)
	relay := services.NewRelay(presence, directory, reconciler, hub, logger)
	sweeper := services.NewSweeper(presence, store, mirror, clk, cfg.SweepInterval, cfg.StaleThreshold, logger)

	// Initialize handlers
	wsHandler := ws.NewHandler(hub, relay, cfg.FrontendURL, logger)
	callHandler := handlers.NewCallHandler(store, presence, reconciler, clk, logger)
	presenceHandler := handlers.NewPresenceHandler(presence, store, logger)

	sweeper.Start()

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.FrontendURL))

	router.GET("/health", handlers.Health(hub))
	router.GET("/ws", middleware.Auth(cfg.JWTSecret), wsHandler.ServeWS)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTSecret))
	{
		calls := v1.Group("/calls")
		{
			calls.POST("", callHandler.InitiateCall)
			calls.GET("", callHandler.ListCalls)
			calls.DELETE("", callHandler.DeleteAllCalls)
			calls.GET("/peer/:peerId", callHandler.ListPeerCalls)
			calls.DELETE("/peer/:peerId", callHandler.DeletePeerCalls)
			calls.GET("/:id", callHandler.GetCall)
			calls.PUT("/:id/end", callHandler.EndCall)
			calls.DELETE("/:id", callHandler.DeleteCall)
		}

		v1.GET("/call-logs", callHandler.ListCallLogs)

		presenceRoutes := v1.Group("/presence")
		{
			presenceRoutes.GET("/online", presenceHandler.GetOnlineUsers)
			presenceRoutes.GET("/:userId", presenceHandler.GetUserStatus)
		}

		v1.POST("/internal/users/:id/deactivated", presenceHandler.UserDeactivated)
	}

	// Create HTTP server. No write timeout: websocket connections are long lived.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting LockTalk signaling server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
