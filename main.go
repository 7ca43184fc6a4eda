package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Asit-14/EchoSphere/config"
	"github.com/Asit-14/EchoSphere/db"
	"github.com/Asit-14/EchoSphere/handlers"
	"github.com/Asit-14/EchoSphere/middleware"
	"github.com/Asit-14/EchoSphere/services"
	"github.com/Asit-14/EchoSphere/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger()

	// Connect to database
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	// Redis is optional; without it the process runs single-instance
	redisClient := services.NewRedisClient(cfg, logger)

	// Initialize services
	registry := services.NewRegistry()
	bridge := services.NewBridge(redisClient, logger)
	presence := services.NewPresenceService(registry, redisClient, bridge, logger, cfg.PresenceTTL)
	router := services.NewRouter(registry, presence, bridge, logger)
	store := services.NewGormMessageStore(database)
	delivery := services.NewDeliveryService(store, router, logger)
	hub := services.NewHub(cfg, registry, presence, delivery, router, logger)

	// Deliver events published by other instances to local connections
	bridge.Start(router.DeliverLocal)

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(hub, logger)
	messageHandler := handlers.NewMessageHandler(delivery, logger)
	presenceHandler := handlers.NewPresenceHandler(presence, logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Logger(logger))
	engine.Use(middleware.CORS())

	// Health check endpoint
	engine.GET("/health", handlers.HealthCheck)

	// WebSocket endpoint with JWT authentication
	engine.GET("/ws", middleware.Auth(cfg.JWTSecret), wsHandler.Serve)

	// API routes
	api := engine.Group("/api")
	api.Use(middleware.Auth(cfg.JWTSecret))
	{
		messages := api.Group("/messages")
		{
			messages.POST("/getmsg", messageHandler.GetMessages)
			messages.POST("/addmsg", messageHandler.AddMessage)
			messages.POST("/deletemsg/:messageId/:userId", messageHandler.DeleteMessage)
			messages.POST("/deleteallmsg", messageHandler.ClearChat)
		}

		presenceRoutes := api.Group("/presence")
		{
			presenceRoutes.GET("/online", presenceHandler.GetOnlineUsers)
			presenceRoutes.GET("/status", presenceHandler.GetStatus)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting chat backend", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	bridge.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
