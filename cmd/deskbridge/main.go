package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskbridge/deskbridge/internal/config"
	"github.com/deskbridge/deskbridge/internal/database"
	"github.com/deskbridge/deskbridge/internal/handlers"
	"github.com/deskbridge/deskbridge/internal/middleware"
	"github.com/deskbridge/deskbridge/internal/services"
	"github.com/deskbridge/deskbridge/internal/ticket"
	"github.com/deskbridge/deskbridge/internal/zabbix"
	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"
)

func main() {
	// Load .env file if present (development convenience)
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Database
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	store := database.NewAlertStore(database.GetDB())

	// Admin authentication for the read API
	authEnabled := cfg.AdminPassword != ""
	var passwordHash string
	if authEnabled {
		passwordHash, err = middleware.HashPassword(cfg.AdminPassword)
		if err != nil {
			log.Fatalf("Failed to hash admin password: %v", err)
		}
	} else {
		log.Println("Warning: ADMIN_PASSWORD not set, admin API authentication is disabled")
	}

	jwtAuth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           authEnabled,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths: []string{
			"/health",
			"/auth/login",
			"/api/zabbix",
			"/api/create-ticket",
			"/ws/*",
		},
	})

	// Ticket gateway client
	gateway, err := ticket.NewClient(cfg.OTRS)
	if err != nil {
		log.Fatalf("Failed to create ticket gateway client: %v", err)
	}

	// Severity to priority mapping, optionally overridden from YAML
	priorities := ticket.DefaultPriorityMap()
	if cfg.PriorityMapFile != "" {
		priorities, err = ticket.LoadPriorityMap(cfg.PriorityMapFile)
		if err != nil {
			log.Fatalf("Failed to load priority map from %s: %v", cfg.PriorityMapFile, err)
		}
		log.Printf("Loaded priority map from %s", cfg.PriorityMapFile)
	}

	defaults := ticket.Defaults{
		QueueID:      cfg.OTRS.QueueID,
		Queue:        cfg.OTRS.Queue,
		CustomerUser: cfg.OTRS.CustomerUser,
		TicketType:   cfg.OTRS.TicketType,
		Service:      cfg.OTRS.Service,
	}

	// Optional integrations
	feed := handlers.NewFeedHandler()

	notifier := services.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackAlertsChannel)
	var pipelineNotifier services.Notifier
	if notifier != nil {
		pipelineNotifier = notifier
		log.Printf("Slack notifications enabled for channel %s", cfg.SlackAlertsChannel)
	}

	var source services.SourceClient
	zbx := zabbix.NewClient(cfg.Zabbix)
	if zbx.Enabled() {
		source = zbx
		log.Printf("Zabbix source API configured at %s", cfg.Zabbix.URL)
	}

	pipeline := services.NewPipeline(store, gateway, priorities, defaults, feed, pipelineNotifier)

	// HTTP surface
	httpHandler := handlers.NewHTTPHandler(
		handlers.NewWebhookHandler(pipeline, cfg.WebhookSecret),
		handlers.NewSyncHandler(pipeline, source),
		handlers.NewAlertsHandler(store),
		handlers.NewAuthHandler(jwtAuth),
		feed,
		store,
	)

	mux := http.NewServeMux()
	httpHandler.SetupRoutes(mux)

	cors := middleware.NewCORSMiddleware()
	handler := middleware.RequestIDMiddleware(cors.Wrap(jwtAuth.Wrap(mux)))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting deskbridge on port %d", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	feed.Close()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
