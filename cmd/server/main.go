package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/manifest-connector/internal/auth"
	"github.com/otcheredev/manifest-connector/internal/cache"
	"github.com/otcheredev/manifest-connector/internal/catalogue"
	"github.com/otcheredev/manifest-connector/internal/config"
	"github.com/otcheredev/manifest-connector/internal/connectors"
	"github.com/otcheredev/manifest-connector/internal/database"
	"github.com/otcheredev/manifest-connector/internal/dispatcher"
	"github.com/otcheredev/manifest-connector/internal/handlers"
	"github.com/otcheredev/manifest-connector/internal/manifest"
	"github.com/otcheredev/manifest-connector/internal/middleware"
	"github.com/otcheredev/manifest-connector/internal/repository"
	"github.com/otcheredev/manifest-connector/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting manifest connector")

	// Connect to database
	dbConfig := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	}

	if err := database.Connect(dbConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	// Tenant handles for SQL archives
	tenants := database.NewTenantRegistry(cfg.Database.Tenants)
	defer tenants.Close()

	// Initialize manifest cache
	var cacheImpl cache.Cache
	if cfg.Cache.Enabled && cfg.Cache.Type == "redis" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		cacheImpl, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Redis cache initialized")
	} else {
		cacheImpl = cache.NewMemoryCache()
		log.Info().Msg("Memory cache initialized")
	}

	// Initialize repositories
	connectorRepo := repository.NewConnectorRepository()
	auditRepo := repository.NewAuditRepository()

	// Connector catalogue, kept current in the background
	startup, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	cat, err := catalogue.NewRefreshing(startup, connectorRepo, cfg.Manifest.DefaultConnectors, time.Minute)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load connector catalogue")
	}
	defer cat.Stop()

	// Query engines, one per connector
	engines := connectors.NewFactory(tenants, cfg.Server.CallingAET, cfg.Manifest.ConnectorTimeout)
	defer engines.CloseAll()

	// Authentication resolution for image retrieval
	tokens := auth.NewMemoryTokenStore()
	resolver := auth.NewResolver(tokens, auth.NewClientCredentialsProvider())

	// Manifest build orchestration
	disp := dispatcher.New(cat, engines)
	coordinator := manifest.NewCoordinator(cacheImpl, disp, resolver, cat, manifest.Options{
		TTL:          cfg.Manifest.TTL,
		LevelTimeout: cfg.Manifest.ConnectorTimeout,
		Audits:       auditRepo,
	})

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cacheImpl)
	manifestHandler := handlers.NewManifestHandler(coordinator)
	connectorsHandler := handlers.NewConnectorsHandler(connectorRepo, tenants, cfg.Server.CallingAET)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints (no authentication required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(cfg.Auth.JWTSecret))

		// Manifest resolution
		r.Post("/manifest", manifestHandler.Build)
		r.Get("/manifest/{fingerprint}", manifestHandler.Get)

		// Connector management
		r.Route("/connectors", func(r chi.Router) {
			r.Get("/", connectorsHandler.List)
			r.Post("/", connectorsHandler.Create)
			r.Get("/{id}", connectorsHandler.Get)
			r.Put("/{id}", connectorsHandler.Update)
			r.Delete("/{id}", connectorsHandler.Delete)
			r.Post("/{id}/test", connectorsHandler.Test)
		})
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
