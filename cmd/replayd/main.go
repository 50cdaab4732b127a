package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ossianwinter/replayd/internal/config"
	"github.com/ossianwinter/replayd/internal/curator"
	"github.com/ossianwinter/replayd/internal/handlers"
	"github.com/ossianwinter/replayd/internal/httpclient"
	"github.com/ossianwinter/replayd/internal/ingest"
	"github.com/ossianwinter/replayd/internal/logger"
	"github.com/ossianwinter/replayd/internal/provider"
	"github.com/ossianwinter/replayd/internal/publisher"
	"github.com/ossianwinter/replayd/internal/scheduler"
	"github.com/ossianwinter/replayd/internal/scrobble"
	"github.com/ossianwinter/replayd/internal/store"
)

func main() {
	cfg := config.Load()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// Load playlist definitions
	playlists, err := config.LoadPlaylists(cfg.PlaylistsPath)
	if err != nil {
		appLogger.Error("Failed to load playlists", "error", err)
		os.Exit(1)
	}

	// Initialize DB
	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		appLogger.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize Clients
	source := scrobble.NewClient(cfg.SourceURL, cfg.SourceAPIKey, cfg.SourceUser,
		httpclient.NewClient(nil, cfg.RequestsPerSec))
	playlistProvider := provider.NewClient(cfg.ProviderURL, cfg.ProviderToken)

	// Initialize Engine and Scheduler
	engine := ingest.NewEngine(db, source, appLogger)
	cur := curator.NewCurator(db, appLogger)
	pub := publisher.NewPublisher(db, playlistProvider, appLogger)

	sched := scheduler.NewScheduler(engine, cur, pub, playlists, cfg.SyncInterval, appLogger)
	sched.Start()
	defer sched.Stop()

	// Initialize Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Routes
	h := handlers.NewHandler(db, sched, playlists, appLogger)
	h.RegisterRoutes(r)

	// Start Server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("Server exiting")
}
