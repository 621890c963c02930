package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/feed"
	"github.com/anonto42/nano-midea/livefeed/internal/follows"
	"github.com/anonto42/nano-midea/livefeed/internal/handlers"
	"github.com/anonto42/nano-midea/livefeed/internal/identity"
	"github.com/anonto42/nano-midea/livefeed/internal/middleware"
	"github.com/anonto42/nano-midea/livefeed/internal/repositories"
	"github.com/anonto42/nano-midea/livefeed/internal/router"
	"github.com/anonto42/nano-midea/livefeed/internal/timeline"
	"github.com/anonto42/nano-midea/livefeed/internal/validators"
	"github.com/anonto42/nano-midea/livefeed/pkg/config"
	"github.com/anonto42/nano-midea/livefeed/pkg/firebase"
	"github.com/anonto42/nano-midea/livefeed/pkg/logging"
	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const profileCacheSize = 10_000

func main() {
	// Booting screen
	fmt.Println(color.CyanString(" _ _           __             _\n| (_)_   _____/ _| ___  ___  __| |\n| | \\ \\ / / _ \\ |_ / _ \\/ _ \\/ _` |\n| | |\\ V /  __/  _|  __/  __/ (_| |\n|_|_| \\_/ \\___|_|  \\___|\\___|\\__,_|"))
	fmt.Printf("%s\n", color.New(color.FgHiCyan).Add(color.Bold).Sprint("livefeed"))
	fmt.Printf("Real-time timelines with optimistic writes\n")
	color.HiBlack("=====================================================\n")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.LogLevel, cfg.IsDevelopment())

	// Initialize database connections
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize databases")
	}
	defer db.CloseDB()

	// Initialize Firebase
	ctx := context.Background()
	var firebaseApp *firebase.App
	if cfg.FirebaseCredentialsPath != "" {
		firebaseApp, err = firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath, cfg.FirebaseProjectID)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize Firebase")
		}
	}

	docs, source, closeBackend, err := openBackend(ctx, cfg, db, firebaseApp, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.DocumentBackend).Msg("Failed to open document backend")
	}
	defer closeBackend()
	logger.Info().Str("backend", cfg.DocumentBackend).Msg("Document backend ready.")

	profiles := repositories.NewProfileRepository(docs)
	cacheStore, err := follows.NewRistrettoStore(profileCacheSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create profile cache")
	}
	followService := follows.NewService(profiles, cacheStore, cfg.ProfileCacheTTL, logger)

	var (
		verifier middleware.Verifier
		accounts handlers.AccountDeleter
	)
	if firebaseApp != nil {
		verifier = identity.NewFirebaseVerifier(firebaseApp.AuthClient)
		accounts = identity.NewFirebaseAccounts(firebaseApp.AuthClient)
	}

	registry := timeline.NewRegistry()

	// Configure timed tasks
	quartz := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&logger)))
	if _, err := quartz.AddFunc(cfg.FollowSweepSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		viewers := registry.ActiveViewers()
		if err := followService.Sweep(sweepCtx, viewers); err != nil {
			logger.Warn().Err(err).Msg("Follow sweep finished with errors")
			return
		}
		logger.Info().Int("viewers", len(viewers)).Msg("Follow sweep finished")
	}); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.FollowSweepSchedule).Msg("Invalid follow sweep schedule")
	}
	quartz.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = validators.NewValidator()
	config.SetupMiddleware(e, logger)
	router.SetupRoutes(e, router.Dependencies{
		Registry: registry,
		Timeline: timeline.Deps{
			Source:    source,
			Docs:      docs,
			Profiles:  profiles,
			Validator: validators.NewValidator(),
			Timeout:   cfg.MutationTimeout,
		},
		Verifier: verifier,
		Follows:  followService,
		Accounts: accounts,
		Logger:   logger,
	})

	// Start server
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down...")

	<-quartz.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	registry.Close()
}

// openBackend builds the document repository and the change feed of the configured backend.
func openBackend(ctx context.Context, cfg *config.Config, db *config.DB, app *firebase.App, logger zerolog.Logger) (repositories.DocumentRepository, feed.Source, func(), error) {
	switch cfg.DocumentBackend {
	case config.BackendFirestore:
		if app == nil {
			return nil, nil, nil, errors.New("firestore backend needs firebase credentials")
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		closeClient := func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("Error closing Firestore client")
			}
		}
		return repositories.NewFirestoreDocumentRepository(client), feed.NewFirestoreSource(client, logger), closeClient, nil

	case config.BackendMongo:
		database := db.Mongo.Database(cfg.MongoDatabase)
		return repositories.NewMongoDocumentRepository(database), feed.NewMongoSource(database, logger), func() {}, nil

	case config.BackendPostgres:
		publisher := feed.NewNATSPublisher(db.NATS, cfg.NATSSubjectPrefix)
		repo := repositories.NewPostgresDocumentRepository(db.Postgres, publisher, logger)
		if err := repo.Migrate(); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to migrate documents table: %w", err)
		}
		return repo, feed.NewNATSSource(db.NATS, cfg.NATSSubjectPrefix, repo, logger), func() {}, nil

	default:
		repo := repositories.NewMemoryDocumentRepository()
		return repo, feed.NewMemorySource(repo, logger), func() {}, nil
	}
}
