package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stanstork/formvault-api/internal/config"
	"github.com/stanstork/formvault-api/internal/export"
	"github.com/stanstork/formvault-api/internal/handlers"
	"github.com/stanstork/formvault-api/internal/jobstore"
	"github.com/stanstork/formvault-api/internal/legacy"
	"github.com/stanstork/formvault-api/internal/middleware"
	"github.com/stanstork/formvault-api/internal/migration"
	"github.com/stanstork/formvault-api/internal/notification"
	"github.com/stanstork/formvault-api/internal/repository"
	"github.com/stanstork/formvault-api/internal/routes"
	"github.com/stanstork/formvault-api/internal/scheduler"
	"github.com/stanstork/formvault-api/internal/sheetsync"
	"github.com/stanstork/formvault-api/internal/temporal"
	"github.com/stanstork/formvault-api/internal/temporal/activities"
	"github.com/stanstork/formvault-api/internal/temporal/workflows"
	"github.com/stanstork/formvault-api/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	tc "go.temporal.io/sdk/client"
	tw "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

type application struct {
	config        *config.Config
	db            *sql.DB
	logger        zerolog.Logger
	store         *jobstore.PostgresStore
	dispatcher    *scheduler.Dispatcher
	scheduler     scheduler.Scheduler
	notifications notification.Service

	exports    *export.Service
	migrations *legacy.Processor
	syncs      *sheetsync.Syncer
}

// runner is the background side of the process, started after the
// dispatcher is fully registered.
type runner interface {
	run(ctx context.Context) error
	stop()
}

func main() {
	flags := pflag.NewFlagSet("formvault-server", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to the configuration file (default: ./config.yaml or ./config/config.yaml)")
	_ = flags.Parse(os.Args[1:])

	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	goose.SetLogger(migration.NewGooseAdapter(logger))

	// Load configuration.
	cfg := config.Load(*configPath)
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(level)
	}

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	if err := migration.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	app := &application{
		config:     cfg,
		db:         db,
		logger:     logger,
		store:      jobstore.NewPostgresStore(db),
		dispatcher: scheduler.NewDispatcher(),
	}

	background, err := app.initScheduler()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize task scheduler")
	}
	if err := app.initServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize services")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := background.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("Task runner stopped unexpectedly")
		}
	}()

	// Initialize the HTTP router and middleware.
	router := app.initRouter()
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.ExposedHeaders([]string{"Content-Disposition"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, background, cancel)

	logger.Info().Msg("Application terminated.")
}

// initScheduler selects the durable scheduler backing the task chain.
func (app *application) initScheduler() (runner, error) {
	sc := app.config.Scheduler
	switch sc.Driver {
	case "temporal":
		client, err := tc.Dial(tc.Options{
			HostPort:  app.config.Temporal.HostPort,
			Namespace: app.config.Temporal.Namespace,
			Logger:    temporal.NewTemporalAdapter(app.logger),
		})
		if err != nil {
			return nil, fmt.Errorf("dial temporal: %w", err)
		}
		app.scheduler = temporal.NewScheduler(client, temporal.SchedulerConfig{
			TaskQueue:   app.config.Temporal.TaskQueue,
			MaxAttempts: sc.MaxAttempts,
			BaseDelay:   sc.BaseDelay,
			MaxDelay:    sc.MaxDelay,
		})
		queue := app.config.Temporal.TaskQueue
		if queue == "" {
			queue = temporal.TaskQueueName
		}
		w := tw.New(client, queue, tw.Options{})
		w.RegisterWorkflowWithOptions(workflows.TaskWorkflow, workflow.RegisterOptions{Name: temporal.TaskWorkflowName})
		w.RegisterActivity(&activities.Activities{Dispatcher: app.dispatcher})
		return &temporalRunner{client: client, worker: w, queue: queue, logger: app.logger, done: make(chan struct{})}, nil
	default:
		queue := worker.NewQueue(app.db, sc.MaxAttempts)
		app.scheduler = queue
		w := worker.NewWorker(worker.WorkerConfig{
			Queue:         queue,
			Dispatcher:    app.dispatcher,
			PollInterval:  sc.PollInterval,
			Lease:         sc.Lease,
			BaseDelay:     sc.BaseDelay,
			MaxDelay:      sc.MaxDelay,
			Retention:     sc.Retention,
			SweepInterval: sc.SweepInterval,
			Sweepers:      []worker.Sweeper{app.store},
		}, app.logger)
		return &pollingRunner{worker: w, done: make(chan struct{})}, nil
	}
}

func (app *application) initServices() error {
	var notifiers []notification.Notifier
	if app.config.Email.Enabled {
		emailNotifier, err := notification.NewEmailNotifier(app.config.Email, app.logger)
		if err != nil {
			return fmt.Errorf("configure email notifier: %w", err)
		}
		notifiers = append(notifiers, emailNotifier)
	}
	app.notifications = notification.NewService(repository.NewNotificationRepository(app.db), app.logger, notifiers...)

	entries := repository.NewEntryRepository(app.db)

	exports, err := export.NewService(export.Config{
		Dir:             app.config.Storage.Dir,
		BaseURL:         app.config.BaseURL,
		BatchSize:       app.config.Export.BatchSize,
		MinBatchSize:    app.config.Export.MinBatchSize,
		MaxBatchSize:    app.config.Export.MaxBatchSize,
		InlineThreshold: app.config.Export.InlineThreshold,
		JobTTL:          app.config.Export.JobTTL,
		LockTTL:         app.config.Export.LockTTL,
	}, app.store, entries, app.scheduler, app.notifications, app.logger)
	if err != nil {
		return err
	}
	exports.Register(app.dispatcher)
	app.exports = exports

	app.migrations = legacy.NewProcessor(legacy.Config{
		BatchSize:    app.config.Migration.BatchSize,
		MinBatchSize: app.config.Export.MinBatchSize,
		MaxBatchSize: app.config.Export.MaxBatchSize,
		StateTTL:     app.config.Migration.StateTTL,
	}, app.store, repository.NewLegacyRepository(app.db), app.scheduler, app.notifications, app.logger)
	app.migrations.Register(app.dispatcher)

	app.syncs = sheetsync.NewSyncer(sheetsync.Config{
		Endpoint:    app.config.Sync.Endpoint,
		Token:       app.config.Sync.Token,
		MaxAttempts: app.config.Sync.MaxAttempts,
		BaseDelay:   app.config.Sync.BaseDelay,
		Timeout:     app.config.Sync.Timeout,
	}, entries, repository.NewSyncRepository(app.db), app.scheduler, app.notifications, app.logger)
	app.syncs.Register(app.dispatcher)

	app.logger.Info().
		Str("driver", app.config.Scheduler.Driver).
		Strs("kinds", app.dispatcher.Kinds()).
		Msg("task handlers registered")
	return nil
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter() http.Handler {
	return routes.NewRouter(routes.Handlers{
		Auth:          handlers.NewAuthHandler(app.config, app.logger),
		Exports:       handlers.NewExportHandler(app.exports, app.logger),
		Migrations:    handlers.NewMigrationHandler(app.migrations, app.logger),
		Syncs:         handlers.NewSyncHandler(app.syncs, app.logger),
		Notifications: handlers.NewNotificationHandler(app.notifications, app.logger),
		Ready:         handlers.Readiness(app.db),
	})
}

type pollingRunner struct {
	worker *worker.Worker
	done   chan struct{}
}

func (r *pollingRunner) run(ctx context.Context) error {
	defer close(r.done)
	return r.worker.Start(ctx)
}

// stop waits for the in-flight task, if any, to return.
func (r *pollingRunner) stop() { <-r.done }

type temporalRunner struct {
	client tc.Client
	worker tw.Worker
	queue  string
	logger zerolog.Logger
	done   chan struct{}
}

func (r *temporalRunner) run(ctx context.Context) error {
	defer close(r.done)
	interrupt := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(interrupt)
	}()
	r.logger.Info().Str("task_queue", r.queue).Msg("Starting Temporal worker...")
	return r.worker.Run(interrupt)
}

func (r *temporalRunner) stop() {
	<-r.done
	r.client.Close()
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, background runner, cancel context.CancelFunc) {
	logger := app.logger
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the task runner. In-flight tasks are retried by whichever
	// process picks them up next.
	logger.Info().Msg("Stopping task runner...")
	cancel()
	background.stop()
	logger.Info().Msg("Task runner stopped.")
}
