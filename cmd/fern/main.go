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

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/exporter"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/sheets"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/stats"
	"github.com/Ramsey-B/fern/pkg/tariffs"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fern: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (ectologger.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = level

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.AppName,
		Enabled:     cfg.OTLPEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	app := newApp(cfg, logger)
	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	for _, dep := range app.dependencies() {
		boot.AddDependency(dep)
	}

	if err := boot.Start(ctx); err != nil {
		logger.WithContext(ctx).WithError(err).Error("Startup failed")
		_ = boot.Stop(context.Background())
		return err
	}
	app.health.SetReady(true)

	logger.WithContext(ctx).WithFields(map[string]any{
		"port":    cfg.Port,
		"version": version,
	}).Info("fern started")

	select {
	case <-ctx.Done():
	case err := <-app.serverErr:
		logger.WithError(err).Error("HTTP server stopped unexpectedly")
	}

	logger.Info("Shutting down")
	app.health.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod+10*time.Second)
	defer cancel()
	return boot.Stop(shutdownCtx)
}

// app holds the components the startup graph brings up
type app struct {
	cfg    config.Config
	logger ectologger.Logger

	db        database.DB
	recorder  *stats.Recorder
	producer  *kafka.Producer
	scheduler *scheduler.Scheduler
	health    *health.Checker
	server    *http.Server
	serverErr chan error
}

func newApp(cfg config.Config, logger ectologger.Logger) *app {
	return &app{
		cfg:       cfg,
		logger:    logger,
		recorder:  stats.NewRecorder(cfg.MetricsHistorySize),
		serverErr: make(chan error, 1),
	}
}

func (a *app) dependencies() []startup.StartupDependency {
	return []startup.StartupDependency{
		startup.Func{Name: "database", StartFn: a.startDatabase, StopFn: a.stopDatabase},
		startup.Func{Name: "migrations", Needs: []string{"database"}, StartFn: a.runMigrations},
		startup.Func{Name: "kafka", StartFn: a.startKafka, StopFn: a.stopKafka},
		startup.Func{Name: "pipeline", Needs: []string{"migrations", "kafka"}, StartFn: a.buildPipeline},
		startup.Func{Name: "http", Needs: []string{"pipeline"}, StartFn: a.startServer, StopFn: a.stopServer},
		// the scheduler stops first so an in-flight run can finish while the API still answers
		startup.Func{Name: "scheduler", Needs: []string{"http"}, StartFn: a.startScheduler, StopFn: a.stopScheduler},
	}
}

func (a *app) startDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, database.Config{
		Driver:          a.cfg.DatabaseDriver,
		DSN:             a.cfg.DatabaseDSN(),
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *app) stopDatabase(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) runMigrations(context.Context) error {
	sqlDB, err := database.SQLDB(a.db)
	if err != nil {
		return err
	}
	return database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		DatabaseName:        a.cfg.DatabaseName,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	}).Migrate(sqlDB)
}

func (a *app) startKafka(context.Context) error {
	if !a.cfg.KafkaEnabled {
		return nil
	}
	a.producer = kafka.NewProducer(kafka.ParseConfig(a.cfg.KafkaBrokers, a.cfg.KafkaRunEventsTopic), a.logger)
	return nil
}

func (a *app) stopKafka(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

// buildPipeline wires the fetcher, store, exporter and orchestrator behind the scheduler
func (a *app) buildPipeline(ctx context.Context) error {
	fetcher, err := tariffs.NewClient(tariffs.Config{
		BaseURL:     a.cfg.TariffAPIURL,
		Token:       a.cfg.TariffAPIToken,
		Timeout:     a.cfg.TariffAPITimeout,
		MaxAttempts: a.cfg.TariffAPIMaxAttempts,
		RetryDelay:  a.cfg.TariffAPIRetryDelay,
		EntriesPath: a.cfg.TariffAPIEntriesPath,
	}, a.logger)
	if err != nil {
		return err
	}

	credentials, err := a.cfg.GoogleCredentials()
	if err != nil {
		return err
	}
	writer, err := sheets.NewClient(context.WithoutCancel(ctx), sheets.Config{
		BaseURL: a.cfg.SheetsAPIURL,
		Timeout: a.cfg.SheetsTimeout,
	}, credentials, a.logger)
	if err != nil {
		return err
	}

	publisher := exporter.NewExporter(exporter.Config{
		Range:       a.cfg.SheetsRange,
		MaxAttempts: a.cfg.SheetsMaxAttempts,
		RetryDelay:  a.cfg.SheetsRetryDelay,
		Concurrency: a.cfg.ExportConcurrency,
	}, repositories.NewDestinationRepository(a.db, a.logger), writer, a.logger)

	orch := orchestrator.NewOrchestrator(
		orchestrator.Config{Location: a.cfg.Location()},
		fetcher,
		tariffs.NewNormalizer(a.logger),
		repositories.NewTariffRepository(a.db, a.logger),
		publisher,
		a.recorder,
		a.logger,
	)
	if a.producer != nil {
		orch.WithNotifier(a.producer)
	}

	a.scheduler = scheduler.NewScheduler(orch, scheduler.Config{
		Interval:   a.cfg.SyncInterval,
		Location:   a.cfg.Location(),
		RunOnStart: a.cfg.SyncRunOnStart,
	}, a.logger)
	return nil
}

func (a *app) startScheduler(ctx context.Context) error {
	if !a.cfg.SchedulerEnabled {
		a.logger.WithContext(ctx).Warn("Scheduler disabled, runs only start from the API")
		return nil
	}
	return a.scheduler.Start(ctx)
}

// stopScheduler cancels future ticks and waits for an in-flight run up to the grace period
func (a *app) stopScheduler(ctx context.Context) error {
	if a.scheduler == nil {
		return nil
	}
	// after Stop, triggers from the API are refused with ErrSchedulerStopped
	if err := a.scheduler.Stop(ctx); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Scheduler loop did not stop cleanly")
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := a.scheduler.WaitIdle(waitCtx); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("In-progress sync run did not finish within the grace period")
	}
	return nil
}

func (a *app) startServer(ctx context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	a.health = health.NewChecker(a.db, version)
	a.health.AddCheck("last_sync", lastSyncCheck(a.recorder))
	a.health.RegisterRoutes(e)

	e.GET("/metrics/prometheus", echo.WrapHandler(promhttp.Handler()))
	handlers.RegisterRoutes(e,
		handlers.NewSyncHandler(a.scheduler, a.recorder, a.logger),
		handlers.NewTariffHandler(repositories.NewTariffRepository(a.db, a.logger), a.logger),
		handlers.NewDestinationHandler(repositories.NewDestinationRepository(a.db, a.logger), a.logger),
	)

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serverErr <- err
		}
	}()

	a.logger.WithContext(ctx).WithField("addr", a.server.Addr).Info("HTTP server listening")
	return nil
}

func (a *app) stopServer(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// lastSyncCheck reports degraded while the most recent run failed
func lastSyncCheck(recorder *stats.Recorder) health.CheckFunc {
	return func(context.Context) health.CheckResult {
		last, ok := recorder.Last()
		if !ok {
			return health.CheckResult{Status: health.StatusHealthy, Message: "no runs yet"}
		}
		if !last.Success {
			msg := "last sync run failed"
			if last.Error != nil {
				msg = *last.Error
			}
			return health.CheckResult{Status: health.StatusDegraded, Message: msg}
		}
		return health.CheckResult{Status: health.StatusHealthy}
	}
}
