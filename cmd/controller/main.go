// Package main is the entry point for the kettleplane controller.
// The controller serves the API and owns the schedule coordinator, the
// execution monitor and the background catalog refresh.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kettleplane/internal/carte"
	"kettleplane/internal/catalog"
	"kettleplane/internal/changecontrol"
	"kettleplane/internal/config"
	"kettleplane/internal/controller"
	"kettleplane/internal/controller/handlers"
	"kettleplane/internal/errs"
	"kettleplane/internal/logger"
	"kettleplane/internal/monitor"
	"kettleplane/internal/observability"
	"kettleplane/internal/schedule"
	kpstore "kettleplane/internal/store"
	"kettleplane/internal/store/postgres"
	"kettleplane/internal/worker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Create the audit and version tables before starting")
	configPath := flag.String("config", "", "Path to config file (default: environment only)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the repository database (the "Store")
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("Failed to connect to DB", zap.Error(err))
	}
	defer store.Close()

	if *migrateFlag {
		lg.Info("Running database migrations...")
		if err := postgres.Migrate(store.DB()); err != nil {
			lg.Fatal("Migration failed", zap.Error(err))
		}
		lg.Info("Migrations completed successfully")
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.TraceConfig{
		Service:     "kettleplane-controller",
		Endpoint:    cfg.OTELEndpoint,
		SampleRatio: cfg.OTELSampleRatio,
		Repository:  cfg.Repository.Name,
		CarteURL:    cfg.Carte.URL,
	})
	if err != nil {
		lg.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			lg.Warn("Failed to shutdown tracer", zap.Error(err))
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		lg.Fatal("Failed to init metrics", zap.Error(err))
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			lg.Warn("Failed to shutdown metrics", zap.Error(err))
		}
	}()

	client := carte.NewClient(carte.Config{
		BaseURL:  cfg.Carte.URL,
		User:     cfg.Carte.User,
		Password: cfg.Carte.Password,
		Repository: carte.Repository{
			Name:     cfg.Repository.Name,
			User:     cfg.Repository.User,
			Password: cfg.Repository.Password,
		},
	})
	dispatcher := carte.NewDispatcher(client, lg)
	registry := carte.NewRegistry(client, lg)

	index := catalog.New(store, lg)
	mon := monitor.New(ctx, client, monitor.Config{
		Interval: cfg.Monitor.PollInterval,
		MaxWait:  cfg.Monitor.MaxWait,
		MaxPolls: cfg.Monitor.MaxPolls,
	}, lg)
	coord := schedule.New(dispatcher, index, schedule.Config{
		Tick:      cfg.Schedule.Tick,
		Grace:     cfg.Schedule.Grace,
		Workers:   cfg.Schedule.Workers,
		QueueSize: cfg.Schedule.QueueSize,
		Location:  cfg.Schedule.Location,
	}, lg)

	agent := worker.New(index, coord, mon, worker.AgentConfig{
		ID:              "controller",
		RefreshInterval: cfg.CatalogRefreshInterval,
	}, lg)
	coord.OnDispatched = agent.Watch
	agent.OnOutcome = func(out monitor.Outcome) {
		auditCtx, auditCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer auditCancel()
		details := string(out.State) + ": " + out.Status
		if werr := out.Err(); werr != nil {
			details = string(out.State) + ": " + errs.Message(werr)
		}
		err := store.AddAuditEntry(auditCtx, &kpstore.AuditEntry{
			UserID:     "scheduler",
			ActionType: kpstore.ActionRunResult,
			TargetName: out.Handle.Name,
			Details:    details,
		})
		if err != nil {
			lg.Warn("failed to audit scheduled run", zap.String("name", out.Handle.Name), zap.Error(err))
		}
	}

	// Observed only when scraped.
	meter := otel.Meter("kettleplane-controller")
	_, err = meter.Int64ObservableGauge("kettleplane.schedule.entries",
		metric.WithDescription("Current number of schedule entries"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(len(coord.List())))
			return nil
		}),
	)
	if err != nil {
		lg.Warn("Failed to register schedule entries metric", zap.Error(err))
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	freeze := &handlers.Freeze{}
	if cfg.StartFrozen {
		freeze.Set(true, "config", time.Now())
		lg.Warn("starting frozen: changes are refused until an operator unfreezes")
	}

	srv := controller.New(addr, handlers.Deps{
		Catalog:       index,
		Dispatcher:    dispatcher,
		Monitor:       mon,
		Processes:     registry,
		ChangeControl: changecontrol.New(store, lg),
		Scheduler:     coord,
		Runs:          store,
		Audit:         store,
		DB:            store,
		Engine:        client,
		Freeze:        freeze,
		Logger:        lg,
	}, controller.Options{
		APIToken:       cfg.APIToken,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
		Logger:         lg,
	})

	go func() {
		lg.Info("KettlePlane Controller starting", zap.String("addr", addr))
		if err := srv.Run(ctx); err != nil {
			lg.Error("Server stopped", zap.Error(err))
		}
	}()
	go agent.Run(ctx)

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("Shutting down controller...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("Server forced to shutdown", zap.Error(err))
	}
	cancel()
	<-agent.Done()
	lg.Info("Controller exited properly")
}
