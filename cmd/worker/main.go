// Package main is the entry point for the headless kettleplane worker.
// The worker runs schedules loaded from a file without serving the API:
// no one can edit them at runtime, and it keeps the catalog fresh so
// directory paths resolve.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"kettleplane/internal/carte"
	"kettleplane/internal/catalog"
	"kettleplane/internal/config"
	"kettleplane/internal/logger"
	"kettleplane/internal/monitor"
	"kettleplane/internal/observability"
	"kettleplane/internal/schedule"
	"kettleplane/internal/store/postgres"
	"kettleplane/internal/worker"

	"go.uber.org/zap"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: environment only)")
	schedulesPath := flag.String("schedules", "schedules.yaml", "Schedule file, as written by `kettlectl schedule ls -o yaml`")
	metricsPort := flag.Int("metrics-port", 6162, "Port of the dedicated metrics server")
	flag.Parse()

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

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.TraceConfig{
		Service:     "kettleplane-worker",
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

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("Failed to connect to DB", zap.Error(err))
	}
	defer store.Close()

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

	index := catalog.New(store, lg)
	mon := monitor.New(ctx, client, monitor.Config{
		Interval: cfg.Monitor.PollInterval,
		MaxWait:  cfg.Monitor.MaxWait,
		MaxPolls: cfg.Monitor.MaxPolls,
	}, lg)
	coord := schedule.New(carte.NewDispatcher(client, lg), index, schedule.Config{
		Tick:      cfg.Schedule.Tick,
		Grace:     cfg.Schedule.Grace,
		Workers:   cfg.Schedule.Workers,
		QueueSize: cfg.Schedule.QueueSize,
		Location:  cfg.Schedule.Location,
	}, lg)

	n, err := worker.LoadSchedules(*schedulesPath, coord)
	if err != nil {
		lg.Fatal("Failed to load schedules", zap.String("path", *schedulesPath), zap.Error(err))
	}
	lg.Info("Schedules loaded", zap.Int("count", n), zap.String("path", *schedulesPath))

	agent := worker.New(index, coord, mon, worker.AgentConfig{
		ID:              "worker",
		RefreshInterval: cfg.CatalogRefreshInterval,
	}, lg)
	coord.OnDispatched = agent.Watch

	go agent.Run(ctx)

	// Start a dedicated metrics server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		addr := fmt.Sprintf(":%d", *metricsPort)
		lg.Info("Worker metrics listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			lg.Error("Metrics server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("Shutting down worker...")
	cancel()

	<-agent.Done()
}
