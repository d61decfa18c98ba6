// Package main provides the entry point for the skill model worker service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skillmodel/internal/config"
	"skillmodel/internal/di"
	"skillmodel/internal/handlers"
	"skillmodel/internal/observability"
	"skillmodel/internal/version"
	"skillmodel/internal/worker"
)

// fatalIfErr logs the error with context and exits
func fatalIfErr(ctx context.Context, logger *observability.Logger, msg string, err error, fields map[string]interface{}) {
	logger.Error(ctx, msg, err, fields)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.OpenTelemetry.ServiceVersion = version.Version

	tp, mp, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, cfg.OpenTelemetry.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if s, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logger.Warn(ctx, "Error shutting down tracer provider", map[string]interface{}{"error": err.Error(), "provider": "tracer"})
			}
		}
		if mp != nil {
			if err := mp.Shutdown(shutdownCtx); err != nil {
				logger.Warn(ctx, "Error shutting down meter provider", map[string]interface{}{"error": err.Error(), "provider": "meter"})
			}
		}
	}()

	logger.Info(ctx, "Starting skill model worker", map[string]interface{}{
		"port":     cfg.Server.Port,
		"logLevel": cfg.Server.LogLevel,
		"debug":    cfg.Server.Debug,
		"version":  version.Version,
		"commit":   version.Commit,
	})

	// Database, migrations, taxonomy and the analysis services
	container := di.NewServiceContainer(cfg, logger)
	if err := container.Initialize(ctx); err != nil {
		fatalIfErr(ctx, logger, "Failed to initialize services", err, map[string]interface{}{"taxonomy": cfg.Taxonomy.Path})
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.WorkerShutdownTimeout)
		defer shutdownCancel()
		if err := container.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "Failed to shut down services", map[string]interface{}{"error": err.Error()})
		}
	}()

	analysisService, err := container.GetAnalysisService()
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to get analysis service", err, nil)
	}
	sessionService, err := container.GetSessionService()
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to get session service", err, nil)
	}
	proficiencyService, err := container.GetProficiencyService()
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to get proficiency service", err, nil)
	}
	signalService, err := container.GetSignalService()
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to get signal service", err, nil)
	}
	workerService, err := container.GetWorkerService()
	if err != nil {
		fatalIfErr(ctx, logger, "Failed to get worker service", err, nil)
	}

	// Completion notifications are an optimisation; the worker still polls without them
	var notifier worker.Notifier
	pqNotifier, err := worker.NewPQNotifier(cfg.Database.URL, cfg.Worker.ListenChannel, logger)
	if err != nil {
		logger.Warn(ctx, "Session notifications unavailable, polling only", map[string]interface{}{
			"error":   err.Error(),
			"channel": cfg.Worker.ListenChannel,
		})
	} else {
		notifier = pqNotifier
	}

	workerInstance := worker.NewWorker(analysisService, sessionService, workerService, notifier, cfg.Worker.InstanceID, cfg, logger)
	go workerInstance.Start(ctx)

	router := handlers.NewRouter(cfg, handlers.RouterDeps{
		Analysis:    analysisService,
		Proficiency: proficiencyService,
		Signals:     signalService,
		Workers:     workerService,
		Worker:      workerInstance,
		DB:          container.GetDatabase(),
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "HTTP server starting", map[string]interface{}{"port": cfg.Server.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatalIfErr(ctx, logger, "Failed to start HTTP server", err, map[string]interface{}{"port": cfg.Server.Port})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Worker shutting down", map[string]interface{}{"instance": workerInstance.GetInstance()})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.WorkerShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests, then drain the worker so in-flight sessions finish
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "HTTP server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := workerInstance.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Failed to shutdown worker", map[string]interface{}{"error": err.Error()})
	}
	cancel()

	logger.Info(ctx, "Worker exited", map[string]interface{}{"instance": workerInstance.GetInstance()})
}
