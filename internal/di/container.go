// Package di provides dependency injection container for managing service lifecycle and dependencies.
package di

import (
	"context"
	"database/sql"
	"sync"

	"skillmodel/internal/config"
	"skillmodel/internal/database"
	"skillmodel/internal/observability"
	"skillmodel/internal/services"
	"skillmodel/internal/taxonomy"
	contextutils "skillmodel/internal/utils"
)

// ServiceContainerInterface defines the interface for service containers
type ServiceContainerInterface interface {
	GetService(name string) (interface{}, error)
	GetSessionService() (services.SessionServiceInterface, error)
	GetProficiencyService() (services.ProficiencyServiceInterface, error)
	GetSignalService() (services.SignalServiceInterface, error)
	GetAnalysisService() (services.AnalysisServiceInterface, error)
	GetWorkerService() (services.WorkerServiceInterface, error)
	GetTaxonomy() *taxonomy.Map
	GetDatabase() *sql.DB
	GetConfig() *config.Config
	GetLogger() *observability.Logger
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ServiceContainer manages all service dependencies and lifecycle
type ServiceContainer struct {
	cfg           *config.Config
	logger        *observability.Logger
	dbManager     *database.Manager
	db            *sql.DB
	taxonomy      *taxonomy.Map
	services      map[string]interface{}
	mu            sync.RWMutex
	shutdownFuncs []func(context.Context) error
}

// NewServiceContainer creates a new dependency injection container
func NewServiceContainer(cfg *config.Config, logger *observability.Logger) *ServiceContainer {
	return &ServiceContainer{
		cfg:      cfg,
		logger:   logger,
		services: make(map[string]interface{}),
	}
}

// NewServiceContainerWithDB creates a container around an existing connection. Initialize
// then skips opening the database and running migrations.
func NewServiceContainerWithDB(cfg *config.Config, db *sql.DB, logger *observability.Logger) *ServiceContainer {
	sc := NewServiceContainer(cfg, logger)
	sc.db = db
	return sc
}

// Initialize sets up all services and their dependencies
func (sc *ServiceContainer) Initialize(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.db == nil {
		sc.dbManager = database.NewManager(sc.logger)
		db, err := sc.dbManager.InitDBWithConfig(sc.cfg.Database)
		if err != nil {
			return contextutils.WrapErrorf(err, "failed to initialize database")
		}
		sc.db = db
		sc.shutdownFuncs = append(sc.shutdownFuncs, func(_ context.Context) error {
			return db.Close()
		})
	}

	tax, err := taxonomy.Load(sc.cfg.Taxonomy.Path)
	if err != nil {
		_ = sc.cleanup(ctx)
		return contextutils.WrapErrorf(err, "failed to load taxonomy")
	}
	sc.taxonomy = tax
	sc.logger.Info(ctx, "Taxonomy loaded", map[string]interface{}{
		"path":    sc.cfg.Taxonomy.Path,
		"version": tax.Version(),
		"nodes":   tax.NodeCount(),
	})

	if err := sc.initializeServices(ctx); err != nil {
		_ = sc.cleanup(ctx)
		return contextutils.WrapErrorf(err, "failed to initialize services")
	}

	if err := sc.startupServices(ctx); err != nil {
		_ = sc.cleanup(ctx)
		return contextutils.WrapErrorf(err, "failed to startup services")
	}

	return nil
}

// GetService retrieves a service by name with type assertion
func (sc *ServiceContainer) GetService(name string) (interface{}, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	service, exists := sc.services[name]
	if !exists {
		return nil, contextutils.ErrorWithContextf("service %s not found", name)
	}
	return service, nil
}

// GetServiceAs performs type-safe service retrieval
func GetServiceAs[T any](sc *ServiceContainer, name string) (T, error) {
	var zero T
	service, err := sc.GetService(name)
	if err != nil {
		return zero, err
	}

	typed, ok := service.(T)
	if !ok {
		return zero, contextutils.ErrorWithContextf("service %s is not of expected type %T", name, zero)
	}
	return typed, nil
}

// GetSessionService returns the session loader
func (sc *ServiceContainer) GetSessionService() (services.SessionServiceInterface, error) {
	return GetServiceAs[services.SessionServiceInterface](sc, "session")
}

// GetProficiencyService returns the proficiency updater
func (sc *ServiceContainer) GetProficiencyService() (services.ProficiencyServiceInterface, error) {
	return GetServiceAs[services.ProficiencyServiceInterface](sc, "proficiency")
}

// GetSignalService returns the signal rollup
func (sc *ServiceContainer) GetSignalService() (services.SignalServiceInterface, error) {
	return GetServiceAs[services.SignalServiceInterface](sc, "signal")
}

// GetAnalysisService returns the session analysis pipeline
func (sc *ServiceContainer) GetAnalysisService() (services.AnalysisServiceInterface, error) {
	return GetServiceAs[services.AnalysisServiceInterface](sc, "analysis")
}

// GetWorkerService returns the worker service
func (sc *ServiceContainer) GetWorkerService() (services.WorkerServiceInterface, error) {
	return GetServiceAs[services.WorkerServiceInterface](sc, "worker")
}

// GetTaxonomy returns the loaded taxonomy
func (sc *ServiceContainer) GetTaxonomy() *taxonomy.Map {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.taxonomy
}

// GetDatabase returns the database instance
func (sc *ServiceContainer) GetDatabase() *sql.DB {
	return sc.db
}

// GetConfig returns the configuration
func (sc *ServiceContainer) GetConfig() *config.Config {
	return sc.cfg
}

// GetLogger returns the logger
func (sc *ServiceContainer) GetLogger() *observability.Logger {
	return sc.logger
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.cleanup(ctx)
}

// startupServices starts all services that implement the Lifecycle interface
func (sc *ServiceContainer) startupServices(ctx context.Context) error {
	for name, service := range sc.services {
		if lifecycleService, ok := service.(interface{ Startup(context.Context) error }); ok {
			sc.logger.Info(ctx, "Starting service", map[string]interface{}{"service": name})
			if err := lifecycleService.Startup(ctx); err != nil {
				return contextutils.WrapErrorf(err, "failed to startup service %s", name)
			}
		}
	}
	return nil
}

// cleanup handles shutdown of all services
func (sc *ServiceContainer) cleanup(ctx context.Context) error {
	var errors []error

	for name := range sc.services {
		if lifecycleService, ok := sc.services[name].(interface{ Shutdown(context.Context) error }); ok {
			sc.logger.Info(ctx, "Shutting down service", map[string]interface{}{"service": name})
			if err := lifecycleService.Shutdown(ctx); err != nil {
				sc.logger.Error(ctx, "Failed to shutdown service", err, map[string]interface{}{"service": name})
				errors = append(errors, contextutils.WrapErrorf(err, "service %s shutdown failed", name))
			}
		}
	}

	// Shutdown in reverse order of initialization
	for i := len(sc.shutdownFuncs) - 1; i >= 0; i-- {
		if err := sc.shutdownFuncs[i](ctx); err != nil {
			errors = append(errors, err)
		}
	}
	sc.shutdownFuncs = nil

	if len(errors) > 0 {
		return contextutils.ErrorWithContextf("shutdown errors: %v", errors)
	}
	return nil
}

// initializeServices sets up all service dependencies
func (sc *ServiceContainer) initializeServices(_ context.Context) error {
	sessionService := services.NewSessionServiceWithLogger(sc.db, sc.cfg, sc.logger)
	sc.services["session"] = sessionService

	proficiencyService := services.NewProficiencyServiceWithLogger(sc.db, sc.cfg, sc.logger)
	sc.services["proficiency"] = proficiencyService

	// Signal rollup reads the proficiency records it summarises
	signalService := services.NewSignalServiceWithLogger(sc.db, sc.cfg, proficiencyService, sc.logger)
	sc.services["signal"] = signalService

	annotator, err := services.NewAnnotator(sc.cfg, sc.logger)
	if err != nil {
		return contextutils.WrapError(err, "failed to create diagnostic annotator")
	}
	sc.services["annotator"] = annotator

	locker, err := services.NewUserLocker(sc.cfg, sc.db, sc.logger)
	if err != nil {
		return contextutils.WrapError(err, "failed to create user locker")
	}
	sc.services["locker"] = locker
	if closer, ok := locker.(interface{ Close() error }); ok {
		sc.shutdownFuncs = append(sc.shutdownFuncs, func(_ context.Context) error { return closer.Close() })
	}

	metrics, err := observability.NewPipelineMetrics()
	if err != nil {
		return contextutils.WrapError(err, "failed to register pipeline metrics")
	}

	analysisService := services.NewAnalysisServiceWithLogger(
		sc.cfg, sessionService, proficiencyService, signalService,
		annotator, locker, sc.taxonomy, metrics, sc.logger,
	)
	sc.services["analysis"] = analysisService

	workerService := services.NewWorkerServiceWithLogger(sc.db, sc.logger)
	sc.services["worker"] = workerService

	return nil
}
