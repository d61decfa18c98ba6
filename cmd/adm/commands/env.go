// Package commands provides CLI commands for the admin tool
package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"

	"skillmodel/internal/config"
	"skillmodel/internal/database"
	"skillmodel/internal/di"
	"skillmodel/internal/observability"
	"skillmodel/internal/services"
	contextutils "skillmodel/internal/utils"
)

// Services is the subset of the service container the admin commands use
type Services interface {
	GetAnalysisService() (services.AnalysisServiceInterface, error)
	GetSessionService() (services.SessionServiceInterface, error)
	GetSignalService() (services.SignalServiceInterface, error)
	GetWorkerService() (services.WorkerServiceInterface, error)
}

// Env carries configuration and lazily opened resources shared by every command.
// Commands that never touch the database do not pay for a connection.
type Env struct {
	Config *config.Config
	Logger *observability.Logger

	services  Services
	db        *sql.DB
	container *di.ServiceContainer
}

// NewEnv creates an Env
func NewEnv(cfg *config.Config, logger *observability.Logger) *Env {
	return &Env{Config: cfg, Logger: logger}
}

// Database opens the connection on first use. Migrations are left to `db migrate`.
func (e *Env) Database() (*sql.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	db, err := database.NewManager(e.Logger).InitDBWithoutMigrations(e.Config.Database)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to connect to database")
	}
	e.db = db
	return db, nil
}

// Services initializes the service container on first use
func (e *Env) Services(ctx context.Context) (Services, error) {
	if e.services != nil {
		return e.services, nil
	}
	db, err := e.Database()
	if err != nil {
		return nil, err
	}
	container := di.NewServiceContainerWithDB(e.Config, db, e.Logger)
	if err := container.Initialize(ctx); err != nil {
		return nil, contextutils.WrapError(err, "failed to initialize services")
	}
	e.container = container
	e.services = container
	return container, nil
}

// Close releases whatever the commands opened
func (e *Env) Close(ctx context.Context) {
	if e.container != nil {
		if err := e.container.Shutdown(ctx); err != nil {
			e.Logger.Warn(ctx, "Failed to shut down services", map[string]interface{}{"error": err.Error()})
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.Logger.Warn(ctx, "Warning: failed to close database connection", map[string]interface{}{"error": err.Error()})
		}
	}
}

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
