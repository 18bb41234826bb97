// Package app wires the console's components from a workspace: config,
// local store, backend client, and the project directory.
package app

import (
	"database/sql"
	"fmt"

	"predictops/internal/api"
	"predictops/internal/config"
	"predictops/internal/directory"
	"predictops/internal/store"
)

// App holds the constructed components for one CLI invocation.
type App struct {
	Workspace string
	Config    *config.Config
	Client    *api.Client
	DB        *sql.DB
}

// Open loads the workspace config, opens and migrates the local store, and
// builds the backend client. Callers must Close.
func Open(workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := store.Open(store.DBConfig{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	client := api.New(cfg.Backend.BaseURL)
	client.Token = cfg.Backend.Token
	return &App{
		Workspace: workspace,
		Config:    cfg,
		Client:    client,
		DB:        db,
	}, nil
}

// Directory returns the project directory for the configured mode.
func (a *App) Directory() directory.Directory {
	if a.Config.Directory.Mode == config.ModeRemote {
		return directory.NewRemote(a.Client)
	}
	return directory.NewLocal(a.DB)
}

// Events returns the audit event writer backed by the local store.
func (a *App) Events() store.Writer {
	return store.Writer{DB: a.DB}
}

func (a *App) Close() error {
	return a.DB.Close()
}
