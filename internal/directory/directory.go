// Package directory provides the project directory service: CRUD over the
// project collection, either locally persisted or backed by the prediction
// backend. Mutations are followed by a fresh read of the collection, so the
// directory remains the single source of truth.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"predictops/internal/api"
	"predictops/internal/domain"
	"predictops/internal/store"
)

var ErrNameRequired = errors.New("project name is required")

type Directory interface {
	List(ctx context.Context) ([]domain.Project, error)
	Create(ctx context.Context, name string) (domain.Project, error)
	Delete(ctx context.Context, id string) error
}

// Local keeps the project directory in the workspace SQLite database.
type Local struct {
	Repo   store.Repo
	Events store.Writer
	Now    func() time.Time
}

func NewLocal(db *sql.DB) *Local {
	return &Local{
		Repo:   store.Repo{DB: db},
		Events: store.Writer{DB: db},
		Now:    time.Now,
	}
}

func (l *Local) List(ctx context.Context) ([]domain.Project, error) {
	return l.Repo.ListProjects(ctx)
}

func (l *Local) Create(ctx context.Context, name string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, ErrNameRequired
	}
	p := domain.Project{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: l.Now().UTC().Format(time.RFC3339),
	}
	tx, err := l.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := l.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := l.Events.Append(ctx, tx, "project.created", p.ID, store.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (l *Local) Delete(ctx context.Context, id string) error {
	p, err := l.Repo.GetProject(ctx, id)
	if err != nil {
		return err
	}
	tx, err := l.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := l.Repo.DeleteProjectTx(ctx, tx, id); err != nil {
		return err
	}
	if err := l.Events.Append(ctx, tx, "project.deleted", id, store.EventPayload{"name": p.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// Remote serves the directory from the prediction backend. The backend keys
// deletion by name, so Delete resolves the id against a fresh listing first.
type Remote struct {
	Client *api.Client
}

func NewRemote(client *api.Client) *Remote {
	return &Remote{Client: client}
}

func (r *Remote) List(ctx context.Context) ([]domain.Project, error) {
	records, err := r.Client.ProjectList(ctx)
	if err != nil {
		return nil, err
	}
	projects := make([]domain.Project, 0, len(records))
	for _, rec := range records {
		projects = append(projects, domain.Project{ID: rec.ID, Name: rec.Name})
	}
	return projects, nil
}

func (r *Remote) Create(ctx context.Context, name string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, ErrNameRequired
	}
	rec, err := r.Client.CreateProject(ctx, name)
	if err != nil {
		return domain.Project{}, err
	}
	return domain.Project{ID: rec.ID, Name: rec.Name}, nil
}

func (r *Remote) Delete(ctx context.Context, id string) error {
	records, err := r.Client.ProjectList(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.ID == id {
			return r.Client.DeleteProject(ctx, rec.Name)
		}
	}
	return store.ErrNotFound
}
