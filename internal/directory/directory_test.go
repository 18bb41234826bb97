package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"predictops/internal/api"
	"predictops/internal/domain"
	"predictops/internal/store"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	db, err := store.Open(store.DBConfig{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	l := NewLocal(db)
	l.Now = func() time.Time { return time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC) }
	return l
}

func TestLocalCreateListDelete(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()

	p, err := l.Create(ctx, "  Line 7  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Name != "Line 7" {
		t.Fatalf("name not trimmed: %q", p.Name)
	}
	if p.ID == "" || p.CreatedAt != "2026-08-30T09:00:00Z" {
		t.Fatalf("project = %+v", p)
	}

	list, err := l.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != p.ID {
		t.Fatalf("list = %+v", list)
	}

	if err := l.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, err = l.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("list after delete = %+v", list)
	}
}

func TestLocalCreateRequiresName(t *testing.T) {
	l := newLocal(t)
	if _, err := l.Create(context.Background(), "   "); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestLocalDeleteUnknown(t *testing.T) {
	l := newLocal(t)
	if err := l.Delete(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalMutationsAudited(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()
	p, err := l.Create(ctx, "Line 7")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := l.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	events, err := l.Repo.LatestEvents(ctx, 10, p.ID, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].Type != "project.deleted" || events[1].Type != "project.created" {
		t.Fatalf("events = %+v", events)
	}
}

func TestRemoteDeleteResolvesName(t *testing.T) {
	var deletedName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/project_list":
			json.NewEncoder(w).Encode([]domain.ProjectRecord{
				{ID: "p1", Name: "Line 7"},
				{ID: "p2", Name: "Line 8"},
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/projects":
			deletedName = r.URL.Query().Get("name")
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	r := NewRemote(api.New(srv.URL))
	if err := r.Delete(context.Background(), "p2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deletedName != "Line 8" {
		t.Fatalf("deleted name = %q", deletedName)
	}
}

func TestRemoteDeleteUnknownID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]domain.ProjectRecord{})
	}))
	defer srv.Close()

	r := NewRemote(api.New(srv.URL))
	if err := r.Delete(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoteListMapsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]domain.ProjectRecord{{ID: "p1", Name: "Line 7"}})
	}))
	defer srv.Close()

	list, err := NewRemote(api.New(srv.URL)).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Line 7" {
		t.Fatalf("list = %+v", list)
	}
}
