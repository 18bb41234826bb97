package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"predictops/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(DBConfig{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func insertProject(t *testing.T, r Repo, p domain.Project) {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.InsertProjectTx(context.Background(), tx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	r := Repo{DB: openTestDB(t)}
	ctx := context.Background()

	insertProject(t, r, domain.Project{ID: "p1", Name: "Line 7", CreatedAt: "2026-08-30T10:00:00Z"})
	insertProject(t, r, domain.Project{ID: "p2", Name: "Line 8", CreatedAt: "2026-08-30T11:00:00Z"})

	got, err := r.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Line 7" {
		t.Fatalf("got = %+v", got)
	}

	list, err := r.ListProjects(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "p2" {
		t.Fatalf("newest first expected, got %+v", list)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	r := Repo{DB: openTestDB(t)}
	if _, err := r.GetProject(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProjectNotFound(t *testing.T) {
	r := Repo{DB: openTestDB(t)}
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.DeleteProjectTx(context.Background(), tx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEventsAppendAndFilter(t *testing.T) {
	db := openTestDB(t)
	r := Repo{DB: db}
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	w := Writer{DB: db, Now: func() time.Time { return fixed }}
	ctx := context.Background()

	if err := w.Record(ctx, "upload.completed", "p1", EventPayload{"files": 4}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := w.Record(ctx, "training.started", "p1", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := w.Record(ctx, "project.created", "", EventPayload{"name": "Line 7"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	events, err := r.LatestEvents(ctx, 10, "", "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(events) != 3 || events[0].Type != "project.created" {
		t.Fatalf("newest first expected, got %+v", events)
	}
	if events[2].TS != "2026-08-30T12:00:00Z" {
		t.Fatalf("ts = %q", events[2].TS)
	}

	events, err = r.LatestEvents(ctx, 10, "p1", "training.started")
	if err != nil {
		t.Fatalf("filtered: %v", err)
	}
	if len(events) != 1 || events[0].Type != "training.started" {
		t.Fatalf("filter result = %+v", events)
	}
}
