package app_test

import (
	"context"
	"os"
	"testing"

	"mastersync/internal/app"
	"mastersync/internal/config"
	"mastersync/internal/db"
	"mastersync/internal/migrate"
	"mastersync/internal/repo"
)

func newWorkspace(t *testing.T) (string, repo.Repo) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return dir, repo.Repo{DB: conn}
}

func TestResolveSeedsDefaultWithoutFile(t *testing.T) {
	dir, r := newWorkspace(t)
	ctx := context.Background()

	id, cfg, err := app.ResolveInstanceConfig(ctx, dir, "", r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "local" || cfg.Instance.ID != "local" {
		t.Fatalf("id = %q, cfg = %+v", id, cfg)
	}
	// The seeded default must now live in the DB.
	stored, err := r.GetInstanceConfig(ctx, "local")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Cards.TitlePrefix != "[PENDING]" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestResolveFileWinsAndSyncsToDB(t *testing.T) {
	dir, r := newWorkspace(t)
	ctx := context.Background()
	yaml := "instance:\n  id: campus-a\ncards:\n  title_prefix: \"[WIP]\"\n"
	if err := os.WriteFile(config.Path(dir), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	id, cfg, err := app.ResolveInstanceConfig(ctx, dir, "", r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "campus-a" || cfg.Cards.TitlePrefix != "[WIP]" {
		t.Fatalf("id = %q, cfg = %+v", id, cfg)
	}
	stored, err := r.GetInstanceConfig(ctx, "campus-a")
	if err != nil {
		t.Fatalf("file config not synced: %v", err)
	}
	if stored.Cards.TitlePrefix != "[WIP]" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestResolveOverrideWins(t *testing.T) {
	dir, r := newWorkspace(t)
	ctx := context.Background()
	yaml := "instance:\n  id: campus-a\n"
	if err := os.WriteFile(config.Path(dir), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	id, _, err := app.ResolveInstanceConfig(ctx, dir, "campus-b", r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "campus-b" {
		t.Fatalf("id = %q, override must win", id)
	}
}
