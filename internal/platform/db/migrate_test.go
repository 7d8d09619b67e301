package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"003_underpayments.sql": {Data: []byte("CREATE TABLE underpayment_detections (id UUID);")},
		"001_core.sql":          {Data: []byte("CREATE TABLE claims (id UUID);")},
		"002_remittance.sql":    {Data: []byte("CREATE TABLE eras (id UUID);")},
		"README.md":             {Data: []byte("not a migration")},
		"seed.sql":              {Data: []byte("-- no numeric prefix")},
		"abc_bad.sql":           {Data: []byte("-- non-numeric prefix")},
		"archive/004_old.sql":   {Data: []byte("-- in a subdirectory")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d: %+v", len(migrations), migrations)
	}
	for i, want := range []string{"001_core.sql", "002_remittance.sql", "003_underpayments.sql"} {
		if migrations[i].Name != want || migrations[i].Version != i+1 {
			t.Errorf("migration %d: got %d %s, want %d %s", i, migrations[i].Version, migrations[i].Name, i+1, want)
		}
	}
	if migrations[0].SQL != "CREATE TABLE claims (id UUID);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_core.sql":  {Data: []byte("SELECT 1;")},
		"001_other.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, fsys).LoadMigrations(); err == nil {
		t.Error("expected an error for a duplicated version")
	}
}

func TestLoadMigrations_EmptyDir(t *testing.T) {
	migrations, err := NewMigrator(nil, os.DirFS(t.TempDir())).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations from empty dir, got %d", len(migrations))
	}
}

func TestLoadMigrations_FromDisk(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_core.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	migrations, err := NewMigrator(nil, os.DirFS(dir)).LoadMigrations()
	if err != nil || len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d (%v)", len(migrations), err)
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	_, err := NewMigrator(nil, os.DirFS("/nonexistent/path/that/does/not/exist")).LoadMigrations()
	if err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestStatusOf(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_core.sql"},
		{Version: 2, Name: "002_remittance.sql"},
	}
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	statuses := statusOf(migrations, map[int]time.Time{1: at})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected 001 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected 002 pending, got %+v", statuses[1])
	}
}

func TestEnsureMigrationsTable_RejectsBadSchema(t *testing.T) {
	m := NewMigrator(nil, fstest.MapFS{})
	if err := m.ensureMigrationsTable(context.Background(), "tenant_a; DROP TABLE claims"); err == nil {
		t.Error("expected an invalid schema name to be rejected")
	}
}
