package migrate_test

import (
	"testing"

	"sunline/internal/db"
	"sunline/internal/migrate"
)

func TestMigrate(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Fatalf("version = %d, want at least 1", v)
	}
	if _, err := conn.Exec(`SELECT id FROM projects LIMIT 1`); err != nil {
		t.Fatalf("schema missing projects table: %v", err)
	}

	// Applied migrations are never replayed.
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	again, _ := migrate.Version(conn)
	if again != v {
		t.Fatalf("version moved from %d to %d on a no-op run", v, again)
	}
}
