package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

// testMigrations returns a single reversible migration plus a stray file.
func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20261019_090000_create_devices.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE test_devices (id TEXT PRIMARY KEY, address TEXT NOT NULL);"),
		},
		"20261019_090000_create_devices.down.sql": &fstest.MapFile{
			Data: []byte("DROP TABLE test_devices;"),
		},
		"README.md": &fstest.MapFile{Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count == 1
}

// TestMigrate verifies migration application.
func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	src := testMigrations()
	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if !tableExists(t, db, "test_devices") {
		t.Fatal("table test_devices not created")
	}

	applied, pending, err := db.GetMigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "20261019_090000" {
		t.Errorf("applied = %+v, want one record for 20261019_090000", applied)
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	// Running again should be idempotent
	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// TestMigrateOrder verifies migrations apply oldest first.
func TestMigrateOrder(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	src := fstest.MapFS{
		"20261020_000000_add_column.up.sql": &fstest.MapFile{
			Data: []byte("ALTER TABLE ordered ADD COLUMN name TEXT;"),
		},
		"20261019_000000_create_table.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE ordered (id INTEGER PRIMARY KEY);"),
		},
	}

	if err := db.Migrate(context.Background(), src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
}

// TestMigrateFailureRollsBack verifies a broken migration leaves no record.
func TestMigrateFailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	src := fstest.MapFS{
		"20261019_000000_broken.up.sql": &fstest.MapFile{Data: []byte("CREATE TABLE;")},
	}

	if err := db.Migrate(ctx, src); err == nil {
		t.Fatal("Migrate() expected error for invalid SQL")
	}

	_, pending, err := db.GetMigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected broken migration to stay pending, got %d pending", len(pending))
	}
}

// TestMigrateDown verifies migration rollback.
func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	src := testMigrations()

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, src); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "test_devices") {
		t.Error("table test_devices should be dropped after rollback")
	}

	applied, _, err := db.GetMigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied after rollback, got %d", len(applied))
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, src); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

// TestMigrateDownWithoutDownSQL verifies rollback refuses a one-way migration.
func TestMigrateDownWithoutDownSQL(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	src := fstest.MapFS{
		"20261019_000000_one_way.up.sql": &fstest.MapFile{Data: []byte("CREATE TABLE one_way (id INTEGER);")},
	}

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, src); err == nil {
		t.Error("MigrateDown() expected error without down SQL")
	}
}

// TestMigrateNoMigrations verifies behaviour with no migrations.
func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx, nil); err != nil {
		t.Fatalf("Migrate(nil) error = %v", err)
	}
	if err := db.Migrate(ctx, fstest.MapFS{}); err != nil {
		t.Fatalf("Migrate(empty) error = %v", err)
	}
}

// TestGetMigrationStatus verifies status reporting before migrating.
func TestGetMigrationStatus(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	applied, pending, err := db.GetMigrationStatus(context.Background(), testMigrations())
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied, got %d", len(applied))
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}
	if pending[0].Name != "create_devices" || pending[0].DownSQL == "" {
		t.Errorf("pending[0] = %+v", pending[0])
	}
}

// TestParseMigrationFilename verifies filename parsing.
func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{
			name:        "valid up migration",
			filename:    "20261019_090000_x10_addresses.up.sql",
			wantVersion: "20261019_090000",
			wantIsUp:    true,
			wantOk:      true,
		},
		{
			name:        "valid down migration",
			filename:    "20261019_090000_x10_addresses.down.sql",
			wantVersion: "20261019_090000",
			wantIsUp:    false,
			wantOk:      true,
		},
		{
			name:     "not sql file",
			filename: "readme.txt",
			wantOk:   false,
		},
		{
			name:     "missing direction",
			filename: "20261019_090000_x10_addresses.sql",
			wantOk:   false,
		},
		{
			name:     "invalid format",
			filename: "invalid.up.sql",
			wantOk:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Errorf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok {
				if version != tt.wantVersion {
					t.Errorf("version = %v, want %v", version, tt.wantVersion)
				}
				if isUp != tt.wantIsUp {
					t.Errorf("isUp = %v, want %v", isUp, tt.wantIsUp)
				}
			}
		})
	}
}

// TestExtractMigrationName verifies name extraction.
func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20261019_090000_x10_addresses.up.sql", "x10_addresses"},
		{"20261019_090000_initial_schema.down.sql", "initial_schema"},
		{"20261019_090000_bad", "bad"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got := extractMigrationName(tt.filename)
			if got != tt.want {
				t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
