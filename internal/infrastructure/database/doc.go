// Package database provides SQLite connectivity for the X10 bridge's local store.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations read from any fs.FS (the migrations package embeds them)
//   - Connection lifecycle and health checks
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. New columns must be NULLABLE or carry a DEFAULT.
package database
