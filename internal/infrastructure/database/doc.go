// Package database provides SQLite connectivity for the playout store.
//
// This package manages:
//   - Database connection with WAL mode so API reads proceed during a cache flush
//   - Schema migrations loaded from an fs.FS (see the migrations package)
//   - Transaction helpers used by the rundown store's bulk writes
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Each migration file has an .up.sql and, where reversible, a .down.sql
package database
