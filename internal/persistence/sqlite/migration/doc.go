// Package migration applies versioned schema changes to a SQLite database.
//
// Migration files are read from an fs.FS (usually an embed.FS) and follow the
// naming convention {version}_{description}.sql, e.g. "001_rooms.sql". Each
// file runs inside its own transaction and is recorded in the
// schema_migrations table so that it is applied exactly once.
//
// Example usage:
//
//	manager := NewMigrationManager(NewFileScanner(), NewSQLiteExecutor(db), files, logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
