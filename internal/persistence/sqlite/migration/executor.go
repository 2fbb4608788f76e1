package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteExecutor implements the Executor interface for SQLite databases
type SQLiteExecutor struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteExecutor creates a new SQLite migration executor
func NewSQLiteExecutor(db *sql.DB) *SQLiteExecutor {
	return &SQLiteExecutor{
		db:  db,
		now: time.Now,
	}
}

// ExecuteMigration runs the statements of a migration and records its version in
// the same transaction. Either both happen or neither does.
func (e *SQLiteExecutor) ExecuteMigration(ctx context.Context, migration Migration) (err error) {
	statements := parseSQL(migration.SQL)
	if len(statements) == 0 {
		return fileError(migration.Version, migration.FilePath, "parse SQL",
			fmt.Errorf("no SQL statements found in migration"))
	}

	started := e.now()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return queryError(migration.Version, "", "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rollbackErr)
			}
		}
	}()

	for i, stmt := range statements {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return queryError(migration.Version, stmt, fmt.Sprintf("execute statement %d", i+1), execErr)
		}
	}

	const insertSQL = `
		INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms)
		VALUES (?, ?, ?, ?)
	`
	finished := e.now()
	if _, execErr := tx.ExecContext(ctx, insertSQL,
		migration.Version,
		finished.UTC().Format(time.RFC3339),
		migration.Checksum,
		finished.Sub(started).Milliseconds(),
	); execErr != nil {
		return queryError(migration.Version, insertSQL, "record migration", execErr)
	}

	if err = tx.Commit(); err != nil {
		return queryError(migration.Version, "", "commit transaction", err)
	}

	return nil
}

// InitializeVersionTable creates the schema_migrations table if it doesn't exist
func (e *SQLiteExecutor) InitializeVersionTable(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT,
			execution_time_ms INTEGER
		)
	`

	if _, err := e.db.ExecContext(ctx, createTableSQL); err != nil {
		return queryError("", createTableSQL, "create schema_migrations table", err)
	}

	return nil
}

// GetAppliedVersions returns all applied migration versions with timestamps
func (e *SQLiteExecutor) GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error) {
	const querySQL = `
		SELECT version, applied_at, COALESCE(execution_time_ms, 0), COALESCE(checksum, '')
		FROM schema_migrations
		ORDER BY CAST(version AS INTEGER) ASC
	`

	rows, err := e.db.QueryContext(ctx, querySQL)
	if err != nil {
		return nil, queryError("", querySQL, "get applied versions", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var version, appliedAtStr, checksum string
		var executionTimeMs int64

		if err := rows.Scan(&version, &appliedAtStr, &executionTimeMs, &checksum); err != nil {
			return nil, queryError("", querySQL, "scan applied migration", err)
		}

		appliedAt, err := time.Parse(time.RFC3339, appliedAtStr)
		if err != nil {
			return nil, queryError(version, querySQL, "parse applied_at", err)
		}

		applied = append(applied, AppliedMigration{
			Version:       version,
			AppliedAt:     appliedAt,
			ExecutionTime: time.Duration(executionTimeMs) * time.Millisecond,
			Checksum:      checksum,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, queryError("", querySQL, "iterate applied migrations", err)
	}

	return applied, nil
}

// parseSQL splits SQL content into individual statements, dropping comment lines.
func parseSQL(sql string) []string {
	var statements []string
	for _, stmt := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}
