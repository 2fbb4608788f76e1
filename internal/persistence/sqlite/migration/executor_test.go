package migration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseSQL(t *testing.T) {
	sql := `-- Description: rooms
CREATE TABLE rooms (
	id TEXT PRIMARY KEY -- trailing comments stay with the line
);
-- a comment only statement
;
CREATE INDEX idx_rooms_id ON rooms(id);`

	statements := parseSQL(sql)
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(statements), statements)
	}
	if !strings.HasPrefix(statements[0], "CREATE TABLE rooms") {
		t.Fatalf("expected CREATE TABLE first, got %q", statements[0])
	}
	if strings.Contains(statements[1], "--") {
		t.Fatalf("expected comment lines to be dropped, got %q", statements[1])
	}
}

func TestSQLiteExecutor_RecordsVersion(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	executor := NewSQLiteExecutor(db)
	executor.now = func() time.Time { return time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC) }

	if err := executor.InitializeVersionTable(ctx); err != nil {
		t.Fatalf("InitializeVersionTable failed: %v", err)
	}
	err := executor.ExecuteMigration(ctx, Migration{
		Version:  "001",
		SQL:      "CREATE TABLE rooms (id TEXT PRIMARY KEY);",
		FilePath: "001_rooms.sql",
		Checksum: "abc",
	})
	if err != nil {
		t.Fatalf("ExecuteMigration failed: %v", err)
	}

	applied, err := executor.GetAppliedVersions(ctx)
	if err != nil {
		t.Fatalf("GetAppliedVersions failed: %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "001" || applied[0].Checksum != "abc" {
		t.Fatalf("expected version 001 to be recorded, got %+v", applied)
	}

	t.Run("empty migration is rejected", func(t *testing.T) {
		err := executor.ExecuteMigration(ctx, Migration{Version: "002", SQL: "-- nothing\n", FilePath: "002_empty.sql"})
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			t.Fatalf("expected StepError, got %v", err)
		}
		if stepErr.Version != "002" || stepErr.File != "002_empty.sql" {
			t.Fatalf("expected step error for 002_empty.sql, got %+v", stepErr)
		}
	})

	t.Run("failing statement reports its query", func(t *testing.T) {
		err := executor.ExecuteMigration(ctx, Migration{Version: "003", SQL: "CREATE TABLE rooms (id TEXT);", FilePath: "003_dup.sql"})
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			t.Fatalf("expected StepError, got %v", err)
		}
		if !strings.Contains(stepErr.Query, "CREATE TABLE rooms") {
			t.Fatalf("expected failing query to be recorded, got %q", stepErr.Query)
		}
		if !strings.HasPrefix(err.Error(), "migration 003: execute statement 1:") {
			t.Fatalf("unexpected message %q", err.Error())
		}
	})
}
