package migration

import (
	"errors"
	"fmt"
)

var (
	ErrMigrationFailed      = errors.New("migration execution failed")
	ErrInvalidMigrationFile = errors.New("invalid migration file format")
	// ErrVersionConflict reports a gap in the file sequence or an applied
	// version whose file is gone.
	ErrVersionConflict  = errors.New("migration version conflict")
	ErrInvalidVersion   = errors.New("invalid migration version")
	ErrDuplicateVersion = errors.New("duplicate migration version")
	// ErrChecksumMismatch reports a file edited after it was applied.
	ErrChecksumMismatch = errors.New("migration checksum mismatch")
)

// StepError records which migration step failed. File is set for scanner
// failures, Query for failures inside the database.
type StepError struct {
	Version string
	File    string
	Query   string
	Op      string
	Err     error
}

func (e *StepError) Error() string {
	subject := "migrations"
	switch {
	case e.Version != "" && e.File != "":
		subject = fmt.Sprintf("migration %s (%s)", e.Version, e.File)
	case e.Version != "":
		subject = "migration " + e.Version
	case e.File != "":
		subject = e.File
	}
	return fmt.Sprintf("%s: %s: %v", subject, e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func fileError(version, file, op string, err error) *StepError {
	return &StepError{Version: version, File: file, Op: op, Err: err}
}

func queryError(version, query, op string, err error) *StepError {
	return &StepError{Version: version, Query: query, Op: op, Err: err}
}
