package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"morph/internal/config"
)

// Store persists task records in SQLite. The registry owns all writes; the
// store exists so tasks survive daemon restarts.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    owner_id      TEXT,
    source_path   TEXT NOT NULL,
    source_size   INTEGER NOT NULL DEFAULT 0,
    format        TEXT,
    codec         TEXT,
    quality       TEXT,
    status        TEXT NOT NULL,
    progress      INTEGER NOT NULL DEFAULT 0,
    speed         TEXT,
    eta           TEXT,
    output_path   TEXT,
    error_message TEXT,
    created_at    TEXT NOT NULL,
    started_at    TEXT,
    completed_at  TEXT,
    retry_count   INTEGER NOT NULL DEFAULT 0,
    max_retries   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// OpenStore initializes or connects to the task database.
func OpenStore(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "morph.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init task schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	delay := busyRetryInitialBackoff
	var (
		res     sql.Result
		lastErr error
	)
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		res, lastErr = s.db.ExecContext(ctx, query, args...)
		if lastErr == nil {
			return res, nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return nil, lastErr
}

const taskColumns = "id, name, owner_id, source_path, source_size, format, codec, quality, status, progress, speed, eta, output_path, error_message, created_at, started_at, completed_at, retry_count, max_retries"

// Insert persists a newly created task.
func (s *Store) Insert(ctx context.Context, t *Task) error {
	if t == nil {
		return errors.New("task is nil")
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Name,
		nullableString(t.OwnerID),
		t.SourcePath,
		t.SourceSize,
		nullableString(t.Params.Format),
		nullableString(t.Params.Codec),
		nullableString(t.Params.Quality),
		t.Status,
		t.Progress,
		nullableString(t.Speed),
		nullableString(t.ETA),
		nullableString(t.OutputPath),
		nullableString(t.ErrorMessage),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(t.StartedAt),
		nullableTime(t.CompletedAt),
		t.RetryCount,
		t.MaxRetries,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Update persists changes to an existing task.
func (s *Store) Update(ctx context.Context, t *Task) error {
	if t == nil {
		return errors.New("task is nil")
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET name = ?, owner_id = ?, source_path = ?, source_size = ?, format = ?, codec = ?,
             quality = ?, status = ?, progress = ?, speed = ?, eta = ?, output_path = ?,
             error_message = ?, started_at = ?, completed_at = ?, retry_count = ?, max_retries = ?
         WHERE id = ?`,
		t.Name,
		nullableString(t.OwnerID),
		t.SourcePath,
		t.SourceSize,
		nullableString(t.Params.Format),
		nullableString(t.Params.Codec),
		nullableString(t.Params.Quality),
		t.Status,
		t.Progress,
		nullableString(t.Speed),
		nullableString(t.ETA),
		nullableString(t.OutputPath),
		nullableString(t.ErrorMessage),
		nullableTime(t.StartedAt),
		nullableTime(t.CompletedAt),
		t.RetryCount,
		t.MaxRetries,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// Remove deletes a task row. The returned bool reports whether a row existed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// List loads every persisted task ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id           string
		name         string
		ownerID      sql.NullString
		sourcePath   string
		sourceSize   int64
		format       sql.NullString
		codec        sql.NullString
		quality      sql.NullString
		statusStr    string
		progress     int
		speed        sql.NullString
		eta          sql.NullString
		outputPath   sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		retryCount   int
		maxRetries   int
	)

	if err := scanner.Scan(
		&id,
		&name,
		&ownerID,
		&sourcePath,
		&sourceSize,
		&format,
		&codec,
		&quality,
		&statusStr,
		&progress,
		&speed,
		&eta,
		&outputPath,
		&errorMessage,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&retryCount,
		&maxRetries,
	); err != nil {
		return nil, err
	}

	t := &Task{
		ID:         id,
		Name:       name,
		OwnerID:    ownerID.String,
		SourcePath: sourcePath,
		SourceSize: sourceSize,
		Params: Params{
			Format:  format.String,
			Codec:   codec.String,
			Quality: quality.String,
		},
		Status:       Status(statusStr),
		Progress:     progress,
		Speed:        speed.String,
		ETA:          eta.String,
		OutputPath:   outputPath.String,
		ErrorMessage: errorMessage.String,
		RetryCount:   retryCount,
		MaxRetries:   maxRetries,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		t.CreatedAt = created
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			t.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			t.CompletedAt = &completed
		}
	}
	return t, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
