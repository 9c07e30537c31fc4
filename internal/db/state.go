// Package db persists store snapshots in an embedded SQLite database.
//
// The database runs in embedded mode using the ncruces/go-sqlite3
// driver with WAL enabled for concurrent reads. Each container of the
// store snapshot (tasks, projects, aliases, operation queue, shadows,
// filter cache) maps to one table; the cursor, schema version, and
// sync status live in a key/value meta table.
//
// Loading is upgrade-tolerant: schema creation is idempotent, so a
// state file written by an older build simply gains any missing tables
// as empty containers instead of being rejected.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/task"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection holding persisted engine state.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the state database at the given path and
// ensures the schema exists. The caller must call Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL mode keeps readers unblocked during snapshot writes.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the filesystem location of the state database.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the state tables if they don't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the state tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		is_completed INTEGER NOT NULL DEFAULT 0,
		project_id TEXT,
		due_date TEXT,
		is_recurring INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT 'remote',
		updated_at TEXT NOT NULL,
		last_remote_seen_at TEXT
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS aliases (
		temp_id TEXT PRIMARY KEY,
		canonical_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ops (
		op_id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		content TEXT,
		project_id TEXT,
		due_date TEXT,
		is_completed INTEGER NOT NULL DEFAULT 0,
		queued_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_retry_at TEXT,
		last_error TEXT
	);

	CREATE TABLE IF NOT EXISTS shadows (
		task_id TEXT PRIMARY KEY,
		content TEXT NOT NULL DEFAULT '',
		is_completed INTEGER NOT NULL DEFAULT 0,
		project_id TEXT,
		due_date TEXT
	);

	CREATE TABLE IF NOT EXISTS filter_cache (
		expr TEXT PRIMARY KEY,
		ids TEXT NOT NULL,
		last_used TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_ops_position ON ops(position);
	CREATE INDEX IF NOT EXISTS idx_ops_target ON ops(target_id);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Save writes the snapshot, replacing any previously persisted state.
func (db *DB) Save(snap *store.Snapshot) error {
	return db.SaveContext(context.Background(), snap)
}

// SaveContext writes the snapshot with context support. The whole
// snapshot is replaced in one transaction so a crash mid-save can never
// leave a torn state file.
func (db *DB) SaveContext(ctx context.Context, snap *store.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"tasks", "projects", "aliases", "ops", "shadows", "filter_cache"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, t := range snap.Tasks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, content, is_completed, project_id, due_date,
				is_recurring, is_deleted, source, updated_at, last_remote_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Content, boolToInt(t.IsCompleted), t.ProjectID, t.DueDate,
			boolToInt(t.IsRecurring), boolToInt(t.IsDeleted), string(t.Source),
			t.UpdatedAt.Format(time.RFC3339), timeToNullString(t.LastRemoteSeenAt))
		if err != nil {
			return fmt.Errorf("failed to save task %s: %w", t.ID, err)
		}
	}

	for _, p := range snap.Projects {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, name, updated_at) VALUES (?, ?, ?)`,
			p.ID, p.Name, p.UpdatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to save project %s: %w", p.ID, err)
		}
	}

	for from, to := range snap.Aliases {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO aliases (temp_id, canonical_id) VALUES (?, ?)`, from, to)
		if err != nil {
			return fmt.Errorf("failed to save alias %s: %w", from, err)
		}
	}

	for i, op := range snap.Ops {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ops (op_id, position, kind, target_id, content, project_id,
				due_date, is_completed, queued_at, attempts, next_retry_at, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.OpID, i, string(op.Kind), op.TargetID, op.Content, op.ProjectID,
			op.DueDate, boolToInt(op.IsCompleted), op.QueuedAt.Format(time.RFC3339),
			op.Attempts, timeToNullString(op.NextRetryAt), op.LastError)
		if err != nil {
			return fmt.Errorf("failed to save operation %s: %w", op.OpID, err)
		}
	}

	for id, sig := range snap.Shadows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO shadows (task_id, content, is_completed, project_id, due_date)
			VALUES (?, ?, ?, ?, ?)`,
			id, sig.Content, boolToInt(sig.IsCompleted), sig.ProjectID, sig.DueDate)
		if err != nil {
			return fmt.Errorf("failed to save shadow %s: %w", id, err)
		}
	}

	for expr, entry := range snap.Filters {
		idsJSON, err := json.Marshal(entry.IDs)
		if err != nil {
			return fmt.Errorf("failed to marshal filter ids: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO filter_cache (expr, ids, last_used) VALUES (?, ?, ?)`,
			expr, string(idsJSON), entry.LastUsed.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to save filter %q: %w", expr, err)
		}
	}

	statusJSON, err := json.Marshal(snap.Status)
	if err != nil {
		return fmt.Errorf("failed to marshal sync status: %w", err)
	}
	meta := map[string]string{
		"version": strconv.Itoa(snap.Version),
		"cursor":  snap.Cursor,
		"status":  string(statusJSON),
	}
	for key, value := range meta {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return fmt.Errorf("failed to save meta %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the persisted snapshot. An empty or freshly created
// database yields an empty snapshot, never an error.
func (db *DB) Load() (*store.Snapshot, error) {
	return db.LoadContext(context.Background())
}

// LoadContext reads the persisted snapshot with context support.
func (db *DB) LoadContext(ctx context.Context) (*store.Snapshot, error) {
	snap := &store.Snapshot{
		Aliases: make(map[string]string),
		Shadows: make(map[string]task.Signature),
		Filters: make(map[string]store.FilterEntry),
	}

	if err := db.loadMeta(ctx, snap); err != nil {
		return nil, err
	}
	if err := db.loadTasks(ctx, snap); err != nil {
		return nil, err
	}
	if err := db.loadProjects(ctx, snap); err != nil {
		return nil, err
	}
	if err := db.loadAliases(ctx, snap); err != nil {
		return nil, err
	}
	if err := db.loadOps(ctx, snap); err != nil {
		return nil, err
	}
	if err := db.loadShadows(ctx, snap); err != nil {
		return nil, err
	}
	if err := db.loadFilters(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (db *DB) loadMeta(ctx context.Context, snap *store.Snapshot) error {
	rows, err := db.conn.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return fmt.Errorf("failed to query meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("failed to scan meta: %w", err)
		}
		switch key {
		case "version":
			snap.Version, _ = strconv.Atoi(value)
		case "cursor":
			snap.Cursor = value
		case "status":
			// Status from an older build may lack fields; whatever
			// decodes is kept, the rest defaults.
			_ = json.Unmarshal([]byte(value), &snap.Status)
		}
	}
	return rows.Err()
}

func (db *DB) loadTasks(ctx context.Context, snap *store.Snapshot) error {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, content, is_completed, project_id, due_date,
		       is_recurring, is_deleted, source, updated_at, last_remote_seen_at
		FROM tasks`)
	if err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t task.Task
		var isCompleted, isRecurring, isDeleted int
		var projectID, dueDate sql.NullString
		var source, updatedAt string
		var lastSeen sql.NullString

		if err := rows.Scan(&t.ID, &t.Content, &isCompleted, &projectID, &dueDate,
			&isRecurring, &isDeleted, &source, &updatedAt, &lastSeen); err != nil {
			return fmt.Errorf("failed to scan task: %w", err)
		}
		t.IsCompleted = isCompleted != 0
		t.IsRecurring = isRecurring != 0
		t.IsDeleted = isDeleted != 0
		t.ProjectID = projectID.String
		t.DueDate = dueDate.String
		t.Source = task.Source(source)
		t.UpdatedAt = parseTime(updatedAt)
		t.LastRemoteSeenAt = nullStringToTime(lastSeen)
		snap.Tasks = append(snap.Tasks, &t)
	}
	return rows.Err()
}

func (db *DB) loadProjects(ctx context.Context, snap *store.Snapshot) error {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, updated_at FROM projects`)
	if err != nil {
		return fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p task.Project
		var updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &updatedAt); err != nil {
			return fmt.Errorf("failed to scan project: %w", err)
		}
		p.UpdatedAt = parseTime(updatedAt)
		snap.Projects = append(snap.Projects, &p)
	}
	return rows.Err()
}

func (db *DB) loadAliases(ctx context.Context, snap *store.Snapshot) error {
	rows, err := db.conn.QueryContext(ctx, `SELECT temp_id, canonical_id FROM aliases`)
	if err != nil {
		return fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return fmt.Errorf("failed to scan alias: %w", err)
		}
		snap.Aliases[from] = to
	}
	return rows.Err()
}

func (db *DB) loadOps(ctx context.Context, snap *store.Snapshot) error {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT op_id, kind, target_id, content, project_id, due_date,
		       is_completed, queued_at, attempts, next_retry_at, last_error
		FROM ops ORDER BY position ASC`)
	if err != nil {
		return fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var op task.Operation
		var kind, queuedAt string
		var content, projectID, dueDate, lastError, nextRetry sql.NullString
		var isCompleted int

		if err := rows.Scan(&op.OpID, &kind, &op.TargetID, &content, &projectID,
			&dueDate, &isCompleted, &queuedAt, &op.Attempts, &nextRetry, &lastError); err != nil {
			return fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Kind = task.OpKind(kind)
		op.Content = content.String
		op.ProjectID = projectID.String
		op.DueDate = dueDate.String
		op.IsCompleted = isCompleted != 0
		op.QueuedAt = parseTime(queuedAt)
		op.NextRetryAt = nullStringToTime(nextRetry)
		op.LastError = lastError.String
		snap.Ops = append(snap.Ops, &op)
	}
	return rows.Err()
}

func (db *DB) loadShadows(ctx context.Context, snap *store.Snapshot) error {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT task_id, content, is_completed, project_id, due_date FROM shadows`)
	if err != nil {
		return fmt.Errorf("failed to query shadows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var sig task.Signature
		var isCompleted int
		var projectID, dueDate sql.NullString
		if err := rows.Scan(&id, &sig.Content, &isCompleted, &projectID, &dueDate); err != nil {
			return fmt.Errorf("failed to scan shadow: %w", err)
		}
		sig.IsCompleted = isCompleted != 0
		sig.ProjectID = projectID.String
		sig.DueDate = dueDate.String
		snap.Shadows[id] = sig
	}
	return rows.Err()
}

func (db *DB) loadFilters(ctx context.Context, snap *store.Snapshot) error {
	rows, err := db.conn.QueryContext(ctx, `SELECT expr, ids, last_used FROM filter_cache`)
	if err != nil {
		return fmt.Errorf("failed to query filter cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var expr, idsJSON, lastUsed string
		if err := rows.Scan(&expr, &idsJSON, &lastUsed); err != nil {
			return fmt.Errorf("failed to scan filter entry: %w", err)
		}
		var entry store.FilterEntry
		if err := json.Unmarshal([]byte(idsJSON), &entry.IDs); err != nil {
			return fmt.Errorf("failed to unmarshal filter ids for %q: %w", expr, err)
		}
		entry.LastUsed = parseTime(lastUsed)
		snap.Filters[expr] = entry
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func nullStringToTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return parseTime(ns.String)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
