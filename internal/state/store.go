// Package state provides SQLite-based write-through persistence for the
// coordinator. Persistence is optional: in-memory correctness never depends
// on it, and a write failure is reported to the caller for logging, never
// for blocking.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// Store wraps an SQLite database holding task results and agent configs.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the XDG data path for the coordinator database.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "madev", "madev.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// migrate applies all pending schema migrations.
func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1TaskResults},
		{2, migrationV2AgentConfigs},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1TaskResults = `
CREATE TABLE IF NOT EXISTS task_results (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	type TEXT NOT NULL,
	state TEXT NOT NULL,
	assigned_agent TEXT,
	attempt INTEGER NOT NULL DEFAULT 0,
	result TEXT,
	error TEXT,
	error_kind TEXT,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_task_results_workflow_id ON task_results(workflow_id);
CREATE INDEX IF NOT EXISTS idx_task_results_state ON task_results(state);
`

const migrationV2AgentConfigs = `
CREATE TABLE IF NOT EXISTS agent_configs (
	agent_id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	capabilities TEXT NOT NULL,
	model_preference TEXT,
	updated_at DATETIME NOT NULL
);
`

// SaveTaskResult upserts the terminal snapshot of a task.
func (s *Store) SaveTaskResult(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt any
	if task.CompletedAt != nil {
		completedAt = formatTime(*task.CompletedAt)
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO task_results
			(id, workflow_id, type, state, assigned_agent, attempt, result, error, error_kind, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			assigned_agent = excluded.assigned_agent,
			attempt = excluded.attempt,
			result = excluded.result,
			error = excluded.error,
			error_kind = excluded.error_kind,
			completed_at = excluded.completed_at
	`, task.ID, task.WorkflowID, task.Type, string(task.State), task.AssignedAgent,
		task.Attempt, task.Result, task.Error, string(task.ErrorKind),
		formatTime(task.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save task result %s: %w", task.ID, err)
	}
	return nil
}

// TaskResult loads a saved task snapshot, or nil if none exists.
func (s *Store) TaskResult(ctx context.Context, taskID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRowContext(ctx, `
		SELECT id, workflow_id, type, state, assigned_agent, attempt, result, error, error_kind, created_at, completed_at
		FROM task_results WHERE id = ?
	`, taskID)

	task, err := scanTaskResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load task result %s: %w", taskID, err)
	}
	return task, nil
}

// WorkflowTaskResults loads every saved task snapshot for a workflow.
func (s *Store) WorkflowTaskResults(ctx context.Context, workflowID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, workflow_id, type, state, assigned_agent, attempt, result, error, error_kind, created_at, completed_at
		FROM task_results WHERE workflow_id = ? ORDER BY created_at
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list task results for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTaskResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// RecentResults loads the most recently completed task snapshots, newest
// first, up to limit rows.
func (s *Store) RecentResults(ctx context.Context, limit int) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, workflow_id, type, state, assigned_agent, attempt, result, error, error_kind, created_at, completed_at
		FROM task_results WHERE completed_at IS NOT NULL
		ORDER BY completed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent results: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTaskResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTaskResult reads one task_results row into a Task.
func scanTaskResult(row rowScanner) (*models.Task, error) {
	var task models.Task
	var state, errorKind, createdAt string
	var assignedAgent, result, errDetail, completedAt sql.NullString
	if err := row.Scan(&task.ID, &task.WorkflowID, &task.Type, &state, &assignedAgent,
		&task.Attempt, &result, &errDetail, &errorKind, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	task.State = models.TaskState(state)
	task.ErrorKind = models.ErrorKind(errorKind)
	task.AssignedAgent = assignedAgent.String
	task.Result = result.String
	task.Error = errDetail.String
	if t, err := parseTime(createdAt); err == nil {
		task.CreatedAt = t
	}
	task.CompletedAt = parseNullableTime(completedAt)
	return &task, nil
}

// SaveAgentConfig upserts an agent's descriptor so a restarted coordinator
// can rehydrate it.
func (s *Store) SaveAgentConfig(ctx context.Context, agentID string, desc *models.AgentDescriptor) error {
	caps, err := json.Marshal(desc.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	prefs, err := json.Marshal(desc.ModelPreference)
	if err != nil {
		return fmt.Errorf("encode model preference: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO agent_configs (agent_id, role, capabilities, model_preference, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			role = excluded.role,
			capabilities = excluded.capabilities,
			model_preference = excluded.model_preference,
			updated_at = excluded.updated_at
	`, agentID, desc.Role, string(caps), string(prefs), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save agent config %s: %w", agentID, err)
	}
	return nil
}

// LoadAgentConfig loads an agent's saved descriptor, or nil if none exists.
func (s *Store) LoadAgentConfig(ctx context.Context, agentID string) (*models.AgentDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRowContext(ctx, `
		SELECT role, capabilities, model_preference FROM agent_configs WHERE agent_id = ?
	`, agentID)

	var role, caps string
	var prefs sql.NullString
	err := row.Scan(&role, &caps, &prefs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent config %s: %w", agentID, err)
	}

	desc := &models.AgentDescriptor{Role: role}
	if err := json.Unmarshal([]byte(caps), &desc.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities for %s: %w", agentID, err)
	}
	if prefs.Valid && prefs.String != "" {
		if err := json.Unmarshal([]byte(prefs.String), &desc.ModelPreference); err != nil {
			return nil, fmt.Errorf("decode model preference for %s: %w", agentID, err)
		}
	}
	return desc, nil
}

// PurgeOldResults deletes task results completed before the cutoff.
// Returns the number of rows deleted.
func (s *Store) PurgeOldResults(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.conn.ExecContext(ctx, `
		DELETE FROM task_results WHERE completed_at IS NOT NULL AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old results: %w", err)
	}
	return result.RowsAffected()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
