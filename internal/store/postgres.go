package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/apomarinov/workio/internal/apperr"
	"github.com/apomarinov/workio/internal/database"
)

// PostgresStore implements Store against a PostgreSQL schema of
// projects, sessions, prompts, messages, hooks, logs, cleans, settings.
// It assumes the schema already exists; DDL provisioning is out of scope
// (see schema.go for the documented table shapes).
type PostgresStore struct {
	db *database.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an already-connected database.DB.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// UpsertProject inserts the project if the path is new, otherwise returns
// the existing id. Projects are created on first reference.
func (s *PostgresStore) UpsertProject(ctx context.Context, path string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO projects (id, path)
		VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET path = EXCLUDED.path
		RETURNING id
	`, uuid.New().String(), path).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert project: %w", err)
	}
	return id, nil
}

// UpsertSession creates a session or updates its status/transcript path;
// project_id is written only on insert (P2: project-id immutability).
// terminal_id and shell_id coalesce-preserve: a nil argument never clobbers
// an existing non-null value.
func (s *PostgresStore) UpsertSession(ctx context.Context, id, projectID string, status SessionStatus, transcriptPath string, terminalID *int, shellID *string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (id, project_id, status, transcript_path, terminal_id, shell_id, name, message_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', 0, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			transcript_path = EXCLUDED.transcript_path,
			terminal_id = COALESCE(EXCLUDED.terminal_id, sessions.terminal_id),
			shell_id = COALESCE(EXCLUDED.shell_id, sessions.shell_id),
			updated_at = now()
	`, id, projectID, string(status), transcriptPath, terminalID, shellID)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// UpdateSessionMetadata sets name/message_count when non-nil, per the
// "null inputs preserve existing" contract.
func (s *PostgresStore) UpdateSessionMetadata(ctx context.Context, id string, name *string, messageCount *int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET
			name = COALESCE($2, name),
			message_count = COALESCE($3, message_count),
			updated_at = now()
		WHERE id = $1
	`, id, name, messageCount)
	if err != nil {
		return fmt.Errorf("update session metadata: %w", err)
	}
	return nil
}

// UpdateSessionNameIfEmpty sets name only when the current value is empty,
// truncating to 200 characters.
func (s *PostgresStore) UpdateSessionNameIfEmpty(ctx context.Context, id, name string) error {
	if r := []rune(name); len(r) > 200 {
		name = string(r[:200])
	}
	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET name = $2, updated_at = now()
		WHERE id = $1 AND (name IS NULL OR name = '')
	`, id, name)
	if err != nil {
		return fmt.Errorf("update session name if empty: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT id, project_id, status, transcript_path, terminal_id, shell_id, name, message_count, created_at, updated_at
		FROM sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.ProjectID, &status, &sess.TranscriptPath, &sess.TerminalID, &sess.ShellID, &sess.Name, &sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Status = SessionStatus(status)
	return &sess, nil
}

// GetSessionProjectPath returns the project path for a session via its
// write-once project_id, so it remains stable even after cwd changes
// mid-session.
func (s *PostgresStore) GetSessionProjectPath(ctx context.Context, id string) (string, error) {
	var path string
	err := s.db.QueryRow(ctx, `
		SELECT p.path FROM sessions s JOIN projects p ON p.id = s.project_id WHERE s.id = $1
	`, id).Scan(&path)
	if err == pgx.ErrNoRows {
		return "", apperr.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get session project path: %w", err)
	}
	return path, nil
}

// GetStaleSessionIDs returns sessions still in "started" for this project
// other than exceptSessionID, used to clean up abandoned prior sessions
// when a new one begins.
func (s *PostgresStore) GetStaleSessionIDs(ctx context.Context, projectID, exceptSessionID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM sessions WHERE project_id = $1 AND status = $2 AND id != $3
	`, projectID, string(StatusStarted), exceptSessionID)
	if err != nil {
		return nil, fmt.Errorf("get stale session ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSessionsCascade removes messages, prompts, hooks, then sessions for
// the given ids, all inside one transaction.
func (s *PostgresStore) DeleteSessionsCascade(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE prompt_id IN (SELECT id FROM prompts WHERE session_id = ANY($1))`, ids); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM prompts WHERE session_id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("delete prompts: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM hooks WHERE session_id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("delete hooks: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		return nil
	})
}

// UpdateProjectPathBySession is defined per the store adapter's operation
// list but, matching the observed source, is never called by any component
// in this tree (see the design notes' open question on this function).
func (s *PostgresStore) UpdateProjectPathBySession(ctx context.Context, sessionID, path string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE projects SET path = $2
		WHERE id = (SELECT project_id FROM sessions WHERE id = $1)
	`, sessionID, path)
	if err != nil {
		return fmt.Errorf("update project path by session: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePrompt(ctx context.Context, sessionID string, body *string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(ctx, `
		INSERT INTO prompts (id, session_id, body, created_at) VALUES ($1, $2, $3, now())
	`, id, sessionID, body)
	if err != nil {
		return "", fmt.Errorf("create prompt: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetLatestPrompt(ctx context.Context, sessionID string) (*Prompt, error) {
	var p Prompt
	err := s.db.QueryRow(ctx, `
		SELECT id, session_id, body, created_at FROM prompts
		WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1
	`, sessionID).Scan(&p.ID, &p.SessionID, &p.Body, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest prompt: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) UpdatePromptText(ctx context.Context, id string, body string) error {
	_, err := s.db.Exec(ctx, `UPDATE prompts SET body = $2 WHERE id = $1`, id, body)
	if err != nil {
		return fmt.Errorf("update prompt text: %w", err)
	}
	return nil
}

func (s *PostgresStore) MessageExists(ctx context.Context, uuidStr string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE uuid = $1)`, uuidStr).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return exists, nil
}

// CreateMessage inserts a message keyed by its external uuid. A uuid
// collision (P1: idempotence) is treated as already-ingested and is a no-op.
func (s *PostgresStore) CreateMessage(ctx context.Context, promptID, uuidStr string, body *string, thinking, user bool, tools json.RawMessage, todoID *string, images []Image) (string, error) {
	id := uuid.New().String()
	var imagesJSON []byte
	if len(images) > 0 {
		var err error
		imagesJSON, err = json.Marshal(images)
		if err != nil {
			return "", fmt.Errorf("marshal images: %w", err)
		}
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO messages (id, prompt_id, uuid, body, thinking, "user", tools, todo_id, images, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (uuid) DO NOTHING
		RETURNING id
	`, id, promptID, uuidStr, body, thinking, user, nullableRaw(tools), todoID, nullableRaw(imagesJSON)).Scan(&id)
	if err == pgx.ErrNoRows {
		// Already ingested under this uuid; look up the existing id.
		if getErr := s.db.QueryRow(ctx, `SELECT id FROM messages WHERE uuid = $1`, uuidStr).Scan(&id); getErr != nil {
			return "", fmt.Errorf("create message (lookup after conflict): %w", getErr)
		}
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	return id, nil
}

// UpsertTodoMessage implements the todo-identity/state-key dedup described
// in P3: one row per (session_id, todo_id); the payload is replaced in
// place when the state_key (status vector) changes.
func (s *PostgresStore) UpsertTodoMessage(ctx context.Context, sessionID, promptID, uuidStr string, tools json.RawMessage, todos []TodoItem, stateKey string) (string, string, bool, bool, error) {
	todoID := TodoIdentity(sessionID, todos)

	var id, existingStateKey string
	var isNew, stateChanged bool

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id, state_key FROM messages WHERE todo_id = $1
		`, todoID).Scan(&id, &existingStateKey)

		switch err {
		case pgx.ErrNoRows:
			isNew = true
			id = uuid.New().String()
			_, insErr := tx.Exec(ctx, `
				INSERT INTO messages (id, prompt_id, uuid, body, thinking, "user", tools, todo_id, state_key, created_at)
				VALUES ($1, $2, $3, NULL, false, false, $4, $5, $6, now())
			`, id, promptID, uuidStr, tools, todoID, stateKey)
			if insErr != nil {
				return fmt.Errorf("insert todo message: %w", insErr)
			}
			stateChanged = true
			return nil
		case nil:
			stateChanged = existingStateKey != stateKey
			_, updErr := tx.Exec(ctx, `
				UPDATE messages SET tools = $2, state_key = $3 WHERE id = $1
			`, id, tools, stateKey)
			if updErr != nil {
				return fmt.Errorf("update todo message: %w", updErr)
			}
			return nil
		default:
			return fmt.Errorf("lookup todo message: %w", err)
		}
	})
	if err != nil {
		return "", "", false, false, err
	}
	return id, todoID, isNew, stateChanged, nil
}

func (s *PostgresStore) GetLatestUserMessage(ctx context.Context, promptID string) (*Message, error) {
	var m Message
	var toolsRaw []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, prompt_id, uuid, body, thinking, "user", tools, todo_id, created_at
		FROM messages WHERE prompt_id = $1 AND "user" = true
		ORDER BY created_at DESC LIMIT 1
	`, promptID).Scan(&m.ID, &m.PromptID, &m.UUID, &m.Body, &m.Thinking, &m.User, &toolsRaw, &m.TodoID, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest user message: %w", err)
	}
	m.ToolJSON = toolsRaw
	return &m, nil
}

func (s *PostgresStore) SaveHook(ctx context.Context, sessionID, kind string, payload json.RawMessage) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO hooks (id, session_id, kind, payload, created_at) VALUES ($1, $2, $3, $4, now())
	`, uuid.New().String(), sessionID, kind, payload)
	if err != nil {
		return fmt.Errorf("save hook: %w", err)
	}
	return nil
}

func (s *PostgresStore) Log(ctx context.Context, message string, fields map[string]any) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		fieldsJSON = []byte("{}")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO logs (id, message, fields, created_at) VALUES ($1, $2, $3, now())
	`, uuid.New().String(), message, fieldsJSON)
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Notify issues pg_notify on a connection taken from the pool, outside any
// transaction, so the notification is delivered as soon as the statement
// runs. It does not join a caller's transaction: the store's writes each
// commit on their own, and callers invoke Notify after those writes.
func (s *PostgresStore) Notify(ctx context.Context, channel string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}
	_, err = s.db.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, string(body))
	if err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

func (s *PostgresStore) GetFavoriteSessionIDs(ctx context.Context) ([]string, error) {
	var configRaw []byte
	err := s.db.QueryRow(ctx, `SELECT config FROM settings LIMIT 1`).Scan(&configRaw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get favorite session ids: %w", err)
	}
	var settings Settings
	if err := json.Unmarshal(configRaw, &settings); err != nil {
		return nil, nil
	}
	return settings.FavoriteSessions, nil
}

func (s *PostgresStore) CloseStaleSessions(ctx context.Context, inactiveSince int64) ([]string, error) {
	cutoff := time.Now().Add(-time.Duration(inactiveSince) * time.Second)
	rows, err := s.db.Query(ctx, `
		UPDATE sessions SET status = $1, updated_at = now()
		WHERE status IN ($2, $3, $4) AND updated_at < $5
		RETURNING id
	`, string(StatusEnded), string(StatusStarted), string(StatusActive), string(StatusPermissionNeeded), cutoff)
	if err != nil {
		return nil, fmt.Errorf("close stale sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteEmptySessions removes sessions with no messages and at most one
// null-body prompt, excluding favorites (P8/P10).
func (s *PostgresStore) DeleteEmptySessions(ctx context.Context, excludeIDs []string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT s.id FROM sessions s
		WHERE NOT (s.id = ANY($1))
		AND NOT EXISTS (SELECT 1 FROM messages m JOIN prompts p ON p.id = m.prompt_id WHERE p.session_id = s.id)
		AND (SELECT COUNT(*) FROM prompts p WHERE p.session_id = s.id AND p.body IS NOT NULL) = 0
		AND (SELECT COUNT(*) FROM prompts p WHERE p.session_id = s.id) <= 1
	`, excludeIDs)
	if err != nil {
		return nil, fmt.Errorf("find empty sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.DeleteSessionsCascade(ctx, ids); err != nil {
		return nil, fmt.Errorf("delete empty sessions: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) DeleteOrphanProjects(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM projects WHERE NOT EXISTS (SELECT 1 FROM sessions WHERE sessions.project_id = projects.id)
	`)
	if err != nil {
		return fmt.Errorf("delete orphan projects: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteOrphanPrompts(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM prompts WHERE NOT EXISTS (SELECT 1 FROM sessions WHERE sessions.id = prompts.session_id)
	`)
	if err != nil {
		return fmt.Errorf("delete orphan prompts: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteOldLogsAndHooks(ctx context.Context, olderThanSeconds int64) error {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM logs WHERE created_at < $1`, cutoff); err != nil {
			return fmt.Errorf("delete old logs: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM hooks WHERE created_at < $1`, cutoff); err != nil {
			return fmt.Errorf("delete old hooks: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) HasRecentCleanup(ctx context.Context, kind CleanupKind, withinSeconds int64) (bool, error) {
	cutoff := time.Now().Add(-time.Duration(withinSeconds) * time.Second)
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM cleans WHERE kind = $1 AND created_at >= $2)
	`, string(kind), cutoff).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has recent cleanup: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) RecordCleanup(ctx context.Context, kind CleanupKind) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO cleans (id, kind, created_at) VALUES ($1, $2, now())
	`, uuid.New().String(), string(kind))
	if err != nil {
		return fmt.Errorf("record cleanup: %w", err)
	}
	return nil
}

func nullableRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// TodoIdentity computes the content-addressed todo identity described by
// P3: stable across tool-use-id, prompt-id, todo order, and reprocessing.
func TodoIdentity(sessionID string, todos []TodoItem) string {
	contents := make([]string, len(todos))
	for i, t := range todos {
		contents[i] = t.Content
	}
	sort.Strings(contents)
	return md5Hex(sessionID + "|" + strings.Join(contents, "|"))
}

// StateKey computes the change-detection hash over a todo list's status
// vector, independent of content.
func StateKey(todos []TodoItem) string {
	statuses := make([]string, len(todos))
	for i, t := range todos {
		statuses[i] = t.Status
	}
	return md5Hex(strings.Join(statuses, "|"))
}
