package store

import (
	"context"
	"encoding/json"
)

// Store defines the typed operations over the relational schema. Every
// state-changing operation commits its own transaction; the interface offers
// no way to group several operations into one caller-managed transaction.
type Store interface {
	// Project operations
	UpsertProject(ctx context.Context, path string) (string, error)

	// Session operations
	UpsertSession(ctx context.Context, id, projectID string, status SessionStatus, transcriptPath string, terminalID *int, shellID *string) error
	UpdateSessionMetadata(ctx context.Context, id string, name *string, messageCount *int) error
	UpdateSessionNameIfEmpty(ctx context.Context, id, name string) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionProjectPath(ctx context.Context, id string) (string, error)
	GetStaleSessionIDs(ctx context.Context, projectID, exceptSessionID string) ([]string, error)
	DeleteSessionsCascade(ctx context.Context, ids []string) error
	UpdateProjectPathBySession(ctx context.Context, sessionID, path string) error

	// Prompt operations
	CreatePrompt(ctx context.Context, sessionID string, body *string) (string, error)
	GetLatestPrompt(ctx context.Context, sessionID string) (*Prompt, error)
	UpdatePromptText(ctx context.Context, id string, body string) error

	// Message operations
	MessageExists(ctx context.Context, uuid string) (bool, error)
	CreateMessage(ctx context.Context, promptID, uuid string, body *string, thinking, user bool, tools json.RawMessage, todoID *string, images []Image) (string, error)
	UpsertTodoMessage(ctx context.Context, sessionID, promptID, uuid string, tools json.RawMessage, todos []TodoItem, stateKey string) (id, todoID string, isNew, stateChanged bool, err error)
	GetLatestUserMessage(ctx context.Context, promptID string) (*Message, error)

	// Telemetry
	SaveHook(ctx context.Context, sessionID, kind string, payload json.RawMessage) error
	Log(ctx context.Context, message string, fields map[string]any) error

	// Pub/sub
	Notify(ctx context.Context, channel string, payload any) error

	// Settings
	GetFavoriteSessionIDs(ctx context.Context) ([]string, error)

	// Sweeper support
	CloseStaleSessions(ctx context.Context, inactiveSince int64) ([]string, error)
	DeleteEmptySessions(ctx context.Context, excludeIDs []string) ([]string, error)
	DeleteOrphanProjects(ctx context.Context) error
	DeleteOrphanPrompts(ctx context.Context) error
	DeleteOldLogsAndHooks(ctx context.Context, olderThanSeconds int64) error
	HasRecentCleanup(ctx context.Context, kind CleanupKind, withinSeconds int64) (bool, error)
	RecordCleanup(ctx context.Context, kind CleanupKind) error

	Close()
}

// TodoItem is one entry of a TodoWrite tool call's todos array.
type TodoItem struct {
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
}
