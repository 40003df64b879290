// Package store provides typed operations over the relational schema that
// backs session telemetry: projects, sessions, prompts, messages, hooks,
// logs, cleanup throttle rows, and settings.
package store

import (
	"encoding/json"
	"time"
)

// SessionStatus is one of the states in the session lifecycle state machine.
type SessionStatus string

const (
	StatusStarted         SessionStatus = "started"
	StatusActive          SessionStatus = "active"
	StatusDone            SessionStatus = "done"
	StatusEnded           SessionStatus = "ended"
	StatusPermissionNeeded SessionStatus = "permission_needed"
	StatusIdle            SessionStatus = "idle"
)

// Project is a unique filesystem path a session was created under.
type Project struct {
	ID   string
	Path string
}

// Session tracks one coding-assistant session's lifecycle.
type Session struct {
	ID             string
	ProjectID      string
	Status         SessionStatus
	TranscriptPath string
	TerminalID     *int
	ShellID        *string
	Name           string
	MessageCount   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Prompt is an ordered child of a session; Body is nil until filled.
type Prompt struct {
	ID        string
	SessionID string
	Body      *string
	CreatedAt time.Time
}

// Image is a base64-encoded image attached to a message.
type Image struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Message is a child of a prompt, identified by an external uuid unique
// across all messages.
type Message struct {
	ID        string
	PromptID  string
	UUID      string
	Body      *string
	Thinking  bool
	User      bool
	ToolJSON  json.RawMessage
	TodoID    *string
	Images    []Image
	CreatedAt time.Time
}

// CleanupKind names a sweeper sub-task for throttle bookkeeping.
type CleanupKind string

const (
	CleanupData  CleanupKind = "data"
	CleanupLocks CleanupKind = "locks"
)

// Settings is the single-row JSON configuration document.
type Settings struct {
	FavoriteSessions []string `json:"favorite_sessions"`
}

// Notification channel names, per the external interface.
const (
	ChannelHook            = "hook"
	ChannelSessionUpdate   = "session_update"
	ChannelSessionsDeleted = "sessions_deleted"
)

// HookNotification is the payload published on ChannelHook.
type HookNotification struct {
	SessionID   string  `json:"session_id"`
	HookType    string  `json:"hook_type"`
	Status      string  `json:"status,omitempty"`
	ProjectPath string  `json:"project_path"`
	TerminalID  *int    `json:"terminal_id"`
}

// SessionUpdateNotification is the payload published on ChannelSessionUpdate.
type SessionUpdateNotification struct {
	SessionID  string   `json:"session_id"`
	MessageIDs []string `json:"message_ids"`
}

// SessionsDeletedNotification is the payload published on ChannelSessionsDeleted.
type SessionsDeletedNotification struct {
	SessionIDs []string `json:"session_ids"`
}
