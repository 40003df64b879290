package intake

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apomarinov/workio/internal/store"
	"go.uber.org/zap"
)

// processEventLocked runs the per-event pipeline: save the raw hook, resolve
// project/session state, and notify listeners. It must be called with dbMu
// held, so that the writes of concurrent hook connections never interleave.
// Each store call commits on its own: an error part-way through leaves the
// earlier writes of this event in place.
func (d *Daemon) processEventLocked(ctx context.Context, event hookEvent, raw json.RawMessage, terminalIDStr, shellID string) error {
	projectPath := deriveProjectPath(event.TranscriptPath)
	if projectPath == "" {
		projectPath = event.Cwd
	}

	if err := d.store.SaveHook(ctx, event.SessionID, event.HookEventName, raw); err != nil {
		return err
	}

	status, ok := statusForHook(event)

	projectID, err := d.store.UpsertProject(ctx, projectPath)
	if err != nil {
		return err
	}

	var terminalID *int
	if terminalIDStr != "" {
		if n, err := strconv.Atoi(terminalIDStr); err == nil {
			terminalID = &n
		}
	}
	var shellIDPtr *string
	if shellID != "" {
		shellIDPtr = &shellID
	}

	if ok {
		if err := d.store.UpsertSession(ctx, event.SessionID, projectID, status, event.TranscriptPath, terminalID, shellIDPtr); err != nil {
			return err
		}
	}

	if event.HookEventName == hookSessionStart {
		if err := d.cleanStaleSessions(ctx, projectID, event.SessionID); err != nil {
			return err
		}
		if _, err := d.store.CreatePrompt(ctx, event.SessionID, nil); err != nil {
			return err
		}
	}

	if event.HookEventName == hookSessionStart || event.HookEventName == hookUserPromptSubmit {
		storedPath, err := d.store.GetSessionProjectPath(ctx, event.SessionID)
		if err != nil || storedPath == "" {
			storedPath = projectPath
		}
		d.updateSessionFromIndex(ctx, storedPath, event.SessionID)
	}

	if event.HookEventName == hookUserPromptSubmit {
		if _, err := d.store.CreatePrompt(ctx, event.SessionID, &event.Prompt); err != nil {
			return err
		}
		if err := d.store.UpdateSessionNameIfEmpty(ctx, event.SessionID, event.Prompt); err != nil {
			return err
		}
	}

	payload := store.HookNotification{
		SessionID:   event.SessionID,
		HookType:    event.HookEventName,
		Status:      string(status),
		ProjectPath: projectPath,
		TerminalID:  terminalID,
	}
	if err := d.store.Notify(ctx, store.ChannelHook, payload); err != nil {
		d.log.WithError(err).Warn("failed to publish hook notification")
	}

	return nil
}

// cleanStaleSessions deletes any session still in "started" status for this
// project other than the one just (re)started, and publishes
// sessions_deleted if anything was removed.
func (d *Daemon) cleanStaleSessions(ctx context.Context, projectID, currentSessionID string) error {
	ids, err := d.store.GetStaleSessionIDs(ctx, projectID, currentSessionID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := d.store.DeleteSessionsCascade(ctx, ids); err != nil {
		return err
	}
	payload := store.SessionsDeletedNotification{SessionIDs: ids}
	if err := d.store.Notify(ctx, store.ChannelSessionsDeleted, payload); err != nil {
		d.log.WithError(err).Warn("failed to publish sessions_deleted")
	}
	return nil
}

// statusForHook maps a hook event onto the session status state machine.
func statusForHook(event hookEvent) (store.SessionStatus, bool) {
	switch event.HookEventName {
	case hookSessionStart:
		return store.StatusStarted, true
	case hookUserPromptSubmit, hookPreToolUse, hookPostToolUse:
		return store.StatusActive, true
	case hookStop:
		return store.StatusDone, true
	case hookSessionEnd:
		return store.StatusEnded, true
	case hookNotification:
		switch event.NotificationType {
		case notificationPermissionPrompt:
			return store.StatusPermissionNeeded, true
		case notificationIdlePrompt:
			return store.StatusIdle, true
		}
	}
	return "", false
}

// deriveProjectPath recovers the project's filesystem path from a
// transcript path's parent directory, which the CLI names by replacing
// every "/" in the real path with "-"
// (".../projects/-Users-apo-code-workio/xxx.jsonl" -> "/Users/apo/code/workio").
// It returns "" for a transcript path whose parent directory isn't a
// plausibly-encoded absolute path (root, ".", or no "-" separator at all),
// so the caller falls back to the event's cwd.
func deriveProjectPath(transcriptPath string) string {
	if transcriptPath == "" {
		return ""
	}
	encoded := filepath.Base(filepath.Dir(transcriptPath))
	if encoded == "" || encoded == "." || encoded == string(filepath.Separator) {
		return ""
	}
	if !strings.Contains(encoded, "-") {
		return ""
	}
	return strings.ReplaceAll(encoded, "-", "/")
}

func (d *Daemon) updateSessionFromIndex(ctx context.Context, projectPath, sessionID string) {
	entry, err := readSessionIndexEntry(projectPath, sessionID)
	if err != nil || entry == nil {
		return
	}
	name := entry.CustomTitle
	if name == "" {
		name = entry.FirstPrompt
	}
	var namePtr *string
	if name != "" {
		namePtr = &name
	}
	var countPtr *int
	if entry.MessageCount != 0 {
		countPtr = &entry.MessageCount
	}
	if err := d.store.UpdateSessionMetadata(ctx, sessionID, namePtr, countPtr); err != nil {
		d.log.WithError(err).Warn("failed to update session metadata from index", zap.String("session_id", sessionID))
	}
}
