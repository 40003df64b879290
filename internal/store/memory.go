package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apomarinov/workio/internal/apperr"
)

// MemoryStore is an in-memory Store used by tests and by any caller that
// does not want a live PostgreSQL connection. It preserves the same
// invariants as PostgresStore (project-id immutability, uuid idempotence,
// todo-identity dedup) but keeps no durability across process restarts.
type MemoryStore struct {
	mu sync.Mutex

	projectsByPath map[string]string
	projects       map[string]*Project
	sessions       map[string]*Session
	prompts        map[string]*Prompt
	messages       map[string]*Message
	messagesByUUID map[string]string
	todoIndex      map[string]string // todo_id -> message id
	hooks          []hookRow
	logs           []logRow
	cleans         map[CleanupKind]time.Time
	settings       Settings
	notifications  []Notification

	// stateKeyByMessageID tracks each todo message's last-seen state key
	// out-of-band, since Message has no exported field for it (state_key
	// is a storage-layer concern, not part of the domain model).
	stateKeyByMessageID map[string]string
}

type hookRow struct {
	SessionID string
	Kind      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

type logRow struct {
	Message   string
	Fields    map[string]any
	CreatedAt time.Time
}

// Notification records a call to Notify, for tests to assert on.
type Notification struct {
	Channel string
	Payload any
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projectsByPath: make(map[string]string),
		projects:       make(map[string]*Project),
		sessions:       make(map[string]*Session),
		prompts:        make(map[string]*Prompt),
		messages:       make(map[string]*Message),
		messagesByUUID: make(map[string]string),
		todoIndex:      make(map[string]string),
		cleans:         make(map[CleanupKind]time.Time),

		stateKeyByMessageID: make(map[string]string),
	}
}

func (s *MemoryStore) Close() {}

// Notifications returns the notifications published so far, for test assertions.
func (s *MemoryStore) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// SetSettings replaces the settings row, for test setup.
func (s *MemoryStore) SetSettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func (s *MemoryStore) UpsertProject(_ context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.projectsByPath[path]; ok {
		return id, nil
	}
	id := uuid.New().String()
	s.projectsByPath[path] = id
	s.projects[id] = &Project{ID: id, Path: path}
	return id, nil
}

func (s *MemoryStore) UpsertSession(_ context.Context, id, projectID string, status SessionStatus, transcriptPath string, terminalID *int, shellID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.sessions[id]; ok {
		existing.Status = status
		existing.TranscriptPath = transcriptPath
		if terminalID != nil {
			existing.TerminalID = terminalID
		}
		if shellID != nil {
			existing.ShellID = shellID
		}
		existing.UpdatedAt = now
		return nil
	}
	s.sessions[id] = &Session{
		ID: id, ProjectID: projectID, Status: status, TranscriptPath: transcriptPath,
		TerminalID: terminalID, ShellID: shellID, CreatedAt: now, UpdatedAt: now,
	}
	return nil
}

func (s *MemoryStore) UpdateSessionMetadata(_ context.Context, id string, name *string, messageCount *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return apperr.ErrSessionNotFound
	}
	if name != nil {
		sess.Name = *name
	}
	if messageCount != nil {
		sess.MessageCount = *messageCount
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateSessionNameIfEmpty(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return apperr.ErrSessionNotFound
	}
	if sess.Name != "" {
		return nil
	}
	if r := []rune(name); len(r) > 200 {
		name = string(r[:200])
	}
	sess.Name = name
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperr.ErrSessionNotFound
	}
	copySess := *sess
	return &copySess, nil
}

func (s *MemoryStore) GetSessionProjectPath(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", apperr.ErrSessionNotFound
	}
	proj, ok := s.projects[sess.ProjectID]
	if !ok {
		return "", apperr.ErrSessionNotFound
	}
	return proj.Path, nil
}

func (s *MemoryStore) GetStaleSessionIDs(_ context.Context, projectID, exceptSessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.ProjectID == projectID && sess.Status == StatusStarted && id != exceptSessionID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) DeleteSessionsCascade(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	for pid, p := range s.prompts {
		if idSet[p.SessionID] {
			delete(s.prompts, pid)
		}
	}
	for mid, m := range s.messages {
		if _, ok := s.prompts[m.PromptID]; !ok {
			delete(s.messages, mid)
			delete(s.messagesByUUID, m.UUID)
			if m.TodoID != nil {
				delete(s.todoIndex, *m.TodoID)
			}
		}
	}
	kept := s.hooks[:0]
	for _, h := range s.hooks {
		if !idSet[h.SessionID] {
			kept = append(kept, h)
		}
	}
	s.hooks = kept
	for _, id := range ids {
		delete(s.sessions, id)
	}
	return nil
}

func (s *MemoryStore) UpdateProjectPathBySession(_ context.Context, sessionID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return apperr.ErrSessionNotFound
	}
	if proj, ok := s.projects[sess.ProjectID]; ok {
		proj.Path = path
	}
	return nil
}

func (s *MemoryStore) CreatePrompt(_ context.Context, sessionID string, body *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.prompts[id] = &Prompt{ID: id, SessionID: sessionID, Body: body, CreatedAt: time.Now().UTC()}
	return id, nil
}

func (s *MemoryStore) GetLatestPrompt(_ context.Context, sessionID string) (*Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Prompt
	for _, p := range s.prompts {
		if p.SessionID != sessionID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) UpdatePromptText(_ context.Context, id string, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok {
		return apperr.ErrSessionNotFound
	}
	p.Body = &body
	return nil
}

func (s *MemoryStore) MessageExists(_ context.Context, uuidStr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messagesByUUID[uuidStr]
	return ok, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, promptID, uuidStr string, body *string, thinking, user bool, tools json.RawMessage, todoID *string, images []Image) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.messagesByUUID[uuidStr]; ok {
		return existingID, nil
	}
	id := uuid.New().String()
	s.messages[id] = &Message{
		ID: id, PromptID: promptID, UUID: uuidStr, Body: body, Thinking: thinking, User: user,
		ToolJSON: tools, TodoID: todoID, Images: images, CreatedAt: time.Now().UTC(),
	}
	s.messagesByUUID[uuidStr] = id
	return id, nil
}

func (s *MemoryStore) UpsertTodoMessage(_ context.Context, sessionID, promptID, uuidStr string, tools json.RawMessage, todos []TodoItem, stateKey string) (string, string, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	todoID := TodoIdentity(sessionID, todos)

	if existingMsgID, ok := s.todoIndex[todoID]; ok {
		msg := s.messages[existingMsgID]
		changed := s.stateKeyByMessageID[msg.ID] != stateKey
		msg.ToolJSON = tools
		s.stateKeyByMessageID[msg.ID] = stateKey
		return msg.ID, todoID, false, changed, nil
	}

	id := uuid.New().String()
	msg := &Message{ID: id, PromptID: promptID, UUID: uuidStr, ToolJSON: tools, TodoID: &todoID, CreatedAt: time.Now().UTC()}
	s.stateKeyByMessageID[id] = stateKey
	s.messages[id] = msg
	s.messagesByUUID[uuidStr] = id
	s.todoIndex[todoID] = id
	return id, todoID, true, true, nil
}

func (s *MemoryStore) GetLatestUserMessage(_ context.Context, promptID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Message
	for _, m := range s.messages {
		if m.PromptID != promptID || !m.User {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) SaveHook(_ context.Context, sessionID, kind string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hookRow{SessionID: sessionID, Kind: kind, Payload: payload, CreatedAt: time.Now().UTC()})
	return nil
}

func (s *MemoryStore) Log(_ context.Context, message string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logRow{Message: message, Fields: fields, CreatedAt: time.Now().UTC()})
	return nil
}

func (s *MemoryStore) Notify(_ context.Context, channel string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, Notification{Channel: channel, Payload: payload})
	return nil
}

func (s *MemoryStore) GetFavoriteSessionIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.settings.FavoriteSessions...), nil
}

func (s *MemoryStore) CloseStaleSessions(_ context.Context, inactiveSince int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(inactiveSince) * time.Second)
	var ids []string
	for id, sess := range s.sessions {
		if (sess.Status == StatusStarted || sess.Status == StatusActive || sess.Status == StatusPermissionNeeded) && sess.UpdatedAt.Before(cutoff) {
			sess.Status = StatusEnded
			sess.UpdatedAt = time.Now().UTC()
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) DeleteEmptySessions(ctx context.Context, excludeIDs []string) ([]string, error) {
	s.mu.Lock()
	exclude := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = true
	}
	var ids []string
	for id, sess := range s.sessions {
		_ = sess
		if exclude[id] {
			continue
		}
		hasMessage := false
		nonNullPrompts := 0
		promptCount := 0
		for _, p := range s.prompts {
			if p.SessionID != id {
				continue
			}
			promptCount++
			if p.Body != nil {
				nonNullPrompts++
			}
		}
		for _, m := range s.messages {
			if p, ok := s.prompts[m.PromptID]; ok && p.SessionID == id {
				hasMessage = true
				break
			}
		}
		if !hasMessage && nonNullPrompts == 0 && promptCount <= 1 {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.DeleteSessionsCascade(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *MemoryStore) DeleteOrphanProjects(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	referenced := make(map[string]bool)
	for _, sess := range s.sessions {
		referenced[sess.ProjectID] = true
	}
	for id, p := range s.projects {
		if !referenced[id] {
			delete(s.projects, id)
			delete(s.projectsByPath, p.Path)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteOrphanPrompts(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.prompts {
		if _, ok := s.sessions[p.SessionID]; !ok {
			delete(s.prompts, id)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteOldLogsAndHooks(_ context.Context, olderThanSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	keptLogs := s.logs[:0]
	for _, l := range s.logs {
		if l.CreatedAt.After(cutoff) {
			keptLogs = append(keptLogs, l)
		}
	}
	s.logs = keptLogs
	keptHooks := s.hooks[:0]
	for _, h := range s.hooks {
		if h.CreatedAt.After(cutoff) {
			keptHooks = append(keptHooks, h)
		}
	}
	s.hooks = keptHooks
	return nil
}

func (s *MemoryStore) HasRecentCleanup(_ context.Context, kind CleanupKind, withinSeconds int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.cleans[kind]
	if !ok {
		return false, nil
	}
	return time.Since(last) < time.Duration(withinSeconds)*time.Second, nil
}

func (s *MemoryStore) RecordCleanup(_ context.Context, kind CleanupKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleans[kind] = time.Now().UTC()
	return nil
}
