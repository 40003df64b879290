package intake

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apomarinov/workio/internal/config"
	"github.com/apomarinov/workio/internal/logger"
	"github.com/apomarinov/workio/internal/store"
)

func TestDeriveProjectPath(t *testing.T) {
	got := deriveProjectPath("/Users/apo/.claude/projects/-Users-apo-code-workio/abc.jsonl")
	assert.Equal(t, "/Users/apo/code/workio", got)
}

func TestDeriveProjectPath_Empty(t *testing.T) {
	assert.Equal(t, "", deriveProjectPath(""))
}

func TestStatusForHook(t *testing.T) {
	cases := []struct {
		event  hookEvent
		want   store.SessionStatus
		wantOK bool
	}{
		{hookEvent{HookEventName: hookSessionStart}, store.StatusStarted, true},
		{hookEvent{HookEventName: hookUserPromptSubmit}, store.StatusActive, true},
		{hookEvent{HookEventName: hookPreToolUse}, store.StatusActive, true},
		{hookEvent{HookEventName: hookStop}, store.StatusDone, true},
		{hookEvent{HookEventName: hookSessionEnd}, store.StatusEnded, true},
		{hookEvent{HookEventName: hookNotification, NotificationType: notificationPermissionPrompt}, store.StatusPermissionNeeded, true},
		{hookEvent{HookEventName: hookNotification, NotificationType: notificationIdlePrompt}, store.StatusIdle, true},
		{hookEvent{HookEventName: hookNotification, NotificationType: "unknown"}, "", false},
		{hookEvent{HookEventName: "SubagentStop"}, "", false},
	}
	for _, c := range cases {
		got, ok := statusForHook(c.event)
		assert.Equal(t, c.want, got)
		assert.Equal(t, c.wantOK, ok)
	}
}

// Scenario 1 (partial): a SessionStart event upserts the project and
// session, and creates the initial empty prompt.
func TestProcessEventLocked_SessionStart(t *testing.T) {
	st := store.NewMemoryStore()
	d := New(testDaemonConfig(), testReconcileConfig(), st, logger.Default())

	event := hookEvent{
		SessionID:      "s1",
		TranscriptPath: "/home/u/.claude/projects/-home-u-code-app/t.jsonl",
		HookEventName:  hookSessionStart,
	}
	raw, _ := json.Marshal(event)

	require.NoError(t, d.processEventLocked(context.Background(), event, raw, "", ""))

	sess, err := st.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusStarted, sess.Status)

	prompt, err := st.GetLatestPrompt(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, prompt)
	assert.Nil(t, prompt.Body)
}

// A SessionStart for a second session in the same project deletes any
// session still in "started" status for that project.
func TestProcessEventLocked_SessionStart_CleansStaleSessions(t *testing.T) {
	st := store.NewMemoryStore()
	d := New(testDaemonConfig(), testReconcileConfig(), st, logger.Default())
	ctx := context.Background()

	first := hookEvent{SessionID: "s1", TranscriptPath: "/h/.claude/projects/-h-app/t.jsonl", HookEventName: hookSessionStart}
	raw1, _ := json.Marshal(first)
	require.NoError(t, d.processEventLocked(ctx, first, raw1, "", ""))

	second := hookEvent{SessionID: "s2", TranscriptPath: "/h/.claude/projects/-h-app/t.jsonl", HookEventName: hookSessionStart}
	raw2, _ := json.Marshal(second)
	require.NoError(t, d.processEventLocked(ctx, second, raw2, "", ""))

	_, err := st.GetSession(ctx, "s1")
	assert.Error(t, err, "stale started session should have been cascade-deleted")

	sess2, err := st.GetSession(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, store.StatusStarted, sess2.Status)
}

// UserPromptSubmit creates a new prompt carrying the submitted text and
// names the session from it when no name is set yet.
func TestProcessEventLocked_UserPromptSubmit(t *testing.T) {
	st := store.NewMemoryStore()
	d := New(testDaemonConfig(), testReconcileConfig(), st, logger.Default())
	ctx := context.Background()

	start := hookEvent{SessionID: "s1", TranscriptPath: "/h/.claude/projects/-h-app/t.jsonl", HookEventName: hookSessionStart}
	raw, _ := json.Marshal(start)
	require.NoError(t, d.processEventLocked(ctx, start, raw, "", ""))

	prompt := hookEvent{SessionID: "s1", TranscriptPath: "/h/.claude/projects/-h-app/t.jsonl", HookEventName: hookUserPromptSubmit, Prompt: "fix the bug"}
	rawPrompt, _ := json.Marshal(prompt)
	require.NoError(t, d.processEventLocked(ctx, prompt, rawPrompt, "", ""))

	latest, err := st.GetLatestPrompt(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, latest.Body)
	assert.Equal(t, "fix the bug", *latest.Body)

	sess, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "fix the bug", sess.Name)
}

func testDaemonConfig() config.DaemonConfig {
	return config.DaemonConfig{}
}

func testReconcileConfig() config.ReconcileConfig {
	return config.ReconcileConfig{DebounceSeconds: 1, LockWaitSeconds: 1, StaleLockMultiple: 3}
}
