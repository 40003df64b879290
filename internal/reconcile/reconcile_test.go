package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apomarinov/workio/internal/logger"
	"github.com/apomarinov/workio/internal/store"
)

func newTestSession(t *testing.T, st *store.MemoryStore, transcript string) string {
	t.Helper()
	ctx := context.Background()
	projectID, err := st.UpsertProject(ctx, "/tmp/project")
	require.NoError(t, err)
	sessionID := "sess-" + t.Name()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(transcript), 0o644))
	require.NoError(t, st.UpsertSession(ctx, sessionID, projectID, store.StatusActive, path, nil, nil))
	return sessionID
}

func testOptions(dir string) Options {
	return Options{
		DebounceDir:  dir,
		DebounceWait: 2 * time.Second,
		StaleAfter:   60 * time.Second,
		WaitInterval: time.Millisecond,
		Sleep:        func(time.Duration) {},
	}
}

const oneUserLine = `{"type":"user","uuid":"u1","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"hello there"}}` + "\n"

// P4: only the last event in a burst performs the reconciliation pass; an
// earlier, now-superseded invocation exits without processing.
func TestRun_LastEventWinsBurst(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st, oneUserLine)
	log := logger.Default()
	opts := testOptions(dir)

	t0 := time.Now()
	t1 := t0.Add(10 * time.Millisecond)
	_, err := touchMarker(dir, sessionID, t0)
	require.NoError(t, err)
	m, err := touchMarker(dir, sessionID, t1)
	require.NoError(t, err)
	require.True(t, m.Latest.Equal(t1))

	// The earlier invocation (t0) is no longer the latest, and the debounce
	// window (opts.DebounceWait) has not elapsed relative to start, so it
	// must exit having done nothing.
	opts.Now = func() time.Time { return t0.Add(time.Millisecond) }
	require.NoError(t, Run(context.Background(), log, st, opts, sessionID, t0))
	assert.True(t, markerExists(dir, sessionID), "superseded worker must not touch the marker")

	// The latest invocation (t1) proceeds and clears the marker.
	opts.Now = func() time.Time { return t1.Add(3 * time.Second) }
	require.NoError(t, Run(context.Background(), log, st, opts, sessionID, t1))
	assert.False(t, markerExists(dir, sessionID))
}

// P5 precondition: a hook arriving mid-reconciliation advances the marker
// past the timestamp the in-flight worker observed, which is what makes
// Run's step 9 leave the marker in place. This test checks the marker side
// only; it does not run a worker.
func TestTouchMarker_AdvancesPastObservedLatest(t *testing.T) {
	dir := t.TempDir()
	sessionID := "sess-inflight"
	t0 := time.Now()
	_, err := touchMarker(dir, sessionID, t0)
	require.NoError(t, err)

	observed, err := readMarker(dir, sessionID)
	require.NoError(t, err)

	// Simulate a new hook arriving while this worker is "inside" process_transcript.
	t1 := t0.Add(5 * time.Millisecond)
	_, err = touchMarker(dir, sessionID, t1)
	require.NoError(t, err)

	// Step 9's rule: delete only if marker.latest still equals observed.
	current, err := readMarker(dir, sessionID)
	require.NoError(t, err)
	assert.False(t, current.Latest.Equal(observed.Latest), "marker must have advanced")
}

// P6: five concurrent Run invocations for the same session, whose locked
// regions the lock file serializes, all finish without error and leave the
// marker cleared. The counter below spans each whole Run call, not the
// locked region, so the test does not observe the exclusion directly.
func TestRun_MutualExclusion(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st, oneUserLine)
	log := logger.Default()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	opts := testOptions(dir)
	opts.WaitInterval = time.Millisecond
	now := time.Now()
	opts.Now = func() time.Time { return now.Add(3 * time.Second) }

	track := func() func() {
		mu.Lock()
		inside++
		if inside > maxInside {
			maxInside = inside
		}
		mu.Unlock()
		return func() {
			mu.Lock()
			inside--
			mu.Unlock()
		}
	}

	_, err := touchMarker(dir, sessionID, now)
	require.NoError(t, err)
	latest, err := readMarker(dir, sessionID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := track()
			defer done()
			assert.NoError(t, Run(context.Background(), log, st, opts, sessionID, latest.Latest))
		}()
	}
	wg.Wait()

	// Whichever invocation takes the lock first clears the marker; the
	// others then find it gone (step 7) and return nil.
	assert.False(t, markerExists(dir, sessionID))
}

// A transcript holding one user message is reconciled end to end: the
// marker is cleared and a single session_update notification is published.
func TestRun_EndToEnd_UserMessageReconciled(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st, oneUserLine)
	log := logger.Default()

	opts := testOptions(dir)
	now := time.Now()
	opts.Now = func() time.Time { return now.Add(3 * time.Second) }

	_, err := touchMarker(dir, sessionID, now)
	require.NoError(t, err)
	m, err := readMarker(dir, sessionID)
	require.NoError(t, err)

	require.NoError(t, Run(context.Background(), log, st, opts, sessionID, m.Latest))
	assert.False(t, markerExists(dir, sessionID))

	notifications := st.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, store.ChannelSessionUpdate, notifications[0].Channel)
}

// Scenario 3: a sequence of TodoWrite tool calls within one transcript
// collapses to a single message per distinct todo set.
func TestRun_EndToEnd_TodoWriteSequenceCollapses(t *testing.T) {
	const transcript = `{"type":"assistant","uuid":"a1","timestamp":"2026-01-01T00:00:00Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu1","name":"TodoWrite","input":{"todos":[{"content":"a","status":"pending"}]}}]}}
{"type":"assistant","uuid":"a2","timestamp":"2026-01-01T00:00:01Z","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu2","name":"TodoWrite","input":{"todos":[{"content":"a","status":"in_progress"}]}}]}}
`
	dir := t.TempDir()
	st := store.NewMemoryStore()
	sessionID := newTestSession(t, st, transcript)
	log := logger.Default()

	opts := testOptions(dir)
	now := time.Now()
	opts.Now = func() time.Time { return now.Add(3 * time.Second) }

	_, err := touchMarker(dir, sessionID, now)
	require.NoError(t, err)
	m, err := readMarker(dir, sessionID)
	require.NoError(t, err)

	require.NoError(t, Run(context.Background(), log, st, opts, sessionID, m.Latest))

	notifications := st.Notifications()
	require.Len(t, notifications, 1)
	payload, ok := notifications[0].Payload.(store.SessionUpdateNotification)
	require.True(t, ok)
	assert.Len(t, payload.MessageIDs, 1, "only the final TodoWrite occurrence should produce a message")
}
