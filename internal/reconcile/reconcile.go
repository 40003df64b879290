// Package reconcile implements the per-session debounced worker: it
// coalesces bursts of hook-triggered wakeups into a single pass over the
// transcript, guarded by filesystem marker/lock files so that concurrent
// invocations for the same session never interleave.
package reconcile

import (
	"context"
	"time"

	"github.com/apomarinov/workio/internal/logger"
	"github.com/apomarinov/workio/internal/store"
)

// Options configures one Run invocation.
type Options struct {
	DebounceDir  string
	DebounceWait time.Duration
	StaleAfter   time.Duration
	WaitInterval time.Duration

	// Sleep and Now are injectable so tests can run the algorithm without
	// real time passing.
	Sleep func(time.Duration)
	Now   func() time.Time
}

func (o Options) sleep(d time.Duration) {
	if o.Sleep != nil {
		o.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Run executes one debounced reconciliation pass for a
// (sessionID, eventTimestamp) invocation. It returns nil both when the pass
// completes successfully and
// when it exits early because a younger worker supersedes this one — the
// latter is the expected steady-state outcome under a burst, not a failure.
func Run(ctx context.Context, log *logger.Logger, st store.Store, opts Options, sessionID string, eventTimestamp time.Time) error {
	log = log.WithSessionID(sessionID)

	// Step 1: debounce sleep.
	opts.sleep(opts.DebounceWait)

	// Step 2: read marker.
	m, err := readMarker(opts.DebounceDir, sessionID)
	if err != nil {
		log.WithError(err).Warn("reconcile: marker missing or malformed, exiting")
		return nil
	}

	// Step 3-4: supersession check.
	isLatest := m.Latest.Equal(eventTimestamp)
	debounceExpired := opts.now().Sub(m.Start) >= opts.DebounceWait
	if !isLatest && !debounceExpired {
		log.Debug("reconcile: superseded by a later event, exiting")
		return nil
	}
	observedLatest := m.Latest

	// Step 5-6: lock acquisition.
	if err := acquireLock(opts.DebounceDir, sessionID, opts.StaleAfter, opts.WaitInterval, opts.now, func(msg string) {
		log.Debug(msg)
	}); err != nil {
		log.WithError(err).Error("reconcile: failed to acquire lock")
		return err
	}

	unlock := func() {
		if err := releaseLock(opts.DebounceDir, sessionID); err != nil {
			log.WithError(err).Warn("reconcile: failed to release lock")
		}
	}

	// Step 7: re-check marker existence now that the lock is held.
	if !markerExists(opts.DebounceDir, sessionID) {
		unlock()
		log.Debug("reconcile: marker gone, another worker already completed")
		return nil
	}

	sess, err := st.GetSession(ctx, sessionID)
	if err != nil {
		unlock()
		log.WithError(err).Error("reconcile: failed to load session")
		return err
	}

	// Step 8: process the transcript.
	changed, procErr := processTranscript(ctx, st, sessionID, sess.TranscriptPath)
	if procErr != nil {
		unlock()
		_ = st.Log(ctx, "reconcile failed", map[string]any{"session_id": sessionID, "error": procErr.Error()})
		log.WithError(procErr).Error("reconcile: process_transcript failed, marker left intact for retry")
		return procErr
	}

	// Step 9: only delete the marker if it hasn't advanced since step 3.
	if current, err := readMarker(opts.DebounceDir, sessionID); err == nil && current.Latest.Equal(observedLatest) {
		if err := deleteMarker(opts.DebounceDir, sessionID); err != nil {
			log.WithError(err).Warn("reconcile: failed to delete marker")
		}
	} else {
		log.Debug("reconcile: marker advanced during processing, leaving for newer worker")
	}

	// Step 10: release lock.
	unlock()

	// Step 11: publish session_update if anything changed.
	if len(changed) > 0 {
		payload := store.SessionUpdateNotification{SessionID: sessionID, MessageIDs: changed}
		if err := st.Notify(ctx, store.ChannelSessionUpdate, payload); err != nil {
			log.WithError(err).Warn("reconcile: failed to publish session_update")
		}
	}

	return nil
}
