package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/apomarinov/workio/internal/logger"
	"github.com/apomarinov/workio/internal/store"
	"go.uber.org/zap"
)

// Scheduler dispatches one worker goroutine per (session_id, event_timestamp)
// invocation. It does not itself serialize runs for a given session — that
// is the marker/lock files' job — it only tracks in-flight goroutines so
// Wait can block for a clean shutdown.
type Scheduler struct {
	st   store.Store
	log  *logger.Logger
	opts Options

	wg sync.WaitGroup
}

// NewScheduler builds a Scheduler. opts is shared by every invocation.
func NewScheduler(st store.Store, log *logger.Logger, opts Options) *Scheduler {
	return &Scheduler{
		st:   st,
		log:  log.WithFields(zap.String("component", "reconcile_scheduler")),
		opts: opts,
	}
}

// Dispatch spawns a worker for sessionID in the background. Safe to call
// from the intake daemon's request-handling goroutine.
func (s *Scheduler) Dispatch(ctx context.Context, sessionID string, eventTimestamp time.Time) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := Run(ctx, s.log, s.st, s.opts, sessionID, eventTimestamp); err != nil {
			s.log.WithSessionID(sessionID).WithError(err).Error("reconcile worker failed")
		}
	}()
}

// Wait blocks until every dispatched worker has returned. Intended for
// graceful shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
