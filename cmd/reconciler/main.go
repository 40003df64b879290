// Command reconciler is the short-lived, debounced per-session worker as a
// standalone process: it reads the marker/lock files for one session and,
// if it wins the debounce race, reconciles the transcript. The intake daemon
// does not spawn it; the daemon runs the same reconcile.Run in-process.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apomarinov/workio/internal/config"
	"github.com/apomarinov/workio/internal/database"
	"github.com/apomarinov/workio/internal/logger"
	"github.com/apomarinov/workio/internal/reconcile"
	"github.com/apomarinov/workio/internal/store"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: reconciler <session_id> <event_timestamp>")
		os.Exit(1)
	}
	sessionID := os.Args[1]
	eventTimestamp, err := time.Parse(time.RFC3339Nano, os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid event timestamp: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.WithSessionID(sessionID).WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	st := store.NewPostgresStore(db)
	defer st.Close()

	opts := reconcile.Options{
		DebounceDir:  filepath.Join(cfg.Daemon.InstallDir, "debounce"),
		DebounceWait: cfg.Reconcile.DebounceSecondsDuration(),
		StaleAfter:   cfg.Reconcile.StaleLockAfter(),
		WaitInterval: cfg.Reconcile.LockWaitInterval(),
	}

	if err := reconcile.Run(ctx, log, st, opts, sessionID, eventTimestamp); err != nil {
		log.WithSessionID(sessionID).WithError(err).Error("reconciliation failed")
		os.Exit(1)
	}
}
