// Package sweep implements the maintenance sweeper: closing of stale
// sessions and deletion of empty sessions and orphan rows on every run, plus
// throttled deletion of aged log/hook rows and debounce/lock files.
package sweep

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/apomarinov/workio/internal/config"
	"github.com/apomarinov/workio/internal/logger"
	"github.com/apomarinov/workio/internal/store"
	"go.uber.org/zap"
)

// Run executes both throttled sub-tasks. Intended to be invoked on every
// hook (except SessionStart) and standalone via the sweeper binary.
// installDir is the base directory containing debounce/ and locks/.
func Run(ctx context.Context, cfg config.SweepConfig, installDir string, st store.Store, log *logger.Logger) error {
	log = log.WithFields(zap.String("component", "sweep"))

	if err := runDataSweep(ctx, cfg, st, log); err != nil {
		return err
	}
	return runLockSweep(ctx, cfg, installDir, st, log)
}

func runDataSweep(ctx context.Context, cfg config.SweepConfig, st store.Store, log *logger.Logger) error {
	recently, err := st.HasRecentCleanup(ctx, store.CleanupData, int64(cfg.DataIntervalSeconds))
	if err != nil {
		return err
	}

	closed, err := st.CloseStaleSessions(ctx, int64(cfg.InactivitySeconds))
	if err != nil {
		return err
	}
	if len(closed) > 0 {
		log.Debug("closed stale sessions", zap.Int("count", len(closed)))
	}

	favorites, err := st.GetFavoriteSessionIDs(ctx)
	if err != nil {
		return err
	}
	deleted, err := st.DeleteEmptySessions(ctx, favorites)
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		payload := store.SessionsDeletedNotification{SessionIDs: deleted}
		if err := st.Notify(ctx, store.ChannelSessionsDeleted, payload); err != nil {
			log.WithError(err).Warn("failed to publish sessions_deleted")
		}
	}

	if err := st.DeleteOrphanProjects(ctx); err != nil {
		return err
	}
	if err := st.DeleteOrphanPrompts(ctx); err != nil {
		return err
	}

	if !recently {
		if err := st.DeleteOldLogsAndHooks(ctx, int64(cfg.RowRetentionSeconds)); err != nil {
			return err
		}
		if err := st.RecordCleanup(ctx, store.CleanupData); err != nil {
			return err
		}
	}

	return nil
}

func runLockSweep(ctx context.Context, cfg config.SweepConfig, installDir string, st store.Store, log *logger.Logger) error {
	recently, err := st.HasRecentCleanup(ctx, store.CleanupLocks, int64(cfg.LockIntervalSeconds))
	if err != nil {
		return err
	}
	if recently {
		return nil
	}

	maxAge := time.Duration(cfg.LockFileMaxAgeSecond) * time.Second
	purgeOldFiles(filepath.Join(installDir, "debounce"), maxAge, log)
	purgeOldFiles(filepath.Join(installDir, "locks"), maxAge, log)

	return st.RecordCleanup(ctx, store.CleanupLocks)
}

// purgeOldFiles removes every regular file in dir whose mtime is older than
// maxAge. A missing directory is not an error.
func purgeOldFiles(dir string, maxAge time.Duration, log *logger.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				log.WithError(err).Warn("failed to purge stale file", zap.String("path", path))
			}
		}
	}
}
