package reconcile

import (
	"fmt"
	"os"
	"time"
)

// acquireLock implements the lock-acquisition loop: while the lock file
// exists, read its timestamp; if its age has exceeded staleAfter, delete it
// and proceed (stealing a stale lock), otherwise sleep waitInterval and
// retry. logf receives a human-readable progress line ("Waiting for lock").
func acquireLock(debounceDir, sessionID string, staleAfter, waitInterval time.Duration, now func() time.Time, logf func(string)) error {
	path := lockPath(debounceDir, sessionID)

	for {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return fmt.Errorf("read lock file: %w", err)
		}

		acquiredAt, err := time.Parse(time.RFC3339Nano, string(data))
		if err != nil && len(data) > 0 {
			// Malformed lock contents: treat as stale, steal it.
			_ = os.Remove(path)
			break
		}

		// Empty contents: another worker has created the lock but not yet
		// written its timestamp, so it is held.
		if err == nil && now().Sub(acquiredAt) >= staleAfter {
			_ = os.Remove(path)
			break
		}

		if logf != nil {
			logf("Waiting for lock")
		}
		time.Sleep(waitInterval)
	}

	// O_EXCL: if another worker created the lock since our read, wait again.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return acquireLock(debounceDir, sessionID, staleAfter, waitInterval, now, logf)
	}
	if err != nil {
		return fmt.Errorf("create lock file: %w", err)
	}
	_, err = f.WriteString(now().Format(time.RFC3339Nano))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func releaseLock(debounceDir, sessionID string) error {
	err := os.Remove(lockPath(debounceDir, sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
