package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apomarinov/workio/internal/apperr"
)

// marker is the per-session JSON file that coalesces reconciliation
// triggers: {start, latest} ISO-8601 timestamps.
type marker struct {
	Start  time.Time `json:"start"`
	Latest time.Time `json:"latest"`
}

func markerPath(debounceDir, sessionID string) string {
	return filepath.Join(debounceDir, sessionID+".marker")
}

func lockPath(debounceDir, sessionID string) string {
	return filepath.Join(debounceDir, sessionID+".lock")
}

// touchMarker upserts the marker file: creates it with start=latest=now if
// absent, otherwise preserves start and advances latest to now. Called by
// the intake daemon on every hook.
func touchMarker(debounceDir, sessionID string, now time.Time) (marker, error) {
	if err := os.MkdirAll(debounceDir, 0o755); err != nil {
		return marker{}, fmt.Errorf("mkdir debounce dir: %w", err)
	}

	path := markerPath(debounceDir, sessionID)
	m := marker{Start: now, Latest: now}

	if existing, err := readMarker(debounceDir, sessionID); err == nil {
		m.Start = existing.Start
	}

	if err := writeMarker(path, m); err != nil {
		return marker{}, err
	}
	return m, nil
}

func readMarker(debounceDir, sessionID string) (marker, error) {
	path := markerPath(debounceDir, sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return marker{}, apperr.ErrMarkerMissing
		}
		return marker{}, fmt.Errorf("read marker: %w", err)
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return marker{}, apperr.ErrMarkerMalformed
	}
	return m, nil
}

func writeMarker(path string, m marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// TouchMarker is the exported form of touchMarker, called by the intake
// daemon on every hook to upsert the debounce marker before spawning a
// worker.
func TouchMarker(debounceDir, sessionID string, now time.Time) error {
	_, err := touchMarker(debounceDir, sessionID, now)
	return err
}

func deleteMarker(debounceDir, sessionID string) error {
	err := os.Remove(markerPath(debounceDir, sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func markerExists(debounceDir, sessionID string) bool {
	_, err := os.Stat(markerPath(debounceDir, sessionID))
	return err == nil
}
