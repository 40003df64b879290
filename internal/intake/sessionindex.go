package intake

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// sessionIndexEntry mirrors one entry of Claude's sessions-index.json, used
// to backfill a session's display name and message count once the CLI has
// written it.
type sessionIndexEntry struct {
	SessionID    string `json:"sessionId"`
	CustomTitle  string `json:"customTitle"`
	FirstPrompt  string `json:"firstPrompt"`
	MessageCount int    `json:"messageCount"`
}

type sessionIndexFile struct {
	Entries []sessionIndexEntry `json:"entries"`
}

// readSessionIndexEntry looks up sessionID inside
// ~/.claude/projects/<encoded-project-path>/sessions-index.json. A missing
// file or entry is not an error: the index simply hasn't been written yet.
func readSessionIndexEntry(projectPath, sessionID string) (*sessionIndexEntry, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	encoded := strings.ReplaceAll(projectPath, "/", "-")
	indexPath := filepath.Join(home, ".claude", "projects", encoded, "sessions-index.json")

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, nil
	}

	var idx sessionIndexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, nil
	}
	for i := range idx.Entries {
		if idx.Entries[i].SessionID == sessionID {
			return &idx.Entries[i], nil
		}
	}
	return nil, nil
}
