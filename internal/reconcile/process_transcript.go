package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/apomarinov/workio/internal/apperr"
	"github.com/apomarinov/workio/internal/store"
	"github.com/apomarinov/workio/internal/toolproject"
	"github.com/apomarinov/workio/internal/transcript"
)

// processTranscript reads the transcript file, parses it, projects tool
// calls, and upserts messages. It returns the ids of messages that were
// created or changed, for the session_update notification.
func processTranscript(ctx context.Context, st store.Store, sessionID, transcriptPath string) ([]string, error) {
	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTranscriptUnavailable, err)
	}

	parsed, err := transcript.Parse(data)
	if err != nil {
		return nil, err
	}

	latestPrompt, err := st.GetLatestPrompt(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get latest prompt: %w", err)
	}
	var promptID string
	if latestPrompt != nil {
		promptID = latestPrompt.ID
	} else {
		promptID, err = st.CreatePrompt(ctx, sessionID, nil)
		if err != nil {
			return nil, fmt.Errorf("create placeholder prompt: %w", err)
		}
	}

	finalTodoUses := finalTodoWriteIDs(parsed)

	var changed []string

	// Pass 3: tool-use projection, in document order.
	for _, toolUseID := range parsed.ToolUseOrder {
		use, ok := parsed.ToolUses[toolUseID]
		if !ok {
			continue
		}
		if use.Name == toolproject.ToolTodoWrite {
			if !finalTodoUses[toolUseID] {
				continue
			}
			todos, stateKey := decodeTodos(use.Input)
			var result *transcript.ToolResult
			if r, ok := parsed.ToolResults[toolUseID]; ok {
				result = &r
			}
			summary := toolproject.Project(use, result)
			id, _, isNew, stateChanged, err := st.UpsertTodoMessage(ctx, sessionID, promptID, toolUseID, summary, toTodoItems(todos), stateKey)
			if err != nil {
				return nil, fmt.Errorf("upsert todo message: %w", err)
			}
			if isNew || stateChanged {
				changed = append(changed, id)
			}
			continue
		}

		exists, err := st.MessageExists(ctx, toolUseID)
		if err != nil {
			return nil, fmt.Errorf("check message exists: %w", err)
		}
		if exists {
			continue
		}

		var result *transcript.ToolResult
		if r, ok := parsed.ToolResults[toolUseID]; ok {
			result = &r
		}
		summary := toolproject.Project(use, result)
		id, err := st.CreateMessage(ctx, promptID, toolUseID, nil, false, false, summary, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("create tool message: %w", err)
		}
		changed = append(changed, id)
	}

	// Pass 4: text messages in document order.
	var firstUserText string
	for _, rec := range parsed.TextRecords {
		exists, err := st.MessageExists(ctx, rec.UUID)
		if err != nil {
			return nil, fmt.Errorf("check message exists: %w", err)
		}
		if exists {
			continue
		}

		thinking := rec.Kind == transcript.KindThinking
		isUser := rec.Kind == transcript.KindUserText
		body := rec.Text

		var images []store.Image
		for _, img := range rec.Images {
			images = append(images, store.Image{MediaType: img.MediaType, Data: img.Data})
		}

		if isUser && firstUserText == "" {
			firstUserText = body
		}

		id, err := st.CreateMessage(ctx, promptID, rec.UUID, &body, thinking, isUser, nil, nil, images)
		if err != nil {
			return nil, fmt.Errorf("create text message: %w", err)
		}
		changed = append(changed, id)
	}

	// Apply custom-title override, or fall back to the first user message.
	if parsed.CustomTitle != "" {
		if err := st.UpdateSessionMetadata(ctx, sessionID, &parsed.CustomTitle, nil); err != nil {
			return nil, fmt.Errorf("apply custom title: %w", err)
		}
	} else if firstUserText != "" {
		if err := st.UpdateSessionNameIfEmpty(ctx, sessionID, firstUserText); err != nil {
			return nil, fmt.Errorf("set session name from first user message: %w", err)
		}
	}

	// Promote the latest user message into a null-body prompt.
	if latestPrompt != nil && latestPrompt.Body == nil {
		if latestUser, err := st.GetLatestUserMessage(ctx, promptID); err == nil && latestUser != nil && latestUser.Body != nil {
			if err := st.UpdatePromptText(ctx, promptID, *latestUser.Body); err != nil {
				return nil, fmt.Errorf("promote latest user message into prompt: %w", err)
			}
		}
	}

	return changed, nil
}

// finalTodoWriteIDs implements pass 2.5: within a single reconciliation
// pass, only the final TodoWrite per content-identity hash is kept; earlier
// occurrences of the same todo set are skipped in pass 3.
func finalTodoWriteIDs(parsed *transcript.Parsed) map[string]bool {
	lastByHash := make(map[string]string)
	for _, id := range parsed.ToolUseOrder {
		use, ok := parsed.ToolUses[id]
		if !ok || use.Name != toolproject.ToolTodoWrite {
			continue
		}
		todos, _ := decodeTodos(use.Input)
		hash := store.TodoIdentity("", toTodoContentsOnly(todos))
		lastByHash[hash] = id
	}
	final := make(map[string]bool, len(lastByHash))
	for _, id := range lastByHash {
		final[id] = true
	}
	return final
}

type todoInput struct {
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

func decodeTodos(input json.RawMessage) ([]todoInput, string) {
	var wrapper struct {
		Todos []todoInput `json:"todos"`
	}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &wrapper)
	}
	statuses := make([]string, len(wrapper.Todos))
	for i, t := range wrapper.Todos {
		statuses[i] = t.Status
	}
	return wrapper.Todos, store.StateKey(toTodoItems(wrapper.Todos))
}

func toTodoItems(todos []todoInput) []store.TodoItem {
	out := make([]store.TodoItem, len(todos))
	for i, t := range todos {
		out[i] = store.TodoItem{Content: t.Content, Status: t.Status, Priority: t.Priority}
	}
	return out
}

func toTodoContentsOnly(todos []todoInput) []store.TodoItem {
	return toTodoItems(todos)
}
