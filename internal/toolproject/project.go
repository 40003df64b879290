// Package toolproject transforms a transcript's raw tool-use/tool-result
// pairs into the tool-specific summary JSON persisted on a message row.
package toolproject

import (
	"encoding/json"

	"github.com/apomarinov/workio/internal/transcript"
)

// Tool name constants, matching the names Claude Code emits on tool_use
// content blocks.
const (
	ToolBash      = "Bash"
	ToolEdit      = "Edit"
	ToolRead      = "Read"
	ToolWrite     = "Write"
	ToolGrep      = "Grep"
	ToolGlob      = "Glob"
	ToolTask      = "Task"
	ToolTodoWrite = "TodoWrite"
)

const truncateLimit = 50_000
const truncateSuffix = "\n... [truncated]"

// Project builds the summary JSON for one (tool-use, tool-result) pair.
// result may be nil when no matching tool-result has arrived yet. Errors in
// projection never escape: a fallback error summary is returned instead,
// matching the "never an exception that escapes" contract.
func Project(use transcript.ToolUse, result *transcript.ToolResult) json.RawMessage {
	summary, err := project(use, result)
	if err != nil {
		summary = fallback(use)
	}
	out, err := json.Marshal(summary)
	if err != nil {
		out, _ = json.Marshal(fallback(use))
	}
	return out
}

func project(use transcript.ToolUse, result *transcript.ToolResult) (map[string]any, error) {
	status := "success"
	if result != nil && result.IsError {
		status = "error"
	}

	summary := map[string]any{
		"tool_use_id": use.ID,
		"name":        use.Name,
		"status":      status,
	}

	var input map[string]any
	if len(use.Input) > 0 {
		if err := json.Unmarshal(use.Input, &input); err != nil {
			return nil, err
		}
	}
	if input == nil {
		input = map[string]any{}
	}

	output := ""
	if result != nil {
		output = result.Content
	}

	switch use.Name {
	case ToolBash:
		text, truncated := truncate(output)
		summary["input"] = map[string]any{
			"command":     input["command"],
			"description": input["description"],
		}
		summary["output"] = text
		summary["output_truncated"] = truncated

	case ToolEdit:
		oldStr, _ := input["old_string"].(string)
		newStr, _ := input["new_string"].(string)
		filePath, _ := input["file_path"].(string)
		diff, added, removed := unifiedDiff(filePath, oldStr, newStr)
		diffTruncated := false
		if len(diff) > truncateLimit {
			diff = "[Diff too large to display]"
			diffTruncated = true
		}
		summary["input"] = map[string]any{
			"file_path":   filePath,
			"replace_all": input["replace_all"],
		}
		summary["diff"] = diff
		summary["lines_added"] = added
		summary["lines_removed"] = removed
		summary["diff_truncated"] = diffTruncated

	case ToolRead:
		summary["input"] = map[string]any{
			"file_path": input["file_path"],
			"offset":    input["offset"],
			"limit":     input["limit"],
		}
		summary["output_truncated"] = len(output) > truncateLimit

	case ToolWrite:
		text, truncated := truncate(asString(input["content"]))
		summary["input"] = map[string]any{"file_path": input["file_path"]}
		summary["content"] = text
		summary["content_truncated"] = truncated

	case ToolGrep, ToolGlob:
		text, truncated := truncate(output)
		summary["input"] = map[string]any{
			"pattern":     input["pattern"],
			"path":        input["path"],
			"glob":        input["glob"],
			"output_mode": input["output_mode"],
		}
		summary["output"] = text
		summary["output_truncated"] = truncated

	case ToolTask:
		text, truncated := truncate(output)
		summary["input"] = map[string]any{
			"description":   input["description"],
			"subagent_type": input["subagent_type"],
		}
		summary["output"] = text
		summary["output_truncated"] = truncated

	case ToolTodoWrite:
		summary["input"] = map[string]any{"todos": input["todos"]}
		summary["state_key"] = stateKeyFromInput(input)

	default:
		text, truncated := truncate(output)
		summary["input"] = input
		summary["output"] = text
		summary["output_truncated"] = truncated
	}

	if result != nil && len(result.Answers) > 0 {
		var answers any
		if err := json.Unmarshal(result.Answers, &answers); err == nil {
			summary["answers"] = answers
		}
	}

	return summary, nil
}

func fallback(use transcript.ToolUse) map[string]any {
	return map[string]any{
		"tool_use_id":      use.ID,
		"name":             use.Name,
		"status":           "error",
		"input":            map[string]any{},
		"output":           "[Error processing tool: projection failed]",
		"output_truncated": false,
	}
}

func truncate(s string) (string, bool) {
	if len(s) <= truncateLimit {
		return s, false
	}
	return s[:truncateLimit] + truncateSuffix, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func stateKeyFromInput(input map[string]any) string {
	todos, _ := input["todos"].([]any)
	statuses := make([]string, 0, len(todos))
	for _, t := range todos {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		status, _ := m["status"].(string)
		statuses = append(statuses, status)
	}
	return md5Join(statuses)
}
