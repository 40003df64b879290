package toolproject

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apomarinov/workio/internal/transcript"
)

func TestProject_EditDiffArithmetic(t *testing.T) {
	input, _ := json.Marshal(map[string]any{
		"file_path":  "/x/y.txt",
		"old_string": "a\nb\nc\n",
		"new_string": "a\nB\nc\n",
	})
	use := transcript.ToolUse{ID: "tu1", Name: ToolEdit, Input: input}

	out := Project(use, &transcript.ToolResult{ToolUseID: "tu1"})

	var summary map[string]any
	require.NoError(t, json.Unmarshal(out, &summary))
	assert.Equal(t, "success", summary["status"])
	assert.EqualValues(t, 1, summary["lines_added"])
	assert.EqualValues(t, 1, summary["lines_removed"])
	assert.Equal(t, false, summary["diff_truncated"])
	diff, _ := summary["diff"].(string)
	assert.True(t, strings.Contains(diff, "a/y.txt"))
	assert.True(t, strings.Contains(diff, "b/y.txt"))
}

func TestProject_BashTruncation(t *testing.T) {
	input, _ := json.Marshal(map[string]any{"command": "yes", "description": "spam"})
	use := transcript.ToolUse{ID: "tu2", Name: ToolBash, Input: input}
	longOutput := strings.Repeat("x", 60_000)

	out := Project(use, &transcript.ToolResult{ToolUseID: "tu2", Content: longOutput})

	var summary map[string]any
	require.NoError(t, json.Unmarshal(out, &summary))
	assert.Equal(t, true, summary["output_truncated"])
	assert.True(t, strings.HasSuffix(summary["output"].(string), "[truncated]"))
}

func TestProject_ErrorStatus(t *testing.T) {
	use := transcript.ToolUse{ID: "tu3", Name: ToolBash, Input: []byte(`{"command":"false"}`)}
	out := Project(use, &transcript.ToolResult{ToolUseID: "tu3", IsError: true, Content: "boom"})

	var summary map[string]any
	require.NoError(t, json.Unmarshal(out, &summary))
	assert.Equal(t, "error", summary["status"])
}

func TestProject_NeverPanicsOnMalformedInput(t *testing.T) {
	use := transcript.ToolUse{ID: "tu4", Name: ToolEdit, Input: []byte(`not valid json`)}
	out := Project(use, nil)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(out, &summary))
	assert.Equal(t, "error", summary["status"])
	assert.Contains(t, summary["output"], "[Error processing tool")
}

func TestProject_TodoWriteStateKey(t *testing.T) {
	input, _ := json.Marshal(map[string]any{
		"todos": []map[string]any{
			{"content": "a", "status": "pending"},
			{"content": "b", "status": "pending"},
		},
	})
	use := transcript.ToolUse{ID: "tu5", Name: ToolTodoWrite, Input: input}
	out := Project(use, nil)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(out, &summary))
	assert.NotEmpty(t, summary["state_key"])
}
