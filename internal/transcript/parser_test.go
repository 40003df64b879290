package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ScalarUserText(t *testing.T) {
	data := []byte(`{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"Hello"}}` + "\n")

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed.TextRecords, 1)
	assert.Equal(t, KindUserText, parsed.TextRecords[0].Kind)
	assert.Equal(t, "Hello", parsed.TextRecords[0].Text)
}

func TestParse_SyntheticCommandFiltered(t *testing.T) {
	data := []byte(
		`{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"<local-command-stdout>ls</local-command-stdout>"}}` + "\n" +
			`{"type":"assistant","uuid":"a1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"assistant","content":[{"type":"text","text":"hi there"}]}}` + "\n",
	)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed.TextRecords, 1)
	assert.Equal(t, KindAssistantText, parsed.TextRecords[0].Kind)
	assert.Equal(t, "hi there", parsed.TextRecords[0].Text)
}

func TestParse_ToolUseAndResultIndexed(t *testing.T) {
	data := []byte(
		`{"type":"assistant","uuid":"a1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":[{"type":"text","text":"ok"},{"type":"tool_use","id":"tu1","name":"Bash","input":{"command":"ls"}}]}}` + "\n" +
			`{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:01Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu1","content":"file1\nfile2"}]}}` + "\n",
	)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Contains(t, parsed.ToolUses, "tu1")
	assert.Equal(t, "Bash", parsed.ToolUses["tu1"].Name)
	require.Contains(t, parsed.ToolResults, "tu1")
	assert.Equal(t, "file1\nfile2", parsed.ToolResults["tu1"].Content)
}

func TestParse_CustomTitleLastWins(t *testing.T) {
	data := []byte(
		`{"type":"custom-title","customTitle":"first"}` + "\n" +
			`{"type":"custom-title","customTitle":"second"}` + "\n",
	)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "second", parsed.CustomTitle)
}

func TestParse_MalformedLinesSkipped(t *testing.T) {
	data := []byte(
		`not json at all` + "\n" +
			`{"type":"user","uuid":"u1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"user","content":"ok"}}` + "\n",
	)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed.TextRecords, 1)
	assert.Equal(t, "ok", parsed.TextRecords[0].Text)
}

func TestParse_ThinkingFirstBlockDeterminesKind(t *testing.T) {
	data := []byte(
		`{"type":"assistant","uuid":"a1","timestamp":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"pondering"},{"type":"text","text":"ignored for kind"}]}}` + "\n",
	)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed.TextRecords, 1)
	assert.Equal(t, KindThinking, parsed.TextRecords[0].Kind)
	assert.Equal(t, "pondering", parsed.TextRecords[0].Text)
}
