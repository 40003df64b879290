// Package transcript parses the append-only JSON-lines transcript file a
// coding assistant maintains per session into typed records: text, thinking,
// tool-use, tool-result, and title entries. TodoWrite calls come out as
// ordinary tool uses.
package transcript

import (
	"encoding/json"
	"time"
)

// RecordKind identifies what a parsed transcript record represents.
type RecordKind string

const (
	KindUserText      RecordKind = "user_text"
	KindAssistantText RecordKind = "assistant_text"
	KindThinking      RecordKind = "thinking"
)

// Record is one parsed text-bearing transcript entry (user, assistant, or
// thinking text). Tool-use and tool-result entries are keyed separately in
// Parsed.ToolUses/ToolResults, and the custom-title record collapses to
// Parsed.CustomTitle, so none of those need a Record representation.
type Record struct {
	Kind      RecordKind
	UUID      string
	Timestamp time.Time
	Text      string
	Images    []ImageContent
}

// ImageContent is an inline base64 image from a user message.
type ImageContent struct {
	MediaType string
	Data      string
}

// rawLine is the on-disk envelope shared by every transcript line. Claude
// Code's own wire protocol (see pkg/claudecode's CLIMessage) treats content
// as either a bare string or a list of typed blocks; the on-disk transcript
// follows the same flexible-content idiom.
type rawLine struct {
	Type            string          `json:"type"`
	UUID            string          `json:"uuid"`
	Timestamp       string          `json:"timestamp"`
	Message         *rawMessage     `json:"message"`
	CustomTitle     string          `json:"customTitle"`
	ToolUseResult   json.RawMessage `json:"toolUseResult"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// rawContentBlock mirrors the union of block shapes that can appear in a
// message's content array: text, thinking, tool_use, tool_result, image.
type rawContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text"`

	Thinking string `json:"thinking"`

	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`

	Source *rawImageSource `json:"source"`
}

type rawImageSource struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type rawToolUseResult struct {
	Answers json.RawMessage `json:"answers"`
}
