package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/apomarinov/workio/internal/apperr"
)

// Synthetic markers that identify transcript user messages which are
// generated by the CLI itself rather than typed by the user, and must never
// be persisted (P7).
const (
	markerLocalCommandStdout = "<local-command-stdout>"
	markerLocalCommandCaveat = "<local-command-caveat>"
	markerCommandName        = "<command-name>"
)

// ToolUse is one assistant tool invocation, indexed by its content-block id
// (not the entry's own uuid).
type ToolUse struct {
	ID        string
	Name      string
	Input     json.RawMessage
	Timestamp time.Time
}

// ToolResult is the paired result for a ToolUse, joined on ToolUseID.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
	Answers   json.RawMessage
}

// Parsed is the structured output of parsing one transcript file.
type Parsed struct {
	// TextRecords holds user/assistant/thinking records in document order.
	TextRecords []Record
	ToolUses    map[string]ToolUse
	ToolResults map[string]ToolResult
	// ToolUseOrder preserves the document order tool-use ids were
	// encountered in, needed by the TodoWrite "keep only the final
	// occurrence" dedup pass.
	ToolUseOrder []string
	// CustomTitle is the last custom-title record seen, or "" if none.
	CustomTitle string
}

// Parse reads a line-delimited JSON transcript and extracts records. It is a
// pure function: malformed lines are skipped, and the only error returned is
// one that prevents reading the input at all (never a parse error on an
// individual line).
func Parse(data []byte) (*Parsed, error) {
	out := &Parsed{
		ToolUses:    make(map[string]ToolUse),
		ToolResults: make(map[string]ToolResult),
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw rawLine
		if err := json.Unmarshal(line, &raw); err != nil {
			// Skip the offending unit and continue; one bad record must
			// never sink the rest of the transcript.
			continue
		}
		parseLine(&raw, out)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTranscriptUnavailable, err)
	}
	return out, nil
}

func parseLine(raw *rawLine, out *Parsed) {
	switch raw.Type {
	case "custom-title":
		if raw.CustomTitle != "" {
			out.CustomTitle = raw.CustomTitle
		}
	case "user":
		parseUserLine(raw, out)
	case "assistant":
		parseAssistantLine(raw, out)
	}
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseUserLine(raw *rawLine, out *Parsed) {
	if raw.Message == nil || raw.Message.Role != "user" {
		return
	}

	// Scalar content: a bare string.
	var scalarText string
	if err := json.Unmarshal(raw.Message.Content, &scalarText); err == nil {
		if isSyntheticCommand(scalarText) {
			return
		}
		emitTextRecord(out, KindUserText, raw, scalarText, nil)
		return
	}

	// List content: iterate blocks.
	var blocks []rawContentBlock
	if err := json.Unmarshal(raw.Message.Content, &blocks); err != nil {
		return
	}

	var texts []string
	var images []ImageContent
	for _, b := range blocks {
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "image":
			if b.Source != nil {
				images = append(images, ImageContent{MediaType: b.Source.MediaType, Data: b.Source.Data})
			}
		case "tool_result":
			content := extractResultContent(b.Content)
			var answers json.RawMessage
			if len(raw.ToolUseResult) > 0 {
				var tur rawToolUseResult
				if json.Unmarshal(raw.ToolUseResult, &tur) == nil {
					answers = tur.Answers
				}
			}
			out.ToolResults[b.ToolUseID] = ToolResult{
				ToolUseID: b.ToolUseID,
				Content:   content,
				IsError:   b.IsError,
				Answers:   answers,
			}
		}
	}

	joined := strings.Join(texts, "\n")
	if isSyntheticCommand(joined) {
		return
	}
	if joined != "" || len(images) > 0 {
		emitTextRecord(out, KindUserText, raw, joined, images)
	}
}

func parseAssistantLine(raw *rawLine, out *Parsed) {
	if raw.Message == nil || raw.Message.Role != "assistant" {
		return
	}

	var blocks []rawContentBlock
	if err := json.Unmarshal(raw.Message.Content, &blocks); err != nil {
		// Some assistant entries may carry scalar content; treat as plain text.
		var scalarText string
		if json.Unmarshal(raw.Message.Content, &scalarText) == nil && scalarText != "" {
			emitTextRecord(out, KindAssistantText, raw, scalarText, nil)
		}
		return
	}
	if len(blocks) == 0 {
		return
	}

	// The first content item determines the message kind.
	first := blocks[0]
	switch first.Type {
	case "thinking":
		emitTextRecord(out, KindThinking, raw, first.Thinking, nil)
	case "text":
		emitTextRecord(out, KindAssistantText, raw, first.Text, nil)
	}

	// Every tool_use block in this entry is indexed regardless of position.
	for _, b := range blocks {
		if b.Type != "tool_use" {
			continue
		}
		out.ToolUses[b.ID] = ToolUse{
			ID:        b.ID,
			Name:      b.Name,
			Input:     b.Input,
			Timestamp: parseTimestamp(raw.Timestamp),
		}
		out.ToolUseOrder = append(out.ToolUseOrder, b.ID)
	}
}

func emitTextRecord(out *Parsed, kind RecordKind, raw *rawLine, text string, images []ImageContent) {
	out.TextRecords = append(out.TextRecords, Record{
		Kind:      kind,
		UUID:      raw.UUID,
		Timestamp: parseTimestamp(raw.Timestamp),
		Text:      text,
		Images:    images,
	})
}

// extractResultContent flattens a tool_result's content, which may be a bare
// string or a list of text blocks.
func extractResultContent(raw json.RawMessage) string {
	var scalar string
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return scalar
	}
	var blocks []rawContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func isSyntheticCommand(text string) bool {
	return strings.Contains(text, markerLocalCommandStdout) ||
		strings.Contains(text, markerLocalCommandCaveat) ||
		strings.Contains(text, markerCommandName)
}
