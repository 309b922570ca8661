// Package testjsonl provides shared JSONL fixture builders for
// Claude Code session test data. Used by the parser, filestate,
// sync, and command test packages.
package testjsonl

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EditSpec is one entry of a MultiEdit request.
type EditSpec struct {
	Old        string
	New        string
	ReplaceAll bool
}

// ClaudeUserJSON returns a Claude user message as a JSON string.
func ClaudeUserJSON(
	content, timestamp string, cwd ...string,
) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	if len(cwd) > 0 {
		m["cwd"] = cwd[0]
	}
	return mustMarshal(m)
}

// ClaudeToolUseJSON returns an assistant message carrying a
// single tool_use block.
func ClaudeToolUseJSON(
	id, name string, input map[string]any, timestamp string,
) string {
	return claudeAssistant([]map[string]any{
		toolUseBlock(id, name, input),
	}, timestamp)
}

// ClaudeWriteJSON returns an assistant Write request.
func ClaudeWriteJSON(id, path, content, timestamp string) string {
	return ClaudeToolUseJSON(id, "Write", map[string]any{
		"file_path": path,
		"content":   content,
	}, timestamp)
}

// ClaudeEditJSON returns an assistant Edit request.
func ClaudeEditJSON(
	id, path, oldStr, newStr string, replaceAll bool,
	timestamp string,
) string {
	input := map[string]any{
		"file_path":  path,
		"old_string": oldStr,
		"new_string": newStr,
	}
	if replaceAll {
		input["replace_all"] = true
	}
	return ClaudeToolUseJSON(id, "Edit", input, timestamp)
}

// ClaudeMultiEditJSON returns an assistant MultiEdit request.
func ClaudeMultiEditJSON(
	id, path string, edits []EditSpec, timestamp string,
) string {
	list := make([]map[string]any, 0, len(edits))
	for _, e := range edits {
		entry := map[string]any{
			"old_string": e.Old,
			"new_string": e.New,
		}
		if e.ReplaceAll {
			entry["replace_all"] = true
		}
		list = append(list, entry)
	}
	return ClaudeToolUseJSON(id, "MultiEdit", map[string]any{
		"file_path": path,
		"edits":     list,
	}, timestamp)
}

// ClaudeReadJSON returns an assistant Read request. A positive
// offset or limit marks the request as windowed.
func ClaudeReadJSON(
	id, path string, offset, limit int, timestamp string,
) string {
	input := map[string]any{"file_path": path}
	if offset > 0 {
		input["offset"] = offset
	}
	if limit > 0 {
		input["limit"] = limit
	}
	return ClaudeToolUseJSON(id, "Read", input, timestamp)
}

// ClaudeReadResultJSON returns a user tool_result record with a
// structured toolUseResult file object, as Claude Code logs a
// completed Read.
func ClaudeReadResultJSON(
	id, path, content string,
	startLine, numLines, totalLines int,
	timestamp string,
) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				toolResultBlock(id, CatN(content, startLine)),
			},
		},
		"toolUseResult": map[string]any{
			"type": "text",
			"file": map[string]any{
				"filePath":   path,
				"content":    content,
				"numLines":   numLines,
				"startLine":  startLine,
				"totalLines": totalLines,
			},
		},
	}
	return mustMarshal(m)
}

// ClaudeToolResultTextJSON returns a user tool_result record with
// only the text rendering of the result and no toolUseResult.
func ClaudeToolResultTextJSON(id, text, timestamp string) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				toolResultBlock(id, text),
			},
		},
	}
	return mustMarshal(m)
}

// ClaudeCreateResultJSON returns the result record logged after a
// Write. kind is "create" or "update".
func ClaudeCreateResultJSON(
	id, kind, path, content, timestamp string,
) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				toolResultBlock(id,
					"File created successfully at: "+path),
			},
		},
		"toolUseResult": map[string]any{
			"type":     kind,
			"filePath": path,
			"content":  content,
		},
	}
	return mustMarshal(m)
}

// ClaudeEditResultJSON returns the result record logged after an
// Edit, carrying the pre-edit snapshot in originalFile.
func ClaudeEditResultJSON(
	id, path, original, oldStr, newStr string, replaceAll bool,
	timestamp string,
) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				toolResultBlock(id,
					"The file "+path+" has been updated."),
			},
		},
		"toolUseResult": map[string]any{
			"filePath":     path,
			"oldString":    oldStr,
			"newString":    newStr,
			"originalFile": original,
			"replaceAll":   replaceAll,
		},
	}
	return mustMarshal(m)
}

// CatN renders content the way the Read tool shows it: a
// right-aligned line number, an arrow, then the line.
func CatN(content string, startLine int) string {
	if startLine < 1 {
		startLine = 1
	}
	lines := strings.Split(content, "\n")
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%6d→%s", startLine+i, line)
	}
	return b.String()
}

// JoinJSONL joins JSON lines with newlines and appends a
// trailing newline.
func JoinJSONL(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// SessionBuilder constructs JSONL session content using a
// fluent API.
type SessionBuilder struct {
	lines []string
}

// NewSessionBuilder returns a new empty SessionBuilder.
func NewSessionBuilder() *SessionBuilder {
	return &SessionBuilder{}
}

// AddWrite appends a Write request.
func (b *SessionBuilder) AddWrite(
	id, path, content, timestamp string,
) *SessionBuilder {
	b.lines = append(b.lines,
		ClaudeWriteJSON(id, path, content, timestamp))
	return b
}

// AddEdit appends an Edit request.
func (b *SessionBuilder) AddEdit(
	id, path, oldStr, newStr string, replaceAll bool,
	timestamp string,
) *SessionBuilder {
	b.lines = append(b.lines, ClaudeEditJSON(
		id, path, oldStr, newStr, replaceAll, timestamp,
	))
	return b
}

// AddRead appends a full Read request and its result.
func (b *SessionBuilder) AddRead(
	id, path, content, timestamp string,
) *SessionBuilder {
	n := strings.Count(content, "\n") + 1
	b.lines = append(b.lines,
		ClaudeReadJSON(id, path, 0, 0, timestamp),
		ClaudeReadResultJSON(id, path, content, 1, n, n, timestamp),
	)
	return b
}

// AddUser appends a plain user message.
func (b *SessionBuilder) AddUser(
	content, timestamp string, cwd ...string,
) *SessionBuilder {
	b.lines = append(b.lines,
		ClaudeUserJSON(content, timestamp, cwd...))
	return b
}

// AddRaw appends an arbitrary line.
func (b *SessionBuilder) AddRaw(line string) *SessionBuilder {
	b.lines = append(b.lines, line)
	return b
}

// String returns the JSONL content with a trailing newline.
func (b *SessionBuilder) String() string {
	return JoinJSONL(b.lines...)
}

func claudeAssistant(
	blocks []map[string]any, timestamp string,
) string {
	m := map[string]any{
		"type":      "assistant",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":    "assistant",
			"content": blocks,
		},
	}
	return mustMarshal(m)
}

func toolUseBlock(
	id, name string, input map[string]any,
) map[string]any {
	return map[string]any{
		"type":  "tool_use",
		"id":    id,
		"name":  name,
		"input": input,
	}
}

func toolResultBlock(id, text string) map[string]any {
	return map[string]any{
		"type":        "tool_result",
		"tool_use_id": id,
		"content":     text,
	}
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
