package parser

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wesm/sessionrestore/internal/testjsonl"
)

const testFile = testRoot + "/a.txt"

func keyAt(ts string, line, seq int) OrderKey {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return OrderKey{Time: t, Line: line, Seq: seq}
}

func assertEvents(t *testing.T, want, got []Event) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_WriteRequest(t *testing.T) {
	events, skips := extractAll(t, newTestExtractor(),
		testjsonl.ClaudeWriteJSON("t1", testFile, "hello", tsEarly),
	)
	assertEvents(t, []Event{{
		Path:    testFile,
		Kind:    KindWrite,
		Key:     keyAt(tsEarly, 1, 0),
		Tool:    "Write",
		Origin:  OriginRequest,
		Content: "hello",
	}}, events)
	assert.Zero(t, skips.Total())
}

func TestExtract_EmptyWrite(t *testing.T) {
	events, _ := extractAll(t, newTestExtractor(),
		testjsonl.ClaudeWriteJSON("t1", testFile, "", tsEarly),
	)
	require.Len(t, events, 1)
	assert.Equal(t, KindWrite, events[0].Kind)
	assert.Empty(t, events[0].Content)
}

func TestExtract_EditRequest(t *testing.T) {
	events, _ := extractAll(t, newTestExtractor(),
		testjsonl.ClaudeEditJSON("e1", testFile, "a", "b", true, tsEarly),
	)
	assertEvents(t, []Event{{
		Path:        testFile,
		Kind:        KindEdit,
		Key:         keyAt(tsEarly, 1, 0),
		Tool:        "Edit",
		Origin:      OriginRequest,
		OldFragment: "a",
		NewFragment: "b",
		ReplaceAll:  true,
	}}, events)
}

func TestExtract_MultiEdit(t *testing.T) {
	events, skips := extractAll(t, newTestExtractor(),
		testjsonl.ClaudeMultiEditJSON("m1", testFile, []testjsonl.EditSpec{
			{Old: "one", New: "1"},
			{Old: "two", New: "2", ReplaceAll: true},
		}, tsEarly),
	)
	require.Len(t, events, 2)
	assert.Zero(t, skips.Total())
	for i, ev := range events {
		assert.Equal(t, KindEdit, ev.Kind)
		assert.Equal(t, "MultiEdit", ev.Tool)
		assert.Equal(t, i, ev.Key.Seq)
	}
	assert.Equal(t, "one", events[0].OldFragment)
	assert.False(t, events[0].ReplaceAll)
	assert.Equal(t, "2", events[1].NewFragment)
	assert.True(t, events[1].ReplaceAll)
}

func TestExtract_OtherAgentTools(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input map[string]any
		want  Event
	}{
		{
			"gemini write_file",
			"write_file",
			map[string]any{"file_path": testFile, "content": "x"},
			Event{Kind: KindWrite, Content: "x"},
		},
		{
			"amp create_file",
			"create_file",
			map[string]any{"path": testFile, "content": "y"},
			Event{Kind: KindWrite, Content: "y"},
		},
		{
			"amp edit_file",
			"edit_file",
			map[string]any{
				"path": testFile, "old_str": "a", "new_str": "b",
			},
			Event{Kind: KindEdit, OldFragment: "a", NewFragment: "b"},
		},
		{
			"gemini replace",
			"replace",
			map[string]any{
				"file_path": testFile, "old_string": "c",
				"new_string": "d",
			},
			Event{Kind: KindEdit, OldFragment: "c", NewFragment: "d"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, _ := extractAll(t, newTestExtractor(),
				testjsonl.ClaudeToolUseJSON("id1", tt.tool, tt.input, tsEarly),
			)
			want := tt.want
			want.Path = testFile
			want.Key = keyAt(tsEarly, 1, 0)
			want.Tool = tt.tool
			want.Origin = OriginRequest
			assertEvents(t, []Event{want}, events)
		})
	}
}

func TestExtract_ReadResult(t *testing.T) {
	tests := []struct {
		name        string
		startLine   int
		numLines    int
		totalLines  int
		wantPartial bool
	}{
		{"full", 1, 3, 3, false},
		{"window from start", 1, 2, 3, true},
		{"window from middle", 40, 3, 100, true},
		{"no totals", 1, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, skips := extractAll(t, newTestExtractor(),
				testjsonl.ClaudeReadJSON("r1", testFile, 0, 0, tsEarly),
				testjsonl.ClaudeReadResultJSON(
					"r1", testFile, "a\nb\nc",
					tt.startLine, tt.numLines, tt.totalLines,
					tsEarlyS1,
				),
			)
			assertEvents(t, []Event{{
				Path:    testFile,
				Kind:    KindRead,
				Key:     keyAt(tsEarlyS1, 2, 0),
				Tool:    "Read",
				Origin:  OriginResult,
				Content: "a\nb\nc",
				Partial: tt.wantPartial,
			}}, events)
			assert.Zero(t, skips.Total())
		})
	}
}

func TestExtract_TextReadResult(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		events, _ := extractAll(t, newTestExtractor(),
			testjsonl.ClaudeReadJSON("r1", testFile, 0, 0, tsEarly),
			testjsonl.ClaudeToolResultTextJSON(
				"r1", testjsonl.CatN("x := 1\n\ny := 2", 1), tsEarlyS1,
			),
		)
		require.Len(t, events, 1)
		assert.Equal(t, KindRead, events[0].Kind)
		assert.Equal(t, "x := 1\n\ny := 2", events[0].Content)
		assert.False(t, events[0].Partial)
		assert.Equal(t, OriginResult, events[0].Origin)
	})

	t.Run("windowed request", func(t *testing.T) {
		events, _ := extractAll(t, newTestExtractor(),
			testjsonl.ClaudeReadJSON("r1", testFile, 10, 5, tsEarly),
			testjsonl.ClaudeToolResultTextJSON(
				"r1", testjsonl.CatN("mid", 10), tsEarlyS1,
			),
		)
		require.Len(t, events, 1)
		assert.True(t, events[0].Partial)
		assert.Equal(t, "mid", events[0].Content)
	})

	t.Run("answered once", func(t *testing.T) {
		result := testjsonl.ClaudeToolResultTextJSON(
			"r1", testjsonl.CatN("once", 1), tsEarlyS1,
		)
		events, skips := extractAll(t, newTestExtractor(),
			testjsonl.ClaudeReadJSON("r1", testFile, 0, 0, tsEarly),
			result,
			result,
		)
		assert.Len(t, events, 1)
		assert.Equal(t, 1, skips[SkipNoShape])
	})

	t.Run("unknown id", func(t *testing.T) {
		events, skips := extractAll(t, newTestExtractor(),
			testjsonl.ClaudeToolResultTextJSON(
				"nope", testjsonl.CatN("x", 1), tsEarly,
			),
		)
		assert.Empty(t, events)
		assert.Equal(t, 1, skips[SkipNoShape])
	})

	t.Run("error result", func(t *testing.T) {
		errResult := `{"type":"user","timestamp":"` + tsEarlyS1 +
			`","message":{"role":"user","content":[{"type":"tool_result",` +
			`"tool_use_id":"r1","is_error":true,` +
			`"content":"     1→not really"}]}}`
		events, skips := extractAll(t, newTestExtractor(),
			testjsonl.ClaudeReadJSON("r1", testFile, 0, 0, tsEarly),
			errResult,
		)
		assert.Empty(t, events)
		assert.Equal(t, 1, skips[SkipMissingField])
	})

	t.Run("array content", func(t *testing.T) {
		arr := `{"type":"user","timestamp":"` + tsEarlyS1 +
			`","message":{"role":"user","content":[{"type":"tool_result",` +
			`"tool_use_id":"r1","content":[{"type":"text",` +
			`"text":"     1→first\n     2→second"}]}]}}`
		events, _ := extractAll(t, newTestExtractor(),
			testjsonl.ClaudeReadJSON("r1", testFile, 0, 0, tsEarly),
			arr,
		)
		require.Len(t, events, 1)
		assert.Equal(t, "first\nsecond", events[0].Content)
	})
}

func TestExtract_CreateResult(t *testing.T) {
	for _, kind := range []string{"create", "update"} {
		t.Run(kind, func(t *testing.T) {
			events, _ := extractAll(t, newTestExtractor(),
				testjsonl.ClaudeCreateResultJSON(
					"w1", kind, testFile, "body", tsEarly,
				),
			)
			assertEvents(t, []Event{{
				Path:    testFile,
				Kind:    KindWrite,
				Key:     keyAt(tsEarly, 1, 0),
				Tool:    "Write",
				Origin:  OriginResult,
				Content: "body",
			}}, events)
		})
	}
}

func TestExtract_EditResult(t *testing.T) {
	events, _ := extractAll(t, newTestExtractor(),
		testjsonl.ClaudeEditResultJSON(
			"e1", testFile, "hello world", "world", "there", false,
			tsEarly,
		),
	)
	assertEvents(t, []Event{
		{
			Path:    testFile,
			Kind:    KindRead,
			Key:     keyAt(tsEarly, 1, 0),
			Tool:    "Edit",
			Origin:  OriginResult,
			Content: "hello world",
		},
		{
			Path:        testFile,
			Kind:        KindEdit,
			Key:         keyAt(tsEarly, 1, 1),
			Tool:        "Edit",
			Origin:      OriginResult,
			OldFragment: "world",
			NewFragment: "there",
		},
	}, events)
}

func TestExtract_EditResultFallsBackToRequest(t *testing.T) {
	bare := `{"type":"user","timestamp":"` + tsEarlyS1 +
		`","message":{"role":"user","content":[{"type":"tool_result",` +
		`"tool_use_id":"e1","content":"ok"}]},` +
		`"toolUseResult":{"filePath":"` + testFile +
		`","originalFile":"abc"}}`

	events, _ := extractAll(t, newTestExtractor(),
		testjsonl.ClaudeEditJSON("e1", testFile, "a", "A", false, tsEarly),
		bare,
	)
	require.Len(t, events, 3)
	assert.Equal(t, OriginRequest, events[0].Origin)
	assert.Equal(t, KindRead, events[1].Kind)
	assert.Equal(t, "abc", events[1].Content)
	assert.Equal(t, KindEdit, events[2].Kind)
	assert.Equal(t, OriginResult, events[2].Origin)
	assert.Equal(t, "a", events[2].OldFragment)
	assert.Equal(t, keyAt(tsEarlyS1, 2, 1), events[2].Key)
}

func TestExtract_EditResultNullOriginal(t *testing.T) {
	line := `{"type":"user","timestamp":"` + tsEarly +
		`","toolUseResult":{"filePath":"` + testFile +
		`","originalFile":null,"oldString":"","newString":"x"}}`
	events, skips := extractAll(t, newTestExtractor(), line)
	assert.Empty(t, events)
	assert.Zero(t, skips.Total())
}

func TestExtract_Skips(t *testing.T) {
	tests := []struct {
		name string
		line string
		want SkipReason
	}{
		{"not json", "not json at all", SkipDecode},
		{"truncated", `{"type":"assistant","message":{`, SkipDecode},
		{
			"plain message",
			testjsonl.ClaudeUserJSON("hi", tsEarly),
			SkipNoShape,
		},
		{
			"other tool",
			testjsonl.ClaudeToolUseJSON("b1", "Bash",
				map[string]any{"command": "ls"}, tsEarly),
			SkipNoShape,
		},
		{
			"write without content",
			testjsonl.ClaudeToolUseJSON("w1", "Write",
				map[string]any{"file_path": testFile}, tsEarly),
			SkipMissingField,
		},
		{
			"write without path",
			testjsonl.ClaudeToolUseJSON("w1", "Write",
				map[string]any{"content": "x"}, tsEarly),
			SkipMissingField,
		},
		{
			"edit without new string",
			testjsonl.ClaudeToolUseJSON("e1", "Edit",
				map[string]any{"file_path": testFile, "old_string": "x"},
				tsEarly),
			SkipMissingField,
		},
		{
			"non-string content",
			testjsonl.ClaudeToolUseJSON("w1", "Write",
				map[string]any{"file_path": testFile, "content": 42},
				tsEarly),
			SkipMissingField,
		},
		{
			"out of root",
			testjsonl.ClaudeWriteJSON("w1", "/etc/hosts", "x", tsEarly),
			SkipOutOfRoot,
		},
		{
			"excluded",
			testjsonl.ClaudeWriteJSON("w1",
				testRoot+"/extract_files.py", "x", tsEarly),
			SkipExcluded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestExtractor().Extract(tt.line, Position{Line: 1})
			assert.True(t, res.Skipped())
			assert.Empty(t, res.Events)
			assert.Equal(t, []SkipReason{tt.want}, res.Skips)
		})
	}
}

func TestExtract_MixedRecord(t *testing.T) {
	line := `{"type":"assistant","timestamp":"` + tsEarly +
		`","message":{"role":"assistant","content":[` +
		`{"type":"text","text":"writing two files"},` +
		`{"type":"tool_use","id":"w1","name":"Write","input":` +
		`{"file_path":"/tmp/out.txt","content":"x"}},` +
		`{"type":"tool_use","id":"w2","name":"Write","input":` +
		`{"file_path":"` + testFile + `","content":"y"}}]}}`

	res := newTestExtractor().Extract(line, Position{Line: 7})
	require.Len(t, res.Events, 1)
	assert.False(t, res.Skipped())
	assert.Equal(t, "y", res.Events[0].Content)
	assert.Equal(t, 0, res.Events[0].Key.Seq)
	assert.Equal(t, []SkipReason{SkipOutOfRoot}, res.Skips)
}

func TestExtract_RelativePaths(t *testing.T) {
	line := `{"type":"assistant","timestamp":"` + tsEarly +
		`","cwd":"` + testRoot + `/sub","message":{"role":"assistant",` +
		`"content":[{"type":"tool_use","id":"w1","name":"Write",` +
		`"input":{"file_path":"pkg/../main.go","content":"x"}}]}}`

	res := newTestExtractor().Extract(line, Position{Line: 1})
	require.Len(t, res.Events, 1)
	assert.Equal(t, testRoot+"/sub/main.go", res.Events[0].Path)
}

func TestExtract_TimestampCarryForward(t *testing.T) {
	x := newTestExtractor()
	x.Extract(testjsonl.ClaudeUserJSON("go", tsEarly), Position{Line: 1})

	res := x.Extract(
		testjsonl.ClaudeWriteJSON("w1", testFile, "x", ""),
		Position{Line: 2},
	)
	require.Len(t, res.Events, 1)
	assert.True(t, res.Events[0].Key.Time.Equal(testEarlyUTC))
	assert.Equal(t, 2, res.Events[0].Key.Line)

	// Another source does not inherit source 0's clock.
	res = x.Extract(
		testjsonl.ClaudeWriteJSON("w2", testFile, "y", ""),
		Position{Source: 1, Line: 1},
	)
	require.Len(t, res.Events, 1)
	assert.True(t, res.Events[0].Key.Time.IsZero())
	assert.Equal(t, 1, res.Events[0].Key.Source)
}

func TestExtract_BadTimestampLogged(t *testing.T) {
	buf := captureLog(t)
	x := newTestExtractor()
	x.Extract(testjsonl.ClaudeUserJSON("go", tsEarly), Position{Line: 1})

	res := x.Extract(
		testjsonl.ClaudeWriteJSON("w1", testFile, "x", "yesterday"),
		Position{Line: 2},
	)
	require.Len(t, res.Events, 1)
	assert.True(t, res.Events[0].Key.Time.Equal(testEarlyUTC))
	assertLogContains(t, buf, "unparseable timestamp", "yesterday")
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"empty", "", time.Time{}},
		{"RFC3339", "2024-01-01T10:00:00Z", testEarlyUTC},
		{
			"millis",
			"2024-01-01T10:00:00.250Z",
			testEarlyUTC.Add(250 * time.Millisecond),
		},
		{"offset", "2024-01-01T15:00:00+05:00", testEarlyUTC},
		{"no zone", "2024-01-01T10:00:00", testEarlyUTC},
		{"space separated", "2024-01-01 10:00:00", testEarlyUTC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			got := parseTimestamp(tt.input)
			if !got.Equal(tt.want) {
				t.Errorf("parseTimestamp(%q) = %v, want %v",
					tt.input, got, tt.want)
			}
			assertLogEmpty(t, buf)
		})
	}
}
