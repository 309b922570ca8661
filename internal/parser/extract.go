package parser

import (
	"log"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// readRequest is a Read tool_use remembered until its result
// arrives, so a result that only carries text can be attributed.
type readRequest struct {
	path    string
	tool    string
	partial bool
}

// Extractor turns decoded log records into file events. It keeps
// the Read and Edit requests it has seen and the last timestamp of
// each source, so one Extractor must see a source's records in
// order.
type Extractor struct {
	filter   PathFilter
	reads    map[string]readRequest
	edits    map[string][]Event
	lastTime map[int]time.Time
}

// NewExtractor returns an Extractor that drops events whose path
// the filter rejects.
func NewExtractor(filter PathFilter) *Extractor {
	return &Extractor{
		filter:   filter,
		reads:    make(map[string]readRequest),
		edits:    make(map[string][]Event),
		lastTime: make(map[int]time.Time),
	}
}

// SeedTime sets the time given to source's records that carry no
// timestamp of their own, until the source records one. A zero t
// is ignored.
func (x *Extractor) SeedTime(source int, t time.Time) {
	if !t.IsZero() {
		x.lastTime[source] = t
	}
}

// Position locates a record in the run's input.
type Position struct {
	Source int
	Line   int
}

// record carries per-record extraction state.
type record struct {
	x       *Extractor
	cwd     string
	key     OrderKey
	content gjson.Result // message.content
	out     Extraction
}

func (r *record) skip(reason SkipReason) {
	r.out.Skips = append(r.out.Skips, reason)
}

// emit filters the event path and appends the event with the
// next sequence number. It reports whether the event was kept.
func (r *record) emit(ev Event) bool {
	path, reason := r.x.filter.Accept(ev.Path, r.cwd)
	if reason != "" {
		r.skip(reason)
		return false
	}
	ev.Path = path
	ev.Key = r.key
	ev.Key.Seq = len(r.out.Events)
	r.out.Events = append(r.out.Events, ev)
	return true
}

// resultIDs returns the tool_use ids answered by tool_result
// blocks in the record.
func (r *record) resultIDs() []string {
	var ids []string
	if !r.content.IsArray() {
		return nil
	}
	r.content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").Str == "tool_result" {
			if id := block.Get("tool_use_id").Str; id != "" {
				ids = append(ids, id)
			}
		}
		return true
	})
	return ids
}

// Extract decodes one JSONL line and returns the events it
// encodes. Lines that are not valid JSON, or that carry no
// recognizable file action, yield no events and a skip reason.
func (x *Extractor) Extract(line string, pos Position) Extraction {
	if !gjson.Valid(line) {
		return Extraction{Skips: []SkipReason{SkipDecode}}
	}
	rec := gjson.Parse(line)

	ts := parseTimestamp(rec.Get("timestamp").Str)
	if ts.IsZero() {
		ts = x.lastTime[pos.Source]
	} else {
		x.lastTime[pos.Source] = ts
	}

	r := &record{
		x:       x,
		cwd:     rec.Get("cwd").Str,
		key:     OrderKey{Time: ts, Source: pos.Source, Line: pos.Line},
		content: rec.Get("message.content"),
	}

	matched := x.extractRequests(r)
	if x.extractResult(r, rec.Get("toolUseResult")) {
		matched = true
	} else if x.extractTextResults(r) {
		matched = true
	}
	// Every answered request is settled once its result record
	// has been seen, whatever shape the result took.
	for _, id := range r.resultIDs() {
		delete(x.reads, id)
		delete(x.edits, id)
	}

	if !matched {
		r.skip(SkipNoShape)
	}
	return r.out
}

// extractRequests handles tool_use blocks in message content.
func (x *Extractor) extractRequests(r *record) bool {
	if !r.content.IsArray() {
		return false
	}
	matched := false
	r.content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").Str != "tool_use" {
			return true
		}
		name := block.Get("name").Str
		kind, ok := ToolKind(name)
		if !ok {
			return true
		}
		matched = true
		input := block.Get("input")
		switch kind {
		case KindWrite:
			x.writeRequest(r, name, input)
		case KindEdit:
			x.editRequest(r, name, block.Get("id").Str, input)
		case KindRead:
			x.readRequest(r, name, block.Get("id").Str, input)
		}
		return true
	})
	return matched
}

func (x *Extractor) writeRequest(
	r *record, name string, input gjson.Result,
) {
	path := firstString(input, pathFields)
	content, ok := stringField(input, contentFields)
	if path == "" || !ok {
		r.skip(SkipMissingField)
		return
	}
	r.emit(Event{
		Path:    path,
		Kind:    KindWrite,
		Tool:    name,
		Origin:  OriginRequest,
		Content: content,
	})
}

// editRequest emits one Edit per replacement in the request and
// remembers them until the result arrives.
func (x *Extractor) editRequest(
	r *record, name, id string, input gjson.Result,
) {
	path := firstString(input, pathFields)
	if path == "" {
		r.skip(SkipMissingField)
		return
	}
	var kept []Event
	for _, ev := range editEvents(r, path, name, OriginRequest, input) {
		if r.emit(ev) {
			kept = append(kept, r.out.Events[len(r.out.Events)-1])
		}
	}
	if id != "" && len(kept) > 0 {
		x.edits[id] = kept
	}
}

// editEvents reads replacements from obj, which is either a single
// replacement or carries an edits array. Entries with missing
// fragments are skipped.
func editEvents(
	r *record, path, tool string, origin Origin, obj gjson.Result,
) []Event {
	list := obj.Get("edits")
	if !list.IsArray() {
		list = gjson.Parse("[" + obj.Raw + "]")
	}
	var evs []Event
	list.ForEach(func(_, e gjson.Result) bool {
		oldStr, okOld := stringField(e, oldFields)
		newStr, okNew := stringField(e, newFields)
		if !okOld || !okNew {
			r.skip(SkipMissingField)
			return true
		}
		evs = append(evs, Event{
			Path:        path,
			Kind:        KindEdit,
			Tool:        tool,
			Origin:      origin,
			OldFragment: oldStr,
			NewFragment: newStr,
			ReplaceAll: e.Get("replace_all").Bool() ||
				e.Get("replaceAll").Bool(),
		})
		return true
	})
	return evs
}

// readRequest remembers a Read so a text-only result can be
// attributed. The request itself carries no content.
func (x *Extractor) readRequest(
	r *record, name, id string, input gjson.Result,
) {
	path := firstString(input, pathFields)
	if id == "" || path == "" {
		r.skip(SkipMissingField)
		return
	}
	x.reads[id] = readRequest{
		path: r.x.filter.Canonicalize(path, r.cwd),
		tool: name,
		partial: input.Get("offset").Exists() ||
			input.Get("limit").Exists(),
	}
}

// extractResult handles the structured toolUseResult object.
func (x *Extractor) extractResult(
	r *record, res gjson.Result,
) bool {
	if !res.IsObject() {
		return false
	}
	if file := res.Get("file"); file.IsObject() {
		x.readResult(r, file)
		return true
	}

	switch res.Get("type").Str {
	case "create", "update":
		path := res.Get("filePath").Str
		content := res.Get("content")
		if path == "" || content.Type != gjson.String {
			r.skip(SkipMissingField)
			return true
		}
		r.emit(Event{
			Path:    path,
			Kind:    KindWrite,
			Tool:    "Write",
			Origin:  OriginResult,
			Content: content.Str,
		})
		return true
	}

	if res.Get("originalFile").Exists() {
		x.editResult(r, res)
		return true
	}
	return false
}

// readResult handles toolUseResult.file from a Read.
func (x *Extractor) readResult(r *record, file gjson.Result) {
	path := file.Get("filePath").Str
	content := file.Get("content")
	if path == "" || content.Type != gjson.String {
		r.skip(SkipMissingField)
		return
	}
	startLine := file.Get("startLine").Int()
	numLines := file.Get("numLines").Int()
	totalLines := file.Get("totalLines").Int()
	partial := startLine > 1 ||
		(numLines > 0 && totalLines > 0 && numLines < totalLines)
	r.emit(Event{
		Path:    path,
		Kind:    KindRead,
		Tool:    "Read",
		Origin:  OriginResult,
		Content: content.Str,
		Partial: partial,
	})
}

// editResult handles the result of an Edit: the pre-edit
// snapshot, then the replacements it reports. Emitting both from
// the same record keeps a snapshot that arrives after the request
// from erasing the edit. Results that omit the replacements fall
// back to the remembered request.
func (x *Extractor) editResult(r *record, res gjson.Result) {
	path := res.Get("filePath").Str
	if path == "" {
		r.skip(SkipMissingField)
		return
	}
	orig := res.Get("originalFile")
	if orig.Type != gjson.String {
		// A null snapshot means the file did not exist yet.
		return
	}
	if !r.emit(Event{
		Path:    path,
		Kind:    KindRead,
		Tool:    "Edit",
		Origin:  OriginResult,
		Content: orig.Str,
	}) {
		return
	}

	hasFragments := res.Get("edits").IsArray() ||
		(res.Get("oldString").Exists() && res.Get("newString").Exists())
	if hasFragments {
		for _, ev := range editEvents(r, path, "Edit", OriginResult, res) {
			r.emit(ev)
		}
		return
	}
	for _, id := range r.resultIDs() {
		for _, ev := range x.edits[id] {
			ev.Origin = OriginResult
			r.emit(ev)
		}
	}
}

// extractTextResults handles tool_result blocks answering a
// remembered Read when no structured result is present.
func (x *Extractor) extractTextResults(r *record) bool {
	if !r.content.IsArray() {
		return false
	}
	matched := false
	r.content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").Str != "tool_result" {
			return true
		}
		id := block.Get("tool_use_id").Str
		req, ok := x.reads[id]
		if !ok {
			return true
		}
		matched = true
		if block.Get("is_error").Bool() {
			r.skip(SkipMissingField)
			return true
		}
		body, ok := StripLineNumbers(toolResultText(block.Get("content")))
		if !ok {
			r.skip(SkipMissingField)
			return true
		}
		r.emit(Event{
			Path:    req.path,
			Kind:    KindRead,
			Tool:    req.tool,
			Origin:  OriginResult,
			Content: body,
			Partial: req.partial,
		})
		return true
	})
	return matched
}

// toolResultText flattens tool_result content, which is either a
// string or an array of text blocks.
func toolResultText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.Str
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").Str == "text" {
			parts = append(parts, block.Get("text").Str)
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func firstString(obj gjson.Result, fields []string) string {
	s, _ := stringField(obj, fields)
	return s
}

// stringField returns the first of fields that is present with a
// string value.
func stringField(obj gjson.Result, fields []string) (string, bool) {
	for _, f := range fields {
		v := obj.Get(f)
		if v.Type == gjson.String {
			return v.Str, true
		}
	}
	return "", false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp parses the log's timestamp formats, returning the
// zero time for empty or unrecognized values.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, ok := matchTimestamp(s); ok {
		return t
	}
	log.Printf("unparseable timestamp %q", s)
	return time.Time{}
}

func matchTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
