package parser

// ToolKind maps a raw tool name to the event kind its request
// produces. Tools that never touch file content report false.
func ToolKind(rawName string) (EventKind, bool) {
	switch rawName {
	// Claude Code tools
	case "Write":
		return KindWrite, true
	case "Edit", "MultiEdit":
		return KindEdit, true
	case "Read":
		return KindRead, true

	// Amp tools
	case "create_file":
		return KindWrite, true
	case "edit_file":
		return KindEdit, true
	case "look_at":
		return KindRead, true

	// Gemini tools
	case "write_file":
		return KindWrite, true
	case "replace":
		return KindEdit, true
	case "read_file":
		return KindRead, true

	// Cursor tools
	case "StrReplace":
		return KindEdit, true

	default:
		return "", false
	}
}

// Field name variants used by the supported agents' tool inputs.
var (
	pathFields    = []string{"file_path", "path", "filePath", "absolute_path"}
	contentFields = []string{"content", "file_text"}
	oldFields     = []string{"old_string", "old_str", "oldString"}
	newFields     = []string{"new_string", "new_str", "newString"}
)
