// Package toolname normalizes each provider's raw tool identifiers into a
// closed canonical set and renders the one-line summary shown in place of
// a tool's raw arguments.
package toolname

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Canonical tool names. This set is closed: adapters must map every raw
// provider tool identifier onto one of these, or pass it through verbatim
// as a last resort (still rendered, never dropped).
const (
	Read         = "Read"
	Write        = "Write"
	Edit         = "Edit"
	MultiEdit    = "MultiEdit"
	Delete       = "Delete"
	Bash         = "Bash"
	Glob         = "Glob"
	Grep         = "Grep"
	LS           = "LS"
	WebSearch    = "WebSearch"
	WebFetch     = "WebFetch"
	TodoWrite    = "TodoWrite"
	SaveMemory   = "SaveMemory"
	Task         = "Task"
	ExitPlanMode = "ExitPlanMode"
	NotebookEdit = "NotebookEdit"
	MCPTool      = "MCPTool"
	SemSearch    = "SemSearch"
)

// nameTable maps a lower-cased raw provider tool identifier to its
// canonical name, mirroring the teacher's static TokenMapping tables.
var nameTable = map[string]string{
	"read_file": Read, "readfile": Read, "readmanyfiles": Read, "read": Read,
	"write_file": Write, "writefile": Write, "write": Write,
	"edit_file": Edit, "replace": Edit, "edit": Edit, "str_replace_editor": Edit,
	"multiedit": MultiEdit, "multi_edit": MultiEdit,
	"delete_file": Delete, "delete": Delete, "rm": Delete,
	"shell": Bash, "run_terminal_command": Bash, "exec_command": Bash,
	"execute_command": Bash, "local_shell": Bash, "bash": Bash,
	"find_files": Glob, "glob": Glob,
	"search_file_content": Grep, "codebase_search": Grep, "searchtext": Grep, "grep": Grep,
	"list_directory": LS, "list_dir": LS, "readfolder": LS, "ls": LS,
	"google_web_search": WebSearch, "web_search": WebSearch, "googlesearch": WebSearch, "websearch": WebSearch,
	"web_fetch": WebFetch, "fetch": WebFetch, "webfetch": WebFetch,
	"todo_write": TodoWrite, "todowrite": TodoWrite,
	"save_memory": SaveMemory, "savememory": SaveMemory,
	"task": Task,
	"exit_plan_mode": ExitPlanMode, "exitplanmode": ExitPlanMode,
	"notebook_edit": NotebookEdit, "notebookedit": NotebookEdit,
	"mcp_tool_call": MCPTool, "mcptool": MCPTool,
	"sem_search": SemSearch, "semantic_search": SemSearch, "semsearch": SemSearch,
	// apply_patch is handled specially in Normalize, but its canonical
	// target must still round-trip: a second Normalize("Edit", ...) pass
	// must not bounce it back to apply_patch handling.
}

func init() {
	// Guarantee idempotency for every canonical name: normalizing an
	// already-canonical name must return the same name.
	canonical := []string{
		Read, Write, Edit, MultiEdit, Delete, Bash, Glob, Grep, LS,
		WebSearch, WebFetch, TodoWrite, SaveMemory, Task, ExitPlanMode,
		NotebookEdit, MCPTool, SemSearch,
	}
	for _, name := range canonical {
		key := strings.ToLower(name)
		if _, ok := nameTable[key]; !ok {
			nameTable[key] = name
		}
	}
}

// fileTargeted is the set of canonical names whose primary argument is a
// single file path.
var fileTargeted = map[string]bool{
	Read: true, Write: true, Edit: true, MultiEdit: true, Delete: true,
	LS: true, Glob: true, NotebookEdit: true,
}

// Normalize maps a raw provider tool name and its raw argument map onto a
// canonical name and a canonicalized argument map. Unknown raw names pass
// through unchanged (still visible, never dropped) so that new/unlisted
// provider tools remain renderable.
func Normalize(rawName string, rawInput map[string]any) (string, map[string]any) {
	if rawName == "apply_patch" {
		return Edit, normalizeInput(Edit, rawInput)
	}
	if rawName == "mcp_tool_call" {
		return MCPTool, normalizeInput(MCPTool, rawInput)
	}
	key := strings.ToLower(strings.TrimSpace(rawName))
	name, ok := nameTable[key]
	if !ok {
		name = rawName
	}
	return name, normalizeInput(name, rawInput)
}

func normalizeInput(name string, rawInput map[string]any) map[string]any {
	out := make(map[string]any, len(rawInput))
	for k, v := range rawInput {
		out[k] = v
	}

	if fileTargeted[name] {
		if v, ok := firstPresent(out, "file_path", "path", "file"); ok {
			delete(out, "path")
			delete(out, "file")
			out["file_path"] = v
		}
	}

	switch name {
	case Bash:
		if v, ok := firstPresent(out, "command", "cmd", "script"); ok {
			delete(out, "cmd")
			delete(out, "script")
			out["command"] = v
		}
	case Grep, SemSearch:
		if v, ok := firstPresent(out, "pattern", "query", "search"); ok {
			delete(out, "query")
			delete(out, "search")
			out["pattern"] = v
		}
	case WebSearch:
		if v, ok := firstPresent(out, "query"); ok {
			out["query"] = v
		}
	}

	return out
}

func firstPresent(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Render produces the one-line summary shown in place of a tool_use
// event's raw arguments.
func Render(name string, input map[string]any) string {
	switch name {
	case Edit:
		if changes, ok := input["changes"].(map[string]any); ok {
			return renderApplyPatch(changes)
		}
		return fmt.Sprintf("**%s** `%s`", name, collapsePath(stringField(input, "file_path")))
	case Read, Write, MultiEdit, Delete, LS, NotebookEdit, Glob:
		return fmt.Sprintf("**%s** `%s`", name, collapsePath(stringField(input, "file_path")))
	case Bash:
		return fmt.Sprintf("**Bash** `%s`", truncate(stringField(input, "command"), 40))
	case Grep, SemSearch:
		return fmt.Sprintf("**%s** `%s`", name, stringField(input, "pattern"))
	case WebSearch:
		return fmt.Sprintf("**WebSearch** `%s`", stringField(input, "query"))
	case WebFetch:
		return fmt.Sprintf("**WebFetch** `%s`", stringField(input, "url"))
	case MCPTool:
		server := stringField(input, "server")
		tool := stringField(input, "tool")
		if server == "" {
			return "**MCPTool**"
		}
		return fmt.Sprintf("**MCPTool** `%s.%s`", server, tool)
	case TodoWrite:
		return "**TodoWrite**"
	case SaveMemory:
		return "**SaveMemory**"
	case Task:
		return "**Task**"
	case ExitPlanMode:
		return "**ExitPlanMode**"
	default:
		return fmt.Sprintf("**%s**", name)
	}
}

// renderApplyPatch renders apply_patch's per-file changes map. A single
// file renders as a plain tool line; multiple files render as a bulleted
// list capped at three entries, with the overflow count noted.
func renderApplyPatch(changes map[string]any) string {
	files := make([]string, 0, len(changes))
	for f := range changes {
		files = append(files, f)
	}
	sort.Strings(files)

	if len(files) == 0 {
		return "**Edit**"
	}
	if len(files) == 1 {
		f := files[0]
		return fmt.Sprintf("**%s** `%s`", patchOp(changes[f]), collapsePath(f))
	}

	const maxBullets = 3
	lines := make([]string, 0, maxBullets)
	for i, f := range files {
		if i >= maxBullets {
			break
		}
		lines = append(lines, fmt.Sprintf("- **%s** `%s`", patchOp(changes[f]), collapsePath(f)))
	}
	out := strings.Join(lines, "\n")
	if len(files) > maxBullets {
		out += fmt.Sprintf("\n… +%d more files", len(files)-maxBullets)
	}
	return out
}

// patchOp derives Write/Delete/Rename/Edit from an apply_patch per-file
// change entry's keys (add/delete/update, update.move_path).
func patchOp(change any) string {
	cm, ok := change.(map[string]any)
	if !ok {
		return Edit
	}
	if _, ok := cm["add"]; ok {
		return Write
	}
	if _, ok := cm["delete"]; ok {
		return Delete
	}
	if update, ok := cm["update"].(map[string]any); ok {
		if _, ok := update["move_path"]; ok {
			return "Rename"
		}
	}
	return Edit
}

func collapsePath(p string) string {
	if p == "" {
		return ""
	}
	if len(p) <= 40 {
		return p
	}
	slash := filepath.ToSlash(p)
	parts := strings.Split(slash, "/")
	if len(parts) >= 2 {
		return "…/" + strings.Join(parts[len(parts)-2:], "/")
	}
	return "…" + p[len(p)-37:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
