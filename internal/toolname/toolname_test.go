package toolname

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKnownAliases(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"read_file", Read},
		{"readfile", Read},
		{"write_file", Write},
		{"replace", Edit},
		{"shell", Bash},
		{"run_terminal_command", Bash},
		{"search_file_content", Grep},
		{"codebase_search", Grep},
		{"list_directory", LS},
		{"google_web_search", WebSearch},
		{"web_fetch", WebFetch},
		{"find_files", Glob},
	}
	for _, c := range cases {
		name, _ := Normalize(c.raw, nil)
		assert.Equal(t, c.want, name, "raw=%s", c.raw)
	}
}

func TestNormalizeUnknownPassesThrough(t *testing.T) {
	name, _ := Normalize("some_future_tool", map[string]any{"x": 1})
	assert.Equal(t, "some_future_tool", name)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raws := []string{
		"read_file", "write_file", "edit_file", "multiedit", "delete_file",
		"shell", "find_files", "search_file_content", "list_directory",
		"google_web_search", "web_fetch", "todo_write", "save_memory",
		"task", "exit_plan_mode", "notebook_edit", "mcp_tool_call", "sem_search",
	}
	for _, raw := range raws {
		name1, input1 := Normalize(raw, map[string]any{"file_path": "a.go", "extra": "x"})
		name2, input2 := Normalize(name1, input1)
		assert.Equal(t, name1, name2, "raw=%s not idempotent on name", raw)
		assert.Equal(t, input1, input2, "raw=%s not idempotent on input", raw)
	}
}

func TestNormalizeApplyPatchMapsToEdit(t *testing.T) {
	changes := map[string]any{
		"a.ts": map[string]any{"add": map[string]any{"content": "x"}},
	}
	name, input := Normalize("apply_patch", map[string]any{"changes": changes})
	require.Equal(t, Edit, name)
	assert.Equal(t, changes, input["changes"])

	// idempotent: re-normalizing the result (now named "Edit") is stable.
	name2, input2 := Normalize(name, input)
	assert.Equal(t, name, name2)
	assert.Equal(t, input, input2)
}

func TestNormalizeInputAliasesFilePath(t *testing.T) {
	_, input := Normalize("read_file", map[string]any{"path": "foo.go"})
	assert.Equal(t, "foo.go", input["file_path"])
	_, hasPath := input["path"]
	assert.False(t, hasPath)
}

func TestNormalizeInputAliasesCommand(t *testing.T) {
	_, input := Normalize("shell", map[string]any{"cmd": "ls -la"})
	assert.Equal(t, "ls -la", input["command"])
}

func TestRenderSingleFileTool(t *testing.T) {
	s := Render(Read, map[string]any{"file_path": "main.go"})
	assert.Equal(t, "**Read** `main.go`", s)
}

func TestRenderBash(t *testing.T) {
	s := Render(Bash, map[string]any{"command": "go test ./..."})
	assert.Equal(t, "**Bash** `go test ./...`", s)
}

func TestRenderBashTruncatesAt40(t *testing.T) {
	cmd := "find . -type f -name '*.go' -exec grep -l TODO {} +"
	s := Render(Bash, map[string]any{"command": cmd})
	assert.Equal(t, "**Bash** `"+cmd[:40]+"…`", s)
}

func TestRenderApplyPatchSingleFile(t *testing.T) {
	changes := map[string]any{
		"src/a.ts": map[string]any{"add": map[string]any{"content": "x"}},
	}
	s := Render(Edit, map[string]any{"changes": changes})
	assert.Equal(t, "**Write** `src/a.ts`", s)
}

func TestRenderApplyPatchMultipleFilesCaps(t *testing.T) {
	changes := map[string]any{
		"a.ts": map[string]any{"update": map[string]any{}},
		"b.ts": map[string]any{"delete": map[string]any{}},
		"c.ts": map[string]any{"add": map[string]any{}},
		"d.ts": map[string]any{"add": map[string]any{}},
	}
	s := Render(Edit, map[string]any{"changes": changes})
	assert.Contains(t, s, "… +1 more files")
	assert.Contains(t, s, "**Delete** `b.ts`")
}

func TestRenderApplyPatchRename(t *testing.T) {
	changes := map[string]any{
		"old.ts": map[string]any{"update": map[string]any{"move_path": "new.ts"}},
	}
	s := Render(Edit, map[string]any{"changes": changes})
	assert.Equal(t, "**Rename** `old.ts`", s)
}

func TestCollapseLongPath(t *testing.T) {
	long := "some/deeply/nested/project/structure/path/to/file.go"
	s := Render(Read, map[string]any{"file_path": long})
	assert.Contains(t, s, "…/")
	assert.Contains(t, s, "file.go")
}
