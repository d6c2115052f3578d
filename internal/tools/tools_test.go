package tools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func newTestWorkspace(t *testing.T, files map[string]string) *Workspace {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	ws, err := NewWorkspace(dir)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	return ws
}

func TestDefaultRegistry(t *testing.T) {
	ws := newTestWorkspace(t, nil)
	r := NewDefaultRegistry(ws, ExecConfig{})

	for _, kind := range AllKinds() {
		schema, ok := r.Lookup(string(kind))
		if !ok {
			t.Errorf("expected tool %s to be registered", kind)
			continue
		}
		if schema.Kind != kind {
			t.Errorf("schema for %s has kind %s", kind, schema.Kind)
		}
		if schema.Description == "" {
			t.Errorf("tool %s missing description", kind)
		}
	}

	if got := len(r.List()); got != len(AllKinds()) {
		t.Errorf("expected %d tools, got %d", len(AllKinds()), got)
	}
	if _, ok := r.Lookup("browser_action"); ok {
		t.Error("unexpected tool browser_action")
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewDefaultRegistry(newTestWorkspace(t, nil), ExecConfig{})
	list := r.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].Schema().Name > list[i].Schema().Name {
			t.Errorf("List not sorted: %s before %s", list[i-1].Schema().Name, list[i].Schema().Name)
		}
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(&AttemptCompletionTool{})
	r.Register(&AttemptCompletionTool{})
	if got := len(r.List()); got != 1 {
		t.Errorf("List() has %d tools after re-registering, want 1", got)
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewDefaultRegistry(newTestWorkspace(t, map[string]string{"a.txt": "hello"}), ExecConfig{})
	ctx := context.Background()

	t.Run("dispatches by name", func(t *testing.T) {
		got, err := r.Execute(ctx, "read_file", ReadFileParams{Path: "a.txt"})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if got != "hello" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		if _, err := r.Execute(ctx, "nope", ReadFileParams{Path: "a.txt"}); err == nil {
			t.Error("expected error for unknown tool")
		}
	})

	t.Run("params of another kind", func(t *testing.T) {
		if _, err := r.Execute(ctx, "read_file", ListFilesParams{}); err == nil {
			t.Error("expected error for mismatched params")
		}
	})
}

func TestPermissionLevelString(t *testing.T) {
	tests := []struct {
		level    PermissionLevel
		expected string
	}{
		{PermissionRead, "read"},
		{PermissionWrite, "write"},
		{PermissionExecute, "execute"},
		{PermissionLevel(99), "unknown"},
		{PermissionLevel(-1), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("PermissionLevel(%d).String() = %s, want %s", tt.level, got, tt.expected)
		}
	}
}

func TestKindValid(t *testing.T) {
	for _, k := range AllKinds() {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if Kind("bash").Valid() {
		t.Error("bash should not be a valid kind")
	}
}

func TestReadFileTool(t *testing.T) {
	content := "line 1\nline 2\nline 3\n"
	ws := newTestWorkspace(t, map[string]string{"test.txt": content})
	tool := &ReadFileTool{Workspace: ws}
	ctx := context.Background()

	if tool.Permission() != PermissionRead {
		t.Errorf("expected permission Read, got %v", tool.Permission())
	}

	result, err := tool.Execute(ctx, ReadFileParams{Path: "test.txt"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result != content {
		t.Errorf("expected %q, got %q", content, result)
	}

	result, err = tool.Execute(ctx, ReadFileParams{Path: "test.txt", StartLine: 2, EndLine: 2})
	if err != nil {
		t.Fatalf("Execute with line range failed: %v", err)
	}
	if !strings.Contains(result, "line 2") || strings.Contains(result, "line 1") {
		t.Errorf("unexpected range result %q", result)
	}

	if _, err := tool.Execute(ctx, ReadFileParams{Path: "missing.txt"}); err == nil {
		t.Error("expected error for nonexistent file")
	}
	if _, err := tool.Execute(ctx, ReadFileParams{Path: "../outside.txt"}); err == nil {
		t.Error("expected error for path outside the workspace")
	}
	if _, err := tool.Execute(ctx, ReadFileParams{Path: "."}); err == nil {
		t.Error("expected error for a directory")
	}
}

func TestWriteToFileTool(t *testing.T) {
	ws := newTestWorkspace(t, nil)
	tool := &WriteToFileTool{Workspace: ws}
	ctx := context.Background()

	if tool.Permission() != PermissionWrite {
		t.Errorf("expected permission Write, got %v", tool.Permission())
	}

	result, err := tool.Execute(ctx, WriteToFileParams{Path: "sub/dir/new.txt", Content: "one\ntwo\n"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.HasPrefix(result, "Created sub/dir/new.txt") {
		t.Errorf("unexpected result %q", result)
	}
	data, err := os.ReadFile(filepath.Join(ws.Root(), "sub", "dir", "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("file content = %q", data)
	}

	result, err = tool.Execute(ctx, WriteToFileParams{Path: "sub/dir/new.txt", Content: "one\nthree\n"})
	if err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if !strings.Contains(result, "1 insertion(s), 1 deletion(s)") {
		t.Errorf("expected diff summary, got %q", result)
	}
	if !strings.Contains(result, "-two") || !strings.Contains(result, "+three") {
		t.Errorf("expected diff lines, got %q", result)
	}

	result, err = tool.Execute(ctx, WriteToFileParams{Path: "sub/dir/new.txt", Content: "one\nthree\n"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(result, "No changes") {
		t.Errorf("expected no-change result, got %q", result)
	}

	if _, err := tool.Execute(ctx, WriteToFileParams{Path: "../escape.txt", Content: "x"}); err == nil {
		t.Error("expected error for path outside the workspace")
	}
}

func TestWriteToFileRefusesSymlink(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"target.txt": "original"})
	link := filepath.Join(ws.Root(), "link.txt")
	if err := os.Symlink(filepath.Join(ws.Root(), "target.txt"), link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	tool := &WriteToFileTool{Workspace: ws}
	if _, err := tool.Execute(context.Background(), WriteToFileParams{Path: "link.txt", Content: "x"}); err == nil {
		t.Error("expected error writing through a symlink")
	}
	data, _ := os.ReadFile(filepath.Join(ws.Root(), "target.txt"))
	if string(data) != "original" {
		t.Errorf("target modified: %q", data)
	}
}

func TestOpenForWriteDoesNotFollowLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no O_NOFOLLOW on windows")
	}
	ws := newTestWorkspace(t, map[string]string{"target.txt": "original"})
	link := filepath.Join(ws.Root(), "link.txt")
	if err := os.Symlink(filepath.Join(ws.Root(), "target.txt"), link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if f, err := ws.OpenForWrite(link); err == nil {
		f.Close()
		t.Fatal("OpenForWrite followed a symlink")
	}

	f, err := ws.OpenForWrite(filepath.Join(ws.Root(), "fresh.txt"))
	if err != nil {
		t.Fatalf("OpenForWrite(new file): %v", err)
	}
	f.Close()
}

func TestListFilesTool(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{
		".gitignore":         "build\n*.log\n",
		"main.go":            "package main",
		"pkg/util.go":        "package pkg",
		"build/out.bin":      "bin",
		"debug.log":          "log",
		".hidden/secret.txt": "s",
	})
	tool := &ListFilesTool{Workspace: ws}
	ctx := context.Background()

	tests := []struct {
		name      string
		params    ListFilesParams
		want      []string
		notWanted []string
	}{
		{
			name:      "top level",
			params:    ListFilesParams{},
			want:      []string{"main.go", "pkg/"},
			notWanted: []string{"util.go", "build", "debug.log", ".hidden"},
		},
		{
			name:      "recursive",
			params:    ListFilesParams{Recursive: true},
			want:      []string{"main.go", "pkg/", filepath.Join("pkg", "util.go")},
			notWanted: []string{"out.bin", "debug.log", "secret.txt"},
		},
		{
			name:   "subdirectory",
			params: ListFilesParams{Path: "pkg"},
			want:   []string{"util.go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(ctx, tt.params)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			lines := strings.Split(result, "\n")
			for _, w := range tt.want {
				if !containsLine(lines, w) {
					t.Errorf("expected %q in listing %q", w, result)
				}
			}
			for _, nw := range tt.notWanted {
				if strings.Contains(result, nw) {
					t.Errorf("did not expect %q in listing %q", nw, result)
				}
			}
		})
	}

	if _, err := tool.Execute(ctx, ListFilesParams{Path: "main.go"}); err == nil {
		t.Error("expected error listing a file")
	}
}

func TestSearchFilesTool(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{
		"a.go":       "package a\n\nfunc Hello() {}\n",
		"b.txt":      "Hello there\n",
		"sub/c.go":   "package sub\n// Hello again\n",
		"skip.log":   "Hello log\n",
		".gitignore": "*.log\n",
	})
	tool := &SearchFilesTool{Workspace: ws}
	ctx := context.Background()

	result, err := tool.Execute(ctx, SearchFilesParams{Regex: "Hello"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	for _, want := range []string{"a.go:3: func Hello() {}", "b.txt:1: Hello there", filepath.Join("sub", "c.go") + ":2: // Hello again"} {
		if !strings.Contains(result, want) {
			t.Errorf("expected %q in %q", want, result)
		}
	}
	if strings.Contains(result, "skip.log") {
		t.Errorf("ignored file searched: %q", result)
	}

	result, err = tool.Execute(ctx, SearchFilesParams{Regex: "Hello", FilePattern: "*.go"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(result, "b.txt") {
		t.Errorf("file_pattern not applied: %q", result)
	}

	result, err = tool.Execute(ctx, SearchFilesParams{Regex: "nothing-matches-this"})
	if err != nil {
		t.Fatal(err)
	}
	if result != "No matches found." {
		t.Errorf("got %q", result)
	}

	if _, err := tool.Execute(ctx, SearchFilesParams{Regex: "("}); err == nil {
		t.Error("expected error for invalid regex")
	}
}

func TestAttemptCompletionTool(t *testing.T) {
	tool := &AttemptCompletionTool{}
	got, err := tool.Execute(context.Background(), AttemptCompletionParams{Result: "done"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "done" {
		t.Errorf("got %q", got)
	}
	got, _ = tool.Execute(context.Background(), AttemptCompletionParams{Result: "done", Command: "go test ./..."})
	if !strings.Contains(got, "go test ./...") {
		t.Errorf("command missing from %q", got)
	}
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
