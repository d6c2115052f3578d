package tools

import (
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/toolloop/internal/errors"
)

func TestSchemaValidate(t *testing.T) {
	r := NewDefaultRegistry(newTestWorkspace(t, nil), ExecConfig{})

	tests := []struct {
		name       string
		tool       string
		raw        map[string]string
		want       Params
		wantFields []string
	}{
		{
			name: "write_to_file",
			tool: "write_to_file",
			raw:  map[string]string{"path": "a.txt", "content": "hi"},
			want: WriteToFileParams{Path: "a.txt", Content: "hi"},
		},
		{
			name: "read_file with range",
			tool: "read_file",
			raw:  map[string]string{"path": "a.txt", "start_line": "2", "end_line": " 5 "},
			want: ReadFileParams{Path: "a.txt", StartLine: 2, EndLine: 5},
		},
		{
			name: "list_files bool",
			tool: "list_files",
			raw:  map[string]string{"path": "src", "recursive": "true"},
			want: ListFilesParams{Path: "src", Recursive: true},
		},
		{
			name: "unknown parameters ignored",
			tool: "attempt_completion",
			raw:  map[string]string{"result": "ok", "extra": "x"},
			want: AttemptCompletionParams{Result: "ok"},
		},
		{
			name:       "missing required",
			tool:       "write_to_file",
			raw:        map[string]string{"content": "hi"},
			wantFields: []string{"path"},
		},
		{
			name:       "not an integer",
			tool:       "read_file",
			raw:        map[string]string{"path": "a.txt", "start_line": "two"},
			wantFields: []string{"start_line"},
		},
		{
			name:       "not a bool",
			tool:       "list_files",
			raw:        map[string]string{"recursive": "maybe"},
			wantFields: []string{"recursive"},
		},
		{
			name:       "end before start",
			tool:       "read_file",
			raw:        map[string]string{"path": "a.txt", "start_line": "5", "end_line": "2"},
			wantFields: []string{"end_line"},
		},
		{
			name:       "timeout out of range",
			tool:       "execute_command",
			raw:        map[string]string{"command": "ls", "timeout": "301"},
			wantFields: []string{"timeout"},
		},
		{
			name:       "search_files without regex",
			tool:       "search_files",
			raw:        map[string]string{},
			wantFields: []string{"regex"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, ok := r.Lookup(tt.tool)
			if !ok {
				t.Fatalf("tool %s not registered", tt.tool)
			}
			got, err := schema.Validate(tt.raw)

			if len(tt.wantFields) > 0 {
				if err == nil {
					t.Fatalf("expected validation error, got %+v", got)
				}
				if code := errors.GetCode(err); code != "tool_validation_failed" {
					t.Errorf("code = %q, want tool_validation_failed", code)
				}
				fields := errors.GetFields(err)
				for _, f := range tt.wantFields {
					if _, ok := fields[f]; !ok {
						t.Errorf("expected field error for %q, got %v", f, fields)
					}
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSchemaValidateMessageNamesFields(t *testing.T) {
	r := NewDefaultRegistry(newTestWorkspace(t, nil), ExecConfig{})
	schema, _ := r.Lookup("read_file")
	_, err := schema.Validate(map[string]string{"start_line": "-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := errors.GetUserMessage(err)
	for _, want := range []string{"read_file", "path: is required", "start_line: must be at least 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestSchemaUsage(t *testing.T) {
	schema := (&WriteToFileTool{}).Schema()
	usage := schema.Usage("tool")

	for _, want := range []string{
		`<tool name="write_to_file">`,
		"<path>...</path>",
		"<content>...</content>",
		"</tool>",
		"path (required)",
	} {
		if !strings.Contains(usage, want) {
			t.Errorf("usage missing %q:\n%s", want, usage)
		}
	}
}
