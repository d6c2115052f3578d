package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// maxListEntries caps list_files output.
	maxListEntries = 500
	// maxSearchMatches caps search_files output.
	maxSearchMatches = 300
)

// ReadFileTool reads file contents
type ReadFileTool struct {
	Workspace *Workspace
}

func (t *ReadFileTool) Schema() Schema {
	return Schema{
		Name:        string(KindReadFile),
		Kind:        KindReadFile,
		Description: "Read the contents of a file. Use this to examine code, configuration files, or any text file.",
		Parameters: []ParamSpec{
			{Name: "path", Description: "The path of the file to read, relative to the project root.", Required: true},
			{Name: "start_line", Description: "Start reading from this line number (1-indexed)."},
			{Name: "end_line", Description: "Stop reading at this line number (inclusive)."},
		},
	}
}

func (t *ReadFileTool) Permission() PermissionLevel {
	return PermissionRead
}

func (t *ReadFileTool) Execute(ctx context.Context, params Params) (string, error) {
	p := params.(ReadFileParams)

	absPath, err := t.Workspace.Resolve(p.Path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", p.Path)
		}
		return "", fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", p.Path)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	if p.StartLine == 0 && p.EndLine == 0 {
		return string(content), nil
	}

	lines := strings.Split(string(content), "\n")
	start := 0
	end := len(lines)
	if p.StartLine > 0 {
		start = p.StartLine - 1
	}
	if p.EndLine > 0 && p.EndLine <= len(lines) {
		end = p.EndLine
	}
	if start >= end {
		return "", fmt.Errorf("invalid line range %d-%d for a file with %d lines", p.StartLine, p.EndLine, len(lines))
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%4d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

// WriteToFileTool writes content to a file, creating parent directories
type WriteToFileTool struct {
	Workspace *Workspace
}

func (t *WriteToFileTool) Schema() Schema {
	return Schema{
		Name:        string(KindWriteToFile),
		Kind:        KindWriteToFile,
		Description: "Write the complete content of a file. Creates the file if it doesn't exist, or overwrites it if it does. Parent directories are created as needed.",
		Parameters: []ParamSpec{
			{Name: "path", Description: "The path of the file to write, relative to the project root.", Required: true},
			{Name: "content", Description: "The full content to write.", Required: true},
		},
	}
}

func (t *WriteToFileTool) Permission() PermissionLevel {
	return PermissionWrite
}

func (t *WriteToFileTool) Execute(ctx context.Context, params Params) (string, error) {
	p := params.(WriteToFileParams)

	absPath, err := t.Workspace.ResolveForWrite(p.Path)
	if err != nil {
		return "", err
	}

	var previous string
	existed := false
	if data, err := os.ReadFile(absPath); err == nil {
		previous = string(data)
		existed = true
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	f, err := t.Workspace.OpenForWrite(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	if _, err := f.WriteString(p.Content); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	if !existed {
		return fmt.Sprintf("Created %s (%d bytes)", p.Path, len(p.Content)), nil
	}
	diff := LineDiff(previous, p.Content)
	if diff.Insertions == 0 && diff.Deletions == 0 {
		return fmt.Sprintf("No changes to %s", p.Path), nil
	}
	return fmt.Sprintf("Updated %s: %s\n%s", p.Path, diff, diff.Text), nil
}

// ListFilesTool lists files in a directory
type ListFilesTool struct {
	Workspace *Workspace
}

func (t *ListFilesTool) Schema() Schema {
	return Schema{
		Name:        string(KindListFiles),
		Kind:        KindListFiles,
		Description: "List files and directories at a given path. Entries matched by .gitignore are skipped.",
		Parameters: []ParamSpec{
			{Name: "path", Description: "The directory to list, relative to the project root (defaults to the root)."},
			{Name: "recursive", Description: "true to list recursively."},
		},
	}
}

func (t *ListFilesTool) Permission() PermissionLevel {
	return PermissionRead
}

func (t *ListFilesTool) Execute(ctx context.Context, params Params) (string, error) {
	p := params.(ListFilesParams)

	absPath, err := t.Workspace.Resolve(p.Path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("path not found: %s", p.Path)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", p.Path)
	}

	var files []string
	truncated := false
	err = filepath.WalkDir(absPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == absPath {
			return nil
		}
		if skip, err := skipEntry(t.Workspace, path, d); skip {
			return err
		}
		if len(files) >= maxListEntries {
			truncated = true
			return filepath.SkipAll
		}

		rel, _ := filepath.Rel(absPath, path)
		if d.IsDir() {
			files = append(files, rel+"/")
			if !p.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(files) == 0 {
		return "No files found.", nil
	}
	out := strings.Join(files, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (listing truncated at %d entries)", maxListEntries)
	}
	return out, nil
}

// SearchFilesTool searches file contents with a regular expression
type SearchFilesTool struct {
	Workspace *Workspace
}

func (t *SearchFilesTool) Schema() Schema {
	return Schema{
		Name:        string(KindSearchFiles),
		Kind:        KindSearchFiles,
		Description: "Search file contents under a directory with a regular expression. Returns matching lines with file and line number.",
		Parameters: []ParamSpec{
			{Name: "path", Description: "The directory to search, relative to the project root (defaults to the root)."},
			{Name: "regex", Description: "The regular expression to search for (Go RE2 syntax).", Required: true},
			{Name: "file_pattern", Description: "Glob that file names must match, e.g. *.go."},
		},
	}
}

func (t *SearchFilesTool) Permission() PermissionLevel {
	return PermissionRead
}

func (t *SearchFilesTool) Execute(ctx context.Context, params Params) (string, error) {
	p := params.(SearchFilesParams)

	re, err := regexp.Compile(p.Regex)
	if err != nil {
		return "", fmt.Errorf("invalid regex: %w", err)
	}
	absPath, err := t.Workspace.Resolve(p.Path)
	if err != nil {
		return "", err
	}

	var matches []string
	err = filepath.WalkDir(absPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != absPath {
			if skip, err := skipEntry(t.Workspace, path, d); skip {
				return err
			}
		}
		if d.IsDir() {
			return nil
		}
		if p.FilePattern != "" {
			if ok, _ := filepath.Match(p.FilePattern, d.Name()); !ok {
				return nil
			}
		}
		found, err := grepFile(path, re, maxSearchMatches-len(matches))
		if err != nil {
			return nil
		}
		rel := t.Workspace.Rel(path)
		for _, m := range found {
			matches = append(matches, rel+":"+m)
		}
		if len(matches) >= maxSearchMatches {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(matches) == 0 {
		return "No matches found.", nil
	}
	out := strings.Join(matches, "\n")
	if len(matches) >= maxSearchMatches {
		out += fmt.Sprintf("\n... (results truncated at %d matches)", maxSearchMatches)
	}
	return out, nil
}

// skipEntry reports whether a walk should leave out path. Hidden and
// ignored directories are pruned with SkipDir.
func skipEntry(ws *Workspace, path string, d fs.DirEntry) (bool, error) {
	ignored := ws.Ignored(ws.Rel(path))
	if d.IsDir() {
		if strings.HasPrefix(d.Name(), ".") || ignored {
			return true, filepath.SkipDir
		}
		return false, nil
	}
	return ignored, nil
}

func grepFile(path string, re *regexp.Regexp, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() && len(out) < limit {
		lineNo++
		line := scanner.Text()
		if strings.IndexByte(line, 0) >= 0 {
			return nil, nil
		}
		if re.MatchString(line) {
			out = append(out, fmt.Sprintf("%d: %s", lineNo, strings.TrimSpace(line)))
		}
	}
	return out, scanner.Err()
}
