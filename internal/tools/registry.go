package tools

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/abdul-hamid-achik/toolloop/internal/errors"
)

// PermissionLevel orders tools by how much they can change.
type PermissionLevel int

const (
	PermissionRead PermissionLevel = iota
	PermissionWrite
	PermissionExecute
)

var levelNames = [...]string{"read", "write", "execute"}

func (p PermissionLevel) String() string {
	if p < 0 || int(p) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[p]
}

// Tool is one capability the model can invoke.
type Tool interface {
	Schema() Schema
	Permission() PermissionLevel
	Execute(ctx context.Context, params Params) (string, error)
}

// Registry maps tool names to tools. Tools are listed in name order.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tool
	names  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Tool{}}
}

// NewDefaultRegistry binds every built-in tool to ws.
func NewDefaultRegistry(ws *Workspace, exec ExecConfig) *Registry {
	r := NewRegistry()
	for _, t := range []Tool{
		&ReadFileTool{Workspace: ws},
		&WriteToFileTool{Workspace: ws},
		&ListFilesTool{Workspace: ws},
		&SearchFilesTool{Workspace: ws},
		NewExecuteCommandTool(ws, exec),
		&AttemptCompletionTool{},
	} {
		r.Register(t)
	}
	return r
}

// Register adds tool, replacing any tool with the same name.
func (r *Registry) Register(tool Tool) {
	name := tool.Schema().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; !dup {
		i, _ := slices.BinarySearch(r.names, name)
		r.names = slices.Insert(r.names, i, name)
	}
	r.byName[name] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Lookup returns the schema of a registered tool. The parser uses it to
// recognise tool tags.
func (r *Registry) Lookup(name string) (Schema, bool) {
	if t, ok := r.Get(name); ok {
		return t.Schema(), true
	}
	return Schema{}, false
}

func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, len(r.names))
	for i, name := range r.names {
		out[i] = r.byName[name]
	}
	return out
}

// Execute runs a tool with parameters already decoded for its kind.
func (r *Registry) Execute(ctx context.Context, name string, params Params) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", errors.ToolNotFound(name)
	}
	if params == nil || params.Kind() != t.Schema().Kind {
		return "", fmt.Errorf("tool %s: parameters of type %T do not match", name, params)
	}
	return t.Execute(ctx, params)
}
