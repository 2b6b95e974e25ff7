// Package tools implements the tool execution contract used by the agent
// executor. Tool failures always surface as string results, never as errors;
// the executor charges fuel per call regardless of outcome.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Context is the workspace a session's tools operate on. Files live in
// memory; the real file tree is an external collaborator synced elsewhere.
type Context struct {
	Session string

	mu    sync.RWMutex
	files map[string]string
}

// NewContext creates an empty workspace for a session.
func NewContext(session string) *Context {
	return &Context{
		Session: session,
		files:   make(map[string]string),
	}
}

// WriteFile stores content under path, replacing any previous content.
func (c *Context) WriteFile(path, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path] = content
}

// ReadFile returns the content stored under path.
func (c *Context) ReadFile(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.files[path]
	return content, ok
}

// DeleteFile removes path from the workspace.
func (c *Context) DeleteFile(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[path]
	delete(c.files, path)
	return ok
}

// ListFiles returns all paths in sorted order.
func (c *Context) ListFiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.files))
	for p := range c.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FileCount returns the number of files in the workspace.
func (c *Context) FileCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}

// Tool is one callable tool. Run returns its result as a string; failures
// are reported in-band ("error: ...") so the agent loop can react to them.
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args map[string]any, tc *Context) string
}

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry preloaded with the built-in workspace tools.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range builtins() {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs a named tool. Unknown tools and panics both resolve to an
// in-band error string; this function never returns an error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, tc *Context) (result string) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Sprintf("error: unknown tool %q", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = fmt.Sprintf("error: tool %s panicked: %v", name, rec)
		}
	}()

	return tool.Run(ctx, args, tc)
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func builtins() []Tool {
	return []Tool{
		{
			Name:        "write_file",
			Description: "Write content to a workspace file",
			Run: func(_ context.Context, args map[string]any, tc *Context) string {
				path, ok := stringArg(args, "path")
				if !ok || path == "" {
					return "error: write_file requires a path"
				}
				content, _ := stringArg(args, "content")
				tc.WriteFile(path, content)
				return fmt.Sprintf("wrote %s (%d bytes)", path, len(content))
			},
		},
		{
			Name:        "read_file",
			Description: "Read a workspace file",
			Run: func(_ context.Context, args map[string]any, tc *Context) string {
				path, ok := stringArg(args, "path")
				if !ok || path == "" {
					return "error: read_file requires a path"
				}
				content, found := tc.ReadFile(path)
				if !found {
					return fmt.Sprintf("error: file %s not found", path)
				}
				return content
			},
		},
		{
			Name:        "delete_file",
			Description: "Delete a workspace file",
			Run: func(_ context.Context, args map[string]any, tc *Context) string {
				path, ok := stringArg(args, "path")
				if !ok || path == "" {
					return "error: delete_file requires a path"
				}
				if !tc.DeleteFile(path) {
					return fmt.Sprintf("error: file %s not found", path)
				}
				return fmt.Sprintf("deleted %s", path)
			},
		},
		{
			Name:        "list_files",
			Description: "List workspace files",
			Run: func(_ context.Context, _ map[string]any, tc *Context) string {
				paths := tc.ListFiles()
				if len(paths) == 0 {
					return "(empty workspace)"
				}
				return strings.Join(paths, "\n")
			},
		},
	}
}
