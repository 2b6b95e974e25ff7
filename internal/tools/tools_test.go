package tools

import (
	"context"
	"strings"
	"testing"
)

func TestWorkspaceRoundTrip(t *testing.T) {
	tc := NewContext("s1")
	r := NewRegistry()
	ctx := context.Background()

	out := r.Execute(ctx, "write_file", map[string]any{"path": "app/index.ts", "content": "export {}"}, tc)
	if !strings.Contains(out, "wrote app/index.ts") {
		t.Fatalf("write_file result = %q", out)
	}

	out = r.Execute(ctx, "read_file", map[string]any{"path": "app/index.ts"}, tc)
	if out != "export {}" {
		t.Fatalf("read_file result = %q", out)
	}

	out = r.Execute(ctx, "list_files", nil, tc)
	if out != "app/index.ts" {
		t.Fatalf("list_files result = %q", out)
	}

	out = r.Execute(ctx, "delete_file", map[string]any{"path": "app/index.ts"}, tc)
	if !strings.Contains(out, "deleted") {
		t.Fatalf("delete_file result = %q", out)
	}
	if tc.FileCount() != 0 {
		t.Fatalf("file count = %d after delete, want 0", tc.FileCount())
	}
}

func TestFailuresAreInBandStrings(t *testing.T) {
	tc := NewContext("s1")
	r := NewRegistry()
	ctx := context.Background()

	cases := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"unknown tool", "launch_rocket", nil},
		{"missing path", "write_file", map[string]any{"content": "x"}},
		{"missing file", "read_file", map[string]any{"path": "nope.ts"}},
		{"delete missing", "delete_file", map[string]any{"path": "nope.ts"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := r.Execute(ctx, c.tool, c.args, tc)
			if !strings.HasPrefix(out, "error:") {
				t.Fatalf("expected in-band error, got %q", out)
			}
		})
	}
}

func TestPanickingToolIsRecovered(t *testing.T) {
	tc := NewContext("s1")
	r := NewRegistry()
	r.Register(Tool{
		Name: "explode",
		Run: func(context.Context, map[string]any, *Context) string {
			panic("boom")
		},
	})

	out := r.Execute(context.Background(), "explode", nil, tc)
	if !strings.Contains(out, "error:") || !strings.Contains(out, "boom") {
		t.Fatalf("panic not converted to in-band error: %q", out)
	}
}
