package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relaygent/relaygent/internal/approval"
	"github.com/relaygent/relaygent/internal/policy"
)

func openDeps() FSDeps {
	return FSDeps{Gate: approval.NewGate(true, nil)}
}

func TestWriteThenReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")
	ctx := context.Background()

	result, err := NewWriteFileTool(openDeps()).Execute(ctx, map[string]any{
		"path": path, "content": "hello",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if IsErrorResult(result) {
		t.Fatalf("write failed: %s", result)
	}

	got, err := NewReadFileTool(openDeps()).Execute(ctx, map[string]any{"path": path})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "hello" {
		t.Fatalf("read back %q", got)
	}
}

func TestWriteFileDryRunPerformsNoIO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	deps := openDeps()
	deps.DryRun = true
	// A gate that would deny must not even be consulted in dry-run mode.
	deps.Gate = approval.NewGate(false, func(op, p, d string) bool {
		t.Fatal("gate consulted during dry run")
		return false
	})

	result, err := NewWriteFileTool(deps).Execute(context.Background(), map[string]any{
		"path": path, "content": "hello",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(result, "[dry-run]") {
		t.Fatalf("dry-run result = %q", result)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("dry run created the file")
	}
}

func TestWriteFileGateDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	deps := openDeps()
	deps.Gate = approval.NewGate(false, nil)

	result, err := NewWriteFileTool(deps).Execute(context.Background(), map[string]any{
		"path": path, "content": "hello",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !IsErrorResult(result) {
		t.Fatalf("denied write must produce an error result, got %q", result)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("denied write created the file")
	}
}

func TestWriteFilePermissionDenied(t *testing.T) {
	base := t.TempDir()
	perms, err := policy.FromConfig(&policy.Config{WritePaths: []string{"output"}}, base)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	deps := openDeps()
	deps.Permissions = func() *policy.Permissions { return perms }

	result, err := NewWriteFileTool(deps).Execute(context.Background(), map[string]any{
		"path": filepath.Join(base, "secret.txt"), "content": "x",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(result, "not permitted") {
		t.Fatalf("result = %q", result)
	}

	result, err = NewWriteFileTool(deps).Execute(context.Background(), map[string]any{
		"path": filepath.Join(base, "output", "ok.txt"), "content": "x",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if IsErrorResult(result) {
		t.Fatalf("permitted write failed: %s", result)
	}
}

func TestEditFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("alpha beta gamma"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := NewEditFileTool(openDeps()).Execute(context.Background(), map[string]any{
		"path": path, "old_text": "beta", "new_text": "delta",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if IsErrorResult(result) {
		t.Fatalf("edit failed: %s", result)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "alpha delta gamma" {
		t.Fatalf("file content = %q", data)
	}
}

func TestEditFileTextNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("alpha"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := NewEditFileTool(openDeps()).Execute(context.Background(), map[string]any{
		"path": path, "old_text": "missing", "new_text": "x",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !IsErrorResult(result) {
		t.Fatalf("edit of missing text must fail, got %q", result)
	}
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	result, err := NewListDirTool(openDeps()).Execute(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(result, "a.txt") || !strings.Contains(result, "sub/") {
		t.Fatalf("listing incomplete: %q", result)
	}
}

func TestRegistryWriteCategory(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewReadFileTool(openDeps()))
	reg.Register(NewWriteFileTool(openDeps()))
	reg.Register(NewEditFileTool(openDeps()))
	reg.Register(NewSpawnAgentTool())

	if reg.IsWriteTool("read_file") || reg.IsWriteTool("spawn_agent") {
		t.Fatal("read-only tool classified as write")
	}
	if !reg.IsWriteTool("write_file") || !reg.IsWriteTool("edit_file") {
		t.Fatal("write tool not classified as write")
	}
	if reg.IsWriteTool("no_such_tool") {
		t.Fatal("unknown tool classified as write")
	}
}
