package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate points every user-level path at temp dirs and selects backends
// that need no external services.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("CODERECALL_HOME", filepath.Join(home, ".coderecall"))
	t.Setenv("CODERECALL_EMBEDDING_PROVIDER", "static")
	t.Setenv("CODERECALL_EMBEDDING_DIMENSIONS", "64")
	t.Setenv("CODERECALL_VECTOR_BACKEND", "sqlite")
	t.Setenv("CODERECALL_STATE_BACKEND", "file")
	t.Setenv("NO_COLOR", "1")
}

// newRepo creates a repository with the given files.
func newRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// run executes the root command in dir and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	return runContext(t, context.Background(), dir, args...)
}

func runContext(t *testing.T, ctx context.Context, dir string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(dir)
	return execute(ctx, args...)
}

// execute runs the root command in the current directory. Unlike run it
// is safe to call from a goroutine.
func execute(ctx context.Context, args ...string) (string, error) {
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m), s)
	return m
}
