package output

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/coderecall/internal/health"
	"github.com/Aman-CERP/coderecall/internal/index"
	"github.com/Aman-CERP/coderecall/internal/search"
	"github.com/Aman-CERP/coderecall/internal/state"
)

func plain() (*Writer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(buf), buf
}

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	w, buf := plain()

	// When: printing a status message
	w.Status("*", "Checking embedder...")

	// Then: output contains icon and message
	assert.Equal(t, "* Checking embedder...\n", buf.String())
}

func TestWriter_Levels(t *testing.T) {
	tests := []struct {
		name  string
		print func(*Writer)
		want  string
	}{
		{"success", func(w *Writer) { w.Successf("Indexed %d files", 3) }, "✓ Indexed 3 files\n"},
		{"warning", func(w *Writer) { w.Warning("fallback vectors") }, "! fallback vectors\n"},
		{"error", func(w *Writer) { w.Errorf("lock %s busy", "repo") }, "✗ lock repo busy\n"},
		{"no icon", func(w *Writer) { w.Status("", "indented") }, "   indented\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, buf := plain()
			tt.print(w)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriter_Code_PrintsCodeBlock(t *testing.T) {
	w, buf := plain()

	w.Code("line1\nline2")

	assert.Contains(t, buf.String(), "  line1\n  line2\n")
}

func TestWriter_JSON(t *testing.T) {
	w, buf := plain()

	require.NoError(t, w.JSON(map[string]int{"chunks": 3}))

	assert.Equal(t, "{\n  \"chunks\": 3\n}\n", buf.String())
}

func TestNew_DefaultsToNoColorOffTerminal(t *testing.T) {
	// Given: a buffer, which is never a terminal
	w, _ := plain()

	// Then
	assert.False(t, w.useColor)
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}

func TestNew_WithColorOverrides(t *testing.T) {
	w := New(&bytes.Buffer{}, WithColor(true))
	assert.True(t, w.useColor)
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())

	require.NoError(t, os.Unsetenv("NO_COLOR"))
	assert.False(t, DetectNoColor())
}

func TestWriter_IndexStats(t *testing.T) {
	w, buf := plain()

	w.IndexStats(&index.Stats{
		RepoID:          "repo-1a2b3c4d",
		Ref:             "0123456789abcdef0123456789abcdef01234567",
		FilesScanned:    3,
		FilesAdded:      3,
		FilesDeferred:   2,
		ChunksProcessed: 12,
		ChunksEmbedded:  12,
		ChunksAdded:     12,
		ChunksTotal:     12,
		FallbackVectors: 4,
		Duration:        1500 * time.Millisecond,
	})
	w.IndexStats(&index.Stats{RepoID: "repo-1a2b3c4d", FallbacksReplaced: 5})

	out := buf.String()
	assert.Contains(t, out, "Indexed repo-1a2b3c4d in 1.5s")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef0123")
	assert.Contains(t, out, "3 scanned, 3 added")
	assert.Contains(t, out, "max_files reached")
	assert.Contains(t, out, "+12 -0, 12 total")
	assert.Contains(t, out, "4 chunks were embedded with fallback vectors")
	assert.Contains(t, out, "5 fallback vectors replaced")
	assert.NotContains(t, out, "healed")
}

func TestWriter_SearchResults(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		w, buf := plain()
		w.SearchResults(&search.Response{})
		assert.Contains(t, buf.String(), "No results.")
	})

	t.Run("ranked", func(t *testing.T) {
		w, buf := plain()
		w.SearchResults(&search.Response{
			DegradedQuery: true,
			Results: []search.Result{
				{Path: "internal/store/hnsw.go", StartLine: 10, EndLine: 42, Score: 0.91234, Repository: "repo", Symbol: "Query", Snippet: "func Query() {}", Truncated: true},
				{Path: "README.md", StartLine: 1, EndLine: 5, Score: 0.5, Fallback: true},
			},
		})

		out := buf.String()
		assert.Contains(t, out, "fallback vector")
		assert.Contains(t, out, " 1. internal/store/hnsw.go:10-42 (0.912) [repo, Query]")
		assert.Contains(t, out, "func Query() {}")
		assert.Contains(t, out, "...")
		assert.Contains(t, out, " 2. README.md:1-5 (0.500) [fallback]")
		assert.Contains(t, out, "2 results")
	})
}

func TestWriter_Health(t *testing.T) {
	w, buf := plain()

	w.Health(&health.Report{
		Status: health.Unhealthy,
		Checks: []health.CheckResult{
			{Name: "embedder", Status: health.StatusPass, Message: "ollama/nomic-embed-text (768 dims)"},
			{Name: "vector_store", Status: health.StatusWarn, Error: "collection not created yet"},
			{Name: "state_store", Status: health.StatusFail, Error: "read-only file system"},
		},
	})

	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, "coderecall health", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "✓ embedder"))
	assert.Contains(t, buf.String(), "! vector_store")
	assert.Contains(t, buf.String(), "✗ state_store")
	assert.Contains(t, buf.String(), "read-only file system")
	assert.Contains(t, buf.String(), "Status: UNHEALTHY")
}

func TestWriter_StatusesAndReconcile(t *testing.T) {
	w, buf := plain()

	w.Statuses(nil)
	w.Statuses([]index.Status{{
		RepoID:    "repo",
		Phase:     index.PhaseError,
		LastError: "index repo failed during embedding: rate limit exceeded",
		LastStats: &index.Stats{Ref: "snapshot-1700000000", ChunksTotal: 7},
	}})
	w.Reconcile(&index.ReconcileReport{
		RepoID: "repo", Checked: 9, Orphans: 2, Removed: 2, Missing: 1,
		MissingFiles: []string{"a.py"},
	})

	out := buf.String()
	assert.Contains(t, out, "No repositories indexed.")
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "rate limit exceeded")
	assert.Contains(t, out, "snapshot-1700000000")
	assert.Contains(t, out, "2 of 2")
	assert.Contains(t, out, "1 chunks missing")
	assert.Contains(t, out, "a.py")
}

func TestWriter_RepoStates(t *testing.T) {
	// Given: one persisted repository record
	st := state.NewRepoState("svc-api")
	st.LastRef = "0123456789abcdef0123456789abcdef01234567"
	st.FileHashes["main.go"] = "h1"
	st.FileChunks["main.go"] = []string{"c1", "c2"}
	st.IndexedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w, buf := plain()

	// When: rendering it
	w.RepoStates([]*state.RepoState{st})

	// Then: the short ref and file and chunk counts are shown
	out := buf.String()
	assert.Contains(t, out, "svc-api")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef0123456789abcdef01234567")
	assert.Contains(t, out, "2026-03-01T12:00:00Z")
}
