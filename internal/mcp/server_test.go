package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/coderecall/internal/embed"
	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/health"
	"github.com/Aman-CERP/coderecall/internal/index"
	"github.com/Aman-CERP/coderecall/internal/scanner"
	"github.com/Aman-CERP/coderecall/internal/search"
	"github.com/Aman-CERP/coderecall/internal/state"
	"github.com/Aman-CERP/coderecall/internal/store"
)

// MockIndexer records calls and returns canned results.
type MockIndexer struct {
	mu         sync.Mutex
	Requests   []index.IndexRequest
	Reconciled []string
	Stats      *index.Stats
	Report     *index.ReconcileReport
	Err        error
	States     map[string]index.Status
}

func (m *MockIndexer) Index(_ context.Context, req index.IndexRequest) (*index.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Stats != nil {
		return m.Stats, nil
	}
	return &index.Stats{RepoID: req.RepoID}, nil
}

func (m *MockIndexer) Reconcile(_ context.Context, repoID string) (*index.ReconcileReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reconciled = append(m.Reconciled, repoID)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Report != nil {
		return m.Report, nil
	}
	return &index.ReconcileReport{RepoID: repoID}, nil
}

func (m *MockIndexer) Status(repoID string) index.Status {
	if s, ok := m.States[repoID]; ok {
		return s
	}
	return index.Status{RepoID: repoID, Phase: index.PhaseIdle}
}

func (m *MockIndexer) Statuses() []index.Status {
	out := make([]index.Status, 0, len(m.States))
	for _, s := range m.States {
		out = append(out, s)
	}
	return out
}

// MockSearcher returns a canned response.
type MockSearcher struct {
	Queries  []search.Query
	Response *search.Response
	Err      error
}

func (m *MockSearcher) Search(_ context.Context, q search.Query) (*search.Response, error) {
	m.Queries = append(m.Queries, q)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Response != nil {
		return m.Response, nil
	}
	return &search.Response{Query: q}, nil
}

// MockHealth returns a fixed report.
type MockHealth struct {
	Report *health.Report
}

func (m *MockHealth) Run(context.Context) *health.Report {
	if m.Report != nil {
		return m.Report
	}
	return &health.Report{Status: health.Healthy}
}

func newTestServer(t *testing.T, idx *MockIndexer, s *MockSearcher, opts ...Option) *Server {
	t.Helper()
	if idx == nil {
		idx = &MockIndexer{}
	}
	if s == nil {
		s = &MockSearcher{}
	}
	srv, err := NewServer(Dependencies{Indexer: idx, Searcher: s, Health: &MockHealth{}}, opts...)
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(Dependencies{Searcher: &MockSearcher{}, Health: &MockHealth{}})
	assert.Error(t, err)
	_, err = NewServer(Dependencies{Indexer: &MockIndexer{}, Health: &MockHealth{}})
	assert.Error(t, err)
	_, err = NewServer(Dependencies{Indexer: &MockIndexer{}, Searcher: &MockSearcher{}})
	assert.Error(t, err)
}

func TestServer_Info(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	name, ver := srv.Info()
	assert.Equal(t, "coderecall", name)
	assert.NotEmpty(t, ver)
	assert.NotNil(t, srv.MCPServer())
}

func TestServer_ListTools_ReturnsAllTools(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	names := make([]string, 0)
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.ElementsMatch(t, []string{
		ToolSearchCode, ToolIndexRepository, ToolReconcileRepository, ToolIndexStatus, ToolHealth,
	}, names)
}

func TestServer_CallTool_UnknownTool(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	_, err := srv.CallTool(context.Background(), "search_docs", nil)

	mcpErr := MapError(err)
	require.NotNil(t, mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_SearchCode_PassesFilters(t *testing.T) {
	// Given: a searcher with one hit
	indexed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	searcher := &MockSearcher{Response: &search.Response{
		Results: []search.Result{{
			Path: "pkg/auth/token.go", StartLine: 10, EndLine: 24, Score: 0.87,
			Snippet: "func Validate() {}", Repository: "svc", Language: "go",
			Symbol: "Validate", SymbolType: "function", CommitRef: "abc", IndexedAt: indexed,
		}},
		Duration: 12 * time.Millisecond,
	}}
	srv := newTestServer(t, nil, searcher)

	// When: search_code is called with every filter
	out, err := srv.CallTool(context.Background(), ToolSearchCode, map[string]any{
		"query":       "validate token",
		"repository":  "svc",
		"language":    "go",
		"path_prefix": "pkg/",
		"top_k":       float64(3),
	})

	// Then: filters reach the engine and the hit is returned with provenance
	require.NoError(t, err)
	require.Len(t, searcher.Queries, 1)
	q := searcher.Queries[0]
	assert.Equal(t, search.Query{Text: "validate token", Repository: "svc", Language: "go", PathPrefix: "pkg/", TopK: 3}, q)

	res := out.(SearchCodeOutput)
	require.Len(t, res.Results, 1)
	hit := res.Results[0]
	assert.Equal(t, "pkg/auth/token.go", hit.Path)
	assert.Equal(t, 10, hit.StartLine)
	assert.InDelta(t, 0.87, hit.Score, 1e-6)
	assert.Equal(t, "2026-03-01T12:00:00Z", hit.IndexedAt)
	assert.Equal(t, int64(12), res.DurationMS)
}

func TestServer_SearchCode_InvalidParams(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query", map[string]any{}},
		{"whitespace query", map[string]any{"query": "   "}},
		{"negative top_k", map[string]any{"query": "x", "top_k": float64(-1)}},
		{"wrong type", map[string]any{"query": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.CallTool(context.Background(), ToolSearchCode, tt.args)
			require.Error(t, err)
			assert.Equal(t, ErrCodeInvalidParams, MapError(err).Code)
		})
	}
}

func TestServer_SearchCode_MapsEngineErrors(t *testing.T) {
	searcher := &MockSearcher{Err: crerrors.DimensionMismatchError(768, 64)}
	srv := newTestServer(t, nil, searcher)

	_, err := srv.CallTool(context.Background(), ToolSearchCode, map[string]any{"query": "x"})

	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidParams, MapError(err).Code)
}

func TestServer_IndexRepository_UsesDefaultRoot(t *testing.T) {
	// Given: a server rooted at a temp repository
	root := t.TempDir()
	idx := &MockIndexer{Stats: &index.Stats{RepoID: "r", FilesAdded: 2, ChunksAdded: 5, Duration: 1500 * time.Millisecond}}
	srv := newTestServer(t, idx, nil, WithRoot(root))

	// When: index_repository is called without a path
	out, err := srv.CallTool(context.Background(), ToolIndexRepository, map[string]any{"force": true, "max_files": float64(7)})

	// Then: the root, force flag and cap reach the orchestrator
	require.NoError(t, err)
	require.Len(t, idx.Requests, 1)
	assert.Equal(t, root, idx.Requests[0].Root)
	assert.True(t, idx.Requests[0].Force)
	assert.Equal(t, 7, idx.Requests[0].MaxFiles)

	stats := out.(*IndexRepositoryOutput)
	assert.Equal(t, 2, stats.FilesAdded)
	assert.Equal(t, 5, stats.ChunksAdded)
	assert.Equal(t, int64(1500), stats.DurationMS)
}

func TestServer_IndexRepository_RejectsBadPaths(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	for _, args := range []map[string]any{
		{},
		{"path": filepath.Join(t.TempDir(), "missing")},
		{"path": file},
	} {
		_, err := srv.CallTool(context.Background(), ToolIndexRepository, args)
		require.Error(t, err)
		assert.Equal(t, ErrCodeInvalidParams, MapError(err).Code)
	}
}

func TestServer_IndexRepository_Busy(t *testing.T) {
	idx := &MockIndexer{Err: crerrors.BusyError("r")}
	srv := newTestServer(t, idx, nil, WithRoot(t.TempDir()))

	_, err := srv.CallTool(context.Background(), ToolIndexRepository, nil)

	require.Error(t, err)
	assert.Equal(t, ErrCodeBusy, MapError(err).Code)
}

func TestServer_ReconcileRepository_DerivesRepoID(t *testing.T) {
	// Given: a repository directory
	root := t.TempDir()
	idx := &MockIndexer{Report: &index.ReconcileReport{Orphans: 3, Removed: 3, Missing: 1, MissingFiles: []string{"a.go"}}}
	srv := newTestServer(t, idx, nil)

	// When: reconcile_repository is called with only a path
	out, err := srv.CallTool(context.Background(), ToolReconcileRepository, map[string]any{"path": root})

	// Then: the repository id is derived the same way indexing derives it
	require.NoError(t, err)
	require.Len(t, idx.Reconciled, 1)
	assert.Equal(t, index.RepoIDForPath(root), idx.Reconciled[0])
	report := out.(ReconcileRepositoryOutput)
	assert.Equal(t, 3, report.Removed)
	assert.Equal(t, []string{"a.go"}, report.MissingFiles)
}

func TestServer_IndexStatus(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	idx := &MockIndexer{States: map[string]index.Status{
		"svc": {RepoID: "svc", Phase: index.PhaseEmbedding, StartedAt: started, LastStats: &index.Stats{ChunksTotal: 9}},
	}}
	srv := newTestServer(t, idx, nil)

	out, err := srv.CallTool(context.Background(), ToolIndexStatus, map[string]any{"repo_id": "svc"})

	require.NoError(t, err)
	st := out.(IndexStatusOutput)
	assert.Equal(t, "embedding", st.Phase)
	assert.Equal(t, "2026-01-02T03:04:05Z", st.StartedAt)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 9, st.LastRun.ChunksTotal)
}

func TestServer_Health(t *testing.T) {
	report := &health.Report{Status: health.Degraded, Checks: []health.CheckResult{
		{Name: health.CheckEmbedder, Status: health.StatusWarn, Required: true, Message: "fallback", Latency: 3 * time.Millisecond},
		{Name: health.CheckVectorStore, Status: health.StatusPass, Required: true},
	}}
	srv, err := NewServer(Dependencies{Indexer: &MockIndexer{}, Searcher: &MockSearcher{}, Health: &MockHealth{Report: report}})
	require.NoError(t, err)

	out, err := srv.CallTool(context.Background(), ToolHealth, nil)

	require.NoError(t, err)
	h := out.(HealthOutput)
	assert.Equal(t, health.Degraded, h.Status)
	require.Len(t, h.Checks, 2)
	assert.Equal(t, "warn", h.Checks[0].Status)
	assert.Equal(t, int64(3), h.Checks[0].LatencyMS)
	assert.Equal(t, "pass", h.Checks[1].Status)
}

func TestServer_StatusResource(t *testing.T) {
	idx := &MockIndexer{States: map[string]index.Status{
		"b": {RepoID: "b", Phase: index.PhaseIdle},
		"a": {RepoID: "a", Phase: index.PhaseError, LastError: "boom"},
	}}
	srv := newTestServer(t, idx, nil)

	res, err := srv.readStatusResource(context.Background())

	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)
	text := res.Contents[0].Text
	assert.Less(t, strings.Index(text, `"repo_id": "a"`), strings.Index(text, `"repo_id": "b"`))
	assert.Contains(t, text, "boom")
}

func TestServer_ServeUnknownTransport(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	err := srv.Serve(context.Background(), "sse")
	assert.Error(t, err)
}

// TestServer_EndToEnd indexes a real directory through the tools and finds
// the indexed code again over an in-memory MCP session.
func TestServer_EndToEnd(t *testing.T) {
	// Given: a repository and the real index and search stack
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "auth.py"),
		[]byte("def check_password(user, password):\n    return user.password == password\n"), 0o644))

	sc, err := scanner.New()
	require.NoError(t, err)
	states, err := state.NewFileStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	vectors := store.NewMemoryStore()
	embedder := embed.NewBatchEmbedder(embed.NewHashProvider(64), 64, embed.DefaultBatchConfig())

	orch, err := index.NewOrchestrator(index.Config{Collection: "code"}, index.Dependencies{
		Scanner: sc, Embedder: embedder, Vectors: vectors, States: states,
	})
	require.NoError(t, err)
	cfg := search.DefaultEngineConfig()
	cfg.Collection = "code"
	engine, err := search.NewEngine(embedder, vectors, cfg)
	require.NoError(t, err)
	monitor := health.New(health.WithProbes(health.VectorStoreProbe(vectors, "code", 64)))

	srv, err := NewServer(Dependencies{Indexer: orch, Searcher: engine, Health: monitor}, WithRoot(root))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := srv.MCPServer().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer func() { _ = ss.Close() }()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer func() { _ = cs.Close() }()

	// When: the client indexes and then searches
	indexed, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: ToolIndexRepository, Arguments: map[string]any{}})
	require.NoError(t, err)
	require.False(t, indexed.IsError)

	found, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolSearchCode,
		Arguments: map[string]any{"query": "def check_password(user, password):\n    return user.password == password\n"},
	})

	// Then: the search answers with the indexed file
	require.NoError(t, err)
	require.False(t, found.IsError)
	require.NotEmpty(t, found.Content)
	text, ok := found.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "auth.py")
}
