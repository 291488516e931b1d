package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/coderecall/internal/embed"
	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/state"
	"github.com/Aman-CERP/coderecall/internal/store"
)

const testDims = 32

type deps struct {
	embedder *embed.BatchEmbedder
	vectors  *store.MemoryStore
	states   state.Store
}

func newDeps(t *testing.T) deps {
	t.Helper()
	states, err := state.NewFileStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	vectors := store.NewMemoryStore()
	require.NoError(t, vectors.EnsureCollection(context.Background(), "code", testDims))
	return deps{
		embedder: embed.NewBatchEmbedder(embed.NewHashProvider(testDims), testDims, embed.DefaultBatchConfig()),
		vectors:  vectors,
		states:   states,
	}
}

func (d deps) probes() []Probe {
	return []Probe{
		EmbedderProbe(d.embedder),
		VectorStoreProbe(d.vectors, "code", testDims),
		StateStoreProbe(d.states),
	}
}

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestMonitor_AllHealthy(t *testing.T) {
	// Given: working embedder, vector store and state store
	d := newDeps(t)
	m := New(WithProbes(d.probes()...))

	// When
	report := m.Run(context.Background())

	// Then: every probe passes, in registration order
	assert.Equal(t, Healthy, report.Status)
	assert.True(t, report.Healthy())
	require.Len(t, report.Checks, 3)
	assert.Equal(t, CheckEmbedder, report.Checks[0].Name)
	assert.Equal(t, CheckVectorStore, report.Checks[1].Name)
	assert.Equal(t, CheckStateStore, report.Checks[2].Name)
	for _, c := range report.Checks {
		assert.True(t, c.OK, c.Name)
		assert.Equal(t, StatusPass, c.Status, c.Name)
		assert.Empty(t, c.Error, c.Name)
	}
	assert.Contains(t, report.Checks[0].Message, "static/hash")

	// And: the state probe leaves nothing behind
	ids, err := d.states.List(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, ids, state.HealthRepoID)
}

func TestEmbedderProbe_NoProviderIsDegraded(t *testing.T) {
	e := embed.NewBatchEmbedder(nil, testDims, embed.DefaultBatchConfig())

	report := New(WithProbes(EmbedderProbe(e))).Run(context.Background())

	c, ok := report.Check(CheckEmbedder)
	require.True(t, ok)
	assert.Equal(t, StatusWarn, c.Status)
	assert.True(t, c.OK)
	assert.Contains(t, c.Error, "fallback")
	assert.Equal(t, Degraded, report.Status)
}

type stubProber struct {
	err error
}

func (s stubProber) Probe(context.Context) error { return s.err }
func (s stubProber) ModelName() string           { return "openai/text-embedding-3-small" }
func (s stubProber) Dimensions() int             { return 1536 }

func TestEmbedderProbe_ProviderFailure(t *testing.T) {
	p := stubProber{err: crerrors.New(crerrors.ErrCodeProviderUnavailable, "401 unauthorized", nil)}

	report := New(WithProbes(EmbedderProbe(p))).Run(context.Background())

	c, _ := report.Check(CheckEmbedder)
	assert.Equal(t, StatusFail, c.Status)
	assert.False(t, c.OK)
	assert.Contains(t, c.Error, "401")
	assert.Equal(t, Unhealthy, report.Status)
}

func TestVectorStoreProbe(t *testing.T) {
	vectors := store.NewMemoryStore()
	require.NoError(t, vectors.EnsureCollection(context.Background(), "code", testDims))

	tests := []struct {
		name       string
		collection string
		dims       int
		want       CheckStatus
	}{
		{"exists", "code", testDims, StatusPass},
		{"dimension unchecked", "code", 0, StatusPass},
		{"missing collection", "other", testDims, StatusWarn},
		{"dimension mismatch", "code", 768, StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := New(WithProbes(VectorStoreProbe(vectors, tt.collection, tt.dims))).Run(context.Background())
			c, ok := report.Check(CheckVectorStore)
			require.True(t, ok)
			assert.Equal(t, tt.want, c.Status)
			assert.Contains(t, c.Message, store.BackendMemory)
		})
	}
}

type brokenStates struct {
	state.Store
}

func (brokenStates) Save(context.Context, *state.RepoState) error {
	return errors.New("read-only file system")
}

func TestMonitor_FailureIsIsolated(t *testing.T) {
	// Given: a state store that cannot write
	d := newDeps(t)
	d.states = brokenStates{Store: d.states}

	// When
	report := New(WithProbes(d.probes()...)).Run(context.Background())

	// Then: the state store fails and the others still report
	assert.Equal(t, Unhealthy, report.Status)
	assert.False(t, report.Healthy())
	c, _ := report.Check(CheckStateStore)
	assert.False(t, c.OK)
	assert.Contains(t, c.Error, "read-only")
	for _, name := range []string{CheckEmbedder, CheckVectorStore} {
		c, ok := report.Check(name)
		require.True(t, ok)
		assert.True(t, c.OK, name)
	}
}

func TestMonitor_HangingProbeTimesOut(t *testing.T) {
	// Given: one probe that ignores its context and never returns
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	hanging := Probe{Name: "hanging", Required: true, Check: func(context.Context) (string, error) {
		<-release
		return "", nil
	}}
	fast := Probe{Name: "fast", Check: func(context.Context) (string, error) { return "ok", nil }}
	m := New(WithTimeout(100*time.Millisecond), WithProbes(hanging, fast))

	// When
	start := time.Now()
	report := m.Run(context.Background())

	// Then: the run finishes near the timeout and reports both probes
	assert.Less(t, time.Since(start), 2*time.Second)
	c, _ := report.Check("hanging")
	assert.Equal(t, StatusFail, c.Status)
	assert.Contains(t, c.Error, "timed out")
	c, _ = report.Check("fast")
	assert.Equal(t, StatusPass, c.Status)
	assert.Equal(t, "ok", c.Message)
}

func TestMonitor_WarningCheckDegrades(t *testing.T) {
	// Given: a required probe that reports a warning
	p := Probe{Name: "quota", Required: true, Check: func(context.Context) (string, error) {
		return "80% used", AsWarning(errors.New("nearly full"))
	}}

	// When
	report := New(WithProbes(p)).Run(context.Background())

	// Then: the check warns and the report is degraded but healthy
	c, ok := report.Check("quota")
	require.True(t, ok)
	assert.Equal(t, StatusWarn, c.Status)
	assert.Contains(t, c.Error, "nearly full")
	assert.Equal(t, Degraded, report.Status)
	assert.True(t, report.Healthy())
}

func TestMonitor_PanickingProbeFails(t *testing.T) {
	p := Probe{Name: "boom", Check: func(context.Context) (string, error) { panic("nil map") }}

	report := New(WithProbes(p)).Run(context.Background())

	c, _ := report.Check("boom")
	assert.Equal(t, StatusFail, c.Status)
	assert.Contains(t, c.Error, "nil map")
	assert.Equal(t, Degraded, report.Status, "optional probe failure degrades")
}

func TestSystemProbes(t *testing.T) {
	report := New(WithProbes(DiskProbe(t.TempDir()), FileDescriptorProbe())).Run(context.Background())

	disk, ok := report.Check(CheckDiskSpace)
	require.True(t, ok)
	assert.Contains(t, disk.Message, "free")
	assert.False(t, disk.Required)

	fds, ok := report.Check(CheckFileLimit)
	require.True(t, ok)
	assert.NotEqual(t, StatusFail, fds.Status)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "100.0 MB", formatBytes(MinDiskSpaceBytes))
	assert.Equal(t, "2.0 GB", formatBytes(2*1024*1024*1024))
}
