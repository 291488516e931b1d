package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/index"
)

// fakeIndexer records requests and replays queued errors.
type fakeIndexer struct {
	mu       sync.Mutex
	requests []index.IndexRequest
	errs     []error
}

func (f *fakeIndexer) Index(_ context.Context, req index.IndexRequest) (*index.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &index.Stats{RepoID: req.RepoID}, nil
}

func (f *fakeIndexer) calls() []index.IndexRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]index.IndexRequest(nil), f.requests...)
}

// runRunner starts r in the background and returns a channel of results.
func runRunner(t *testing.T, r *Runner, events <-chan []FileEvent) (<-chan RunResult, context.CancelFunc, <-chan error) {
	t.Helper()
	results := make(chan RunResult, 32)
	r.opts.OnRun = func(res RunResult) { results <- res }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, events) }()
	t.Cleanup(cancel)
	return results, cancel, done
}

func nextResult(t *testing.T, results <-chan RunResult) RunResult {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for run")
		return RunResult{}
	}
}

func TestRunner_InitialRunThenChanges(t *testing.T) {
	// Given: a runner with a forced initial request
	idx := &fakeIndexer{}
	events := make(chan []FileEvent, 4)
	r := NewRunner(idx, index.IndexRequest{Root: "/repo", RepoID: "r1", Force: true}, RunnerOptions{})
	results, _, _ := runRunner(t, r, events)

	// When: the initial run completes and a batch arrives
	first := nextResult(t, results)
	events <- []FileEvent{{Path: "a.go", Operation: OpModify}, {Path: "b.go", Operation: OpCreate}}
	second := nextResult(t, results)

	// Then: the batch triggers an incremental run
	assert.Equal(t, TriggerInitial, first.Trigger)
	assert.Equal(t, TriggerChange, second.Trigger)
	assert.Equal(t, 2, second.Events)
	require.NoError(t, second.Err)

	calls := idx.calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].Force)
	assert.False(t, calls[1].Force)
	assert.Equal(t, "r1", calls[1].RepoID)
}

func TestRunner_RetriesWhenBusy(t *testing.T) {
	// Given: an indexer that is busy on the first change run
	idx := &fakeIndexer{errs: []error{nil, crerrors.BusyError("r1")}}
	events := make(chan []FileEvent, 1)
	r := NewRunner(idx, index.IndexRequest{Root: "/repo", RepoID: "r1"}, RunnerOptions{BusyRetry: 20 * time.Millisecond})
	results, _, _ := runRunner(t, r, events)

	// When: a change arrives while another run holds the lock
	nextResult(t, results)
	events <- []FileEvent{{Path: "a.go", Operation: OpModify}}
	busy := nextResult(t, results)
	retried := nextResult(t, results)

	// Then: the runner retries after the delay
	assert.Equal(t, crerrors.ErrCodeBusy, crerrors.GetCode(busy.Err))
	assert.Equal(t, TriggerRetry, retried.Trigger)
	assert.NoError(t, retried.Err)
}

func TestRunner_FailureDoesNotStopWatching(t *testing.T) {
	// Given: an indexer whose first change run fails
	idx := &fakeIndexer{errs: []error{nil, &index.RunError{RepoID: "r1", Phase: index.PhaseEmbedding, Err: errors.New("provider down")}}}
	events := make(chan []FileEvent, 2)
	r := NewRunner(idx, index.IndexRequest{Root: "/repo", RepoID: "r1"}, RunnerOptions{BusyRetry: time.Hour})
	results, _, _ := runRunner(t, r, events)

	// When: two batches arrive
	nextResult(t, results)
	events <- []FileEvent{{Path: "a.go", Operation: OpModify}}
	failed := nextResult(t, results)
	events <- []FileEvent{{Path: "a.go", Operation: OpModify}}
	recovered := nextResult(t, results)

	// Then: the failure is reported and the next batch still runs
	assert.Equal(t, index.PhaseEmbedding, index.PhaseOf(failed.Err))
	assert.NoError(t, recovered.Err)
	assert.Equal(t, TriggerChange, recovered.Trigger)
}

func TestRunner_PollsWithoutEventSource(t *testing.T) {
	// Given: a runner without an event channel
	idx := &fakeIndexer{}
	r := NewRunner(idx, index.IndexRequest{Root: "/repo"}, RunnerOptions{PollInterval: 20 * time.Millisecond})
	results, _, _ := runRunner(t, r, nil)

	// When/Then: runs keep happening on the poll interval
	assert.Equal(t, TriggerInitial, nextResult(t, results).Trigger)
	assert.Equal(t, TriggerPoll, nextResult(t, results).Trigger)
	assert.Equal(t, TriggerPoll, nextResult(t, results).Trigger)
}

func TestRunner_ClosedEventsFallsBackToPolling(t *testing.T) {
	// Given: an event source that goes away
	idx := &fakeIndexer{}
	events := make(chan []FileEvent)
	r := NewRunner(idx, index.IndexRequest{Root: "/repo"}, RunnerOptions{PollInterval: 20 * time.Millisecond})
	results, _, _ := runRunner(t, r, events)
	nextResult(t, results)

	// When: the channel is closed
	close(events)

	// Then: the runner keeps indexing by polling
	assert.Equal(t, TriggerPoll, nextResult(t, results).Trigger)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	// Given: a running runner
	idx := &fakeIndexer{}
	r := NewRunner(idx, index.IndexRequest{Root: "/repo"}, RunnerOptions{})
	results, cancel, done := runRunner(t, r, make(chan []FileEvent))
	nextResult(t, results)

	// When: the context is canceled
	cancel()

	// Then: Run returns without error
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestDrain_MergesWaitingBatches(t *testing.T) {
	events := make(chan []FileEvent, 3)
	events <- []FileEvent{{Path: "a"}}
	events <- []FileEvent{{Path: "b"}, {Path: "c"}}

	got := drain(events)
	assert.Len(t, got, 3)
	assert.Empty(t, drain(events))
}
