// Package graph_test exercises the workflow execution engine.
package graph_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/taskorch/graph"
	"github.com/orchestrator/taskorch/graph/emit"
	"github.com/orchestrator/taskorch/graph/store"
)

type testState struct {
	Path    []string
	Counter int
}

func reduce(prev, delta testState) testState {
	prev.Path = append(prev.Path, delta.Path...)
	prev.Counter += delta.Counter
	return prev
}

// visit returns a node that records its own ID on the path and routes to
// next.
func visit(id string, next graph.Next) graph.NodeFunc[testState] {
	return func(_ context.Context, _ testState) graph.NodeResult[testState] {
		return graph.NodeResult[testState]{
			Delta: testState{Path: []string{id}, Counter: 1},
			Route: next,
		}
	}
}

func newEngine(t *testing.T, opts graph.Options) (*graph.Engine[testState], *store.MemStore[testState]) {
	t.Helper()
	st := store.NewMemStore[testState]()
	return graph.New(reduce, st, emit.NewNullEmitter(), opts), st
}

func TestRunExecutesLinearGraph(t *testing.T) {
	engine, st := newEngine(t, graph.Options{})
	require.NoError(t, engine.Add("a", visit("a", graph.Goto("b"))))
	require.NoError(t, engine.Add("b", visit("b", graph.Stop())))
	require.NoError(t, engine.StartAt("a"))

	final, err := engine.Run(context.Background(), "run-1", testState{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, final.Path)

	saved, step, err := st.LoadLatest(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, step, "one checkpoint per executed node")
	assert.Equal(t, final, saved, "the final checkpoint is the returned state")
}

func TestRunRoutesThroughConditionalEdges(t *testing.T) {
	engine, _ := newEngine(t, graph.Options{})
	// "route" declares no destination of its own; the edges decide.
	require.NoError(t, engine.Add("route", graph.NodeFunc[testState](func(_ context.Context, _ testState) graph.NodeResult[testState] {
		return graph.NodeResult[testState]{Delta: testState{Counter: 5}}
	})))
	require.NoError(t, engine.Add("high", visit("high", graph.Stop())))
	require.NoError(t, engine.Add("low", visit("low", graph.Stop())))
	require.NoError(t, engine.Connect("route", "high", func(s testState) bool { return s.Counter > 3 }))
	require.NoError(t, engine.Connect("route", "low", nil))
	require.NoError(t, engine.StartAt("route"))

	final, err := engine.Run(context.Background(), "run-2", testState{})
	require.NoError(t, err)
	assert.Equal(t, []string{"high"}, final.Path, "the first matching edge wins")
}

func TestRunFailsWithoutARoute(t *testing.T) {
	engine, _ := newEngine(t, graph.Options{})
	require.NoError(t, engine.Add("dead-end", graph.NodeFunc[testState](func(_ context.Context, _ testState) graph.NodeResult[testState] {
		return graph.NodeResult[testState]{}
	})))
	require.NoError(t, engine.StartAt("dead-end"))

	_, err := engine.Run(context.Background(), "run-3", testState{})
	var engErr *graph.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, "NO_ROUTE", engErr.Code)
}

func TestRunEnforcesMaxSteps(t *testing.T) {
	engine, _ := newEngine(t, graph.Options{MaxSteps: 5})
	require.NoError(t, engine.Add("loop", visit("loop", graph.Goto("loop"))))
	require.NoError(t, engine.StartAt("loop"))

	_, err := engine.Run(context.Background(), "run-4", testState{})
	var engErr *graph.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, "MAX_STEPS_EXCEEDED", engErr.Code)
}

func TestRunSurfacesNodeErrors(t *testing.T) {
	engine, st := newEngine(t, graph.Options{})
	boom := errors.New("boom")
	require.NoError(t, engine.Add("ok", visit("ok", graph.Goto("bad"))))
	require.NoError(t, engine.Add("bad", graph.NodeFunc[testState](func(_ context.Context, _ testState) graph.NodeResult[testState] {
		return graph.NodeResult[testState]{Err: boom}
	})))
	require.NoError(t, engine.StartAt("ok"))

	_, err := engine.Run(context.Background(), "run-5", testState{})
	assert.ErrorIs(t, err, boom)

	// The failing node left no checkpoint; the last good one stands.
	saved, step, loadErr := st.LoadLatest(context.Background(), "run-5")
	require.NoError(t, loadErr)
	assert.Equal(t, 1, step)
	assert.Equal(t, []string{"ok"}, saved.Path)
}

func TestRunFromContinuesAtTheGivenNode(t *testing.T) {
	engine, st := newEngine(t, graph.Options{})
	require.NoError(t, engine.Add("first", visit("first", graph.Stop())))
	require.NoError(t, engine.Add("second", visit("second", graph.Stop())))
	require.NoError(t, engine.StartAt("first"))

	paused, err := engine.Run(context.Background(), "run-6", testState{})
	require.NoError(t, err)

	final, err := engine.RunFrom(context.Background(), "run-6", 1, "second", paused)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, final.Path)

	_, step, err := st.LoadLatest(context.Background(), "run-6")
	require.NoError(t, err)
	assert.Equal(t, 2, step, "the resumed run appends to the step sequence")
}

func TestRunRejectsDuplicateConcurrentRun(t *testing.T) {
	engine, _ := newEngine(t, graph.Options{})
	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, engine.Add("block", graph.NodeFunc[testState](func(_ context.Context, _ testState) graph.NodeResult[testState] {
		close(entered)
		<-release
		return graph.NodeResult[testState]{Route: graph.Stop()}
	})))
	require.NoError(t, engine.StartAt("block"))

	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(context.Background(), "run-7", testState{})
		done <- err
	}()
	<-entered

	_, err := engine.Run(context.Background(), "run-7", testState{})
	var engErr *graph.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, "RUN_IN_PROGRESS", engErr.Code)

	close(release)
	require.NoError(t, <-done)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	engine, _ := newEngine(t, graph.Options{})
	require.NoError(t, engine.Add("loop", visit("loop", graph.Goto("loop"))))
	require.NoError(t, engine.StartAt("loop"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := engine.Run(ctx, "run-8", testState{})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingStore struct {
	store.Store[testState]
}

func (f *failingStore) SaveStep(context.Context, string, int, string, testState) error {
	return errors.New("disk full")
}

func TestRunAbortsOnCheckpointWriteFailure(t *testing.T) {
	engine := graph.New[testState](reduce, &failingStore{}, emit.NewNullEmitter(), graph.Options{})
	require.NoError(t, engine.Add("a", visit("a", graph.Stop())))
	require.NoError(t, engine.StartAt("a"))

	_, err := engine.Run(context.Background(), "run-9", testState{})
	var engErr *graph.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, "STORE_ERROR", engErr.Code)
}

func TestAddRejectsDuplicatesAndEmptyIDs(t *testing.T) {
	engine, _ := newEngine(t, graph.Options{})
	require.NoError(t, engine.Add("a", visit("a", graph.Stop())))
	assert.Error(t, engine.Add("a", visit("a", graph.Stop())))
	assert.Error(t, engine.Add("", visit("x", graph.Stop())))
	assert.Error(t, engine.Add("nil-node", nil))
}

func TestStartAtRejectsUnknownNode(t *testing.T) {
	engine, _ := newEngine(t, graph.Options{})
	assert.Error(t, engine.StartAt("ghost"))
}

func TestConnectRejectsUnknownEndpoints(t *testing.T) {
	engine, _ := newEngine(t, graph.Options{})
	require.NoError(t, engine.Add("a", visit("a", graph.Stop())))
	assert.Error(t, engine.Connect("a", "ghost", nil))
	assert.Error(t, engine.Connect("ghost", "a", nil))
}
