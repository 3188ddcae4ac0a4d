package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkpointState struct {
	Path []string `json:"path"`
	N    int      `json:"n"`
}

func TestMemStoreSaveAndLoadLatest(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[checkpointState]()

	require.NoError(t, st.SaveStep(ctx, "r1", 1, "a", checkpointState{Path: []string{"a"}, N: 1}))
	require.NoError(t, st.SaveStep(ctx, "r1", 2, "b", checkpointState{Path: []string{"a", "b"}, N: 2}))

	state, step, err := st.LoadLatest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, step)
	assert.Equal(t, checkpointState{Path: []string{"a", "b"}, N: 2}, state)
}

func TestMemStoreLoadLatestUnknownRun(t *testing.T) {
	st := NewMemStore[checkpointState]()
	_, _, err := st.LoadLatest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreRewritingAStepReplacesIt(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[checkpointState]()

	require.NoError(t, st.SaveStep(ctx, "r1", 1, "a", checkpointState{N: 1}))
	require.NoError(t, st.SaveStep(ctx, "r1", 1, "a", checkpointState{N: 9}))

	state, step, err := st.LoadLatest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, step)
	assert.Equal(t, 9, state.N)
}

func TestMemStoreSnapshotsStateAgainstMutation(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[checkpointState]()

	original := checkpointState{Path: []string{"a"}}
	require.NoError(t, st.SaveStep(ctx, "r1", 1, "a", original))
	original.Path[0] = "mutated"

	state, _, err := st.LoadLatest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, state.Path, "stored checkpoints must not alias caller slices")
}

func TestMemStoreRunsAreIsolated(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[checkpointState]()

	require.NoError(t, st.SaveStep(ctx, "r1", 1, "a", checkpointState{N: 1}))
	require.NoError(t, st.SaveStep(ctx, "r2", 7, "z", checkpointState{N: 7}))

	_, step, err := st.LoadLatest(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, 7, step)
}
