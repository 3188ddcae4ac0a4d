package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDAG(t *testing.T) {
	cases := []struct {
		name    string
		tasks   []Subtask
		wantErr bool
	}{
		{
			name: "linear chain is valid",
			tasks: []Subtask{
				{Index: 0, DependsOn: nil},
				{Index: 1, DependsOn: []int{0}},
				{Index: 2, DependsOn: []int{0, 1}},
			},
		},
		{
			name: "forward reference is rejected",
			tasks: []Subtask{
				{Index: 0, DependsOn: []int{1}},
				{Index: 1, DependsOn: nil},
			},
			wantErr: true,
		},
		{
			name: "self reference is rejected",
			tasks: []Subtask{
				{Index: 0, DependsOn: []int{0}},
			},
			wantErr: true,
		},
		{
			name: "negative dependency is rejected",
			tasks: []Subtask{
				{Index: 0, DependsOn: nil},
				{Index: 1, DependsOn: []int{-1}},
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDAG(tc.tasks)
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var dagErr *DAGError
			require.ErrorAsf(t, err, &dagErr, "expected *DAGError, got %T", err)
		})
	}
}

func TestSubtaskID(t *testing.T) {
	st := Subtask{AgentKind: "feature-dev", TaskID: "T1", Index: 0}
	assert.Equal(t, "feature-dev::T1::1", st.ID())
}

func TestTaskElapsedSeconds(t *testing.T) {
	var task Task
	assert.Zero(t, task.ElapsedSeconds())
}
