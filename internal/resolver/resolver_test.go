package resolver

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillhub/backend/pkg/models"
)

func wf(id string, deps ...string) models.WorkflowDefinition {
	return models.WorkflowDefinition{SkillWorkflowID: id, Name: id, DependencyWorkflowIDs: deps}
}

func ids(workflows []models.WorkflowDefinition) []string {
	out := make([]string, len(workflows))
	for i, w := range workflows {
		out[i] = w.SkillWorkflowID
	}
	return out
}

func TestResolve_Empty(t *testing.T) {
	ordered, err := Resolve("pkg", nil)
	require.NoError(t, err)
	assert.Empty(t, ordered)
}

func TestResolve_FanOut(t *testing.T) {
	ordered, err := Resolve("pkg", []models.WorkflowDefinition{
		wf("B", "A"),
		wf("C", "A"),
		wf("A"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, ids(ordered))
}

func TestResolve_IndependentKeepInputOrder(t *testing.T) {
	ordered, err := Resolve("pkg", []models.WorkflowDefinition{wf("z"), wf("a"), wf("m")})
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, ids(ordered))
}

func TestResolve_Chain(t *testing.T) {
	ordered, err := Resolve("pkg", []models.WorkflowDefinition{
		wf("D", "C"),
		wf("C", "B", "A"),
		wf("B", "A"),
		wf("A"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(ordered))
}

func TestResolve_DuplicateDependencyCountedOnce(t *testing.T) {
	ordered, err := Resolve("pkg", []models.WorkflowDefinition{wf("A"), wf("B", "A", "A")})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(ordered))
}

func TestResolve_Cycle(t *testing.T) {
	tests := []struct {
		name      string
		workflows []models.WorkflowDefinition
		residual  []string
	}{
		{
			name:      "two node cycle",
			workflows: []models.WorkflowDefinition{wf("A", "B"), wf("B", "A")},
			residual:  []string{"A", "B"},
		},
		{
			name:      "self dependency",
			workflows: []models.WorkflowDefinition{wf("A", "A")},
			residual:  []string{"A"},
		},
		{
			name:      "cycle behind a root",
			workflows: []models.WorkflowDefinition{wf("root"), wf("x", "root", "z"), wf("y", "x"), wf("z", "y")},
			residual:  []string{"x", "y", "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordered, err := Resolve("pkg-1", tt.workflows)
			require.Error(t, err)
			assert.Nil(t, ordered)
			assert.ErrorIs(t, err, ErrCircularDependency)
			assert.NotErrorIs(t, err, ErrDependencyNotFound)

			var cycleErr *CircularDependencyError
			require.True(t, errors.As(err, &cycleErr))
			assert.Equal(t, "pkg-1", cycleErr.PackageID)
			assert.Equal(t, tt.residual, cycleErr.Residual)
		})
	}
}

func TestResolve_MissingDependency(t *testing.T) {
	_, err := Resolve("pkg-1", []models.WorkflowDefinition{wf("A"), wf("B", "ghost")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDependencyNotFound)
	assert.NotErrorIs(t, err, ErrCircularDependency)

	var missing *MissingDependencyError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "B", missing.WorkflowID)
	assert.Equal(t, "ghost", missing.DependencyID)
}

func TestResolve_DuplicateWorkflow(t *testing.T) {
	_, err := Resolve("pkg-1", []models.WorkflowDefinition{wf("A"), wf("A")})
	assert.ErrorIs(t, err, ErrDuplicateWorkflow)
}

// Random DAGs: edges only point from lower to higher index before shuffling,
// so every generated graph is acyclic.
func TestResolve_RandomDAGsAreTopologicallyOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := rng.Intn(12)
		workflows := make([]models.WorkflowDefinition, n)
		for i := 0; i < n; i++ {
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps = append(deps, fmt.Sprintf("w%d", j))
				}
			}
			workflows[i] = wf(fmt.Sprintf("w%d", i), deps...)
		}
		rng.Shuffle(len(workflows), func(i, j int) { workflows[i], workflows[j] = workflows[j], workflows[i] })

		ordered, err := Resolve("pkg", workflows)
		require.NoError(t, err)
		require.Len(t, ordered, n)

		position := make(map[string]int, n)
		for i, w := range ordered {
			position[w.SkillWorkflowID] = i
		}
		for _, w := range ordered {
			for _, dep := range w.DependencyWorkflowIDs {
				assert.Less(t, position[dep], position[w.SkillWorkflowID], "round %d: %s must follow %s", round, w.SkillWorkflowID, dep)
			}
		}

		again, err := Resolve("pkg", workflows)
		require.NoError(t, err)
		assert.Equal(t, ids(ordered), ids(again))
	}
}
