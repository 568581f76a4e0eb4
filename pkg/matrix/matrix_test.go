package matrix

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// taskWithDims builds a task whose VariablesMap is keyed the way Expand
// actually stores it: plain decimal dimension indices ("0", "1", ...), not
// the "v{d}" form callers see in the materialized output.
func taskWithDims(dims map[string]int) *models.Task {
	vm := make(map[string]models.VariableEntry, len(dims))
	for k, n := range dims {
		values := make([]any, n)
		for i := range values {
			values[i] = i
		}
		vm[k] = models.VariableEntry{VariableID: k, VariableName: "dim-" + k, VariableType: "string", Values: values}
	}
	return &models.Task{
		ID:           uuid.New(),
		Name:         "task-under-test",
		CreatedAt:    time.Now(),
		VariablesMap: vm,
	}
}

// variables_map keys in the materialized output are always normalized to
// "v{d}", regardless of the map's original storage key spelling.
func TestBuild_VariablesMapKeysAreNormalized(t *testing.T) {
	task := taskWithDims(map[string]int{"0": 2, "1": 3})

	m := build(task, nil)
	require.Len(t, m.VariablesMap, 2)
	_, ok := m.VariablesMap["v0"]
	require.True(t, ok)
	_, ok = m.VariablesMap["v1"]
	require.True(t, ok)
}

// P10: coordinates_by_indices contains exactly ∏ R_d keys.
func TestBuild_CoordinateCountMatchesProduct(t *testing.T) {
	task := taskWithDims(map[string]int{"0": 2, "1": 3})

	m := build(task, nil)
	require.Equal(t, 6, m.Summary.TotalCombinations)
	require.Len(t, m.CoordinatesByIndices, 6)
	require.Equal(t, "", m.CoordinatesByIndices["0,0"])
	require.Equal(t, "", m.CoordinatesByIndices["1,2"])
}

// P10: every subtask with fully populated variable_indices maps one-to-one
// to a coordinate key carrying its id.
func TestBuild_SubtaskCellsMapOneToOne(t *testing.T) {
	task := taskWithDims(map[string]int{"0": 2, "1": 2})

	completedResult := "https://images.example/a.png"
	failedErr := "upstream 500"
	subtasks := []models.Subtask{
		{ID: uuid.New(), VariableIndices: []int{0, 0}, Status: models.SubtaskCompleted, Result: &completedResult},
		{ID: uuid.New(), VariableIndices: []int{1, 1}, Status: models.SubtaskFailed, Error: &failedErr},
		{ID: uuid.New(), VariableIndices: []int{0, 1}, Status: models.SubtaskPending},
	}

	m := build(task, subtasks)
	require.Equal(t, 4, m.Summary.TotalCombinations)
	require.Equal(t, 3, m.Summary.MappedCoordinates)

	cell00, ok := m.CoordinatesByIndices["0,0"].(Cell)
	require.True(t, ok)
	require.Equal(t, subtasks[0].ID, cell00.SubtaskID)
	require.Equal(t, completedResult, cell00.URL)

	cell11, ok := m.CoordinatesByIndices["1,1"].(Cell)
	require.True(t, ok)
	require.Equal(t, subtasks[1].ID, cell11.SubtaskID)
	require.Equal(t, "ERROR: "+failedErr, cell11.URL)

	cell01, ok := m.CoordinatesByIndices["0,1"].(Cell)
	require.True(t, ok)
	require.Equal(t, subtasks[2].ID, cell01.SubtaskID)
	require.Equal(t, "", cell01.URL)

	// Untouched coordinate stays the pre-seeded empty string.
	require.Equal(t, "", m.CoordinatesByIndices["1,0"])

	require.Equal(t, 1, m.Summary.ResultStatistics.WithResult)
	require.Equal(t, 1, m.Summary.ResultStatistics.WithError)
	require.Equal(t, 1, m.Summary.ResultStatistics.Empty)
}

func TestBuild_NoVariables(t *testing.T) {
	task := taskWithDims(nil)
	m := build(task, nil)
	require.Equal(t, 0, m.Summary.TotalCombinations)
	require.Empty(t, m.CoordinatesByIndices)
}
