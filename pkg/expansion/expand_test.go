package expansion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

func constParam(format string, value any) models.TaskParameter {
	return models.TaskParameter{Format: format, Value: value}
}

func baseSpec() models.TaskSpec {
	return models.TaskSpec{
		Prompts: []models.Prompt{
			{Type: models.PromptTypeFreetext, Value: "cat", Weight: 1},
		},
		Ratio:           constParam(models.FormatString, "1:1"),
		Seed:            constParam(models.FormatInt, int64(42)),
		BatchSize:       constParam(models.FormatInt, int64(1)),
		UsePolish:       constParam(models.FormatBool, false),
		IsLumina:        constParam(models.FormatBool, false),
		LuminaModelName: constParam(models.FormatString, ""),
		LuminaCfg:       constParam(models.FormatFloat, 0.0),
		LuminaStep:      constParam(models.FormatInt, int64(0)),
	}
}

// S1: no variables.
func TestExpand_NoVariables(t *testing.T) {
	task, subtasks, err := Expand(baseSpec())
	require.NoError(t, err)
	assert.Equal(t, 1, task.TotalImages)
	require.Len(t, subtasks, 1)
	st := subtasks[0]
	assert.Empty(t, st.VariableIndices)
	assert.Equal(t, "1:1", st.Ratio)
	assert.EqualValues(t, 42, st.Seed)
	require.Len(t, st.Prompts, 1)
	assert.Equal(t, "cat", st.Prompts[0].Value)
	assert.Equal(t, float64(1), st.Prompts[0].Weight)
}

// S2: one prompt variable, two values.
func TestExpand_OnePromptVariable(t *testing.T) {
	spec := baseSpec()
	spec.Prompts = []models.Prompt{
		{
			Type:         models.PromptTypeFreetext,
			IsVariable:   true,
			VariableID:   "x",
			VariableName: "color",
			VariableValues: []models.Prompt{
				{Type: models.PromptTypeFreetext, Value: "red", Weight: 1},
				{Type: models.PromptTypeFreetext, Value: "blue", Weight: 1},
			},
		},
	}
	task, subtasks, err := Expand(spec)
	require.NoError(t, err)
	assert.Equal(t, 2, task.TotalImages)
	require.Len(t, subtasks, 2)
	assert.Len(t, task.VariablesMap["0"].Values, 2)

	seen := map[int]bool{}
	for _, st := range subtasks {
		require.Len(t, st.VariableIndices, 1)
		seen[st.VariableIndices[0]] = true
	}
	assert.True(t, seen[0])
	assert.True(t, seen[1])
}

// S3: mixed prompt + parameter variable.
func TestExpand_MixedVariables(t *testing.T) {
	spec := baseSpec()
	spec.Prompts = []models.Prompt{
		{
			Type:         models.PromptTypeFreetext,
			IsVariable:   true,
			VariableID:   "p",
			VariableName: "letter",
			VariableValues: []models.Prompt{
				{Type: models.PromptTypeFreetext, Value: "a", Weight: 1},
				{Type: models.PromptTypeFreetext, Value: "b", Weight: 1},
			},
		},
	}
	spec.Ratio = models.TaskParameter{
		Format:         models.FormatString,
		IsVariable:     true,
		VariableID:     "r",
		VariableName:   "ratio",
		VariableValues: []any{"1:1", "4:3"},
	}

	task, subtasks, err := Expand(spec)
	require.NoError(t, err)
	assert.Equal(t, 4, task.TotalImages)
	require.Len(t, task.Variables, 2)
	assert.Equal(t, "prompt", task.Variables[0].VariableType)
	assert.Equal(t, "ratio", task.Variables[1].VariableType)
	assert.Equal(t, "0", task.Variables[0].VariableID)
	assert.Equal(t, "1", task.Variables[1].VariableID)

	coords := map[[2]int]models.Subtask{}
	for _, st := range subtasks {
		coords[[2]int{st.VariableIndices[0], st.VariableIndices[1]}] = st
	}
	require.Len(t, coords, 4)
	assert.Equal(t, "a", coords[[2]int{0, 0}].Prompts[0].Value)
	assert.Equal(t, "1:1", coords[[2]int{0, 0}].Ratio)
	assert.Equal(t, "b", coords[[2]int{1, 1}].Prompts[0].Value)
	assert.Equal(t, "4:3", coords[[2]int{1, 1}].Ratio)
}

func TestExpand_RejectsMissingVariableName(t *testing.T) {
	spec := baseSpec()
	spec.Ratio = models.TaskParameter{
		Format:         models.FormatString,
		IsVariable:     true,
		VariableValues: []any{"1:1", "4:3"},
	}
	_, _, err := Expand(spec)
	require.Error(t, err)
	var specErr *SpecInvalidError
	require.ErrorAs(t, err, &specErr)
}

func TestExpand_RejectsEmptyVariableValues(t *testing.T) {
	spec := baseSpec()
	spec.Ratio = models.TaskParameter{
		Format:       models.FormatString,
		IsVariable:   true,
		VariableID:   "r",
		VariableName: "ratio",
	}
	_, _, err := Expand(spec)
	require.Error(t, err)
}

func TestExpand_BatchSizeCannotBeVariable(t *testing.T) {
	spec := baseSpec()
	spec.BatchSize = models.TaskParameter{
		Format:         models.FormatInt,
		IsVariable:     true,
		VariableID:     "b",
		VariableName:   "batch",
		VariableValues: []any{float64(1), float64(2)},
	}
	_, _, err := Expand(spec)
	require.Error(t, err)
}
