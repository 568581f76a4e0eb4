// Package expansion implements the task expansion engine: turning a
// submitted TaskSpec into a persisted Task plus the concrete Subtask for
// every point in its Cartesian product of declared variables.
package expansion

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// MaxTotalImages is the default guard against pathologically large Cartesian
// products. Callers that need to accept a larger task may raise this via
// ExpandWithLimit; Expand enforces it unconditionally.
const MaxTotalImages = 10_000

// activeDim is one axis of the Cartesian product, in final dimension-index
// order. values holds already-coerced candidates: models.Prompt for a
// "prompt" dimension, or the Go type implied by the slot's format otherwise.
type activeDim struct {
	kind   string
	name   string
	values []any
}

type slotDef struct {
	key     string
	varType string
	param   *models.TaskParameter
}

func scalarSlots(spec *models.TaskSpec) []slotDef {
	return []slotDef{
		{models.SlotRatio, "ratio", &spec.Ratio},
		{models.SlotSeed, "seed", &spec.Seed},
		{models.SlotUsePolish, "use_polish", &spec.UsePolish},
		{models.SlotIsLumina, "is_lumina", &spec.IsLumina},
		{models.SlotLuminaModelName, "lumina_model_name", &spec.LuminaModelName},
		{models.SlotLuminaCfg, "lumina_cfg", &spec.LuminaCfg},
		{models.SlotLuminaStep, "lumina_step", &spec.LuminaStep},
	}
}

// resolvedSlot carries, for one scalar slot, either its fixed constant value
// or the dimension index to read the chosen coordinate value from.
type resolvedSlot struct {
	isVariable bool
	dimIndex   int
	constant   any
}

func (rs resolvedSlot) value(active []activeDim, coordinate []int) any {
	if !rs.isVariable {
		return rs.constant
	}
	return active[rs.dimIndex].values[coordinate[rs.dimIndex]]
}

// Expand runs the task expansion algorithm: it normalizes variable ids to
// sequential decimal strings, assigns dimension indices in the fixed walk
// order (prompts in input order, then the seven scalar slots in their
// declared order), and materializes one Subtask per point in the Cartesian
// product.
func Expand(spec models.TaskSpec) (*models.Task, []models.Subtask, error) {
	return ExpandWithLimit(spec, MaxTotalImages)
}

// ExpandWithLimit is Expand with an explicit total_images guard, for
// coordinate enumeration over very large products.
func ExpandWithLimit(spec models.TaskSpec, maxTotal int) (*models.Task, []models.Subtask, error) {
	var active []activeDim

	promptDim := make([]int, len(spec.Prompts))
	for i, p := range spec.Prompts {
		promptDim[i] = -1
		if !p.IsVariable {
			continue
		}
		if p.VariableID == "" || p.VariableName == "" {
			return nil, nil, specInvalid("prompts["+strconv.Itoa(i)+"]", "variable prompt missing variable_id or variable_name")
		}
		if len(p.VariableValues) == 0 {
			return nil, nil, specInvalid("prompts["+strconv.Itoa(i)+"]", "variable_values is empty")
		}
		values := make([]any, len(p.VariableValues))
		for j, cv := range p.VariableValues {
			if cv.IsVariable {
				return nil, nil, specInvalid("prompts["+strconv.Itoa(i)+"]", "variable_values entries must be constant prompts")
			}
			values[j] = cv.ApplyReferenceDefaults()
		}
		promptDim[i] = len(active)
		active = append(active, activeDim{kind: "prompt", name: p.VariableName, values: values})
	}

	slots := scalarSlots(&spec)
	resolved := make(map[string]resolvedSlot, len(slots))
	for _, sd := range slots {
		p := *sd.param
		if !p.IsVariable {
			cv, err := coerce(sd.key, p.Format, p.Value)
			if err != nil {
				return nil, nil, err
			}
			resolved[sd.key] = resolvedSlot{constant: cv}
			continue
		}
		if sd.key == models.SlotBatchSize {
			return nil, nil, specInvalid(sd.key, "batch_size may not be a variable slot")
		}
		if p.VariableID == "" || p.VariableName == "" {
			return nil, nil, specInvalid(sd.key, "variable slot missing variable_id or variable_name")
		}
		if len(p.VariableValues) == 0 {
			return nil, nil, specInvalid(sd.key, "variable_values is empty")
		}
		values := make([]any, len(p.VariableValues))
		for j, v := range p.VariableValues {
			cv, err := coerce(sd.key, p.Format, v)
			if err != nil {
				return nil, nil, err
			}
			values[j] = cv
		}
		dimIdx := len(active)
		active = append(active, activeDim{kind: sd.varType, name: p.VariableName, values: values})
		resolved[sd.key] = resolvedSlot{isVariable: true, dimIndex: dimIdx}
	}

	if spec.BatchSize.IsVariable {
		return nil, nil, specInvalid(models.SlotBatchSize, "batch_size may not be a variable slot")
	}
	batchSize, err := coerce(models.SlotBatchSize, spec.BatchSize.Format, spec.BatchSize.Value)
	if err != nil {
		return nil, nil, err
	}

	total := 1
	for _, a := range active {
		total *= len(a.values)
	}
	if total > maxTotal {
		return nil, nil, specInvalid("", "total_images "+strconv.Itoa(total)+" exceeds the configured guard")
	}

	variables := make([]models.VariableDimension, len(active))
	variablesMap := make(map[string]models.VariableEntry, len(active))
	for d, a := range active {
		id := strconv.Itoa(d)
		variables[d] = models.VariableDimension{
			VariableID:     id,
			DimensionIndex: d,
			VariableName:   a.name,
			VariableType:   a.kind,
		}
		variablesMap[id] = models.VariableEntry{
			VariableID:   id,
			VariableName: a.name,
			VariableType: a.kind,
			Values:       a.values,
		}
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:              uuid.New(),
		Name:            taskName(spec.Name, now),
		UserID:          spec.UserID,
		Priority:        taskPriority(spec.Priority),
		Prompts:         spec.Prompts,
		Ratio:           spec.Ratio,
		Seed:            spec.Seed,
		BatchSize:       spec.BatchSize,
		UsePolish:       spec.UsePolish,
		IsLumina:        spec.IsLumina,
		LuminaModelName: spec.LuminaModelName,
		LuminaCfg:       spec.LuminaCfg,
		LuminaStep:      spec.LuminaStep,
		TotalImages:     total,
		Variables:       variables,
		VariablesMap:    variablesMap,
		Status:          models.TaskPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if len(active) == 0 {
		st := materialize(task, spec, promptDim, active, resolved, nil, batchSize, now)
		return task, []models.Subtask{st}, nil
	}

	subtasks := make([]models.Subtask, 0, total)
	coordinate := make([]int, len(active))
	for {
		st := materialize(task, spec, promptDim, active, resolved, coordinate, batchSize, now)
		subtasks = append(subtasks, st)
		if advance(coordinate, active) {
			break
		}
	}
	return task, subtasks, nil
}

// advance increments coordinate in row-major order over active's
// cardinalities and reports whether the enumeration is complete (the last
// coordinate just wrapped back to all zeros).
func advance(coordinate []int, active []activeDim) bool {
	for d := len(coordinate) - 1; d >= 0; d-- {
		coordinate[d]++
		if coordinate[d] < len(active[d].values) {
			return false
		}
		coordinate[d] = 0
	}
	return true
}

func materialize(task *models.Task, spec models.TaskSpec, promptDim []int, active []activeDim, resolved map[string]resolvedSlot, coordinate []int, batchSize any, now time.Time) models.Subtask {
	prompts := make([]models.Prompt, 0, len(spec.Prompts))
	for i, p := range spec.Prompts {
		var mp models.Prompt
		if d := promptDim[i]; d >= 0 {
			mp = active[d].values[coordinate[d]].(models.Prompt)
		} else {
			mp = p.ApplyReferenceDefaults()
			if mp.Type == models.PromptTypeFreetext && mp.Weight == 0 {
				mp.Weight = 1
			}
		}
		if mp.IsEmpty() {
			continue
		}
		prompts = append(prompts, mp)
	}

	ratio := asString(resolved[models.SlotRatio].value(active, coordinate))
	seed := asInt64(resolved[models.SlotSeed].value(active, coordinate))
	usePolish := asBool(resolved[models.SlotUsePolish].value(active, coordinate))
	isLumina := asBool(resolved[models.SlotIsLumina].value(active, coordinate))
	luminaModel := asString(resolved[models.SlotLuminaModelName].value(active, coordinate))
	luminaCfg := asFloat64(resolved[models.SlotLuminaCfg].value(active, coordinate))
	luminaStep := int(asInt64(resolved[models.SlotLuminaStep].value(active, coordinate)))

	indices := make([]int, len(coordinate))
	copy(indices, coordinate)

	return models.Subtask{
		ID:              uuid.New(),
		TaskID:          task.ID,
		VariableIndices: indices,
		Prompts:         prompts,
		Ratio:           ratio,
		Seed:            seed,
		BatchSize:       int(asInt64(batchSize)),
		UsePolish:       usePolish,
		IsLumina:        isLumina,
		LuminaModelName: luminaModel,
		LuminaCfg:       luminaCfg,
		LuminaStep:      luminaStep,
		Status:          models.SubtaskPending,
		Evaluation:      []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func taskName(name string, now time.Time) string {
	if name != "" {
		return name
	}
	return "untitled-" + now.Format("20060102_150405")
}

func taskPriority(p int) int {
	if p == 0 {
		return 1
	}
	return p
}
