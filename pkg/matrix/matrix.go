// Package matrix implements the matrix materializer: composing a dense
// coordinate-grid view of a task's variable dimensions and its subtasks'
// results from persisted state.
package matrix

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// TaskStore is the persistence surface the materializer needs.
type TaskStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListSubtasks(ctx context.Context, taskID uuid.UUID) ([]models.Subtask, error)
}

// ValueEntry is one candidate value of a dimension, keyed by its position.
type ValueEntry struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// DimensionView is the variables_map value for one normalized "v{d}" key.
type DimensionView struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Values      []ValueEntry `json:"values"`
	ValuesCount int          `json:"values_count"`
	TagID       string       `json:"tag_id"`
}

// Cell is one populated coordinate in coordinates_by_indices.
type Cell struct {
	URL             string     `json:"url"`
	SubtaskID       uuid.UUID  `json:"subtask_id"`
	Status          string     `json:"status"`
	Rating          int        `json:"rating"`
	Evaluation      []string   `json:"evaluation"`
	VariableIndices []int      `json:"variable_indices"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ResultStatistics buckets every populated cell by what it carries.
type ResultStatistics struct {
	WithResult int `json:"with_result"`
	WithError  int `json:"with_error"`
	Empty      int `json:"empty"`
}

// Summary rolls up coverage of the coordinate grid.
type Summary struct {
	TotalVariables    int              `json:"total_variables"`
	TotalCombinations int              `json:"total_combinations"`
	TotalSubtasks     int              `json:"total_subtasks"`
	MappedCoordinates int              `json:"mapped_coordinates"`
	ResultStatistics  ResultStatistics `json:"result_statistics"`
}

// Matrix is the full result-matrix output for one task.
type Matrix struct {
	TaskID               uuid.UUID                `json:"task_id"`
	TaskName             string                   `json:"task_name"`
	CreatedAt            time.Time                `json:"created_at"`
	VariablesMap         map[string]DimensionView `json:"variables_map"`
	CoordinatesByIndices map[string]any           `json:"coordinates_by_indices"`
	Summary              Summary                  `json:"summary"`
}

// Materializer builds Matrix views from persisted task state.
type Materializer struct {
	store TaskStore
}

// NewMaterializer builds a Materializer backed by store.
func NewMaterializer(store TaskStore) *Materializer {
	return &Materializer{store: store}
}

// Build composes the matrix view for taskID.
func (m *Materializer) Build(ctx context.Context, taskID uuid.UUID) (*Matrix, error) {
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	subtasks, err := m.store.ListSubtasks(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return build(task, subtasks), nil
}

func build(task *models.Task, subtasks []models.Subtask) *Matrix {
	keys := normalizedKeys(task.VariablesMap)

	variablesMap := make(map[string]DimensionView, len(keys))
	dims := make([]int, len(keys)) // R_d per dimension, in key order
	for i, k := range keys {
		entry := task.VariablesMap[k.orig]
		values := make([]ValueEntry, len(entry.Values))
		for j, v := range entry.Values {
			values[j] = ValueEntry{ID: strconv.Itoa(j), Value: v, Type: entry.VariableType}
		}
		variablesMap[k.outputKey()] = DimensionView{
			Name:        entry.VariableName,
			Type:        entry.VariableType,
			Values:      values,
			ValuesCount: len(values),
			TagID:       entry.VariableID,
		}
		dims[i] = len(values)
	}

	coords := make(map[string]any, totalCombinations(dims))
	seedCoordinates(coords, dims)

	stats := ResultStatistics{}
	mapped := 0
	for _, st := range subtasks {
		coordKey, ok := coordinateKey(st.VariableIndices)
		if !ok {
			continue
		}
		cell := Cell{
			SubtaskID:       st.ID,
			Status:          string(st.Status),
			Rating:          st.Rating,
			Evaluation:      st.Evaluation,
			VariableIndices: st.VariableIndices,
			CreatedAt:       st.CreatedAt,
			CompletedAt:     st.CompletedAt,
		}
		switch {
		case st.Result != nil && *st.Result != "":
			cell.URL = *st.Result
			stats.WithResult++
		case st.Error != nil && *st.Error != "":
			cell.URL = "ERROR: " + *st.Error
			stats.WithError++
		default:
			stats.Empty++
		}
		coords[coordKey] = cell
		mapped++
	}

	return &Matrix{
		TaskID:               task.ID,
		TaskName:             task.Name,
		CreatedAt:            task.CreatedAt,
		VariablesMap:         variablesMap,
		CoordinatesByIndices: coords,
		Summary: Summary{
			TotalVariables:    len(keys),
			TotalCombinations: totalCombinations(dims),
			TotalSubtasks:     len(subtasks),
			MappedCoordinates: mapped,
			ResultStatistics:  stats,
		},
	}
}

// dimKey pairs a variables_map entry's original storage key with the
// dimension index it encodes, so callers can look the entry up by orig while
// emitting the normalized "v{n}" form via outputKey.
type dimKey struct {
	orig string
	n    int
}

func (k dimKey) outputKey() string { return "v" + strconv.Itoa(k.n) }

// normalizedKeys returns task.VariablesMap's keys ordered by numeric suffix,
// regardless of the map's original key spelling ("0" or "v0" both decode to
// dimension 0). Output keys are always rendered "v{n}" via dimKey.outputKey;
// coordinate keys are a separate "i0,i1,..." form (see coordinateKey).
func normalizedKeys(vm map[string]models.VariableEntry) []dimKey {
	idxs := make([]dimKey, 0, len(vm))
	for k := range vm {
		n, _ := strconv.Atoi(strings.TrimPrefix(k, "v"))
		idxs = append(idxs, dimKey{orig: k, n: n})
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i].n < idxs[j].n })
	return idxs
}

func totalCombinations(dims []int) int {
	total := 1
	for _, d := range dims {
		if d == 0 {
			return 0
		}
		total *= d
	}
	if len(dims) == 0 {
		return 0
	}
	return total
}

// seedCoordinates pre-populates coords with "" for every coordinate in the
// Cartesian product ∏ [0,R_d), key format "i0,i1,...,iD-1".
func seedCoordinates(coords map[string]any, dims []int) {
	if len(dims) == 0 {
		return
	}
	coord := make([]int, len(dims))
	for {
		coords[joinCoordinate(coord)] = ""

		i := len(dims) - 1
		for i >= 0 {
			coord[i]++
			if coord[i] < dims[i] {
				break
			}
			coord[i] = 0
			i--
		}
		if i < 0 {
			return
		}
	}
}

func joinCoordinate(coord []int) string {
	parts := make([]string, len(coord))
	for i, c := range coord {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// coordinateKey joins VariableIndices into an "i0,i1,..." coordinate key, stopping
// at the first negative/nil index (an incompletely materialized subtask).
func coordinateKey(indices []int) (string, bool) {
	if len(indices) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 {
			break
		}
		parts = append(parts, strconv.Itoa(idx))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, ","), true
}
