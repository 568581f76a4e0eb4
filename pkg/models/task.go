// Package models holds the persistent domain types shared across the
// orchestrator: task specs, their expanded subtasks, and the variable
// dimensions that connect the two.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether s is one of the task's terminal states.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// VariableDimension describes one axis of a task's Cartesian product.
// DimensionIndex is the axis's position in the task's fixed enumeration
// order (prompts first, then the scalar slots in their fixed order) and is
// a first-class identifier exposed to clients as "v<index>".
type VariableDimension struct {
	VariableID     string `json:"variable_id"`
	DimensionIndex int    `json:"dimension_index"`
	VariableName   string `json:"variable_name"`
	VariableType   string `json:"variable_type"`
}

// VariableEntry is the variables_map value for one dimension: its identity
// plus the concrete candidate values in index order.
type VariableEntry struct {
	VariableID   string `json:"variable_id"`
	VariableName string `json:"variable_name"`
	VariableType string `json:"variable_type"`
	Values       []any  `json:"values"`
}

// TaskSpec is the client-submitted payload that Expand turns into a Task
// plus its Subtasks. It is never persisted as-is; Expand consumes it.
type TaskSpec struct {
	Name     string   `json:"name,omitempty"`
	Priority int      `json:"priority,omitempty"`
	Prompts  []Prompt `json:"prompts"`

	Ratio           TaskParameter `json:"ratio"`
	Seed            TaskParameter `json:"seed"`
	BatchSize       TaskParameter `json:"batch_size"`
	UsePolish       TaskParameter `json:"use_polish"`
	IsLumina        TaskParameter `json:"is_lumina"`
	LuminaModelName TaskParameter `json:"lumina_model_name"`
	LuminaCfg       TaskParameter `json:"lumina_cfg"`
	LuminaStep      TaskParameter `json:"lumina_step"`

	UserID string `json:"-"`
}

// Task is the persistent record created by Expand from a TaskSpec.
type Task struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	UserID   string    `json:"user_id"`
	Priority int       `json:"priority"`

	Prompts []Prompt `json:"prompts"`

	Ratio           TaskParameter `json:"ratio"`
	Seed            TaskParameter `json:"seed"`
	BatchSize       TaskParameter `json:"batch_size"`
	UsePolish       TaskParameter `json:"use_polish"`
	IsLumina        TaskParameter `json:"is_lumina"`
	LuminaModelName TaskParameter `json:"lumina_model_name"`
	LuminaCfg       TaskParameter `json:"lumina_cfg"`
	LuminaStep      TaskParameter `json:"lumina_step"`

	TotalImages  int                      `json:"total_images"`
	Variables    []VariableDimension      `json:"variables"`
	VariablesMap map[string]VariableEntry `json:"variables_map"`

	Status           TaskStatus `json:"status"`
	ProcessedImages  int        `json:"processed_images"`
	Progress         int        `json:"progress"`
	CompletedSubtasks int       `json:"completed_subtasks"`
	FailedSubtasks   int        `json:"failed_subtasks"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	IsFavorite bool `json:"is_favorite"`
	IsDeleted  bool `json:"is_deleted"`
}

// IsLuminaTask reports whether the task counts as a Lumina task for
// admission purposes: its is_lumina slot is variable (any mix of values),
// or its constant value is true.
func (t *Task) IsLuminaTask() bool {
	return isLuminaParam(t.IsLumina)
}

func isLuminaParam(p TaskParameter) bool {
	if p.IsVariable {
		return true
	}
	b, _ := p.Value.(bool)
	return b
}
