package models

import (
	"time"

	"github.com/google/uuid"
)

// SubtaskStatus is the lifecycle state of a Subtask.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskProcessing SubtaskStatus = "processing"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskFailed     SubtaskStatus = "failed"
	SubtaskCancelled  SubtaskStatus = "cancelled"
)

// IsTerminal reports whether s is one of the subtask's terminal states.
func (s SubtaskStatus) IsTerminal() bool {
	return s == SubtaskCompleted || s == SubtaskFailed || s == SubtaskCancelled
}

// ErrParentCancelled is the error text stamped on subtasks marked cancelled
// by cancellation cleanup, never force-set on a processing subtask.
const ErrParentCancelled = "parent task cancelled"

// Subtask is one point in a task's Cartesian product of variable values,
// fully materialized: every scalar slot and prompt is concrete, no
// variables remain.
type Subtask struct {
	ID     uuid.UUID `json:"id"`
	TaskID uuid.UUID `json:"task_id"`

	// VariableIndices is the coordinate selecting this subtask's values,
	// one entry per active dimension in Task.Variables order.
	VariableIndices []int `json:"variable_indices"`

	Prompts []Prompt `json:"prompts"`

	Ratio           string  `json:"ratio"`
	Seed            int64   `json:"seed"`
	BatchSize       int     `json:"batch_size"`
	UsePolish       bool    `json:"use_polish"`
	IsLumina        bool    `json:"is_lumina"`
	LuminaModelName string  `json:"lumina_model_name,omitempty"`
	LuminaCfg       float64 `json:"lumina_cfg,omitempty"`
	LuminaStep      int     `json:"lumina_step,omitempty"`

	Status      SubtaskStatus `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Error       *string       `json:"error,omitempty"`
	Result      *string       `json:"result,omitempty"`

	TimeoutRetryCount int `json:"timeout_retry_count"`
	ErrorRetryCount   int `json:"error_retry_count"`

	Rating     int      `json:"rating"`
	Evaluation []string `json:"evaluation"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Queue reports which logical subtask queue this subtask belongs on.
func (s *Subtask) Queue() string {
	if s.IsLumina {
		return "ops"
	}
	return "normal"
}
