package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// SubtaskStore is the persistence surface SubtaskService needs. Satisfied
// by *store.SubtaskStore.
type SubtaskStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Subtask, error)
	SetRating(ctx context.Context, id uuid.UUID, rating int) error
	AppendEvaluation(ctx context.Context, id uuid.UUID, note string) error
	RemoveEvaluation(ctx context.Context, id uuid.UUID, index int) error
}

// SubtaskService backs the /api/v1/test/subtask* routes: rating and
// free-text evaluation notes on an already-materialized subtask.
type SubtaskService struct {
	subtasks SubtaskStore
}

// NewSubtaskService builds a SubtaskService backed by subtasks.
func NewSubtaskService(subtasks SubtaskStore) *SubtaskService {
	return &SubtaskService{subtasks: subtasks}
}

// Get fetches a subtask by id.
func (s *SubtaskService) Get(ctx context.Context, id uuid.UUID) (*models.Subtask, error) {
	st, err := s.subtasks.Get(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return st, nil
}

// SetRating records a 1..5 rating for subtask id.
func (s *SubtaskService) SetRating(ctx context.Context, id uuid.UUID, rating int) error {
	if rating < 1 || rating > 5 {
		return NewValidationError("rating", "must be between 1 and 5")
	}
	return mapStoreErr(s.subtasks.SetRating(ctx, id, rating))
}

// AddEvaluation appends a free-text note to subtask id's evaluation list.
func (s *SubtaskService) AddEvaluation(ctx context.Context, id uuid.UUID, note string) error {
	if note == "" {
		return NewValidationError("note", "must not be empty")
	}
	return mapStoreErr(s.subtasks.AppendEvaluation(ctx, id, note))
}

// RemoveEvaluation removes the evaluation note at index (0-based) from
// subtask id's evaluation list.
func (s *SubtaskService) RemoveEvaluation(ctx context.Context, id uuid.UUID, index int) error {
	if index < 0 {
		return NewValidationError("index", "must not be negative")
	}
	return mapStoreErr(s.subtasks.RemoveEvaluation(ctx, id, index))
}
