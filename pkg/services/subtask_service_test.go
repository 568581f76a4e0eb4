package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

type fakeSubtaskStore struct {
	subtasks map[uuid.UUID]*models.Subtask
}

func newFakeSubtaskStore(sts ...*models.Subtask) *fakeSubtaskStore {
	f := &fakeSubtaskStore{subtasks: map[uuid.UUID]*models.Subtask{}}
	for _, st := range sts {
		f.subtasks[st.ID] = st
	}
	return f
}

func (f *fakeSubtaskStore) Get(ctx context.Context, id uuid.UUID) (*models.Subtask, error) {
	st, ok := f.subtasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeSubtaskStore) SetRating(ctx context.Context, id uuid.UUID, rating int) error {
	st, ok := f.subtasks[id]
	if !ok {
		return ErrNotFound
	}
	st.Rating = rating
	return nil
}

func (f *fakeSubtaskStore) AppendEvaluation(ctx context.Context, id uuid.UUID, note string) error {
	st, ok := f.subtasks[id]
	if !ok {
		return ErrNotFound
	}
	st.Evaluation = append(st.Evaluation, note)
	return nil
}

func (f *fakeSubtaskStore) RemoveEvaluation(ctx context.Context, id uuid.UUID, index int) error {
	st, ok := f.subtasks[id]
	if !ok {
		return ErrNotFound
	}
	if index < 0 || index >= len(st.Evaluation) {
		return ErrNotFound
	}
	st.Evaluation = append(st.Evaluation[:index], st.Evaluation[index+1:]...)
	return nil
}

func TestSetRating_RejectsOutOfRange(t *testing.T) {
	st := &models.Subtask{ID: uuid.New()}
	svc := NewSubtaskService(newFakeSubtaskStore(st))

	err := svc.SetRating(context.Background(), st.ID, 6)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "rating", ve.Field)
}

func TestSetRating_PersistsValidValue(t *testing.T) {
	st := &models.Subtask{ID: uuid.New()}
	store := newFakeSubtaskStore(st)
	svc := NewSubtaskService(store)

	require.NoError(t, svc.SetRating(context.Background(), st.ID, 4))
	assert.Equal(t, 4, store.subtasks[st.ID].Rating)
}

func TestAddAndRemoveEvaluation(t *testing.T) {
	st := &models.Subtask{ID: uuid.New(), Evaluation: []string{}}
	store := newFakeSubtaskStore(st)
	svc := NewSubtaskService(store)

	require.NoError(t, svc.AddEvaluation(context.Background(), st.ID, "looks blurry"))
	require.NoError(t, svc.AddEvaluation(context.Background(), st.ID, "good composition"))
	assert.Equal(t, []string{"looks blurry", "good composition"}, store.subtasks[st.ID].Evaluation)

	require.NoError(t, svc.RemoveEvaluation(context.Background(), st.ID, 0))
	assert.Equal(t, []string{"good composition"}, store.subtasks[st.ID].Evaluation)
}

func TestAddEvaluation_RejectsEmptyNote(t *testing.T) {
	st := &models.Subtask{ID: uuid.New()}
	svc := NewSubtaskService(newFakeSubtaskStore(st))

	err := svc.AddEvaluation(context.Background(), st.ID, "")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}
