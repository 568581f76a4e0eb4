//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/talesofai/nietest-orchestrator/pkg/database"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
	"github.com/talesofai/nietest-orchestrator/pkg/store"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("nietest_test"),
		tcpostgres.WithUsername("nietest"),
		tcpostgres.WithPassword("nietest"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.Config{
		Host: host, Port: port.Int(), User: "nietest", Password: "nietest", Database: "nietest_test",
		SSLMode: "disable", MaxConns: 20, MinConns: 2,
		MaxConnIdleTime: 600 * time.Second, MaxConnLifetime: time.Hour, HealthCheckPeriod: 30 * time.Second,
	}
	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestTaskStore_CreateGetAndProgress(t *testing.T) {
	client := newTestClient(t)
	taskStore := store.NewTaskStore(client.Pool)

	task := &models.Task{
		ID: uuid.New(), Name: "integration-task", UserID: "u1", Priority: 1,
		Ratio: models.TaskParameter{Format: models.FormatString, Value: "1:1"},
		Seed:  models.TaskParameter{Format: models.FormatInt, Value: int64(0)},
		TotalImages: 2, Status: models.TaskPending,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	sub1 := models.Subtask{ID: uuid.New(), TaskID: task.ID, VariableIndices: []int{0}, Ratio: "1:1", Status: models.SubtaskPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	sub2 := models.Subtask{ID: uuid.New(), TaskID: task.ID, VariableIndices: []int{1}, Ratio: "1:1", Status: models.SubtaskPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}

	ctx := context.Background()
	require.NoError(t, taskStore.Create(ctx, task, []models.Subtask{sub1, sub2}))

	got, err := taskStore.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, task.Name, got.Name)
	require.Equal(t, 2, got.TotalImages)

	subs, err := taskStore.ListSubtasks(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	require.NoError(t, taskStore.UpdateProgress(ctx, task.ID, 1, 50, 1, 0))
	got, err = taskStore.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 50, got.Progress)
	require.Equal(t, 1, got.CompletedSubtasks)

	ok, err := taskStore.Cancel(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = taskStore.Cancel(ctx, task.ID)
	require.NoError(t, err)
	require.False(t, ok, "cancelling a non-pending task must be refused")
}

func TestSubtaskStore_ClaimIsExclusive(t *testing.T) {
	client := newTestClient(t)
	taskStore := store.NewTaskStore(client.Pool)
	subtaskStore := store.NewSubtaskStore(client.Pool)

	task := &models.Task{ID: uuid.New(), Name: "claim-task", TotalImages: 1, Status: models.TaskProcessing, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	sub := models.Subtask{ID: uuid.New(), TaskID: task.ID, VariableIndices: []int{0}, Status: models.SubtaskPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}

	ctx := context.Background()
	require.NoError(t, taskStore.Create(ctx, task, []models.Subtask{sub}))

	claimed1, err := subtaskStore.ClaimProcessing(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, claimed1)

	claimed2, err := subtaskStore.ClaimProcessing(ctx, sub.ID)
	require.NoError(t, err)
	require.False(t, claimed2, "a second claim on an already-processing subtask must be a no-op")

	require.NoError(t, subtaskStore.Complete(ctx, sub.ID, "https://images.example/x.png", 42))
	got, err := subtaskStore.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubtaskCompleted, got.Status)
	require.Equal(t, int64(42), got.Seed)
}
