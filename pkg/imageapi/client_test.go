package imageapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

func testSubtask() *models.Subtask {
	return &models.Subtask{
		ID:     uuid.New(),
		TaskID: uuid.New(),
		Ratio:  "1:1",
		Seed:   42,
		Prompts: []models.Prompt{
			{Type: models.PromptTypeFreetext, Value: "cat", Weight: 1},
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.StandardBaseURL = srv.URL
	cfg.OpsBaseURL = srv.URL
	cfg.StandardPollInterval = time.Millisecond
	cfg.LuminaPollInterval = time.Millisecond
	cfg.StandardMaxAttempts = 5
	cfg.LuminaMaxAttempts = 5
	return NewClient(cfg)
}

func TestGenerate_Success(t *testing.T) {
	polls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.Write([]byte(`"11111111-1111-1111-1111-111111111111"`))
		default:
			polls++
			if polls < 2 {
				json.NewEncoder(w).Encode(map[string]any{"task_status": "PENDING"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"task_status": "SUCCESS",
				"artifacts":   []map[string]string{{"url": "https://img/x.png"}},
			})
		}
	})

	res, err := c.Generate(context.Background(), testSubtask())
	require.NoError(t, err)
	assert.Equal(t, "https://img/x.png", res.ImageURL)
	assert.EqualValues(t, 42, res.SeedUsed)
}

// S8: ILLEGAL_IMAGE maps to ContentCensoredError, no retry.
func TestGenerate_IllegalImage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`"11111111-1111-1111-1111-111111111111"`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"task_status": "ILLEGAL_IMAGE"})
	})

	_, err := c.Generate(context.Background(), testSubtask())
	require.Error(t, err)
	assert.True(t, IsContentCensored(err))
	assert.False(t, IsRetryable(err))
}

func TestGenerate_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`"11111111-1111-1111-1111-111111111111"`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"task_status": "TIMEOUT"})
	})

	_, err := c.Generate(context.Background(), testSubtask())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestGenerate_MaxAttemptsExhausted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`"11111111-1111-1111-1111-111111111111"`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"task_status": "PENDING"})
	})

	_, err := c.Generate(context.Background(), testSubtask())
	require.Error(t, err)
	var maxErr *MaxAttemptsError
	assert.ErrorAs(t, err, &maxErr)
	assert.True(t, IsRetryable(err))
}

func TestGenerate_SeedDrawnWhenZero(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`"11111111-1111-1111-1111-111111111111"`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"task_status": "SUCCESS",
			"artifacts":   []map[string]string{{"url": "https://img/x.png"}},
		})
	})

	st := testSubtask()
	st.Seed = 0
	res, err := c.Generate(context.Background(), st)
	require.NoError(t, err)
	assert.Greater(t, res.SeedUsed, int64(0))
}
