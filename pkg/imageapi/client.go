// Package imageapi implements the remote image-generation job runner: a
// one-shot submission to the upstream image API followed by bounded polling
// of its task-status endpoint, translating upstream outcomes into the
// {Retryable, ContentCensored, Fatal, MaxAttempts} error taxonomy.
package imageapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// luminaElementumUUID is the hard-coded Lumina warm-up prompt appended to
// every Lumina generation request.
const luminaElementumUUID = "b2ac10a7-c619-4f99-988d-2efa2a8a98e9"

// Config controls upstream endpoints, credentials, and polling cadence.
type Config struct {
	StandardBaseURL string
	OpsBaseURL      string
	XToken          string

	StandardMaxAttempts  int
	StandardPollInterval time.Duration
	LuminaMaxAttempts    int
	LuminaPollInterval   time.Duration

	SubmitTimeout time.Duration
	PollTimeout   time.Duration
}

// DefaultConfig returns the upstream defaults, minus credentials.
func DefaultConfig() Config {
	return Config{
		StandardBaseURL:      "https://api.talesofai.cn",
		OpsBaseURL:           "https://ops.api.talesofai.cn",
		StandardMaxAttempts:  30,
		StandardPollInterval: 2 * time.Second,
		LuminaMaxAttempts:    50,
		LuminaPollInterval:   3 * time.Second,
		SubmitTimeout:        300 * time.Second,
		PollTimeout:          30 * time.Second,
	}
}

// Client drives the upstream image-generation API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a Client with independent timeouts per HTTP call (submit
// vs. poll use different per-request timeouts, so the client's own
// *http.Client carries no default timeout — each request gets its own
// context deadline instead).
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, httpClient: &http.Client{}}
}

// Result is the outcome of a successful generation.
type Result struct {
	ImageURL string
	SeedUsed int64
}

// Generate submits subtask to the upstream API and polls until a terminal
// state or the attempt cap.
func (c *Client) Generate(ctx context.Context, st *models.Subtask) (*Result, error) {
	seed := st.Seed
	if seed == 0 {
		seed = int64(rand.Int31n(1<<31-1) + 1)
	}

	w, h := Dimensions(st.Ratio)
	prompts := buildPrompts(st)

	baseURL := c.cfg.StandardBaseURL
	if st.IsLumina {
		baseURL = c.cfg.OpsBaseURL
	}

	body := map[string]any{
		"storyId":              "",
		"jobType":              "universal",
		"width":                w,
		"height":               h,
		"rawPrompt":            prompts,
		"seed":                 seed,
		"meta":                 map[string]any{"entrance": "PICTURE,PURE"},
		"context_model_series": nil,
		"negative_freetext":    "",
		"advanced_translator":  st.UsePolish,
	}
	if st.IsLumina {
		clientArgs := map[string]any{}
		if st.LuminaModelName != "" {
			clientArgs["ckpt_name"] = st.LuminaModelName
		}
		if st.LuminaCfg != 0 {
			clientArgs["cfg"] = st.LuminaCfg
		}
		if st.LuminaStep != 0 {
			clientArgs["steps"] = st.LuminaStep
		}
		body["client_args"] = clientArgs
	}

	taskUUID, err := c.submit(ctx, baseURL, body)
	if err != nil {
		return nil, err
	}

	maxAttempts, interval := c.cfg.StandardMaxAttempts, c.cfg.StandardPollInterval
	if st.IsLumina {
		maxAttempts, interval = c.cfg.LuminaMaxAttempts, c.cfg.LuminaPollInterval
	}

	url, err := c.poll(ctx, baseURL, taskUUID, maxAttempts, interval)
	if err != nil {
		return nil, err
	}
	return &Result{ImageURL: url, SeedUsed: seed}, nil
}

func buildPrompts(st *models.Subtask) []models.Prompt {
	prompts := make([]models.Prompt, len(st.Prompts))
	copy(prompts, st.Prompts)
	if st.IsLumina {
		prompts = append(prompts, models.Prompt{
			Type:      models.PromptTypeElementum,
			UUID:      luminaElementumUUID,
			Name:      "lumina",
			Value:     luminaElementumUUID,
			Weight:    1,
			Domain:    "",
			Parent:    "",
			Status:    "IN_USE",
			PolymorphiValues: map[string]any{},
		})
	}
	return prompts
}

func (c *Client) submit(ctx context.Context, baseURL string, body map[string]any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", &FatalError{Reason: "encoding request: " + err.Error()}
	}

	submitCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(submitCtx, http.MethodPost, baseURL+"/v3/make_image", bytes.NewReader(payload))
	if err != nil {
		return "", &FatalError{Reason: "building request: " + err.Error()}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RetryableError{Reason: "submit request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RetryableError{Reason: "reading submit response: " + err.Error()}
	}
	if resp.StatusCode >= 500 {
		return "", &RetryableError{Reason: fmt.Sprintf("submit returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return "", &FatalError{Reason: fmt.Sprintf("submit returned %d: %s", resp.StatusCode, data)}
	}

	uuid := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if uuid == "" {
		return "", &FatalError{Reason: "submit returned empty task id"}
	}
	return uuid, nil
}

// pollResponse is the shape of GET /v1/artifact/task/{uuid}.
type pollResponse struct {
	TaskStatus string `json:"task_status"`
	Artifacts  []struct {
		URL string `json:"url"`
	} `json:"artifacts"`
}

func (c *Client) poll(ctx context.Context, baseURL, taskUUID string, maxAttempts int, interval time.Duration) (string, error) {
	url := fmt.Sprintf("%s/v1/artifact/task/%s", baseURL, taskUUID)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", &RetryableError{Reason: "context cancelled while polling"}
			case <-time.After(interval):
			}
		}

		status, artifactURL, err := c.pollOnce(ctx, url)
		if err != nil {
			return "", err
		}
		switch status {
		case "SUCCESS":
			if artifactURL == "" {
				return "", &FatalError{Reason: "SUCCESS response carried no artifact url"}
			}
			return artifactURL, nil
		case "PENDING":
			continue
		case "":
			// missing field: log and keep polling
			slog.Warn("poll response missing task_status", "task_uuid", taskUUID, "attempt", attempt)
			continue
		case "TIMEOUT":
			return "", &RetryableError{Reason: "upstream reported TIMEOUT"}
		case "ILLEGAL_IMAGE":
			return "", &ContentCensoredError{Reason: "upstream reported ILLEGAL_IMAGE"}
		case "FAILURE":
			return "", &FatalError{Reason: "upstream reported FAILURE"}
		default:
			if classifyMessage(status) {
				return "", &ContentCensoredError{Reason: "upstream status: " + status}
			}
			return "", &FatalError{Reason: "unrecognized task_status: " + status}
		}
	}
	return "", &MaxAttemptsError{Attempts: maxAttempts}
}

func (c *Client) pollOnce(ctx context.Context, url string) (string, string, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", &FatalError{Reason: "building poll request: " + err.Error()}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", &RetryableError{Reason: "poll request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", &RetryableError{Reason: "reading poll response: " + err.Error()}
	}
	if resp.StatusCode >= 500 {
		return "", "", &RetryableError{Reason: fmt.Sprintf("poll returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return "", "", &FatalError{Reason: fmt.Sprintf("poll returned %d: %s", resp.StatusCode, data)}
	}

	var parsed pollResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", "", &FatalError{Reason: "malformed poll response: " + err.Error()}
	}
	url0 := ""
	if len(parsed.Artifacts) > 0 {
		url0 = parsed.Artifacts[0].URL
	}
	return parsed.TaskStatus, url0, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-platform", "nieta-app/web")
	req.Header.Set("X-Token", c.cfg.XToken)
}
