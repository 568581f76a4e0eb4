// Package webhook delivers best-effort task/subtask event notifications to a
// Feishu custom-bot webhook URL, following the same nil-safe service shape
// nil-safe (a Notifier built with no URL is simply never fired), fail-open
// (delivery errors are logged, never surfaced to the caller), and
// fire-and-forget so a slow or unreachable webhook endpoint never blocks a
// worker or monitor loop.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// deliveryTimeout bounds each webhook POST independently of the caller's
// context, since the caller (a worker or monitor loop) must not block on it.
const deliveryTimeout = 5 * time.Second

// feishuCard is the minimal Feishu custom-bot text message payload.
type feishuCard struct {
	MsgType string `json:"msg_type"`
	Content struct {
		Text string `json:"text"`
	} `json:"content"`
}

func textMessage(text string) feishuCard {
	c := feishuCard{MsgType: "text"}
	c.Content.Text = text
	return c
}

// Notifier posts best-effort task/subtask event notifications to a Feishu
// webhook. A Notifier built with an empty url is nil-safe: every method
// becomes a no-op.
type Notifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Notifier posting to url. Pass an empty url to get a
// permanently-disabled notifier (matches config.WebhookConfig.Enabled=false).
func New(url string) *Notifier {
	return &Notifier{
		url:        url,
		httpClient: &http.Client{Timeout: deliveryTimeout},
		logger:     slog.Default().With("component", "webhook"),
	}
}

// NotifySubtaskEvent fires a status notification for a subtask: a terminal
// status, or pending after a retryable failure was requeued.
// Satisfies pkg/queue's EventNotifier interface.
func (n *Notifier) NotifySubtaskEvent(ctx context.Context, st *models.Subtask) {
	if n == nil || n.url == "" {
		return
	}
	text := fmt.Sprintf("subtask %s (task %s) finished: %s", st.ID, st.TaskID, st.Status)
	if st.Error != nil {
		text += fmt.Sprintf(" — %s", *st.Error)
	}
	go n.deliver(text, "subtask_id", st.ID.String(), "status", string(st.Status))
}

// NotifyTaskEvent fires a notification for a task reaching a terminal state
// or being cleaned up after cancellation. Satisfies pkg/monitor's
// EventNotifier interface.
func (n *Notifier) NotifyTaskEvent(ctx context.Context, task *models.Task) {
	if n == nil || n.url == "" {
		return
	}
	text := fmt.Sprintf("task %q (%s) reached status %s: %d/%d images", task.Name, task.ID, task.Status, task.ProcessedImages, task.TotalImages)
	go n.deliver(text, "task_id", task.ID.String(), "status", string(task.Status))
}

// deliver posts text to the configured webhook URL using a fresh,
// caller-independent context so a slow endpoint never outlives its own
// delivery timeout, let alone the triggering worker/monitor call.
func (n *Notifier) deliver(text string, logArgs ...any) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	body, err := json.Marshal(textMessage(text))
	if err != nil {
		n.logger.Error("marshal webhook payload", append(logArgs, "error", err)...)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("build webhook request", append(logArgs, "error", err)...)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", append(logArgs, "error", err)...)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook endpoint rejected notification", append(logArgs, "status", resp.StatusCode)...)
	}
}
