package imageapi

import (
	"errors"
	"fmt"
	"strings"
)

// RetryableError signals a transient upstream failure (upstream TIMEOUT,
// transient HTTP error; exhausted poll attempts are MaxAttemptsError, which
// IsRetryable also accepts): while the subtask's accumulated retry count is
// under MaxRetries the worker resets it to pending and requeues it;
// otherwise the subtask is marked failed.
type RetryableError struct {
	Reason string
}

func (e *RetryableError) Error() string { return "retryable: " + e.Reason }

// ContentCensoredError signals the upstream rejected the request on content
// grounds (ILLEGAL_IMAGE, or a message mentioning a censorship marker): no
// retry is attempted.
type ContentCensoredError struct {
	Reason string
}

func (e *ContentCensoredError) Error() string { return "content censored: " + e.Reason }

// FatalError signals an unrecoverable upstream failure (FAILURE, unknown
// status, malformed response shape): no retry is attempted.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "fatal: " + e.Reason }

// MaxAttemptsError signals the poll attempt cap was exhausted without a
// terminal status. Treated as Retryable by the worker.
type MaxAttemptsError struct {
	Attempts int
}

func (e *MaxAttemptsError) Error() string {
	return fmt.Sprintf("max polling attempts exhausted (%d)", e.Attempts)
}

// censorshipMarkers are substrings that, if present in an upstream message,
// classify the failure as content-censored regardless of the literal
// task_status value.
var censorshipMarkers = []string{"451", "审核", "敏感", "违规", "不合规", "ILLEGAL_IMAGE", "content"}

// classifyMessage reports whether msg should be treated as a content
// censorship failure based on its text.
func classifyMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range censorshipMarkers {
		if m == "ILLEGAL_IMAGE" || m == "content" {
			if strings.Contains(lower, strings.ToLower(m)) {
				return true
			}
			continue
		}
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err should trigger a broker redelivery.
func IsRetryable(err error) bool {
	var r *RetryableError
	var m *MaxAttemptsError
	return errors.As(err, &r) || errors.As(err, &m)
}

// IsContentCensored reports whether err is a content-censorship failure.
func IsContentCensored(err error) bool {
	var c *ContentCensoredError
	return errors.As(err, &c)
}
