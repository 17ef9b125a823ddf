package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse means the backend call succeeded but returned no text.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrCallTimeout means a single backend call exceeded its deadline while
	// the caller's context was still live.
	ErrCallTimeout = errors.New("model call timed out")
)

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	if e.StatusCode == 0 {
		return "retryable error: " + truncate(e.Message, 200)
	}
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// RequestError is a rejection that will not change on retry: malformed
// input, auth, or quota configuration.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request rejected (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// PageError attributes a failure to one page.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("analysis failed for page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// ContextTooLargeError is returned instead of truncating a synthesis prompt.
type ContextTooLargeError struct {
	EstimatedTokens int
	LimitTokens     int
}

func (e *ContextTooLargeError) Error() string {
	return fmt.Sprintf("synthesis context too large: ~%d tokens exceeds limit of %d", e.EstimatedTokens, e.LimitTokens)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
