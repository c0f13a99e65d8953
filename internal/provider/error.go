package provider

import (
	"fmt"
	"io"
	"net/http"
)

// Error represents a failed upstream call. The two booleans drive the router:
// Retryable means a same-model retry with backoff is worthwhile; Fallback
// means the router should move on to the next candidate in the chain.
type Error struct {
	Provider  string
	Model     string
	Status    int // 0 for transport-level failures
	Retryable bool
	Fallback  bool
	Msg       string
}

// Error returns a formatted error string including provider, status, and message.
func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Msg)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Msg)
}

// statusError reads up to 4KB from the response body and classifies the
// status: transient (429/5xx) errors are retryable, other client errors send
// the router straight to fallback.
func statusError(providerName, model string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return &Error{
		Provider:  providerName,
		Model:     model,
		Status:    resp.StatusCode,
		Retryable: transient,
		Fallback:  !transient,
		Msg:       string(body),
	}
}

// transportError wraps a network or timeout failure.
func transportError(providerName, model string, err error) *Error {
	return &Error{
		Provider:  providerName,
		Model:     model,
		Retryable: true,
		Msg:       err.Error(),
	}
}
