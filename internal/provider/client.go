package provider

import (
	"context"
	"net/http"
	"time"
)

const maxAttempts = 3

// Core carries the pieces every adapter shares: the pooled HTTP client, the
// metrics observer, and the retry loop. Adapters embed it and supply
// request construction and response translation.
type Core struct {
	Provider string
	HTTP     *http.Client
	Observer Observer

	// Sleep is swappable in tests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewCore returns a Core with defaults filled in.
func NewCore(providerName string, client *http.Client, obs Observer) Core {
	if client == nil {
		client = &http.Client{}
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return Core{
		Provider: providerName,
		HTTP:     client,
		Observer: obs,
		Sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do executes build's request with up to three attempts, sleeping 2^attempt
// seconds between retryable failures. Transient statuses (429/5xx) and
// transport errors retry; other client errors return immediately with
// Fallback set. When the final attempt still fails a retryable error, the
// returned Error carries Fallback=true so the router moves down its chain.
// On success the caller owns resp.Body.
func (c *Core) Do(ctx context.Context, model string, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr *Error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.Sleep(ctx, time.Duration(1<<(attempt-1))*time.Second); err != nil {
				c.Observer.RequestCount(c.Provider, model, "error")
				return nil, transportError(c.Provider, model, err)
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := c.HTTP.Do(req)
		c.Observer.RequestDuration(c.Provider, model, time.Since(start).Seconds())
		if err != nil {
			lastErr = transportError(c.Provider, model, err)
			continue
		}
		if resp.StatusCode >= 300 {
			perr := statusError(c.Provider, model, resp)
			resp.Body.Close()
			if !perr.Retryable {
				c.Observer.RequestCount(c.Provider, model, "error")
				return nil, perr
			}
			lastErr = perr
			continue
		}
		return resp, nil
	}

	c.Observer.RequestCount(c.Provider, model, "error")
	lastErr.Retryable = true
	lastErr.Fallback = true
	return nil, lastErr
}

// DoOnce executes a single attempt with the same classification as Do but no
// retry loop. Streams use it: a broken stream cannot be resumed.
func (c *Core) DoOnce(ctx context.Context, model string, req *http.Request) (*http.Response, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Observer.RequestCount(c.Provider, model, "error")
		return nil, transportError(c.Provider, model, err)
	}
	if resp.StatusCode >= 300 {
		perr := statusError(c.Provider, model, resp)
		resp.Body.Close()
		c.Observer.RequestCount(c.Provider, model, "error")
		return nil, perr
	}
	return resp, nil
}
