package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client issues GET requests with a per-attempt timeout and a bounded
// number of retries. Backoff between attempts grows linearly: the first
// retry waits backoff, the second 2*backoff, and so on.
type Client struct {
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	log        *slog.Logger
}

// NewClient builds a retrying client. timeout bounds each individual
// attempt, independent of the backoff delays between them.
func NewClient(timeout time.Duration, maxRetries int, backoff time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff:    backoff,
		log:        logger,
	}
}

// Get fetches url and returns the response body verbatim. Network
// errors, timeouts and non-2xx statuses all count as failed attempts.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	attempts := c.maxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.once(ctx, url, header)
		if err == nil {
			return body, nil
		}
		lastErr = err

		remaining := attempts - attempt
		if remaining == 0 {
			break
		}

		delay := c.backoff * time.Duration(attempt)
		c.log.Warn("request failed, retrying",
			slog.Any("err", err),
			slog.Int("remaining", remaining),
			slog.Duration("backoff", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) once(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return body, nil
}
