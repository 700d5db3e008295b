// Package tracking fires outbound attribution calls to the ad-tracking
// service. Calls are fire-and-forget: failures reach the log and nothing
// else.
package tracking

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Constants for tracking client configuration
const (
	// DefaultTimeout bounds every outbound tracking call.
	DefaultTimeout = 5 * time.Second
	// DefaultResultBuffer sizes the channel carrying call results to the
	// logging drain.
	DefaultResultBuffer = 64
)

// result carries the outcome of one detached tracking call.
type result struct {
	url string
	err error
}

// Client dispatches tracking GETs on detached goroutines. Outcomes flow
// through a buffered result channel drained by a single logging goroutine,
// so a burst of failures never blocks the conversation path.
type Client struct {
	http    *http.Client
	results chan result
	wg      sync.WaitGroup
	once    sync.Once
}

// NewClient creates a tracking client and starts its logging drain.
func NewClient() *Client {
	c := &Client{
		http:    &http.Client{Timeout: DefaultTimeout},
		results: make(chan result, DefaultResultBuffer),
	}
	go c.drain()
	slog.Debug("Tracking client created", "timeout", DefaultTimeout)
	return c
}

// Fire schedules a tracking call and returns immediately. An empty URL means
// the link builder had nothing to track and the call is skipped.
func (c *Client) Fire(url string) {
	if url == "" {
		slog.Debug("Tracking Fire skipped: empty URL")
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.get(url)
		select {
		case c.results <- result{url: url, err: err}:
		default:
			// Result channel full: drop the report rather than block.
		}
	}()
}

func (c *Client) get(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build tracking request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// drain logs call outcomes until Close.
func (c *Client) drain() {
	for r := range c.results {
		if r.err != nil {
			slog.Warn("Tracking call failed", "error", r.err, "url", r.url)
		} else {
			slog.Debug("Tracking call succeeded", "url", r.url)
		}
	}
}

// Close waits for in-flight calls and stops the drain.
func (c *Client) Close() {
	c.once.Do(func() {
		c.wg.Wait()
		close(c.results)
		slog.Debug("Tracking client closed")
	})
}
