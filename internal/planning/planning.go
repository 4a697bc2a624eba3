
// Package planning wraps the external planning database's REST API (§4.5):
// a shared 3-ops/second rate limiter, a circuit breaker protecting against
// cascading failures, and exponential-backoff retry on 429/5xx. The client
// pattern (a thin HTTP client wrapped by a circuit-breaker decorator with
// metrics on every state transition) follows the codebase's existing
// resilience wrapper for its other external data source.
package planning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vidforge/orchestrator/internal/metrics"
	"github.com/vidforge/orchestrator/internal/orcherr"
)

const breakerName = "planning-api"

// PendingItem is a single row returned by query_database, shaped like the
// planning source's work-item listing.
type PendingItem struct {
	ID             string `json:"id"`
	Channel        string `json:"channel"`
	Title          string `json:"title"`
	Topic          string `json:"topic"`
	StoryDirection string `json:"story_direction"`
	Priority       string `json:"priority"`
	Status         string `json:"status"`
}

// Client wraps the planning database's REST API with rate limiting,
// retry, and circuit-breaker protection.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[any]
}

// New builds a Client against baseURL, authenticating with token. The rate
// limiter is shared process-wide at 3 operations per 1-second window
// (§4.5); callers must not construct more than one Client per process.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(3), 3),
		breaker:    breaker,
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// NormalizePageID reduces a planning page id to its canonical 32-char hex
// form by stripping dashes, accepting both 32- and 36-char input forms.
func NormalizePageID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

// GetPage fetches a single planning page by id.
func (c *Client) GetPage(ctx context.Context, pageID string) (*PendingItem, error) {
	result, err := c.execute(ctx, func(ctx context.Context) (any, error) {
		return c.doRequest(ctx, http.MethodGet, "/pages/"+NormalizePageID(pageID), nil)
	})
	if err != nil {
		return nil, err
	}
	return decodeItem(result.(json.RawMessage))
}

// UpdatePage patches status and priority fields on a planning page — never
// title, topic, story direction, or channel (§4.11a preserves user edits).
func (c *Client) UpdatePage(ctx context.Context, pageID string, patch map[string]any) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal update patch: %w", err)
	}
	_, err = c.execute(ctx, func(ctx context.Context) (any, error) {
		return c.doRequest(ctx, http.MethodPatch, "/pages/"+NormalizePageID(pageID), body)
	})
	return err
}

// QueryDatabase lists pending work items from a planning database.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string) ([]PendingItem, error) {
	result, err := c.execute(ctx, func(ctx context.Context) (any, error) {
		return c.doRequest(ctx, http.MethodGet, "/databases/"+databaseID+"/query", nil)
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []PendingItem `json:"results"`
	}
	if err := json.Unmarshal(result.(json.RawMessage), &parsed); err != nil {
		return nil, fmt.Errorf("decode query results: %w", err)
	}
	return parsed.Results, nil
}

func decodeItem(raw json.RawMessage) (*PendingItem, error) {
	var item PendingItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &item, nil
}

// execute runs fn under the rate limiter, circuit breaker, and retry
// policy. fn must perform exactly one HTTP round trip.
func (c *Client) execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	var result any
	var lastErr error

	backoff := time.Second
	for attempt := 0; attempt < 3; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		result, lastErr = c.breaker.Execute(func() (any, error) {
			return fn(ctx)
		})

		if lastErr == nil {
			return result, nil
		}

		if errors.Is(lastErr, gobreaker.ErrOpenState) || errors.Is(lastErr, gobreaker.ErrTooManyRequests) {
			return nil, &orcherr.RateLimitedError{Provider: "planning-db"}
		}

		if !orcherr.Retriable(lastErr) {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 60*time.Second {
			backoff = 60 * time.Second
		}
	}

	return nil, lastErr
}

// doRequest performs one HTTP round trip and classifies the response per
// §4.5: 429 and 5xx are retriable, other 4xx are not.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &orcherr.TimeoutError{Operation: method + " " + path, Seconds: 0}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &orcherr.RateLimitedError{Provider: "planning-db", RetryAfter: resp.Header.Get("Retry-After")}
	case resp.StatusCode >= 500:
		return nil, &orcherr.ToolFailureError{Program: "planning-api", ExitCode: resp.StatusCode, Stderr: string(respBody)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &orcherr.NotFoundError{Resource: "planning_page", ID: path}
	case resp.StatusCode >= 400:
		return nil, &orcherr.ValidationError{Field: "planning_request", Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, respBody)}
	}

	return json.RawMessage(respBody), nil
}
