// Package actors calls long-running upstream scraping actors through a
// synchronous run-and-collect API: one POST starts the actor with a
// JSON input and blocks until its dataset is ready.
package actors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RunLimits bounds a single actor run.
type RunLimits struct {
	// MaxItems caps the dataset size. Zero means the actor default.
	MaxItems int

	// Timeout bounds the whole call. Zero means the client default.
	Timeout time.Duration
}

// UpstreamError reports a non-success response from the actor platform.
type UpstreamError struct {
	ActorID string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("actor %s: upstream status %d: %s", e.ActorID, e.Status, e.Body)
}

// Client runs actors against an Apify-compatible endpoint.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds an actor client. defaultTimeout applies to runs that
// do not set their own limit.
func NewClient(baseURL, token string, defaultTimeout time.Duration, logger *slog.Logger) *Client {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
		logger:     logger.With("component", "actors"),
	}
}

// Run starts the actor and returns its dataset items. The context and
// the limit timeout both bound the call; cancellation aborts the
// underlying request.
func (c *Client) Run(ctx context.Context, actorID string, input map[string]any, limits RunLimits) ([]map[string]any, error) {
	timeout := limits.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint, err := c.runURL(actorID, limits)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("actor %s: encoding input: %w", actorID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("actor %s: %w", actorID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &UpstreamError{ActorID: actorID, Status: resp.StatusCode, Body: string(snippet)}
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("actor %s: decoding dataset: %w", actorID, err)
	}

	c.logger.Debug("actor run complete",
		"actor", actorID,
		"items", len(items),
		"duration", time.Since(start))
	return items, nil
}

func (c *Client) runURL(actorID string, limits RunLimits) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("actor client: invalid base url: %w", err)
	}
	u.Path = "/v2/acts/" + actorID + "/run-sync-get-dataset-items"

	q := u.Query()
	if c.token != "" {
		q.Set("token", c.token)
	}
	if limits.MaxItems > 0 {
		q.Set("maxItems", strconv.Itoa(limits.MaxItems))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
