package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/storysync/internal/block"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultFetchRetries = 4
	maxErrorBody        = 512
)

// Client talks to the chunked story storage API.
//
// Thread-safety: Client is safe for concurrent use. The tracked table status
// is updated atomically by content fetches and successful mutations.
type Client struct {
	baseURL    string
	httpClient *http.Client
	keys       block.KeyGenerator
	logger     *slog.Logger

	fetchRetries uint64
	backoffStart time.Duration
	backoffMax   time.Duration

	tableStatus atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithKeyGenerator sets the generator used for synthesized blank paragraphs.
func WithKeyGenerator(g block.KeyGenerator) Option {
	return func(c *Client) { c.keys = g }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithFetchRetries bounds how often a transient page fetch is retried.
func WithFetchRetries(n uint64) Option {
	return func(c *Client) { c.fetchRetries = n }
}

// WithFetchBackoff sets the initial and maximum retry intervals for fetches.
func WithFetchBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.backoffStart = initial
		c.backoffMax = max
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: defaultTimeout},
		keys:         block.UUIDGenerator{},
		logger:       slog.Default(),
		fetchRetries: defaultFetchRetries,
		backoffStart: 250 * time.Millisecond,
		backoffMax:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TableStatus returns the last provisioning-relevant HTTP status observed.
//
// Content fetches record 2xx, 404 and 501; mutations record only their 2xx.
// A failing mutation never moves the status, so a 501 from a save is judged
// against what the table looked like before that save. Zero before any
// response.
func (c *Client) TableStatus() int {
	return int(c.tableStatus.Load())
}

func (c *Client) recordStatus(status int) {
	switch {
	case status == http.StatusNotImplemented,
		status == http.StatusNotFound,
		status >= 200 && status < 300:
		c.tableStatus.Store(int64(status))
	}
}

func (c *Client) storyPath(storyID string, parts ...string) string {
	p := c.baseURL + "/api/stories/" + url.PathEscape(storyID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// do sends one request and returns the status and body. Non-2xx statuses are
// returned as *StatusError. The caller decides whether the status is tracked.
func (c *Client) do(ctx context.Context, opName, method, target string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: encode request: %w", opName, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: build request: %w", opName, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", opName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s: read response: %w", opName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return resp.StatusCode, data, &StatusError{Op: opName, Status: resp.StatusCode, Body: snippet}
	}
	return resp.StatusCode, data, nil
}
