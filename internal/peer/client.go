package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/roach88/lanpos/internal/replica"
)

// Local is the replica surface a Client syncs.
type Local interface {
	StateVector(ctx context.Context) (map[string]int64, error)
	OpsSince(ctx context.Context, vector map[string]int64) ([]replica.Op, error)
	Merge(ctx context.Context, ops []replica.Op) (int, error)
}

// StatusError is a non-2xx response from a peer.
type StatusError struct {
	URL    string
	Status int
	Title  string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("peer: %s: %d %s: %s", e.URL, e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("peer: %s: %d %s", e.URL, e.Status, e.Title)
}

// DefaultBatchSize bounds the ops carried by one POST /v1/ops.
const DefaultBatchSize = 512

// Client talks to one remote peer.
type Client struct {
	baseURL   string
	http      *http.Client
	batchSize int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBatchSize sets how many ops Push sends per request.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// NewClient returns a client for the peer at baseURL. A nil httpClient uses
// a client with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the remote address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Vector fetches the remote state vector.
func (c *Client) Vector(ctx context.Context) (VectorResponse, error) {
	var out VectorResponse
	err := c.do(ctx, http.MethodGet, "/v1/vector", nil, &out)
	return out, err
}

// Ops fetches every remote op not covered by since.
func (c *Client) Ops(ctx context.Context, since map[string]int64) ([]replica.Op, error) {
	raw, err := json.Marshal(since)
	if err != nil {
		return nil, fmt.Errorf("peer: encode vector: %w", err)
	}
	var out OpsPayload
	if err := c.do(ctx, http.MethodGet, "/v1/ops?since="+url.QueryEscape(string(raw)), nil, &out); err != nil {
		return nil, err
	}
	return out.Ops, nil
}

// Send posts ops to the remote peer for merging.
func (c *Client) Send(ctx context.Context, ops []replica.Op) (MergeResponse, error) {
	var out MergeResponse
	err := c.do(ctx, http.MethodPost, "/v1/ops", OpsPayload{Ops: ops}, &out)
	return out, err
}

// Pull merges the remote ops doc is missing. Returns the number applied.
func (c *Client) Pull(ctx context.Context, doc Local) (int, error) {
	vector, err := doc.StateVector(ctx)
	if err != nil {
		return 0, err
	}
	ops, err := c.Ops(ctx, vector)
	if err != nil {
		return 0, err
	}
	return doc.Merge(ctx, ops)
}

// Push sends the local ops the remote is missing in batches of at most
// batchSize ops. Returns the number the remote applied. A group split across
// batches stays invisible on the remote until its last batch lands.
func (c *Client) Push(ctx context.Context, doc Local) (int, error) {
	remote, err := c.Vector(ctx)
	if err != nil {
		return 0, err
	}
	ops, err := doc.OpsSince(ctx, remote.Vector)
	if err != nil {
		return 0, err
	}

	applied := 0
	for batch := range slices.Chunk(ops, c.batchSize) {
		resp, err := c.Send(ctx, batch)
		if err != nil {
			return applied, err
		}
		applied += resp.Applied
	}
	return applied, nil
}

// Sync pulls then pushes.
func (c *Client) Sync(ctx context.Context, doc Local) (replica.SyncStats, error) {
	var stats replica.SyncStats
	var err error
	if stats.BToA, err = c.Pull(ctx, doc); err != nil {
		return stats, fmt.Errorf("pull from %s: %w", c.baseURL, err)
	}
	if stats.AToB, err = c.Push(ctx, doc); err != nil {
		return stats, fmt.Errorf("push to %s: %w", c.baseURL, err)
	}
	return stats, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("peer: encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("peer: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("peer: %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var p ProblemDetail
		_ = json.NewDecoder(resp.Body).Decode(&p)
		title := p.Title
		if title == "" {
			title = http.StatusText(resp.StatusCode)
		}
		return &StatusError{URL: u, Status: resp.StatusCode, Title: title, Detail: p.Detail}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("peer: decode %s: %w", u, err)
	}
	return nil
}

// SyncLoop syncs doc with every client each interval until ctx is done.
// Errors are logged and retried on the next tick.
func SyncLoop(ctx context.Context, doc Local, clients []*Client, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, c := range clients {
			stats, err := c.Sync(ctx, doc)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("peer sync failed", "peer", c.BaseURL(), "error", err)
				continue
			}
			if stats.AToB > 0 || stats.BToA > 0 {
				logger.Info("peer synced", "peer", c.BaseURL(), "pulled", stats.BToA, "pushed", stats.AToB)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
