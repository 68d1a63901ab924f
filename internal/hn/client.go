// Package hn is a client for the Hacker News Firebase API.
//
// The client is deliberately best-effort: the orchestrator walks tens of
// thousands of identifiers per cycle and must keep moving, so a single item
// fetch retries transient failures once and then reports the item as
// unavailable instead of blocking in a retry loop.
package hn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hnpulse/hnpulse/internal/log"
)

const (
	// DefaultBaseURL is the public Hacker News Firebase endpoint.
	DefaultBaseURL = "https://hacker-news.firebaseio.com"

	// childBatchSize bounds how many child fetches are in flight at once.
	childBatchSize = 20
)

// Item is one Hacker News item as returned by /v0/item/{id}.json.
// Stories and comments share this shape; Type distinguishes them.
type Item struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	By          string  `json:"by"`
	Time        int64   `json:"time"`
	Text        string  `json:"text"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Score       int     `json:"score"`
	Descendants int     `json:"descendants"`
	Kids        []int64 `json:"kids"`
	Parent      int64   `json:"parent"`
	Deleted     bool    `json:"deleted"`
	Dead        bool    `json:"dead"`
}

// PostedAt returns the item's creation time.
func (it *Item) PostedAt() time.Time {
	return time.Unix(it.Time, 0)
}

// Client fetches listings and items from the upstream feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryDelay time.Duration
	logger     log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryDelay sets the fixed delay before the single transient retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// NewClient creates a new Hacker News API client.
func NewClient(logger log.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryDelay: 2 * time.Second,
		logger:     logger.With("component", "hn"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListCandidateIDs merges the top and new story listings, preserving listing
// order (top first) and dropping duplicates. limit bounds how many IDs are
// taken from each listing; limit <= 0 means the full listing.
func (c *Client) ListCandidateIDs(ctx context.Context, limit int) ([]int64, error) {
	top, err := c.listIDs(ctx, "topstories", limit)
	if err != nil {
		return nil, fmt.Errorf("fetching top stories: %w", err)
	}
	newest, err := c.listIDs(ctx, "newstories", limit)
	if err != nil {
		return nil, fmt.Errorf("fetching new stories: %w", err)
	}

	seen := make(map[int64]struct{}, len(top)+len(newest))
	merged := make([]int64, 0, len(top)+len(newest))
	for _, id := range append(top, newest...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	return merged, nil
}

func (c *Client) listIDs(ctx context.Context, listing string, limit int) ([]int64, error) {
	var ids []int64
	url := fmt.Sprintf("%s/v0/%s.json", c.baseURL, listing)
	if err := c.getJSON(ctx, url, &ids); err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// FetchItem retrieves one item. It returns (nil, nil) when the item is
// definitively absent (404, JSON null, deleted or dead) and also after the
// single transient retry is exhausted: the caller treats both as "unavailable
// this cycle". Only request construction and context errors surface.
func (c *Client) FetchItem(ctx context.Context, id int64) (*Item, error) {
	url := fmt.Sprintf("%s/v0/item/%d.json", c.baseURL, id)

	item, retry, err := c.fetchItemOnce(ctx, url)
	if retry {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
		item, _, err = c.fetchItemOnce(ctx, url)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("item unavailable", "id", id, "error", err)
		return nil, nil
	}
	if item == nil || item.Deleted || item.Dead {
		return nil, nil
	}
	return item, nil
}

// fetchItemOnce performs a single item request. retry reports whether the
// failure is transient (429/5xx or transport error) and worth one more try.
func (c *Client) fetchItemOnce(ctx context.Context, url string) (item *Item, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("fetch item: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("transient status %d", resp.StatusCode)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// The API returns the literal "null" for unknown IDs with a 200.
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, false, fmt.Errorf("decode item: %w", err)
	}
	return item, false, nil
}

// FetchChildren fetches a batch of direct children concurrently, in fixed
// chunks of childBatchSize in-flight requests. The result preserves the input
// order; unavailable items are dropped.
func (c *Client) FetchChildren(ctx context.Context, ids []int64) []*Item {
	results := make([]*Item, len(ids))

	for start := 0; start < len(ids); start += childBatchSize {
		end := min(start+childBatchSize, len(ids))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				item, err := c.FetchItem(ctx, ids[i])
				if err != nil {
					return
				}
				results[i] = item
			}(i)
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	out := make([]*Item, 0, len(ids))
	for _, it := range results {
		if it != nil {
			out = append(out, it)
		}
	}
	return out
}

func (c *Client) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
