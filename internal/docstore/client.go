// Package docstore is a minimal client for the backend's key-value document store.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when the document does not exist.
var ErrNotFound = errors.New("document not found")

const (
	defaultTimeout    = 15 * time.Second
	maxDocumentBytes  = 4 << 20
	maxErrorBodyBytes = 512
)

// Config configures the document store client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client reads and writes JSON documents by collection and id.
// Concurrent reads of the same document share one HTTP request.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
	reads  singleflight.Group
}

// New creates a Client. A nil hc gets a client with cfg.Timeout.
func New(cfg Config, hc *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("docstore: base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("docstore: invalid base url %q: %w", cfg.BaseURL, err)
	}
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, apiKey: cfg.APIKey, http: hc}, nil
}

func (c *Client) documentURL(collection, id string) (string, error) {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("docstore: collection and id are required")
	}
	return c.base + "/" + url.PathEscape(collection) + "/" + url.PathEscape(id), nil
}

// Get fetches the document and decodes it into out.
func (c *Client) Get(ctx context.Context, collection, id string, out interface{}) error {
	target, err := c.documentURL(collection, id)
	if err != nil {
		return err
	}

	// Decoding happens per caller so shared bytes are never aliased.
	v, err, shared := c.reads.Do(target, func() (interface{}, error) {
		return c.fetch(ctx, target)
	})
	if err != nil {
		return err
	}
	if shared {
		slog.Debug("[DocStore] Shared in-flight read", "collection", collection, "id", id)
	}

	if err := json.Unmarshal(v.([]byte), out); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return body, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("x-apikey", c.apiKey)
	}
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return fmt.Errorf("docstore: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}
