// Package executor sends aggregation pipelines to the backend's aggregate
// endpoint and normalizes what comes back.
package executor

import (
	"bytes"
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

	"github.com/aevon-lab/tally/internal/core/pipeline"
	"github.com/aevon-lab/tally/internal/core/storage"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	// ErrUnexpectedStatus is returned for non-2xx backend responses.
	ErrUnexpectedStatus = errors.New("unexpected backend status")

	// ErrBatchLimit is returned with the accumulated rows when a paginated
	// read hits MaxBatches without seeing a short page.
	ErrBatchLimit = errors.New("pagination batch limit reached")
)

const maxErrorBodyBytes = 512

// Row is one result document of an aggregate call.
type Row map[string]interface{}

// Recorder observes every backend call. Implementations must not block for long.
type Recorder interface {
	RecordQuery(ctx context.Context, stat storage.QueryStat)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the tuned default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRecorder adds a call observer. It may be given more than once.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorders = append(c.recorders, r)
		}
	}
}

// Client executes pipelines against one backend. It is safe for concurrent use.
type Client struct {
	cfg       Config
	base      string
	http      *http.Client
	limiter   *rate.Limiter
	recorders []Recorder
	now       func() time.Time
	newID     func() string
}

// New creates a Client. cfg.BaseURL is required.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("executor: base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("executor: invalid base url %q: %w", cfg.BaseURL, err)
	}

	c := &Client{
		cfg:   cfg,
		base:  base,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = newHTTPClient(cfg)
	}
	return c, nil
}

// Execute runs p against collection and returns the normalized rows.
// A response body that is neither an array nor a {result: [...]} object
// yields zero rows and a warning, not an error.
func (c *Client) Execute(ctx context.Context, collection string, p pipeline.Pipeline) ([]Row, error) {
	body, err := c.encode(collection, p)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, collection, body, "", 0)
}

// ExecuteAll pages through the result with "Range: items=<start>-<count>"
// headers until the backend returns a short or empty page. A pipeline ending
// in a Limit stage is read up to that many rows and no further. On a failure
// mid way it returns the rows accumulated so far together with the error.
func (c *Client) ExecuteAll(ctx context.Context, collection string, p pipeline.Pipeline, batchSize int) ([]Row, error) {
	if batchSize <= 0 {
		batchSize = c.cfg.BatchSize
	}
	body, err := c.encode(collection, p)
	if err != nil {
		return nil, err
	}

	var (
		all     []Row
		start   int
		maxRows = p.RowLimit()
	)
	for batch := 1; ; batch++ {
		if batch > c.cfg.MaxBatches {
			slog.Warn("[Executor] Pagination reached maximum batch limit",
				"collection", collection,
				"max_batches", c.cfg.MaxBatches,
				"rows", len(all),
			)
			return all, fmt.Errorf("%w (%d batches, %d rows)", ErrBatchLimit, c.cfg.MaxBatches, len(all))
		}

		if batch > 1 && c.cfg.BatchDelay > 0 {
			timer := time.NewTimer(c.cfg.BatchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return all, ctx.Err()
			case <-timer.C:
			}
		}

		count := batchSize
		if maxRows > 0 {
			count = min(count, maxRows-len(all))
		}
		rows, err := c.do(ctx, collection, body, rangeHeader(start, count), batch)
		if err != nil {
			slog.Warn("[Executor] Pagination failed, returning partial rows",
				"collection", collection,
				"batch", batch,
				"rows", len(all),
				"error", err,
			)
			return all, fmt.Errorf("batch %d: %w", batch, err)
		}

		all = append(all, rows...)
		if maxRows > 0 && len(all) >= maxRows {
			return all[:maxRows], nil
		}
		if len(rows) < count {
			return all, nil
		}
		start += len(rows)
	}
}

func rangeHeader(start, count int) string {
	return fmt.Sprintf("items=%d-%d", start, count)
}

func (c *Client) encode(collection string, p pipeline.Pipeline) ([]byte, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, fmt.Errorf("executor: collection is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	return body, nil
}

func (c *Client) endpoint(collection string) string {
	return c.base + "/aggregate/" + url.PathEscape(collection)
}

// do sends one request. batch is 0 for unpaginated calls.
func (c *Client) do(ctx context.Context, collection string, body []byte, itemRange string, batch int) ([]Row, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	requestID := c.newID()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(collection), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.cfg.APIKey != "" {
		req.Header.Set("x-apikey", c.cfg.APIKey)
	}
	if itemRange != "" {
		req.Header.Set("Range", itemRange)
	}

	started := c.now()
	rows, err := c.roundTrip(req)
	c.observe(ctx, storage.QueryStat{
		ID:         requestID,
		Collection: collection,
		StartedAt:  started,
		Duration:   c.now().Sub(started),
		Rows:       len(rows),
		Batch:      batch,
	}, err)
	return rows, err
}

func (c *Client) roundTrip(req *http.Request) ([]Row, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregate request: %w", err)
	}
	defer resp.Body.Close()

	// past the last item
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		_, _ = io.Copy(io.Discard, resp.Body)
		return []Row{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		if errors.Is(err, io.EOF) {
			return []Row{}, nil
		}
		return nil, fmt.Errorf("decode aggregate response: %w", err)
	}

	rows, ok := normalize(decoded)
	if !ok {
		slog.Warn("[Executor] Unexpected response envelope, treating as empty",
			"url", req.URL.String(),
			"request_id", req.Header.Get("X-Request-ID"),
			"shape", fmt.Sprintf("%T", decoded),
		)
	}
	return rows, nil
}

func (c *Client) observe(ctx context.Context, stat storage.QueryStat, err error) {
	stat.Slow = stat.Duration > c.cfg.SlowQueryThreshold
	if err != nil {
		stat.Error = err.Error()
	}

	if stat.Slow {
		slog.Warn("[Executor] Slow query",
			"collection", stat.Collection,
			"duration", stat.Duration,
			"threshold", c.cfg.SlowQueryThreshold,
			"rows", stat.Rows,
			"batch", stat.Batch,
			"request_id", stat.ID,
		)
	}

	for _, r := range c.recorders {
		r.RecordQuery(ctx, stat)
	}
}
