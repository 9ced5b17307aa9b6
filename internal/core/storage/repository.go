package storage

import (
	"context"
	"time"
)

// QueryStat describes one backend aggregate call as observed by the executor.
type QueryStat struct {
	// ID is the X-Request-ID sent with the call.
	ID         string        `json:"id"`
	Collection string        `json:"collection"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Rows       int           `json:"rows"`
	// Batch is the 1-based page number for paginated reads, 0 for single calls.
	Batch int    `json:"batch"`
	Slow  bool   `json:"slow"`
	Error string `json:"error,omitempty"`
}

// StatsStore persists query statistics for the slow-query log.
type StatsStore interface {
	SaveQueryStat(ctx context.Context, stat *QueryStat) error

	// ListSlowQueries returns slow calls started at or after since, newest first.
	ListSlowQueries(ctx context.Context, since time.Time, limit int) ([]QueryStat, error)
}
