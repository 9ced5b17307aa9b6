// Package memory holds in-process storage used when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aevon-lab/tally/internal/core/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultStatsCapacity bounds the number of remembered calls.
const DefaultStatsCapacity = 1024

// StatsStore keeps the most recent query stats in a bounded LRU.
// It implements storage.StatsStore.
type StatsStore struct {
	recent *lru.Cache[string, storage.QueryStat]
}

// NewStatsStore creates a store remembering up to capacity calls.
func NewStatsStore(capacity int) (*StatsStore, error) {
	if capacity <= 0 {
		capacity = DefaultStatsCapacity
	}
	recent, err := lru.New[string, storage.QueryStat](capacity)
	if err != nil {
		return nil, fmt.Errorf("create stats lru: %w", err)
	}
	return &StatsStore{recent: recent}, nil
}

// SaveQueryStat remembers stat, evicting the oldest entry when full.
func (s *StatsStore) SaveQueryStat(_ context.Context, stat *storage.QueryStat) error {
	if stat.ID == "" {
		return fmt.Errorf("query stat id is required")
	}
	s.recent.Add(stat.ID, *stat)
	return nil
}

// ListSlowQueries returns remembered slow calls started at or after since,
// newest first.
func (s *StatsStore) ListSlowQueries(_ context.Context, since time.Time, limit int) ([]storage.QueryStat, error) {
	out := make([]storage.QueryStat, 0)
	for _, stat := range s.recent.Values() {
		if stat.Slow && !stat.StartedAt.Before(since) {
			out = append(out, stat)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of remembered calls.
func (s *StatsStore) Len() int { return s.recent.Len() }
