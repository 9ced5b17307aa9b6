// Package insights serves typed gamification metrics on top of the backend
// aggregate endpoint, deduplicating identical requests through a shared cache.
package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	v1 "github.com/aevon-lab/tally/internal/api/v1"
	"github.com/aevon-lab/tally/internal/core/aggregation"
	"github.com/aevon-lab/tally/internal/core/cache"
	"github.com/aevon-lab/tally/internal/core/cachekey"
	"github.com/aevon-lab/tally/internal/core/pipeline"
	"github.com/aevon-lab/tally/internal/core/query"
	"github.com/aevon-lab/tally/internal/core/storage"
	"github.com/aevon-lab/tally/internal/docstore"
	"github.com/aevon-lab/tally/internal/executor"
)

const (
	DefaultEventsCollection = "events"
	DefaultTeamsCollection  = "teams"
	DefaultPageSize         = 500
	DefaultEventsLimit      = 100
	MaxEventsLimit          = 5000

	// CategoryOther collects actions missing from the classification map.
	CategoryOther = "other"

	opMembers = "members"
)

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = query.ErrInvalidQuery

// Executor runs pipelines against the backend aggregate endpoint.
type Executor interface {
	Execute(ctx context.Context, collection string, p pipeline.Pipeline) ([]executor.Row, error)
	ExecuteAll(ctx context.Context, collection string, p pipeline.Pipeline, batchSize int) ([]executor.Row, error)
}

// DocumentStore reads documents from the backend key-value store.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string, out interface{}) error
}

// Config tunes the Service. Zero values fall back to defaults.
type Config struct {
	EventsCollection string
	TeamsCollection  string

	// Per-scope entry lifetimes. Zero uses the cache's default TTL.
	PlayerTTL  time.Duration
	TeamTTL    time.Duration
	CompanyTTL time.Duration

	// Classification maps action names to progress categories.
	Classification map[string]string

	// PageSize is the batch size for paginated event listings.
	PageSize int
}

// Option customizes a Service.
type Option func(*Service)

// WithStatsStore enables the slow-query diagnostics endpoint.
func WithStatsStore(store storage.StatsStore) Option {
	return func(s *Service) { s.stats = store }
}

// Service implements the metric operations. Every operation derives a cache
// key from its normalized parameters, so concurrent identical requests share
// one backend call. Backend failures degrade to zero values; only invalid
// input is reported as an error.
type Service struct {
	exec  Executor
	docs  DocumentStore
	cache *cache.Cache[any]
	rules aggregation.RuleRepository
	stats storage.StatsStore
	cfg   Config
}

// NewService creates a new insights service. docs and rules may be nil, which
// disables Members and RuleMetric respectively.
func NewService(
	exec Executor,
	docs DocumentStore,
	c *cache.Cache[any],
	rules aggregation.RuleRepository,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.EventsCollection == "" {
		cfg.EventsCollection = DefaultEventsCollection
	}
	if cfg.TeamsCollection == "" {
		cfg.TeamsCollection = DefaultTeamsCollection
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if c == nil {
		c = cache.New[any](cache.Options{})
	}

	s := &Service{exec: exec, docs: docs, cache: c, rules: rules, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeasonPoints returns the point totals for a scope over a window.
// Failure default: all three totals zero.
func (s *Service) SeasonPoints(ctx context.Context, req PointsRequest) (PointTotals, error) {
	scope, window, err := req.resolve()
	if err != nil {
		return zeroTotals(), err
	}
	p, err := query.Build(query.KindPoints, scope, window, query.Options{})
	if err != nil {
		return zeroTotals(), err
	}

	key := s.key(query.KindPoints, scope, &window, nil)
	return fetch(ctx, s, key, s.ttlFor(scope.Kind), zeroTotals(), nil, func(ctx context.Context) (PointTotals, error) {
		rows, err := s.exec.Execute(ctx, s.cfg.EventsCollection, p)
		if err != nil {
			return zeroTotals(), err
		}
		return sumPoints(rows), nil
	})
}

// ProgressCounts returns per-category action counts.
// Failure default: zero total and an empty category map.
func (s *Service) ProgressCounts(ctx context.Context, req ProgressRequest) (ProgressCounts, error) {
	scope, window, err := req.resolve()
	if err != nil {
		return emptyProgress(), err
	}
	p, err := query.Build(query.KindProgress, scope, window, query.Options{})
	if err != nil {
		return emptyProgress(), err
	}

	key := s.key(query.KindProgress, scope, &window, nil)
	return fetch(ctx, s, key, s.ttlFor(scope.Kind), emptyProgress(), ProgressCounts.clone, func(ctx context.Context) (ProgressCounts, error) {
		rows, err := s.exec.Execute(ctx, s.cfg.EventsCollection, p)
		if err != nil {
			return emptyProgress(), err
		}
		return classify(rows, s.cfg.Classification), nil
	})
}

// Timeline returns activity bucketed by day or week in ascending order.
// Failure default: no buckets.
func (s *Service) Timeline(ctx context.Context, req TimelineRequest) ([]TimelineBucket, error) {
	scope, window, err := req.resolve()
	if err != nil {
		return []TimelineBucket{}, err
	}
	if req.GroupBy == "" {
		req.GroupBy = pipeline.Day
	}
	p, err := query.Build(query.KindTimeline, scope, window, query.Options{GroupBy: req.GroupBy})
	if err != nil {
		return []TimelineBucket{}, err
	}

	key := s.key(query.KindTimeline, scope, &window, map[string]string{"group_by": string(req.GroupBy)})
	return fetch(ctx, s, key, s.ttlFor(scope.Kind), []TimelineBucket{}, slices.Clone[[]TimelineBucket], func(ctx context.Context) ([]TimelineBucket, error) {
		rows, err := s.exec.Execute(ctx, s.cfg.EventsCollection, p)
		if err != nil {
			return []TimelineBucket{}, err
		}
		return timelineBuckets(rows), nil
	})
}

// Leaderboard ranks players (or teams) inside the scope by points.
// Failure default: no standings.
func (s *Service) Leaderboard(ctx context.Context, req LeaderboardRequest) ([]Standing, error) {
	scope, window, err := req.resolve()
	if err != nil {
		return []Standing{}, err
	}
	if req.RankBy == "" {
		req.RankBy = query.ScopePlayer
	}
	if req.RankBy != query.ScopePlayer && req.RankBy != query.ScopeTeam {
		return []Standing{}, invalidQueryf("cannot rank by %q (want player or team)", req.RankBy)
	}
	if req.Limit <= 0 {
		req.Limit = query.DefaultLeaderboardLimit
	}
	p, err := query.Build(query.KindLeaderboard, scope, window, query.Options{
		GroupField: req.RankBy.Field(),
		Limit:      req.Limit,
	})
	if err != nil {
		return []Standing{}, err
	}

	key := s.key(query.KindLeaderboard, scope, &window, map[string]string{
		"rank_by": string(req.RankBy),
		"limit":   strconv.Itoa(req.Limit),
	})
	return fetch(ctx, s, key, s.ttlFor(scope.Kind), []Standing{}, slices.Clone[[]Standing], func(ctx context.Context) ([]Standing, error) {
		rows, err := s.exec.Execute(ctx, s.cfg.EventsCollection, p)
		if err != nil {
			return []Standing{}, err
		}
		return standings(rows), nil
	})
}

// RecentEvents lists up to req.Limit events, newest first. The listing is
// paginated; when a later page fails, the events read so far are kept.
func (s *Service) RecentEvents(ctx context.Context, req EventsRequest) ([]v1.Event, error) {
	scope, window, err := req.resolve()
	if err != nil {
		return []v1.Event{}, err
	}
	if req.Limit <= 0 {
		req.Limit = DefaultEventsLimit
	}
	if req.Limit > MaxEventsLimit {
		return []v1.Event{}, invalidQueryf("limit %d exceeds %d", req.Limit, MaxEventsLimit)
	}
	p, err := query.Build(query.KindEvents, scope, window, query.Options{Limit: req.Limit})
	if err != nil {
		return []v1.Event{}, err
	}

	key := s.key(query.KindEvents, scope, &window, map[string]string{"limit": strconv.Itoa(req.Limit)})
	return fetch(ctx, s, key, s.ttlFor(scope.Kind), []v1.Event{}, cloneEvents, func(ctx context.Context) ([]v1.Event, error) {
		rows, err := s.exec.ExecuteAll(ctx, s.cfg.EventsCollection, p, s.cfg.PageSize)
		return toEvents(rows, req.Limit), err
	})
}

// Members reads the member list of a team document. A missing team is an
// empty list, not a failure.
func (s *Service) Members(ctx context.Context, teamID string) ([]Member, error) {
	scope, err := query.NewScope(query.ScopeTeam, teamID)
	if err != nil {
		return []Member{}, err
	}
	if s.docs == nil {
		return []Member{}, nil
	}

	key := cachekey.Build(cachekey.Spec{Op: opMembers, ScopeKind: string(scope.Kind), IDs: scope.IDs})
	return fetch(ctx, s, key, s.ttlFor(scope.Kind), []Member{}, slices.Clone[[]Member], func(ctx context.Context) ([]Member, error) {
		var doc teamDocument
		err := s.docs.Get(ctx, s.cfg.TeamsCollection, scope.IDs[0], &doc)
		if errors.Is(err, docstore.ErrNotFound) {
			return []Member{}, nil
		}
		if err != nil {
			return []Member{}, err
		}
		if doc.Members == nil {
			return []Member{}, nil
		}
		return doc.Members, nil
	})
}

// RuleMetric evaluates the named metric rule for the scope. An unknown rule
// is invalid input. Failure default: no values.
func (s *Service) RuleMetric(ctx context.Context, req RuleRequest) ([]MetricValue, error) {
	scope, window, err := req.resolve()
	if err != nil {
		return []MetricValue{}, err
	}
	if s.rules == nil {
		return []MetricValue{}, invalidQueryf("no metric rules configured")
	}
	rule, err := s.rules.Get(ctx, req.Rule)
	if err != nil {
		return []MetricValue{}, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	p, err := query.Build(query.KindRule, scope, window, query.Options{GroupBy: req.GroupBy, Rule: rule})
	if err != nil {
		return []MetricValue{}, err
	}

	key := s.key(query.KindRule, scope, &window, map[string]string{
		"rule":        rule.Name,
		"fingerprint": rule.Fingerprint,
		"group_by":    string(req.GroupBy),
	})
	return fetch(ctx, s, key, s.ttlFor(scope.Kind), []MetricValue{}, slices.Clone[[]MetricValue], func(ctx context.Context) ([]MetricValue, error) {
		rows, err := s.exec.Execute(ctx, rule.Collection, p)
		if err != nil {
			return []MetricValue{}, err
		}
		return metricValues(rows, req.GroupBy != "", rule.Operator), nil
	})
}

// InvalidateScope drops every cached entry whose scope includes id, including
// entries cached for id sets. It returns how many entries were removed.
func (s *Service) InvalidateScope(kind query.ScopeKind, id string) int {
	removed := s.cache.InvalidateFunc(func(key string) bool {
		return cachekey.Mentions(key, string(kind), id)
	})
	slog.Info("[Insights] Invalidated scope", "scope", kind, "id", id, "removed", removed)
	return removed
}

// InvalidateAll drops every cached entry.
func (s *Service) InvalidateAll() {
	s.cache.Clear()
	slog.Info("[Insights] Invalidated all cached entries")
}

// SweepExpired drops cache entries that outlived their TTL.
func (s *Service) SweepExpired() int {
	return s.cache.SweepExpired()
}

// CacheStats returns the shared cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// SlowQueries lists recorded slow backend calls since the given instant.
func (s *Service) SlowQueries(ctx context.Context, since time.Time, limit int) ([]storage.QueryStat, error) {
	if s.stats == nil {
		return []storage.QueryStat{}, nil
	}
	return s.stats.ListSlowQueries(ctx, since, limit)
}

func (s *Service) key(kind query.Kind, scope query.Scope, window *pipeline.DateFilter, params map[string]string) string {
	return cachekey.Build(cachekey.Spec{
		Op:        string(kind),
		ScopeKind: string(scope.Kind),
		IDs:       scope.IDs,
		Window:    window,
		Params:    params,
	})
}

func (s *Service) ttlFor(kind query.ScopeKind) time.Duration {
	switch kind {
	case query.ScopePlayer:
		return s.cfg.PlayerTTL
	case query.ScopeCompany:
		return s.cfg.CompanyTTL
	default:
		return s.cfg.TeamTTL
	}
}

// fetch serves key from the cache, computing it with fn on a miss. A failed
// computation is logged and its default value is cached like any other
// result. The returned error is only set when the caller's ctx ended first.
// Cached values are shared, so every caller gets its own copy via clone;
// a nil clone marks T as immutable.
func fetch[T any](
	ctx context.Context,
	s *Service,
	key string,
	ttl time.Duration,
	fallback T,
	clone func(T) T,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	h := s.cache.GetOrComputeTTL(ctx, key, ttl, func(ctx context.Context) (any, error) {
		start := time.Now()
		v, err := fn(ctx)
		if err != nil {
			slog.Warn("[Insights] Backend call failed, serving default",
				"key", key,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
		}
		return v, err
	})

	select {
	case <-h.Done():
	case <-ctx.Done():
		if !h.Settled() {
			return fallback, ctx.Err()
		}
	}
	// Settled: the computation's own error is already logged and never
	// surfaces to the caller, even when it is a deadline.
	v, _ := h.Wait(context.WithoutCancel(ctx))
	typed, ok := v.(T)
	if !ok {
		return fallback, nil
	}
	if clone != nil {
		typed = clone(typed)
	}
	return typed, nil
}

func cloneEvents(events []v1.Event) []v1.Event {
	if events == nil {
		return nil
	}
	out := make([]v1.Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}

func (t Target) resolve() (query.Scope, pipeline.DateFilter, error) {
	scope, err := query.NewScope(t.Scope, t.IDs...)
	if err != nil {
		return query.Scope{}, pipeline.DateFilter{}, err
	}
	window, err := pipeline.NewDateFilter(t.Start, t.End)
	if err != nil {
		return query.Scope{}, pipeline.DateFilter{}, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return scope, window, nil
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
