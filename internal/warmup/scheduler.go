// Package warmup keeps the point totals of configured teams cached.
package warmup

import (
	"context"
	"log/slog"
	"time"

	"github.com/aevon-lab/tally/internal/core/query"
	"github.com/aevon-lab/tally/internal/insights"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many teams are refreshed at once.
const DefaultConcurrency = 4

// PointsLoader is the part of the insights service the scheduler drives.
type PointsLoader interface {
	SeasonPoints(ctx context.Context, req insights.PointsRequest) (insights.PointTotals, error)
}

// Pruner deletes recorded query stats older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper drops cache entries that outlived their TTL.
type Sweeper interface {
	SweepExpired() int
}

// WindowFunc returns the window to warm as of now.
type WindowFunc func(now time.Time) (time.Time, time.Time, error)

// Options configures a Scheduler.
type Options struct {
	Interval    time.Duration
	Teams       []string
	Window      WindowFunc
	Concurrency int

	// Sweeper, when set, reclaims expired cache entries on every tick.
	Sweeper Sweeper

	// Pruner and Retention enable query-stat cleanup on every tick.
	Pruner    Pruner
	Retention time.Duration
}

// Scheduler loads season points for the configured teams on a periodic
// interval. Loads that hit a live cache entry cost nothing, so an interval
// shorter than the team TTL keeps the entries warm.
type Scheduler struct {
	loader PointsLoader
	opts   Options
	now    func() time.Time
}

// NewScheduler creates a warmup scheduler.
func NewScheduler(loader PointsLoader, opts Options) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Scheduler{loader: loader, opts: opts, now: time.Now}
}

// Start runs one warmup immediately, then one per interval.
// Runs until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	slog.Info("[Warmup] Starting cache warmup scheduler",
		"interval", s.opts.Interval,
		"teams", len(s.opts.Teams),
		"sweep", s.opts.Sweeper != nil,
		"prune", s.opts.Pruner != nil && s.opts.Retention > 0,
	)

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			slog.Info("[Warmup] Stopping (context cancelled)")
			return nil
		}
	}
}

// RunOnce sweeps expired cache entries, warms every configured team and
// prunes old query stats.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now()
	s.sweep()
	s.warm(ctx, now)
	s.prune(ctx, now)
}

func (s *Scheduler) sweep() {
	if s.opts.Sweeper == nil {
		return
	}
	if removed := s.opts.Sweeper.SweepExpired(); removed > 0 {
		slog.Debug("[Warmup] Swept expired cache entries", "removed", removed)
	}
}

func (s *Scheduler) warm(ctx context.Context, now time.Time) {
	if len(s.opts.Teams) == 0 || s.opts.Window == nil {
		return
	}
	start, end, err := s.opts.Window(now)
	if err != nil {
		slog.Error("[Warmup] Invalid window, skipping run", "error", err)
		return
	}

	began := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, team := range s.opts.Teams {
		g.Go(func() error {
			_, err := s.loader.SeasonPoints(gctx, insights.PointsRequest{Target: insights.Target{
				Scope: query.ScopeTeam,
				IDs:   []string{team},
				Start: start,
				End:   end,
			}})
			if err != nil {
				slog.Warn("[Warmup] Failed to warm team", "team", team, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Debug("[Warmup] Warmed team points",
		"teams", len(s.opts.Teams),
		"duration_ms", time.Since(began).Milliseconds(),
	)
}

func (s *Scheduler) prune(ctx context.Context, now time.Time) {
	if s.opts.Pruner == nil || s.opts.Retention <= 0 {
		return
	}
	removed, err := s.opts.Pruner.PruneBefore(ctx, now.Add(-s.opts.Retention))
	if err != nil {
		slog.Error("[Warmup] Failed to prune query stats", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("[Warmup] Pruned query stats", "removed", removed)
	}
}
