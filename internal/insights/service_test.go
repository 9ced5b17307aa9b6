package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aevon-lab/tally/internal/core/aggregation"
	"github.com/aevon-lab/tally/internal/core/cache"
	"github.com/aevon-lab/tally/internal/core/pipeline"
	"github.com/aevon-lab/tally/internal/core/query"
	"github.com/aevon-lab/tally/internal/docstore"
	"github.com/aevon-lab/tally/internal/executor"
	insightsmocks "github.com/aevon-lab/tally/internal/mocks/insights"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	seasonStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seasonEnd   = time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, exec Executor, docs DocumentStore, clock *fakeClock, cfg Config) *Service {
	t.Helper()
	opts := cache.Options{TTL: 5 * time.Minute}
	if clock != nil {
		opts.Now = clock.Now
	}
	return NewService(exec, docs, cache.New[any](opts), nil, cfg)
}

func teamTarget(ids ...string) Target {
	return Target{Scope: query.ScopeTeam, IDs: ids, Start: seasonStart, End: seasonEnd}
}

func pointsRow(total, locked, unlocked string) executor.Row {
	return executor.Row{
		"_id":      nil,
		"total":    json.Number(total),
		"locked":   json.Number(locked),
		"unlocked": json.Number(unlocked),
	}
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestService_SeasonPoints_TeamScenario(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, DefaultEventsCollection, mock.Anything).
		Return([]executor.Row{pointsRow("1000", "600", "400")}, nil).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{TeamTTL: 5 * time.Minute})
	ctx := context.Background()

	got, err := svc.SeasonPoints(ctx, PointsRequest{Target: teamTarget("Team A")})
	require.NoError(t, err)
	requireDecimal(t, "1000", got.Total)
	requireDecimal(t, "600", got.Locked)
	requireDecimal(t, "400", got.Unlocked)

	again, err := svc.SeasonPoints(ctx, PointsRequest{Target: teamTarget("Team A")})
	require.NoError(t, err)
	require.Equal(t, got, again)

	body, err := json.Marshal(got)
	require.NoError(t, err)
	require.JSONEq(t, `{"total":"1000","bloqueados":"600","desbloqueados":"400"}`, string(body))
}

func TestService_SeasonPoints_SendsScopedPipeline(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, "activity", mock.Anything).
		Run(func(_ context.Context, _ string, p pipeline.Pipeline) {
			want, err := query.Build(query.KindPoints,
				query.Scope{Kind: query.ScopeTeam, IDs: []string{"a", "b"}},
				pipeline.DateFilter{Gte: seasonStart, Lte: seasonEnd},
				query.Options{})
			require.NoError(t, err)
			require.Equal(t, want, p)
		}).
		Return(nil, nil).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{EventsCollection: "activity"})
	got, err := svc.SeasonPoints(context.Background(), PointsRequest{Target: teamTarget("b", "a", "b")})
	require.NoError(t, err)
	require.True(t, got.Total.IsZero())
}

func TestService_SeasonPoints_ConcurrentCallersShareOneBackendCall(t *testing.T) {
	release := make(chan struct{})
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, DefaultEventsCollection, mock.Anything).
		RunAndReturn(func(context.Context, string, pipeline.Pipeline) ([]executor.Row, error) {
			<-release
			return []executor.Row{pointsRow("30", "10", "20")}, nil
		}).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{})

	const callers = 25
	results := make([]PointTotals, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.SeasonPoints(context.Background(), PointsRequest{Target: teamTarget("Team A")})
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		requireDecimal(t, "30", results[i].Total)
	}
	stats := svc.CacheStats()
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, int64(callers-1), stats.Hits)
}

func TestService_SeasonPoints_IDOrderSharesEntry(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Return([]executor.Row{pointsRow("5", "2", "3")}, nil).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{})
	ctx := context.Background()

	_, err := svc.SeasonPoints(ctx, PointsRequest{Target: teamTarget("a", "b")})
	require.NoError(t, err)
	got, err := svc.SeasonPoints(ctx, PointsRequest{Target: teamTarget("b", "a")})
	require.NoError(t, err)
	requireDecimal(t, "5", got.Total)
}

func TestService_SeasonPoints_FailureDegradesToZero(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)}
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused")).
		Once()
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Return([]executor.Row{pointsRow("1000", "600", "400")}, nil).
		Once()

	svc := NewService(exec, nil, cache.New[any](cache.Options{
		TTL:        5 * time.Minute,
		FailureTTL: 30 * time.Second,
		Now:        clock.Now,
	}), nil, Config{})
	ctx := context.Background()

	got, err := svc.SeasonPoints(ctx, PointsRequest{Target: teamTarget("Team A")})
	require.NoError(t, err)
	require.Equal(t, zeroTotals(), got)

	// the zero result is served until the failure lifetime runs out
	got, err = svc.SeasonPoints(ctx, PointsRequest{Target: teamTarget("Team A")})
	require.NoError(t, err)
	require.True(t, got.Total.IsZero())

	clock.Advance(31 * time.Second)
	got, err = svc.SeasonPoints(ctx, PointsRequest{Target: teamTarget("Team A")})
	require.NoError(t, err)
	requireDecimal(t, "1000", got.Total)
}

func TestService_SeasonPoints_TotalIsAlwaysLockedPlusUnlocked(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			n := rng.Intn(4) + 1
			rows := make([]executor.Row, 0, n)
			wantLocked, wantUnlocked := decimal.Zero, decimal.Zero
			for j := 0; j < n; j++ {
				locked := decimal.NewFromInt(rng.Int63n(10_000)).Shift(-2)
				unlocked := decimal.NewFromInt(rng.Int63n(10_000)).Shift(-2)
				wantLocked = wantLocked.Add(locked)
				wantUnlocked = wantUnlocked.Add(unlocked)
				rows = append(rows, executor.Row{
					"locked":   json.Number(locked.String()),
					"unlocked": json.Number(unlocked.String()),
					// a backend total that does not add up is ignored
					"total": json.Number(decimal.NewFromInt(rng.Int63n(100)).String()),
				})
			}

			got := sumPoints(rows)
			require.True(t, got.Total.Equal(got.Locked.Add(got.Unlocked)))
			require.True(t, wantLocked.Equal(got.Locked))
			require.True(t, wantUnlocked.Equal(got.Unlocked))
		})
	}
}

func TestService_ScopeTTLs(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)}

	tests := []struct {
		name  string
		scope query.ScopeKind
		ttl   time.Duration
	}{
		{name: "player", scope: query.ScopePlayer, ttl: 3 * time.Minute},
		{name: "team", scope: query.ScopeTeam, ttl: 5 * time.Minute},
		{name: "company", scope: query.ScopeCompany, ttl: 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := insightsmocks.NewExecutor(t)
			exec.EXPECT().
				Execute(mock.Anything, mock.Anything, mock.Anything).
				Return([]executor.Row{pointsRow("1", "0", "1")}, nil).
				Twice()

			svc := newTestService(t, exec, nil, clock, Config{
				PlayerTTL:  3 * time.Minute,
				TeamTTL:    5 * time.Minute,
				CompanyTTL: 10 * time.Minute,
			})
			req := PointsRequest{Target: Target{Scope: tt.scope, IDs: []string{"x"}, Start: seasonStart, End: seasonEnd}}
			ctx := context.Background()

			_, err := svc.SeasonPoints(ctx, req)
			require.NoError(t, err)

			clock.Advance(tt.ttl - time.Second)
			_, err = svc.SeasonPoints(ctx, req)
			require.NoError(t, err)
			require.Equal(t, int64(1), svc.CacheStats().Misses)

			clock.Advance(2 * time.Second)
			_, err = svc.SeasonPoints(ctx, req)
			require.NoError(t, err)
			require.Equal(t, int64(2), svc.CacheStats().Misses)
		})
	}
}

func TestService_InvalidQueries(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	svc := newTestService(t, exec, nil, nil, Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{
			name: "window end before start",
			call: func() error {
				_, err := svc.SeasonPoints(ctx, PointsRequest{Target: Target{
					Scope: query.ScopeTeam, IDs: []string{"a"}, Start: seasonEnd, End: seasonStart,
				}})
				return err
			},
		},
		{
			name: "no ids",
			call: func() error {
				_, err := svc.ProgressCounts(ctx, ProgressRequest{Target: teamTarget(" ", "")})
				return err
			},
		},
		{
			name: "unknown scope",
			call: func() error {
				_, err := svc.SeasonPoints(ctx, PointsRequest{Target: Target{
					Scope: "region", IDs: []string{"a"}, Start: seasonStart, End: seasonEnd,
				}})
				return err
			},
		},
		{
			name: "hourly timeline",
			call: func() error {
				_, err := svc.Timeline(ctx, TimelineRequest{Target: teamTarget("a"), GroupBy: "hour"})
				return err
			},
		},
		{
			name: "rank by company",
			call: func() error {
				_, err := svc.Leaderboard(ctx, LeaderboardRequest{Target: teamTarget("a"), RankBy: query.ScopeCompany})
				return err
			},
		},
		{
			name: "leaderboard limit too large",
			call: func() error {
				_, err := svc.Leaderboard(ctx, LeaderboardRequest{Target: teamTarget("a"), Limit: 1000})
				return err
			},
		},
		{
			name: "events limit too large",
			call: func() error {
				_, err := svc.RecentEvents(ctx, EventsRequest{Target: teamTarget("a"), Limit: MaxEventsLimit + 1})
				return err
			},
		},
		{
			name: "rules not configured",
			call: func() error {
				_, err := svc.RuleMetric(ctx, RuleRequest{Target: teamTarget("a"), Rule: "quizzes"})
				return err
			},
		},
		{
			name: "members without team id",
			call: func() error {
				_, err := svc.Members(ctx, " ")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
	require.Zero(t, svc.CacheStats().Misses)
}

func TestService_ProgressCounts(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Return([]executor.Row{
			{"_id": "quiz.completed", "count": json.Number("3")},
			{"_id": "login", "count": json.Number("2")},
			{"_id": "course.finished", "count": json.Number("4")},
			{"_id": "mystery", "count": json.Number("1")},
			{"_id": nil, "count": json.Number("1")},
		}, nil).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{Classification: map[string]string{
		"quiz.completed":  "learning",
		"course.finished": "learning",
		"login":           "engagement",
	}})

	got, err := svc.ProgressCounts(context.Background(), ProgressRequest{Target: teamTarget("a")})
	require.NoError(t, err)
	require.Equal(t, ProgressCounts{
		Total:      11,
		ByCategory: map[string]int64{"learning": 7, "engagement": 2, CategoryOther: 2},
	}, got)
}

func TestService_ProgressCounts_FailureIsEmpty(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Return(nil, executor.ErrUnexpectedStatus).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{})
	got, err := svc.ProgressCounts(context.Background(), ProgressRequest{Target: teamTarget("a")})
	require.NoError(t, err)
	require.Zero(t, got.Total)
	require.NotNil(t, got.ByCategory)
	require.Empty(t, got.ByCategory)
}

func TestService_Timeline(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Run(func(_ context.Context, _ string, p pipeline.Pipeline) {
			require.Equal(t, 1, p.Stages(pipeline.KindProject))
		}).
		Return([]executor.Row{
			{"_id": "2024-01", "count": json.Number("4"), "points": json.Number("40")},
			{"_id": "2024-02", "count": json.Number("1"), "points": json.Number("2.5")},
			{"_id": nil, "count": json.Number("9")},
		}, nil).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{})
	got, err := svc.Timeline(context.Background(), TimelineRequest{Target: teamTarget("a"), GroupBy: pipeline.Week})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "2024-01", got[0].Bucket)
	require.Equal(t, int64(4), got[0].Count)
	requireDecimal(t, "2.5", got[1].Points)
}

func TestService_Timeline_DefaultsToDaysAndKeysByGranularity(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Return([]executor.Row{}, nil).
		Twice()

	svc := newTestService(t, exec, nil, nil, Config{})
	ctx := context.Background()

	_, err := svc.Timeline(ctx, TimelineRequest{Target: teamTarget("a")})
	require.NoError(t, err)
	_, err = svc.Timeline(ctx, TimelineRequest{Target: teamTarget("a"), GroupBy: pipeline.Day})
	require.NoError(t, err)
	_, err = svc.Timeline(ctx, TimelineRequest{Target: teamTarget("a"), GroupBy: pipeline.Week})
	require.NoError(t, err)
}

func TestService_Leaderboard(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Return([]executor.Row{
			{"_id": "p2", "points": json.Number("90"), "count": json.Number("9")},
			{"_id": "p1", "points": json.Number("75"), "count": json.Number("3")},
		}, nil).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{})
	got, err := svc.Leaderboard(context.Background(), LeaderboardRequest{Target: teamTarget("a")})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].Rank)
	require.Equal(t, "p2", got[0].ID)
	require.Equal(t, 2, got[1].Rank)
	require.Equal(t, int64(3), got[1].Count)
}

func TestService_RecentEvents_KeepsPartialPages(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		ExecuteAll(mock.Anything, DefaultEventsCollection, mock.Anything, 2).
		Return([]executor.Row{
			{"_id": "e3", "teamId": "a", "points": json.Number("3"), "createdAt": map[string]interface{}{"$date": "2024-01-03T00:00:00.000Z"}},
			{"_id": "bad", "teamId": "a"},
			{"_id": "e2", "teamId": "a", "points": json.Number("2"), "createdAt": map[string]interface{}{"$date": "2024-01-02T00:00:00.000Z"}},
		}, fmt.Errorf("batch 2: %w", executor.ErrUnexpectedStatus)).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{PageSize: 2})
	got, err := svc.RecentEvents(context.Background(), EventsRequest{Target: teamTarget("a")})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "e3", got[0].ID)
	require.Equal(t, "e2", got[1].ID)
}

func TestService_RecentEvents_Limit(t *testing.T) {
	rows := make([]executor.Row, 0, 5)
	for i := 0; i < 5; i++ {
		rows = append(rows, executor.Row{
			"_id":       fmt.Sprintf("e%d", i),
			"playerId":  "p1",
			"createdAt": "2024-01-02T00:00:00Z",
		})
	}
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		ExecuteAll(mock.Anything, mock.Anything, mock.Anything, DefaultPageSize).
		Run(func(_ context.Context, _ string, p pipeline.Pipeline, _ int) {
			require.Equal(t, 3, p.RowLimit(), "paging stops at the requested limit")
		}).
		Return(rows, nil).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{})
	got, err := svc.RecentEvents(context.Background(), EventsRequest{
		Target: Target{Scope: query.ScopePlayer, IDs: []string{"p1"}, Start: seasonStart, End: seasonEnd},
		Limit:  3,
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestService_Members(t *testing.T) {
	tests := []struct {
		name      string
		configure func(docs *insightsmocks.DocumentStore)
		want      []Member
	}{
		{
			name: "team document",
			configure: func(docs *insightsmocks.DocumentStore) {
				docs.EXPECT().
					Get(mock.Anything, DefaultTeamsCollection, "team-a", mock.Anything).
					Run(func(_ context.Context, _ string, _ string, out interface{}) {
						doc := out.(*teamDocument)
						doc.Name = "Team A"
						doc.Members = []Member{{ID: "p1", Name: "Ana"}, {ID: "p2", Role: "captain"}}
					}).
					Return(nil).
					Once()
			},
			want: []Member{{ID: "p1", Name: "Ana"}, {ID: "p2", Role: "captain"}},
		},
		{
			name: "missing team",
			configure: func(docs *insightsmocks.DocumentStore) {
				docs.EXPECT().
					Get(mock.Anything, DefaultTeamsCollection, "team-a", mock.Anything).
					Return(docstore.ErrNotFound).
					Once()
			},
			want: []Member{},
		},
		{
			name: "store failure",
			configure: func(docs *insightsmocks.DocumentStore) {
				docs.EXPECT().
					Get(mock.Anything, DefaultTeamsCollection, "team-a", mock.Anything).
					Return(errors.New("timeout")).
					Once()
			},
			want: []Member{},
		},
		{
			name: "team without members",
			configure: func(docs *insightsmocks.DocumentStore) {
				docs.EXPECT().
					Get(mock.Anything, DefaultTeamsCollection, "team-a", mock.Anything).
					Return(nil).
					Once()
			},
			want: []Member{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := insightsmocks.NewDocumentStore(t)
			tt.configure(docs)
			svc := newTestService(t, insightsmocks.NewExecutor(t), docs, nil, Config{})

			got, err := svc.Members(context.Background(), "team-a")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			// served from cache
			got, err = svc.Members(context.Background(), " team-a ")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestService_RuleMetric(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quizzes.yaml"), []byte(`
name: quiz_points
collection: quiz_events
actions: [quiz.completed]
operator: sum
field: points
`), 0o644))
	rules, err := aggregation.NewFileSystemRuleRepository(dir)
	require.NoError(t, err)

	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, "quiz_events", mock.Anything).
		Return([]executor.Row{
			{"_id": "2024-01-01", "value": json.Number("12")},
			{"_id": "2024-01-02", "value": json.Number("8")},
		}, nil).
		Once()
	exec.EXPECT().
		Execute(mock.Anything, "quiz_events", mock.Anything).
		Return([]executor.Row{{"_id": nil, "value": json.Number("20")}}, nil).
		Once()

	svc := NewService(exec, nil, cache.New[any](cache.Options{}), rules, Config{})
	ctx := context.Background()

	daily, err := svc.RuleMetric(ctx, RuleRequest{Target: teamTarget("a"), Rule: "quiz_points", GroupBy: pipeline.Day})
	require.NoError(t, err)
	require.Len(t, daily, 2)
	require.Equal(t, "2024-01-02", daily[1].Bucket)
	requireDecimal(t, "8", daily[1].Value)

	total, err := svc.RuleMetric(ctx, RuleRequest{Target: teamTarget("a"), Rule: "quiz_points"})
	require.NoError(t, err)
	require.Len(t, total, 1)
	require.Empty(t, total[0].Bucket)
	requireDecimal(t, "20", total[0].Value)

	_, err = svc.RuleMetric(ctx, RuleRequest{Target: teamTarget("a"), Rule: "missing"})
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestService_InvalidateScope(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Return([]executor.Row{pointsRow("1", "1", "0")}, nil).
		Times(4)

	svc := newTestService(t, exec, nil, nil, Config{})
	ctx := context.Background()

	load := func(ids ...string) {
		_, err := svc.SeasonPoints(ctx, PointsRequest{Target: teamTarget(ids...)})
		require.NoError(t, err)
	}
	load("a")
	load("a", "b")
	load("c")
	require.Equal(t, 3, svc.CacheStats().Entries)

	// entries for "a" alone and for the set containing "a" are dropped
	require.Equal(t, 2, svc.InvalidateScope(query.ScopeTeam, "a"))
	require.Zero(t, svc.InvalidateScope(query.ScopePlayer, "c"))

	load("c")      // still cached
	load("a", "b") // recomputed

	svc.InvalidateAll()
	require.Zero(t, svc.CacheStats().Entries)
}

func TestService_CallerContextEndsWait(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(context.Context, string, pipeline.Pipeline) ([]executor.Row, error) {
			<-release
			return nil, nil
		}).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, err := svc.SeasonPoints(ctx, PointsRequest{Target: teamTarget("a")})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, zeroTotals(), got)
}

func TestService_ResultsAreIsolatedBetweenCallers(t *testing.T) {
	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.MatchedBy(func(p pipeline.Pipeline) bool {
			return p.Stages(pipeline.KindProject) == 1
		})).
		Return([]executor.Row{
			{"_id": "2024-01-01", "count": json.Number("4"), "points": json.Number("40")},
		}, nil).
		Once()
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Return([]executor.Row{
			{"_id": "quiz.completed", "count": json.Number("3")},
			{"_id": "login", "count": json.Number("2")},
		}, nil).
		Once()
	exec.EXPECT().
		ExecuteAll(mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]executor.Row{{
			"_id":       "e1",
			"teamId":    "a",
			"createdAt": "2024-01-02T00:00:00Z",
			"meta":      map[string]interface{}{"tags": []interface{}{"x"}},
		}}, nil).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{Classification: map[string]string{
		"quiz.completed": "learning",
		"login":          "engagement",
	}})
	ctx := context.Background()
	timelineReq := TimelineRequest{Target: teamTarget("a")}
	progressReq := ProgressRequest{Target: teamTarget("a")}
	eventsReq := EventsRequest{Target: teamTarget("a")}

	timeline, err := svc.Timeline(ctx, timelineReq)
	require.NoError(t, err)
	progress, err := svc.ProgressCounts(ctx, progressReq)
	require.NoError(t, err)
	events, err := svc.RecentEvents(ctx, eventsReq)
	require.NoError(t, err)

	timeline[0].Count = 999
	timeline[0].Bucket = "mutated"
	progress.ByCategory["learning"] = 1000
	delete(progress.ByCategory, "engagement")
	events[0].ID = "mutated"
	events[0].Data["meta"].(map[string]interface{})["tags"].([]interface{})[0] = "mutated"

	timeline, err = svc.Timeline(ctx, timelineReq)
	require.NoError(t, err)
	require.Equal(t, []TimelineBucket{{Bucket: "2024-01-01", Count: 4, Points: timeline[0].Points}}, timeline)
	requireDecimal(t, "40", timeline[0].Points)

	progress, err = svc.ProgressCounts(ctx, progressReq)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"learning": 3, "engagement": 2}, progress.ByCategory)
	var sum int64
	for _, n := range progress.ByCategory {
		sum += n
	}
	require.Equal(t, progress.Total, sum)

	events, err = svc.RecentEvents(ctx, eventsReq)
	require.NoError(t, err)
	require.Equal(t, "e1", events[0].ID)
	require.Equal(t, "x", events[0].Data["meta"].(map[string]interface{})["tags"].([]interface{})[0])
}

func TestService_InvalidateScopeDuringInFlightCompute(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	exec := insightsmocks.NewExecutor(t)
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(context.Context, string, pipeline.Pipeline) ([]executor.Row, error) {
			close(started)
			<-release
			return []executor.Row{pointsRow("10", "4", "6")}, nil
		}).
		Once()
	exec.EXPECT().
		Execute(mock.Anything, mock.Anything, mock.Anything).
		Return([]executor.Row{pointsRow("20", "5", "15")}, nil).
		Once()

	svc := newTestService(t, exec, nil, nil, Config{})
	ctx := context.Background()
	req := PointsRequest{Target: teamTarget("a")}

	type result struct {
		got PointTotals
		err error
	}
	first := make(chan result, 1)
	go func() {
		got, err := svc.SeasonPoints(ctx, req)
		first <- result{got, err}
	}()
	<-started

	require.Equal(t, 1, svc.InvalidateScope(query.ScopeTeam, "a"))

	// a caller arriving after invalidation triggers a fresh computation
	got, err := svc.SeasonPoints(ctx, req)
	require.NoError(t, err)
	requireDecimal(t, "20", got.Total)

	close(release)
	r := <-first
	require.NoError(t, r.err)
	requireDecimal(t, "10", r.got.Total)

	// the stale result did not overwrite the newer entry
	got, err = svc.SeasonPoints(ctx, req)
	require.NoError(t, err)
	requireDecimal(t, "20", got.Total)
}

func TestService_BackendDeadlineIsNotACallerError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded},
		{name: "wrapped deadline", err: fmt.Errorf("batch 1: %w", context.DeadlineExceeded)},
		{name: "canceled", err: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := insightsmocks.NewExecutor(t)
			exec.EXPECT().
				Execute(mock.Anything, mock.Anything, mock.Anything).
				Return(nil, tt.err).
				Once()

			svc := newTestService(t, exec, nil, nil, Config{})
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			got, err := svc.SeasonPoints(ctx, PointsRequest{Target: teamTarget("a")})
			require.NoError(t, err, "the caller's own context is still alive")
			require.Equal(t, zeroTotals(), got)
		})
	}
}
