package insights

import (
	"maps"
	"time"

	"github.com/aevon-lab/tally/internal/core/pipeline"
	"github.com/aevon-lab/tally/internal/core/query"
	"github.com/shopspring/decimal"
)

// Target names the scope and window most operations are restricted to.
type Target struct {
	Scope query.ScopeKind
	IDs   []string
	Start time.Time
	End   time.Time
}

// PointsRequest selects season points for a scope.
type PointsRequest struct {
	Target
}

// ProgressRequest selects per-category action counts for a scope.
type ProgressRequest struct {
	Target
}

// TimelineRequest selects bucketed activity for a scope.
type TimelineRequest struct {
	Target
	GroupBy pipeline.Granularity // day or week
}

// LeaderboardRequest ranks players or teams inside a scope.
type LeaderboardRequest struct {
	Target
	RankBy query.ScopeKind // player (default) or team
	Limit  int
}

// EventsRequest lists raw events, newest first.
type EventsRequest struct {
	Target
	Limit int
}

// RuleRequest evaluates a configured metric rule.
type RuleRequest struct {
	Target
	Rule    string
	GroupBy pipeline.Granularity // optional
}

// PointTotals splits a scope's points by lock status.
// Total always equals Locked + Unlocked.
type PointTotals struct {
	Total    decimal.Decimal `json:"total"`
	Locked   decimal.Decimal `json:"bloqueados"`
	Unlocked decimal.Decimal `json:"desbloqueados"`
}

// ProgressCounts counts actions per category. Total equals the sum of ByCategory.
type ProgressCounts struct {
	Total      int64            `json:"total"`
	ByCategory map[string]int64 `json:"by_category"`
}

func (p ProgressCounts) clone() ProgressCounts {
	p.ByCategory = maps.Clone(p.ByCategory)
	return p
}

// TimelineBucket is one day or week of activity.
type TimelineBucket struct {
	Bucket string          `json:"bucket"`
	Count  int64           `json:"count"`
	Points decimal.Decimal `json:"points"`
}

// Standing is one leaderboard row.
type Standing struct {
	Rank   int             `json:"rank"`
	ID     string          `json:"id"`
	Points decimal.Decimal `json:"points"`
	Count  int64           `json:"count"`
}

// Member is one entry of a team document's member list.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// MetricValue is one rule result. Bucket is empty for ungrouped rules.
type MetricValue struct {
	Bucket string          `json:"bucket,omitempty"`
	Value  decimal.Decimal `json:"value"`
}

// RuleMetricResponse is the API body of a rule evaluation.
type RuleMetricResponse struct {
	Rule   string        `json:"rule"`
	Values []MetricValue `json:"values"`
}

// teamDocument is the doc store shape of a team.
type teamDocument struct {
	Name    string   `json:"name"`
	Members []Member `json:"members"`
}
