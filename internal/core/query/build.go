// Package query turns typed query parameters into aggregation pipelines.
// Builders are pure: the same arguments always produce the same pipeline.
package query

import (
	"errors"
	"fmt"

	"github.com/aevon-lab/tally/internal/core/aggregation"
	"github.com/aevon-lab/tally/internal/core/pipeline"
)

// ErrInvalidQuery marks query parameters that can never produce a valid pipeline.
var ErrInvalidQuery = errors.New("invalid aggregate query")

// Kind selects the pipeline shape.
type Kind string

const (
	KindPoints      Kind = "points"
	KindProgress    Kind = "progress"
	KindTimeline    Kind = "timeline"
	KindLeaderboard Kind = "leaderboard"
	KindEvents      Kind = "events"
	KindRule        Kind = "rule"
)

// Event document fields.
const (
	FieldTeamID    = "teamId"
	FieldPlayerID  = "playerId"
	FieldCompanyID = "companyId"
	FieldCreatedAt = "createdAt"
	FieldStatus    = "status"
	FieldPoints    = "points"
	FieldAction    = "action"

	StatusLocked = "locked"
)

// Output fields of grouped rows.
const (
	OutTotal    = "total"
	OutLocked   = "locked"
	OutUnlocked = "unlocked"
	OutCount    = "count"
	OutPoints   = "points"
	OutValue    = "value"
	OutBucket   = "bucket"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// Options carries the kind-specific parameters.
type Options struct {
	// GroupBy buckets timeline and rule queries by day or week.
	GroupBy pipeline.Granularity
	// GroupField is the leaderboard ranking dimension (playerId or teamId).
	GroupField string
	// Limit caps leaderboard rows, and event rows when positive.
	Limit int
	// Rule is required for KindRule.
	Rule *aggregation.MetricRule
}

// Build produces the pipeline for kind. The scope predicate always opens the
// first Match stage and the window is always closed on both ends.
func Build(kind Kind, scope Scope, window pipeline.DateFilter, opts Options) (pipeline.Pipeline, error) {
	if len(scope.IDs) == 0 {
		return nil, invalidQueryf("scope %q has no ids", scope.Kind)
	}
	if err := window.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	var (
		p   pipeline.Pipeline
		err error
	)
	switch kind {
	case KindPoints:
		p = points(scope, window)
	case KindProgress:
		p = progress(scope, window)
	case KindTimeline:
		p, err = timeline(scope, window, opts.GroupBy)
	case KindLeaderboard:
		p, err = leaderboard(scope, window, opts)
	case KindEvents:
		p = events(scope, window, opts.Limit)
	case KindRule:
		p, err = rule(scope, window, opts)
	default:
		return nil, invalidQueryf("unknown query kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("build %s pipeline: %w", kind, err)
	}
	return p, nil
}

func match(scope Scope, window pipeline.DateFilter, extra ...pipeline.Condition) pipeline.Match {
	conds := make([]pipeline.Condition, 0, 2+len(extra))
	conds = append(conds, scope.Condition(), pipeline.Between(FieldCreatedAt, window))
	conds = append(conds, extra...)
	return pipeline.Match{Conditions: conds}
}

// points sums event points, split by lock status. Anything not locked counts
// as unlocked so the two halves always add up to the total.
func points(scope Scope, window pipeline.DateFilter) pipeline.Pipeline {
	pts := pipeline.Field(FieldPoints)
	zero := pipeline.Literal(0)
	return pipeline.Pipeline{
		match(scope, window),
		pipeline.Group{
			Key: pipeline.GroupAll(),
			Accumulators: []pipeline.Accumulator{
				{Name: OutTotal, Op: aggregation.OpSum, Expr: pts},
				{Name: OutLocked, Op: aggregation.OpSum, Expr: pipeline.CondEq(FieldStatus, StatusLocked, pts, zero)},
				{Name: OutUnlocked, Op: aggregation.OpSum, Expr: pipeline.CondEq(FieldStatus, StatusLocked, zero, pts)},
			},
		},
	}
}

func progress(scope Scope, window pipeline.DateFilter) pipeline.Pipeline {
	return pipeline.Pipeline{
		match(scope, window),
		pipeline.Group{
			Key:          pipeline.GroupBy(FieldAction),
			Accumulators: []pipeline.Accumulator{{Name: OutCount, Op: aggregation.OpCount}},
		},
		pipeline.Sort{Field: "_id", Direction: pipeline.Ascending},
	}
}

func bucketProjection(g pipeline.Granularity) (pipeline.Projection, error) {
	format, ok := g.Format()
	if !ok {
		return pipeline.Projection{}, invalidQueryf("invalid groupBy %q (must be day or week)", g)
	}
	return pipeline.Projection{Name: OutBucket, Expr: pipeline.DateToString(format, FieldCreatedAt)}, nil
}

func timeline(scope Scope, window pipeline.DateFilter, g pipeline.Granularity) (pipeline.Pipeline, error) {
	bucket, err := bucketProjection(g)
	if err != nil {
		return nil, err
	}
	return pipeline.Pipeline{
		match(scope, window),
		pipeline.Project{Fields: []pipeline.Projection{
			bucket,
			{Name: FieldPoints, Expr: pipeline.Include()},
		}},
		pipeline.Group{
			Key: pipeline.GroupBy(OutBucket),
			Accumulators: []pipeline.Accumulator{
				{Name: OutCount, Op: aggregation.OpCount},
				{Name: OutPoints, Op: aggregation.OpSum, Expr: pipeline.Field(FieldPoints)},
			},
		},
		pipeline.Sort{Field: "_id", Direction: pipeline.Ascending},
	}, nil
}

func leaderboard(scope Scope, window pipeline.DateFilter, opts Options) (pipeline.Pipeline, error) {
	field := opts.GroupField
	if field == "" {
		field = FieldPlayerID
	}
	if field != FieldPlayerID && field != FieldTeamID {
		return nil, invalidQueryf("leaderboard cannot rank by %q", field)
	}
	if field == scope.Kind.Field() && len(scope.IDs) == 1 {
		return nil, invalidQueryf("ranking a single %s by %s yields one row", scope.Kind, field)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		return nil, invalidQueryf("limit %d exceeds %d", limit, MaxLeaderboardLimit)
	}

	return pipeline.Pipeline{
		match(scope, window),
		pipeline.Group{
			Key: pipeline.GroupBy(field),
			Accumulators: []pipeline.Accumulator{
				{Name: OutPoints, Op: aggregation.OpSum, Expr: pipeline.Field(FieldPoints)},
				{Name: OutCount, Op: aggregation.OpCount},
			},
		},
		pipeline.Sort{Field: OutPoints, Direction: pipeline.Descending},
		pipeline.Limit{Count: limit},
	}, nil
}

// events lists raw events newest first. A positive limit ends the pipeline
// with a Limit stage so paginated reads stop once it is reached.
func events(scope Scope, window pipeline.DateFilter, limit int) pipeline.Pipeline {
	p := pipeline.Pipeline{
		match(scope, window),
		pipeline.Sort{Field: FieldCreatedAt, Direction: pipeline.Descending},
	}
	if limit > 0 {
		p = append(p, pipeline.Limit{Count: limit})
	}
	return p
}

func rule(scope Scope, window pipeline.DateFilter, opts Options) (pipeline.Pipeline, error) {
	r := opts.Rule
	if r == nil {
		return nil, invalidQueryf("rule query requires a metric rule")
	}
	if !aggregation.ValidOperator(r.Operator) {
		return nil, invalidQueryf("rule %q: unsupported operator %q", r.Name, r.Operator)
	}

	var extra []pipeline.Condition
	switch len(r.Actions) {
	case 0:
	case 1:
		extra = append(extra, pipeline.Eq(FieldAction, r.Actions[0]))
	default:
		extra = append(extra, pipeline.In(FieldAction, r.Actions))
	}

	acc := pipeline.Accumulator{Name: OutValue, Op: r.Operator}
	if r.Operator != aggregation.OpCount {
		acc.Expr = pipeline.Field(r.Field)
	}

	if opts.GroupBy == "" {
		return pipeline.Pipeline{
			match(scope, window, extra...),
			pipeline.Group{Key: pipeline.GroupAll(), Accumulators: []pipeline.Accumulator{acc}},
		}, nil
	}

	bucket, err := bucketProjection(opts.GroupBy)
	if err != nil {
		return nil, err
	}
	fields := []pipeline.Projection{bucket}
	if r.Field != "" && r.Operator != aggregation.OpCount {
		fields = append(fields, pipeline.Projection{Name: r.Field, Expr: pipeline.Include()})
	}
	return pipeline.Pipeline{
		match(scope, window, extra...),
		pipeline.Project{Fields: fields},
		pipeline.Group{Key: pipeline.GroupBy(OutBucket), Accumulators: []pipeline.Accumulator{acc}},
		pipeline.Sort{Field: "_id", Direction: pipeline.Ascending},
	}, nil
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
