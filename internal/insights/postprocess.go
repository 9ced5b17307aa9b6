package insights

import (
	"log/slog"

	v1 "github.com/aevon-lab/tally/internal/api/v1"
	"github.com/aevon-lab/tally/internal/core/aggregation"
	"github.com/aevon-lab/tally/internal/core/query"
	"github.com/aevon-lab/tally/internal/executor"
	"github.com/shopspring/decimal"
)

const groupIDField = "_id"

func zeroTotals() PointTotals {
	return PointTotals{Total: decimal.Zero, Locked: decimal.Zero, Unlocked: decimal.Zero}
}

func emptyProgress() ProgressCounts {
	return ProgressCounts{ByCategory: map[string]int64{}}
}

// sumPoints folds grouped rows into totals. Total is always recomputed as
// Locked + Unlocked; a differing backend total is only logged.
func sumPoints(rows []executor.Row) PointTotals {
	out := zeroTotals()
	reported := decimal.Zero
	for _, row := range rows {
		out.Locked = out.Locked.Add(aggregation.ExtractDecimal(row, query.OutLocked))
		out.Unlocked = out.Unlocked.Add(aggregation.ExtractDecimal(row, query.OutUnlocked))
		reported = reported.Add(aggregation.ExtractDecimal(row, query.OutTotal))
	}
	out.Total = out.Locked.Add(out.Unlocked)

	if len(rows) > 0 && !reported.Equal(out.Total) {
		slog.Warn("[Insights] Backend total differs from locked + unlocked",
			"reported", reported.String(),
			"computed", out.Total.String(),
		)
	}
	return out
}

// classify maps per-action counts onto categories; unclassified actions
// count as CategoryOther.
func classify(rows []executor.Row, classification map[string]string) ProgressCounts {
	out := emptyProgress()
	for _, row := range rows {
		n := aggregation.ExtractDecimal(row, query.OutCount).IntPart()
		if n == 0 {
			continue
		}
		category, ok := classification[aggregation.ExtractString(row, groupIDField)]
		if !ok || category == "" {
			category = CategoryOther
		}
		out.ByCategory[category] += n
		out.Total += n
	}
	return out
}

func timelineBuckets(rows []executor.Row) []TimelineBucket {
	out := make([]TimelineBucket, 0, len(rows))
	for _, row := range rows {
		bucket := aggregation.ExtractString(row, groupIDField)
		if bucket == "" {
			continue
		}
		out = append(out, TimelineBucket{
			Bucket: bucket,
			Count:  aggregation.ExtractDecimal(row, query.OutCount).IntPart(),
			Points: aggregation.ExtractDecimal(row, query.OutPoints),
		})
	}
	return out
}

func standings(rows []executor.Row) []Standing {
	out := make([]Standing, 0, len(rows))
	for _, row := range rows {
		id := aggregation.ExtractString(row, groupIDField)
		if id == "" {
			continue
		}
		out = append(out, Standing{
			Rank:   len(out) + 1,
			ID:     id,
			Points: aggregation.ExtractDecimal(row, query.OutPoints),
			Count:  aggregation.ExtractDecimal(row, query.OutCount).IntPart(),
		})
	}
	return out
}

// toEvents converts rows to events, skipping malformed rows, and keeps at
// most limit of them.
func toEvents(rows []executor.Row, limit int) []v1.Event {
	out := make([]v1.Event, 0, min(len(rows), limit))
	skipped := 0
	for _, row := range rows {
		if len(out) == limit {
			break
		}
		e, err := v1.EventFromRow(row)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, e)
	}
	if skipped > 0 {
		slog.Warn("[Insights] Skipped malformed events", "skipped", skipped, "kept", len(out))
	}
	return out
}

// metricValues converts rule rows to values. Rows repeating a bucket are
// folded with the rule operator's merge.
func metricValues(rows []executor.Row, bucketed bool, op string) []MetricValue {
	merge, ok := aggregation.MergerFor(op)
	if !ok {
		merge, _ = aggregation.MergerFor(aggregation.OpSum)
	}

	out := make([]MetricValue, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		v := MetricValue{Value: aggregation.ExtractDecimal(row, query.OutValue)}
		if !bucketed {
			out = append(out, v)
			continue
		}
		v.Bucket = aggregation.ExtractString(row, groupIDField)
		if v.Bucket == "" {
			continue
		}
		if i, seen := index[v.Bucket]; seen {
			out[i].Value = merge(out[i].Value, v.Value)
			continue
		}
		index[v.Bucket] = len(out)
		out = append(out, v)
	}
	return out
}
