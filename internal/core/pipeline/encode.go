package pipeline

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/aevon-lab/tally/internal/core/aggregation"
)

// DateKey is the single field of the wrapper object instants are sent in.
const DateKey = "$date"

// isoLayout matches the millisecond UTC form the backend stores ("...T23:59:59.000Z").
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatInstant renders t in the backend's ISO-8601 form.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// field/doc give us JSON objects with a stable key order.
type field struct {
	key   string
	value interface{}
}

type doc []field

func (d doc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func instant(t time.Time) doc {
	return doc{{DateKey, FormatInstant(t)}}
}

// ParseInstant reads an instant from a decoded result row. It accepts the
// {"$date": "..."} wrapper, a bare RFC 3339 string, or epoch milliseconds.
func ParseInstant(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		return ParseInstant(val[DateKey])
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case json.Number:
		ms, err := val.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	case float64:
		return time.UnixMilli(int64(val)).UTC(), true
	default:
		return time.Time{}, false
	}
}

// MarshalJSON encodes the pipeline as the JSON array of single-key stage
// objects the aggregate endpoint expects.
func (p Pipeline) MarshalJSON() ([]byte, error) {
	stages := make([]doc, 0, len(p))
	for _, s := range p {
		stages = append(stages, s.encode())
	}
	return json.Marshal(stages)
}

func (m Match) encode() doc {
	pred := make(doc, 0, len(m.Conditions))
	for _, c := range m.Conditions {
		switch c.Op {
		case CompareIn:
			pred = append(pred, field{c.Field, doc{{"$in", c.Values}}})
		case CompareBetween:
			pred = append(pred, field{c.Field, doc{
				{"$gte", instant(c.Window.Gte)},
				{"$lte", instant(c.Window.Lte)},
			}})
		default:
			pred = append(pred, field{c.Field, c.Value})
		}
	}
	return doc{{"$match", pred}}
}

func (p Project) encode() doc {
	out := make(doc, 0, len(p.Fields))
	for _, f := range p.Fields {
		out = append(out, field{f.Name, f.Expr.value()})
	}
	return doc{{"$project", out}}
}

func (g Group) encode() doc {
	out := make(doc, 0, len(g.Accumulators)+1)
	out = append(out, field{"_id", g.Key.value()})
	for _, acc := range g.Accumulators {
		out = append(out, field{acc.Name, acc.value()})
	}
	return doc{{"$group", out}}
}

func (k GroupKey) value() interface{} {
	switch {
	case k.all:
		return nil
	case len(k.fields) == 1:
		return "$" + k.fields[0]
	default:
		compound := make(doc, 0, len(k.fields))
		for _, f := range k.fields {
			compound = append(compound, field{f, "$" + f})
		}
		return compound
	}
}

func (a Accumulator) value() interface{} {
	switch a.Op {
	case aggregation.OpCount:
		return doc{{"$sum", 1}}
	case aggregation.OpSum:
		return doc{{"$sum", a.Expr.value()}}
	case aggregation.OpMin:
		return doc{{"$min", a.Expr.value()}}
	case aggregation.OpMax:
		return doc{{"$max", a.Expr.value()}}
	default:
		return nil
	}
}

func (s Sort) encode() doc {
	return doc{{"$sort", doc{{s.Field, int(s.Direction)}}}}
}

func (l Limit) encode() doc {
	return doc{{"$limit", l.Count}}
}
