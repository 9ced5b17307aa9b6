package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/aevon-lab/tally/internal/core/aggregation"
)

// ErrInvalidPipeline marks pipelines that violate stage ordering or shape rules.
var ErrInvalidPipeline = errors.New("invalid pipeline")

// Kind identifies a stage variant. The numeric order is also the canonical
// position of the stage inside a pipeline.
type Kind int

const (
	KindMatch Kind = iota
	KindProject
	KindGroup
	KindSort
	KindLimit
)

func (k Kind) String() string {
	switch k {
	case KindMatch:
		return "match"
	case KindProject:
		return "project"
	case KindGroup:
		return "group"
	case KindSort:
		return "sort"
	case KindLimit:
		return "limit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Stage is one step of an aggregation pipeline. The set of implementations is
// closed: Match, Project, Group, Sort and Limit.
type Stage interface {
	Kind() Kind
	encode() doc
}

// Pipeline is an ordered sequence of stages sent to the aggregate endpoint.
type Pipeline []Stage

// Comparator is the operator of a match condition.
type Comparator int

const (
	CompareEq Comparator = iota
	CompareIn
	CompareBetween
)

// Condition is a single field predicate. Conditions inside one Match are
// combined conjunctively.
type Condition struct {
	Field  string
	Op     Comparator
	Value  interface{} // CompareEq
	Values []string    // CompareIn
	Window DateFilter  // CompareBetween
}

// Eq matches documents whose field equals v.
func Eq(field string, v interface{}) Condition {
	return Condition{Field: field, Op: CompareEq, Value: v}
}

// In matches documents whose field is one of values.
func In(field string, values []string) Condition {
	return Condition{Field: field, Op: CompareIn, Values: values}
}

// Between matches documents whose instant field falls inside the closed window.
func Between(field string, w DateFilter) Condition {
	return Condition{Field: field, Op: CompareBetween, Window: w}
}

// Match filters documents before any aggregation happens.
type Match struct {
	Conditions []Condition
}

func (Match) Kind() Kind { return KindMatch }

// Projection is one output field of a Project stage.
type Projection struct {
	Name string
	Expr Expr
}

// Project reshapes documents, typically to derive a day/week bucket key.
type Project struct {
	Fields []Projection
}

func (Project) Kind() Kind { return KindProject }

// GroupKey is the _id of a Group stage. The zero value is invalid; use
// GroupAll, GroupBy or GroupByFields.
type GroupKey struct {
	fields []string
	all    bool
}

// GroupAll collapses every matched document into a single group (_id: null).
func GroupAll() GroupKey { return GroupKey{all: true} }

// GroupBy groups on a single field.
func GroupBy(field string) GroupKey { return GroupKey{fields: []string{field}} }

// GroupByFields groups on a compound key.
func GroupByFields(fields ...string) GroupKey {
	return GroupKey{fields: append([]string(nil), fields...)}
}

// IsZero reports whether no grouping key was chosen.
func (k GroupKey) IsZero() bool { return !k.all && len(k.fields) == 0 }

// Fields returns the grouped field names; empty for GroupAll.
func (k GroupKey) Fields() []string { return append([]string(nil), k.fields...) }

// Accumulator computes one named output value per group. Op is one of the
// aggregation operators (count, sum, min, max). Expr is ignored for count.
type Accumulator struct {
	Name string
	Op   string
	Expr Expr
}

// Group aggregates matched documents by Key.
type Group struct {
	Key          GroupKey
	Accumulators []Accumulator
}

func (Group) Kind() Kind { return KindGroup }

// Direction is the sort order of a Sort stage.
type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// Sort orders the output by a single field.
type Sort struct {
	Field     string
	Direction Direction
}

func (Sort) Kind() Kind { return KindSort }

// Limit caps the number of returned rows. It is always the final stage.
type Limit struct {
	Count int
}

func (Limit) Kind() Kind { return KindLimit }

// Validate checks the ordering and shape invariants of the pipeline:
// Match → Project? → Group? → Sort? → Limit?, groups with a key and at least
// one accumulator, and closed date windows.
func (p Pipeline) Validate() error {
	if len(p) == 0 {
		return invalidf("pipeline has no stages")
	}

	last := KindMatch
	for i, stage := range p {
		if stage == nil {
			return invalidf("stage %d is nil", i)
		}
		kind := stage.Kind()
		if kind < last {
			return invalidf("stage %d (%s) must not follow %s", i, kind, last)
		}
		if kind == KindLimit && i != len(p)-1 {
			return invalidf("limit must be the final stage (found at %d of %d)", i, len(p))
		}
		last = kind

		var err error
		switch s := stage.(type) {
		case Match:
			err = s.validate()
		case Project:
			err = s.validate()
		case Group:
			err = s.validate()
		case Sort:
			if s.Field == "" {
				err = invalidf("sort field is required")
			} else if s.Direction != Ascending && s.Direction != Descending {
				err = invalidf("sort direction must be 1 or -1, got %d", s.Direction)
			}
		case Limit:
			if s.Count <= 0 {
				err = invalidf("limit must be > 0, got %d", s.Count)
			}
		default:
			err = invalidf("unsupported stage type %T", stage)
		}
		if err != nil {
			return fmt.Errorf("stage %d (%s): %w", i, kind, err)
		}
	}
	return nil
}

// RowLimit returns the count of the final Limit stage, or 0 when the
// pipeline is unbounded.
func (p Pipeline) RowLimit() int {
	if len(p) == 0 {
		return 0
	}
	if l, ok := p[len(p)-1].(Limit); ok {
		return l.Count
	}
	return 0
}

// Stages returns how many stages of the given kind the pipeline holds.
func (p Pipeline) Stages(kind Kind) int {
	n := 0
	for _, s := range p {
		if s.Kind() == kind {
			n++
		}
	}
	return n
}

func (m Match) validate() error {
	if len(m.Conditions) == 0 {
		return invalidf("match requires at least one condition")
	}
	seen := make(map[string]struct{}, len(m.Conditions))
	for _, c := range m.Conditions {
		if c.Field == "" {
			return invalidf("match condition field is required")
		}
		if _, dup := seen[c.Field]; dup {
			return invalidf("field %q appears twice in one match", c.Field)
		}
		seen[c.Field] = struct{}{}

		switch c.Op {
		case CompareEq:
		case CompareIn:
			if len(c.Values) == 0 {
				return invalidf("$in on %q requires at least one value", c.Field)
			}
		case CompareBetween:
			if err := c.Window.Validate(); err != nil {
				return err
			}
		default:
			return invalidf("unknown comparator %d on %q", c.Op, c.Field)
		}
	}
	return nil
}

func (p Project) validate() error {
	if len(p.Fields) == 0 {
		return invalidf("project requires at least one field")
	}
	for _, f := range p.Fields {
		if f.Name == "" || f.Expr == nil {
			return invalidf("project field needs a name and an expression")
		}
	}
	return nil
}

func (g Group) validate() error {
	if g.Key.IsZero() {
		return invalidf("group requires an _id key")
	}
	if len(g.Accumulators) == 0 {
		return invalidf("group requires at least one accumulator")
	}
	names := make(map[string]struct{}, len(g.Accumulators))
	for _, acc := range g.Accumulators {
		if acc.Name == "" || acc.Name == "_id" {
			return invalidf("accumulator name %q is not allowed", acc.Name)
		}
		if _, dup := names[acc.Name]; dup {
			return invalidf("duplicate accumulator %q", acc.Name)
		}
		names[acc.Name] = struct{}{}
		if !aggregation.ValidOperator(acc.Op) {
			return invalidf("accumulator %q: unsupported operator %q", acc.Name, acc.Op)
		}
		if acc.Op != aggregation.OpCount && acc.Expr == nil {
			return invalidf("accumulator %q: %s needs an expression", acc.Name, acc.Op)
		}
	}
	return nil
}

// DateFilter is a closed [Gte, Lte] interval of absolute instants.
type DateFilter struct {
	Gte time.Time
	Lte time.Time
}

// ErrInvalidWindow is returned for open-ended or out-of-order windows.
var ErrInvalidWindow = errors.New("invalid date window")

// NewDateFilter builds a closed window. Both bounds are required and end must
// not be before start; bounds are normalized to UTC.
func NewDateFilter(start, end time.Time) (DateFilter, error) {
	w := DateFilter{Gte: start.UTC(), Lte: end.UTC()}
	if err := w.Validate(); err != nil {
		return DateFilter{}, err
	}
	return w, nil
}

// Validate reports whether both bounds are present and ordered.
func (w DateFilter) Validate() error {
	if w.Gte.IsZero() || w.Lte.IsZero() {
		return fmt.Errorf("%w: both bounds are required", ErrInvalidWindow)
	}
	if w.Lte.Before(w.Gte) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidWindow,
			w.Lte.Format(time.RFC3339), w.Gte.Format(time.RFC3339))
	}
	return nil
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidPipeline, fmt.Sprintf(format, args...))
}
