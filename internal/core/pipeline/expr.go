package pipeline

import "strings"

// Expr is a value expression usable in Project fields and accumulators.
type Expr interface {
	value() interface{}
}

type fieldRef string

func (f fieldRef) value() interface{} { return "$" + string(f) }

// Field references a document field ("$name" on the wire).
func Field(name string) Expr { return fieldRef(name) }

type literal struct{ v interface{} }

func (l literal) value() interface{} {
	// strings starting with $ would otherwise be read as field paths
	if s, ok := l.v.(string); ok && strings.HasPrefix(s, "$") {
		return doc{{"$literal", s}}
	}
	return l.v
}

// Literal is a constant value.
func Literal(v interface{}) Expr { return literal{v: v} }

// Include keeps a field unchanged in a Project stage.
func Include() Expr { return literal{v: 1} }

type condEq struct {
	field     string
	match     interface{}
	then, els Expr
}

func (c condEq) value() interface{} {
	return doc{{"$cond", []interface{}{
		doc{{"$eq", []interface{}{"$" + c.field, c.match}}},
		c.then.value(),
		c.els.value(),
	}}}
}

// CondEq evaluates to then when field equals match, otherwise to els.
func CondEq(field string, match interface{}, then, els Expr) Expr {
	return condEq{field: field, match: match, then: then, els: els}
}

// Granularity is the bucket size of a timeline projection.
type Granularity string

const (
	Day  Granularity = "day"
	Week Granularity = "week"
)

// Format returns the date format token the backend uses for the bucket key.
func (g Granularity) Format() (string, bool) {
	switch g {
	case Day:
		return "%Y-%m-%d", true
	case Week:
		return "%Y-%U", true
	default:
		return "", false
	}
}

type dateToString struct {
	format string
	field  string
}

func (d dateToString) value() interface{} {
	return doc{{"$dateToString", doc{
		{"format", d.format},
		{"date", "$" + d.field},
	}}}
}

// DateToString renders an instant field as a string using a backend format token.
func DateToString(format, field string) Expr {
	return dateToString{format: format, field: field}
}
