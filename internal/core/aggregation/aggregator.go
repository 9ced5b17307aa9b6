package aggregation

import (
	"github.com/shopspring/decimal"
)

// Merger folds a partial aggregate into the running one. The backend can
// return one bucket on several rows, typically across page boundaries, and
// each rule operator defines how those rows collapse into one value.
type Merger func(current, partial decimal.Decimal) decimal.Decimal

var mergers = map[string]Merger{
	// partial counts are summed like partial sums
	OpCount: addPartials,
	OpSum:   addPartials,
	OpMin:   lowerPartial,
	OpMax:   higherPartial,
}

// MergerFor returns the row merger of a rule operator.
func MergerFor(op string) (Merger, bool) {
	m, ok := mergers[op]
	return m, ok
}

// ValidOperator reports whether op is a supported rule operator.
func ValidOperator(op string) bool {
	_, ok := mergers[op]
	return ok
}

func addPartials(current, partial decimal.Decimal) decimal.Decimal {
	return current.Add(partial)
}

func lowerPartial(current, partial decimal.Decimal) decimal.Decimal {
	if partial.LessThan(current) {
		return partial
	}
	return current
}

func higherPartial(current, partial decimal.Decimal) decimal.Decimal {
	if partial.GreaterThan(current) {
		return partial
	}
	return current
}
