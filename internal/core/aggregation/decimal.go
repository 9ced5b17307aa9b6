package aggregation

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ExtractDecimal pulls a numeric value from a backend row by field name.
// Returns decimal.Zero if the field is missing, empty, or not a recognized numeric type.
// Rows are decoded with json.Decoder.UseNumber, so json.Number is the common path;
// float64 still shows up for rows built in memory.
func ExtractDecimal(row map[string]interface{}, field string) decimal.Decimal {
	if field == "" {
		return decimal.Zero
	}
	v, ok := row[field]
	if !ok {
		return decimal.Zero
	}
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(val)
	case float32:
		return decimal.NewFromFloat(float64(val))
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case int32:
		return decimal.NewFromInt(int64(val))
	case string:
		d, err := decimal.NewFromString(val)
		if err == nil {
			return d
		}
	case decimal.Decimal:
		return val
	}
	return decimal.Zero
}

// ExtractString returns the string value of field, or "" when it is missing or
// not a string. Numeric ids are rendered in their JSON form.
func ExtractString(row map[string]interface{}, field string) string {
	switch val := row[field].(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return ""
	}
}
