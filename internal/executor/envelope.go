package executor

import "log/slog"

// resultField is the envelope key some backend versions wrap rows in.
const resultField = "result"

// normalize extracts rows from a decoded response body. It accepts a bare
// array or an object with a "result" array; anything else is reported as
// not ok and yields zero rows. Non-object array elements are dropped.
func normalize(decoded interface{}) ([]Row, bool) {
	var items []interface{}
	switch v := decoded.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		inner, ok := v[resultField].([]interface{})
		if !ok {
			return []Row{}, false
		}
		items = inner
	default:
		return []Row{}, false
	}

	rows := make([]Row, 0, len(items))
	skipped := 0
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, Row(obj))
	}
	if skipped > 0 {
		slog.Warn("[Executor] Dropped non-object rows", "skipped", skipped, "kept", len(rows))
	}
	return rows, true
}
