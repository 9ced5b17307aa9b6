package aggregation

import (
	"fmt"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseSpan parses a positive span such as "90s", "12h", "30d" or "2w".
// Go duration syntax is accepted; "d" and "w" add days and weeks.
func ParseSpan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("span must not be empty")
	}

	unit := time.Duration(0)
	switch s[len(s)-1] {
	case 'd':
		unit = day
	case 'w':
		unit = 7 * day
	}
	if unit > 0 {
		var n int
		if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &n); err != nil {
			return 0, fmt.Errorf("invalid span %q: %w", s, err)
		}
		if n <= 0 {
			return 0, fmt.Errorf("span must be positive, got %q", s)
		}
		return time.Duration(n) * unit, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid span %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("span must be positive, got %q", s)
	}
	return d, nil
}
