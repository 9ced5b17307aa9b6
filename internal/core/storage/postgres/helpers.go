package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aevon-lab/tally/internal/core/storage"
)

// nullableString maps "" to SQL NULL.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanQueryStatRow scans a database row into a QueryStat.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanQueryStatRow(row scanner) (storage.QueryStat, error) {
	var (
		stat       storage.QueryStat
		durationUS int64
		errText    sql.NullString
	)

	err := row.Scan(
		&stat.ID,
		&stat.Collection,
		&stat.StartedAt,
		&durationUS,
		&stat.Rows,
		&stat.Batch,
		&stat.Slow,
		&errText,
	)
	if err != nil {
		return storage.QueryStat{}, fmt.Errorf("failed to scan query stat row: %w", err)
	}

	stat.Duration = time.Duration(durationUS) * time.Microsecond
	stat.StartedAt = stat.StartedAt.UTC()
	stat.Error = errText.String
	return stat, nil
}
