package postgres

// SQL queries used by the PostgreSQL adapter.
// Centralized here for reuse between implementation and tests.
const (
	// querySaveQueryStat is idempotent on the request id.
	querySaveQueryStat = `
		INSERT INTO query_stats (
			id, collection, started_at, duration_us, row_count, batch, slow, error
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (id) DO NOTHING
	`

	queryListSlowQueries = `
		SELECT id, collection, started_at, duration_us, row_count, batch, slow, error
		FROM query_stats
		WHERE slow AND started_at >= $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	queryDeleteQueryStatsBefore = `DELETE FROM query_stats WHERE started_at < $1`
)
