package metrics

// Metric names
const (
	MetricNameHTTPRequestsTotal    = "http_requests_total"
	MetricNameHTTPRequestDuration  = "http_request_duration_seconds"
	MetricNameHTTPRequestsInFlight = "http_requests_in_flight"

	MetricNameBackendQueriesTotal  = "backend_queries_total"
	MetricNameBackendQueryDuration = "backend_query_duration_seconds"
	MetricNameBackendQueryRows     = "backend_query_rows"
	MetricNameBackendSlowQueries   = "backend_slow_queries_total"

	MetricNameCacheEntries       = "cache_entries"
	MetricNameCacheHits          = "cache_hits_total"
	MetricNameCacheMisses        = "cache_misses_total"
	MetricNameCacheExpired       = "cache_expired_total"
	MetricNameCacheInvalidations = "cache_invalidations_total"
)

// Help texts
const (
	HelpTextHTTPRequestsTotal    = "Total number of HTTP requests"
	HelpTextHTTPRequestDuration  = "HTTP request latency in seconds"
	HelpTextHTTPRequestsInFlight = "Number of HTTP requests currently being served"

	HelpTextBackendQueriesTotal  = "Total number of aggregate calls sent to the backend"
	HelpTextBackendQueryDuration = "Backend aggregate call latency in seconds"
	HelpTextBackendQueryRows     = "Rows returned per backend aggregate call"
	HelpTextBackendSlowQueries   = "Backend aggregate calls above the slow-query threshold"

	HelpTextCacheEntries       = "Entries currently held by the request cache"
	HelpTextCacheHits          = "Request cache lookups served from an existing entry"
	HelpTextCacheMisses        = "Request cache lookups that started a computation"
	HelpTextCacheExpired       = "Request cache entries dropped after their TTL"
	HelpTextCacheInvalidations = "Request cache entries removed by invalidation"
)

// Labels
const (
	LabelMethod     = "method"
	LabelPath       = "path"
	LabelStatus     = "status"
	LabelCollection = "collection"
	LabelOutcome    = "outcome"

	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Namespace prefixes every metric of this service.
const Namespace = "tally"

var (
	HTTPLatencyBuckets    = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}
	BackendLatencyBuckets = []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30}
	RowCountBuckets       = []float64{0, 1, 10, 100, 1000, 10000}
)
