package partition

import "hash/fnv"

// Count is the default number of lock stripes the cache map is split into.
const Count = 64

// For returns the stripe for a cache key in [0, Count).
// Stable and deterministic: the same key always maps to the same stripe.
func For(key string) int {
	return ForN(key, Count)
}

// ForN spreads keys over n stripes using FNV-32a. n <= 1 always yields 0.
func ForN(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
