// Package cachekey derives deterministic cache keys from query parameters.
//
// Layout: "<scope>:<id1,id2>|<op>|<gte>|<lte>|k1=v1,k2=v2". Scope comes first
// so a scope's entries share a prefix. Ids are deduplicated and sorted, so
// argument order never changes the key.
package cachekey

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aevon-lab/tally/internal/core/pipeline"
)

const (
	sep   = "|"
	idSep = ","
)

// Spec lists everything that folds into one cache entry.
type Spec struct {
	Op        string
	ScopeKind string
	IDs       []string
	Window    *pipeline.DateFilter // nil for operations without a time window
	Params    map[string]string
}

// NormalizeIDs returns the ids trimmed, deduplicated and sorted. Empty ids are dropped.
func NormalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func scopeSegment(kind string, ids []string) string {
	escaped := make([]string, 0, len(ids))
	for _, id := range NormalizeIDs(ids) {
		escaped = append(escaped, url.QueryEscape(id))
	}
	return kind + ":" + strings.Join(escaped, idSep)
}

// Build renders the key for s.
func Build(s Spec) string {
	var b strings.Builder
	b.WriteString(scopeSegment(s.ScopeKind, s.IDs))
	b.WriteString(sep)
	b.WriteString(s.Op)

	if s.Window != nil {
		b.WriteString(sep)
		b.WriteString(s.Window.Gte.UTC().Format(time.RFC3339Nano))
		b.WriteString(sep)
		b.WriteString(s.Window.Lte.UTC().Format(time.RFC3339Nano))
	}

	if len(s.Params) > 0 {
		keys := make([]string, 0, len(s.Params))
		for k := range s.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(s.Params[k]))
		}
		b.WriteString(sep)
		b.WriteString(strings.Join(pairs, idSep))
	}
	return b.String()
}

// ScopePrefix is the prefix shared by every key built for exactly this scope.
func ScopePrefix(kind string, ids ...string) string {
	return scopeSegment(kind, ids) + sep
}

// Mentions reports whether key was built for a scope of the given kind whose
// id set contains id. It matches id-set keys that ScopePrefix would miss.
func Mentions(key, kind, id string) bool {
	scope, _, ok := strings.Cut(key, sep)
	if !ok {
		return false
	}
	k, ids, ok := strings.Cut(scope, ":")
	if !ok || k != kind {
		return false
	}
	want := url.QueryEscape(strings.TrimSpace(id))
	for _, got := range strings.Split(ids, idSep) {
		if got == want {
			return true
		}
	}
	return false
}
