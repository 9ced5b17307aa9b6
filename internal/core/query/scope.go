package query

import (
	"fmt"

	"github.com/aevon-lab/tally/internal/core/cachekey"
	"github.com/aevon-lab/tally/internal/core/pipeline"
)

// ScopeKind is the dimension a query is restricted to.
type ScopeKind string

const (
	ScopeTeam    ScopeKind = "team"
	ScopePlayer  ScopeKind = "player"
	ScopeCompany ScopeKind = "company"
)

// ParseScopeKind accepts the scope names used in URLs and config.
func ParseScopeKind(s string) (ScopeKind, error) {
	switch k := ScopeKind(s); k {
	case ScopeTeam, ScopePlayer, ScopeCompany:
		return k, nil
	default:
		return "", invalidQueryf("unknown scope %q (want team, player or company)", s)
	}
}

// Field is the event document field that carries the scope id.
func (k ScopeKind) Field() string {
	switch k {
	case ScopePlayer:
		return FieldPlayerID
	case ScopeCompany:
		return FieldCompanyID
	default:
		return FieldTeamID
	}
}

// Scope is a scope kind plus a normalized, non-empty id set.
type Scope struct {
	Kind ScopeKind
	IDs  []string
}

// NewScope normalizes ids (trimmed, deduplicated, sorted) so that the same
// logical id set always yields the same pipeline and cache key.
func NewScope(kind ScopeKind, ids ...string) (Scope, error) {
	if _, err := ParseScopeKind(string(kind)); err != nil {
		return Scope{}, err
	}
	norm := cachekey.NormalizeIDs(ids)
	if len(norm) == 0 {
		return Scope{}, invalidQueryf("%s scope requires at least one id", kind)
	}
	return Scope{Kind: kind, IDs: norm}, nil
}

// Condition is the scope predicate: equality for one id, membership otherwise.
func (s Scope) Condition() pipeline.Condition {
	if len(s.IDs) == 1 {
		return pipeline.Eq(s.Kind.Field(), s.IDs[0])
	}
	return pipeline.In(s.Kind.Field(), s.IDs)
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%v", s.Kind, s.IDs)
}
