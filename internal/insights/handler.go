package insights

import (
	"errors"
	"net/http"
	"strings"
	"time"

	httperr "github.com/aevon-lab/tally/internal/core/errors"
	"github.com/aevon-lab/tally/internal/core/pipeline"
	"github.com/aevon-lab/tally/internal/core/query"
	"github.com/gin-gonic/gin"
)

const (
	defaultSlowQueryLimit = 50
	defaultSlowQuerySince = 24 * time.Hour
	maxSlowQueryLimit     = 500
	idListSeparator       = ","
)

// scopePaths maps the plural URL segment to its scope.
var scopePaths = map[string]query.ScopeKind{
	"teams":     query.ScopeTeam,
	"players":   query.ScopePlayer,
	"companies": query.ScopeCompany,
}

// RegisterRoutes registers all insights API routes on the given router.
// The :id segment accepts a comma-separated id set.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	for path, kind := range scopePaths {
		g := r.Group("/v1/" + path + "/:id")
		g.GET("/points", s.withTarget(kind, s.handlePoints))
		g.GET("/progress", s.withTarget(kind, s.handleProgress))
		g.GET("/timeline", s.withTarget(kind, s.handleTimeline))
		g.GET("/leaderboard", s.withTarget(kind, s.handleLeaderboard))
		g.GET("/events", s.withTarget(kind, s.handleEvents))
		g.GET("/metrics/:rule", s.withTarget(kind, s.handleRuleMetric))
	}
	r.GET("/v1/teams/:id/members", s.HandleMembers)

	r.GET("/v1/diagnostics/cache", s.HandleCacheStats)
	r.GET("/v1/diagnostics/slow-queries", s.HandleSlowQueries)
	r.DELETE("/v1/cache/:scope/:id", s.HandleInvalidateScope)
	r.DELETE("/v1/cache", s.HandleInvalidateAll)
}

type windowQuery struct {
	Start   time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	End     time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	GroupBy string    `form:"group_by"`
	RankBy  string    `form:"rank_by"`
	Limit   int       `form:"limit"`
}

type targetHandler func(c *gin.Context, target Target, params windowQuery)

// withTarget binds the scope ids and the window shared by every scoped route.
func (s *Service) withTarget(kind query.ScopeKind, next targetHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params windowQuery
		if err := c.ShouldBindQuery(&params); err != nil {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidQueryError,
				Message:   "Invalid query parameters",
				Details:   err.Error(),
			})
			return
		}

		next(c, Target{
			Scope: kind,
			IDs:   strings.Split(c.Param("id"), idListSeparator),
			Start: params.Start,
			End:   params.End,
		}, params)
	}
}

func (s *Service) handlePoints(c *gin.Context, target Target, _ windowQuery) {
	resp, err := s.SeasonPoints(c.Request.Context(), PointsRequest{Target: target})
	respond(c, resp, err)
}

func (s *Service) handleProgress(c *gin.Context, target Target, _ windowQuery) {
	resp, err := s.ProgressCounts(c.Request.Context(), ProgressRequest{Target: target})
	respond(c, resp, err)
}

func (s *Service) handleTimeline(c *gin.Context, target Target, params windowQuery) {
	resp, err := s.Timeline(c.Request.Context(), TimelineRequest{
		Target:  target,
		GroupBy: pipeline.Granularity(params.GroupBy),
	})
	respond(c, resp, err)
}

func (s *Service) handleLeaderboard(c *gin.Context, target Target, params windowQuery) {
	resp, err := s.Leaderboard(c.Request.Context(), LeaderboardRequest{
		Target: target,
		RankBy: query.ScopeKind(params.RankBy),
		Limit:  params.Limit,
	})
	respond(c, resp, err)
}

func (s *Service) handleEvents(c *gin.Context, target Target, params windowQuery) {
	resp, err := s.RecentEvents(c.Request.Context(), EventsRequest{Target: target, Limit: params.Limit})
	respond(c, resp, err)
}

func (s *Service) handleRuleMetric(c *gin.Context, target Target, params windowQuery) {
	rule := c.Param("rule")
	values, err := s.RuleMetric(c.Request.Context(), RuleRequest{
		Target:  target,
		Rule:    rule,
		GroupBy: pipeline.Granularity(params.GroupBy),
	})
	respond(c, RuleMetricResponse{Rule: rule, Values: values}, err)
}

// HandleMembers handles GET /v1/teams/:id/members
func (s *Service) HandleMembers(c *gin.Context) {
	resp, err := s.Members(c.Request.Context(), c.Param("id"))
	respond(c, resp, err)
}

// HandleCacheStats handles GET /v1/diagnostics/cache
func (s *Service) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.CacheStats())
}

// HandleSlowQueries handles GET /v1/diagnostics/slow-queries
// Query parameters: since (RFC 3339, default 24h ago), limit
func (s *Service) HandleSlowQueries(c *gin.Context) {
	var params struct {
		Since time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
		Limit int       `form:"limit"`
	}
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}
	if params.Since.IsZero() {
		params.Since = time.Now().Add(-defaultSlowQuerySince)
	}
	if params.Limit <= 0 {
		params.Limit = defaultSlowQueryLimit
	}
	if params.Limit > maxSlowQueryLimit {
		params.Limit = maxSlowQueryLimit
	}

	stats, err := s.SlowQueries(c.Request.Context(), params.Since, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to list slow queries",
			Details:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleInvalidateScope handles DELETE /v1/cache/:scope/:id
// The scope may be given singular (team) or plural (teams).
func (s *Service) HandleInvalidateScope(c *gin.Context) {
	raw := c.Param("scope")
	kind, ok := scopePaths[raw]
	if !ok {
		parsed, err := query.ParseScopeKind(raw)
		if err != nil {
			respond(c, nil, err)
			return
		}
		kind = parsed
	}

	removed := s.InvalidateScope(kind, c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// HandleInvalidateAll handles DELETE /v1/cache
func (s *Service) HandleInvalidateAll(c *gin.Context) {
	s.InvalidateAll()
	c.Status(http.StatusNoContent)
}

func respond(c *gin.Context, body interface{}, err error) {
	if err == nil {
		c.JSON(http.StatusOK, body)
		return
	}

	if errors.Is(err, ErrInvalidQuery) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   "Failed to serve query",
		Details:   err.Error(),
	})
}
