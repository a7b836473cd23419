package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
)

func timeRange(c *app.RequestContext) string {
	return c.DefaultQuery("timeRange", "all")
}

func (s *Server) handlePerformance(ctx context.Context, c *app.RequestContext) {
	perf, err := s.analytics.Performance(scopeOwner(c), timeRange(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"performance": perf, "time_range": timeRange(c)})
}

func (s *Server) handleBotPerformance(ctx context.Context, c *app.RequestContext) {
	perf, err := s.analytics.BotPerformance(c.Param("botId"), scopeOwner(c), timeRange(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"performance": perf, "time_range": timeRange(c)})
}

func (s *Server) handleComparison(ctx context.Context, c *app.RequestContext) {
	raw := c.Query("bot_ids")
	if raw == "" {
		ve := &validationError{}
		ve.add("bot_ids", "is required")
		fail(c, ve)
		return
	}
	ids := strings.Split(raw, ",")
	perf, err := s.analytics.Comparison(ids, scopeOwner(c), timeRange(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"comparison": perf, "time_range": timeRange(c)})
}

func (s *Server) handleRiskMetrics(ctx context.Context, c *app.RequestContext) {
	botID := c.Query("bot_id")
	if botID == "" {
		ve := &validationError{}
		ve.add("bot_id", "is required")
		fail(c, ve)
		return
	}
	metrics, err := s.analytics.Risk(botID, scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"risk_metrics": metrics})
}

func (s *Server) handleBestWorst(ctx context.Context, c *app.RequestContext) {
	bw, err := s.analytics.BestWorst(scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bw)
}

func (s *Server) handleBySymbol(ctx context.Context, c *app.RequestContext) {
	stats, err := s.analytics.BySymbol(scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"symbols": stats})
}

func (s *Server) handleAggregateSummary(ctx context.Context, c *app.RequestContext) {
	ov, err := s.analytics.Summary(scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"summary": ov})
}
