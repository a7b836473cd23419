package web

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/leaderboard"
)

var validPeriods = map[string]bool{
	"daily": true, "weekly": true, "monthly": true, "all-time": true,
}

// handleLeaderboardPeriod is public: spectators browse rankings
// without an account.
func (s *Server) handleLeaderboardPeriod(ctx context.Context, c *app.RequestContext) {
	period := c.Param("period")
	if !validPeriods[period] {
		ve := &validationError{}
		ve.add("period", "must be daily, weekly, monthly or all-time")
		fail(c, ve)
		return
	}
	limit, offset := pagination(c)
	entries, total, err := s.store.GetLeaderboard(period, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	paginated(c, entries, total, limit, offset, utils.H{"period": period})
}

// handleLeaderboardStats reports per-period totals and top entry.
func (s *Server) handleLeaderboardStats(ctx context.Context, c *app.RequestContext) {
	stats := utils.H{}
	for _, period := range leaderboard.Periods {
		entries, total, err := s.store.GetLeaderboard(period, 1, 0)
		if err != nil {
			fail(c, err)
			return
		}
		p := utils.H{"ranked_bots": total}
		if len(entries) > 0 {
			p["leader"] = entries[0]
			p["computed_at"] = entries[0].ComputedAt
		}
		stats[period] = p
	}
	c.JSON(http.StatusOK, utils.H{"stats": stats})
}

func (s *Server) handleLeaderboardUser(ctx context.Context, c *app.RequestContext) {
	entries, err := s.store.LeaderboardForUser(c.Param("userId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"entries": entries})
}

// handleLeaderboardBotHistory serves the bot's wealth series for
// charting.
func (s *Server) handleLeaderboardBotHistory(ctx context.Context, c *app.RequestContext) {
	snaps, err := s.store.GetBotSnapshots(c.Param("botId"), time.Time{}, time.Now().UTC(), "")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"history": snaps})
}

func (s *Server) handleLeaderboardUpdate(ctx context.Context, c *app.RequestContext) {
	s.lb.ForceUpdate()
	s.audit(c, "leaderboard.forced", "leaderboard", "all", nil)
	c.JSON(http.StatusAccepted, utils.H{"status": "scheduled"})
}
