package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/google/uuid"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
)

type botRequest struct {
	Name         string   `json:"name"`
	SystemPrompt string   `json:"system_prompt"`
	ProviderID   string   `json:"provider_id"`
	Mode         string   `json:"mode"`
	Symbols      []string `json:"symbols"`
}

// validateBotRequest checks shape and that every symbol is in the
// global tradable list.
func (s *Server) validateBotRequest(req *botRequest) *validationError {
	ve := &validationError{}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 64 {
		ve.add("name", "must be 1-64 characters")
	}
	if strings.TrimSpace(req.SystemPrompt) == "" {
		ve.add("system_prompt", "is required")
	}
	if req.ProviderID == "" {
		ve.add("provider_id", "is required")
	}
	if req.Mode != string(models.ModePaper) && req.Mode != string(models.ModeReal) {
		ve.add("mode", "must be paper or real")
	}
	allowed := make(map[string]bool)
	for _, sym := range s.settings.Strings(settings.KeyTradingSymbols) {
		allowed[sym] = true
	}
	for _, sym := range req.Symbols {
		if !allowed[sym] {
			ve.add("symbols", "unknown symbol "+sym)
		}
	}
	return ve
}

func (s *Server) handleListBots(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	bots, total, err := s.store.ListBots(scopeOwner(c), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	paginated(c, bots, total, limit, offset, nil)
}

func (s *Server) handleCreateBot(ctx context.Context, c *app.RequestContext) {
	var req botRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	if ve := s.validateBotRequest(&req); !ve.ok() {
		fail(c, ve)
		return
	}

	// The provider must exist and belong to the caller.
	if _, err := s.store.GetProvider(req.ProviderID, callerID(c)); err != nil {
		fail(c, err)
		return
	}

	if active, err := s.store.ListActiveBots(); err == nil {
		if len(active) >= s.settings.Int(settings.KeyMaxBots) {
			ve := &validationError{}
			ve.add("name", "bot limit reached")
			fail(c, ve)
			return
		}
	}

	now := time.Now().UTC()
	bot := &models.Bot{
		ID:           uuid.NewString(),
		UserID:       callerID(c),
		Name:         req.Name,
		SystemPrompt: req.SystemPrompt,
		ProviderID:   req.ProviderID,
		Mode:         models.BotMode(req.Mode),
		Active:       true,
		Symbols:      req.Symbols,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateBot(bot); err != nil {
		fail(c, err)
		return
	}
	if err := s.mgr.StartBot(bot); err != nil {
		s.log.Error().Err(err).Str("bot_id", bot.ID).Msg("failed to start new bot")
	}

	s.audit(c, "bot.created", "bot", bot.ID, map[string]string{"name": bot.Name, "mode": string(bot.Mode)})
	c.JSON(http.StatusCreated, utils.H{"bot": bot})
}

func (s *Server) handleGetBot(ctx context.Context, c *app.RequestContext) {
	bot, err := s.store.GetBot(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"bot": bot})
}

func (s *Server) handleUpdateBot(ctx context.Context, c *app.RequestContext) {
	bot, err := s.store.GetBot(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}

	var req botRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	if ve := s.validateBotRequest(&req); !ve.ok() {
		fail(c, ve)
		return
	}
	if req.ProviderID != bot.ProviderID {
		if _, err := s.store.GetProvider(req.ProviderID, bot.UserID); err != nil {
			fail(c, err)
			return
		}
	}

	bot.Name = req.Name
	bot.SystemPrompt = req.SystemPrompt
	bot.ProviderID = req.ProviderID
	bot.Mode = models.BotMode(req.Mode)
	bot.Symbols = req.Symbols
	bot.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateBot(bot, scopeOwner(c)); err != nil {
		fail(c, err)
		return
	}
	// Hot-reload: the running task picks the new config up without a
	// restart.
	if err := s.mgr.Reload(bot.ID); err != nil {
		s.log.Warn().Err(err).Str("bot_id", bot.ID).Msg("bot updated but not reloaded")
	}

	s.audit(c, "bot.updated", "bot", bot.ID, map[string]string{"name": bot.Name})
	c.JSON(http.StatusOK, utils.H{"bot": bot})
}

func (s *Server) handleDeleteBot(ctx context.Context, c *app.RequestContext) {
	bot, err := s.store.GetBot(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.store.SoftDeleteBot(bot.ID, scopeOwner(c)); err != nil {
		fail(c, err)
		return
	}
	s.mgr.StopBot(bot.ID)
	s.audit(c, "bot.deleted", "bot", bot.ID, map[string]string{"name": bot.Name})
	c.JSON(http.StatusOK, utils.H{"status": "deleted"})
}

func (s *Server) handlePauseBot(ctx context.Context, c *app.RequestContext) {
	bot, err := s.store.GetBot(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	if err := s.mgr.SetPaused(bot.ID, scopeOwner(c), req.Paused); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "bot.paused", "bot", bot.ID, map[string]string{"paused": strconv.FormatBool(req.Paused)})
	c.JSON(http.StatusOK, utils.H{"status": "ok", "paused": req.Paused})
}

func (s *Server) handleResetBot(ctx context.Context, c *app.RequestContext) {
	bot, err := s.store.GetBot(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.mgr.Reset(ctx, bot.ID); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "bot.reset", "bot", bot.ID, nil)
	c.JSON(http.StatusOK, utils.H{"status": "reset"})
}

func (s *Server) handleClearLearning(ctx context.Context, c *app.RequestContext) {
	bot, err := s.store.GetBot(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.store.DeleteHistorySummary(bot.ID, scopeOwner(c)); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "bot.learning_cleared", "bot", bot.ID, nil)
	c.JSON(http.StatusOK, utils.H{"status": "cleared"})
}

func (s *Server) handleSnapshotBot(ctx context.Context, c *app.RequestContext) {
	bot, err := s.store.GetBot(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	sn, err := s.mgr.SnapshotNow(bot.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, utils.H{"snapshot": sn})
}

func (s *Server) handleForceTurn(ctx context.Context, c *app.RequestContext) {
	bot, err := s.store.GetBot(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.mgr.ForceTurn(bot.ID); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "bot.force_turn", "bot", bot.ID, nil)
	c.JSON(http.StatusAccepted, utils.H{"status": "scheduled"})
}

func (s *Server) handleBotTrades(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	trades, total, err := s.store.ListTrades(c.Param("id"), scopeOwner(c), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	paginated(c, trades, total, limit, offset, nil)
}

func (s *Server) handleBotPositions(ctx context.Context, c *app.RequestContext) {
	status := c.DefaultQuery("status", "all")
	switch status {
	case "open", "closed", "all":
	default:
		ve := &validationError{}
		ve.add("status", "must be open, closed or all")
		fail(c, ve)
		return
	}
	limit, offset := pagination(c)
	positions, total, err := s.store.ListPositions(c.Param("id"), scopeOwner(c), status, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	paginated(c, positions, total, limit, offset, utils.H{"status": status})
}

func (s *Server) handleBotDecisions(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	decisions, total, err := s.store.ListDecisions(c.Param("id"), scopeOwner(c), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	paginated(c, decisions, total, limit, offset, nil)
}

func (s *Server) handleBotSummary(ctx context.Context, c *app.RequestContext) {
	summary, err := s.store.GetHistorySummary(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"summary": summary})
}
