package web

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/google/uuid"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

func (s *Server) handleAdminUsers(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	users, total, err := s.store.ListUsers(limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	paginated(c, users, total, limit, offset, nil)
}

func (s *Server) handleAdminUserRole(ctx context.Context, c *app.RequestContext) {
	var req struct {
		Role string `json:"role"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	role := models.Role(req.Role)
	if role != models.RoleUser && role != models.RoleAdmin && role != models.RoleModerator {
		ve := &validationError{}
		ve.add("role", "must be user, moderator or admin")
		fail(c, ve)
		return
	}

	id := c.Param("id")
	if err := s.store.UpdateUserRole(id, role); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "admin.user_role_changed", "user", id, map[string]string{"role": req.Role})
	c.JSON(http.StatusOK, utils.H{"status": "ok", "role": req.Role})
}

func (s *Server) handleAdminUserStatus(ctx context.Context, c *app.RequestContext) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}

	id := c.Param("id")
	if err := s.store.UpdateUserStatus(id, req.Active); err != nil {
		fail(c, err)
		return
	}
	// Deactivation stops the user's bots; reactivation requires the
	// owner to unpause them explicitly.
	if !req.Active {
		if bots, _, err := s.store.ListBots(id, maxLimit, 0); err == nil {
			for _, bot := range bots {
				s.mgr.StopBot(bot.ID)
			}
		}
		if err := s.store.RevokeRefreshTokens(id); err != nil {
			s.log.Error().Err(err).Msg("failed to revoke tokens on deactivation")
		}
	}
	s.audit(c, "admin.user_status_changed", "user", id, map[string]string{"active": strconv.FormatBool(req.Active)})
	c.JSON(http.StatusOK, utils.H{"status": "ok", "active": req.Active})
}

// handleAdminDeleteUser removes the user and everything they own.
func (s *Server) handleAdminDeleteUser(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if id == callerID(c) {
		ve := &validationError{}
		ve.add("id", "cannot delete your own account")
		fail(c, ve)
		return
	}

	if bots, _, err := s.store.ListBots(id, maxLimit, 0); err == nil {
		for _, bot := range bots {
			s.mgr.StopBot(bot.ID)
		}
	}
	if err := s.store.DeleteUserCascade(id); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "admin.user_deleted", "user", id, nil)
	c.JSON(http.StatusOK, utils.H{"status": "deleted"})
}

// handleAdminProviderPricing sets the active billing rates for a provider.
// Rates are minor currency units per million tokens.
func (s *Server) handleAdminProviderPricing(ctx context.Context, c *app.RequestContext) {
	var req struct {
		InputPerMTok  int64   `json:"input_per_mtok"`
		OutputPerMTok int64   `json:"output_per_mtok"`
		MarkupPercent float64 `json:"markup_percent"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	ve := &validationError{}
	if req.InputPerMTok < 0 || req.OutputPerMTok < 0 {
		ve.add("pricing", "rates must not be negative")
	}
	if req.MarkupPercent < 0 || req.MarkupPercent > 100 {
		ve.add("markup_percent", "must be between 0 and 100")
	}
	if !ve.ok() {
		fail(c, ve)
		return
	}

	providerID := c.Param("id")
	if _, err := s.store.GetProvider(providerID, ""); err != nil {
		fail(c, err)
		return
	}
	pricing := &models.ProviderPricing{
		ID:            uuid.NewString(),
		ProviderID:    providerID,
		InputPerMTok:  req.InputPerMTok,
		OutputPerMTok: req.OutputPerMTok,
		MarkupPercent: req.MarkupPercent,
		Active:        true,
	}
	if err := s.store.UpsertPricing(pricing); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "admin.pricing_updated", "provider", providerID, map[string]string{
		"input_per_mtok":  strconv.FormatInt(req.InputPerMTok, 10),
		"output_per_mtok": strconv.FormatInt(req.OutputPerMTok, 10),
	})
	c.JSON(http.StatusOK, pricing)
}

func (s *Server) handleAdminStats(ctx context.Context, c *app.RequestContext) {
	_, userTotal, err := s.store.ListUsers(1, 0)
	if err != nil {
		fail(c, err)
		return
	}
	_, botTotal, err := s.store.ListBots("", 1, 0)
	if err != nil {
		fail(c, err)
		return
	}
	active, err := s.store.ListActiveBots()
	if err != nil {
		fail(c, err)
		return
	}
	orphaned, err := s.store.ListOrphanedBots()
	if err != nil {
		fail(c, err)
		return
	}
	_, auditTotal, err := s.store.ListAudit(1, 0)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, utils.H{
		"users":         userTotal,
		"bots":          botTotal,
		"active_bots":   len(active),
		"orphaned_bots": len(orphaned),
		"audit_entries": auditTotal,
	})
}

func (s *Server) handleAdminAuditLog(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	entries, total, err := s.store.ListAudit(limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	paginated(c, entries, total, limit, offset, nil)
}

func (s *Server) handleAdminBots(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	bots, total, err := s.store.ListBots("", limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	paginated(c, bots, total, limit, offset, nil)
}

func (s *Server) handleAdminOrphanedBots(ctx context.Context, c *app.RequestContext) {
	bots, err := s.store.ListOrphanedBots()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"bots": bots, "count": len(bots)})
}

func (s *Server) handleAdminDeleteOrphanedBots(ctx context.Context, c *app.RequestContext) {
	n, err := s.store.DeleteOrphanedBots()
	if err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "admin.orphaned_bots_deleted", "bot", "orphaned", map[string]string{"count": strconv.Itoa(n)})
	c.JSON(http.StatusOK, utils.H{"deleted": n})
}
