package web

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
)

func (s *Server) handleAllSettings(ctx context.Context, c *app.RequestContext) {
	c.JSON(http.StatusOK, utils.H{"settings": s.settings.All()})
}

func (s *Server) handleGetSetting(ctx context.Context, c *app.RequestContext) {
	key := c.Param("key")
	value, err := s.settings.Get(key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"key": key, "value": value})
}

func (s *Server) handleSetSetting(ctx context.Context, c *app.RequestContext) {
	key := c.Param("key")
	var req struct {
		Value string `json:"value"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	if err := s.settings.Set(key, req.Value); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "setting.updated", "setting", key, map[string]string{"value": req.Value})
	c.JSON(http.StatusOK, utils.H{"key": key, "value": req.Value})
}

// handleBulkSettings applies a batch; an invalid key or value rejects
// the whole batch before anything is written.
func (s *Server) handleBulkSettings(ctx context.Context, c *app.RequestContext) {
	var req map[string]string
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	if err := s.settings.SetBulk(req); err != nil {
		fail(c, err)
		return
	}
	for key, value := range req {
		s.audit(c, "setting.updated", "setting", key, map[string]string{"value": value})
	}
	c.JSON(http.StatusOK, utils.H{"settings": s.settings.All()})
}

func (s *Server) handleSettingsMetadata(ctx context.Context, c *app.RequestContext) {
	c.JSON(http.StatusOK, utils.H{"metadata": settings.Metadata()})
}
