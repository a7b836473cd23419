package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/analytics"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/config"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/leaderboard"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/llm"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/manager"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/settings"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/storage"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/tokens"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/vault"
)

// Server is the authenticated HTTP API.
type Server struct {
	cfg       *config.Config
	store     *storage.Store
	settings  *settings.Registry
	vault     *vault.Vault
	mgr       *manager.Manager
	lb        *leaderboard.Service
	analytics *analytics.Service
	tracker   *tokens.Tracker
	caller    llm.Caller
	log       zerolog.Logger

	hertz *server.Hertz
}

func NewServer(
	cfg *config.Config,
	store *storage.Store,
	reg *settings.Registry,
	v *vault.Vault,
	mgr *manager.Manager,
	lb *leaderboard.Service,
	an *analytics.Service,
	tracker *tokens.Tracker,
	caller llm.Caller,
	log zerolog.Logger,
) *Server {
	h := server.New(server.WithHostPorts(fmt.Sprintf(":%d", cfg.HTTPPort)))

	s := &Server{
		cfg:       cfg,
		store:     store,
		settings:  reg,
		vault:     v,
		mgr:       mgr,
		lb:        lb,
		analytics: an,
		tracker:   tracker,
		caller:    caller,
		log:       log,
		hertz:     h,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	h := s.hertz

	h.GET("/health", s.handleHealth)

	auth := h.Group("/auth")
	auth.POST("/register", s.handleRegister)
	auth.POST("/login", s.handleLogin)
	auth.POST("/refresh", s.handleRefresh)
	auth.POST("/recover", s.handleRecover)
	auth.POST("/reset-password", s.handleResetPassword)
	auth.POST("/logout", s.authRequired(), s.handleLogout)
	auth.GET("/me", s.authRequired(), s.handleMe)
	auth.PUT("/me", s.authRequired(), s.handleUpdateMe)
	auth.PUT("/password", s.authRequired(), s.handleChangePassword)

	bots := h.Group("/bots", s.authRequired())
	bots.GET("", s.handleListBots)
	bots.POST("", s.handleCreateBot)
	bots.GET("/:id", s.handleGetBot)
	bots.PUT("/:id", s.handleUpdateBot)
	bots.DELETE("/:id", s.handleDeleteBot)
	bots.POST("/:id/pause", s.handlePauseBot)
	bots.POST("/:id/reset", s.handleResetBot)
	bots.POST("/:id/clear-learning", s.handleClearLearning)
	bots.POST("/:id/snapshot", s.handleSnapshotBot)
	bots.POST("/:id/force-turn", s.handleForceTurn)
	bots.GET("/:id/trades", s.handleBotTrades)
	bots.GET("/:id/positions", s.handleBotPositions)
	bots.GET("/:id/decisions", s.handleBotDecisions)
	bots.GET("/:id/history-summary", s.handleBotSummary)

	providers := h.Group("/providers", s.authRequired())
	providers.GET("", s.handleListProviders)
	providers.POST("", s.handleCreateProvider)
	providers.GET("/:id", s.handleGetProvider)
	providers.PUT("/:id", s.handleUpdateProvider)
	providers.DELETE("/:id", s.handleDeleteProvider)
	providers.POST("/:id/test", s.handleTestProvider)

	wallets := h.Group("/wallets", s.authRequired())
	wallets.GET("", s.handleListWallets)
	wallets.POST("", s.handleCreateWallet)
	wallets.GET("/:id", s.handleGetWallet)
	wallets.PUT("/:id", s.handleUpdateWallet)
	wallets.DELETE("/:id", s.handleDeleteWallet)

	cfg := h.Group("/settings", s.authRequired())
	cfg.GET("", s.handleAllSettings)
	cfg.GET("/metadata", s.adminOnly(), s.handleSettingsMetadata)
	cfg.GET("/:key", s.handleGetSetting)
	cfg.PUT("/:key", s.adminOnly(), s.handleSetSetting)
	cfg.POST("", s.adminOnly(), s.handleBulkSettings)

	an := h.Group("/analytics", s.authRequired())
	an.GET("/performance", s.handlePerformance)
	an.GET("/performance/:botId", s.handleBotPerformance)
	an.GET("/comparison", s.handleComparison)
	an.GET("/risk-metrics", s.handleRiskMetrics)
	an.GET("/aggregate/best-worst", s.handleBestWorst)
	an.GET("/aggregate/by-symbol", s.handleBySymbol)
	an.GET("/aggregate/summary", s.handleAggregateSummary)

	lb := h.Group("/leaderboard")
	lb.GET("/stats", s.handleLeaderboardStats)
	lb.GET("/user/:userId", s.authRequired(), s.handleLeaderboardUser)
	lb.GET("/bot/:botId/history", s.authRequired(), s.handleLeaderboardBotHistory)
	lb.POST("/update", s.authRequired(), s.adminOnly(), s.handleLeaderboardUpdate)
	lb.GET("/:period", s.handleLeaderboardPeriod)

	admin := h.Group("/admin", s.authRequired(), s.adminOnly())
	admin.GET("/users", s.handleAdminUsers)
	admin.PUT("/users/:id/role", s.handleAdminUserRole)
	admin.PUT("/users/:id/status", s.handleAdminUserStatus)
	admin.DELETE("/users/:id", s.handleAdminDeleteUser)
	admin.GET("/stats", s.handleAdminStats)
	admin.GET("/audit-log", s.handleAdminAuditLog)
	admin.GET("/bots", s.handleAdminBots)
	admin.PUT("/providers/:id/pricing", s.handleAdminProviderPricing)
	admin.GET("/orphaned-bots", s.handleAdminOrphanedBots)
	admin.DELETE("/orphaned-bots", s.handleAdminDeleteOrphanedBots)
}

func (s *Server) handleHealth(ctx context.Context, c *app.RequestContext) {
	c.JSON(http.StatusOK, utils.H{"status": "ok", "time": time.Now().UTC()})
}

// audit records one mutation. Failures are logged, never surfaced.
func (s *Server) audit(c *app.RequestContext, event, entityKind, entityID string, details map[string]string) {
	entry := &models.AuditEntry{
		ID:         uuid.NewString(),
		Event:      event,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    callerID(c),
		Details:    details,
		IP:         c.ClientIP(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.InsertAudit(entry); err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("failed to write audit entry")
	}
}

// Run serves until the process is told to stop.
func (s *Server) Run() error {
	s.log.Info().Int("port", s.cfg.HTTPPort).Msg("http api listening")
	return s.hertz.Run()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.hertz.Shutdown(ctx)
}
