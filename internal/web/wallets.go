package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/google/uuid"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

type walletRequest struct {
	BotID     string `json:"bot_id"`
	Exchange  string `json:"exchange"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Address   string `json:"address"`
	Active    *bool  `json:"active"`
}

func (s *Server) handleListWallets(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	botID := c.Query("bot_id")
	wallets, total, err := s.store.ListWallets(scopeOwner(c), botID, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	paginated(c, wallets, total, limit, offset, utils.H{"bot_id": botID})
}

func (s *Server) handleCreateWallet(ctx context.Context, c *app.RequestContext) {
	var req walletRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}

	ve := &validationError{}
	req.Exchange = strings.ToLower(strings.TrimSpace(req.Exchange))
	if req.BotID == "" {
		ve.add("bot_id", "is required")
	}
	if req.Exchange == "" {
		ve.add("exchange", "is required")
	}
	if req.APIKey == "" {
		ve.add("api_key", "is required")
	}
	if req.APISecret == "" {
		ve.add("api_secret", "is required")
	}
	if !ve.ok() {
		fail(c, ve)
		return
	}

	// The wallet's bot must belong to the caller.
	if _, err := s.store.GetBot(req.BotID, callerID(c)); err != nil {
		fail(c, err)
		return
	}
	user, err := s.store.GetUserByID(callerID(c))
	if err != nil {
		fail(c, err)
		return
	}

	keyEnc, err := s.vault.Encrypt(req.APIKey, user.ID, user.EncSalt)
	if err != nil {
		fail(c, err)
		return
	}
	secretEnc, err := s.vault.Encrypt(req.APISecret, user.ID, user.EncSalt)
	if err != nil {
		fail(c, err)
		return
	}

	now := time.Now().UTC()
	w := &models.Wallet{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		BotID:        req.BotID,
		Exchange:     req.Exchange,
		APIKeyEnc:    keyEnc,
		APISecretEnc: secretEnc,
		Address:      strings.TrimSpace(req.Address),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateWallet(w); err != nil {
		fail(c, err)
		return
	}

	s.audit(c, "wallet.created", "wallet", w.ID, map[string]string{"exchange": w.Exchange, "bot_id": w.BotID})
	c.JSON(http.StatusCreated, utils.H{"wallet": w})
}

func (s *Server) handleGetWallet(ctx context.Context, c *app.RequestContext) {
	w, err := s.store.GetWallet(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"wallet": w})
}

func (s *Server) handleUpdateWallet(ctx context.Context, c *app.RequestContext) {
	w, err := s.store.GetWallet(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}

	var req walletRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}

	if req.Exchange != "" {
		w.Exchange = strings.ToLower(strings.TrimSpace(req.Exchange))
	}
	if req.Address != "" {
		w.Address = strings.TrimSpace(req.Address)
	}
	if req.Active != nil {
		w.Active = *req.Active
	}
	// Credentials rotate together or not at all.
	if req.APIKey != "" || req.APISecret != "" {
		if req.APIKey == "" || req.APISecret == "" {
			ve := &validationError{}
			ve.add("api_key", "key and secret must be rotated together")
			fail(c, ve)
			return
		}
		user, err := s.store.GetUserByID(w.UserID)
		if err != nil {
			fail(c, err)
			return
		}
		w.APIKeyEnc, err = s.vault.Encrypt(req.APIKey, user.ID, user.EncSalt)
		if err != nil {
			fail(c, err)
			return
		}
		w.APISecretEnc, err = s.vault.Encrypt(req.APISecret, user.ID, user.EncSalt)
		if err != nil {
			fail(c, err)
			return
		}
	}
	w.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateWallet(w, scopeOwner(c)); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "wallet.updated", "wallet", w.ID, map[string]string{"exchange": w.Exchange})
	c.JSON(http.StatusOK, utils.H{"wallet": w})
}

func (s *Server) handleDeleteWallet(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := s.store.DeleteWallet(id, scopeOwner(c)); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "wallet.deleted", "wallet", id, nil)
	c.JSON(http.StatusOK, utils.H{"status": "deleted"})
}
