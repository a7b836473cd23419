package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/google/uuid"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/llm"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/tokens"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/vault"
)

const providerTestTimeout = 30 * time.Second

type providerRequest struct {
	Name     string            `json:"name"`
	Variant  string            `json:"variant"`
	Endpoint string            `json:"endpoint"`
	Model    string            `json:"model"`
	APIKey   string            `json:"api_key"`
	Config   map[string]string `json:"config"`
	Active   *bool             `json:"active"`
}

var knownVariants = map[string]bool{
	string(models.VariantOpenAI):    true,
	string(models.VariantAnthropic): true,
	string(models.VariantGemini):    true,
	string(models.VariantGrok):      true,
	string(models.VariantLocal):     true,
	string(models.VariantCustom):    true,
}

func validateProviderRequest(req *providerRequest) *validationError {
	ve := &validationError{}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 64 {
		ve.add("name", "must be 1-64 characters")
	}
	if !knownVariants[req.Variant] {
		ve.add("variant", "unknown provider variant")
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		ve.add("endpoint", "is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		ve.add("model", "is required")
	}
	return ve
}

// redactProvider replaces the stored ciphertext with a display stub.
func redactProvider(p *models.Provider) *models.Provider {
	cp := *p
	if cp.APIKeyEnc != "" {
		cp.APIKeyEnc = vault.Redact(cp.ID)
	}
	return &cp
}

func (s *Server) handleListProviders(ctx context.Context, c *app.RequestContext) {
	limit, offset := pagination(c)
	providers, total, err := s.store.ListProviders(scopeOwner(c), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	if !isAdmin(c) {
		for i, p := range providers {
			providers[i] = redactProvider(p)
		}
	}
	paginated(c, providers, total, limit, offset, nil)
}

func (s *Server) handleCreateProvider(ctx context.Context, c *app.RequestContext) {
	var req providerRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	if ve := validateProviderRequest(&req); !ve.ok() {
		fail(c, ve)
		return
	}

	user, err := s.store.GetUserByID(callerID(c))
	if err != nil {
		fail(c, err)
		return
	}

	enc := ""
	if req.APIKey != "" {
		enc, err = s.vault.Encrypt(req.APIKey, user.ID, user.EncSalt)
		if err != nil {
			fail(c, err)
			return
		}
	}

	now := time.Now().UTC()
	prov := &models.Provider{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Name:      req.Name,
		Variant:   models.ProviderVariant(req.Variant),
		Endpoint:  strings.TrimSpace(req.Endpoint),
		Model:     strings.TrimSpace(req.Model),
		APIKeyEnc: enc,
		Config:    req.Config,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateProvider(prov); err != nil {
		fail(c, err)
		return
	}

	s.audit(c, "provider.created", "provider", prov.ID, map[string]string{"name": prov.Name, "variant": req.Variant})
	c.JSON(http.StatusCreated, utils.H{"provider": redactProvider(prov)})
}

func (s *Server) handleGetProvider(ctx context.Context, c *app.RequestContext) {
	prov, err := s.store.GetProvider(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	if !isAdmin(c) {
		prov = redactProvider(prov)
	}
	c.JSON(http.StatusOK, utils.H{"provider": prov})
}

func (s *Server) handleUpdateProvider(ctx context.Context, c *app.RequestContext) {
	prov, err := s.store.GetProvider(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}

	var req providerRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	if ve := validateProviderRequest(&req); !ve.ok() {
		fail(c, ve)
		return
	}

	prov.Name = req.Name
	prov.Variant = models.ProviderVariant(req.Variant)
	prov.Endpoint = strings.TrimSpace(req.Endpoint)
	prov.Model = strings.TrimSpace(req.Model)
	prov.Config = req.Config
	if req.Active != nil {
		prov.Active = *req.Active
	}
	// An omitted api_key keeps the stored credential.
	if req.APIKey != "" {
		user, err := s.store.GetUserByID(prov.UserID)
		if err != nil {
			fail(c, err)
			return
		}
		enc, err := s.vault.Encrypt(req.APIKey, user.ID, user.EncSalt)
		if err != nil {
			fail(c, err)
			return
		}
		prov.APIKeyEnc = enc
	}
	prov.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateProvider(prov, scopeOwner(c)); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "provider.updated", "provider", prov.ID, map[string]string{"name": prov.Name})
	c.JSON(http.StatusOK, utils.H{"provider": redactProvider(prov)})
}

func (s *Server) handleDeleteProvider(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := s.store.DeleteProvider(id, scopeOwner(c)); err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "provider.deleted", "provider", id, nil)
	c.JSON(http.StatusOK, utils.H{"status": "deleted"})
}

// handleTestProvider fires a minimal prompt at the configured endpoint
// and reports reachability and latency. The call is billed as sandbox
// usage.
func (s *Server) handleTestProvider(ctx context.Context, c *app.RequestContext) {
	prov, err := s.store.GetProvider(c.Param("id"), scopeOwner(c))
	if err != nil {
		fail(c, err)
		return
	}
	user, err := s.store.GetUserByID(prov.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	apiKey := ""
	if prov.APIKeyEnc != "" {
		apiKey, err = s.vault.Decrypt(prov.APIKeyEnc, user.ID, user.EncSalt)
		if err != nil {
			fail(c, err)
			return
		}
	}

	spec := &llm.ProviderSpec{
		Variant:  prov.Variant,
		Endpoint: prov.Endpoint,
		Model:    prov.Model,
		APIKey:   apiKey,
		Config:   prov.Config,
	}

	callCtx, cancel := context.WithTimeout(ctx, providerTestTimeout)
	defer cancel()
	res, callErr := s.caller.Call(callCtx, spec, "Reply with the single word: ok")

	if res != nil {
		ev := tokens.Event{
			UserID:       user.ID,
			ProviderID:   prov.ID,
			Kind:         models.KindSandbox,
			InputTokens:  res.Usage.InputTokens,
			OutputTokens: res.Usage.OutputTokens,
			Model:        prov.Model,
			LatencyMs:    res.LatencyMs,
		}
		if err := s.tracker.Track(ev); err != nil {
			s.log.Warn().Err(err).Msg("failed to record provider test usage")
		}
	}

	s.audit(c, "provider.tested", "provider", prov.ID, nil)
	if callErr != nil {
		c.JSON(http.StatusOK, utils.H{"ok": false, "error": callErr.Error()})
		return
	}
	c.JSON(http.StatusOK, utils.H{
		"ok":         true,
		"latency_ms": res.LatencyMs,
		"response":   res.Text,
	})
}
