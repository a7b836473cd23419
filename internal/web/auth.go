package web

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/vault"
)

// recoveryWords is the pool the one-time recovery phrase draws from.
var recoveryWords = []string{
	"anchor", "basalt", "candle", "delta", "ember", "falcon", "garnet",
	"harbor", "indigo", "juniper", "kestrel", "lantern", "marble",
	"nickel", "orchid", "pebble", "quartz", "raven", "saffron",
	"timber", "umber", "velvet", "willow", "zephyr",
}

const recoveryPhraseLen = 12

// newRecoveryPhrase draws a random word sequence. Shown once at
// registration; only its hash is stored.
func newRecoveryPhrase() (string, error) {
	words := make([]string, recoveryPhraseLen)
	buf := make([]byte, 8*recoveryPhraseLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate recovery phrase: %w", err)
	}
	for i := range words {
		n := binary.BigEndian.Uint64(buf[i*8:])
		words[i] = recoveryWords[n%uint64(len(recoveryWords))]
	}
	return strings.Join(words, "-"), nil
}

func validEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func (s *Server) handleRegister(ctx context.Context, c *app.RequestContext) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}

	ve := &validationError{}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if !validEmail(req.Email) {
		ve.add("email", "must be a valid email address")
	}
	if len(req.Username) < 3 || len(req.Username) > 32 {
		ve.add("username", "must be 3-32 characters")
	}
	if len(req.Password) < 8 {
		ve.add("password", "must be at least 8 characters")
	}
	if !ve.ok() {
		fail(c, ve)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		fail(c, err)
		return
	}
	phrase, err := newRecoveryPhrase()
	if err != nil {
		fail(c, err)
		return
	}
	phraseHash, err := bcrypt.GenerateFromPassword([]byte(phrase), bcrypt.DefaultCost)
	if err != nil {
		fail(c, err)
		return
	}
	salt, err := vault.NewSalt()
	if err != nil {
		fail(c, err)
		return
	}

	// The first account on a fresh install becomes the admin.
	role := models.RoleUser
	if _, total, err := s.store.ListUsers(1, 0); err == nil && total == 0 {
		role = models.RoleAdmin
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		EncSalt:      salt,
		RecoveryHash: string(phraseHash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(user); err != nil {
		fail(c, err)
		return
	}

	access, err := s.issueAccessToken(user)
	if err != nil {
		fail(c, err)
		return
	}
	refresh, err := s.newRefreshToken(user.ID)
	if err != nil {
		fail(c, err)
		return
	}

	s.audit(c, "user.registered", "user", user.ID, map[string]string{"email": user.Email})
	c.JSON(http.StatusCreated, utils.H{
		"user":            user,
		"access_token":    access,
		"refresh_token":   refresh,
		"recovery_phrase": phrase,
	})
}

func (s *Server) handleLogin(ctx context.Context, c *app.RequestContext) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}

	user, err := s.store.GetUserByEmail(strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		// Indistinguishable from a wrong password.
		fail(c, errUnauthorized)
		return
	}
	if !user.Active {
		fail(c, errForbidden)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		fail(c, errUnauthorized)
		return
	}

	access, err := s.issueAccessToken(user)
	if err != nil {
		fail(c, err)
		return
	}
	refresh, err := s.newRefreshToken(user.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{
		"user":          user,
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *Server) handleLogout(ctx context.Context, c *app.RequestContext) {
	if err := s.store.RevokeRefreshTokens(callerID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"status": "logged out"})
}

// handleRefresh rotates the refresh token and issues a new access
// token. A consumed or unknown token is rejected.
func (s *Server) handleRefresh(ctx context.Context, c *app.RequestContext) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}

	userID, err := s.store.ConsumeRefreshToken(hashToken(req.RefreshToken))
	if err != nil {
		fail(c, errUnauthorized)
		return
	}
	user, err := s.store.GetUserByID(userID)
	if err != nil || !user.Active {
		fail(c, errUnauthorized)
		return
	}

	access, err := s.issueAccessToken(user)
	if err != nil {
		fail(c, err)
		return
	}
	refresh, err := s.newRefreshToken(user.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

// handleRecover exchanges the one-time recovery phrase for a
// short-lived password-reset token.
func (s *Server) handleRecover(ctx context.Context, c *app.RequestContext) {
	var req struct {
		Email          string `json:"email"`
		RecoveryPhrase string `json:"recovery_phrase"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}

	user, err := s.store.GetUserByEmail(strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		fail(c, errUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.RecoveryHash), []byte(strings.TrimSpace(req.RecoveryPhrase))) != nil {
		fail(c, errUnauthorized)
		return
	}

	reset, err := s.issueResetToken(user.ID)
	if err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "user.recovery_used", "user", user.ID, nil)
	c.JSON(http.StatusOK, utils.H{"reset_token": reset})
}

func (s *Server) handleResetPassword(ctx context.Context, c *app.RequestContext) {
	var req struct {
		ResetToken  string `json:"reset_token"`
		NewPassword string `json:"new_password"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	if len(req.NewPassword) < 8 {
		ve := &validationError{}
		ve.add("new_password", "must be at least 8 characters")
		fail(c, ve)
		return
	}

	cl, err := s.parseToken(req.ResetToken, tokenTypeReset)
	if err != nil {
		fail(c, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.store.UpdateUserPassword(cl.Subject, string(hash)); err != nil {
		fail(c, err)
		return
	}
	// Old sessions die with the old password.
	if err := s.store.RevokeRefreshTokens(cl.Subject); err != nil {
		s.log.Error().Err(err).Msg("failed to revoke refresh tokens on reset")
	}
	s.audit(c, "user.password_reset", "user", cl.Subject, nil)
	c.JSON(http.StatusOK, utils.H{"status": "password updated"})
}

func (s *Server) handleMe(ctx context.Context, c *app.RequestContext) {
	user, err := s.store.GetUserByID(callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"user": user})
}

func (s *Server) handleUpdateMe(ctx context.Context, c *app.RequestContext) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}

	ve := &validationError{}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if !validEmail(req.Email) {
		ve.add("email", "must be a valid email address")
	}
	if len(req.Username) < 3 || len(req.Username) > 32 {
		ve.add("username", "must be 3-32 characters")
	}
	if !ve.ok() {
		fail(c, ve)
		return
	}

	if err := s.store.UpdateUserProfile(callerID(c), req.Email, req.Username); err != nil {
		fail(c, err)
		return
	}
	user, err := s.store.GetUserByID(callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	s.audit(c, "user.profile_updated", "user", user.ID, nil)
	c.JSON(http.StatusOK, utils.H{"user": user})
}

func (s *Server) handleChangePassword(ctx context.Context, c *app.RequestContext) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	if len(req.NewPassword) < 8 {
		ve := &validationError{}
		ve.add("new_password", "must be at least 8 characters")
		fail(c, ve)
		return
	}

	user, err := s.store.GetUserByID(callerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)) != nil {
		fail(c, errUnauthorized)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.store.UpdateUserPassword(user.ID, string(hash)); err != nil {
		fail(c, err)
		return
	}
	if err := s.store.RevokeRefreshTokens(user.ID); err != nil {
		s.log.Error().Err(err).Msg("failed to revoke refresh tokens on password change")
	}
	s.audit(c, "user.password_changed", "user", user.ID, nil)
	c.JSON(http.StatusOK, utils.H{"status": "password updated"})
}
