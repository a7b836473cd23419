package web

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vincitamore/BONERBOTS-OPEN-SOURCE-PUBLIC-v1.0-sub002/internal/models"
)

const (
	tokenTypeAccess = "access"
	tokenTypeReset  = "reset"

	resetTokenTTL = 15 * time.Minute
)

type claims struct {
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// issueAccessToken signs a short-lived access JWT for the user.
func (s *Server) issueAccessToken(u *models.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:      string(u.Role),
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTAccessTTL)),
		},
	})
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// issueResetToken signs a single-purpose password-reset JWT.
func (s *Server) issueResetToken(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		TokenType: tokenTypeReset,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(resetTokenTTL)),
		},
	})
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// parseToken validates the signature and expiry and returns the claims.
func (s *Server) parseToken(raw, wantType string) (*claims, error) {
	token, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, errUnauthorized
	}
	cl, ok := token.Claims.(*claims)
	if !ok || cl.TokenType != wantType {
		return nil, errUnauthorized
	}
	return cl, nil
}

// newRefreshToken mints an opaque refresh token and persists its hash.
func (s *Server) newRefreshToken(userID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	token := hex.EncodeToString(buf)
	expires := time.Now().Add(s.cfg.JWTRefreshTTL)
	if err := s.store.SaveRefreshToken(hashToken(token), userID, expires); err != nil {
		return "", err
	}
	return token, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// authRequired validates the bearer token and stashes the caller's
// identity on the request context.
func (s *Server) authRequired() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		header := string(c.GetHeader("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			fail(c, errUnauthorized)
			c.Abort()
			return
		}
		cl, err := s.parseToken(strings.TrimPrefix(header, "Bearer "), tokenTypeAccess)
		if err != nil {
			fail(c, err)
			c.Abort()
			return
		}
		c.Set("user_id", cl.Subject)
		c.Set("role", cl.Role)
		c.Next(ctx)
	}
}

// adminOnly gates admin routes; run after authRequired.
func (s *Server) adminOnly() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if c.GetString("role") != string(models.RoleAdmin) {
			fail(c, errForbidden)
			c.Abort()
			return
		}
		c.Next(ctx)
	}
}

// callerID is the authenticated user's id.
func callerID(c *app.RequestContext) string { return c.GetString("user_id") }

// isAdmin reports whether the caller holds the admin role.
func isAdmin(c *app.RequestContext) bool {
	return c.GetString("role") == string(models.RoleAdmin)
}

// scopeOwner returns the ownership filter for store reads: admins see
// everything, everyone else only their own rows.
func scopeOwner(c *app.RequestContext) string {
	if isAdmin(c) {
		return ""
	}
	return callerID(c)
}
