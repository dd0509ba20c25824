// Package auth authenticates API callers from signed session tokens and
// guards operator endpoints with a static admin token.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ignite/outreach/internal/config"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/logger"
)

type ctxKey struct{}

// Session is the authenticated caller.
type Session struct {
	UserID    string
	ExpiresAt time.Time
}

// Manager verifies HS256 session tokens. The token travels as a bearer
// header or in the session cookie; sub carries the user id.
type Manager struct {
	secret     []byte
	issuer     string
	cookieName string
	adminToken string
	now        func() time.Time
}

// NewManager builds a manager from config.
func NewManager(cfg config.AuthConfig) *Manager {
	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.Issuer,
		cookieName: cfg.CookieName,
		adminToken: cfg.AdminToken,
		now:        time.Now,
	}
}

// Issue signs a session token for userID. Used by tooling and tests.
func (m *Manager) Issue(userID string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses and validates a raw token.
func (m *Manager) Verify(raw string) (*Session, error) {
	if len(m.secret) == 0 {
		return nil, errors.New("session secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return m.secret, nil }, opts...); err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("verify session: missing subject")
	}
	return &Session{UserID: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (m *Manager) tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if m.cookieName != "" {
		if c, err := r.Cookie(m.cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}

// RequireUser rejects requests without a valid session with 401.
func (m *Manager) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := m.tokenFrom(r)
		if raw == "" {
			httputil.Error(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required")
			return
		}
		sess, err := m.Verify(raw)
		if err != nil {
			logger.Debug("session rejected", "error", err)
			httputil.Error(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// RequireAdmin accepts only the configured admin bearer token. With no token
// configured every request is refused.
func (m *Manager) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := m.tokenFrom(r)
		if m.adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(m.adminToken)) != 1 {
			httputil.Error(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithSession stores s on ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// UserID returns the authenticated user id, or "".
func UserID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok {
		return s.UserID
	}
	return ""
}
