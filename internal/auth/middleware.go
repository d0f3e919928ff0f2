package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/user/entity"
)

// TokenHeader is the request header carrying the session token, bare or
// with a Bearer prefix.
const TokenHeader = "token"

type ctxKey int

const ctxKeyUser ctxKey = 0

// CurrentUser returns the authenticated user stored by Authenticate.
func CurrentUser(ctx context.Context) (*entity.User, bool) {
	u, ok := ctx.Value(ctxKeyUser).(*entity.User)
	return u, ok
}

// UserSource loads the user row behind a verified token.
type UserSource interface {
	GetByID(ctx context.Context, id int64) (*entity.User, error)
}

// Middleware authenticates requests and enforces the per-user api
// allow-list. Authentication proves who the caller is; authorization asks
// the resolver whether that caller may hit this method+path.
type Middleware struct {
	tokens   *TokenService
	users    UserSource
	resolver *rbac.Resolver
	logger   *zap.SugaredLogger
}

func NewMiddleware(tokens *TokenService, users UserSource, resolver *rbac.Resolver, logger *zap.SugaredLogger) *Middleware {
	return &Middleware{tokens: tokens, users: users, resolver: resolver, logger: logger}
}

// Authenticate verifies the token, loads the user row and rejects disabled
// accounts. The loaded user lands in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get(TokenHeader), "Bearer ")
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		claims, err := m.tokens.Verify(raw)
		if errors.Is(err, ErrTokenExpired) {
			writeError(w, http.StatusUnauthorized, "token expired")
			return
		}
		if err != nil {
			writeError(w, http.StatusUnauthorized, "token invalid")
			return
		}
		u, err := m.users.GetByID(r.Context(), claims.UserID)
		if err != nil {
			m.logger.Debugw("token user lookup failed", "user_id", claims.UserID, "err", err)
			writeError(w, http.StatusUnauthorized, "token invalid")
			return
		}
		if !u.IsActive {
			writeError(w, http.StatusForbidden, "account disabled")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUser, u)))
	})
}

// RequirePermission gates a route on the resolver's allow-list. The pattern
// is the registered route path, not the concrete URL, so wildcard segments
// authorize as one entry.
func (m *Middleware) RequirePermission(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := CurrentUser(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		err := m.resolver.Authorize(r.Context(), u, r.Method, pattern)
		switch {
		case errors.Is(err, rbac.ErrNoRole):
			writeError(w, http.StatusForbidden, "no role assigned")
			return
		case errors.Is(err, rbac.ErrPermissionDenied):
			writeError(w, http.StatusForbidden, "permission denied")
			return
		case err != nil:
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
