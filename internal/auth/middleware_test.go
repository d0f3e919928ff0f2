package auth

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac"
	rbacentity "github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/entity"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/user/entity"
)

type fakeUsers struct {
	users map[int64]*entity.User
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*entity.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

type fakeGrants struct {
	roles  map[int64][]int64
	routes map[int64][]rbacentity.APIRoute
}

func (f *fakeGrants) AllAPIRoutes(context.Context) ([]rbacentity.APIRoute, error) { return nil, nil }
func (f *fakeGrants) AllMenus(context.Context) ([]rbacentity.Menu, error)         { return nil, nil }
func (f *fakeGrants) UserRoleIDs(_ context.Context, userID int64) ([]int64, error) {
	return f.roles[userID], nil
}
func (f *fakeGrants) RoleAPIRoutes(_ context.Context, roleID int64) ([]rbacentity.APIRoute, error) {
	return f.routes[roleID], nil
}
func (f *fakeGrants) RoleMenus(context.Context, int64) ([]rbacentity.Menu, error) { return nil, nil }

func newTestMiddleware(t *testing.T) (*Middleware, *TokenService, *fakeUsers, *fakeGrants) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	tokens, err := NewTokenService(TokenConfig{Secret: "test-secret", TTL: time.Hour})
	require.NoError(t, err)
	backend := cache.NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	ks := cache.NewKeyStore(backend, logger)
	users := &fakeUsers{users: map[int64]*entity.User{}}
	grants := &fakeGrants{roles: map[int64][]int64{}, routes: map[int64][]rbacentity.APIRoute{}}
	resolver := rbac.NewResolver(grants, ks, logger)
	return NewMiddleware(tokens, users, resolver, logger), tokens, users, grants
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticateMissingToken(t *testing.T) {
	mw, _, _, _ := newTestMiddleware(t)
	rec := doRequest(mw.Authenticate(okHandler()), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateBadToken(t *testing.T) {
	mw, _, _, _ := newTestMiddleware(t)
	rec := doRequest(mw.Authenticate(okHandler()), "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	mw, tokens, users, _ := newTestMiddleware(t)
	users.users[5] = &entity.User{ID: 5, Username: "locked", IsActive: false}
	raw, err := tokens.Issue(5, "locked", false)
	require.NoError(t, err)

	rec := doRequest(mw.Authenticate(okHandler()), raw)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticatePassesUserDownstream(t *testing.T) {
	mw, tokens, users, _ := newTestMiddleware(t)
	users.users[5] = &entity.User{ID: 5, Username: "alice", IsActive: true}
	raw, err := tokens.Issue(5, "alice", false)
	require.NoError(t, err)

	var seen *entity.User
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CurrentUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := doRequest(mw.Authenticate(inner), raw)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.Username)
}

func TestRequirePermission(t *testing.T) {
	mw, tokens, users, grants := newTestMiddleware(t)
	users.users[5] = &entity.User{ID: 5, Username: "alice", IsActive: true}
	users.users[6] = &entity.User{ID: 6, Username: "norole", IsActive: true}
	users.users[7] = &entity.User{ID: 7, Username: "root", IsActive: true, IsSuperuser: true}
	grants.roles[5] = []int64{1}
	grants.routes[1] = []rbacentity.APIRoute{{Method: http.MethodGet, Path: "/admin/users"}}

	chain := mw.Authenticate(mw.RequirePermission("/admin/users", okHandler()))

	granted, err := tokens.Issue(5, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doRequest(chain, granted).Code)

	// zero roles is always denied, never full access
	noRole, err := tokens.Issue(6, "norole", false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, doRequest(chain, noRole).Code)

	// superuser bypasses the allow-list without role lookups
	root, err := tokens.Issue(7, "root", true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doRequest(chain, root).Code)
}

func TestRequirePermissionDeniedRoute(t *testing.T) {
	mw, tokens, users, grants := newTestMiddleware(t)
	users.users[5] = &entity.User{ID: 5, Username: "alice", IsActive: true}
	grants.roles[5] = []int64{1}
	grants.routes[1] = []rbacentity.APIRoute{{Method: http.MethodGet, Path: "/admin/roles"}}

	chain := mw.Authenticate(mw.RequirePermission("/admin/users", okHandler()))
	raw, err := tokens.Issue(5, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, doRequest(chain, raw).Code)
}
