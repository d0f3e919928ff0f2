package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/entity"
	userentity "github.com/ovaphlow/pitchfork/service-admin-go/internal/user/entity"
)

// fakeStore is an in-memory Store with call counting, standing in for the
// sqlx repository.
type fakeStore struct {
	apis      []entity.APIRoute
	menus     []entity.Menu
	userRoles map[int64][]int64
	roleAPIs  map[int64][]entity.APIRoute
	roleMenus map[int64][]entity.Menu
	fail      bool

	calls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		userRoles: map[int64][]int64{},
		roleAPIs:  map[int64][]entity.APIRoute{},
		roleMenus: map[int64][]entity.Menu{},
	}
}

var errStoreDown = errors.New("store down")

func (s *fakeStore) AllAPIRoutes(context.Context) ([]entity.APIRoute, error) {
	s.calls++
	if s.fail {
		return nil, errStoreDown
	}
	return s.apis, nil
}

func (s *fakeStore) AllMenus(context.Context) ([]entity.Menu, error) {
	s.calls++
	if s.fail {
		return nil, errStoreDown
	}
	return s.menus, nil
}

func (s *fakeStore) UserRoleIDs(_ context.Context, userID int64) ([]int64, error) {
	s.calls++
	if s.fail {
		return nil, errStoreDown
	}
	return s.userRoles[userID], nil
}

func (s *fakeStore) RoleAPIRoutes(_ context.Context, roleID int64) ([]entity.APIRoute, error) {
	s.calls++
	if s.fail {
		return nil, errStoreDown
	}
	return s.roleAPIs[roleID], nil
}

func (s *fakeStore) RoleMenus(_ context.Context, roleID int64) ([]entity.Menu, error) {
	s.calls++
	if s.fail {
		return nil, errStoreDown
	}
	return s.roleMenus[roleID], nil
}

func menu(id, parent int64, name string) entity.Menu {
	return entity.Menu{ID: id, ParentID: parent, Name: name, Path: "/" + name}
}

func newResolverEnv(t *testing.T) (*fakeStore, *cache.KeyStore, *Resolver) {
	t.Helper()
	backend := cache.NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	store := newFakeStore()
	keyStore := cache.NewKeyStore(backend, zap.NewNop().Sugar())
	return store, keyStore, NewResolver(store, keyStore, zap.NewNop().Sugar())
}

func TestResolveZeroRolesIsEmpty(t *testing.T) {
	ctx := context.Background()
	store, _, resolver := newResolverEnv(t)
	store.apis = []entity.APIRoute{{Method: "GET", Path: "/api/v1/users/list"}}
	store.menus = []entity.Menu{menu(1, 0, "system")}

	got := resolver.Resolve(ctx, &userentity.User{ID: 10})
	assert.Empty(t, got.APIs)
	assert.Empty(t, got.Menus)
}

func TestResolveSuperuserGetsEverything(t *testing.T) {
	ctx := context.Background()
	store, _, resolver := newResolverEnv(t)
	store.apis = []entity.APIRoute{
		{Method: "GET", Path: "/a"},
		{Method: "POST", Path: "/b"},
	}
	store.menus = []entity.Menu{menu(1, 0, "system"), menu(2, 1, "user")}
	// superuser with zero roles still gets the full set
	root := &userentity.User{ID: 1, IsSuperuser: true}

	got := resolver.Resolve(ctx, root)
	assert.Equal(t, store.apis, got.APIs)
	require.Len(t, got.Menus, 1)
	assert.Equal(t, int64(1), got.Menus[0].ID)
	require.Len(t, got.Menus[0].Children, 1)
	assert.Equal(t, int64(2), got.Menus[0].Children[0].ID)
}

func TestResolveUnionsAndDeduplicatesRoles(t *testing.T) {
	ctx := context.Background()
	store, _, resolver := newResolverEnv(t)
	store.userRoles[10] = []int64{1, 2}
	store.roleAPIs[1] = []entity.APIRoute{
		{Method: "GET", Path: "/a"},
		{Method: "GET", Path: "/b"},
	}
	store.roleAPIs[2] = []entity.APIRoute{
		{Method: "GET", Path: "/b"}, // shared with role 1
		{Method: "POST", Path: "/c"},
	}
	store.roleMenus[1] = []entity.Menu{menu(1, 0, "system")}
	store.roleMenus[2] = []entity.Menu{menu(1, 0, "system"), menu(2, 1, "user")}

	got := resolver.Resolve(ctx, &userentity.User{ID: 10})
	assert.ElementsMatch(t, []entity.APIRoute{
		{Method: "GET", Path: "/a"},
		{Method: "GET", Path: "/b"},
		{Method: "POST", Path: "/c"},
	}, got.APIs)
	require.Len(t, got.Menus, 1)
	assert.Len(t, got.Menus[0].Children, 1)
}

func TestResolveSecondCallServedFromCache(t *testing.T) {
	ctx := context.Background()
	store, _, resolver := newResolverEnv(t)
	store.userRoles[10] = []int64{1}
	store.roleAPIs[1] = []entity.APIRoute{{Method: "GET", Path: "/a"}}
	u := &userentity.User{ID: 10}

	first := resolver.Resolve(ctx, u)
	callsAfterFirst := store.calls
	second := resolver.Resolve(ctx, u)

	assert.Equal(t, first, second)
	// second resolution short-circuits on cache, no further store reads
	assert.Equal(t, callsAfterFirst, store.calls)
}

func TestResolveCachesEmptyResults(t *testing.T) {
	ctx := context.Background()
	store, _, resolver := newResolverEnv(t)
	u := &userentity.User{ID: 10} // no roles at all

	resolver.Resolve(ctx, u)
	callsAfterFirst := store.calls
	got := resolver.Resolve(ctx, u)

	assert.Empty(t, got.APIs)
	// an explicitly cached empty set must not force re-resolution
	assert.Equal(t, callsAfterFirst, store.calls)
}

func TestReassignmentVisibleAfterInvalidation(t *testing.T) {
	ctx := context.Background()
	store, keyStore, resolver := newResolverEnv(t)
	store.userRoles[10] = []int64{1}
	store.roleAPIs[1] = []entity.APIRoute{{Method: "GET", Path: "/old"}}
	u := &userentity.User{ID: 10}

	before := resolver.Resolve(ctx, u)
	require.Equal(t, []entity.APIRoute{{Method: "GET", Path: "/old"}}, before.APIs)

	// replace-all role reassignment followed by the invalidator purge
	store.userRoles[10] = []int64{2}
	store.roleAPIs[2] = []entity.APIRoute{{Method: "POST", Path: "/new"}}
	cache.NewInvalidator(keyStore).UserScope(ctx, 10)

	after := resolver.Resolve(ctx, u)
	assert.Equal(t, []entity.APIRoute{{Method: "POST", Path: "/new"}}, after.APIs)
}

func TestResolutionFailureDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	store, _, resolver := newResolverEnv(t)
	store.userRoles[10] = []int64{1}
	store.fail = true

	got := resolver.Resolve(ctx, &userentity.User{ID: 10})
	assert.Empty(t, got.APIs)
	assert.Empty(t, got.Menus)

	// failure is not cached: a recovered store serves real data again
	store.fail = false
	store.roleAPIs[1] = []entity.APIRoute{{Method: "GET", Path: "/a"}}
	got = resolver.Resolve(ctx, &userentity.User{ID: 10})
	assert.Len(t, got.APIs, 1)
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	store, _, resolver := newResolverEnv(t)
	store.userRoles[10] = []int64{1}
	store.roleAPIs[1] = []entity.APIRoute{{Method: "GET", Path: "/a"}}

	u := &userentity.User{ID: 10}
	assert.NoError(t, resolver.Authorize(ctx, u, "GET", "/a"))
	assert.ErrorIs(t, resolver.Authorize(ctx, u, "POST", "/a"), ErrPermissionDenied)
	assert.ErrorIs(t, resolver.Authorize(ctx, u, "GET", "/other"), ErrPermissionDenied)

	// zero roles is its own denial signal
	assert.ErrorIs(t, resolver.Authorize(ctx, &userentity.User{ID: 11}, "GET", "/a"), ErrNoRole)

	// superusers skip resolution entirely
	assert.NoError(t, resolver.Authorize(ctx, &userentity.User{ID: 1, IsSuperuser: true}, "DELETE", "/anything"))
}

func TestBuildMenuTreeDropsOrphans(t *testing.T) {
	tree := BuildMenuTree([]entity.Menu{
		menu(1, 0, "system"),
		menu(2, 1, "user"),
		menu(3, 99, "orphan"), // parent not in set
	})
	require.Len(t, tree, 1)
	assert.Len(t, tree[0].Children, 1)
}
