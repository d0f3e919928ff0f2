package rbac

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/entity"
	userentity "github.com/ovaphlow/pitchfork/service-admin-go/internal/user/entity"
)

// PermissionsTTL bounds how long a resolved allow-list or menu tree may be
// served without re-deriving it from the role assignments.
const PermissionsTTL = 30 * time.Minute

var (
	// ErrNoRole marks an authenticated non-superuser with zero role
	// assignments. Always denied, never treated as full access.
	ErrNoRole = errors.New("user is not bound to any role")
	// ErrPermissionDenied marks a resolved allow-list that does not contain
	// the requested (method, path).
	ErrPermissionDenied = errors.New("permission denied")
)

// Store is the slice of the RBAC repository the resolver reads. Kept small
// so tests can count calls against a fake.
type Store interface {
	AllAPIRoutes(ctx context.Context) ([]entity.APIRoute, error)
	AllMenus(ctx context.Context) ([]entity.Menu, error)
	UserRoleIDs(ctx context.Context, userID int64) ([]int64, error)
	RoleAPIRoutes(ctx context.Context, roleID int64) ([]entity.APIRoute, error)
	RoleMenus(ctx context.Context, roleID int64) ([]entity.Menu, error)
}

// Permissions is a user's effective permission set: the API allow-list and
// the menu tree, derived from role assignments (or everything, for a
// superuser).
type Permissions struct {
	APIs  []entity.APIRoute `json:"apis"`
	Menus []entity.MenuNode `json:"menus"`
}

// Resolver computes effective permission sets, reading through two
// independently cached artifacts per user (permissions_{id}, menus_{id}).
// Resolution failure degrades to empty sets ("no permissions" is the
// failure default) and is never surfaced as an error to the caller.
type Resolver struct {
	store  Store
	cache  *cache.KeyStore
	logger *zap.SugaredLogger
	ttl    time.Duration
}

func NewResolver(store Store, keyStore *cache.KeyStore, logger *zap.SugaredLogger) *Resolver {
	return &Resolver{store: store, cache: keyStore, logger: logger, ttl: PermissionsTTL}
}

// Resolve returns the user's full permission set. Each artifact reads
// through its own cache slot.
func (r *Resolver) Resolve(ctx context.Context, u *userentity.User) Permissions {
	return Permissions{
		APIs:  r.AllowList(ctx, u),
		Menus: r.MenuTree(ctx, u),
	}
}

// AllowList returns the deduplicated (method, path) set the user may call.
// A superuser gets every endpoint row regardless of role assignments. The
// result, empty included, is cached for PermissionsTTL: caching empty
// results bounds repeated DB load, and invalidation clears them the same
// way.
func (r *Resolver) AllowList(ctx context.Context, u *userentity.User) []entity.APIRoute {
	key := cache.UserPermissionsKey(u.ID)
	var cached []entity.APIRoute
	if r.cache.Get(ctx, key, &cached) {
		return cached
	}

	routes, err := r.resolveAPIs(ctx, u)
	if err != nil {
		r.logger.Errorw("permission resolution failed", "user_id", u.ID, "err", err)
		return []entity.APIRoute{}
	}
	r.cache.Set(ctx, key, routes, r.ttl)
	return routes
}

// MenuTree returns the user's menu tree: deduplicated menus partitioned
// into roots (parent_id 0) with direct children attached, one level deep.
func (r *Resolver) MenuTree(ctx context.Context, u *userentity.User) []entity.MenuNode {
	key := cache.UserMenusKey(u.ID)
	var cached []entity.MenuNode
	if r.cache.Get(ctx, key, &cached) {
		return cached
	}

	menus, err := r.resolveMenus(ctx, u)
	if err != nil {
		r.logger.Errorw("menu resolution failed", "user_id", u.ID, "err", err)
		return []entity.MenuNode{}
	}
	tree := BuildMenuTree(menus)
	r.cache.Set(ctx, key, tree, r.ttl)
	return tree
}

// Authorize checks whether the user may call (method, path). Superusers
// bypass resolution entirely. On a deny, the role assignment is inspected
// to distinguish "not bound to any role" from "bound but not permitted".
func (r *Resolver) Authorize(ctx context.Context, u *userentity.User, method, path string) error {
	if u.IsSuperuser {
		return nil
	}
	for _, route := range r.AllowList(ctx, u) {
		if route.Method == method && route.Path == path {
			return nil
		}
	}
	roleIDs, err := r.store.UserRoleIDs(ctx, u.ID)
	if err == nil && len(roleIDs) == 0 {
		return ErrNoRole
	}
	return ErrPermissionDenied
}

func (r *Resolver) resolveAPIs(ctx context.Context, u *userentity.User) ([]entity.APIRoute, error) {
	if u.IsSuperuser {
		return r.store.AllAPIRoutes(ctx)
	}
	roleIDs, err := r.store.UserRoleIDs(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[entity.APIRoute]struct{})
	routes := []entity.APIRoute{}
	for _, roleID := range roleIDs {
		granted, err := r.store.RoleAPIRoutes(ctx, roleID)
		if err != nil {
			return nil, err
		}
		for _, route := range granted {
			if _, dup := seen[route]; dup {
				continue
			}
			seen[route] = struct{}{}
			routes = append(routes, route)
		}
	}
	return routes, nil
}

func (r *Resolver) resolveMenus(ctx context.Context, u *userentity.User) ([]entity.Menu, error) {
	if u.IsSuperuser {
		return r.store.AllMenus(ctx)
	}
	roleIDs, err := r.store.UserRoleIDs(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	menus := []entity.Menu{}
	for _, roleID := range roleIDs {
		granted, err := r.store.RoleMenus(ctx, roleID)
		if err != nil {
			return nil, err
		}
		for _, m := range granted {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			menus = append(menus, m)
		}
	}
	return menus, nil
}

// BuildMenuTree partitions menus into roots and children and attaches each
// child to its root. Children whose parent is not in the set are dropped;
// the schema models a single level of nesting.
func BuildMenuTree(menus []entity.Menu) []entity.MenuNode {
	tree := []entity.MenuNode{}
	for _, m := range menus {
		if m.ParentID == 0 {
			tree = append(tree, entity.MenuNode{Menu: m, Children: []entity.Menu{}})
		}
	}
	for _, m := range menus {
		if m.ParentID == 0 {
			continue
		}
		for i := range tree {
			if tree[i].ID == m.ParentID {
				tree[i].Children = append(tree[i].Children, m)
				break
			}
		}
	}
	return tree
}
