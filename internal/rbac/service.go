package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/entity"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/repo"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrRoleExists  = errors.New("role name already exists")
	ErrMenuHasKids = errors.New("menu has child menus")
)

// Service orchestrates role, menu and api management. Every mutation that
// can change a user's effective permissions purges the derived cache
// entries for the affected users.
type Service struct {
	repo   *repo.RBACRepo
	inv    *cache.Invalidator
	logger *zap.SugaredLogger
}

func NewService(r *repo.RBACRepo, inv *cache.Invalidator, logger *zap.SugaredLogger) *Service {
	return &Service{repo: r, inv: inv, logger: logger}
}

// Repo exposes the underlying repository; it satisfies the resolver Store.
func (s *Service) Repo() *repo.RBACRepo { return s.repo }

// --- roles ---

func (s *Service) CreateRole(ctx context.Context, name string, desc *string) (*entity.Role, error) {
	exists, err := s.repo.RoleExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrRoleExists
	}
	role := &entity.Role{Name: name, Desc: desc}
	if _, err := s.repo.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Service) GetRole(ctx context.Context, id int64) (*entity.Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return role, err
}

func (s *Service) UpdateRole(ctx context.Context, in *entity.Role) error {
	if _, err := s.GetRole(ctx, in.ID); err != nil {
		return err
	}
	return s.repo.UpdateRole(ctx, in)
}

// DeleteRole removes the role and purges permission caches for every user
// that held it, so their allow-lists shrink immediately, not at TTL expiry.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	holders, err := s.repo.UsersWithRole(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	for _, userID := range holders {
		s.inv.Permissions(ctx, userID)
	}
	return nil
}

func (s *Service) ListRoles(ctx context.Context, name string, page, pageSize int) (int64, []entity.Role, error) {
	return s.repo.ListRoles(ctx, name, page, pageSize)
}

// RoleGrants returns the menu ids and api routes currently granted to a
// role, the shape the admin UI edits.
func (s *Service) RoleGrants(ctx context.Context, roleID int64) ([]int64, []entity.APIRoute, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, nil, err
	}
	menuIDs, err := s.repo.RoleMenuIDs(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	routes, err := s.repo.RoleAPIRoutes(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	return menuIDs, routes, nil
}

// ReplaceRoleGrants swaps the role's menu and api grants (replace-all) and
// then purges the permission caches of every holder. Without the purge a
// revoked grant would keep working until the 30-minute TTL ran out.
func (s *Service) ReplaceRoleGrants(ctx context.Context, roleID int64, menuIDs []int64, apiRoutes []entity.APIRoute) error {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.repo.ReplaceRoleGrants(ctx, roleID, menuIDs, apiRoutes); err != nil {
		return fmt.Errorf("replace role grants: %w", err)
	}
	holders, err := s.repo.UsersWithRole(ctx, roleID)
	if err != nil {
		s.logger.Warnw("grant replace: holder lookup failed, caches expire by TTL",
			"role_id", roleID, "err", err)
		return nil
	}
	for _, userID := range holders {
		s.inv.Permissions(ctx, userID)
	}
	return nil
}

// --- menus ---

func (s *Service) CreateMenu(ctx context.Context, m *entity.Menu) (int64, error) {
	return s.repo.CreateMenu(ctx, m)
}

func (s *Service) GetMenu(ctx context.Context, id int64) (*entity.Menu, error) {
	m, err := s.repo.GetMenu(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *Service) UpdateMenu(ctx context.Context, m *entity.Menu) error {
	if _, err := s.GetMenu(ctx, m.ID); err != nil {
		return err
	}
	return s.repo.UpdateMenu(ctx, m)
}

func (s *Service) DeleteMenu(ctx context.Context, id int64) error {
	hasKids, err := s.repo.HasChildMenus(ctx, id)
	if err != nil {
		return err
	}
	if hasKids {
		return ErrMenuHasKids
	}
	return s.repo.DeleteMenu(ctx, id)
}

// MenuTree returns the full menu table as a tree (admin management view).
func (s *Service) MenuTree(ctx context.Context) ([]entity.MenuNode, error) {
	menus, err := s.repo.AllMenus(ctx)
	if err != nil {
		return nil, err
	}
	return BuildMenuTree(menus), nil
}

// --- apis ---

func (s *Service) CreateAPI(ctx context.Context, a *entity.API) (int64, error) {
	return s.repo.CreateAPI(ctx, a)
}

func (s *Service) UpdateAPI(ctx context.Context, a *entity.API) error {
	if _, err := s.repo.GetAPI(ctx, a.ID); errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return s.repo.UpdateAPI(ctx, a)
}

func (s *Service) DeleteAPI(ctx context.Context, id int64) error {
	return s.repo.DeleteAPI(ctx, id)
}

func (s *Service) ListAPIs(ctx context.Context, path, summary, method, tags string, page, pageSize int) (int64, []entity.API, error) {
	return s.repo.ListAPIs(ctx, path, summary, method, tags, page, pageSize)
}

// RefreshAPIs reconciles the api table against the registered route table:
// rows for routes that no longer exist are deleted, existing rows get their
// summary and tags refreshed, new routes are inserted. Grants referencing
// deleted rows disappear with them.
func (s *Service) RefreshAPIs(ctx context.Context, routes []entity.RouteDef) error {
	live := make(map[entity.APIRoute]entity.RouteDef, len(routes))
	for _, def := range routes {
		live[entity.APIRoute{Method: def.Method, Path: def.Path}] = def
	}

	existing, err := s.repo.AllAPIs(ctx)
	if err != nil {
		return err
	}
	for _, a := range existing {
		if _, ok := live[entity.APIRoute{Method: a.Method, Path: a.Path}]; !ok {
			s.logger.Debugw("api removed", "method", a.Method, "path", a.Path)
			if err := s.repo.DeleteAPI(ctx, a.ID); err != nil {
				return err
			}
		}
	}

	for route, def := range live {
		a, err := s.repo.GetAPIByRoute(ctx, route.Method, route.Path)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			s.logger.Debugw("api created", "method", def.Method, "path", def.Path)
			_, err = s.repo.CreateAPI(ctx, &entity.API{
				Path: def.Path, Method: def.Method, Summary: def.Summary, Tags: def.Tags,
			})
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			a.Summary = def.Summary
			a.Tags = def.Tags
			if err := s.repo.UpdateAPI(ctx, a); err != nil {
				return err
			}
		}
	}
	return nil
}
