package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/query"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/entity"
)

// RBACRepo provides data access for roles, menus, apis and their join
// tables using sqlx.
type RBACRepo struct {
	db *sqlx.DB
}

func NewRBACRepo(db *sqlx.DB) *RBACRepo { return &RBACRepo{db: db} }

// EnsureTable creates the RBAC tables if they do not exist (idempotent).
func (r *RBACRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS role (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  descr TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS menu (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  menu_type TEXT,
  icon TEXT,
  path TEXT NOT NULL,
  order_no INT NOT NULL DEFAULT 0,
  parent_id BIGINT NOT NULL DEFAULT 0,
  is_hidden BOOLEAN NOT NULL DEFAULT false,
  component TEXT NOT NULL DEFAULT '',
  keepalive BOOLEAN NOT NULL DEFAULT true,
  redirect TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_menu_parent ON menu(parent_id);
CREATE TABLE IF NOT EXISTS api (
  id BIGSERIAL PRIMARY KEY,
  path TEXT NOT NULL,
  method TEXT NOT NULL,
  summary TEXT NOT NULL DEFAULT '',
  tags TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (method, path)
);
CREATE TABLE IF NOT EXISTS role_menu (
  role_id BIGINT NOT NULL,
  menu_id BIGINT NOT NULL,
  PRIMARY KEY (role_id, menu_id)
);
CREATE TABLE IF NOT EXISTS role_api (
  role_id BIGINT NOT NULL,
  api_id BIGINT NOT NULL,
  PRIMARY KEY (role_id, api_id)
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// --- roles ---

func (r *RBACRepo) CreateRole(ctx context.Context, role *entity.Role) (int64, error) {
	const q = `INSERT INTO role (name, descr) VALUES ($1,$2) RETURNING id`
	if err := r.db.GetContext(ctx, &role.ID, q, role.Name, role.Desc); err != nil {
		return 0, err
	}
	return role.ID, nil
}

func (r *RBACRepo) GetRole(ctx context.Context, id int64) (*entity.Role, error) {
	var row entity.Role
	if err := r.db.GetContext(ctx, &row,
		`SELECT id, name, descr, created_at, updated_at FROM role WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *RBACRepo) RoleExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, `SELECT 1 FROM role WHERE name=$1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RBACRepo) GetRoleByName(ctx context.Context, name string) (*entity.Role, error) {
	var row entity.Role
	if err := r.db.GetContext(ctx, &row,
		`SELECT id, name, descr, created_at, updated_at FROM role WHERE name=$1`, name); err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *RBACRepo) UpdateRole(ctx context.Context, role *entity.Role) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE role SET name=$2, descr=$3, updated_at=NOW() WHERE id=$1`,
		role.ID, role.Name, role.Desc)
	return err
}

// DeleteRole removes the role and every edge referencing it.
func (r *RBACRepo) DeleteRole(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM role_menu WHERE role_id=$1`,
		`DELETE FROM role_api WHERE role_id=$1`,
		`DELETE FROM user_role WHERE role_id=$1`,
		`DELETE FROM role WHERE id=$1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *RBACRepo) ListRoles(ctx context.Context, name string, page, pageSize int) (int64, []entity.Role, error) {
	b := query.New()
	if name != "" {
		b.Contains("name", name)
	}
	where, args := b.Where()

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM role `+where, args...); err != nil {
		return 0, nil, err
	}
	q := fmt.Sprintf(`SELECT id, name, descr, created_at, updated_at FROM role %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, b.NextArg(), b.NextArg()+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows := []entity.Role{}
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return 0, nil, err
	}
	return total, rows, nil
}

// --- menus ---

const menuColumns = `id, name, menu_type, icon, path, order_no, parent_id,
	is_hidden, component, keepalive, redirect, created_at, updated_at`

func (r *RBACRepo) CreateMenu(ctx context.Context, m *entity.Menu) (int64, error) {
	const q = `INSERT INTO menu (name, menu_type, icon, path, order_no, parent_id, is_hidden, component, keepalive, redirect)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`
	if err := r.db.GetContext(ctx, &m.ID, q,
		m.Name, m.MenuType, m.Icon, m.Path, m.OrderNo, m.ParentID, m.IsHidden, m.Component, m.Keepalive, m.Redirect); err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (r *RBACRepo) GetMenu(ctx context.Context, id int64) (*entity.Menu, error) {
	var row entity.Menu
	if err := r.db.GetContext(ctx, &row, `SELECT `+menuColumns+` FROM menu WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *RBACRepo) UpdateMenu(ctx context.Context, m *entity.Menu) error {
	const q = `UPDATE menu SET name=$2, menu_type=$3, icon=$4, path=$5, order_no=$6, parent_id=$7,
		is_hidden=$8, component=$9, keepalive=$10, redirect=$11, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q,
		m.ID, m.Name, m.MenuType, m.Icon, m.Path, m.OrderNo, m.ParentID, m.IsHidden, m.Component, m.Keepalive, m.Redirect)
	return err
}

// HasChildMenus reports whether any menu points at id as its parent.
func (r *RBACRepo) HasChildMenus(ctx context.Context, id int64) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, `SELECT 1 FROM menu WHERE parent_id=$1 LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RBACRepo) DeleteMenu(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_menu WHERE menu_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM menu WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AllMenus returns every menu row ordered for tree assembly.
func (r *RBACRepo) AllMenus(ctx context.Context) ([]entity.Menu, error) {
	rows := []entity.Menu{}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+menuColumns+` FROM menu ORDER BY order_no, id`); err != nil {
		return nil, err
	}
	return rows, nil
}

// --- apis ---

const apiColumns = `id, path, method, summary, tags, created_at, updated_at`

func (r *RBACRepo) CreateAPI(ctx context.Context, a *entity.API) (int64, error) {
	const q = `INSERT INTO api (path, method, summary, tags) VALUES ($1,$2,$3,$4) RETURNING id`
	if err := r.db.GetContext(ctx, &a.ID, q, a.Path, a.Method, a.Summary, a.Tags); err != nil {
		return 0, err
	}
	return a.ID, nil
}

func (r *RBACRepo) GetAPI(ctx context.Context, id int64) (*entity.API, error) {
	var row entity.API
	if err := r.db.GetContext(ctx, &row, `SELECT `+apiColumns+` FROM api WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *RBACRepo) GetAPIByRoute(ctx context.Context, method, path string) (*entity.API, error) {
	var row entity.API
	if err := r.db.GetContext(ctx, &row,
		`SELECT `+apiColumns+` FROM api WHERE method=$1 AND path=$2`, method, path); err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *RBACRepo) UpdateAPI(ctx context.Context, a *entity.API) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api SET path=$2, method=$3, summary=$4, tags=$5, updated_at=NOW() WHERE id=$1`,
		a.ID, a.Path, a.Method, a.Summary, a.Tags)
	return err
}

func (r *RBACRepo) DeleteAPI(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_api WHERE api_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM api WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *RBACRepo) DeleteAPIByRoute(ctx context.Context, method, path string) error {
	a, err := r.GetAPIByRoute(ctx, method, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.DeleteAPI(ctx, a.ID)
}

func (r *RBACRepo) ListAPIs(ctx context.Context, path, summary, method, tags string, page, pageSize int) (int64, []entity.API, error) {
	b := query.New()
	if path != "" {
		b.Contains("path", path)
	}
	if summary != "" {
		b.Contains("summary", summary)
	}
	if tags != "" {
		b.Contains("tags", tags)
	}
	if method != "" {
		b.Eq("method", method)
	}
	where, args := b.Where()

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM api `+where, args...); err != nil {
		return 0, nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM api %s ORDER BY tags, path LIMIT $%d OFFSET $%d`,
		apiColumns, where, b.NextArg(), b.NextArg()+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows := []entity.API{}
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return 0, nil, err
	}
	return total, rows, nil
}

// AllAPIRoutes returns every (method, path) pair, the superuser allow-list.
func (r *RBACRepo) AllAPIRoutes(ctx context.Context) ([]entity.APIRoute, error) {
	rows := []entity.APIRoute{}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT method, path FROM api ORDER BY method, path`); err != nil {
		return nil, err
	}
	return rows, nil
}

// AllAPIs returns every api row.
func (r *RBACRepo) AllAPIs(ctx context.Context) ([]entity.API, error) {
	rows := []entity.API{}
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+apiColumns+` FROM api ORDER BY id`); err != nil {
		return nil, err
	}
	return rows, nil
}

// BasicAPIIDs returns the ids of every GET endpoint plus every endpoint in
// the given tag group, the default grant for the ordinary-user role.
func (r *RBACRepo) BasicAPIIDs(ctx context.Context, tag string) ([]int64, error) {
	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM api WHERE method='GET' OR tags=$1 ORDER BY id`, tag); err != nil {
		return nil, err
	}
	return ids, nil
}

// --- grants and assignments ---

// ReplaceRoleGrants clears the role's menu and api grants and re-adds the
// given sets in one transaction. API grants are addressed by (method, path)
// and silently skipped when no such endpoint row exists.
func (r *RBACRepo) ReplaceRoleGrants(ctx context.Context, roleID int64, menuIDs []int64, apiRoutes []entity.APIRoute) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_menu WHERE role_id=$1`, roleID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_api WHERE role_id=$1`, roleID); err != nil {
		return err
	}
	for _, menuID := range menuIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_menu (role_id, menu_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			roleID, menuID); err != nil {
			return err
		}
	}
	for _, route := range apiRoutes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_api (role_id, api_id)
			 SELECT $1, id FROM api WHERE method=$2 AND path=$3
			 ON CONFLICT DO NOTHING`,
			roleID, route.Method, route.Path); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GrantAPIsToRole attaches the given api ids to a role (additive, used by
// bootstrap seeding).
func (r *RBACRepo) GrantAPIsToRole(ctx context.Context, roleID int64, apiIDs []int64) error {
	for _, apiID := range apiIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO role_api (role_id, api_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			roleID, apiID); err != nil {
			return err
		}
	}
	return nil
}

// GrantMenusToRole attaches the given menu ids to a role.
func (r *RBACRepo) GrantMenusToRole(ctx context.Context, roleID int64, menuIDs []int64) error {
	for _, menuID := range menuIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO role_menu (role_id, menu_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			roleID, menuID); err != nil {
			return err
		}
	}
	return nil
}

// UserRoleIDs returns the role ids assigned to a user.
func (r *RBACRepo) UserRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT role_id FROM user_role WHERE user_id=$1 ORDER BY role_id`, userID); err != nil {
		return nil, err
	}
	return ids, nil
}

// RoleAPIRoutes returns the (method, path) pairs granted to a role.
func (r *RBACRepo) RoleAPIRoutes(ctx context.Context, roleID int64) ([]entity.APIRoute, error) {
	rows := []entity.APIRoute{}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT a.method, a.path FROM role_api ra JOIN api a ON a.id = ra.api_id
		 WHERE ra.role_id=$1 ORDER BY a.method, a.path`, roleID); err != nil {
		return nil, err
	}
	return rows, nil
}

// RoleMenus returns the menu rows granted to a role.
func (r *RBACRepo) RoleMenus(ctx context.Context, roleID int64) ([]entity.Menu, error) {
	rows := []entity.Menu{}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT m.id, m.name, m.menu_type, m.icon, m.path, m.order_no, m.parent_id,
			m.is_hidden, m.component, m.keepalive, m.redirect, m.created_at, m.updated_at
		 FROM role_menu rm JOIN menu m ON m.id = rm.menu_id
		 WHERE rm.role_id=$1 ORDER BY m.order_no, m.id`, roleID); err != nil {
		return nil, err
	}
	return rows, nil
}

// RoleMenuIDs returns the menu ids granted to a role.
func (r *RBACRepo) RoleMenuIDs(ctx context.Context, roleID int64) ([]int64, error) {
	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT menu_id FROM role_menu WHERE role_id=$1 ORDER BY menu_id`, roleID); err != nil {
		return nil, err
	}
	return ids, nil
}

// UsersWithRole returns the ids of every user holding the role, the set
// whose permission caches must be purged when the role's grants change.
func (r *RBACRepo) UsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM user_role WHERE role_id=$1 ORDER BY user_id`, roleID); err != nil {
		return nil, err
	}
	return ids, nil
}
