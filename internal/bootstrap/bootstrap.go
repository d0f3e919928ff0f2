package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/audit"
	noterepo "github.com/ovaphlow/pitchfork/service-admin-go/internal/note/repo"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac"
	rbacentity "github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/entity"
	rbacrepo "github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/repo"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-admin-go/internal/user/repo"
)

// Seeded names.
const (
	AdminRoleName     = "admin"
	DefaultRoleName   = user.DefaultRoleName
	InitialSuperuser  = "admin"
	superuserPassword = "ADMIN_PASSWORD"
)

// sideTableDDL creates the commerce and social tables other services write
// to. This service only guarantees the schema; nothing here reads them.
const sideTableDDL = `
create table if not exists account (
	id bigserial primary key,
	user_id bigint not null unique,
	balance numeric(12,2) not null default 0,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);
create table if not exists account_flow (
	id bigserial primary key,
	account_id bigint not null,
	amount numeric(12,2) not null,
	kind int not null,
	remark varchar(200),
	created_at timestamptz not null default now()
);
create index if not exists idx_account_flow_account on account_flow (account_id);
create table if not exists pay_channel (
	id bigserial primary key,
	name varchar(50) not null,
	config text,
	is_enabled boolean not null default true,
	created_at timestamptz not null default now()
);
create table if not exists trade_order (
	id bigserial primary key,
	user_id bigint not null,
	notes_id bigint not null,
	pay_channel_id bigint,
	amount numeric(12,2) not null,
	status int not null default 0,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);
create index if not exists idx_trade_order_user on trade_order (user_id);
create table if not exists comment (
	id bigserial primary key,
	user_id bigint not null,
	notes_id bigint not null,
	parent_id bigint not null default 0,
	content varchar(1000) not null,
	created_at timestamptz not null default now()
);
create index if not exists idx_comment_note on comment (notes_id);
create table if not exists note_collection (
	id bigserial primary key,
	user_id bigint not null,
	notes_id bigint not null,
	created_at timestamptz not null default now(),
	unique (user_id, notes_id)
);
create table if not exists user_follow (
	id bigserial primary key,
	user_id bigint not null,
	followed_user_id bigint not null,
	created_at timestamptz not null default now(),
	unique (user_id, followed_user_id)
);
`

// EnsureSchema creates every table the service touches. Idempotent.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	steps := []func(context.Context) error{
		userrepo.NewUserRepo(db).EnsureTable,
		rbacrepo.NewRBACRepo(db).EnsureTable,
		noterepo.NewNoteRepo(db).EnsureTable,
		audit.NewRepo(db).EnsureTable,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	if _, err := db.ExecContext(ctx, sideTableDDL); err != nil {
		return fmt.Errorf("ensure side tables: %w", err)
	}
	return nil
}

// SeedDefaults makes a fresh database usable: the api table mirrors the
// route table, the admin and default roles exist with their grants, the
// management menu tree is present and an initial superuser can log in.
// Every step is idempotent so it runs on every start.
func SeedDefaults(ctx context.Context, rbacSvc *rbac.Service, users *user.Service, routes []rbacentity.RouteDef, logger *zap.SugaredLogger) error {
	if err := rbacSvc.RefreshAPIs(ctx, routes); err != nil {
		return fmt.Errorf("seed apis: %w", err)
	}
	repo := rbacSvc.Repo()

	menuIDs, err := seedMenus(ctx, repo)
	if err != nil {
		return fmt.Errorf("seed menus: %w", err)
	}

	adminRole, created, err := ensureRole(ctx, rbacSvc, AdminRoleName, "full administrative access")
	if err != nil {
		return err
	}
	if created {
		apis, err := repo.AllAPIs(ctx)
		if err != nil {
			return err
		}
		apiIDs := make([]int64, len(apis))
		for i, a := range apis {
			apiIDs[i] = a.ID
		}
		if err := repo.GrantAPIsToRole(ctx, adminRole.ID, apiIDs); err != nil {
			return err
		}
		if err := repo.GrantMenusToRole(ctx, adminRole.ID, menuIDs); err != nil {
			return err
		}
	}

	defaultRole, created, err := ensureRole(ctx, rbacSvc, DefaultRoleName, "default member access")
	if err != nil {
		return err
	}
	if created {
		basicIDs, err := repo.BasicAPIIDs(ctx, "basic")
		if err != nil {
			return err
		}
		if err := repo.GrantAPIsToRole(ctx, defaultRole.ID, basicIDs); err != nil {
			return err
		}
	}

	if err := seedSuperuser(ctx, users, logger); err != nil {
		return err
	}
	return nil
}

func ensureRole(ctx context.Context, svc *rbac.Service, name, desc string) (*rbacentity.Role, bool, error) {
	role, err := svc.Repo().GetRoleByName(ctx, name)
	if err == nil {
		return role, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	role, err = svc.CreateRole(ctx, name, &desc)
	if err != nil {
		return nil, false, err
	}
	return role, true, nil
}

// seedMenus installs the system management tree and returns every menu id
// currently present.
func seedMenus(ctx context.Context, repo *rbacrepo.RBACRepo) ([]int64, error) {
	existing, err := repo.AllMenus(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		icon := "setting"
		root := &rbacentity.Menu{
			Name:      "System",
			Path:      "/system",
			Component: "Layout",
			OrderNo:   1,
			Icon:      &icon,
		}
		rootID, err := repo.CreateMenu(ctx, root)
		if err != nil {
			return nil, err
		}
		children := []rbacentity.Menu{
			{Name: "Users", Path: "user", Component: "system/user", OrderNo: 1, ParentID: rootID},
			{Name: "Roles", Path: "role", Component: "system/role", OrderNo: 2, ParentID: rootID},
			{Name: "Menus", Path: "menu", Component: "system/menu", OrderNo: 3, ParentID: rootID},
			{Name: "APIs", Path: "api", Component: "system/api", OrderNo: 4, ParentID: rootID},
			{Name: "Audit Log", Path: "auditlog", Component: "system/auditlog", OrderNo: 5, ParentID: rootID},
		}
		for i := range children {
			if _, err := repo.CreateMenu(ctx, &children[i]); err != nil {
				return nil, err
			}
		}
		existing, err = repo.AllMenus(ctx)
		if err != nil {
			return nil, err
		}
	}
	ids := make([]int64, len(existing))
	for i, m := range existing {
		ids[i] = m.ID
	}
	return ids, nil
}

func seedSuperuser(ctx context.Context, users *user.Service, logger *zap.SugaredLogger) error {
	if _, err := users.Repo().GetByUsername(ctx, InitialSuperuser); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	password := os.Getenv(superuserPassword)
	if password == "" {
		password = "123456"
		logger.Warnw("initial superuser created with default password, change it",
			"username", InitialSuperuser)
	}
	email := "admin@example.com"
	_, err := users.CreateUser(ctx, user.Input{
		Username:    InitialSuperuser,
		Email:       &email,
		Password:    password,
		IsActive:    true,
		IsSuperuser: true,
	})
	if err != nil && !errors.Is(err, user.ErrUserExists) {
		return fmt.Errorf("seed superuser: %w", err)
	}
	return nil
}
