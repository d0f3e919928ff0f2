package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/query"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/user/entity"
)

// UserRepo provides data access for the users table and the user_role join
// table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users and user_role tables if they do not exist
// (idempotent). Prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  alias TEXT,
  email TEXT,
  phone TEXT,
  password TEXT NOT NULL DEFAULT '',
  avatar TEXT,
  bio TEXT,
  is_active BOOLEAN NOT NULL DEFAULT true,
  is_superuser BOOLEAN NOT NULL DEFAULT false,
  last_login TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_users_phone ON users(phone);
CREATE TABLE IF NOT EXISTS user_role (
  user_id BIGINT NOT NULL,
  role_id BIGINT NOT NULL,
  PRIMARY KEY (user_id, role_id)
);
CREATE INDEX IF NOT EXISTS idx_user_role_role ON user_role(role_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const userColumns = `id, username, alias, email, phone, password, avatar, bio,
	is_active, is_superuser, last_login, created_at, updated_at`

// Create inserts a new user row and returns the new id.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	const q = `INSERT INTO users (username, alias, email, phone, password, avatar, bio, is_active, is_superuser)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`
	if err := r.db.GetContext(ctx, &u.ID, q,
		u.Username, u.Alias, u.Email, u.Phone, u.Password, u.Avatar, u.Bio, u.IsActive, u.IsSuperuser); err != nil {
		return 0, err
	}
	return u.ID, nil
}

// GetByID fetches a full user row or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE username=$1`, username); err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE email=$1`, email); err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE phone=$1`, phone); err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns one page of users matching the filter, newest first, plus
// the total match count.
func (r *UserRepo) List(ctx context.Context, f entity.ListFilter, page, pageSize int) (int64, []entity.User, error) {
	b := query.New()
	if f.Username != "" {
		b.Contains("username", f.Username)
	}
	if f.Email != "" {
		b.Contains("email", f.Email)
	}
	if f.Phone != "" {
		b.Contains("phone", f.Phone)
	}
	if f.IsActive != nil {
		b.Eq("is_active", *f.IsActive)
	}
	if f.StartTime != "" {
		b.Gte("created_at", f.StartTime)
	}
	if f.EndTime != "" {
		b.Lte("created_at", f.EndTime)
	}
	where, args := b.Where()

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users `+where, args...); err != nil {
		return 0, nil, err
	}

	q := fmt.Sprintf(`SELECT %s FROM users %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, b.NextArg(), b.NextArg()+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows := []entity.User{}
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return 0, nil, err
	}
	return total, rows, nil
}

// UpdateProfile updates the mutable profile columns of a user row. The
// account flags (is_active, is_superuser) are out of reach here; the admin
// path goes through UpdateAccount.
func (r *UserRepo) UpdateProfile(ctx context.Context, u *entity.User) error {
	const q = `UPDATE users SET username=$2, alias=$3, email=$4, phone=$5, avatar=$6, bio=$7,
		updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, u.ID, u.Username, u.Alias, u.Email, u.Phone, u.Avatar, u.Bio)
	return err
}

// UpdateAccount rewrites the profile columns plus the account flags,
// including the superuser bit. Admin-only.
func (r *UserRepo) UpdateAccount(ctx context.Context, u *entity.User) error {
	const q = `UPDATE users SET username=$2, alias=$3, email=$4, phone=$5, avatar=$6, bio=$7,
		is_active=$8, is_superuser=$9, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q,
		u.ID, u.Username, u.Alias, u.Email, u.Phone, u.Avatar, u.Bio, u.IsActive, u.IsSuperuser)
	return err
}

// SetPassword stores a new password hash.
func (r *UserRepo) SetPassword(ctx context.Context, id int64, hash string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET password=$2, updated_at=NOW() WHERE id=$1`, id, hash)
	return err
}

// TouchLastLogin stamps a successful authentication.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login=NOW(), updated_at=NOW() WHERE id=$1`, id)
	return err
}

// Delete removes a user row and its role edges in one transaction.
func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_role WHERE user_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceRoles clears the user's role assignments and re-adds the given
// set. Clear and add run in one transaction so a failure cannot strand a
// partial assignment.
func (r *UserRepo) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_role WHERE user_id=$1`, userID); err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_role (user_id, role_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			userID, roleID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RoleIDs returns the ids of the roles assigned to a user.
func (r *UserRepo) RoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT role_id FROM user_role WHERE user_id=$1 ORDER BY role_id`, userID); err != nil {
		return nil, err
	}
	return ids, nil
}
