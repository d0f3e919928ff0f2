package user

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
	rbacentity "github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/entity"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/verification"
)

// DefaultRoleName is granted to every self-registered account.
const DefaultRoleName = "user"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("username, email or phone already taken")
	ErrBadCredentials     = errors.New("invalid credentials")
	ErrDisabled           = errors.New("account disabled")
	ErrSuperuserProtected = errors.New("operation not allowed on a superuser")
)

// PasswordHasher abstracts the hash so it can move off bcrypt without
// touching the flows.
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	return string(h), err
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// RoleDirectory is the slice of the RBAC store the user flows need.
type RoleDirectory interface {
	GetRoleByName(ctx context.Context, name string) (*rbacentity.Role, error)
}

// Store is the persistence surface the service needs. *userrepo.UserRepo
// satisfies it.
type Store interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByPhone(ctx context.Context, phone string) (*entity.User, error)
	List(ctx context.Context, f entity.ListFilter, page, pageSize int) (int64, []entity.User, error)
	UpdateProfile(ctx context.Context, u *entity.User) error
	UpdateAccount(ctx context.Context, u *entity.User) error
	SetPassword(ctx context.Context, id int64, hash string) error
	TouchLastLogin(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error
	RoleIDs(ctx context.Context, userID int64) ([]int64, error)
}

// Service orchestrates registration, authentication and the admin user
// lifecycle. Every mutation of a user row or its role bindings purges the
// derived cache entries for that user.
type Service struct {
	repo   Store
	hasher PasswordHasher
	codes  *verification.CodeStore
	roles  RoleDirectory
	inv    *cache.Invalidator
	logger *zap.SugaredLogger
}

func NewService(repo Store, hasher PasswordHasher, codes *verification.CodeStore, roles RoleDirectory, inv *cache.Invalidator, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &Service{repo: repo, hasher: hasher, codes: codes, roles: roles, inv: inv, logger: logger}
}

func (s *Service) Repo() Store { return s.repo }

// Register creates a self-service account gated by an email verification
// code and binds it to the default role.
func (s *Service) Register(ctx context.Context, username, password, email, code string) (*entity.User, error) {
	if err := s.codes.Consume(ctx, email, code); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, username, &email, nil); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u := &entity.User{
		Username: username,
		Email:    &email,
		Password: hash,
		IsActive: true,
	}
	if _, err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	role, err := s.roles.GetRoleByName(ctx, DefaultRoleName)
	if err != nil {
		s.logger.Warnw("default role missing, account created without grants",
			"username", username, "err", err)
		return u, nil
	}
	if err := s.repo.ReplaceRoles(ctx, u.ID, []int64{role.ID}); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate checks credentials against username, email or phone. The
// disabled check runs before the password so a locked account can never
// probe which of the two failed.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*entity.User, error) {
	u, err := s.lookup(ctx, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrDisabled
	}
	if !s.hasher.Verify(u.Password, password) {
		return nil, ErrBadCredentials
	}
	if err := s.repo.TouchLastLogin(ctx, u.ID); err != nil {
		s.logger.Warnw("last_login update failed", "user_id", u.ID, "err", err)
	}
	return u, nil
}

// Input is the admin-facing create/update payload.
type Input struct {
	Username    string
	Alias       *string
	Email       *string
	Phone       *string
	Password    string
	Avatar      *string
	Bio         *string
	IsActive    bool
	IsSuperuser bool
	RoleIDs     []int64
}

func (s *Service) CreateUser(ctx context.Context, in Input) (*entity.User, error) {
	if err := s.checkUnique(ctx, in.Username, in.Email, in.Phone); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &entity.User{
		Username:    in.Username,
		Alias:       in.Alias,
		Email:       in.Email,
		Phone:       in.Phone,
		Password:    hash,
		Avatar:      in.Avatar,
		Bio:         in.Bio,
		IsActive:    in.IsActive,
		IsSuperuser: in.IsSuperuser,
	}
	if _, err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	if len(in.RoleIDs) > 0 {
		if err := s.repo.ReplaceRoles(ctx, u.ID, in.RoleIDs); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*entity.ListItem, error) {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	roleIDs, err := s.repo.RoleIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &entity.ListItem{User: *u, RoleIDs: roleIDs}, nil
}

func (s *Service) ListUsers(ctx context.Context, f entity.ListFilter, page, pageSize int) (int64, []entity.ListItem, error) {
	total, users, err := s.repo.List(ctx, f, page, pageSize)
	if err != nil {
		return 0, nil, err
	}
	items := make([]entity.ListItem, len(users))
	for i, u := range users {
		roleIDs, err := s.repo.RoleIDs(ctx, u.ID)
		if err != nil {
			return 0, nil, err
		}
		items[i] = entity.ListItem{User: u, RoleIDs: roleIDs}
	}
	return total, items, nil
}

// UpdateUser rewrites the account row (profile plus the is_active and
// is_superuser flags) and, when role ids are given, replaces the role
// bindings in full. Both paths purge the user's derived cache entries.
func (s *Service) UpdateUser(ctx context.Context, id int64, in Input) error {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	u.Username = in.Username
	u.Alias = in.Alias
	u.Email = in.Email
	u.Phone = in.Phone
	u.Avatar = in.Avatar
	u.Bio = in.Bio
	u.IsActive = in.IsActive
	u.IsSuperuser = in.IsSuperuser
	if err := s.repo.UpdateAccount(ctx, u); err != nil {
		return err
	}
	if in.RoleIDs != nil {
		if err := s.repo.ReplaceRoles(ctx, id, in.RoleIDs); err != nil {
			return err
		}
	}
	s.inv.UserScope(ctx, id)
	return nil
}

// ReplaceRoles swaps a user's role set (replace-all) and purges the user's
// derived cache entries so a revoked role stops working immediately.
func (s *Service) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.ReplaceRoles(ctx, userID, roleIDs); err != nil {
		return err
	}
	s.inv.UserScope(ctx, userID)
	return nil
}

func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if u.IsSuperuser {
		return ErrSuperuserProtected
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.inv.UserScope(ctx, id)
	return nil
}

// ResetPassword is the admin path: it sets a password directly, but never
// on a superuser account.
func (s *Service) ResetPassword(ctx context.Context, targetID int64, newPassword string) error {
	u, err := s.repo.GetByID(ctx, targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if u.IsSuperuser {
		return ErrSuperuserProtected
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.SetPassword(ctx, targetID, hash); err != nil {
		return err
	}
	s.inv.UserScope(ctx, targetID)
	return nil
}

// UpdatePassword is the self-service path, gated by an email code.
func (s *Service) UpdatePassword(ctx context.Context, email, code, newPassword string) error {
	if err := s.codes.Consume(ctx, email, code); err != nil {
		return err
	}
	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.SetPassword(ctx, u.ID, hash); err != nil {
		return err
	}
	s.inv.UserScope(ctx, u.ID)
	return nil
}

// UpdateProfile is the self-service profile edit; account flags are not
// reachable from here.
func (s *Service) UpdateProfile(ctx context.Context, id int64, alias, email, phone, avatar, bio *string) error {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if alias != nil {
		u.Alias = alias
	}
	if email != nil {
		u.Email = email
	}
	if phone != nil {
		u.Phone = phone
	}
	if avatar != nil {
		u.Avatar = avatar
	}
	if bio != nil {
		u.Bio = bio
	}
	if err := s.repo.UpdateProfile(ctx, u); err != nil {
		return err
	}
	s.inv.UserScope(ctx, id)
	return nil
}

func (s *Service) lookup(ctx context.Context, identifier string) (*entity.User, error) {
	u, err := s.repo.GetByUsername(ctx, identifier)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	u, err = s.repo.GetByEmail(ctx, identifier)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return s.repo.GetByPhone(ctx, identifier)
}

func (s *Service) checkUnique(ctx context.Context, username string, email, phone *string) error {
	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return ErrUserExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if email != nil && *email != "" {
		if _, err := s.repo.GetByEmail(ctx, *email); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	if phone != nil && *phone != "" {
		if _, err := s.repo.GetByPhone(ctx, *phone); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	return nil
}
