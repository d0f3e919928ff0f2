package user

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
	rbacentity "github.com/ovaphlow/pitchfork/service-admin-go/internal/rbac/entity"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-admin-go/internal/verification"
)

// fakeStore keeps users in memory. The two update methods copy exactly the
// columns their SQL counterparts write, so a field the query omits cannot
// sneak through in tests.
type fakeStore struct {
	users  map[int64]*entity.User
	roles  map[int64][]int64
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]*entity.User{}, roles: map[int64][]int64{}}
}

func (f *fakeStore) Create(_ context.Context, u *entity.User) (int64, error) {
	f.nextID++
	u.ID = f.nextID
	cp := *u
	f.users[u.ID] = &cp
	return u.ID, nil
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*entity.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetByUsername(_ context.Context, username string) (*entity.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	for _, u := range f.users {
		if u.Email != nil && *u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) GetByPhone(_ context.Context, phone string) (*entity.User, error) {
	for _, u := range f.users {
		if u.Phone != nil && *u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) List(_ context.Context, _ entity.ListFilter, _, _ int) (int64, []entity.User, error) {
	rows := []entity.User{}
	for _, u := range f.users {
		rows = append(rows, *u)
	}
	return int64(len(rows)), rows, nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, u *entity.User) error {
	row, ok := f.users[u.ID]
	if !ok {
		return sql.ErrNoRows
	}
	row.Username = u.Username
	row.Alias = u.Alias
	row.Email = u.Email
	row.Phone = u.Phone
	row.Avatar = u.Avatar
	row.Bio = u.Bio
	return nil
}

func (f *fakeStore) UpdateAccount(_ context.Context, u *entity.User) error {
	if err := f.UpdateProfile(context.Background(), u); err != nil {
		return err
	}
	row := f.users[u.ID]
	row.IsActive = u.IsActive
	row.IsSuperuser = u.IsSuperuser
	return nil
}

func (f *fakeStore) SetPassword(_ context.Context, id int64, hash string) error {
	row, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	row.Password = hash
	return nil
}

func (f *fakeStore) TouchLastLogin(_ context.Context, id int64) error {
	now := time.Now()
	if row, ok := f.users[id]; ok {
		row.LastLogin = &now
	}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id int64) error {
	delete(f.users, id)
	delete(f.roles, id)
	return nil
}

func (f *fakeStore) ReplaceRoles(_ context.Context, userID int64, roleIDs []int64) error {
	f.roles[userID] = append([]int64{}, roleIDs...)
	return nil
}

func (f *fakeStore) RoleIDs(_ context.Context, userID int64) ([]int64, error) {
	return append([]int64{}, f.roles[userID]...), nil
}

type fakeRoles struct {
	byName map[string]*rbacentity.Role
}

func (f *fakeRoles) GetRoleByName(_ context.Context, name string) (*rbacentity.Role, error) {
	if r, ok := f.byName[name]; ok {
		return r, nil
	}
	return nil, sql.ErrNoRows
}

func newTestService(t *testing.T) (*Service, *fakeStore, *cache.KeyStore, *verification.CodeStore) {
	t.Helper()
	backend := cache.NewMemoryBackend()
	t.Cleanup(func() { backend.Close() })
	ks := cache.NewKeyStore(backend, zap.NewNop().Sugar())
	codes := verification.NewCodeStore(ks)
	store := newFakeStore()
	roles := &fakeRoles{byName: map[string]*rbacentity.Role{
		DefaultRoleName: {ID: 1, Name: DefaultRoleName},
	}}
	svc := NewService(store, BcryptHasher{Cost: bcrypt.MinCost}, codes, roles,
		cache.NewInvalidator(ks), zap.NewNop().Sugar())
	return svc, store, ks, codes
}

func seedUser(t *testing.T, svc *Service, username string, superuser bool) *entity.User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), Input{
		Username:    username,
		Password:    "secret",
		IsActive:    true,
		IsSuperuser: superuser,
	})
	require.NoError(t, err)
	return u
}

func TestUpdateUserChangesSuperuserFlag(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "carol", false)

	require.NoError(t, svc.UpdateUser(ctx, u.ID, Input{
		Username:    "carol",
		IsActive:    true,
		IsSuperuser: true,
	}))
	assert.True(t, store.users[u.ID].IsSuperuser)

	require.NoError(t, svc.UpdateUser(ctx, u.ID, Input{
		Username: "carol",
		IsActive: true,
	}))
	assert.False(t, store.users[u.ID].IsSuperuser)
}

func TestSelfServiceProfileLeavesFlagsAlone(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "root", true)

	alias := "the boss"
	require.NoError(t, svc.UpdateProfile(ctx, u.ID, &alias, nil, nil, nil, nil))

	row := store.users[u.ID]
	assert.Equal(t, &alias, row.Alias)
	assert.True(t, row.IsSuperuser)
	assert.True(t, row.IsActive)
}

func TestReplaceRolesPurgesUserScope(t *testing.T) {
	svc, store, ks, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "dave", false)

	for _, k := range []string{
		cache.UserPermissionsKey(u.ID), cache.UserMenusKey(u.ID), cache.UserNotesKey(u.ID),
	} {
		require.True(t, ks.Set(ctx, k, "cached", time.Hour))
	}

	require.NoError(t, svc.ReplaceRoles(ctx, u.ID, []int64{4, 5}))

	assert.Equal(t, []int64{4, 5}, store.roles[u.ID])
	var v string
	assert.False(t, ks.Get(ctx, cache.UserPermissionsKey(u.ID), &v))
	assert.False(t, ks.Get(ctx, cache.UserMenusKey(u.ID), &v))
	assert.False(t, ks.Get(ctx, cache.UserNotesKey(u.ID), &v))
}

func TestRegisterGrantsDefaultRole(t *testing.T) {
	svc, store, _, codes := newTestService(t)
	ctx := context.Background()

	code, err := codes.Issue(ctx, "eve@example.com")
	require.NoError(t, err)

	u, err := svc.Register(ctx, "eve", "secret", "eve@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, store.roles[u.ID])

	// the code is single-use
	_, err = svc.Register(ctx, "eve2", "secret", "eve@example.com", code)
	require.Error(t, err)
}

func TestAuthenticateDisabledBeforePassword(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "frank", false)
	store.users[u.ID].IsActive = false

	_, err := svc.Authenticate(ctx, "frank", "wrong-password")
	assert.ErrorIs(t, err, ErrDisabled)

	store.users[u.ID].IsActive = true
	_, err = svc.Authenticate(ctx, "frank", "wrong-password")
	assert.ErrorIs(t, err, ErrBadCredentials)

	got, err := svc.Authenticate(ctx, "frank", "secret")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}
