package identity

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"managervnc/internal/apperr"
	"managervnc/internal/auth"
	"managervnc/internal/db"
	"managervnc/internal/policy"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	d, err := db.Open(context.Background(), t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	iss, err := auth.NewIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	s := New(d, iss, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Argon = auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}
	return s
}

func TestRegisterLoginAuthenticate(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	sess, err := s.Register(ctx, "  Alice@Example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", sess.User.Email)
	assert.Equal(t, "USER", sess.User.Role)
	assert.False(t, sess.User.CanManageSharedMachines)

	_, err = s.Register(ctx, "alice@example.com", "secret2")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	login, err := s.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	p, err := s.Authenticate(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, p.Actor.ID)
	assert.Equal(t, policy.RoleUser, p.Actor.Role)
}

func TestRegisterValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	_, err := s.Register(ctx, "not-an-email", "secret1")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = s.Register(ctx, "a@example.com", "123")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestLoginRejectsUniformly(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	_, err := s.Register(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	_, errWrong := s.Login(ctx, "a@example.com", "nope")
	_, errMissing := s.Login(ctx, "b@example.com", "secret1")
	assert.True(t, IsInvalidCredentials(errWrong))
	assert.True(t, IsInvalidCredentials(errMissing))
	assert.Equal(t, apperr.Message(errWrong), apperr.Message(errMissing))
}

func TestLoginUpgradesBcryptHash(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	h, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.MinCost)
	require.NoError(t, err)
	u, err := s.DB.CreateUser(ctx, "admin@example.com", string(h), "ADMIN", true)
	require.NoError(t, err)

	_, err = s.Login(ctx, "admin@example.com", "admin123")
	require.NoError(t, err)

	got, _, err := s.DB.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, auth.NeedsRehash(got.PassHash, auth.DefaultArgon2Params()))
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	sess, err := s.Register(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	p, err := s.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx, p))

	_, err = s.Authenticate(ctx, sess.Token)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestAuthenticateSeesRoleChanges(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	admin, _, err := s.EnsureAdmin(ctx, "admin@example.com", "admin123")
	require.NoError(t, err)
	sess, err := s.Register(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	yes := true
	_, err = s.UpdateUser(ctx, admin.Actor(), sess.User.ID, UserPatch{CanManageSharedMachines: &yes})
	require.NoError(t, err)

	p, err := s.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.True(t, p.Actor.CanManageShared())
}

func TestSelfProtection(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	admin, created, err := s.EnsureAdmin(ctx, "admin@example.com", "admin123")
	require.NoError(t, err)
	require.True(t, created)
	a := admin.Actor()

	role := policy.RoleUser
	_, err = s.UpdateUser(ctx, a, admin.ID, UserPatch{Role: &role})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "cannot change your own role", apperr.Message(err))

	// Changing only the flag on oneself is allowed.
	no := false
	_, err = s.UpdateUser(ctx, a, admin.ID, UserPatch{CanManageSharedMachines: &no})
	assert.NoError(t, err)

	err = s.DeleteUser(ctx, a, admin.ID)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "cannot delete your own account", apperr.Message(err))

	err = s.DeleteUser(ctx, a, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAdminOnlyOperations(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	sess, err := s.Register(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	_, err = s.ListUsers(ctx, sess.User.Actor())
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, policy.ReasonAdminRequired, apperr.Message(err))

	err = s.DeleteUser(ctx, sess.User.Actor(), "other")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	first, created, err := s.EnsureAdmin(ctx, "admin@example.com", "admin123")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ADMIN", first.Role)
	assert.True(t, first.CanManageSharedMachines)

	second, created, err := s.EnsureAdmin(ctx, "admin@example.com", "other-password")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	first, err := s.Register(ctx, "a@example.com", "secret1")
	require.NoError(t, err)
	second, err := s.Login(ctx, "a@example.com", "secret1")
	require.NoError(t, err)

	p, err := s.Authenticate(ctx, second.Token)
	require.NoError(t, err)

	err = s.ChangePassword(ctx, p, "wrong", "newsecret")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, s.ChangePassword(ctx, p, "secret1", "newsecret"))
	_, err = s.Authenticate(ctx, first.Token)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err = s.Authenticate(ctx, second.Token)
	assert.NoError(t, err)

	_, err = s.Login(ctx, "a@example.com", "newsecret")
	assert.NoError(t, err)
}
