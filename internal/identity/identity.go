// Package identity owns user accounts: registration, login, bearer token
// sessions and admin user management.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"managervnc/internal/apperr"
	"managervnc/internal/auth"
	"managervnc/internal/db"
	"managervnc/internal/policy"
	"managervnc/internal/validate"
)

const (
	msgInvalidCredentials = "invalid email or password"
	msgEmailTaken         = "user with this email already exists"
	msgUserNotFound       = "user not found"
	msgOwnRole            = "cannot change your own role"
	msgOwnAccount         = "cannot delete your own account"
	msgNoToken            = "no token provided"
	msgInvalidToken       = "invalid token"
	msgWrongPassword      = "current password is incorrect"
)

// User is the public view of an account.
type User struct {
	ID                      string    `json:"id"`
	Email                   string    `json:"email"`
	Role                    string    `json:"role"`
	CanManageSharedMachines bool      `json:"canManageSharedMachines"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

func toUser(u *db.User) User {
	return User{
		ID:                      u.ID,
		Email:                   u.Email,
		Role:                    u.Role,
		CanManageSharedMachines: u.CanManageShared,
		CreatedAt:               time.UnixMilli(u.CreatedAt).UTC(),
		UpdatedAt:               time.UnixMilli(u.UpdatedAt).UTC(),
	}
}

// Actor converts u into the authorization view.
func (u User) Actor() policy.Actor {
	return policy.Actor{
		ID:                      u.ID,
		Email:                   u.Email,
		Role:                    policy.Role(u.Role),
		CanManageSharedMachines: u.CanManageSharedMachines,
	}
}

// Session is a freshly issued bearer token.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Principal is an authenticated request's identity.
type Principal struct {
	Actor   policy.Actor
	TokenID string
}

// Service implements account operations on top of the database.
type Service struct {
	DB     *db.DB
	Tokens *auth.Issuer
	Argon  auth.Argon2Params
	Log    *slog.Logger
}

// New builds a Service with default hashing parameters.
func New(d *db.DB, tokens *auth.Issuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{DB: d, Tokens: tokens, Argon: auth.DefaultArgon2Params(), Log: logger}
}

// Register creates a USER account without the sharing capability and
// signs it in.
func (s *Service) Register(ctx context.Context, email, password string) (*Session, error) {
	email, err := validate.Email(email)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if err := validate.Password(password); err != nil {
		return nil, apperr.Validation(err.Error())
	}
	hash, err := auth.HashPassword(password, s.Argon)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	u, err := s.DB.CreateUser(ctx, email, hash, string(policy.RoleUser), false)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict(msgEmailTaken)
		}
		return nil, apperr.Internal(err)
	}
	s.Log.Info("user registered", "user_id", u.ID)
	return s.issue(ctx, u)
}

// Login checks credentials and issues a token. Unknown email and wrong
// password are indistinguishable to the caller. Legacy bcrypt hashes are
// upgraded to argon2id on success.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := validate.Email(email)
	if err != nil {
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}
	u, ok, err := s.DB.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}
	match, err := auth.VerifyPassword(password, u.PassHash)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !match {
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}
	if auth.NeedsRehash(u.PassHash, s.Argon) {
		if h, err := auth.HashPassword(password, s.Argon); err == nil {
			if err := s.DB.SetUserPasswordHash(ctx, u.ID, h); err != nil {
				s.Log.Warn("password rehash failed", "user_id", u.ID, "err", err)
			}
		}
	}
	return s.issue(ctx, u)
}

func (s *Service) issue(ctx context.Context, u *db.User) (*Session, error) {
	tok, claims, err := s.Tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	exp := claims.ExpiresAt.Time
	if err := s.DB.CreateSession(ctx, claims.ID, u.ID, exp); err != nil {
		return nil, apperr.Internal(err)
	}
	return &Session{Token: tok, ExpiresAt: exp.UTC(), User: toUser(u)}, nil
}

// Authenticate resolves a bearer token to the current state of its user.
// Role and sharing flag come from storage, not from the token, so admin
// changes apply immediately.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, apperr.Unauthorized(msgNoToken)
	}
	claims, err := s.Tokens.Parse(token)
	if err != nil {
		return nil, apperr.Unauthorized(msgInvalidToken)
	}
	if _, ok, err := s.DB.GetSession(ctx, claims.ID); err != nil {
		return nil, apperr.Internal(err)
	} else if !ok {
		return nil, apperr.Unauthorized(msgInvalidToken)
	}
	u, ok, err := s.DB.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.Unauthorized(msgInvalidToken)
	}
	return &Principal{Actor: toUser(u).Actor(), TokenID: claims.ID}, nil
}

// Logout revokes the token's session.
func (s *Service) Logout(ctx context.Context, p *Principal) error {
	if err := s.DB.DeleteSession(ctx, p.TokenID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Me returns the actor's account.
func (s *Service) Me(ctx context.Context, a policy.Actor) (*User, error) {
	u, ok, err := s.DB.GetUserByID(ctx, a.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.NotFound(msgUserNotFound)
	}
	out := toUser(u)
	return &out, nil
}

// ChangePassword replaces the actor's password and revokes their other
// sessions.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, current, next string) error {
	if err := validate.Password(next); err != nil {
		return apperr.Validation(err.Error())
	}
	u, ok, err := s.DB.GetUserByID(ctx, p.Actor.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.NotFound(msgUserNotFound)
	}
	match, err := auth.VerifyPassword(current, u.PassHash)
	if err != nil {
		return apperr.Internal(err)
	}
	if !match {
		return apperr.Validation(msgWrongPassword)
	}
	hash, err := auth.HashPassword(next, s.Argon)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.DB.SetUserPasswordHash(ctx, u.ID, hash); err != nil {
		return apperr.Internal(err)
	}
	n, err := s.DB.DeleteUserSessions(ctx, u.ID, p.TokenID)
	if err != nil {
		return apperr.Internal(err)
	}
	s.Log.Info("password changed", "user_id", u.ID, "revoked_sessions", n)
	return nil
}

func requireAdmin(a policy.Actor) error {
	if !a.IsAdmin() {
		return apperr.Forbidden(policy.ReasonAdminRequired)
	}
	return nil
}

// ListUsers returns every account, newest first. Admin only.
func (s *Service) ListUsers(ctx context.Context, a policy.Actor) ([]User, error) {
	if err := requireAdmin(a); err != nil {
		return nil, err
	}
	users, err := s.DB.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]User, 0, len(users))
	for i := range users {
		out = append(out, toUser(&users[i]))
	}
	return out, nil
}

// UserPatch carries the admin-editable fields. Nil leaves a field as is.
type UserPatch struct {
	Role                    *policy.Role
	CanManageSharedMachines *bool
}

// UpdateUser changes another user's role or sharing flag. Admin only; an
// admin cannot change their own role.
func (s *Service) UpdateUser(ctx context.Context, a policy.Actor, id string, p UserPatch) (*User, error) {
	if err := requireAdmin(a); err != nil {
		return nil, err
	}
	if p.Role != nil && id == a.ID {
		return nil, apperr.Validation(msgOwnRole)
	}
	var role *string
	if p.Role != nil {
		if !p.Role.Valid() {
			return nil, apperr.Validation("role must be USER or ADMIN")
		}
		r := string(*p.Role)
		role = &r
	}
	u, ok, err := s.DB.UpdateUser(ctx, id, role, p.CanManageSharedMachines)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.NotFound(msgUserNotFound)
	}
	s.Log.Info("user updated", "user_id", id, "by", a.ID)
	out := toUser(u)
	return &out, nil
}

// DeleteUser removes another user's account. Admin only; never self.
func (s *Service) DeleteUser(ctx context.Context, a policy.Actor, id string) error {
	if err := requireAdmin(a); err != nil {
		return err
	}
	if id == a.ID {
		return apperr.Validation(msgOwnAccount)
	}
	ok, err := s.DB.DeleteUser(ctx, id)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.NotFound(msgUserNotFound)
	}
	s.Log.Info("user deleted", "user_id", id, "by", a.ID)
	return nil
}

// EnsureAdmin creates an ADMIN account for email unless one exists.
// created reports whether a new account was made.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (u *User, created bool, err error) {
	email, err = validate.Email(email)
	if err != nil {
		return nil, false, apperr.Validation(err.Error())
	}
	existing, ok, err := s.DB.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	if ok {
		out := toUser(existing)
		return &out, false, nil
	}
	if err := validate.Password(password); err != nil {
		return nil, false, apperr.Validation(err.Error())
	}
	hash, err := auth.HashPassword(password, s.Argon)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	nu, err := s.DB.CreateUser(ctx, email, hash, string(policy.RoleAdmin), true)
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	out := toUser(nu)
	return &out, true, nil
}

// ResetPassword sets a new password for email without the current one and
// revokes all of the user's sessions. Used by the reset-admin command.
func (s *Service) ResetPassword(ctx context.Context, email, password string) error {
	email, err := validate.Email(email)
	if err != nil {
		return apperr.Validation(err.Error())
	}
	if err := validate.Password(password); err != nil {
		return apperr.Validation(err.Error())
	}
	u, ok, err := s.DB.GetUserByEmail(ctx, email)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.NotFound(msgUserNotFound)
	}
	hash, err := auth.HashPassword(password, s.Argon)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.DB.SetUserPasswordHash(ctx, u.ID, hash); err != nil {
		return apperr.Internal(err)
	}
	if _, err := s.DB.DeleteUserSessions(ctx, u.ID, ""); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// IsInvalidCredentials reports whether err is a login rejection.
func IsInvalidCredentials(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Kind == apperr.KindUnauthorized && e.Msg == msgInvalidCredentials
}
