// Package db contains database query helpers for managervnc.
package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// newID returns a time-ordered UUID so ties on created_at sort by
// insertion order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GetConfig fetches a single config key from the database.
// The boolean indicates whether the key exists.
func (d *DB) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.queryRow(ctx, d.sql, "SELECT value FROM config WHERE key = ?", key).Scan(&v)
	if err == nil {
		return v, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return "", false, err
}

// SetConfig upserts a config key/value pair and updates its timestamp.
func (d *DB) SetConfig(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("config key is required")
	}
	_, err := d.exec(ctx, d.sql, `
INSERT INTO config(key, value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, key, value, d.nowMillis())
	return err
}

// IsInitialized reports whether setup has completed.
func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	v, ok, err := d.GetConfig(ctx, "initialized")
	if err != nil {
		return false, err
	}
	return ok && v == "1", nil
}

// SetInitialized marks the database as setup-complete.
func (d *DB) SetInitialized(ctx context.Context) error {
	return d.SetConfig(ctx, "initialized", "1")
}

const userColumns = `id, email, password_hash, role, can_manage_shared, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var canManage int
	if err := row.Scan(&u.ID, &u.Email, &u.PassHash, &u.Role, &canManage, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.CanManageShared = canManage != 0
	return &u, nil
}

// CreateUser inserts a new user. A duplicate email fails with a unique
// violation (see IsUniqueViolation).
func (d *DB) CreateUser(ctx context.Context, email, passHash, role string, canManageShared bool) (*User, error) {
	if email == "" || passHash == "" || role == "" {
		return nil, errors.New("email, password hash, and role are required")
	}
	now := d.nowMillis()
	u := &User{
		ID:              newID(),
		Email:           email,
		PassHash:        passHash,
		Role:            role,
		CanManageShared: canManageShared,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := d.exec(ctx, d.sql, `
INSERT INTO users(id, email, password_hash, role, can_manage_shared, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, u.ID, u.Email, u.PassHash, u.Role, boolToInt(canManageShared), now, now)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateUser changes role and/or the sharing flag. Nil arguments are left
// untouched. The boolean is false when no such user exists.
func (d *DB) UpdateUser(ctx context.Context, id string, role *string, canManageShared *bool) (*User, bool, error) {
	if id == "" {
		return nil, false, errors.New("invalid user id")
	}
	var out *User
	var found bool
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		q := "UPDATE users SET updated_at=?"
		args := []any{d.nowMillis()}
		if role != nil {
			q += ", role=?"
			args = append(args, *role)
		}
		if canManageShared != nil {
			q += ", can_manage_shared=?"
			args = append(args, boolToInt(*canManageShared))
		}
		q += " WHERE id=?"
		args = append(args, id)
		res, err := d.exec(ctx, tx, q, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		out, err = scanUser(d.queryRow(ctx, tx, "SELECT "+userColumns+" FROM users WHERE id=?", id))
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

// SetUserPasswordHash updates a user's password hash.
func (d *DB) SetUserPasswordHash(ctx context.Context, id string, passHash string) error {
	if id == "" {
		return errors.New("invalid user id")
	}
	if passHash == "" {
		return errors.New("password hash is required")
	}
	_, err := d.exec(ctx, d.sql, `UPDATE users SET password_hash=?, updated_at=? WHERE id=?`, passHash, d.nowMillis(), id)
	return err
}

// DeleteUser removes a user by ID. Their personal machines, favorites,
// activity and sessions go with them.
func (d *DB) DeleteUser(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("invalid user id")
	}
	res, err := d.exec(ctx, d.sql, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetUserByEmail looks up a user by (lower-cased) email.
func (d *DB) GetUserByEmail(ctx context.Context, email string) (*User, bool, error) {
	return d.getUser(ctx, "email", email)
}

// GetUserByID looks up a user by ID.
func (d *DB) GetUserByID(ctx context.Context, id string) (*User, bool, error) {
	return d.getUser(ctx, "id", id)
}

func (d *DB) getUser(ctx context.Context, col, v string) (*User, bool, error) {
	u, err := scanUser(d.queryRow(ctx, d.sql, "SELECT "+userColumns+" FROM users WHERE "+col+"=?", v))
	if err == nil {
		return u, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	return nil, false, err
}

// ListUsers returns all users, newest first.
func (d *DB) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := d.query(ctx, d.sql, "SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession records an issued token id.
func (d *DB) CreateSession(ctx context.Context, tokenID, userID string, expiresAt time.Time) error {
	if tokenID == "" || userID == "" {
		return errors.New("invalid session")
	}
	_, err := d.exec(ctx, d.sql, `
INSERT INTO sessions(token_id, user_id, created_at, expires_at)
VALUES(?, ?, ?, ?)
`, tokenID, userID, d.nowMillis(), expiresAt.UnixMilli())
	return err
}

// GetSession looks up a live session by token id. Expired rows count as
// missing.
func (d *DB) GetSession(ctx context.Context, tokenID string) (*Session, bool, error) {
	var s Session
	err := d.queryRow(ctx, d.sql, `
SELECT token_id, user_id, created_at, expires_at FROM sessions WHERE token_id=? AND expires_at > ?
`, tokenID, d.nowMillis()).Scan(&s.TokenID, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if err == nil {
		return &s, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	return nil, false, err
}

// DeleteSession revokes a session by token id.
func (d *DB) DeleteSession(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return errors.New("token id is required")
	}
	_, err := d.exec(ctx, d.sql, `DELETE FROM sessions WHERE token_id=?`, tokenID)
	return err
}

// DeleteUserSessions revokes every session of a user except keepTokenID.
func (d *DB) DeleteUserSessions(ctx context.Context, userID, keepTokenID string) (int64, error) {
	res, err := d.exec(ctx, d.sql, `DELETE FROM sessions WHERE user_id=? AND token_id<>?`, userID, keepTokenID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredSessions deletes sessions that expired at or before now.
func (d *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.exec(ctx, d.sql, `DELETE FROM sessions WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// boolToInt maps booleans to portable integer flags.
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
