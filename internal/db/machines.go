package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"managervnc/internal/policy"
)

// Pool narrows a machine listing.
type Pool int

const (
	PoolAll Pool = iota
	PoolShared
	PoolPersonal
)

// encodeLabels stores nil as NULL and anything else as a JSON array.
func encodeLabels(v []string) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

// decodeLabels surfaces NULL and unreadable values as an empty list.
func decodeLabels(s sql.NullString) []string {
	out := []string{}
	if !s.Valid || s.String == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s.String), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func nullString(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

// scopeClause turns a policy scope into a predicate on machines.owner_id.
func scopeClause(s policy.Scope) (string, []any) {
	var parts []string
	var args []any
	if s.Shared {
		parts = append(parts, "owner_id IS NULL")
	}
	if s.AnyPersonal {
		parts = append(parts, "owner_id IS NOT NULL")
	} else if s.OwnerID != "" {
		parts = append(parts, "owner_id = ?")
		args = append(args, s.OwnerID)
	}
	if len(parts) == 0 {
		return "(1 = 0)", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

const machineSelect = `
SELECT m.id, m.name, m.host, m.port, m.password, m.owner_id, m.notes, m.tags, m.groups_json,
       m.last_accessed, m.created_at, m.updated_at,
       CASE WHEN f.user_id IS NULL THEN 0 ELSE 1 END
FROM machines m
LEFT JOIN favorites f ON f.machine_id = m.id AND f.user_id = ?
`

func scanMachine(row interface{ Scan(...any) error }) (*Machine, error) {
	var m Machine
	var password, owner, notes, tags, groups sql.NullString
	var lastAccessed sql.NullInt64
	var fav int
	if err := row.Scan(&m.ID, &m.Name, &m.Host, &m.Port, &password, &owner, &notes, &tags, &groups,
		&lastAccessed, &m.CreatedAt, &m.UpdatedAt, &fav); err != nil {
		return nil, err
	}
	if password.Valid {
		m.Password = &password.String
	}
	if owner.Valid {
		m.OwnerID = &owner.String
	}
	if notes.Valid {
		m.Notes = &notes.String
	}
	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Int64
	}
	m.Tags = decodeLabels(tags)
	m.Groups = decodeLabels(groups)
	m.IsFavorite = fav != 0
	return &m, nil
}

func scanMachines(rows *sql.Rows) ([]Machine, error) {
	defer rows.Close()
	out := []Machine{}
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ListMachines returns the machines visible to viewerID in the given pool,
// newest first, flagged with the viewer's favorites.
func (d *DB) ListMachines(ctx context.Context, viewerID string, pool Pool) ([]Machine, error) {
	var where string
	args := []any{viewerID}
	switch pool {
	case PoolShared:
		where = "m.owner_id IS NULL"
	case PoolPersonal:
		where = "m.owner_id = ?"
		args = append(args, viewerID)
	default:
		where = "(m.owner_id IS NULL OR m.owner_id = ?)"
		args = append(args, viewerID)
	}
	rows, err := d.query(ctx, d.sql, machineSelect+"WHERE "+where+" ORDER BY m.created_at DESC, m.id DESC", args...)
	if err != nil {
		return nil, err
	}
	return scanMachines(rows)
}

// GetMachine loads a machine regardless of owner; callers apply policy.
// IsFavorite is computed for viewerID.
func (d *DB) GetMachine(ctx context.Context, id, viewerID string) (*Machine, bool, error) {
	return d.getMachine(ctx, d.sql, id, viewerID)
}

func (d *DB) getMachine(ctx context.Context, q querier, id, viewerID string) (*Machine, bool, error) {
	m, err := scanMachine(d.queryRow(ctx, q, machineSelect+"WHERE m.id = ?", viewerID, id))
	if err == nil {
		return m, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	return nil, false, err
}

// CreateMachine inserts a machine and its activity row (action, by actorID)
// in one transaction.
func (d *DB) CreateMachine(ctx context.Context, in NewMachine, actorID, action string) (*Machine, error) {
	if in.Name == "" || in.Host == "" {
		return nil, errors.New("name and host are required")
	}
	id := newID()
	var out *Machine
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		now := d.nowMillis()
		if _, err := d.exec(ctx, tx, `
INSERT INTO machines(id, name, host, port, password, owner_id, notes, tags, groups_json, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, id, in.Name, in.Host, in.Port, nullString(in.Password), nullString(in.OwnerID), nullString(in.Notes),
			encodeLabels(in.Tags), encodeLabels(in.Groups), now, now); err != nil {
			return err
		}
		if _, err := d.insertActivity(ctx, tx, actorID, id, action); err != nil {
			return err
		}
		m, ok, err := d.getMachine(ctx, tx, id, actorID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("machine vanished after insert")
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateMachine applies p to machine id only if the machine lies inside
// scope, in a single conditional UPDATE, and logs an "update" row by
// actorID. The boolean is false when nothing matched; the caller decides
// whether that means missing or forbidden.
func (d *DB) UpdateMachine(ctx context.Context, id string, p MachinePatch, scope policy.Scope, actorID string) (*Machine, bool, error) {
	var out *Machine
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		sets := []string{"updated_at = ?"}
		args := []any{d.nowMillis()}
		if p.Name != nil {
			sets = append(sets, "name = ?")
			args = append(args, *p.Name)
		}
		if p.Host != nil {
			sets = append(sets, "host = ?")
			args = append(args, *p.Host)
		}
		if p.Port != nil {
			sets = append(sets, "port = ?")
			args = append(args, *p.Port)
		}
		if p.Password != nil {
			sets = append(sets, "password = ?")
			args = append(args, nullString(p.Password))
		}
		if p.Notes != nil {
			sets = append(sets, "notes = ?")
			args = append(args, nullString(p.Notes))
		}
		if p.Tags != nil {
			sets = append(sets, "tags = ?")
			args = append(args, encodeLabels(*p.Tags))
		}
		if p.Groups != nil {
			sets = append(sets, "groups_json = ?")
			args = append(args, encodeLabels(*p.Groups))
		}
		if p.SetOwner {
			sets = append(sets, "owner_id = ?")
			args = append(args, nullString(p.OwnerID))
		}

		pred, predArgs := scopeClause(scope)
		q := "UPDATE machines SET " + strings.Join(sets, ", ") + " WHERE id = ? AND " + pred
		args = append(args, id)
		args = append(args, predArgs...)
		if p.SetOwner {
			if p.FromShared {
				q += " AND owner_id IS NULL"
			} else {
				q += " AND owner_id IS NOT NULL"
			}
		}

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
		if _, err := d.insertActivity(ctx, tx, actorID, id, "update"); err != nil {
			return err
		}
		m, ok, err := d.getMachine(ctx, tx, id, actorID)
		if err != nil {
			return err
		}
		if ok {
			out = m
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// DeleteMachine logs a "delete" row and then removes machine id if it lies
// inside scope, in one transaction. Favorites cascade; activity rows stay.
func (d *DB) DeleteMachine(ctx context.Context, id string, scope policy.Scope, actorID string) (bool, error) {
	errNoMatch := errors.New("no match")
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := d.insertActivity(ctx, tx, actorID, id, "delete"); err != nil {
			return err
		}
		pred, predArgs := scopeClause(scope)
		res, err := d.exec(ctx, tx, "DELETE FROM machines WHERE id = ? AND "+pred, append([]any{id}, predArgs...)...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errNoMatch
		}
		return nil
	})
	if errors.Is(err, errNoMatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ToggleFavorite flips the (userID, machineID) favorite. The insert only
// happens while the machine lies inside readScope. ok is false when the
// machine is missing or outside the scope.
func (d *DB) ToggleFavorite(ctx context.Context, userID, machineID string, readScope policy.Scope) (isFavorite, ok bool, err error) {
	err = d.inTx(ctx, func(tx *sql.Tx) error {
		res, err := d.exec(ctx, tx, `DELETE FROM favorites WHERE user_id = ? AND machine_id = ?`, userID, machineID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			isFavorite, ok = false, true
			return nil
		}
		pred, predArgs := scopeClause(readScope)
		args := append([]any{userID, machineID, d.nowMillis(), machineID}, predArgs...)
		res, err = d.exec(ctx, tx, `
INSERT INTO favorites(user_id, machine_id, created_at)
SELECT ?, ?, CAST(? AS BIGINT) WHERE EXISTS (SELECT 1 FROM machines WHERE id = ? AND `+pred+`)
ON CONFLICT (user_id, machine_id) DO NOTHING
`, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		isFavorite, ok = n > 0, n > 0
		return nil
	})
	return isFavorite, ok, err
}

// ListFavorites returns the user's favorited machines that are still
// visible to them, most recently favorited first.
func (d *DB) ListFavorites(ctx context.Context, userID string) ([]Machine, error) {
	rows, err := d.query(ctx, d.sql, `
SELECT m.id, m.name, m.host, m.port, m.password, m.owner_id, m.notes, m.tags, m.groups_json,
       m.last_accessed, m.created_at, m.updated_at, 1
FROM favorites f
JOIN machines m ON m.id = f.machine_id
WHERE f.user_id = ? AND (m.owner_id IS NULL OR m.owner_id = ?)
ORDER BY f.created_at DESC, m.id DESC
`, userID, userID)
	if err != nil {
		return nil, err
	}
	return scanMachines(rows)
}
