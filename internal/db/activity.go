package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"managervnc/internal/policy"
)

func (d *DB) insertActivity(ctx context.Context, q querier, userID, machineID, action string) (string, error) {
	if userID == "" || machineID == "" || action == "" {
		return "", errors.New("user, machine and action are required")
	}
	id := newID()
	_, err := d.exec(ctx, q, `
INSERT INTO activity_logs(id, user_id, machine_id, action, created_at) VALUES(?, ?, ?, ?, ?)
`, id, userID, machineID, action, d.nowMillis())
	return id, err
}

const activitySelect = `
SELECT a.id, a.user_id, a.machine_id, a.action, a.created_at, m.id, m.name, m.host, m.port
FROM activity_logs a
LEFT JOIN machines m ON m.id = a.machine_id
`

func scanActivity(row interface{ Scan(...any) error }) (*ActivityLog, error) {
	var a ActivityLog
	var mID, mName, mHost sql.NullString
	var mPort sql.NullInt64
	if err := row.Scan(&a.ID, &a.UserID, &a.MachineID, &a.Action, &a.CreatedAt, &mID, &mName, &mHost, &mPort); err != nil {
		return nil, err
	}
	if mID.Valid {
		a.Machine = &MachineRef{ID: mID.String, Name: mName.String, Host: mHost.String, Port: int(mPort.Int64)}
	}
	return &a, nil
}

// RecordConnect stamps last_accessed on machine machineID and appends an
// activity row, provided the machine lies inside readScope. ok is false
// when it does not (or does not exist).
func (d *DB) RecordConnect(ctx context.Context, userID, machineID, action string, readScope policy.Scope) (*ActivityLog, bool, error) {
	var out *ActivityLog
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		pred, predArgs := scopeClause(readScope)
		res, err := d.exec(ctx, tx, "UPDATE machines SET last_accessed = ? WHERE id = ? AND "+pred,
			append([]any{d.nowMillis(), machineID}, predArgs...)...)
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
		id, err := d.insertActivity(ctx, tx, userID, machineID, action)
		if err != nil {
			return err
		}
		out, err = scanActivity(d.queryRow(ctx, tx, activitySelect+"WHERE a.id = ?", id))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// ListActivity returns userID's activity, most recent first, optionally for
// a single machine. limit must be positive.
func (d *DB) ListActivity(ctx context.Context, userID, machineID string, limit int) ([]ActivityLog, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	q := activitySelect + "WHERE a.user_id = ?"
	args := []any{userID}
	if machineID != "" {
		q += " AND a.machine_id = ?"
		args = append(args, machineID)
	}
	q += " ORDER BY a.created_at DESC, a.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.query(ctx, d.sql, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ActivityLog{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// PruneActivity deletes activity rows created before cutoff.
func (d *DB) PruneActivity(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.exec(ctx, d.sql, `DELETE FROM activity_logs WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
