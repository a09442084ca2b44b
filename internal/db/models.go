// Package db defines persistence models for managervnc. Timestamps are
// Unix milliseconds.
package db

// User is an account. Role is "USER" or "ADMIN".
type User struct {
	ID              string
	Email           string
	PassHash        string
	Role            string
	CanManageShared bool
	CreatedAt       int64
	UpdatedAt       int64
}

// Machine is a VNC connection record. A nil OwnerID marks it shared.
// Tags and Groups are never nil when read back.
type Machine struct {
	ID           string
	Name         string
	Host         string
	Port         int
	Password     *string
	OwnerID      *string
	Notes        *string
	Tags         []string
	Groups       []string
	LastAccessed *int64
	CreatedAt    int64
	UpdatedAt    int64

	// IsFavorite is computed per viewer, not stored on the row.
	IsFavorite bool
}

// Shared reports whether m has no owner.
func (m *Machine) Shared() bool { return m.OwnerID == nil }

// NewMachine holds the columns of a machine to insert. Nil Tags or Groups
// are stored as NULL.
type NewMachine struct {
	Name     string
	Host     string
	Port     int
	Password *string
	OwnerID  *string
	Notes    *string
	Tags     []string
	Groups   []string
}

// MachinePatch is a partial update. Nil pointers leave a column untouched.
type MachinePatch struct {
	Name     *string
	Host     *string
	Port     *int
	Password *string
	Notes    *string
	Tags     *[]string
	Groups   *[]string

	// SetOwner moves the machine between pools. FromShared is the pool the
	// caller observed, so the move only applies if nobody moved it first.
	SetOwner   bool
	OwnerID    *string
	FromShared bool
}

// Empty reports whether p changes nothing.
func (p MachinePatch) Empty() bool {
	return p.Name == nil && p.Host == nil && p.Port == nil && p.Password == nil &&
		p.Notes == nil && p.Tags == nil && p.Groups == nil && !p.SetOwner
}

// MachineRef is the projection of a machine attached to activity rows.
type MachineRef struct {
	ID   string
	Name string
	Host string
	Port int
}

// ActivityLog is one append-only audit row. Machine is nil when the machine
// no longer exists.
type ActivityLog struct {
	ID        string
	UserID    string
	MachineID string
	Action    string
	CreatedAt int64
	Machine   *MachineRef
}

// Session records an issued bearer token so it can be revoked.
type Session struct {
	TokenID   string
	UserID    string
	CreatedAt int64
	ExpiresAt int64
}
