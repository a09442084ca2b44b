// Package policy decides what an authenticated actor may do with a machine
// record. Decisions are pure: they look only at the actor and the machine's
// ownership, never at storage.
//
// A machine with no owner is shared: every authenticated user can read it,
// and only actors with the sharing capability (ADMIN role or the delegated
// flag) can change it. A machine with an owner is personal: only the owner
// can read or change it, unless AdminOverridesPersonal is enabled.
package policy

// Role is a user's coarse role.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Actor is the authenticated user a decision is made for.
type Actor struct {
	ID                      string
	Email                   string
	Role                    Role
	CanManageSharedMachines bool
}

// IsAdmin reports whether the actor holds the ADMIN role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanManageShared reports the sharing capability. ADMIN implies it
// regardless of the stored flag.
func (a Actor) CanManageShared() bool {
	return a.IsAdmin() || a.CanManageSharedMachines
}

// Denial messages. They are returned verbatim to clients.
const (
	ReasonAccessDenied  = "access denied"
	ReasonEditShared    = "you do not have permission to edit shared machines"
	ReasonDeleteShared  = "you do not have permission to delete shared machines"
	ReasonCreateShared  = "you do not have permission to create shared machines"
	ReasonAdminRequired = "admin access required"
)

// Decision is the outcome of a check. Reason is empty when Allowed.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// Policy holds the tunable parts of the authorization model.
type Policy struct {
	// AdminOverridesPersonal lets ADMIN actors edit and delete other
	// users' personal machines. Off by default.
	AdminOverridesPersonal bool
}

// Read decides whether a may see or use the machine owned by owner
// (nil owner means shared). Admin override does not widen reads: the
// listing of another user's personal machines is never exposed.
func (p Policy) Read(a Actor, owner *string) Decision {
	if owner == nil || *owner == a.ID {
		return allow()
	}
	return deny(ReasonAccessDenied)
}

// Edit decides whether a may change the machine owned by owner.
func (p Policy) Edit(a Actor, owner *string) Decision {
	return p.mutate(a, owner, ReasonEditShared)
}

// Delete decides whether a may remove the machine owned by owner.
func (p Policy) Delete(a Actor, owner *string) Decision {
	return p.mutate(a, owner, ReasonDeleteShared)
}

func (p Policy) mutate(a Actor, owner *string, sharedReason string) Decision {
	if owner == nil {
		if a.CanManageShared() {
			return allow()
		}
		return deny(sharedReason)
	}
	if *owner == a.ID {
		return allow()
	}
	if p.AdminOverridesPersonal && a.IsAdmin() {
		return allow()
	}
	return deny(ReasonAccessDenied)
}

// CreateShared decides whether a may create a machine without an owner.
func (p Policy) CreateShared(a Actor) Decision {
	if a.CanManageShared() {
		return allow()
	}
	return deny(ReasonCreateShared)
}

// Reshare decides whether a may move the machine owned by owner into the
// shared (toShared) or personal pool. Leaving the pool unchanged is always
// allowed here; the caller still checks Edit. Moving between pools needs
// the sharing capability on both sides of the move.
func (p Policy) Reshare(a Actor, owner *string, toShared bool) Decision {
	isShared := owner == nil
	if isShared == toShared {
		return allow()
	}
	if !a.CanManageShared() {
		if toShared {
			return deny(ReasonCreateShared)
		}
		return deny(ReasonEditShared)
	}
	return allow()
}

// Scope is the set of machines an actor may change, expressed so the
// storage layer can turn it into a single conditional statement.
type Scope struct {
	// OwnerID matches personal machines owned by this user.
	OwnerID string
	// Shared matches machines without an owner.
	Shared bool
	// AnyPersonal matches every personal machine.
	AnyPersonal bool
}

// MutationScope returns the machines a may edit or delete. It agrees with
// Edit and Delete for every owner value.
func (p Policy) MutationScope(a Actor) Scope {
	return Scope{
		OwnerID:     a.ID,
		Shared:      a.CanManageShared(),
		AnyPersonal: p.AdminOverridesPersonal && a.IsAdmin(),
	}
}

// ReadScope returns the machines a may read.
func (p Policy) ReadScope(a Actor) Scope {
	return Scope{OwnerID: a.ID, Shared: true}
}

// Contains reports whether a machine owned by owner is inside s.
func (s Scope) Contains(owner *string) bool {
	if owner == nil {
		return s.Shared
	}
	return s.AnyPersonal || *owner == s.OwnerID
}
