// Package registry implements the machine registry, favorites and the
// activity log on top of the db package, applying the authorization policy
// to every operation.
package registry

import (
	"context"
	"log/slog"
	"time"

	"managervnc/internal/apperr"
	"managervnc/internal/credseal"
	"managervnc/internal/db"
	"managervnc/internal/policy"
	"managervnc/internal/validate"
)

const (
	// DefaultPort is used when a create or import omits the port.
	DefaultPort = 5900

	msgMachineNotFound = "VNC machine not found"
	msgModified        = "machine was modified concurrently, retry"
)

// Machine is the client view of a machine record. OwnerID is null for
// shared machines.
type Machine struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Host         string     `json:"host"`
	Port         int        `json:"port"`
	Password     *string    `json:"password,omitempty"`
	OwnerID      *string    `json:"ownerId"`
	Notes        *string    `json:"notes,omitempty"`
	Tags         []string   `json:"tags"`
	Groups       []string   `json:"groups"`
	LastAccessed *time.Time `json:"lastAccessed,omitempty"`
	IsFavorite   bool       `json:"isFavorite"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Shared reports whether m has no owner.
func (m Machine) Shared() bool { return m.OwnerID == nil }

// MachineInput is a create request.
type MachineInput struct {
	Name     string   `json:"name"`
	Host     string   `json:"host"`
	Port     *int     `json:"port,omitempty"`
	Password *string  `json:"password,omitempty"`
	IsShared bool     `json:"isShared"`
	Notes    *string  `json:"notes,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// MachinePatch is a partial update; nil fields are left unchanged.
type MachinePatch struct {
	Name     *string   `json:"name,omitempty"`
	Host     *string   `json:"host,omitempty"`
	Port     *int      `json:"port,omitempty"`
	Password *string   `json:"password,omitempty"`
	IsShared *bool     `json:"isShared,omitempty"`
	Notes    *string   `json:"notes,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
	Groups   *[]string `json:"groups,omitempty"`
}

// Limits bounds activity listings.
type Limits struct {
	DefaultActivity int
	MaxActivity     int
}

// Service is the registry. Sealer may be nil to store passwords as given.
type Service struct {
	DB     *db.DB
	Policy policy.Policy
	Sealer *credseal.Sealer
	Limits Limits
	Log    *slog.Logger
}

// New builds a Service with default limits.
func New(d *db.DB, p policy.Policy, sealer *credseal.Sealer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		DB:     d,
		Policy: p,
		Sealer: sealer,
		Limits: Limits{DefaultActivity: 50, MaxActivity: 1000},
		Log:    logger,
	}
}

func millisTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *Service) toMachine(m *db.Machine) (Machine, error) {
	out := Machine{
		ID:         m.ID,
		Name:       m.Name,
		Host:       m.Host,
		Port:       m.Port,
		OwnerID:    m.OwnerID,
		Notes:      m.Notes,
		Tags:       m.Tags,
		Groups:     m.Groups,
		IsFavorite: m.IsFavorite,
		CreatedAt:  millisTime(m.CreatedAt),
		UpdatedAt:  millisTime(m.UpdatedAt),
	}
	if m.LastAccessed != nil {
		t := millisTime(*m.LastAccessed)
		out.LastAccessed = &t
	}
	if m.Password != nil {
		pw, err := s.Sealer.Open(*m.Password)
		if err != nil {
			return Machine{}, err
		}
		out.Password = &pw
	}
	return out, nil
}

func (s *Service) toMachines(in []db.Machine) ([]Machine, error) {
	out := make([]Machine, 0, len(in))
	for i := range in {
		m, err := s.toMachine(&in[i])
		if err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Service) seal(p *string) (*string, error) {
	if p == nil || *p == "" {
		return p, nil
	}
	v, err := s.Sealer.Seal(*p)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &v, nil
}

// List returns the machines visible to a in pool, newest first.
func (s *Service) List(ctx context.Context, a policy.Actor, pool db.Pool) ([]Machine, error) {
	ms, err := s.DB.ListMachines(ctx, a.ID, pool)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return s.toMachines(ms)
}

// Get returns one machine if a may read it.
func (s *Service) Get(ctx context.Context, a policy.Actor, id string) (*Machine, error) {
	m, ok, err := s.DB.GetMachine(ctx, id, a.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.NotFound(msgMachineNotFound)
	}
	if d := s.Policy.Read(a, m.OwnerID); !d.Allowed {
		return nil, apperr.Forbidden(d.Reason)
	}
	out, err := s.toMachine(m)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &out, nil
}

func cleanOptional(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	return p
}

func (s *Service) validateInput(in MachineInput) (db.NewMachine, error) {
	name, err := validate.MachineName(in.Name)
	if err != nil {
		return db.NewMachine{}, apperr.Validation(err.Error())
	}
	host, err := validate.Host(in.Host)
	if err != nil {
		return db.NewMachine{}, apperr.Validation(err.Error())
	}
	port := DefaultPort
	if in.Port != nil {
		port = *in.Port
	}
	if err := validate.Port(port); err != nil {
		return db.NewMachine{}, apperr.Validation(err.Error())
	}
	nm := db.NewMachine{Name: name, Host: host, Port: port, Password: cleanOptional(in.Password), Notes: cleanOptional(in.Notes)}
	if in.Tags != nil {
		if nm.Tags, err = validate.Labels(in.Tags); err != nil {
			return db.NewMachine{}, apperr.Validation(err.Error())
		}
	}
	if in.Groups != nil {
		if nm.Groups, err = validate.Labels(in.Groups); err != nil {
			return db.NewMachine{}, apperr.Validation(err.Error())
		}
	}
	return nm, nil
}

// Create adds a machine. Shared machines need the sharing capability;
// otherwise the machine is owned by a.
func (s *Service) Create(ctx context.Context, a policy.Actor, in MachineInput) (*Machine, error) {
	return s.create(ctx, a, in, "create")
}

func (s *Service) create(ctx context.Context, a policy.Actor, in MachineInput, action string) (*Machine, error) {
	nm, err := s.validateInput(in)
	if err != nil {
		return nil, err
	}
	if in.IsShared {
		if d := s.Policy.CreateShared(a); !d.Allowed {
			return nil, apperr.Forbidden(d.Reason)
		}
	} else {
		owner := a.ID
		nm.OwnerID = &owner
	}
	if nm.Password, err = s.seal(nm.Password); err != nil {
		return nil, err
	}
	m, err := s.DB.CreateMachine(ctx, nm, a.ID, action)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out, err := s.toMachine(m)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.Log.Info("machine created", "machine_id", m.ID, "user_id", a.ID, "shared", in.IsShared, "action", action)
	return &out, nil
}

func (s *Service) validatePatch(p MachinePatch) (db.MachinePatch, error) {
	var out db.MachinePatch
	if p.Name != nil {
		n, err := validate.MachineName(*p.Name)
		if err != nil {
			return out, apperr.Validation(err.Error())
		}
		out.Name = &n
	}
	if p.Host != nil {
		h, err := validate.Host(*p.Host)
		if err != nil {
			return out, apperr.Validation(err.Error())
		}
		out.Host = &h
	}
	if p.Port != nil {
		if err := validate.Port(*p.Port); err != nil {
			return out, apperr.Validation(err.Error())
		}
		out.Port = p.Port
	}
	out.Password = p.Password
	out.Notes = p.Notes
	if p.Tags != nil {
		t, err := validate.Labels(*p.Tags)
		if err != nil {
			return out, apperr.Validation(err.Error())
		}
		out.Tags = &t
	}
	if p.Groups != nil {
		g, err := validate.Labels(*p.Groups)
		if err != nil {
			return out, apperr.Validation(err.Error())
		}
		out.Groups = &g
	}
	return out, nil
}

// Update applies a partial patch. Moving a machine between the shared and
// personal pools needs the sharing capability; a shared machine made
// personal becomes a's. The write is a single conditional statement scoped
// to what a may edit.
func (s *Service) Update(ctx context.Context, a policy.Actor, id string, p MachinePatch) (*Machine, error) {
	dp, err := s.validatePatch(p)
	if err != nil {
		return nil, err
	}

	cur, ok, err := s.DB.GetMachine(ctx, id, a.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.NotFound(msgMachineNotFound)
	}
	if d := s.Policy.Edit(a, cur.OwnerID); !d.Allowed {
		return nil, apperr.Forbidden(d.Reason)
	}
	if p.IsShared != nil {
		if d := s.Policy.Reshare(a, cur.OwnerID, *p.IsShared); !d.Allowed {
			return nil, apperr.Forbidden(d.Reason)
		}
		if *p.IsShared != cur.Shared() {
			dp.SetOwner = true
			dp.FromShared = cur.Shared()
			if !*p.IsShared {
				owner := a.ID
				dp.OwnerID = &owner
			}
		}
	}
	if dp.Password, err = s.seal(dp.Password); err != nil {
		return nil, err
	}

	m, ok, err := s.DB.UpdateMachine(ctx, id, dp, s.Policy.MutationScope(a), a.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, s.classifyMiss(ctx, a, id, s.Policy.Edit)
	}
	out, err := s.toMachine(m)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	// An admin override may edit a machine it cannot read.
	if !s.Policy.Read(a, out.OwnerID).Allowed {
		out.Password = nil
	}
	s.Log.Info("machine updated", "machine_id", id, "user_id", a.ID)
	return &out, nil
}

// Delete removes a machine. The delete activity row is written in the same
// transaction, before the row goes away.
func (s *Service) Delete(ctx context.Context, a policy.Actor, id string) error {
	ok, err := s.DB.DeleteMachine(ctx, id, s.Policy.MutationScope(a), a.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return s.classifyMiss(ctx, a, id, s.Policy.Delete)
	}
	s.Log.Info("machine deleted", "machine_id", id, "user_id", a.ID)
	return nil
}

// classifyMiss explains why a scoped write matched no row.
func (s *Service) classifyMiss(ctx context.Context, a policy.Actor, id string, decide func(policy.Actor, *string) policy.Decision) error {
	m, ok, err := s.DB.GetMachine(ctx, id, a.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.NotFound(msgMachineNotFound)
	}
	if d := decide(a, m.OwnerID); !d.Allowed {
		return apperr.Forbidden(d.Reason)
	}
	return apperr.Conflict(msgModified)
}
