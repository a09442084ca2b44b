package registry

import (
	"context"
	"time"

	"managervnc/internal/apperr"
	"managervnc/internal/db"
	"managervnc/internal/policy"
)

// Activity actions.
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionImport     = "import"
)

// MachineRef is the machine projection attached to activity entries.
type MachineRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ActivityEntry is one audit row. Machine is null once the machine is gone.
type ActivityEntry struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	MachineID string      `json:"machineId"`
	Action    string      `json:"action"`
	CreatedAt time.Time   `json:"createdAt"`
	Machine   *MachineRef `json:"machine"`
}

func toEntry(a *db.ActivityLog) ActivityEntry {
	e := ActivityEntry{
		ID:        a.ID,
		UserID:    a.UserID,
		MachineID: a.MachineID,
		Action:    a.Action,
		CreatedAt: millisTime(a.CreatedAt),
	}
	if a.Machine != nil {
		e.Machine = &MachineRef{ID: a.Machine.ID, Name: a.Machine.Name, Host: a.Machine.Host, Port: a.Machine.Port}
	}
	return e
}

// ActivityFilter narrows ListActivity. Zero Limit means the default.
type ActivityFilter struct {
	Limit     int
	MachineID string
}

// LogConnect records that a opened (or closed) a machine and stamps its
// last access time. action defaults to connect.
func (s *Service) LogConnect(ctx context.Context, a policy.Actor, machineID, action string) (*ActivityEntry, error) {
	if machineID == "" {
		return nil, apperr.Validation("machineId is required")
	}
	if action == "" {
		action = ActionConnect
	}
	if action != ActionConnect && action != ActionDisconnect {
		return nil, apperr.Validation("action must be connect or disconnect")
	}
	log, ok, err := s.DB.RecordConnect(ctx, a.ID, machineID, action, s.Policy.ReadScope(a))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, s.classifyMiss(ctx, a, machineID, s.Policy.Read)
	}
	e := toEntry(log)
	return &e, nil
}

// ListActivity returns a's own activity, most recent first. Limits above
// the maximum are clamped.
func (s *Service) ListActivity(ctx context.Context, a policy.Actor, f ActivityFilter) ([]ActivityEntry, error) {
	limit := f.Limit
	switch {
	case limit < 0:
		return nil, apperr.Validation("limit must be positive")
	case limit == 0:
		limit = s.Limits.DefaultActivity
	case limit > s.Limits.MaxActivity:
		limit = s.Limits.MaxActivity
	}
	logs, err := s.DB.ListActivity(ctx, a.ID, f.MachineID, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]ActivityEntry, 0, len(logs))
	for i := range logs {
		out = append(out, toEntry(&logs[i]))
	}
	return out, nil
}

// ExportActivity returns up to the maximum number of a's activity rows.
func (s *Service) ExportActivity(ctx context.Context, a policy.Actor) ([]ActivityEntry, error) {
	return s.ListActivity(ctx, a, ActivityFilter{Limit: s.Limits.MaxActivity})
}

// PruneActivity deletes rows older than retention. Zero retention keeps
// everything.
func (s *Service) PruneActivity(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := s.DB.PruneActivity(ctx, now.Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.Log.Info("activity pruned", "rows", n, "retention", retention.String())
	}
	return n, nil
}
