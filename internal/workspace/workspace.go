// Package workspace is the client-side session model: which machines are
// open as tabs, which one is active, and the UI preferences that survive a
// restart. It never talks to the network; callers feed it server data.
package workspace

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"managervnc/internal/registry"
)

const quickPrefix = "quick-"

// Tab is one open viewer session.
type Tab struct {
	ID       string           `json:"id"`
	Machine  registry.Machine `json:"machine"`
	OpenedAt time.Time        `json:"openedAt"`
}

// Quick reports whether the tab was opened by quick connect rather than
// from a stored machine.
func (t Tab) Quick() bool { return strings.HasPrefix(t.Machine.ID, quickPrefix) }

// Preferences are user settings, not session layout.
type Preferences struct {
	DefaultPort           int  `json:"defaultPort"`
	AutoReconnect         bool `json:"autoReconnect"`
	DarkMode              bool `json:"darkMode"`
	SessionTimeoutMinutes int  `json:"sessionTimeoutMinutes"`
}

// Filter narrows a machine listing.
type Filter struct {
	Query         string   `json:"query"`
	Groups        []string `json:"groups"`
	FavoritesOnly bool     `json:"favoritesOnly"`
}

// Active reports whether f filters anything.
func (f Filter) Active() bool {
	return strings.TrimSpace(f.Query) != "" || len(f.Groups) > 0 || f.FavoritesOnly
}

// State is the whole persisted workspace.
type State struct {
	Tabs             []Tab       `json:"tabs"`
	ActiveID         string      `json:"activeId,omitempty"`
	SidebarOpen      bool        `json:"sidebarOpen"`
	SharedExpanded   bool        `json:"sharedExpanded"`
	PersonalExpanded bool        `json:"personalExpanded"`
	Filter           Filter      `json:"filter"`
	Prefs            Preferences `json:"prefs"`
}

// DefaultPreferences mirrors a fresh install.
func DefaultPreferences() Preferences {
	return Preferences{DefaultPort: registry.DefaultPort, AutoReconnect: true}
}

// NewState returns an empty workspace with the sidebar and both sections
// open.
func NewState() State {
	return State{
		Tabs:             []Tab{},
		SidebarOpen:      true,
		SharedExpanded:   true,
		PersonalExpanded: true,
		Prefs:            DefaultPreferences(),
	}
}

func (s *State) indexOf(id string) int {
	for i := range s.Tabs {
		if s.Tabs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *State) indexOfMachine(machineID string) int {
	for i := range s.Tabs {
		if s.Tabs[i].Machine.ID == machineID {
			return i
		}
	}
	return -1
}

// Open activates the tab for m, creating it if m is not open yet. There is
// never more than one tab per machine.
func (s *State) Open(m registry.Machine, now time.Time) Tab {
	if i := s.indexOfMachine(m.ID); i >= 0 {
		s.ActiveID = s.Tabs[i].ID
		return s.Tabs[i]
	}
	t := Tab{ID: fmt.Sprintf("session-%d-%s", now.UnixNano(), m.ID), Machine: m, OpenedAt: now.UTC()}
	s.Tabs = append(s.Tabs, t)
	s.ActiveID = t.ID
	return t
}

// Close removes tab id. Closing the active tab activates the first
// remaining one. With no tabs left the sidebar is reopened.
func (s *State) Close(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.Tabs = append(s.Tabs[:i], s.Tabs[i+1:]...)
	if s.ActiveID == id {
		s.ActiveID = ""
		if len(s.Tabs) > 0 {
			s.ActiveID = s.Tabs[0].ID
		}
	}
	if len(s.Tabs) == 0 {
		s.SidebarOpen = true
	}
	return true
}

// Activate makes tab id the active one.
func (s *State) Activate(id string) bool {
	if s.indexOf(id) < 0 {
		return false
	}
	s.ActiveID = id
	return true
}

// Active returns the active tab.
func (s *State) Active() (Tab, bool) {
	if i := s.indexOf(s.ActiveID); i >= 0 {
		return s.Tabs[i], true
	}
	return Tab{}, false
}

// Reconcile refreshes tab snapshots from a fresh server listing and drops
// tabs whose machine is no longer visible. Quick-connect tabs are kept.
// It returns the number of dropped tabs.
func (s *State) Reconcile(machines []registry.Machine) int {
	byID := make(map[string]registry.Machine, len(machines))
	for _, m := range machines {
		byID[m.ID] = m
	}
	kept := s.Tabs[:0]
	dropped := 0
	for _, t := range s.Tabs {
		if t.Quick() {
			kept = append(kept, t)
			continue
		}
		m, ok := byID[t.Machine.ID]
		if !ok {
			dropped++
			continue
		}
		t.Machine = m
		kept = append(kept, t)
	}
	s.Tabs = kept
	if s.indexOf(s.ActiveID) < 0 {
		s.ActiveID = ""
		if len(s.Tabs) > 0 {
			s.ActiveID = s.Tabs[0].ID
		}
	}
	return dropped
}

// QuickConnect opens an ad-hoc tab for host:port without a stored machine.
// A zero port uses the preferred default.
func (s *State) QuickConnect(host string, port int, now time.Time) (Tab, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Tab{}, errors.New("host is required")
	}
	if port == 0 {
		port = s.Prefs.DefaultPort
	}
	if port < 1 || port > 65535 {
		return Tab{}, errors.New("port must be an integer between 1 and 65535")
	}
	m := registry.Machine{
		ID:        fmt.Sprintf("%s%d", quickPrefix, now.UnixNano()),
		Name:      fmt.Sprintf("Quick: %s:%d", host, port),
		Host:      host,
		Port:      port,
		Tags:      []string{},
		Groups:    []string{},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	return s.Open(m, now), nil
}

// ResetPreferences restores UI flags, filters and preferences to defaults
// while keeping open tabs.
func (s *State) ResetPreferences() {
	fresh := NewState()
	fresh.Tabs = s.Tabs
	fresh.ActiveID = s.ActiveID
	*s = fresh
}

// Match reports whether m passes f. Search covers name, host, notes and
// tags case-insensitively; groups match if any selected group is present.
func (f Filter) Match(m registry.Machine) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		hit := strings.Contains(strings.ToLower(m.Name), q) ||
			strings.Contains(strings.ToLower(m.Host), q) ||
			(m.Notes != nil && strings.Contains(strings.ToLower(*m.Notes), q))
		for _, t := range m.Tags {
			if hit {
				break
			}
			hit = strings.Contains(strings.ToLower(t), q)
		}
		if !hit {
			return false
		}
	}
	if len(f.Groups) > 0 {
		matched := false
		for _, want := range f.Groups {
			for _, g := range m.Groups {
				if g == want {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false
		}
	}
	if f.FavoritesOnly && !m.IsFavorite {
		return false
	}
	return true
}

// Apply returns the machines that pass f, in input order.
func (f Filter) Apply(machines []registry.Machine) []registry.Machine {
	out := make([]registry.Machine, 0, len(machines))
	for _, m := range machines {
		if f.Match(m) {
			out = append(out, m)
		}
	}
	return out
}

// Groups returns the sorted set of groups used by machines.
func Groups(machines []registry.Machine) []string {
	seen := map[string]struct{}{}
	for _, m := range machines {
		for _, g := range m.Groups {
			seen[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Sections is a listing split the way the sidebar shows it.
type Sections struct {
	Shared    []registry.Machine
	Personal  []registry.Machine
	Favorites []registry.Machine
}

// Split partitions machines visible to userID and applies f to each part.
func Split(machines []registry.Machine, userID string, f Filter) Sections {
	var s Sections
	for _, m := range machines {
		switch {
		case m.OwnerID == nil:
			s.Shared = append(s.Shared, m)
		case *m.OwnerID == userID:
			s.Personal = append(s.Personal, m)
		default:
			continue
		}
		if m.IsFavorite {
			s.Favorites = append(s.Favorites, m)
		}
	}
	s.Shared = f.Apply(s.Shared)
	s.Personal = f.Apply(s.Personal)
	s.Favorites = f.Apply(s.Favorites)
	return s
}
