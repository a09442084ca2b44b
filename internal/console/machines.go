package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"managervnc/internal/registry"
	"managervnc/internal/workspace"
)

// setMachines stores a fresh listing, drops tabs for machines that are no
// longer visible and rebuilds the list.
func (m *Model) setMachines(ms []registry.Machine) {
	m.machines = ms
	m.groups = workspace.Groups(ms)
	if m.groupIdx >= len(m.groups) {
		m.groupIdx = -1
		m.ws.Filter.Groups = nil
	}
	if n := m.ws.Reconcile(ms); n > 0 {
		m.status = fmt.Sprintf("closed %d tab(s) for removed machines", n)
	}
	m.err = ""
	m.rebuildList()
}

func (m *Model) rebuildList() {
	userID := ""
	if m.me != nil {
		userID = m.me.ID
	}
	m.machLst.SetItems(machineItems(m.machines, userID, m.ws))
}

// machineItems renders the sidebar: shared section first, then personal,
// each hidden when collapsed.
func machineItems(ms []registry.Machine, userID string, ws workspace.State) []list.Item {
	sec := workspace.Split(ms, userID, ws.Filter)
	items := make([]list.Item, 0, len(sec.Shared)+len(sec.Personal))
	if ws.SharedExpanded {
		for _, mc := range sec.Shared {
			items = append(items, machineItem{Machine: mc, section: "shared"})
		}
	}
	if ws.PersonalExpanded {
		for _, mc := range sec.Personal {
			items = append(items, machineItem{Machine: mc, section: "personal"})
		}
	}
	return items
}

func (m Model) selectedMachine() (registry.Machine, bool) {
	it, ok := m.machLst.SelectedItem().(machineItem)
	if !ok {
		return registry.Machine{}, false
	}
	return it.Machine, true
}

func (m Model) canManageShared() bool {
	return m.me != nil && (m.me.Role == "ADMIN" || m.me.CanManageSharedMachines)
}

func (m Model) canEdit(mc registry.Machine) bool {
	if mc.Shared() {
		return m.canManageShared()
	}
	return m.me != nil && *mc.OwnerID == m.me.ID
}

func (m Model) updateMachines(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.machLst.SettingFilter() {
		var cmd tea.Cmd
		m.machLst, cmd = m.machLst.Update(msg)
		return m, cmd
	}
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.machLst, cmd = m.machLst.Update(msg)
		return m, cmd
	}

	switch k.String() {
	case "q":
		return m, tea.Quit
	case "r":
		m.status = ""
		return m, listMachinesCmd(m.client)
	case "enter":
		mc, ok := m.selectedMachine()
		if !ok {
			return m, nil
		}
		tab := m.ws.Open(mc, m.now())
		m.status = "opened " + tab.Machine.Name
		m.err = ""
		return m, tea.Batch(m.saveWorkspace(), logActivityCmd(m.client, mc.ID, registry.ActionConnect))
	case "x":
		tab, ok := m.ws.Active()
		if !ok {
			return m, nil
		}
		m.ws.Close(tab.ID)
		m.status = "closed " + tab.Machine.Name
		cmds := []tea.Cmd{m.saveWorkspace()}
		if !tab.Quick() {
			cmds = append(cmds, logActivityCmd(m.client, tab.Machine.ID, registry.ActionDisconnect))
		}
		return m, tea.Batch(cmds...)
	case "]", "[":
		m.cycleTab(k.String() == "]")
		return m, m.saveWorkspace()
	case "c":
		m.st = stateQuick
		m.err = ""
		m.quick.SetValue("")
		return m, m.quick.Focus()
	case "n":
		m.form.reset(nil, m.ws.Prefs.DefaultPort)
		m.st = stateForm
		m.err = ""
		return m, m.form.focusFirst()
	case "e":
		mc, ok := m.selectedMachine()
		if !ok {
			return m, nil
		}
		if !m.canEdit(mc) {
			m.err = "you cannot edit this machine"
			return m, nil
		}
		m.form.reset(&mc, m.ws.Prefs.DefaultPort)
		m.st = stateForm
		m.err = ""
		return m, m.form.focusFirst()
	case "d":
		mc, ok := m.selectedMachine()
		if !ok {
			return m, nil
		}
		return m, deleteMachineCmd(m.client, mc.ID)
	case "f":
		mc, ok := m.selectedMachine()
		if !ok {
			return m, nil
		}
		return m, toggleFavoriteCmd(m.client, mc.ID)
	case "*":
		m.ws.Filter.FavoritesOnly = !m.ws.Filter.FavoritesOnly
		m.rebuildList()
		return m, m.saveWorkspace()
	case "g":
		m.cycleGroup()
		m.rebuildList()
		return m, m.saveWorkspace()
	case "S":
		m.ws.SharedExpanded = !m.ws.SharedExpanded
		m.rebuildList()
		return m, m.saveWorkspace()
	case "P":
		m.ws.PersonalExpanded = !m.ws.PersonalExpanded
		m.rebuildList()
		return m, m.saveWorkspace()
	case "R":
		m.ws.Prefs.AutoReconnect = !m.ws.Prefs.AutoReconnect
		return m, m.saveWorkspace()
	case "a":
		m.st = stateActivity
		return m, listActivityCmd(m.client)
	case "u":
		if m.me == nil || m.me.Role != "ADMIN" {
			m.err = "admin access required"
			return m, nil
		}
		m.st = stateUsers
		return m, listUsersCmd(m.client)
	}
	var cmd tea.Cmd
	m.machLst, cmd = m.machLst.Update(msg)
	return m, cmd
}

// cycleTab activates the next (or previous) tab, wrapping around.
func (m *Model) cycleTab(forward bool) {
	n := len(m.ws.Tabs)
	if n == 0 {
		return
	}
	cur := 0
	for i, t := range m.ws.Tabs {
		if t.ID == m.ws.ActiveID {
			cur = i
			break
		}
	}
	if forward {
		cur = (cur + 1) % n
	} else {
		cur = (cur - 1 + n) % n
	}
	m.ws.Activate(m.ws.Tabs[cur].ID)
}

// cycleGroup steps the group filter through none, then each known group.
func (m *Model) cycleGroup() {
	if len(m.groups) == 0 {
		m.groupIdx = -1
		m.ws.Filter.Groups = nil
		return
	}
	m.groupIdx++
	if m.groupIdx >= len(m.groups) {
		m.groupIdx = -1
		m.ws.Filter.Groups = nil
		return
	}
	m.ws.Filter.Groups = []string{m.groups[m.groupIdx]}
}

// splitHostPort parses "host" or "host:port". Port 0 means the default.
func splitHostPort(s string) (string, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, errors.New("host is required")
	}
	i := strings.LastIndex(s, ":")
	if i < 0 || strings.Count(s, ":") > 1 {
		return s, 0, nil
	}
	port, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return "", 0, errors.New("port must be an integer between 1 and 65535")
	}
	return s[:i], port, nil
}
