package console

import (
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"managervnc/internal/identity"
	"managervnc/internal/registry"
	"managervnc/internal/workspace"
)

func strp(s string) *string { return &s }

func testModel(t *testing.T) Model {
	t.Helper()
	m := New(Options{Store: workspace.Store{Path: filepath.Join(t.TempDir(), "ws.json")}})
	m.now = func() time.Time { return time.Unix(1700000000, 0) }
	m.me = &identity.User{ID: "u1", Email: "alice@example.com", Role: "USER"}
	m.st = stateMachines
	return m
}

func fixtures() []registry.Machine {
	return []registry.Machine{
		{ID: "s1", Name: "shared-db", Host: "10.0.0.1", Port: 5900, Groups: []string{"db"}, Tags: []string{}},
		{ID: "p1", Name: "my-box", Host: "10.0.0.2", Port: 5901, OwnerID: strp("u1"), Groups: []string{"dev"}, Tags: []string{}, IsFavorite: true},
		{ID: "x1", Name: "someone-else", Host: "10.0.0.3", Port: 5900, OwnerID: strp("u2"), Tags: []string{}, Groups: []string{}},
	}
}

func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	out, _ := m.Update(msg)
	mm, ok := out.(Model)
	require.True(t, ok)
	return mm
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestMachineItemsSectionsAndFilters(t *testing.T) {
	ws := workspace.NewState()
	items := machineItems(fixtures(), "u1", ws)
	require.Len(t, items, 2, "other users' machines never show")
	assert.Equal(t, "shared", items[0].(machineItem).section)
	assert.Equal(t, "★ my-box", items[1].(machineItem).Title())

	ws.SharedExpanded = false
	assert.Len(t, machineItems(fixtures(), "u1", ws), 1)

	ws = workspace.NewState()
	ws.Filter.Groups = []string{"db"}
	items = machineItems(fixtures(), "u1", ws)
	require.Len(t, items, 1)
	assert.Equal(t, "s1", items[0].(machineItem).ID)
}

func TestOpenAndCloseTabs(t *testing.T) {
	m := testModel(t)
	m = send(t, m, machinesMsg(fixtures()))

	m = send(t, m, key("enter"))
	require.Len(t, m.ws.Tabs, 1)
	assert.Equal(t, "s1", m.ws.Tabs[0].Machine.ID)

	m = send(t, m, key("enter"))
	assert.Len(t, m.ws.Tabs, 1, "reopening activates the existing tab")

	m = send(t, m, key("x"))
	assert.Empty(t, m.ws.Tabs)
	assert.True(t, m.ws.SidebarOpen)
}

func TestRefreshDropsVanishedTabs(t *testing.T) {
	m := testModel(t)
	m = send(t, m, machinesMsg(fixtures()))
	m = send(t, m, key("enter"))
	require.Len(t, m.ws.Tabs, 1)

	m = send(t, m, machinesMsg(fixtures()[1:]))
	assert.Empty(t, m.ws.Tabs)
	assert.Contains(t, m.status, "closed 1 tab")
}

func TestQuickConnect(t *testing.T) {
	m := testModel(t)
	m = send(t, m, key("c"))
	require.Equal(t, stateQuick, m.st)
	m.quick.SetValue("192.168.1.9:5905")
	m = send(t, m, key("enter"))
	assert.Equal(t, stateMachines, m.st)
	require.Len(t, m.ws.Tabs, 1)
	assert.True(t, m.ws.Tabs[0].Quick())
	assert.Equal(t, 5905, m.ws.Tabs[0].Machine.Port)
}

func TestGroupCycle(t *testing.T) {
	m := testModel(t)
	m = send(t, m, machinesMsg(fixtures()))
	assert.Equal(t, []string{"db", "dev"}, m.groups)

	m = send(t, m, key("g"))
	assert.Equal(t, []string{"db"}, m.ws.Filter.Groups)
	m = send(t, m, key("g"))
	assert.Equal(t, []string{"dev"}, m.ws.Filter.Groups)
	m = send(t, m, key("g"))
	assert.Empty(t, m.ws.Filter.Groups)
}

func TestUsersScreenIsAdminOnly(t *testing.T) {
	m := testModel(t)
	m = send(t, m, key("u"))
	assert.Equal(t, stateMachines, m.st)
	assert.Equal(t, "admin access required", m.err)
}

func TestEditRequiresRights(t *testing.T) {
	m := testModel(t)
	m = send(t, m, machinesMsg(fixtures()))
	m = send(t, m, key("e"))
	assert.Equal(t, stateMachines, m.st, "plain users cannot edit shared machines")
	assert.NotEmpty(t, m.err)
}

func TestFormBuildsInput(t *testing.T) {
	f := newMachineForm()
	f.reset(nil, 5900)
	f.inputs[fieldName].SetValue("lab")
	f.inputs[fieldHost].SetValue("h")
	f.inputs[fieldTags].SetValue("a, b,,")
	in := f.input()
	assert.Equal(t, "lab", in.Name)
	require.NotNil(t, in.Port)
	assert.Equal(t, 5900, *in.Port)
	assert.Equal(t, []string{"a", "b"}, in.Tags)
	assert.Nil(t, in.Password)

	mc := fixtures()[1]
	f.reset(&mc, 5900)
	p := f.patch()
	assert.Equal(t, "my-box", *p.Name)
	assert.False(t, *p.IsShared)
	assert.Nil(t, p.Password, "blank password leaves it unchanged")
}

func TestSplitHostPort(t *testing.T) {
	h, p, err := splitHostPort("host.example:5901")
	require.NoError(t, err)
	assert.Equal(t, "host.example", h)
	assert.Equal(t, 5901, p)

	h, p, err = splitHostPort("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", h)
	assert.Zero(t, p)

	_, _, err = splitHostPort("h:abc")
	assert.Error(t, err)
	_, _, err = splitHostPort(" ")
	assert.Error(t, err)
}
