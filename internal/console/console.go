// Package console implements the interactive terminal client using Bubble
// Tea: sign in, browse shared and personal machines, keep viewer tabs open
// across restarts and, for admins, manage users.
package console

import (
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"managervnc/internal/apiclient"
	"managervnc/internal/identity"
	"managervnc/internal/registry"
	"managervnc/internal/workspace"
)

// state is the current screen.
type state int

const (
	stateLogin state = iota
	stateMachines
	stateForm
	stateQuick
	stateUsers
	stateActivity
)

// Options configures New.
type Options struct {
	Client *apiclient.Client
	Store  workspace.Store
	Viewer workspace.Viewer
	Email  string
}

// Model holds all UI state.
type Model struct {
	client *apiclient.Client
	store  workspace.Store
	viewer workspace.Viewer
	now    func() time.Time

	st     state
	err    string
	status string
	width  int

	me *identity.User
	ws workspace.State

	email      textinput.Model
	pass       textinput.Model
	registerMe bool

	machines []registry.Machine
	machLst  list.Model
	groups   []string
	groupIdx int

	form  machineForm
	quick textinput.Model

	userLst list.Model
	actLst  list.Model
}

// New builds the model and restores the saved workspace. When the client
// already carries a token the login screen is skipped.
func New(opt Options) Model {
	m := Model{
		client:   opt.Client,
		store:    opt.Store,
		viewer:   opt.Viewer,
		now:      time.Now,
		ws:       opt.Store.Load(),
		groupIdx: -1,
	}

	m.email = textinput.New()
	m.email.Prompt = "Email:    "
	m.email.Placeholder = "you@example.com"
	m.email.SetValue(opt.Email)
	m.pass = textinput.New()
	m.pass.Prompt = "Password: "
	m.pass.EchoMode = textinput.EchoPassword
	if opt.Email == "" {
		m.email.Focus()
	} else {
		m.pass.Focus()
	}

	m.machLst = newList("Machines")
	m.userLst = newList("Users")
	m.actLst = newList("Recent activity")

	m.quick = textinput.New()
	m.quick.Prompt = "Host[:port]: "
	m.quick.Placeholder = "10.0.0.5:5901"

	m.form = newMachineForm()
	return m
}

func newList(title string) list.Model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	l.Styles.Title = titleStyle
	l.DisableQuitKeybindings()
	l.SetShowHelp(false)
	return l
}

// Init resumes a saved token if the client has one.
func (m Model) Init() tea.Cmd {
	if m.client != nil && m.client.Token() != "" {
		return meCmd(m.client)
	}
	return textinput.Blink
}

type (
	errMsg      string
	statusMsg   string
	loggedInMsg struct{ user *identity.User }
	machinesMsg []registry.Machine
	usersMsg    []identity.User
	activityMsg []registry.ActivityEntry
)

// Update routes messages based on the current screen.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.machLst.SetSize(msg.Width-4, msg.Height-10)
		m.userLst.SetSize(msg.Width-4, msg.Height-8)
		m.actLst.SetSize(msg.Width-4, msg.Height-8)
		return m, nil
	case errMsg:
		m.err = string(msg)
		return m, nil
	case statusMsg:
		m.err = ""
		m.status = string(msg)
		return m, nil
	case loggedInMsg:
		m.me = msg.user
		m.err = ""
		m.pass.SetValue("")
		m.st = stateMachines
		return m, listMachinesCmd(m.client)
	case machinesMsg:
		m.setMachines([]registry.Machine(msg))
		return m, nil
	case usersMsg:
		items := make([]list.Item, 0, len(msg))
		for _, u := range msg {
			items = append(items, userItem(u))
		}
		m.err = ""
		return m, m.userLst.SetItems(items)
	case activityMsg:
		items := make([]list.Item, 0, len(msg))
		for _, e := range msg {
			items = append(items, activityItem(e))
		}
		m.err = ""
		return m, m.actLst.SetItems(items)
	}

	if k, ok := msg.(tea.KeyMsg); ok && k.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.st {
	case stateLogin:
		return m.updateLogin(msg)
	case stateMachines:
		return m.updateMachines(msg)
	case stateForm:
		return m.updateForm(msg)
	case stateQuick:
		return m.updateQuick(msg)
	case stateUsers:
		return m.updateUsers(msg)
	case stateActivity:
		return m.updateActivity(msg)
	}
	return m, nil
}

func (m Model) updateLogin(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			return m, tea.Quit
		case "tab", "shift+tab", "up", "down":
			if m.email.Focused() {
				m.email.Blur()
				return m, m.pass.Focus()
			}
			m.pass.Blur()
			return m, m.email.Focus()
		case "ctrl+r":
			m.registerMe = !m.registerMe
			return m, nil
		case "enter":
			email, pw := m.email.Value(), m.pass.Value()
			if m.registerMe {
				return m, registerCmd(m.client, email, pw)
			}
			return m, loginCmd(m.client, email, pw)
		}
	}
	var cmd tea.Cmd
	if m.email.Focused() {
		m.email, cmd = m.email.Update(msg)
	} else {
		m.pass, cmd = m.pass.Update(msg)
	}
	return m, cmd
}

func (m Model) updateQuick(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.st = stateMachines
			return m, nil
		case "enter":
			host, port, err := splitHostPort(m.quick.Value())
			if err != nil {
				m.err = err.Error()
				return m, nil
			}
			tab, err := m.ws.QuickConnect(host, port, m.now())
			if err != nil {
				m.err = err.Error()
				return m, nil
			}
			m.st = stateMachines
			m.err = ""
			m.status = "opened " + tab.Machine.Name
			return m, m.saveWorkspace()
		}
	}
	var cmd tea.Cmd
	m.quick, cmd = m.quick.Update(msg)
	return m, cmd
}

func (m Model) updateUsers(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.userLst.SettingFilter() {
		var cmd tea.Cmd
		m.userLst, cmd = m.userLst.Update(msg)
		return m, cmd
	}
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc", "q":
			m.st = stateMachines
			return m, nil
		case "r":
			return m, listUsersCmd(m.client)
		case "s":
			if u, ok := m.userLst.SelectedItem().(userItem); ok {
				flag := !u.CanManageSharedMachines
				return m, updateUserCmd(m.client, u.ID, nil, &flag)
			}
			return m, nil
		case "a":
			if u, ok := m.userLst.SelectedItem().(userItem); ok {
				role := "ADMIN"
				if u.Role == "ADMIN" {
					role = "USER"
				}
				return m, updateUserCmd(m.client, u.ID, &role, nil)
			}
			return m, nil
		case "d":
			if u, ok := m.userLst.SelectedItem().(userItem); ok {
				return m, deleteUserCmd(m.client, u.ID)
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.userLst, cmd = m.userLst.Update(msg)
	return m, cmd
}

func (m Model) updateActivity(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc", "q":
			m.st = stateMachines
			return m, nil
		case "r":
			return m, listActivityCmd(m.client)
		}
	}
	var cmd tea.Cmd
	m.actLst, cmd = m.actLst.Update(msg)
	return m, cmd
}

// saveWorkspace persists tab layout and preferences.
func (m Model) saveWorkspace() tea.Cmd {
	st, store := m.ws, m.store
	st.Tabs = append([]workspace.Tab(nil), m.ws.Tabs...)
	return func() tea.Msg {
		if store.Path == "" {
			return nil
		}
		if err := store.Save(st); err != nil {
			return errMsg("save workspace: " + err.Error())
		}
		return nil
	}
}
