package console

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"managervnc/internal/registry"
)

const (
	fieldName = iota
	fieldHost
	fieldPort
	fieldPassword
	fieldNotes
	fieldTags
	fieldGroups
	fieldCount
)

// machineForm edits one machine. editing is nil when creating.
type machineForm struct {
	inputs  [fieldCount]textinput.Model
	focus   int
	shared  bool
	editing *registry.Machine
}

func newMachineForm() machineForm {
	var f machineForm
	prompts := [fieldCount]string{"Name:     ", "Host:     ", "Port:     ", "Password: ", "Notes:    ", "Tags:     ", "Groups:   "}
	for i := range f.inputs {
		in := textinput.New()
		in.Prompt = prompts[i]
		f.inputs[i] = in
	}
	f.inputs[fieldPassword].EchoMode = textinput.EchoPassword
	f.inputs[fieldTags].Placeholder = "comma separated"
	f.inputs[fieldGroups].Placeholder = "comma separated"
	return f
}

func (f *machineForm) reset(mc *registry.Machine, defaultPort int) {
	for i := range f.inputs {
		f.inputs[i].SetValue("")
		f.inputs[i].Blur()
	}
	f.focus = fieldName
	f.editing = mc
	f.shared = false
	f.inputs[fieldPassword].Placeholder = ""
	if mc == nil {
		f.inputs[fieldPort].SetValue(strconv.Itoa(defaultPort))
		return
	}
	f.shared = mc.Shared()
	f.inputs[fieldName].SetValue(mc.Name)
	f.inputs[fieldHost].SetValue(mc.Host)
	f.inputs[fieldPort].SetValue(strconv.Itoa(mc.Port))
	f.inputs[fieldPassword].Placeholder = "unchanged"
	if mc.Notes != nil {
		f.inputs[fieldNotes].SetValue(*mc.Notes)
	}
	f.inputs[fieldTags].SetValue(strings.Join(mc.Tags, ", "))
	f.inputs[fieldGroups].SetValue(strings.Join(mc.Groups, ", "))
}

func (f *machineForm) focusFirst() tea.Cmd {
	f.focus = fieldName
	return f.inputs[fieldName].Focus()
}

func (f *machineForm) move(delta int) tea.Cmd {
	f.inputs[f.focus].Blur()
	f.focus = (f.focus + delta + fieldCount) % fieldCount
	return f.inputs[f.focus].Focus()
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// port parses the port field. Unparseable text becomes -1 so the server
// reports the range error.
func (f *machineForm) port() *int {
	v := strings.TrimSpace(f.inputs[fieldPort].Value())
	if v == "" {
		return nil
	}
	p, err := strconv.Atoi(v)
	if err != nil {
		p = -1
	}
	return &p
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (f *machineForm) input() registry.MachineInput {
	return registry.MachineInput{
		Name:     f.inputs[fieldName].Value(),
		Host:     f.inputs[fieldHost].Value(),
		Port:     f.port(),
		Password: optional(f.inputs[fieldPassword].Value()),
		IsShared: f.shared,
		Notes:    optional(f.inputs[fieldNotes].Value()),
		Tags:     splitList(f.inputs[fieldTags].Value()),
		Groups:   splitList(f.inputs[fieldGroups].Value()),
	}
}

// patch sends every visible field; an empty password leaves it unchanged.
func (f *machineForm) patch() registry.MachinePatch {
	name := f.inputs[fieldName].Value()
	host := f.inputs[fieldHost].Value()
	notes := strings.TrimSpace(f.inputs[fieldNotes].Value())
	tags := splitList(f.inputs[fieldTags].Value())
	groups := splitList(f.inputs[fieldGroups].Value())
	shared := f.shared
	return registry.MachinePatch{
		Name:     &name,
		Host:     &host,
		Port:     f.port(),
		Password: optional(f.inputs[fieldPassword].Value()),
		IsShared: &shared,
		Notes:    &notes,
		Tags:     &tags,
		Groups:   &groups,
	}
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.st = stateMachines
			return m, nil
		case "tab", "down":
			return m, m.form.move(1)
		case "shift+tab", "up":
			return m, m.form.move(-1)
		case "ctrl+s":
			if !m.canManageShared() {
				m.err = "you do not have permission to create shared machines"
				return m, nil
			}
			m.form.shared = !m.form.shared
			return m, nil
		case "enter":
			m.st = stateMachines
			if m.form.editing == nil {
				return m, createMachineCmd(m.client, m.form.input())
			}
			return m, updateMachineCmd(m.client, m.form.editing.ID, m.form.patch())
		}
	}
	var cmd tea.Cmd
	m.form.inputs[m.form.focus], cmd = m.form.inputs[m.form.focus].Update(msg)
	return m, cmd
}
