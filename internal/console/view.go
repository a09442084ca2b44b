package console

import (
	"fmt"
	"strings"

	"managervnc/internal/workspace"
)

// View renders the current screen.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("managervnc"))
	if m.client != nil {
		b.WriteString(" " + helpStyle.Render(m.client.Addr()))
	}
	if m.me != nil {
		who := m.me.Email
		if m.me.Role == "ADMIN" {
			who += " [admin]"
		}
		b.WriteString("  " + who)
	}
	b.WriteString("\n\n")

	switch m.st {
	case stateLogin:
		if m.registerMe {
			b.WriteString("Create account\n\n")
		} else {
			b.WriteString("Sign in\n\n")
		}
		b.WriteString(m.email.View() + "\n")
		b.WriteString(m.pass.View() + "\n\n")
		b.WriteString(helpStyle.Render("enter=submit  tab=next field  ctrl+r=toggle sign in/register  esc=quit") + "\n")
	case stateMachines:
		b.WriteString(m.tabBar() + "\n")
		if tab, ok := m.ws.Active(); ok {
			url := workspace.ViewerURL(m.viewer, tab.Machine, m.ws.Prefs.AutoReconnect)
			b.WriteString("Viewer: " + urlStyle.Render(url) + "\n")
		}
		b.WriteString(m.filterLine() + "\n")
		b.WriteString(m.machLst.View() + "\n")
		b.WriteString(helpStyle.Render("enter=open x=close [/]=tabs c=quick n=new e=edit d=delete f=favorite *=favorites g=group S/P=sections /=search a=activity"))
		if m.me != nil && m.me.Role == "ADMIN" {
			b.WriteString(helpStyle.Render(" u=users"))
		}
		b.WriteString(helpStyle.Render(" r=refresh q=quit") + "\n")
	case stateForm:
		if m.form.editing == nil {
			b.WriteString("New machine\n\n")
		} else {
			b.WriteString("Edit " + m.form.editing.Name + "\n\n")
		}
		for i := range m.form.inputs {
			b.WriteString(m.form.inputs[i].View() + "\n")
		}
		pool := "personal"
		if m.form.shared {
			pool = "shared"
		}
		fmt.Fprintf(&b, "Pool:     %s (ctrl+s to toggle)\n\n", pool)
		b.WriteString(helpStyle.Render("enter=save  tab=next  esc=back") + "\n")
	case stateQuick:
		b.WriteString("Quick connect\n\n")
		b.WriteString(m.quick.View() + "\n\n")
		b.WriteString(helpStyle.Render(fmt.Sprintf("default port %d  enter=open  esc=back", m.ws.Prefs.DefaultPort)) + "\n")
	case stateUsers:
		b.WriteString(m.userLst.View() + "\n")
		b.WriteString(helpStyle.Render("s=toggle shared-machine rights  a=toggle admin  d=delete  r=refresh  esc=back") + "\n")
	case stateActivity:
		b.WriteString(m.actLst.View() + "\n")
		b.WriteString(helpStyle.Render("r=refresh  esc=back") + "\n")
	}

	if m.err != "" {
		b.WriteString("\n" + errorStyle.Render("Error: "+m.err) + "\n")
	} else if m.status != "" {
		b.WriteString("\n" + statusStyle.Render(m.status) + "\n")
	}
	return b.String()
}

func (m Model) tabBar() string {
	if len(m.ws.Tabs) == 0 {
		return helpStyle.Render("no open sessions")
	}
	parts := make([]string, 0, len(m.ws.Tabs))
	for _, t := range m.ws.Tabs {
		if t.ID == m.ws.ActiveID {
			parts = append(parts, activeTabStyle.Render(t.Machine.Name))
		} else {
			parts = append(parts, tabStyle.Render(t.Machine.Name))
		}
	}
	return strings.Join(parts, " ")
}

func (m Model) filterLine() string {
	var parts []string
	if len(m.ws.Filter.Groups) > 0 {
		parts = append(parts, "group="+strings.Join(m.ws.Filter.Groups, ","))
	}
	if m.ws.Filter.FavoritesOnly {
		parts = append(parts, "favorites only")
	}
	if !m.ws.SharedExpanded {
		parts = append(parts, "shared hidden")
	}
	if !m.ws.PersonalExpanded {
		parts = append(parts, "personal hidden")
	}
	if len(parts) == 0 {
		return helpStyle.Render("all machines")
	}
	return helpStyle.Render(strings.Join(parts, "  "))
}
