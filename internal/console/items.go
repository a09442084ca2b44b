package console

import (
	"fmt"
	"strings"

	"managervnc/internal/identity"
	"managervnc/internal/registry"
)

type machineItem struct {
	registry.Machine
	section string
}

func (i machineItem) Title() string {
	if i.IsFavorite {
		return "★ " + i.Name
	}
	return i.Name
}

func (i machineItem) Description() string {
	parts := []string{fmt.Sprintf("%s:%d", i.Host, i.Port), i.section}
	if len(i.Groups) > 0 {
		parts = append(parts, "groups="+strings.Join(i.Groups, ","))
	}
	if len(i.Tags) > 0 {
		parts = append(parts, "tags="+strings.Join(i.Tags, ","))
	}
	return strings.Join(parts, "  ")
}

func (i machineItem) FilterValue() string {
	return i.Name + " " + i.Host + " " + strings.Join(i.Tags, " ")
}

type userItem identity.User

func (u userItem) Title() string { return u.Email }
func (u userItem) Description() string {
	return fmt.Sprintf("role=%s shared-machines=%v joined=%s", u.Role, u.CanManageSharedMachines, u.CreatedAt.Format("2006-01-02"))
}
func (u userItem) FilterValue() string { return u.Email }

type activityItem registry.ActivityEntry

func (a activityItem) Title() string {
	if a.Machine != nil {
		return a.Action + " " + a.Machine.Name
	}
	return a.Action + " " + a.MachineID
}

func (a activityItem) Description() string {
	return a.CreatedAt.Local().Format("2006-01-02 15:04:05")
}

func (a activityItem) FilterValue() string { return a.Title() }
