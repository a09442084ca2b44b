package console

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"managervnc/internal/apiclient"
	"managervnc/internal/registry"
)

const callTimeout = 15 * time.Second

func call(fn func(ctx context.Context) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		return fn(ctx)
	}
}

func loginCmd(c *apiclient.Client, email, password string) tea.Cmd {
	return call(func(ctx context.Context) tea.Msg {
		u, err := c.Login(ctx, email, password)
		if err != nil {
			return errMsg(err.Error())
		}
		return loggedInMsg{user: u}
	})
}

func registerCmd(c *apiclient.Client, email, password string) tea.Cmd {
	return call(func(ctx context.Context) tea.Msg {
		u, err := c.Register(ctx, email, password)
		if err != nil {
			return errMsg(err.Error())
		}
		return loggedInMsg{user: u}
	})
}

func meCmd(c *apiclient.Client) tea.Cmd {
	return call(func(ctx context.Context) tea.Msg {
		u, err := c.Me(ctx)
		if err != nil {
			return errMsg("saved session expired: " + err.Error())
		}
		return loggedInMsg{user: u}
	})
}

func listMachinesCmd(c *apiclient.Client) tea.Cmd {
	return call(func(ctx context.Context) tea.Msg {
		ms, err := c.ListMachines(ctx, apiclient.PoolAll)
		if err != nil {
			return errMsg(err.Error())
		}
		return machinesMsg(ms)
	})
}

// mutateThenList runs fn and, on success, returns the refreshed listing so
// the list never shows stale rows.
func mutateThenList(c *apiclient.Client, fn func(ctx context.Context) error) tea.Cmd {
	return call(func(ctx context.Context) tea.Msg {
		if err := fn(ctx); err != nil {
			return errMsg(err.Error())
		}
		ms, err := c.ListMachines(ctx, apiclient.PoolAll)
		if err != nil {
			return errMsg(err.Error())
		}
		return machinesMsg(ms)
	})
}

func createMachineCmd(c *apiclient.Client, in registry.MachineInput) tea.Cmd {
	return mutateThenList(c, func(ctx context.Context) error {
		_, err := c.CreateMachine(ctx, in)
		return err
	})
}

func updateMachineCmd(c *apiclient.Client, id string, p registry.MachinePatch) tea.Cmd {
	return mutateThenList(c, func(ctx context.Context) error {
		_, err := c.UpdateMachine(ctx, id, p)
		return err
	})
}

func deleteMachineCmd(c *apiclient.Client, id string) tea.Cmd {
	return mutateThenList(c, func(ctx context.Context) error {
		return c.DeleteMachine(ctx, id)
	})
}

func toggleFavoriteCmd(c *apiclient.Client, id string) tea.Cmd {
	return mutateThenList(c, func(ctx context.Context) error {
		_, err := c.ToggleFavorite(ctx, id)
		return err
	})
}

// logActivityCmd is best-effort: a failed log never blocks the session.
func logActivityCmd(c *apiclient.Client, machineID, action string) tea.Cmd {
	return call(func(ctx context.Context) tea.Msg {
		_, _ = c.LogActivity(ctx, machineID, action)
		return nil
	})
}

func listActivityCmd(c *apiclient.Client) tea.Cmd {
	return call(func(ctx context.Context) tea.Msg {
		logs, err := c.ListActivity(ctx, 0, "")
		if err != nil {
			return errMsg(err.Error())
		}
		return activityMsg(logs)
	})
}

func listUsersCmd(c *apiclient.Client) tea.Cmd {
	return call(func(ctx context.Context) tea.Msg {
		users, err := c.ListUsers(ctx)
		if err != nil {
			return errMsg(err.Error())
		}
		return usersMsg(users)
	})
}

func updateUserCmd(c *apiclient.Client, id string, role *string, canManageShared *bool) tea.Cmd {
	return call(func(ctx context.Context) tea.Msg {
		if _, err := c.UpdateUser(ctx, id, role, canManageShared); err != nil {
			return errMsg(err.Error())
		}
		users, err := c.ListUsers(ctx)
		if err != nil {
			return errMsg(err.Error())
		}
		return usersMsg(users)
	})
}

func deleteUserCmd(c *apiclient.Client, id string) tea.Cmd {
	return call(func(ctx context.Context) tea.Msg {
		if err := c.DeleteUser(ctx, id); err != nil {
			return errMsg(err.Error())
		}
		users, err := c.ListUsers(ctx)
		if err != nil {
			return errMsg(err.Error())
		}
		return usersMsg(users)
	})
}
