package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"managervnc/internal/config"
	"managervnc/internal/db"
	"managervnc/internal/logging"
	"managervnc/internal/policy"
	"managervnc/internal/registry"
	"managervnc/internal/setup"
)

func TestJanitorSweep(t *testing.T) {
	ctx := context.Background()
	d, err := db.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer d.Close()

	u, err := d.CreateUser(ctx, "a@example.com", "hash", "USER", false)
	require.NoError(t, err)
	reg := registry.New(d, policy.Policy{}, nil, logging.Discard())
	actor := policy.Actor{ID: u.ID, Role: policy.RoleUser}
	m, err := reg.Create(ctx, actor, registry.MachineInput{Name: "lab", Host: "h"})
	require.NoError(t, err)
	_, err = reg.LogConnect(ctx, actor, m.ID, "")
	require.NoError(t, err)
	require.NoError(t, d.CreateSession(ctx, "tok-1", u.ID, time.Now().Add(time.Hour)))

	j := &janitor{
		DB:        d,
		Registry:  reg,
		Retention: 90 * 24 * time.Hour,
		Interval:  time.Hour,
		Log:       logging.Discard(),
		now:       time.Now,
	}
	j.sweep(ctx)
	logs, err := reg.ListActivity(ctx, actor, registry.ActivityFilter{})
	require.NoError(t, err)
	assert.Len(t, logs, 2, "recent rows survive")
	_, live, err := d.GetSession(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, live)

	j.now = func() time.Time { return time.Now().Add(91 * 24 * time.Hour) }
	j.sweep(ctx)
	logs, err = reg.ListActivity(ctx, actor, registry.ActivityFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
	_, live, err = d.GetSession(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, live)
}

func TestRunRequiresSetup(t *testing.T) {
	c := config.Default()
	c.DB.Path = filepath.Join(t.TempDir(), "fresh.db")
	err := Run(context.Background(), Options{Config: c, Logger: logging.Discard()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run setup")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Setenv(config.EnvJWTSecret, "")
	t.Setenv(config.EnvDBDSN, "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "managervnc.yaml")
	require.NoError(t, setup.Run(context.Background(), setup.Options{
		ConfigPath:    cfgPath,
		AdminEmail:    "admin@example.com",
		AdminPassword: "adminpass",
	}))
	c, err := config.Load(cfgPath)
	require.NoError(t, err)
	c.ResolvePaths(dir)
	c.HTTP.Port = 0

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	assert.NoError(t, Run(ctx, Options{Config: c, Logger: logging.Discard()}))
}
