package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"managervnc/internal/registry"
)

func machine(id, name string) registry.Machine {
	return registry.Machine{ID: id, Name: name, Host: name + ".lan", Port: 5900, Tags: []string{}, Groups: []string{}}
}

func TestOpenTwiceKeepsOneActiveTab(t *testing.T) {
	s := NewState()
	now := time.Unix(100, 0)
	m := machine("m1", "db1")

	first := s.Open(m, now)
	second := s.Open(m, now.Add(time.Second))

	require.Len(t, s.Tabs, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ID, s.ActiveID)
}

func TestOpenReactivatesExistingTab(t *testing.T) {
	s := NewState()
	now := time.Unix(100, 0)
	a := s.Open(machine("m1", "a"), now)
	b := s.Open(machine("m2", "b"), now.Add(time.Millisecond))
	assert.Equal(t, b.ID, s.ActiveID)

	s.Open(machine("m1", "a"), now.Add(2*time.Millisecond))
	assert.Equal(t, a.ID, s.ActiveID)
	assert.Len(t, s.Tabs, 2)
}

func TestCloseActivePromotesFirstRemaining(t *testing.T) {
	s := NewState()
	now := time.Unix(100, 0)
	a := s.Open(machine("m1", "a"), now)
	b := s.Open(machine("m2", "b"), now.Add(time.Millisecond))
	c := s.Open(machine("m3", "c"), now.Add(2*time.Millisecond))

	require.True(t, s.Close(c.ID))
	assert.Equal(t, a.ID, s.ActiveID)

	require.True(t, s.Activate(b.ID))
	require.True(t, s.Close(a.ID))
	assert.Equal(t, b.ID, s.ActiveID, "closing a background tab keeps the active one")

	s.SidebarOpen = false
	require.True(t, s.Close(b.ID))
	assert.Empty(t, s.ActiveID)
	assert.True(t, s.SidebarOpen, "sidebar reopens when the last tab closes")
	_, ok := s.Active()
	assert.False(t, ok)

	assert.False(t, s.Close("missing"))
}

func TestReconcileDropsVanishedMachines(t *testing.T) {
	s := NewState()
	now := time.Unix(100, 0)
	s.Open(machine("m1", "a"), now)
	gone := s.Open(machine("m2", "b"), now.Add(time.Millisecond))
	quick, err := s.QuickConnect("10.0.0.1", 0, now.Add(2*time.Millisecond))
	require.NoError(t, err)
	require.True(t, s.Activate(gone.ID))

	renamed := machine("m1", "a-renamed")
	dropped := s.Reconcile([]registry.Machine{renamed})

	assert.Equal(t, 1, dropped)
	require.Len(t, s.Tabs, 2)
	assert.Equal(t, "a-renamed", s.Tabs[0].Machine.Name)
	assert.Equal(t, quick.ID, s.Tabs[1].ID)
	assert.Equal(t, s.Tabs[0].ID, s.ActiveID)
}

func TestQuickConnect(t *testing.T) {
	s := NewState()
	s.Prefs.DefaultPort = 5901
	tab, err := s.QuickConnect("  10.0.0.1 ", 0, time.Unix(100, 0))
	require.NoError(t, err)
	assert.True(t, tab.Quick())
	assert.Equal(t, "10.0.0.1", tab.Machine.Host)
	assert.Equal(t, 5901, tab.Machine.Port)
	assert.Equal(t, "Quick: 10.0.0.1:5901", tab.Machine.Name)

	_, err = s.QuickConnect(" ", 5900, time.Unix(101, 0))
	assert.Error(t, err)
	_, err = s.QuickConnect("h", 70000, time.Unix(101, 0))
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	notes := "Rack 12"
	ms := []registry.Machine{
		{ID: "1", Name: "web", Host: "10.0.0.1", Tags: []string{"Prod"}, Groups: []string{"dc1"}, IsFavorite: true},
		{ID: "2", Name: "db", Host: "10.0.0.2", Notes: &notes, Tags: []string{}, Groups: []string{"dc2"}},
		{ID: "3", Name: "cache", Host: "cache.lan", Tags: []string{}, Groups: []string{}},
	}
	ids := func(in []registry.Machine) []string {
		var out []string
		for _, m := range in {
			out = append(out, m.ID)
		}
		return out
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids(Filter{}.Apply(ms)))
	assert.Equal(t, []string{"1"}, ids(Filter{Query: "PROD"}.Apply(ms)))
	assert.Equal(t, []string{"2"}, ids(Filter{Query: "rack"}.Apply(ms)))
	assert.Equal(t, []string{"3"}, ids(Filter{Query: "cache.lan"}.Apply(ms)))
	assert.Equal(t, []string{"1", "2"}, ids(Filter{Groups: []string{"dc1", "dc2"}}.Apply(ms)))
	assert.Equal(t, []string{"1"}, ids(Filter{FavoritesOnly: true}.Apply(ms)))
	assert.Empty(t, Filter{Query: "web", Groups: []string{"dc2"}}.Apply(ms))
	assert.Equal(t, []string{"dc1", "dc2"}, Groups(ms))
}

func TestSplit(t *testing.T) {
	me, other := "u1", "u2"
	ms := []registry.Machine{
		{ID: "s", Name: "shared", IsFavorite: true},
		{ID: "p", Name: "mine", OwnerID: &me},
		{ID: "x", Name: "theirs", OwnerID: &other},
	}
	sec := Split(ms, me, Filter{})
	require.Len(t, sec.Shared, 1)
	require.Len(t, sec.Personal, 1)
	require.Len(t, sec.Favorites, 1)
	assert.Equal(t, "p", sec.Personal[0].ID)
}

func TestViewerURL(t *testing.T) {
	pw := "p&ss word"
	m := registry.Machine{Host: "10.0.0.5", Port: 5901, Password: &pw}
	got := ViewerURL(Viewer{Scheme: "https", Host: "vnc.example.com"}, m, true)
	assert.Equal(t, "https://vnc.example.com:6080/vnc.html?host=10.0.0.5&port=5901&password=p%26ss%20word&autoconnect=true&resize=scale&reconnect=true", got)

	got = ViewerURL(Viewer{Host: "localhost", Port: 7000}, registry.Machine{Host: "h", Port: 5900}, false)
	assert.Equal(t, "http://localhost:7000/vnc.html?host=h&port=5900&password=&autoconnect=true&resize=scale&reconnect=false", got)
}

func TestStoreRoundTripAndBestEffortLoad(t *testing.T) {
	dir := t.TempDir()
	st := Store{Path: filepath.Join(dir, "state", "workspace.json")}

	fresh := st.Load()
	assert.Equal(t, NewState(), fresh)

	s := NewState()
	tab := s.Open(machine("m1", "a"), time.Unix(100, 0))
	s.SharedExpanded = false
	s.Prefs.AutoReconnect = false
	require.NoError(t, st.Save(s))

	loaded := st.Load()
	require.Len(t, loaded.Tabs, 1)
	assert.Equal(t, tab.ID, loaded.ActiveID)
	assert.False(t, loaded.SharedExpanded)
	assert.False(t, loaded.Prefs.AutoReconnect)

	require.NoError(t, os.WriteFile(st.Path, []byte("{not json"), 0o600))
	assert.Equal(t, NewState(), st.Load())
}

func TestLoadDefaultsEachBadEntry(t *testing.T) {
	st := Store{Path: filepath.Join(t.TempDir(), "workspace.json")}
	body := `{
  "tabs": [
    {"id": "session-1-m1", "machine": {"id": "m1", "name": "a", "host": "a.lan", "port": 5900}},
    {"id": 42},
    {"id": "session-2-m2", "machine": {"id": "m2", "name": "b", "host": "b.lan", "port": "x"}}
  ],
  "activeId": "session-9-gone",
  "sidebarOpen": "yes",
  "sharedExpanded": false,
  "personalExpanded": null,
  "filter": {"query": "db", "groups": "lab", "favoritesOnly": true},
  "prefs": {"defaultPort": 70000, "autoReconnect": false, "darkMode": "on"}
}`
	require.NoError(t, os.WriteFile(st.Path, []byte(body), 0o600))

	got := st.Load()
	require.Len(t, got.Tabs, 1)
	assert.Equal(t, "m1", got.Tabs[0].Machine.ID)
	assert.Equal(t, "session-1-m1", got.ActiveID)
	assert.True(t, got.SidebarOpen)
	assert.False(t, got.SharedExpanded)
	assert.True(t, got.PersonalExpanded)
	assert.Equal(t, "db", got.Filter.Query)
	assert.Empty(t, got.Filter.Groups)
	assert.True(t, got.Filter.FavoritesOnly)
	assert.Equal(t, DefaultPreferences().DefaultPort, got.Prefs.DefaultPort)
	assert.False(t, got.Prefs.AutoReconnect)
	assert.False(t, got.Prefs.DarkMode)
}

func TestResetPreferencesKeepsTabs(t *testing.T) {
	s := NewState()
	tab := s.Open(machine("m1", "a"), time.Unix(100, 0))
	s.SidebarOpen = false
	s.Prefs = Preferences{DefaultPort: 5999, DarkMode: true}
	s.Filter = Filter{Query: "x"}

	s.ResetPreferences()
	assert.Len(t, s.Tabs, 1)
	assert.Equal(t, tab.ID, s.ActiveID)
	assert.True(t, s.SidebarOpen)
	assert.Equal(t, DefaultPreferences(), s.Prefs)
	assert.False(t, s.Filter.Active())
}
