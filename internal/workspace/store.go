package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Store persists State as a JSON file.
type Store struct {
	Path string
}

// Load reads the saved state. Each entry is decoded on its own: missing,
// malformed or mistyped entries keep their defaults and loading never fails.
func (s Store) Load() State {
	st := NewState()
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return st
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return st
	}

	field(raw, "activeId", &st.ActiveID)
	field(raw, "sidebarOpen", &st.SidebarOpen)
	field(raw, "sharedExpanded", &st.SharedExpanded)
	field(raw, "personalExpanded", &st.PersonalExpanded)

	var items []json.RawMessage
	field(raw, "tabs", &items)
	for _, it := range items {
		var t Tab
		if json.Unmarshal(it, &t) == nil && t.ID != "" && t.Machine.ID != "" {
			st.Tabs = append(st.Tabs, t)
		}
	}

	var filter, prefs map[string]json.RawMessage
	field(raw, "filter", &filter)
	field(filter, "query", &st.Filter.Query)
	field(filter, "groups", &st.Filter.Groups)
	field(filter, "favoritesOnly", &st.Filter.FavoritesOnly)
	field(raw, "prefs", &prefs)
	field(prefs, "defaultPort", &st.Prefs.DefaultPort)
	field(prefs, "autoReconnect", &st.Prefs.AutoReconnect)
	field(prefs, "darkMode", &st.Prefs.DarkMode)
	field(prefs, "sessionTimeoutMinutes", &st.Prefs.SessionTimeoutMinutes)

	if st.Prefs.DefaultPort < 1 || st.Prefs.DefaultPort > 65535 {
		st.Prefs.DefaultPort = DefaultPreferences().DefaultPort
	}
	if st.ActiveID != "" && st.indexOf(st.ActiveID) < 0 {
		st.ActiveID = ""
	}
	if st.ActiveID == "" && len(st.Tabs) > 0 {
		st.ActiveID = st.Tabs[0].ID
	}
	return st
}

// field decodes raw[key] into dst, leaving dst alone when the entry is
// absent, null or does not decode.
func field[T any](raw map[string]json.RawMessage, key string, dst *T) {
	v, ok := raw[key]
	if !ok || string(v) == "null" {
		return
	}
	var tmp T
	if err := json.Unmarshal(v, &tmp); err == nil {
		*dst = tmp
	}
}

// Save writes state atomically.
func (s Store) Save(st State) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".workspace-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}
