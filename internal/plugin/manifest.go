package plugin

// Settings field types, for clients rendering a configuration form.
const (
	FieldText     = "text"
	FieldPassword = "password" // masked on read
	FieldToggle   = "toggle"
	FieldNumber   = "number"
	FieldURL      = "url"
)

// SettingsField describes one configurable key a plugin accepts. The schema
// tells clients what to render; the values live in the plugin_settings table
// or the configuration file.
type SettingsField struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Secret      bool   `json:"secret,omitempty"` // masked in API responses
}

// Configurable is implemented by plugins that declare their settings schema.
// Plugins without it are still configurable; callers just get no schema.
type Configurable interface {
	SettingsManifest() []SettingsField
}

// Manifest returns the settings schema a plugin declares, or nil for plugins
// that don't implement Configurable. The second return distinguishes an
// unknown plugin from one with no manifest.
func (m *Manager) Manifest(name string) ([]SettingsField, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return nil, false
	}
	if c, ok := rec.instance.(Configurable); ok {
		return c.SettingsManifest(), true
	}
	return nil, true
}
