package plugin

import (
	"context"
	"sync"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/store"
)

// ChangeHandler is called after a plugin's stored settings change.
// name is the plugin whose settings changed, settings is the full stored map.
type ChangeHandler func(name string, settings map[string]string)

// SettingsStore persists per-plugin configuration overrides and notifies
// handlers on change, driving hot reload. Stored settings layer over the
// static configuration file; they win key collisions.
type SettingsStore struct {
	db *store.Store

	mu       sync.RWMutex
	handlers []ChangeHandler
}

// NewSettingsStore creates a settings store backed by db.
func NewSettingsStore(db *store.Store) *SettingsStore {
	return &SettingsStore{db: db}
}

// OnChange registers a handler called whenever a plugin's settings change.
func (s *SettingsStore) OnChange(fn ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// Get returns the stored settings for one plugin. A plugin with no stored
// settings yields an empty map.
func (s *SettingsStore) Get(ctx context.Context, name string) (map[string]string, error) {
	return s.db.PluginSettings(ctx, name)
}

// All returns stored settings grouped by plugin.
func (s *SettingsStore) All(ctx context.Context) (map[string]map[string]string, error) {
	return s.db.AllPluginSettings(ctx)
}

// Update upserts the given keys and notifies handlers with the plugin's full
// stored map. Keys absent from values are untouched.
func (s *SettingsStore) Update(ctx context.Context, name string, values map[string]string) error {
	for key, value := range values {
		if err := s.db.SetPluginSetting(ctx, name, key, value); err != nil {
			return err
		}
	}
	return s.notify(ctx, name)
}

// Delete removes one stored key and notifies handlers.
func (s *SettingsStore) Delete(ctx context.Context, name, key string) error {
	if err := s.db.DeletePluginSetting(ctx, name, key); err != nil {
		return err
	}
	return s.notify(ctx, name)
}

func (s *SettingsStore) notify(ctx context.Context, name string) error {
	current, err := s.db.PluginSettings(ctx, name)
	if err != nil {
		return err
	}

	s.mu.RLock()
	handlers := make([]ChangeHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(name, current)
	}
	return nil
}

// MergeConfig layers stored overrides on top of a base configuration.
// Neither input is modified.
func MergeConfig(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
