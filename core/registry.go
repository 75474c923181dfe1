package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PluginRegistry is the explicit, injected replacement for a process-global
// provider table: built once at startup, read concurrently afterwards.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{plugins: make(map[string]Plugin)}
}

func (r *PluginRegistry) Register(plugin Plugin) error {
	if plugin == nil {
		return fmt.Errorf("core: plugin is nil")
	}
	id := strings.TrimSpace(plugin.ID())
	if id == "" {
		return fmt.Errorf("core: plugin id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[id]; exists {
		return fmt.Errorf("core: plugin already registered: %s", id)
	}
	r.plugins[id] = plugin
	return nil
}

func (r *PluginRegistry) Get(providerID string) (Plugin, bool) {
	id := strings.TrimSpace(providerID)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	plugin, ok := r.plugins[id]
	r.mu.RUnlock()
	return plugin, ok
}

func (r *PluginRegistry) List() []Plugin {
	r.mu.RLock()
	keys := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	plugins := make([]Plugin, 0, len(keys))
	for _, id := range keys {
		plugins = append(plugins, r.plugins[id])
	}
	r.mu.RUnlock()
	return plugins
}

var _ Registry = (*PluginRegistry)(nil)
