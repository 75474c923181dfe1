package integrations

import (
	"fmt"
	"sort"
	"strings"

	"github.com/memorymesh/integrations/core"
)

// PluginFactory builds a provider plugin from its configured OAuth client
// credentials.
type PluginFactory func(creds core.ProviderCredentials) (core.Plugin, error)

// BuildConfiguredPlugins instantiates one plugin per factory, feeding each
// the credentials configured for its provider id. A factory whose provider
// has no configured credentials is skipped, so one deployment can carry the
// full factory set and enable providers through config alone. Providers are
// built in sorted id order so registration failures are reproducible.
func BuildConfiguredPlugins(cfg core.Config, factories map[string]PluginFactory) ([]core.Plugin, error) {
	normalized := make(map[string]PluginFactory, len(factories))
	ids := make([]string, 0, len(factories))
	for id, factory := range factories {
		key := strings.TrimSpace(strings.ToLower(id))
		if key == "" {
			return nil, fmt.Errorf("integrations: plugin factory id is required")
		}
		if _, exists := normalized[key]; exists {
			return nil, fmt.Errorf("integrations: plugin factory %q registered twice", key)
		}
		normalized[key] = factory
		ids = append(ids, key)
	}
	sort.Strings(ids)

	plugins := make([]core.Plugin, 0, len(ids))
	for _, id := range ids {
		factory := normalized[id]
		if factory == nil {
			return nil, fmt.Errorf("integrations: plugin factory for %q is nil", id)
		}
		creds, ok := cfg.Providers[id]
		if !ok {
			continue
		}
		plugin, err := factory(creds)
		if err != nil {
			return nil, fmt.Errorf("integrations: build plugin %q: %w", id, err)
		}
		if plugin == nil {
			return nil, fmt.Errorf("integrations: plugin factory %q returned nil", id)
		}
		plugins = append(plugins, plugin)
	}
	return plugins, nil
}

// RegisterConfiguredPlugins builds and registers the configured plugins on
// the registry.
func RegisterConfiguredPlugins(registry core.Registry, cfg core.Config, factories map[string]PluginFactory) error {
	if registry == nil {
		return fmt.Errorf("integrations: registry is required")
	}
	plugins, err := BuildConfiguredPlugins(cfg, factories)
	if err != nil {
		return err
	}
	for _, plugin := range plugins {
		if err := registry.Register(plugin); err != nil {
			return err
		}
	}
	return nil
}
