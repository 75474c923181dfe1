package integrations

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/memorymesh/integrations/core"
)

// PluginPack groups provider plugins that ship together, so a host can
// register a vendor's whole integration family in one call.
type PluginPack struct {
	Name    string
	Plugins []core.Plugin
}

// CommandBundleFactory builds a named extension bundle over a running
// engine.
type CommandBundleFactory func(engine *Engine) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	pluginPacks map[string]PluginPack
	bundles     map[string]CommandBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		pluginPacks: map[string]PluginPack{},
		bundles:     map[string]CommandBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterPluginPack(pack PluginPack) error {
	if h == nil {
		return fmt.Errorf("integrations: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("integrations: plugin pack name is required")
	}
	if len(pack.Plugins) == 0 {
		return fmt.Errorf("integrations: plugin pack %q has no plugins", name)
	}

	normalized := PluginPack{
		Name:    name,
		Plugins: append([]core.Plugin(nil), pack.Plugins...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.pluginPacks[name]; exists {
		return fmt.Errorf("integrations: plugin pack %q already registered", name)
	}
	h.pluginPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandBundle(name string, factory CommandBundleFactory) error {
	if h == nil {
		return fmt.Errorf("integrations: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("integrations: command bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("integrations: command bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("integrations: command bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyPluginPacks registers every pack's plugins on the registry in
// deterministic pack order.
func (h *ExtensionHooks) ApplyPluginPacks(registry core.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("integrations: registry is required")
	}

	packs := h.PluginPacks()
	for _, pack := range packs {
		for _, plugin := range pack.Plugins {
			if plugin == nil {
				return fmt.Errorf("integrations: plugin pack %q contains nil plugin", pack.Name)
			}
			if err := registry.Register(plugin); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandBundles(engine *Engine) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if engine == nil {
		return nil, fmt.Errorf("integrations: engine is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](engine)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) PluginPacks() []PluginPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.pluginPacks))
	for name := range h.pluginPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]PluginPack, 0, len(names))
	for _, name := range names {
		pack := h.pluginPacks[name]
		out = append(out, PluginPack{
			Name:    pack.Name,
			Plugins: append([]core.Plugin(nil), pack.Plugins...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
