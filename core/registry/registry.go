package registry

import (
	"fmt"
	"sync"

	"github.com/sammwyy/keymacro/api"
)

// ConfigFactory materializes the configuration of a plugin being registered
type ConfigFactory func(id string, schema []api.ConfigItem) (api.Config, error)

// Slot is one position of the dispatch chain
type Slot struct {
	Plugin api.Plugin
	Config api.Config
}

// ID returns the plugin id of the slot
func (s Slot) ID() string {
	return s.Plugin.Meta().ID
}

// Registry manages registered plugins in registration order
type Registry struct {
	order   []string
	slots   map[string]*Slot
	factory ConfigFactory
	mutex   sync.RWMutex
	logger  api.Logger
}

// NewRegistry creates a new plugin registry
func NewRegistry(factory ConfigFactory, logger api.Logger) *Registry {
	return &Registry{
		order:   make([]string, 0),
		slots:   make(map[string]*Slot),
		factory: factory,
		logger:  logger,
	}
}

// Register adds a plugin at the end of the chain, or replaces an already
// registered plugin with the same id in place. The configuration is built
// before anything is stored; a build failure leaves the registry unchanged.
func (r *Registry) Register(plugin api.Plugin) error {
	meta := plugin.Meta()
	if meta.ID == "" {
		return fmt.Errorf("plugin id must not be empty")
	}

	config, err := r.factory(meta.ID, plugin.ConfigSchema())
	if err != nil {
		return fmt.Errorf("failed to build config for plugin %s: %w", meta.ID, err)
	}
	if validator, ok := plugin.(api.ConfigValidator); ok {
		if err := validator.ValidateConfig(config); err != nil {
			return fmt.Errorf("invalid config for plugin %s: %w", meta.ID, err)
		}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if slot, exists := r.slots[meta.ID]; exists {
		slot.Plugin = plugin
		slot.Config = config
		r.logger.Info("Re-registered plugin", "id", meta.ID, "name", meta.Name)
		return nil
	}

	r.slots[meta.ID] = &Slot{Plugin: plugin, Config: config}
	r.order = append(r.order, meta.ID)
	r.logger.Info("Registered plugin", "id", meta.ID, "name", meta.Name, "config_items", config.Len())
	return nil
}

// Unregister removes a plugin and its slot. Unknown ids are logged and ignored.
func (r *Registry) Unregister(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.slots[id]; !exists {
		r.logger.Info("Plugin is not registered", "id", id)
		return false
	}

	delete(r.slots, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("Unloaded plugin", "id", id)
	return true
}

// Get returns the slot of a plugin
func (r *Registry) Get(id string) (Slot, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	slot, exists := r.slots[id]
	if !exists {
		return Slot{}, false
	}
	return *slot, true
}

// Slots returns the dispatch chain in registration order
func (r *Registry) Slots() []Slot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]Slot, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, *r.slots[id])
	}
	return result
}

// IDs returns the registered ids in registration order
func (r *Registry) IDs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of registered plugins
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.order)
}

// SetConfig replaces the whole configuration of a registered plugin
func (r *Registry) SetConfig(id string, config api.Config) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	slot, exists := r.slots[id]
	if !exists {
		return false
	}
	slot.Config = config
	return true
}

// Snapshot returns the introspection view of every plugin, in order
func (r *Registry) Snapshot() []api.PluginInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]api.PluginInfo, 0, len(r.order))
	for _, id := range r.order {
		plugin := r.slots[id].Plugin
		meta := plugin.Meta()
		result = append(result, api.PluginInfo{
			ID:          meta.ID,
			Name:        meta.Name,
			Description: meta.Description,
			Config:      append([]api.ConfigItem{}, plugin.ConfigSchema()...),
		})
	}
	return result
}
