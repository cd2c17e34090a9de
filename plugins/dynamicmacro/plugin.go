// Package dynamicmacro is the built-in macro plugin. Pressing its hotkey
// replays the last repeated key sequence, or predicts the continuation of an
// X-Y-X cycle and types Y.
package dynamicmacro

import (
	"fmt"

	"github.com/sammwyy/keymacro/api"
)

// ID is the plugin id used in the host configuration
const ID = "dynamic_macro"

const (
	itemHotkey     = "hotkey"
	itemBufferSize = "buffer_size"

	defaultBufferSize = 64
)

// Plugin adapts an Engine to the plugin contract
type Plugin struct {
	engine *Engine
}

// New creates the plugin with a detached engine; Initialize attaches it to
// the host emitter
func New() *Plugin {
	return &Plugin{
		engine: NewEngine(defaultBufferSize, nil, api.NewLogger(ID)),
	}
}

// Meta returns plugin metadata
func (p *Plugin) Meta() api.PluginMeta {
	return api.PluginMeta{
		ID:          ID,
		Name:        "Dynamic macro",
		Description: "Repeats the last typed sequence or types the predicted continuation of a cycle",
	}
}

// ConfigSchema returns the declared configuration items
func (p *Plugin) ConfigSchema() []api.ConfigItem {
	return []api.ConfigItem{
		{
			Name:        itemHotkey,
			Type:        api.ConfigTypeHotkey,
			Default:     "C-t",
			Description: "Repeat key",
		},
		{
			Name:        itemBufferSize,
			Type:        api.ConfigTypeInteger,
			Default:     fmt.Sprint(defaultBufferSize),
			Description: "Maximum history size. Longer history finds longer patterns but costs more per trigger.",
		},
	}
}

// Initialize attaches the engine to the host
func (p *Plugin) Initialize(core api.CoreAPI) error {
	p.engine.SetEmitter(core)
	p.engine.logger = core.GetLogger(ID)
	return nil
}

// ValidateConfig rejects a non-positive history size
func (p *Plugin) ValidateConfig(config api.Config) error {
	size, ok := config.Int(itemBufferSize)
	if !ok {
		return fmt.Errorf("%s is not set", itemBufferSize)
	}
	if size <= 0 {
		return fmt.Errorf("%s must be positive, got %d", itemBufferSize, size)
	}
	if _, ok := config.Hotkey(itemHotkey); !ok {
		return fmt.Errorf("%s is not set", itemHotkey)
	}
	return nil
}

// Handle processes one event
func (p *Plugin) Handle(event api.Event, config api.Config) (api.Outcome, error) {
	hotkey, _ := config.Hotkey(itemHotkey)
	size, _ := config.Int(itemBufferSize)
	return p.engine.Handle(event, hotkey, size)
}

// Engine exposes the macro state for inspection
func (p *Plugin) Engine() *Engine {
	return p.engine
}
