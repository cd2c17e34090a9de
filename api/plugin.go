package api

// Plugin is the main interface that all plugins must implement
type Plugin interface {
	// Meta returns plugin metadata
	Meta() PluginMeta

	// ConfigSchema returns the declared configuration items, in order
	ConfigSchema() []ConfigItem

	// Handle processes one event with the plugin's current configuration.
	// A returned error is treated like a crash of the plugin body.
	Handle(event Event, config Config) (Outcome, error)
}

// Initializer is implemented by plugins that need the core before use
type Initializer interface {
	Initialize(core CoreAPI) error
}

// ConfigValidator is implemented by plugins with constraints beyond the item
// types. A validation error fails the configuration build like a type error.
type ConfigValidator interface {
	ValidateConfig(config Config) error
}

// Shutdowner is implemented by plugins that hold resources
type Shutdowner interface {
	Shutdown() error
}

// HandlerFunc is a bare plugin callback
type HandlerFunc func(event Event, config Config) (Outcome, error)

type funcPlugin struct {
	meta    PluginMeta
	schema  []ConfigItem
	handler HandlerFunc
}

// NewFuncPlugin wraps a callback and its metadata into a Plugin
func NewFuncPlugin(id, name, description string, handler HandlerFunc, schema []ConfigItem) Plugin {
	return &funcPlugin{
		meta:    PluginMeta{ID: id, Name: name, Description: description},
		schema:  append([]ConfigItem(nil), schema...),
		handler: handler,
	}
}

func (p *funcPlugin) Meta() PluginMeta           { return p.meta }
func (p *funcPlugin) ConfigSchema() []ConfigItem { return p.schema }

func (p *funcPlugin) Handle(event Event, config Config) (Outcome, error) {
	return p.handler(event, config)
}
