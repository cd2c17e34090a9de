// Package configbuild materializes typed plugin configuration from the
// declared schema and the raw host configuration document.
package configbuild

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/sammwyy/keymacro/api"
	"github.com/sammwyy/keymacro/core/registry"
)

// Builder builds plugin configurations
type Builder struct {
	parse  api.HotkeyParser
	logger api.Logger
}

// New creates a builder using parse for hotkey items
func New(parse api.HotkeyParser, logger api.Logger) *Builder {
	return &Builder{
		parse:  parse,
		logger: logger,
	}
}

// Build resolves every item of schema, in order, against
// raw.plugins[id].config[item.Name], falling back to the item default when
// the value is absent or empty. Any failure aborts the whole build.
func (b *Builder) Build(id string, schema []api.ConfigItem, raw map[string]interface{}) (api.Config, error) {
	values := make(map[string]interface{}, len(schema))

	for _, item := range schema {
		value := lookup(raw, id, item.Name)
		if value == "" {
			value = item.Default
		}

		switch item.Type {
		case api.ConfigTypeHotkey:
			hotkey, err := b.parse(value)
			if err != nil {
				return api.Config{}, &api.ConfigTypeError{PluginID: id, ItemName: item.Name, Type: item.Type, Value: value, Err: err}
			}
			values[item.Name] = hotkey
		case api.ConfigTypeString:
			values[item.Name] = value
		case api.ConfigTypeInteger:
			n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 0)
			if err != nil {
				return api.Config{}, &api.ConfigTypeError{PluginID: id, ItemName: item.Name, Type: item.Type, Value: value, Err: err}
			}
			values[item.Name] = int(n)
		default:
			return api.Config{}, &api.ConfigTypeError{PluginID: id, ItemName: item.Name, Type: item.Type, Value: value}
		}
	}

	b.logger.Debug("Built plugin config", "plugin", id, "items", len(values))
	return api.NewConfig(values), nil
}

// Factory binds the builder to a raw document source for registry use
func (b *Builder) Factory(raw func() map[string]interface{}) registry.ConfigFactory {
	return func(id string, schema []api.ConfigItem) (api.Config, error) {
		return b.Build(id, schema, raw())
	}
}

// RebuildAll rebuilds the configuration of every registered plugin in
// registration order. A plugin whose build fails keeps its previous
// configuration; the failures are returned together.
func (b *Builder) RebuildAll(reg *registry.Registry, raw map[string]interface{}) error {
	var errs []error

	for _, slot := range reg.Slots() {
		id := slot.ID()
		config, err := b.Build(id, slot.Plugin.ConfigSchema(), raw)
		if err != nil {
			b.logger.Error("Failed to rebuild plugin config", "plugin", id, "error", err)
			errs = append(errs, err)
			continue
		}
		if validator, ok := slot.Plugin.(api.ConfigValidator); ok {
			if err := validator.ValidateConfig(config); err != nil {
				b.logger.Error("Rebuilt plugin config rejected", "plugin", id, "error", err)
				errs = append(errs, fmt.Errorf("invalid config for plugin %s: %w", id, err))
				continue
			}
		}
		if !reg.SetConfig(id, config) {
			b.logger.Debug("Plugin unregistered during rebuild", "plugin", id)
		}
	}

	return errors.Join(errs...)
}

// lookup returns the raw value as text, or "" when absent
func lookup(raw map[string]interface{}, id, name string) string {
	if raw == nil {
		return ""
	}

	x := jp.R().C("plugins").C(id).C("config").C(name)
	return stringify(x.First(raw))
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
