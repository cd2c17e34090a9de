package api

import (
	"errors"
	"fmt"
)

var (
	// ErrPatternNotFound is returned when a macro hotkey finds nothing to replay
	ErrPatternNotFound = errors.New("no repeat or pattern found")

	// ErrUnknownPlugin is returned for operations on ids that are not registered
	ErrUnknownPlugin = errors.New("plugin is not registered")
)

// ConfigTypeError aborts the configuration build of one plugin
type ConfigTypeError struct {
	PluginID string
	ItemName string
	Type     ConfigType
	Value    string
	Err      error
}

func (e *ConfigTypeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid config for plugin '%s'(%s) of type '%s' value %q: %v",
			e.PluginID, e.ItemName, e.Type, e.Value, e.Err)
	}
	return fmt.Sprintf("unknown type for plugin '%s'(%s): '%s'", e.PluginID, e.ItemName, e.Type)
}

func (e *ConfigTypeError) Unwrap() error {
	return e.Err
}

// PluginCallbackError reports a failure inside a plugin body during dispatch
type PluginCallbackError struct {
	PluginID string
	Event    Event
	Err      error
}

func (e *PluginCallbackError) Error() string {
	return fmt.Sprintf("cannot invoke the %s on %s: %v", e.PluginID, e.Event, e.Err)
}

func (e *PluginCallbackError) Unwrap() error {
	return e.Err
}
