// Package dispatch runs events through the ordered plugin chain.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/sammwyy/keymacro/api"
	"github.com/sammwyy/keymacro/core/configbuild"
	"github.com/sammwyy/keymacro/core/registry"
)

// RawConfigSource returns the raw host configuration document used on reload
type RawConfigSource func() map[string]interface{}

// Trace describes how the chain handled one event
type Trace struct {
	Outcome api.Outcome
	// Plugin is the id that suppressed the event or failed, empty when every
	// plugin forwarded
	Plugin string
	Err    error
	// ReloadErr holds the failures of the rebuild requested for this event
	ReloadErr error
}

// Dispatcher drives the chain of responsibility over a registry
type Dispatcher struct {
	registry *registry.Registry
	builder  *configbuild.Builder
	raw      RawConfigSource
	logger   api.Logger
}

// NewDispatcher creates a dispatcher over reg
func NewDispatcher(reg *registry.Registry, builder *configbuild.Builder, raw RawConfigSource, logger api.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		builder:  builder,
		raw:      raw,
		logger:   logger,
	}
}

// Dispatch runs event through every plugin in registration order
func (d *Dispatcher) Dispatch(event api.Event, needsConfigReload bool) api.Outcome {
	return d.DispatchTrace(event, needsConfigReload).Outcome
}

// DispatchTrace is Dispatch reporting which plugin decided the outcome.
// A plugin that fails ends the chain and the event is forwarded.
func (d *Dispatcher) DispatchTrace(event api.Event, needsConfigReload bool) Trace {
	var reloadErr error
	if needsConfigReload {
		d.logger.Info("Reloading configuration")
		if reloadErr = d.builder.RebuildAll(d.registry, d.raw()); reloadErr != nil {
			d.logger.Error("Configuration reload failed", "error", reloadErr)
		}
	}

	for _, slot := range d.registry.Slots() {
		outcome, err := invoke(slot, event)
		if err != nil {
			d.logger.Error("Cannot invoke plugin", "plugin", slot.ID(), "event", event.String(), "error", err)
			return Trace{Outcome: api.Forward, Plugin: slot.ID(), Err: err, ReloadErr: reloadErr}
		}
		if outcome == api.Suppress {
			d.logger.Debug("Event suppressed", "plugin", slot.ID(), "event", event.String())
			return Trace{Outcome: api.Suppress, Plugin: slot.ID(), ReloadErr: reloadErr}
		}
	}

	return Trace{Outcome: api.Forward, ReloadErr: reloadErr}
}

// invoke calls one plugin inside a fault boundary
func invoke(slot registry.Slot, event api.Event) (outcome api.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = api.Forward
			err = &api.PluginCallbackError{PluginID: slot.ID(), Event: event, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	outcome, err = slot.Plugin.Handle(event, slot.Config)
	if err != nil {
		return api.Forward, &api.PluginCallbackError{PluginID: slot.ID(), Event: event, Err: err}
	}
	if outcome != api.Suppress {
		outcome = api.Forward
	}
	return outcome, nil
}

// ConfigSchema returns the schema document of every registered plugin
func (d *Dispatcher) ConfigSchema() api.ConfigSchema {
	return api.ConfigSchema{Plugins: d.registry.Snapshot()}
}

// ConfigSchemaJSON returns ConfigSchema encoded for external surfaces
func (d *Dispatcher) ConfigSchemaJSON() ([]byte, error) {
	data, err := json.Marshal(d.ConfigSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to encode config schema: %w", err)
	}
	return data, nil
}
