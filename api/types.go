package api

import (
	"fmt"
	"time"
)

// EventType identifies the kind of input event delivered by the native hook
type EventType string

const (
	EventFlagsChanged EventType = "flagsChanged"
	EventKeyDown      EventType = "keyDown"
	EventKeyUp        EventType = "keyUp"
)

// Modifier masks carried in Event.Flags. The values match the CoreGraphics
// event flag masks reported by the macOS hook.
const (
	FlagMaskNonCoalesced uint64 = 0x00000100
	FlagMaskAlphaShift   uint64 = 0x00010000
	FlagMaskShift        uint64 = 0x00020000
	FlagMaskControl      uint64 = 0x00040000
	FlagMaskAlternate    uint64 = 0x00080000
	FlagMaskCommand      uint64 = 0x00100000

	// FlagMaskModifiers is the set of modifiers hotkeys are matched against
	FlagMaskModifiers = FlagMaskShift | FlagMaskControl | FlagMaskAlternate | FlagMaskCommand
)

// Event represents a captured (or synthesized) input event
type Event struct {
	ID        string    `json:"id,omitempty"`
	Type      EventType `json:"type"`
	Keycode   int64     `json:"keycode,omitempty"`
	Flags     uint64    `json:"flags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FlagsChanged builds a modifier change event
func FlagsChanged(flags uint64) Event {
	return Event{Type: EventFlagsChanged, Flags: flags}
}

// KeyDown builds a key press event
func KeyDown(keycode int64) Event {
	return Event{Type: EventKeyDown, Keycode: keycode}
}

func (e Event) String() string {
	switch e.Type {
	case EventFlagsChanged:
		return fmt.Sprintf("flagsChanged(flags=%#x)", e.Flags)
	case EventKeyDown, EventKeyUp:
		return fmt.Sprintf("%s(keycode=%d)", e.Type, e.Keycode)
	default:
		return fmt.Sprintf("%s(keycode=%d flags=%#x)", e.Type, e.Keycode, e.Flags)
	}
}

// Outcome is the result of running an event through a plugin or the whole chain
type Outcome int

const (
	// Forward lets the event reach its normal destination
	Forward Outcome = iota
	// Suppress consumes the event
	Suppress
)

// Forwarded reports whether the host should deliver the event
func (o Outcome) Forwarded() bool {
	return o == Forward
}

func (o Outcome) String() string {
	if o == Suppress {
		return "suppress"
	}
	return "forward"
}

// ConfigType is the declared type of a configuration item
type ConfigType string

const (
	ConfigTypeHotkey  ConfigType = "hotkey"
	ConfigTypeString  ConfigType = "string"
	ConfigTypeInteger ConfigType = "integer"
)

// ConfigItem declares one configuration entry of a plugin
type ConfigItem struct {
	Name        string     `json:"name"`
	Type        ConfigType `json:"type"`
	Default     string     `json:"default"`
	Description string     `json:"description"`
}

// PluginMeta contains metadata about a plugin
type PluginMeta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PluginInfo is the introspection view of a registered plugin
type PluginInfo struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Config      []ConfigItem `json:"config"`
}

// ConfigSchema is the document served to settings surfaces
type ConfigSchema struct {
	Plugins []PluginInfo `json:"plugins"`
}
