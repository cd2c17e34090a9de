package plugin

import (
	"fmt"
	"strconv"

	"github.com/Shopify/go-lua"
	"github.com/sammwyy/keymacro/api"
)

// flagConstants are exposed to scripts as globals
var flagConstants = map[string]uint64{
	"FLAG_NON_COALESCED": api.FlagMaskNonCoalesced,
	"FLAG_ALPHA_SHIFT":   api.FlagMaskAlphaShift,
	"FLAG_SHIFT":         api.FlagMaskShift,
	"FLAG_CONTROL":       api.FlagMaskControl,
	"FLAG_ALTERNATE":     api.FlagMaskAlternate,
	"FLAG_COMMAND":       api.FlagMaskCommand,
}

// setupSandbox creates a safe Lua environment
func setupSandbox(l *lua.State) {
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "string", lua.StringOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)
	lua.Require(l, "bit32", lua.Bit32Open, true)
	l.Pop(1)

	// Remove functions reaching outside the script
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		l.PushNil()
		l.SetGlobal(name)
	}

	for name, value := range flagConstants {
		l.PushInteger(int(value))
		l.SetGlobal(name)
	}
}

// pushValue converts a Go value to Lua
func pushValue(l *lua.State, v interface{}) {
	switch val := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(val)
	case int:
		l.PushInteger(val)
	case int64:
		l.PushInteger(int(val))
	case uint64:
		l.PushInteger(int(val))
	case float64:
		l.PushNumber(val)
	case string:
		l.PushString(val)
	case []interface{}:
		l.NewTable()
		for i, item := range val {
			l.PushInteger(i + 1)
			pushValue(l, item)
			l.SetTable(-3)
		}
	case map[string]interface{}:
		l.NewTable()
		for k, v := range val {
			l.PushString(k)
			pushValue(l, v)
			l.SetTable(-3)
		}
	default:
		l.PushString(fmt.Sprintf("%v", val))
	}
}

// pullValue converts a Lua value to Go
func pullValue(l *lua.State, idx int) interface{} {
	switch l.TypeOf(idx) {
	case lua.TypeNil, lua.TypeNone:
		return nil
	case lua.TypeBoolean:
		return l.ToBoolean(idx)
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		return n
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s
	case lua.TypeTable:
		// Push the table to the top of the stack for easier manipulation
		l.PushValue(idx)

		isArray := true
		maxIndex := 0

		l.PushNil()
		for l.Next(-2) {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
				l.Pop(2)
				break
			}
			n, _ := l.ToNumber(-2)
			if i := int(n); i > maxIndex {
				maxIndex = i
			}
			l.Pop(1)
		}

		if isArray && maxIndex > 0 {
			arr := make([]interface{}, maxIndex)
			for i := 1; i <= maxIndex; i++ {
				l.PushInteger(i)
				l.Table(-2)
				arr[i-1] = pullValue(l, -1)
				l.Pop(1)
			}
			l.Pop(1)
			return arr
		}

		obj := make(map[string]interface{})
		l.PushNil()
		for l.Next(-2) {
			key, _ := l.ToString(-2)
			obj[key] = pullValue(l, -1)
			l.Pop(1)
		}
		l.Pop(1)
		return obj
	default:
		return nil
	}
}

// parseSchema reads the config schema argument of register_plugin
func parseSchema(l *lua.State, idx int) ([]api.ConfigItem, error) {
	var entries []interface{}
	switch raw := pullValue(l, idx).(type) {
	case nil:
		return nil, nil
	case []interface{}:
		entries = raw
	case map[string]interface{}:
		if len(raw) != 0 {
			return nil, fmt.Errorf("config schema must be a list")
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("config schema must be a list, got %T", raw)
	}

	items := make([]api.ConfigItem, 0, len(entries))
	for i, entry := range entries {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("config item %d must be a table", i+1)
		}
		name, _ := fields["name"].(string)
		itemType, _ := fields["type"].(string)
		if name == "" || itemType == "" {
			return nil, fmt.Errorf("config item %d needs a name and a type", i+1)
		}
		description, _ := fields["description"].(string)
		items = append(items, api.ConfigItem{
			Name:        name,
			Type:        api.ConfigType(itemType),
			Default:     scalarString(fields["default"]),
			Description: description,
		})
	}
	return items, nil
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// pushEvent pushes the script view of an event
func pushEvent(l *lua.State, event api.Event) {
	pushValue(l, map[string]interface{}{
		"id":      event.ID,
		"type":    string(event.Type),
		"keycode": event.Keycode,
		"flags":   event.Flags,
	})
}

// pushConfig pushes the typed config of a plugin; hotkeys become tables
// with a matches(flags, keycode) function
func pushConfig(l *lua.State, schema []api.ConfigItem, config api.Config) {
	l.NewTable()
	for _, item := range schema {
		value, ok := config.Get(item.Name)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case api.Hotkey:
			pushHotkey(l, v)
		default:
			pushValue(l, v)
		}
		l.SetField(-2, item.Name)
	}
}

func pushHotkey(l *lua.State, hotkey api.Hotkey) {
	l.NewTable()
	l.PushString(hotkey.String())
	l.SetField(-2, "spec")
	l.PushGoFunction(func(l *lua.State) int {
		// accept both hotkey.matches(f, k) and hotkey:matches(f, k)
		base := 1
		if l.TypeOf(1) == lua.TypeTable {
			base = 2
		}
		flags := lua.CheckInteger(l, base)
		keycode := lua.CheckInteger(l, base+1)
		l.PushBoolean(hotkey.Matches(uint64(flags), int64(keycode)))
		return 1
	})
	l.SetField(-2, "matches")
}
