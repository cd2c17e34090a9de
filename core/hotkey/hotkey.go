// Package hotkey implements the default hotkey capability. Specifications
// look like "C-M-t": any run of C- (control), S- (shift), M- (command) and
// A- (alternate) prefixes followed by a key name.
package hotkey

import (
	"fmt"
	"strings"

	"github.com/sammwyy/keymacro/api"
)

var prefixes = map[string]uint64{
	"C-": api.FlagMaskControl,
	"S-": api.FlagMaskShift,
	"M-": api.FlagMaskCommand,
	"A-": api.FlagMaskAlternate,
}

// HotKey is a parsed modifier set and key code
type HotKey struct {
	Flags   uint64
	Keycode int64
	spec    string
}

// Parse parses a hotkey specification
func Parse(spec string) (*HotKey, error) {
	start := 0
	var flags uint64

	for len(spec)-start >= 2 {
		mask, ok := prefixes[spec[start:start+2]]
		if !ok {
			break
		}
		flags |= mask
		start += 2
	}

	if start >= len(spec) {
		return nil, fmt.Errorf("cannot parse hotkey: %q", spec)
	}

	code, ok := Keycode(spec[start:])
	if !ok {
		return nil, fmt.Errorf("unknown key in hotkey: %q", spec)
	}

	return &HotKey{Flags: flags, Keycode: code, spec: spec}, nil
}

// Parser adapts Parse to api.HotkeyParser
func Parser(spec string) (api.Hotkey, error) {
	h, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Matches reports whether exactly the expected modifiers are held and the
// key code is the expected one. Non-modifier bits such as caps lock are ignored.
func (h *HotKey) Matches(flags uint64, keycode int64) bool {
	return flags&api.FlagMaskModifiers == h.Flags && keycode == h.Keycode
}

func (h *HotKey) String() string {
	if h.spec != "" {
		return h.spec
	}

	var b strings.Builder
	for _, p := range []string{"C-", "S-", "M-", "A-"} {
		if h.Flags&prefixes[p] != 0 {
			b.WriteString(p)
		}
	}
	if name, ok := KeyName(h.Keycode); ok {
		b.WriteString(name)
	} else {
		fmt.Fprintf(&b, "<%d>", h.Keycode)
	}
	return b.String()
}
