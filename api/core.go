package api

// Emitter synthesizes input events through the native hook
type Emitter interface {
	SendFlagsChanged(flags uint64) error
	SendKeyboardEvent(keycode int64, flags uint64, down bool) error
}

// Hotkey is an opaque parsed modifier+key specification
type Hotkey interface {
	Matches(flags uint64, keycode int64) bool
	String() string
}

// HotkeyParser turns a textual hotkey specification into a Hotkey
type HotkeyParser func(spec string) (Hotkey, error)

// CoreAPI is the interface exposed to plugins for interacting with the core
type CoreAPI interface {
	Emitter

	// Logging
	GetLogger(prefix string) Logger
}
