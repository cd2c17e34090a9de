package dynamicmacro

// KeyState is one recorded key press with the modifiers active at the time
type KeyState struct {
	Keycode int64  `json:"keycode"`
	Flags   uint64 `json:"flags"`
}

// Buffer is a bounded history of key presses, newest at index 0
type Buffer struct {
	items    []KeyState
	capacity int
}

// NewBuffer creates an empty buffer holding at most capacity entries
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		items:    make([]KeyState, 0, capacity),
		capacity: capacity,
	}
}

// Push records a key press as the newest entry, evicting the oldest one
// once the capacity is exceeded
func (b *Buffer) Push(k KeyState) {
	b.items = append(b.items, KeyState{})
	copy(b.items[1:], b.items)
	b.items[0] = k
	b.trim()
}

// PushAll records keys given newest-first, as if they were typed oldest-first
func (b *Buffer) PushAll(keys []KeyState) {
	for i := len(keys) - 1; i >= 0; i-- {
		b.Push(keys[i])
	}
}

// Resize changes the capacity, dropping the oldest entries that no longer fit
func (b *Buffer) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	b.capacity = capacity
	b.trim()
}

// Items returns a copy of the buffer, newest first
func (b *Buffer) Items() []KeyState {
	return append([]KeyState(nil), b.items...)
}

// Len returns the number of recorded entries
func (b *Buffer) Len() int {
	return len(b.items)
}

// Cap returns the configured capacity
func (b *Buffer) Cap() int {
	return b.capacity
}

func (b *Buffer) trim() {
	if len(b.items) > b.capacity {
		b.items = b.items[:b.capacity]
	}
}
