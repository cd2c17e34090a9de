package dynamicmacro

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sammwyy/keymacro/api"
)

var errNoEmitter = errors.New("no event emitter attached")

// Engine is the per-plugin macro state: the latest modifier flags and the
// history of key presses. Detection and replay run under one lock.
type Engine struct {
	mutex       sync.Mutex
	latestFlags uint64
	buffer      *Buffer
	emitter     api.Emitter
	logger      api.Logger
}

// NewEngine creates an engine with an empty history
func NewEngine(capacity int, emitter api.Emitter, logger api.Logger) *Engine {
	return &Engine{
		buffer:  NewBuffer(capacity),
		emitter: emitter,
		logger:  logger,
	}
}

// SetEmitter replaces the sink of synthesized events
func (e *Engine) SetEmitter(emitter api.Emitter) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.emitter = emitter
}

// Handle processes one event. Key presses matching hotkey trigger a replay
// and are never recorded. A positive capacity that differs from the current
// one resizes the history first.
func (e *Engine) Handle(event api.Event, hotkey api.Hotkey, capacity int) (api.Outcome, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if capacity > 0 && capacity != e.buffer.Cap() {
		e.logger.Debug("Resizing key history", "from", e.buffer.Cap(), "to", capacity)
		e.buffer.Resize(capacity)
	}

	switch event.Type {
	case api.EventFlagsChanged:
		e.latestFlags = event.Flags
		return api.Forward, nil
	case api.EventKeyDown:
		if hotkey != nil && hotkey.Matches(e.latestFlags, event.Keycode) {
			return e.trigger()
		}
		e.buffer.Push(KeyState{Keycode: event.Keycode, Flags: e.latestFlags})
		return api.Forward, nil
	default:
		return api.Forward, nil
	}
}

func (e *Engine) trigger() (api.Outcome, error) {
	items := e.buffer.Items()

	if size, ok := CheckRepeat(items); ok {
		e.logger.Debug("Replaying repeated sequence", "size", size)
		if err := e.replay(items[:size]); err != nil {
			return api.Forward, err
		}
		return api.Suppress, nil
	}

	if pattern, ok := CheckPatternXYX(items); ok {
		e.logger.Debug("Replaying predicted sequence", "x", len(pattern.X), "y", len(pattern.Y))
		if err := e.replay(pattern.Y); err != nil {
			return api.Forward, err
		}
		e.buffer.PushAll(pattern.Y)
		return api.Suppress, nil
	}

	e.logger.Warn("Nothing to replay", "error", api.ErrPatternNotFound, "history", len(items))
	return api.Forward, nil
}

// replay types unit (newest first) oldest-first with modifiers released,
// then restores the modifiers currently held
func (e *Engine) replay(unit []KeyState) error {
	if e.emitter == nil {
		return errNoEmitter
	}

	if err := e.emitter.SendFlagsChanged(api.FlagMaskNonCoalesced); err != nil {
		return fmt.Errorf("failed to clear flags: %w", err)
	}
	for i := len(unit) - 1; i >= 0; i-- {
		if err := e.emitter.SendKeyboardEvent(unit[i].Keycode, unit[i].Flags, true); err != nil {
			return fmt.Errorf("failed to send key %d: %w", unit[i].Keycode, err)
		}
	}
	if err := e.emitter.SendFlagsChanged(e.latestFlags); err != nil {
		return fmt.Errorf("failed to restore flags: %w", err)
	}
	return nil
}

// History returns the recorded key presses, newest first
func (e *Engine) History() []KeyState {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.buffer.Items()
}

// LatestFlags returns the last observed modifier flags
func (e *Engine) LatestFlags() uint64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.latestFlags
}
