package plugin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
	"github.com/sammwyy/keymacro/api"
)

// handlersKey names the global table holding registered handler functions
const handlersKey = "__keymacro_handlers"

// scriptState is one Lua interpreter owning the plugins of one file
type scriptState struct {
	mutex  sync.Mutex
	l      *lua.State
	path   string
	core   api.CoreAPI
	logger api.Logger
}

// scriptPlugin is a plugin registered from Lua with register_plugin
type scriptPlugin struct {
	meta   api.PluginMeta
	schema []api.ConfigItem
	state  *scriptState
}

// RegisterFunc receives every plugin a script registers
type RegisterFunc func(plugin api.Plugin) error

func newScriptState(path string, core api.CoreAPI, logger api.Logger, register RegisterFunc) *scriptState {
	s := &scriptState{
		l:      lua.NewState(),
		path:   path,
		core:   core,
		logger: logger,
	}

	l := s.l
	setupSandbox(l)
	l.NewTable()
	l.SetGlobal(handlersKey)

	l.Register("register_plugin", func(l *lua.State) int {
		id := lua.CheckString(l, 1)
		name := lua.OptString(l, 2, id)
		description := lua.OptString(l, 3, "")
		lua.CheckType(l, 4, lua.TypeFunction)

		schema, err := parseSchema(l, 5)
		if err != nil {
			lua.Errorf(l, "register_plugin(%s): %s", id, err.Error())
			return 0
		}

		l.Global(handlersKey)
		l.PushValue(4)
		l.SetField(-2, id)
		l.Pop(1)

		plugin := &scriptPlugin{
			meta:   api.PluginMeta{ID: id, Name: name, Description: description},
			schema: schema,
			state:  s,
		}
		if err := register(plugin); err != nil {
			lua.Errorf(l, "register_plugin(%s): %s", id, err.Error())
		}
		return 0
	})

	l.Register("send_flags_changed", func(l *lua.State) int {
		flags := lua.CheckInteger(l, 1)
		if err := s.core.SendFlagsChanged(uint64(flags)); err != nil {
			lua.Errorf(l, "send_flags_changed: %s", err.Error())
		}
		return 0
	})

	l.Register("send_key", func(l *lua.State) int {
		keycode := lua.CheckInteger(l, 1)
		flags := lua.OptInteger(l, 2, 0)
		down := true
		if l.Top() >= 3 {
			down = l.ToBoolean(3)
		}
		if err := s.core.SendKeyboardEvent(int64(keycode), uint64(flags), down); err != nil {
			lua.Errorf(l, "send_key: %s", err.Error())
		}
		return 0
	})

	l.Register("log", func(l *lua.State) int {
		parts := make([]string, 0, l.Top())
		for i := 1; i <= l.Top(); i++ {
			parts = append(parts, fmt.Sprint(pullValue(l, i)))
		}
		s.logger.Info(strings.Join(parts, " "), "script", s.path)
		return 0
	})

	return s
}

// run executes the script file
func (s *scriptState) run() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := lua.DoFile(s.l, s.path); err != nil {
		return fmt.Errorf("script error: %w", err)
	}
	return nil
}

func (p *scriptPlugin) Meta() api.PluginMeta           { return p.meta }
func (p *scriptPlugin) ConfigSchema() []api.ConfigItem { return p.schema }

// Handle calls the Lua handler. Only an explicit false suppresses the event.
func (p *scriptPlugin) Handle(event api.Event, config api.Config) (api.Outcome, error) {
	s := p.state
	s.mutex.Lock()
	defer s.mutex.Unlock()

	l := s.l
	top := l.Top()
	defer l.SetTop(top)

	l.Global(handlersKey)
	l.Field(-1, p.meta.ID)
	if l.TypeOf(-1) != lua.TypeFunction {
		return api.Forward, fmt.Errorf("handler of %s is not defined", p.meta.ID)
	}

	pushEvent(l, event)
	pushConfig(l, p.schema, config)
	if err := l.ProtectedCall(2, 1, 0); err != nil {
		return api.Forward, fmt.Errorf("lua: %w", err)
	}

	if l.TypeOf(-1) == lua.TypeBoolean && !l.ToBoolean(-1) {
		return api.Suppress, nil
	}
	return api.Forward, nil
}
