package core

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/sammwyy/keymacro/api"
	"github.com/sammwyy/keymacro/core/config"
	"github.com/sammwyy/keymacro/plugins/dynamicmacro"
	"github.com/sammwyy/keymacro/plugins/keylog"
)

const (
	keyA = 0
	keyB = 11
	keyT = 17
	keyY = 16
)

type injected struct {
	flags   uint64
	keycode int64
	key     bool
}

type recorder struct {
	events []injected
}

func (r *recorder) SendFlagsChanged(flags uint64) error {
	r.events = append(r.events, injected{flags: flags})
	return nil
}

func (r *recorder) SendKeyboardEvent(keycode int64, flags uint64, down bool) error {
	r.events = append(r.events, injected{keycode: keycode, flags: flags, key: true})
	return nil
}

func newTestDaemon(t *testing.T, configPath string) *Daemon {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			t.Fatal(err)
		}
		cfg = loaded
	}
	cfg.Core.PluginDir = filepath.Join(dir, "plugins")
	cfg.Core.SocketPath = filepath.Join(dir, "keymacro.sock")
	if err := os.Mkdir(cfg.Core.PluginDir, 0o755); err != nil {
		t.Fatal(err)
	}

	return newDaemon(configPath, cfg, api.NewLogger("test"))
}

func typeKeys(d *Daemon, out api.Emitter, codes ...int64) {
	for _, code := range codes {
		d.HandleEvent(api.KeyDown(code), out)
	}
}

func TestHandleEventRepeatsMacro(t *testing.T) {
	d := newTestDaemon(t, "")
	if err := d.Setup(); err != nil {
		t.Fatal(err)
	}

	out := &recorder{}
	typeKeys(d, out, keyA, keyB, keyA, keyB)
	d.HandleEvent(api.FlagsChanged(api.FlagMaskControl), out)

	if got := d.HandleEvent(api.Event{Type: api.EventKeyDown, Keycode: keyT, Flags: api.FlagMaskControl}, out); got != api.Suppress {
		t.Fatalf("hotkey outcome = %v, want suppress", got)
	}

	want := []injected{
		{flags: api.FlagMaskNonCoalesced},
		{keycode: keyA, key: true},
		{keycode: keyB, key: true},
		{flags: api.FlagMaskControl},
	}
	if !reflect.DeepEqual(out.events, want) {
		t.Errorf("injected = %+v, want %+v", out.events, want)
	}

	recent := d.Monitor().Recent()
	last := recent[len(recent)-1]
	if last.Outcome != "suppress" || last.Plugin != dynamicmacro.ID || last.Injected != 4 {
		t.Errorf("last record = %+v", last)
	}
}

func TestSendOutsideDispatchFails(t *testing.T) {
	d := newTestDaemon(t, "")
	if err := d.SendFlagsChanged(0); !errors.Is(err, errNoSink) {
		t.Errorf("SendFlagsChanged() error = %v, want %v", err, errNoSink)
	}
	if err := d.SendKeyboardEvent(keyA, 0, true); !errors.Is(err, errNoSink) {
		t.Errorf("SendKeyboardEvent() error = %v, want %v", err, errNoSink)
	}
}

func TestDisabledPluginIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[plugins.dynamic_macro]
enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	d := newTestDaemon(t, path)
	if err := d.Setup(); err != nil {
		t.Fatal(err)
	}
	if got, want := d.registry.IDs(), []string{keylog.ID}; !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v, want %v", got, want)
	}
}

func TestOperationsApplyBeforeNextDispatch(t *testing.T) {
	d := newTestDaemon(t, "")
	script := `register_plugin("mute", "Mute", "", function(event) return event.keycode ~= 1 end)`
	if err := os.WriteFile(filepath.Join(d.pluginLoader.Dir(), "mute.lua"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.Setup(); err != nil {
		t.Fatal(err)
	}
	if got, want := d.registry.IDs(), []string{dynamicmacro.ID, keylog.ID, "mute"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}

	out := &recorder{}
	if got := d.HandleEvent(api.KeyDown(1), out); got != api.Suppress {
		t.Errorf("outcome = %v, want suppress", got)
	}

	d.UnloadPlugin("mute")
	if d.registry.Len() != 3 {
		t.Fatal("unload must wait for the next dispatch")
	}
	if got := d.HandleEvent(api.KeyDown(1), out); got != api.Forward {
		t.Errorf("outcome after unload = %v, want forward", got)
	}
	if _, ok := d.pluginLoader.Owner("mute"); ok {
		t.Error("loader still owns the unloaded plugin")
	}

	// unknown ids are ignored
	d.UnloadPlugin("missing")
	d.HandleEvent(api.KeyDown(2), out)
	if got, want := d.registry.IDs(), []string{dynamicmacro.ID, keylog.ID}; !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v, want %v", got, want)
	}

	d.ReloadPlugins()
	d.HandleEvent(api.KeyDown(2), out)
	if got, want := d.registry.IDs(), []string{dynamicmacro.ID, keylog.ID, "mute"}; !reflect.DeepEqual(got, want) {
		t.Errorf("after reload IDs() = %v, want %v", got, want)
	}
}

func TestReloadConfigRebuildsPlugins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	write := func(hotkey string) {
		content := "[plugins.dynamic_macro.config]\nhotkey = \"" + hotkey + "\"\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("C-t")

	d := newTestDaemon(t, path)
	if err := d.Setup(); err != nil {
		t.Fatal(err)
	}

	out := &recorder{}
	typeKeys(d, out, keyA, keyA)
	d.HandleEvent(api.FlagsChanged(api.FlagMaskControl), out)

	write("C-y")
	d.ReloadConfig()

	if got := d.HandleEvent(api.KeyDown(keyY), out); got != api.Suppress {
		t.Errorf("new hotkey outcome = %v, want suppress", got)
	}
	if got := d.HandleEvent(api.KeyDown(keyT), out); got != api.Forward {
		t.Errorf("old hotkey outcome = %v, want forward", got)
	}
}

func TestConfigSchemaJSON(t *testing.T) {
	d := newTestDaemon(t, "")
	if err := d.Setup(); err != nil {
		t.Fatal(err)
	}
	data, err := d.ConfigSchemaJSON()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 || data[0] != '{' {
		t.Errorf("ConfigSchemaJSON() = %s", data)
	}
}

func TestReloadFailureIsRecorded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[plugins.dynamic_macro.config]\nbuffer_size = \"8\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := newTestDaemon(t, path)
	if err := d.Setup(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("[plugins.dynamic_macro.config]\nbuffer_size = \"many\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	d.ReloadConfig()
	if got := d.HandleEvent(api.KeyDown(keyA), &recorder{}); got != api.Forward {
		t.Errorf("outcome = %v, want forward", got)
	}

	recent := d.Monitor().Recent()
	last := recent[len(recent)-1]
	if !strings.Contains(last.ReloadError, "buffer_size") {
		t.Errorf("ReloadError = %q, want the failing item", last.ReloadError)
	}

	d.HandleEvent(api.KeyDown(keyB), &recorder{})
	recent = d.Monitor().Recent()
	if last := recent[len(recent)-1]; last.ReloadError != "" {
		t.Errorf("ReloadError without reload = %q", last.ReloadError)
	}
}

func TestPIDFile(t *testing.T) {
	d := newTestDaemon(t, "")
	path := filepath.Join(t.TempDir(), "run", "keymacro.pid")

	if err := d.createPIDFile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), strconv.Itoa(os.Getpid()); got != want {
		t.Errorf("PID file = %q, want %q", got, want)
	}

	// the recorded process is alive, so a second daemon must refuse
	if err := d.createPIDFile(path); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Errorf("createPIDFile() error = %v, want already running", err)
	}

	d.removePIDFile(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("PID file still present: %v", err)
	}

	// stale content is overwritten
	if err := os.WriteFile(path, []byte("not a pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.createPIDFile(path); err != nil {
		t.Errorf("createPIDFile() over stale file: %v", err)
	}

	if err := d.createPIDFile(""); err != nil {
		t.Errorf("createPIDFile(\"\") = %v", err)
	}
}
