package filewatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sammwyy/keymacro/api"
)

func newWatcher(t *testing.T) *FileWatcher {
	t.Helper()
	fw, err := NewFileWatcher(api.NewLogger("test"))
	if err != nil {
		t.Fatal(err)
	}
	fw.SetDebounce(20 * time.Millisecond)
	if err := fw.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fw.Stop() })
	return fw
}

func waitPath(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case path := <-ch:
		return path
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return ""
	}
}

func TestRegisterMatchesPattern(t *testing.T) {
	dir := t.TempDir()
	fw := newWatcher(t)

	changes := make(chan string, 16)
	if err := fw.Register(dir, "plugins", `\.lua$`, func(path string) { changes <- path }); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(dir, "macro.lua")
	if err := os.WriteFile(script, []byte("-- lua"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := waitPath(t, changes); got != script {
		t.Errorf("changed = %s, want %s", got, script)
	}
}

func TestRegisterFile(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(config, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}

	fw := newWatcher(t)
	changes := make(chan string, 16)
	if err := fw.RegisterFile(config, "config", func(path string) { changes <- path }); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.toml.bak"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(config, []byte("[core]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := waitPath(t, changes); got != config {
		t.Errorf("changed = %s, want %s", got, config)
	}
}

func TestUnregister(t *testing.T) {
	dir := t.TempDir()
	fw := newWatcher(t)

	if err := fw.Register(dir, "a", `.*`, func(string) {}); err != nil {
		t.Fatal(err)
	}
	if err := fw.Unregister(dir, "missing"); err == nil {
		t.Error("unregistering an unknown handler must fail")
	}
	if err := fw.Unregister(dir, "a"); err != nil {
		t.Fatal(err)
	}
	if err := fw.Unregister(dir, "a"); err == nil {
		t.Error("directory must no longer be watched")
	}
}
