package keylog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sammwyy/keymacro/api"
)

type fakeCore struct{}

func (fakeCore) SendFlagsChanged(flags uint64) error { return nil }

func (fakeCore) SendKeyboardEvent(keycode int64, flags uint64, down bool) error { return nil }

func (fakeCore) GetLogger(prefix string) api.Logger { return api.NewLogger(prefix) }

func newStarted(t *testing.T) *Plugin {
	t.Helper()
	p := New()
	if err := p.Initialize(fakeCore{}); err != nil {
		t.Fatal(err)
	}
	return p
}

func config(file, format string) api.Config {
	return api.NewConfig(map[string]interface{}{"file": file, "format": format})
}

func TestHandleWritesFormats(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	event := api.Event{ID: "e1", Type: api.EventKeyDown, Keycode: 17, Flags: api.FlagMaskControl, Timestamp: ts}

	tests := []struct {
		format string
		check  func(t *testing.T, content string)
	}{
		{
			format: FormatJSON,
			check: func(t *testing.T, content string) {
				var entry Entry
				if err := json.Unmarshal([]byte(content), &entry); err != nil {
					t.Fatal(err)
				}
				if entry.Key != "t" || entry.Keycode != 17 || entry.ID != "e1" {
					t.Errorf("entry = %+v", entry)
				}
			},
		},
		{
			format: FormatText,
			check: func(t *testing.T, content string) {
				want := "[2024-05-01 12:00:00.000] keyDown t flags=0x40000\n"
				if content != want {
					t.Errorf("content = %q, want %q", content, want)
				}
			},
		},
		{
			format: FormatCSV,
			check: func(t *testing.T, content string) {
				lines := strings.Split(strings.TrimSpace(content), "\n")
				if len(lines) != 2 || lines[0] != "timestamp,id,type,key,keycode,flags" {
					t.Fatalf("lines = %q", lines)
				}
				if !strings.HasSuffix(lines[1], ",e1,keyDown,t,17,262144") {
					t.Errorf("row = %q", lines[1])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "keys."+tt.format)
			p := newStarted(t)
			defer p.Shutdown()

			outcome, err := p.Handle(event, config(path, tt.format))
			if err != nil || outcome != api.Forward {
				t.Fatalf("Handle() = %v, %v", outcome, err)
			}
			// flushes the queue
			p.Shutdown()

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, string(data))
		})
	}
}

func TestHandleWithoutFileForwards(t *testing.T) {
	p := New()
	if outcome, err := p.Handle(api.KeyDown(1), config("", FormatJSON)); err != nil || outcome != api.Forward {
		t.Errorf("Handle() = %v, %v", outcome, err)
	}
	if len(p.lines) != 0 {
		t.Error("nothing must be queued")
	}
}

func TestFullQueueDropsEntries(t *testing.T) {
	// no writer is running, so the queue only fills
	p := New()
	cfg := config(filepath.Join(t.TempDir(), "keys.json"), FormatJSON)
	for i := 0; i < queueSize+10; i++ {
		if outcome, err := p.Handle(api.KeyDown(1), cfg); err != nil || outcome != api.Forward {
			t.Fatalf("Handle() = %v, %v", outcome, err)
		}
	}
	if len(p.lines) != queueSize {
		t.Errorf("queued = %d, want %d", len(p.lines), queueSize)
	}
}

func TestPathChangeReopens(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "nested", "second.log")

	p := newStarted(t)
	p.Handle(api.KeyDown(1), config(first, FormatText))
	p.Handle(api.KeyDown(2), config(second, FormatText))
	p.Shutdown()

	for _, path := range []string{first, second} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if n := strings.Count(string(data), "\n"); n != 1 {
			t.Errorf("%s has %d lines, want 1", path, n)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	p := New()
	if err := p.ValidateConfig(config("", FormatCSV)); err != nil {
		t.Errorf("csv rejected: %v", err)
	}
	if err := p.ValidateConfig(config("", "xml")); err == nil {
		t.Error("xml must be rejected")
	}
}
