// Package keylog is a built-in plugin that appends the events reaching it to
// a file. It never suppresses, and the file is written by its own goroutine
// so dispatch never waits on disk.
package keylog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sammwyy/keymacro/api"
	"github.com/sammwyy/keymacro/core/hotkey"
)

// ID is the plugin id and its config section name
const ID = "key_log"

// Supported output formats
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatCSV  = "csv"
)

var csvHeader = []string{"timestamp", "id", "type", "key", "keycode", "flags"}

// Entry is one logged event
type Entry struct {
	Timestamp time.Time     `json:"timestamp"`
	ID        string        `json:"id,omitempty"`
	Type      api.EventType `json:"type"`
	Key       string        `json:"key,omitempty"`
	Keycode   int64         `json:"keycode"`
	Flags     uint64        `json:"flags"`
}

// queueSize is the number of entries buffered for the writer
const queueSize = 256

// line is one entry bound to the file and format configured when it was
// logged
type line struct {
	entry  Entry
	path   string
	format string
}

// Plugin queues events for a writer goroutine that owns the log file
type Plugin struct {
	lines     chan line
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	logger    api.Logger

	// owned by the writer
	path string
	file *os.File
}

// New creates the plugin; nothing is written until a file is configured
func New() *Plugin {
	return &Plugin{
		lines:  make(chan line, queueSize),
		done:   make(chan struct{}),
		logger: api.NewLogger(ID),
	}
}

// Meta returns plugin metadata
func (p *Plugin) Meta() api.PluginMeta {
	return api.PluginMeta{
		ID:          ID,
		Name:        "Key log",
		Description: "Appends the events that reach it to a file",
	}
}

// ConfigSchema returns the configuration items
func (p *Plugin) ConfigSchema() []api.ConfigItem {
	return []api.ConfigItem{
		{Name: "file", Type: api.ConfigTypeString, Default: "", Description: "Log file, empty disables logging"},
		{Name: "format", Type: api.ConfigTypeString, Default: FormatJSON, Description: "json, text or csv"},
	}
}

// Initialize starts the writer
func (p *Plugin) Initialize(core api.CoreAPI) error {
	p.startOnce.Do(func() {
		p.logger = core.GetLogger(ID)
		p.wg.Add(1)
		go p.writeLoop()
	})
	return nil
}

// ValidateConfig validates the plugin configuration
func (p *Plugin) ValidateConfig(config api.Config) error {
	format, _ := config.String("format")
	switch format {
	case FormatJSON, FormatText, FormatCSV:
		return nil
	default:
		return fmt.Errorf("invalid log format '%s', supported formats: json, text, csv", format)
	}
}

// Handle queues event for the writer and forwards it. When the writer
// falls behind the entry is dropped; Handle never waits on the file.
func (p *Plugin) Handle(event api.Event, config api.Config) (api.Outcome, error) {
	path, _ := config.String("file")
	if path == "" {
		return api.Forward, nil
	}
	format, _ := config.String("format")

	entry := Entry{
		Timestamp: event.Timestamp,
		ID:        event.ID,
		Type:      event.Type,
		Keycode:   event.Keycode,
		Flags:     event.Flags,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if event.Type != api.EventFlagsChanged {
		entry.Key, _ = hotkey.KeyName(event.Keycode)
	}

	select {
	case p.lines <- line{entry: entry, path: path, format: format}:
	default:
		p.logger.Warn("Key log writer is behind, dropping event", "event", event.String())
	}
	return api.Forward, nil
}

// Shutdown writes the queued entries and closes the log file
func (p *Plugin) Shutdown() error {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *Plugin) writeLoop() {
	defer p.wg.Done()
	defer p.closeFile()

	for {
		select {
		case l := <-p.lines:
			p.write(l)
		case <-p.done:
			for {
				select {
				case l := <-p.lines:
					p.write(l)
				default:
					return
				}
			}
		}
	}
}

func (p *Plugin) write(l line) {
	if err := p.open(l.path, l.format); err != nil {
		p.logger.Error("Failed to open log file", "path", l.path, "error", err)
		return
	}

	text, err := formatEntry(l.entry, l.format)
	if err != nil {
		p.logger.Error("Failed to format log entry", "error", err)
		return
	}
	if _, err := p.file.WriteString(text); err != nil {
		p.logger.Error("Failed to write to log file", "path", l.path, "error", err)
	}
}

// open switches to path when the configured file changed
func (p *Plugin) open(path, format string) error {
	if p.file != nil && p.path == path {
		return nil
	}
	p.closeFile()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	p.file = file
	p.path = path

	// header for new csv files
	if format == FormatCSV {
		if info, err := file.Stat(); err == nil && info.Size() == 0 {
			header, err := csvLine(csvHeader)
			if err != nil {
				return err
			}
			if _, err := file.WriteString(header); err != nil {
				return fmt.Errorf("failed to write CSV header: %w", err)
			}
		}
	}

	p.logger.Info("Logging events", "path", path, "format", format)
	return nil
}

func (p *Plugin) closeFile() {
	if p.file == nil {
		return
	}
	if err := p.file.Close(); err != nil {
		p.logger.Error("Failed to close log file", "path", p.path, "error", err)
	}
	p.file = nil
	p.path = ""
}

func formatEntry(entry Entry, format string) (string, error) {
	switch format {
	case FormatText:
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %s", entry.Timestamp.Format("2006-01-02 15:04:05.000"), entry.Type)
		if entry.Type != api.EventFlagsChanged {
			if entry.Key != "" {
				fmt.Fprintf(&b, " %s", entry.Key)
			} else {
				fmt.Fprintf(&b, " keycode=%d", entry.Keycode)
			}
		}
		fmt.Fprintf(&b, " flags=%#x\n", entry.Flags)
		return b.String(), nil
	case FormatCSV:
		return csvLine([]string{
			entry.Timestamp.Format(time.RFC3339Nano),
			entry.ID,
			string(entry.Type),
			entry.Key,
			strconv.FormatInt(entry.Keycode, 10),
			strconv.FormatUint(entry.Flags, 10),
		})
	default:
		data, err := json.Marshal(entry)
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	}
}

func csvLine(fields []string) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(fields); err != nil {
		return "", err
	}
	w.Flush()
	return b.String(), w.Error()
}
