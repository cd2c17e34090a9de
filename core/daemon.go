package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sammwyy/keymacro/api"
	"github.com/sammwyy/keymacro/core/config"
	"github.com/sammwyy/keymacro/core/configbuild"
	"github.com/sammwyy/keymacro/core/dispatch"
	"github.com/sammwyy/keymacro/core/eventbus"
	"github.com/sammwyy/keymacro/core/filewatcher"
	"github.com/sammwyy/keymacro/core/hotkey"
	"github.com/sammwyy/keymacro/core/monitor"
	"github.com/sammwyy/keymacro/core/plugin"
	"github.com/sammwyy/keymacro/core/registry"
	"github.com/sammwyy/keymacro/plugins/dynamicmacro"
	"github.com/sammwyy/keymacro/plugins/keylog"
	"golang.org/x/sync/errgroup"
)

var errNoSink = errors.New("no event is being dispatched")

type operationKind int

const (
	opReloadConfig operationKind = iota
	opReloadPlugins
	opUnloadPlugin
)

// operation is a control request applied before the next dispatch
type operation struct {
	kind     operationKind
	pluginID string
}

// Daemon represents the main keymacro daemon
type Daemon struct {
	configPath string
	current    atomic.Pointer[config.Config]
	logger     api.Logger

	builder      *configbuild.Builder
	registry     *registry.Registry
	dispatcher   *dispatch.Dispatcher
	eventBus     *eventbus.EventBus
	fileWatcher  *filewatcher.FileWatcher
	pluginLoader *plugin.Loader
	monitor      *monitor.Monitor

	// dispatchMutex serializes events from every connection
	dispatchMutex sync.Mutex

	sinkMutex sync.Mutex
	sink      api.Emitter

	opsMutex   sync.Mutex
	operations []operation
}

// NewDaemon creates a new daemon instance. A missing config file falls back
// to the defaults.
func NewDaemon(configPath string) (*Daemon, error) {
	cfg, found, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := api.SetLogLevel(cfg.Core.LogLevel); err != nil {
		return nil, err
	}

	logger := api.NewLogger("core")
	if !found {
		logger.Warn("Config file not found, using defaults", "path", configPath)
	}

	return newDaemon(configPath, cfg, logger), nil
}

func newDaemon(configPath string, cfg *config.Config, logger api.Logger) *Daemon {
	d := &Daemon{
		configPath: configPath,
		logger:     logger,
	}
	d.current.Store(cfg)

	d.builder = configbuild.New(hotkey.Parser, api.NewLogger("configbuild"))
	d.registry = registry.NewRegistry(d.builder.Factory(d.rawConfig), api.NewLogger("registry"))
	d.dispatcher = dispatch.NewDispatcher(d.registry, d.builder, d.rawConfig, api.NewLogger("dispatch"))
	d.pluginLoader = plugin.NewLoader(cfg.Core.PluginDir, api.NewLogger("plugin"), d, d)
	d.monitor = monitor.New(monitor.DefaultCapacity, d.ConfigSchema, api.NewLogger("monitor"))
	d.eventBus = eventbus.NewEventBus(cfg.Core.SocketPath, d, api.NewLogger("eventbus"))
	return d
}

// Config returns the configuration in effect
func (d *Daemon) Config() *config.Config {
	return d.current.Load()
}

func (d *Daemon) rawConfig() map[string]interface{} {
	return d.current.Load().Raw
}

// Setup registers the built-in plugins and loads the script plugins
func (d *Daemon) Setup() error {
	for _, builtin := range []api.Plugin{dynamicmacro.New(), keylog.New()} {
		if err := d.RegisterPlugin(builtin); err != nil {
			return fmt.Errorf("failed to register built-in plugin: %w", err)
		}
	}

	if err := d.pluginLoader.LoadAll(); err != nil {
		d.logger.Error("Some script plugins failed to load", "error", err)
	}
	return nil
}

// Start runs the daemon until SIGINT or SIGTERM
func (d *Daemon) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

// Run serves the socket, watches files and serves the monitor until ctx is
// done or one of them fails
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Starting keymacro daemon")
	cfg := d.Config()

	if err := d.createPIDFile(cfg.Core.PIDFile); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer d.removePIDFile(cfg.Core.PIDFile)

	if err := d.Setup(); err != nil {
		return err
	}
	defer d.shutdownPlugins()

	watcher, err := filewatcher.NewFileWatcher(api.NewLogger("filewatcher"))
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	d.fileWatcher = watcher
	if err := d.fileWatcher.Start(); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer d.fileWatcher.Stop()
	d.watchFiles()

	if err := d.eventBus.Start(); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	defer d.eventBus.Stop()

	d.logger.Info("keymacro daemon started successfully", "plugins", d.registry.IDs())

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Core.MonitorAddr != "" {
		g.Go(func() error {
			return d.monitor.Run(ctx, cfg.Core.MonitorAddr)
		})
	}
	g.Go(func() error {
		select {
		case <-ctx.Done():
			d.logger.Info("Received shutdown signal")
		case <-d.eventBus.Done():
		}
		return nil
	})

	err = g.Wait()
	d.logger.Info("keymacro daemon shutting down")
	return err
}

// watchFiles queues a config reload when a loaded config file changes and a
// script reload when the plugin directory changes
func (d *Daemon) watchFiles() {
	files := d.Config().Files
	if len(files) == 0 {
		files = []string{d.configPath}
	}
	for i, file := range files {
		id := "config-" + strconv.Itoa(i)
		if err := d.fileWatcher.RegisterFile(file, id, func(string) { d.ReloadConfig() }); err != nil {
			d.logger.Warn("Cannot watch config file", "path", file, "error", err)
		}
	}

	dir := d.pluginLoader.Dir()
	if err := d.fileWatcher.Register(dir, "scripts", `\.lua$`, func(string) { d.ReloadPlugins() }); err != nil {
		d.logger.Warn("Cannot watch plugin directory", "dir", dir, "error", err)
	}
}

// HandleEvent applies the queued operations and runs event through the
// chain, sending synthesized events to emitter
func (d *Daemon) HandleEvent(event api.Event, emitter api.Emitter) api.Outcome {
	d.dispatchMutex.Lock()
	defer d.dispatchMutex.Unlock()

	needsConfigReload := d.applyOperations()

	counter := &countingEmitter{next: emitter}
	d.setSink(counter)
	defer d.setSink(nil)

	trace := d.dispatcher.DispatchTrace(event, needsConfigReload)

	record := monitor.Record{
		Event:    event,
		Outcome:  trace.Outcome.String(),
		Plugin:   trace.Plugin,
		Injected: counter.count,
	}
	if trace.Err != nil {
		record.Error = trace.Err.Error()
	}
	if trace.ReloadErr != nil {
		record.ReloadError = trace.ReloadErr.Error()
	}
	d.monitor.Record(record)

	return trace.Outcome
}

// applyOperations drains the queue in arrival order and reports whether the
// configuration must be rebuilt
func (d *Daemon) applyOperations() bool {
	d.opsMutex.Lock()
	ops := d.operations
	d.operations = nil
	d.opsMutex.Unlock()

	needsConfigReload := false
	for _, op := range ops {
		switch op.kind {
		case opReloadConfig:
			needsConfigReload = true
		case opReloadPlugins:
			if err := d.pluginLoader.Reload(); err != nil {
				d.logger.Error("Script reload failed", "error", err)
			}
		case opUnloadPlugin:
			d.unloadPlugin(op.pluginID)
		}
	}
	return needsConfigReload
}

func (d *Daemon) enqueue(op operation) {
	d.opsMutex.Lock()
	d.operations = append(d.operations, op)
	d.opsMutex.Unlock()
}

// ReloadConfig reads the config files again and queues a rebuild of every
// plugin configuration. A file that fails to load keeps the previous
// configuration.
func (d *Daemon) ReloadConfig() {
	cfg, _, err := config.LoadOrDefault(d.configPath)
	if err != nil {
		d.logger.Error("Failed to reload config, keeping the previous one", "path", d.configPath, "error", err)
		return
	}
	if err := api.SetLogLevel(cfg.Core.LogLevel); err != nil {
		d.logger.Warn("Ignoring log level", "error", err)
	}
	d.current.Store(cfg)
	d.logger.Info("Config reloaded", "files", cfg.Files)
	d.enqueue(operation{kind: opReloadConfig})
}

// ReloadPlugins queues a reload of the script plugins
func (d *Daemon) ReloadPlugins() {
	d.enqueue(operation{kind: opReloadPlugins})
}

// UnloadPlugin queues the removal of a plugin from the chain
func (d *Daemon) UnloadPlugin(id string) {
	d.enqueue(operation{kind: opUnloadPlugin, pluginID: id})
}

func (d *Daemon) unloadPlugin(id string) {
	slot, ok := d.registry.Get(id)
	if !ok {
		d.logger.Warn("Cannot unload plugin", "id", id, "error", api.ErrUnknownPlugin)
		return
	}
	d.registry.Unregister(id)
	d.pluginLoader.Forget(id)
	shutdown(slot.Plugin, d.logger)
}

// ConfigSchema returns the config schema document of the current chain
func (d *Daemon) ConfigSchema() api.ConfigSchema {
	return d.dispatcher.ConfigSchema()
}

// ConfigSchemaJSON returns the config schema document encoded as JSON
func (d *Daemon) ConfigSchemaJSON() ([]byte, error) {
	return d.dispatcher.ConfigSchemaJSON()
}

// Monitor returns the recent event monitor
func (d *Daemon) Monitor() *monitor.Monitor {
	return d.monitor
}

// RegisterPlugin initializes a plugin and appends it to the chain. Plugins
// disabled in the configuration are skipped.
func (d *Daemon) RegisterPlugin(p api.Plugin) error {
	id := p.Meta().ID
	if !d.Config().IsPluginEnabled(id) {
		d.logger.Info("Plugin disabled, skipping registration", "id", id)
		return nil
	}

	if initializer, ok := p.(api.Initializer); ok {
		if err := initializer.Initialize(d); err != nil {
			return fmt.Errorf("failed to initialize plugin %s: %w", id, err)
		}
	}
	return d.registry.Register(p)
}

// UnregisterPlugin removes a plugin from the chain
func (d *Daemon) UnregisterPlugin(id string) {
	if slot, ok := d.registry.Get(id); ok {
		d.registry.Unregister(id)
		shutdown(slot.Plugin, d.logger)
	}
}

func (d *Daemon) shutdownPlugins() {
	d.pluginLoader.UnloadAll()
	for _, slot := range d.registry.Slots() {
		shutdown(slot.Plugin, d.logger)
	}
}

func shutdown(p api.Plugin, logger api.Logger) {
	if s, ok := p.(api.Shutdowner); ok {
		if err := s.Shutdown(); err != nil {
			logger.Error("Plugin shutdown failed", "id", p.Meta().ID, "error", err)
		}
	}
}

func (d *Daemon) setSink(sink api.Emitter) {
	d.sinkMutex.Lock()
	d.sink = sink
	d.sinkMutex.Unlock()
}

func (d *Daemon) currentSink() (api.Emitter, error) {
	d.sinkMutex.Lock()
	defer d.sinkMutex.Unlock()
	if d.sink == nil {
		return nil, errNoSink
	}
	return d.sink, nil
}

// SendFlagsChanged posts a synthetic flagsChanged event through the
// connection whose event is being dispatched
func (d *Daemon) SendFlagsChanged(flags uint64) error {
	sink, err := d.currentSink()
	if err != nil {
		return err
	}
	return sink.SendFlagsChanged(flags)
}

// SendKeyboardEvent posts a synthetic key event through the connection
// whose event is being dispatched
func (d *Daemon) SendKeyboardEvent(keycode int64, flags uint64, down bool) error {
	sink, err := d.currentSink()
	if err != nil {
		return err
	}
	return sink.SendKeyboardEvent(keycode, flags, down)
}

func (d *Daemon) GetLogger(prefix string) api.Logger {
	return api.NewLogger(prefix)
}

// countingEmitter counts the events synthesized for one dispatch
type countingEmitter struct {
	next  api.Emitter
	count int
}

func (c *countingEmitter) SendFlagsChanged(flags uint64) error {
	c.count++
	return c.next.SendFlagsChanged(flags)
}

func (c *countingEmitter) SendKeyboardEvent(keycode int64, flags uint64, down bool) error {
	c.count++
	return c.next.SendKeyboardEvent(keycode, flags, down)
}

// createPIDFile creates a PID file
func (d *Daemon) createPIDFile(path string) error {
	if path == "" {
		return nil
	}

	// Check if PID file already exists
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("daemon is already running with PID %d", pid)
				}
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Debug("Created PID file", "path", path, "pid", pid)
	return nil
}

// removePIDFile removes the PID file
func (d *Daemon) removePIDFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Error("Failed to remove PID file", "path", path, "error", err)
	}
}
