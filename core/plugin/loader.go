package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sammwyy/keymacro/api"
)

// Registrar is the host side that script plugins are registered with
type Registrar interface {
	RegisterPlugin(plugin api.Plugin) error
	UnregisterPlugin(id string)
}

// Loader manages Lua script plugins and their lifecycle
type Loader struct {
	pluginDir string
	scripts   map[string]*LoadedScript
	owners    map[string]string
	mutex     sync.Mutex
	logger    api.Logger
	coreAPI   api.CoreAPI
	registrar Registrar
}

// LoadedScript represents a loaded script file
type LoadedScript struct {
	FilePath string
	IDs      []string
	state    *scriptState
}

// NewLoader creates a new plugin loader
func NewLoader(pluginDir string, logger api.Logger, coreAPI api.CoreAPI, registrar Registrar) *Loader {
	return &Loader{
		pluginDir: pluginDir,
		scripts:   make(map[string]*LoadedScript),
		owners:    make(map[string]string),
		logger:    logger,
		coreAPI:   coreAPI,
		registrar: registrar,
	}
}

// Dir returns the watched plugin directory
func (l *Loader) Dir() string {
	return l.pluginDir
}

// LoadAll loads every *.lua file of the plugin directory in name order.
// Scripts that fail are logged and skipped; their errors are returned
// together.
func (l *Loader) LoadAll() error {
	paths, err := l.scan()
	if err != nil {
		return err
	}

	var errs []error
	for _, path := range paths {
		if err := l.LoadScript(path); err != nil {
			l.logger.Error("Failed to load script plugin", "path", path, "error", err)
			errs = append(errs, err)
		}
	}

	l.logger.Info("Loaded script plugins", "scripts", len(l.Scripts()))
	return errors.Join(errs...)
}

// Reload runs every script again. Plugins keep their dispatch position when
// re-registered; ids a script stopped registering, and ids of deleted
// scripts, are unregistered.
func (l *Loader) Reload() error {
	paths, err := l.scan()
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(paths))
	for _, path := range paths {
		present[path] = true
	}
	for _, path := range l.Scripts() {
		if !present[path] {
			l.UnloadScript(path)
		}
	}

	var errs []error
	for _, path := range paths {
		if err := l.LoadScript(path); err != nil {
			l.logger.Error("Failed to reload script plugin", "path", path, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Loader) scan() ([]string, error) {
	if _, err := os.Stat(l.pluginDir); os.IsNotExist(err) {
		l.logger.Warn("Plugin directory does not exist", "dir", l.pluginDir)
		return nil, nil
	}

	entries, err := os.ReadDir(l.pluginDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		paths = append(paths, filepath.Join(l.pluginDir, entry.Name()))
	}
	return paths, nil
}

// LoadScript runs one script file, registering the plugins it declares.
// Running an already loaded file again replaces its plugins.
func (l *Loader) LoadScript(path string) error {
	l.logger.Debug("Loading script plugin", "path", path)

	var registered []string
	state := newScriptState(path, l.coreAPI, l.logger.With("script", filepath.Base(path)), func(plugin api.Plugin) error {
		if err := l.registrar.RegisterPlugin(plugin); err != nil {
			return err
		}
		registered = append(registered, plugin.Meta().ID)
		return nil
	})

	runErr := state.run()

	l.mutex.Lock()
	previous := l.scripts[path]
	l.scripts[path] = &LoadedScript{FilePath: path, IDs: registered, state: state}
	for _, id := range registered {
		if owner, ok := l.owners[id]; ok && owner != path {
			l.dropID(owner, id)
		}
		l.owners[id] = path
	}
	var stale []string
	if previous != nil {
		for _, id := range previous.IDs {
			if !contains(registered, id) {
				stale = append(stale, id)
				delete(l.owners, id)
			}
		}
	}
	l.mutex.Unlock()

	for _, id := range stale {
		l.registrar.UnregisterPlugin(id)
	}

	if runErr != nil {
		return fmt.Errorf("failed to load %s: %w", path, runErr)
	}
	l.logger.Info("Loaded script plugin", "path", path, "plugins", registered)
	return nil
}

// UnloadScript unregisters every plugin of a script file
func (l *Loader) UnloadScript(path string) {
	l.mutex.Lock()
	script, exists := l.scripts[path]
	if exists {
		delete(l.scripts, path)
		for _, id := range script.IDs {
			delete(l.owners, id)
		}
	}
	l.mutex.Unlock()

	if !exists {
		return
	}
	for _, id := range script.IDs {
		l.registrar.UnregisterPlugin(id)
	}
	l.logger.Info("Unloaded script plugin", "path", path)
}

// Forget drops the bookkeeping of a plugin unregistered by the host
func (l *Loader) Forget(id string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if owner, ok := l.owners[id]; ok {
		l.dropID(owner, id)
		delete(l.owners, id)
	}
}

// dropID removes id from a script's list; callers hold the mutex
func (l *Loader) dropID(path, id string) {
	script, ok := l.scripts[path]
	if !ok {
		return
	}
	kept := script.IDs[:0]
	for _, existing := range script.IDs {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	script.IDs = kept
}

// Scripts returns the loaded script paths in name order
func (l *Loader) Scripts() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	paths := make([]string, 0, len(l.scripts))
	for path := range l.scripts {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Owner returns the script that registered id
func (l *Loader) Owner(id string) (string, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	path, ok := l.owners[id]
	return path, ok
}

// UnloadAll unloads all scripts
func (l *Loader) UnloadAll() {
	for _, path := range l.Scripts() {
		l.UnloadScript(path)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
