package filewatcher

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sammwyy/keymacro/api"
)

// DefaultDebounce is how long a file must stay quiet before handlers run
const DefaultDebounce = 150 * time.Millisecond

// ChangeFunc is called with the path of a changed file
type ChangeFunc func(path string)

// FileWatcher watches directories and notifies registered handlers about
// changes of files whose base name matches their pattern
type FileWatcher struct {
	watcher     *fsnotify.Watcher
	watches     map[string]*dirWatch
	mutex       sync.RWMutex
	logger      api.Logger
	debounce    time.Duration
	stopChannel chan struct{}
	stopOnce    sync.Once
}

type dirWatch struct {
	dir           string
	registrations []registration
}

type registration struct {
	id      string
	regex   *regexp.Regexp
	handler ChangeFunc
	timer   *time.Timer
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(logger api.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:     watcher,
		watches:     make(map[string]*dirWatch),
		logger:      logger,
		debounce:    DefaultDebounce,
		stopChannel: make(chan struct{}),
	}, nil
}

// SetDebounce changes the quiet period; must be called before Start
func (fw *FileWatcher) SetDebounce(d time.Duration) {
	fw.debounce = d
}

// Start starts the file watcher
func (fw *FileWatcher) Start() error {
	go fw.watchLoop()
	fw.logger.Info("FileWatcher started")
	return nil
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() error {
	fw.stopOnce.Do(func() {
		close(fw.stopChannel)

		fw.mutex.Lock()
		for _, watch := range fw.watches {
			for _, reg := range watch.registrations {
				if reg.timer != nil {
					reg.timer.Stop()
				}
			}
		}
		fw.mutex.Unlock()

		if err := fw.watcher.Close(); err != nil {
			fw.logger.Error("Failed to close fsnotify watcher", "error", err)
		}
		fw.logger.Info("FileWatcher stopped")
	})
	return nil
}

// Register calls handler whenever a file in dir whose base name matches
// regexPattern is written, created, renamed or removed. Directories are
// watched instead of files so editors that replace files are seen.
func (fw *FileWatcher) Register(dir, id, regexPattern string, handler ChangeFunc) error {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	regex, err := regexp.Compile(regexPattern)
	if err != nil {
		return fmt.Errorf("invalid regex pattern %s: %w", regexPattern, err)
	}

	dir = filepath.Clean(dir)
	watch, exists := fw.watches[dir]
	if !exists {
		if err := fw.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to add %s to watcher: %w", dir, err)
		}
		watch = &dirWatch{dir: dir}
		fw.watches[dir] = watch
		fw.logger.Debug("Started watching directory", "path", dir)
	}

	watch.registrations = append(watch.registrations, registration{
		id:      id,
		regex:   regex,
		handler: handler,
	})

	fw.logger.Debug("Registered change handler", "id", id, "dir", dir, "regex", regexPattern)
	return nil
}

// RegisterFile calls handler when exactly the file at path changes
func (fw *FileWatcher) RegisterFile(path, id string, handler ChangeFunc) error {
	pattern := "^" + regexp.QuoteMeta(filepath.Base(path)) + "$"
	return fw.Register(filepath.Dir(path), id, pattern, handler)
}

// Unregister removes a handler from a directory
func (fw *FileWatcher) Unregister(dir, id string) error {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	dir = filepath.Clean(dir)
	watch, exists := fw.watches[dir]
	if !exists {
		return fmt.Errorf("directory %s is not being watched", dir)
	}

	kept := make([]registration, 0, len(watch.registrations))
	found := false
	for _, reg := range watch.registrations {
		if reg.id != id {
			kept = append(kept, reg)
			continue
		}
		found = true
		if reg.timer != nil {
			reg.timer.Stop()
		}
	}
	if !found {
		return fmt.Errorf("handler %s not registered for %s", id, dir)
	}

	watch.registrations = kept
	if len(watch.registrations) == 0 {
		if err := fw.watcher.Remove(dir); err != nil {
			fw.logger.Debug("Failed to remove watch", "path", dir, "error", err)
		}
		delete(fw.watches, dir)
		fw.logger.Debug("Stopped watching directory", "path", dir)
	}
	return nil
}

// watchLoop is the main event loop for file watching
func (fw *FileWatcher) watchLoop() {
	for {
		select {
		case <-fw.stopChannel:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				fw.handleChange(event.Name)
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("File watcher error", "error", err)
		}
	}
}

// handleChange schedules the handlers interested in path, restarting their
// quiet period
func (fw *FileWatcher) handleChange(path string) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	watch, exists := fw.watches[filepath.Dir(path)]
	if !exists {
		return
	}

	base := filepath.Base(path)
	for i := range watch.registrations {
		reg := &watch.registrations[i]
		if !reg.regex.MatchString(base) {
			continue
		}
		if reg.timer != nil {
			reg.timer.Stop()
		}
		handler, id := reg.handler, reg.id
		reg.timer = time.AfterFunc(fw.debounce, func() {
			select {
			case <-fw.stopChannel:
				return
			default:
			}
			fw.logger.Debug("File changed", "handler", id, "path", path)
			handler(path)
		})
	}
}
