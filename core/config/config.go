package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"
)

// Environment variables overriding file values
const (
	EnvConfig      = "KEYMACRO_CONFIG"
	EnvLogLevel    = "KEYMACRO_LOG_LEVEL"
	EnvSocket      = "KEYMACRO_SOCKET"
	EnvPluginDir   = "KEYMACRO_PLUGIN_DIR"
	EnvMonitorAddr = "KEYMACRO_MONITOR_ADDR"
)

//go:embed schema.json
var documentSchema []byte

// Config represents the main configuration structure
type Config struct {
	Core    CoreConfig              `json:"core"`
	Plugins map[string]PluginConfig `json:"plugins"`
	Include []IncludeConfig         `json:"include"`

	// Raw is the merged document, JSON shaped, that plugin configuration is
	// resolved from
	Raw map[string]interface{} `json:"-"`

	// Files lists the loaded files, main file first
	Files []string `json:"-"`
}

// CoreConfig contains core daemon configuration
type CoreConfig struct {
	SocketPath  string `json:"socket_path"`
	PluginDir   string `json:"plugin_dir"`
	LogLevel    string `json:"log_level"`
	MonitorAddr string `json:"monitor_addr"`
	PIDFile     string `json:"pid_file"`
}

// PluginConfig contains plugin-specific configuration
type PluginConfig struct {
	Enabled *bool                  `json:"enabled,omitempty"`
	Config  map[string]interface{} `json:"config,omitempty"`
}

// IncludeConfig specifies additional configuration files to include
type IncludeConfig struct {
	Files []string `json:"files"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			SocketPath: filepath.Join(os.TempDir(), "keymacro.sock"),
			PluginDir:  filepath.Join(configHome(), "keymacro", "plugins"),
			LogLevel:   "info",
		},
		Plugins: make(map[string]PluginConfig),
		Include: []IncludeConfig{},
		Raw:     make(map[string]interface{}),
	}
}

// DefaultPath returns the config file used when none is given on the
// command line
func DefaultPath() string {
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}
	return filepath.Join(configHome(), "keymacro", "config.toml")
}

// LoadEnv loads a .env file from the working directory when present.
// Variables already set in the environment win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from the specified file and its includes.
// A missing main file returns an error wrapping os.ErrNotExist.
func LoadConfig(configPath string) (*Config, error) {
	raw, err := loadConfigFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config: %w", err)
	}

	files := []string{configPath}
	includes, err := decodeIncludes(raw)
	if err != nil {
		return nil, err
	}
	delete(raw, "include")

	// Load included files
	baseDir := filepath.Dir(configPath)
	for _, include := range includes {
		for _, pattern := range include.Files {
			fullPattern := pattern
			if !filepath.IsAbs(pattern) {
				fullPattern = filepath.Join(baseDir, pattern)
			}
			matches, err := filepath.Glob(fullPattern)
			if err != nil {
				return nil, fmt.Errorf("failed to glob pattern %s: %w", fullPattern, err)
			}

			for _, match := range matches {
				if match == configPath {
					continue // Skip the main config file
				}

				included, err := loadConfigFile(match)
				if err != nil {
					return nil, fmt.Errorf("failed to load included config %s: %w", match, err)
				}
				delete(included, "include")
				mergeMaps(raw, included)
				files = append(files, match)
			}
		}
	}

	config, err := fromDocument(raw)
	if err != nil {
		return nil, err
	}
	config.Include = includes
	config.Files = files
	return config, nil
}

// LoadOrDefault loads configPath, falling back to the defaults when the
// file does not exist. Env overrides are applied either way.
func LoadOrDefault(configPath string) (*Config, bool, error) {
	config, err := LoadConfig(configPath)
	found := true
	if errors.Is(err, os.ErrNotExist) {
		config, err = DefaultConfig(), nil
		found = false
	}
	if err != nil {
		return nil, false, err
	}
	config.ApplyEnv()
	return config, found, nil
}

// loadConfigFile decodes a single file by extension into a generic document
func loadConfigFile(path string) (map[string]interface{}, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	doc := make(map[string]interface{})
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	if doc == nil {
		doc = make(map[string]interface{})
	}
	return normalize(doc)
}

// normalize round trips a decoded document through JSON so every format
// yields the same value types
func normalize(doc map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}
	return out, nil
}

func decodeIncludes(raw map[string]interface{}) ([]IncludeConfig, error) {
	value, ok := raw["include"]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("invalid include section: %w", err)
	}
	var includes []IncludeConfig
	if err := json.Unmarshal(data, &includes); err != nil {
		return nil, fmt.Errorf("invalid include section: %w", err)
	}
	return includes, nil
}

// fromDocument validates a merged document and decodes the typed view
func fromDocument(raw map[string]interface{}) (*Config, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	config := DefaultConfig()
	var parsed Config
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	mergeCore(&config.Core, &parsed.Core)
	for k, v := range parsed.Plugins {
		config.Plugins[k] = v
	}
	config.Raw = raw
	return config, nil
}

// Validate checks a raw document against the embedded JSON schema
func Validate(raw map[string]interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(documentSchema),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

// mergeMaps merges src into dst, later values winning per key
func mergeMaps(dst, src map[string]interface{}) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]interface{})
		dstMap, dstIsMap := dst[key].(map[string]interface{})
		if srcIsMap && dstIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}

// mergeCore overlays non-empty values of src onto dst
func mergeCore(dst, src *CoreConfig) {
	if src.SocketPath != "" {
		dst.SocketPath = src.SocketPath
	}
	if src.PluginDir != "" {
		dst.PluginDir = expandHome(src.PluginDir)
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.MonitorAddr != "" {
		dst.MonitorAddr = src.MonitorAddr
	}
	if src.PIDFile != "" {
		dst.PIDFile = src.PIDFile
	}
}

// ApplyEnv overrides core values from the environment
func (c *Config) ApplyEnv() {
	mergeCore(&c.Core, &CoreConfig{
		SocketPath:  os.Getenv(EnvSocket),
		PluginDir:   os.Getenv(EnvPluginDir),
		LogLevel:    os.Getenv(EnvLogLevel),
		MonitorAddr: os.Getenv(EnvMonitorAddr),
	})
}

// IsPluginEnabled checks if a plugin is enabled
func (c *Config) IsPluginEnabled(pluginID string) bool {
	if pluginConfig, exists := c.Plugins[pluginID]; exists && pluginConfig.Enabled != nil {
		return *pluginConfig.Enabled
	}
	return true // Default to enabled if not specified
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config")
	}
	return "."
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
