package api

import "sort"

// Config holds the typed configuration values of one plugin. A Config is
// built in one piece and never mutated afterwards.
type Config struct {
	values map[string]interface{}
}

// NewConfig wraps already coerced values
func NewConfig(values map[string]interface{}) Config {
	copied := make(map[string]interface{}, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Config{values: copied}
}

// Get returns the raw typed value of an item
func (c Config) Get(name string) (interface{}, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Hotkey returns a hotkey item
func (c Config) Hotkey(name string) (Hotkey, bool) {
	v, ok := c.values[name].(Hotkey)
	return v, ok
}

// String returns a string item
func (c Config) String(name string) (string, bool) {
	v, ok := c.values[name].(string)
	return v, ok
}

// Int returns an integer item
func (c Config) Int(name string) (int, bool) {
	v, ok := c.values[name].(int)
	return v, ok
}

// Len returns the number of items
func (c Config) Len() int {
	return len(c.values)
}

// Names returns the item names in sorted order
func (c Config) Names() []string {
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
