package plugin

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds a plugin's merged configuration: the manifest's
// config_schema defaults overridden by whatever the operator placed in
// the plugin's user config file.
type Config struct {
	values map[string]any
}

// LoadConfig merges a manifest's schema defaults with an optional
// per-plugin user config file. A missing user config file is not an
// error; the plugin simply runs on schema defaults.
func LoadConfig(schemaDefaults map[string]any, userConfigPath string) (*Config, error) {
	merged := make(map[string]any, len(schemaDefaults))
	for k, v := range schemaDefaults {
		merged[k] = v
	}

	if userConfigPath != "" {
		data, err := os.ReadFile(userConfigPath)
		if err == nil {
			var user map[string]any
			if err := yaml.Unmarshal(data, &user); err != nil {
				return nil, err
			}
			for k, v := range user {
				merged[k] = v
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return &Config{values: merged}, nil
}

// Get returns the configured value for key, or def if the key is
// absent from both the schema defaults and the user override.
func (c *Config) Get(key string, def any) any {
	if c == nil {
		return def
	}
	if v, ok := c.values[key]; ok {
		return v
	}
	return def
}

// GetString is Get with a string-typed default and return value.
func (c *Config) GetString(key, def string) string {
	v := c.Get(key, def)
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// GetBool is Get with a bool-typed default and return value.
func (c *Config) GetBool(key string, def bool) bool {
	v := c.Get(key, def)
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// GetInt is Get with an int-typed default and return value, tolerating
// YAML's tendency to decode whole numbers as int.
func (c *Config) GetInt(key string, def int) int {
	v := c.Get(key, def)
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
