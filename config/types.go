package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML parsing from
// strings like "30s" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(v string) (Duration, error) {
	raw := strings.TrimSpace(v)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", v)
}

// StoreConfig selects the session cache driver.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // memory | file | redis | sqlite | postgres
	Path     string `yaml:"path"`   // directory of the file driver
	RedisURL string `yaml:"redis_url"`
	DSN      string `yaml:"dsn"`
}

// SupabaseConfig points at the project holding the chat_widgets table.
type SupabaseConfig struct {
	URL      string   `yaml:"url"`
	APIKey   string   `yaml:"api_key"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// Enabled reports whether widget settings should be fetched from Supabase.
func (s SupabaseConfig) Enabled() bool {
	return strings.TrimSpace(s.URL) != "" && strings.TrimSpace(s.APIKey) != ""
}
