package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Operational defaults.
const (
	DefaultChannel           = "web_widget"
	DefaultGuestName         = "Guest"
	DefaultStorageKey        = "cc_chat_session"
	DefaultSessionExpiry     = 30 * time.Minute
	DefaultPingInterval      = 30 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
	DefaultMaxReconnectDelay = 3 * time.Second
	DefaultRequestTimeout    = 15 * time.Second
	DefaultCloseDelay        = 2 * time.Second
	DefaultSettingsCacheTTL  = 5 * time.Minute
	DefaultStoreDriver       = "memory"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid widget config")

// Config holds the embedding options and the operational knobs of a widget.
// Appearance fields left empty are filled from the tenant's widget record or
// from built-in defaults by the widget itself.
type Config struct {
	APIURL         string `yaml:"api_url"`
	TenantID       string `yaml:"tenant_id"`
	Position       string `yaml:"position"`
	PrimaryColor   string `yaml:"primary_color"`
	Title          string `yaml:"title"`
	Subtitle       string `yaml:"subtitle"`
	WelcomeMessage string `yaml:"welcome_message"`

	Channel           string   `yaml:"channel"`
	GuestName         string   `yaml:"guest_name"`
	StorageKey        string   `yaml:"storage_key"`
	SessionExpiry     Duration `yaml:"session_expiry"`
	PingInterval      Duration `yaml:"ping_interval"`
	ReconnectDelay    Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay Duration `yaml:"max_reconnect_delay"`
	RequestTimeout    Duration `yaml:"request_timeout"`
	CloseDelay        Duration `yaml:"close_delay"`
	// MaxCachedMessages bounds the transcript kept in the session cache.
	// Zero keeps the full transcript.
	MaxCachedMessages int `yaml:"max_cached_messages"`

	Store    StoreConfig    `yaml:"store"`
	Supabase SupabaseConfig `yaml:"supabase"`
}

// Default returns a config with every operational default set.
func Default() Config {
	return Config{
		Channel:           DefaultChannel,
		GuestName:         DefaultGuestName,
		StorageKey:        DefaultStorageKey,
		SessionExpiry:     Duration(DefaultSessionExpiry),
		PingInterval:      Duration(DefaultPingInterval),
		ReconnectDelay:    Duration(DefaultReconnectDelay),
		MaxReconnectDelay: Duration(DefaultMaxReconnectDelay),
		RequestTimeout:    Duration(DefaultRequestTimeout),
		CloseDelay:        Duration(DefaultCloseDelay),
		Store:             StoreConfig{Driver: DefaultStoreDriver},
		Supabase:          SupabaseConfig{CacheTTL: Duration(DefaultSettingsCacheTTL)},
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEnvFile loads .env style files into the process environment. Missing
// files are ignored.
func LoadEnvFile(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// FromEnv loads .env and overlays CHATWIDGET_* variables onto the defaults.
func FromEnv() (*Config, error) {
	LoadEnvFile()
	cfg := Default()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overlays CHATWIDGET_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"CHATWIDGET_API_URL":          &c.APIURL,
		"CHATWIDGET_TENANT_ID":        &c.TenantID,
		"CHATWIDGET_POSITION":         &c.Position,
		"CHATWIDGET_PRIMARY_COLOR":    &c.PrimaryColor,
		"CHATWIDGET_TITLE":            &c.Title,
		"CHATWIDGET_SUBTITLE":         &c.Subtitle,
		"CHATWIDGET_WELCOME_MESSAGE":  &c.WelcomeMessage,
		"CHATWIDGET_CHANNEL":          &c.Channel,
		"CHATWIDGET_GUEST_NAME":       &c.GuestName,
		"CHATWIDGET_STORAGE_KEY":      &c.StorageKey,
		"CHATWIDGET_STORE_DRIVER":     &c.Store.Driver,
		"CHATWIDGET_STORE_PATH":       &c.Store.Path,
		"CHATWIDGET_STORE_REDIS_URL":  &c.Store.RedisURL,
		"CHATWIDGET_STORE_DSN":        &c.Store.DSN,
		"CHATWIDGET_SUPABASE_URL":     &c.Supabase.URL,
		"CHATWIDGET_SUPABASE_API_KEY": &c.Supabase.APIKey,
	}
	for name, dst := range str {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}

	dur := map[string]*Duration{
		"CHATWIDGET_SESSION_EXPIRY":      &c.SessionExpiry,
		"CHATWIDGET_PING_INTERVAL":       &c.PingInterval,
		"CHATWIDGET_RECONNECT_DELAY":     &c.ReconnectDelay,
		"CHATWIDGET_MAX_RECONNECT_DELAY": &c.MaxReconnectDelay,
		"CHATWIDGET_REQUEST_TIMEOUT":     &c.RequestTimeout,
		"CHATWIDGET_CLOSE_DELAY":         &c.CloseDelay,
		"CHATWIDGET_SUPABASE_CACHE_TTL":  &c.Supabase.CacheTTL,
	}
	var errs []error
	for name, dst := range dur {
		v := getenv(name)
		if strings.TrimSpace(v) == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*dst = d
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate fills unset operational values with defaults and checks the rest.
func (c *Config) Validate() error {
	c.APIURL = strings.TrimSuffix(strings.TrimSpace(c.APIURL), "/")
	c.TenantID = strings.TrimSpace(c.TenantID)
	if c.APIURL == "" {
		return fmt.Errorf("%w: api_url is required", ErrInvalid)
	}
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalid)
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api_url must be an http(s) origin, got %q", ErrInvalid, c.APIURL)
	}

	def := Default()
	fillString(&c.Channel, def.Channel)
	fillString(&c.GuestName, def.GuestName)
	fillString(&c.StorageKey, def.StorageKey)
	fillString(&c.Store.Driver, def.Store.Driver)
	c.Store.Driver = strings.ToLower(c.Store.Driver)

	durations := []struct {
		name string
		val  *Duration
		def  Duration
	}{
		{"session_expiry", &c.SessionExpiry, def.SessionExpiry},
		{"ping_interval", &c.PingInterval, def.PingInterval},
		{"reconnect_delay", &c.ReconnectDelay, def.ReconnectDelay},
		{"request_timeout", &c.RequestTimeout, def.RequestTimeout},
		{"close_delay", &c.CloseDelay, def.CloseDelay},
		{"supabase.cache_ttl", &c.Supabase.CacheTTL, def.Supabase.CacheTTL},
	}
	for _, d := range durations {
		if *d.val == 0 {
			*d.val = d.def
		}
		if *d.val < 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, d.name)
		}
	}
	if c.MaxCachedMessages < 0 {
		return fmt.Errorf("%w: max_cached_messages must not be negative", ErrInvalid)
	}
	if c.MaxReconnectDelay < 0 {
		return fmt.Errorf("%w: max_reconnect_delay must be positive", ErrInvalid)
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}

	switch c.Store.Driver {
	case "memory":
	case "file":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("%w: store.path is required for the file driver", ErrInvalid)
		}
	case "redis":
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			return fmt.Errorf("%w: store.redis_url is required for the redis driver", ErrInvalid)
		}
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("%w: store.dsn is required for the postgres driver", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalid, c.Store.Driver)
	}
	return nil
}

func fillString(dst *string, def string) {
	*dst = strings.TrimSpace(*dst)
	if *dst == "" {
		*dst = def
	}
}
