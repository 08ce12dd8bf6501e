package supabase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const widgetTable = "chat_widgets"

// Config holds Supabase connection configuration
type Config struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration // Default: 5 minutes
	Logger   *zap.Logger
}

// Client implements the Store interface using Supabase
type Client struct {
	client   *supabase.Client
	cache    *cache
	cacheTTL time.Duration
	group    singleflight.Group
	logger   *zap.Logger
	now      func() time.Time
}

// cache provides thread-safe caching of widget records per tenant
type cache struct {
	mu       sync.RWMutex
	byTenant map[string]*cacheEntry[*WidgetSettings]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// New creates a new Supabase client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client, err := supabase.NewClient(strings.TrimSuffix(cfg.URL, "/"), cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:   client,
		cacheTTL: cfg.CacheTTL,
		cache: &cache{
			byTenant: make(map[string]*cacheEntry[*WidgetSettings]),
		},
		logger: cfg.Logger.Named("supabase"),
		now:    time.Now,
	}, nil
}

// WidgetSettings retrieves the enabled widget record of a tenant.
// Concurrent lookups for the same tenant share one query.
func (c *Client) WidgetSettings(ctx context.Context, tenantID string) (*WidgetSettings, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrWidgetNotFound
	}

	// Check cache first
	if cached := c.getFromCache(tenantID); cached != nil {
		return cached, nil
	}

	v, err, _ := c.group.Do(tenantID, func() (any, error) {
		return c.fetch(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	settings := *v.(*WidgetSettings)
	return &settings, nil
}

func (c *Client) fetch(ctx context.Context, tenantID string) (*WidgetSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []WidgetSettings
	_, err := c.client.From(widgetTable).
		Select("*", "", false).
		Eq("tenant_id", tenantID).
		Eq("is_enabled", "true").
		ExecuteTo(&rows)

	if err != nil {
		return nil, fmt.Errorf("failed to get widget settings: %w", err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: tenant %q", ErrWidgetNotFound, tenantID)
	}

	settings := &rows[0]
	c.addToCache(tenantID, settings)
	c.logger.Debug("widget settings loaded", zap.String("tenant_id", tenantID), zap.String("widget_key", settings.WidgetKey))
	return settings, nil
}

// Invalidate drops the cached record of a tenant.
func (c *Client) Invalidate(tenantID string) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	delete(c.cache.byTenant, tenantID)
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

// getFromCache returns a copy of a live cache entry, or nil.
func (c *Client) getFromCache(key string) *WidgetSettings {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()

	if e, ok := c.cache.byTenant[key]; ok {
		if c.now().Before(e.expiresAt) {
			settings := *e.value
			return &settings
		}
	}
	return nil
}

// addToCache adds a value to cache
func (c *Client) addToCache(key string, value *WidgetSettings) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	c.cache.byTenant[key] = &cacheEntry[*WidgetSettings]{
		value:     value,
		expiresAt: c.now().Add(c.cacheTTL),
	}
}

// Compile-time check that Client implements Store
var _ Store = (*Client)(nil)
