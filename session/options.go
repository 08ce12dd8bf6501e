package session

import (
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// StoreOption is a functional option for configuring a session store.
type StoreOption func(*storeConfig)

// storeConfig holds configuration for session stores.
type storeConfig struct {
	key    string
	expiry time.Duration
	now    func() time.Time

	redisClient *redis.Client
	redisURL    string

	dir string

	sqlDriver string
	sqlDSN    string
	gormDB    *gorm.DB
}

// WithKey sets the storage slot. Independent widgets must use distinct keys.
func WithKey(key string) StoreOption {
	return func(c *storeConfig) {
		c.key = key
	}
}

// WithExpiry sets the freshness window enforced at read time.
func WithExpiry(expiry time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.expiry = expiry
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.now = now
	}
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisURL makes the Redis store dial its own client from a redis:// URL.
func WithRedisURL(url string) StoreOption {
	return func(c *storeConfig) {
		c.redisURL = url
	}
}

// WithDirectory sets the directory of the file store.
func WithDirectory(dir string) StoreOption {
	return func(c *storeConfig) {
		c.dir = dir
	}
}

// WithSQL sets the gorm driver ("sqlite" or "postgres") and DSN for the SQL store.
func WithSQL(driver, dsn string) StoreOption {
	return func(c *storeConfig) {
		c.sqlDriver = driver
		c.sqlDSN = dsn
	}
}

// WithGormDB reuses an already opened gorm handle for the SQL store.
func WithGormDB(db *gorm.DB) StoreOption {
	return func(c *storeConfig) {
		c.gormDB = db
	}
}
