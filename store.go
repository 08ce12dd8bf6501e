package widget

import (
	"fmt"
	"time"

	"github.com/creastat/widget/config"
	"github.com/creastat/widget/session"
)

// openStore builds the session cache selected by cfg.Store.
func openStore(cfg config.Config, now func() time.Time) (session.Store, error) {
	opts := []session.StoreOption{
		session.WithKey(cfg.StorageKey),
		session.WithExpiry(cfg.SessionExpiry.Duration()),
		session.WithClock(now),
	}

	var storeType session.StoreType
	switch cfg.Store.Driver {
	case "", "memory":
		storeType = session.StoreTypeMemory
	case "file":
		storeType = session.StoreTypeFile
		opts = append(opts, session.WithDirectory(cfg.Store.Path))
	case "redis":
		storeType = session.StoreTypeRedis
		opts = append(opts, session.WithRedisURL(cfg.Store.RedisURL))
	case "sqlite", "postgres":
		storeType = session.StoreTypeSQL
		opts = append(opts, session.WithSQL(cfg.Store.Driver, cfg.Store.DSN))
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, cfg.Store.Driver)
	}

	store, err := session.NewStore(storeType, opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s session store: %w", cfg.Store.Driver, err)
	}
	return store, nil
}

// OpenSessionStore opens the session cache configured in cfg. Tools use it to
// inspect or clear a cached conversation outside a running widget.
func OpenSessionStore(cfg config.Config) (session.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return openStore(cfg, time.Now)
}
