package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/creastat/widget/chat"
)

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// NewStore creates a new Store based on the given type.
// Supports "memory", "file", "redis" and "sql" driver types.
// For Redis, requires WithRedisClient or WithRedisURL.
// For file, requires WithDirectory.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}

	// Apply options
	for _, opt := range opts {
		opt(config)
	}

	if strings.TrimSpace(config.key) == "" {
		config.key = DefaultKey
	}
	if config.expiry <= 0 {
		config.expiry = DefaultExpiry
	}
	if config.now == nil {
		config.now = time.Now
	}

	var (
		b   backend
		err error
	)
	switch storeType {
	case StoreTypeMemory:
		b = newMemoryBackend()
	case StoreTypeFile:
		b, err = newFileBackend(config.dir)
	case StoreTypeRedis:
		b, err = newRedisBackend(config)
	case StoreTypeSQL:
		b, err = newSQLBackend(config)
	default:
		return nil, ErrInvalidStoreType
	}
	if err != nil {
		return nil, err
	}

	return &slotStore{
		backend: b,
		key:     config.key,
		expiry:  config.expiry,
		now:     config.now,
	}, nil
}

// slotStore implements Store on top of a driver backend. It owns encoding and
// the read-time freshness check so every driver behaves the same.
type slotStore struct {
	backend backend
	key     string
	expiry  time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Load implements Store.
func (s *slotStore) Load(ctx context.Context) (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := s.backend.get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("read session %q: %w", s.key, err)
	}
	if raw == nil {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, s.discard(ctx, fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	if err := rec.validate(); err != nil {
		return nil, s.discard(ctx, err)
	}
	if rec.Expired(s.now(), s.expiry) {
		return nil, s.discard(ctx, fmt.Errorf("%w: saved %s ago", ErrExpired, rec.Age(s.now()).Round(time.Second)))
	}
	return &rec, nil
}

// Save implements Store.
func (s *slotStore) Save(ctx context.Context, rec Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	rec.Timestamp = s.now().UnixMilli()
	if rec.Messages == nil {
		rec.Messages = []chat.Message{}
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.backend.set(ctx, s.key, val); err != nil {
		return fmt.Errorf("write session %q: %w", s.key, err)
	}
	return nil
}

// Purge implements Store.
func (s *slotStore) Purge(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.backend.del(ctx, s.key); err != nil {
		return fmt.Errorf("purge session %q: %w", s.key, err)
	}
	return nil
}

// Close implements Store.
func (s *slotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.close()
}

func (s *slotStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// discard purges the slot and returns cause, joined with any purge failure.
func (s *slotStore) discard(ctx context.Context, cause error) error {
	if err := s.backend.del(ctx, s.key); err != nil {
		return errors.Join(cause, fmt.Errorf("purge session %q: %w", s.key, err))
	}
	return cause
}
