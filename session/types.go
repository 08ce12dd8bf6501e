package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/creastat/widget/chat"
)

const (
	// DefaultKey is the storage slot used when no key is configured.
	DefaultKey = "cc_chat_session"
	// DefaultExpiry is the freshness window of a cached record.
	DefaultExpiry = 30 * time.Minute
)

// Record is the cached copy of one visitor conversation.
// The JSON layout matches what the embedded widget keeps in local storage:
// sessionId and conversationId both hold the numeric conversation id.
type Record struct {
	SessionID      int64          `json:"sessionId"`
	SessionKey     string         `json:"sessionKey"`
	ConversationID int64          `json:"conversationId"`
	Messages       []chat.Message `json:"messages"`
	Timestamp      int64          `json:"timestamp"` // epoch millis of the last save
}

// SavedAt returns the time of the last save.
func (r Record) SavedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Age returns how long ago the record was saved.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.SavedAt())
}

// Expired reports whether the record is older than the window.
func (r Record) Expired(now time.Time, window time.Duration) bool {
	return r.Age(now) > window
}

func (r Record) validate() error {
	if strings.TrimSpace(r.SessionKey) == "" {
		return fmt.Errorf("%w: sessionKey is required", ErrCorrupt)
	}
	if r.ConversationID <= 0 {
		return fmt.Errorf("%w: conversationId is required", ErrCorrupt)
	}
	if r.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp is required", ErrCorrupt)
	}
	return nil
}
