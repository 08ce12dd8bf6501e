package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelURL(t *testing.T) {
	tests := []struct {
		api  string
		key  string
		want string
	}{
		{"http://localhost:8080", "abc", "ws://localhost:8080/ws/public/abc"},
		{"https://api.example.com/", "abc", "wss://api.example.com/ws/public/abc"},
		{"https://api.example.com/backend", "a b", "wss://api.example.com/backend/ws/public/a%20b"},
		{"HTTPS://api.example.com?x=1", "k", "wss://api.example.com/ws/public/k"},
	}
	for _, tt := range tests {
		t.Run(tt.api, func(t *testing.T) {
			got, err := ChannelURL(tt.api, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChannelURL_Invalid(t *testing.T) {
	for _, api := range []string{"ftp://host", "localhost:8080", "http://", "::"} {
		_, err := ChannelURL(api, "k")
		assert.ErrorIs(t, err, ErrInvalidURL, api)
	}
	_, err := ChannelURL("http://host", " ")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestBackoff_DefaultIsFixed(t *testing.T) {
	var b Backoff
	for attempt := 0; attempt < 5; attempt++ {
		assert.Equal(t, DefaultReconnectDelay, b.Delay(attempt))
	}
	fixed := Backoff{Base: 3 * time.Second, Max: 3 * time.Second, Jitter: 0.2}
	assert.Equal(t, 3*time.Second, fixed.Delay(4))
}

func TestBackoff_CappedExponential(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second, Jitter: 0.2}
	assert.Equal(t, time.Second, b.Delay(0), "first retry is exact")

	for i := 0; i < 50; i++ {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
	for i := 0; i < 50; i++ {
		d := b.Delay(10)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
}
