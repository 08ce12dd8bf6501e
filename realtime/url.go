package realtime

import (
	"fmt"
	"net/url"
	"strings"
)

const channelPath = "/ws/public/"

// ChannelURL derives the channel URL for sessionKey from the API origin:
// http becomes ws, https becomes wss.
func ChannelURL(apiURL, sessionKey string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.TrimSpace(sessionKey) == "" {
		return "", fmt.Errorf("%w: empty session key", ErrInvalidURL)
	}

	base := strings.TrimSuffix(u.EscapedPath(), "/")
	return u.Scheme + "://" + u.Host + base + channelPath + url.PathEscape(sessionKey), nil
}
