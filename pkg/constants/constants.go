package constants

import (
	"strconv"
	"time"
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

const (
	// DefaultReconnectDelay matches the fixed delay the web client used between
	// realtime reconnection attempts.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultMaxReconnectDelay caps the exponential backoff when it is enabled.
	DefaultMaxReconnectDelay = 60 * time.Second

	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHTTPTimeout      = 30 * time.Second

	// DefaultHeartbeat is used for both the outgoing and the expected incoming
	// STOMP heart-beat.
	DefaultHeartbeat = 4 * time.Second

	DefaultPageSize          = 10
	DefaultNotificationsPage = 50
	DefaultEventBufferSize   = 64

	MaxPostLength    = 500
	MaxCommentLength = 2000

	// CloseMessageCode is sent in the WebSocket close frame on a clean disconnect.
	CloseMessageCode = 1000
)

// NotificationTopic returns the per-user STOMP destination the server pushes
// notification events to.
func NotificationTopic(userID int64) string {
	return "/user/" + strconv.FormatInt(userID, 10) + "/queue/notifications"
}
