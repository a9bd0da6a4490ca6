package realtime

import (
	"context"
)

// Credential is presented once per connection attempt.
type Credential struct {
	Token  string
	UserID int64
}

// CredentialFunc returns the current credential. It is called before every
// connection attempt, so a refreshed token is picked up on reconnect. An
// error wrapping constants.ErrUnauthorized stops the channel.
type CredentialFunc func(ctx context.Context) (Credential, error)

// Message is one server push.
type Message struct {
	Destination string
	ID          string
	ContentType string
	Body        []byte
}

// Transport opens authenticated connections to the realtime server.
type Transport interface {
	// Dial connects and completes the handshake with token. A token the
	// server rejects yields an error wrapping constants.ErrUnauthorized.
	Dial(ctx context.Context, token string) (Conn, error)
}

// Conn is one established connection. Close may be called more than once
// and from another goroutine than Receive.
type Conn interface {
	Subscribe(ctx context.Context, id, destination string) error
	// Receive blocks until the next message, a connection error, or ctx is
	// done.
	Receive(ctx context.Context) (Message, error)
	Close(ctx context.Context) error
}
