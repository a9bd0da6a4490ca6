// Package stompws speaks STOMP 1.2 over a gorilla WebSocket and implements
// realtime.Transport.
package stompws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	gorilla "github.com/gorilla/websocket"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/logger"
	"github.com/JordyChamba/feedsync/pkg/realtime"
	"github.com/JordyChamba/feedsync/pkg/realtime/stomp"
)

// DefaultDialer is the gorilla dialer used when Config.Dialer is nil.
//
// It is the default gorilla dialer with the STOMP 1.2 subprotocol.
var DefaultDialer = &gorilla.Dialer{
	Proxy:            gorilla.DefaultDialer.Proxy,
	HandshakeTimeout: constants.DefaultHandshakeTimeout,
	Subprotocols:     []string{"v12.stomp"},
}

type Config struct {
	// URL is the WebSocket endpoint, for example ws://localhost:8080/ws.
	URL string
	// Host is sent in the CONNECT frame. It defaults to the host of URL.
	Host string
	// HeartBeat is what the client offers; the server's answer decides the
	// intervals actually used.
	HeartBeat        stomp.HeartBeat
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Dialer           *gorilla.Dialer
	Logger           logger.Logger
}

type Transport struct {
	cfg Config
}

var _ realtime.Transport = (*Transport)(nil)

func New(cfg Config) (*Transport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}
	if u.Scheme != constants.WebsocketScheme && u.Scheme != constants.WebsocketSecureScheme {
		return nil, fmt.Errorf("realtime url %q: scheme must be ws or wss", cfg.URL)
	}
	if cfg.Host == "" {
		cfg.Host = u.Hostname()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = constants.DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = constants.DefaultWriteTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	return &Transport{cfg: cfg}, nil
}

// Dial opens the WebSocket and runs the STOMP CONNECT handshake with token
// as a bearer credential. An ERROR frame in answer to CONNECT, or an HTTP
// 401/403 on the upgrade, is reported as constants.ErrUnauthorized.
func (t *Transport) Dial(ctx context.Context, token string) (realtime.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, res, err := t.cfg.Dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		if res != nil && (res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: upgrade answered %s", constants.ErrUnauthorized, res.Status)
		}
		return nil, &realtime.TransportError{Op: "dial", Err: err}
	}
	defer res.Body.Close()

	// a cancelled handshake unblocks by closing the socket under it
	stop := context.AfterFunc(ctx, func() {
		_ = ws.Close()
	})
	defer stop()

	hb, err := t.handshake(ctx, ws, token)
	if err != nil {
		_ = ws.Close()
		if ctx.Err() != nil {
			return nil, &realtime.TransportError{Op: "handshake", Err: ctx.Err()}
		}
		return nil, err
	}
	if !stop() {
		return nil, &realtime.TransportError{Op: "handshake", Err: ctx.Err()}
	}

	c := &Conn{
		ws:           ws,
		heartBeat:    hb,
		writeTimeout: t.cfg.WriteTimeout,
		incoming:     make(chan realtime.Message),
		closeCh:      make(chan struct{}),
		logger:       t.cfg.Logger,
	}
	go c.readLoop()
	if hb.Send > 0 {
		go c.heartBeatLoop()
	}
	return c, nil
}

func (t *Transport) handshake(ctx context.Context, ws *gorilla.Conn, token string) (stomp.HeartBeat, error) {
	connect, err := stomp.Marshal(frame.New(frame.CONNECT,
		frame.AcceptVersion, stomp.Version,
		frame.Host, t.cfg.Host,
		frame.HeartBeat, t.cfg.HeartBeat.String(),
		stomp.HeaderAuthorization, "Bearer "+token,
	))
	if err != nil {
		return stomp.HeartBeat{}, &realtime.TransportError{Op: "handshake", Err: err}
	}

	deadline, _ := ctx.Deadline()
	if err := ws.SetWriteDeadline(deadline); err != nil {
		return stomp.HeartBeat{}, &realtime.TransportError{Op: "handshake", Err: err}
	}
	if err := ws.WriteMessage(gorilla.TextMessage, connect); err != nil {
		return stomp.HeartBeat{}, &realtime.TransportError{Op: "handshake", Err: err}
	}
	if err := ws.SetReadDeadline(deadline); err != nil {
		return stomp.HeartBeat{}, &realtime.TransportError{Op: "handshake", Err: err}
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return stomp.HeartBeat{}, &realtime.TransportError{Op: "handshake", Err: err}
		}
		f, err := stomp.Unmarshal(data)
		if errors.Is(err, stomp.ErrHeartBeat) {
			continue
		}
		if err != nil {
			return stomp.HeartBeat{}, &realtime.TransportError{Op: "handshake", Err: err}
		}

		switch f.Command {
		case frame.CONNECTED:
			server, err := stomp.ParseHeartBeat(f.Header.Get(frame.HeartBeat))
			if err != nil {
				return stomp.HeartBeat{}, &realtime.TransportError{Op: "handshake", Err: err}
			}
			_ = ws.SetReadDeadline(time.Time{})
			_ = ws.SetWriteDeadline(time.Time{})
			return stomp.Negotiate(t.cfg.HeartBeat, server), nil
		case frame.ERROR:
			return stomp.HeartBeat{}, fmt.Errorf("%w: %s", constants.ErrUnauthorized, errorMessage(f))
		default:
			return stomp.HeartBeat{}, &realtime.TransportError{
				Op:  "handshake",
				Err: fmt.Errorf("unexpected %s frame", f.Command),
			}
		}
	}
}

func errorMessage(f *frame.Frame) string {
	if m := f.Header.Get(frame.Message); m != "" {
		return m
	}
	if len(f.Body) > 0 {
		return string(f.Body)
	}
	return "server refused the connection"
}

// Conn is one STOMP session.
type Conn struct {
	ws        *gorilla.Conn
	heartBeat stomp.HeartBeat
	// writeMu serializes frame writes, heart-beats and the close sequence.
	writeMu      sync.Mutex
	writeTimeout time.Duration

	incoming chan realtime.Message

	// closeCh is closed once the connection is over, either because the read
	// loop failed or because Close was called. closeErr is set before.
	closeCh   chan struct{}
	closeErr  error
	closeOnce sync.Once
	shutOnce  sync.Once

	logger logger.Logger
}

var _ realtime.Conn = (*Conn)(nil)

func (c *Conn) Subscribe(ctx context.Context, id, destination string) error {
	return c.write(ctx, frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	))
}

func (c *Conn) Receive(ctx context.Context) (realtime.Message, error) {
	select {
	case m := <-c.incoming:
		return m, nil
	case <-c.closeCh:
		return realtime.Message{}, c.closeErr
	case <-ctx.Done():
		return realtime.Message{}, ctx.Err()
	}
}

// Close sends DISCONNECT and a close frame, then closes the socket. The
// writes stop at the deadline of ctx; the socket is closed regardless.
func (c *Conn) Close(ctx context.Context) error {
	var err error
	c.shutOnce.Do(func() {
		c.closeWithError(&realtime.TransportError{Op: "read", Err: net.ErrClosed})
		err = c.shutdown(ctx)
	})
	return err
}

func (c *Conn) shutdown(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}
	disconnect, err := stomp.Marshal(frame.New(frame.DISCONNECT))
	if err == nil {
		err = c.ws.SetWriteDeadline(deadline)
	}
	if err == nil {
		if err := c.ws.WriteMessage(gorilla.TextMessage, disconnect); err != nil {
			c.logger.Debug("stompws: failed to write DISCONNECT", "error", err)
		} else {
			msg := gorilla.FormatCloseMessage(constants.CloseMessageCode, "")
			if err := c.ws.WriteMessage(gorilla.CloseMessage, msg); err != nil {
				c.logger.Debug("stompws: failed to write close message", "error", err)
			}
		}
	}

	return c.ws.Close()
}

func (c *Conn) write(ctx context.Context, f *frame.Frame) error {
	select {
	case <-c.closeCh:
		return c.closeErr
	default:
	}

	data, err := stomp.Marshal(f)
	if err != nil {
		return &realtime.TransportError{Op: "write", Err: err}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return &realtime.TransportError{Op: "write", Err: err}
	}
	if err := c.ws.WriteMessage(gorilla.TextMessage, data); err != nil {
		err = &realtime.TransportError{Op: "write", Err: err}
		c.closeWithError(err)
		return err
	}
	return nil
}

func (c *Conn) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closeCh)
	})
}

func (c *Conn) readLoop() {
	for {
		if c.heartBeat.Receive > 0 {
			// one missed beat is tolerated
			if err := c.ws.SetReadDeadline(time.Now().Add(2 * c.heartBeat.Receive)); err != nil {
				c.closeWithError(&realtime.TransportError{Op: "read", Err: err})
				return
			}
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.closeWithError(&realtime.TransportError{Op: "read", Err: err})
			return
		}

		f, err := stomp.Unmarshal(data)
		if errors.Is(err, stomp.ErrHeartBeat) {
			continue
		}
		if err != nil {
			c.logger.Error("stompws: dropping malformed frame", "error", err)
			continue
		}

		switch f.Command {
		case frame.MESSAGE:
			m := realtime.Message{
				Destination: f.Header.Get(frame.Destination),
				ID:          f.Header.Get(frame.MessageId),
				ContentType: f.Header.Get(frame.ContentType),
				Body:        f.Body,
			}
			select {
			case c.incoming <- m:
			case <-c.closeCh:
				return
			}
		case frame.ERROR:
			c.closeWithError(&realtime.TransportError{Op: "read", Err: errors.New(errorMessage(f))})
			return
		case frame.RECEIPT:
		default:
			c.logger.Debug("stompws: ignoring frame", "command", f.Command)
		}
	}
}

func (c *Conn) heartBeatLoop() {
	t := time.NewTicker(c.heartBeat.Send)
	defer t.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-t.C:
		}

		c.writeMu.Lock()
		err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err == nil {
			err = c.ws.WriteMessage(gorilla.TextMessage, []byte{'\n'})
		}
		c.writeMu.Unlock()

		if err != nil {
			c.closeWithError(&realtime.TransportError{Op: "heart-beat", Err: err})
			return
		}
	}
}
