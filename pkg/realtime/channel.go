package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/logger"
	"github.com/JordyChamba/feedsync/pkg/models"
)

const subscriptionID = "notifications"

// Handler receives decoded events in the order the transport delivered them.
// Redelivered events are passed on as they are.
type Handler func(models.NotificationEvent)

// Channel is the long-lived push connection for one signed-in user.
//
// After Connect succeeds the channel keeps itself connected: when the
// connection drops it moves to StateReconnecting, waits for the backoff and
// dials again, re-creating the subscription each time. A rejected credential
// moves it to StateDisconnected and stops the retries.
type Channel struct {
	transport   Transport
	credentials CredentialFunc
	backoff     Backoff
	decoder     *Decoder
	bufferSize  int
	logger      logger.Logger

	mu      sync.Mutex
	state   State
	handler Handler
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error

	listenersMu  sync.Mutex
	listeners    map[int]StateListener
	nextListener int
}

type Option func(*Channel)

func WithLogger(l logger.Logger) Option {
	return func(c *Channel) {
		c.logger = l
	}
}

func WithBackoff(b Backoff) Option {
	return func(c *Channel) {
		c.backoff = b
	}
}

// WithBufferSize sets how many decoded events may wait for the handler
// before the reader stops taking messages off the connection.
func WithBufferSize(n int) Option {
	return func(c *Channel) {
		c.bufferSize = n
	}
}

func WithDecoder(d *Decoder) Option {
	return func(c *Channel) {
		c.decoder = d
	}
}

func New(transport Transport, credentials CredentialFunc, opts ...Option) *Channel {
	c := &Channel{
		transport:   transport,
		credentials: credentials,
		backoff:     ConstantBackoff(constants.DefaultReconnectDelay),
		bufferSize:  constants.DefaultEventBufferSize,
		logger:      logger.Default(),
		state:       StateDisconnected,
		listeners:   make(map[int]StateListener),
	}
	for _, o := range opts {
		o(c)
	}
	if c.decoder == nil {
		c.decoder = MustNewDecoder()
	}
	if c.bufferSize < 1 {
		c.bufferSize = 1
	}
	return c
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error behind the last state change that had one.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect dials, authenticates and subscribes to the user's notification
// topic, then starts delivering events to h.
//
// Only the first attempt is made synchronously and its error is returned;
// the channel is then left disconnected. Once connected, failures are
// retried in the background. ctx bounds the first attempt only.
func (c *Channel) Connect(ctx context.Context, h Handler) error {
	c.mu.Lock()
	from := c.state
	// Reconnecting -> Connecting belongs to the background loop only.
	if from != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("connect: %w from %v", constants.ErrInvalidStateTransition, from)
	}
	if err := c.transitionLocked(StateConnecting); err != nil {
		c.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.handler = h
	c.lastErr = nil
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()
	c.notify(StateChange{From: from, To: StateConnecting})

	// the first handshake ends with ctx or with Disconnect, whichever is first
	dialCtx, stop := context.WithCancel(ctx)
	defer stop()
	unregister := context.AfterFunc(runCtx, stop)
	defer unregister()

	conn, err := c.attempt(runCtx, dialCtx)
	if err != nil {
		defer close(done)
		if runCtx.Err() != nil {
			return fmt.Errorf("%w: disconnected while connecting", constants.ErrClosed)
		}
		c.fail(runCtx, err)
		return err
	}

	go c.run(runCtx, conn, done)
	return nil
}

// Disconnect stops the channel: it cancels a pending reconnect or handshake,
// closes the connection and drops the handler. It waits for the background
// goroutines until ctx is done, so it must not be called from the handler.
func (c *Channel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	from := c.state
	conn, done := c.conn, c.done
	if c.cancel != nil {
		c.cancel()
	}
	c.conn = nil
	c.handler = nil
	c.mustTransitionLocked(StateDisconnected)
	c.mu.Unlock()

	if from != StateDisconnected {
		c.notify(StateChange{From: from, To: StateDisconnected})
	}

	var err error
	if conn != nil {
		err = conn.Close(ctx)
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Subscribe registers l for state changes. The returned function removes
// the registration.
func (c *Channel) Subscribe(l StateListener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Channel) notify(ch StateChange) {
	c.listenersMu.Lock()
	ls := make([]StateListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.listenersMu.Unlock()

	for _, l := range ls {
		l(ch)
	}
}

func (c *Channel) transitionLocked(newState State) error {
	newState, err := c.state.TransitionTo(newState)
	if err != nil {
		return err
	}

	c.state = newState
	c.logger.Debug("realtime: state transitioned", "new_state", newState.String())

	return nil
}

func (c *Channel) mustTransitionLocked(newState State) {
	if err := c.transitionLocked(newState); err != nil {
		panic(fmt.Sprintf("BUG: %v", err))
	}
}

// advance moves to s unless the run was cancelled by Disconnect.
func (c *Channel) advance(runCtx context.Context, s State, cause error) bool {
	c.mu.Lock()
	if runCtx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	from := c.state
	c.mustTransitionLocked(s)
	if cause != nil {
		c.lastErr = cause
	}
	c.mu.Unlock()

	c.notify(StateChange{From: from, To: s, Err: cause})
	return true
}

// fail stops the run after an error no retry can fix.
func (c *Channel) fail(runCtx context.Context, cause error) {
	c.mu.Lock()
	if runCtx.Err() != nil {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.mustTransitionLocked(StateDisconnected)
	c.lastErr = cause
	c.handler = nil
	c.conn = nil
	c.cancel()
	c.mu.Unlock()

	c.notify(StateChange{From: from, To: StateDisconnected, Err: cause})
}

// attempt runs one handshake. runCtx is the lifetime of the channel and
// ctx the lifetime of this attempt.
func (c *Channel) attempt(runCtx, ctx context.Context) (Conn, error) {
	cred, err := c.credentials(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := c.transport.Dial(ctx, cred.Token)
	if err != nil {
		return nil, err
	}
	if !c.advance(runCtx, StateConnected, nil) {
		c.closeConn(conn)
		return nil, runCtx.Err()
	}

	topic := constants.NotificationTopic(cred.UserID)
	if err := conn.Subscribe(ctx, subscriptionID, topic); err != nil {
		c.closeConn(conn)
		return nil, err
	}

	c.mu.Lock()
	if runCtx.Err() != nil {
		c.mu.Unlock()
		c.closeConn(conn)
		return nil, runCtx.Err()
	}
	from := c.state
	c.mustTransitionLocked(StateSubscribed)
	c.conn = conn
	c.mu.Unlock()
	c.notify(StateChange{From: from, To: StateSubscribed})

	c.logger.Info("realtime: subscribed", "destination", topic)
	return conn, nil
}

func (c *Channel) run(ctx context.Context, conn Conn, done chan struct{}) {
	events := make(chan models.NotificationEvent, c.bufferSize)
	dispatched := make(chan struct{})
	go c.dispatch(ctx, events, dispatched)

	defer func() {
		<-dispatched
		close(done)
	}()

	for {
		err := c.receive(ctx, conn, events)
		c.closeConn(conn)
		if ctx.Err() != nil {
			return
		}

		c.logger.Warn("realtime: connection lost", "error", err)
		if !c.advance(ctx, StateReconnecting, err) {
			return
		}
		if conn = c.reconnect(ctx); conn == nil {
			return
		}
	}
}

func (c *Channel) receive(ctx context.Context, conn Conn, events chan<- models.NotificationEvent) error {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			return err
		}

		e, err := c.decoder.Decode(msg)
		if err != nil {
			c.logger.Error("realtime: dropping message", "id", msg.ID, "error", err)
			continue
		}

		select {
		case events <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, events <-chan models.NotificationEvent, dispatched chan<- struct{}) {
	defer close(dispatched)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			c.mu.Lock()
			h := c.handler
			c.mu.Unlock()
			if h != nil {
				h(e)
			}
		}
	}
}

func (c *Channel) reconnect(ctx context.Context) Conn {
	for attempt := 1; ; attempt++ {
		delay := c.backoff.Delay(attempt)
		c.logger.Info("realtime: reconnecting", "attempt", attempt, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		if !c.advance(ctx, StateConnecting, nil) {
			return nil
		}

		conn, err := c.attempt(ctx, ctx)
		if err == nil {
			c.logger.Info("realtime: reconnected", "attempt", attempt)
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		if IsUnauthorized(err) {
			c.logger.Warn("realtime: credential rejected, giving up", "error", err)
			c.fail(ctx, err)
			return nil
		}

		c.logger.Error("realtime: reconnect failed", "attempt", attempt, "error", err)
		if !c.advance(ctx, StateReconnecting, err) {
			return nil
		}
	}
}

func (c *Channel) closeConn(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultWriteTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		c.logger.Debug("realtime: close", "error", err)
	}
}
