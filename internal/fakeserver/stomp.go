package fakeserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/lxzan/gws"

	"github.com/JordyChamba/feedsync/internal/codec"
	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/credentials"
	"github.com/JordyChamba/feedsync/pkg/realtime/stomp"
	"github.com/JordyChamba/feedsync/pkg/wire"
)

// session is the STOMP state of one WebSocket.
type session struct {
	userID    int64
	connected bool
	// subscriptions maps subscription id to destination.
	subscriptions map[string]string
	stop          chan struct{}
	stopOnce      sync.Once
}

func (s *session) close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

var messageSeq atomic.Int64

type handler struct {
	server *Server
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		log.Printf("fakeserver: upgrade failed: %v", err)
		return
	}
	go socket.ReadLoop()
}

func (h *handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.sessions[socket] = &session{
		subscriptions: make(map[string]string),
		stop:          make(chan struct{}),
	}
	h.server.mu.Unlock()
}

func (h *handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	sess := h.server.sessions[socket]
	delete(h.server.sessions, socket)
	h.server.mu.Unlock()
	if sess != nil {
		sess.close()
	}
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakeserver: error writing pong: %v", err)
	}
}

func (h *handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	f, err := stomp.Unmarshal(message.Bytes())
	if errors.Is(err, stomp.ErrHeartBeat) {
		return
	}
	if err != nil {
		h.sendError(socket, "malformed frame: "+err.Error())
		return
	}

	h.server.mu.RLock()
	sess := h.server.sessions[socket]
	h.server.mu.RUnlock()
	if sess == nil {
		return
	}

	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		h.handleConnect(socket, sess, f)
	case frame.SUBSCRIBE:
		h.handleSubscribe(socket, sess, f)
	case frame.UNSUBSCRIBE:
		h.server.mu.Lock()
		delete(sess.subscriptions, f.Header.Get(frame.Id))
		h.server.mu.Unlock()
	case frame.DISCONNECT:
		if id := f.Header.Get(frame.Receipt); id != "" {
			h.write(socket, frame.New(frame.RECEIPT, frame.ReceiptId, id))
		}
		socket.WriteClose(constants.CloseMessageCode, nil)
	default:
		if !sess.connected {
			h.sendError(socket, "not connected")
		}
	}
}

func (h *handler) handleConnect(socket *gws.Conn, sess *session, f *frame.Frame) {
	token := f.Header.Get(stomp.HeaderAuthorization)
	if len(token) > 7 && token[:7] == "Bearer " {
		token = token[7:]
	}

	claims, err := credentials.Verify(token, h.server.key)
	if err != nil || h.server.rejecting() {
		h.sendError(socket, "Unauthorized")
		return
	}

	client, err := stomp.ParseHeartBeat(f.Header.Get(frame.HeartBeat))
	if err != nil {
		h.sendError(socket, err.Error())
		return
	}

	h.server.mu.Lock()
	sess.userID = claims.UserID
	sess.connected = true
	h.server.mu.Unlock()

	h.write(socket, frame.New(frame.CONNECTED,
		frame.Version, stomp.Version,
		frame.HeartBeat, h.server.heartBeat.String(),
	))

	// the server beats every max(its send, the client's receive)
	if h.server.heartBeat.Send > 0 && client.Receive > 0 {
		go h.beat(socket, sess, max(h.server.heartBeat.Send, client.Receive))
	}
}

func (h *handler) beat(socket *gws.Conn, sess *session, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-sess.stop:
			return
		case <-t.C:
			if err := socket.WriteMessage(gws.OpcodeText, []byte{'\n'}); err != nil {
				return
			}
		}
	}
}

func (h *handler) handleSubscribe(socket *gws.Conn, sess *session, f *frame.Frame) {
	h.server.mu.Lock()
	if !sess.connected {
		h.server.mu.Unlock()
		h.sendError(socket, "not connected")
		return
	}
	sess.subscriptions[f.Header.Get(frame.Id)] = f.Header.Get(frame.Destination)
	h.server.subscribes[sess.userID]++
	close(h.server.subChanged)
	h.server.subChanged = make(chan struct{})
	h.server.mu.Unlock()

	if id := f.Header.Get(frame.Receipt); id != "" {
		h.write(socket, frame.New(frame.RECEIPT, frame.ReceiptId, id))
	}
}

func (h *handler) write(socket *gws.Conn, f *frame.Frame) {
	data, err := stomp.Marshal(f)
	if err == nil {
		err = socket.WriteMessage(gws.OpcodeText, data)
	}
	if err != nil {
		log.Printf("fakeserver: error writing %s: %v", f.Command, err)
	}
}

// sendError answers with an ERROR frame and closes the connection, as STOMP
// servers do.
func (h *handler) sendError(socket *gws.Conn, msg string) {
	f := frame.New(frame.ERROR, frame.Message, msg)
	f.Body = []byte(msg)
	h.write(socket, f)
	socket.WriteClose(constants.CloseMessageCode, []byte(msg))
}

// publish pushes n as JSON to every subscription on userID's notification
// topic.
func (s *Server) publish(userID int64, n *wire.Notification) {
	if n == nil {
		return
	}
	body, err := codec.JSON{}.Marshal(n)
	if err != nil {
		log.Printf("fakeserver: encode notification: %v", err)
		return
	}
	s.PublishRaw(userID, codec.ContentTypeJSON, body)
}

// Publish pushes n to userID without storing it.
func (s *Server) Publish(userID int64, n wire.Notification) int {
	body, err := codec.JSON{}.Marshal(n)
	if err != nil {
		return 0
	}
	return s.PublishRaw(userID, codec.ContentTypeJSON, body)
}

// PublishRaw sends body as a MESSAGE to every subscription on userID's
// notification topic and returns how many received it.
func (s *Server) PublishRaw(userID int64, contentType string, body []byte) int {
	dest := constants.NotificationTopic(userID)

	type target struct {
		socket *gws.Conn
		subID  string
	}
	var targets []target
	s.mu.RLock()
	for socket, sess := range s.sessions {
		if !sess.connected || sess.userID != userID {
			continue
		}
		for id, d := range sess.subscriptions {
			if d == dest {
				targets = append(targets, target{socket: socket, subID: id})
			}
		}
	}
	s.mu.RUnlock()

	sent := 0
	for _, t := range targets {
		f := frame.New(frame.MESSAGE,
			frame.Destination, dest,
			frame.Subscription, t.subID,
			frame.MessageId, strconv.FormatInt(messageSeq.Add(1), 10),
			frame.ContentType, contentType,
		)
		f.Body = body
		data, err := stomp.Marshal(f)
		if err != nil {
			log.Printf("fakeserver: encode MESSAGE: %v", err)
			continue
		}
		if err := t.socket.WriteMessage(gws.OpcodeText, data); err == nil {
			sent++
		}
	}
	return sent
}

// WaitSubscribed blocks until userID has subscribed at least n times since
// the server started, counting resubscriptions after reconnects.
func (s *Server) WaitSubscribed(ctx context.Context, userID int64, n int) error {
	for {
		s.mu.RLock()
		count := s.subscribes[userID]
		changed := s.subChanged
		s.mu.RUnlock()
		if count >= n {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscriptions returns how many times userID has subscribed.
func (s *Server) Subscriptions(userID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribes[userID]
}

// DropConnections closes the underlying network connection of every
// realtime session without a close frame and returns how many it closed.
func (s *Server) DropConnections() int {
	s.mu.RLock()
	sockets := make([]*gws.Conn, 0, len(s.sessions))
	for socket := range s.sessions {
		sockets = append(sockets, socket)
	}
	s.mu.RUnlock()

	for _, socket := range sockets {
		_ = socket.NetConn().Close()
	}
	return len(sockets)
}

// Connections returns the number of open realtime sessions.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
