// Package fakeserver provides an in-process fake of the social backend for
// integration tests: the REST API under /api and a STOMP endpoint at /ws,
// both served from one listener.
//
// The REST routes are registered on a gorilla/mux router and the WebSocket
// side is implemented with the `gws` library.
//
// Failures can be injected on both sides: the next N writes can be answered
// with an error status, writes can be held until released, realtime
// connections can be dropped and credentials can be refused.
package fakeserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/lxzan/gws"

	"github.com/JordyChamba/feedsync/pkg/credentials"
	"github.com/JordyChamba/feedsync/pkg/realtime/stomp"
	"github.com/JordyChamba/feedsync/pkg/wire"
)

// DefaultTokenTTL is how long issued access tokens stay valid.
const DefaultTokenTTL = time.Hour

type user struct {
	wire.User
	password string
}

type post struct {
	id        int64
	authorID  int64
	content   string
	likes     map[int64]bool
	createdAt time.Time
	updatedAt time.Time
}

type comment struct {
	id        int64
	postID    int64
	parentID  int64
	authorID  int64
	content   string
	createdAt time.Time
	updatedAt time.Time
}

// Request is one REST call as the server saw it.
type Request struct {
	Method         string
	Path           string
	UserID         int64
	IdempotencyKey string
	// Replayed is set when the idempotency key had been seen before and the
	// stored answer was sent again.
	Replayed bool
}

type failure struct {
	remaining int
	status    int
	methods   map[string]bool
}

type replay struct {
	status      int
	contentType string
	body        []byte
}

// Server is the fake backend. The zero value is not usable; call NewServer.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	upgrader *gws.Upgrader
	key      []byte
	tokenTTL time.Duration
	// heartBeat is what the STOMP side answers in CONNECTED.
	heartBeat stomp.HeartBeat

	mu            sync.RWMutex
	users         map[int64]*user
	byName        map[string]int64
	posts         map[int64]*post
	comments      map[int64]*comment
	notifications map[int64][]*wire.Notification
	follows       map[int64]map[int64]bool
	refresh       map[string]int64
	nextID        int64
	lastTime      time.Time

	requests    []Request
	idempotency map[string]replay
	failures    []*failure
	blocked     chan struct{}
	rejectCreds bool

	sessions   map[*gws.Conn]*session
	subscribes map[int64]int
	subChanged chan struct{}
}

type Option func(*Server)

// WithSigningKey sets the HS256 key access tokens are signed with.
func WithSigningKey(key []byte) Option {
	return func(s *Server) {
		s.key = key
	}
}

func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = d
	}
}

// WithHeartBeat sets the heart-beat header of CONNECTED frames. The server
// sends beats every Send when the client asked for them.
func WithHeartBeat(hb stomp.HeartBeat) Option {
	return func(s *Server) {
		s.heartBeat = hb
	}
}

// NewServer creates a fake backend. Use "127.0.0.1:0" to bind to a random
// available port.
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:          addr,
		key:           []byte("fakeserver-signing-key"),
		tokenTTL:      DefaultTokenTTL,
		users:         make(map[int64]*user),
		byName:        make(map[string]int64),
		posts:         make(map[int64]*post),
		comments:      make(map[int64]*comment),
		notifications: make(map[int64][]*wire.Notification),
		follows:       make(map[int64]map[int64]bool),
		refresh:       make(map[string]int64),
		idempotency:   make(map[string]replay),
		sessions:      make(map[*gws.Conn]*session),
		subscribes:    make(map[int64]int),
		subChanged:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	s.upgrader = gws.NewUpgrader(&handler{server: s}, &gws.ServerOption{
		SubProtocols: []string{"v12.stomp", "v11.stomp"},
	})

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWebSocket)
	s.routes(r.PathPrefix("/api").Subrouter())
	s.http = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && !isUseOfClosedNetworkError(err) {
			log.Printf("fakeserver: serve error: %v", err)
		}
	}()
	return nil
}

// Stop closes the listener and every realtime connection.
func (s *Server) Stop() error {
	s.DropConnections()
	s.Release()
	if s.http == nil {
		return nil
	}
	return s.http.Close()
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// APIURL is the base URL for api.New.
func (s *Server) APIURL() string {
	return "http://" + s.Address() + "/api"
}

// WebSocketURL is the STOMP endpoint for stompws.New.
func (s *Server) WebSocketURL() string {
	return "ws://" + s.Address() + "/ws"
}

// SigningKey returns the key tokens are signed with, for tests that mint
// their own.
func (s *Server) SigningKey() []byte {
	return s.key
}

// AddUser registers an account and returns its id.
func (s *Server) AddUser(username, password string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newIDLocked()
	s.users[id] = &user{
		User: wire.User{
			ID:        id,
			Username:  username,
			Email:     username + "@example.com",
			FullName:  strings.ToUpper(username[:1]) + username[1:],
			Active:    true,
			CreatedAt: s.nowLocked(),
		},
		password: password,
	}
	s.byName[username] = id
	return id
}

// AddPost publishes a post as authorID and returns its id.
func (s *Server) AddPost(authorID int64, content string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addPostLocked(authorID, content).id
}

// AddComment comments on postID as authorID; parentID makes it a reply.
func (s *Server) AddComment(authorID, postID, parentID int64, content string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addCommentLocked(authorID, postID, parentID, content).id
}

// Follow makes follower follow followee without notifying anyone.
func (s *Server) Follow(follower, followee int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followLocked(follower, followee)
}

// LikesCount returns the server's count for postID.
func (s *Server) LikesCount(postID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.posts[postID]; ok {
		return len(p.likes)
	}
	return 0
}

func (s *Server) IsFollowing(follower, followee int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.follows[follower][followee]
}

// Notifications returns userID's notifications, newest first.
func (s *Server) Notifications(userID int64) []wire.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.Notification, 0, len(s.notifications[userID]))
	for _, n := range s.notifications[userID] {
		out = append(out, *n)
	}
	return out
}

// Token issues an access token for userID as the login route would.
func (s *Server) Token(userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return "", fmt.Errorf("fakeserver: no user %d", userID)
	}
	return credentials.Sign(credentials.NewClaims(userID, u.Username, time.Now(), s.tokenTTL), s.key)
}

// Requests returns the REST calls received so far.
func (s *Server) Requests() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Request(nil), s.requests...)
}

// CountRequests counts received calls with the given method and path. An
// empty method matches any.
func (s *Server) CountRequests(method, path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.requests {
		if (method == "" || r.Method == method) && r.Path == path {
			n++
		}
	}
	return n
}

// FailNext answers the next n requests with status. Without methods only
// writes fail; reads keep working.
func (s *Server) FailNext(n, status int, methods ...string) {
	f := &failure{remaining: n, status: status, methods: make(map[string]bool)}
	if len(methods) == 0 {
		methods = []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}
	}
	for _, m := range methods {
		f.methods[m] = true
	}
	s.mu.Lock()
	s.failures = append(s.failures, f)
	s.mu.Unlock()
}

// BlockWrites holds every write request until Release is called or the
// client gives up.
func (s *Server) BlockWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked == nil {
		s.blocked = make(chan struct{})
	}
}

func (s *Server) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked != nil {
		close(s.blocked)
		s.blocked = nil
	}
}

// RejectCredentials makes every authenticated REST route answer 401 and
// every STOMP CONNECT answer ERROR.
func (s *Server) RejectCredentials(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectCreds = reject
}

func (s *Server) rejecting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rejectCreds
}

func (s *Server) newIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// nowLocked is strictly increasing so orderings by time are total.
func (s *Server) nowLocked() time.Time {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !now.After(s.lastTime) {
		now = s.lastTime.Add(time.Millisecond)
	}
	s.lastTime = now
	return now
}

func isUseOfClosedNetworkError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}
