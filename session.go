package feedsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JordyChamba/feedsync/pkg/api"
	"github.com/JordyChamba/feedsync/pkg/config"
	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/credentials"
	"github.com/JordyChamba/feedsync/pkg/logger"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/mutation"
	"github.com/JordyChamba/feedsync/pkg/notification"
	"github.com/JordyChamba/feedsync/pkg/querycache"
	"github.com/JordyChamba/feedsync/pkg/realtime"
	"github.com/JordyChamba/feedsync/pkg/realtime/stompws"
	"github.com/JordyChamba/feedsync/pkg/store"
	"github.com/JordyChamba/feedsync/pkg/wire"
)

// Session owns the stores, the coordinator, the notification feed and the
// realtime channel of one signed-in user.
type Session struct {
	cfg    config.Config
	creds  credentials.Store
	now    func() time.Time
	logger logger.Logger

	// anon has no credential; it only refreshes tokens
	anon    *api.Client
	backend api.Backend

	gate        *store.Gate
	records     *store.RecordStore
	cache       *querycache.Cache
	coordinator *mutation.Coordinator
	feed        *notification.Feed
	channel     *realtime.Channel

	viewer credentials.Pair

	// serializes token refreshes
	credMu sync.Mutex

	notifMu       sync.Mutex
	notifNextPage int
	notifLast     bool

	closeOnce sync.Once
	closeErr  error
}

type Option func(*options)

type options struct {
	logger     logger.Logger
	httpClient *http.Client
	transport  realtime.Transport
	backend    api.Backend
	now        func() time.Time
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithTransport replaces the STOMP-over-WebSocket transport built from the
// realtime configuration.
func WithTransport(t realtime.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithBackend replaces the REST client for queries and mutations. Token
// refreshes still go to the configured API URL.
func WithBackend(b api.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: logger.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) apiOptions(cfg config.Config) []api.Option {
	out := []api.Option{api.WithLogger(o.logger), api.WithTimeout(cfg.API.Timeout)}
	if o.httpClient != nil {
		out = append(out, api.WithHTTPClient(o.httpClient))
	}
	return out
}

// Login signs in and saves the returned credential pair into creds.
func Login(ctx context.Context, cfg config.Config, creds credentials.Store, usernameOrEmail, password string, opts ...Option) (credentials.Pair, error) {
	o := buildOptions(opts)
	client, err := api.New(cfg.API.BaseURL, o.apiOptions(cfg)...)
	if err != nil {
		return credentials.Pair{}, err
	}

	resp, err := client.Login(ctx, usernameOrEmail, password)
	if err != nil {
		return credentials.Pair{}, fmt.Errorf("login: %w", err)
	}
	pair := pairOf(resp)
	if err := creds.Save(ctx, pair); err != nil {
		return credentials.Pair{}, fmt.Errorf("failed to save credentials: %w", err)
	}
	o.logger.Info("signed in", "user", pair.Username, "id", pair.UserID)
	return pair, nil
}

func pairOf(resp wire.AuthResponse) credentials.Pair {
	return credentials.Pair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		UserID:       resp.User.ID,
		Username:     resp.User.Username,
	}
}

// Open builds a session for the user whose credential pair is stored in
// creds. It fails with constants.ErrUnauthorized when there is no usable
// pair. Nothing is fetched until Bootstrap.
func Open(ctx context.Context, cfg config.Config, creds credentials.Store, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	s := &Session{
		cfg:    cfg,
		creds:  creds,
		now:    o.now,
		logger: o.logger,
	}

	var err error
	if s.anon, err = api.New(cfg.API.BaseURL, o.apiOptions(cfg)...); err != nil {
		return nil, err
	}

	s.viewer, err = s.credential(ctx)
	if err != nil {
		return nil, err
	}

	s.backend = o.backend
	if s.backend == nil {
		s.backend, err = api.New(cfg.API.BaseURL, append(o.apiOptions(cfg), api.WithTokenSource(s.accessToken))...)
		if err != nil {
			return nil, err
		}
	}

	transport := o.transport
	if transport == nil {
		transport, err = stompws.New(stompws.Config{
			URL:              cfg.Realtime.URL,
			HeartBeat:        cfg.Realtime.HeartBeat(),
			HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
			WriteTimeout:     cfg.Realtime.WriteTimeout,
			Logger:           o.logger,
		})
		if err != nil {
			return nil, err
		}
	}

	s.gate = store.NewGate()
	s.records = store.New(s.gate, store.WithLogger(o.logger))
	s.cache = querycache.New(s.records,
		querycache.WithLogger(o.logger),
		querycache.WithLoader(api.NewLoader(s.backend, cfg.Feed.PageSize)),
	)
	s.coordinator = mutation.New(s.records, s.cache, s.backend,
		mutation.WithLogger(o.logger),
		mutation.WithViewer(s.viewer.UserID),
		mutation.WithTimeout(cfg.API.Timeout),
		mutation.WithClock(o.now),
	)
	s.feed = notification.New(
		notification.WithLogger(o.logger),
		notification.WithRecords(s.records),
	)
	s.channel = realtime.New(transport, s.realtimeCredential,
		realtime.WithLogger(o.logger),
		realtime.WithBackoff(cfg.Realtime.Backoff()),
		realtime.WithBufferSize(cfg.Realtime.EventBufferSize),
	)
	return s, nil
}

// credential returns a pair whose access token has not expired, refreshing
// and saving it first when needed.
func (s *Session) credential(ctx context.Context) (credentials.Pair, error) {
	s.credMu.Lock()
	defer s.credMu.Unlock()

	pair, _, err := credentials.Current(ctx, s.creds, s.now())
	if err == nil {
		return pair, nil
	}
	stored, loadErr := s.creds.Load(ctx)
	if loadErr != nil || stored.RefreshToken == "" {
		return credentials.Pair{}, err
	}

	s.logger.Info("refreshing access token", "user", stored.Username)
	resp, refreshErr := s.anon.Refresh(ctx, stored.RefreshToken)
	if refreshErr != nil {
		return credentials.Pair{}, fmt.Errorf("%w: refresh failed: %w", constants.ErrUnauthorized, refreshErr)
	}
	pair = pairOf(resp)
	if err := s.creds.Save(ctx, pair); err != nil {
		return credentials.Pair{}, fmt.Errorf("failed to save credentials: %w", err)
	}
	return pair, nil
}

func (s *Session) accessToken(ctx context.Context) (string, error) {
	p, err := s.credential(ctx)
	if err != nil {
		return "", err
	}
	return p.AccessToken, nil
}

func (s *Session) realtimeCredential(ctx context.Context) (realtime.Credential, error) {
	p, err := s.credential(ctx)
	if err != nil {
		return realtime.Credential{}, err
	}
	return realtime.Credential{Token: p.AccessToken, UserID: p.UserID}, nil
}

// Bootstrap fetches the first feed page and the first notification page,
// then connects the realtime channel. Notifications pushed later go into
// the feed.
func (s *Session) Bootstrap(ctx context.Context) error {
	if _, err := s.cache.Fetch(ctx, models.FeedKey()); err != nil {
		return fmt.Errorf("failed to load feed: %w", err)
	}
	if _, err := s.LoadNotifications(ctx); err != nil {
		return err
	}
	s.checkUnread(ctx)
	if err := s.channel.Connect(ctx, s.ingest); err != nil {
		return fmt.Errorf("failed to connect realtime channel: %w", err)
	}
	return nil
}

func (s *Session) ingest(e models.NotificationEvent) {
	if s.feed.Ingest(e) {
		s.logger.Debug("notification received", "id", e.ID, "type", e.Type)
	}
}

// LoadNotifications fetches the next notification page into the feed and
// reports how many events were new. It returns 0 once the server has no
// more pages.
func (s *Session) LoadNotifications(ctx context.Context) (int, error) {
	s.notifMu.Lock()
	defer s.notifMu.Unlock()
	if s.notifLast {
		return 0, nil
	}

	page, err := s.backend.Notifications(ctx, s.notifNextPage, s.cfg.Feed.NotificationsPage)
	if err != nil {
		return 0, fmt.Errorf("failed to load notifications: %w", err)
	}
	events := make([]models.NotificationEvent, 0, len(page.Content))
	for _, n := range page.Content {
		events = append(events, n.Event())
	}
	s.notifNextPage++
	s.notifLast = page.Last || len(page.Content) == 0
	return s.feed.BulkLoad(events), nil
}

// MarkNotificationRead marks the notification read locally, then on the
// server. A server failure marks it unread again.
func (s *Session) MarkNotificationRead(ctx context.Context, id int64) error {
	if !s.feed.MarkRead(id) {
		return nil
	}
	ctx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.backend.MarkNotificationRead(ctx, id); err != nil {
		s.feed.MarkUnread(id)
		return fmt.Errorf("failed to mark notification %d read: %w", id, err)
	}
	return nil
}

func (s *Session) MarkAllNotificationsRead(ctx context.Context) error {
	ids := s.feed.MarkAllRead()
	ctx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.backend.MarkAllNotificationsRead(ctx); err != nil {
		for _, id := range ids {
			s.feed.MarkUnread(id)
		}
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}

// DeleteNotification removes the notification locally, then on the server.
// A server failure restores it at its old position.
func (s *Session) DeleteNotification(ctx context.Context, id int64) error {
	e, ok := s.feed.Delete(id)
	if !ok {
		return fmt.Errorf("%w: notification %d", constants.ErrNotFound, id)
	}
	ctx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.backend.DeleteNotification(ctx, id); err != nil {
		s.feed.Restore(e)
		return fmt.Errorf("failed to delete notification %d: %w", id, err)
	}
	return nil
}

// DeleteAllNotifications empties the feed locally, then on the server. A
// server failure restores every event.
func (s *Session) DeleteAllNotifications(ctx context.Context) error {
	removed := s.feed.Clear()
	ctx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.backend.DeleteAllNotifications(ctx); err != nil {
		for _, e := range removed {
			s.feed.Restore(e)
		}
		return fmt.Errorf("failed to delete notifications: %w", err)
	}
	return nil
}

// checkUnread compares the feed's unread counter with the server's. Until the
// last page is loaded the feed may only hold fewer unread events.
func (s *Session) checkUnread(ctx context.Context) {
	remote, err := s.backend.UnreadCount(ctx)
	if err != nil {
		s.logger.Debug("unread count unavailable", "error", err)
		return
	}
	s.notifMu.Lock()
	complete := s.notifLast
	s.notifMu.Unlock()

	local := int64(s.feed.UnreadCount())
	if local == remote || (!complete && local < remote) {
		return
	}
	s.logger.Warn("unread count mismatch", "local", local, "server", remote, "complete", complete)
}

// detached keeps the remote confirmation running when the caller gives up,
// so local state and the server agree.
func (s *Session) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.cfg.API.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.API.Timeout)
	}
	return context.WithCancel(ctx)
}

// LoadPost fetches one post into the record store, for posts no loaded list
// holds yet. Mutations still in flight on the post stay visible. The
// returned post is the server's copy.
func (s *Session) LoadPost(ctx context.Context, postID int64) (*models.Post, error) {
	p, err := s.backend.Post(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post %d: %w", postID, err)
	}
	m := p.Model()
	s.coordinator.UpsertServer(models.NewRecord(m.ID, m.Clone()))
	return m, nil
}

func (s *Session) LoadProfile(ctx context.Context, userID int64) (*models.ProfileSummary, error) {
	u, err := s.backend.User(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	prof := u.Profile()
	s.coordinator.UpsertServer(models.NewRecord(prof.ID, prof.Clone()))
	return prof, nil
}

// Close disconnects the channel and waits for issued mutations to settle.
// Later calls return the first result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(
			s.channel.Disconnect(ctx),
			s.coordinator.Close(ctx),
		)
	})
	return s.closeErr
}

// Logout closes the session, forgets the notifications and clears the
// stored credential pair.
func (s *Session) Logout(ctx context.Context) error {
	err := s.Close(ctx)
	s.feed.Clear()
	return errors.Join(err, s.creds.Clear(ctx))
}

// Viewer is the signed-in user.
func (s *Session) Viewer() credentials.Pair {
	return s.viewer
}

func (s *Session) Backend() api.Backend { return s.backend }
func (s *Session) Records() *store.RecordStore { return s.records }
func (s *Session) Cache() *querycache.Cache { return s.cache }
func (s *Session) Coordinator() *mutation.Coordinator { return s.coordinator }
func (s *Session) Notifications() *notification.Feed { return s.feed }
func (s *Session) Channel() *realtime.Channel { return s.channel }
func (s *Session) ConnectionState() realtime.State { return s.channel.State() }
