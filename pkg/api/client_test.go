package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordyChamba/feedsync/internal/codec"
	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/wire"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	key    string
	body   []byte
}

type testServer struct {
	*httptest.Server
	mu   sync.Mutex
	reqs []recorded
}

func (s *testServer) last() recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok[T any](w http.ResponseWriter, data T) {
	writeJSON(w, http.StatusOK, wire.Envelope[T]{Success: true, Data: data})
}

var author = wire.User{ID: 2, Username: "bo"}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{}
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			var body []byte
			if req.Body != nil {
				body, _ = readAll(req)
				req.Body = io.NopCloser(bytes.NewReader(body))
			}
			s.mu.Lock()
			s.reqs = append(s.reqs, recorded{
				method: req.Method,
				path:   req.URL.Path,
				query:  req.URL.RawQuery,
				auth:   req.Header.Get(HeaderAuthorization),
				key:    req.Header.Get(HeaderIdempotencyKey),
				body:   body,
			})
			s.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/posts/feed", func(w http.ResponseWriter, _ *http.Request) {
		ok(w, wire.Page[wire.Post]{
			Content: []wire.Post{
				{ID: 11, Content: "a", Author: author, LikesCount: 1},
				{ID: 10, Content: "b", Author: wire.User{ID: 3, Username: "cy", FollowersCount: wire.Ptr[int64](1), FollowingCount: wire.Ptr[int64](0)}},
			},
			Last: true,
		})
	}).Methods(http.MethodGet)
	api.HandleFunc("/posts/trending", func(w http.ResponseWriter, _ *http.Request) {
		ok(w, []wire.Post{{ID: 5, Author: author}})
	}).Methods(http.MethodGet)
	api.HandleFunc("/posts/{id:[0-9]+}/like", func(w http.ResponseWriter, _ *http.Request) {
		ok(w, wire.Post{ID: 7, Author: author, LikesCount: 6, IsLiked: true})
	}).Methods(http.MethodPost)
	api.HandleFunc("/posts/{id:[0-9]+}/comments", func(w http.ResponseWriter, r *http.Request) {
		var req wire.CreateCommentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		ok(w, wire.Comment{ID: 90, PostID: 7, Content: req.Content, ParentCommentID: req.ParentCommentID, Author: author})
	}).Methods(http.MethodPost)
	api.HandleFunc("/users/{id:[0-9]+}/follow", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, wire.Envelope[any]{Message: "User not found"})
	}).Methods(http.MethodPost)
	api.HandleFunc("/users/me", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, wire.Envelope[any]{Message: "token expired"})
	}).Methods(http.MethodGet)
	api.HandleFunc("/notifications/unread-count", func(w http.ResponseWriter, _ *http.Request) {
		ok(w, int64(4))
	}).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{id:[0-9]+}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)
	api.HandleFunc("/notifications/read-all", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, wire.Envelope[any]{Success: false, Message: "refused"})
	}).Methods(http.MethodPut)
	api.HandleFunc("/comments/{id:[0-9]+}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}).Methods(http.MethodDelete)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func newTestClient(t *testing.T, s *testServer, opts ...Option) *Client {
	t.Helper()
	c, err := New(s.URL+"/api/", append([]Option{WithTokenSource(StaticToken("tkn"))}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New("")
	require.ErrorIs(t, err, constants.ErrNoBaseURL)

	_, err = New("ws://localhost/api")
	require.Error(t, err)
}

func TestLikeSendsCredentialAndIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	c := newTestClient(t, s)

	post, err := c.LikePost(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(6), post.LikesCount)
	assert.True(t, post.IsLiked)
	assert.Equal(t, int64(2), post.AuthorID)

	req := s.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/posts/7/like", req.path)
	assert.Equal(t, "Bearer tkn", req.auth)
	assert.Len(t, req.key, 36)

	// a second write gets a fresh key
	_, err = c.LikePost(context.Background(), 7)
	require.NoError(t, err)
	assert.NotEqual(t, req.key, s.last().key)
}

func TestReadsCarryNoIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	c := newTestClient(t, s)

	n, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Empty(t, s.last().key)
}

func TestCreateReplySendsParent(t *testing.T) {
	s := newTestServer(t)
	c := newTestClient(t, s)

	cm, err := c.CreateComment(context.Background(), 7, 40, "hi")
	require.NoError(t, err)
	assert.Equal(t, int64(40), cm.ParentCommentID)
	assert.Equal(t, "hi", cm.Text)
	assert.JSONEq(t, `{"content":"hi","parentCommentId":40}`, string(s.last().body))

	_, err = c.CreateComment(context.Background(), 7, 0, "top")
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"top"}`, string(s.last().body))
}

func TestRemoteErrors(t *testing.T) {
	s := newTestServer(t)
	c := newTestClient(t, s)
	ctx := context.Background()

	_, err := c.FollowUser(ctx, 9)
	require.ErrorIs(t, err, constants.ErrRemote)
	require.ErrorIs(t, err, constants.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Contains(t, err.Error(), "User not found")

	_, err = c.Me(ctx)
	require.ErrorIs(t, err, constants.ErrUnauthorized)

	err = c.DeleteComment(ctx, 3)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusInternalServerError, re.StatusCode)
	assert.Equal(t, "boom", re.Message)

	err = c.MarkAllNotificationsRead(ctx)
	require.ErrorIs(t, err, constants.ErrRemote)
	assert.Contains(t, err.Error(), "refused")

	// an empty 204 is a success
	require.NoError(t, c.DeleteNotification(ctx, 1))
}

func TestUnreachableServerIsRemoteError(t *testing.T) {
	s := newTestServer(t)
	c := newTestClient(t, s, WithTimeout(time.Second))
	s.Close()

	_, err := c.LikePost(context.Background(), 1)
	require.ErrorIs(t, err, constants.ErrRemote)
	assert.Zero(t, StatusCode(err))
}

func TestTokenSourceError(t *testing.T) {
	s := newTestServer(t)
	c, err := New(s.URL+"/api", WithTokenSource(func(context.Context) (string, error) {
		return "", constants.ErrUnauthorized
	}))
	require.NoError(t, err)

	_, err = c.UnreadCount(context.Background())
	require.ErrorIs(t, err, constants.ErrUnauthorized)
	s.mu.Lock()
	assert.Empty(t, s.reqs)
	s.mu.Unlock()
}

func TestCBORRequestBodies(t *testing.T) {
	var got wire.CreatePostRequest
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		b, _ := readAll(r)
		_ = codec.NewCBOR().Unmarshal(b, &got)

		out, _ := codec.NewCBOR().Marshal(wire.Envelope[wire.Post]{Success: true, Data: wire.Post{ID: 1, Content: got.Content}})
		w.Header().Set("Content-Type", codec.ContentTypeCBOR)
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithCodec(codec.NewCBOR()))
	require.NoError(t, err)

	p, err := c.CreatePost(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, codec.ContentTypeCBOR, contentType)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "hello", p.Text)
}

func TestLoaderFeedPage(t *testing.T) {
	s := newTestServer(t)
	l := NewLoader(newTestClient(t, s), 2)

	loaded, err := l.Load(context.Background(), models.FeedKey(), 1)
	require.NoError(t, err)
	assert.Equal(t, "page=1&size=2", s.last().query)
	assert.True(t, loaded.Exhausted)

	require.Len(t, loaded.Records, 2)
	assert.Equal(t, models.PostID(11), loaded.Records[0].ID)
	assert.Equal(t, models.PostID(10), loaded.Records[1].ID)

	// the author without counters must not clobber a stored profile
	require.Len(t, loaded.Stubs, 1)
	assert.Equal(t, models.ProfileID(2), loaded.Stubs[0].ID)
	require.Len(t, loaded.Related, 1)
	assert.Equal(t, models.ProfileID(3), loaded.Related[0].ID)
}

func TestLoaderUnpaginatedLists(t *testing.T) {
	s := newTestServer(t)
	l := NewLoader(newTestClient(t, s), 0)
	ctx := context.Background()

	loaded, err := l.Load(ctx, models.TrendingKey(), 0)
	require.NoError(t, err)
	assert.True(t, loaded.Exhausted)
	assert.Len(t, loaded.Records, 1)
	assert.Equal(t, "limit=10", s.last().query)

	s.mu.Lock()
	n := len(s.reqs)
	s.mu.Unlock()

	loaded, err = l.Load(ctx, models.TrendingKey(), 1)
	require.NoError(t, err)
	assert.True(t, loaded.Exhausted)
	assert.Empty(t, loaded.Records)

	s.mu.Lock()
	assert.Equal(t, n, len(s.reqs), "later pages of a whole list never hit the server")
	s.mu.Unlock()

	_, err = l.Load(ctx, models.QueryKey{Kind: models.QueryUnknown}, 0)
	require.Error(t, err)
}
