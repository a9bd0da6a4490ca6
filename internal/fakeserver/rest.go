package fakeserver

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/JordyChamba/feedsync/internal/codec"
	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/credentials"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/wire"
)

type ctxKey struct{}

func viewer(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKey{}).(int64)
	return id
}

func (s *Server) routes(r *mux.Router) {
	r.Use(s.record)

	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)

	a := r.NewRoute().Subrouter()
	a.Use(s.authenticate, s.inject, s.idempotent)

	a.HandleFunc("/users/me", s.handleMe).Methods(http.MethodGet)
	a.HandleFunc("/users/{id:[0-9]+}", s.handleUser).Methods(http.MethodGet)
	a.HandleFunc("/users/{id:[0-9]+}/follow", s.handleFollow).Methods(http.MethodPost)
	a.HandleFunc("/users/{id:[0-9]+}/unfollow", s.handleUnfollow).Methods(http.MethodDelete)
	a.HandleFunc("/users/{id:[0-9]+}/followers", s.handleFollowers).Methods(http.MethodGet)
	a.HandleFunc("/users/{id:[0-9]+}/following", s.handleFollowing).Methods(http.MethodGet)

	a.HandleFunc("/posts", s.handleExplore).Methods(http.MethodGet)
	a.HandleFunc("/posts", s.handleCreatePost).Methods(http.MethodPost)
	a.HandleFunc("/posts/feed", s.handleFeed).Methods(http.MethodGet)
	a.HandleFunc("/posts/trending", s.handleTrending).Methods(http.MethodGet)
	a.HandleFunc("/posts/search", s.handleSearch).Methods(http.MethodGet)
	a.HandleFunc("/posts/user/{id:[0-9]+}", s.handleUserPosts).Methods(http.MethodGet)
	a.HandleFunc("/posts/{id:[0-9]+}", s.handlePost).Methods(http.MethodGet)
	a.HandleFunc("/posts/{id:[0-9]+}/like", s.handleLike).Methods(http.MethodPost)
	a.HandleFunc("/posts/{id:[0-9]+}/unlike", s.handleUnlike).Methods(http.MethodDelete)
	a.HandleFunc("/posts/{id:[0-9]+}/comments", s.handleComments).Methods(http.MethodGet)
	a.HandleFunc("/posts/{id:[0-9]+}/comments", s.handleCreateComment).Methods(http.MethodPost)

	a.HandleFunc("/comments/{id:[0-9]+}/replies", s.handleReplies).Methods(http.MethodGet)
	a.HandleFunc("/comments/{id:[0-9]+}", s.handleUpdateComment).Methods(http.MethodPut)
	a.HandleFunc("/comments/{id:[0-9]+}", s.handleDeleteComment).Methods(http.MethodDelete)

	a.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)
	a.HandleFunc("/notifications", s.handleClearNotifications).Methods(http.MethodDelete)
	a.HandleFunc("/notifications/unread-count", s.handleUnreadCount).Methods(http.MethodGet)
	a.HandleFunc("/notifications/read-all", s.handleReadAll).Methods(http.MethodPut)
	a.HandleFunc("/notifications/{id:[0-9]+}/read", s.handleRead).Methods(http.MethodPut)
	a.HandleFunc("/notifications/{id:[0-9]+}", s.handleDeleteNotification).Methods(http.MethodDelete)
}

func isWrite(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			Method:         r.Method,
			Path:           r.URL.Path,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		}
		if c, err := credentials.Verify(bearer(r), s.key); err == nil {
			req.UserID = c.UserID
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rejecting() {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		c, err := credentials.Verify(bearer(r), s.key)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Full authentication is required to access this resource")
			return
		}
		s.mu.RLock()
		_, ok := s.users[c.UserID]
		s.mu.RUnlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "User no longer exists")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, c.UserID)))
	})
}

// inject applies FailNext and BlockWrites.
func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status := 0
		for i, f := range s.failures {
			if f.methods[r.Method] {
				status = f.status
				f.remaining--
				if f.remaining <= 0 {
					s.failures = slices.Delete(s.failures, i, i+1)
				}
				break
			}
		}
		blocked := s.blocked
		s.mu.Unlock()

		if status != 0 {
			writeError(w, status, "injected failure")
			return
		}
		if blocked != nil && isWrite(r.Method) {
			select {
			case <-blocked:
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type recorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (rw *recorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *recorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	rw.buf.Write(b)
	return rw.ResponseWriter.Write(b)
}

// idempotent answers a write whose Idempotency-Key was already seen with the
// stored response instead of applying it again.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" || !isWrite(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		s.mu.Lock()
		prev, seen := s.idempotency[key]
		if seen && len(s.requests) > 0 {
			s.requests[len(s.requests)-1].Replayed = true
		}
		s.mu.Unlock()
		if seen {
			w.Header().Set("Content-Type", prev.contentType)
			w.WriteHeader(prev.status)
			_, _ = w.Write(prev.body)
			return
		}

		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status < http.StatusInternalServerError {
			s.mu.Lock()
			s.idempotency[key] = replay{
				status:      rec.status,
				contentType: w.Header().Get("Content-Type"),
				body:        rec.buf.Bytes(),
			}
			s.mu.Unlock()
		}
	})
}

func writeEnvelope[T any](w http.ResponseWriter, status int, env wire.Envelope[T]) {
	w.Header().Set("Content-Type", codec.ContentTypeJSON)
	w.WriteHeader(status)
	_ = codec.JSON{}.NewEncoder(w).Encode(env)
}

func writeData[T any](w http.ResponseWriter, status int, data T) {
	writeEnvelope(w, status, wire.Envelope[T]{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, wire.Envelope[any]{Success: false, Message: msg})
}

func decodeBody(r *http.Request, dst any) error {
	cd, ok := codec.ForContentType(r.Header.Get("Content-Type"))
	if !ok {
		return fmt.Errorf("unsupported content type %q", r.Header.Get("Content-Type"))
	}
	return cd.NewDecoder(r.Body).Decode(dst)
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 0 {
		page = 0
	}
	size, err := strconv.Atoi(q.Get("size"))
	if err != nil || size <= 0 {
		size = constants.DefaultPageSize
	}
	return page, size
}

func paginate[T any](items []T, page, size int) wire.Page[T] {
	total := len(items)
	pages := (total + size - 1) / size
	from := min(page*size, total)
	to := min(from+size, total)
	return wire.Page[T]{
		Content:       append([]T{}, items[from:to]...),
		Number:        page,
		Size:          size,
		TotalPages:    pages,
		TotalElements: total,
		First:         page == 0,
		Last:          page >= pages-1,
	}
}

func validContent(content string, limit int) (string, bool) {
	content = strings.TrimSpace(content)
	n := utf8.RuneCountInString(content)
	return content, n > 0 && n <= limit
}

// auth

func (s *Server) issueLocked(u *user) (wire.AuthResponse, error) {
	token, err := credentials.Sign(credentials.NewClaims(u.ID, u.Username, s.nowLocked(), s.tokenTTL), s.key)
	if err != nil {
		return wire.AuthResponse{}, err
	}
	refresh := uuid.NewString()
	s.refresh[refresh] = u.ID
	return wire.AuthResponse{
		AccessToken:  token,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		User:         s.userLocked(u.ID, u.ID),
	}, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req wire.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var u *user
	for _, cand := range s.users {
		if cand.Username == req.UsernameOrEmail || cand.Email == req.UsernameOrEmail {
			u = cand
			break
		}
	}
	if u == nil || u.password != req.Password || s.rejectCreds {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	res, err := s.issueLocked(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req wire.RefreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.refresh[req.RefreshToken]
	if !ok || s.rejectCreds {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	delete(s.refresh, req.RefreshToken)
	res, err := s.issueLocked(s.users[id])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, res)
}

// users

func (s *Server) authorLocked(id int64) wire.User {
	u, ok := s.users[id]
	if !ok {
		return wire.User{ID: id}
	}
	return u.User
}

// userLocked is the profile view of id as seen by viewerID, counters included.
func (s *Server) userLocked(id, viewerID int64) wire.User {
	out := s.authorLocked(id)
	var followers, posts int64
	for f, set := range s.follows {
		if set[id] && f != id {
			followers++
		}
	}
	for _, p := range s.posts {
		if p.authorID == id {
			posts++
		}
	}
	out.FollowersCount = wire.Ptr(followers)
	out.FollowingCount = wire.Ptr(int64(len(s.follows[id])))
	out.PostsCount = wire.Ptr(posts)
	out.IsFollowing = wire.Ptr(s.follows[viewerID][id])
	out.IsFollowedBy = wire.Ptr(s.follows[id][viewerID])
	return out
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	writeData(w, http.StatusOK, s.userLocked(viewer(r), viewer(r)))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := pathID(r)
	if _, ok := s.users[id]; !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeData(w, http.StatusOK, s.userLocked(id, viewer(r)))
}

func (s *Server) followLocked(follower, followee int64) {
	set, ok := s.follows[follower]
	if !ok {
		set = make(map[int64]bool)
		s.follows[follower] = set
	}
	set[followee] = true
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	me, id := viewer(r), pathID(r)

	s.mu.Lock()
	if _, ok := s.users[id]; !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if id == me {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "You cannot follow yourself")
		return
	}
	if s.follows[me][id] {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "You are already following this user")
		return
	}
	s.followLocked(me, id)
	n := s.notifyLocked(id, me, models.NotificationFollow, "started following you", 0, 0)
	out := s.userLocked(id, me)
	s.mu.Unlock()

	s.publish(id, n)
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	me, id := viewer(r), pathID(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if !s.follows[me][id] {
		writeError(w, http.StatusBadRequest, "You are not following this user")
		return
	}
	delete(s.follows[me], id)
	writeData(w, http.StatusOK, s.userLocked(id, me))
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	me, id := viewer(r), pathID(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for f, set := range s.follows {
		if set[id] {
			ids = append(ids, f)
		}
	}
	slices.Sort(ids)
	out := make([]wire.User, 0, len(ids))
	for _, f := range ids {
		out = append(out, s.userLocked(f, me))
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	me, id := viewer(r), pathID(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.follows[id]))
	for f := range s.follows[id] {
		ids = append(ids, f)
	}
	slices.Sort(ids)
	out := make([]wire.User, 0, len(ids))
	for _, f := range ids {
		out = append(out, s.userLocked(f, me))
	}
	writeData(w, http.StatusOK, out)
}

// posts

func (s *Server) addPostLocked(authorID int64, content string) *post {
	now := s.nowLocked()
	p := &post{
		id:        s.newIDLocked(),
		authorID:  authorID,
		content:   content,
		likes:     make(map[int64]bool),
		createdAt: now,
		updatedAt: now,
	}
	s.posts[p.id] = p
	return p
}

func (s *Server) postLocked(p *post, viewerID int64) wire.Post {
	var comments int64
	for _, c := range s.comments {
		if c.postID == p.id {
			comments++
		}
	}
	return wire.Post{
		ID:            p.id,
		Content:       p.content,
		Author:        s.authorLocked(p.authorID),
		LikesCount:    int64(len(p.likes)),
		CommentsCount: comments,
		IsLiked:       p.likes[viewerID],
		CreatedAt:     p.createdAt,
		UpdatedAt:     p.updatedAt,
	}
}

// postsLocked returns the posts keep accepts, newest first.
func (s *Server) postsLocked(viewerID int64, keep func(*post) bool) []wire.Post {
	var ps []*post
	for _, p := range s.posts {
		if keep(p) {
			ps = append(ps, p)
		}
	}
	slices.SortFunc(ps, func(a, b *post) int {
		return cmp.Or(b.createdAt.Compare(a.createdAt), cmp.Compare(b.id, a.id))
	})
	out := make([]wire.Post, 0, len(ps))
	for _, p := range ps {
		out = append(out, s.postLocked(p, viewerID))
	}
	return out
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.postsLocked(viewer(r), func(*post) bool { return true })
	writeData(w, http.StatusOK, paginate(all, page, size))
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	me := viewer(r)
	page, size := pageParams(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	feed := s.postsLocked(me, func(p *post) bool {
		return p.authorID == me || s.follows[me][p.authorID]
	})
	writeData(w, http.StatusOK, paginate(feed, page, size))
}

func (s *Server) handleUserPosts(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	page, size := pageParams(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps := s.postsLocked(viewer(r), func(p *post) bool { return p.authorID == id })
	writeData(w, http.StatusOK, paginate(ps, page, size))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.ToLower(r.URL.Query().Get("query"))
	page, size := pageParams(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps := s.postsLocked(viewer(r), func(p *post) bool {
		return term != "" && strings.Contains(strings.ToLower(p.content), term)
	})
	writeData(w, http.StatusOK, paginate(ps, page, size))
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = constants.DefaultPageSize
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps := s.postsLocked(viewer(r), func(*post) bool { return true })
	slices.SortStableFunc(ps, func(a, b wire.Post) int {
		return cmp.Compare(b.LikesCount, a.LikesCount)
	})
	writeData(w, http.StatusOK, ps[:min(limit, len(ps))])
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[pathID(r)]
	if !ok {
		writeError(w, http.StatusNotFound, "Post not found")
		return
	}
	writeData(w, http.StatusOK, s.postLocked(p, viewer(r)))
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req wire.CreatePostRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	content, ok := validContent(req.Content, constants.MaxPostLength)
	if !ok {
		writeError(w, http.StatusBadRequest, "Content must be between 1 and 500 characters")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.addPostLocked(viewer(r), content)
	writeData(w, http.StatusCreated, s.postLocked(p, viewer(r)))
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	me := viewer(r)

	s.mu.Lock()
	p, ok := s.posts[pathID(r)]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Post not found")
		return
	}
	if p.likes[me] {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "You already liked this post")
		return
	}
	p.likes[me] = true
	n := s.notifyLocked(p.authorID, me, models.NotificationLike, "liked your post", p.id, 0)
	out := s.postLocked(p, me)
	s.mu.Unlock()

	s.publish(p.authorID, n)
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleUnlike(w http.ResponseWriter, r *http.Request) {
	me := viewer(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[pathID(r)]
	if !ok {
		writeError(w, http.StatusNotFound, "Post not found")
		return
	}
	if !p.likes[me] {
		writeError(w, http.StatusBadRequest, "You have not liked this post")
		return
	}
	delete(p.likes, me)
	writeData(w, http.StatusOK, s.postLocked(p, me))
}

// comments

func (s *Server) addCommentLocked(authorID, postID, parentID int64, content string) *comment {
	now := s.nowLocked()
	c := &comment{
		id:        s.newIDLocked(),
		postID:    postID,
		parentID:  parentID,
		authorID:  authorID,
		content:   content,
		createdAt: now,
		updatedAt: now,
	}
	s.comments[c.id] = c
	return c
}

func (s *Server) commentLocked(c *comment) wire.Comment {
	var replies int64
	for _, o := range s.comments {
		if o.parentID == c.id {
			replies++
		}
	}
	out := wire.Comment{
		ID:           c.id,
		Content:      c.content,
		Author:       s.authorLocked(c.authorID),
		PostID:       c.postID,
		RepliesCount: replies,
		CreatedAt:    c.createdAt,
		UpdatedAt:    c.updatedAt,
	}
	if c.parentID != 0 {
		out.ParentCommentID = wire.Ptr(c.parentID)
	}
	return out
}

// commentsLocked returns the comments keep accepts, newest first.
func (s *Server) commentsLocked(keep func(*comment) bool) []wire.Comment {
	var cs []*comment
	for _, c := range s.comments {
		if keep(c) {
			cs = append(cs, c)
		}
	}
	slices.SortFunc(cs, func(a, b *comment) int {
		return cmp.Or(b.createdAt.Compare(a.createdAt), cmp.Compare(b.id, a.id))
	})
	out := make([]wire.Comment, 0, len(cs))
	for _, c := range cs {
		out = append(out, s.commentLocked(c))
	}
	return out
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	page, size := pageParams(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.posts[id]; !ok {
		writeError(w, http.StatusNotFound, "Post not found")
		return
	}
	cs := s.commentsLocked(func(c *comment) bool { return c.postID == id && c.parentID == 0 })
	writeData(w, http.StatusOK, paginate(cs, page, size))
}

func (s *Server) handleReplies(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.comments[id]; !ok {
		writeError(w, http.StatusNotFound, "Comment not found")
		return
	}
	writeData(w, http.StatusOK, s.commentsLocked(func(c *comment) bool { return c.parentID == id }))
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	me := viewer(r)
	var req wire.CreateCommentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	content, ok := validContent(req.Content, constants.MaxCommentLength)
	if !ok {
		writeError(w, http.StatusBadRequest, "Content must be between 1 and 2000 characters")
		return
	}

	s.mu.Lock()
	p, ok := s.posts[pathID(r)]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Post not found")
		return
	}

	var parentID int64
	recipient := p.authorID
	kind, msg := models.NotificationComment, "commented on your post"
	if req.ParentCommentID != nil {
		parent, ok := s.comments[*req.ParentCommentID]
		if !ok || parent.postID != p.id {
			s.mu.Unlock()
			writeError(w, http.StatusNotFound, "Parent comment not found")
			return
		}
		parentID = parent.id
		recipient = parent.authorID
		kind, msg = models.NotificationReply, "replied to your comment"
	}

	c := s.addCommentLocked(me, p.id, parentID, content)
	n := s.notifyLocked(recipient, me, kind, msg, p.id, c.id)
	out := s.commentLocked(c)
	s.mu.Unlock()

	s.publish(recipient, n)
	writeData(w, http.StatusCreated, out)
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	var req wire.UpdateCommentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	content, ok := validContent(req.Content, constants.MaxCommentLength)
	if !ok {
		writeError(w, http.StatusBadRequest, "Content must be between 1 and 2000 characters")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[pathID(r)]
	if !ok {
		writeError(w, http.StatusNotFound, "Comment not found")
		return
	}
	if c.authorID != viewer(r) {
		writeError(w, http.StatusForbidden, "You can only edit your own comments")
		return
	}
	c.content = content
	c.updatedAt = s.nowLocked()
	writeData(w, http.StatusOK, s.commentLocked(c))
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[pathID(r)]
	if !ok {
		writeError(w, http.StatusNotFound, "Comment not found")
		return
	}
	if c.authorID != viewer(r) {
		writeError(w, http.StatusForbidden, "You can only delete your own comments")
		return
	}
	for id, o := range s.comments {
		if o.parentID == c.id {
			delete(s.comments, id)
		}
	}
	delete(s.comments, c.id)
	writeEnvelope(w, http.StatusOK, wire.Envelope[any]{Success: true, Message: "Comment deleted"})
}

// notifications

// notifyLocked stores a notification for recipient and returns it for
// publishing once the lock is released. Nothing is stored when users act on
// their own content.
func (s *Server) notifyLocked(recipient, sender int64, kind models.NotificationType, msg string, postID, commentID int64) *wire.Notification {
	if recipient == sender {
		return nil
	}
	from := s.authorLocked(sender)
	n := &wire.Notification{
		ID:        s.newIDLocked(),
		Type:      string(kind),
		Message:   from.Username + " " + msg,
		Sender:    &from,
		IsRead:    false,
		CreatedAt: s.nowLocked(),
	}
	if postID != 0 {
		n.PostID = wire.Ptr(postID)
	}
	if commentID != 0 {
		n.CommentID = wire.Ptr(commentID)
	}
	s.notifications[recipient] = append([]*wire.Notification{n}, s.notifications[recipient]...)
	return n
}

// Notify stores a notification for recipient as if sender had acted, and
// pushes it over any live subscription.
func (s *Server) Notify(recipient, sender int64, kind models.NotificationType, msg string) wire.Notification {
	s.mu.Lock()
	n := s.notifyLocked(recipient, sender, kind, msg, 0, 0)
	s.mu.Unlock()
	if n == nil {
		return wire.Notification{}
	}
	s.publish(recipient, n)
	return *n
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.notifications[viewer(r)]
	out := make([]wire.Notification, 0, len(ns))
	for _, n := range ns {
		out = append(out, *n)
	}
	writeData(w, http.StatusOK, paginate(out, page, size))
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.notifications[viewer(r)] {
		if !e.IsRead {
			n++
		}
	}
	writeData(w, http.StatusOK, n)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications[viewer(r)] {
		if n.ID == id {
			n.IsRead = true
			writeData(w, http.StatusOK, *n)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Notification not found")
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications[viewer(r)] {
		n.IsRead = true
	}
	writeEnvelope(w, http.StatusOK, wire.Envelope[any]{Success: true, Message: "All notifications marked as read"})
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, me := pathID(r), viewer(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.notifications[me]
	i := slices.IndexFunc(ns, func(n *wire.Notification) bool { return n.ID == id })
	if i < 0 {
		writeError(w, http.StatusNotFound, "Notification not found")
		return
	}
	s.notifications[me] = slices.Delete(ns, i, i+1)
	writeEnvelope(w, http.StatusOK, wire.Envelope[any]{Success: true, Message: "Notification deleted"})
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notifications, viewer(r))
	writeEnvelope(w, http.StatusOK, wire.Envelope[any]{Success: true, Message: "Notifications cleared"})
}
