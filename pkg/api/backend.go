package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/mutation"
	"github.com/JordyChamba/feedsync/pkg/wire"
)

// Backend is everything the sync engine asks of the server.
type Backend interface {
	mutation.Remote

	Login(ctx context.Context, usernameOrEmail, password string) (wire.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (wire.AuthResponse, error)
	Me(ctx context.Context) (wire.User, error)
	User(ctx context.Context, userID int64) (wire.User, error)

	Post(ctx context.Context, postID int64) (wire.Post, error)
	Feed(ctx context.Context, page, size int) (wire.Page[wire.Post], error)
	Explore(ctx context.Context, page, size int) (wire.Page[wire.Post], error)
	UserPosts(ctx context.Context, userID int64, page, size int) (wire.Page[wire.Post], error)
	SearchPosts(ctx context.Context, query string, page, size int) (wire.Page[wire.Post], error)
	Trending(ctx context.Context, limit int) ([]wire.Post, error)

	Comments(ctx context.Context, postID int64, page, size int) (wire.Page[wire.Comment], error)
	Replies(ctx context.Context, commentID int64) ([]wire.Comment, error)

	Followers(ctx context.Context, userID int64) ([]wire.User, error)
	Following(ctx context.Context, userID int64) ([]wire.User, error)

	Notifications(ctx context.Context, page, size int) (wire.Page[wire.Notification], error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkNotificationRead(ctx context.Context, notificationID int64) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, notificationID int64) error
	DeleteAllNotifications(ctx context.Context) error
}

var _ Backend = (*Client)(nil)

func (c *Client) Login(ctx context.Context, usernameOrEmail, password string) (wire.AuthResponse, error) {
	return call[wire.AuthResponse](ctx, c, http.MethodPost, "/auth/login", nil, wire.LoginRequest{
		UsernameOrEmail: usernameOrEmail,
		Password:        password,
	})
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (wire.AuthResponse, error) {
	return call[wire.AuthResponse](ctx, c, http.MethodPost, "/auth/refresh", nil, wire.RefreshRequest{
		RefreshToken: refreshToken,
	})
}

func (c *Client) Me(ctx context.Context) (wire.User, error) {
	return call[wire.User](ctx, c, http.MethodGet, "/users/me", nil, nil)
}

func (c *Client) User(ctx context.Context, userID int64) (wire.User, error) {
	return call[wire.User](ctx, c, http.MethodGet, fmt.Sprintf("/users/%d", userID), nil, nil)
}

func (c *Client) Post(ctx context.Context, postID int64) (wire.Post, error) {
	return call[wire.Post](ctx, c, http.MethodGet, fmt.Sprintf("/posts/%d", postID), nil, nil)
}

func (c *Client) Feed(ctx context.Context, page, size int) (wire.Page[wire.Post], error) {
	return call[wire.Page[wire.Post]](ctx, c, http.MethodGet, "/posts/feed", pageQuery(page, size), nil)
}

// Explore lists every post, newest first.
func (c *Client) Explore(ctx context.Context, page, size int) (wire.Page[wire.Post], error) {
	return call[wire.Page[wire.Post]](ctx, c, http.MethodGet, "/posts", pageQuery(page, size), nil)
}

func (c *Client) UserPosts(ctx context.Context, userID int64, page, size int) (wire.Page[wire.Post], error) {
	return call[wire.Page[wire.Post]](ctx, c, http.MethodGet, fmt.Sprintf("/posts/user/%d", userID), pageQuery(page, size), nil)
}

func (c *Client) SearchPosts(ctx context.Context, query string, page, size int) (wire.Page[wire.Post], error) {
	q := pageQuery(page, size)
	q.Set("query", query)
	return call[wire.Page[wire.Post]](ctx, c, http.MethodGet, "/posts/search", q, nil)
}

func (c *Client) Trending(ctx context.Context, limit int) ([]wire.Post, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	return call[[]wire.Post](ctx, c, http.MethodGet, "/posts/trending", q, nil)
}

func (c *Client) Comments(ctx context.Context, postID int64, page, size int) (wire.Page[wire.Comment], error) {
	return call[wire.Page[wire.Comment]](ctx, c, http.MethodGet, fmt.Sprintf("/posts/%d/comments", postID), pageQuery(page, size), nil)
}

func (c *Client) Replies(ctx context.Context, commentID int64) ([]wire.Comment, error) {
	return call[[]wire.Comment](ctx, c, http.MethodGet, fmt.Sprintf("/comments/%d/replies", commentID), nil, nil)
}

func (c *Client) Followers(ctx context.Context, userID int64) ([]wire.User, error) {
	return call[[]wire.User](ctx, c, http.MethodGet, fmt.Sprintf("/users/%d/followers", userID), nil, nil)
}

func (c *Client) Following(ctx context.Context, userID int64) ([]wire.User, error) {
	return call[[]wire.User](ctx, c, http.MethodGet, fmt.Sprintf("/users/%d/following", userID), nil, nil)
}

func (c *Client) LikePost(ctx context.Context, postID int64) (*models.Post, error) {
	p, err := call[wire.Post](ctx, c, http.MethodPost, fmt.Sprintf("/posts/%d/like", postID), nil, nil)
	if err != nil {
		return nil, err
	}
	return p.Model(), nil
}

func (c *Client) UnlikePost(ctx context.Context, postID int64) (*models.Post, error) {
	p, err := call[wire.Post](ctx, c, http.MethodDelete, fmt.Sprintf("/posts/%d/unlike", postID), nil, nil)
	if err != nil {
		return nil, err
	}
	return p.Model(), nil
}

func (c *Client) FollowUser(ctx context.Context, userID int64) (*models.ProfileSummary, error) {
	u, err := call[wire.User](ctx, c, http.MethodPost, fmt.Sprintf("/users/%d/follow", userID), nil, nil)
	if err != nil {
		return nil, err
	}
	return u.Profile(), nil
}

func (c *Client) UnfollowUser(ctx context.Context, userID int64) (*models.ProfileSummary, error) {
	u, err := call[wire.User](ctx, c, http.MethodDelete, fmt.Sprintf("/users/%d/unfollow", userID), nil, nil)
	if err != nil {
		return nil, err
	}
	return u.Profile(), nil
}

// CreateComment posts a comment on postID, or a reply when parentID is not
// zero.
func (c *Client) CreateComment(ctx context.Context, postID, parentID int64, content string) (*models.Comment, error) {
	req := wire.CreateCommentRequest{Content: content}
	if parentID != 0 {
		req.ParentCommentID = wire.Ptr(parentID)
	}
	cm, err := call[wire.Comment](ctx, c, http.MethodPost, fmt.Sprintf("/posts/%d/comments", postID), nil, req)
	if err != nil {
		return nil, err
	}
	return cm.Model(), nil
}

func (c *Client) UpdateComment(ctx context.Context, commentID int64, content string) (*models.Comment, error) {
	cm, err := call[wire.Comment](ctx, c, http.MethodPut, fmt.Sprintf("/comments/%d", commentID), nil, wire.UpdateCommentRequest{
		Content: content,
	})
	if err != nil {
		return nil, err
	}
	return cm.Model(), nil
}

func (c *Client) DeleteComment(ctx context.Context, commentID int64) error {
	_, err := call[any](ctx, c, http.MethodDelete, fmt.Sprintf("/comments/%d", commentID), nil, nil)
	return err
}

func (c *Client) CreatePost(ctx context.Context, content string) (*models.Post, error) {
	p, err := call[wire.Post](ctx, c, http.MethodPost, "/posts", nil, wire.CreatePostRequest{Content: content})
	if err != nil {
		return nil, err
	}
	return p.Model(), nil
}

func (c *Client) Notifications(ctx context.Context, page, size int) (wire.Page[wire.Notification], error) {
	return call[wire.Page[wire.Notification]](ctx, c, http.MethodGet, "/notifications", pageQuery(page, size), nil)
}

func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	return call[int64](ctx, c, http.MethodGet, "/notifications/unread-count", nil, nil)
}

func (c *Client) MarkNotificationRead(ctx context.Context, notificationID int64) error {
	_, err := call[any](ctx, c, http.MethodPut, fmt.Sprintf("/notifications/%d/read", notificationID), nil, nil)
	return err
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	_, err := call[any](ctx, c, http.MethodPut, "/notifications/read-all", nil, nil)
	return err
}

func (c *Client) DeleteNotification(ctx context.Context, notificationID int64) error {
	_, err := call[any](ctx, c, http.MethodDelete, fmt.Sprintf("/notifications/%d", notificationID), nil, nil)
	return err
}

func (c *Client) DeleteAllNotifications(ctx context.Context) error {
	_, err := call[any](ctx, c, http.MethodDelete, "/notifications", nil, nil)
	return err
}
