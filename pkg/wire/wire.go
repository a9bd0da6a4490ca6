// Package wire holds the JSON (and CBOR) shapes exchanged with the backend
// and the realtime server, and their conversion into records.
package wire

import (
	"time"

	"github.com/JordyChamba/feedsync/pkg/models"
)

// Envelope wraps every REST response body.
type Envelope[T any] struct {
	Success bool   `json:"success" cbor:"success"`
	Message string `json:"message,omitempty" cbor:"message,omitempty"`
	Data    T      `json:"data" cbor:"data"`
}

// Page is one page of a paginated listing. Number counts from zero.
type Page[T any] struct {
	Content       []T  `json:"content" cbor:"content"`
	Number        int  `json:"number" cbor:"number"`
	Size          int  `json:"size" cbor:"size"`
	TotalPages    int  `json:"totalPages" cbor:"totalPages"`
	TotalElements int  `json:"totalElements" cbor:"totalElements"`
	First         bool `json:"first" cbor:"first"`
	Last          bool `json:"last" cbor:"last"`
}

type User struct {
	ID              int64     `json:"id" cbor:"id"`
	Username        string    `json:"username" cbor:"username"`
	Email           string    `json:"email,omitempty" cbor:"email,omitempty"`
	FullName        string    `json:"fullName,omitempty" cbor:"fullName,omitempty"`
	Bio             string    `json:"bio,omitempty" cbor:"bio,omitempty"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty" cbor:"profileImageUrl,omitempty"`
	Verified        bool      `json:"verified" cbor:"verified"`
	Active          bool      `json:"active" cbor:"active"`
	CreatedAt       time.Time `json:"createdAt" cbor:"createdAt"`
	FollowersCount  *int64    `json:"followersCount,omitempty" cbor:"followersCount,omitempty"`
	FollowingCount  *int64    `json:"followingCount,omitempty" cbor:"followingCount,omitempty"`
	PostsCount      *int64    `json:"postsCount,omitempty" cbor:"postsCount,omitempty"`
	IsFollowing     *bool     `json:"isFollowing,omitempty" cbor:"isFollowing,omitempty"`
	IsFollowedBy    *bool     `json:"isFollowedBy,omitempty" cbor:"isFollowedBy,omitempty"`
}

type Post struct {
	ID            int64     `json:"id" cbor:"id"`
	Content       string    `json:"content" cbor:"content"`
	ImageURLs     []string  `json:"imageUrls,omitempty" cbor:"imageUrls,omitempty"`
	Author        User      `json:"author" cbor:"author"`
	LikesCount    int64     `json:"likesCount" cbor:"likesCount"`
	CommentsCount int64     `json:"commentsCount" cbor:"commentsCount"`
	SharesCount   int64     `json:"sharesCount" cbor:"sharesCount"`
	IsLiked       bool      `json:"isLiked" cbor:"isLiked"`
	CreatedAt     time.Time `json:"createdAt" cbor:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt" cbor:"updatedAt"`
}

type Comment struct {
	ID              int64     `json:"id" cbor:"id"`
	Content         string    `json:"content" cbor:"content"`
	Author          User      `json:"author" cbor:"author"`
	PostID          int64     `json:"postId" cbor:"postId"`
	ParentCommentID *int64    `json:"parentCommentId,omitempty" cbor:"parentCommentId,omitempty"`
	LikesCount      int64     `json:"likesCount" cbor:"likesCount"`
	RepliesCount    int64     `json:"repliesCount" cbor:"repliesCount"`
	CreatedAt       time.Time `json:"createdAt" cbor:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt" cbor:"updatedAt"`
}

type Notification struct {
	ID        int64     `json:"id" cbor:"id"`
	Type      string    `json:"type" cbor:"type"`
	Message   string    `json:"message" cbor:"message"`
	Sender    *User     `json:"sender,omitempty" cbor:"sender,omitempty"`
	PostID    *int64    `json:"postId,omitempty" cbor:"postId,omitempty"`
	CommentID *int64    `json:"commentId,omitempty" cbor:"commentId,omitempty"`
	IsRead    bool      `json:"isRead" cbor:"isRead"`
	CreatedAt time.Time `json:"createdAt" cbor:"createdAt"`
}

type LoginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	User         User   `json:"user"`
}

type CreatePostRequest struct {
	Content   string   `json:"content"`
	ImageURLs []string `json:"imageUrls,omitempty"`
}

type CreateCommentRequest struct {
	Content         string `json:"content"`
	ParentCommentID *int64 `json:"parentCommentId,omitempty"`
}

type UpdateCommentRequest struct {
	Content string `json:"content"`
}

// Profile converts u. Counts and relations the server left out stay zero.
func (u User) Profile() *models.ProfileSummary {
	return &models.ProfileSummary{
		ID:              u.ID,
		Username:        u.Username,
		FullName:        u.FullName,
		ProfileImageURL: u.ProfileImageURL,
		Verified:        u.Verified,
		FollowersCount:  deref(u.FollowersCount),
		FollowingCount:  deref(u.FollowingCount),
		PostsCount:      deref(u.PostsCount),
		IsFollowing:     deref(u.IsFollowing),
		IsFollowedBy:    deref(u.IsFollowedBy),
	}
}

// HasCounts reports whether u carries the profile counters, which the server
// only sends on profile endpoints.
func (u User) HasCounts() bool {
	return u.FollowersCount != nil && u.FollowingCount != nil
}

func (p Post) Model() *models.Post {
	return &models.Post{
		ID:            p.ID,
		Text:          p.Content,
		ImageURLs:     p.ImageURLs,
		AuthorID:      p.Author.ID,
		LikesCount:    p.LikesCount,
		CommentsCount: p.CommentsCount,
		SharesCount:   p.SharesCount,
		IsLiked:       p.IsLiked,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (c Comment) Model() *models.Comment {
	return &models.Comment{
		ID:              c.ID,
		PostID:          c.PostID,
		ParentCommentID: deref(c.ParentCommentID),
		AuthorID:        c.Author.ID,
		Text:            c.Content,
		LikesCount:      c.LikesCount,
		RepliesCount:    c.RepliesCount,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func (n Notification) Event() models.NotificationEvent {
	e := models.NotificationEvent{
		ID:        n.ID,
		Type:      models.NotificationType(n.Type),
		Message:   n.Message,
		PostID:    deref(n.PostID),
		CommentID: deref(n.CommentID),
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
	if n.Sender != nil {
		e.Sender = n.Sender.Profile()
	}
	return e
}

// Ptr returns a pointer to v, for the optional wire fields.
func Ptr[T any](v T) *T {
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
