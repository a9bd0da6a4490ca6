package models

import "time"

// Counter names a numeric field that optimistic projections adjust relatively.
type Counter string

const (
	LikesCount     Counter = "likesCount"
	CommentsCount  Counter = "commentsCount"
	SharesCount    Counter = "sharesCount"
	RepliesCount   Counter = "repliesCount"
	FollowersCount Counter = "followersCount"
	FollowingCount Counter = "followingCount"
	PostsCount     Counter = "postsCount"
)

// Flag names a boolean field that projections flip with compare-and-set.
type Flag string

const (
	IsLiked      Flag = "isLiked"
	IsFollowing  Flag = "isFollowing"
	IsFollowedBy Flag = "isFollowedBy"
)

// Fields is the payload of a record. Implementations are plain values owned by
// the record store; Clone must return a deep copy so patch functions can stay
// pure.
type Fields interface {
	Kind() Kind
	Clone() Fields
	// Counter returns the value and whether the field exists on this kind.
	Counter(c Counter) (int64, bool)
	SetCounter(c Counter, v int64) bool
	Flag(f Flag) (bool, bool)
	SetFlag(f Flag, v bool) bool
	// Content is the user editable text, empty for kinds without one.
	Content() string
	SetContent(s string) bool
}

type Post struct {
	ID            int64
	Text          string
	ImageURLs     []string
	AuthorID      int64
	LikesCount    int64
	CommentsCount int64
	SharesCount   int64
	IsLiked       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var _ Fields = (*Post)(nil)

func (p *Post) Kind() Kind { return KindPost }

func (p *Post) Clone() Fields {
	c := *p
	if p.ImageURLs != nil {
		c.ImageURLs = append([]string(nil), p.ImageURLs...)
	}
	return &c
}

func (p *Post) Counter(c Counter) (int64, bool) {
	switch c {
	case LikesCount:
		return p.LikesCount, true
	case CommentsCount:
		return p.CommentsCount, true
	case SharesCount:
		return p.SharesCount, true
	}
	return 0, false
}

func (p *Post) SetCounter(c Counter, v int64) bool {
	switch c {
	case LikesCount:
		p.LikesCount = v
	case CommentsCount:
		p.CommentsCount = v
	case SharesCount:
		p.SharesCount = v
	default:
		return false
	}
	return true
}

func (p *Post) Flag(f Flag) (bool, bool) {
	if f == IsLiked {
		return p.IsLiked, true
	}
	return false, false
}

func (p *Post) SetFlag(f Flag, v bool) bool {
	if f == IsLiked {
		p.IsLiked = v
		return true
	}
	return false
}

func (p *Post) Content() string { return p.Text }

func (p *Post) SetContent(s string) bool {
	p.Text = s
	return true
}

type Comment struct {
	ID              int64
	PostID          int64
	ParentCommentID int64
	AuthorID        int64
	Text            string
	LikesCount      int64
	RepliesCount    int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var _ Fields = (*Comment)(nil)

func (c *Comment) Kind() Kind { return KindComment }

func (c *Comment) Clone() Fields {
	cp := *c
	return &cp
}

func (c *Comment) Counter(n Counter) (int64, bool) {
	switch n {
	case LikesCount:
		return c.LikesCount, true
	case RepliesCount:
		return c.RepliesCount, true
	}
	return 0, false
}

func (c *Comment) SetCounter(n Counter, v int64) bool {
	switch n {
	case LikesCount:
		c.LikesCount = v
	case RepliesCount:
		c.RepliesCount = v
	default:
		return false
	}
	return true
}

func (c *Comment) Flag(Flag) (bool, bool) { return false, false }

func (c *Comment) SetFlag(Flag, bool) bool { return false }

func (c *Comment) Content() string { return c.Text }

func (c *Comment) SetContent(s string) bool {
	c.Text = s
	return true
}

// ProfileSummary is the part of a user profile the feed needs. Counts are
// optional on the wire; absent counts decode as zero.
type ProfileSummary struct {
	ID              int64
	Username        string
	FullName        string
	ProfileImageURL string
	Verified        bool
	FollowersCount  int64
	FollowingCount  int64
	PostsCount      int64
	IsFollowing     bool
	IsFollowedBy    bool
}

var _ Fields = (*ProfileSummary)(nil)

func (p *ProfileSummary) Kind() Kind { return KindProfile }

func (p *ProfileSummary) Clone() Fields {
	c := *p
	return &c
}

func (p *ProfileSummary) Counter(c Counter) (int64, bool) {
	switch c {
	case FollowersCount:
		return p.FollowersCount, true
	case FollowingCount:
		return p.FollowingCount, true
	case PostsCount:
		return p.PostsCount, true
	}
	return 0, false
}

func (p *ProfileSummary) SetCounter(c Counter, v int64) bool {
	switch c {
	case FollowersCount:
		p.FollowersCount = v
	case FollowingCount:
		p.FollowingCount = v
	case PostsCount:
		p.PostsCount = v
	default:
		return false
	}
	return true
}

func (p *ProfileSummary) Flag(f Flag) (bool, bool) {
	switch f {
	case IsFollowing:
		return p.IsFollowing, true
	case IsFollowedBy:
		return p.IsFollowedBy, true
	}
	return false, false
}

func (p *ProfileSummary) SetFlag(f Flag, v bool) bool {
	switch f {
	case IsFollowing:
		p.IsFollowing = v
	case IsFollowedBy:
		p.IsFollowedBy = v
	default:
		return false
	}
	return true
}

func (p *ProfileSummary) Content() string { return "" }

func (p *ProfileSummary) SetContent(string) bool { return false }
