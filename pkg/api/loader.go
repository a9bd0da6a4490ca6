package api

import (
	"context"
	"fmt"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/querycache"
	"github.com/JordyChamba/feedsync/pkg/wire"
)

// Loader pages every list kind out of a Backend for the query cache.
//
// Trending, replies, followers and following are not paginated by the server;
// their first page is the whole list and marks the entry exhausted.
type Loader struct {
	backend       Backend
	pageSize      int
	trendingLimit int
}

var _ querycache.Loader = (*Loader)(nil)

func NewLoader(b Backend, pageSize int) *Loader {
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}
	return &Loader{backend: b, pageSize: pageSize, trendingLimit: pageSize}
}

func (l *Loader) Load(ctx context.Context, key models.QueryKey, pageIndex int) (querycache.Loaded, error) {
	switch key.Kind {
	case models.QueryFeed:
		return postPage(l.backend.Feed(ctx, pageIndex, l.pageSize))
	case models.QueryExplore:
		return postPage(l.backend.Explore(ctx, pageIndex, l.pageSize))
	case models.QueryUserPosts:
		return postPage(l.backend.UserPosts(ctx, key.Subject, pageIndex, l.pageSize))
	case models.QuerySearchPosts:
		return postPage(l.backend.SearchPosts(ctx, key.Term, pageIndex, l.pageSize))
	case models.QueryComments:
		return commentPage(l.backend.Comments(ctx, key.Subject, pageIndex, l.pageSize))
	}

	// the rest come back whole
	if pageIndex > 0 {
		return querycache.Loaded{Exhausted: true}, nil
	}
	switch key.Kind {
	case models.QueryTrending:
		posts, err := l.backend.Trending(ctx, l.trendingLimit)
		if err != nil {
			return querycache.Loaded{}, err
		}
		return postsLoaded(posts, true), nil
	case models.QueryReplies:
		comments, err := l.backend.Replies(ctx, key.Subject)
		if err != nil {
			return querycache.Loaded{}, err
		}
		return commentsLoaded(comments, true), nil
	case models.QueryFollowers:
		users, err := l.backend.Followers(ctx, key.Subject)
		if err != nil {
			return querycache.Loaded{}, err
		}
		return usersLoaded(users), nil
	case models.QueryFollowing:
		users, err := l.backend.Following(ctx, key.Subject)
		if err != nil {
			return querycache.Loaded{}, err
		}
		return usersLoaded(users), nil
	}
	return querycache.Loaded{}, fmt.Errorf("api: no loader for %s", key)
}

func postPage(p wire.Page[wire.Post], err error) (querycache.Loaded, error) {
	if err != nil {
		return querycache.Loaded{}, err
	}
	return postsLoaded(p.Content, p.Last || len(p.Content) == 0), nil
}

func commentPage(p wire.Page[wire.Comment], err error) (querycache.Loaded, error) {
	if err != nil {
		return querycache.Loaded{}, err
	}
	return commentsLoaded(p.Content, p.Last || len(p.Content) == 0), nil
}

func postsLoaded(posts []wire.Post, exhausted bool) querycache.Loaded {
	out := querycache.Loaded{
		Records:   make([]models.Record, 0, len(posts)),
		Exhausted: exhausted,
	}
	for _, p := range posts {
		out.Records = append(out.Records, models.NewRecord(p.ID, p.Model()))
		addAuthor(&out, p.Author)
	}
	return out
}

func commentsLoaded(comments []wire.Comment, exhausted bool) querycache.Loaded {
	out := querycache.Loaded{
		Records:   make([]models.Record, 0, len(comments)),
		Exhausted: exhausted,
	}
	for _, c := range comments {
		out.Records = append(out.Records, models.NewRecord(c.ID, c.Model()))
		addAuthor(&out, c.Author)
	}
	return out
}

// usersLoaded lists profiles as returned. The follower endpoints carry the
// counters, so they replace whatever the store held.
func usersLoaded(users []wire.User) querycache.Loaded {
	out := querycache.Loaded{
		Records:   make([]models.Record, 0, len(users)),
		Exhausted: true,
	}
	for _, u := range users {
		out.Records = append(out.Records, models.NewRecord(u.ID, u.Profile()))
	}
	return out
}

// addAuthor keeps an embedded author. Without counters it is only a stub and
// never overwrites a profile the store already has.
func addAuthor(out *querycache.Loaded, u wire.User) {
	if u.ID == 0 {
		return
	}
	r := models.NewRecord(u.ID, u.Profile())
	if u.HasCounts() {
		out.Related = append(out.Related, r)
		return
	}
	out.Stubs = append(out.Stubs, r)
}
