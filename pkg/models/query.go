package models

import (
	"fmt"
	"slices"
)

// QueryKind tags a QueryKey with the list it describes.
type QueryKind uint8

const (
	QueryUnknown QueryKind = iota
	QueryFeed
	QueryExplore
	QueryTrending
	QuerySearchPosts
	QueryUserPosts
	QueryComments
	QueryReplies
	QueryFollowers
	QueryFollowing
)

var queryKindNames = map[QueryKind]string{
	QueryFeed:        "feed",
	QueryExplore:     "explore",
	QueryTrending:    "trending",
	QuerySearchPosts: "search-posts",
	QueryUserPosts:   "user-posts",
	QueryComments:    "comments",
	QueryReplies:     "replies",
	QueryFollowers:   "followers",
	QueryFollowing:   "following",
}

func (k QueryKind) String() string {
	if s, ok := queryKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// QueryKey describes one paginated list. Subject is the user, post or comment
// the list hangs off (zero when the kind has none) and Term is the search
// text for search queries.
type QueryKey struct {
	Kind    QueryKind
	Subject int64
	Term    string
}

func FeedKey() QueryKey                   { return QueryKey{Kind: QueryFeed} }
func ExploreKey() QueryKey                { return QueryKey{Kind: QueryExplore} }
func TrendingKey() QueryKey               { return QueryKey{Kind: QueryTrending} }
func SearchPostsKey(term string) QueryKey { return QueryKey{Kind: QuerySearchPosts, Term: term} }
func UserPostsKey(userID int64) QueryKey  { return QueryKey{Kind: QueryUserPosts, Subject: userID} }
func CommentsKey(postID int64) QueryKey   { return QueryKey{Kind: QueryComments, Subject: postID} }
func RepliesKey(commentID int64) QueryKey { return QueryKey{Kind: QueryReplies, Subject: commentID} }
func FollowersKey(userID int64) QueryKey  { return QueryKey{Kind: QueryFollowers, Subject: userID} }
func FollowingKey(userID int64) QueryKey  { return QueryKey{Kind: QueryFollowing, Subject: userID} }

func (k QueryKey) String() string {
	switch {
	case k.Term != "":
		return fmt.Sprintf("%s(%q)", k.Kind, k.Term)
	case k.Subject != 0:
		return fmt.Sprintf("%s(%d)", k.Kind, k.Subject)
	default:
		return k.Kind.String()
	}
}

// Matcher selects query keys for fan-out and invalidation.
type Matcher func(QueryKey) bool

func MatchExact(key QueryKey) Matcher {
	return func(k QueryKey) bool { return k == key }
}

func MatchKind(kinds ...QueryKind) Matcher {
	return func(k QueryKey) bool { return slices.Contains(kinds, k.Kind) }
}

func MatchSubject(kind QueryKind, subject int64) Matcher {
	return func(k QueryKey) bool { return k.Kind == kind && k.Subject == subject }
}

func MatchAny() Matcher {
	return func(QueryKey) bool { return true }
}

// Or matches keys accepted by any of the given matchers.
func Or(matchers ...Matcher) Matcher {
	return func(k QueryKey) bool {
		for _, m := range matchers {
			if m(k) {
				return true
			}
		}
		return false
	}
}

// PostLists matches every query whose entries are posts.
func PostLists() Matcher {
	return MatchKind(QueryFeed, QueryExplore, QueryTrending, QuerySearchPosts, QueryUserPosts)
}

type Page struct {
	RecordIDs []RecordID
	PageIndex int
}

// QueryResult is the cached state of one list. Cursor is the index of the
// next page to request.
type QueryResult struct {
	Key       QueryKey
	Pages     []Page
	Cursor    int
	Exhausted bool
	Stale     bool
}

func (q QueryResult) Clone() QueryResult {
	c := q
	c.Pages = make([]Page, len(q.Pages))
	for i, p := range q.Pages {
		c.Pages[i] = Page{PageIndex: p.PageIndex, RecordIDs: slices.Clone(p.RecordIDs)}
	}
	return c
}

// IDs flattens the pages in order.
func (q QueryResult) IDs() []RecordID {
	n := 0
	for _, p := range q.Pages {
		n += len(p.RecordIDs)
	}
	out := make([]RecordID, 0, n)
	for _, p := range q.Pages {
		out = append(out, p.RecordIDs...)
	}
	return out
}

func (q QueryResult) Len() int {
	n := 0
	for _, p := range q.Pages {
		n += len(p.RecordIDs)
	}
	return n
}

// IndexOf returns the position of id in the flattened sequence, or -1.
func (q QueryResult) IndexOf(id RecordID) int {
	pos := 0
	for _, p := range q.Pages {
		if i := slices.Index(p.RecordIDs, id); i >= 0 {
			return pos + i
		}
		pos += len(p.RecordIDs)
	}
	return -1
}

func (q QueryResult) Contains(id RecordID) bool {
	return q.IndexOf(id) >= 0
}

// Remove deletes id and returns the flattened position it held.
func (q *QueryResult) Remove(id RecordID) (int, bool) {
	pos := 0
	for i := range q.Pages {
		ids := q.Pages[i].RecordIDs
		if j := slices.Index(ids, id); j >= 0 {
			q.Pages[i].RecordIDs = slices.Delete(slices.Clone(ids), j, j+1)
			return pos + j, true
		}
		pos += len(ids)
	}
	return -1, false
}

// InsertAt places id at the flattened position pos, clamped to the bounds of
// the list. It is a no-op when id is already present, which keeps the
// at-most-once invariant.
func (q *QueryResult) InsertAt(pos int, id RecordID) bool {
	if q.Contains(id) {
		return false
	}
	if len(q.Pages) == 0 {
		q.Pages = []Page{{PageIndex: 0}}
	}
	if pos < 0 {
		pos = 0
	}
	for i := range q.Pages {
		n := len(q.Pages[i].RecordIDs)
		if pos <= n || i == len(q.Pages)-1 {
			if pos > n {
				pos = n
			}
			q.Pages[i].RecordIDs = slices.Insert(slices.Clone(q.Pages[i].RecordIDs), pos, id)
			return true
		}
		pos -= n
	}
	return false
}

func (q *QueryResult) Prepend(id RecordID) bool {
	return q.InsertAt(0, id)
}

// Replace swaps old for replacement in place. When replacement is already in
// the list, old is dropped instead so the id stays unique.
func (q *QueryResult) Replace(old, replacement RecordID) bool {
	if q.Contains(replacement) {
		_, ok := q.Remove(old)
		return ok
	}
	for i := range q.Pages {
		if j := slices.Index(q.Pages[i].RecordIDs, old); j >= 0 {
			ids := slices.Clone(q.Pages[i].RecordIDs)
			ids[j] = replacement
			q.Pages[i].RecordIDs = ids
			return true
		}
	}
	return false
}
