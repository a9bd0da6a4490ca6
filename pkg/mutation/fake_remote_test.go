package mutation_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/mutation"
	"github.com/JordyChamba/feedsync/pkg/querycache"
	"github.com/JordyChamba/feedsync/pkg/store"
)

var errBoom = errors.New("boom")

// fakeRemote keeps server side state for the entities the tests touch. When
// hold is set every call blocks until the test sends its outcome.
type fakeRemote struct {
	mu       sync.Mutex
	posts    map[int64]*models.Post
	profiles map[int64]*models.ProfileSummary
	comments map[int64]*models.Comment
	nextID   int64
	calls    []string
	hold     chan error
	holdFor  map[string]chan error
	viewerID int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		posts:    map[int64]*models.Post{},
		profiles: map[int64]*models.ProfileSummary{},
		comments: map[int64]*models.Comment{},
		holdFor:  map[string]chan error{},
		nextID:   1000,
	}
}

func (f *fakeRemote) wait(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	hold := f.hold
	if ch, ok := f.holdFor[name]; ok {
		hold = ch
	}
	f.mu.Unlock()

	if hold == nil {
		return nil
	}
	select {
	case err := <-hold:
		if err != nil {
			return errors.Join(constants.ErrRemote, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) setLiked(ctx context.Context, name string, postID int64, liked bool) (*models.Post, error) {
	if err := f.wait(ctx, name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[postID]
	if p.IsLiked != liked {
		p.IsLiked = liked
		if liked {
			p.LikesCount++
		} else {
			p.LikesCount--
		}
	}
	return p.Clone().(*models.Post), nil
}

func (f *fakeRemote) LikePost(ctx context.Context, postID int64) (*models.Post, error) {
	return f.setLiked(ctx, "like", postID, true)
}

func (f *fakeRemote) UnlikePost(ctx context.Context, postID int64) (*models.Post, error) {
	return f.setLiked(ctx, "unlike", postID, false)
}

func (f *fakeRemote) setFollowing(ctx context.Context, name string, userID int64, following bool) (*models.ProfileSummary, error) {
	if err := f.wait(ctx, name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[userID]
	if p.IsFollowing != following {
		p.IsFollowing = following
		if following {
			p.FollowersCount++
		} else {
			p.FollowersCount--
		}
	}
	return p.Clone().(*models.ProfileSummary), nil
}

func (f *fakeRemote) FollowUser(ctx context.Context, userID int64) (*models.ProfileSummary, error) {
	return f.setFollowing(ctx, "follow", userID, true)
}

func (f *fakeRemote) UnfollowUser(ctx context.Context, userID int64) (*models.ProfileSummary, error) {
	return f.setFollowing(ctx, "unfollow", userID, false)
}

func (f *fakeRemote) CreateComment(ctx context.Context, postID, parentID int64, content string) (*models.Comment, error) {
	if err := f.wait(ctx, "create-comment"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := &models.Comment{ID: f.nextID, PostID: postID, ParentCommentID: parentID, AuthorID: f.viewerID, Text: content}
	f.comments[c.ID] = c
	return c.Clone().(*models.Comment), nil
}

func (f *fakeRemote) UpdateComment(ctx context.Context, commentID int64, content string) (*models.Comment, error) {
	if err := f.wait(ctx, "update-comment"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.comments[commentID]
	c.Text = content
	return c.Clone().(*models.Comment), nil
}

func (f *fakeRemote) DeleteComment(ctx context.Context, commentID int64) error {
	if err := f.wait(ctx, "delete-comment"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.comments, commentID)
	return nil
}

func (f *fakeRemote) CreatePost(ctx context.Context, content string) (*models.Post, error) {
	if err := f.wait(ctx, "create-post"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p := &models.Post{ID: f.nextID, AuthorID: f.viewerID, Text: content}
	f.posts[p.ID] = p
	return p.Clone().(*models.Post), nil
}

type fixture struct {
	records *store.RecordStore
	cache   *querycache.Cache
	remote  *fakeRemote
	coord   *mutation.Coordinator
}

func setup(t *testing.T, opts ...mutation.Option) *fixture {
	t.Helper()

	records := store.New(store.NewGate())
	cache := querycache.New(records)
	remote := newFakeRemote()
	coord := mutation.New(records, cache, remote, opts...)

	t.Cleanup(func() {
		remote.mu.Lock()
		hold := remote.hold
		remote.mu.Unlock()
		if hold != nil {
			// unblock whatever a failed test left hanging
			go func() {
				for range 16 {
					hold <- nil
				}
			}()
		}
		_ = coord.Close(context.Background())
	})

	return &fixture{records: records, cache: cache, remote: remote, coord: coord}
}

func (f *fixture) hold() chan error {
	ch := make(chan error)
	f.remote.mu.Lock()
	f.remote.hold = ch
	f.remote.mu.Unlock()
	return ch
}

// holdCall makes calls named name wait on their own channel.
func (f *fixture) holdCall(name string) chan error {
	ch := make(chan error)
	f.remote.mu.Lock()
	f.remote.holdFor[name] = ch
	f.remote.mu.Unlock()
	return ch
}

func (f *fixture) seedPost(id, likes int64, liked bool) {
	p := &models.Post{ID: id, LikesCount: likes, IsLiked: liked}
	f.remote.mu.Lock()
	f.remote.posts[id] = p.Clone().(*models.Post)
	f.remote.mu.Unlock()
	f.records.Upsert(models.NewRecord(id, p))
}

func (f *fixture) seedProfile(p *models.ProfileSummary) {
	f.remote.mu.Lock()
	f.remote.profiles[p.ID] = p.Clone().(*models.ProfileSummary)
	f.remote.mu.Unlock()
	f.records.Upsert(models.NewRecord(p.ID, p))
}

func (f *fixture) seedComment(c *models.Comment) {
	f.remote.mu.Lock()
	f.remote.comments[c.ID] = c.Clone().(*models.Comment)
	f.remote.mu.Unlock()
	f.records.Upsert(models.NewRecord(c.ID, c))
}

func (f *fixture) post(t *testing.T, id int64) *models.Post {
	t.Helper()
	r, ok := f.records.Get(models.PostID(id))
	if !ok {
		t.Fatalf("post %d missing", id)
	}
	return r.Post()
}

func (f *fixture) profile(t *testing.T, id int64) *models.ProfileSummary {
	t.Helper()
	r, ok := f.records.Get(models.ProfileID(id))
	if !ok {
		t.Fatalf("profile %d missing", id)
	}
	return r.Profile()
}

func (f *fixture) ids(key models.QueryKey) []models.RecordID {
	res, _ := f.cache.Peek(key)
	return res.IDs()
}
