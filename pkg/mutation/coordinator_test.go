package mutation_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/mutation"
)

func wait(t *testing.T, p *mutation.Pending) error {
	t.Helper()
	select {
	case <-p.Done():
		return p.Err()
	case <-time.After(5 * time.Second):
		t.Fatalf("mutation %s did not resolve", p.ID)
		return nil
	}
}

func TestToggleLikeOptimisticCommitAndRollback(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 0, false)
	hold := f.hold()
	ctx := context.Background()

	p, err := f.coord.ToggleLike(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, mutation.Like, p.Kind)
	assert.Equal(t, mutation.StatusApplied, p.Status())

	// shown before the server answers
	assert.Equal(t, int64(1), f.post(t, 1).LikesCount)
	assert.True(t, f.post(t, 1).IsLiked)

	hold <- nil
	require.NoError(t, wait(t, p))
	assert.Equal(t, mutation.StatusCommitted, p.Status())
	assert.Equal(t, int64(1), f.post(t, 1).LikesCount)
	assert.Equal(t, models.PostID(1), p.Result())

	p, err = f.coord.ToggleLike(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, mutation.Unlike, p.Kind)
	assert.Equal(t, int64(0), f.post(t, 1).LikesCount)
	assert.False(t, f.post(t, 1).IsLiked)

	hold <- errBoom
	err = wait(t, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, constants.ErrRemote)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, mutation.StatusRolledBack, p.Status())

	assert.Equal(t, int64(1), f.post(t, 1).LikesCount)
	assert.True(t, f.post(t, 1).IsLiked)
	assert.Empty(t, f.coord.Pending())
}

func TestRollbackPreservesUnrelatedChange(t *testing.T) {
	f := setup(t)
	const n = 5
	f.seedPost(1, n, false)
	hold := f.hold()

	p, err := f.coord.ToggleLike(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), f.post(t, 1).LikesCount)

	// somebody else's like lands while ours is in flight
	_, err = f.records.ApplyPatch(models.PostID(1), 0, models.Delta(models.LikesCount, 1).Apply)
	require.NoError(t, err)

	hold <- errBoom
	require.Error(t, wait(t, p))

	post := f.post(t, 1)
	assert.Equal(t, int64(n+1), post.LikesCount)
	assert.False(t, post.IsLiked)
}

func TestRollbackAfterConcurrentCommitOnSameRecord(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 0, false)
	holdLike := f.holdCall("like")
	holdComment := f.holdCall("create-comment")
	ctx := context.Background()

	like, err := f.coord.ToggleLike(ctx, 1)
	require.NoError(t, err)

	comment, err := f.coord.CreateComment(ctx, 1, 0, "first!")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.post(t, 1).CommentsCount)

	holdComment <- nil
	require.NoError(t, wait(t, comment))
	holdLike <- errBoom
	require.Error(t, wait(t, like))

	post := f.post(t, 1)
	assert.Equal(t, int64(0), post.LikesCount)
	assert.False(t, post.IsLiked)
	assert.Equal(t, int64(1), post.CommentsCount, "the committed comment survives the like rollback")
}

func TestInFlightGuardRejectsSecondToggle(t *testing.T) {
	f := setup(t)
	f.seedPost(7, 3, false)
	hold := f.hold()
	ctx := context.Background()

	first, err := f.coord.ToggleLike(ctx, 7)
	require.NoError(t, err)

	second, err := f.coord.ToggleLike(ctx, 7)
	require.Error(t, err)
	assert.Nil(t, second)
	assert.ErrorIs(t, err, constants.ErrConflict)
	assert.True(t, f.coord.InFlight(mutation.Unlike, models.PostID(7)))

	// the rejected call changed nothing
	assert.Equal(t, int64(4), f.post(t, 7).LikesCount)

	hold <- nil
	require.NoError(t, wait(t, first))

	assert.Equal(t, []string{"like"}, f.remote.Calls())
	assert.False(t, f.coord.InFlight(mutation.Like, models.PostID(7)))
}

func TestConcurrentTogglesIssueOneRemoteCall(t *testing.T) {
	f := setup(t)
	f.seedPost(7, 0, false)
	hold := f.hold()

	var (
		wg        sync.WaitGroup
		accepted  atomic.Int32
		conflicts atomic.Int32
		issued    = make(chan *mutation.Pending, 2)
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.coord.ToggleLike(context.Background(), 7)
			if errors.Is(err, constants.ErrConflict) {
				conflicts.Add(1)
				return
			}
			if err == nil {
				accepted.Add(1)
				issued <- p
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(1), conflicts.Load())

	hold <- nil
	require.NoError(t, wait(t, <-issued))
	assert.Len(t, f.remote.Calls(), 1)
}

func TestSerialTogglesNetCount(t *testing.T) {
	f := setup(t)
	const initial = 10
	f.seedPost(1, initial, false)
	hold := f.hold()
	rng := rand.New(rand.NewPCG(1, 2))

	net := int64(0)
	for range 40 {
		p, err := f.coord.ToggleLike(context.Background(), 1)
		require.NoError(t, err)

		if rng.IntN(3) == 0 {
			hold <- errBoom
			require.Error(t, wait(t, p))
			continue
		}
		hold <- nil
		require.NoError(t, wait(t, p))
		if p.Kind == mutation.Like {
			net++
		} else {
			net--
		}
	}

	assert.Equal(t, int64(initial)+net, f.post(t, 1).LikesCount)
	assert.Equal(t, f.post(t, 1).LikesCount, f.remote.posts[1].LikesCount)
}

func TestCallerCancellationDoesNotCancelRemoteCall(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 0, false)
	hold := f.hold()

	ctx, cancel := context.WithCancel(context.Background())
	p, err := f.coord.ToggleLike(ctx, 1)
	require.NoError(t, err)
	cancel()

	hold <- nil
	require.NoError(t, wait(t, p))
	assert.Equal(t, mutation.StatusCommitted, p.Status())
}

func TestLikeOfUnknownPost(t *testing.T) {
	f := setup(t)
	_, err := f.coord.ToggleLike(context.Background(), 99)
	require.ErrorIs(t, err, constants.ErrNotFound)
	assert.Empty(t, f.remote.Calls())
}

func TestFailuresArePublished(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 0, false)
	hold := f.hold()

	got := make(chan *mutation.Failure, 1)
	unsubscribe := f.coord.Subscribe(func(fl *mutation.Failure) { got <- fl })
	defer unsubscribe()

	p, err := f.coord.ToggleLike(context.Background(), 1)
	require.NoError(t, err)
	hold <- errBoom
	require.Error(t, wait(t, p))

	select {
	case fl := <-got:
		assert.Equal(t, p.ID, fl.MutationID)
		assert.Equal(t, mutation.Like, fl.Kind)
		assert.ErrorIs(t, fl, constants.ErrRemote)
	case <-time.After(time.Second):
		t.Fatal("failure not published")
	}
}

func TestToggleFollowMovesViewerToo(t *testing.T) {
	const viewer, target = 1, 2
	f := setup(t, mutation.WithViewer(viewer))
	f.seedProfile(&models.ProfileSummary{ID: viewer, FollowingCount: 3})
	f.seedProfile(&models.ProfileSummary{ID: target, FollowersCount: 10})
	f.cache.Put(models.FollowersKey(target), models.Page{RecordIDs: []models.RecordID{models.ProfileID(5)}}, false)
	f.cache.Put(models.FollowingKey(viewer), models.Page{}, false)
	hold := f.hold()

	p, err := f.coord.ToggleFollow(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, mutation.Follow, p.Kind)

	assert.True(t, f.profile(t, target).IsFollowing)
	assert.Equal(t, int64(11), f.profile(t, target).FollowersCount)
	assert.Equal(t, int64(4), f.profile(t, viewer).FollowingCount)
	assert.Equal(t, []models.RecordID{models.ProfileID(viewer), models.ProfileID(5)}, f.ids(models.FollowersKey(target)))
	assert.Equal(t, []models.RecordID{models.ProfileID(target)}, f.ids(models.FollowingKey(viewer)))

	hold <- errBoom
	require.Error(t, wait(t, p))

	assert.False(t, f.profile(t, target).IsFollowing)
	assert.Equal(t, int64(10), f.profile(t, target).FollowersCount)
	assert.Equal(t, int64(3), f.profile(t, viewer).FollowingCount)
	assert.Equal(t, []models.RecordID{models.ProfileID(5)}, f.ids(models.FollowersKey(target)))
	assert.Empty(t, f.ids(models.FollowingKey(viewer)))
}

func TestFollowYourself(t *testing.T) {
	f := setup(t, mutation.WithViewer(1))
	_, err := f.coord.ToggleFollow(context.Background(), 1)
	require.ErrorIs(t, err, constants.ErrValidation)
}

func TestCreateCommentReplacesPlaceholder(t *testing.T) {
	const viewer = 3
	f := setup(t, mutation.WithViewer(viewer))
	f.remote.viewerID = viewer
	f.seedPost(1, 0, false)
	f.seedComment(&models.Comment{ID: 10, PostID: 1})
	f.cache.Put(models.CommentsKey(1), models.Page{RecordIDs: []models.RecordID{models.CommentID(10)}}, false)
	hold := f.hold()

	p, err := f.coord.CreateComment(context.Background(), 1, 0, "  hello  ")
	require.NoError(t, err)

	ids := f.ids(models.CommentsKey(1))
	require.Len(t, ids, 2)
	placeholder := ids[0]
	assert.True(t, placeholder.IsPlaceholder())
	r, ok := f.records.Get(placeholder)
	require.True(t, ok)
	assert.Equal(t, "hello", r.Comment().Text)
	assert.Equal(t, int64(viewer), r.Comment().AuthorID)
	assert.Equal(t, int64(1), f.post(t, 1).CommentsCount)

	hold <- nil
	require.NoError(t, wait(t, p))

	created := p.Result()
	assert.False(t, created.IsPlaceholder())
	assert.Equal(t, []models.RecordID{created, models.CommentID(10)}, f.ids(models.CommentsKey(1)))
	_, ok = f.records.Get(placeholder)
	assert.False(t, ok)
	r, ok = f.records.Get(created)
	require.True(t, ok)
	assert.Equal(t, "hello", r.Comment().Text)
	assert.Equal(t, int64(1), f.post(t, 1).CommentsCount)
}

func TestCreateReplyRollback(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 0, false)
	f.seedComment(&models.Comment{ID: 10, PostID: 1, RepliesCount: 2})
	f.cache.Put(models.RepliesKey(10), models.Page{}, false)
	hold := f.hold()

	p, err := f.coord.CreateComment(context.Background(), 1, 10, "a reply")
	require.NoError(t, err)

	r, _ := f.records.Get(models.CommentID(10))
	assert.Equal(t, int64(3), r.Comment().RepliesCount)
	assert.Len(t, f.ids(models.RepliesKey(10)), 1)

	hold <- errBoom
	require.Error(t, wait(t, p))

	r, _ = f.records.Get(models.CommentID(10))
	assert.Equal(t, int64(2), r.Comment().RepliesCount)
	assert.Empty(t, f.ids(models.RepliesKey(10)))
	assert.Equal(t, int64(0), f.post(t, 1).CommentsCount)
	assert.Equal(t, 2, f.records.Len(), "placeholder removed")
}

func TestCommentValidation(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 0, false)
	ctx := context.Background()

	_, err := f.coord.CreateComment(ctx, 1, 0, "   ")
	require.ErrorIs(t, err, constants.ErrValidation)

	_, err = f.coord.CreateComment(ctx, 1, 0, strings.Repeat("x", constants.MaxCommentLength+1))
	require.ErrorIs(t, err, constants.ErrValidation)

	// decomposed accents count as one character each after normalization
	p, err := f.coord.CreateComment(ctx, 1, 0, strings.Repeat("e\u0301", constants.MaxCommentLength))
	require.NoError(t, err)
	require.NoError(t, wait(t, p))

	_, err = f.coord.UpdateComment(ctx, 5, "")
	require.ErrorIs(t, err, constants.ErrValidation)

	assert.Equal(t, []string{"create-comment"}, f.remote.Calls())
}

func TestDeleteCommentRollbackRestoresPosition(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 0, false)
	f.records.ApplyPatch(models.PostID(1), 0, models.Delta(models.CommentsCount, 3).Apply)
	for _, id := range []int64{10, 11, 12} {
		f.seedComment(&models.Comment{ID: id, PostID: 1})
	}
	list := []models.RecordID{models.CommentID(10), models.CommentID(11), models.CommentID(12)}
	f.cache.Put(models.CommentsKey(1), models.Page{RecordIDs: list}, false)
	hold := f.hold()

	p, err := f.coord.DeleteComment(context.Background(), 11)
	require.NoError(t, err)

	assert.Equal(t, []models.RecordID{models.CommentID(10), models.CommentID(12)}, f.ids(models.CommentsKey(1)))
	_, ok := f.records.Get(models.CommentID(11))
	assert.False(t, ok)
	assert.Equal(t, int64(2), f.post(t, 1).CommentsCount)

	_, err = f.coord.UpdateComment(context.Background(), 11, "edited")
	require.ErrorIs(t, err, constants.ErrConflict)

	hold <- errBoom
	require.Error(t, wait(t, p))

	assert.Equal(t, list, f.ids(models.CommentsKey(1)))
	_, ok = f.records.Get(models.CommentID(11))
	assert.True(t, ok)
	assert.Equal(t, int64(3), f.post(t, 1).CommentsCount)
}

func TestUpdateCommentRollbackKeepsLaterText(t *testing.T) {
	f := setup(t)
	f.seedComment(&models.Comment{ID: 10, PostID: 1, Text: "v1"})
	hold := f.hold()

	p, err := f.coord.UpdateComment(context.Background(), 10, "v2")
	require.NoError(t, err)
	r, _ := f.records.Get(models.CommentID(10))
	assert.Equal(t, "v2", r.Comment().Text)

	// server state for the comment lands with yet another text
	f.records.Upsert(models.NewRecord(10, &models.Comment{ID: 10, PostID: 1, Text: "v3"}))

	hold <- errBoom
	require.Error(t, wait(t, p))

	r, _ = f.records.Get(models.CommentID(10))
	assert.Equal(t, "v3", r.Comment().Text)
}

func TestProjectionIsAtomicAcrossStores(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 0, false)
	f.seedComment(&models.Comment{ID: 10, PostID: 1})
	f.cache.Put(models.CommentsKey(1), models.Page{RecordIDs: []models.RecordID{models.CommentID(10)}}, false)
	f.cache.Put(models.RepliesKey(99), models.Page{RecordIDs: []models.RecordID{models.CommentID(10)}}, false)
	hold := f.hold()

	var (
		stop  atomic.Bool
		torn  atomic.Int32
		reads atomic.Int32
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		gate := f.records.Gate()
		for !stop.Load() {
			gate.Read(func() {
				_, inStore := f.records.GetLocked(models.CommentID(10))
				a, _ := f.cache.GetLocked(models.CommentsKey(1))
				b, _ := f.cache.GetLocked(models.RepliesKey(99))
				if inStore != a.Contains(models.CommentID(10)) || inStore != b.Contains(models.CommentID(10)) {
					torn.Add(1)
				}
				reads.Add(1)
			})
		}
	}()

	for range 50 {
		p, err := f.coord.DeleteComment(context.Background(), 10)
		require.NoError(t, err)
		hold <- errBoom
		require.Error(t, wait(t, p))
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, torn.Load())
	assert.Positive(t, reads.Load())
}

func TestRefetchKeepsPendingProjection(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 5, false)

	serverPost := &models.Post{ID: 1, LikesCount: 6}

	hold := f.hold()
	p, err := f.coord.ToggleLike(context.Background(), 1)
	require.NoError(t, err)

	// a page load replaces the post with server state that does not know
	// about our like yet, and somebody else liked it meanwhile
	f.records.Gate().Atomic(func() {
		f.records.UpsertLocked(models.NewRecord(1, serverPost.Clone()))
		f.cache.PutLocked(models.FeedKey(), models.Page{RecordIDs: []models.RecordID{models.PostID(1)}}, false, true)
		f.coord.ReconcileLocked(models.FeedKey(), []models.RecordID{models.PostID(1)})
	})

	post := f.post(t, 1)
	assert.True(t, post.IsLiked)
	assert.Equal(t, int64(7), post.LikesCount)

	hold <- errBoom
	require.Error(t, wait(t, p))

	post = f.post(t, 1)
	assert.False(t, post.IsLiked)
	assert.Equal(t, int64(6), post.LikesCount)
}

func TestUpsertServerKeepsPendingProjection(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 0, false)
	hold := f.holdCall("create-comment")

	p, err := f.coord.CreateComment(context.Background(), 1, 0, "second")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.post(t, 1).CommentsCount)

	// a direct fetch returns server state that already holds somebody
	// else's comment but not ours
	f.coord.UpsertServer(models.NewRecord(1, &models.Post{ID: 1, CommentsCount: 1}))
	assert.Equal(t, int64(2), f.post(t, 1).CommentsCount)

	hold <- errBoom
	require.Error(t, wait(t, p))
	assert.Equal(t, int64(1), f.post(t, 1).CommentsCount)
}

func TestPublishPost(t *testing.T) {
	const viewer = 4
	f := setup(t, mutation.WithViewer(viewer))
	f.remote.viewerID = viewer
	f.seedProfile(&models.ProfileSummary{ID: viewer, PostsCount: 1})
	f.cache.Put(models.FeedKey(), models.Page{RecordIDs: []models.RecordID{models.PostID(1)}}, false)
	f.cache.Put(models.UserPostsKey(viewer), models.Page{}, false)
	f.cache.Put(models.UserPostsKey(viewer+1), models.Page{}, false)

	_, err := f.coord.PublishPost(context.Background(), "")
	require.ErrorIs(t, err, constants.ErrValidation)
	_, err = f.coord.PublishPost(context.Background(), strings.Repeat("p", constants.MaxPostLength+1))
	require.ErrorIs(t, err, constants.ErrValidation)

	rec, err := f.coord.PublishPost(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", rec.Post().Text)

	assert.Equal(t, []models.RecordID{rec.ID, models.PostID(1)}, f.ids(models.FeedKey()))
	assert.Equal(t, []models.RecordID{rec.ID}, f.ids(models.UserPostsKey(viewer)))
	assert.Empty(t, f.ids(models.UserPostsKey(viewer+1)))
	assert.Equal(t, int64(2), f.profile(t, viewer).PostsCount)
}

func TestCloseRejectsNewMutations(t *testing.T) {
	f := setup(t)
	f.seedPost(1, 0, false)
	hold := f.hold()

	p, err := f.coord.ToggleLike(context.Background(), 1)
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- f.coord.Close(context.Background()) }()

	// Close waits for the issued call
	select {
	case <-closed:
		t.Fatal("Close returned while a call was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	hold <- nil
	require.NoError(t, wait(t, p))
	require.NoError(t, <-closed)

	_, err = f.coord.ToggleLike(context.Background(), 1)
	require.ErrorIs(t, err, constants.ErrClosed)
}
