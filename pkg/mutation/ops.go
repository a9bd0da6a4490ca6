package mutation

import (
	"context"
	"fmt"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/models"
)

func notLoaded(id models.RecordID) error {
	return fmt.Errorf("%w: %s is not loaded", constants.ErrNotFound, id)
}

// ToggleLike likes the post when the viewer has not liked it yet and unlikes
// it otherwise.
func (c *Coordinator) ToggleLike(ctx context.Context, postID int64) (*Pending, error) {
	id := models.PostID(postID)
	p := newPending(Like, id)

	build := func() (Projection, error) {
		r, ok := c.records.GetLocked(id)
		if !ok {
			return Projection{}, notLoaded(id)
		}
		liked := r.Post().IsLiked
		if liked {
			p.Kind = Unlike
		}
		return Projection{
			Records: []RecordPatch{{
				ID:       id,
				Observed: r.Version,
				Patch:    models.CoupledToggle(models.IsLiked, liked, models.LikesCount),
			}},
		}, nil
	}

	return c.issue(ctx, p, build, func(ctx context.Context) (commitFunc, error) {
		var (
			post *models.Post
			err  error
		)
		if p.Kind == Unlike {
			post, err = c.remote.UnlikePost(ctx, postID)
		} else {
			post, err = c.remote.LikePost(ctx, postID)
		}
		if err != nil {
			return nil, err
		}
		return c.upsertCommit(models.NewRecord(post.ID, post)), nil
	})
}

// ToggleFollow follows the user when the viewer does not follow them yet and
// unfollows otherwise.
func (c *Coordinator) ToggleFollow(ctx context.Context, userID int64) (*Pending, error) {
	if c.viewerID != 0 && userID == c.viewerID {
		return nil, fmt.Errorf("%w: cannot follow yourself", constants.ErrValidation)
	}

	id := models.ProfileID(userID)
	viewer := models.ProfileID(c.viewerID)
	p := newPending(Follow, id)

	build := func() (Projection, error) {
		r, ok := c.records.GetLocked(id)
		if !ok {
			return Projection{}, notLoaded(id)
		}
		following := r.Profile().IsFollowing
		if following {
			p.Kind = Unfollow
		}

		fwd := Projection{
			Records: []RecordPatch{{
				ID:       id,
				Observed: r.Version,
				Patch:    models.CoupledToggle(models.IsFollowing, following, models.FollowersCount),
			}},
		}
		if c.viewerID == 0 {
			return fwd, nil
		}

		d := int64(1)
		op := ListInsert
		if following {
			d = -1
			op = ListRemove
		}
		fwd.Records = append(fwd.Records, RecordPatch{ID: viewer, Patch: models.Delta(models.FollowingCount, d)})
		fwd.Lists = append(fwd.Lists,
			ListEdit{Op: op, Match: models.MatchExact(models.FollowersKey(userID)), ID: viewer},
			ListEdit{Op: op, Match: models.MatchExact(models.FollowingKey(c.viewerID)), ID: id},
		)
		return fwd, nil
	}

	return c.issue(ctx, p, build, func(ctx context.Context) (commitFunc, error) {
		var (
			prof *models.ProfileSummary
			err  error
		)
		if p.Kind == Unfollow {
			prof, err = c.remote.UnfollowUser(ctx, userID)
		} else {
			prof, err = c.remote.FollowUser(ctx, userID)
		}
		if err != nil {
			return nil, err
		}
		return c.upsertCommit(models.NewRecord(prof.ID, prof)), nil
	})
}

// CreateComment adds a placeholder comment under a negative id right away and
// swaps it for the server's comment on success. A non-zero parentID makes it
// a reply.
func (c *Coordinator) CreateComment(ctx context.Context, postID, parentID int64, content string) (*Pending, error) {
	content, err := ValidateContent("comment", content, constants.MaxCommentLength)
	if err != nil {
		return nil, err
	}

	post := models.PostID(postID)
	placeholder := models.CommentID(c.nextPlaceholder())
	p := newPending(CommentCreate, post)

	build := func() (Projection, error) {
		now := c.now()
		fwd := Projection{
			Creates: []models.Record{models.NewRecord(placeholder.ID, &models.Comment{
				ID:              placeholder.ID,
				PostID:          postID,
				ParentCommentID: parentID,
				AuthorID:        c.viewerID,
				Text:            content,
				CreatedAt:       now,
				UpdatedAt:       now,
			})},
			Records: []RecordPatch{{ID: post, Patch: models.Delta(models.CommentsCount, 1)}},
		}
		if parentID != 0 {
			fwd.Records = append(fwd.Records, RecordPatch{
				ID:    models.CommentID(parentID),
				Patch: models.Delta(models.RepliesCount, 1),
			})
			fwd.Lists = append(fwd.Lists, ListEdit{Op: ListInsert, Match: models.MatchExact(models.RepliesKey(parentID)), ID: placeholder})
		} else {
			fwd.Lists = append(fwd.Lists, ListEdit{Op: ListInsert, Match: models.MatchExact(models.CommentsKey(postID)), ID: placeholder})
		}
		return fwd, nil
	}

	return c.issue(ctx, p, build, func(ctx context.Context) (commitFunc, error) {
		comment, err := c.remote.CreateComment(ctx, postID, parentID, content)
		if err != nil {
			return nil, err
		}
		return func(p *Pending) []models.RecordID {
			created := models.CommentID(comment.ID)
			c.records.UpsertLocked(models.NewRecord(comment.ID, comment))
			c.records.DeleteLocked(placeholder)

			listKey := models.CommentsKey(postID)
			if parentID != 0 {
				listKey = models.RepliesKey(parentID)
			}
			if c.cache.MapEachEntryLocked(models.MatchAny(), placeholder, func(r *models.QueryResult) bool {
				return r.Replace(placeholder, created)
			}) == 0 {
				c.cache.MapEachEntryLocked(models.MatchExact(listKey), models.RecordID{}, func(r *models.QueryResult) bool {
					return r.Prepend(created)
				})
			}

			p.result = created
			return []models.RecordID{created}
		}, nil
	})
}

// UpdateComment replaces the text of a comment.
func (c *Coordinator) UpdateComment(ctx context.Context, commentID int64, content string) (*Pending, error) {
	content, err := ValidateContent("comment", content, constants.MaxCommentLength)
	if err != nil {
		return nil, err
	}

	id := models.CommentID(commentID)
	p := newPending(CommentUpdate, id)

	build := func() (Projection, error) {
		r, ok := c.records.GetLocked(id)
		if !ok {
			return Projection{}, notLoaded(id)
		}
		return Projection{
			Records: []RecordPatch{{
				ID:       id,
				Observed: r.Version,
				Patch:    models.Patch{Content: &models.ContentChange{From: r.Fields.Content(), To: content}},
			}},
		}, nil
	}

	return c.issue(ctx, p, build, func(ctx context.Context) (commitFunc, error) {
		comment, err := c.remote.UpdateComment(ctx, commentID, content)
		if err != nil {
			return nil, err
		}
		return c.upsertCommit(models.NewRecord(comment.ID, comment)), nil
	})
}

// DeleteComment removes the comment from the store and from every list
// showing it, and decrements the counters that included it.
func (c *Coordinator) DeleteComment(ctx context.Context, commentID int64) (*Pending, error) {
	id := models.CommentID(commentID)
	if id.IsPlaceholder() {
		return nil, fmt.Errorf("%w: comment %d has not been created yet", constants.ErrConflict, commentID)
	}
	p := newPending(CommentDelete, id)

	build := func() (Projection, error) {
		r, ok := c.records.GetLocked(id)
		if !ok {
			return Projection{}, notLoaded(id)
		}
		comment := r.Comment()

		fwd := Projection{
			Records: []RecordPatch{{ID: models.PostID(comment.PostID), Patch: models.Delta(models.CommentsCount, -1)}},
			Lists:   []ListEdit{{Op: ListRemove, Match: models.MatchKind(models.QueryComments, models.QueryReplies), ID: id}},
			Deletes: []models.RecordID{id},
		}
		if comment.ParentCommentID != 0 {
			fwd.Records = append(fwd.Records, RecordPatch{
				ID:    models.CommentID(comment.ParentCommentID),
				Patch: models.Delta(models.RepliesCount, -1),
			})
		}
		return fwd, nil
	}

	return c.issue(ctx, p, build, func(ctx context.Context) (commitFunc, error) {
		if err := c.remote.DeleteComment(ctx, commentID); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// PublishPost creates a post without an optimistic projection. On success
// the post is stored and prepended to the feed, explore and the author's
// post list.
func (c *Coordinator) PublishPost(ctx context.Context, content string) (models.Record, error) {
	content, err := ValidateContent("post", content, constants.MaxPostLength)
	if err != nil {
		return models.Record{}, err
	}

	post, err := c.remote.CreatePost(ctx, content)
	if err != nil {
		return models.Record{}, err
	}

	rec := models.NewRecord(post.ID, post)
	c.gate.Atomic(func() {
		c.records.UpsertLocked(rec)
		lists := models.Or(
			models.MatchExact(models.FeedKey()),
			models.MatchExact(models.ExploreKey()),
			models.MatchExact(models.UserPostsKey(post.AuthorID)),
		)
		c.cache.MapEachEntryLocked(lists, models.RecordID{}, func(r *models.QueryResult) bool {
			return r.Prepend(rec.ID)
		})
		c.patchLocked(RecordPatch{ID: models.ProfileID(post.AuthorID), Patch: models.Delta(models.PostsCount, 1)})
		rec, _ = c.records.GetLocked(rec.ID)
	})

	return rec, nil
}

func (c *Coordinator) upsertCommit(r models.Record) commitFunc {
	return func(p *Pending) []models.RecordID {
		c.records.UpsertLocked(r)
		p.result = r.ID
		return []models.RecordID{r.ID}
	}
}
