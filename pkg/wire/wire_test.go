package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordyChamba/feedsync/pkg/models"
)

func TestNotificationEvent(t *testing.T) {
	body := `{
		"id": 9,
		"type": "COMMENT",
		"message": "ana commented on your post",
		"sender": {"id": 5, "username": "ana", "verified": true, "active": true, "createdAt": "2026-01-01T00:00:00Z"},
		"postId": 3,
		"isRead": false,
		"createdAt": "2026-01-02T10:00:00Z"
	}`

	var n Notification
	require.NoError(t, json.Unmarshal([]byte(body), &n))

	e := n.Event()
	assert.Equal(t, int64(9), e.ID)
	assert.Equal(t, models.NotificationComment, e.Type)
	assert.Equal(t, int64(3), e.PostID)
	assert.Zero(t, e.CommentID)
	require.NotNil(t, e.Sender)
	assert.Equal(t, "ana", e.Sender.Username)
	assert.True(t, e.CreatedAt.Equal(time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)))
}

func TestUserProfile(t *testing.T) {
	u := User{ID: 1, Username: "bo"}
	assert.False(t, u.HasCounts())
	assert.Equal(t, &models.ProfileSummary{ID: 1, Username: "bo"}, u.Profile())

	u.FollowersCount = Ptr[int64](4)
	u.FollowingCount = Ptr[int64](2)
	u.IsFollowing = Ptr(true)
	require.True(t, u.HasCounts())
	p := u.Profile()
	assert.Equal(t, int64(4), p.FollowersCount)
	assert.True(t, p.IsFollowing)
}

func TestEnvelopeOfPage(t *testing.T) {
	body := `{"success": true, "data": {"content": [{"id": 1, "content": "hi", "author": {"id": 2, "username": "x"}, "postId": 7, "parentCommentId": 4}], "number": 0, "last": true}}`

	var env Envelope[Page[Comment]]
	require.NoError(t, json.Unmarshal([]byte(body), &env))
	require.Len(t, env.Data.Content, 1)
	assert.True(t, env.Data.Last)

	c := env.Data.Content[0].Model()
	assert.Equal(t, int64(4), c.ParentCommentID)
	assert.Equal(t, int64(2), c.AuthorID)
	assert.Equal(t, "hi", c.Text)
}
