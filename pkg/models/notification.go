package models

import "time"

type NotificationType string

const (
	NotificationLike    NotificationType = "LIKE"
	NotificationComment NotificationType = "COMMENT"
	NotificationReply   NotificationType = "REPLY"
	NotificationFollow  NotificationType = "FOLLOW"
	NotificationMention NotificationType = "MENTION"
)

// NotificationEvent is one entry of the notification feed. After creation only
// IsRead changes.
type NotificationEvent struct {
	ID        int64
	Type      NotificationType
	Message   string
	Sender    *ProfileSummary
	PostID    int64
	CommentID int64
	IsRead    bool
	CreatedAt time.Time
}
