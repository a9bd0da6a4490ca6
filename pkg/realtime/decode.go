package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JordyChamba/feedsync/internal/codec"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/wire"
)

const notificationSchemaURL = "https://feedsync.local/schema/notification.json"

const notificationSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id", "type", "isRead", "createdAt"],
	"properties": {
		"id": {"type": "integer", "minimum": 1},
		"type": {"enum": ["LIKE", "COMMENT", "REPLY", "FOLLOW", "MENTION"]},
		"message": {"type": "string"},
		"sender": {
			"type": ["object", "null"],
			"required": ["id"],
			"properties": {
				"id": {"type": "integer", "minimum": 1},
				"username": {"type": "string"}
			}
		},
		"postId": {"type": ["integer", "null"]},
		"commentId": {"type": ["integer", "null"]},
		"isRead": {"type": "boolean"},
		"createdAt": {"type": "string", "format": "date-time"}
	}
}`

// Decoder turns pushed messages into notification events. JSON bodies are
// checked against the notification schema before decoding; CBOR bodies are
// checked field by field.
type Decoder struct {
	schema *jsonschema.Schema
}

func NewDecoder() (*Decoder, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(notificationSchemaURL, strings.NewReader(notificationSchema)); err != nil {
		return nil, fmt.Errorf("add notification schema: %w", err)
	}
	schema, err := compiler.Compile(notificationSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile notification schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

func MustNewDecoder() *Decoder {
	d, err := NewDecoder()
	if err != nil {
		panic(fmt.Sprintf("BUG: %v", err))
	}
	return d
}

func (d *Decoder) Decode(msg Message) (models.NotificationEvent, error) {
	c, ok := codec.ForContentType(msg.ContentType)
	if !ok {
		return models.NotificationEvent{}, fmt.Errorf("unsupported content type %q", msg.ContentType)
	}

	if c.ContentType() == codec.ContentTypeJSON {
		var doc any
		dec := json.NewDecoder(bytes.NewReader(msg.Body))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return models.NotificationEvent{}, fmt.Errorf("decode notification: %w", err)
		}
		if err := d.schema.Validate(doc); err != nil {
			return models.NotificationEvent{}, fmt.Errorf("invalid notification: %w", err)
		}
	}

	var n wire.Notification
	if err := c.Unmarshal(msg.Body, &n); err != nil {
		return models.NotificationEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	if err := check(n); err != nil {
		return models.NotificationEvent{}, err
	}
	return n.Event(), nil
}

func check(n wire.Notification) error {
	switch {
	case n.ID <= 0:
		return fmt.Errorf("invalid notification: id %d", n.ID)
	case n.CreatedAt.IsZero():
		return fmt.Errorf("invalid notification %d: no createdAt", n.ID)
	}
	switch models.NotificationType(n.Type) {
	case models.NotificationLike, models.NotificationComment, models.NotificationReply,
		models.NotificationFollow, models.NotificationMention:
		return nil
	}
	return fmt.Errorf("invalid notification %d: type %q", n.ID, n.Type)
}
