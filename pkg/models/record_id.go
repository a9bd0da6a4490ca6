package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind names the domain entity a record holds.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPost
	KindComment
	KindProfile
)

func (k Kind) String() string {
	switch k {
	case KindPost:
		return "post"
	case KindComment:
		return "comment"
	case KindProfile:
		return "profile"
	default:
		return "unknown"
	}
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "post":
		return KindPost, nil
	case "comment":
		return KindComment, nil
	case "profile":
		return KindProfile, nil
	}
	return KindUnknown, fmt.Errorf("unknown record kind %q", s)
}

// RecordID addresses one entity in the record store. Posts, comments and
// profiles have independent id spaces on the server, so the kind is part of
// the identity.
//
// A negative ID is a local placeholder for an entity created optimistically
// that the server has not assigned an id to yet.
type RecordID struct {
	Kind Kind
	ID   int64
}

func NewRecordID(kind Kind, id int64) RecordID {
	return RecordID{Kind: kind, ID: id}
}

func PostID(id int64) RecordID    { return RecordID{Kind: KindPost, ID: id} }
func CommentID(id int64) RecordID { return RecordID{Kind: KindComment, ID: id} }
func ProfileID(id int64) RecordID { return RecordID{Kind: KindProfile, ID: id} }

// ParseRecordID parses the "kind:id" form produced by String.
func ParseRecordID(s string) (RecordID, error) {
	kindStr, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return RecordID{}, fmt.Errorf("invalid record id %q: expected format is 'kind:id'", s)
	}
	kind, err := parseKind(kindStr)
	if err != nil {
		return RecordID{}, err
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return RecordID{}, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	return RecordID{Kind: kind, ID: id}, nil
}

func (r RecordID) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

func (r RecordID) IsZero() bool {
	return r == RecordID{}
}

// IsPlaceholder reports whether the id was minted locally.
func (r RecordID) IsPlaceholder() bool {
	return r.ID < 0
}

func (r RecordID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RecordID) UnmarshalText(data []byte) error {
	parsed, err := ParseRecordID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
