package mutation

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/models"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	Like
	Unlike
	Follow
	Unfollow
	CommentCreate
	CommentUpdate
	CommentDelete
)

func (k Kind) String() string {
	switch k {
	case Like:
		return "like"
	case Unlike:
		return "unlike"
	case Follow:
		return "follow"
	case Unfollow:
		return "unfollow"
	case CommentCreate:
		return "comment-create"
	case CommentUpdate:
		return "comment-update"
	case CommentDelete:
		return "comment-delete"
	}
	return "unknown"
}

// group returns the kind the in-flight guard files k under. Opposite
// operations on the same target share a group so a like cannot race an
// unlike.
func (k Kind) group() Kind {
	switch k {
	case Unlike:
		return Like
	case Unfollow:
		return Follow
	case CommentDelete:
		return CommentUpdate
	}
	return k
}

type Status uint32

const (
	StatusApplied Status = iota + 1
	StatusCommitted
	StatusRolledBack
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled-back"
	}
	return "unknown"
}

// Pending is one optimistic mutation from the moment its projection is
// applied until the remote call resolves.
type Pending struct {
	ID      ulid.ULID
	Kind    Kind
	Targets []models.RecordID

	// Forward is the projection applied when the mutation was issued.
	// Inverse undoes it and is discarded on commit.
	Forward Projection
	Inverse Projection

	status atomic.Uint32
	result models.RecordID
	err    error
	done   chan struct{}
}

func newPending(kind Kind, targets ...models.RecordID) *Pending {
	p := &Pending{
		ID:      ulid.Make(),
		Kind:    kind,
		Targets: targets,
		done:    make(chan struct{}),
	}
	p.status.Store(uint32(StatusApplied))
	return p
}

func (p *Pending) Status() Status {
	return Status(p.status.Load())
}

// Done is closed once the mutation is committed or rolled back.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the *Failure of a rolled back mutation. It is nil until Done is
// closed and for committed mutations.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Result is the id of the entity the server returned. For comment creation it
// is the server assigned id that replaced the placeholder.
func (p *Pending) Result() models.RecordID {
	<-p.done
	return p.result
}

// Wait blocks until the mutation resolves or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failure is published when a remote call fails and the mutation has been
// rolled back.
type Failure struct {
	MutationID ulid.ULID
	Kind       Kind
	Targets    []models.RecordID
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s of %v failed: %v", f.Kind, f.Targets, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Is(target error) bool {
	return target == constants.ErrRemote
}
