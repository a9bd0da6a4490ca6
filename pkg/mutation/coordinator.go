package mutation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/logger"
	"github.com/JordyChamba/feedsync/pkg/models"
	"github.com/JordyChamba/feedsync/pkg/querycache"
	"github.com/JordyChamba/feedsync/pkg/store"
)

// Remote is the part of the backend API the coordinator writes through. Each
// call returns the authoritative entity after the write or an error; there is
// no partial success.
type Remote interface {
	LikePost(ctx context.Context, postID int64) (*models.Post, error)
	UnlikePost(ctx context.Context, postID int64) (*models.Post, error)
	FollowUser(ctx context.Context, userID int64) (*models.ProfileSummary, error)
	UnfollowUser(ctx context.Context, userID int64) (*models.ProfileSummary, error)
	CreateComment(ctx context.Context, postID, parentID int64, content string) (*models.Comment, error)
	UpdateComment(ctx context.Context, commentID int64, content string) (*models.Comment, error)
	DeleteComment(ctx context.Context, commentID int64) error
	CreatePost(ctx context.Context, content string) (*models.Post, error)
}

type guardKey struct {
	group  Kind
	target models.RecordID
}

// commitFunc runs inside the gate once the remote call succeeded and returns
// the records it replaced with server state.
type commitFunc func(p *Pending) []models.RecordID

type remoteCall func(ctx context.Context) (commitFunc, error)

// Coordinator applies optimistic projections to the record store and the
// query cache, issues the remote call and then commits or rolls back.
type Coordinator struct {
	gate    *store.Gate
	records *store.RecordStore
	cache   *querycache.Cache
	remote  Remote

	viewerID int64
	timeout  time.Duration
	now      func() time.Time

	// guarded by gate
	inflight map[guardKey]*Pending
	applied  []*Pending
	closed   bool

	placeholders atomic.Int64
	calls        sync.WaitGroup

	failuresMu  sync.Mutex
	failures    map[int]func(*Failure)
	nextFailure int

	logger logger.Logger
}

type Option func(*Coordinator)

func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithViewer sets the signed in user. Follows then also move the viewer's
// following count and Following list, and optimistic comments are authored
// by the viewer.
func WithViewer(userID int64) Option {
	return func(c *Coordinator) {
		c.viewerID = userID
	}
}

// WithTimeout bounds each remote call. The caller's context never cancels a
// call that has been issued.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a coordinator and registers it as the cache's reconciler.
func New(records *store.RecordStore, cache *querycache.Cache, remote Remote, opts ...Option) *Coordinator {
	c := &Coordinator{
		gate:     records.Gate(),
		records:  records,
		cache:    cache,
		remote:   remote,
		timeout:  constants.DefaultHTTPTimeout,
		now:      time.Now,
		inflight: make(map[guardKey]*Pending),
		failures: make(map[int]func(*Failure)),
		logger:   logger.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	cache.SetReconciler(c)
	return c
}

// issue runs the in-flight guard and build inside one gate section, applies
// the forward projection build returns and starts the remote call.
func (c *Coordinator) issue(ctx context.Context, p *Pending, build func() (Projection, error), call remoteCall) (*Pending, error) {
	var err error
	c.gate.Atomic(func() {
		if c.closed {
			err = constants.ErrClosed
			return
		}
		for _, t := range p.Targets {
			if other, ok := c.inflight[guardKey{p.Kind.group(), t}]; ok {
				err = fmt.Errorf("%w: %s of %s while %s %s is pending", constants.ErrConflict, p.Kind, t, other.Kind, other.ID)
				return
			}
		}

		var fwd Projection
		fwd, err = build()
		if err != nil {
			return
		}

		p.Forward = fwd
		p.Inverse = c.applyLocked(fwd)
		for _, t := range p.Targets {
			c.inflight[guardKey{p.Kind.group(), t}] = p
		}
		c.applied = append(c.applied, p)
		c.calls.Add(1)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("mutation applied", "id", p.ID.String(), "kind", p.Kind.String(), "targets", fmt.Sprint(p.Targets))

	go c.run(context.WithoutCancel(ctx), p, call)

	return p, nil
}

func (c *Coordinator) run(ctx context.Context, p *Pending, call remoteCall) {
	defer c.calls.Done()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	commit, err := call(ctx)
	if err != nil {
		c.rollback(p, err)
		return
	}
	c.commit(p, commit)
}

func (c *Coordinator) commit(p *Pending, commit commitFunc) {
	c.gate.Atomic(func() {
		c.releaseLocked(p)

		var refreshed []models.RecordID
		if commit != nil {
			refreshed = commit(p)
		}
		p.Inverse = Projection{}
		p.status.Store(uint32(StatusCommitted))

		// server state wins; other guesses still in flight go back on top
		c.relayRecordsLocked(refreshed)
	})

	c.logger.Debug("mutation committed", "id", p.ID.String(), "kind", p.Kind.String())
	close(p.done)
}

func (c *Coordinator) rollback(p *Pending, cause error) {
	c.gate.Atomic(func() {
		c.releaseLocked(p)
		c.applyLocked(p.Inverse)
		p.status.Store(uint32(StatusRolledBack))
	})

	f := &Failure{MutationID: p.ID, Kind: p.Kind, Targets: p.Targets, Err: cause}
	p.err = f

	c.logger.Warn("mutation rolled back", "id", p.ID.String(), "kind", p.Kind.String(), "error", cause)
	close(p.done)

	c.publish(f)
}

func (c *Coordinator) releaseLocked(p *Pending) {
	for _, t := range p.Targets {
		k := guardKey{p.Kind.group(), t}
		if c.inflight[k] == p {
			delete(c.inflight, k)
		}
	}
	c.applied = slices.DeleteFunc(c.applied, func(q *Pending) bool { return q == p })
}

// relayRecordsLocked re-applies the record patches of still applied mutations
// to records that were just replaced by server state.
func (c *Coordinator) relayRecordsLocked(ids []models.RecordID) {
	if len(ids) == 0 {
		return
	}
	for _, q := range c.applied {
		for _, rp := range q.Forward.Records {
			if !slices.Contains(ids, rp.ID) {
				continue
			}
			c.patchLocked(RecordPatch{ID: rp.ID, Patch: rp.Patch})
		}
	}
}

// ReconcileLocked implements querycache.Reconciler. A freshly loaded page
// carries server state that may not include mutations still in flight, so
// their projections are laid back over it.
func (c *Coordinator) ReconcileLocked(key models.QueryKey, upserted []models.RecordID) {
	c.relayRecordsLocked(upserted)
	for _, q := range c.applied {
		for i, e := range q.Forward.Lists {
			if i >= len(q.Inverse.Lists) {
				break
			}
			c.relayListLocked(key, e, q.Inverse.Lists[i])
		}
	}
}

// UpsertServer stores records fetched outside the query cache and lays the
// projections of mutations still in flight back over them, so a later
// rollback undoes exactly what it applied.
func (c *Coordinator) UpsertServer(records ...models.Record) {
	c.gate.Atomic(func() {
		ids := make([]models.RecordID, 0, len(records))
		for _, r := range records {
			c.records.UpsertLocked(r)
			ids = append(ids, r.ID)
		}
		c.relayRecordsLocked(ids)
	})
}

// InFlight reports whether a mutation of kind's group is pending on target.
func (c *Coordinator) InFlight(kind Kind, target models.RecordID) bool {
	var ok bool
	c.gate.Read(func() {
		_, ok = c.inflight[guardKey{kind.group(), target}]
	})
	return ok
}

// Pending lists the mutations whose remote call has not resolved yet, oldest
// first.
func (c *Coordinator) Pending() []*Pending {
	var out []*Pending
	c.gate.Read(func() {
		out = slices.Clone(c.applied)
	})
	return out
}

// Subscribe registers l for rollback failures.
func (c *Coordinator) Subscribe(l func(*Failure)) func() {
	c.failuresMu.Lock()
	defer c.failuresMu.Unlock()

	id := c.nextFailure
	c.nextFailure++
	c.failures[id] = l

	return func() {
		c.failuresMu.Lock()
		defer c.failuresMu.Unlock()
		delete(c.failures, id)
	}
}

func (c *Coordinator) publish(f *Failure) {
	c.failuresMu.Lock()
	ls := make([]func(*Failure), 0, len(c.failures))
	for _, l := range c.failures {
		ls = append(ls, l)
	}
	c.failuresMu.Unlock()

	for _, l := range ls {
		l(f)
	}
}

// Close rejects new mutations and waits for issued remote calls to resolve,
// or for ctx to end.
func (c *Coordinator) Close(ctx context.Context) error {
	c.gate.Atomic(func() {
		c.closed = true
	})

	done := make(chan struct{})
	go func() {
		c.calls.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) nextPlaceholder() int64 {
	return -c.placeholders.Add(1)
}
